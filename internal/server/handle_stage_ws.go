package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/viberacer/api/internal/events"
	"github.com/viberacer/api/internal/service"
)

const wsWriteTimeout = 5 * time.Second

// handleStageWS pushes the current stage and then every stage change over
// a WebSocket. Client messages are ignored.
func handleStageWS(logger *slog.Logger, broker *events.Broker, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ch := broker.Subscribe(events.TopicStage)
		defer broker.Unsubscribe(events.TopicStage, ch)

		// CloseRead discards incoming frames and cancels ctx once the peer
		// goes away.
		ctx := conn.CloseRead(r.Context())

		snapshot, _ := json.Marshal(svc.CurrentStageState(ctx))
		if err := wsWrite(ctx, conn, snapshot); err != nil {
			logger.Debug("websocket write failed", "error", err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case data := <-ch:
				if err := wsWrite(ctx, conn, data); err != nil {
					logger.Debug("websocket write failed", "error", err)
					return
				}
			}
		}
	}
}

func wsWrite(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
