package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/viberacer/api/internal/events"
	"github.com/viberacer/api/internal/service"
)

// handleStageEvents streams stage changes as Server-Sent Events. The
// current state is sent first so clients need no separate fetch.
func handleStageEvents(broker *events.Broker, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := broker.Subscribe(events.TopicStage)
		defer broker.Unsubscribe(events.TopicStage, ch)

		snapshot, _ := json.Marshal(svc.CurrentStageState(r.Context()))
		fmt.Fprintf(w, "event: state\ndata: %s\n\n", snapshot)
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				fmt.Fprintf(w, "event: stage\ndata: %s\n\n", data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
