package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/viberacer/api/internal/scheduler"
)

// RedisChannel is the pub/sub channel shared by every instance.
const RedisChannel = "contest:stage"

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Notifier turns scheduler transitions into stage_changed events. It
// implements scheduler.Dispatcher.
type Notifier struct {
	broker *Broker
	redis  publisher
	origin string
	logger *slog.Logger
}

// NewNotifier publishes to broker and, when rdb is non-nil, to Redis.
func NewNotifier(broker *Broker, rdb *redis.Client, logger *slog.Logger) *Notifier {
	n := &Notifier{broker: broker, origin: uuid.NewString(), logger: logger}
	if rdb != nil {
		n.redis = rdb
	}
	return n
}

func (n *Notifier) Dispatch(ctx context.Context, tr scheduler.Transition) {
	ev := Event{
		Type:     "stage_changed",
		From:     tr.From,
		To:       tr.To,
		Manual:   tr.Manual,
		Deadline: tr.Deadline,
		At:       tr.At,
		Origin:   n.origin,
	}
	n.broker.Publish(TopicStage, ev)

	if n.redis == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("encoding stage event", "error", err)
		return
	}
	if err := n.redis.Publish(ctx, RedisChannel, data).Err(); err != nil {
		n.logger.Warn("publishing stage event to redis", "error", err)
	}
}

// Relay forwards stage events published by other instances into the local
// broker until ctx is done.
func (n *Notifier) Relay(ctx context.Context, rdb *redis.Client) error {
	sub := rdb.Subscribe(ctx, RedisChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n.forward([]byte(msg.Payload))
		}
	}
}

func (n *Notifier) forward(payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		n.logger.Warn("dropping malformed stage event", "error", err)
		return
	}
	if ev.Origin == n.origin {
		return
	}
	n.broker.publishRaw(TopicStage, payload)
}
