package lifecycle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/viberacer/api/internal/scheduler"
)

var errQueueFull = errors.New("handler queue full")

// Queue runs handlers one at a time on its own goroutine, in the order
// transitions were dispatched. It implements scheduler.Dispatcher.
type Queue struct {
	h      *Handlers
	ch     chan scheduler.Transition
	logger *slog.Logger
}

func NewQueue(h *Handlers, size int, logger *slog.Logger) *Queue {
	return &Queue{h: h, ch: make(chan scheduler.Transition, size), logger: logger}
}

// Dispatch enqueues tr without blocking. A full queue drops tr and counts
// it as missed.
func (q *Queue) Dispatch(ctx context.Context, tr scheduler.Transition) {
	select {
	case q.ch <- tr:
	default:
		q.logger.Error("dropping stage handler", "stage", tr.From, "error", errQueueFull)
		q.h.countMissed(ctx, tr.From, errQueueFull)
	}
}

// Run handles queued transitions until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(q.ch); n > 0 {
				q.logger.Warn("handler queue stopped with pending transitions", "pending", n)
			}
			return nil
		case tr := <-q.ch:
			q.h.Handle(ctx, tr)
		}
	}
}
