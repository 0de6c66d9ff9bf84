// Package scheduler drives the contest clock. A single Scheduler owns the
// live stage record; every tick and manual advance goes through it, so a
// stage is never ended twice and never skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viberacer/api/internal/contest"
)

// StateStore persists the stage record.
type StateStore interface {
	StageState(ctx context.Context) (contest.StageState, error)
	UpdateStageState(ctx context.Context, fn func(cur contest.StageState, ok bool) (contest.StageState, error)) (contest.StageState, error)
	DeleteStageState(ctx context.Context) error
}

// Transition describes one stage ending and its successor beginning.
type Transition struct {
	From     contest.Stage `json:"from"`
	To       contest.Stage `json:"to"`
	Manual   bool          `json:"manual"`
	At       time.Time     `json:"at"`
	Deadline time.Time     `json:"deadline"`
}

// Dispatcher receives committed transitions. Dispatch must not block the
// caller for long; slow side effects belong on a queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, tr Transition)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, tr Transition)

func (f DispatcherFunc) Dispatch(ctx context.Context, tr Transition) { f(ctx, tr) }

// Fanout delivers each transition to every dispatcher in order.
type Fanout []Dispatcher

func (f Fanout) Dispatch(ctx context.Context, tr Transition) {
	for _, d := range f {
		d.Dispatch(ctx, tr)
	}
}

// Action is what a tick did.
type Action string

const (
	ActionInitialized Action = "initialized"
	ActionAdvanced    Action = "advanced"
	ActionHeartbeat   Action = "heartbeat"
)

type TickResult struct {
	Action     Action
	State      contest.StageState
	Transition *Transition
}

// Scheduler is the stage state machine.
type Scheduler struct {
	mu       sync.Mutex
	store    StateStore
	schedule func() contest.Schedule
	dispatch Dispatcher
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a scheduler. schedule is consulted on every call so rule
// changes apply without a restart.
func New(store StateStore, schedule func() contest.Schedule, d Dispatcher, logger *slog.Logger, opts ...Option) *Scheduler {
	if d == nil {
		d = Fanout(nil)
	}
	s := &Scheduler{
		store:    store,
		schedule: schedule,
		dispatch: d,
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now is the scheduler's clock.
func (s *Scheduler) Now() time.Time { return s.now() }

// Schedule returns the schedule currently in force.
func (s *Scheduler) Schedule() contest.Schedule { return s.schedule() }

// Tick initialises the stage record on first use, advances one stage when
// the deadline has passed, and otherwise refreshes the heartbeat. The
// first tick never dispatches.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sched := s.schedule()

	var res TickResult
	st, err := s.store.UpdateStageState(ctx, func(cur contest.StageState, ok bool) (contest.StageState, error) {
		res = TickResult{}
		if !ok {
			stage := sched.StageAt(now)
			res.Action = ActionInitialized
			return contest.StageState{
				CurrentStage:      stage,
				StageEnteredAt:    now,
				NextStageDeadline: sched.DeadlineFor(stage, now),
				LastHeartbeat:     now,
			}, nil
		}
		if !now.Before(cur.NextStageDeadline) {
			next, tr := advance(sched, cur, now, false)
			res.Action = ActionAdvanced
			res.Transition = &tr
			return next, nil
		}
		cur.LastHeartbeat = now
		res.Action = ActionHeartbeat
		return cur, nil
	})
	if err != nil {
		return TickResult{}, fmt.Errorf("tick: %w", err)
	}
	res.State = st

	switch res.Action {
	case ActionInitialized:
		s.logger.Info("stage state initialized", "stage", st.CurrentStage, "deadline", st.NextStageDeadline)
	case ActionAdvanced:
		s.fire(ctx, *res.Transition)
	}
	return res, nil
}

// ManualAdvance ends the current stage immediately. It fails with
// contest.ErrNotInitialized before the first tick.
func (s *Scheduler) ManualAdvance(ctx context.Context) (Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sched := s.schedule()

	var tr Transition
	_, err := s.store.UpdateStageState(ctx, func(cur contest.StageState, ok bool) (contest.StageState, error) {
		if !ok {
			return contest.StageState{}, contest.ErrNotInitialized
		}
		var next contest.StageState
		next, tr = advance(sched, cur, now, true)
		return next, nil
	})
	if err != nil {
		return Transition{}, fmt.Errorf("manual advance: %w", err)
	}
	s.fire(ctx, tr)
	return tr, nil
}

// advance is the only way a stage ends: move to the cyclic successor and
// compute its deadline from now rather than from the missed deadline.
func advance(sched contest.Schedule, cur contest.StageState, now time.Time, manual bool) (contest.StageState, Transition) {
	to := cur.CurrentStage.Next()
	next := contest.StageState{
		CurrentStage:        to,
		StageEnteredAt:      now,
		NextStageDeadline:   sched.DeadlineFor(to, now),
		LastHeartbeat:       now,
		WasManuallyAdvanced: manual,
		Version:             cur.Version,
	}
	return next, Transition{
		From:     cur.CurrentStage,
		To:       to,
		Manual:   manual,
		At:       now,
		Deadline: next.NextStageDeadline,
	}
}

func (s *Scheduler) fire(ctx context.Context, tr Transition) {
	s.logger.Info("stage transition",
		"from", tr.From,
		"to", tr.To,
		"manual", tr.Manual,
		"deadline", tr.Deadline,
	)
	s.dispatch.Dispatch(ctx, tr)
}

// State returns the live record, or contest.ErrNotInitialized.
func (s *Scheduler) State(ctx context.Context) (contest.StageState, error) {
	return s.store.StageState(ctx)
}

// Reset deletes the stage record. The next tick initialises it again from
// the schedule.
func (s *Scheduler) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteStageState(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	s.logger.Warn("stage state reset")
	return nil
}

// Health classifies the scheduler by heartbeat age.
func (s *Scheduler) Health(ctx context.Context) (Health, time.Duration, error) {
	st, err := s.store.StageState(ctx)
	if errors.Is(err, contest.ErrNotInitialized) {
		return HealthNotRunning, 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	age := s.now().Sub(st.LastHeartbeat)
	return Classify(age), age, nil
}

// Health is the liveness class of the tick loop.
type Health string

const (
	HealthHealthy    Health = "healthy"
	HealthSlow       Health = "slow"
	HealthStopped    Health = "stopped"
	HealthNotRunning Health = "not_running"
)

const (
	healthyWithin = 3 * time.Second
	slowWithin    = 10 * time.Second
)

// Classify maps a heartbeat age to a health class.
func Classify(age time.Duration) Health {
	switch {
	case age < healthyWithin:
		return HealthHealthy
	case age < slowWithin:
		return HealthSlow
	default:
		return HealthStopped
	}
}
