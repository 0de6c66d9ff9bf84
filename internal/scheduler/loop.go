package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/viberacer/api/internal/contest"
)

// Loop ticks the scheduler on a re-arming timer until its context ends.
type Loop struct {
	sched    *Scheduler
	interval time.Duration
	logger   *slog.Logger
}

func NewLoop(s *Scheduler, interval time.Duration, logger *slog.Logger) *Loop {
	return &Loop{sched: s, interval: interval, logger: logger}
}

// Run ticks once immediately and then every interval.
func (l *Loop) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			l.once(ctx)
			timer.Reset(l.interval)
		}
	}
}

func (l *Loop) once(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("tick panicked", "panic", r)
		}
	}()
	if _, err := l.sched.Tick(ctx); err != nil && ctx.Err() == nil {
		l.logger.Error("tick failed", "error", err)
	}
}

// SupervisorConfig tunes the loop and its watchdogs.
type SupervisorConfig struct {
	TickInterval         time.Duration
	WatchdogInterval     time.Duration
	DeepWatchdogInterval time.Duration
	StaleAfter           time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 5 * time.Second
	}
	if c.DeepWatchdogInterval <= 0 {
		c.DeepWatchdogInterval = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Second
	}
	return c
}

// Supervisor keeps a Loop alive. Two watchdogs on different periods read
// the heartbeat; when it is stale the loop is restarted and a tick is
// injected right away.
type Supervisor struct {
	sched    *Scheduler
	cfg      SupervisorConfig
	logger   *slog.Logger
	restarts atomic.Int64
}

func NewSupervisor(s *Scheduler, cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	return &Supervisor{sched: s, cfg: cfg.withDefaults(), logger: logger}
}

// Restarts counts loop restarts since start.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// Run blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	loop := NewLoop(s.sched, s.cfg.TickInterval, s.logger)

	stop, done := s.start(ctx, loop)
	defer func() {
		stop()
		<-done
	}()

	watchdog := time.NewTicker(s.cfg.WatchdogInterval)
	defer watchdog.Stop()
	deep := time.NewTicker(s.cfg.DeepWatchdogInterval)
	defer deep.Stop()

	restart := func(reason string) {
		stop()
		<-done
		s.restarts.Add(1)
		s.logger.Warn("restarting tick loop", "reason", reason)
		stop, done = s.start(ctx, loop)
		loop.once(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			if ctx.Err() != nil {
				return nil
			}
			restart("loop exited")
		case <-watchdog.C:
			if stale, why := s.stale(ctx); stale {
				restart("watchdog: " + why)
			}
		case <-deep.C:
			if stale, why := s.stale(ctx); stale {
				restart("deep watchdog: " + why)
			}
		}
	}
}

func (s *Supervisor) start(ctx context.Context, loop *Loop) (context.CancelFunc, <-chan struct{}) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(loopCtx)
	}()
	return cancel, done
}

// stale reports whether the heartbeat is older than the threshold or
// missing altogether.
func (s *Supervisor) stale(ctx context.Context) (bool, string) {
	st, err := s.sched.State(ctx)
	if errors.Is(err, contest.ErrNotInitialized) {
		return true, "no stage state"
	}
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("watchdog read failed", "error", err)
		}
		return false, ""
	}
	if age := s.sched.Now().Sub(st.LastHeartbeat); age > s.cfg.StaleAfter {
		return true, "heartbeat " + age.Round(time.Second).String() + " old"
	}
	return false, ""
}
