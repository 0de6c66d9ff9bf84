// Package lifecycle runs the side effects of stage transitions: opening
// contests, batching judging assignments and picking winners.
//
// A failing side effect is recorded and counted, never retried, and never
// allowed to hold up the contest clock.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/viberacer/api/internal/config"
	"github.com/viberacer/api/internal/contest"
	"github.com/viberacer/api/internal/judging"
	"github.com/viberacer/api/internal/leaderboard"
	"github.com/viberacer/api/internal/scheduler"
)

const instrumentation = "github.com/viberacer/api/internal/lifecycle"

// Store is the persistence the handlers need.
type Store interface {
	ActiveContest(ctx context.Context) (contest.Contest, error)
	CreateContest(ctx context.Context, c contest.Contest) (contest.Contest, error)
	ModifyContest(ctx context.Context, id string, fn func(*contest.Contest) error) (contest.Contest, error)
	Submissions(ctx context.Context, contestID string) ([]contest.Submission, error)
	Reviews(ctx context.Context, contestID string) ([]contest.Review, error)
	CreateAssignments(ctx context.Context, contestID string, round int, batch []contest.Assignment) ([]contest.Assignment, error)
}

// Result is the outcome of one handler invocation.
type Result struct {
	Stage    contest.Stage
	Manual   bool
	Err      error
	Duration time.Duration
}

// Failure is the most recent missed side effect.
type Failure struct {
	Stage contest.Stage `json:"stage"`
	Error string        `json:"error"`
	At    time.Time     `json:"at"`
}

// Stats counts handler outcomes since start.
type Stats struct {
	Handled     int64    `json:"handled"`
	Missed      int64    `json:"missed"`
	LastFailure *Failure `json:"lastFailure,omitempty"`
}

type handlerFunc func(ctx context.Context, tr scheduler.Transition) error

// Handlers is the dispatch table keyed by the stage that just ended.
type Handlers struct {
	store  Store
	engine *judging.Engine
	rules  func() config.Rules
	now    func() time.Time
	logger *slog.Logger

	tracer trace.Tracer
	missed metric.Int64Counter

	table map[contest.Stage]handlerFunc

	mu    sync.Mutex
	stats Stats
}

func New(store Store, engine *judging.Engine, rules func() config.Rules, now func() time.Time, logger *slog.Logger) *Handlers {
	missed, err := otel.Meter(instrumentation).Int64Counter("contest.handler.missed",
		metric.WithDescription("Stage transition side effects that failed and were not retried"),
	)
	if err != nil {
		logger.Warn("creating missed counter", "error", err)
	}
	h := &Handlers{
		store:  store,
		engine: engine,
		rules:  rules,
		now:    now,
		logger: logger,
		tracer: otel.Tracer(instrumentation),
		missed: missed,
	}
	h.table = map[contest.Stage]handlerFunc{
		contest.StageBuilding: h.endBuilding,
		contest.StageJudging1: h.endJudgingRound,
		contest.StageJudging2: h.endJudgingRound,
		contest.StageJudging3: h.endFinalRound,
		contest.StageBreak:    h.endBreak,
	}
	return h
}

// Handle runs the side effect for the stage tr ended. It never panics.
func (h *Handlers) Handle(ctx context.Context, tr scheduler.Transition) (res Result) {
	ctx, span := h.tracer.Start(ctx, "stage.end",
		trace.WithAttributes(
			attribute.String("stage.from", string(tr.From)),
			attribute.String("stage.to", string(tr.To)),
			attribute.Bool("stage.manual", tr.Manual),
		),
	)
	defer span.End()

	start := time.Now()
	res = Result{Stage: tr.From, Manual: tr.Manual}
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("handler panic: %v", r)
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		h.record(ctx, res)
	}()

	fn, ok := h.table[tr.From]
	if !ok {
		res.Err = fmt.Errorf("no handler for stage %q", tr.From)
		return res
	}
	res.Err = fn(ctx, tr)
	return res
}

func (h *Handlers) record(ctx context.Context, res Result) {
	h.mu.Lock()
	h.stats.Handled++
	h.mu.Unlock()

	if res.Err == nil {
		h.logger.Info("stage handler done", "stage", res.Stage, "manual", res.Manual, "duration", res.Duration)
		return
	}
	h.logger.Error("stage handler failed", "stage", res.Stage, "manual", res.Manual, "error", res.Err)
	h.countMissed(ctx, res.Stage, res.Err)
}

func (h *Handlers) countMissed(ctx context.Context, stage contest.Stage, err error) {
	h.mu.Lock()
	h.stats.Missed++
	h.stats.LastFailure = &Failure{Stage: stage, Error: err.Error(), At: h.now()}
	h.mu.Unlock()

	if h.missed != nil {
		h.missed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
	}
}

// Stats returns a snapshot of handler outcomes.
func (h *Handlers) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	if s.LastFailure != nil {
		f := *s.LastFailure
		s.LastFailure = &f
	}
	return s
}

// Bootstrap opens an active contest when none exists, so a fresh process
// has something to submit to before its first Break ends.
func (h *Handlers) Bootstrap(ctx context.Context) error {
	_, err := h.store.ActiveContest(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, contest.ErrNoActiveContest) {
		return fmt.Errorf("loading active contest: %w", err)
	}
	c, err := h.openContest(ctx, h.now())
	if errors.Is(err, contest.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	h.logger.Info("contest opened at startup", "contest_id", c.ID)
	return nil
}

// activeContest returns the active contest, or ok=false when there is
// none and the handler should do nothing.
func (h *Handlers) activeContest(ctx context.Context, stage contest.Stage) (contest.Contest, bool, error) {
	c, err := h.store.ActiveContest(ctx)
	if errors.Is(err, contest.ErrNoActiveContest) {
		h.logger.Info("no active contest, skipping", "stage", stage)
		return contest.Contest{}, false, nil
	}
	if err != nil {
		return contest.Contest{}, false, fmt.Errorf("loading active contest: %w", err)
	}
	return c, true, nil
}

// endBuilding closes submissions and hands out round 1 at random.
// Submissions close by virtue of the stage no longer being Building.
func (h *Handlers) endBuilding(ctx context.Context, tr scheduler.Transition) error {
	c, ok, err := h.activeContest(ctx, tr.From)
	if !ok || err != nil {
		return err
	}
	subs, err := h.store.Submissions(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("loading submissions: %w", err)
	}
	plan := h.engine.Random(subs, h.rules().AssignmentsPerJudge)
	return h.assign(ctx, c.ID, 1, plan, tr.At)
}

// endJudgingRound hands out the next round grouped by the scores of the
// round that just ended.
func (h *Handlers) endJudgingRound(ctx context.Context, tr scheduler.Transition) error {
	ended, _ := tr.From.JudgingRound()
	c, ok, err := h.activeContest(ctx, tr.From)
	if !ok || err != nil {
		return err
	}
	subs, err := h.store.Submissions(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("loading submissions: %w", err)
	}
	reviews, err := h.store.Reviews(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("loading reviews: %w", err)
	}
	plan := h.engine.ScoreGrouped(subs, reviews, ended, h.rules().AssignmentsPerJudge)
	return h.assign(ctx, c.ID, ended+1, plan, tr.At)
}

func (h *Handlers) assign(ctx context.Context, contestID string, round int, plan judging.Plan, now time.Time) error {
	batch := plan.Assignments(contestID, round, now)
	if len(batch) == 0 {
		h.logger.Info("nothing to assign", "contest_id", contestID, "round", round)
		return nil
	}
	created, err := h.store.CreateAssignments(ctx, contestID, round, batch)
	if errors.Is(err, contest.ErrAssignmentsExist) {
		h.logger.Warn("assignments already exist", "contest_id", contestID, "round", round)
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating round %d assignments: %w", round, err)
	}
	h.logger.Info("assignments created", "contest_id", contestID, "round", round, "count", len(created), "reviewers", len(plan))
	return nil
}

// endFinalRound scores the contest, records the winner and completes it.
func (h *Handlers) endFinalRound(ctx context.Context, tr scheduler.Transition) error {
	c, ok, err := h.activeContest(ctx, tr.From)
	if !ok || err != nil {
		return err
	}
	return h.complete(ctx, c, tr.At)
}

func (h *Handlers) complete(ctx context.Context, c contest.Contest, now time.Time) error {
	subs, err := h.store.Submissions(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("loading submissions: %w", err)
	}
	reviews, err := h.store.Reviews(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("loading reviews: %w", err)
	}
	board := leaderboard.Calculate(c.ID, subs, reviews, h.rules().QualificationThreshold)

	done, err := h.store.ModifyContest(ctx, c.ID, func(c *contest.Contest) error {
		c.Status = contest.ContestCompleted
		c.EndedAt = &now
		if w, ok := board.Winner(); ok {
			c.Winner = &contest.Winner{SubmitterID: w.SubmitterID, Score: w.Score, DecidedAt: now}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("completing contest: %w", err)
	}
	winner := ""
	if done.Winner != nil {
		winner = done.Winner.SubmitterID
	}
	h.logger.Info("contest completed", "contest_id", c.ID, "winner", winner, "ranked", len(board.Ranked()))
	return nil
}

// endBreak opens the next contest. A contest still active at this point
// missed its final round and is completed first.
func (h *Handlers) endBreak(ctx context.Context, tr scheduler.Transition) error {
	stale, err := h.store.ActiveContest(ctx)
	switch {
	case err == nil:
		h.logger.Warn("completing stale contest", "contest_id", stale.ID)
		if err := h.complete(ctx, stale, tr.At); err != nil {
			return err
		}
	case !errors.Is(err, contest.ErrNoActiveContest):
		return fmt.Errorf("loading active contest: %w", err)
	}

	c, err := h.openContest(ctx, tr.At)
	if err != nil {
		return err
	}
	h.logger.Info("contest opened", "contest_id", c.ID)
	return nil
}

func (h *Handlers) openContest(ctx context.Context, now time.Time) (contest.Contest, error) {
	c, err := h.store.CreateContest(ctx, contest.Contest{
		ScheduledFor: now.Truncate(time.Hour),
		StartedAt:    now,
		Status:       contest.ContestActive,
	})
	if err != nil {
		return contest.Contest{}, fmt.Errorf("opening contest: %w", err)
	}
	return c, nil
}
