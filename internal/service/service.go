// Package service is the query and command surface used by the HTTP layer.
// User-facing mutations check their preconditions and return a
// *contest.ValidationError instead of failing deep in the stack.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/viberacer/api/internal/config"
	"github.com/viberacer/api/internal/contest"
	"github.com/viberacer/api/internal/lifecycle"
	"github.com/viberacer/api/internal/scheduler"
)

// Store is the persistence the service reads and writes.
type Store interface {
	ActiveContest(ctx context.Context) (contest.Contest, error)
	GetContest(ctx context.Context, id string) (contest.Contest, error)
	CompletedContests(ctx context.Context, since time.Time, limit int) ([]contest.Contest, error)
	UpsertSubmission(ctx context.Context, sub contest.Submission) (contest.Submission, error)
	SubmissionBySubmitter(ctx context.Context, contestID, submitterID string) (contest.Submission, error)
	Submissions(ctx context.Context, contestID string) ([]contest.Submission, error)
	Assignments(ctx context.Context, contestID string, round int) ([]contest.Assignment, error)
	ReviewerAssignments(ctx context.Context, contestID, reviewerID string, round int) ([]contest.Assignment, error)
	RecordReview(ctx context.Context, r contest.Review) (contest.Review, error)
	Reviews(ctx context.Context, contestID string) ([]contest.Review, error)
}

type Deps struct {
	Store      Store
	Scheduler  *scheduler.Scheduler
	Rules      *config.RuleSource
	Handlers   *lifecycle.Handlers
	Supervisor *scheduler.Supervisor
	Logger     *slog.Logger
}

type Service struct {
	store      Store
	sched      *scheduler.Scheduler
	rules      *config.RuleSource
	handlers   *lifecycle.Handlers
	supervisor *scheduler.Supervisor
	logger     *slog.Logger
}

func New(d Deps) *Service {
	return &Service{
		store:      d.Store,
		sched:      d.Scheduler,
		rules:      d.Rules,
		handlers:   d.Handlers,
		supervisor: d.Supervisor,
		logger:     d.Logger,
	}
}

// StageView is the public picture of the contest clock. Initialized is
// false until the scheduler has ticked once; the other fields are then
// zero.
type StageView struct {
	Initialized         bool          `json:"initialized"`
	Stage               contest.Stage `json:"stage,omitempty"`
	SecondsToNext       int           `json:"secondsToNext"`
	NextStageDeadline   time.Time     `json:"nextStageDeadline,omitzero"`
	WasManuallyAdvanced bool          `json:"wasManuallyAdvanced"`
}

// CurrentStageState never fails: any error reads as not initialized.
func (s *Service) CurrentStageState(ctx context.Context) StageView {
	st, err := s.sched.State(ctx)
	if err != nil {
		if !errors.Is(err, contest.ErrNotInitialized) {
			s.logger.Error("reading stage state", "error", err)
		}
		return StageView{}
	}
	return StageView{
		Initialized:         true,
		Stage:               st.CurrentStage,
		SecondsToNext:       secondsUntil(s.sched.Now(), st.NextStageDeadline),
		NextStageDeadline:   st.NextStageDeadline,
		WasManuallyAdvanced: st.WasManuallyAdvanced,
	}
}

func secondsUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// AdvanceStage ends the current stage now.
func (s *Service) AdvanceStage(ctx context.Context) (scheduler.Transition, error) {
	return s.sched.ManualAdvance(ctx)
}

// ResetStage clears the stage record; the next tick starts over from the
// schedule.
func (s *Service) ResetStage(ctx context.Context) error {
	return s.sched.Reset(ctx)
}

// currentStage is the live stage, or contest.ErrNotInitialized.
func (s *Service) currentStage(ctx context.Context) (contest.Stage, error) {
	st, err := s.sched.State(ctx)
	if err != nil {
		return "", err
	}
	return st.CurrentStage, nil
}

// JoinStatus reports whether a newcomer can still take part this hour.
func (s *Service) JoinStatus(ctx context.Context) (contest.JoinStatus, error) {
	now := s.sched.Now()
	sched := s.rules.Schedule()
	st, err := s.sched.State(ctx)
	if errors.Is(err, contest.ErrNotInitialized) {
		st = contest.StageState{CurrentStage: sched.StageAt(now)}
	} else if err != nil {
		return contest.JoinStatus{}, fmt.Errorf("reading stage: %w", err)
	}
	return sched.JoinStatus(now, st, s.rules.Rules().JoinWindow()), nil
}

// Rules returns the rules in force.
func (s *Service) Rules() config.Rules {
	return s.rules.Rules()
}

// UpdateRules replaces the rules after validating them.
func (s *Service) UpdateRules(r config.Rules) (config.Rules, error) {
	if err := s.rules.Set(r); err != nil {
		return config.Rules{}, contest.Reject(contest.ErrInvalidRules, err.Error())
	}
	s.logger.Info("rules updated", "assignments_per_judge", r.AssignmentsPerJudge, "qualification_threshold", r.QualificationThreshold)
	return s.rules.Rules(), nil
}
