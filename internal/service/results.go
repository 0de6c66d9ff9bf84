package service

import (
	"context"
	"fmt"
	"time"

	"github.com/viberacer/api/internal/contest"
	"github.com/viberacer/api/internal/judging"
	"github.com/viberacer/api/internal/leaderboard"
	"github.com/viberacer/api/internal/lifecycle"
	"github.com/viberacer/api/internal/scheduler"
)

// ContestLeaderboard computes the board for any contest, finished or not.
func (s *Service) ContestLeaderboard(ctx context.Context, contestID string) (leaderboard.Board, error) {
	if _, err := s.store.GetContest(ctx, contestID); err != nil {
		return leaderboard.Board{}, err
	}
	subs, err := s.store.Submissions(ctx, contestID)
	if err != nil {
		return leaderboard.Board{}, fmt.Errorf("loading submissions: %w", err)
	}
	reviews, err := s.store.Reviews(ctx, contestID)
	if err != nil {
		return leaderboard.Board{}, fmt.Errorf("loading reviews: %w", err)
	}
	board := leaderboard.Calculate(contestID, subs, reviews, s.rules.Rules().QualificationThreshold)
	if board.Entries == nil {
		board.Entries = []leaderboard.Entry{}
	}
	return board, nil
}

// WinnerView is a past contest and who won it.
type WinnerView struct {
	ContestID    string    `json:"contestId"`
	ScheduledFor time.Time `json:"scheduledFor"`
	SubmitterID  string    `json:"submitterId"`
	Score        float64   `json:"score"`
	DecidedAt    time.Time `json:"decidedAt"`
}

const recentScanLimit = 50

// RecentWinners lists up to n of the latest contests that produced a
// winner, newest first.
func (s *Service) RecentWinners(ctx context.Context, n int) ([]WinnerView, error) {
	done, err := s.store.CompletedContests(ctx, time.Time{}, max(n, recentScanLimit))
	if err != nil {
		return nil, fmt.Errorf("loading contests: %w", err)
	}
	out := []WinnerView{}
	for _, c := range done {
		if c.Winner == nil {
			continue
		}
		out = append(out, WinnerView{
			ContestID:    c.ID,
			ScheduledFor: c.ScheduledFor,
			SubmitterID:  c.Winner.SubmitterID,
			Score:        c.Winner.Score,
			DecidedAt:    c.Winner.DecidedAt,
		})
		if len(out) == n {
			break
		}
	}
	return out, nil
}

const (
	week        = 7 * 24 * time.Hour
	weeklyLimit = 3
)

// WeeklyTopWinners ranks the past week's winners by number of wins.
func (s *Service) WeeklyTopWinners(ctx context.Context) ([]leaderboard.Standing, error) {
	since := s.sched.Now().Add(-week)
	done, err := s.store.CompletedContests(ctx, since, 7*24)
	if err != nil {
		return nil, fmt.Errorf("loading contests: %w", err)
	}
	return leaderboard.TopWinners(done, weeklyLimit), nil
}

// JudgingStats summarises review progress for a contest.
func (s *Service) JudgingStats(ctx context.Context, contestID string) ([]judging.RoundStats, error) {
	if _, err := s.store.GetContest(ctx, contestID); err != nil {
		return nil, err
	}
	as, err := s.store.Assignments(ctx, contestID, 0)
	if err != nil {
		return nil, fmt.Errorf("loading assignments: %w", err)
	}
	return judging.Stats(as), nil
}

// Monitoring is the operator view of the contest clock.
type Monitoring struct {
	Health              scheduler.Health    `json:"health"`
	HeartbeatAgeSeconds float64             `json:"heartbeatAgeSeconds"`
	State               *contest.StageState `json:"state,omitempty"`
	ScheduledStage      contest.Stage       `json:"scheduledStage"`
	OffSchedule         bool                `json:"offSchedule"`
	LoopRestarts        int64               `json:"loopRestarts"`
	Handlers            lifecycle.Stats     `json:"handlers"`
	ActiveContest       *contest.Contest    `json:"activeContest,omitempty"`
}

// Monitoring gathers liveness, drift from the wall-clock schedule and
// handler failure counts.
func (s *Service) Monitoring(ctx context.Context) (Monitoring, error) {
	now := s.sched.Now()
	m := Monitoring{ScheduledStage: s.rules.Schedule().StageAt(now)}

	health, age, err := s.sched.Health(ctx)
	if err != nil {
		return Monitoring{}, fmt.Errorf("reading health: %w", err)
	}
	m.Health = health
	m.HeartbeatAgeSeconds = age.Seconds()

	if st, err := s.sched.State(ctx); err == nil {
		m.State = &st
		m.OffSchedule = st.CurrentStage != m.ScheduledStage
	}
	if s.supervisor != nil {
		m.LoopRestarts = s.supervisor.Restarts()
	}
	if s.handlers != nil {
		m.Handlers = s.handlers.Stats()
	}
	if c, err := s.store.ActiveContest(ctx); err == nil {
		m.ActiveContest = &c
	}
	return m, nil
}
