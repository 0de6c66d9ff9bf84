// Package contest defines the core domain types of the hourly contest and
// the pure schedule arithmetic the rest of the system depends on.
package contest

import (
	"fmt"
	"time"
)

// Stage is one phase of the fixed five-phase contest cycle.
type Stage string

const (
	StageBuilding Stage = "building"
	StageJudging1 Stage = "judging_1"
	StageJudging2 Stage = "judging_2"
	StageJudging3 Stage = "judging_3"
	StageBreak    Stage = "break"
)

// Stages lists every stage in cycle order, starting with Building.
var Stages = []Stage{StageBuilding, StageJudging1, StageJudging2, StageJudging3, StageBreak}

func (s Stage) index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the five known stages.
func (s Stage) Valid() bool { return s.index() >= 0 }

// Next returns the cyclic successor of s. Break wraps to Building.
func (s Stage) Next() Stage {
	i := s.index()
	if i < 0 {
		return StageBuilding
	}
	return Stages[(i+1)%len(Stages)]
}

// JudgingRound maps a judging stage to its round number (1 to 3).
func (s Stage) JudgingRound() (int, bool) {
	switch s {
	case StageJudging1:
		return 1, true
	case StageJudging2:
		return 2, true
	case StageJudging3:
		return 3, true
	}
	return 0, false
}

// JudgingStage is the inverse of JudgingRound.
func JudgingStage(round int) (Stage, bool) {
	switch round {
	case 1:
		return StageJudging1, true
	case 2:
		return StageJudging2, true
	case 3:
		return StageJudging3, true
	}
	return "", false
}

func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", v)
	}
	return s, nil
}

// StageState is the single live record tracking the current stage.
// NextStageDeadline is the instant CurrentStage is scheduled to end,
// computed when the transition into CurrentStage happened. StageEnteredAt
// is when that transition ran; records written before it existed leave it
// zero.
type StageState struct {
	CurrentStage        Stage     `json:"currentStage"`
	StageEnteredAt      time.Time `json:"stageEnteredAt,omitzero"`
	NextStageDeadline   time.Time `json:"nextStageDeadline"`
	LastHeartbeat       time.Time `json:"lastHeartbeat"`
	WasManuallyAdvanced bool      `json:"wasManuallyAdvanced"`
	Version             int64     `json:"-"`
}

type ContestStatus string

const (
	ContestScheduled ContestStatus = "scheduled"
	ContestActive    ContestStatus = "active"
	ContestCompleted ContestStatus = "completed"
)

type Contest struct {
	ID           string        `json:"id"`
	ScheduledFor time.Time     `json:"scheduledFor"`
	StartedAt    time.Time     `json:"startedAt"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
	Status       ContestStatus `json:"status"`
	Winner       *Winner       `json:"winner,omitempty"`
}

// Winner is the top-ranked qualifier persisted when a contest completes.
type Winner struct {
	SubmitterID string    `json:"submitterId"`
	Score       float64   `json:"score"`
	DecidedAt   time.Time `json:"decidedAt"`
}

// Submission is a contestant's most recent entry for a contest.
type Submission struct {
	ID          string    `json:"id"`
	ContestID   string    `json:"contestId"`
	SubmitterID string    `json:"submitterId"`
	ArtifactRef string    `json:"artifactRef"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Ratings holds one score per judged dimension.
type Ratings struct {
	Theme         int `json:"theme"`
	Design        int `json:"design"`
	Functionality int `json:"functionality"`
}

// Mean is the average across the judged dimensions.
func (r Ratings) Mean() float64 {
	return float64(r.Theme+r.Design+r.Functionality) / 3
}

// Within reports whether every dimension lies in [lo, hi].
func (r Ratings) Within(lo, hi int) bool {
	for _, v := range []int{r.Theme, r.Design, r.Functionality} {
		if v < lo || v > hi {
			return false
		}
	}
	return true
}

// Review is one reviewer's ratings for one submission in one judging round.
type Review struct {
	ID           string    `json:"id"`
	ContestID    string    `json:"contestId"`
	ReviewerID   string    `json:"reviewerId"`
	SubmissionID string    `json:"submissionId"`
	Ratings      Ratings   `json:"ratings"`
	Round        int       `json:"round"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Assignment pairs a reviewer with a submission for one judging round.
type Assignment struct {
	ID           string     `json:"id"`
	ContestID    string     `json:"contestId"`
	ReviewerID   string     `json:"reviewerId"`
	SubmissionID string     `json:"submissionId"`
	Round        int        `json:"round"`
	Completed    bool       `json:"completed"`
	AssignedAt   time.Time  `json:"assignedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}
