package contest

import (
	"errors"
	"fmt"
	"time"
)

// Schedule maps every stage to the minute of the hour at which it starts.
// A stage runs until the start minute of its successor; windows may wrap
// past :60 back to :00.
type Schedule struct {
	Starts   map[Stage]int
	Location *time.Location
}

// DefaultSchedule runs Building :05 to :00, the three judging rounds one
// minute each from :00, and Break :03 to :05.
func DefaultSchedule() Schedule {
	return Schedule{
		Starts: map[Stage]int{
			StageBuilding: 5,
			StageJudging1: 0,
			StageJudging2: 1,
			StageJudging3: 2,
			StageBreak:    3,
		},
		Location: time.UTC,
	}
}

var errInvalidSchedule = errors.New("invalid stage schedule")

// Validate checks that the five windows partition the hour in cycle order.
func (s Schedule) Validate() error {
	for _, st := range Stages {
		m, ok := s.Starts[st]
		if !ok {
			return fmt.Errorf("%w: missing start minute for %s", errInvalidSchedule, st)
		}
		if m < 0 || m >= 60 {
			return fmt.Errorf("%w: start minute %d for %s outside [0,60)", errInvalidSchedule, m, st)
		}
	}
	var total time.Duration
	for _, st := range Stages {
		d := s.Duration(st)
		if d == 0 {
			return fmt.Errorf("%w: %s and %s start at the same minute", errInvalidSchedule, st, st.Next())
		}
		total += d
	}
	if total != time.Hour {
		return fmt.Errorf("%w: start minutes are not in cycle order", errInvalidSchedule)
	}
	return nil
}

func (s Schedule) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s Schedule) start(st Stage) time.Duration {
	return time.Duration(s.Starts[st]) * time.Minute
}

// Duration is the configured length of a stage's window.
func (s Schedule) Duration(st Stage) time.Duration {
	return modHour(s.start(st.Next()) - s.start(st))
}

// StageAt classifies t into exactly one stage.
func (s Schedule) StageAt(t time.Time) Stage {
	st, _ := s.locate(t)
	return st
}

// TimeToNextBoundary is how long until the window containing t ends,
// regardless of what the live stage state says.
func (s Schedule) TimeToNextBoundary(t time.Time) time.Duration {
	st, elapsed := s.locate(t)
	return s.Duration(st) - elapsed
}

// locate returns the stage containing t and how far into its window t is.
func (s Schedule) locate(t time.Time) (Stage, time.Duration) {
	off := offsetInHour(t.In(s.loc()))
	for _, st := range Stages {
		rel := modHour(off - s.start(st))
		if rel < s.Duration(st) {
			return st, rel
		}
	}
	// Unreachable for a validated schedule.
	return StageBuilding, 0
}

// DeadlineFor returns the deadline of a stage entered at now: the next
// wall-clock occurrence, strictly after now, of its successor's start
// minute. Recomputing from now on every transition keeps a late tick from
// shifting later deadlines.
func (s Schedule) DeadlineFor(st Stage, now time.Time) time.Time {
	return s.nextOccurrence(s.Starts[st.Next()], now)
}

func (s Schedule) nextOccurrence(minute int, now time.Time) time.Time {
	local := now.In(s.loc())
	hour := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, s.loc())
	at := hour.Add(time.Duration(minute) * time.Minute)
	for !at.After(now) {
		at = at.Add(time.Hour)
	}
	return at
}

// JoinStatus reports whether a newcomer may still join. Joining is always
// open outside Building and during the first window of Building.
type JoinStatus struct {
	CanJoin      bool      `json:"canJoin"`
	Stage        Stage     `json:"stage"`
	Minute       int       `json:"minute"`
	WindowEndsAt time.Time `json:"windowEndsAt"`
}

func (s Schedule) JoinStatus(now time.Time, st StageState, window time.Duration) JoinStatus {
	js := JoinStatus{
		Stage:  st.CurrentStage,
		Minute: now.In(s.loc()).Minute(),
	}
	buildStart := s.nextOccurrence(s.Starts[StageBuilding], now)
	if st.CurrentStage == StageBuilding {
		buildStart = s.buildingStart(now, st)
	}
	js.WindowEndsAt = buildStart.Add(window)
	js.CanJoin = st.CurrentStage != StageBuilding || now.Before(js.WindowEndsAt)
	return js
}

// buildingStart is when the live Building stage began. A manual advance
// into Building starts it at StageEnteredAt, not at the scheduled minute.
func (s Schedule) buildingStart(now time.Time, st StageState) time.Time {
	if scheduled, elapsed := s.locate(now); scheduled == StageBuilding && !st.WasManuallyAdvanced {
		return now.Add(-elapsed)
	}
	if !st.StageEnteredAt.IsZero() {
		return st.StageEnteredAt
	}
	return now
}

func offsetInHour(t time.Time) time.Duration {
	return time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func modHour(d time.Duration) time.Duration {
	d %= time.Hour
	if d < 0 {
		d += time.Hour
	}
	return d
}
