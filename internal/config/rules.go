package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/viberacer/api/internal/contest"
)

// Rules are the contest parameters that can change while the process runs.
type Rules struct {
	Schedule               map[contest.Stage]int `yaml:"schedule" json:"schedule"`
	Timezone               string                `yaml:"timezone" json:"timezone"`
	JoinWindowMinutes      int                   `yaml:"join_window_minutes" json:"joinWindowMinutes"`
	AssignmentsPerJudge    int                   `yaml:"assignments_per_judge" json:"assignmentsPerJudge"`
	QualificationThreshold int                   `yaml:"qualification_threshold" json:"qualificationThreshold"`
}

// JoinWindow is JoinWindowMinutes as a duration.
func (r Rules) JoinWindow() time.Duration {
	return time.Duration(r.JoinWindowMinutes) * time.Minute
}

// compile validates r and resolves its schedule.
func (r Rules) compile() (contest.Schedule, error) {
	for st := range r.Schedule {
		if !st.Valid() {
			return contest.Schedule{}, fmt.Errorf("unknown stage %q in schedule", st)
		}
	}
	tz := r.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return contest.Schedule{}, fmt.Errorf("loading timezone: %w", err)
	}
	sched := contest.Schedule{Starts: maps.Clone(r.Schedule), Location: loc}
	if err := sched.Validate(); err != nil {
		return contest.Schedule{}, err
	}
	if r.JoinWindowMinutes < 0 {
		return contest.Schedule{}, errors.New("join window must not be negative")
	}
	if r.AssignmentsPerJudge < 1 {
		return contest.Schedule{}, errors.New("assignments per judge must be at least 1")
	}
	if r.QualificationThreshold < 0 {
		return contest.Schedule{}, errors.New("qualification threshold must not be negative")
	}
	return sched, nil
}

type ruleSet struct {
	rules    Rules
	schedule contest.Schedule
}

// RuleSource holds the rules in force. Readers always see a complete,
// validated set.
type RuleSource struct {
	cur atomic.Pointer[ruleSet]
}

func NewRuleSource(initial Rules) (*RuleSource, error) {
	s := &RuleSource{}
	if err := s.Set(initial); err != nil {
		return nil, err
	}
	return s, nil
}

// Set validates r and makes it current.
func (s *RuleSource) Set(r Rules) error {
	sched, err := r.compile()
	if err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}
	r.Schedule = maps.Clone(r.Schedule)
	s.cur.Store(&ruleSet{rules: r, schedule: sched})
	return nil
}

// Rules returns a copy of the current rules.
func (s *RuleSource) Rules() Rules {
	r := s.cur.Load().rules
	r.Schedule = maps.Clone(r.Schedule)
	return r
}

// Schedule returns the current stage schedule. Callers must not modify it.
func (s *RuleSource) Schedule() contest.Schedule {
	return s.cur.Load().schedule
}

// LoadFile reads a YAML rules file over the current rules. Fields the file
// leaves out keep their current value.
func (s *RuleSource) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading rules file: %w", err)
	}
	r := s.Rules()
	var file Rules
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing rules file: %w", err)
	}
	if file.Schedule != nil {
		r.Schedule = file.Schedule
	}
	if file.Timezone != "" {
		r.Timezone = file.Timezone
	}
	if file.JoinWindowMinutes != 0 {
		r.JoinWindowMinutes = file.JoinWindowMinutes
	}
	if file.AssignmentsPerJudge != 0 {
		r.AssignmentsPerJudge = file.AssignmentsPerJudge
	}
	if file.QualificationThreshold != 0 {
		r.QualificationThreshold = file.QualificationThreshold
	}
	return s.Set(r)
}

// Watch reloads path whenever its modification time changes. A bad file
// is logged and the previous rules stay in force.
func (s *RuleSource) Watch(ctx context.Context, path string, every time.Duration, logger *slog.Logger) error {
	var last time.Time
	if fi, err := os.Stat(path); err == nil {
		last = fi.ModTime()
	}

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fi, err := os.Stat(path)
			if err != nil || fi.ModTime().Equal(last) {
				continue
			}
			last = fi.ModTime()
			if err := s.LoadFile(path); err != nil {
				logger.Error("reloading rules", "path", path, "error", err)
				continue
			}
			logger.Info("rules reloaded", "path", path)
		}
	}
}
