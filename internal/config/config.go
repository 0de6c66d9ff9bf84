package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/viberacer/api/internal/contest"
)

type Config struct {
	HTTPAddr       string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath         string     `env:"DB_PATH" envDefault:"data/contest.db"`
	LogLevel       slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	RedisURL       string     `env:"REDIS_URL"`
	OTelEndpoint   string     `env:"OTEL_ENDPOINT"`
	AdminTokenHash string     `env:"ADMIN_TOKEN_HASH"`

	RulesFile         string        `env:"RULES_FILE"`
	RulesPollInterval time.Duration `env:"RULES_POLL_INTERVAL" envDefault:"5s"`

	TickInterval         time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	WatchdogInterval     time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"5s"`
	DeepWatchdogInterval time.Duration `env:"DEEP_WATCHDOG_INTERVAL" envDefault:"30s"`
	HeartbeatStale       time.Duration `env:"HEARTBEAT_STALE" envDefault:"5s"`

	Schedule               map[string]int `env:"SCHEDULE" envDefault:"building:5,judging_1:0,judging_2:1,judging_3:2,break:3"`
	Timezone               string         `env:"TIMEZONE" envDefault:"UTC"`
	JoinWindowMinutes      int            `env:"JOIN_WINDOW_MINUTES" envDefault:"15"`
	AssignmentsPerJudge    int            `env:"ASSIGNMENTS_PER_JUDGE" envDefault:"4"`
	QualificationThreshold int            `env:"QUALIFICATION_THRESHOLD" envDefault:"5"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

// Rules returns the hot-reloadable contest rules seeded from the
// environment.
func (c *Config) Rules() Rules {
	sched := make(map[contest.Stage]int, len(c.Schedule))
	for k, v := range c.Schedule {
		sched[contest.Stage(k)] = v
	}
	return Rules{
		Schedule:               sched,
		Timezone:               c.Timezone,
		JoinWindowMinutes:      c.JoinWindowMinutes,
		AssignmentsPerJudge:    c.AssignmentsPerJudge,
		QualificationThreshold: c.QualificationThreshold,
	}
}
