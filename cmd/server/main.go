package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/viberacer/api/internal/config"
	"github.com/viberacer/api/internal/database"
	"github.com/viberacer/api/internal/events"
	"github.com/viberacer/api/internal/handler/health"
	"github.com/viberacer/api/internal/judging"
	"github.com/viberacer/api/internal/lifecycle"
	"github.com/viberacer/api/internal/migrations"
	"github.com/viberacer/api/internal/scheduler"
	"github.com/viberacer/api/internal/server"
	"github.com/viberacer/api/internal/service"
	"github.com/viberacer/api/internal/store"
	"github.com/viberacer/api/internal/telemetry"
)

const handlerQueueSize = 16

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	rules, err := config.NewRuleSource(cfg.Rules())
	if err != nil {
		return fmt.Errorf("validating rules: %w", err)
	}
	if cfg.RulesFile != "" {
		if err := rules.LoadFile(cfg.RulesFile); err != nil {
			return fmt.Errorf("loading rules file: %w", err)
		}
		logger.Info("loaded rules file", "path", cfg.RulesFile)
	}

	// --- Telemetry ---
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "contest-api")
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	version, err := migrations.Version(db)
	if err != nil {
		return err
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath, "schema_version", version)
	st := store.New(db)

	checks := map[string]health.Checker{
		"sqlite": dbChecker{db},
	}

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		checks["redis"] = redisChecker{rdb}
		logger.Info("connected to redis")
	}

	// --- Contest clock ---
	broker := events.NewBroker()
	notifier := events.NewNotifier(broker, rdb, logger)

	handlers := lifecycle.New(st, judging.NewEngine(nil), rules.Rules, time.Now, logger)
	if err := handlers.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping contest: %w", err)
	}
	queue := lifecycle.NewQueue(handlers, handlerQueueSize, logger)

	sched := scheduler.New(st, rules.Schedule, scheduler.Fanout{queue, notifier}, logger)
	supervisor := scheduler.NewSupervisor(sched, scheduler.SupervisorConfig{
		TickInterval:         cfg.TickInterval,
		WatchdogInterval:     cfg.WatchdogInterval,
		DeepWatchdogInterval: cfg.DeepWatchdogInterval,
		StaleAfter:           cfg.HeartbeatStale,
	}, logger)
	checks["scheduler"] = schedulerChecker{sched}

	svc := service.New(service.Deps{
		Store:      st,
		Scheduler:  sched,
		Rules:      rules,
		Handlers:   handlers,
		Supervisor: supervisor,
		Logger:     logger,
	})

	// --- HTTP Server ---
	if cfg.AdminTokenHash == "" {
		logger.Warn("ADMIN_TOKEN_HASH not set, admin routes disabled")
	}
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Service:        svc,
		Broker:         broker,
		AdminTokenHash: cfg.AdminTokenHash,
		Checks:         checks,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	g.Go(func() error {
		return queue.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("starting scheduler", "tick", cfg.TickInterval)
		return supervisor.Run(gctx)
	})

	if cfg.RulesFile != "" {
		g.Go(func() error {
			return rules.Watch(gctx, cfg.RulesFile, cfg.RulesPollInterval, logger)
		})
	}

	if rdb != nil {
		g.Go(func() error {
			return notifier.Relay(gctx, rdb)
		})
	}

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// dbChecker adapts *sql.DB to health.Checker.
type dbChecker struct{ db *sql.DB }

func (d dbChecker) Check(ctx context.Context) error { return d.db.PingContext(ctx) }

// redisChecker adapts *redis.Client to health.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// schedulerChecker fails once the tick loop has stopped heartbeating.
type schedulerChecker struct{ sched *scheduler.Scheduler }

func (s schedulerChecker) Check(ctx context.Context) error {
	h, age, err := s.sched.Health(ctx)
	if err != nil {
		return err
	}
	if h == scheduler.HealthStopped {
		return fmt.Errorf("scheduler heartbeat is %s old", age.Round(time.Second))
	}
	return nil
}
