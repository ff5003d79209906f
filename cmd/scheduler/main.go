// Command scheduler runs the tick loop that claims due events from the
// store and enqueues them onto the work queue (spec.md §4.5), plus a
// one-shot recovery pass at startup (spec.md §4.8) so events missed
// while the process was down still get delivered.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pradok/events-scheduler-sub005/internal/config"
	"github.com/pradok/events-scheduler-sub005/internal/observability"
	"github.com/pradok/events-scheduler-sub005/internal/queue/redisclient"
	"github.com/pradok/events-scheduler-sub005/internal/queue/redisqueue"
	"github.com/pradok/events-scheduler-sub005/internal/recovery"
	"github.com/pradok/events-scheduler-sub005/internal/repo/postgres"
	"github.com/pradok/events-scheduler-sub005/internal/scheduler"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(context.Background(), "events-scheduler-scheduler", "localhost:4317")
	if err != nil {
		slog.Default().ErrorContext(ctx, "otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	base := observability.NewLogger(cfg.Env)
	logger := slog.New(observability.NewTraceHandler(base.Handler()))
	slog.SetDefault(logger)

	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		logger.ErrorContext(ctx, "db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	rc := redisclient.New(redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rc.Close()

	q := redisqueue.New(rc.Raw(), redisqueue.DefaultConfig("scheduler"))
	if err := q.EnsureGroup(ctx); err != nil {
		logger.ErrorContext(ctx, "redis stream group setup failed", "err", err)
		os.Exit(1)
	}

	store := postgres.NewScheduledEventsRepo(pool, prom)

	rec := recovery.New(store, q, cfg.RecoveryBatchLimit, logger)
	rec.Run(ctx)

	s := scheduler.New(scheduler.Config{
		TickInterval: cfg.SchedulerTickInterval,
		BatchLimit:   cfg.SchedulerBatchLimit,
	}, store, q, logger)

	logger.InfoContext(ctx, "scheduler.start", "tick_interval", cfg.SchedulerTickInterval, "batch_limit", cfg.SchedulerBatchLimit)

	s.Run(ctx)

	logger.InfoContext(context.Background(), "scheduler.shutdown_complete")
}
