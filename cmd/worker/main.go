// Command worker consumes claimed events off the work queue, delivers
// the webhook, and advances each event's state machine (spec.md §4.6).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pradok/events-scheduler-sub005/internal/config"
	"github.com/pradok/events-scheduler-sub005/internal/observability"
	"github.com/pradok/events-scheduler-sub005/internal/queue/redisclient"
	"github.com/pradok/events-scheduler-sub005/internal/queue/redisqueue"
	"github.com/pradok/events-scheduler-sub005/internal/reactors"
	"github.com/pradok/events-scheduler-sub005/internal/repo/postgres"
	"github.com/pradok/events-scheduler-sub005/internal/timezone"
	"github.com/pradok/events-scheduler-sub005/internal/webhook"
	"github.com/pradok/events-scheduler-sub005/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(context.Background(), "events-scheduler-worker", "localhost:4317")
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

	host, _ := os.Hostname()
	consumerName := host + "-" + strconv.Itoa(os.Getpid())

	qCfg := redisqueue.DefaultConfig(consumerName)
	qCfg.VisibilityTimeout = cfg.WorkQueueVisibility
	qCfg.MaxDeliveries = int64(cfg.WorkQueueMaxDeliveries)
	q := redisqueue.New(rc.Raw(), qCfg)
	if err := q.EnsureGroup(ctx); err != nil {
		logger.ErrorContext(ctx, "redis stream group setup failed", "err", err)
		os.Exit(1)
	}

	store := postgres.NewScheduledEventsRepo(pool, prom)

	override := timezone.LoadOverrideFromEnv()
	r := reactors.New(store, override, cfg.WebhookURL, logger)

	deliverer := webhook.NewProtectedClient(
		webhook.NewClient(0),
		webhook.CircuitConfig{},
	)

	healthAddr := os.Getenv("WORKER_HEALTH_ADDR")
	if healthAddr == "" {
		healthAddr = ":8081"
	}

	w := worker.New(worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		BlockFor:    cfg.WorkQueueBlockFor,
		HealthAddr:  healthAddr,
	}, store, q, deliverer, r, reg, logger)

	logger.InfoContext(ctx, "worker.start", "consumer", consumerName, "health_addr", healthAddr)

	if err := w.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "worker.run_failed", "err", err)
	}

	logger.InfoContext(context.Background(), "worker.shutdown_complete")
}
