package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pradok/events-scheduler-sub005/internal/bus"
	"github.com/pradok/events-scheduler-sub005/internal/config"
	"github.com/pradok/events-scheduler-sub005/internal/db"
	httpx "github.com/pradok/events-scheduler-sub005/internal/http"
	"github.com/pradok/events-scheduler-sub005/internal/observability"
	"github.com/pradok/events-scheduler-sub005/internal/queue/redisclient"
	"github.com/pradok/events-scheduler-sub005/internal/queue/redisqueue"
	"github.com/pradok/events-scheduler-sub005/internal/reactors"
	"github.com/pradok/events-scheduler-sub005/internal/repo/postgres"
	"github.com/pradok/events-scheduler-sub005/internal/timezone"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := observability.NewLogger(cfg.Env)

	if err := db.Migrate(cfg.DBURL); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		log.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	rc := redisclient.New(redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rc.Close()

	q := redisqueue.New(rc.Raw(), redisqueue.DefaultConfig("api"))
	if err := q.EnsureGroup(ctx); err != nil {
		log.Error("redis stream group setup failed", "err", err)
		os.Exit(1)
	}

	override := timezone.LoadOverrideFromEnv()

	store := postgres.NewScheduledEventsRepo(pool, prom)
	eventBus := bus.New(log)
	reactors.New(store, override, cfg.WebhookURL, log).Register(eventBus)

	router := httpx.NewRouter(eventBus, rc, prom, reg, pool.Ping)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownContext, cancelFunc := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFunc()

	if err := srv.Shutdown(shutdownContext); err != nil {
		log.Error("server graceful shutdown failed", "err", err)
		_ = srv.Close()
	} else {
		log.Info("server stopped gracefully.")
	}
}
