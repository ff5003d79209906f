// Package scheduler runs the periodic claim-and-dispatch loop (spec.md
// §4.5): a ticker-driven producer that batch-claims ready rows via
// ClaimReadyEvents and hands each one off to the work-queue port.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/pradok/events-scheduler-sub005/internal/eventstore"
	"github.com/pradok/events-scheduler-sub005/internal/queue"
)

// Config mirrors spec.md §4.5: a tick interval and a claim batch
// limit. The limit is the same on every tick; the startup recovery
// pass uses its own, separate limit (internal/recovery).
type Config struct {
	TickInterval time.Duration
	BatchLimit   int
}

func DefaultConfig() Config {
	return Config{TickInterval: 60 * time.Second, BatchLimit: 100}
}

type Scheduler struct {
	cfg    Config
	store  eventstore.Store
	queue  queue.Queue
	logger *slog.Logger
}

func New(cfg Config, store eventstore.Store, q queue.Queue, logger *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, store: store, queue: q, logger: logger}
}

// Run blocks, firing one Tick per TickInterval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims up to BatchLimit ready events and enqueues one work-queue
// message per claimed event. A claimed event that fails to enqueue is
// NOT rolled back (spec.md §4.5) — it stays PROCESSING and relies on
// the visibility-timeout/recovery path for liveness.
func (s *Scheduler) Tick(ctx context.Context) {
	claimed, err := s.store.ClaimReadyEvents(ctx, s.cfg.BatchLimit)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduler.claim_error", "err", err)
		return
	}

	enqueued := 0
	enqueueFailed := 0
	for _, evt := range claimed {
		if err := s.queue.Enqueue(ctx, evt.ID); err != nil {
			enqueueFailed++
			s.logger.ErrorContext(ctx, "scheduler.enqueue_error", "event_id", evt.ID, "err", err)
			continue
		}
		enqueued++
	}

	s.logger.InfoContext(ctx, "scheduler.tick",
		"claimed", len(claimed), "enqueued", enqueued, "enqueue_failed", enqueueFailed)
}
