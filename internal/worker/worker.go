// Package worker is the executor tier (spec.md §4.6): it drains the
// work queue, drives each event through delivery, and seeds the next
// occurrence. Its shape is a fixed pool of goroutines each long-polling
// the queue, one OTel span per unit of work, and a graceful shutdown
// with a grace period, replacing "execute job by type switch" with the
// seven-step delivery procedure below.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pradok/events-scheduler-sub005/internal/apperr"
	"github.com/pradok/events-scheduler-sub005/internal/domain/scheduledevent"
	"github.com/pradok/events-scheduler-sub005/internal/eventstore"
	"github.com/pradok/events-scheduler-sub005/internal/observability"
	"github.com/pradok/events-scheduler-sub005/internal/queue"
	"github.com/pradok/events-scheduler-sub005/internal/reactors"
	"github.com/pradok/events-scheduler-sub005/internal/webhook"
)

var tracer = otel.Tracer("events-scheduler-worker")

type Config struct {
	Concurrency   int
	BlockFor      time.Duration // long-poll block on queue.Receive
	ShutdownGrace time.Duration
	HealthAddr    string
}

type Worker struct {
	cfg       Config
	store     eventstore.Store
	queue     queue.Queue
	deliverer webhook.Deliverer
	reactors  *reactors.Reactors
	logger    *slog.Logger

	readyMu      sync.RWMutex
	ready        bool
	promRegistry *prometheus.Registry
	jobMetrics   *observability.JobMetrics
}

func New(cfg Config, store eventstore.Store, q queue.Queue, deliverer webhook.Deliverer, r *reactors.Reactors, promRegistry *prometheus.Registry, logger *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BlockFor <= 0 {
		cfg.BlockFor = 5 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:          cfg,
		store:        store,
		queue:        q,
		deliverer:    deliverer,
		reactors:     r,
		logger:       logger,
		ready:        true,
		promRegistry: promRegistry,
		jobMetrics:   observability.NewJobMetrics(),
	}
}

// Run starts the health server and a fixed pool of consumer goroutines
// long-polling the work queue, and blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	srv := &http.Server{Addr: w.cfg.HealthAddr, Handler: w.healthHandler()}
	healthDone := make(chan struct{})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("worker.health_server_error", "err", err)
		}
		close(healthDone)
	}()

	go func() {
		<-ctx.Done()
		w.readyMu.Lock()
		w.ready = false
		w.readyMu.Unlock()

		time.Sleep(5 * time.Second)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(consumerNum int) {
			defer wg.Done()
			w.consume(ctx, consumerNum)
		}(i + 1)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.ShutdownGrace):
		w.logger.Warn("worker.shutdown_grace_exceeded", "grace", w.cfg.ShutdownGrace)
	}

	select {
	case <-healthDone:
	case <-time.After(7 * time.Second):
	}
	return nil
}

// consume long-polls the queue and runs Process for each message,
// until ctx is canceled. One goroutine per consumerNum runs this loop
// concurrently; long-poll naturally rate-limits how often an idle
// consumer hits the queue.
func (w *Worker) consume(ctx context.Context, consumerNum int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := w.queue.Receive(ctx, 1, w.cfg.BlockFor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.ErrorContext(ctx, "worker.receive_error", "consumer", consumerNum, "err", err)
			continue
		}

		for _, msg := range msgs {
			w.Process(ctx, consumerNum, msg)
		}
	}
}

// Process runs the seven-step delivery procedure of spec.md §4.6 for
// one queue message.
func (w *Worker) Process(ctx context.Context, consumerNum int, msg queue.Message) {
	execCtx, span := tracer.Start(ctx, "worker.process",
		trace.WithAttributes(
			attribute.String("event.id", msg.EventID),
			attribute.Int("worker.consumer_num", consumerNum),
		),
	)
	defer span.End()

	w.jobMetrics.IncClaimed()
	start := time.Now()
	if err := w.process(execCtx, msg); err != nil {
		w.jobMetrics.IncFailed()
		w.jobMetrics.ObserveDuration(time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.ErrorContext(execCtx, "worker.process_error",
			"event_id", msg.EventID, "duration_ms", time.Since(start).Milliseconds(), "err", err)
		return
	}

	w.jobMetrics.IncDone()
	w.jobMetrics.ObserveDuration(time.Since(start))
	span.SetStatus(codes.Ok, "done")
	w.logger.InfoContext(execCtx, "worker.process_done",
		"event_id", msg.EventID, "duration_ms", time.Since(start).Milliseconds())
}

func (w *Worker) process(ctx context.Context, msg queue.Message) error {
	// Step 1: load. Not found means the user was deleted mid-flight —
	// acknowledge and stop.
	evt, err := w.store.FindByID(ctx, msg.EventID)
	if apperr.IsNotFound(err) {
		return w.queue.Ack(ctx, msg)
	}
	if err != nil {
		return err
	}

	// Step 2: a non-PROCESSING event is a duplicate delivery or a
	// recovery residue; never re-deliver.
	if evt.Status != scheduledevent.StatusProcessing {
		return w.queue.Ack(ctx, msg)
	}

	webhookURL, _ := evt.DeliveryPayload["webhookUrl"].(string)

	// Step 3: invoke the webhook client.
	deliverErr := w.deliverer.Deliver(ctx, webhookURL, evt.DeliveryPayload, evt.IdempotencyKey)

	switch {
	case deliverErr == nil:
		// Step 4: success.
		if err := evt.MarkCompleted(eventstore.Now()); err != nil {
			return err
		}
		// A concurrent UserDeleted cascade can remove the row between our
		// load and this write; treat that exactly like an optimistic-lock
		// conflict - the terminal update is a no-op, not a failure.
		updateErr := w.store.Update(ctx, evt)
		if updateErr != nil && !apperr.IsOptimisticLockConflict(updateErr) && !apperr.IsNotFound(updateErr) {
			return updateErr
		}
		if updateErr == nil && w.reactors != nil {
			if _, err := w.reactors.SeedNextOccurrence(ctx, evt); err != nil {
				w.logger.ErrorContext(ctx, "worker.seed_next_occurrence_error", "event_id", evt.ID, "err", err)
			}
		}

	default:
		// Steps 5/6: permanent or exhausted-transient failures both
		// terminate the event as FAILED; only the logged reason differs.
		reason := deliverErr.Error()
		if err := evt.MarkFailed(reason); err != nil {
			return err
		}
		if err := w.store.Update(ctx, evt); err != nil && !apperr.IsOptimisticLockConflict(err) && !apperr.IsNotFound(err) {
			return err
		}
	}

	// Step 7: acknowledge only after the store update has been
	// attempted and handled above.
	return w.queue.Ack(ctx, msg)
}

func (w *Worker) healthHandler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/readyz", func(c *gin.Context) {
		w.readyMu.RLock()
		ready := w.ready
		w.readyMu.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	metricsHandler := promhttp.Handler()
	if w.promRegistry != nil {
		metricsHandler = promhttp.HandlerFor(w.promRegistry, promhttp.HandlerOpts{})
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	r.GET("/debug/jobs", func(c *gin.Context) {
		c.JSON(http.StatusOK, w.jobMetrics.Snapshot())
	})
	return r
}
