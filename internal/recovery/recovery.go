// Package recovery implements the startup backlog drain (spec.md
// §4.8): a scan-and-log housekeeping pass run once before the
// scheduler's first tick, to enqueue events that missed their delivery
// time while no process was running.
package recovery

import (
	"context"
	"log/slog"

	"github.com/pradok/events-scheduler-sub005/internal/eventstore"
	"github.com/pradok/events-scheduler-sub005/internal/queue"
)

const DefaultBatchLimit = 1000

type Recovery struct {
	store      eventstore.Store
	queue      queue.Queue
	batchLimit int
	logger     *slog.Logger
}

func New(store eventstore.Store, q queue.Queue, batchLimit int, logger *slog.Logger) *Recovery {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recovery{store: store, queue: q, batchLimit: batchLimit, logger: logger}
}

// Run executes the five steps of spec.md §4.8 exactly once. It never
// claims or mutates the store — a missed event is enqueued, not
// transitioned, so the procedure is safe to re-run and idempotent
// alongside the scheduler's normal claim path.
func (r *Recovery) Run(ctx context.Context) {
	missed, err := r.store.FindMissedEvents(ctx, r.batchLimit)
	if err != nil {
		r.logger.ErrorContext(ctx, "recovery.scan_error", "err", err)
		return
	}

	if len(missed) == 0 {
		r.logger.InfoContext(ctx, "recovery.no_missed_events")
		return
	}

	eventsQueued, eventsFailed := 0, 0
	for _, evt := range missed {
		if err := r.queue.Enqueue(ctx, evt.ID); err != nil {
			eventsFailed++
			r.logger.ErrorContext(ctx, "recovery.enqueue_error", "event_id", evt.ID, "err", err)
			continue
		}
		eventsQueued++
	}

	r.logger.InfoContext(ctx, "recovery.summary",
		"oldest_missed", missed[0].TargetTimestampUTC,
		"newest_missed", missed[len(missed)-1].TargetTimestampUTC,
		"missed_count", len(missed),
		"events_queued", eventsQueued,
		"events_failed", eventsFailed,
	)
}
