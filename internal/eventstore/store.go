// Package eventstore defines the durable-store port the reactors,
// scheduler, recovery procedure and worker all depend on (spec.md
// §4.3). internal/repo/postgres and internal/repo/memory provide the
// two implementations.
package eventstore

import (
	"context"
	"time"

	"github.com/pradok/events-scheduler-sub005/internal/domain/scheduledevent"
)

// Store is the event store's public contract (spec.md §4.3).
type Store interface {
	// Create durably inserts event. The Postgres adapter rejects a
	// duplicate IdempotencyKey with the column's unique-constraint error;
	// the in-memory adapter does not check it. Reactors.ScheduleBirthday
	// looks the key up first and returns the existing event instead of
	// creating a second one.
	Create(ctx context.Context, event scheduledevent.Event) error

	FindByID(ctx context.Context, id string) (scheduledevent.Event, error)
	FindByUserID(ctx context.Context, userID string) ([]scheduledevent.Event, error)
	FindByIdempotencyKey(ctx context.Context, key string) (scheduledevent.Event, error)

	// Update is conditional on the stored row's version being
	// event.Version-1 (the Event transition methods bump Version before
	// Update is called); on mismatch it returns
	// apperr.ErrOptimisticLockConflict and mutates nothing.
	Update(ctx context.Context, event scheduledevent.Event) error

	// ClaimReadyEvents atomically selects up to limit PENDING rows whose
	// TargetTimestampUTC <= now, transitions each to PROCESSING with
	// Version+1, and returns the mutated entities ordered by
	// TargetTimestampUTC ascending. Concurrent callers never observe the
	// same row (spec.md §4.3, §8 properties 3-4).
	ClaimReadyEvents(ctx context.Context, limit int) ([]scheduledevent.Event, error)

	// FindMissedEvents is a read-only scan for PENDING rows whose
	// TargetTimestampUTC < now, ordered ascending, bounded by limit. Used
	// only by the recovery procedure; never mutates.
	FindMissedEvents(ctx context.Context, limit int) ([]scheduledevent.Event, error)

	// DeleteByUserID unconditionally removes every event owned by userID
	// (cascade on UserDeleted).
	DeleteByUserID(ctx context.Context, userID string) error
}

// Now is overridable in tests; production code always uses time.Now.
var Now = time.Now
