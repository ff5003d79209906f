// Package memory provides an in-memory eventstore.Store (map plus
// mutex, sort.Slice for stable ordering). Used by unit tests that need
// the real claim/update semantics without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pradok/events-scheduler-sub005/internal/apperr"
	"github.com/pradok/events-scheduler-sub005/internal/domain/scheduledevent"
	"github.com/pradok/events-scheduler-sub005/internal/eventstore"
)

type ScheduledEventsRepo struct {
	mu    sync.Mutex
	items map[string]scheduledevent.Event
}

func NewScheduledEventsRepo() *ScheduledEventsRepo {
	return &ScheduledEventsRepo{
		items: make(map[string]scheduledevent.Event),
	}
}

var _ eventstore.Store = (*ScheduledEventsRepo)(nil)

func (r *ScheduledEventsRepo) Create(ctx context.Context, e scheduledevent.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[e.ID] = e
	return nil
}

func (r *ScheduledEventsRepo) FindByID(ctx context.Context, id string) (scheduledevent.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return scheduledevent.Event{}, apperr.ErrNotFound
	}
	return e, nil
}

func (r *ScheduledEventsRepo) FindByUserID(ctx context.Context, userID string) ([]scheduledevent.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]scheduledevent.Event, 0)
	for _, e := range r.items {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetTimestampUTC.Before(out[j].TargetTimestampUTC)
	})
	return out, nil
}

func (r *ScheduledEventsRepo) FindByIdempotencyKey(ctx context.Context, key string) (scheduledevent.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.items {
		if e.IdempotencyKey == key {
			return e, nil
		}
	}
	return scheduledevent.Event{}, apperr.ErrNotFound
}

// Update enforces the same optimistic-lock contract as the Postgres
// adapter: e.Version must be exactly one more than the stored row's
// version, or the write is rejected and nothing changes.
func (r *ScheduledEventsRepo) Update(ctx context.Context, e scheduledevent.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.items[e.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	if existing.Version != e.Version-1 {
		return apperr.ErrOptimisticLockConflict
	}
	r.items[e.ID] = e
	return nil
}

// ClaimReadyEvents mirrors the Postgres CTE: selects up to limit
// PENDING rows due now, ordered by TargetTimestampUTC ascending,
// transitions each to PROCESSING under the same lock held for the
// whole operation so two concurrent callers never claim the same row
// (spec.md §8 properties 3-4).
func (r *ScheduledEventsRepo) ClaimReadyEvents(ctx context.Context, limit int) ([]scheduledevent.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := eventstore.Now()

	candidates := make([]scheduledevent.Event, 0)
	for _, e := range r.items {
		if e.Status == scheduledevent.StatusPending && !e.TargetTimestampUTC.After(now) {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].TargetTimestampUTC.Before(candidates[j].TargetTimestampUTC)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]scheduledevent.Event, 0, len(candidates))
	for _, e := range candidates {
		if err := e.Claim(); err != nil {
			continue
		}
		r.items[e.ID] = e
		claimed = append(claimed, e)
	}
	return claimed, nil
}

func (r *ScheduledEventsRepo) FindMissedEvents(ctx context.Context, limit int) ([]scheduledevent.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := eventstore.Now()

	out := make([]scheduledevent.Event, 0)
	for _, e := range r.items {
		if e.Status == scheduledevent.StatusPending && e.TargetTimestampUTC.Before(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetTimestampUTC.Before(out[j].TargetTimestampUTC)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ScheduledEventsRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.items {
		if e.UserID == userID {
			delete(r.items, id)
		}
	}
	return nil
}
