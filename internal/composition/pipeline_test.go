// Package composition wires the real collaborators (bus, reactors,
// scheduler, worker, in-memory store) together without a database or
// Redis, to exercise the full PENDING -> PROCESSING -> COMPLETED path
// as one unit instead of only through each package's own fakes.
package composition

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pradok/events-scheduler-sub005/internal/bus"
	"github.com/pradok/events-scheduler-sub005/internal/domain/scheduledevent"
	"github.com/pradok/events-scheduler-sub005/internal/domain/userinfo"
	"github.com/pradok/events-scheduler-sub005/internal/eventstore"
	"github.com/pradok/events-scheduler-sub005/internal/queue"
	"github.com/pradok/events-scheduler-sub005/internal/reactors"
	"github.com/pradok/events-scheduler-sub005/internal/repo/memory"
	"github.com/pradok/events-scheduler-sub005/internal/scheduler"
	"github.com/pradok/events-scheduler-sub005/internal/timezone"
	"github.com/pradok/events-scheduler-sub005/internal/worker"
)

// inMemoryQueue is a minimal queue.Queue backed by a slice; it has no
// visibility-timeout or dead-letter behavior, which this test doesn't
// exercise.
type inMemoryQueue struct {
	mu      sync.Mutex
	pending []queue.Message
	acked   []string
	nacked  []string
	seq     int
}

func (q *inMemoryQueue) Enqueue(ctx context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.pending = append(q.pending, queue.Message{ID: eventID, EventID: eventID})
	return nil
}

func (q *inMemoryQueue) Receive(ctx context.Context, max int, blockFor time.Duration) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	if max > len(q.pending) {
		max = len(q.pending)
	}
	out := q.pending[:max]
	q.pending = q.pending[max:]
	return out, nil
}

func (q *inMemoryQueue) Ack(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, msg.EventID)
	return nil
}

func (q *inMemoryQueue) Nack(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacked = append(q.nacked, msg.EventID)
	return nil
}

var _ queue.Queue = (*inMemoryQueue)(nil)

type okDeliverer struct{}

func (okDeliverer) Deliver(ctx context.Context, url string, payload map[string]any, idempotencyKey string) error {
	return nil
}

// TestFullPipeline_PendingThroughCompletedSeedsNextOccurrence drives a
// UserCreated event through scheduling, claiming, delivery, and
// next-occurrence seeding, using a fixed "now" and a zero-offset
// delivery-time override so the scheduled birthday is due immediately.
func TestFullPipeline_PendingThroughCompletedSeedsNextOccurrence(t *testing.T) {
	fixedNow := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	origNow := eventstore.Now
	eventstore.Now = func() time.Time { return fixedNow }
	defer func() { eventstore.Now = origNow }()

	store := memory.NewScheduledEventsRepo()
	override := timezone.Override{Active: true, Offset: 0}
	logger := slog.New(slog.DiscardHandler)

	r := reactors.New(store, override, "https://collaborator.example/hooks/notify", logger)
	eventBus := bus.New(logger)
	r.Register(eventBus)

	ctx := context.Background()
	userID := "11111111-1111-1111-1111-111111111111"
	dob := time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC)

	eventBus.Publish(ctx, string(userinfo.EventUserCreated), userinfo.UserCreated{
		OccurredAt:  fixedNow,
		AggregateID: userID,
		UserID:      userID,
		FirstName:   "Ada",
		LastName:    "Lovelace",
		DateOfBirth: dob,
		Timezone:    "UTC",
	})

	pending, err := store.FindByUserID(ctx, userID)
	if err != nil {
		t.Fatalf("FindByUserID: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("want 1 scheduled event after UserCreated, got %d", len(pending))
	}
	if pending[0].Status != scheduledevent.StatusPending {
		t.Fatalf("want PENDING, got %s", pending[0].Status)
	}
	firstEventID := pending[0].ID

	q := &inMemoryQueue{}
	sched := scheduler.New(scheduler.Config{TickInterval: time.Minute, BatchLimit: 10}, store, q, logger)
	sched.Tick(ctx)

	claimed, err := store.FindByID(ctx, firstEventID)
	if err != nil {
		t.Fatalf("FindByID after tick: %v", err)
	}
	if claimed.Status != scheduledevent.StatusProcessing {
		t.Fatalf("want PROCESSING after claim, got %s", claimed.Status)
	}

	msgs, err := q.Receive(ctx, 1, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("want 1 queued message, got %d", len(msgs))
	}

	w := worker.New(worker.Config{Concurrency: 1}, store, q, okDeliverer{}, r, nil, logger)
	w.Process(ctx, 1, msgs[0])

	completed, err := store.FindByID(ctx, firstEventID)
	if err != nil {
		t.Fatalf("FindByID after process: %v", err)
	}
	if completed.Status != scheduledevent.StatusCompleted {
		t.Fatalf("want COMPLETED, got %s", completed.Status)
	}
	if completed.ExecutedAt == nil {
		t.Fatal("want ExecutedAt set on completion")
	}

	if len(q.acked) != 1 || q.acked[0] != firstEventID {
		t.Fatalf("want event acked exactly once, got %v", q.acked)
	}
	if len(q.nacked) != 0 {
		t.Fatalf("want no nacks, got %v", q.nacked)
	}

	all, err := store.FindByUserID(ctx, userID)
	if err != nil {
		t.Fatalf("FindByUserID after process: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("want the completed event plus one freshly seeded PENDING event, got %d", len(all))
	}

	var nextPending *scheduledevent.Event
	for i := range all {
		if all[i].ID != firstEventID {
			nextPending = &all[i]
		}
	}
	if nextPending == nil {
		t.Fatal("want a second event distinct from the completed one")
	}
	if nextPending.Status != scheduledevent.StatusPending {
		t.Fatalf("want seeded next occurrence to be PENDING, got %s", nextPending.Status)
	}
	if !nextPending.TargetTimestampUTC.After(completed.TargetTimestampUTC) {
		t.Fatalf("want next occurrence after the completed one: next=%v completed=%v",
			nextPending.TargetTimestampUTC, completed.TargetTimestampUTC)
	}
}

// TestFullPipeline_UserDeletedCascadesAwayPendingWork confirms a
// UserDeleted event removes every scheduled event for that user,
// including ones not yet claimed.
func TestFullPipeline_UserDeletedCascadesAwayPendingWork(t *testing.T) {
	fixedNow := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	origNow := eventstore.Now
	eventstore.Now = func() time.Time { return fixedNow }
	defer func() { eventstore.Now = origNow }()

	store := memory.NewScheduledEventsRepo()
	override := timezone.Override{Active: true, Offset: time.Hour}
	logger := slog.New(slog.DiscardHandler)

	r := reactors.New(store, override, "https://collaborator.example/hooks/notify", logger)
	eventBus := bus.New(logger)
	r.Register(eventBus)

	ctx := context.Background()
	userID := "22222222-2222-2222-2222-222222222222"

	eventBus.Publish(ctx, string(userinfo.EventUserCreated), userinfo.UserCreated{
		OccurredAt:  fixedNow,
		AggregateID: userID,
		UserID:      userID,
		FirstName:   "Grace",
		LastName:    "Hopper",
		DateOfBirth: time.Date(1985, 12, 9, 0, 0, 0, 0, time.UTC),
		Timezone:    "UTC",
	})

	before, _ := store.FindByUserID(ctx, userID)
	if len(before) != 1 {
		t.Fatalf("want 1 scheduled event before deletion, got %d", len(before))
	}

	eventBus.Publish(ctx, string(userinfo.EventUserDeleted), userinfo.UserDeleted{
		OccurredAt:  fixedNow,
		AggregateID: userID,
		UserID:      userID,
	})

	after, _ := store.FindByUserID(ctx, userID)
	if len(after) != 0 {
		t.Fatalf("want 0 scheduled events after deletion, got %d", len(after))
	}
}
