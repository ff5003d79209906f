package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pradok/events-scheduler-sub005/internal/domain/scheduledevent"
	"github.com/pradok/events-scheduler-sub005/internal/queue"
	"github.com/pradok/events-scheduler-sub005/internal/repo/memory"
)

type fakeQueue struct {
	enqueued []string
	failFor  map[string]bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, eventID string) error {
	if q.failFor[eventID] {
		return errors.New("enqueue boom")
	}
	q.enqueued = append(q.enqueued, eventID)
	return nil
}
func (q *fakeQueue) Receive(ctx context.Context, max int, blockFor time.Duration) ([]queue.Message, error) {
	return nil, nil
}
func (q *fakeQueue) Ack(ctx context.Context, msg queue.Message) error  { return nil }
func (q *fakeQueue) Nack(ctx context.Context, msg queue.Message) error { return nil }

func TestRun_EnqueuesMissedEventsWithoutMutatingStatus(t *testing.T) {
	store := memory.NewScheduledEventsRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	missed := scheduledevent.New("user-1", scheduledevent.TypeBirthday, now.Add(-time.Hour), now.Add(-time.Hour), "UTC", nil)
	_ = store.Create(ctx, missed)

	q := &fakeQueue{failFor: map[string]bool{}}
	r := New(store, q, 100, nil)
	r.Run(ctx)

	if len(q.enqueued) != 1 || q.enqueued[0] != missed.ID {
		t.Fatalf("expected the missed event to be enqueued, got %v", q.enqueued)
	}

	stored, _ := store.FindByID(ctx, missed.ID)
	if stored.Status != scheduledevent.StatusPending {
		t.Fatalf("recovery must never mutate status, got %s", stored.Status)
	}
}

func TestRun_NoMissedEventsIsANoop(t *testing.T) {
	store := memory.NewScheduledEventsRepo()
	q := &fakeQueue{failFor: map[string]bool{}}
	r := New(store, q, 100, nil)

	r.Run(context.Background())

	if len(q.enqueued) != 0 {
		t.Fatalf("expected nothing enqueued, got %v", q.enqueued)
	}
}

func TestRun_EnqueueFailureIsTrackedButDoesNotAbortTheRest(t *testing.T) {
	store := memory.NewScheduledEventsRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	failing := scheduledevent.New("user-1", scheduledevent.TypeBirthday, now.Add(-2*time.Hour), now.Add(-2*time.Hour), "UTC", nil)
	ok := scheduledevent.New("user-2", scheduledevent.TypeBirthday, now.Add(-time.Hour), now.Add(-time.Hour), "UTC", nil)
	_ = store.Create(ctx, failing)
	_ = store.Create(ctx, ok)

	q := &fakeQueue{failFor: map[string]bool{failing.ID: true}}
	r := New(store, q, 100, nil)
	r.Run(ctx)

	if len(q.enqueued) != 1 || q.enqueued[0] != ok.ID {
		t.Fatalf("expected only the non-failing event enqueued, got %v", q.enqueued)
	}
}
