package scheduler

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

func TestTick_ClaimsAndEnqueuesDueEvents(t *testing.T) {
	store := memory.NewScheduledEventsRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	due := scheduledevent.New("user-1", scheduledevent.TypeBirthday, now.Add(-time.Minute), now.Add(-time.Minute), "UTC", nil)
	_ = store.Create(ctx, due)

	q := &fakeQueue{failFor: map[string]bool{}}
	s := New(Config{TickInterval: time.Minute, BatchLimit: 10}, store, q, nil)

	s.Tick(ctx)

	if len(q.enqueued) != 1 || q.enqueued[0] != due.ID {
		t.Fatalf("expected the due event to be enqueued, got %v", q.enqueued)
	}

	stored, _ := store.FindByID(ctx, due.ID)
	if stored.Status != scheduledevent.StatusProcessing {
		t.Fatalf("expected claimed event to be PROCESSING, got %s", stored.Status)
	}
}

func TestTick_EnqueueFailureDoesNotRollBackClaim(t *testing.T) {
	store := memory.NewScheduledEventsRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	due := scheduledevent.New("user-1", scheduledevent.TypeBirthday, now.Add(-time.Minute), now.Add(-time.Minute), "UTC", nil)
	_ = store.Create(ctx, due)

	q := &fakeQueue{failFor: map[string]bool{due.ID: true}}
	s := New(Config{TickInterval: time.Minute, BatchLimit: 10}, store, q, nil)

	s.Tick(ctx)

	if len(q.enqueued) != 0 {
		t.Fatalf("expected no successful enqueues, got %v", q.enqueued)
	}

	stored, _ := store.FindByID(ctx, due.ID)
	if stored.Status != scheduledevent.StatusProcessing {
		t.Fatalf("expected the claim to survive an enqueue failure, got status %s", stored.Status)
	}
}
