package reactors

import (
	"context"
	"testing"
	"time"

	"github.com/pradok/events-scheduler-sub005/internal/eventstore"
	"github.com/pradok/events-scheduler-sub005/internal/repo/memory"
	"github.com/pradok/events-scheduler-sub005/internal/timezone"
)

func fixedNow(t time.Time) func() {
	original := eventstore.Now
	eventstore.Now = func() time.Time { return t }
	return func() { eventstore.Now = original }
}

func TestScheduleBirthday_IsIdempotent(t *testing.T) {
	reference := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	defer fixedNow(reference)()

	store := memory.NewScheduledEventsRepo()
	r := New(store, timezone.Override{}, "https://example.invalid/hooks", nil)
	ctx := context.Background()

	dob := time.Date(1992, 6, 15, 0, 0, 0, 0, time.UTC)

	first, err := r.ScheduleBirthday(ctx, "user-1", "Ada", "Lovelace", dob, "America/New_York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := r.ScheduleBirthday(ctx, "user-1", "Ada", "Lovelace", dob, "America/New_York")
	if err != nil {
		t.Fatalf("unexpected error on repeat call: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected the same event to be returned, got %s and %s", first.ID, second.ID)
	}

	all, _ := store.FindByUserID(ctx, "user-1")
	if len(all) != 1 {
		t.Fatalf("expected exactly one persisted event, got %d", len(all))
	}
}

func TestRescheduleForNewBirthday_SkipsNonPendingEvents(t *testing.T) {
	reference := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	defer fixedNow(reference)()

	store := memory.NewScheduledEventsRepo()
	r := New(store, timezone.Override{}, "https://example.invalid/hooks", nil)
	ctx := context.Background()

	dob := time.Date(1992, 6, 15, 0, 0, 0, 0, time.UTC)
	evt, err := r.ScheduleBirthday(ctx, "user-1", "Ada", "Lovelace", dob, "America/New_York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newDOB := time.Date(1992, 7, 4, 0, 0, 0, 0, time.UTC)
	result, err := r.RescheduleForNewBirthday(ctx, "user-1", newDOB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.RescheduledCount != 1 || result.SkippedCount != 0 {
		t.Fatalf("expected one reschedule and zero skips, got %+v", result)
	}

	updated, _ := store.FindByID(ctx, evt.ID)
	if updated.TargetTimestampUTC.Month() != time.July {
		t.Fatalf("expected event rescheduled to July, got %s", updated.TargetTimestampUTC)
	}

	// Once claimed, the event is no longer PENDING: a further reschedule
	// leaves it alone and reports it as skipped.
	if err := updated.Claim(); err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	if err := store.Update(ctx, updated); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	result, err = r.RescheduleForNewBirthday(ctx, "user-1", dob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RescheduledCount != 0 || result.SkippedCount != 1 || len(result.SkippedEventIDs) != 1 || result.SkippedEventIDs[0] != evt.ID {
		t.Fatalf("expected the claimed event to be skipped, got %+v", result)
	}
}

func TestHandleUserDeleted_IgnoresUnrelatedEventType(t *testing.T) {
	reference := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	defer fixedNow(reference)()

	store := memory.NewScheduledEventsRepo()
	r := New(store, timezone.Override{}, "https://example.invalid/hooks", nil)
	ctx := context.Background()

	dob := time.Date(1992, 6, 15, 0, 0, 0, 0, time.UTC)
	if _, err := r.ScheduleBirthday(ctx, "user-1", "Ada", "Lovelace", dob, "America/New_York"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.handleUserDeleted(ctx, struct{}{}); err != nil {
		t.Fatalf("unhandled event type must be a no-op, got err: %v", err)
	}

	all, _ := store.FindByUserID(ctx, "user-1")
	if len(all) != 1 {
		t.Fatalf("no-op event should not have deleted anything, got %d remaining", len(all))
	}
}
