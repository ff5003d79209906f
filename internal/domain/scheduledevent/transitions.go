package scheduledevent

import (
	"fmt"
	"time"

	"github.com/pradok/events-scheduler-sub005/internal/apperr"
)

// transition bumps Version and UpdatedAt; every successful mutation in
// this package goes through it so invariant 5 (version strictly
// increases across successful updates) always holds.
func (e *Event) transition(to Status, mutate func()) error {
	if !allowed(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s (event %s)", apperr.ErrInvalidStateTransition, e.Status, to, e.ID)
	}

	mutate()
	e.Status = to
	e.Version++
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// allowed encodes the state table in spec.md §4.2. Reschedule is
// modeled as PENDING -> PENDING, a self-transition that still bumps
// Version.
func allowed(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusPending
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Claim transitions PENDING -> PROCESSING. Used by the event store's
// claimReadyEvents inside the same transaction that acquires the row
// lock; kept here so the in-memory store can reuse identical semantics.
func (e *Event) Claim() error {
	return e.transition(StatusProcessing, func() {})
}

// Reschedule updates the target timestamps/timezone of a PENDING event
// in place (spec.md §4.2, §4.4). It is a no-op transition target
// (PENDING -> PENDING) so invariant 2 ("only PENDING events may be
// rescheduled") is enforced by the same table as every other move.
func (e *Event) Reschedule(newUTC, newLocal time.Time, newZone string) error {
	return e.transition(StatusPending, func() {
		e.TargetTimestampUTC = newUTC
		e.TargetTimestampLocal = newLocal
		e.TargetTimezone = newZone
	})
}

// MarkCompleted transitions PROCESSING -> COMPLETED.
func (e *Event) MarkCompleted(executedAt time.Time) error {
	return e.transition(StatusCompleted, func() {
		t := executedAt.UTC()
		e.ExecutedAt = &t
	})
}

// MarkFailed transitions PROCESSING -> FAILED, recording the reason and
// incrementing RetryCount (spec.md §3: "monotone count of delivery
// failures for this occurrence").
func (e *Event) MarkFailed(reason string) error {
	return e.transition(StatusFailed, func() {
		now := time.Now().UTC()
		e.ExecutedAt = &now
		e.FailureReason = &reason
		e.RetryCount++
	})
}
