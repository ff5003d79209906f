// Package scheduledevent holds the central aggregate of the scheduling
// engine: a single occurrence of a notification for one user, modeled
// as a plain struct with sentinel errors for invalid transitions.
package scheduledevent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is one of the four states in the state machine (spec.md §4.2).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// EventType is an extensible closed set; BIRTHDAY is the only member
// today.
type EventType string

const (
	TypeBirthday EventType = "BIRTHDAY"
)

// MaxRetries bounds canRetry(); see Worker note in spec.md §4.2 — the
// current worker never calls canRetry, it is retained for a future
// operator-driven requeue.
const MaxRetries = 3

// Payload is a small open-ended mapping that must JSON round-trip with
// bounded nesting depth (spec.md §3). Neither this package nor the
// reactor that builds it checks the depth; the reactor only ever
// renders a flat map of two string values.
type Payload map[string]any

// Event is the canonical scheduled-notification record.
type Event struct {
	ID                   string
	UserID               string
	EventType            EventType
	Status               Status
	TargetTimestampUTC   time.Time
	TargetTimestampLocal time.Time
	TargetTimezone       string
	ExecutedAt           *time.Time
	FailureReason        *string
	RetryCount           int
	Version              int
	IdempotencyKey       string
	DeliveryPayload      Payload
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// New constructs a PENDING event for the given occurrence. It derives
// the idempotency key deterministically so repeated calls for the same
// (userID, targetTimestampUTC, eventType) always produce the same key
// (spec.md §8 property 5).
func New(userID string, eventType EventType, targetUTC, targetLocal time.Time, zone string, payload Payload) Event {
	now := time.Now().UTC()

	return Event{
		ID:                   uuid.NewString(),
		UserID:               userID,
		EventType:            eventType,
		Status:               StatusPending,
		TargetTimestampUTC:   targetUTC,
		TargetTimestampLocal: targetLocal,
		TargetTimezone:       zone,
		RetryCount:           0,
		Version:              1,
		IdempotencyKey:       IdempotencyKey(userID, targetUTC, eventType),
		DeliveryPayload:      payload,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// IdempotencyKey derives "event-" + first 16 hex chars of
// SHA-256(userId + "-" + ISO-8601(targetTimestampUTC) + "-" + eventType),
// per spec.md §6.
func IdempotencyKey(userID string, targetUTC time.Time, eventType EventType) string {
	material := fmt.Sprintf("%s-%s-%s", userID, targetUTC.UTC().Format(time.RFC3339), eventType)
	sum := sha256.Sum256([]byte(material))
	return "event-" + hex.EncodeToString(sum[:])[:16]
}

// CanRetry reports whether a terminal FAILED event is eligible for a
// future operator-driven requeue. Nothing in this repository calls it
// today; see spec.md §4.2 and §9 Open Questions.
func (e Event) CanRetry() bool {
	return e.Status == StatusFailed && e.RetryCount < MaxRetries
}
