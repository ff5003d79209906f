// Package queue defines the work queue port sitting between the
// scheduler and the worker (spec.md §4.9): a visibility-timeout queue
// with a dead-letter destination and long-poll receive.
// internal/queue/redisqueue implements this interface over a Redis
// stream; internal/queue/redisclient wraps the same *redis.Client for
// readiness pings.
package queue

import (
	"context"
	"time"
)

// Message is a queued unit of work: an event ID to reload and
// process. The payload is intentionally thin — the worker always
// re-reads the event from the store before acting on it, so the queue
// never carries stale state.
type Message struct {
	ID      string // queue-assigned delivery ID, used to Ack/Nack
	EventID string
}

// Queue is the work queue port. Implementations must guarantee that a
// received, un-acked message becomes visible to another receiver after
// its visibility timeout elapses, and that a message Nacked past its
// retry ceiling is moved to a dead-letter destination rather than
// redelivered forever.
type Queue interface {
	// Enqueue publishes eventID for delivery.
	Enqueue(ctx context.Context, eventID string) error

	// Receive long-polls for up to max messages, blocking up to
	// blockFor when nothing is available.
	Receive(ctx context.Context, max int, blockFor time.Duration) ([]Message, error)

	// Ack confirms successful processing of msg.
	Ack(ctx context.Context, msg Message) error

	// Nack releases msg back to the queue (or to the dead-letter
	// destination, if the implementation judges it undeliverable) for
	// redelivery after the visibility timeout.
	Nack(ctx context.Context, msg Message) error
}
