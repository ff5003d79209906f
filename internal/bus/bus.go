// Package bus is the process-internal domain-event bus connecting the
// User context's events to the scheduling core's reactors (spec.md
// §2, §4.4). Its resilience posture (catch, log, never abort a sibling
// handler) mirrors the webhook client's circuit breaker: a failure in
// one consumer must never take down the others.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Handler reacts to a published event. A returned error is logged with
// structured context and never propagated to other handlers or to the
// publisher.
type Handler func(ctx context.Context, event any) error

// Bus is a process-local map from event type to an ordered list of
// handlers. The handler registry is written only at startup and read
// thereafter (spec.md §5), but Subscribe/Publish are still guarded by a
// mutex so tests can register handlers lazily without a data race.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// New constructs an empty bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe appends handler to the ordered list for eventType.
// Idempotent-append: calling it twice registers the handler twice, by
// design — callers are responsible for not double-registering.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish invokes every handler registered for eventType sequentially,
// in registration order (spec.md §4.4, §5(c)). A handler error is
// caught, logged, and the loop continues — the bus is resilient by
// design and never aborts remaining handlers.
func (b *Bus) Publish(ctx context.Context, eventType string, event any) {
	b.mu.RLock()
	// Copy the slice header under the lock so a concurrent Subscribe
	// can't race with the range below; the Handler values themselves
	// are never mutated after Subscribe.
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	for i, h := range handlers {
		if err := safeInvoke(h, ctx, event); err != nil {
			b.logger.ErrorContext(ctx, "bus.handler_error",
				"event_type", eventType,
				"handler_index", i,
				"err", err,
			)
		}
	}
}

// safeInvoke recovers from a panicking handler so one broken reactor
// can never bring down the publish loop or sibling handlers.
func safeInvoke(h Handler, ctx context.Context, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return h(ctx, event)
}

type panicError struct{ v any }

func (p panicError) Error() string {
	return "handler panic recovered"
}
