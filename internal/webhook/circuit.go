// ProtectedClient wraps a Deliverer with a closed/open/half_open circuit
// breaker: sustained outages fail fast instead of burning the full
// per-call retry budget on every delivery.
package webhook

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("webhook circuit breaker open")

type CircuitConfig struct {
	Timeout          time.Duration // hard ceiling on one Deliver call, including its internal retries
	FailureThreshold int           // consecutive failures to open the circuit
	Cooldown         time.Duration // time to stay open before trying half-open
	HalfOpenMaxCalls int           // trial calls allowed while half-open
}

type ProtectedClient struct {
	inner Deliverer
	cfg   CircuitConfig
	mu    sync.Mutex

	state string // "closed" | "open" | "half_open"

	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func NewProtectedClient(inner Deliverer, cfg CircuitConfig) *ProtectedClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &ProtectedClient{inner: inner, cfg: cfg, state: "closed"}
}

var _ Deliverer = (*ProtectedClient)(nil)

func (c *ProtectedClient) Deliver(ctx context.Context, url string, payload map[string]any, idempotencyKey string) error {
	if !c.allowRequest() {
		return ErrCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	err := c.inner.Deliver(callCtx, url, payload, idempotencyKey)
	c.afterRequest(err)
	return err
}

func (c *ProtectedClient) allowRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case "closed":
		return true
	case "open":
		if time.Since(c.openedAt) >= c.cfg.Cooldown {
			c.state = "half_open"
			c.halfOpenInFlight = 0
			return true
		}
		return false
	case "half_open":
		if c.halfOpenInFlight >= c.cfg.HalfOpenMaxCalls {
			return false
		}
		c.halfOpenInFlight++
		return true
	default:
		return true
	}
}

func (c *ProtectedClient) afterRequest(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == "half_open" && c.halfOpenInFlight > 0 {
		c.halfOpenInFlight--
	}

	if err == nil {
		c.consecutiveFailures = 0
		c.state = "closed"
		return
	}

	c.consecutiveFailures++

	if c.state == "half_open" {
		c.state = "open"
		c.openedAt = time.Now()
		return
	}

	if c.consecutiveFailures >= c.cfg.FailureThreshold {
		c.state = "open"
		c.openedAt = time.Now()
	}
}
