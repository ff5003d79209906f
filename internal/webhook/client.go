// Package webhook is the outbound delivery client (spec.md §4.7),
// using a fixed 1s/2s/4s retry schedule expressed with
// cenkalti/backoff/v5 instead of a hand-rolled loop.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/pradok/events-scheduler-sub005/internal/apperr"
)

// Deliverer is satisfied by Client and by ProtectedClient, so the
// worker can depend on either without caring which.
type Deliverer interface {
	Deliver(ctx context.Context, url string, payload map[string]any, idempotencyKey string) error
}

// Client issues the raw HTTP delivery with a fixed retry budget: up to
// 3 additional attempts (1s, 2s, 4s) on transport errors, timeouts,
// 5xx and 429; any other 4xx fails permanently with no retry.
type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

var _ Deliverer = (*Client)(nil)

// fixedSchedule hands backoff.Retry the exact 1s/2s/4s sequence, then
// signals Stop — no jitter, no cap, no open-ended doubling.
type fixedSchedule struct {
	delays []time.Duration
	next   int
}

func (f *fixedSchedule) NextBackOff() time.Duration {
	if f.next >= len(f.delays) {
		return backoff.Stop
	}
	d := f.delays[f.next]
	f.next++
	return d
}

func newFixedSchedule() *fixedSchedule {
	return &fixedSchedule{delays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}}
}

func (c *Client) Deliver(ctx context.Context, url string, payload map[string]any, idempotencyKey string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if reqErr != nil {
			return struct{}{}, backoff.Permanent(reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", idempotencyKey)

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			// Transport error or timeout: transient, retry.
			return struct{}{}, doErr
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return struct{}{}, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("webhook transient response: status=%d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return struct{}{}, backoff.Permanent(&apperr.PermanentDeliveryError{StatusCode: resp.StatusCode})
		default:
			return struct{}{}, fmt.Errorf("webhook unexpected response: status=%d", resp.StatusCode)
		}
	}, backoff.WithBackOff(newFixedSchedule()))

	if err == nil {
		return nil
	}

	var permanent *apperr.PermanentDeliveryError
	if errors.As(err, &permanent) {
		return permanent
	}
	return &apperr.InfrastructureError{Op: "webhook.deliver", Err: err}
}
