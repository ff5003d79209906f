// Package redisqueue implements queue.Queue on top of a Redis stream
// with a consumer group, using XADD/XREADGROUP/XACK/XAUTOCLAIM against
// the same *redis.Client used elsewhere for readiness checks.
package redisqueue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pradok/events-scheduler-sub005/internal/queue"
)

const eventIDField = "event_id"

// Config controls the stream name, consumer group, visibility timeout
// (the minimum idle time before XAUTOCLAIM will steal a pending entry
// from a dead consumer) and the dead-letter ceiling.
type Config struct {
	Stream            string
	DeadLetterStream  string
	Group             string
	Consumer          string
	VisibilityTimeout time.Duration
	MaxDeliveries     int64
}

func DefaultConfig(consumer string) Config {
	return Config{
		Stream:            "events:work",
		DeadLetterStream:  "events:dead",
		Group:             "workers",
		Consumer:          consumer,
		VisibilityTimeout: 30 * time.Second,
		MaxDeliveries:     5,
	}
}

type Queue struct {
	rdb *redis.Client
	cfg Config
}

func New(rdb *redis.Client, cfg Config) *Queue {
	return &Queue{rdb: rdb, cfg: cfg}
}

var _ queue.Queue = (*Queue)(nil)

// EnsureGroup creates the consumer group (and backing stream, via
// MKSTREAM) if it doesn't already exist. Called once at startup by
// both the scheduler (producer) and the worker (consumer).
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func (q *Queue) Enqueue(ctx context.Context, eventID string) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{eventIDField: eventID},
	}).Err()
}

// Receive first reclaims stream entries that have been pending longer
// than VisibilityTimeout from any consumer (including a crashed one),
// then long-polls for new entries up to max, blocking up to blockFor.
func (q *Queue) Receive(ctx context.Context, max int, blockFor time.Duration) ([]queue.Message, error) {
	reclaimed, err := q.reclaimStale(ctx, max)
	if err != nil {
		return nil, err
	}
	if len(reclaimed) >= max {
		return reclaimed[:max], nil
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    int64(max - len(reclaimed)),
		Block:    blockFor,
	}).Result()

	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := reclaimed
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			if msg, ok := toMessage(entry); ok {
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

func (q *Queue) reclaimStale(ctx context.Context, max int) ([]queue.Message, error) {
	entries, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.VisibilityTimeout,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]queue.Message, 0, len(entries))
	for _, entry := range entries {
		if msg, ok := toMessage(entry); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func toMessage(entry redis.XMessage) (queue.Message, bool) {
	raw, ok := entry.Values[eventIDField]
	if !ok {
		return queue.Message{}, false
	}
	eventID, ok := raw.(string)
	if !ok {
		return queue.Message{}, false
	}
	return queue.Message{ID: entry.ID, EventID: eventID}, true
}

func (q *Queue) Ack(ctx context.Context, msg queue.Message) error {
	return q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID).Err()
}

// Nack checks the entry's delivery count via XPENDING; once it
// reaches MaxDeliveries the entry is moved to the dead-letter stream
// and acked off the work stream (so XAUTOCLAIM stops returning it).
// Otherwise it is simply left pending — the next Receive's
// reclaimStale step will redeliver it once VisibilityTimeout elapses.
func (q *Queue) Nack(ctx context.Context, msg queue.Message) error {
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Start:  msg.ID,
		End:    msg.ID,
		Count:  1,
	}).Result()
	if err != nil {
		return err
	}

	deliveries := int64(1)
	if len(pending) > 0 {
		deliveries = pending[0].RetryCount
	}

	if deliveries < q.cfg.MaxDeliveries {
		return nil
	}

	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.DeadLetterStream,
		Values: map[string]any{eventIDField: msg.EventID},
	}).Err(); err != nil {
		return err
	}
	return q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID).Err()
}
