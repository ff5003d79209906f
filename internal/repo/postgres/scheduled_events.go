// Package postgres holds the durable adapters for the scheduling core.
// ScheduledEventsRepo is the eventstore.Store implementation, directly
// grounded on jobs_repo.go's ClaimNext: the same CTE-wrapped
// "SELECT ... FOR UPDATE SKIP LOCKED" claim pattern, generalized from a
// single row to a batch and from a hand-off status to the state
// machine in internal/domain/scheduledevent.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pradok/events-scheduler-sub005/internal/apperr"
	"github.com/pradok/events-scheduler-sub005/internal/domain/scheduledevent"
	"github.com/pradok/events-scheduler-sub005/internal/observability"
)

// ScheduledEventsRepo persists scheduledevent.Event rows to Postgres.
type ScheduledEventsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewScheduledEventsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ScheduledEventsRepo {
	return &ScheduledEventsRepo{pool: pool, prom: prom}
}

func (r *ScheduledEventsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *ScheduledEventsRepo) Create(ctx context.Context, e scheduledevent.Event) error {
	op := "scheduled_events.create"

	payload, err := json.Marshal(e.DeliveryPayload)
	if err != nil {
		return err
	}

	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO scheduled_events(
				id, user_id, event_type, status,
				target_timestamp_utc, target_timestamp_local, target_timezone,
				executed_at, failure_reason, retry_count, version,
				idempotency_key, delivery_payload, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7,
				$8, $9, $10, $11,
				$12, $13, $14, $15
			)
		`,
			e.ID, e.UserID, string(e.EventType), string(e.Status),
			e.TargetTimestampUTC, e.TargetTimestampLocal, e.TargetTimezone,
			e.ExecutedAt, e.FailureReason, e.RetryCount, e.Version,
			e.IdempotencyKey, payload, e.CreatedAt, e.UpdatedAt,
		)
		return err
	})
}

func scanEvent(row interface {
	Scan(dest ...any) error
}) (scheduledevent.Event, error) {
	var e scheduledevent.Event
	var eventType, status string
	var payload []byte

	err := row.Scan(
		&e.ID, &e.UserID, &eventType, &status,
		&e.TargetTimestampUTC, &e.TargetTimestampLocal, &e.TargetTimezone,
		&e.ExecutedAt, &e.FailureReason, &e.RetryCount, &e.Version,
		&e.IdempotencyKey, &payload, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return scheduledevent.Event{}, err
	}

	e.EventType = scheduledevent.EventType(eventType)
	e.Status = scheduledevent.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.DeliveryPayload); err != nil {
			return scheduledevent.Event{}, err
		}
	}
	return e, nil
}

const selectColumns = `
	id, user_id, event_type, status,
	target_timestamp_utc, target_timestamp_local, target_timezone,
	executed_at, failure_reason, retry_count, version,
	idempotency_key, delivery_payload, created_at, updated_at
`

func (r *ScheduledEventsRepo) FindByID(ctx context.Context, id string) (scheduledevent.Event, error) {
	op := "scheduled_events.find_by_id"
	var e scheduledevent.Event

	err := r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM scheduled_events WHERE id = $1`, id)
		var scanErr error
		e, scanErr = scanEvent(row)
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scheduledevent.Event{}, apperr.ErrNotFound
		}
		return scheduledevent.Event{}, err
	}
	return e, nil
}

func (r *ScheduledEventsRepo) FindByIdempotencyKey(ctx context.Context, key string) (scheduledevent.Event, error) {
	op := "scheduled_events.find_by_idempotency_key"
	var e scheduledevent.Event

	err := r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM scheduled_events WHERE idempotency_key = $1`, key)
		var scanErr error
		e, scanErr = scanEvent(row)
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scheduledevent.Event{}, apperr.ErrNotFound
		}
		return scheduledevent.Event{}, err
	}
	return e, nil
}

func (r *ScheduledEventsRepo) FindByUserID(ctx context.Context, userID string) ([]scheduledevent.Event, error) {
	op := "scheduled_events.find_by_user_id"
	var out []scheduledevent.Event

	err := r.observe(op, func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT `+selectColumns+`
			FROM scheduled_events
			WHERE user_id = $1
			ORDER BY target_timestamp_utc ASC
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, scanErr := scanEvent(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, e)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update persists e only if the stored row's version still matches
// e.Version-1 (the transition methods on scheduledevent.Event always
// bump Version before Update is called). A mismatch means a concurrent
// writer won the race; the caller gets apperr.ErrOptimisticLockConflict
// and nothing is mutated (spec.md §8 property 2).
func (r *ScheduledEventsRepo) Update(ctx context.Context, e scheduledevent.Event) error {
	op := "scheduled_events.update"

	payload, err := json.Marshal(e.DeliveryPayload)
	if err != nil {
		return err
	}

	previousVersion := e.Version - 1

	var rowsAffected int64
	err = r.observe(op, func() error {
		tag, execErr := r.pool.Exec(ctx, `
			UPDATE scheduled_events
			SET status = $1,
			    target_timestamp_utc = $2,
			    target_timestamp_local = $3,
			    target_timezone = $4,
			    executed_at = $5,
			    failure_reason = $6,
			    retry_count = $7,
			    version = $8,
			    delivery_payload = $9,
			    updated_at = $10
			WHERE id = $11 AND version = $12
		`,
			string(e.Status), e.TargetTimestampUTC, e.TargetTimestampLocal, e.TargetTimezone,
			e.ExecutedAt, e.FailureReason, e.RetryCount, e.Version,
			payload, e.UpdatedAt, e.ID, previousVersion,
		)
		if execErr != nil {
			return execErr
		}
		rowsAffected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return apperr.ErrOptimisticLockConflict
	}
	return nil
}

// ClaimReadyEvents is the batch generalization of jobs_repo.go's
// ClaimNext: a CTE picks up to limit PENDING rows due now, locked with
// FOR UPDATE SKIP LOCKED so concurrent schedulers never double-claim,
// then a single UPDATE flips them to PROCESSING and bumps version.
func (r *ScheduledEventsRepo) ClaimReadyEvents(ctx context.Context, limit int) ([]scheduledevent.Event, error) {
	op := "scheduled_events.claim_ready"
	var out []scheduledevent.Event

	err := r.observe(op, func() error {
		rows, err := r.pool.Query(ctx, `
			WITH next AS (
				SELECT id
				FROM scheduled_events
				WHERE status = 'PENDING'
				  AND target_timestamp_utc <= NOW()
				ORDER BY target_timestamp_utc ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $1
			)
			UPDATE scheduled_events
			SET status = 'PROCESSING',
			    version = version + 1,
			    updated_at = NOW()
			WHERE id IN (SELECT id FROM next)
			RETURNING `+selectColumns+`
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, scanErr := scanEvent(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, e)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	// RETURNING does not guarantee row order; the claim invariant
	// (spec.md §8 property 4) is about ordering among claimed rows.
	sortByTargetUTC(out)
	return out, nil
}

// FindMissedEvents is a read-only scan used only by the recovery
// procedure; it never claims or mutates (spec.md §4.8).
func (r *ScheduledEventsRepo) FindMissedEvents(ctx context.Context, limit int) ([]scheduledevent.Event, error) {
	op := "scheduled_events.find_missed"
	var out []scheduledevent.Event

	err := r.observe(op, func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT `+selectColumns+`
			FROM scheduled_events
			WHERE status = 'PENDING'
			  AND target_timestamp_utc < NOW()
			ORDER BY target_timestamp_utc ASC
			LIMIT $1
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, scanErr := scanEvent(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, e)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ScheduledEventsRepo) DeleteByUserID(ctx context.Context, userID string) error {
	op := "scheduled_events.delete_by_user_id"
	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `DELETE FROM scheduled_events WHERE user_id = $1`, userID)
		return err
	})
}

func sortByTargetUTC(events []scheduledevent.Event) {
	for i := 1; i < len(events); i++ {
		j := i
		for j > 0 && events[j-1].TargetTimestampUTC.After(events[j].TargetTimestampUTC) {
			events[j-1], events[j] = events[j], events[j-1]
			j--
		}
	}
}
