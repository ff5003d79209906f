// Package reactors subscribes to the user-context domain events
// carried on internal/bus and keeps the scheduling core's events in
// sync with them (spec.md §4.4). Each reactor follows the same shape:
// load what's affected, recompute, persist, summarize.
package reactors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pradok/events-scheduler-sub005/internal/apperr"
	"github.com/pradok/events-scheduler-sub005/internal/bus"
	"github.com/pradok/events-scheduler-sub005/internal/domain/scheduledevent"
	"github.com/pradok/events-scheduler-sub005/internal/domain/userinfo"
	"github.com/pradok/events-scheduler-sub005/internal/eventstore"
	"github.com/pradok/events-scheduler-sub005/internal/timezone"
)

// Reactors wires all four user-context event handlers onto a bus.
// Register subscribes every handler; callers construct Reactors once
// at startup with the store and delivery-time override to use.
type Reactors struct {
	store      eventstore.Store
	override   timezone.Override
	webhookURL string
	logger     *slog.Logger
}

// New constructs Reactors. webhookURL is the fixed delivery endpoint
// rendered into every event's deliveryPayload (spec.md §6): a single
// external collaborator, not a per-user setting.
func New(store eventstore.Store, override timezone.Override, webhookURL string, logger *slog.Logger) *Reactors {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reactors{store: store, override: override, webhookURL: webhookURL, logger: logger}
}

// Register subscribes each reactor method to its event type on b.
func (r *Reactors) Register(b *bus.Bus) {
	b.Subscribe(string(userinfo.EventUserCreated), r.handleUserCreated)
	b.Subscribe(string(userinfo.EventUserBirthdayChanged), r.handleUserBirthdayChanged)
	b.Subscribe(string(userinfo.EventUserTimezoneChanged), r.handleUserTimezoneChanged)
	b.Subscribe(string(userinfo.EventUserDeleted), r.handleUserDeleted)
}

func (r *Reactors) handleUserCreated(ctx context.Context, raw any) error {
	evt, ok := raw.(userinfo.UserCreated)
	if !ok {
		return nil
	}
	_, err := r.ScheduleBirthday(ctx, evt.UserID, evt.FirstName, evt.LastName, evt.DateOfBirth, evt.Timezone)
	return err
}

// ScheduleBirthday computes the user's next birthday occurrence and
// creates a PENDING event for it. A prior event with the same
// idempotency key is treated as already scheduled, not an error
// (spec.md §8 property 5).
func (r *Reactors) ScheduleBirthday(ctx context.Context, userID, firstName, lastName string, dob time.Time, zone string) (scheduledevent.Event, error) {
	targetUTC, err := nextBirthdayUTC(dob, zone, r.override)
	if err != nil {
		return scheduledevent.Event{}, err
	}
	targetLocal, err := localInstant(targetUTC, zone)
	if err != nil {
		return scheduledevent.Event{}, err
	}

	key := scheduledevent.IdempotencyKey(userID, targetUTC, scheduledevent.TypeBirthday)
	if existing, err := r.store.FindByIdempotencyKey(ctx, key); err == nil {
		return existing, nil
	} else if !apperr.IsNotFound(err) {
		return scheduledevent.Event{}, err
	}

	evt := scheduledevent.New(userID, scheduledevent.TypeBirthday, targetUTC, targetLocal, zone, r.renderPayload(firstName, lastName))

	if err := r.store.Create(ctx, evt); err != nil {
		return scheduledevent.Event{}, err
	}

	r.logger.InfoContext(ctx, "reactors.birthday_scheduled",
		"user_id", userID, "event_id", evt.ID, "target_utc", targetUTC)
	return evt, nil
}

// SeedNextOccurrence creates the following year's PENDING occurrence
// for a just-completed event (spec.md §4.6 step 4): "ask the BIRTHDAY
// handler for nextOccurrence from the just-completed
// targetTimestampUTC". The reference instant is nudged one second past
// completed.TargetTimestampUTC so the occurrence search advances to
// the next calendar year rather than re-finding the just-delivered
// instant.
func (r *Reactors) SeedNextOccurrence(ctx context.Context, completed scheduledevent.Event) (scheduledevent.Event, error) {
	dt := timezone.DeliveryTimeFor(string(completed.EventType))
	reference := completed.TargetTimestampUTC.Add(time.Second)

	targetUTC, err := timezone.NextOccurrence(
		completed.TargetTimestampLocal.Month(), completed.TargetTimestampLocal.Day(),
		completed.TargetTimezone, reference, dt, r.override,
	)
	if err != nil {
		return scheduledevent.Event{}, err
	}
	targetLocal, err := localInstant(targetUTC, completed.TargetTimezone)
	if err != nil {
		return scheduledevent.Event{}, err
	}

	next := scheduledevent.New(completed.UserID, completed.EventType, targetUTC, targetLocal, completed.TargetTimezone, completed.DeliveryPayload)
	if err := r.store.Create(ctx, next); err != nil {
		return scheduledevent.Event{}, err
	}

	r.logger.InfoContext(ctx, "reactors.next_occurrence_seeded",
		"user_id", completed.UserID, "previous_event_id", completed.ID, "next_event_id", next.ID, "target_utc", targetUTC)
	return next, nil
}

func (r *Reactors) handleUserBirthdayChanged(ctx context.Context, raw any) error {
	evt, ok := raw.(userinfo.UserBirthdayChanged)
	if !ok {
		return nil
	}
	_, err := r.RescheduleForNewBirthday(ctx, evt.UserID, evt.NewDateOfBirth)
	return err
}

// RescheduleResult summarizes the effect of a reschedule reactor run
// (spec.md §4.4): how many PENDING events were moved, how many were
// left alone because they were no longer reschedulable, and which.
type RescheduleResult struct {
	RescheduledCount  int
	SkippedCount      int
	SkippedEventIDs   []string
	TotalPendingCount int
}

// RescheduleForNewBirthday recomputes every PENDING birthday event for
// userID against the new date of birth. Events that are no longer
// PENDING by the time they're reached (already claimed by a worker)
// are skipped, never force-mutated.
func (r *Reactors) RescheduleForNewBirthday(ctx context.Context, userID string, newDOB time.Time) (RescheduleResult, error) {
	events, err := r.store.FindByUserID(ctx, userID)
	if err != nil {
		return RescheduleResult{}, err
	}

	var result RescheduleResult
	for _, evt := range events {
		if evt.EventType != scheduledevent.TypeBirthday {
			continue
		}
		if evt.Status != scheduledevent.StatusPending {
			result.SkippedCount++
			result.SkippedEventIDs = append(result.SkippedEventIDs, evt.ID)
			continue
		}
		result.TotalPendingCount++

		targetUTC, err := nextBirthdayUTC(newDOB, evt.TargetTimezone, r.override)
		if err != nil {
			return result, err
		}
		targetLocal, err := localInstant(targetUTC, evt.TargetTimezone)
		if err != nil {
			return result, err
		}

		if err := evt.Reschedule(targetUTC, targetLocal, evt.TargetTimezone); err != nil {
			result.SkippedCount++
			result.SkippedEventIDs = append(result.SkippedEventIDs, evt.ID)
			continue
		}

		if err := r.store.Update(ctx, evt); err != nil {
			if apperr.IsOptimisticLockConflict(err) {
				result.SkippedCount++
				result.SkippedEventIDs = append(result.SkippedEventIDs, evt.ID)
				continue
			}
			return result, err
		}
		result.RescheduledCount++
	}

	r.logger.InfoContext(ctx, "reactors.birthday_rescheduled",
		"user_id", userID, "rescheduled", result.RescheduledCount, "skipped", result.SkippedCount)
	return result, nil
}

func (r *Reactors) handleUserTimezoneChanged(ctx context.Context, raw any) error {
	evt, ok := raw.(userinfo.UserTimezoneChanged)
	if !ok {
		return nil
	}
	_, err := r.RescheduleForNewTimezone(ctx, evt.UserID, evt.NewTimezone)
	return err
}

// RescheduleForNewTimezone recomputes every PENDING event for userID
// against newZone. The decided Open Question (spec.md §9): a timezone
// change recomputes the delivery instant in the new zone rather than
// preserving the previously-computed UTC instant, so a user who moves
// timezones always gets their birthday notification at 09:00 local in
// the zone they're in now.
func (r *Reactors) RescheduleForNewTimezone(ctx context.Context, userID, newZone string) (RescheduleResult, error) {
	events, err := r.store.FindByUserID(ctx, userID)
	if err != nil {
		return RescheduleResult{}, err
	}

	var result RescheduleResult
	for _, evt := range events {
		if evt.Status != scheduledevent.StatusPending {
			result.SkippedCount++
			result.SkippedEventIDs = append(result.SkippedEventIDs, evt.ID)
			continue
		}
		result.TotalPendingCount++

		dt := timezone.DeliveryTimeFor(string(evt.EventType))
		targetUTC, err := timezone.NextOccurrence(evt.TargetTimestampLocal.Month(), evt.TargetTimestampLocal.Day(), newZone, eventstore.Now(), dt, r.override)
		if err != nil {
			return result, err
		}
		targetLocal, err := localInstant(targetUTC, newZone)
		if err != nil {
			return result, err
		}

		if err := evt.Reschedule(targetUTC, targetLocal, newZone); err != nil {
			result.SkippedCount++
			result.SkippedEventIDs = append(result.SkippedEventIDs, evt.ID)
			continue
		}

		if err := r.store.Update(ctx, evt); err != nil {
			if apperr.IsOptimisticLockConflict(err) {
				result.SkippedCount++
				result.SkippedEventIDs = append(result.SkippedEventIDs, evt.ID)
				continue
			}
			return result, err
		}
		result.RescheduledCount++
	}

	r.logger.InfoContext(ctx, "reactors.timezone_rescheduled",
		"user_id", userID, "new_zone", newZone, "rescheduled", result.RescheduledCount, "skipped", result.SkippedCount)
	return result, nil
}

func (r *Reactors) handleUserDeleted(ctx context.Context, raw any) error {
	evt, ok := raw.(userinfo.UserDeleted)
	if !ok {
		return nil
	}
	if err := r.store.DeleteByUserID(ctx, evt.UserID); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "reactors.user_deleted_cascade", "user_id", evt.UserID)
	return nil
}

// renderPayload builds the per-event-type delivery body (spec.md §6):
// a templated greeting plus the fixed webhook endpoint.
func (r *Reactors) renderPayload(firstName, lastName string) scheduledevent.Payload {
	return scheduledevent.Payload{
		"message":    fmt.Sprintf("Hey, %s %s it's your birthday", firstName, lastName),
		"webhookUrl": r.webhookURL,
	}
}

func nextBirthdayUTC(dob time.Time, zone string, override timezone.Override) (time.Time, error) {
	dt := timezone.DeliveryTimeFor(string(scheduledevent.TypeBirthday))
	return timezone.NextOccurrence(dob.Month(), dob.Day(), zone, eventstore.Now(), dt, override)
}

func localInstant(utc time.Time, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, err
	}
	return utc.In(loc), nil
}
