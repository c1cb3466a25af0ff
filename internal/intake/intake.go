// Package intake stores incoming mail with the instant it becomes due.
package intake

import (
	"context"
	"fmt"
	"time"

	"holdmail/internal/model"
	"holdmail/internal/schedule"
	"holdmail/internal/storage"
)

// Intake assigns ScheduledFor once, at arrival. Later preference changes do
// not move mail that is already held.
type Intake struct {
	store storage.Storage
	now   func() time.Time
}

// New creates an Intake. A nil now uses time.Now.
func New(store storage.Storage, now func() time.Time) *Intake {
	if now == nil {
		now = time.Now
	}
	return &Intake{store: store, now: now}
}

// Hold resolves the effective delivery preference for e's owner and sender,
// schedules e and persists it. Emails whose preference does not batch are
// stored without ScheduledFor and are never picked up by a sweep.
func (in *Intake) Hold(ctx context.Context, e *model.Email) error {
	user, err := in.store.GetUser(ctx, e.UserID)
	if err != nil {
		return fmt.Errorf("get user %d: %w", e.UserID, err)
	}

	var override *model.DeliveryPreference
	if e.SenderID != nil {
		sender, err := in.store.GetSender(ctx, *e.SenderID)
		if err != nil {
			return fmt.Errorf("get sender %d: %w", *e.SenderID, err)
		}
		override = &sender.Preference
	}

	at, err := schedule.ComputeScheduledFor(schedule.Resolve(user.Preference, override), in.now())
	if err != nil {
		return fmt.Errorf("schedule email: %w", err)
	}
	e.ScheduledFor = at

	if err := in.store.CreateEmail(ctx, e); err != nil {
		return fmt.Errorf("store email: %w", err)
	}
	return nil
}
