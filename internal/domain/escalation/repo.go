package escalation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows a List call. Zero values mean "any".
type Filter struct {
	TargetRole         string
	Status             string
	FollowupItemID     uuid.UUID
	ReminderInstanceID uuid.UUID
}

type Repository interface {
	Create(ctx context.Context, esc *Escalation) error
	Get(ctx context.Context, id uuid.UUID) (*Escalation, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Escalation, int, error)

	// ListDue returns pending escalations whose trigger instant has passed,
	// oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Escalation, error)

	// MaxLevelForParent returns the highest level scheduled so far for the
	// given parent, zero when none exists.
	MaxLevelForParent(ctx context.Context, followupItemID, reminderInstanceID *uuid.UUID) (int, error)

	// Transition moves the escalation to the target status only if the
	// stored status is one of allowedFrom, reporting whether the update won.
	Transition(ctx context.Context, id uuid.UUID, allowedFrom []string, to string, at time.Time) (bool, error)
}
