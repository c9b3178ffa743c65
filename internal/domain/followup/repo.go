package followup

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows a List call. Zero values mean "any".
type Filter struct {
	PatientID uuid.UUID
	Status    string
	OwnerRole string
	Category  string
}

type Repository interface {
	Create(ctx context.Context, item *FollowupItem) error
	Get(ctx context.Context, id uuid.UUID) (*FollowupItem, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*FollowupItem, int, error)

	// TransitionStatus moves the item to the target status only if the
	// stored status is one of allowedFrom, reporting whether the update won.
	TransitionStatus(ctx context.Context, id uuid.UUID, allowedFrom []string, to string, closureReason *string) (bool, error)
	// Assign sets the assignee on a non-terminal item.
	Assign(ctx context.Context, id uuid.UUID, assignee string) (bool, error)
	// LinkAppointment attaches an appointment event to the item.
	LinkAppointment(ctx context.Context, id uuid.UUID, appointmentID uuid.UUID) (bool, error)

	// SlipCheck computes all risk counters in one consistent read.
	SlipCheck(ctx context.Context, now time.Time) (*SlipCheckSummary, error)
}
