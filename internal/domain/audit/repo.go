package audit

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows a List call. Zero values mean "any".
type Filter struct {
	EntityKind string
	EntityID   uuid.UUID
	PatientID  uuid.UUID
	Action     string
}

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}
