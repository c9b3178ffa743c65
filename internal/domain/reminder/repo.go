package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// EnsureInstance inserts the instance unless one already exists for its
	// (schedule_rule_id, calendar_day) pair. It returns the id of the row
	// that now holds the slot and whether this call created it. The
	// uniqueness constraint, not a pre-check, closes the race between
	// concurrent generator runs.
	EnsureInstance(ctx context.Context, inst *ReminderInstance) (uuid.UUID, bool, error)
	GetInstance(ctx context.Context, id uuid.UUID) (*ReminderInstance, error)
	ListForDay(ctx context.Context, patientID uuid.UUID, day string) ([]*ReminderInstance, error)

	// ApplyResponse writes the response fields of inst, but only if the
	// stored status is one of allowedFrom. It reports whether the update
	// won; a false return means a concurrent transition got there first or
	// the instance was already terminal.
	ApplyResponse(ctx context.Context, inst *ReminderInstance, allowedFrom []string) (bool, error)
	// MarkSent transitions pending → sent. A no-op on any other status.
	MarkSent(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkEscalated raises the instance to escalated with the given level,
	// only from a non-terminal status and never lowering the level.
	MarkEscalated(ctx context.Context, id uuid.UUID, level int) (bool, error)

	CreateCompletion(ctx context.Context, comp *RoutineCompletion) error
	ListCompletionsForDay(ctx context.Context, patientID uuid.UUID, dayStart, dayEnd time.Time) ([]*RoutineCompletion, error)
}
