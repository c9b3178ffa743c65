package routine

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateRoutine(ctx context.Context, r *Routine) error
	GetRoutine(ctx context.Context, id uuid.UUID) (*Routine, error)
	UpdateRoutine(ctx context.Context, r *Routine) error
	DeactivateRoutine(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Routine, int, error)
	GetActiveGateRoutine(ctx context.Context, patientID uuid.UUID) (*Routine, error)

	CreateRule(ctx context.Context, rule *ScheduleRule) error
	GetRule(ctx context.Context, id uuid.UUID) (*ScheduleRule, error)
	UpdateRule(ctx context.Context, rule *ScheduleRule) error
	DeactivateRule(ctx context.Context, id uuid.UUID) error
	ListRulesByRoutine(ctx context.Context, routineID uuid.UUID) ([]*ScheduleRule, error)
	// ListActiveRulesForPatient returns active rules of active routines,
	// joined with the routine fields the instance generator needs.
	ListActiveRulesForPatient(ctx context.Context, patientID uuid.UUID) ([]*ActiveRule, error)
	// ListPatientsWithActiveRules returns the patients the generator sweep
	// must visit.
	ListPatientsWithActiveRules(ctx context.Context) ([]uuid.UUID, error)

	CreateStep(ctx context.Context, step *RoutineStep) error
	ListSteps(ctx context.Context, routineID uuid.UUID) ([]*RoutineStep, error)
	RelabelStep(ctx context.Context, stepID uuid.UUID, label string) error
}
