package routine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/careloop/internal/platform/apperr"
)

type Service struct {
	routines Repository
}

func NewService(routines Repository) *Service {
	return &Service{routines: routines}
}

var validTypes = map[string]bool{
	TypeMedication: true, TypePickup: true, TypeHygiene: true,
	TypeChore: true, TypeGate: true, TypeCustom: true,
}

var validPriorities = map[string]bool{
	PriorityCritical: true, PriorityImportant: true, PriorityFlexible: true,
}

var validTriggerKinds = map[string]bool{
	TriggerClock: true, TriggerEvent: true,
}

func (s *Service) CreateRoutine(ctx context.Context, rt *Routine) error {
	if rt.PatientID == uuid.Nil {
		return apperr.Validationf("patient_id is required")
	}
	if rt.Name == "" {
		return apperr.Validationf("name is required")
	}
	if !validTypes[rt.Type] {
		return apperr.Validationf("invalid routine type %q", rt.Type)
	}
	if rt.Priority == "" {
		rt.Priority = PriorityFlexible
	}
	if !validPriorities[rt.Priority] {
		return apperr.Validationf("invalid priority %q", rt.Priority)
	}
	if rt.Timezone == "" {
		rt.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(rt.Timezone); err != nil {
		return apperr.Validationf("invalid timezone %q", rt.Timezone)
	}
	rt.Active = true
	return s.routines.CreateRoutine(ctx, rt)
}

func (s *Service) GetRoutine(ctx context.Context, id uuid.UUID) (*Routine, error) {
	return s.routines.GetRoutine(ctx, id)
}

// UpdateRoutine mutates schedule-independent routine fields. The patient
// reference never changes; move the obligation by deactivating and creating.
func (s *Service) UpdateRoutine(ctx context.Context, rt *Routine) error {
	existing, err := s.routines.GetRoutine(ctx, rt.ID)
	if err != nil {
		return err
	}
	if rt.Name == "" {
		return apperr.Validationf("name is required")
	}
	if !validTypes[rt.Type] {
		return apperr.Validationf("invalid routine type %q", rt.Type)
	}
	if !validPriorities[rt.Priority] {
		return apperr.Validationf("invalid priority %q", rt.Priority)
	}
	if rt.Timezone == "" {
		rt.Timezone = existing.Timezone
	}
	if _, err := time.LoadLocation(rt.Timezone); err != nil {
		return apperr.Validationf("invalid timezone %q", rt.Timezone)
	}
	rt.PatientID = existing.PatientID
	return s.routines.UpdateRoutine(ctx, rt)
}

// DeactivateRoutine retires a routine without deleting it. Existing reminder
// instances keep their history.
func (s *Service) DeactivateRoutine(ctx context.Context, id uuid.UUID) error {
	return s.routines.DeactivateRoutine(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Routine, int, error) {
	return s.routines.ListByPatient(ctx, patientID, limit, offset)
}

func validateRule(rule *ScheduleRule) error {
	if len(rule.Weekdays) == 0 {
		return apperr.Validationf("schedule rule needs at least one weekday: a rule with no weekdays never fires")
	}
	seen := map[int]bool{}
	for _, d := range rule.Weekdays {
		if d < 0 || d > 6 {
			return apperr.Validationf("invalid weekday %d: want 0 (Sunday) through 6 (Saturday)", d)
		}
		if seen[d] {
			return apperr.Validationf("duplicate weekday %d", d)
		}
		seen[d] = true
	}
	if _, _, err := parseTimeOfDay(rule.TimeOfDay); err != nil {
		return apperr.Validationf("%v", err)
	}
	if rule.LeadMinutes < 0 {
		return apperr.Validationf("lead_minutes must not be negative")
	}
	if rule.TriggerKind == "" {
		rule.TriggerKind = TriggerClock
	}
	if !validTriggerKinds[rule.TriggerKind] {
		return apperr.Validationf("invalid trigger kind %q", rule.TriggerKind)
	}
	return nil
}

func (s *Service) CreateRule(ctx context.Context, rule *ScheduleRule) error {
	if _, err := s.routines.GetRoutine(ctx, rule.RoutineID); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}
	rule.Active = true
	return s.routines.CreateRule(ctx, rule)
}

func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (*ScheduleRule, error) {
	return s.routines.GetRule(ctx, id)
}

func (s *Service) UpdateRule(ctx context.Context, rule *ScheduleRule) error {
	existing, err := s.routines.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	rule.RoutineID = existing.RoutineID
	if err := validateRule(rule); err != nil {
		return err
	}
	return s.routines.UpdateRule(ctx, rule)
}

// DeactivateRule stops future instance generation. Existing instances are
// untouched: they terminalize through the response state machine, never by
// cascade.
func (s *Service) DeactivateRule(ctx context.Context, id uuid.UUID) error {
	return s.routines.DeactivateRule(ctx, id)
}

func (s *Service) ListRulesByRoutine(ctx context.Context, routineID uuid.UUID) ([]*ScheduleRule, error) {
	return s.routines.ListRulesByRoutine(ctx, routineID)
}

func (s *Service) ListActiveRulesForPatient(ctx context.Context, patientID uuid.UUID) ([]*ActiveRule, error) {
	return s.routines.ListActiveRulesForPatient(ctx, patientID)
}

// AddStep appends a checklist step to a gate routine. Order is assigned
// after the current last step unless the caller sets one.
func (s *Service) AddStep(ctx context.Context, step *RoutineStep) error {
	rt, err := s.routines.GetRoutine(ctx, step.RoutineID)
	if err != nil {
		return err
	}
	if rt.Type != TypeGate {
		return apperr.Validationf("steps belong to gate routines; routine %s is %q", rt.ID, rt.Type)
	}
	if step.Label == "" {
		return apperr.Validationf("label is required")
	}
	if step.StepOrder <= 0 {
		steps, err := s.routines.ListSteps(ctx, step.RoutineID)
		if err != nil {
			return err
		}
		step.StepOrder = len(steps) + 1
	}
	return s.routines.CreateStep(ctx, step)
}

func (s *Service) ListSteps(ctx context.Context, routineID uuid.UUID) ([]*RoutineStep, error) {
	return s.routines.ListSteps(ctx, routineID)
}

// RelabelStep is the only permitted step mutation once completions reference
// a step.
func (s *Service) RelabelStep(ctx context.Context, stepID uuid.UUID, label string) error {
	if label == "" {
		return apperr.Validationf("label is required")
	}
	return s.routines.RelabelStep(ctx, stepID, label)
}
