package reminder

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/domain/audit"
	"github.com/careloop/careloop/internal/domain/routine"
	"github.com/careloop/careloop/internal/platform/apperr"
	"github.com/careloop/careloop/internal/platform/db"
	"github.com/careloop/careloop/internal/platform/events"
	"github.com/careloop/careloop/internal/platform/notification"
)

// Config carries the per-deployment knobs for classification and snoozing.
type Config struct {
	CriticalWindow time.Duration
	NextWindow     time.Duration
	NextCap        int
	DefaultSnooze  time.Duration
}

// RuleSource is the slice of the routine repository the generator and gate
// evaluator read. routine.Repository satisfies it.
type RuleSource interface {
	ListActiveRulesForPatient(ctx context.Context, patientID uuid.UUID) ([]*routine.ActiveRule, error)
	ListPatientsWithActiveRules(ctx context.Context) ([]uuid.UUID, error)
	GetActiveGateRoutine(ctx context.Context, patientID uuid.UUID) (*routine.Routine, error)
	ListSteps(ctx context.Context, routineID uuid.UUID) ([]*routine.RoutineStep, error)
}

// Auditor records compliance entries for terminal responses.
type Auditor interface {
	Record(ctx context.Context, e *audit.Entry) error
}

// Publisher pushes change events to registered subscribers.
type Publisher interface {
	Publish(ctx context.Context, event events.ChangeEvent) []events.DeliveryResult
}

// Notifier hands reminder messages to the transport boundary.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

type Service struct {
	reminders Repository
	routines  RuleSource
	cfg       Config
	logger    zerolog.Logger

	auditor   Auditor
	publisher Publisher
	notifier  Notifier
}

func NewService(reminders Repository, routines RuleSource, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		reminders: reminders,
		routines:  routines,
		cfg:       cfg,
		logger:    logger.With().Str("component", "reminder").Logger(),
	}
}

// SetAuditor attaches an optional audit sink.
func (s *Service) SetAuditor(a Auditor) { s.auditor = a }

// SetPublisher attaches an optional change-event publisher.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// SetNotifier attaches an optional notification transport.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// EnsureTodayInstances creates today's pending instance for every active
// clock rule of the patient's active routines that fires on asOf's weekday.
// It is idempotent: the (schedule_rule_id, calendar_day) uniqueness
// constraint absorbs repeat and concurrent calls, so at-least-once timer
// invocation is safe. Returns the ids of all of today's ensured instances.
func (s *Service) EnsureTodayInstances(ctx context.Context, patientID uuid.UUID, asOf time.Time) ([]uuid.UUID, error) {
	rules, err := s.routines.ListActiveRulesForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for _, ar := range rules {
		// Event-triggered rules fire from their own event path, not the
		// clock generator.
		if ar.Rule.TriggerKind == routine.TriggerEvent {
			continue
		}
		loc, err := time.LoadLocation(ar.Timezone)
		if err != nil {
			s.logger.Warn().Err(err).Str("timezone", ar.Timezone).
				Str("rule_id", ar.Rule.ID.String()).Msg("unknown timezone, using UTC")
			loc = time.UTC
		}
		at, ok := routine.ResolveOccurrence(&ar.Rule, asOf, loc)
		if !ok {
			continue
		}

		inst := &ReminderInstance{
			RoutineID:      ar.Rule.RoutineID,
			ScheduleRuleID: ar.Rule.ID,
			PatientID:      patientID,
			CalendarDay:    DayKey(asOf, loc),
			ScheduledAt:    at,
			Status:         StatusPending,
			RoutineName:    ar.RoutineName,
			RoutineType:    ar.RoutineType,
			Priority:       ar.Priority,
		}
		id, created, err := s.reminders.EnsureInstance(ctx, inst)
		if err != nil {
			s.logger.Error().Err(err).Str("rule_id", ar.Rule.ID.String()).
				Msg("failed to ensure reminder instance")
			continue
		}
		ids = append(ids, id)
		if created {
			s.publish(ctx, events.EventReminderGenerated, id, patientID, inst)
		}
	}
	return ids, nil
}

// GenerateAll runs the generator for every patient with active rules. One
// patient's failure never aborts the rest; this is the scheduler job body.
func (s *Service) GenerateAll(ctx context.Context, asOf time.Time) error {
	patients, err := s.routines.ListPatientsWithActiveRules(ctx)
	if err != nil {
		return err
	}
	for _, pid := range patients {
		if _, err := s.EnsureTodayInstances(ctx, pid, asOf); err != nil {
			s.logger.Error().Err(err).Str("patient_id", pid.String()).
				Msg("instance generation failed for patient")
		}
	}
	return nil
}

// DayView returns the patient's instances for now's calendar day in loc,
// bucketed by urgency.
func (s *Service) DayView(ctx context.Context, patientID uuid.UUID, now time.Time, loc *time.Location) (Classification, error) {
	instances, err := s.reminders.ListForDay(ctx, patientID, DayKey(now, loc))
	if err != nil {
		return Classification{}, err
	}
	return Classify(instances, now, ClassifierConfig{
		CriticalWindow: s.cfg.CriticalWindow,
		NextWindow:     s.cfg.NextWindow,
		NextCap:        s.cfg.NextCap,
	}), nil
}

// An escalated instance is overdue, not done: the patient can still respond
// to it, and that response is what resolves the escalation downstream.
var respondableFrom = []string{StatusPending, StatusSent, StatusSnoozed, StatusEscalated}

// Respond applies a user response to an instance. Transitions are
// compare-and-swap on the stored status, so duplicate or racing responses
// produce one winner and one InvalidTransition, never two completions.
func (s *Service) Respond(ctx context.Context, instanceID uuid.UUID, resp Response, now time.Time) (*ReminderInstance, error) {
	inst, err := s.reminders.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.IsTerminal() {
		return nil, apperr.Transitionf("reminder %s is already %s", inst.ID, inst.Status)
	}

	respondedAt := now
	inst.RespondedAt = &respondedAt
	var completionKind string

	switch resp.Type {
	case ResponseTaken:
		inst.Status = StatusConfirmed
		rt := ResponseTaken
		inst.ResponseType = &rt
		inst.SnoozeUntil = nil
		completionKind = CompletionConfirmed
	case ResponseSnoozed:
		dur := s.cfg.DefaultSnooze
		if resp.SnoozeMinutes > 0 {
			dur = time.Duration(resp.SnoozeMinutes) * time.Minute
		}
		until := now.Add(dur)
		inst.Status = StatusSnoozed
		rt := ResponseSnoozed
		inst.ResponseType = &rt
		inst.SnoozeUntil = &until
	case ResponseSkipped:
		reason := strings.TrimSpace(resp.SkipReason)
		if inst.RoutineType == routine.TypeMedication && reason == "" {
			return nil, apperr.Validationf("skipping a medication reminder requires a reason")
		}
		inst.Status = StatusSkipped
		rt := ResponseSkipped
		inst.ResponseType = &rt
		if reason != "" {
			inst.SkipReason = &reason
		}
		completionKind = CompletionSkipped
	default:
		return nil, apperr.Validationf("invalid response type %q", resp.Type)
	}

	applied, err := s.reminders.ApplyResponse(ctx, inst, respondableFrom)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Transitionf("reminder %s was transitioned concurrently", inst.ID)
	}

	if completionKind != "" {
		comp := &RoutineCompletion{
			RoutineID:          inst.RoutineID,
			PatientID:          inst.PatientID,
			ReminderInstanceID: &inst.ID,
			Kind:               completionKind,
			ActorID:            resp.ActorID,
			ActorKind:          actorKindOrDefault(resp.ActorKind),
			CompletedAt:        now,
		}
		if err := s.reminders.CreateCompletion(ctx, comp); err != nil {
			return nil, err
		}
		s.recordAudit(ctx, inst, resp)
	}

	s.publish(ctx, events.EventReminderResponded, inst.ID, inst.PatientID, inst)
	return inst, nil
}

// CompleteStep records a completion against one gate-routine step. The gate
// evaluator reads these; they are append-only.
func (s *Service) CompleteStep(ctx context.Context, patientID, routineID, stepID uuid.UUID, kind, actorID, actorKind string, now time.Time) (*RoutineCompletion, error) {
	if kind == "" {
		kind = CompletionConfirmed
	}
	if kind != CompletionConfirmed && kind != CompletionSnoozed && kind != CompletionSkipped {
		return nil, apperr.Validationf("invalid completion kind %q", kind)
	}
	steps, err := s.routines.ListSteps(ctx, routineID)
	if err != nil {
		return nil, err
	}
	found := false
	for _, st := range steps {
		if st.ID == stepID {
			found = true
			break
		}
	}
	if !found {
		return nil, apperr.NotFoundf("step %s on routine %s", stepID, routineID)
	}

	comp := &RoutineCompletion{
		RoutineID:     routineID,
		PatientID:     patientID,
		RoutineStepID: &stepID,
		Kind:          kind,
		ActorID:       actorID,
		ActorKind:     actorKindOrDefault(actorKind),
		CompletedAt:   now,
	}
	if err := s.reminders.CreateCompletion(ctx, comp); err != nil {
		return nil, err
	}
	return comp, nil
}

// NotifyDue renders and sends the due (or critical) reminder message, then
// marks the instance sent. Transport failure is recorded by the notification
// manager on its own record and never blocks the transition.
func (s *Service) NotifyDue(ctx context.Context, instanceID uuid.UUID, recipient, patientName string) (*ReminderInstance, error) {
	inst, err := s.reminders.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusPending {
		return nil, apperr.Transitionf("reminder %s is %s, not pending", inst.ID, inst.Status)
	}

	if s.notifier != nil {
		templateID := "reminder-due"
		if inst.Priority == routine.PriorityCritical {
			templateID = "reminder-critical"
		}
		data := map[string]string{
			"patient_name":   patientName,
			"routine_name":   inst.RoutineName,
			"scheduled_time": inst.ScheduledAt.Format("15:04"),
		}
		if _, err := s.notifier.SendFromTemplate(ctx, templateID, data, recipient); err != nil {
			s.logger.Warn().Err(err).Str("instance_id", inst.ID.String()).
				Msg("reminder notification failed")
		}
	}

	applied, err := s.reminders.MarkSent(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Transitionf("reminder %s was transitioned concurrently", inst.ID)
	}
	inst.Status = StatusSent
	return inst, nil
}

// GateStatus evaluates the patient's daily gate checklist on asOf's calendar
// day. A patient without an active gate routine has nothing to clear, so the
// gate reports cleared.
func (s *Service) GateStatus(ctx context.Context, patientID uuid.UUID, asOf time.Time) (*GateStatus, error) {
	gate, err := s.routines.GetActiveGateRoutine(ctx, patientID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return &GateStatus{Applies: false, Cleared: true, MissingSteps: []string{}, DoneSteps: []string{}}, nil
		}
		return nil, err
	}

	steps, err := s.routines.ListSteps(ctx, gate.ID)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(gate.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := asOf.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	comps, err := s.reminders.ListCompletionsForDay(ctx, patientID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	confirmedSteps := map[uuid.UUID]bool{}
	for _, c := range comps {
		if c.Kind == CompletionConfirmed && c.RoutineStepID != nil {
			confirmedSteps[*c.RoutineStepID] = true
		}
	}

	status := &GateStatus{
		Applies:      true,
		RoutineID:    &gate.ID,
		MissingSteps: []string{},
		DoneSteps:    []string{},
	}
	for _, st := range steps {
		if confirmedSteps[st.ID] {
			status.DoneSteps = append(status.DoneSteps, st.Label)
			continue
		}
		if !st.IsOptional {
			status.MissingSteps = append(status.MissingSteps, st.Label)
		}
	}
	status.Cleared = len(status.MissingSteps) == 0
	return status, nil
}

// IsGateCleared is the boolean form of GateStatus.
func (s *Service) IsGateCleared(ctx context.Context, patientID uuid.UUID, asOf time.Time) (bool, error) {
	st, err := s.GateStatus(ctx, patientID, asOf)
	if err != nil {
		return false, err
	}
	return st.Cleared, nil
}

func (s *Service) recordAudit(ctx context.Context, inst *ReminderInstance, resp Response) {
	if s.auditor == nil {
		return
	}
	entry := &audit.Entry{
		EntityKind: "reminder_instance",
		EntityID:   inst.ID,
		PatientID:  &inst.PatientID,
		Action:     "response." + resp.Type,
		ActorID:    resp.ActorID,
		Detail: map[string]string{
			"routine_name": inst.RoutineName,
			"routine_type": inst.RoutineType,
			"status":       inst.Status,
		},
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("instance_id", inst.ID.String()).
			Msg("audit record failed")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, entityID, patientID uuid.UUID, payload interface{}) {
	if s.publisher == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.publisher.Publish(ctx, events.ChangeEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		EntityKind: "reminder_instance",
		EntityID:   entityID.String(),
		PatientID:  patientID.String(),
		TenantID:   db.TenantFromContext(ctx),
		Payload:    raw,
		Timestamp:  time.Now().UTC(),
	})
}

func actorKindOrDefault(kind string) string {
	if kind == ActorStaff {
		return ActorStaff
	}
	return ActorPatient
}
