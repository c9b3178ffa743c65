package escalation

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/domain/audit"
	"github.com/careloop/careloop/internal/domain/followup"
	"github.com/careloop/careloop/internal/domain/reminder"
	"github.com/careloop/careloop/internal/platform/apperr"
	"github.com/careloop/careloop/internal/platform/db"
	"github.com/careloop/careloop/internal/platform/events"
	"github.com/careloop/careloop/internal/platform/notification"
)

// sweepBatchSize bounds one sweeper pass so overlapping invocations share
// the backlog instead of both draining it.
const sweepBatchSize = 200

// FollowupSource loads the followup parent of an escalation.
type FollowupSource interface {
	Get(ctx context.Context, id uuid.UUID) (*followup.FollowupItem, error)
}

// ReminderSource loads the reminder parent of an escalation and lets the
// sweeper stamp the escalated status on it.
type ReminderSource interface {
	GetInstance(ctx context.Context, id uuid.UUID) (*reminder.ReminderInstance, error)
	MarkEscalated(ctx context.Context, id uuid.UUID, level int) (bool, error)
}

// Auditor records compliance entries.
type Auditor interface {
	Record(ctx context.Context, entry *audit.Entry) error
}

// Notifier hands off outbound notifications.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

// Publisher pushes change events to registered subscribers.
type Publisher interface {
	Publish(ctx context.Context, event events.ChangeEvent) []events.DeliveryResult
}

type Service struct {
	escalations Repository
	followups   FollowupSource
	reminders   ReminderSource
	logger      zerolog.Logger

	auditor   Auditor
	notifier  Notifier
	publisher Publisher
}

func NewService(escalations Repository, followups FollowupSource, reminders ReminderSource, logger zerolog.Logger) *Service {
	return &Service{
		escalations: escalations,
		followups:   followups,
		reminders:   reminders,
		logger:      logger.With().Str("component", "escalation").Logger(),
	}
}

// SetAuditor attaches an optional compliance audit sink.
func (s *Service) SetAuditor(a Auditor) { s.auditor = a }

// SetNotifier attaches an optional notification transport.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetPublisher attaches an optional change-event publisher.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// Schedule records a pending escalation. The level must exceed every level
// already scheduled for the same parent; it defaults to the next one up.
func (s *Service) Schedule(ctx context.Context, esc *Escalation) error {
	if (esc.FollowupItemID == nil) == (esc.ReminderInstanceID == nil) {
		return apperr.Validationf("exactly one of followup_item_id and reminder_instance_id is required")
	}
	if strings.TrimSpace(esc.TargetRole) == "" {
		return apperr.Validationf("target_role is required")
	}
	if esc.TriggerAt.IsZero() {
		return apperr.Validationf("trigger_at is required")
	}

	max, err := s.escalations.MaxLevelForParent(ctx, esc.FollowupItemID, esc.ReminderInstanceID)
	if err != nil {
		return err
	}
	if esc.Level == 0 {
		esc.Level = max + 1
	}
	if esc.Level <= max {
		return apperr.Validationf("level %d does not exceed the highest scheduled level %d", esc.Level, max)
	}

	esc.Status = StatusPending
	return s.escalations.Create(ctx, esc)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Escalation, error) {
	return s.escalations.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Escalation, int, error) {
	return s.escalations.List(ctx, f, limit, offset)
}

// Resolve closes an escalation by hand, e.g. when staff acknowledges it
// outside the normal parent lifecycle.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, now time.Time) (*Escalation, error) {
	esc, err := s.escalations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if esc.Status == StatusResolved {
		return nil, apperr.Transitionf("escalation %s is already resolved", esc.ID)
	}
	applied, err := s.escalations.Transition(ctx, id, []string{StatusPending, StatusTriggered}, StatusResolved, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Transitionf("escalation %s was transitioned concurrently", esc.ID)
	}
	esc.Status = StatusResolved
	esc.ResolvedAt = &now
	s.publish(ctx, events.EventEscalationResolved, esc)
	return esc, nil
}

// Sweep processes every pending escalation that is due at now. A parent
// already in a terminal state resolves its escalation silently; any other
// due escalation is triggered, audited, and handed to the notification
// transport. One failing escalation never stops the rest of the pass.
func (s *Service) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	due, err := s.escalations.ListDue(ctx, now, sweepBatchSize)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Scanned: len(due)}
	for _, esc := range due {
		outcome, err := s.sweepOne(ctx, esc, now)
		if err != nil {
			result.Failed++
			s.logger.Error().Err(err).
				Str("escalation_id", esc.ID.String()).
				Msg("escalation sweep failed for one item")
			continue
		}
		switch outcome {
		case StatusTriggered:
			result.Triggered++
		case StatusResolved:
			result.Resolved++
		}
	}
	return result, nil
}

// parentState describes the escalation's parent at sweep time.
type parentState struct {
	terminal    bool
	patientID   uuid.UUID
	description string
	dueAt       time.Time
}

func (s *Service) loadParent(ctx context.Context, esc *Escalation) (*parentState, error) {
	if esc.FollowupItemID != nil {
		item, err := s.followups.Get(ctx, *esc.FollowupItemID)
		if err != nil {
			if apperr.IsNotFound(err) {
				// A vanished parent can never be acted on.
				return &parentState{terminal: true}, nil
			}
			return nil, err
		}
		return &parentState{
			terminal:    item.IsTerminal(),
			patientID:   item.PatientID,
			description: item.Description,
			dueAt:       item.DueAt,
		}, nil
	}

	inst, err := s.reminders.GetInstance(ctx, *esc.ReminderInstanceID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return &parentState{terminal: true}, nil
		}
		return nil, err
	}
	return &parentState{
		terminal:    inst.IsTerminal(),
		patientID:   inst.PatientID,
		description: inst.RoutineName,
		dueAt:       inst.ScheduledAt,
	}, nil
}

func (s *Service) sweepOne(ctx context.Context, esc *Escalation, now time.Time) (string, error) {
	parent, err := s.loadParent(ctx, esc)
	if err != nil {
		return "", err
	}

	if parent.terminal {
		applied, err := s.escalations.Transition(ctx, esc.ID, []string{StatusPending}, StatusResolved, now)
		if err != nil {
			return "", err
		}
		if !applied {
			// A concurrent sweep already handled it.
			return "", nil
		}
		esc.Status = StatusResolved
		esc.ResolvedAt = &now
		s.publish(ctx, events.EventEscalationResolved, esc)
		return StatusResolved, nil
	}

	applied, err := s.escalations.Transition(ctx, esc.ID, []string{StatusPending}, StatusTriggered, now)
	if err != nil {
		return "", err
	}
	if !applied {
		return "", nil
	}
	esc.Status = StatusTriggered
	esc.TriggeredAt = &now

	if esc.ReminderInstanceID != nil {
		if _, err := s.reminders.MarkEscalated(ctx, *esc.ReminderInstanceID, esc.Level); err != nil {
			s.logger.Error().Err(err).
				Str("reminder_instance_id", esc.ReminderInstanceID.String()).
				Msg("failed to mark reminder instance escalated")
		}
	}

	s.recordAudit(ctx, esc, parent)
	s.notify(ctx, esc, parent)
	s.publish(ctx, events.EventEscalationTriggered, esc)
	return StatusTriggered, nil
}

func (s *Service) recordAudit(ctx context.Context, esc *Escalation, parent *parentState) {
	if s.auditor == nil {
		return
	}
	pid := parent.patientID
	entry := &audit.Entry{
		EntityKind: "escalation",
		EntityID:   esc.ID,
		PatientID:  &pid,
		Action:     "escalation.triggered",
		ActorID:    "sweeper",
		Detail: map[string]string{
			"level":       strconv.Itoa(esc.Level),
			"target_role": esc.TargetRole,
		},
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("escalation_id", esc.ID.String()).
			Msg("failed to record escalation audit entry")
	}
}

// notify hands the trigger off to the notification transport. The escalation
// state change is already committed; a transport failure is recorded on the
// notification itself and never rolls the trigger back.
func (s *Service) notify(ctx context.Context, esc *Escalation, parent *parentState) {
	if s.notifier == nil {
		return
	}
	data := map[string]string{
		"patient_name": parent.patientID.String(),
		"description":  parent.description,
		"level":        strconv.Itoa(esc.Level),
		"due_date":     parent.dueAt.Format("2006-01-02"),
	}
	if _, err := s.notifier.SendFromTemplate(ctx, "followup-escalation", data, esc.TargetRole); err != nil {
		s.logger.Error().Err(err).
			Str("escalation_id", esc.ID.String()).
			Str("target_role", esc.TargetRole).
			Msg("escalation notification failed")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, esc *Escalation) {
	if s.publisher == nil {
		return
	}
	raw, err := json.Marshal(esc)
	if err != nil {
		return
	}
	s.publisher.Publish(ctx, events.ChangeEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		EntityKind: "escalation",
		EntityID:   esc.ID.String(),
		TenantID:   db.TenantFromContext(ctx),
		Payload:    raw,
		Timestamp:  time.Now().UTC(),
	})
}
