package followup

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/platform/apperr"
	"github.com/careloop/careloop/internal/platform/db"
	"github.com/careloop/careloop/internal/platform/events"
)

// Publisher pushes change events to registered subscribers.
type Publisher interface {
	Publish(ctx context.Context, event events.ChangeEvent) []events.DeliveryResult
}

type Service struct {
	items  Repository
	logger zerolog.Logger

	publisher Publisher
}

func NewService(items Repository, logger zerolog.Logger) *Service {
	return &Service{
		items:  items,
		logger: logger.With().Str("component", "followup").Logger(),
	}
}

// SetPublisher attaches an optional change-event publisher.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

var validPriorities = map[string]bool{
	PriorityHigh: true, PriorityMedium: true, PriorityLow: true,
}

func validateItem(item *FollowupItem) error {
	if item.PatientID == uuid.Nil {
		return apperr.Validationf("patient_id is required")
	}
	if strings.TrimSpace(item.Category) == "" {
		return apperr.Validationf("category is required")
	}
	if strings.TrimSpace(item.Description) == "" {
		return apperr.Validationf("description is required")
	}
	if item.DueAt.IsZero() {
		return apperr.Validationf("due_at is required")
	}
	if item.Priority == "" {
		item.Priority = PriorityMedium
	}
	if !validPriorities[item.Priority] {
		return apperr.Validationf("invalid priority %q", item.Priority)
	}
	if strings.TrimSpace(item.OwnerRole) == "" {
		return apperr.Validationf("owner_role is required")
	}
	return nil
}

// Create records one manually entered followup item.
func (s *Service) Create(ctx context.Context, item *FollowupItem) error {
	if err := validateItem(item); err != nil {
		return err
	}
	item.Status = StatusOpen
	if err := s.items.Create(ctx, item); err != nil {
		return err
	}
	s.publish(ctx, events.EventFollowupCreated, item)
	return nil
}

// CreateFromExtraction turns an upstream extraction payload into followup
// items. A bad entry rejects the whole payload before any write, so the
// extraction collaborator can retry it unchanged.
func (s *Service) CreateFromExtraction(ctx context.Context, patientID uuid.UUID, entries []ExtractionItem, now time.Time) ([]*FollowupItem, error) {
	if len(entries) == 0 {
		return nil, apperr.Validationf("extraction payload is empty")
	}

	items := make([]*FollowupItem, 0, len(entries))
	for i, e := range entries {
		if e.DueInDays < 0 {
			return nil, apperr.Validationf("entry %d: due_in_days must not be negative", i)
		}
		item := &FollowupItem{
			PatientID:   patientID,
			Category:    e.Category,
			Description: e.Description,
			DueAt:       now.AddDate(0, 0, e.DueInDays),
			Priority:    e.Priority,
			OwnerRole:   e.OwnerRole,
		}
		if err := validateItem(item); err != nil {
			return nil, apperr.Validationf("entry %d: %v", i, err)
		}
		items = append(items, item)
	}

	// One payload, one transaction: a write failure on any entry leaves
	// nothing behind for the retry to collide with.
	if err := db.InTx(ctx, func(ctx context.Context) error {
		for _, item := range items {
			item.Status = StatusOpen
			if err := s.items.Create(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	for _, item := range items {
		s.publish(ctx, events.EventFollowupCreated, item)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*FollowupItem, error) {
	return s.items.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*FollowupItem, int, error) {
	return s.items.List(ctx, f, limit, offset)
}

// Start moves an open item to in_progress.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*FollowupItem, error) {
	return s.transition(ctx, id, []string{StatusOpen}, StatusInProgress, nil, "")
}

// Complete terminalizes the item as done.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*FollowupItem, error) {
	return s.transition(ctx, id, []string{StatusOpen, StatusInProgress}, StatusDone, nil, events.EventFollowupCompleted)
}

// Dismiss terminalizes the item without doing it; the reason is mandatory.
func (s *Service) Dismiss(ctx context.Context, id uuid.UUID, reason string) (*FollowupItem, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validationf("dismissing a followup item requires a reason")
	}
	return s.transition(ctx, id, []string{StatusOpen, StatusInProgress}, StatusDismissed, &reason, events.EventFollowupCompleted)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, allowedFrom []string, to string, closureReason *string, eventType string) (*FollowupItem, error) {
	item, err := s.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.IsTerminal() {
		return nil, apperr.Transitionf("followup item %s is already %s", item.ID, item.Status)
	}

	applied, err := s.items.TransitionStatus(ctx, id, allowedFrom, to, closureReason)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Transitionf("followup item %s cannot move from %s to %s", item.ID, item.Status, to)
	}

	item.Status = to
	if closureReason != nil {
		item.ClosureReason = closureReason
	}
	if eventType != "" {
		s.publish(ctx, eventType, item)
	}
	return item, nil
}

// Assign routes the item to a specific staff member. Terminal items cannot
// be reassigned.
func (s *Service) Assign(ctx context.Context, id uuid.UUID, assignee string) (*FollowupItem, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, apperr.Validationf("assignee is required")
	}
	item, err := s.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.IsTerminal() {
		return nil, apperr.Transitionf("followup item %s is already %s", item.ID, item.Status)
	}

	applied, err := s.items.Assign(ctx, id, assignee)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Transitionf("followup item %s was transitioned concurrently", item.ID)
	}
	item.AssignedTo = &assignee
	return item, nil
}

// LinkAppointment attaches the appointment event that satisfies a referral.
func (s *Service) LinkAppointment(ctx context.Context, id uuid.UUID, appointmentID uuid.UUID) error {
	if appointmentID == uuid.Nil {
		return apperr.Validationf("appointment_id is required")
	}
	applied, err := s.items.LinkAppointment(ctx, id, appointmentID)
	if err != nil {
		return err
	}
	if !applied {
		return apperr.NotFoundf("followup item %s", id)
	}
	return nil
}

// SlipCheck returns the population-level risk counters, recomputed on
// demand.
func (s *Service) SlipCheck(ctx context.Context, now time.Time) (*SlipCheckSummary, error) {
	return s.items.SlipCheck(ctx, now)
}

func (s *Service) publish(ctx context.Context, eventType string, item *FollowupItem) {
	if s.publisher == nil {
		return
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return
	}
	s.publisher.Publish(ctx, events.ChangeEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		EntityKind: "followup_item",
		EntityID:   item.ID.String(),
		PatientID:  item.PatientID.String(),
		TenantID:   db.TenantFromContext(ctx),
		Payload:    raw,
		Timestamp:  time.Now().UTC(),
	})
}
