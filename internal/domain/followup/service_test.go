package followup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/platform/apperr"
)

// -- Mock Repository --

type mockFollowupRepo struct {
	items map[uuid.UUID]*FollowupItem
}

func newMockFollowupRepo() *mockFollowupRepo {
	return &mockFollowupRepo{items: make(map[uuid.UUID]*FollowupItem)}
}

func (m *mockFollowupRepo) Create(_ context.Context, item *FollowupItem) error {
	item.ID = uuid.New()
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *mockFollowupRepo) Get(_ context.Context, id uuid.UUID) (*FollowupItem, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFoundf("followup item %s", id)
	}
	cp := *item
	return &cp, nil
}

func (m *mockFollowupRepo) List(_ context.Context, f Filter, limit, offset int) ([]*FollowupItem, int, error) {
	var r []*FollowupItem
	for _, item := range m.items {
		if f.PatientID != uuid.Nil && item.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && item.Status != f.Status {
			continue
		}
		if f.OwnerRole != "" && item.OwnerRole != f.OwnerRole {
			continue
		}
		if f.Category != "" && item.Category != f.Category {
			continue
		}
		cp := *item
		r = append(r, &cp)
	}
	return r, len(r), nil
}

func (m *mockFollowupRepo) TransitionStatus(_ context.Context, id uuid.UUID, allowedFrom []string, to string, closureReason *string) (bool, error) {
	item, ok := m.items[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range allowedFrom {
		if item.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	item.Status = to
	if closureReason != nil {
		item.ClosureReason = closureReason
	}
	return true, nil
}

func (m *mockFollowupRepo) Assign(_ context.Context, id uuid.UUID, assignee string) (bool, error) {
	item, ok := m.items[id]
	if !ok || item.IsTerminal() {
		return false, nil
	}
	item.AssignedTo = &assignee
	return true, nil
}

func (m *mockFollowupRepo) LinkAppointment(_ context.Context, id uuid.UUID, appointmentID uuid.UUID) (bool, error) {
	item, ok := m.items[id]
	if !ok {
		return false, nil
	}
	item.AppointmentID = &appointmentID
	return true, nil
}

func (m *mockFollowupRepo) SlipCheck(_ context.Context, now time.Time) (*SlipCheckSummary, error) {
	s := &SlipCheckSummary{ComputedAt: now}
	for _, item := range m.items {
		if item.IsTerminal() {
			continue
		}
		s.OpenCount++
		overdue := item.DueAt.Before(now)
		if overdue {
			s.OverdueCount++
		}
		if item.AssignedTo == nil {
			s.UnassignedCount++
		}
		if overdue && item.Priority == PriorityHigh {
			s.HighPriorityOverdue++
		}
		if item.Category == CategoryReferral && item.AppointmentID == nil {
			s.ReferralsWithoutAppointments++
		}
	}
	return s, nil
}

func newTestService() (*Service, *mockFollowupRepo) {
	repo := newMockFollowupRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func openItem(svc *Service, t *testing.T, patientID uuid.UUID, category, priority string, dueAt time.Time) *FollowupItem {
	t.Helper()
	item := &FollowupItem{
		PatientID:   patientID,
		Category:    category,
		Description: "needs follow-up",
		DueAt:       dueAt,
		Priority:    priority,
		OwnerRole:   "nurse",
	}
	if err := svc.Create(context.Background(), item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return item
}

// -- Creation --

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService()
	due := time.Now().Add(24 * time.Hour)
	tests := []struct {
		name string
		item *FollowupItem
	}{
		{"missing patient", &FollowupItem{Category: "labs", Description: "x", DueAt: due, OwnerRole: "nurse"}},
		{"missing category", &FollowupItem{PatientID: uuid.New(), Description: "x", DueAt: due, OwnerRole: "nurse"}},
		{"missing description", &FollowupItem{PatientID: uuid.New(), Category: "labs", DueAt: due, OwnerRole: "nurse"}},
		{"missing due date", &FollowupItem{PatientID: uuid.New(), Category: "labs", Description: "x", OwnerRole: "nurse"}},
		{"missing owner role", &FollowupItem{PatientID: uuid.New(), Category: "labs", Description: "x", DueAt: due}},
		{"bad priority", &FollowupItem{PatientID: uuid.New(), Category: "labs", Description: "x", DueAt: due, OwnerRole: "nurse", Priority: "urgent"}},
	}
	for _, tt := range tests {
		if err := svc.Create(context.Background(), tt.item); !apperr.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tt.name, err)
		}
	}
}

func TestCreate_DefaultsToOpenMedium(t *testing.T) {
	svc, _ := newTestService()
	item := openItem(svc, t, uuid.New(), "labs", "", time.Now().Add(24*time.Hour))
	if item.Status != StatusOpen {
		t.Errorf("status = %q, want open", item.Status)
	}
	if item.Priority != PriorityMedium {
		t.Errorf("priority = %q, want medium", item.Priority)
	}
}

func TestCreateFromExtraction_Success(t *testing.T) {
	svc, repo := newTestService()
	patientID := uuid.New()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	entries := []ExtractionItem{
		{Category: "referral", Description: "cardiology referral follow-up", DueInDays: 7, Priority: "high", OwnerRole: "care_coordinator"},
		{Category: "labs", Description: "repeat A1C", DueInDays: 30, Priority: "medium", OwnerRole: "nurse"},
	}
	items, err := svc.CreateFromExtraction(context.Background(), patientID, entries, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || len(repo.items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if want := now.AddDate(0, 0, 7); !items[0].DueAt.Equal(want) {
		t.Errorf("due_at = %v, want %v", items[0].DueAt, want)
	}
	if items[0].Status != StatusOpen {
		t.Errorf("status = %q, want open", items[0].Status)
	}
}

func TestCreateFromExtraction_BadEntryRejectsWholePayload(t *testing.T) {
	svc, repo := newTestService()
	entries := []ExtractionItem{
		{Category: "labs", Description: "repeat A1C", DueInDays: 7, OwnerRole: "nurse"},
		{Category: "", Description: "missing category", DueInDays: 7, OwnerRole: "nurse"},
	}
	_, err := svc.CreateFromExtraction(context.Background(), uuid.New(), entries, time.Now().UTC())
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(repo.items) != 0 {
		t.Error("a rejected payload must not write any item")
	}
}

// -- Lifecycle --

func TestLifecycle_OpenStartComplete(t *testing.T) {
	svc, _ := newTestService()
	item := openItem(svc, t, uuid.New(), "labs", PriorityMedium, time.Now().Add(24*time.Hour))

	started, err := svc.Start(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started.Status != StatusInProgress {
		t.Errorf("status = %q, want in_progress", started.Status)
	}

	done, err := svc.Complete(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.Status != StatusDone {
		t.Errorf("status = %q, want done", done.Status)
	}

	if _, err := svc.Complete(context.Background(), item.ID); !apperr.IsInvalidTransition(err) {
		t.Errorf("expected invalid transition on terminal item, got %v", err)
	}
}

func TestStart_OnlyFromOpen(t *testing.T) {
	svc, _ := newTestService()
	item := openItem(svc, t, uuid.New(), "labs", PriorityMedium, time.Now().Add(24*time.Hour))

	if _, err := svc.Start(context.Background(), item.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Start(context.Background(), item.ID); !apperr.IsInvalidTransition(err) {
		t.Errorf("expected invalid transition starting an in_progress item, got %v", err)
	}
}

func TestDismiss_RequiresReason(t *testing.T) {
	svc, repo := newTestService()
	item := openItem(svc, t, uuid.New(), "labs", PriorityMedium, time.Now().Add(24*time.Hour))

	if _, err := svc.Dismiss(context.Background(), item.ID, "  "); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	stored, _ := repo.Get(context.Background(), item.ID)
	if stored.Status != StatusOpen {
		t.Error("rejected dismissal must leave the item open")
	}

	dismissed, err := svc.Dismiss(context.Background(), item.ID, "duplicate entry")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dismissed.Status != StatusDismissed || dismissed.ClosureReason == nil || *dismissed.ClosureReason != "duplicate entry" {
		t.Errorf("expected dismissed with reason, got %+v", dismissed)
	}
}

func TestAssign_TerminalRejected(t *testing.T) {
	svc, _ := newTestService()
	item := openItem(svc, t, uuid.New(), "labs", PriorityMedium, time.Now().Add(24*time.Hour))

	assigned, err := svc.Assign(context.Background(), item.ID, "nurse-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assigned.AssignedTo == nil || *assigned.AssignedTo != "nurse-7" {
		t.Errorf("assigned_to = %v, want nurse-7", assigned.AssignedTo)
	}

	if _, err := svc.Complete(context.Background(), item.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Assign(context.Background(), item.ID, "nurse-8"); !apperr.IsInvalidTransition(err) {
		t.Errorf("expected invalid transition assigning a done item, got %v", err)
	}
}

// -- Slip check --

func TestSlipCheck_Consistency(t *testing.T) {
	svc, _ := newTestService()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	patientID := uuid.New()

	overdueHigh := openItem(svc, t, patientID, "labs", PriorityHigh, now.Add(-48*time.Hour))
	openItem(svc, t, patientID, "labs", PriorityLow, now.Add(-24*time.Hour))
	openItem(svc, t, patientID, CategoryReferral, PriorityMedium, now.Add(72*time.Hour))
	future := openItem(svc, t, patientID, "labs", PriorityHigh, now.Add(24*time.Hour))

	// One assigned, one completed: completed items leave every counter.
	if _, err := svc.Assign(context.Background(), overdueHigh.ID, "nurse-7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Complete(context.Background(), future.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, err := svc.SlipCheck(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.OpenCount != 3 {
		t.Errorf("open_count = %d, want 3", s.OpenCount)
	}
	if s.OverdueCount != 2 {
		t.Errorf("overdue_count = %d, want 2", s.OverdueCount)
	}
	if s.UnassignedCount != 2 {
		t.Errorf("unassigned_count = %d, want 2", s.UnassignedCount)
	}
	if s.HighPriorityOverdue != 1 {
		t.Errorf("high_priority_overdue = %d, want 1", s.HighPriorityOverdue)
	}
	if s.ReferralsWithoutAppointments != 1 {
		t.Errorf("referrals_without_appointments = %d, want 1", s.ReferralsWithoutAppointments)
	}

	if s.OverdueCount > s.OpenCount {
		t.Error("overdue_count must not exceed open_count")
	}
	if s.HighPriorityOverdue > s.OverdueCount {
		t.Error("high_priority_overdue must not exceed overdue_count")
	}
}

func TestLinkAppointment_ClearsReferralCounter(t *testing.T) {
	svc, _ := newTestService()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	referral := openItem(svc, t, uuid.New(), CategoryReferral, PriorityHigh, now.Add(72*time.Hour))

	if err := svc.LinkAppointment(context.Background(), referral.ID, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := svc.SlipCheck(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ReferralsWithoutAppointments != 0 {
		t.Errorf("referrals_without_appointments = %d, want 0", s.ReferralsWithoutAppointments)
	}
}
