package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/careloop/careloop/internal/platform/apperr"
)

type mockRepo struct {
	entries []*Entry
}

func (m *mockRepo) Create(_ context.Context, e *Entry) error {
	e.ID = uuid.New()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	var r []*Entry
	for _, e := range m.entries {
		if f.EntityKind != "" && e.EntityKind != f.EntityKind {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		r = append(r, e)
	}
	return r, len(r), nil
}

func TestRecord_Success(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)

	e := &Entry{
		EntityKind: "escalation",
		EntityID:   uuid.New(),
		Action:     "escalation.triggered",
		ActorID:    "sweeper",
		Detail:     map[string]string{"level": "1", "target_role": "nurse"},
	}
	if err := svc.Record(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
}

func TestRecord_Validation(t *testing.T) {
	svc := NewService(&mockRepo{})

	if err := svc.Record(context.Background(), &Entry{Action: "x"}); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for missing entity_kind, got %v", err)
	}
	if err := svc.Record(context.Background(), &Entry{EntityKind: "escalation"}); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for missing action, got %v", err)
	}
}

func TestList_FiltersByAction(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)

	for _, action := range []string{"escalation.triggered", "response.taken", "response.taken"} {
		e := &Entry{EntityKind: "reminder_instance", EntityID: uuid.New(), Action: action}
		if err := svc.Record(context.Background(), e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	items, total, err := svc.List(context.Background(), Filter{Action: "response.taken"}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 entries, got %d", total)
	}
}
