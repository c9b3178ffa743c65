package audit

import (
	"context"

	"github.com/careloop/careloop/internal/platform/apperr"
)

type Service struct {
	entries Repository
}

func NewService(entries Repository) *Service {
	return &Service{entries: entries}
}

// Record appends one entry. There is no update or delete: the log is the
// compliance trail.
func (s *Service) Record(ctx context.Context, e *Entry) error {
	if e.EntityKind == "" {
		return apperr.Validationf("entity_kind is required")
	}
	if e.Action == "" {
		return apperr.Validationf("action is required")
	}
	return s.entries.Create(ctx, e)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	return s.entries.List(ctx, f, limit, offset)
}
