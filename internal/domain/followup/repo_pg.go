package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careloop/careloop/internal/platform/apperr"
	"github.com/careloop/careloop/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const itemCols = `id, patient_id, category, description, due_at, priority,
	status, owner_role, assigned_to, closure_reason, appointment_id,
	created_at, updated_at`

func scanItem(row pgx.Row) (*FollowupItem, error) {
	var f FollowupItem
	err := row.Scan(&f.ID, &f.PatientID, &f.Category, &f.Description, &f.DueAt,
		&f.Priority, &f.Status, &f.OwnerRole, &f.AssignedTo, &f.ClosureReason,
		&f.AppointmentID, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("followup item")
	}
	return &f, err
}

func (r *repoPG) Create(ctx context.Context, item *FollowupItem) error {
	item.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO followup_item (id, patient_id, category, description, due_at,
			priority, status, owner_role, assigned_to)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		item.ID, item.PatientID, item.Category, item.Description, item.DueAt,
		item.Priority, item.Status, item.OwnerRole, item.AssignedTo)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*FollowupItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM followup_item WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*FollowupItem, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		where += fmt.Sprintf(" AND "+clause, n)
		args = append(args, v)
	}
	if f.PatientID != uuid.Nil {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.OwnerRole != "" {
		add("owner_role = $%d", f.OwnerRole)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM followup_item "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM followup_item %s ORDER BY due_at LIMIT $%d OFFSET $%d",
		itemCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*FollowupItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, nil
}

func (r *repoPG) TransitionStatus(ctx context.Context, id uuid.UUID, allowedFrom []string, to string, closureReason *string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE followup_item
		SET status=$2, closure_reason=COALESCE($3, closure_reason), updated_at=NOW()
		WHERE id = $1 AND status = ANY($4)`,
		id, to, closureReason, allowedFrom)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Assign(ctx context.Context, id uuid.UUID, assignee string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE followup_item SET assigned_to=$2, updated_at=NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, assignee, []string{StatusOpen, StatusInProgress})
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) LinkAppointment(ctx context.Context, id uuid.UUID, appointmentID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE followup_item SET appointment_id=$2, updated_at=NOW()
		WHERE id = $1`, id, appointmentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SlipCheck runs as a single statement so every counter reflects the same
// snapshot.
func (r *repoPG) SlipCheck(ctx context.Context, now time.Time) (*SlipCheckSummary, error) {
	var s SlipCheckSummary
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE due_at < $1),
			COUNT(*) FILTER (WHERE assigned_to IS NULL),
			COUNT(*) FILTER (WHERE priority = 'high' AND due_at < $1),
			COUNT(*) FILTER (WHERE category = 'referral' AND appointment_id IS NULL)
		FROM followup_item
		WHERE status IN ('open', 'in_progress')`, now).
		Scan(&s.OpenCount, &s.OverdueCount, &s.UnassignedCount,
			&s.HighPriorityOverdue, &s.ReferralsWithoutAppointments)
	if err != nil {
		return nil, err
	}
	s.ComputedAt = now
	return &s, nil
}
