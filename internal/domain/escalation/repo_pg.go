package escalation

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

const escCols = `id, followup_item_id, reminder_instance_id, level, target_role,
	trigger_at, status, triggered_at, resolved_at, created_at, updated_at`

func scanEscalation(row pgx.Row) (*Escalation, error) {
	var e Escalation
	err := row.Scan(&e.ID, &e.FollowupItemID, &e.ReminderInstanceID, &e.Level,
		&e.TargetRole, &e.TriggerAt, &e.Status, &e.TriggeredAt, &e.ResolvedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("escalation")
	}
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, esc *Escalation) error {
	esc.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO escalation (id, followup_item_id, reminder_instance_id,
			level, target_role, trigger_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		esc.ID, esc.FollowupItemID, esc.ReminderInstanceID,
		esc.Level, esc.TargetRole, esc.TriggerAt, esc.Status)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Escalation, error) {
	return scanEscalation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+escCols+` FROM escalation WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Escalation, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		where += fmt.Sprintf(" AND "+clause, n)
		args = append(args, v)
	}
	if f.TargetRole != "" {
		add("target_role = $%d", f.TargetRole)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.FollowupItemID != uuid.Nil {
		add("followup_item_id = $%d", f.FollowupItemID)
	}
	if f.ReminderInstanceID != uuid.Nil {
		add("reminder_instance_id = $%d", f.ReminderInstanceID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM escalation "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM escalation %s ORDER BY trigger_at LIMIT $%d OFFSET $%d",
		escCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var escs []*Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, 0, err
		}
		escs = append(escs, e)
	}
	return escs, total, nil
}

func (r *repoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Escalation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+escCols+` FROM escalation
		WHERE status = 'pending' AND trigger_at <= $1
		ORDER BY trigger_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var escs []*Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		escs = append(escs, e)
	}
	return escs, nil
}

func (r *repoPG) MaxLevelForParent(ctx context.Context, followupItemID, reminderInstanceID *uuid.UUID) (int, error) {
	var max int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(level), 0) FROM escalation
		WHERE ($1::uuid IS NOT NULL AND followup_item_id = $1)
		   OR ($2::uuid IS NOT NULL AND reminder_instance_id = $2)`,
		followupItemID, reminderInstanceID).Scan(&max)
	return max, err
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, allowedFrom []string, to string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE escalation
		SET status = $2,
			triggered_at = CASE WHEN $2 = 'triggered' THEN $3 ELSE triggered_at END,
			resolved_at  = CASE WHEN $2 = 'resolved'  THEN $3 ELSE resolved_at  END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)`,
		id, to, at, allowedFrom)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
