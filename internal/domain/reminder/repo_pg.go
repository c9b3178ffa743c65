package reminder

import (
	"context"
	"errors"
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

const instCols = `id, routine_id, schedule_rule_id, patient_id, calendar_day,
	scheduled_at, status, routine_name, routine_type, priority,
	escalation_level, responded_at, response_type, skip_reason, snooze_until,
	created_at, updated_at`

func scanInstance(row pgx.Row) (*ReminderInstance, error) {
	var ri ReminderInstance
	err := row.Scan(&ri.ID, &ri.RoutineID, &ri.ScheduleRuleID, &ri.PatientID,
		&ri.CalendarDay, &ri.ScheduledAt, &ri.Status, &ri.RoutineName,
		&ri.RoutineType, &ri.Priority, &ri.EscalationLevel, &ri.RespondedAt,
		&ri.ResponseType, &ri.SkipReason, &ri.SnoozeUntil,
		&ri.CreatedAt, &ri.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("reminder instance")
	}
	return &ri, err
}

func (r *repoPG) EnsureInstance(ctx context.Context, inst *ReminderInstance) (uuid.UUID, bool, error) {
	inst.ID = uuid.New()
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reminder_instance (id, routine_id, schedule_rule_id, patient_id,
			calendar_day, scheduled_at, status, routine_name, routine_type, priority)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (schedule_rule_id, calendar_day) DO NOTHING
		RETURNING id`,
		inst.ID, inst.RoutineID, inst.ScheduleRuleID, inst.PatientID,
		inst.CalendarDay, inst.ScheduledAt, inst.Status,
		inst.RoutineName, inst.RoutineType, inst.Priority).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, err
	}

	// Lost the race or already generated today: fetch the winner.
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT id FROM reminder_instance
		WHERE schedule_rule_id = $1 AND calendar_day = $2`,
		inst.ScheduleRuleID, inst.CalendarDay).Scan(&id)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, false, nil
}

func (r *repoPG) GetInstance(ctx context.Context, id uuid.UUID) (*ReminderInstance, error) {
	return scanInstance(r.conn(ctx).QueryRow(ctx,
		`SELECT `+instCols+` FROM reminder_instance WHERE id = $1`, id))
}

func (r *repoPG) ListForDay(ctx context.Context, patientID uuid.UUID, day string) ([]*ReminderInstance, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+instCols+` FROM reminder_instance
		WHERE patient_id = $1 AND calendar_day = $2
		ORDER BY scheduled_at`, patientID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ReminderInstance
	for rows.Next() {
		ri, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ri)
	}
	return items, nil
}

func (r *repoPG) ApplyResponse(ctx context.Context, inst *ReminderInstance, allowedFrom []string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminder_instance
		SET status=$2, responded_at=$3, response_type=$4, skip_reason=$5,
			snooze_until=$6, updated_at=NOW()
		WHERE id = $1 AND status = ANY($7)`,
		inst.ID, inst.Status, inst.RespondedAt, inst.ResponseType,
		inst.SkipReason, inst.SnoozeUntil, allowedFrom)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminder_instance SET status='sent', updated_at=NOW()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkEscalated(ctx context.Context, id uuid.UUID, level int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminder_instance
		SET status='escalated', escalation_level=GREATEST(escalation_level, $2),
			updated_at=NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, level, []string{StatusPending, StatusSent, StatusSnoozed, StatusEscalated})
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) CreateCompletion(ctx context.Context, comp *RoutineCompletion) error {
	comp.ID = uuid.New()
	if comp.CompletedAt.IsZero() {
		comp.CompletedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO routine_completion (id, routine_id, patient_id,
			reminder_instance_id, routine_step_id, kind, actor_id, actor_kind,
			completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		comp.ID, comp.RoutineID, comp.PatientID, comp.ReminderInstanceID,
		comp.RoutineStepID, comp.Kind, comp.ActorID, comp.ActorKind,
		comp.CompletedAt)
	return err
}

func (r *repoPG) ListCompletionsForDay(ctx context.Context, patientID uuid.UUID, dayStart, dayEnd time.Time) ([]*RoutineCompletion, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, routine_id, patient_id, reminder_instance_id, routine_step_id,
			kind, actor_id, actor_kind, completed_at
		FROM routine_completion
		WHERE patient_id = $1 AND completed_at >= $2 AND completed_at < $3
		ORDER BY completed_at`, patientID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RoutineCompletion
	for rows.Next() {
		var c RoutineCompletion
		if err := rows.Scan(&c.ID, &c.RoutineID, &c.PatientID,
			&c.ReminderInstanceID, &c.RoutineStepID, &c.Kind,
			&c.ActorID, &c.ActorKind, &c.CompletedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, nil
}
