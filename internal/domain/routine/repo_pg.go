package routine

import (
	"context"
	"errors"

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

const routineCols = `id, patient_id, name, type, priority, active,
	quiet_start, quiet_end, timezone, created_at, updated_at`

func scanRoutine(row pgx.Row) (*Routine, error) {
	var rt Routine
	err := row.Scan(&rt.ID, &rt.PatientID, &rt.Name, &rt.Type, &rt.Priority,
		&rt.Active, &rt.QuietStart, &rt.QuietEnd, &rt.Timezone,
		&rt.CreatedAt, &rt.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("routine")
	}
	return &rt, err
}

func (r *repoPG) CreateRoutine(ctx context.Context, rt *Routine) error {
	rt.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO routine (id, patient_id, name, type, priority, active,
			quiet_start, quiet_end, timezone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rt.ID, rt.PatientID, rt.Name, rt.Type, rt.Priority, rt.Active,
		rt.QuietStart, rt.QuietEnd, rt.Timezone)
	return err
}

func (r *repoPG) GetRoutine(ctx context.Context, id uuid.UUID) (*Routine, error) {
	return scanRoutine(r.conn(ctx).QueryRow(ctx,
		`SELECT `+routineCols+` FROM routine WHERE id = $1`, id))
}

func (r *repoPG) UpdateRoutine(ctx context.Context, rt *Routine) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE routine SET name=$2, type=$3, priority=$4,
			quiet_start=$5, quiet_end=$6, timezone=$7, updated_at=NOW()
		WHERE id = $1`,
		rt.ID, rt.Name, rt.Type, rt.Priority, rt.QuietStart, rt.QuietEnd, rt.Timezone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("routine %s", rt.ID)
	}
	return nil
}

func (r *repoPG) DeactivateRoutine(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE routine SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("routine %s", id)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Routine, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM routine WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+routineCols+` FROM routine
		WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Routine
	for rows.Next() {
		rt, err := scanRoutine(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rt)
	}
	return items, total, nil
}

func (r *repoPG) GetActiveGateRoutine(ctx context.Context, patientID uuid.UUID) (*Routine, error) {
	return scanRoutine(r.conn(ctx).QueryRow(ctx, `
		SELECT `+routineCols+` FROM routine
		WHERE patient_id = $1 AND type = 'gate' AND active = TRUE
		ORDER BY created_at LIMIT 1`, patientID))
}

const ruleCols = `id, routine_id, weekdays, time_of_day, lead_minutes,
	trigger_kind, active, created_at, updated_at`

func scanRule(row pgx.Row) (*ScheduleRule, error) {
	var sr ScheduleRule
	err := row.Scan(&sr.ID, &sr.RoutineID, &sr.Weekdays, &sr.TimeOfDay,
		&sr.LeadMinutes, &sr.TriggerKind, &sr.Active, &sr.CreatedAt, &sr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("schedule rule")
	}
	return &sr, err
}

func (r *repoPG) CreateRule(ctx context.Context, rule *ScheduleRule) error {
	rule.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO schedule_rule (id, routine_id, weekdays, time_of_day,
			lead_minutes, trigger_kind, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rule.ID, rule.RoutineID, rule.Weekdays, rule.TimeOfDay,
		rule.LeadMinutes, rule.TriggerKind, rule.Active)
	return err
}

func (r *repoPG) GetRule(ctx context.Context, id uuid.UUID) (*ScheduleRule, error) {
	return scanRule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ruleCols+` FROM schedule_rule WHERE id = $1`, id))
}

func (r *repoPG) UpdateRule(ctx context.Context, rule *ScheduleRule) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule_rule SET weekdays=$2, time_of_day=$3, lead_minutes=$4,
			trigger_kind=$5, updated_at=NOW()
		WHERE id = $1`,
		rule.ID, rule.Weekdays, rule.TimeOfDay, rule.LeadMinutes, rule.TriggerKind)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("schedule rule %s", rule.ID)
	}
	return nil
}

func (r *repoPG) DeactivateRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE schedule_rule SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("schedule rule %s", id)
	}
	return nil
}

func (r *repoPG) ListRulesByRoutine(ctx context.Context, routineID uuid.UUID) ([]*ScheduleRule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+ruleCols+` FROM schedule_rule
		WHERE routine_id = $1 ORDER BY created_at`, routineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ScheduleRule
	for rows.Next() {
		sr, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sr)
	}
	return items, nil
}

func (r *repoPG) ListActiveRulesForPatient(ctx context.Context, patientID uuid.UUID) ([]*ActiveRule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT sr.id, sr.routine_id, sr.weekdays, sr.time_of_day, sr.lead_minutes,
			sr.trigger_kind, sr.active, sr.created_at, sr.updated_at,
			rt.name, rt.type, rt.priority, rt.timezone
		FROM schedule_rule sr
		JOIN routine rt ON rt.id = sr.routine_id
		WHERE rt.patient_id = $1 AND rt.active = TRUE AND sr.active = TRUE
		ORDER BY sr.created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ActiveRule
	for rows.Next() {
		var ar ActiveRule
		if err := rows.Scan(&ar.Rule.ID, &ar.Rule.RoutineID, &ar.Rule.Weekdays,
			&ar.Rule.TimeOfDay, &ar.Rule.LeadMinutes, &ar.Rule.TriggerKind,
			&ar.Rule.Active, &ar.Rule.CreatedAt, &ar.Rule.UpdatedAt,
			&ar.RoutineName, &ar.RoutineType, &ar.Priority, &ar.Timezone); err != nil {
			return nil, err
		}
		items = append(items, &ar)
	}
	return items, nil
}

func (r *repoPG) ListPatientsWithActiveRules(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT rt.patient_id
		FROM routine rt
		JOIN schedule_rule sr ON sr.routine_id = rt.id
		WHERE rt.active = TRUE AND sr.active = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *repoPG) CreateStep(ctx context.Context, step *RoutineStep) error {
	step.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO routine_step (id, routine_id, label, is_optional, step_order)
		VALUES ($1,$2,$3,$4,$5)`,
		step.ID, step.RoutineID, step.Label, step.IsOptional, step.StepOrder)
	return err
}

func (r *repoPG) ListSteps(ctx context.Context, routineID uuid.UUID) ([]*RoutineStep, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, routine_id, label, is_optional, step_order, created_at
		FROM routine_step WHERE routine_id = $1 ORDER BY step_order`, routineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RoutineStep
	for rows.Next() {
		var st RoutineStep
		if err := rows.Scan(&st.ID, &st.RoutineID, &st.Label, &st.IsOptional,
			&st.StepOrder, &st.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &st)
	}
	return items, nil
}

func (r *repoPG) RelabelStep(ctx context.Context, stepID uuid.UUID, label string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE routine_step SET label = $2 WHERE id = $1`, stepID, label)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("routine step %s", stepID)
	}
	return nil
}
