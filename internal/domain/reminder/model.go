package reminder

import (
	"time"

	"github.com/google/uuid"
)

// Reminder instance statuses. pending → sent → {confirmed, snoozed, skipped}
// → escalated → expired. confirmed, skipped, and expired are terminal.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusConfirmed = "confirmed"
	StatusSnoozed   = "snoozed"
	StatusSkipped   = "skipped"
	StatusEscalated = "escalated"
	StatusExpired   = "expired"
)

// Response types.
const (
	ResponseTaken   = "taken"
	ResponseSnoozed = "snoozed"
	ResponseSkipped = "skipped"
)

// Completion kinds.
const (
	CompletionConfirmed = "confirmed"
	CompletionSnoozed   = "snoozed"
	CompletionSkipped   = "skipped"
)

// Actor kinds on a completion record.
const (
	ActorPatient = "patient"
	ActorStaff   = "staff"
)

// ReminderInstance maps to the reminder_instance table: one concrete
// occurrence of a schedule rule on one calendar day. The routine name, type,
// and priority are copied in at generation time so classification and
// response checks read one row. Instances are never deleted, only
// terminalized.
type ReminderInstance struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	RoutineID       uuid.UUID  `db:"routine_id" json:"routine_id"`
	ScheduleRuleID  uuid.UUID  `db:"schedule_rule_id" json:"schedule_rule_id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	CalendarDay     string     `db:"calendar_day" json:"calendar_day"`
	ScheduledAt     time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status          string     `db:"status" json:"status"`
	RoutineName     string     `db:"routine_name" json:"routine_name"`
	RoutineType     string     `db:"routine_type" json:"routine_type"`
	Priority        string     `db:"priority" json:"priority"`
	EscalationLevel int        `db:"escalation_level" json:"escalation_level"`
	RespondedAt     *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	ResponseType    *string    `db:"response_type" json:"response_type,omitempty"`
	SkipReason      *string    `db:"skip_reason" json:"skip_reason,omitempty"`
	SnoozeUntil     *time.Time `db:"snooze_until" json:"snooze_until,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether no further response may be applied.
func (ri *ReminderInstance) IsTerminal() bool {
	switch ri.Status {
	case StatusConfirmed, StatusSkipped, StatusExpired:
		return true
	}
	return false
}

// RoutineCompletion maps to the routine_completion table: the append-only
// record of who acted on what. Nothing ever mutates these rows.
type RoutineCompletion struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	RoutineID          uuid.UUID  `db:"routine_id" json:"routine_id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	ReminderInstanceID *uuid.UUID `db:"reminder_instance_id" json:"reminder_instance_id,omitempty"`
	RoutineStepID      *uuid.UUID `db:"routine_step_id" json:"routine_step_id,omitempty"`
	Kind               string     `db:"kind" json:"kind"`
	ActorID            string     `db:"actor_id" json:"actor_id"`
	ActorKind          string     `db:"actor_kind" json:"actor_kind"`
	CompletedAt        time.Time  `db:"completed_at" json:"completed_at"`
}

// Response is a user action applied to a reminder instance.
type Response struct {
	Type          string `json:"type"`
	SnoozeMinutes int    `json:"snooze_minutes,omitempty"`
	SkipReason    string `json:"skip_reason,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
	ActorKind     string `json:"actor_kind,omitempty"`
}

// GateStatus is the computed state of a patient's daily gate checklist.
type GateStatus struct {
	Applies      bool       `json:"applies"`
	Cleared      bool       `json:"cleared"`
	RoutineID    *uuid.UUID `json:"routine_id,omitempty"`
	MissingSteps []string   `json:"missing_steps"`
	DoneSteps    []string   `json:"done_steps"`
}

// DayKey formats t in loc as the calendar-day key used by the generator's
// uniqueness constraint.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
