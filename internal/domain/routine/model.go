package routine

import (
	"time"

	"github.com/google/uuid"
)

// Routine types.
const (
	TypeMedication = "medication"
	TypePickup     = "pickup"
	TypeHygiene    = "hygiene"
	TypeChore      = "chore"
	TypeGate       = "gate"
	TypeCustom     = "custom"
)

// Routine priorities.
const (
	PriorityCritical  = "critical"
	PriorityImportant = "important"
	PriorityFlexible  = "flexible"
)

// Schedule rule trigger kinds.
const (
	TriggerClock = "clock"
	TriggerEvent = "event"
)

// Routine maps to the routine table: a recurring obligation for one patient.
// Routines are deactivated, never hard-deleted, so completion history stays
// attributable.
type Routine struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	Name       string    `db:"name" json:"name"`
	Type       string    `db:"type" json:"type"`
	Priority   string    `db:"priority" json:"priority"`
	Active     bool      `db:"active" json:"active"`
	QuietStart *string   `db:"quiet_start" json:"quiet_start,omitempty"`
	QuietEnd   *string   `db:"quiet_end" json:"quiet_end,omitempty"`
	Timezone   string    `db:"timezone" json:"timezone"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// ScheduleRule maps to the schedule_rule table: the recurrence definition for
// a routine. Weekdays follow time.Weekday numbering (0 = Sunday). A rule with
// no weekdays never fires and is rejected at validation time.
type ScheduleRule struct {
	ID          uuid.UUID `db:"id" json:"id"`
	RoutineID   uuid.UUID `db:"routine_id" json:"routine_id"`
	Weekdays    []int     `db:"weekdays" json:"weekdays"`
	TimeOfDay   string    `db:"time_of_day" json:"time_of_day"`
	LeadMinutes int       `db:"lead_minutes" json:"lead_minutes"`
	TriggerKind string    `db:"trigger_kind" json:"trigger_kind"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// RoutineStep maps to the routine_step table. Steps belong to gate routines
// only; once referenced by completions they are immutable except for the
// label.
type RoutineStep struct {
	ID         uuid.UUID `db:"id" json:"id"`
	RoutineID  uuid.UUID `db:"routine_id" json:"routine_id"`
	Label      string    `db:"label" json:"label"`
	IsOptional bool      `db:"is_optional" json:"is_optional"`
	StepOrder  int       `db:"step_order" json:"step_order"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ActiveRule is a schedule rule joined with the routine fields the instance
// generator and classifier need.
type ActiveRule struct {
	Rule        ScheduleRule `json:"rule"`
	RoutineName string       `json:"routine_name"`
	RoutineType string       `json:"routine_type"`
	Priority    string       `json:"priority"`
	Timezone    string       `json:"timezone"`
}
