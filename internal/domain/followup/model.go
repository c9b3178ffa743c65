package followup

import (
	"time"

	"github.com/google/uuid"
)

// Followup item statuses. open → in_progress → done | dismissed; done and
// dismissed are terminal.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusDismissed  = "dismissed"
)

// Followup priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// CategoryReferral is the category the slip check inspects for missing
// appointment links. Other categories are free-form.
const CategoryReferral = "referral"

// FollowupItem maps to the followup_item table: a longer-lived clinical
// obligation, structurally parallel to a reminder instance. Items arrive
// from upstream extraction or manual entry and are terminal once done or
// dismissed.
type FollowupItem struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	Category      string     `db:"category" json:"category"`
	Description   string     `db:"description" json:"description"`
	DueAt         time.Time  `db:"due_at" json:"due_at"`
	Priority      string     `db:"priority" json:"priority"`
	Status        string     `db:"status" json:"status"`
	OwnerRole     string     `db:"owner_role" json:"owner_role"`
	AssignedTo    *string    `db:"assigned_to" json:"assigned_to,omitempty"`
	ClosureReason *string    `db:"closure_reason" json:"closure_reason,omitempty"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the item's lifecycle is finished.
func (f *FollowupItem) IsTerminal() bool {
	return f.Status == StatusDone || f.Status == StatusDismissed
}

// ExtractionItem is one entry of an upstream extraction payload. The engine
// performs no language interpretation; it treats these as ordinary creation
// requests.
type ExtractionItem struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	DueInDays   int    `json:"due_in_days"`
	Priority    string `json:"priority"`
	OwnerRole   string `json:"owner_role"`
}

// SlipCheckSummary is a derived snapshot, never stored. All counts come from
// one consistent read, so overdue <= open and high_priority_overdue <=
// overdue always hold.
type SlipCheckSummary struct {
	OpenCount                    int       `json:"open_count"`
	OverdueCount                 int       `json:"overdue_count"`
	UnassignedCount              int       `json:"unassigned_count"`
	HighPriorityOverdue          int       `json:"high_priority_overdue"`
	ReferralsWithoutAppointments int       `json:"referrals_without_appointments"`
	ComputedAt                   time.Time `json:"computed_at"`
}
