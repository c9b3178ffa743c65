package escalation

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusTriggered = "triggered"
	StatusResolved  = "resolved"
)

// Escalation is a timed "if still unresolved by this instant, notify this
// role" directive. It is tied to exactly one parent: either a followup item
// or a reminder instance.
type Escalation struct {
	ID                 uuid.UUID  `json:"id"`
	FollowupItemID     *uuid.UUID `json:"followup_item_id,omitempty"`
	ReminderInstanceID *uuid.UUID `json:"reminder_instance_id,omitempty"`
	Level              int        `json:"level"`
	TargetRole         string     `json:"target_role"`
	TriggerAt          time.Time  `json:"trigger_at"`
	Status             string     `json:"status"`
	TriggeredAt        *time.Time `json:"triggered_at,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SweepResult reports what one sweeper pass did.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Triggered int `json:"triggered"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
}
