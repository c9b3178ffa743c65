package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry maps to the audit_log table. Entries are append-only: one per
// escalation trigger and one per terminal reminder response. Nothing in the
// engine reads them back except the list endpoint.
type Entry struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	EntityKind string            `db:"entity_kind" json:"entity_kind"`
	EntityID   uuid.UUID         `db:"entity_id" json:"entity_id"`
	PatientID  *uuid.UUID        `db:"patient_id" json:"patient_id,omitempty"`
	Action     string            `db:"action" json:"action"`
	ActorID    string            `db:"actor_id" json:"actor_id"`
	Detail     map[string]string `db:"detail" json:"detail,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}
