package types

import "time"

// AuditEntry is one line of the append-only audit log.  The first three
// fields are the stable on-disk shape; the rest are optional context.
type AuditEntry struct {
	Date        string    `json:"date"`
	Payload     string    `json:"payload"`
	Success     bool      `json:"success"`
	Reason      string    `json:"reason,omitempty"`
	CycleID     string    `json:"cycle_id,omitempty"`
	AttemptedAt time.Time `json:"attempted_at,omitzero"`
}
