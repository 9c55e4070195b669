package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

// CursorStore persists the date of the last attempted record.
// Load reports ok=false when no cursor has been saved yet.
type CursorStore interface {
	Load(ctx context.Context) (cursor string, ok bool, err error)
	Save(ctx context.Context, cursor string) error
}

// AuditLog is an append-only record of every attempted submission.
type AuditLog interface {
	Append(ctx context.Context, entry types.AuditEntry) error
}

// UploadRecord describes a completed file attachment, keyed by the
// submission's idempotency key.
type UploadRecord struct {
	Key          string
	CourseID     string
	AssignmentID string
	HostUserID   int64
	FileID       int64
	AttachedAt   time.Time
}

// UploadLedger remembers which submissions already had their bundle
// attached so a replayed record does not upload it twice.
type UploadLedger interface {
	Lookup(ctx context.Context, key string) (UploadRecord, bool, error)
	Record(ctx context.Context, rec UploadRecord) error
}

// AuditPruner is implemented by audit logs that support retention.
type AuditPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditSummary aggregates recorded audit entries.
type AuditSummary struct {
	Total         int64
	Succeeded     int64
	Failed        int64
	LastAttempted time.Time
}

// AuditReader serves recent history for the status API.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]types.AuditEntry, error)
	Summary(ctx context.Context) (AuditSummary, error)
}
