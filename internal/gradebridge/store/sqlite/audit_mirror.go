package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/gradebridge/internal/db"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

// AuditMirror keeps a queryable copy of the audit log.  The JSONL file
// stays the record of truth; the mirror serves the status API and can be
// pruned.
type AuditMirror struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuditMirror(db *sql.DB, writer *dbpkg.Worker) *AuditMirror {
	return &AuditMirror{db: db, writer: writer}
}

func (m *AuditMirror) Append(ctx context.Context, entry types.AuditEntry) error {
	if entry.AttemptedAt.IsZero() {
		entry.AttemptedAt = time.Now().UTC()
	}

	var success int
	if entry.Success {
		success = 1
	}

	var cycleID, reason any
	if entry.CycleID != "" {
		cycleID = entry.CycleID
	}
	if entry.Reason != "" {
		reason = entry.Reason
	}

	return m.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_entries(
  cycle_id, record_date, payload, success, reason, attempted_at_ms
) VALUES (?, ?, ?, ?, ?, ?);
`, cycleID, entry.Date, entry.Payload, success, reason, entry.AttemptedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("AuditMirror.Append: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit entries, newest first.
func (m *AuditMirror) Recent(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := m.db.QueryContext(ctx, `
SELECT cycle_id, record_date, payload, success, reason, attempted_at_ms
FROM audit_entries
ORDER BY attempted_at_ms DESC, id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("AuditMirror.Recent: %w", err)
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var (
			e           types.AuditEntry
			cycleID     sql.NullString
			reason      sql.NullString
			success     int
			attemptedMs int64
		)
		if err := rows.Scan(&cycleID, &e.Date, &e.Payload, &success, &reason, &attemptedMs); err != nil {
			return nil, fmt.Errorf("AuditMirror.Recent scan: %w", err)
		}
		e.CycleID = cycleID.String
		e.Reason = reason.String
		e.Success = success == 1
		e.AttemptedAt = time.UnixMilli(attemptedMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (m *AuditMirror) Summary(ctx context.Context) (store.AuditSummary, error) {
	var (
		s      store.AuditSummary
		ok     sql.NullInt64
		lastMs sql.NullInt64
	)
	err := m.db.QueryRowContext(ctx, `
SELECT COUNT(*), SUM(success), MAX(attempted_at_ms)
FROM audit_entries;
`).Scan(&s.Total, &ok, &lastMs)
	if err != nil {
		return store.AuditSummary{}, fmt.Errorf("AuditMirror.Summary: %w", err)
	}
	s.Succeeded = ok.Int64
	s.Failed = s.Total - s.Succeeded
	if lastMs.Valid {
		s.LastAttempted = time.UnixMilli(lastMs.Int64).UTC()
	}
	return s, nil
}

// PruneOlderThan deletes mirror rows attempted before cutoff and returns
// the number removed.
func (m *AuditMirror) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := m.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM audit_entries
WHERE attempted_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("AuditMirror.PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
