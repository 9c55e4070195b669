package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/gradebridge/internal/db"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store"
)

type Ledger struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewLedger(db *sql.DB, writer *dbpkg.Worker) *Ledger {
	return &Ledger{db: db, writer: writer}
}

func (l *Ledger) Lookup(ctx context.Context, key string) (store.UploadRecord, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return store.UploadRecord{}, false, nil
	}

	rec := store.UploadRecord{Key: key}
	var attachedMs int64
	err := l.db.QueryRowContext(ctx, `
SELECT course_id, assignment_id, host_user_id, file_id, attached_at_ms
FROM upload_ledger
WHERE idempotency_key = ?;
`, key).Scan(&rec.CourseID, &rec.AssignmentID, &rec.HostUserID, &rec.FileID, &attachedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.UploadRecord{}, false, nil
	}
	if err != nil {
		return store.UploadRecord{}, false, fmt.Errorf("Ledger.Lookup: %w", err)
	}
	rec.AttachedAt = time.UnixMilli(attachedMs).UTC()
	return rec, true, nil
}

// Record stores rec.  A second record for the same key replaces the first,
// which only happens if an attach was repeated outside the ledger check.
func (l *Ledger) Record(ctx context.Context, rec store.UploadRecord) error {
	rec.Key = strings.TrimSpace(rec.Key)
	if rec.Key == "" {
		return nil
	}
	if rec.AttachedAt.IsZero() {
		rec.AttachedAt = time.Now().UTC()
	}

	return l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO upload_ledger(
  idempotency_key, course_id, assignment_id, host_user_id, file_id, attached_at_ms
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(idempotency_key) DO UPDATE SET
  course_id      = excluded.course_id,
  assignment_id  = excluded.assignment_id,
  host_user_id   = excluded.host_user_id,
  file_id        = excluded.file_id,
  attached_at_ms = excluded.attached_at_ms;
`, rec.Key, rec.CourseID, rec.AssignmentID, rec.HostUserID, rec.FileID, rec.AttachedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("Ledger.Record: %w", err)
		}
		return nil
	})
}
