package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

// AuditLog is an in-memory append-only audit log.
// It is intended for use in tests and dev environments.
type AuditLog struct {
	mu      sync.Mutex
	entries []types.AuditEntry
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) Append(_ context.Context, entry types.AuditEntry) error {
	if entry.AttemptedAt.IsZero() {
		entry.AttemptedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *AuditLog) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	var deleted int64
	for _, e := range l.entries {
		if e.AttemptedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return deleted, nil
}

// Entries returns a copy of all appended entries.  Test-only helper.
func (l *AuditLog) Entries() []types.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
