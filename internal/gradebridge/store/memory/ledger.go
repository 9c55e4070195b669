package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store"
)

type Ledger struct {
	mu   sync.RWMutex
	data map[string]store.UploadRecord
}

func NewLedger() *Ledger {
	return &Ledger{data: make(map[string]store.UploadRecord)}
}

func (l *Ledger) Lookup(_ context.Context, key string) (store.UploadRecord, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.data[strings.TrimSpace(key)]
	return rec, ok, nil
}

func (l *Ledger) Record(_ context.Context, rec store.UploadRecord) error {
	rec.Key = strings.TrimSpace(rec.Key)
	if rec.Key == "" {
		return nil
	}
	if rec.AttachedAt.IsZero() {
		rec.AttachedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[rec.Key] = rec
	return nil
}

// Len returns the number of recorded uploads.  Test-only helper.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.data)
}
