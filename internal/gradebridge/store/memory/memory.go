package memory

import (
	"context"
	"sync"
)

// CursorStore keeps the cursor in process memory.  Used by tests and
// one-shot dry runs.
type CursorStore struct {
	mu     sync.RWMutex
	cursor string
	ok     bool
	saves  int
}

func NewCursorStore() *CursorStore {
	return &CursorStore{}
}

// NewCursorStoreAt returns a store that already holds cursor.
func NewCursorStoreAt(cursor string) *CursorStore {
	return &CursorStore{cursor: cursor, ok: true}
}

func (s *CursorStore) Load(_ context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, s.ok, nil
}

func (s *CursorStore) Save(_ context.Context, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	s.ok = true
	s.saves++
	return nil
}

// Saves returns how many times Save was called.  Test-only helper.
func (s *CursorStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
