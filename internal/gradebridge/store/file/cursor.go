// Package file implements the cursor and audit stores on the local
// filesystem.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CursorStore keeps the cursor as a single trimmed line of text.
type CursorStore struct {
	path string
}

func NewCursorStore(path string) *CursorStore {
	return &CursorStore{path: path}
}

func (s *CursorStore) Path() string { return s.path }

func (s *CursorStore) Load(_ context.Context) (string, bool, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cursor %s: %w", s.path, err)
	}
	cursor := strings.TrimSpace(string(b))
	if cursor == "" {
		return "", false, nil
	}
	return cursor, true, nil
}

// Save writes the cursor to a temp file next to the target and renames it
// into place, so a crash mid-write leaves the previous cursor intact.
func (s *CursorStore) Save(_ context.Context, cursor string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir cursor dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create cursor temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(strings.TrimSpace(cursor) + "\n"); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write cursor temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync cursor temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close cursor temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("rename cursor: %w", err)
	}
	return nil
}
