package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/canvas"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

func silentLogger() zerolog.Logger {
	return zerolog.Nop()
}

func ptr(f float64) *float64 { return &f }

// fakeHost is an in-memory grading host that records every call.
type fakeHost struct {
	mu      sync.Mutex
	rosters map[string]map[string]int64
	fail    map[string]error
	calls   []string
	grades  []float64
	uploads [][]byte
	nextID  int64
}

func newFakeHost(rosters map[string]map[string]int64) *fakeHost {
	return &fakeHost{rosters: rosters, fail: make(map[string]error), nextID: 500}
}

func (h *fakeHost) record(op string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, op)
	if err, ok := h.fail[op]; ok {
		return err
	}
	return nil
}

func (h *fakeHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHost) LookupRoster(_ context.Context, courseID string) (map[string]int64, error) {
	if err := h.record("lookup:" + courseID); err != nil {
		return nil, err
	}
	return h.rosters[courseID], nil
}

func (h *fakeHost) PostGrade(_ context.Context, courseID, assignmentID string, userID int64, points float64) error {
	if err := h.record("grade"); err != nil {
		return err
	}
	h.mu.Lock()
	h.grades = append(h.grades, points)
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) RequestUploadSlot(_ context.Context, courseID, assignmentID string, userID int64, filename string) (canvas.UploadSlot, error) {
	if err := h.record("slot"); err != nil {
		return canvas.UploadSlot{}, err
	}
	return canvas.UploadSlot{URL: "https://upload.example/" + filename}, nil
}

func (h *fakeHost) UploadBytes(_ context.Context, slot canvas.UploadSlot, filename string, data []byte) (int64, error) {
	if err := h.record("upload"); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uploads = append(h.uploads, data)
	h.nextID++
	return h.nextID, nil
}

func (h *fakeHost) AttachAndClear(_ context.Context, courseID, assignmentID string, userID int64, fileID int64, comment string) error {
	return h.record("attach")
}

func hostFailure(op string) error {
	return &canvas.HostError{Op: op, StatusCode: 500, Err: errors.New("boom")}
}

// staticFetcher returns the same table on every call.
type staticFetcher struct {
	text string
	err  error
}

func (f staticFetcher) Fetch(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, ctx.Err()
}

// stubDecryptor maps payloads to submissions.  Unknown payloads fail.
type stubDecryptor map[string]types.Submission

func (d stubDecryptor) Decrypt(payload string) (types.Submission, error) {
	sub, ok := d[payload]
	if !ok {
		return types.Submission{}, fmt.Errorf("stub: unknown payload %q", payload)
	}
	return sub, nil
}

// funcProcessor adapts a function to SubmissionProcessor.
type funcProcessor func(ctx context.Context, sub types.Submission) error

func (f funcProcessor) Process(ctx context.Context, sub types.Submission) error { return f(ctx, sub) }

func table(rows ...string) string {
	out := "Timestamp,magic,payload\n"
	for _, r := range rows {
		out += r + "\n"
	}
	return out
}
