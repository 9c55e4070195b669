package service_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/bundle"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/canvas"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/service"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store/memory"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

func newTestProcessor(host *fakeHost) (*service.Processor, *memory.Ledger) {
	ledger := memory.NewLedger()
	p := service.NewProcessor(host, service.NewRosterDirectory(host, 0), ledger, service.ProcessorConfig{}, silentLogger())
	return p, ledger
}

func validSubmission() types.Submission {
	return types.Submission{
		User:          "JDoe@school.edu",
		CourseIDs:     []string{"101"},
		AssignmentIDs: []string{"7"},
		Points:        ptr(10),
		Files:         []types.File{{Name: "main.go", Content: []byte("package main\n")}},
	}
}

// ══ Validation ═══════════════════════════════════════════════════════════════

func TestProcess_ValidationMakesNoHostCalls(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.Submission)
	}{
		{"missing course", func(s *types.Submission) { s.CourseIDs = nil }},
		{"blank course", func(s *types.Submission) { s.CourseIDs = []string{"  "} }},
		{"missing assignment", func(s *types.Submission) { s.AssignmentIDs = nil }},
		{"missing points", func(s *types.Submission) { s.Points = nil }},
		{"missing user", func(s *types.Submission) { s.User = " " }},
		{"unequal lengths", func(s *types.Submission) { s.CourseIDs = []string{"101", "102"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost(map[string]map[string]int64{"101": {"jdoe": 42}})
			p, _ := newTestProcessor(host)

			sub := validSubmission()
			tt.mutate(&sub)

			err := p.Process(context.Background(), sub)
			if !errors.Is(err, service.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if calls := host.Calls(); len(calls) != 0 {
				t.Errorf("expected zero host calls, got %v", calls)
			}
		})
	}
}

// ══ Happy path ═══════════════════════════════════════════════════════════════

func TestProcess_FullSequence(t *testing.T) {
	host := newFakeHost(map[string]map[string]int64{"101": {"jdoe": 42}})
	p, ledger := newTestProcessor(host)

	sub := validSubmission()
	if err := p.Process(context.Background(), sub); err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := []string{"lookup:101", "grade", "slot", "upload", "attach"}
	if got := host.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls: got %v want %v", got, want)
	}
	if host.grades[0] != 10 {
		t.Errorf("grade: got %v want 10", host.grades[0])
	}
	wantZip, err := bundle.Pack(sub.Files)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if !reflect.DeepEqual(host.uploads[0], wantZip) {
		t.Error("uploaded bytes differ from the packed bundle")
	}
	if ledger.Len() != 1 {
		t.Errorf("expected 1 ledger record, got %d", ledger.Len())
	}
}

func TestProcess_HalfCreditHalvesBeforePosting(t *testing.T) {
	host := newFakeHost(map[string]map[string]int64{"101": {"jdoe": 42}})
	p, _ := newTestProcessor(host)

	sub := validSubmission()
	sub.Points = ptr(9)
	sub.HalfCredit = true
	if err := p.Process(context.Background(), sub); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if host.grades[0] != 4.5 {
		t.Errorf("grade: got %v want 4.5", host.grades[0])
	}
}

func TestProcess_FirstMatchingCourseWins(t *testing.T) {
	host := newFakeHost(map[string]map[string]int64{
		"201": {"someone": 1},
		"202": {"jdoe": 2},
		"203": {"jdoe": 3},
	})
	p, _ := newTestProcessor(host)

	sub := validSubmission()
	sub.CourseIDs = []string{"201", "202", "203"}
	sub.AssignmentIDs = []string{"a1", "a2", "a3"}
	if err := p.Process(context.Background(), sub); err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := []string{"lookup:201", "lookup:202", "grade", "slot", "upload", "attach"}
	if got := host.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls: got %v want %v", got, want)
	}
}

func TestProcess_NotEnrolled(t *testing.T) {
	host := newFakeHost(map[string]map[string]int64{"101": {"other": 1}, "102": {}})
	p, _ := newTestProcessor(host)

	sub := validSubmission()
	sub.CourseIDs = []string{"101", "102"}
	sub.AssignmentIDs = []string{"7", "8"}
	err := p.Process(context.Background(), sub)
	if !errors.Is(err, service.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
	want := []string{"lookup:101", "lookup:102"}
	if got := host.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls: got %v want %v", got, want)
	}
}

// ══ Failures ═════════════════════════════════════════════════════════════════

func TestProcess_HostFailureStopsSequence(t *testing.T) {
	host := newFakeHost(map[string]map[string]int64{"101": {"jdoe": 42}})
	host.fail["upload"] = hostFailure("upload_bytes")
	p, ledger := newTestProcessor(host)

	err := p.Process(context.Background(), validSubmission())
	if !errors.Is(err, canvas.ErrHost) {
		t.Fatalf("expected ErrHost, got %v", err)
	}
	want := []string{"lookup:101", "grade", "slot", "upload"}
	if got := host.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls: got %v want %v", got, want)
	}
	if ledger.Len() != 0 {
		t.Error("failed upload must not be recorded in the ledger")
	}
}

func TestProcess_PackagingErrorAfterGrade(t *testing.T) {
	host := newFakeHost(map[string]map[string]int64{"101": {"jdoe": 42}})
	p, _ := newTestProcessor(host)

	sub := validSubmission()
	sub.Files = nil
	err := p.Process(context.Background(), sub)
	if !errors.Is(err, bundle.ErrPackaging) {
		t.Fatalf("expected ErrPackaging, got %v", err)
	}
	want := []string{"lookup:101", "grade"}
	if got := host.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls: got %v want %v", got, want)
	}
}

// ══ Upload idempotency ═══════════════════════════════════════════════════════

func TestProcess_ReplaySkipsUpload(t *testing.T) {
	host := newFakeHost(map[string]map[string]int64{"101": {"jdoe": 42}})
	p, _ := newTestProcessor(host)
	ctx := context.Background()

	if err := p.Process(ctx, validSubmission()); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if err := p.Process(ctx, validSubmission()); err != nil {
		t.Fatalf("replay Process: %v", err)
	}

	want := []string{
		"lookup:101", "grade", "slot", "upload", "attach",
		"lookup:101", "grade",
	}
	if got := host.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls: got %v want %v", got, want)
	}
}

func TestUploadKey(t *testing.T) {
	files := []types.File{{Name: "a.txt", Content: []byte("A")}}
	k1 := service.UploadKey("101", "7", 42, files)
	k2 := service.UploadKey("101", "7", 42, []types.File{{Name: "a.txt", Content: []byte("A")}})
	if k1 != k2 {
		t.Errorf("same inputs gave different keys: %s vs %s", k1, k2)
	}
	if k1 == service.UploadKey("101", "7", 43, files) {
		t.Error("different user should change the key")
	}
	if k1 == service.UploadKey("101", "7", 42, []types.File{{Name: "a.txt", Content: []byte("B")}}) {
		t.Error("different content should change the key")
	}
	if k1 == service.UploadKey("1017", "", 42, files) {
		t.Error("field boundaries must be part of the key")
	}
}

// ══ Roster cache ═════════════════════════════════════════════════════════════

func TestRosterDirectory_CachesWithinTTL(t *testing.T) {
	host := newFakeHost(map[string]map[string]int64{"101": {"jdoe": 42}})
	dir := service.NewRosterDirectory(host, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, ok, err := dir.Resolve(ctx, "101", "jdoe")
		if err != nil || !ok || id != 42 {
			t.Fatalf("Resolve: id=%d ok=%v err=%v", id, ok, err)
		}
	}
	if n := len(host.Calls()); n != 1 {
		t.Errorf("expected 1 roster lookup, got %d", n)
	}

	if _, _, err := dir.Resolve(ctx, "102", "jdoe"); err != nil {
		t.Fatalf("Resolve other course: %v", err)
	}
	if n := len(host.Calls()); n != 2 {
		t.Errorf("expected a separate lookup per course, got %d calls", n)
	}
}

func TestRosterDirectory_NoCacheWhenTTLZero(t *testing.T) {
	host := newFakeHost(map[string]map[string]int64{"101": {"jdoe": 42}})
	dir := service.NewRosterDirectory(host, 0)

	for i := 0; i < 2; i++ {
		if _, _, err := dir.Resolve(context.Background(), "101", "jdoe"); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if n := len(host.Calls()); n != 2 {
		t.Errorf("expected 2 lookups, got %d", n)
	}
}
