package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/bundle"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/canvas"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

var (
	ErrValidation  = errors.New("submission is incomplete")
	ErrNotEnrolled = errors.New("student not found in any listed course")
)

// DefaultComment is attached alongside the uploaded bundle.
const DefaultComment = "Submitted files"

// GradingHost is the subset of the Canvas client the processor drives.
type GradingHost interface {
	RosterSource
	PostGrade(ctx context.Context, courseID, assignmentID string, userID int64, points float64) error
	RequestUploadSlot(ctx context.Context, courseID, assignmentID string, userID int64, filename string) (canvas.UploadSlot, error)
	UploadBytes(ctx context.Context, slot canvas.UploadSlot, filename string, data []byte) (int64, error)
	AttachAndClear(ctx context.Context, courseID, assignmentID string, userID int64, fileID int64, comment string) error
}

type ProcessorConfig struct {
	// Comment is the text attached with the bundle.  Defaults to DefaultComment.
	Comment string
}

// Processor forwards one decrypted submission to the grading host.
type Processor struct {
	host    GradingHost
	roster  *RosterDirectory
	ledger  store.UploadLedger
	comment string
	logger  zerolog.Logger
}

func NewProcessor(host GradingHost, roster *RosterDirectory, ledger store.UploadLedger, cfg ProcessorConfig, logger zerolog.Logger) *Processor {
	if roster == nil {
		roster = NewRosterDirectory(host, 0)
	}
	comment := strings.TrimSpace(cfg.Comment)
	if comment == "" {
		comment = DefaultComment
	}
	return &Processor{
		host:    host,
		roster:  roster,
		ledger:  ledger,
		comment: comment,
		logger:  logger,
	}
}

// Process posts the grade and attaches the file bundle.  A nil error
// means every step succeeded.  Completed steps are not rolled back.
func (p *Processor) Process(ctx context.Context, sub types.Submission) error {
	if err := validate(sub); err != nil {
		return err
	}

	ident := canvas.NormalizeLogin(sub.User)
	points := *sub.Points
	if sub.HalfCredit {
		points /= 2
	}

	var (
		courseID, assignmentID string
		userID                 int64
		found                  bool
	)
	for i, cid := range sub.CourseIDs {
		cid = strings.TrimSpace(cid)
		id, ok, err := p.roster.Resolve(ctx, cid, ident)
		if err != nil {
			return fmt.Errorf("roster for course %s: %w", cid, err)
		}
		if ok {
			courseID, assignmentID, userID, found = cid, strings.TrimSpace(sub.AssignmentIDs[i]), id, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %q in courses %v", ErrNotEnrolled, ident, sub.CourseIDs)
	}

	log := p.logger.With().
		Str("course_id", courseID).
		Str("assignment_id", assignmentID).
		Int64("host_user_id", userID).
		Logger()

	if err := p.host.PostGrade(ctx, courseID, assignmentID, userID, points); err != nil {
		return err
	}
	log.Debug().Float64("points", points).Msg("grade posted")

	archive, err := bundle.Pack(sub.Files)
	if err != nil {
		return err
	}

	key := UploadKey(courseID, assignmentID, userID, sub.Files)
	if p.ledger != nil {
		prev, ok, err := p.ledger.Lookup(ctx, key)
		if err != nil {
			return fmt.Errorf("upload ledger lookup: %w", err)
		}
		if ok {
			log.Info().Int64("file_id", prev.FileID).Msg("bundle already attached, skipping upload")
			return nil
		}
	}

	filename := archiveName(ident, assignmentID)
	slot, err := p.host.RequestUploadSlot(ctx, courseID, assignmentID, userID, filename)
	if err != nil {
		return err
	}
	fileID, err := p.host.UploadBytes(ctx, slot, filename, archive)
	if err != nil {
		return err
	}
	if err := p.host.AttachAndClear(ctx, courseID, assignmentID, userID, fileID, p.comment); err != nil {
		return err
	}
	log.Info().Int64("file_id", fileID).Int("bytes", len(archive)).Msg("bundle attached")

	if p.ledger != nil {
		rec := store.UploadRecord{
			Key:          key,
			CourseID:     courseID,
			AssignmentID: assignmentID,
			HostUserID:   userID,
			FileID:       fileID,
			AttachedAt:   time.Now().UTC(),
		}
		// The attachment already exists on the host, so a ledger failure
		// does not fail the submission.
		if err := p.ledger.Record(ctx, rec); err != nil {
			log.Error().Err(err).Msg("upload ledger record failed")
		}
	}
	return nil
}

func validate(sub types.Submission) error {
	var missing []string
	if canvas.NormalizeLogin(sub.User) == "" {
		missing = append(missing, "user")
	}
	if !nonBlank(sub.CourseIDs) {
		missing = append(missing, "course id")
	}
	if !nonBlank(sub.AssignmentIDs) {
		missing = append(missing, "assignment id")
	}
	if sub.Points == nil {
		missing = append(missing, "points")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if len(sub.CourseIDs) != len(sub.AssignmentIDs) {
		return fmt.Errorf("%w: %d course ids but %d assignment ids",
			ErrValidation, len(sub.CourseIDs), len(sub.AssignmentIDs))
	}
	return nil
}

func nonBlank(ids []string) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return false
		}
	}
	return true
}

var uploadNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("gradebridge:upload"))

// UploadKey derives the idempotency key for attaching files to one
// student's assignment.  Identical inputs always give the same key.
func UploadKey(courseID, assignmentID string, userID int64, files []types.File) string {
	h := sha256.New()
	field := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	field([]byte(courseID))
	field([]byte(assignmentID))
	field(binary.BigEndian.AppendUint64(nil, uint64(userID)))
	for _, f := range files {
		field([]byte(f.Name))
		field(f.Content)
	}
	return uuid.NewSHA1(uploadNamespace, h.Sum(nil)).String()
}

func archiveName(ident, assignmentID string) string {
	safe := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
				return r
			}
			return '_'
		}, s)
	}
	return safe(ident) + "-" + safe(assignmentID) + ".zip"
}
