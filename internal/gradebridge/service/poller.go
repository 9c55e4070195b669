package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/source"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

type Decryptor interface {
	Decrypt(payload string) (types.Submission, error)
}

type SubmissionProcessor interface {
	Process(ctx context.Context, sub types.Submission) error
}

// CursorPolicy decides what happens when the stored cursor does not
// appear in the freshly fetched table.
type CursorPolicy string

const (
	CursorProcessAll CursorPolicy = "process_all"
	CursorSkipAll    CursorPolicy = "skip_all"
)

func ParseCursorPolicy(s string) (CursorPolicy, error) {
	switch CursorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CursorProcessAll:
		return CursorProcessAll, nil
	case CursorSkipAll:
		return CursorSkipAll, nil
	}
	return "", fmt.Errorf("unknown cursor policy %q (want %s or %s)", s, CursorProcessAll, CursorSkipAll)
}

const defaultPollInterval = 60 * time.Second

type PollerConfig struct {
	// Marker is the magic-column prefix a row must carry.  Defaults to source.DefaultMarker.
	Marker string

	// Interval is the sleep between cycles.  Defaults to 60s.
	Interval time.Duration

	CursorPolicy CursorPolicy
}

// PollerDeps holds the collaborators for NewPoller.  Status is optional.
type PollerDeps struct {
	Fetcher   Fetcher
	Decryptor Decryptor
	Processor SubmissionProcessor
	Cursor    store.CursorStore
	Audit     store.AuditLog
	Status    *Status
	Logger    zerolog.Logger
}

// Poller drives fetch, filter, process and cursor advance in a single
// worker goroutine.
type Poller struct {
	cfg    PollerConfig
	deps   PollerDeps
	logger zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(cfg PollerConfig, deps PollerDeps) (*Poller, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("poller: fetcher is required")
	case deps.Decryptor == nil:
		return nil, errors.New("poller: decryptor is required")
	case deps.Processor == nil:
		return nil, errors.New("poller: processor is required")
	case deps.Cursor == nil:
		return nil, errors.New("poller: cursor store is required")
	case deps.Audit == nil:
		return nil, errors.New("poller: audit log is required")
	}
	if strings.TrimSpace(cfg.Marker) == "" {
		cfg.Marker = source.DefaultMarker
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.CursorPolicy == "" {
		cfg.CursorPolicy = CursorProcessAll
	}
	if deps.Status == nil {
		deps.Status = NewStatus()
	}
	return &Poller{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With().Str("component", "poller").Logger(),
		done:   make(chan struct{}),
	}, nil
}

func (p *Poller) Status() *Status { return p.deps.Status }

// Start launches the poll loop.  It returns immediately.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		defer close(p.done)
		_ = p.Run(ctx)
	}()
	p.logger.Info().Dur("interval", p.cfg.Interval).Str("cursor_policy", string(p.cfg.CursorPolicy)).Msg("poller started")
}

// Stop cancels the loop and waits for the in-flight record and cursor
// save to complete.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Run executes cycles until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.deps.Status.SetRunning(true)
	defer p.deps.Status.SetRunning(false)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := p.RunCycle(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error().Err(err).Msg("cycle failed")
		}
		timer.Reset(p.cfg.Interval)
	}
}

// RunCycle performs one fetch and processes every new record.  Per-record
// failures are written to the audit log and never returned.  Once ctx is
// cancelled the in-flight record still completes and the cursor is saved
// at the last attempted record.
func (p *Poller) RunCycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := p.logger.With().Str("cycle_id", res.CycleID).Logger()

	text, err := p.deps.Fetcher.Fetch(ctx)
	if err != nil {
		p.deps.Status.RecordError(err)
		return res, err
	}
	records, err := source.Parse(text, p.cfg.Marker)
	if err != nil {
		p.deps.Status.RecordError(err)
		return res, err
	}
	res.Fetched = len(records)

	// Cursor reads and writes are not tied to shutdown.
	bg := context.WithoutCancel(ctx)

	cursor, hasCursor, err := p.deps.Cursor.Load(bg)
	if err != nil {
		err = fmt.Errorf("load cursor: %w", err)
		p.deps.Status.RecordError(err)
		return res, err
	}
	res.Cursor = cursor

	pending := p.filter(log, records, cursor, hasCursor)
	log.Debug().Int("fetched", len(records)).Int("new", len(pending)).Msg("intake fetched")

	var lastAttempted string
	for _, rec := range pending {
		// Rows sharing a date are one cursor position, so shutdown only
		// stops at a date boundary.
		if ctx.Err() != nil && (res.Attempted == 0 || rec.Date != lastAttempted) {
			res.Interrupted = true
			break
		}
		if p.processRecord(bg, log, res.CycleID, rec) {
			res.Succeeded++
		} else {
			res.Failed++
		}
		res.Attempted++
		lastAttempted = rec.Date
	}

	next := ""
	switch {
	case res.Interrupted:
		next = lastAttempted
	case len(records) > 0:
		next = records[len(records)-1].Date
	}
	if next != "" {
		if err := p.deps.Cursor.Save(bg, next); err != nil {
			err = fmt.Errorf("save cursor: %w", err)
			p.deps.Status.RecordError(err)
			return res, err
		}
		res.Cursor = next
	}

	res.FinishedAt = time.Now().UTC()
	p.deps.Status.RecordCycle(res)
	if res.Attempted > 0 || res.Interrupted {
		log.Info().
			Int("attempted", res.Attempted).
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Bool("interrupted", res.Interrupted).
			Str("cursor", res.Cursor).
			Msg("cycle complete")
	}
	return res, nil
}

// filter returns the records after the one matching cursor.
func (p *Poller) filter(log zerolog.Logger, records []types.Record, cursor string, hasCursor bool) []types.Record {
	if !hasCursor {
		return records
	}
	if i := FindCursor(records, cursor); i >= 0 {
		return records[i+1:]
	}
	if p.cfg.CursorPolicy == CursorSkipAll {
		log.Warn().Str("cursor", cursor).Int("skipped", len(records)).Msg("cursor not found in intake, skipping all rows")
		return nil
	}
	log.Warn().Str("cursor", cursor).Int("rows", len(records)).Msg("cursor not found in intake, processing all rows")
	return records
}

// FindCursor returns the index of the last record dated cursor, or -1.
// The cursor is always saved at the end of a run of equal dates.
func FindCursor(records []types.Record, cursor string) int {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Date == cursor {
			return i
		}
	}
	return -1
}

// processRecord decrypts and forwards one record and appends its audit
// entry.  It reports whether the record succeeded.
func (p *Poller) processRecord(ctx context.Context, log zerolog.Logger, cycleID string, rec types.Record) (ok bool) {
	entry := types.AuditEntry{
		Date:    rec.Date,
		Payload: rec.Payload,
		CycleID: cycleID,
	}
	var procErr error

	defer func() {
		if r := recover(); r != nil {
			procErr = fmt.Errorf("panic: %v", r)
		}
		entry.Success = procErr == nil
		if procErr != nil {
			entry.Reason = procErr.Error()
			log.Warn().Err(procErr).Str("date", rec.Date).Msg("record failed")
		} else {
			log.Info().Str("date", rec.Date).Msg("record processed")
		}
		entry.AttemptedAt = time.Now().UTC()
		if err := p.deps.Audit.Append(ctx, entry); err != nil {
			log.Error().Err(err).Str("date", rec.Date).Msg("audit append failed")
		}
		ok = entry.Success
	}()

	sub, err := p.deps.Decryptor.Decrypt(rec.Payload)
	if err != nil {
		procErr = err
		return false
	}
	procErr = p.deps.Processor.Process(ctx, sub)
	return procErr == nil
}
