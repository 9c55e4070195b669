package service

import (
	"sync"
	"time"
)

// CycleResult summarizes one pass of the poll loop.
type CycleResult struct {
	CycleID     string
	StartedAt   time.Time
	FinishedAt  time.Time
	Fetched     int
	Attempted   int
	Succeeded   int
	Failed      int
	Cursor      string
	Interrupted bool
}

// StatusSnapshot is a point-in-time view of the poller.
type StatusSnapshot struct {
	Running        bool
	Cycles         int64
	TotalAttempted int64
	TotalSucceeded int64
	TotalFailed    int64
	LastCycle      CycleResult
	LastError      string
	LastErrorAt    time.Time
}

// Status collects poller progress for the status API and health checks.
type Status struct {
	mu   sync.RWMutex
	snap StatusSnapshot
}

func NewStatus() *Status {
	return &Status{}
}

func (s *Status) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Running = running
}

func (s *Status) RecordCycle(res CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Cycles++
	s.snap.TotalAttempted += int64(res.Attempted)
	s.snap.TotalSucceeded += int64(res.Succeeded)
	s.snap.TotalFailed += int64(res.Failed)
	s.snap.LastCycle = res
}

func (s *Status) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = err.Error()
	s.snap.LastErrorAt = time.Now().UTC()
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
