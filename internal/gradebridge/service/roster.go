package service

import (
	"context"
	"strings"
	"sync"
	"time"
)

// RosterSource lists a course's students keyed by normalized login.
type RosterSource interface {
	LookupRoster(ctx context.Context, courseID string) (map[string]int64, error)
}

type rosterEntry struct {
	members   map[string]int64
	fetchedAt time.Time
}

// RosterDirectory resolves student identifiers to host user ids, one
// course at a time.  With a positive ttl, rosters are cached per course.
type RosterDirectory struct {
	source RosterSource
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]rosterEntry
}

func NewRosterDirectory(src RosterSource, ttl time.Duration) *RosterDirectory {
	return &RosterDirectory{
		source: src,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]rosterEntry),
	}
}

// Resolve returns the host user id for ident in courseID.
func (r *RosterDirectory) Resolve(ctx context.Context, courseID, ident string) (int64, bool, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" || ident == "" {
		return 0, false, nil
	}

	members, err := r.roster(ctx, courseID)
	if err != nil {
		return 0, false, err
	}
	id, ok := members[ident]
	return id, ok, nil
}

func (r *RosterDirectory) roster(ctx context.Context, courseID string) (map[string]int64, error) {
	if r.ttl > 0 {
		r.mu.Lock()
		e, ok := r.cache[courseID]
		r.mu.Unlock()
		if ok && r.now().Sub(e.fetchedAt) < r.ttl {
			return e.members, nil
		}
	}

	members, err := r.source.LookupRoster(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[courseID] = rosterEntry{members: members, fetchedAt: r.now()}
		r.mu.Unlock()
	}
	return members, nil
}
