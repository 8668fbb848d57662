package session

import (
	"sync"
	"time"
)

// maxConsecutiveBadCode is the §4.7 lockout threshold: after this many
// consecutive BAD_CODE attempts from the same remote within lockoutWindow,
// further HELLOs from that remote are rejected before authenticating.
const maxConsecutiveBadCode = 3

// lockoutWindow is the §4.7 sliding window for counting consecutive
// failures.
const lockoutWindow = 60 * time.Second

// Guard enforces the two process-wide exclusivity rules of §4.7/§5: at
// most one Session is ever Connected, and a remote that has failed auth
// three times within 60 s is locked out. It is shared by every Session
// created across the process's lifetime.
type Guard struct {
	mu sync.Mutex

	active *Session

	failures map[string]*failureRecord
}

type failureRecord struct {
	count     int
	windowEnd time.Time
}

// NewGuard returns an empty Guard.
func NewGuard() *Guard {
	return &Guard{failures: make(map[string]*failureRecord)}
}

// Locked reports whether remote is currently within its lockout window.
func (g *Guard) Locked(remote string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.failures[remote]
	if !ok {
		return false
	}
	if time.Now().After(rec.windowEnd) {
		delete(g.failures, remote)
		return false
	}
	return rec.count >= maxConsecutiveBadCode
}

// RecordFailure counts one BAD_CODE from remote, starting a fresh 60 s
// window if none is active or the previous one expired.
func (g *Guard) RecordFailure(remote string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	rec, ok := g.failures[remote]
	if !ok || now.After(rec.windowEnd) {
		rec = &failureRecord{windowEnd: now.Add(lockoutWindow)}
		g.failures[remote] = rec
	}
	rec.count++
}

// ClearFailures resets remote's failure count after a successful auth.
func (g *Guard) ClearFailures(remote string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, remote)
}

// TryAcquire claims the single Connected slot for s. It returns false
// (BUSY) if another session already holds it (§4.7).
func (g *Guard) TryAcquire(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != nil {
		return false
	}
	g.active = s
	return true
}

// Release frees the Connected slot if s currently holds it. Safe to call
// even if s never acquired it (e.g. after a BAD_CODE rejection).
func (g *Guard) Release(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == s {
		g.active = nil
	}
}

// Active returns the currently connected session, or nil.
func (g *Guard) Active() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
