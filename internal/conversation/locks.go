package conversation

import (
	"context"
	"sync"
	"time"
)

// SessionLocker serializes out-of-band session writes, such as the payment
// webhook's policy issuance, with in-flight turns.
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID string) error
	Release(sessionID string)
}

// sessionLocks enforces at-most-one turn in flight per session. A second
// inbound message for a session that is still processing is rejected with
// ErrSessionBusy rather than interleaved, which would corrupt the append-only
// turn ordering and could duplicate tool side effects.
type sessionLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{active: make(map[string]struct{})}
}

// TryAcquire claims the session, returning false when a turn is already in
// flight.
func (l *sessionLocks) TryAcquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[sessionID]; busy {
		return false
	}
	l.active[sessionID] = struct{}{}
	return true
}

// Acquire blocks until the session is free or ctx expires. Turn processing
// stays on TryAcquire and rejects instead of queueing; Acquire exists for
// out-of-band writers that must wait their turn.
func (l *sessionLocks) Acquire(ctx context.Context, sessionID string) error {
	if l.TryAcquire(sessionID) {
		return nil
	}
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.TryAcquire(sessionID) {
				return nil
			}
		}
	}
}

// Release frees the session for the next turn.
func (l *sessionLocks) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, sessionID)
}
