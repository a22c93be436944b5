package continuity

import (
	"fmt"
	"sync"
	"time"

	"github.com/jinzhu/copier"
)

// Store keeps the per-session continuity records. Lookup is by session id;
// mutation happens only through the Controller while the kernel holds that
// session's writer lock, so the store itself only guards the map.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: map[string]*Session{}}
}

func (s *Store) getOrCreate(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		return session
	}
	session := &Session{SessionID: sessionID, State: StateIdle}
	s.sessions[sessionID] = session
	return session
}

func (s *Store) get(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

// Snapshot returns a deep copy of the session record, safe to hand to
// observers while the live record keeps mutating.
func (s *Store) Snapshot(sessionID string) (Session, bool) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	var snapshot Session
	if err := copier.CopyWithOption(&snapshot, session, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on type mismatches, which cannot happen between
		// two values of the same struct type.
		panic(fmt.Sprintf("continuity snapshot copy failed: %v", err))
	}
	return snapshot, true
}

// Delete removes a session record entirely.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// SweepExpired resets every session whose resume buffer expired before now
// and reports the affected session ids. Expiry is also enforced on access,
// so the sweep is purely proactive cleanup.
func (s *Store) SweepExpired(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, session := range s.sessions {
		if expireIfDue(session, now) {
			expired = append(expired, id)
		}
	}
	return expired
}

// expireIfDue applies the timeout-driven edge: an elapsed resume buffer
// returns the session to idle and clears the interruption atomically.
func expireIfDue(session *Session, now time.Time) bool {
	if session.State == StateIdle {
		return false
	}
	if session.BufferExpiresAt.IsZero() || now.Before(session.BufferExpiresAt) {
		return false
	}
	session.State = StateIdle
	session.clearInterruption()
	session.UpdatedAt = now
	return true
}
