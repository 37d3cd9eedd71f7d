// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"sync"
	"time"

	"github.com/openclaw/openclaw/pkg/validation"
	"github.com/openclaw/openclaw/services/gateway/crypto"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
)

// sweepInterval is how often the background sweeper evicts expired
// sessions. The sweeper runs only while sessions exist.
const sweepInterval = 5 * time.Minute

// SessionStore owns the in-memory session map. All methods are safe
// for concurrent use; reads take the shared lock, eviction takes the
// exclusive lock.
//
// The store holds authoritative state. SessionPersistence mirrors the
// live subset to disk and is notified through the onChange hook after
// every mutation.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*datatypes.AuthSession
	ttl      time.Duration
	now      func() time.Time

	sweepEvery time.Duration
	sweeping   bool
	stopSweep  chan struct{}

	onChange func()
	onRevoke func(sessionIDs []string)
}

// NewSessionStore returns an empty store with the default 30-minute
// sliding TTL.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:   make(map[string]*datatypes.AuthSession),
		ttl:        datatypes.SessionTTL,
		now:        time.Now,
		sweepEvery: sweepInterval,
	}
}

// SetOnChange registers the persistence hook, called after every
// mutation outside the store lock.
func (s *SessionStore) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// SetOnRevoke registers a hook receiving the IDs of force-deleted
// sessions, used to close matching WebSocket connections.
func (s *SessionStore) SetOnRevoke(fn func(sessionIDs []string)) {
	s.mu.Lock()
	s.onRevoke = fn
	s.mu.Unlock()
}

// Create mints a session for the user with fresh random ID and CSRF
// token, scopes derived from the role, and expiry now+TTL.
func (s *SessionStore) Create(username string, role datatypes.Role) (datatypes.AuthSession, error) {
	id, err := crypto.NewToken()
	if err != nil {
		return datatypes.AuthSession{}, datatypes.Wrap(datatypes.KindFatal, "generating session id", err)
	}
	csrf, err := crypto.NewToken()
	if err != nil {
		return datatypes.AuthSession{}, datatypes.Wrap(datatypes.KindFatal, "generating csrf token", err)
	}

	s.mu.Lock()
	now := s.now()
	sess := &datatypes.AuthSession{
		ID:             id,
		Username:       username,
		Role:           role,
		Scopes:         datatypes.ScopesForRole(role),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
		LastActivityAt: now,
		CSRFToken:      csrf,
	}
	s.sessions[id] = sess
	s.startSweeperLocked()
	out := *sess
	s.mu.Unlock()

	s.notifyChange()
	return out, nil
}

// Get returns the live session with the given ID. An expired entry is
// evicted on the spot and reported as absent.
func (s *SessionStore) Get(id string) (datatypes.AuthSession, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	if ok && !sess.Expired(s.now()) {
		out := *sess
		s.mu.RUnlock()
		return out, true
	}
	s.mu.RUnlock()
	if !ok {
		return datatypes.AuthSession{}, false
	}

	// Expired: upgrade to the exclusive lock and evict.
	s.mu.Lock()
	if cur, still := s.sessions[id]; still && cur.Expired(s.now()) {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	s.notifyChange()
	return datatypes.AuthSession{}, false
}

// Refresh slides the session window: expiry becomes now+TTL and the
// activity timestamp is updated. Expiry only moves forward; a refresh
// can never shorten a session.
func (s *SessionStore) Refresh(id string) (datatypes.AuthSession, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.Expired(s.now()) {
		s.mu.Unlock()
		return datatypes.AuthSession{}, false
	}
	now := s.now()
	sess.LastActivityAt = now
	if next := now.Add(s.ttl); next.After(sess.ExpiresAt) {
		sess.ExpiresAt = next
	}
	out := *sess
	s.mu.Unlock()

	s.notifyChange()
	return out, true
}

// DeleteByID removes one session. Deletion is authoritative: a deleted
// ID never resolves again.
func (s *SessionStore) DeleteByID(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		s.notifyChange()
	}
	return ok
}

// DeleteByUser removes every session for the user, case-insensitively,
// and returns how many were revoked.
func (s *SessionStore) DeleteByUser(username string) int {
	folded := validation.NormalizeUsername(username)
	s.mu.Lock()
	var revoked []string
	for id, sess := range s.sessions {
		if validation.NormalizeUsername(sess.Username) == folded {
			delete(s.sessions, id)
			revoked = append(revoked, id)
		}
	}
	hook := s.onRevoke
	s.mu.Unlock()

	if len(revoked) > 0 {
		if hook != nil {
			hook(revoked)
		}
		s.notifyChange()
	}
	return len(revoked)
}

// DeleteAll empties the store (full reset) and returns the count.
func (s *SessionStore) DeleteAll() int {
	s.mu.Lock()
	n := len(s.sessions)
	var revoked []string
	for id := range s.sessions {
		revoked = append(revoked, id)
	}
	s.sessions = make(map[string]*datatypes.AuthSession)
	hook := s.onRevoke
	s.mu.Unlock()

	if n > 0 {
		if hook != nil {
			hook(revoked)
		}
		s.notifyChange()
	}
	return n
}

// ListUserSessionIDs returns the IDs of the user's live sessions.
func (s *SessionStore) ListUserSessionIDs(username string) []string {
	folded := validation.NormalizeUsername(username)
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, sess := range s.sessions {
		if !sess.Expired(now) && validation.NormalizeUsername(sess.Username) == folded {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns copies of all live sessions, for persistence.
func (s *SessionStore) Snapshot() []datatypes.AuthSession {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.AuthSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !sess.Expired(now) {
			out = append(out, *sess)
		}
	}
	return out
}

// Import installs recovered sessions, skipping any already expired.
// Called once at startup before the gateway serves traffic.
func (s *SessionStore) Import(sessions []datatypes.AuthSession) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range sessions {
		sess := sessions[i]
		if sess.ID == "" || sess.Expired(now) {
			continue
		}
		s.sessions[sess.ID] = &sess
		n++
	}
	if n > 0 {
		s.startSweeperLocked()
	}
	return n
}

// Len reports the number of entries, including not-yet-swept expired
// ones. Metrics only.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StopSweeper halts the background sweeper. Used on shutdown; the
// sweeper also stops itself when the map drains.
func (s *SessionStore) StopSweeper() {
	s.mu.Lock()
	s.stopSweeperLocked()
	s.mu.Unlock()
}

func (s *SessionStore) notifyChange() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// startSweeperLocked launches the eviction goroutine if it is not
// already running. Assumes s.mu is held.
func (s *SessionStore) startSweeperLocked() {
	if s.sweeping {
		return
	}
	s.sweeping = true
	stop := make(chan struct{})
	s.stopSweep = stop

	go func() {
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if s.sweepExpired() == 0 {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (s *SessionStore) stopSweeperLocked() {
	if s.sweeping {
		close(s.stopSweep)
		s.sweeping = false
	}
}

// sweepExpired evicts expired sessions and returns the remaining
// count. When the map drains the sweeper marks itself stopped so the
// next Create restarts it.
func (s *SessionStore) sweepExpired() int {
	now := s.now()
	s.mu.Lock()
	evicted := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			evicted++
		}
	}
	remaining := len(s.sessions)
	if remaining == 0 {
		s.sweeping = false
	}
	s.mu.Unlock()

	if evicted > 0 {
		s.notifyChange()
	}
	return remaining
}
