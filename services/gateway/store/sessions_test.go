// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/services/gateway/datatypes"
)

// testClock drives the store's notion of time.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSessionStore() (*SessionStore, *testClock) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := NewSessionStore()
	s.now = clock.now
	return s, clock
}

func TestSessionCreate(t *testing.T) {
	s, clock := newTestSessionStore()

	sess, err := s.Create("admin", datatypes.RoleAdmin)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(sess.ID)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	raw, err = base64.RawURLEncoding.DecodeString(sess.CSRFToken)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	assert.Equal(t, clock.now(), sess.CreatedAt)
	assert.Equal(t, clock.now(), sess.LastActivityAt)
	assert.Equal(t, clock.now().Add(datatypes.SessionTTL), sess.ExpiresAt)
	assert.ElementsMatch(t,
		[]string{"operator.admin", "operator.approvals", "operator.pairing"}, sess.Scopes)

	op, err := s.Create("bob", datatypes.RoleOperator)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"operator.read", "operator.write", "operator.approvals"}, op.Scopes)

	ro, err := s.Create("carol", datatypes.RoleReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []string{"operator.read"}, ro.Scopes)
}

func TestSessionGetEvictsExpired(t *testing.T) {
	s, clock := newTestSessionStore()
	sess, err := s.Create("admin", datatypes.RoleAdmin)
	require.NoError(t, err)

	got, ok := s.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)

	clock.advance(datatypes.SessionTTL + time.Second)
	_, ok = s.Get(sess.ID)
	assert.False(t, ok)
	assert.Zero(t, s.Len(), "expired entry was evicted on read")
}

func TestSessionRefreshSlidesForwardOnly(t *testing.T) {
	s, clock := newTestSessionStore()
	sess, err := s.Create("admin", datatypes.RoleAdmin)
	require.NoError(t, err)

	clock.advance(10 * time.Minute)
	refreshed, ok := s.Refresh(sess.ID)
	require.True(t, ok)
	assert.Equal(t, clock.now().Add(datatypes.SessionTTL), refreshed.ExpiresAt)
	assert.True(t, refreshed.ExpiresAt.After(sess.ExpiresAt), "expiry moved strictly forward")
	assert.Equal(t, clock.now(), refreshed.LastActivityAt)

	// Refreshing an expired session fails.
	clock.advance(datatypes.SessionTTL + time.Minute)
	_, ok = s.Refresh(sess.ID)
	assert.False(t, ok)
}

func TestSessionDeleteByUser(t *testing.T) {
	s, _ := newTestSessionStore()
	a1, _ := s.Create("Admin", datatypes.RoleAdmin)
	a2, _ := s.Create("admin", datatypes.RoleAdmin)
	b, _ := s.Create("bob", datatypes.RoleOperator)

	var revokedIDs []string
	s.SetOnRevoke(func(ids []string) { revokedIDs = ids })

	n := s.DeleteByUser("ADMIN")
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{a1.ID, a2.ID}, revokedIDs)
	assert.Empty(t, s.ListUserSessionIDs("admin"))

	_, ok := s.Get(b.ID)
	assert.True(t, ok, "other users' sessions survive")
}

func TestSessionDeleteAll(t *testing.T) {
	s, _ := newTestSessionStore()
	s.Create("admin", datatypes.RoleAdmin)
	s.Create("bob", datatypes.RoleOperator)

	assert.Equal(t, 2, s.DeleteAll())
	assert.Zero(t, s.Len())
	assert.Zero(t, s.DeleteAll())
}

func TestSessionSnapshotAndImport(t *testing.T) {
	s, clock := newTestSessionStore()
	live, _ := s.Create("admin", datatypes.RoleAdmin)
	stale, _ := s.Create("bob", datatypes.RoleOperator)

	snap := s.Snapshot()
	require.Len(t, snap, 2)

	// Age one session past expiry before importing into a new store.
	for i := range snap {
		if snap[i].ID == stale.ID {
			snap[i].ExpiresAt = clock.now().Add(-time.Minute)
		}
	}

	s2, _ := newTestSessionStore()
	n := s2.Import(snap)
	assert.Equal(t, 1, n)
	_, ok := s2.Get(live.ID)
	assert.True(t, ok)
	_, ok = s2.Get(stale.ID)
	assert.False(t, ok)
}

func TestSessionOnChangeFires(t *testing.T) {
	s, _ := newTestSessionStore()
	changes := 0
	s.SetOnChange(func() { changes++ })

	sess, err := s.Create("admin", datatypes.RoleAdmin)
	require.NoError(t, err)
	s.Refresh(sess.ID)
	s.DeleteByID(sess.ID)
	assert.Equal(t, 3, changes)

	// Deleting a missing session is not a change.
	s.DeleteByID("nope")
	assert.Equal(t, 3, changes)
}

func TestSweeperEvictsAndStops(t *testing.T) {
	s, clock := newTestSessionStore()
	s.sweepEvery = 10 * time.Millisecond

	s.Create("admin", datatypes.RoleAdmin)
	clock.advance(datatypes.SessionTTL + time.Minute)

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	s.mu.RLock()
	sweeping := s.sweeping
	s.mu.RUnlock()
	assert.False(t, sweeping, "sweeper stops itself on an empty map")

	// A new session restarts the sweeper.
	s.Create("bob", datatypes.RoleOperator)
	s.mu.RLock()
	sweeping = s.sweeping
	s.mu.RUnlock()
	assert.True(t, sweeping)
	s.StopSweeper()
}
