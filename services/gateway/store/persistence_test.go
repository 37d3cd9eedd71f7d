// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/services/gateway/crypto"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
)

func newPersistence(t *testing.T, dir string, s *SessionStore) *SessionPersistence {
	t.Helper()
	key, err := crypto.LoadOrCreateMachineKey(dir, nil)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)
	return NewSessionPersistence(dir, key, s, nil)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s1, _ := newTestSessionStore()

	live := make([]datatypes.AuthSession, 0, 3)
	for _, name := range []string{"a", "b", "c"} {
		sess, err := s1.Create(name, datatypes.RoleOperator)
		require.NoError(t, err)
		live = append(live, sess)
	}

	p1 := newPersistence(t, dir, s1)
	require.NoError(t, p1.Flush())

	info, err := os.Stat(SessionsFilePath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Restart: a new store over the same state dir recovers all three.
	s2, _ := newTestSessionStore()
	p2 := newPersistence(t, dir, s2)
	assert.Equal(t, 3, p2.Load())
	for _, sess := range live {
		got, ok := s2.Get(sess.ID)
		require.True(t, ok)
		assert.Equal(t, sess.Username, got.Username)
		assert.Equal(t, sess.CSRFToken, got.CSRFToken)
	}
	s2.StopSweeper()
}

func TestPersistenceExpiredNotRecovered(t *testing.T) {
	dir := t.TempDir()
	s1, clock := newTestSessionStore()
	sess, err := s1.Create("admin", datatypes.RoleAdmin)
	require.NoError(t, err)

	p1 := newPersistence(t, dir, s1)
	require.NoError(t, p1.Flush())

	// Restart after the TTL has elapsed.
	s2 := NewSessionStore()
	s2.now = func() time.Time { return clock.now().Add(datatypes.SessionTTL + time.Minute) }
	p2 := newPersistence(t, dir, s2)
	assert.Zero(t, p2.Load())
	_, ok := s2.Get(sess.ID)
	assert.False(t, ok)
}

func TestPersistenceFailOpenOnTamper(t *testing.T) {
	dir := t.TempDir()
	s1, _ := newTestSessionStore()
	_, err := s1.Create("admin", datatypes.RoleAdmin)
	require.NoError(t, err)

	p1 := newPersistence(t, dir, s1)
	require.NoError(t, p1.Flush())

	// Flip a byte in the blob.
	blob, err := os.ReadFile(SessionsFilePath(dir))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	require.NoError(t, os.WriteFile(SessionsFilePath(dir), blob, 0o600))

	s2, _ := newTestSessionStore()
	p2 := newPersistence(t, dir, s2)
	assert.Zero(t, p2.Load(), "tampered file reads as empty")
	assert.Zero(t, s2.Len())
}

func TestPersistenceDebounce(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSessionStore()
	p := newPersistence(t, dir, s)
	p.debounce = 20 * time.Millisecond
	s.SetOnChange(p.ScheduleWrite)

	_, err := s.Create("admin", datatypes.RoleAdmin)
	require.NoError(t, err)
	_, err = s.Create("bob", datatypes.RoleOperator)
	require.NoError(t, err)

	// Nothing on disk until the debounce fires.
	_, statErr := os.Stat(SessionsFilePath(dir))
	assert.True(t, os.IsNotExist(statErr))

	require.Eventually(t, func() bool {
		_, err := os.Stat(SessionsFilePath(dir))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestPersistenceRotateKey(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSessionStore()
	for _, name := range []string{"a", "b"} {
		_, err := s.Create(name, datatypes.RoleOperator)
		require.NoError(t, err)
	}

	key, err := crypto.LoadOrCreateMachineKey(dir, nil)
	require.NoError(t, err)
	oldKeyBytes := append([]byte(nil), key.Bytes()...)
	p := NewSessionPersistence(dir, key, s, nil)
	require.NoError(t, p.Flush())

	n, err := p.RotateKey()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The on-disk key changed and the blob opens under it.
	newKey, err := crypto.LoadOrCreateMachineKey(dir, nil)
	require.NoError(t, err)
	defer newKey.Destroy()
	assert.NotEqual(t, oldKeyBytes, newKey.Bytes())

	s2, _ := newTestSessionStore()
	p2 := NewSessionPersistence(dir, newKey, s2, nil)
	assert.Equal(t, 2, p2.Load())
}
