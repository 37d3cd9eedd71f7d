// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openclaw/openclaw/services/gateway/crypto"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
)

const (
	sessionsDirName  = "sessions"
	sessionsFileName = "auth-sessions.enc"

	// persistDebounce coalesces bursts of session mutations into one
	// disk write.
	persistDebounce = 2 * time.Second
)

// SessionPersistence mirrors the live subset of a SessionStore to
// <stateDir>/sessions/auth-sessions.enc, sealed under the machine key
// as IV ‖ tag ‖ ciphertext.
//
// The mirror is read once at startup and written behind a debounce
// thereafter. Load failures of any kind mean starting with an empty
// session map; persisted sessions are a convenience, never a source of
// truth.
type SessionPersistence struct {
	mu       sync.Mutex
	path     string
	stateDir string
	key      *crypto.MachineKey
	store    *SessionStore
	timer    *time.Timer
	debounce time.Duration
	logger   *slog.Logger
}

// SessionsFilePath returns the encrypted mirror location.
func SessionsFilePath(stateDir string) string {
	return filepath.Join(stateDir, sessionsDirName, sessionsFileName)
}

// NewSessionPersistence wires a persistence mirror to the store. The
// caller still needs to register ScheduleWrite as the store's change
// hook.
func NewSessionPersistence(stateDir string, key *crypto.MachineKey, store *SessionStore, logger *slog.Logger) *SessionPersistence {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionPersistence{
		path:     SessionsFilePath(stateDir),
		stateDir: stateDir,
		key:      key,
		store:    store,
		debounce: persistDebounce,
		logger:   logger,
	}
}

// Load decrypts the persisted mirror and imports still-live sessions
// into the store. Malformed or tampered files are ignored silently
// apart from a log line; the gateway starts fresh.
func (p *SessionPersistence) Load() int {
	blob, err := os.ReadFile(p.path)
	if err != nil {
		return 0
	}
	p.mu.Lock()
	plaintext := crypto.DecryptSessionBlob(p.key.Bytes(), blob)
	p.mu.Unlock()
	if plaintext == nil {
		p.logger.Warn("persisted sessions unreadable, starting empty", "path", p.path)
		return 0
	}
	var sessions []datatypes.AuthSession
	if err := json.Unmarshal(plaintext, &sessions); err != nil {
		p.logger.Warn("persisted sessions malformed, starting empty", "error", err)
		return 0
	}
	n := p.store.Import(sessions)
	p.logger.Info("recovered persisted sessions", "count", n)
	return n
}

// ScheduleWrite arms (or re-arms) the debounce timer. Rapid session
// churn produces a single write ~2 s after the last mutation.
func (p *SessionPersistence) ScheduleWrite() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Reset(p.debounce)
		return
	}
	p.timer = time.AfterFunc(p.debounce, func() {
		if err := p.write(); err != nil {
			p.logger.Warn("session persistence write failed", "error", err)
		}
	})
}

// Flush cancels any pending debounce and writes immediately. Called on
// shutdown so live sessions survive a restart.
func (p *SessionPersistence) Flush() error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	return p.write()
}

// RotateKey re-seals the persisted sessions under a freshly generated
// machine key and returns how many sessions were rotated. The old key
// is destroyed.
func (p *SessionPersistence) RotateKey() (int, error) {
	sessions := p.store.Snapshot()

	newKey, err := crypto.GenerateMachineKey(p.stateDir)
	if err != nil {
		return 0, datatypes.Wrap(datatypes.KindIO, "generating new machine key", err)
	}

	p.mu.Lock()
	old := p.key
	p.key = newKey
	p.mu.Unlock()
	if old != nil {
		old.Destroy()
	}

	if err := p.write(); err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// write seals the current live snapshot to disk. An empty snapshot
// still writes, so revoked sessions disappear from the mirror.
func (p *SessionPersistence) write() error {
	sessions := p.store.Snapshot()
	plaintext, err := json.Marshal(sessions)
	if err != nil {
		return datatypes.Wrap(datatypes.KindIO, "serializing sessions", err)
	}

	p.mu.Lock()
	blob, err := crypto.EncryptSessionBlob(p.key.Bytes(), plaintext)
	p.mu.Unlock()
	if err != nil {
		return datatypes.Wrap(datatypes.KindIO, "encrypting sessions", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return datatypes.Wrap(datatypes.KindIO, "creating sessions dir", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return datatypes.Wrap(datatypes.KindIO, "writing sessions", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return datatypes.Wrap(datatypes.KindIO, "replacing sessions file", err)
	}
	return nil
}
