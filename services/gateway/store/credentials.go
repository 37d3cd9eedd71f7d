// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store implements the gateway's persistent state: user
// credentials, live sessions with their encrypted mirror, and per-user
// preference and project documents.
//
// Every on-disk artifact under the state directory is owned by exactly
// one store type; writes are serialized per store and land with 0600
// permissions.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openclaw/openclaw/pkg/validation"
	"github.com/openclaw/openclaw/services/gateway/crypto"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
)

const (
	credentialsDirName = "credentials"
	usersFileName      = "gateway-users.json"
)

// usersFile is the plaintext on-disk shape. When encryption is on the
// same JSON becomes the envelope payload.
type usersFile struct {
	Version int              `json:"version"`
	Users   []datatypes.User `json:"users"`
}

// CredentialsStore owns <stateDir>/credentials/gateway-users.json.
//
// Lookups are case-insensitive; storage preserves the casing used at
// creation. Every mutation rewrites the whole file under the store
// lock, so concurrent CLI and gateway mutations against one state
// directory must share a single store instance.
type CredentialsStore struct {
	mu     sync.Mutex
	path   string
	users  []datatypes.User
	loaded bool
	logger *slog.Logger

	// encryption-at-rest state
	encrypted bool
	password  string

	watcher *fsnotify.Watcher
}

// UsersFilePath returns the credentials file location for a state dir.
func UsersFilePath(stateDir string) string {
	return filepath.Join(stateDir, credentialsDirName, usersFileName)
}

// OpenCredentials loads the credentials file. password is consulted
// only when the file carries the encrypted envelope; pass "" for
// plaintext files. A missing file yields an empty store that is
// materialized on the first write.
func OpenCredentials(stateDir, password string, logger *slog.Logger) (*CredentialsStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CredentialsStore{
		path:   UsersFilePath(stateDir),
		logger: logger,
	}
	if err := s.load(password); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CredentialsStore) load(password string) error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.users = nil
		s.loaded = true
		return nil
	}
	if err != nil {
		return datatypes.Wrap(datatypes.KindIO, "reading credentials file", err)
	}

	if env, ok := crypto.ParseEnvelope(raw); ok {
		if password == "" {
			return datatypes.E(datatypes.KindUnauthenticated,
				"credentials file is encrypted, a password is required")
		}
		raw, err = crypto.DecryptCredentials(env, password)
		if err != nil {
			return datatypes.Wrap(datatypes.KindUnauthenticated,
				"wrong credentials password", err)
		}
		s.encrypted = true
		s.password = password
	}

	var f usersFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return datatypes.Wrap(datatypes.KindCorrupt, "parsing credentials file", err)
	}
	s.users = f.Users
	s.loaded = true
	return nil
}

// persistLocked rewrites the file. Assumes s.mu is held. The write is
// atomic (temp file + rename) so a crash never leaves a torn file.
func (s *CredentialsStore) persistLocked() error {
	payload, err := json.MarshalIndent(usersFile{Version: 1, Users: s.users}, "", "  ")
	if err != nil {
		return datatypes.Wrap(datatypes.KindIO, "serializing users", err)
	}
	if s.encrypted {
		env, err := crypto.EncryptCredentials(payload, s.password)
		if err != nil {
			return datatypes.Wrap(datatypes.KindIO, "encrypting users", err)
		}
		payload, err = json.MarshalIndent(env, "", "  ")
		if err != nil {
			return datatypes.Wrap(datatypes.KindIO, "serializing envelope", err)
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return datatypes.Wrap(datatypes.KindIO, "creating credentials dir", err)
	}
	tmp, err := os.CreateTemp(dir, ".gateway-users-*.tmp")
	if err != nil {
		return datatypes.Wrap(datatypes.KindIO, "creating temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return datatypes.Wrap(datatypes.KindIO, "writing users", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return datatypes.Wrap(datatypes.KindIO, "setting permissions", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return datatypes.Wrap(datatypes.KindIO, "closing temp file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return datatypes.Wrap(datatypes.KindIO, "replacing users file", err)
	}
	return nil
}

// indexLocked finds a user by case-insensitive name. -1 when absent.
func (s *CredentialsStore) indexLocked(username string) int {
	folded := validation.NormalizeUsername(username)
	for i := range s.users {
		if validation.NormalizeUsername(s.users[i].Username) == folded {
			return i
		}
	}
	return -1
}

// List returns a copy of every user record.
func (s *CredentialsStore) List() []datatypes.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.User, len(s.users))
	copy(out, s.users)
	return out
}

// Get returns a copy of the named user.
func (s *CredentialsStore) Get(username string) (datatypes.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(username)
	if i < 0 {
		return datatypes.User{}, false
	}
	return s.users[i], true
}

// Has reports whether the username exists (case-insensitively).
func (s *CredentialsStore) Has(username string) bool {
	_, ok := s.Get(username)
	return ok
}

// Create adds a new user. The record must arrive with a hashed
// password and a valid role; duplicates conflict.
func (s *CredentialsStore) Create(user datatypes.User) error {
	if err := validation.ValidateUsername(user.Username); err != nil {
		return datatypes.Wrap(datatypes.KindInvalidInput, "invalid username", err)
	}
	if !user.Role.Valid() {
		return datatypes.E(datatypes.KindInvalidInput, fmt.Sprintf("invalid role %q", user.Role))
	}
	if !crypto.IsHashed(user.PasswordHash) {
		return datatypes.E(datatypes.KindInvalidInput, "password must be hashed before storage")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(user.Username) >= 0 {
		return datatypes.E(datatypes.KindConflict, fmt.Sprintf("user %q already exists", user.Username))
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users = append(s.users, user)
	return s.persistLocked()
}

// UpdatePassword replaces the stored password hash.
func (s *CredentialsStore) UpdatePassword(username, passwordHash string) error {
	if !crypto.IsHashed(passwordHash) {
		return datatypes.E(datatypes.KindInvalidInput, "password must be hashed before storage")
	}
	return s.mutate(username, func(u *datatypes.User) error {
		u.PasswordHash = passwordHash
		return nil
	})
}

// UpdateRole changes the user's role.
func (s *CredentialsStore) UpdateRole(username string, role datatypes.Role) error {
	if !role.Valid() {
		return datatypes.E(datatypes.KindInvalidInput, fmt.Sprintf("invalid role %q", role))
	}
	return s.mutate(username, func(u *datatypes.User) error {
		u.Role = role
		return nil
	})
}

// UpdateRecoveryCode sets or clears the recovery code hash.
func (s *CredentialsStore) UpdateRecoveryCode(username, recoveryHash string) error {
	if recoveryHash != "" && !crypto.IsHashed(recoveryHash) {
		return datatypes.E(datatypes.KindInvalidInput, "recovery code must be hashed before storage")
	}
	return s.mutate(username, func(u *datatypes.User) error {
		u.RecoveryCodeHash = recoveryHash
		return nil
	})
}

// UpdateUsername renames a user. The target name must be free, except
// for a pure case change of the same account.
func (s *CredentialsStore) UpdateUsername(current, next string) error {
	if err := validation.ValidateUsername(next); err != nil {
		return datatypes.Wrap(datatypes.KindInvalidInput, "invalid username", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(current)
	if i < 0 {
		return datatypes.E(datatypes.KindNotFound, fmt.Sprintf("user %q not found", current))
	}
	if j := s.indexLocked(next); j >= 0 && j != i {
		return datatypes.E(datatypes.KindConflict, fmt.Sprintf("user %q already exists", next))
	}
	s.users[i].Username = next
	s.users[i].UpdatedAt = time.Now().UTC()
	return s.persistLocked()
}

// TotpUpdate carries the 2FA fields to change; nil fields are left
// untouched.
type TotpUpdate struct {
	Enabled          *bool
	Secret           *string
	BackupCodeHashes *[]string
	LastUsedCode     *string
}

// UpdateTotp applies a partial 2FA update. Enabling 2FA requires a
// secret to be present after the update.
func (s *CredentialsStore) UpdateTotp(username string, update TotpUpdate) error {
	return s.mutate(username, func(u *datatypes.User) error {
		if update.Secret != nil {
			u.TotpSecret = *update.Secret
		}
		if update.Enabled != nil {
			if *update.Enabled && u.TotpSecret == "" {
				return datatypes.E(datatypes.KindInvalidInput, "cannot enable 2FA without a secret")
			}
			u.TotpEnabled = *update.Enabled
			if !u.TotpEnabled {
				u.TotpSecret = ""
				u.BackupCodeHashes = nil
				u.LastUsedTotpCode = ""
			}
		}
		if update.BackupCodeHashes != nil {
			u.BackupCodeHashes = *update.BackupCodeHashes
		}
		if update.LastUsedCode != nil {
			u.LastUsedTotpCode = *update.LastUsedCode
		}
		return nil
	})
}

// Delete removes the user record. Session revocation is the caller's
// job; the store only owns the file.
func (s *CredentialsStore) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(username)
	if i < 0 {
		return datatypes.E(datatypes.KindNotFound, fmt.Sprintf("user %q not found", username))
	}
	s.users = append(s.users[:i], s.users[i+1:]...)
	return s.persistLocked()
}

// mutate runs fn against the named user under the lock and persists.
// UpdatedAt is touched on every successful mutation.
func (s *CredentialsStore) mutate(username string, fn func(*datatypes.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(username)
	if i < 0 {
		return datatypes.E(datatypes.KindNotFound, fmt.Sprintf("user %q not found", username))
	}
	if err := fn(&s.users[i]); err != nil {
		return err
	}
	s.users[i].UpdatedAt = time.Now().UTC()
	return s.persistLocked()
}

// =============================================================================
// Encryption Toggle
// =============================================================================

// Encrypted reports whether the file is wrapped at rest.
func (s *CredentialsStore) Encrypted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encrypted
}

// Encrypt turns on the at-rest envelope using the given password and
// rewrites the file immediately.
func (s *CredentialsStore) Encrypt(password string) error {
	if password == "" {
		return datatypes.E(datatypes.KindInvalidInput, "password cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encrypted {
		return datatypes.E(datatypes.KindConflict, "credentials file is already encrypted")
	}
	s.encrypted = true
	s.password = password
	if err := s.persistLocked(); err != nil {
		s.encrypted = false
		s.password = ""
		return err
	}
	return nil
}

// Decrypt removes the at-rest envelope and rewrites the file as
// plaintext JSON. The store must have been opened with the password.
func (s *CredentialsStore) Decrypt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.encrypted {
		return datatypes.E(datatypes.KindConflict, "credentials file is not encrypted")
	}
	s.encrypted = false
	s.password = ""
	return s.persistLocked()
}

// =============================================================================
// Hot Reload
// =============================================================================

// Watch reloads the store when the plaintext file changes on disk, so
// CLI mutations show up in a running gateway without a restart.
// Encrypted files are not auto-reloaded; decryption needs the operator
// password and a restart. onReload, when non-nil, runs after each
// successful reload.
func (s *CredentialsStore) Watch(onReload func()) error {
	s.mu.Lock()
	if s.encrypted || s.watcher != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: editors and the atomic rename in
	// persistLocked replace the file node.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watching credentials dir: %w", err)
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != usersFileName {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				s.mu.Lock()
				if err := s.load(""); err != nil {
					s.logger.Warn("credentials reload failed", "error", err)
				} else {
					s.logger.Info("credentials file reloaded")
				}
				s.mu.Unlock()
				if onReload != nil {
					onReload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("credentials watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (s *CredentialsStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}
