// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/openclaw/openclaw/pkg/validation"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
)

const preferencesDirName = "user-preferences"

// PreferencesStore owns <stateDir>/user-preferences/<user>.json, one
// v1 document per user. Unknown users read as the default document.
type PreferencesStore struct {
	mu       sync.Mutex
	dir      string
	validate *validator.Validate
}

// NewPreferencesStore returns a store rooted at the state directory.
func NewPreferencesStore(stateDir string) *PreferencesStore {
	return &PreferencesStore{
		dir:      filepath.Join(stateDir, preferencesDirName),
		validate: validator.New(),
	}
}

func (p *PreferencesStore) pathFor(username string) (string, error) {
	safe, err := validation.SanitizeUsername(username)
	if err != nil {
		return "", datatypes.Wrap(datatypes.KindInvalidInput, "invalid username", err)
	}
	return filepath.Join(p.dir, safe+".json"), nil
}

// Get reads the user's document, or the default when none exists. A
// corrupt file also reads as the default: preferences are cosmetic and
// never worth failing a request over.
func (p *PreferencesStore) Get(username string) (datatypes.Preferences, error) {
	path, err := p.pathFor(username)
	if err != nil {
		return datatypes.Preferences{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return datatypes.DefaultPreferences(), nil
	}
	var prefs datatypes.Preferences
	if err := json.Unmarshal(raw, &prefs); err != nil || prefs.Version != datatypes.PreferencesVersion {
		return datatypes.DefaultPreferences(), nil
	}
	return prefs, nil
}

// Merge applies a client patch onto the stored document and persists
// the result. The merge whitelist lives in datatypes; the validator
// run afterwards is a second fence on range and enum fields.
func (p *PreferencesStore) Merge(username string, patch map[string]json.RawMessage) (datatypes.Preferences, error) {
	current, err := p.Get(username)
	if err != nil {
		return datatypes.Preferences{}, err
	}
	merged := datatypes.MergePreferences(current, patch)
	if err := p.validate.Struct(merged); err != nil {
		return datatypes.Preferences{}, datatypes.Wrap(datatypes.KindInvalidInput, "invalid preferences", err)
	}

	path, err := p.pathFor(username)
	if err != nil {
		return datatypes.Preferences{}, err
	}
	raw, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return datatypes.Preferences{}, datatypes.Wrap(datatypes.KindIO, "serializing preferences", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return datatypes.Preferences{}, datatypes.Wrap(datatypes.KindIO, "creating preferences dir", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return datatypes.Preferences{}, datatypes.Wrap(datatypes.KindIO, "writing preferences", err)
	}
	return merged, nil
}
