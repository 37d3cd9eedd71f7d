// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"math"
)

// =============================================================================
// Preferences Document (v1)
// =============================================================================

// PreferencesVersion tags the on-disk preference schema.
const PreferencesVersion = 1

// Preferences is the per-user UI preference document. Every field is
// whitelisted and typed; merge drops anything else silently so stale
// or hostile clients cannot grow the document.
type Preferences struct {
	Version         int      `json:"version"`
	Theme           string   `json:"theme,omitempty"           validate:"omitempty,oneof=system light dark"`
	Language        string   `json:"language,omitempty"        validate:"omitempty,max=35"`
	ChatFontSize    int      `json:"chatFontSize,omitempty"    validate:"omitempty,min=10,max=32"`
	SendOnEnter     *bool    `json:"sendOnEnter,omitempty"`
	ShowTimestamps  *bool    `json:"showTimestamps,omitempty"`
	CompactSidebar  *bool    `json:"compactSidebar,omitempty"`
	NotifyOnMention *bool    `json:"notifyOnMention,omitempty"`
	DefaultModel    string   `json:"defaultModel,omitempty"    validate:"omitempty,max=128"`
	PinnedModels    []string `json:"pinnedModels,omitempty"    validate:"omitempty,max=32,dive,max=128"`
}

// DefaultPreferences returns a fresh v1 document.
func DefaultPreferences() Preferences {
	return Preferences{Version: PreferencesVersion, Theme: "system"}
}

// MergePreferences applies a client-supplied patch onto base.
//
// The patch is an open map; only whitelisted keys with the expected
// JSON type are applied, everything else is dropped without error.
// Numeric fields outside their range and enum fields with unknown
// values are likewise dropped. The version tag is never client
// controlled.
func MergePreferences(base Preferences, patch map[string]json.RawMessage) Preferences {
	out := base
	out.Version = PreferencesVersion

	if raw, ok := patch["theme"]; ok {
		if v, ok := asString(raw); ok {
			switch v {
			case "system", "light", "dark":
				out.Theme = v
			}
		}
	}
	if raw, ok := patch["language"]; ok {
		if v, ok := asString(raw); ok && len(v) <= 35 {
			out.Language = v
		}
	}
	if raw, ok := patch["chatFontSize"]; ok {
		if v, ok := asInt(raw); ok && v >= 10 && v <= 32 {
			out.ChatFontSize = v
		}
	}
	if raw, ok := patch["sendOnEnter"]; ok {
		if v, ok := asBool(raw); ok {
			out.SendOnEnter = &v
		}
	}
	if raw, ok := patch["showTimestamps"]; ok {
		if v, ok := asBool(raw); ok {
			out.ShowTimestamps = &v
		}
	}
	if raw, ok := patch["compactSidebar"]; ok {
		if v, ok := asBool(raw); ok {
			out.CompactSidebar = &v
		}
	}
	if raw, ok := patch["notifyOnMention"]; ok {
		if v, ok := asBool(raw); ok {
			out.NotifyOnMention = &v
		}
	}
	if raw, ok := patch["defaultModel"]; ok {
		if v, ok := asString(raw); ok && len(v) <= 128 {
			out.DefaultModel = v
		}
	}
	if raw, ok := patch["pinnedModels"]; ok {
		if v, ok := asStringSlice(raw); ok && len(v) <= 32 {
			valid := true
			for _, m := range v {
				if len(m) > 128 {
					valid = false
					break
				}
			}
			if valid {
				out.PinnedModels = v
			}
		}
	}
	return out
}

func asString(raw json.RawMessage) (string, bool) {
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

func asBool(raw json.RawMessage) (bool, bool) {
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

func asInt(raw json.RawMessage) (int, bool) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	if v != math.Trunc(v) {
		return 0, false
	}
	return int(v), true
}

func asStringSlice(raw json.RawMessage) ([]string, bool) {
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}
