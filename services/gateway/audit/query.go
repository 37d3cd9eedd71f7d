// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Read-Side Queries (CLI)
// =============================================================================

// Filter selects events for Search. Zero values match everything.
type Filter struct {
	// Event matches when the event identifier contains the pattern.
	Event string
	// Actor matches when the actor contains the pattern.
	Actor string
	// Since drops events with a timestamp before this instant.
	Since time.Time
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.Event != "" && !strings.Contains(e.Event, f.Event) {
		return false
	}
	if f.Actor != "" && !strings.Contains(e.Actor, f.Actor) {
		return false
	}
	if !f.Since.IsZero() {
		ts, err := time.Parse(time.RFC3339Nano, e.TS)
		if err != nil || ts.Before(f.Since) {
			return false
		}
	}
	return true
}

// Tail returns the last n events from the current audit file. Lines
// that fail to parse are skipped; the log is append-only but nothing
// stops an operator from truncating it mid-line.
func Tail(stateDir string, n int) ([]Event, error) {
	events, err := readFile(LogPath(stateDir), Filter{})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// Search scans rotated files oldest-first, then the current file,
// returning every event that passes the filter in write order.
func Search(stateDir string, filter Filter) ([]Event, error) {
	dir := filepath.Join(stateDir, "logs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log dir: %w", err)
	}

	var rotated []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl") {
			rotated = append(rotated, name)
		}
	}
	sort.Strings(rotated)

	var out []Event
	for _, name := range rotated {
		events, err := readFile(filepath.Join(dir, name), filter)
		if err != nil {
			continue
		}
		out = append(out, events...)
	}
	if events, err := readFile(LogPath(stateDir), filter); err == nil {
		out = append(out, events...)
	}
	return out, nil
}

func readFile(path string, filter Filter) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, scanner.Err()
}
