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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestAppendBeforeInitIsNoop(t *testing.T) {
	l := New()
	l.Append("auth.login.failed", "admin", "1.2.3.4", nil) // must not panic
	assert.Zero(t, l.BufferDepth())
}

func TestAppendFlushRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.Init(dir, 10))
	defer l.Shutdown()

	for i := 0; i < 5; i++ {
		l.Append("auth.login.success", "admin", "1.2.3.4", map[string]any{"n": i})
	}
	l.Flush()

	lines := readLines(t, LogPath(dir))
	require.Len(t, lines, 5)

	var prev time.Time
	for i, line := range lines {
		var e Event
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		assert.Equal(t, "auth.login.success", e.Event)
		assert.Equal(t, "admin", e.Actor)
		assert.Equal(t, "1.2.3.4", e.IP)
		ts, err := time.Parse(time.RFC3339Nano, e.TS)
		require.NoError(t, err)
		assert.False(t, ts.Before(prev), "timestamps ascend at line %d", i)
		prev = ts
	}

	info, err := os.Stat(LogPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestHundredEventsHundredLines(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.Init(dir, 10))

	// 100 appends trip the threshold flush on their own.
	for i := 0; i < 100; i++ {
		l.Append("auth.session.refresh", "admin", "", nil)
	}
	l.Shutdown()

	lines := readLines(t, LogPath(dir))
	assert.Len(t, lines, 100)
	for _, line := range lines {
		var e Event
		assert.NoError(t, json.Unmarshal([]byte(line), &e))
	}
}

func TestAnonymousActorDefault(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.Init(dir, 10))
	l.Append("auth.login.failed", "", "1.2.3.4", nil)
	l.Shutdown()

	lines := readLines(t, LogPath(dir))
	require.Len(t, lines, 1)
	var e Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, AnonymousActor, e.Actor)
}

func TestRotationOnSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.Init(dir, 10))
	defer l.Shutdown()

	// Pre-grow the file past the threshold without going through the
	// buffer.
	padding := strings.Repeat("x", 1024*1024)
	f, err := os.OpenFile(LogPath(dir), os.O_CREATE|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	for i := 0; i < 51; i++ {
		_, err = f.WriteString(padding)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	l.Append("auth.login.success", "admin", "1.2.3.4", nil)
	l.Flush()

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	var rotatedSeen bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "audit-") && strings.HasSuffix(e.Name(), ".jsonl") {
			rotatedSeen = true
		}
	}
	assert.True(t, rotatedSeen, "a rotated file appears")

	// The fresh file holds exactly the new event.
	lines := readLines(t, LogPath(dir))
	require.Len(t, lines, 1)
	var e Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, "auth.login.success", e.Event)
}

func TestRotatedNamesDistinctWithinOneSecond(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.Init(dir, 10))
	defer l.Shutdown()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	first := l.rotatedPath(base)
	second := l.rotatedPath(base.Add(750 * time.Millisecond))

	assert.NotEqual(t, first, second)
	assert.Regexp(t, `audit-2026-08-24T10-00-00-0000Z\.jsonl$`, first)
	assert.Regexp(t, `audit-2026-08-24T10-00-00-7500Z\.jsonl$`, second)
}

func TestRotatedNameNeverReusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.Init(dir, 10))
	defer l.Shutdown()

	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	taken := l.rotatedPath(at)
	require.NoError(t, os.WriteFile(taken, []byte("{}\n"), 0o600))

	next := l.rotatedPath(at)
	assert.NotEqual(t, taken, next)
	assert.Contains(t, next, "audit-2026-08-24T10-00-00-0000Z-1.jsonl")
}

func TestRetentionPruning(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.Init(dir, 3))
	defer l.Shutdown()

	logsDir := filepath.Join(dir, "logs")
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("audit-2025-01-0%dT00-00-00-000Z.jsonl", i+1)
		require.NoError(t, os.WriteFile(filepath.Join(logsDir, name), []byte("{}\n"), 0o600))
	}

	l.mu.Lock()
	l.pruneLocked()
	l.mu.Unlock()

	entries, err := os.ReadDir(logsDir)
	require.NoError(t, err)
	var rotated []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "audit-") {
			rotated = append(rotated, e.Name())
		}
	}
	require.Len(t, rotated, 3)
	// The newest three survive.
	assert.Contains(t, rotated, "audit-2025-01-06T00-00-00-000Z.jsonl")
	assert.Contains(t, rotated, "audit-2025-01-05T00-00-00-000Z.jsonl")
	assert.Contains(t, rotated, "audit-2025-01-04T00-00-00-000Z.jsonl")
}

func TestShutdownFlushes(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.Init(dir, 10))

	l.Append("system.shutdown", "system", "", nil)
	l.Shutdown()

	lines := readLines(t, LogPath(dir))
	assert.Len(t, lines, 1)

	// A second shutdown is harmless.
	l.Shutdown()
}

func TestWriteErrorsAreSwallowed(t *testing.T) {
	dir := t.TempDir()
	l := New()
	errs := 0
	l.OnWriteError = func() { errs++ }
	require.NoError(t, l.Init(dir, 10))
	defer l.Shutdown()

	// Replace the log file with a directory so the open fails.
	_ = os.Remove(LogPath(dir))
	require.NoError(t, os.Mkdir(LogPath(dir), 0o700))

	l.Append("auth.login.failed", "admin", "1.2.3.4", nil)
	l.Flush() // must not panic or error
	assert.Positive(t, errs)
}
