// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package audit implements the append-only security audit log.
//
// Events are buffered in memory and flushed to
// <stateDir>/logs/audit.jsonl as one JSON object per line. A flush
// happens when the buffer reaches 100 entries, when the 1-second timer
// fires, or explicitly. When the file crosses 50 MB it is rotated to a
// timestamped sibling and older rotations beyond the retention count
// are pruned.
//
// # Failure Policy
//
// Audit I/O is best effort. A failed write must never fail an
// authentication flow, so errors are swallowed here; an optional
// OnWriteError hook lets the caller count them on a diagnostic
// channel. Append before Init is a no-op for the same reason.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	flushThreshold   = 100
	flushInterval    = time.Second
	rotateSizeBytes  = 50 * 1024 * 1024
	DefaultRetention = 10

	logFileName = "audit.jsonl"
)

// Event is one audit record. Serialized as a single JSONL line.
type Event struct {
	TS      string         `json:"ts"`
	Event   string         `json:"event"`
	Actor   string         `json:"actor"`
	IP      string         `json:"ip,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// AnonymousActor is recorded when no principal is known yet, e.g. a
// failed login for an unknown user.
const AnonymousActor = "anonymous"

// Log is the buffered JSONL audit writer. One Log instance exists per
// gateway; it is constructed unarmed and armed by Init.
type Log struct {
	mu        sync.Mutex
	dir       string
	path      string
	buffer    [][]byte
	retention int
	ready     bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	now    func() time.Time
	logger *slog.Logger

	// OnWriteError, when set before Init, is invoked once per failed
	// file operation. Intended for a metrics counter, never for
	// control flow.
	OnWriteError func()
}

// New returns an unarmed log. Append is a no-op until Init runs.
func New() *Log {
	return &Log{now: time.Now, logger: slog.Default()}
}

// LogPath returns the current audit file under the state directory.
func LogPath(stateDir string) string {
	return filepath.Join(stateDir, "logs", logFileName)
}

// Init arms the log and starts the periodic flush timer. retention
// bounds how many rotated files are kept; values < 1 fall back to the
// default.
func (l *Log) Init(stateDir string, retention int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return nil
	}
	if retention < 1 {
		retention = DefaultRetention
	}
	l.dir = filepath.Join(stateDir, "logs")
	l.path = filepath.Join(l.dir, logFileName)
	l.retention = retention
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return err
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.ready = true

	go l.flushLoop()
	return nil
}

// Append enqueues one event. Serialization happens here so the caller
// can mutate details afterwards; the write itself may trail by up to
// one flush interval.
func (l *Log) Append(event, actor, ip string, details map[string]any) {
	if actor == "" {
		actor = AnonymousActor
	}
	e := Event{
		TS:      l.now().UTC().Format(time.RFC3339Nano),
		Event:   event,
		Actor:   actor,
		IP:      ip,
		Details: details,
	}
	line, err := json.Marshal(e)
	if err != nil {
		// Details carried something unmarshalable; drop the event
		// rather than fail the caller.
		l.reportError()
		return
	}

	l.mu.Lock()
	if !l.ready {
		l.mu.Unlock()
		return
	}
	l.buffer = append(l.buffer, line)
	shouldFlush := len(l.buffer) >= flushThreshold
	l.mu.Unlock()

	if shouldFlush {
		l.Flush()
	}
}

// Flush writes all buffered events to disk, rotating first when the
// file is over the size threshold. Errors are swallowed.
func (l *Log) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}

// Shutdown stops the timer and performs a final synchronous flush.
// Safe to call more than once.
func (l *Log) Shutdown() {
	l.mu.Lock()
	if !l.ready {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.stopOnce.Do(func() {
		close(l.stop)
		<-l.done
	})
	l.Flush()
}

// BufferDepth reports how many events await flush. Metrics only.
func (l *Log) BufferDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

func (l *Log) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Flush()
		case <-l.stop:
			return
		}
	}
}

// flushLocked assumes l.mu is held.
func (l *Log) flushLocked() {
	if !l.ready || len(l.buffer) == 0 {
		return
	}
	l.rotateIfNeededLocked()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		l.reportError()
		return
	}
	defer f.Close()

	var sb strings.Builder
	for _, line := range l.buffer {
		sb.Write(line)
		sb.WriteByte('\n')
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		l.reportError()
		return
	}
	l.buffer = l.buffer[:0]
}

// rotateIfNeededLocked renames the current file once it crosses the
// size threshold. A committed line is never lost: rename is atomic,
// the destination name is never reused, and the fresh file starts
// empty.
func (l *Log) rotateIfNeededLocked() {
	info, err := os.Stat(l.path)
	if err != nil || info.Size() < rotateSizeBytes {
		return
	}
	if err := os.Rename(l.path, l.rotatedPath(l.now())); err != nil {
		l.reportError()
		return
	}
	l.pruneLocked()
}

// rotatedPath picks the destination for the current file. The stamp
// carries fractional seconds so rapid rotations stay apart; if the
// name is somehow taken (same 100 microsecond tick), a numeric suffix
// keeps the rename from overwriting a committed file.
func (l *Log) rotatedPath(t time.Time) string {
	stamp := strings.ReplaceAll(t.UTC().Format("2006-01-02T15-04-05.0000Z"), ".", "-")
	path := filepath.Join(l.dir, "audit-"+stamp+".jsonl")
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(l.dir, fmt.Sprintf("audit-%s-%d.jsonl", stamp, n))
	}
}

// pruneLocked removes the oldest rotated files beyond retention. The
// timestamped names sort lexically in time order.
func (l *Log) pruneLocked() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return
	}
	var rotated []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl") {
			rotated = append(rotated, name)
		}
	}
	if len(rotated) <= l.retention {
		return
	}
	sort.Strings(rotated)
	for _, name := range rotated[:len(rotated)-l.retention] {
		if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
			l.logger.Warn("failed to prune rotated audit file", "file", name, "error", err)
		}
	}
}

func (l *Log) reportError() {
	if l.OnWriteError != nil {
		l.OnWriteError()
	}
}
