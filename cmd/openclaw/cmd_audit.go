// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/pkg/ux"
	"github.com/openclaw/openclaw/services/gateway/audit"
)

func runAuditTail(cmd *cobra.Command, args []string) error {
	stateDir := config.ResolvedStateDir()

	events, err := audit.Tail(stateDir, auditLines)
	if err != nil {
		return err
	}
	for _, e := range events {
		printAuditEvent(e)
	}

	if !auditFollow {
		return nil
	}
	return followAuditLog(audit.LogPath(stateDir))
}

func runAuditSearch(cmd *cobra.Command, args []string) error {
	filter := audit.Filter{Event: auditEvent, Actor: auditActor}
	if auditSince != "" {
		since, err := parseSince(auditSince)
		if err != nil {
			return err
		}
		filter.Since = since
	}

	events, err := audit.Search(config.ResolvedStateDir(), filter)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		ux.Muted("No matching events.")
		return nil
	}
	for _, e := range events {
		printAuditEvent(e)
	}
	return nil
}

// parseSince accepts either a lookback duration ("24h", "30m") or an
// RFC 3339 instant.
func parseSince(s string) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse --since %q: use a duration (24h) or RFC 3339", s)
}

func printAuditEvent(e audit.Event) {
	if auditJSON {
		raw, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Println(string(raw))
		return
	}

	var details string
	if len(e.Details) > 0 {
		parts := make([]string, 0, len(e.Details))
		for k, v := range e.Details {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		details = strings.Join(parts, " ")
	}
	line := fmt.Sprintf("%s  %-28s %-16s %s", e.TS, e.Event, e.Actor, e.IP)
	if details != "" {
		line += "  " + details
	}
	fmt.Println(strings.TrimRight(line, " "))
}

// followAuditLog streams lines appended after the current end of file.
// Rotation (the file shrinking or vanishing) reopens from the top of
// the fresh file. Interrupt returns cleanly.
func followAuditLog(path string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.Size() < offset {
				offset = 0 // rotated
			}
			if info.Size() == offset {
				continue
			}
			next, err := emitFrom(path, offset)
			if err != nil {
				continue
			}
			offset = next
		}
	}
}

// emitFrom prints complete lines starting at offset and returns the
// offset after the last full line, so a partially flushed line waits
// for the next tick.
func emitFrom(path string, offset int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return offset, nil
		}
		offset += int64(len(line))

		var e audit.Event
		if json.Unmarshal([]byte(strings.TrimSpace(line)), &e) == nil {
			printAuditEvent(e)
		}
	}
}
