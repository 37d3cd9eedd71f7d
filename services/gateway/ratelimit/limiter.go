// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit implements the progressive login cooldown.
//
// Failed authentication attempts accumulate per opaque key. Once a key
// crosses a tier threshold, further attempts are locked out for the
// tier's cooldown. The count never decays on its own; only a
// successful authentication resets it. Login uses double keying so an
// attacker rotating IPs still trips the per-user key, and an attacker
// spraying users still trips the per-IP key.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Cooldown tiers. The cooldown is a step function of the failure
// count; counts below the first threshold never lock.
const (
	tier1Count = 3
	tier2Count = 6
	tier3Count = 9
	tier4Count = 12

	tier1Cooldown = 30 * time.Second
	tier2Cooldown = 60 * time.Second
	tier3Cooldown = 5 * time.Minute
	tier4Cooldown = 15 * time.Minute
)

type bucket struct {
	count       int
	lockedUntil time.Time
}

// Limiter tracks failure buckets by opaque key. Safe for concurrent
// use. Buckets are ephemeral; the limiter never touches disk.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// New returns an empty limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Check returns the remaining lockout for key in milliseconds, or 0
// when the key may attempt now.
func (l *Limiter) Check(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remainingLocked(key)
}

// RecordFailure increments the key's failure count and extends its
// lockout according to the new count's tier.
func (l *Limiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{}
		l.buckets[key] = b
	}
	b.count++
	if cd := cooldownFor(b.count); cd > 0 {
		b.lockedUntil = l.now().Add(cd)
	}
}

// Reset clears the key entirely. Called on successful authentication.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// CheckDoubleKey returns the larger of the IP and user lockouts in
// milliseconds. Either key alone is enough to block the attempt.
func (l *Limiter) CheckDoubleKey(ip, username string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ipMs := l.remainingLocked(IPKey(ip))
	userMs := l.remainingLocked(UserKey(username))
	if userMs > ipMs {
		return userMs
	}
	return ipMs
}

// LockedKinds reports which of the two login keys currently hold a
// lockout, as metric label values ("ip", "user"). Empty when the
// attempt may proceed.
func (l *Limiter) LockedKinds(ip, username string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kinds []string
	if l.remainingLocked(IPKey(ip)) > 0 {
		kinds = append(kinds, "ip")
	}
	if l.remainingLocked(UserKey(username)) > 0 {
		kinds = append(kinds, "user")
	}
	return kinds
}

// RecordDoubleKeyFailure penalizes both keys for one failed attempt.
func (l *Limiter) RecordDoubleKeyFailure(ip, username string) {
	l.RecordFailure(IPKey(ip))
	l.RecordFailure(UserKey(username))
}

// ResetDoubleKey clears both keys on successful authentication.
func (l *Limiter) ResetDoubleKey(ip, username string) {
	l.Reset(IPKey(ip))
	l.Reset(UserKey(username))
}

// IPKey builds the per-IP bucket key.
func IPKey(ip string) string { return "ip:" + ip }

// UserKey builds the per-user bucket key. Case folded so FOO and foo
// share one bucket, matching the credential store's lookup rule.
func UserKey(username string) string { return "user:" + strings.ToLower(username) }

func (l *Limiter) remainingLocked(key string) int64 {
	b := l.buckets[key]
	if b == nil {
		return 0
	}
	remaining := b.lockedUntil.Sub(l.now())
	if remaining <= 0 {
		return 0
	}
	return remaining.Milliseconds()
}

func cooldownFor(count int) time.Duration {
	switch {
	case count >= tier4Count:
		return tier4Cooldown
	case count >= tier3Count:
		return tier3Cooldown
	case count >= tier2Count:
		return tier2Cooldown
	case count >= tier1Count:
		return tier1Cooldown
	default:
		return 0
	}
}
