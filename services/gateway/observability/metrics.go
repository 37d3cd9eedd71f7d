// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the gateway.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the
// authentication surface. Metrics include:
//   - Login attempt counters (by outcome)
//   - Active session gauge
//   - Rate limiter rejection counters (by key kind)
//   - Audit log buffer depth and write failures
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "openclaw"

// Subsystem for gateway auth metrics
const gatewaySubsystem = "gateway"

// AuthMetrics holds all Prometheus metrics for the authentication surface.
//
// # Description
//
// Provides counters and gauges for monitoring login traffic, session
// population, and audit log health. Initialize once at startup via
// InitMetrics(), or with a private registry via NewAuthMetrics() in tests.
//
// # Thread Safety
//
// All operations are thread-safe.
type AuthMetrics struct {
	// LoginsTotal counts login attempts by outcome.
	// Labels: outcome (success, bad_credentials, totp_required, totp_invalid, rate_limited)
	LoginsTotal *prometheus.CounterVec

	// ActiveSessions tracks the number of live sessions in the store.
	ActiveSessions prometheus.Gauge

	// RateLimitRejectionsTotal counts requests refused by the
	// progressive limiter. Labels: key_kind (ip, user)
	RateLimitRejectionsTotal *prometheus.CounterVec

	// SessionRevocationsTotal counts sessions destroyed outside normal
	// expiry. Labels: reason (logout, admin_revoke, password_change)
	SessionRevocationsTotal *prometheus.CounterVec

	// AuditBufferDepth tracks entries waiting in the audit write buffer.
	AuditBufferDepth prometheus.Gauge

	// AuditWriteErrorsTotal counts swallowed audit write failures.
	AuditWriteErrorsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of AuthMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *AuthMetrics

// InitMetrics initializes the default metrics instance on the global
// Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *AuthMetrics {
	DefaultMetrics = NewAuthMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewAuthMetrics creates and registers the metric set on the given
// registerer. Tests pass a fresh prometheus.NewRegistry() to avoid
// duplicate registration panics.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	factory := promauto.With(reg)
	return &AuthMetrics{
		LoginsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "logins_total",
				Help:      "Total login attempts by outcome",
			},
			[]string{"outcome"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_sessions",
				Help:      "Number of live sessions in the session store",
			},
		),

		RateLimitRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "rate_limit_rejections_total",
				Help:      "Requests refused by the progressive rate limiter",
			},
			[]string{"key_kind"},
		),

		SessionRevocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "session_revocations_total",
				Help:      "Sessions destroyed outside normal expiry",
			},
			[]string{"reason"},
		),

		AuditBufferDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "audit_buffer_depth",
				Help:      "Entries waiting in the audit write buffer",
			},
		),

		AuditWriteErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "audit_write_errors_total",
				Help:      "Audit write failures swallowed by the logger",
			},
		),
	}
}

// =============================================================================
// Outcome Labels
// =============================================================================

// LoginOutcome categorizes a login attempt for metrics labeling.
type LoginOutcome string

const (
	// OutcomeSuccess indicates a completed login.
	OutcomeSuccess LoginOutcome = "success"

	// OutcomeBadCredentials indicates a wrong username or password.
	OutcomeBadCredentials LoginOutcome = "bad_credentials"

	// OutcomeTotpRequired indicates a valid password awaiting a TOTP code.
	OutcomeTotpRequired LoginOutcome = "totp_required"

	// OutcomeTotpInvalid indicates a rejected TOTP or backup code.
	OutcomeTotpInvalid LoginOutcome = "totp_invalid"

	// OutcomeRateLimited indicates the attempt was refused in cooldown.
	OutcomeRateLimited LoginOutcome = "rate_limited"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordLogin records a login attempt outcome.
func (m *AuthMetrics) RecordLogin(outcome LoginOutcome) {
	m.LoginsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordRateLimitRejection records a limiter refusal for a key kind
// ("ip" or "user").
func (m *AuthMetrics) RecordRateLimitRejection(keyKind string) {
	m.RateLimitRejectionsTotal.WithLabelValues(keyKind).Inc()
}

// RecordRevocation records a forced session teardown.
func (m *AuthMetrics) RecordRevocation(reason string) {
	m.SessionRevocationsTotal.WithLabelValues(reason).Inc()
}

// SetActiveSessions updates the live session gauge.
func (m *AuthMetrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// SetAuditBufferDepth updates the audit buffer gauge.
func (m *AuthMetrics) SetAuditBufferDepth(n int) {
	m.AuditBufferDepth.Set(float64(n))
}

// RecordAuditWriteError increments the swallowed write failure counter.
func (m *AuthMetrics) RecordAuditWriteError() {
	m.AuditWriteErrorsTotal.Inc()
}
