// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring turn processing
// and answer streaming. Metrics include:
//   - Turn counters (by status and terminal pipeline stage)
//   - Per-branch evidence fetch outcome counters and durations
//   - Latency histograms (time to first token, total stream duration)
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
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
const metricsNamespace = "finsight"

// Subsystem for turn pipeline metrics
const turnsSubsystem = "turns"

// TurnMetrics holds all Prometheus metrics for turn processing.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring pipeline
// performance and resource usage. Initialize once at startup via
// InitMetrics().
//
// # Fields
//
//   - TurnsTotal: Counter of processed turns by status
//   - BranchFetchesTotal: Counter of evidence fetches by branch and outcome
//   - BranchFetchSeconds: Histogram of per-branch fetch duration
//   - TokensStreamedTotal: Counter of answer tokens streamed
//   - TimeToFirstTokenSeconds: Histogram of time to first token
//   - StreamDurationSeconds: Histogram of total stream duration
//   - ActiveStreams: Gauge of currently active streams
//   - ErrorsTotal: Counter of errors by type
//   - KeepAlivesTotal: Counter of SSE keepalive pings
//   - ClientDisconnectsTotal: Counter of mid-stream client disconnects
//
// # Thread Safety
//
// All operations are thread-safe.
type TurnMetrics struct {
	// TurnsTotal counts completed turns.
	// Labels: status (success, error)
	TurnsTotal *prometheus.CounterVec

	// BranchFetchesTotal counts evidence branch executions.
	// Labels: branch (market, news, documents), outcome (present, empty, failed)
	BranchFetchesTotal *prometheus.CounterVec

	// BranchFetchSeconds measures per-branch fetch duration.
	// Labels: branch
	BranchFetchSeconds *prometheus.HistogramVec

	// TokensStreamedTotal counts answer fragments delivered to clients.
	TokensStreamedTotal prometheus.Counter

	// TimeToFirstTokenSeconds measures latency to first answer token.
	TimeToFirstTokenSeconds prometheus.Histogram

	// StreamDurationSeconds measures total turn stream duration.
	// Labels: status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open SSE connections.
	ActiveStreams prometheus.Gauge

	// ErrorsTotal counts errors by category.
	// Labels: error_code (validation, llm_error, timeout, session_busy, internal, client_disconnect)
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts client disconnections during streaming.
	ClientDisconnectsTotal prometheus.Counter

	// SessionsEvictedTotal counts sessions removed by the TTL scheduler.
	// Labels: reason (idle, capacity)
	SessionsEvictedTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of TurnMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *TurnMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Outputs
//
//   - *TurnMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *TurnMetrics {
	DefaultMetrics = NewTurnMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewTurnMetrics creates a metrics instance registered against reg. Used by
// InitMetrics for the process-wide singleton and by tests with an isolated
// registry.
func NewTurnMetrics(reg prometheus.Registerer) *TurnMetrics {
	factory := promauto.With(reg)
	return &TurnMetrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "total",
				Help:      "Total number of processed turns by terminal status",
			},
			[]string{"status"},
		),

		BranchFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "branch_fetches_total",
				Help:      "Evidence branch executions by branch and outcome",
			},
			[]string{"branch", "outcome"},
		),

		BranchFetchSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "branch_fetch_seconds",
				Help:      "Per-branch evidence fetch duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"branch"},
		),

		TokensStreamedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "tokens_streamed_total",
				Help:      "Total answer fragments delivered to clients",
			},
		),

		TimeToFirstTokenSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first answer token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total turn stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "errors_total",
				Help:      "Total turn errors by category",
			},
			[]string{"error_code"},
		),

		KeepAlivesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "keepalives_total",
				Help:      "Total SSE keepalive pings sent",
			},
		),

		ClientDisconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
		),

		SessionsEvictedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "sessions",
				Name:      "evicted_total",
				Help:      "Sessions removed by the TTL scheduler, by reason",
			},
			[]string{"reason"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeLLMError indicates LLM API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTimeout indicates operation timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeSessionBusy indicates a turn arrived while the session's
	// previous turn was still running.
	ErrorCodeSessionBusy ErrorCode = "session_busy"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a completed turn.
func (m *TurnMetrics) RecordTurn(success bool) {
	m.TurnsTotal.WithLabelValues(turnStatus(success)).Inc()
}

// RecordBranchFetch records one evidence branch execution.
//
// # Inputs
//
//   - branch: market, news, or documents.
//   - outcome: present, empty, or failed.
//   - seconds: Fetch duration in seconds.
func (m *TurnMetrics) RecordBranchFetch(branch, outcome string, seconds float64) {
	m.BranchFetchesTotal.WithLabelValues(branch, outcome).Inc()
	m.BranchFetchSeconds.WithLabelValues(branch).Observe(seconds)
}

// RecordError records a turn error.
func (m *TurnMetrics) RecordError(code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *TurnMetrics) StreamStarted() {
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *TurnMetrics) StreamEnded() {
	m.ActiveStreams.Dec()
}

// RecordTimeToFirstToken records the time to first token latency.
func (m *TurnMetrics) RecordTimeToFirstToken(seconds float64) {
	m.TimeToFirstTokenSeconds.Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *TurnMetrics) RecordStreamDuration(seconds float64, success bool) {
	m.StreamDurationSeconds.WithLabelValues(turnStatus(success)).Observe(seconds)
}

// RecordKeepAlive increments the keepalive counter.
func (m *TurnMetrics) RecordKeepAlive() {
	m.KeepAlivesTotal.Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *TurnMetrics) RecordClientDisconnect() {
	m.ClientDisconnectsTotal.Inc()
}

// RecordEviction records one session eviction.
//
// # Inputs
//
//   - reason: idle or capacity.
func (m *TurnMetrics) RecordEviction(reason string) {
	m.SessionsEvictedTotal.WithLabelValues(reason).Inc()
}

func turnStatus(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
