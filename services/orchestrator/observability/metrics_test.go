// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics creates a TurnMetrics instance with an isolated registry.
// This avoids conflicts with the global Prometheus registry and allows
// parallel testing.
func newTestMetrics(t *testing.T) *TurnMetrics {
	t.Helper()
	return NewTurnMetrics(prometheus.NewRegistry())
}

// ============================================================================
// InitMetrics Tests
// ============================================================================

// Note: InitMetrics uses promauto which registers with the default Prometheus
// registry. This test must only run once per test binary execution since
// duplicate registration will panic.
var initMetricsTestOnce bool

func TestInitMetrics(t *testing.T) {
	if initMetricsTestOnce {
		t.Skip("InitMetrics can only be called once per test run (promauto restriction)")
	}
	initMetricsTestOnce = true

	result := InitMetrics()

	if result == nil {
		t.Fatal("InitMetrics() returned nil")
	}
	if DefaultMetrics == nil {
		t.Fatal("DefaultMetrics should be set after InitMetrics()")
	}
	if DefaultMetrics != result {
		t.Error("DefaultMetrics should equal the returned value")
	}

	if result.TurnsTotal == nil {
		t.Error("TurnsTotal should not be nil")
	}
	if result.BranchFetchesTotal == nil {
		t.Error("BranchFetchesTotal should not be nil")
	}
	if result.BranchFetchSeconds == nil {
		t.Error("BranchFetchSeconds should not be nil")
	}
	if result.TokensStreamedTotal == nil {
		t.Error("TokensStreamedTotal should not be nil")
	}
	if result.TimeToFirstTokenSeconds == nil {
		t.Error("TimeToFirstTokenSeconds should not be nil")
	}
	if result.StreamDurationSeconds == nil {
		t.Error("StreamDurationSeconds should not be nil")
	}
	if result.ActiveStreams == nil {
		t.Error("ActiveStreams should not be nil")
	}
	if result.ErrorsTotal == nil {
		t.Error("ErrorsTotal should not be nil")
	}
	if result.KeepAlivesTotal == nil {
		t.Error("KeepAlivesTotal should not be nil")
	}
	if result.ClientDisconnectsTotal == nil {
		t.Error("ClientDisconnectsTotal should not be nil")
	}
	if result.SessionsEvictedTotal == nil {
		t.Error("SessionsEvictedTotal should not be nil")
	}

	// Verify metrics can be used
	result.RecordTurn(true)
	result.RecordError(ErrorCodeTimeout)
	result.RecordBranchFetch("market", "present", 0.2)
	result.StreamStarted()
	result.StreamEnded()
}

// ============================================================================
// Constants Tests
// ============================================================================

func TestConstants(t *testing.T) {
	if metricsNamespace != "finsight" {
		t.Errorf("metricsNamespace = %q, want %q", metricsNamespace, "finsight")
	}
	if turnsSubsystem != "turns" {
		t.Errorf("turnsSubsystem = %q, want %q", turnsSubsystem, "turns")
	}
}

func TestErrorCodeConstants(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrorCodeValidation, "validation"},
		{ErrorCodeLLMError, "llm_error"},
		{ErrorCodeTimeout, "timeout"},
		{ErrorCodeSessionBusy, "session_busy"},
		{ErrorCodeInternal, "internal"},
		{ErrorCodeClientDisconnect, "client_disconnect"},
	}

	for _, tt := range tests {
		if string(tt.code) != tt.want {
			t.Errorf("ErrorCode = %q, want %q", tt.code, tt.want)
		}
	}
}

// ============================================================================
// RecordTurn Tests
// ============================================================================

func TestTurnMetrics_RecordTurn(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTurn(true)
	m.RecordTurn(true)
	m.RecordTurn(false)

	successVal := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("success"))
	if successVal != 2 {
		t.Errorf("TurnsTotal[success] = %f, want 2", successVal)
	}
	errorVal := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("error"))
	if errorVal != 1 {
		t.Errorf("TurnsTotal[error] = %f, want 1", errorVal)
	}
}

// ============================================================================
// RecordBranchFetch Tests
// ============================================================================

func TestTurnMetrics_RecordBranchFetch(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordBranchFetch("market", "present", 0.3)
	m.RecordBranchFetch("market", "present", 0.1)
	m.RecordBranchFetch("news", "failed", 10.0)
	m.RecordBranchFetch("documents", "empty", 0.05)

	marketVal := testutil.ToFloat64(m.BranchFetchesTotal.WithLabelValues("market", "present"))
	if marketVal != 2 {
		t.Errorf("BranchFetchesTotal[market,present] = %f, want 2", marketVal)
	}
	newsVal := testutil.ToFloat64(m.BranchFetchesTotal.WithLabelValues("news", "failed"))
	if newsVal != 1 {
		t.Errorf("BranchFetchesTotal[news,failed] = %f, want 1", newsVal)
	}
	docsVal := testutil.ToFloat64(m.BranchFetchesTotal.WithLabelValues("documents", "empty"))
	if docsVal != 1 {
		t.Errorf("BranchFetchesTotal[documents,empty] = %f, want 1", docsVal)
	}

	count := testutil.CollectAndCount(m.BranchFetchSeconds)
	if count == 0 {
		t.Error("Expected branch fetch duration observations to be collected")
	}
}

// ============================================================================
// RecordError Tests
// ============================================================================

func TestTurnMetrics_RecordError(t *testing.T) {
	m := newTestMetrics(t)

	codes := []ErrorCode{
		ErrorCodeValidation,
		ErrorCodeLLMError,
		ErrorCodeTimeout,
		ErrorCodeSessionBusy,
		ErrorCodeInternal,
		ErrorCodeClientDisconnect,
	}
	for _, code := range codes {
		m.RecordError(code)

		val := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(string(code)))
		if val != 1 {
			t.Errorf("ErrorsTotal[%s] = %f, want 1", code, val)
		}
	}
}

// ============================================================================
// StreamStarted/StreamEnded Tests
// ============================================================================

func TestTurnMetrics_StreamLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamStarted()
	m.StreamStarted()
	m.StreamStarted()

	val := testutil.ToFloat64(m.ActiveStreams)
	if val != 3 {
		t.Errorf("After 3 starts: ActiveStreams = %f, want 3", val)
	}

	m.StreamEnded()

	val = testutil.ToFloat64(m.ActiveStreams)
	if val != 2 {
		t.Errorf("After 1 end: ActiveStreams = %f, want 2", val)
	}

	m.StreamEnded()
	m.StreamEnded()

	val = testutil.ToFloat64(m.ActiveStreams)
	if val != 0 {
		t.Errorf("After all ends: ActiveStreams = %f, want 0", val)
	}
}

// ============================================================================
// Histogram Tests
// ============================================================================

func TestTurnMetrics_RecordTimeToFirstToken(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTimeToFirstToken(0.5)

	count := testutil.CollectAndCount(m.TimeToFirstTokenSeconds)
	if count == 0 {
		t.Error("Expected at least one metric to be collected")
	}
}

func TestTurnMetrics_RecordStreamDuration(t *testing.T) {
	m := newTestMetrics(t)

	// Values spread across buckets: 1, 5, 10, 30, 60, 120, 300
	m.RecordStreamDuration(0.5, true)
	m.RecordStreamDuration(8.0, true)
	m.RecordStreamDuration(45.0, true)
	m.RecordStreamDuration(100.0, false)

	count := testutil.CollectAndCount(m.StreamDurationSeconds)
	if count == 0 {
		t.Error("Expected stream duration observations to be collected")
	}
}

// ============================================================================
// Counter Tests
// ============================================================================

func TestTurnMetrics_RecordKeepAlive(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordKeepAlive()
	m.RecordKeepAlive()
	m.RecordKeepAlive()

	val := testutil.ToFloat64(m.KeepAlivesTotal)
	if val != 3 {
		t.Errorf("KeepAlivesTotal = %f, want 3", val)
	}
}

func TestTurnMetrics_RecordClientDisconnect(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordClientDisconnect()
	m.RecordClientDisconnect()

	val := testutil.ToFloat64(m.ClientDisconnectsTotal)
	if val != 2 {
		t.Errorf("ClientDisconnectsTotal = %f, want 2", val)
	}
}

func TestTurnMetrics_RecordEviction(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEviction("idle")
	m.RecordEviction("idle")
	m.RecordEviction("capacity")

	idleVal := testutil.ToFloat64(m.SessionsEvictedTotal.WithLabelValues("idle"))
	if idleVal != 2 {
		t.Errorf("SessionsEvictedTotal[idle] = %f, want 2", idleVal)
	}
	capVal := testutil.ToFloat64(m.SessionsEvictedTotal.WithLabelValues("capacity"))
	if capVal != 1 {
		t.Errorf("SessionsEvictedTotal[capacity] = %f, want 1", capVal)
	}
}

// ============================================================================
// Scenario Tests
// ============================================================================

func TestTurnMetrics_CompleteTurnScenario(t *testing.T) {
	m := newTestMetrics(t)

	// Simulate one successful turn with two branches
	m.StreamStarted()
	m.RecordBranchFetch("market", "present", 0.4)
	m.RecordBranchFetch("news", "empty", 0.2)
	m.RecordTimeToFirstToken(0.9)
	m.RecordKeepAlive()
	m.RecordStreamDuration(12.0, true)
	m.StreamEnded()
	m.RecordTurn(true)

	activeVal := testutil.ToFloat64(m.ActiveStreams)
	if activeVal != 0 {
		t.Errorf("ActiveStreams should be 0 after stream ended, got %f", activeVal)
	}
	turnsVal := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("success"))
	if turnsVal != 1 {
		t.Errorf("TurnsTotal[success] should be 1, got %f", turnsVal)
	}
}

func TestTurnMetrics_DisconnectScenario(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamStarted()
	m.RecordClientDisconnect()
	m.RecordError(ErrorCodeClientDisconnect)
	m.RecordStreamDuration(5.0, false)
	m.StreamEnded()
	m.RecordTurn(false)

	disconnectVal := testutil.ToFloat64(m.ClientDisconnectsTotal)
	if disconnectVal != 1 {
		t.Errorf("ClientDisconnectsTotal should be 1, got %f", disconnectVal)
	}
	errorVal := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("error"))
	if errorVal != 1 {
		t.Errorf("TurnsTotal[error] should be 1, got %f", errorVal)
	}
}

// ============================================================================
// Concurrent Safety Tests
// ============================================================================

func TestTurnMetrics_ConcurrentSafety(t *testing.T) {
	m := newTestMetrics(t)

	done := make(chan bool, 80)

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordTurn(true)
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		go func() {
			m.RecordError(ErrorCodeTimeout)
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		go func() {
			m.RecordBranchFetch("market", "present", 0.1)
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		go func() {
			m.StreamStarted()
			m.StreamEnded()
			done <- true
		}()
	}

	for i := 0; i < 80; i++ {
		<-done
	}

	turnsVal := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("success"))
	if turnsVal != 20 {
		t.Errorf("TurnsTotal[success] = %f, want 20", turnsVal)
	}
	errorsVal := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("timeout"))
	if errorsVal != 20 {
		t.Errorf("ErrorsTotal[timeout] = %f, want 20", errorsVal)
	}
}
