// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
	"github.com/finsightai/finsight/services/orchestrator/observability"
	"github.com/finsightai/finsight/services/orchestrator/pipeline"
	"github.com/finsightai/finsight/services/orchestrator/session"
)

// heartbeatInterval is the interval for sending keepalive pings during
// long evidence fetches and generation.
const heartbeatInterval = 15 * time.Second

// =============================================================================
// Streaming Turn Handler
// =============================================================================

// TurnStreamHandler serves the streaming turn endpoint.
type TurnStreamHandler interface {
	// HandleTurnStream processes POST /v1/turns/stream.
	//
	// # Description
	//
	// Binds and validates the turn request, takes exclusive ownership of
	// the session, and streams the pipeline's events over SSE: status per
	// stage, data, sources, tokens, then done. A second turn on a busy
	// session is rejected with 409 before any SSE output.
	HandleTurnStream(c *gin.Context)
}

type turnStreamHandler struct {
	orchestrator *pipeline.Orchestrator
	store        *session.Store
	tracer       trace.Tracer
}

var _ TurnStreamHandler = (*turnStreamHandler)(nil)

// NewTurnStreamHandler wires the pipeline and session store into the
// streaming endpoint.
func NewTurnStreamHandler(orch *pipeline.Orchestrator, store *session.Store) TurnStreamHandler {
	return &turnStreamHandler{
		orchestrator: orch,
		store:        store,
		tracer:       otel.Tracer("finsight.orchestrator.handlers"),
	}
}

// sseTurnEmitter adapts an SSEWriter to the pipeline's TurnEmitter. Write
// failures propagate back into the pipeline, which treats them as a client
// disconnect.
type sseTurnEmitter struct {
	writer SSEWriter
}

var _ pipeline.TurnEmitter = (*sseTurnEmitter)(nil)

func (e *sseTurnEmitter) Status(step, message string) error {
	return e.writer.WriteStatus(step, message)
}

func (e *sseTurnEmitter) Data(tickers []string, snapshots []datatypes.MarketSnapshot) error {
	return e.writer.WriteData(tickers, marketPayload(tickers, snapshots))
}

func (e *sseTurnEmitter) Sources(sources []datatypes.SourceInfo) error {
	return e.writer.WriteSources(sources)
}

func (e *sseTurnEmitter) Token(content string) error {
	return e.writer.WriteToken(content)
}

// marketPayload keys snapshots by ticker for the wire format. Returns nil
// when there is nothing to attach.
func marketPayload(tickers []string, snapshots []datatypes.MarketSnapshot) *datatypes.MarketPayload {
	if len(tickers) == 0 && len(snapshots) == 0 {
		return nil
	}
	payload := &datatypes.MarketPayload{Tickers: tickers}
	if len(snapshots) > 0 {
		payload.Snapshots = make(map[string]datatypes.MarketSnapshot, len(snapshots))
		for _, snap := range snapshots {
			payload.Snapshots[snap.Ticker] = snap
		}
	}
	return payload
}

func (h *turnStreamHandler) HandleTurnStream(c *gin.Context) {
	startTime := time.Now()

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleTurnStream")
	defer span.End()

	metrics := observability.DefaultMetrics
	if metrics != nil {
		metrics.StreamStarted()
		defer metrics.StreamEnded()
	}

	success := false
	defer func() {
		if metrics != nil {
			metrics.RecordStreamDuration(time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: Parse and validate the request.
	var req datatypes.TurnRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse turn request", "error", err)
		if metrics != nil {
			metrics.RecordError(observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()

	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("session.id", req.SessionID),
	)

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Turn request validation failed",
			"error", err, "requestId", req.RequestID)
		if metrics != nil {
			metrics.RecordError(observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	// Step 2: Take exclusive turn ownership of the session.
	state, release, err := h.store.Acquire(req.SessionID)
	if err != nil {
		span.SetStatus(codes.Error, "session busy")
		slog.Warn("Turn rejected, session busy",
			"sessionId", req.SessionID, "requestId", req.RequestID)
		if metrics != nil {
			metrics.RecordError(observability.ErrorCodeSessionBusy)
		}
		c.JSON(http.StatusConflict, gin.H{"error": "a turn is already in progress on this session"})
		return
	}
	defer release()
	span.SetAttributes(attribute.String("session.resolved_id", state.SessionID))

	// Step 3: Switch to SSE.
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		if metrics != nil {
			metrics.RecordError(observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	// Step 4: Heartbeat until the turn finishes. The request context ends
	// the loop when the client goes away.
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go runHeartbeat(ctx, writer, heartbeatDone)

	// Step 5: Run the turn. The pipeline emits its own status, data,
	// sources and token events through the emitter.
	result, turnErr := h.orchestrator.RunTurn(ctx, state, req.Message, &sseTurnEmitter{writer: writer})

	if turnErr != nil {
		span.RecordError(turnErr)
		span.SetStatus(codes.Error, "turn failed")
		slog.Error("Turn failed",
			"error", turnErr,
			"requestId", req.RequestID,
			"sessionId", state.SessionID)

		if pipeline.IsEmitError(turnErr) || errors.Is(turnErr, context.Canceled) {
			// Client is gone; nothing left to write.
			return
		}
		if writeErr := writer.WriteError(sanitizeTurnError(turnErr)); writeErr != nil {
			slog.Debug("Failed to write error event", "error", writeErr)
		}
		return
	}

	// Step 6: Done event carries the session id and final payloads so a
	// client that joined late still gets the full picture.
	record := result.Record
	if err := writer.WriteDone(state.SessionID, record.Answer, record.Tickers,
		marketPayload(record.Tickers, record.Evidence.Market)); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write done event",
			"error", err, "requestId", req.RequestID)
		return
	}

	success = true
	span.SetAttributes(attribute.String("turn.id", record.TurnID))
	slog.Info("Turn completed",
		"requestId", req.RequestID,
		"sessionId", state.SessionID,
		"turnId", record.TurnID,
		"durationMs", time.Since(startTime).Milliseconds())
}

// runHeartbeat sends keepalive comments until done closes or the client
// disconnects.
func runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive()
			}
		}
	}
}

// sanitizeTurnError maps internal failures to a client-safe message.
func sanitizeTurnError(err error) string {
	slog.Debug("Sanitizing error for client", "original_error", err)
	return "An error occurred while processing your request"
}
