// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

// =============================================================================
// SSE Writer
// =============================================================================

// SSEWriter writes the turn event stream to an HTTP response.
//
// # Description
//
// Abstracts SSE serialization from the streaming handler. Implementations
// handle the wire format (event: type\ndata: json\n\n) and flush after each
// event. Every event is assigned:
//
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix milliseconds
//   - Hash: SHA-256 over the event content
//   - PrevHash: hash of the previous event, forming a verification chain
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; token writes and
// keepalives come from different goroutines.
type SSEWriter interface {
	// WriteEvent writes one event, populating Id, CreatedAt, Hash and
	// PrevHash before serializing.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStatus reports a pipeline stage transition.
	WriteStatus(step, message string) error

	// WriteData carries the resolved tickers and structured market data.
	WriteData(tickers []string, market *datatypes.MarketPayload) error

	// WriteSources lists the evidence behind the upcoming answer.
	WriteSources(sources []datatypes.SourceInfo) error

	// WriteToken streams one answer fragment.
	WriteToken(content string) error

	// WriteDone terminates a successful stream with the session id, the
	// assembled answer, and the final tickers/market payload for clients
	// that skipped the data event.
	WriteDone(sessionID, answer string, tickers []string, market *datatypes.MarketPayload) error

	// WriteError terminates the stream with a sanitized failure
	// description. No internal error details reach the client.
	WriteError(errMsg string) error

	// WriteKeepAlive sends an SSE comment (": ping") so proxies and load
	// balancers do not cut the connection during long fetches. Comments
	// are not events and do not advance the hash chain.
	WriteKeepAlive() error
}

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// # Thread Safety
//
// The mutex serializes writes and keeps the hash chain consistent across
// goroutines.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

var _ SSEWriter = (*sseWriter)(nil)

// NewSSEWriter wraps a ResponseWriter for SSE output. The caller must have
// set the SSE headers (SetSSEHeaders) first.
//
// # Outputs
//
//   - SSEWriter: ready to write events.
//   - error: non-nil when the ResponseWriter cannot flush.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash hashes every content field so the chain covers answer
// text, sources, and market data, not just metadata. The Hash field itself
// must be empty when this runs.
func computeEventHash(event datatypes.StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		if data, err := json.Marshal(event.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}
	marketJSON := ""
	if event.Market != nil {
		if data, err := json.Marshal(event.Market); err == nil {
			marketJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%v|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Step,
		event.Message,
		event.Content,
		event.Answer,
		event.Error,
		event.Tickers,
		event.SessionId,
		sourcesJSON,
		marketJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (w *sseWriter) WriteStatus(step, message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventStatus,
		Step:    step,
		Message: message,
	})
}

func (w *sseWriter) WriteData(tickers []string, market *datatypes.MarketPayload) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventData,
		Tickers: tickers,
		Market:  market,
	})
}

func (w *sseWriter) WriteSources(sources []datatypes.SourceInfo) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventSource,
		Sources: sources,
	})
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventToken,
		Content: content,
	})
}

func (w *sseWriter) WriteDone(sessionID, answer string, tickers []string,
	market *datatypes.MarketPayload) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.EventDone,
		SessionId: sessionID,
		Answer:    answer,
		Tickers:   tickers,
		Market:    market,
	})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.EventError,
		Error: errMsg,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for event streaming. Must run
// before the first body write. X-Accel-Buffering disables nginx buffering
// so tokens reach the client as they are generated.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
