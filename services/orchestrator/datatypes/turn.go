// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the turn request accepted by the streaming endpoint and
// the server-sent event envelope every pipeline stage reports through.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single user message.
	// Byte length, not rune count, so oversized multi-byte payloads are
	// rejected too.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxHistoryTurnsDefault caps how many committed turns are replayed into
	// prompts when the operator does not override it.
	MaxHistoryTurnsDefault = 20
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// turnValidate is the validator instance for turn datatypes.
var turnValidate *validator.Validate

func init() {
	turnValidate = validator.New()
	_ = turnValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Turn Request
// =============================================================================

// TurnRequest represents the body of POST /v1/turns/stream.
//
// # Description
//
// One request carries exactly one user message. Conversation history lives
// server-side in the session store, so clients never replay it. SessionID is
// optional: an empty or unknown ID starts a fresh session whose ID is
// announced in the first status event.
//
// # Validation
//
// Uses go-playground/validator:
//   - Message: required, non-blank after trimming, max 32KB (maxbytes)
//   - SessionID: optional, must be UUID v4 when present
//   - RequestID: optional, filled by EnsureDefaults, must be UUID v4
//
// # Examples
//
//	req := TurnRequest{Message: "How is AAPL doing?"}
//	req.EnsureDefaults()
//	if err := req.Validate(); err != nil { ... }
type TurnRequest struct {
	RequestID string `json:"request_id" validate:"omitempty,uuid4"`
	SessionID string `json:"session_id" validate:"omitempty,uuid4"`
	Message   string `json:"message" validate:"required,maxbytes"`
	Timestamp int64  `json:"timestamp" validate:"omitempty,gt=0"`
}

// EnsureDefaults populates RequestID and Timestamp when the client omitted
// them, so every turn is traceable end to end.
func (r *TurnRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// Validate validates the TurnRequest fields. Call after binding the JSON
// body and EnsureDefaults.
func (r *TurnRequest) Validate() error {
	return turnValidate.Struct(r)
}

// =============================================================================
// Stream Events
// =============================================================================

// Stream event types emitted over SSE, in the order a healthy turn
// produces them: status (per stage), data, sources, token, done. An error
// event terminates the stream instead of done.
const (
	EventStatus = "status"
	EventData   = "data"
	EventToken  = "token"
	EventSource = "sources"
	EventDone   = "done"
	EventError  = "error"
)

// Pipeline step names carried on status events so clients can render
// progress. They mirror the orchestrator's stage order.
const (
	StepResolving   = "resolving_query"
	StepClassifying = "classifying_intent"
	StepRouting     = "routing"
	StepFetching    = "fetching_evidence"
	StepAggregating = "aggregating"
	StepAnswering   = "generating_answer"
)

// MarketPayload is the structured market data attached to the data event and
// echoed on done, keyed by ticker.
type MarketPayload struct {
	Tickers   []string                  `json:"tickers,omitempty"`
	Snapshots map[string]MarketSnapshot `json:"snapshots,omitempty"`
}

// SourceInfo points a client at one piece of supporting evidence.
type SourceInfo struct {
	Source    string  `json:"source"`
	Title     string  `json:"title,omitempty"`
	Link      string  `json:"link,omitempty"`
	Certainty float64 `json:"certainty,omitempty"`
}

// StreamEvent is the envelope for every SSE payload.
//
// # Description
//
// Each event carries identity (Id, CreatedAt) and integrity fields
// (Hash, PrevHash) that the SSE writer fills in at emission time, forming a
// verifiable chain per stream. The remaining fields are populated per event
// type and omitted otherwise.
//
// # Fields
//
//   - Type: one of the Event* constants
//   - Step: pipeline stage, status events only
//   - Message: human-readable progress text, status events only
//   - Content: one answer fragment, token events only
//   - Tickers / Market: resolved instruments and structured data, data event
//   - Sources: supporting evidence, sources event
//   - Answer: full assembled answer, done event only
//   - Error: sanitized failure description, error events only
type StreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`

	SessionId string         `json:"session_id,omitempty"`
	Step      string         `json:"step,omitempty"`
	Message   string         `json:"message,omitempty"`
	Content   string         `json:"content,omitempty"`
	Tickers   []string       `json:"tickers,omitempty"`
	Market    *MarketPayload `json:"market_data,omitempty"`
	Sources   []SourceInfo   `json:"sources,omitempty"`
	Answer    string         `json:"answer,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// NewStreamEvent creates an event of the given type with a fresh Id and
// timestamp. Optional fields are attached with the With* builders.
func NewStreamEvent(eventType string) StreamEvent {
	return StreamEvent{
		Id:        uuid.NewString(),
		Type:      eventType,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// WithMessage attaches progress text.
func (e StreamEvent) WithMessage(message string) StreamEvent {
	e.Message = message
	return e
}

// WithStep attaches the pipeline stage name.
func (e StreamEvent) WithStep(step string) StreamEvent {
	e.Step = step
	return e
}

// WithContent attaches one answer fragment.
func (e StreamEvent) WithContent(content string) StreamEvent {
	e.Content = content
	return e
}

// WithSessionId attaches the session identifier.
func (e StreamEvent) WithSessionId(sessionId string) StreamEvent {
	e.SessionId = sessionId
	return e
}

// WithSources attaches supporting evidence pointers.
func (e StreamEvent) WithSources(sources []SourceInfo) StreamEvent {
	e.Sources = sources
	return e
}

// WithError attaches a sanitized failure description.
func (e StreamEvent) WithError(message string) StreamEvent {
	e.Error = message
	return e
}
