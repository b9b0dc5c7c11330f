// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm abstracts over the chat model backends the pipeline calls for
// query resolution, intent classification, and answer synthesis.
package llm

import (
	"context"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

// GenerationParams carries per-call sampling overrides. Nil fields fall back
// to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType discriminates the events delivered to a StreamCallback.
type StreamEventType int

const (
	// StreamEventToken carries one fragment of visible answer text.
	StreamEventToken StreamEventType = iota
	// StreamEventThinking carries reasoning text backends may emit before
	// the answer. Callers usually drop it.
	StreamEventThinking
	// StreamEventError carries a mid-stream failure. The stream ends after
	// this event.
	StreamEventError
)

// StreamEvent is one unit of streamed model output.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Err     error
}

// StreamCallback receives stream events in arrival order. Returning a
// non-nil error aborts the stream; ChatStream surfaces that error to its
// caller.
type StreamCallback func(event StreamEvent) error

// LLMClient is the interface every model backend implements.
//
// # Description
//
// Generate is the single-prompt form used by the resolver and classifier.
// Chat is the multi-message form. ChatStream delivers the response
// incrementally through the callback and returns only after the stream has
// drained or failed. All three respect ctx cancellation.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams,
		callback StreamCallback) error
}
