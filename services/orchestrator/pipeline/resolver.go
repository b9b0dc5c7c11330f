// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline implements the turn-processing core: query resolution,
// intent classification, retrieval routing, concurrent evidence fetching,
// aggregation, and streamed answer synthesis, tied together by the turn
// orchestrator state machine.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/finsightai/finsight/services/llm"
	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("finsight.orchestrator.pipeline")

const resolverSystemPrompt = `You are an expert query rewriter for financial analysis.
Rewrite the user's current query into a clear, standalone, unambiguous question by incorporating ONLY the necessary context from the conversation history.

Rules:
1. Pronoun resolution: replace pronouns (it, its, they, them, these, those) with the company or ticker from the MOST RECENT relevant mention.
2. Company switching: if the user names a NEW company, that is a NEW topic. Do not mix context from previous companies.
3. Multiple companies: only preserve multiple companies when the current query uses plural pronouns referring to companies mentioned together previously.
4. Complete queries: if the current query is already self-contained, return it as-is.
5. Context boundary: never carry attributes across topics. "Tesla's 10-K" followed by "What about Alibaba?" rewrites to "What about Alibaba?", not "What about Alibaba's 10-K?".

Respond with the rewritten query only, no commentary.`

// Resolver rewrites elliptical user messages into standalone queries using
// conversation history.
type Resolver struct {
	llm llm.LLMClient
}

// NewResolver builds a Resolver on the given LLM backend.
func NewResolver(client llm.LLMClient) *Resolver {
	return &Resolver{llm: client}
}

// Resolve returns a query interpretable without the history.
//
// # Description
//
// The first turn of a session needs no resolution and skips the LLM call
// entirely. On any LLM failure the raw message is returned unchanged with
// degraded=true; resolution failure never blocks the pipeline.
//
// # Inputs
//
//   - raw: The user message, non-empty.
//   - history: Prior turns flattened to messages, oldest first. May be empty.
//
// # Outputs
//
//   - string: The resolved query, never empty.
//   - bool: true when resolution degraded to the raw message.
func (r *Resolver) Resolve(ctx context.Context, raw string, history []datatypes.Message) (string, bool) {
	ctx, span := tracer.Start(ctx, "Resolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.Int("resolver.history_messages", len(history)))

	if len(history) == 0 {
		return raw, false
	}

	var sb strings.Builder
	for _, m := range history {
		sb.WriteString(strings.ToUpper(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	temp := float32(0.0)
	maxTokens := 256
	messages := []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: resolverSystemPrompt},
		{Role: datatypes.RoleUser, Content: fmt.Sprintf(
			"Conversation history:\n%s\nCurrent query: %s\n\nRewritten query:", sb.String(), raw)},
	}

	resolved, err := r.llm.Chat(ctx, messages, llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		slog.Warn("Query resolution failed, falling back to raw message", "error", err)
		return raw, true
	}

	resolved = strings.TrimSpace(resolved)
	if resolved == "" {
		slog.Warn("Query resolution returned empty output, falling back to raw message")
		return raw, true
	}

	slog.Debug("Resolved query", "resolved", resolved)
	return resolved, false
}
