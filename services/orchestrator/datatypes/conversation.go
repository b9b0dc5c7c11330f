// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Role values for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one conversational message in provider-neutral form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is one committed exchange: what the user typed, what the pipeline
// resolved it to, and what the assistant answered.
type Turn struct {
	UserMessage   string    `json:"user_message"`
	ResolvedQuery string    `json:"resolved_query"`
	Answer        string    `json:"answer"`
	CompletedAt   time.Time `json:"completed_at"`
}

// TurnRecord is the working state of the turn currently in flight. It is
// owned exclusively by the single pipeline run processing it and is
// discarded, never committed, when the turn fails or the client disconnects.
type TurnRecord struct {
	TurnID                 string
	RawInput               string
	ResolvedQuery          string
	DegradedResolution     bool
	DegradedClassification bool
	Intents                IntentSet
	Tickers                []string
	Evidence               EvidenceBundle
	Answer                 string
	StartedAt              time.Time
}

// ConversationState is the per-session record held by the session store.
// The store guards it; handlers and the pipeline only touch it through the
// store's accessors.
type ConversationState struct {
	SessionID  string     `json:"session_id"`
	History    []Turn     `json:"history"`
	CreatedAt  time.Time  `json:"created_at"`
	LastActive time.Time  `json:"last_active"`
	LastTurnAt *time.Time `json:"last_turn_at,omitempty"`
}

// HistoryMessages flattens committed turns into an alternating
// user/assistant message list, oldest first, capped at the maxTurns most
// recent turns. maxTurns <= 0 means no cap.
func (c *ConversationState) HistoryMessages(maxTurns int) []Message {
	turns := c.History
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	out := make([]Message, 0, len(turns)*2)
	for _, t := range turns {
		out = append(out, Message{Role: RoleUser, Content: t.UserMessage})
		out = append(out, Message{Role: RoleAssistant, Content: t.Answer})
	}
	return out
}
