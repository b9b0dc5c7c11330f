// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsightai/finsight/services/llm"
	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

func TestSynthesize_AnswerEqualsConcatenatedChunks(t *testing.T) {
	client := &mockLLM{streamFn: streamTokens("The ", "stock ", "is ", "up 3%.")}
	s := NewSynthesizer(client)

	var chunks []string
	answer, err := s.Synthesize(context.Background(), "How is AAPL doing?",
		nil, datatypes.NewEvidenceBundle(), func(chunk string) error {
			chunks = append(chunks, chunk)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "The stock is up 3%.", answer)
	assert.Equal(t, answer, strings.Join(chunks, ""))
}

func TestSynthesize_ThinkingEventsStayServerSide(t *testing.T) {
	client := &mockLLM{streamFn: func(ctx context.Context, _ []datatypes.Message,
		cb llm.StreamCallback) error {
		events := []llm.StreamEvent{
			{Type: llm.StreamEventThinking, Content: "let me check the fundamentals"},
			{Type: llm.StreamEventToken, Content: "AAPL "},
			{Type: llm.StreamEventThinking, Content: "now the technicals"},
			{Type: llm.StreamEventToken, Content: "looks strong."},
		}
		for _, ev := range events {
			if err := cb(ev); err != nil {
				return err
			}
		}
		return nil
	}}
	s := NewSynthesizer(client)

	answer, err := s.Synthesize(context.Background(), "q", nil,
		datatypes.NewEvidenceBundle(), func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "AAPL looks strong.", answer)
}

func TestSynthesize_GenerationFailureBeforeFirstChunk(t *testing.T) {
	client := &mockLLM{streamFn: func(context.Context, []datatypes.Message,
		llm.StreamCallback) error {
		return fmt.Errorf("model unavailable")
	}}
	s := NewSynthesizer(client)

	_, err := s.Synthesize(context.Background(), "q", nil,
		datatypes.NewEvidenceBundle(), func(string) error { return nil })
	require.Error(t, err)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, 0, synthErr.ChunksEmitted)
	assert.False(t, IsEmitError(synthErr.Err))
}

func TestSynthesize_MidStreamFailureReportsEmittedChunks(t *testing.T) {
	client := &mockLLM{streamFn: func(ctx context.Context, _ []datatypes.Message,
		cb llm.StreamCallback) error {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: "partial "}); err != nil {
			return err
		}
		return cb(llm.StreamEvent{Type: llm.StreamEventError,
			Err: fmt.Errorf("connection reset by model host")})
	}}
	s := NewSynthesizer(client)

	answer, err := s.Synthesize(context.Background(), "q", nil,
		datatypes.NewEvidenceBundle(), func(string) error { return nil })
	require.Error(t, err)
	assert.Equal(t, "partial ", answer)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, 1, synthErr.ChunksEmitted)
}

func TestSynthesize_CallbackErrorBecomesEmitError(t *testing.T) {
	client := &mockLLM{streamFn: streamTokens("a", "b", "c")}
	s := NewSynthesizer(client)

	sent := 0
	_, err := s.Synthesize(context.Background(), "q", nil,
		datatypes.NewEvidenceBundle(), func(string) error {
			if sent == 1 {
				return fmt.Errorf("broken pipe")
			}
			sent++
			return nil
		})
	require.Error(t, err)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.True(t, IsEmitError(synthErr.Err))
	assert.Equal(t, 1, synthErr.ChunksEmitted)
}

func TestSynthesize_EmptyStreamIsAnError(t *testing.T) {
	client := &mockLLM{streamFn: streamTokens()}
	s := NewSynthesizer(client)

	_, err := s.Synthesize(context.Background(), "q", nil,
		datatypes.NewEvidenceBundle(), func(string) error { return nil })
	require.Error(t, err)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, 0, synthErr.ChunksEmitted)
}

// =============================================================================
// BuildPrompt
// =============================================================================

func presentBundle() datatypes.EvidenceBundle {
	bundle := datatypes.NewEvidenceBundle()
	bundle.Outcomes[datatypes.BranchMarket] = datatypes.BranchOutcome{Status: datatypes.BranchPresent}
	bundle.Market = []datatypes.MarketSnapshot{{
		Ticker: "AAPL",
		Fundamentals: &datatypes.Fundamentals{
			CompanyName:  "Apple Inc.",
			CurrentPrice: 231.5,
			TrailingPE:   35.2,
			TrailingEPS:  6.57,
		},
		Technicals: &datatypes.Technicals{
			LastClose:    231.5,
			RSI14:        61.3,
			MACD:         1.2,
			MACDSignal:   0.9,
			SMA50:        225.1,
			BollingerUp:  240.0,
			BollingerLow: 218.0,
		},
	}}
	return bundle
}

func TestBuildPrompt_IncludesMarketEvidence(t *testing.T) {
	s := NewSynthesizer(&mockLLM{})
	messages := s.BuildPrompt("How is AAPL doing?", nil, presentBundle())

	require.Len(t, messages, 2)
	assert.Equal(t, datatypes.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "financial analyst")

	user := messages[1].Content
	assert.Contains(t, user, "Question: How is AAPL doing?")
	assert.Contains(t, user, "FUNDAMENTAL ANALYSIS for AAPL")
	assert.Contains(t, user, "Apple Inc.")
	assert.Contains(t, user, "P/E Ratio: 35.20")
	assert.Contains(t, user, "TECHNICAL ANALYSIS for AAPL")
	assert.Contains(t, user, "RSI (14): 61.30")
}

func TestBuildPrompt_MarksFailedBranchesUnavailable(t *testing.T) {
	bundle := datatypes.NewEvidenceBundle()
	bundle.Outcomes[datatypes.BranchMarket] = datatypes.BranchOutcome{
		Status: datatypes.BranchFailed, Error: "quote api down",
	}
	bundle.Outcomes[datatypes.BranchNews] = datatypes.BranchOutcome{
		Status: datatypes.BranchEmpty,
	}

	s := NewSynthesizer(&mockLLM{})
	messages := s.BuildPrompt("q", nil, bundle)
	user := messages[1].Content

	assert.Contains(t, user, "MARKET DATA: unavailable this turn")
	assert.Contains(t, user, "RECENT NEWS: no relevant news found")
	assert.NotContains(t, user, "FILING EXCERPTS", "skipped branches are omitted entirely")
}

func TestBuildPrompt_IncludesHistory(t *testing.T) {
	history := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "How is Apple doing?"},
		{Role: datatypes.RoleAssistant, Content: "Apple is trading at $230."},
	}

	s := NewSynthesizer(&mockLLM{})
	messages := s.BuildPrompt("what about its P/E?", history, datatypes.NewEvidenceBundle())
	user := messages[1].Content

	assert.Contains(t, user, "USER: How is Apple doing?")
	assert.Contains(t, user, "ASSISTANT: Apple is trading at $230.")
}

func TestBuildPrompt_TruncatesLongPassages(t *testing.T) {
	bundle := datatypes.NewEvidenceBundle()
	bundle.Outcomes[datatypes.BranchDocuments] = datatypes.BranchOutcome{
		Status: datatypes.BranchPresent,
	}
	bundle.Documents = []datatypes.DocumentPassage{{
		Ticker:  "AAPL",
		Source:  "10-K",
		Content: strings.Repeat("risk ", 400),
	}}

	s := NewSynthesizer(&mockLLM{})
	user := s.BuildPrompt("q", nil, bundle)[1].Content

	assert.Contains(t, user, "FILING EXCERPTS")
	assert.Contains(t, user, "...")
	assert.Less(t, len(user), 2500)
}
