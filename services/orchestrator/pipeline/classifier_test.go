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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

func TestClassify_LLMSuccess(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantIntents []datatypes.Intent
		wantTickers []string
	}{
		{
			name: "market only",
			response: `{"is_financial": true, "tickers": ["AAPL"],
"needs_market": true, "needs_news": false, "needs_documents": false}`,
			wantIntents: []datatypes.Intent{datatypes.IntentMarket},
			wantTickers: []string{"AAPL"},
		},
		{
			name: "market and news",
			response: `{"is_financial": true, "tickers": ["TSLA"],
"needs_market": true, "needs_news": true, "needs_documents": false}`,
			wantIntents: []datatypes.Intent{datatypes.IntentMarket, datatypes.IntentNews},
			wantTickers: []string{"TSLA"},
		},
		{
			name: "non-financial collapses to none",
			response: `{"is_financial": false, "tickers": [],
"needs_market": false, "needs_news": false, "needs_documents": false}`,
			wantIntents: []datatypes.Intent{datatypes.IntentNone},
		},
		{
			name: "fenced output still parses",
			response: "```json\n{\"is_financial\": true, \"tickers\": [\"MSFT\"]," +
				" \"needs_market\": false, \"needs_news\": false, \"needs_documents\": true}\n```",
			wantIntents: []datatypes.Intent{datatypes.IntentDocuments},
			wantTickers: []string{"MSFT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockLLM{generateFn: classifierJSON(tt.response)}
			c := NewClassifier(client)

			got := c.Classify(context.Background(), "placeholder query")
			assert.False(t, got.Degraded)
			assert.ElementsMatch(t, tt.wantIntents, got.Intents.Members())
			for _, ticker := range tt.wantTickers {
				assert.Contains(t, got.Tickers, ticker)
			}
		})
	}
}

func TestClassify_MergesLocalTickers(t *testing.T) {
	// Model drops the explicitly named symbol; the local layer restores it.
	client := &mockLLM{generateFn: classifierJSON(`{"is_financial": true, "tickers": [],
"needs_market": true, "needs_news": false, "needs_documents": false}`)}
	c := NewClassifier(client)

	got := c.Classify(context.Background(), "What is the P/E of NVDA right now?")
	assert.Contains(t, got.Tickers, "NVDA")
}

func TestClassify_HeuristicFallback(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		wantIntents []datatypes.Intent
		wantTickers []string
	}{
		{
			name:        "ticker implies market",
			query:       "How is AAPL doing?",
			wantIntents: []datatypes.Intent{datatypes.IntentMarket},
			wantTickers: []string{"AAPL"},
		},
		{
			name:        "company name implies market",
			query:       "How is Tesla doing?",
			wantIntents: []datatypes.Intent{datatypes.IntentMarket},
			wantTickers: []string{"TSLA"},
		},
		{
			name:        "news keyword",
			query:       "Any news about Nvidia?",
			wantIntents: []datatypes.Intent{datatypes.IntentMarket, datatypes.IntentNews},
			wantTickers: []string{"NVDA"},
		},
		{
			name:        "filing keywords",
			query:       "Summarize Apple's latest 10-K filing",
			wantIntents: []datatypes.Intent{datatypes.IntentMarket, datatypes.IntentDocuments},
			wantTickers: []string{"AAPL"},
		},
		{
			name:        "index name",
			query:       "Where is the S&P 500 today?",
			wantIntents: []datatypes.Intent{datatypes.IntentMarket},
			wantTickers: []string{"^GSPC"},
		},
		{
			name:        "small talk maps to none",
			query:       "hello there, how are you today",
			wantIntents: []datatypes.Intent{datatypes.IntentNone},
		},
	}

	client := &mockLLM{generateFn: func(string) (string, error) {
		return "", fmt.Errorf("model overloaded")
	}}
	c := NewClassifier(client)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(context.Background(), tt.query)
			assert.True(t, got.Degraded)
			assert.ElementsMatch(t, tt.wantIntents, got.Intents.Members())
			assert.ElementsMatch(t, tt.wantTickers, got.Tickers)
			require.NoError(t, got.Intents.Validate())
		})
	}
}

func TestClassify_UnparseableOutputFallsBack(t *testing.T) {
	client := &mockLLM{generateFn: classifierJSON("I think this is a market question.")}
	c := NewClassifier(client)

	got := c.Classify(context.Background(), "How is MSFT doing?")
	assert.True(t, got.Degraded)
	assert.Contains(t, got.Tickers, "MSFT")
	assert.True(t, got.Intents.Has(datatypes.IntentMarket))
}

func TestClassify_AlwaysSatisfiesIntentInvariants(t *testing.T) {
	responses := []string{
		`{"is_financial": true, "tickers": [], "needs_market": false, "needs_news": false, "needs_documents": false}`,
		`{"is_financial": false, "tickers": [], "needs_market": true, "needs_news": true, "needs_documents": true}`,
		`not json at all`,
		``,
	}
	for _, resp := range responses {
		client := &mockLLM{generateFn: classifierJSON(resp)}
		got := NewClassifier(client).Classify(context.Background(), "anything at all really")
		require.NoError(t, got.Intents.Validate(), "response %q", resp)
		assert.Positive(t, got.Intents.Len())
	}
}

func TestParseClassifierJSON(t *testing.T) {
	t.Run("surrounding prose tolerated", func(t *testing.T) {
		parsed, err := parseClassifierJSON(`Sure! Here you go: {"is_financial": true,
"tickers": ["AMD"], "needs_market": true, "needs_news": false, "needs_documents": false} Hope that helps.`)
		require.NoError(t, err)
		assert.True(t, parsed.IsFinancial)
		assert.Equal(t, []string{"AMD"}, parsed.Tickers)
	})

	t.Run("no object", func(t *testing.T) {
		_, err := parseClassifierJSON("no structured output here")
		assert.Error(t, err)
	})

	t.Run("malformed object", func(t *testing.T) {
		_, err := parseClassifierJSON(`{"is_financial": maybe}`)
		assert.Error(t, err)
	})
}
