// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/finsightai/finsight/services/llm"
	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

const classifierPrompt = `You are an expert financial query analyzer.

TASK: Analyze the query below and classify the user's information needs.

1. Financial relevance: is_financial=true ONLY for queries about stocks, ETFs, companies, financial markets, investments, or economic topics.
2. Ticker identification: include ONLY genuine stock/ETF/index symbols. Map company names to tickers (Tesla->TSLA, Apple->AAPL) and indices to Yahoo symbols (VIX->^VIX, S&P 500->^GSPC). NEVER include common words as tickers. Return [] if none.
3. Data requirements:
   - needs_market: current price, valuation, P/E, earnings, revenue, market cap, dividends, charts, RSI, MACD, moving averages, trading patterns
   - needs_news: recent news articles, headlines, announcements, market updates
   - needs_documents: SEC documents, 10-K/10-Q reports, annual reports, financial disclosures

Return ONLY a flat JSON object with these exact keys:
{"is_financial": boolean, "tickers": array of strings, "needs_market": boolean, "needs_news": boolean, "needs_documents": boolean}

Examples:
- "Apple stock price today" -> {"is_financial": true, "tickers": ["AAPL"], "needs_market": true, "needs_news": false, "needs_documents": false}
- "Tesla news" -> {"is_financial": true, "tickers": ["TSLA"], "needs_market": false, "needs_news": true, "needs_documents": false}
- "What's AAPL's P/E and any recent news?" -> {"is_financial": true, "tickers": ["AAPL"], "needs_market": true, "needs_news": true, "needs_documents": false}
- "Write me a poem" -> {"is_financial": false, "tickers": [], "needs_market": false, "needs_news": false, "needs_documents": false}

Query: %s`

// classifierResponse is the JSON shape the model is asked to return.
type classifierResponse struct {
	IsFinancial    bool     `json:"is_financial"`
	Tickers        []string `json:"tickers"`
	NeedsMarket    bool     `json:"needs_market"`
	NeedsNews      bool     `json:"needs_news"`
	NeedsDocuments bool     `json:"needs_documents"`
}

// Classification is the classifier's result for one turn.
type Classification struct {
	Intents  datatypes.IntentSet
	Tickers  []string
	Degraded bool
}

// Classifier maps a resolved query onto retrieval intents and instrument
// symbols.
type Classifier struct {
	llm llm.LLMClient
}

// NewClassifier builds a Classifier on the given LLM backend.
func NewClassifier(client llm.LLMClient) *Classifier {
	return &Classifier{llm: client}
}

// Classify labels the resolved query with retrieval intents.
//
// # Description
//
// Primary path is an LLM JSON classification. If the call fails or the
// output cannot be parsed, a keyword/regex heuristic takes over and the
// result is marked degraded. The returned intent set is always normalized:
// never empty, and NONE never co-occurs with a domain intent. Classifier
// problems never become turn failures.
//
// Symbols recognized by the local company-name and pattern layers are always
// merged into the result, so a throttled model cannot drop an explicitly
// named ticker.
func (c *Classifier) Classify(ctx context.Context, query string) Classification {
	ctx, span := tracer.Start(ctx, "Classifier.Classify")
	defer span.End()

	localTickers := ExtractTickers(query)

	temp := float32(0.0)
	maxTokens := 256
	raw, err := c.llm.Generate(ctx, fmt.Sprintf(classifierPrompt, query), llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		slog.Warn("LLM intent classification failed, using heuristic fallback", "error", err)
		return c.heuristic(query, localTickers)
	}

	parsed, err := parseClassifierJSON(raw)
	if err != nil {
		slog.Warn("Unparseable classifier output, using heuristic fallback", "error", err)
		return c.heuristic(query, localTickers)
	}

	intents := datatypes.NewIntentSet()
	if parsed.IsFinancial {
		if parsed.NeedsMarket {
			intents = addIntent(intents, datatypes.IntentMarket)
		}
		if parsed.NeedsNews {
			intents = addIntent(intents, datatypes.IntentNews)
		}
		if parsed.NeedsDocuments {
			intents = addIntent(intents, datatypes.IntentDocuments)
		}
	}
	intents = intents.Normalize()

	tickers := MergeTickers(parsed.Tickers, localTickers)
	span.SetAttributes(
		attribute.StringSlice("classifier.intents", intents.Strings()),
		attribute.StringSlice("classifier.tickers", tickers),
	)
	slog.Debug("Classified query", "intents", intents.String(), "tickers", tickers)

	return Classification{Intents: intents, Tickers: tickers}
}

// heuristic is the no-LLM fallback layer: ticker presence implies MARKET,
// news/filing keywords imply their branches.
func (c *Classifier) heuristic(query string, tickers []string) Classification {
	lower := strings.ToLower(query)

	intents := datatypes.NewIntentSet()
	if len(tickers) > 0 {
		intents = addIntent(intents, datatypes.IntentMarket)
	}
	if strings.Contains(lower, "news") || strings.Contains(lower, "headline") ||
		strings.Contains(lower, "article") {
		intents = addIntent(intents, datatypes.IntentNews)
	}
	if strings.Contains(lower, "sec ") || strings.Contains(lower, "filing") ||
		strings.Contains(lower, "10-") || strings.Contains(lower, "annual report") {
		intents = addIntent(intents, datatypes.IntentDocuments)
	}

	return Classification{
		Intents:  intents.Normalize(),
		Tickers:  tickers,
		Degraded: true,
	}
}

func addIntent(s datatypes.IntentSet, in datatypes.Intent) datatypes.IntentSet {
	members := append(s.Members(), in)
	return datatypes.NewIntentSet(members...)
}

// parseClassifierJSON extracts the first JSON object from model output,
// tolerating code fences and surrounding prose.
func parseClassifierJSON(raw string) (classifierResponse, error) {
	var parsed classifierResponse

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return parsed, fmt.Errorf("no JSON object in classifier output")
	}

	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return parsed, fmt.Errorf("invalid classifier JSON: %w", err)
	}
	return parsed, nil
}
