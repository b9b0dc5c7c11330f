// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsightai/finsight/services/llm"
	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

// queryLLM scripts Generate for sub-query planning; Chat and ChatStream are
// never reached by the news branch.
type queryLLM struct {
	output string
	err    error
	calls  int
}

func (q *queryLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	q.calls++
	return q.output, q.err
}

func (q *queryLLM) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return "", fmt.Errorf("unexpected Chat call")
}

func (q *queryLLM) ChatStream(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams, _ llm.StreamCallback) error {
	return fmt.Errorf("unexpected ChatStream call")
}

func serpResult(title, link string) map[string]any {
	return map[string]any{
		"title":   title,
		"link":    link,
		"source":  "Reuters",
		"date":    "2 hours ago",
		"snippet": title + " in detail",
	}
}

// newTestNewsFetcher wires a SerpNewsFetcher to an httptest server whose
// handler receives the decoded "q" parameter.
func newTestNewsFetcher(t *testing.T, client llm.LLMClient,
	handler func(q string) (int, map[string]any)) *SerpNewsFetcher {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, body := handler(r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	fetcher := NewSerpNewsFetcher("test-key", srv.Client(), client)
	fetcher.BaseURL = srv.URL
	return fetcher
}

func TestFetchNews_DeduplicatesByLink(t *testing.T) {
	model := &queryLLM{output: "NVDA earnings\nNvidia guidance"}
	fetcher := newTestNewsFetcher(t, model, func(q string) (int, map[string]any) {
		// Both sub-queries surface the same top story.
		return http.StatusOK, map[string]any{"news_results": []any{
			serpResult("Nvidia beats estimates", "https://news.example/nvda-beat"),
			serpResult(q+" analysis", "https://news.example/"+q),
		}}
	})

	items, err := fetcher.FetchNews(context.Background(), "How did Nvidia do?", []string{"NVDA"})
	require.NoError(t, err)
	require.Len(t, items, 3)

	links := map[string]int{}
	for _, item := range items {
		links[item.Link]++
	}
	assert.Equal(t, 1, links["https://news.example/nvda-beat"], "shared story appears once")
}

func TestFetchNews_CapsAtTopK(t *testing.T) {
	fetcher := newTestNewsFetcher(t, nil, func(q string) (int, map[string]any) {
		var results []any
		for i := 0; i < 10; i++ {
			results = append(results, serpResult(
				fmt.Sprintf("story %d for %s", i, q),
				fmt.Sprintf("https://news.example/%s/%d", q, i)))
		}
		return http.StatusOK, map[string]any{"news_results": results}
	})

	items, err := fetcher.FetchNews(context.Background(), "tech sector news", []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Len(t, items, newsTopK)
}

func TestFetchNews_SkipsFailingSubQuery(t *testing.T) {
	model := &queryLLM{output: "bad query\ngood query"}
	fetcher := newTestNewsFetcher(t, model, func(q string) (int, map[string]any) {
		if q == "bad query" {
			return http.StatusInternalServerError, map[string]any{}
		}
		return http.StatusOK, map[string]any{"news_results": []any{
			serpResult("only story", "https://news.example/only"),
		}}
	})

	items, err := fetcher.FetchNews(context.Background(), "q", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "only story", items[0].Title)
}

func TestFetchNews_AllSearchesFailedIsError(t *testing.T) {
	fetcher := newTestNewsFetcher(t, nil, func(q string) (int, map[string]any) {
		return http.StatusTooManyRequests, map[string]any{}
	})

	_, err := fetcher.FetchNews(context.Background(), "q", []string{"AAPL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "news searches failed")
}

func TestFetchNews_SerpAPIErrorField(t *testing.T) {
	fetcher := newTestNewsFetcher(t, nil, func(q string) (int, map[string]any) {
		return http.StatusOK, map[string]any{"error": "Invalid API key"}
	})

	_, err := fetcher.FetchNews(context.Background(), "q", []string{"AAPL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestFetchNews_EmptyResultsIsNotAnError(t *testing.T) {
	fetcher := newTestNewsFetcher(t, nil, func(q string) (int, map[string]any) {
		return http.StatusOK, map[string]any{"news_results": []any{}}
	})

	items, err := fetcher.FetchNews(context.Background(), "obscure topic", nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestBuildQueries_FromLLM(t *testing.T) {
	model := &queryLLM{output: "1. Nvidia Q3 earnings\n- Nvidia data center revenue\n\n* Nvidia guidance 2026\nextra line past the cap"}
	fetcher := NewSerpNewsFetcher("k", nil, model)

	queries := fetcher.buildQueries(context.Background(), "How did Nvidia do?", []string{"NVDA"})
	assert.Equal(t, []string{
		"Nvidia Q3 earnings",
		"Nvidia data center revenue",
		"Nvidia guidance 2026",
	}, queries, "bullets stripped, capped at %d", maxNewsQueries)
	assert.Equal(t, 1, model.calls)
}

func TestBuildQueries_TemplateFallback(t *testing.T) {
	t.Run("llm error", func(t *testing.T) {
		model := &queryLLM{err: fmt.Errorf("model down")}
		fetcher := NewSerpNewsFetcher("k", nil, model)
		queries := fetcher.buildQueries(context.Background(), "latest on Apple", []string{"AAPL"})
		assert.Equal(t, []string{"AAPL stock news", "latest on Apple"}, queries)
	})

	t.Run("nil llm", func(t *testing.T) {
		fetcher := NewSerpNewsFetcher("k", nil, nil)
		queries := fetcher.buildQueries(context.Background(), "latest on Apple", []string{"AAPL", "MSFT", "GOOG"})
		assert.Equal(t, []string{"AAPL stock news", "MSFT stock news", "latest on Apple"}, queries)
	})

	t.Run("empty llm output", func(t *testing.T) {
		model := &queryLLM{output: "\n\n"}
		fetcher := NewSerpNewsFetcher("k", nil, model)
		queries := fetcher.buildQueries(context.Background(), "markets today", nil)
		assert.Equal(t, []string{"markets today"}, queries)
	})
}
