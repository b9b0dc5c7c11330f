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
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/finsightai/finsight/services/llm"
	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

const (
	// newsTopK bounds the ranked list handed to synthesis.
	newsTopK = 5
	// maxNewsQueries bounds the sub-queries one turn searches.
	maxNewsQueries = 3
)

const newsQueryPrompt = `Generate up to %d short Google News search queries for this financial question.
One query per line, no numbering, no commentary. Focus on company names and the specific topic.

Question: %s`

// SerpNewsFetcher searches Google News through SerpAPI. An LLM proposes the
// search sub-queries; when that fails a template over the tickers and the
// raw question takes over.
type SerpNewsFetcher struct {
	BaseURL    string
	HTTPClient HTTPClient

	apiKey string
	llm    llm.LLMClient
}

// NewSerpNewsFetcher builds the news branch backend. client may be nil, in
// which case only template queries are used.
func NewSerpNewsFetcher(apiKey string, httpClient HTTPClient, client llm.LLMClient) *SerpNewsFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &SerpNewsFetcher{
		BaseURL:    "https://serpapi.com/search.json",
		HTTPClient: httpClient,
		apiKey:     apiKey,
		llm:        client,
	}
}

type serpNewsResponse struct {
	NewsResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Source  string `json:"source"`
		Date    string `json:"date"`
		Snippet string `json:"snippet"`
	} `json:"news_results"`
	Error string `json:"error"`
}

// FetchNews returns up to newsTopK items deduplicated by link.
//
// # Description
//
// Sub-queries are searched in order and results merged first-come. A failing
// sub-query is logged and skipped; the call errors only when every search
// failed, so partial coverage still produces evidence.
func (s *SerpNewsFetcher) FetchNews(ctx context.Context, query string,
	tickers []string) ([]datatypes.NewsItem, error) {

	ctx, span := tracer.Start(ctx, "SerpNewsFetcher.FetchNews")
	defer span.End()

	queries := s.buildQueries(ctx, query, tickers)
	span.SetAttributes(attribute.StringSlice("news.queries", queries))

	seen := make(map[string]struct{})
	var items []datatypes.NewsItem
	searchesFailed := 0

	for _, q := range queries {
		if len(items) >= newsTopK {
			break
		}
		results, err := s.search(ctx, q)
		if err != nil {
			slog.Warn("News search failed", "query", q, "error", err)
			searchesFailed++
			continue
		}
		for _, item := range results {
			if len(items) >= newsTopK {
				break
			}
			if item.Link == "" {
				continue
			}
			if _, dup := seen[item.Link]; dup {
				continue
			}
			seen[item.Link] = struct{}{}
			items = append(items, item)
		}
	}

	if len(items) == 0 && searchesFailed == len(queries) {
		return nil, fmt.Errorf("all %d news searches failed", searchesFailed)
	}
	span.SetAttributes(attribute.Int("news.results", len(items)))
	return items, nil
}

// buildQueries asks the LLM for focused sub-queries, falling back to a
// ticker/question template.
func (s *SerpNewsFetcher) buildQueries(ctx context.Context, query string, tickers []string) []string {
	if s.llm != nil {
		temp := float32(0.3)
		maxTokens := 128
		raw, err := s.llm.Generate(ctx, fmt.Sprintf(newsQueryPrompt, maxNewsQueries, query),
			llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens})
		if err == nil {
			var queries []string
			for _, line := range strings.Split(raw, "\n") {
				line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
				if line == "" {
					continue
				}
				queries = append(queries, line)
				if len(queries) == maxNewsQueries {
					break
				}
			}
			if len(queries) > 0 {
				return queries
			}
		} else {
			slog.Warn("News sub-query generation failed, using template queries", "error", err)
		}
	}

	var queries []string
	for _, ticker := range tickers {
		queries = append(queries, ticker+" stock news")
		if len(queries) == maxNewsQueries-1 {
			break
		}
	}
	return append(queries, query)
}

func (s *SerpNewsFetcher) search(ctx context.Context, query string) ([]datatypes.NewsItem, error) {
	params := url.Values{}
	params.Set("engine", "google")
	params.Set("tbm", "nws")
	params.Set("q", query)
	params.Set("num", "10")
	params.Set("api_key", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call SerpAPI: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SerpAPI returned status %s", resp.Status)
	}

	var parsed serpNewsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode SerpAPI JSON: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("SerpAPI error: %s", parsed.Error)
	}

	items := make([]datatypes.NewsItem, 0, len(parsed.NewsResults))
	for _, r := range parsed.NewsResults {
		items = append(items, datatypes.NewsItem{
			Title:     r.Title,
			Link:      r.Link,
			Source:    r.Source,
			Published: r.Date,
			Snippet:   r.Snippet,
		})
	}
	return items, nil
}
