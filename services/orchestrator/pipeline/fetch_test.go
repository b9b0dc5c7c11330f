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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

// =============================================================================
// Route
// =============================================================================

func TestRoute(t *testing.T) {
	tests := []struct {
		name    string
		intents []datatypes.Intent
		want    []datatypes.Branch
	}{
		{
			name:    "none routes nowhere",
			intents: []datatypes.Intent{datatypes.IntentNone},
			want:    nil,
		},
		{
			name:    "single intent",
			intents: []datatypes.Intent{datatypes.IntentNews},
			want:    []datatypes.Branch{datatypes.BranchNews},
		},
		{
			name:    "union of two",
			intents: []datatypes.Intent{datatypes.IntentMarket, datatypes.IntentNews},
			want:    []datatypes.Branch{datatypes.BranchMarket, datatypes.BranchNews},
		},
		{
			name: "all three in canonical order",
			intents: []datatypes.Intent{datatypes.IntentDocuments,
				datatypes.IntentMarket, datatypes.IntentNews},
			want: []datatypes.Branch{datatypes.BranchMarket,
				datatypes.BranchNews, datatypes.BranchDocuments},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Route(datatypes.NewIntentSet(tt.intents...))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoute_IsPure(t *testing.T) {
	intents := datatypes.NewIntentSet(datatypes.IntentMarket, datatypes.IntentDocuments)
	first := Route(intents)
	second := Route(intents)
	assert.Equal(t, first, second)
}

// =============================================================================
// RunBranches
// =============================================================================

func TestRunBranches_Empty(t *testing.T) {
	results := RunBranches(context.Background(), FetcherSet{}, nil, "q", nil, time.Second)
	assert.Empty(t, results)
}

func TestRunBranches_ConcurrentJoinAll(t *testing.T) {
	// Each fetcher sleeps 100ms; run concurrently the whole fan-out stays
	// well under the serial 300ms.
	sleepThen := 100 * time.Millisecond
	fetchers := FetcherSet{
		Market: marketFetcherFunc(func(ctx context.Context, _ string, _ []string) ([]datatypes.MarketSnapshot, error) {
			time.Sleep(sleepThen)
			return []datatypes.MarketSnapshot{{Ticker: "AAPL"}}, nil
		}),
		News: newsFetcherFunc(func(ctx context.Context, _ string, _ []string) ([]datatypes.NewsItem, error) {
			time.Sleep(sleepThen)
			return []datatypes.NewsItem{{Title: "t"}}, nil
		}),
		Documents: documentsFetcherFunc(func(ctx context.Context, _ string, _ []string) ([]datatypes.DocumentPassage, error) {
			time.Sleep(sleepThen)
			return nil, nil
		}),
	}

	start := time.Now()
	results := RunBranches(context.Background(), fetchers, datatypes.AllBranches,
		"q", []string{"AAPL"}, time.Second)
	elapsed := time.Since(start)

	require.Len(t, results, 3)
	assert.Less(t, elapsed, 250*time.Millisecond, "branches must run concurrently")

	// Results come back in the order branches were given.
	assert.Equal(t, datatypes.BranchMarket, results[0].Branch)
	assert.Equal(t, datatypes.BranchNews, results[1].Branch)
	assert.Equal(t, datatypes.BranchDocuments, results[2].Branch)

	assert.Equal(t, datatypes.BranchPresent, results[0].Status)
	assert.Equal(t, datatypes.BranchPresent, results[1].Status)
	assert.Equal(t, datatypes.BranchEmpty, results[2].Status)
}

func TestRunBranches_FailureIsAValue(t *testing.T) {
	fetchers := FetcherSet{
		Market: marketFetcherFunc(func(context.Context, string, []string) ([]datatypes.MarketSnapshot, error) {
			return nil, fmt.Errorf("quote api 500")
		}),
		News: staticNews(datatypes.NewsItem{Title: "ok"}),
	}

	results := RunBranches(context.Background(), fetchers,
		[]datatypes.Branch{datatypes.BranchMarket, datatypes.BranchNews},
		"q", nil, time.Second)

	require.Len(t, results, 2)
	assert.Equal(t, datatypes.BranchFailed, results[0].Status)
	assert.True(t, IsFetchError(results[0].Err))
	assert.Equal(t, datatypes.BranchPresent, results[1].Status)
	assert.NoError(t, results[1].Err)
}

func TestRunBranches_PerBranchTimeout(t *testing.T) {
	fetchers := FetcherSet{
		News: newsFetcherFunc(func(ctx context.Context, _ string, _ []string) ([]datatypes.NewsItem, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	}

	results := RunBranches(context.Background(), fetchers,
		[]datatypes.Branch{datatypes.BranchNews}, "q", nil, 30*time.Millisecond)

	require.Len(t, results, 1)
	assert.Equal(t, datatypes.BranchFailed, results[0].Status)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "timed out")
}

func TestRunBranches_MissingFetcherFails(t *testing.T) {
	results := RunBranches(context.Background(), FetcherSet{},
		[]datatypes.Branch{datatypes.BranchDocuments}, "q", nil, time.Second)

	require.Len(t, results, 1)
	assert.Equal(t, datatypes.BranchFailed, results[0].Status)
	assert.Contains(t, results[0].Err.Error(), "not configured")
}

// =============================================================================
// Aggregate
// =============================================================================

func TestAggregate_PreservesPerBranchStatus(t *testing.T) {
	results := []BranchResult{
		{
			Branch: datatypes.BranchMarket,
			Status: datatypes.BranchPresent,
			Market: []datatypes.MarketSnapshot{{Ticker: "AAPL"}},
		},
		{
			Branch: datatypes.BranchNews,
			Status: datatypes.BranchFailed,
			Err:    &FetchError{Branch: datatypes.BranchNews, Err: fmt.Errorf("api down")},
		},
	}

	bundle := Aggregate(results)

	assert.Equal(t, datatypes.BranchPresent, bundle.StatusOf(datatypes.BranchMarket))
	assert.Equal(t, datatypes.BranchFailed, bundle.StatusOf(datatypes.BranchNews))
	assert.Equal(t, datatypes.BranchSkipped, bundle.StatusOf(datatypes.BranchDocuments))

	require.Len(t, bundle.Market, 1)
	assert.Empty(t, bundle.News)
	assert.Contains(t, bundle.Outcomes[datatypes.BranchNews].Error, "api down")
	assert.False(t, bundle.FetchedAt.IsZero())
}

func TestAggregate_NoResults(t *testing.T) {
	bundle := Aggregate(nil)
	for _, branch := range datatypes.AllBranches {
		assert.Equal(t, datatypes.BranchSkipped, bundle.StatusOf(branch))
	}
	assert.False(t, bundle.HasEvidence())
}

func TestSourcesFromBundle(t *testing.T) {
	bundle := datatypes.NewEvidenceBundle()
	bundle.News = []datatypes.NewsItem{
		{Title: "Apple rallies", Link: "https://example.com/a", Source: "Example"},
	}
	bundle.Documents = []datatypes.DocumentPassage{
		{Ticker: "AAPL", Source: "10-K", Certainty: 0.91, Content: "..."},
	}

	sources := SourcesFromBundle(bundle)
	require.Len(t, sources, 2)

	assert.Equal(t, "Apple rallies", sources[0].Title)
	assert.Equal(t, "https://example.com/a", sources[0].Link)
	assert.Equal(t, "10-K", sources[1].Source)
	assert.Equal(t, "AAPL", sources[1].Title)
	assert.InDelta(t, 0.91, sources[1].Certainty, 1e-9)
}

func TestSourcesFromBundle_EmptyBundle(t *testing.T) {
	assert.Empty(t, SourcesFromBundle(datatypes.NewEvidenceBundle()))
}
