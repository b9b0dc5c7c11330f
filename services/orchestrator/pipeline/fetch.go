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
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

// MarketFetcher returns structured fundamentals/technicals for the
// instruments in the query. No recognized instrument is an empty result,
// not an error.
type MarketFetcher interface {
	FetchMarket(ctx context.Context, query string, tickers []string) ([]datatypes.MarketSnapshot, error)
}

// NewsFetcher returns a bounded, ranked list of recent news items.
type NewsFetcher interface {
	FetchNews(ctx context.Context, query string, tickers []string) ([]datatypes.NewsItem, error)
}

// DocumentsFetcher returns top-K similar passages from the filing store.
// Results below the relevance threshold are dropped, so an empty slice is a
// legitimate success.
type DocumentsFetcher interface {
	FetchDocuments(ctx context.Context, query string, tickers []string) ([]datatypes.DocumentPassage, error)
}

// FetcherSet bundles the three branch fetchers the orchestrator fans out to.
// A nil member makes its branch fail with a configuration error when routed.
type FetcherSet struct {
	Market    MarketFetcher
	News      NewsFetcher
	Documents DocumentsFetcher
}

// BranchResult is the tagged outcome of one branch: exactly one of the
// payload slices is populated on success, and Err is set on failure. A
// failure is a value here, never a panic or a turn abort.
type BranchResult struct {
	Branch  datatypes.Branch
	Status  datatypes.BranchStatus
	Elapsed time.Duration

	Market    []datatypes.MarketSnapshot
	News      []datatypes.NewsItem
	Documents []datatypes.DocumentPassage

	Err error
}

// RunBranches executes the activated branches concurrently and joins them.
//
// # Description
//
// Each branch runs in its own goroutine under its own timeout context,
// writing into a disjoint slot of the result slice, so branches share no
// mutable state and one failing or timing out never disturbs its siblings.
// The call returns only after every branch has settled (join-all, not a
// race). Results come back in the order branches were given.
//
// # Inputs
//
//   - branches: The branches to activate. Empty means no fetching at all.
//   - query: The resolved query passed to every fetcher.
//   - tickers: Instruments extracted during classification.
//   - timeout: Per-branch budget; a branch exceeding it fails individually.
func RunBranches(ctx context.Context, fetchers FetcherSet, branches []datatypes.Branch,
	query string, tickers []string, timeout time.Duration) []BranchResult {

	ctx, span := tracer.Start(ctx, "RunBranches")
	defer span.End()
	span.SetAttributes(attribute.Int("fetch.branches", len(branches)))

	results := make([]BranchResult, len(branches))
	var wg sync.WaitGroup
	for i, branch := range branches {
		wg.Add(1)
		go func(i int, branch datatypes.Branch) {
			defer wg.Done()
			results[i] = runBranch(ctx, fetchers, branch, query, tickers, timeout)
		}(i, branch)
	}
	wg.Wait()

	return results
}

func runBranch(ctx context.Context, fetchers FetcherSet, branch datatypes.Branch,
	query string, tickers []string, timeout time.Duration) BranchResult {

	branchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := BranchResult{Branch: branch}

	var n int
	var err error
	switch branch {
	case datatypes.BranchMarket:
		if fetchers.Market == nil {
			err = fmt.Errorf("market fetcher not configured")
			break
		}
		result.Market, err = fetchers.Market.FetchMarket(branchCtx, query, tickers)
		n = len(result.Market)
	case datatypes.BranchNews:
		if fetchers.News == nil {
			err = fmt.Errorf("news fetcher not configured")
			break
		}
		result.News, err = fetchers.News.FetchNews(branchCtx, query, tickers)
		n = len(result.News)
	case datatypes.BranchDocuments:
		if fetchers.Documents == nil {
			err = fmt.Errorf("documents fetcher not configured")
			break
		}
		result.Documents, err = fetchers.Documents.FetchDocuments(branchCtx, query, tickers)
		n = len(result.Documents)
	default:
		err = fmt.Errorf("unknown branch %q", branch)
	}

	result.Elapsed = time.Since(start)

	if err != nil {
		// A branch deadline counts as that branch's failure, nothing more.
		if branchCtx.Err() != nil {
			err = fmt.Errorf("branch timed out after %s: %w", timeout, err)
		}
		result.Err = &FetchError{Branch: branch, Err: err}
		result.Status = datatypes.BranchFailed
		return result
	}

	if n == 0 {
		result.Status = datatypes.BranchEmpty
	} else {
		result.Status = datatypes.BranchPresent
	}
	return result
}
