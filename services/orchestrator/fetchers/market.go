// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetchers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

const (
	// marketWorkers bounds parallel per-ticker fetches within one branch.
	marketWorkers = 4
	// maxMarketTickers caps how many instruments one turn resolves.
	maxMarketTickers = 5
	// historyDays is the calendar window requested for technicals; roughly
	// one year of trading days after weekends and holidays drop out.
	historyDays = 365
)

// CandleCache is an optional read-through store for daily history. A miss
// returns (nil, nil); real errors come back as errors and degrade to a
// direct upstream fetch.
type CandleCache interface {
	Recent(ctx context.Context, ticker string, days int) ([]Candle, error)
	Store(ctx context.Context, ticker string, candles []Candle) error
}

// MarketDataFetcher resolves fundamentals and technicals per ticker from
// Yahoo Finance, with an optional candle cache in front of the chart API.
type MarketDataFetcher struct {
	yahoo *YahooClient
	cache CandleCache
}

// NewMarketDataFetcher builds the market branch backend. cache may be nil.
func NewMarketDataFetcher(yahoo *YahooClient, cache CandleCache) *MarketDataFetcher {
	return &MarketDataFetcher{yahoo: yahoo, cache: cache}
}

// FetchMarket resolves one snapshot per ticker.
//
// # Description
//
// Tickers are processed by a small worker pool. Fundamentals and technicals
// fail independently per instrument: a snapshot with either side populated
// still counts. The call errors only when every requested instrument
// produced nothing, so one bad symbol cannot sink the branch.
func (m *MarketDataFetcher) FetchMarket(ctx context.Context, query string,
	tickers []string) ([]datatypes.MarketSnapshot, error) {

	ctx, span := tracer.Start(ctx, "MarketDataFetcher.FetchMarket")
	defer span.End()

	if len(tickers) == 0 {
		return nil, nil
	}
	if len(tickers) > maxMarketTickers {
		slog.Info("Truncating market ticker list", "requested", len(tickers), "cap", maxMarketTickers)
		tickers = tickers[:maxMarketTickers]
	}
	span.SetAttributes(attribute.StringSlice("tickers", tickers))

	snapshots := make([]*datatypes.MarketSnapshot, len(tickers))
	var wg sync.WaitGroup
	jobs := make(chan int, len(tickers))

	workers := marketWorkers
	if len(tickers) < workers {
		workers = len(tickers)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				snapshots[i] = m.fetchOne(ctx, tickers[i])
			}
		}()
	}
	for i := range tickers {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := make([]datatypes.MarketSnapshot, 0, len(tickers))
	for _, snap := range snapshots {
		if snap != nil {
			out = append(out, *snap)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no market data available for %v", tickers)
	}
	return out, nil
}

// fetchOne returns nil only when both sub-fetches produced nothing.
func (m *MarketDataFetcher) fetchOne(ctx context.Context, ticker string) *datatypes.MarketSnapshot {
	snap := datatypes.MarketSnapshot{Ticker: ticker}

	quote, err := m.yahoo.QuoteSummary(ctx, ticker)
	if err != nil {
		slog.Warn("Fundamentals fetch failed", "ticker", ticker, "error", err)
	} else {
		snap.Fundamentals = fundamentalsFromQuote(quote)
	}

	candles, err := m.history(ctx, ticker)
	if err != nil {
		slog.Warn("History fetch failed", "ticker", ticker, "error", err)
	} else {
		snap.Technicals = ComputeTechnicals(candles)
	}

	if snap.Fundamentals == nil && snap.Technicals == nil {
		return nil
	}
	return &snap
}

// history reads the candle cache first, falls back to Yahoo, and writes new
// upstream data back through the cache. Cache failures only cost the
// shortcut, never the fetch.
func (m *MarketDataFetcher) history(ctx context.Context, ticker string) ([]Candle, error) {
	if m.cache != nil {
		cached, err := m.cache.Recent(ctx, ticker, historyDays)
		if err != nil {
			slog.Warn("Candle cache read failed", "ticker", ticker, "error", err)
		} else if len(cached) >= minTechnicalCandles && cacheIsFresh(cached) {
			return cached, nil
		}
	}

	candles, err := m.yahoo.DailyCandles(ctx, ticker, historyDays)
	if err != nil {
		return nil, err
	}

	if m.cache != nil && len(candles) > 0 {
		if err := m.cache.Store(ctx, ticker, candles); err != nil {
			slog.Warn("Candle cache write failed", "ticker", ticker, "error", err)
		}
	}
	return candles, nil
}

// cacheIsFresh accepts cached history whose newest bar is at most three
// days old, enough to span a weekend without refetching every turn.
func cacheIsFresh(candles []Candle) bool {
	newest := candles[len(candles)-1].Time
	return time.Since(newest) <= 72*time.Hour
}

func fundamentalsFromQuote(q *yahooQuoteResult) *datatypes.Fundamentals {
	return &datatypes.Fundamentals{
		CompanyName:      q.Price.LongName,
		Sector:           q.AssetProfile.Sector,
		Industry:         q.AssetProfile.Industry,
		MarketCap:        q.Price.MarketCap.Raw,
		TrailingPE:       q.SummaryDetail.TrailingPE.Raw,
		ForwardPE:        q.SummaryDetail.ForwardPE.Raw,
		PriceToBook:      q.DefaultKeyStatistics.PriceToBook.Raw,
		DividendYield:    q.SummaryDetail.DividendYield.Raw,
		TrailingEPS:      q.DefaultKeyStatistics.TrailingEps.Raw,
		TotalRevenue:     q.FinancialData.TotalRevenue.Raw,
		GrossProfit:      q.FinancialData.GrossProfits.Raw,
		FreeCashFlow:     q.FinancialData.FreeCashflow.Raw,
		DebtToEquity:     q.FinancialData.DebtToEquity.Raw,
		ReturnOnEquity:   q.FinancialData.ReturnOnEquity.Raw,
		RevenueGrowth:    q.FinancialData.RevenueGrowth.Raw,
		EarningsGrowth:   q.FinancialData.EarningsGrowth.Raw,
		FiftyTwoWeekHigh: q.SummaryDetail.FiftyTwoWeekHigh.Raw,
		FiftyTwoWeekLow:  q.SummaryDetail.FiftyTwoWeekLow.Raw,
		CurrentPrice:     q.Price.RegularMarketPrice.Raw,
	}
}
