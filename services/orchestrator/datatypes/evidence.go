// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Branch identifies one independently fetched evidence source.
type Branch string

const (
	BranchMarket    Branch = "market"
	BranchNews      Branch = "news"
	BranchDocuments Branch = "documents"
)

// AllBranches lists every branch in the order they are reported.
var AllBranches = []Branch{BranchMarket, BranchNews, BranchDocuments}

// BranchStatus records the outcome of a single evidence branch. A branch
// that was never routed stays Skipped; a routed branch ends Present, Empty,
// or Failed. Failures never abort the turn.
type BranchStatus string

const (
	BranchSkipped BranchStatus = "skipped"
	BranchPresent BranchStatus = "present"
	BranchEmpty   BranchStatus = "empty"
	BranchFailed  BranchStatus = "failed"
)

// =============================================================================
// Market evidence
// =============================================================================

// Fundamentals holds the valuation and income snapshot for one instrument.
// Fields not reported by the upstream provider are left at zero and omitted
// from serialized output.
type Fundamentals struct {
	CompanyName      string  `json:"company_name,omitempty"`
	Sector           string  `json:"sector,omitempty"`
	Industry         string  `json:"industry,omitempty"`
	MarketCap        float64 `json:"market_cap,omitempty"`
	TrailingPE       float64 `json:"trailing_pe,omitempty"`
	ForwardPE        float64 `json:"forward_pe,omitempty"`
	PriceToBook      float64 `json:"price_to_book,omitempty"`
	DividendYield    float64 `json:"dividend_yield,omitempty"`
	TrailingEPS      float64 `json:"trailing_eps,omitempty"`
	TotalRevenue     float64 `json:"total_revenue,omitempty"`
	GrossProfit      float64 `json:"gross_profit,omitempty"`
	FreeCashFlow     float64 `json:"free_cash_flow,omitempty"`
	DebtToEquity     float64 `json:"debt_to_equity,omitempty"`
	ReturnOnEquity   float64 `json:"return_on_equity,omitempty"`
	RevenueGrowth    float64 `json:"revenue_growth,omitempty"`
	EarningsGrowth   float64 `json:"earnings_growth,omitempty"`
	FiftyTwoWeekHigh float64 `json:"fifty_two_week_high,omitempty"`
	FiftyTwoWeekLow  float64 `json:"fifty_two_week_low,omitempty"`
	CurrentPrice     float64 `json:"current_price,omitempty"`
}

// Technicals holds derived indicator values computed from daily closes.
type Technicals struct {
	LastClose     float64 `json:"last_close"`
	SMA50         float64 `json:"sma_50"`
	SMA200        float64 `json:"sma_200,omitempty"`
	EMA20         float64 `json:"ema_20"`
	RSI14         float64 `json:"rsi_14"`
	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	BollingerUp   float64 `json:"bollinger_upper"`
	BollingerLow  float64 `json:"bollinger_lower"`
	VolumeAvg30   float64 `json:"volume_avg_30"`
	PriceChange1M float64 `json:"price_change_1m"`
	AsOf          string  `json:"as_of,omitempty"`
}

// MarketSnapshot bundles fundamentals and technicals for one ticker. Either
// side may be nil when its sub-fetch failed for this instrument.
type MarketSnapshot struct {
	Ticker       string        `json:"ticker"`
	Fundamentals *Fundamentals `json:"fundamentals,omitempty"`
	Technicals   *Technicals   `json:"technicals,omitempty"`
}

// =============================================================================
// News evidence
// =============================================================================

// NewsItem is one deduplicated news result.
type NewsItem struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Source    string `json:"source,omitempty"`
	Published string `json:"published,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}

// =============================================================================
// Document evidence
// =============================================================================

// DocumentPassage is one retrieved filing chunk with its match certainty.
type DocumentPassage struct {
	Content   string  `json:"content"`
	Ticker    string  `json:"ticker,omitempty"`
	Source    string  `json:"source,omitempty"`
	FilingID  string  `json:"filing_id,omitempty"`
	Certainty float64 `json:"certainty"`
}

// =============================================================================
// Bundle
// =============================================================================

// BranchOutcome pairs a branch's terminal status with its failure detail.
type BranchOutcome struct {
	Status BranchStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// EvidenceBundle aggregates every branch outcome for one turn.
//
// # Description
//
// The bundle is written exactly once, by the aggregation stage, after every
// routed branch has terminated. Synthesis reads it but never mutates it.
// A branch left at its zero value reports as Skipped.
type EvidenceBundle struct {
	Market    []MarketSnapshot  `json:"market,omitempty"`
	News      []NewsItem        `json:"news,omitempty"`
	Documents []DocumentPassage `json:"documents,omitempty"`

	Outcomes  map[Branch]BranchOutcome `json:"outcomes"`
	FetchedAt time.Time                `json:"fetched_at"`
}

// NewEvidenceBundle returns a bundle with every branch marked Skipped.
func NewEvidenceBundle() EvidenceBundle {
	outcomes := make(map[Branch]BranchOutcome, len(AllBranches))
	for _, b := range AllBranches {
		outcomes[b] = BranchOutcome{Status: BranchSkipped}
	}
	return EvidenceBundle{Outcomes: outcomes}
}

// StatusOf returns the recorded status for a branch, Skipped if absent.
func (e EvidenceBundle) StatusOf(b Branch) BranchStatus {
	if o, ok := e.Outcomes[b]; ok {
		return o.Status
	}
	return BranchSkipped
}

// HasEvidence reports whether at least one branch produced usable content.
func (e EvidenceBundle) HasEvidence() bool {
	for _, b := range AllBranches {
		if e.StatusOf(b) == BranchPresent {
			return true
		}
	}
	return false
}

// FailedBranches returns the branches that terminated in failure, in
// reporting order.
func (e EvidenceBundle) FailedBranches() []Branch {
	var out []Branch
	for _, b := range AllBranches {
		if e.StatusOf(b) == BranchFailed {
			out = append(out, b)
		}
	}
	return out
}
