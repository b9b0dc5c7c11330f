// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"regexp"
	"strings"

	"github.com/finsightai/finsight/pkg/validation"
)

// companyTickers maps common company names to their primary listing symbol.
// The lookup is lowercase substring matching over the query, so entries must
// be unambiguous names, not generic words.
var companyTickers = map[string]string{
	"apple":     "AAPL",
	"tesla":     "TSLA",
	"microsoft": "MSFT",
	"amazon":    "AMZN",
	"google":    "GOOGL",
	"alphabet":  "GOOGL",
	"meta":      "META",
	"facebook":  "META",
	"nvidia":    "NVDA",
	"netflix":   "NFLX",
	"alibaba":   "BABA",
	"intel":     "INTC",
	"amd":       "AMD",
	"boeing":    "BA",
	"disney":    "DIS",
	"walmart":   "WMT",
	"jpmorgan":  "JPM",
	"berkshire": "BRK-B",
}

// indexTickers maps market index names to their Yahoo-style symbols.
var indexTickers = map[string]string{
	"vix":       "^VIX",
	"s&p 500":   "^GSPC",
	"s&p500":    "^GSPC",
	"dow jones": "^DJI",
	"nasdaq":    "^IXIC",
}

// commonWords are all-caps tokens the regex layer must skip: ordinary
// English words, finance jargon, and index names already handled by
// indexTickers under their caret symbols.
var commonWords = map[string]struct{}{
	"I": {}, "A": {}, "AN": {}, "THE": {}, "IS": {}, "AND": {}, "OR": {},
	"IN": {}, "ON": {}, "TO": {}, "FOR": {}, "OF": {}, "ETF": {}, "USD": {},
	"PE": {}, "EPS": {}, "SEC": {}, "CEO": {}, "IPO": {}, "AI": {},
	"VS": {}, "WHAT": {}, "HOW": {}, "WHY": {}, "NEWS": {}, "VIX": {},
}

// tickerCandidate matches runs of 2-5 capital letters as typed by the user.
var tickerCandidate = regexp.MustCompile(`\b[A-Z]{2,5}\b`)

// ExtractTickers pulls instrument symbols out of a raw query without an LLM.
//
// # Description
//
// Three layers, cheapest first: company-name mapping, index-name mapping,
// then a regex scan for all-caps tokens filtered against common English
// words. Results are validated and deduplicated, preserving first-seen
// order. An empty result is normal for non-financial queries.
func ExtractTickers(query string) []string {
	lower := strings.ToLower(query)
	var found []string

	for name, symbol := range companyTickers {
		if strings.Contains(lower, name) {
			found = append(found, symbol)
		}
	}
	for name, symbol := range indexTickers {
		if strings.Contains(lower, name) {
			found = append(found, symbol)
		}
	}

	for _, candidate := range tickerCandidate.FindAllString(query, -1) {
		if _, skip := commonWords[candidate]; skip {
			continue
		}
		found = append(found, candidate)
	}

	return validation.SanitizeTickers(found)
}

// MergeTickers unions two symbol lists, sanitizing and deduplicating while
// keeping the first list's order first.
func MergeTickers(a, b []string) []string {
	return validation.SanitizeTickers(append(append([]string{}, a...), b...))
}
