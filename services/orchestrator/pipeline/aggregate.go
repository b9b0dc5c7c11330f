// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"time"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

// Aggregate merges settled branch results into one evidence bundle.
//
// # Description
//
// A pure merge: each branch's payload stays in its own slot, the
// present/empty/failed/skipped distinction is preserved per branch, and
// nothing is ranked or deduplicated across branches. Branches that were
// never routed keep their Skipped status from the fresh bundle.
func Aggregate(results []BranchResult) datatypes.EvidenceBundle {
	bundle := datatypes.NewEvidenceBundle()
	bundle.FetchedAt = time.Now()

	for _, r := range results {
		outcome := datatypes.BranchOutcome{Status: r.Status}
		if r.Err != nil {
			outcome.Error = r.Err.Error()
		}
		bundle.Outcomes[r.Branch] = outcome

		switch r.Branch {
		case datatypes.BranchMarket:
			bundle.Market = r.Market
		case datatypes.BranchNews:
			bundle.News = r.News
		case datatypes.BranchDocuments:
			bundle.Documents = r.Documents
		}
	}

	return bundle
}

// SourcesFromBundle flattens evidence into client-facing source pointers:
// news links first, then document provenance. Market data carries no source
// list; it is delivered structurally on the data event.
func SourcesFromBundle(bundle datatypes.EvidenceBundle) []datatypes.SourceInfo {
	var out []datatypes.SourceInfo
	for _, item := range bundle.News {
		out = append(out, datatypes.SourceInfo{
			Source: item.Source,
			Title:  item.Title,
			Link:   item.Link,
		})
	}
	for _, doc := range bundle.Documents {
		out = append(out, datatypes.SourceInfo{
			Source:    doc.Source,
			Title:     doc.Ticker,
			Certainty: doc.Certainty,
		})
	}
	return out
}
