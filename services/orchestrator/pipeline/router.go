// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "github.com/finsightai/finsight/services/orchestrator/datatypes"

// intentBranches is the fixed routing policy. NONE maps to no branches and
// is handled by its absence here.
var intentBranches = map[datatypes.Intent]datatypes.Branch{
	datatypes.IntentMarket:    datatypes.BranchMarket,
	datatypes.IntentNews:      datatypes.BranchNews,
	datatypes.IntentDocuments: datatypes.BranchDocuments,
}

// Route maps an intent set to the evidence branches to activate.
//
// # Description
//
// A pure total function with no failure mode: multiple intents activate the
// union of their branches, and {NONE} activates nothing. Branches are
// returned in datatypes.AllBranches order so fan-out and reporting are
// deterministic.
func Route(intents datatypes.IntentSet) []datatypes.Branch {
	if intents.IsNone() {
		return nil
	}

	active := make(map[datatypes.Branch]struct{}, len(intentBranches))
	for _, in := range intents.Members() {
		if b, ok := intentBranches[in]; ok {
			active[b] = struct{}{}
		}
	}

	out := make([]datatypes.Branch, 0, len(active))
	for _, b := range datatypes.AllBranches {
		if _, ok := active[b]; ok {
			out = append(out, b)
		}
	}
	return out
}
