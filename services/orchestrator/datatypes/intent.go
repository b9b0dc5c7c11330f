// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"sort"
	"strings"
)

// Intent is a classified category of information need for one turn.
type Intent string

const (
	// IntentMarket requests structured fundamentals/technicals for one or
	// more instruments.
	IntentMarket Intent = "MARKET"

	// IntentNews requests recent news coverage.
	IntentNews Intent = "NEWS"

	// IntentDocuments requests passages from the local filing store.
	IntentDocuments Intent = "DOCUMENTS"

	// IntentNone marks a turn that needs no retrieval at all. It is mutually
	// exclusive with every other intent.
	IntentNone Intent = "NONE"
)

// IntentSet is the set of intents produced by the classifier for one turn.
//
// # Description
//
// An IntentSet is never empty once normalized: a query that maps to no
// domain intent carries exactly {NONE}. NONE never co-occurs with another
// member. The set is produced once per turn and never mutated afterwards;
// the router consumes it as a value.
//
// # Thread Safety
//
// IntentSet is treated as immutable after Normalize. Copies are cheap.
type IntentSet struct {
	members map[Intent]struct{}
}

// NewIntentSet builds a set from the given intents. Unknown intents are
// dropped; call Normalize before handing the set to the router.
func NewIntentSet(intents ...Intent) IntentSet {
	s := IntentSet{members: make(map[Intent]struct{}, len(intents))}
	for _, in := range intents {
		switch in {
		case IntentMarket, IntentNews, IntentDocuments, IntentNone:
			s.members[in] = struct{}{}
		}
	}
	return s
}

// NoneIntentSet returns the canonical {NONE} set used whenever the
// classifier degrades.
func NoneIntentSet() IntentSet {
	return NewIntentSet(IntentNone)
}

// Has reports whether the intent is a member of the set.
func (s IntentSet) Has(in Intent) bool {
	_, ok := s.members[in]
	return ok
}

// Len returns the number of members.
func (s IntentSet) Len() int {
	return len(s.members)
}

// IsNone reports whether the set is exactly {NONE}.
func (s IntentSet) IsNone() bool {
	return len(s.members) == 1 && s.Has(IntentNone)
}

// Members returns the intents in stable (sorted) order.
func (s IntentSet) Members() []Intent {
	out := make([]Intent, 0, len(s.members))
	for in := range s.members {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the members as plain strings, for logging and SSE events.
func (s IntentSet) Strings() []string {
	members := s.Members()
	out := make([]string, len(members))
	for i, in := range members {
		out[i] = string(in)
	}
	return out
}

// String renders the set like "{MARKET, NEWS}".
func (s IntentSet) String() string {
	return "{" + strings.Join(s.Strings(), ", ") + "}"
}

// Normalize enforces the set invariants and returns the corrected set:
//   - an empty set becomes {NONE}
//   - NONE alongside domain intents is dropped in favor of the domain intents
//
// The receiver is not modified.
func (s IntentSet) Normalize() IntentSet {
	if len(s.members) == 0 {
		return NoneIntentSet()
	}
	if s.Has(IntentNone) && len(s.members) > 1 {
		out := NewIntentSet()
		for in := range s.members {
			if in != IntentNone {
				out.members[in] = struct{}{}
			}
		}
		return out
	}
	return s
}

// Validate checks the invariants without repairing them. A turn observing a
// violation here has hit an internal bug, not a degradable upstream failure.
func (s IntentSet) Validate() error {
	if len(s.members) == 0 {
		return fmt.Errorf("intent set is empty")
	}
	if s.Has(IntentNone) && len(s.members) > 1 {
		return fmt.Errorf("NONE co-occurs with other intents: %s", s)
	}
	return nil
}
