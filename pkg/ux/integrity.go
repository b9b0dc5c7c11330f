// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Hash chain verification for streamed turns.
//
// Every server event carries a SHA-256 Hash over its content and a PrevHash
// linking to the preceding event. Recomputing the chain client-side proves
// nothing was modified, dropped, or reordered in transit.
package ux

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// ChainVerificationResult reports the outcome of verifying one stream.
type ChainVerificationResult struct {
	Valid         bool
	EventsChecked int

	// BrokenAt is the index of the first bad event, -1 when the chain holds.
	BrokenAt int
	Reason   string
}

// ChainVerifier verifies the integrity of a hash chain.
type ChainVerifier interface {
	// Verify recomputes every hash and checks each PrevHash link.
	Verify(events []StreamEvent) *ChainVerificationResult
}

// NewChainVerifier returns a verifier that recomputes all hashes.
func NewChainVerifier() ChainVerifier {
	return &chainVerifier{}
}

type chainVerifier struct{}

var _ ChainVerifier = (*chainVerifier)(nil)

func (v *chainVerifier) Verify(events []StreamEvent) *ChainVerificationResult {
	result := &ChainVerificationResult{Valid: true, BrokenAt: -1}

	prevHash := ""
	for i, event := range events {
		if event.PrevHash != prevHash {
			return broken(i, len(events), fmt.Sprintf(
				"event %d prev_hash does not link to event %d", i, i-1))
		}
		if !secureHashEqual(computeEventHash(event), event.Hash) {
			return broken(i, len(events), fmt.Sprintf(
				"event %d content does not match its hash", i))
		}
		prevHash = event.Hash
		result.EventsChecked++
	}
	return result
}

func broken(at, total int, reason string) *ChainVerificationResult {
	return &ChainVerificationResult{
		Valid:         false,
		EventsChecked: at,
		BrokenAt:      at,
		Reason:        reason,
	}
}

// computeEventHash mirrors the server's hash input exactly. The sources and
// market payloads enter as their wire JSON, which json.RawMessage preserved.
func computeEventHash(event StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		sourcesJSON = string(event.Sources)
	}
	marketJSON := ""
	if len(event.Market) > 0 {
		marketJSON = string(event.Market)
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%v|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Step,
		event.Message,
		event.Content,
		event.Answer,
		event.Error,
		event.Tickers,
		event.SessionID,
		sourcesJSON,
		marketJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// secureHashEqual compares hashes in constant time.
func secureHashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
