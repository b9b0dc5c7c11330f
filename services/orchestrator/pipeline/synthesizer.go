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
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/finsightai/finsight/services/llm"
	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

const synthesizerSystemPrompt = "You are FinSight, a professional AI financial analyst. " +
	"Use the document excerpts, live market data, and recent news provided to give a precise, " +
	"professional, well-grounded response. If metrics like P/E ratio or EPS are already " +
	"provided in the data, report them directly; do not recalculate unless explicitly asked. " +
	"When a data source is marked unavailable, acknowledge that it could not be fetched rather " +
	"than guessing."

// passageExcerptLimit caps how much of each filing passage enters the prompt.
const passageExcerptLimit = 800

// newsExcerptLimit caps how much of each news snippet enters the prompt.
const newsExcerptLimit = 500

// Synthesizer turns a resolved query plus evidence into a streamed answer.
type Synthesizer struct {
	llm llm.LLMClient
}

// NewSynthesizer builds a Synthesizer on the given LLM backend.
func NewSynthesizer(client llm.LLMClient) *Synthesizer {
	return &Synthesizer{llm: client}
}

// Synthesize streams the answer for one turn.
//
// # Description
//
// Builds the analyst prompt from the resolved query, recent history, and the
// evidence bundle, then streams generation through onChunk in order. The
// stream is one-shot: consuming it is stateful and it cannot be restarted.
// Cancelling ctx cancels the in-flight generation call.
//
// # Outputs
//
//   - string: The full answer, equal to the concatenation of all chunks
//     delivered to onChunk.
//   - error: nil on clean completion. A *SynthesisError otherwise; its
//     ChunksEmitted field tells the caller whether the client already saw
//     partial output, and it wraps an *EmitError when the failure was the
//     client connection rather than generation.
func (s *Synthesizer) Synthesize(ctx context.Context, query string,
	history []datatypes.Message, bundle datatypes.EvidenceBundle,
	onChunk func(string) error) (string, error) {

	ctx, span := tracer.Start(ctx, "Synthesizer.Synthesize")
	defer span.End()

	messages := s.BuildPrompt(query, history, bundle)

	// Answer text accumulates in locked memory until the turn commits.
	acc, err := NewAnswerAccumulator()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &SynthesisError{ChunksEmitted: 0, Err: err}
	}
	defer acc.Destroy()

	chunks := 0
	err = s.llm.ChatStream(ctx, messages, llm.GenerationParams{}, func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			if event.Content == "" {
				return nil
			}
			if cbErr := onChunk(event.Content); cbErr != nil {
				return &EmitError{Err: cbErr}
			}
			if accErr := acc.Write(event.Content); accErr != nil {
				return accErr
			}
			chunks++
			return nil
		case llm.StreamEventThinking:
			// Reasoning tokens stay server-side.
			return nil
		case llm.StreamEventError:
			return event.Err
		default:
			return nil
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		partial, _, _ := acc.Finalize()
		return partial, &SynthesisError{ChunksEmitted: chunks, Err: err}
	}

	if chunks == 0 {
		err := fmt.Errorf("generation produced no output")
		span.SetStatus(codes.Error, err.Error())
		return "", &SynthesisError{ChunksEmitted: 0, Err: err}
	}

	answer, answerHash, err := acc.Finalize()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &SynthesisError{ChunksEmitted: chunks, Err: err}
	}

	span.SetAttributes(
		attribute.Int("synthesis.chunks", chunks),
		attribute.String("synthesis.answer_hash", answerHash[:16]),
	)
	return answer, nil
}

// BuildPrompt assembles the provider-neutral message list for synthesis.
//
// Per-branch phrasing: a failed branch is announced as unavailable so the
// model acknowledges the gap, an empty branch is announced as having no
// results, and a skipped branch is simply omitted.
func (s *Synthesizer) BuildPrompt(query string, history []datatypes.Message,
	bundle datatypes.EvidenceBundle) []datatypes.Message {

	var ctxParts []string

	if block := marketBlock(bundle); block != "" {
		ctxParts = append(ctxParts, block)
	}
	if block := newsBlock(bundle); block != "" {
		ctxParts = append(ctxParts, block)
	}
	if block := documentsBlock(bundle); block != "" {
		ctxParts = append(ctxParts, block)
	}

	historyStr := "None"
	if len(history) > 0 {
		var hb strings.Builder
		for _, m := range history {
			hb.WriteString(strings.ToUpper(m.Role))
			hb.WriteString(": ")
			hb.WriteString(m.Content)
			hb.WriteString("\n")
		}
		historyStr = hb.String()
	}

	var user strings.Builder
	user.WriteString("Conversation History:\n")
	user.WriteString(historyStr)
	user.WriteString("\n\nQuestion: ")
	user.WriteString(query)
	if len(ctxParts) > 0 {
		user.WriteString("\n\n")
		user.WriteString(strings.Join(ctxParts, "\n\n"))
	}
	user.WriteString("\n\nAnswer:")

	return []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: synthesizerSystemPrompt},
		{Role: datatypes.RoleUser, Content: user.String()},
	}
}

func marketBlock(bundle datatypes.EvidenceBundle) string {
	switch bundle.StatusOf(datatypes.BranchMarket) {
	case datatypes.BranchSkipped:
		return ""
	case datatypes.BranchFailed:
		return "MARKET DATA: unavailable this turn (the market data source could not be reached)."
	case datatypes.BranchEmpty:
		return "MARKET DATA: no instruments were recognized, so no market data was retrieved."
	}

	var parts []string
	for _, snap := range bundle.Market {
		var sb strings.Builder
		fmt.Fprintf(&sb, "FUNDAMENTAL ANALYSIS for %s (Yahoo Finance):\n", snap.Ticker)
		if f := snap.Fundamentals; f != nil {
			if f.CompanyName != "" {
				fmt.Fprintf(&sb, "- Company: %s\n", f.CompanyName)
			}
			if f.CurrentPrice != 0 {
				fmt.Fprintf(&sb, "- Price: $%.2f\n", f.CurrentPrice)
			}
			if f.MarketCap != 0 {
				fmt.Fprintf(&sb, "- Market Cap: $%.0f\n", f.MarketCap)
			}
			if f.TrailingPE != 0 {
				fmt.Fprintf(&sb, "- P/E Ratio: %.2f\n", f.TrailingPE)
			}
			if f.TrailingEPS != 0 {
				fmt.Fprintf(&sb, "- EPS: $%.2f\n", f.TrailingEPS)
			}
			if f.DividendYield != 0 {
				fmt.Fprintf(&sb, "- Dividend Yield: %.2f%%\n", f.DividendYield*100)
			}
			if f.FiftyTwoWeekLow != 0 || f.FiftyTwoWeekHigh != 0 {
				fmt.Fprintf(&sb, "- 52W Range: $%.2f - $%.2f\n", f.FiftyTwoWeekLow, f.FiftyTwoWeekHigh)
			}
			if f.Sector != "" {
				fmt.Fprintf(&sb, "- Sector: %s / %s\n", f.Sector, f.Industry)
			}
		} else {
			sb.WriteString("- fundamentals unavailable for this instrument\n")
		}
		if t := snap.Technicals; t != nil {
			fmt.Fprintf(&sb, "TECHNICAL ANALYSIS for %s (1y daily history):\n", snap.Ticker)
			fmt.Fprintf(&sb, "- Last Close: %.2f\n", t.LastClose)
			fmt.Fprintf(&sb, "- RSI (14): %.2f\n", t.RSI14)
			fmt.Fprintf(&sb, "- MACD: %.2f (signal %.2f)\n", t.MACD, t.MACDSignal)
			fmt.Fprintf(&sb, "- SMA 50: %.2f\n", t.SMA50)
			if t.SMA200 != 0 {
				fmt.Fprintf(&sb, "- SMA 200: %.2f\n", t.SMA200)
			}
			fmt.Fprintf(&sb, "- Bollinger Bands: %.2f / %.2f\n", t.BollingerLow, t.BollingerUp)
			if t.PriceChange1M != 0 {
				fmt.Fprintf(&sb, "- 1M Price Change: %.2f%%\n", t.PriceChange1M)
			}
		}
		parts = append(parts, strings.TrimRight(sb.String(), "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func newsBlock(bundle datatypes.EvidenceBundle) string {
	switch bundle.StatusOf(datatypes.BranchNews) {
	case datatypes.BranchSkipped:
		return ""
	case datatypes.BranchFailed:
		return "RECENT NEWS: unavailable this turn (the news source could not be reached)."
	case datatypes.BranchEmpty:
		return "RECENT NEWS: no relevant news found."
	}

	var sb strings.Builder
	sb.WriteString("RECENT NEWS:\n")
	for _, item := range bundle.News {
		snippet := item.Snippet
		if len(snippet) > newsExcerptLimit {
			snippet = snippet[:newsExcerptLimit] + "..."
		}
		fmt.Fprintf(&sb, "[%s - %s]: %s: %s\n", orDefault(item.Source, "News"),
			orDefault(item.Published, "Recent"), item.Title, snippet)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func documentsBlock(bundle datatypes.EvidenceBundle) string {
	switch bundle.StatusOf(datatypes.BranchDocuments) {
	case datatypes.BranchSkipped:
		return ""
	case datatypes.BranchFailed:
		return "FILING EXCERPTS: unavailable this turn (the document store could not be reached)."
	case datatypes.BranchEmpty:
		return "FILING EXCERPTS: no sufficiently relevant passages found."
	}

	var sb strings.Builder
	sb.WriteString("FILING EXCERPTS:\n")
	for _, doc := range bundle.Documents {
		content := doc.Content
		if len(content) > passageExcerptLimit {
			content = content[:passageExcerptLimit] + "..."
		}
		fmt.Fprintf(&sb, "[%s %s]: %s\n", orDefault(doc.Ticker, "Unknown"),
			orDefault(doc.Source, "Filing"), content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
