// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/finsightai/finsight/services/llm"
	"github.com/finsightai/finsight/services/orchestrator/datatypes"
	"github.com/finsightai/finsight/services/orchestrator/observability"
)

// =============================================================================
// Turn lifecycle
// =============================================================================

// TurnState names the stage a turn is in. States only move forward.
type TurnState string

const (
	StateResolving    TurnState = "RESOLVING"
	StateClassifying  TurnState = "CLASSIFYING"
	StateRouting      TurnState = "ROUTING"
	StateFetching     TurnState = "FETCHING"
	StateAggregating  TurnState = "AGGREGATING"
	StateSynthesizing TurnState = "SYNTHESIZING"
	StateDone         TurnState = "DONE"
	StateErrored      TurnState = "ERRORED"
)

// TurnEmitter is the orchestrator's view of the client stream. Implementations
// translate these calls into wire events; an error from any method means the
// client is gone and the turn should stop.
type TurnEmitter interface {
	Status(step, message string) error
	Data(tickers []string, snapshots []datatypes.MarketSnapshot) error
	Sources(sources []datatypes.SourceInfo) error
	Token(content string) error
}

// TurnResult is what a completed turn hands back to the transport layer.
type TurnResult struct {
	Record *datatypes.TurnRecord
	State  TurnState
}

// =============================================================================
// Configuration
// =============================================================================

// Config tunes per-turn behavior.
type Config struct {
	// BranchTimeout bounds each evidence branch independently.
	BranchTimeout time.Duration
	// MaxHistoryTurns caps how many prior turns feed resolution and synthesis.
	MaxHistoryTurns int
}

// ConfigFromEnv reads pipeline tuning from the environment, falling back to
// production defaults.
func ConfigFromEnv() Config {
	cfg := Config{
		BranchTimeout:   10 * time.Second,
		MaxHistoryTurns: datatypes.MaxHistoryTurnsDefault,
	}

	if raw := os.Getenv("FINSIGHT_BRANCH_TIMEOUT_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.BranchTimeout = time.Duration(secs) * time.Second
		} else {
			slog.Warn("Invalid FINSIGHT_BRANCH_TIMEOUT_SECONDS, using default",
				"value", raw, "default", cfg.BranchTimeout)
		}
	} else {
		slog.Info("FINSIGHT_BRANCH_TIMEOUT_SECONDS not set, using default",
			"default", cfg.BranchTimeout)
	}

	if raw := os.Getenv("FINSIGHT_MAX_HISTORY_TURNS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.MaxHistoryTurns = n
		} else {
			slog.Warn("Invalid FINSIGHT_MAX_HISTORY_TURNS, using default",
				"value", raw, "default", cfg.MaxHistoryTurns)
		}
	}

	return cfg
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs a full conversational turn from raw input to committed
// answer. A single Orchestrator is shared across sessions; per-session
// sequencing is the session store's job, and each call to RunTurn builds
// fresh per-turn state so turns never observe each other.
type Orchestrator struct {
	resolver   *Resolver
	classifier *Classifier
	synth      *Synthesizer
	fetchers   FetcherSet
	cfg        Config
	metrics    *observability.TurnMetrics
}

// NewOrchestrator wires the pipeline stages onto one LLM backend and the
// given evidence fetchers.
func NewOrchestrator(client llm.LLMClient, fetchers FetcherSet, cfg Config) *Orchestrator {
	metrics := observability.DefaultMetrics
	if metrics == nil {
		// Not registered anywhere; keeps the pipeline usable before
		// InitMetrics runs.
		metrics = observability.NewTurnMetrics(prometheus.NewRegistry())
	}
	return &Orchestrator{
		resolver:   NewResolver(client),
		classifier: NewClassifier(client),
		synth:      NewSynthesizer(client),
		fetchers:   fetchers,
		cfg:        cfg,
		metrics:    metrics,
	}
}

// RunTurn executes one turn against the given session state.
//
// # Description
//
// Drives resolve, classify, route, fetch, aggregate, and synthesize in
// order, emitting progress on emit along the way. Resolver, classifier, and
// fetcher failures degrade the turn but never abort it; only a synthesis
// failure or a dead client stops the turn. The turn is committed to state's
// history exactly once, after the full answer has streamed, so a failed or
// disconnected turn leaves the session history untouched.
//
// # Limitations
//
//   - The caller must hold exclusive ownership of state for the duration of
//     the call. RunTurn does not lock it.
func (o *Orchestrator) RunTurn(ctx context.Context, state *datatypes.ConversationState,
	raw string, emit TurnEmitter) (*TurnResult, error) {

	ctx, span := tracer.Start(ctx, "Orchestrator.RunTurn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", state.SessionID))

	record := &datatypes.TurnRecord{
		TurnID:    uuid.NewString(),
		RawInput:  raw,
		Intents:   datatypes.NoneIntentSet(),
		Evidence:  datatypes.NewEvidenceBundle(),
		StartedAt: time.Now(),
	}
	history := state.HistoryMessages(o.cfg.MaxHistoryTurns)

	// Resolve. Degrades to the raw input on any failure.
	if err := emit.Status(datatypes.StepResolving, "Resolving query..."); err != nil {
		return o.abort(span, record, err)
	}
	resolved, degraded := o.resolver.Resolve(ctx, raw, history)
	record.ResolvedQuery = resolved
	record.DegradedResolution = degraded
	if degraded {
		slog.Warn("Query resolution degraded, using raw input",
			"session_id", state.SessionID, "turn_id", record.TurnID)
	}

	// Classify. Degrades to the heuristic classification on any failure.
	if err := emit.Status(datatypes.StepClassifying, "Classifying intent..."); err != nil {
		return o.abort(span, record, err)
	}
	classification := o.classifier.Classify(ctx, resolved)
	record.Intents = classification.Intents
	record.Tickers = classification.Tickers
	record.DegradedClassification = classification.Degraded
	if classification.Degraded {
		slog.Warn("Intent classification degraded, using heuristic fallback",
			"session_id", state.SessionID, "turn_id", record.TurnID)
	}
	span.SetAttributes(
		attribute.StringSlice("turn.intents", classification.Intents.Strings()),
		attribute.StringSlice("turn.tickers", classification.Tickers),
	)
	if err := record.Intents.Validate(); err != nil {
		o.metrics.RecordError(observability.ErrorCodeInternal)
		return o.abort(span, record, fmt.Errorf("intent invariant violated: %w", err))
	}

	// Route.
	if err := emit.Status(datatypes.StepRouting, "Routing..."); err != nil {
		return o.abort(span, record, err)
	}
	branches := Route(record.Intents)

	// Fetch evidence concurrently. Each branch fails alone.
	if len(branches) > 0 {
		names := make([]string, len(branches))
		for i, b := range branches {
			names[i] = string(b)
		}
		msg := fmt.Sprintf("Fetching evidence (%s)...", strings.Join(names, ", "))
		if err := emit.Status(datatypes.StepFetching, msg); err != nil {
			return o.abort(span, record, err)
		}
	}
	results := RunBranches(ctx, o.fetchers, branches, resolved, record.Tickers, o.cfg.BranchTimeout)
	for _, res := range results {
		o.metrics.RecordBranchFetch(string(res.Branch), string(res.Status), res.Elapsed.Seconds())
		if res.Status == datatypes.BranchFailed {
			slog.Warn("Evidence branch failed",
				"session_id", state.SessionID, "turn_id", record.TurnID,
				"branch", res.Branch, "error", res.Err)
		}
	}

	// Aggregate.
	if err := emit.Status(datatypes.StepAggregating, "Aggregating evidence..."); err != nil {
		return o.abort(span, record, err)
	}
	record.Evidence = Aggregate(results)

	if record.Evidence.StatusOf(datatypes.BranchMarket) != datatypes.BranchSkipped ||
		len(record.Tickers) > 0 {
		if err := emit.Data(record.Tickers, record.Evidence.Market); err != nil {
			return o.abort(span, record, err)
		}
	}
	if sources := SourcesFromBundle(record.Evidence); len(sources) > 0 {
		if err := emit.Sources(sources); err != nil {
			return o.abort(span, record, err)
		}
	}

	// Synthesize. The only fatal stage.
	if err := emit.Status(datatypes.StepAnswering, "Generating answer..."); err != nil {
		return o.abort(span, record, err)
	}
	firstToken := true
	turnStart := time.Now()
	answer, err := o.synth.Synthesize(ctx, resolved, history, record.Evidence, func(chunk string) error {
		if firstToken {
			o.metrics.RecordTimeToFirstToken(time.Since(turnStart).Seconds())
			firstToken = false
		}
		o.metrics.TokensStreamedTotal.Inc()
		return emit.Token(chunk)
	})
	if err != nil {
		var synthErr *SynthesisError
		if errors.As(err, &synthErr) && IsEmitError(synthErr.Err) {
			o.metrics.RecordClientDisconnect()
		} else {
			o.metrics.RecordError(observability.ErrorCodeLLMError)
		}
		return o.abort(span, record, err)
	}
	record.Answer = answer

	// Commit. Exactly one history entry per completed turn.
	now := time.Now()
	state.History = append(state.History, datatypes.Turn{
		UserMessage:   raw,
		ResolvedQuery: resolved,
		Answer:        answer,
		CompletedAt:   now,
	})
	state.LastTurnAt = &now
	state.LastActive = now

	o.metrics.RecordTurn(true)
	span.SetAttributes(attribute.Int("turn.answer_bytes", len(answer)))
	return &TurnResult{Record: record, State: StateDone}, nil
}

// abort finalizes a failed turn without touching session history.
func (o *Orchestrator) abort(span trace.Span, record *datatypes.TurnRecord,
	err error) (*TurnResult, error) {

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.metrics.RecordTurn(false)
	return &TurnResult{Record: record, State: StateErrored}, err
}
