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

	"github.com/finsightai/finsight/services/llm"
	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

// =============================================================================
// Mock LLM client
// =============================================================================

// mockLLM scripts each of the three LLMClient entry points independently and
// counts invocations so tests can assert which calls happened.
type mockLLM struct {
	mu sync.Mutex

	generateFn func(prompt string) (string, error)
	chatFn     func(messages []datatypes.Message) (string, error)
	streamFn   func(ctx context.Context, messages []datatypes.Message,
		callback llm.StreamCallback) error

	generateCalls int
	chatCalls     int
	streamCalls   int

	lastGeneratePrompt string
	lastChatMessages   []datatypes.Message
	lastStreamMessages []datatypes.Message
}

var _ llm.LLMClient = (*mockLLM)(nil)

func (m *mockLLM) Generate(ctx context.Context, prompt string,
	params llm.GenerationParams) (string, error) {

	m.mu.Lock()
	m.generateCalls++
	m.lastGeneratePrompt = prompt
	fn := m.generateFn
	m.mu.Unlock()

	if fn == nil {
		return "", fmt.Errorf("generate not scripted")
	}
	return fn(prompt)
}

func (m *mockLLM) Chat(ctx context.Context, messages []datatypes.Message,
	params llm.GenerationParams) (string, error) {

	m.mu.Lock()
	m.chatCalls++
	m.lastChatMessages = messages
	fn := m.chatFn
	m.mu.Unlock()

	if fn == nil {
		return "", fmt.Errorf("chat not scripted")
	}
	return fn(messages)
}

func (m *mockLLM) ChatStream(ctx context.Context, messages []datatypes.Message,
	params llm.GenerationParams, callback llm.StreamCallback) error {

	m.mu.Lock()
	m.streamCalls++
	m.lastStreamMessages = messages
	fn := m.streamFn
	m.mu.Unlock()

	if fn == nil {
		return fmt.Errorf("stream not scripted")
	}
	return fn(ctx, messages, callback)
}

// streamTokens scripts a ChatStream that delivers the given chunks in order.
func streamTokens(chunks ...string) func(context.Context, []datatypes.Message,
	llm.StreamCallback) error {

	return func(ctx context.Context, _ []datatypes.Message, cb llm.StreamCallback) error {
		for _, chunk := range chunks {
			if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: chunk}); err != nil {
				return err
			}
		}
		return nil
	}
}

// classifierJSON scripts a Generate that always answers with the given
// classification payload.
func classifierJSON(payload string) func(string) (string, error) {
	return func(string) (string, error) {
		return payload, nil
	}
}

// =============================================================================
// Mock fetchers
// =============================================================================

type marketFetcherFunc func(ctx context.Context, query string,
	tickers []string) ([]datatypes.MarketSnapshot, error)

func (f marketFetcherFunc) FetchMarket(ctx context.Context, query string,
	tickers []string) ([]datatypes.MarketSnapshot, error) {
	return f(ctx, query, tickers)
}

type newsFetcherFunc func(ctx context.Context, query string,
	tickers []string) ([]datatypes.NewsItem, error)

func (f newsFetcherFunc) FetchNews(ctx context.Context, query string,
	tickers []string) ([]datatypes.NewsItem, error) {
	return f(ctx, query, tickers)
}

type documentsFetcherFunc func(ctx context.Context, query string,
	tickers []string) ([]datatypes.DocumentPassage, error)

func (f documentsFetcherFunc) FetchDocuments(ctx context.Context, query string,
	tickers []string) ([]datatypes.DocumentPassage, error) {
	return f(ctx, query, tickers)
}

func staticMarket(snaps ...datatypes.MarketSnapshot) marketFetcherFunc {
	return func(context.Context, string, []string) ([]datatypes.MarketSnapshot, error) {
		return snaps, nil
	}
}

func staticNews(items ...datatypes.NewsItem) newsFetcherFunc {
	return func(context.Context, string, []string) ([]datatypes.NewsItem, error) {
		return items, nil
	}
}

func staticDocuments(docs ...datatypes.DocumentPassage) documentsFetcherFunc {
	return func(context.Context, string, []string) ([]datatypes.DocumentPassage, error) {
		return docs, nil
	}
}

// =============================================================================
// Recording emitter
// =============================================================================

type emittedEvent struct {
	kind    string
	step    string
	message string
	content string
	tickers []string
	sources []datatypes.SourceInfo
}

// recordingEmitter captures everything the orchestrator emits. Setting
// failKind makes the matching method error, simulating a dead client at that
// point in the stream; tokenFailAfter bounds how many tokens succeed first.
type recordingEmitter struct {
	mu     sync.Mutex
	events []emittedEvent

	failKind       string
	tokenFailAfter int
	tokensEmitted  int
}

var _ TurnEmitter = (*recordingEmitter)(nil)

var errClientGone = fmt.Errorf("client went away")

func (r *recordingEmitter) Status(step, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failKind == "status" {
		return errClientGone
	}
	r.events = append(r.events, emittedEvent{kind: "status", step: step, message: message})
	return nil
}

func (r *recordingEmitter) Data(tickers []string, snapshots []datatypes.MarketSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failKind == "data" {
		return errClientGone
	}
	r.events = append(r.events, emittedEvent{kind: "data", tickers: tickers})
	return nil
}

func (r *recordingEmitter) Sources(sources []datatypes.SourceInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failKind == "sources" {
		return errClientGone
	}
	r.events = append(r.events, emittedEvent{kind: "sources", sources: sources})
	return nil
}

func (r *recordingEmitter) Token(content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failKind == "token" && r.tokensEmitted >= r.tokenFailAfter {
		return errClientGone
	}
	r.tokensEmitted++
	r.events = append(r.events, emittedEvent{kind: "token", content: content})
	return nil
}

func (r *recordingEmitter) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.kind)
	}
	return out
}

func (r *recordingEmitter) answer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out string
	for _, ev := range r.events {
		if ev.kind == "token" {
			out += ev.content
		}
	}
	return out
}

func (r *recordingEmitter) steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.kind == "status" {
			out = append(out, ev.step)
		}
	}
	return out
}
