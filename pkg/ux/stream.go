// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// StreamEventType represents the type of streaming event
type StreamEventType string

const (
	StreamEventStatus  StreamEventType = "status"
	StreamEventData    StreamEventType = "data"
	StreamEventToken   StreamEventType = "token"
	StreamEventSources StreamEventType = "sources"
	StreamEventDone    StreamEventType = "done"
	StreamEventError   StreamEventType = "error"
)

// StreamEvent is the client-side view of one server event.
//
// Market and Sources stay as raw JSON: chain verification recomputes the
// server's hash over the exact bytes it marshaled, and json.RawMessage
// round-trips them untouched.
type StreamEvent struct {
	Id        string          `json:"id"`
	Type      StreamEventType `json:"type"`
	CreatedAt int64           `json:"created_at"`
	Hash      string          `json:"hash,omitempty"`
	PrevHash  string          `json:"prev_hash,omitempty"`

	SessionID string          `json:"session_id,omitempty"`
	Step      string          `json:"step,omitempty"`
	Message   string          `json:"message,omitempty"`
	Content   string          `json:"content,omitempty"`
	Tickers   []string        `json:"tickers,omitempty"`
	Market    json.RawMessage `json:"market_data,omitempty"`
	Sources   json.RawMessage `json:"sources,omitempty"`
	Answer    string          `json:"answer,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SourceInfo mirrors the server's evidence pointer for display.
type SourceInfo struct {
	Source    string  `json:"source"`
	Title     string  `json:"title,omitempty"`
	Link      string  `json:"link,omitempty"`
	Certainty float64 `json:"certainty,omitempty"`
}

// ParseSources decodes the sources payload, nil when absent or malformed.
func (e StreamEvent) ParseSources() []SourceInfo {
	if len(e.Sources) == 0 {
		return nil
	}
	var sources []SourceInfo
	if err := json.Unmarshal(e.Sources, &sources); err != nil {
		return nil
	}
	return sources
}

// StreamResult contains the complete result of processing a stream
type StreamResult struct {
	Answer    string
	Sources   []SourceInfo
	SessionID string
	Tickers   []string

	// Events holds every event in arrival order for chain verification.
	Events []StreamEvent
}

// StreamProcessor defines the interface for processing streaming responses.
type StreamProcessor interface {
	// Process reads and renders a streaming response from the reader.
	// Returns the collected result including all events for verification.
	Process(reader io.Reader) (*StreamResult, error)
}

// sseStreamProcessor implements StreamProcessor for Server-Sent Events
type sseStreamProcessor struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	answer      strings.Builder
	result      StreamResult
}

// NewStreamProcessor creates a new SSE stream processor
func NewStreamProcessor() StreamProcessor {
	return &sseStreamProcessor{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewStreamProcessorWithWriter creates a stream processor with custom writer (for testing)
func NewStreamProcessorWithWriter(w io.Writer, personality PersonalityLevel) StreamProcessor {
	return &sseStreamProcessor{
		writer:      w,
		personality: personality,
	}
}

// Process reads and renders a streaming response
func (p *sseStreamProcessor) Process(reader io.Reader) (*StreamResult, error) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		// Blank lines delimit events; ":" lines are keepalive comments.
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event: ") {
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			line = strings.TrimPrefix(line, "data: ")
		}

		var event StreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		p.result.Events = append(p.result.Events, event)

		switch event.Type {
		case StreamEventStatus:
			p.handleStatus(event.Message)
		case StreamEventData:
			p.handleData(event)
		case StreamEventToken:
			p.handleToken(event.Content)
		case StreamEventSources:
			p.result.Sources = event.ParseSources()
		case StreamEventDone:
			p.result.SessionID = event.SessionID
			if len(event.Tickers) > 0 {
				p.result.Tickers = event.Tickers
			}
			p.finalize()
			p.result.Answer = p.answer.String()
			return &p.result, nil
		case StreamEventError:
			p.finalize()
			return nil, fmt.Errorf("%s", event.Error)
		}
	}

	if err := scanner.Err(); err != nil {
		p.finalize()
		return nil, err
	}

	// Stream ended without an explicit done event
	p.finalize()
	p.result.Answer = p.answer.String()
	return &p.result, nil
}

func (p *sseStreamProcessor) handleStatus(message string) {
	if p.personality == PersonalityMachine {
		fmt.Fprintf(p.writer, "STATUS: %s\n", message)
		return
	}

	if p.spinner == nil {
		p.spinner = NewSpinner(message)
		p.spinner.Start()
	} else {
		p.spinner.UpdateMessage(message)
	}
}

func (p *sseStreamProcessor) handleData(event StreamEvent) {
	if len(event.Tickers) > 0 {
		p.result.Tickers = event.Tickers
	}
	if p.personality == PersonalityMachine {
		fmt.Fprintf(p.writer, "DATA: tickers=%s\n", strings.Join(event.Tickers, ","))
	}
}

func (p *sseStreamProcessor) handleToken(token string) {
	// Stop spinner when first token arrives
	if p.spinner != nil {
		p.spinner.Stop()
		p.spinner = nil
		if p.personality != PersonalityMachine {
			fmt.Fprintln(p.writer)
		}
	}

	p.answer.WriteString(token)

	if p.personality == PersonalityMachine {
		// In machine mode, buffer until done
		return
	}

	fmt.Fprint(p.writer, token)
}

func (p *sseStreamProcessor) finalize() {
	if p.spinner != nil {
		p.spinner.Stop()
		p.spinner = nil
	}

	if p.personality == PersonalityMachine {
		if p.answer.Len() > 0 {
			fmt.Fprintf(p.writer, "ANSWER: %s\n", p.answer.String())
		}
	} else {
		if p.answer.Len() > 0 && !strings.HasSuffix(p.answer.String(), "\n") {
			fmt.Fprintln(p.writer)
		}
	}
}
