// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the FinSight CLI chat runner.
//
// The chat loop speaks to the orchestrator's streaming turn endpoint:
//
//	cmd_chat.go → ChatRunner interface → TurnChatRunner
//	                                     ↓
//	                                     POST /v1/turns/stream (SSE)
//	                                     InputReader (stdin abstraction)
//	                                     ux.StreamProcessor / ux.ChainVerifier
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finsightai/finsight/pkg/ux"
)

// =============================================================================
// ChatRunner Interface
// =============================================================================

// ChatRunner defines the contract for running interactive chat sessions.
//
// # Description
//
// ChatRunner abstracts the chat loop so tests can drive it with scripted
// input. Run blocks until the user exits, the input source is exhausted,
// or the context is cancelled. Callers MUST call Close() when done,
// typically via defer.
//
// # Outputs
//
// Run returns nil on normal exit (user types "exit" or "quit", or piped
// input ends). Context cancellation returns context.Canceled. A failed
// turn is reported to the user and the loop continues; only unrecoverable
// errors propagate.
type ChatRunner interface {
	Run(ctx context.Context) error
	Close() error
}

// =============================================================================
// InputReader
// =============================================================================

// InputReader abstracts user input reading for testability.
//
// ReadLine returns the next line with surrounding whitespace trimmed, or
// io.EOF when input is exhausted.
type InputReader interface {
	ReadLine() (string, error)
}

// StdinReader implements InputReader over os.Stdin.
//
// Not thread-safe. Single reader per stdin.
type StdinReader struct {
	reader *bufio.Reader
}

func NewStdinReader() *StdinReader {
	return &StdinReader{reader: bufio.NewReader(os.Stdin)}
}

func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// MockInputReader implements InputReader with predetermined inputs for tests.
type MockInputReader struct {
	inputs []string
	index  int
}

func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return strings.TrimSpace(line), nil
}

// isExitCommand checks if the input ends the chat session.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}

// =============================================================================
// TurnChatRunner
// =============================================================================

// TurnChatRunnerConfig configures a TurnChatRunner.
//
// Zero-value fields get production defaults: os.Stdin input, os.Stdout
// output, and an http.Client without a timeout (turns stream for an
// unbounded time; cancellation comes from the context).
type TurnChatRunnerConfig struct {
	BaseURL     string
	SessionID   string // resume an existing session, empty starts fresh
	VerifyChain bool
	Input       InputReader
	Output      io.Writer
	Client      *http.Client
}

// TurnChatRunner implements ChatRunner against the orchestrator's
// streaming turn endpoint. It carries the session ID announced by the
// first turn into every subsequent turn, so the server-side history
// accumulates across the whole conversation.
type TurnChatRunner struct {
	baseURL     string
	sessionID   string
	verifyChain bool
	input       InputReader
	output      io.Writer
	client      *http.Client
	verifier    ux.ChainVerifier
}

var _ ChatRunner = (*TurnChatRunner)(nil)

func NewTurnChatRunner(config TurnChatRunnerConfig) *TurnChatRunner {
	if config.Input == nil {
		config.Input = NewStdinReader()
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Client == nil {
		config.Client = &http.Client{}
	}
	return &TurnChatRunner{
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		sessionID:   config.SessionID,
		verifyChain: config.VerifyChain,
		input:       config.Input,
		output:      config.Output,
		client:      config.Client,
		verifier:    ux.NewChainVerifier(),
	}
}

// SessionID returns the session the runner is currently attached to.
// Empty until the first turn completes.
func (r *TurnChatRunner) SessionID() string {
	return r.sessionID
}

// Run executes the interactive chat loop.
func (r *TurnChatRunner) Run(ctx context.Context) error {
	ux.Title("FinSight")
	if r.sessionID != "" {
		ux.Muted(fmt.Sprintf("Resuming session %s", r.sessionID))
	}
	ux.Muted(`Type "exit" or "quit" to leave.`)

	for {
		// Check for context cancellation before blocking on input
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fmt.Fprint(r.output, r.prompt())
		input, err := r.input.ReadLine()
		if err != nil {
			if err == io.EOF {
				// Input exhausted (e.g., piped input ended)
				r.printSessionEnd()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if input == "" {
			continue
		}
		if isExitCommand(input) {
			r.printSessionEnd()
			return nil
		}

		if err := r.RunTurn(ctx, input); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Non-fatal: the session survives a failed turn
			ux.Error(err.Error())
		}
	}
}

// RunTurn sends one message and streams the answer to the output.
//
// # Description
//
// Posts the message to /v1/turns/stream and renders the event stream as
// it arrives. On success the runner adopts the session ID from the done
// event, so the next turn continues the same conversation. When chain
// verification is enabled the full event sequence is checked after the
// stream ends; a broken chain is reported as a warning, not an error,
// because the answer was already shown.
func (r *TurnChatRunner) RunTurn(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]any{
		"request_id": uuid.NewString(),
		"session_id": r.sessionID,
		"message":    message,
		"timestamp":  time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal turn request: %w", err)
	}

	url := r.baseURL + "/v1/turns/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("orchestrator returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	processor := ux.NewStreamProcessorWithWriter(r.output, ux.GetPersonality().Level)
	result, err := processor.Process(resp.Body)
	if err != nil {
		return err
	}

	if result.SessionID != "" {
		r.sessionID = result.SessionID
	}
	if r.verifyChain {
		r.reportChain(result)
	}
	return nil
}

// reportChain verifies the hash chain of a finished turn and warns on
// any break. Verification failure means the stream was tampered with or
// corrupted in transit, not that the turn failed.
func (r *TurnChatRunner) reportChain(result *ux.StreamResult) {
	check := r.verifier.Verify(result.Events)
	if check.Valid {
		return
	}
	slog.Warn("event chain verification failed",
		"sessionId", result.SessionID,
		"brokenAt", check.BrokenAt,
		"reason", check.Reason,
	)
	ux.Warning(fmt.Sprintf("event chain verification failed: %s", check.Reason))
}

func (r *TurnChatRunner) prompt() string {
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		return ""
	}
	return ux.Styles.Bold.Render("you> ")
}

func (r *TurnChatRunner) printSessionEnd() {
	if r.sessionID == "" {
		return
	}
	ux.Muted(fmt.Sprintf("Session %s saved. Resume with: finsight chat --resume %s", r.sessionID, r.sessionID))
}

func (r *TurnChatRunner) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
