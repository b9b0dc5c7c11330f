// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/finsightai/finsight/pkg/ux"
)

// sessionSummary mirrors one row of the orchestrator's session listing.
type sessionSummary struct {
	SessionID  string    `json:"session_id"`
	Turns      int       `json:"turns"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Busy       bool      `json:"busy"`
}

// historyTurn mirrors one committed turn of a session's history.
type historyTurn struct {
	UserMessage string    `json:"user_message"`
	Answer      string    `json:"answer"`
	CompletedAt time.Time `json:"completed_at"`
}

func runListSessions(cmd *cobra.Command, args []string) {
	baseURL := getOrchestratorBaseURL()
	orchestratorURL := fmt.Sprintf("%s/v1/sessions", baseURL)

	resp, err := http.Get(orchestratorURL)
	if err != nil {
		log.Fatalf("Failed to connect to orchestrator: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Orchestrator returned an error: %s", resp.Status)
	}

	var result struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Fatalf("Failed to parse response from orchestrator: %v", err)
	}

	if len(result.Sessions) == 0 {
		fmt.Println("No active sessions found.")
		return
	}

	ux.Title("Active Sessions")
	for _, s := range result.Sessions {
		state := ""
		if s.Busy {
			state = " (turn in progress)"
		}
		fmt.Printf("ID: %s\nTurns: %d  Last active: %s%s\n\n",
			s.SessionID, s.Turns, s.LastActive.Format(time.RFC3339), state)
	}
}

func runSessionHistory(cmd *cobra.Command, args []string) {
	baseURL := getOrchestratorBaseURL()
	sessionID := args[0]
	orchestratorURL := fmt.Sprintf("%s/v1/sessions/%s/history", baseURL, sessionID)

	resp, err := http.Get(orchestratorURL)
	if err != nil {
		log.Fatalf("Failed to connect to orchestrator: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.Fatalf("Session %s not found.", sessionID)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Orchestrator returned an error: %s", resp.Status)
	}

	var result struct {
		SessionID string        `json:"session_id"`
		CreatedAt time.Time     `json:"created_at"`
		History   []historyTurn `json:"history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Fatalf("Failed to parse response from orchestrator: %v", err)
	}

	ux.Title(fmt.Sprintf("Session %s", result.SessionID))
	ux.Muted(fmt.Sprintf("Started %s, %d turns", result.CreatedAt.Format(time.RFC3339), len(result.History)))
	for i, turn := range result.History {
		fmt.Printf("\n[%d] you: %s\n", i+1, turn.UserMessage)
		fmt.Printf("    finsight: %s\n", turn.Answer)
	}
}

func runDeleteSession(cmd *cobra.Command, args []string) {
	baseURL := getOrchestratorBaseURL()
	sessionID := args[0]
	orchestratorURL := fmt.Sprintf("%s/v1/sessions/%s", baseURL, sessionID)

	req, err := http.NewRequest(http.MethodDelete, orchestratorURL, nil)
	if err != nil {
		log.Fatalf("Failed to create the delete request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Failed to send delete request to orchestrator: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		ux.Success(fmt.Sprintf("Session %s deleted.", sessionID))
	case http.StatusNotFound:
		log.Fatalf("Session %s not found.", sessionID)
	case http.StatusConflict:
		log.Fatalf("Session %s has a turn in progress. Try again once it finishes.", sessionID)
	default:
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Fatalf("Orchestrator returned an error: (Status %d) %s", resp.StatusCode, string(bodyBytes))
	}
}
