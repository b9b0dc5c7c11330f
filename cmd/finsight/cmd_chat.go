// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func runChatCommand(cmd *cobra.Command, args []string) {
	resumeID, _ := cmd.Flags().GetString("resume")

	runner := NewTurnChatRunner(TurnChatRunnerConfig{
		BaseURL:     getOrchestratorBaseURL(),
		SessionID:   resumeID,
		VerifyChain: verifyChain,
	})
	defer runner.Close()

	// Set up graceful shutdown with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Chat error: %v", err)
	}
}

func runAskCommand(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")
	question := strings.Join(args, " ")

	runner := NewTurnChatRunner(TurnChatRunnerConfig{
		BaseURL:     getOrchestratorBaseURL(),
		SessionID:   sessionID,
		VerifyChain: verifyChain,
	})
	defer runner.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := runner.RunTurn(ctx, question); err != nil && err != context.Canceled {
		log.Fatalf("Ask error: %v", err)
	}
}
