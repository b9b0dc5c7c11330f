// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/finsightai/finsight/pkg/logging"
	"github.com/finsightai/finsight/pkg/ux"
)

// --- Global Command Variables ---
var (
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	verifyChain      bool
	ingestTicker     string
	ingestSource     string
	ingestFilingID   string

	rootCmd = &cobra.Command{
		Use:   "finsight",
		Short: "A cli to talk to the FinSight financial research assistant",
		Long: `FinSight is a conversational research assistant for equities.
				Ask about a company and it pulls filings, news, and market data,
				then streams back a sourced answer.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Diagnostics go to stderr (and FINSIGHT_LOG_DIR when set) so
			// stdout stays clean for answers.
			logging.SetDefault(logging.New(logging.ConfigFromEnv("cli")))

			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Chat / Ask ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive chat session with the assistant",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Asks a single question and prints the streamed answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_chat.go
	}

	// --- Sessions ---
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}
	listSessionsCmd = &cobra.Command{
		Use:   "list",
		Short: "List all conversation sessions",
		Run:   runListSessions, // Defined in cmd_sessions.go
	}
	sessionHistoryCmd = &cobra.Command{
		Use:   "history [session_id]",
		Short: "Show the committed turns of a session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionHistory, // Defined in cmd_sessions.go
	}
	deleteSessionCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a specific conversation session",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteSession, // Defined in cmd_sessions.go
	}

	// --- Documents ---
	ingestCmd = &cobra.Command{
		Use:   "ingest [file path]",
		Short: "Ingest a filing or document into the knowledge base",
		Args:  cobra.ExactArgs(1),
		Run:   runIngestCommand, // Defined in cmd_ingest.go
	}
)

// init runs when the Go program starts
func init() {
	// Global UX personality flag
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")

	// chat commands
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("resume", "", "Resume a conversation using a specific session ID.")
	chatCmd.Flags().BoolVar(&verifyChain, "verify", true,
		"Verify the event hash chain of every streamed turn")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().String("session", "", "Attach the question to an existing session ID.")
	askCmd.Flags().BoolVar(&verifyChain, "verify", true,
		"Verify the event hash chain of the streamed turn")

	// session commands
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(listSessionsCmd)
	sessionCmd.AddCommand(sessionHistoryCmd)
	sessionCmd.AddCommand(deleteSessionCmd)

	// document commands
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestTicker, "ticker", "", "Ticker symbol the document covers")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "Source label (defaults to the file name)")
	ingestCmd.Flags().StringVar(&ingestFilingID, "filing-id", "", "Filing identifier (e.g., accession number)")
}
