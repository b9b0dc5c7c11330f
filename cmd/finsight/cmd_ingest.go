// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/finsightai/finsight/pkg/ux"
)

func runIngestCommand(cmd *cobra.Command, args []string) {
	path := args[0]

	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}
	if len(content) == 0 {
		log.Fatalf("File %s is empty, nothing to ingest.", path)
	}

	source := ingestSource
	if source == "" {
		source = filepath.Base(path)
	}

	postBody, err := json.Marshal(map[string]string{
		"content":   string(content),
		"source":    source,
		"ticker":    ingestTicker,
		"filing_id": ingestFilingID,
	})
	if err != nil {
		log.Fatalf("Failed to build ingestion request: %v", err)
	}

	baseURL := getOrchestratorBaseURL()
	orchestratorURL := fmt.Sprintf("%s/v1/documents", baseURL)

	err = ux.WithSpinner(fmt.Sprintf("Ingesting %s", source), func() error {
		resp, err := http.Post(orchestratorURL, "application/json", bytes.NewBuffer(postBody))
		if err != nil {
			return fmt.Errorf("failed to connect to orchestrator: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			bodyBytes, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("orchestrator returned %s: %s", resp.Status, string(bodyBytes))
		}

		var result map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
			if chunks, ok := result["chunks"]; ok {
				ux.Muted(fmt.Sprintf("Stored %v chunks.", chunks))
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}

	ux.Success(fmt.Sprintf("Ingested %s into the knowledge base.", source))
}
