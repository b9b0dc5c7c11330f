// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/finsightai/finsight/pkg/validation"
	"github.com/finsightai/finsight/services/orchestrator/fetchers"
)

var (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10

	// Filings are prose with section headings; markdown-style separators
	// keep items and sub-sections intact before falling back to paragraphs.
	filingSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\nItem ", "\nITEM ",
		"\n\n", "\n", " ", "",
	}
)

// IngestFilingRequest is the body of POST /v1/documents.
type IngestFilingRequest struct {
	Content  string `json:"content"`
	Source   string `json:"source"`
	Ticker   string `json:"ticker"`
	FilingID string `json:"filing_id"`
}

// IngestFiling receives filing text and chunks it into Weaviate. Thin
// wrapper around RunFilingIngestion.
func IngestFiling(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestFilingRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		chunksCreated, err := RunFilingIngestion(c.Request.Context(), client, req)
		if err != nil {
			slog.Error("Filing ingestion failed", "source", req.Source, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Successfully ingested filing",
			"source", req.Source, "ticker", req.Ticker, "chunks_processed", chunksCreated)
		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"source":           req.Source,
			"ticker":           req.Ticker,
			"chunks_processed": chunksCreated,
		})
	}
}

// ListFilings returns the distinct filing_id values in the store.
func ListFilings(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("Received request to list ingested filings")

		agg, err := client.GraphQL().Aggregate().
			WithClassName(fetchers.FinancialDocumentClass).
			WithGroupBy("filing_id").
			Do(context.Background())
		if err != nil {
			slog.Error("Failed to aggregate filings from Weaviate", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query filings"})
			return
		}

		var filings []string
		if aggMap, ok := agg.Data["Aggregate"].(map[string]interface{}); ok {
			if groups, ok := aggMap[fetchers.FinancialDocumentClass].([]interface{}); ok {
				for _, groupItem := range groups {
					groupMap, ok := groupItem.(map[string]interface{})
					if !ok {
						continue
					}
					if groupedBy, ok := groupMap["groupedBy"].(map[string]interface{}); ok {
						if id, ok := groupedBy["value"].(string); ok {
							filings = append(filings, id)
						}
					}
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{"filings": filings})
	}
}

// RunFilingIngestion splits filing text and batch-imports the chunks.
//
// # Description
//
// Chunk ids are derived from the content hash, so re-ingesting the same
// filing overwrites its chunks instead of duplicating them. Vectors are
// produced by the Weaviate vectorizer module on import; the chunks carry
// none.
func RunFilingIngestion(ctx context.Context, client *weaviate.Client,
	req IngestFilingRequest) (int, error) {

	ticker, err := validation.SanitizeTicker(req.Ticker)
	if err != nil {
		return 0, fmt.Errorf("invalid ticker: %w", err)
	}
	slog.Info("Filing ingestion request received", "source", req.Source, "ticker", ticker)

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(filingSeparators),
	)

	chunks, err := splitter.SplitText(req.Content)
	if err != nil {
		slog.Error("Failed to split filing text", "source", req.Source, "error", err)
		return 0, fmt.Errorf("failed to split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "source", req.Source)
		return 0, nil
	}
	slog.Info("Split filing into chunks", "source", req.Source, "chunk_count", len(chunks))

	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		hash := sha256.Sum256([]byte(chunk))
		docUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class: fetchers.FinancialDocumentClass,
			ID:    strfmt.UUID(docUUID.String()),
			Properties: map[string]interface{}{
				"content":     chunk,
				"ticker":      ticker,
				"source":      fmt.Sprintf("%s_part_%d", req.Source, i+1),
				"filing_id":   req.FilingID,
				"ingested_at": time.Now().UnixMilli(),
			},
		}
	}

	resp, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		slog.Error("Failed to perform batch import to Weaviate", "error", err)
		return 0, fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}

	chunksCreated := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			chunksCreated++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item",
					"source", req.Source, "error", errItem.Message)
			}
		} else {
			slog.Warn("Failed Weaviate batch item, no error provided", "source", req.Source)
		}
	}

	if chunksCreated < len(chunks) {
		slog.Warn("Errors encountered during Weaviate batch import",
			"source", req.Source, "successful_chunks", chunksCreated)
	}
	return chunksCreated, nil
}
