// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel/attribute"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

const (
	// FinancialDocumentClass is the Weaviate class holding filing chunks.
	FinancialDocumentClass = "FinancialDocument"

	// documentsTopK bounds the passages handed to synthesis.
	documentsTopK = 4

	// minCertainty drops passages too weakly related to the query. Below
	// this the branch reports empty rather than padding the prompt.
	minCertainty = 0.62
)

// WeaviateDocumentsFetcher retrieves filing passages by semantic similarity.
type WeaviateDocumentsFetcher struct {
	client *weaviate.Client
}

// NewWeaviateDocumentsFetcher builds the documents branch backend.
func NewWeaviateDocumentsFetcher(client *weaviate.Client) *WeaviateDocumentsFetcher {
	return &WeaviateDocumentsFetcher{client: client}
}

// documentsResult matches the GraphQL Get response shape for the class.
type documentsResult struct {
	Get struct {
		FinancialDocument []struct {
			Content    string `json:"content"`
			Ticker     string `json:"ticker"`
			Source     string `json:"source"`
			FilingID   string `json:"filing_id"`
			Additional struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"FinancialDocument"`
	} `json:"Get"`
}

// FetchDocuments runs nearText retrieval over the filing store.
//
// # Description
//
// When tickers are known the query is first scoped to them; a scoped query
// with no hits falls back to an unfiltered search so an instrument missing
// from the store still gets topical passages. Results under the certainty
// floor are dropped, making an empty slice a legitimate outcome.
func (w *WeaviateDocumentsFetcher) FetchDocuments(ctx context.Context, query string,
	tickers []string) ([]datatypes.DocumentPassage, error) {

	ctx, span := tracer.Start(ctx, "WeaviateDocumentsFetcher.FetchDocuments")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("tickers", tickers))

	if len(tickers) > 0 {
		passages, err := w.query(ctx, query, tickers)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if len(passages) > 0 {
			return passages, nil
		}
		slog.Debug("No ticker-scoped passages, retrying unfiltered", "tickers", tickers)
	}

	passages, err := w.query(ctx, query, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("documents.results", len(passages)))
	return passages, nil
}

func (w *WeaviateDocumentsFetcher) query(ctx context.Context, query string,
	tickers []string) ([]datatypes.DocumentPassage, error) {

	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "ticker"},
		{Name: "source"},
		{Name: "filing_id"},
		{Name: "_additional { certainty }"},
	}

	builder := w.client.GraphQL().Get().
		WithClassName(FinancialDocumentClass).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(documentsTopK * 2)

	if len(tickers) > 0 {
		operands := make([]*filters.WhereBuilder, 0, len(tickers))
		for _, ticker := range tickers {
			operands = append(operands, filters.Where().
				WithPath([]string{"ticker"}).
				WithOperator(filters.Equal).
				WithValueString(ticker))
		}
		where := operands[0]
		if len(operands) > 1 {
			where = filters.Where().
				WithOperator(filters.Or).
				WithOperands(operands)
		}
		builder = builder.WithWhere(where)
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("document search error: %s", result.Errors[0].Message)
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal document response: %w", err)
	}
	var parsed documentsResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse document response: %w", err)
	}

	passages := make([]datatypes.DocumentPassage, 0, documentsTopK)
	for _, doc := range parsed.Get.FinancialDocument {
		if doc.Additional.Certainty < minCertainty {
			continue
		}
		passages = append(passages, datatypes.DocumentPassage{
			Content:   doc.Content,
			Ticker:    doc.Ticker,
			Source:    doc.Source,
			FilingID:  doc.FilingID,
			Certainty: doc.Additional.Certainty,
		})
		if len(passages) == documentsTopK {
			break
		}
	}
	return passages, nil
}
