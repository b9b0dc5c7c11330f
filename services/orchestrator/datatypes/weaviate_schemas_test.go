// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFinancialDocumentSchema_ReturnsValidClass(t *testing.T) {
	schema := GetFinancialDocumentSchema()

	require.NotNil(t, schema)
	assert.Equal(t, "FinancialDocument", schema.Class)
	assert.Equal(t, "text2vec-transformers", schema.Vectorizer)
	assert.NotEmpty(t, schema.Description)
}

func TestGetFinancialDocumentSchema_HasRequiredProperties(t *testing.T) {
	schema := GetFinancialDocumentSchema()

	expectedProperties := []string{
		"content",
		"ticker",
		"source",
		"filing_id",
		"ingested_at",
	}

	propertyNames := make(map[string]bool, len(schema.Properties))
	for _, prop := range schema.Properties {
		propertyNames[prop.Name] = true
	}

	for _, expected := range expectedProperties {
		assert.True(t, propertyNames[expected], "missing property %q", expected)
	}
	assert.Len(t, schema.Properties, len(expectedProperties))
}

func TestGetFinancialDocumentSchema_FilterFieldsAreFilterable(t *testing.T) {
	schema := GetFinancialDocumentSchema()

	// The documents fetcher builds where-filters on these fields.
	filterable := map[string]bool{
		"ticker":    true,
		"filing_id": true,
	}

	for _, prop := range schema.Properties {
		if !filterable[prop.Name] {
			continue
		}
		require.NotNil(t, prop.IndexFilterable, "property %q must set IndexFilterable", prop.Name)
		assert.True(t, *prop.IndexFilterable, "property %q must be filterable", prop.Name)
	}
}

func TestGetFinancialDocumentSchema_PropertyDataTypes(t *testing.T) {
	schema := GetFinancialDocumentSchema()

	expectedTypes := map[string]string{
		"content":     "text",
		"ticker":      "text",
		"source":      "text",
		"filing_id":   "text",
		"ingested_at": "number",
	}

	for _, prop := range schema.Properties {
		expected, ok := expectedTypes[prop.Name]
		require.True(t, ok, "unexpected property %q", prop.Name)
		require.Len(t, prop.DataType, 1, "property %q", prop.Name)
		assert.Equal(t, expected, prop.DataType[0], "property %q", prop.Name)
	}
}

func TestGetFinancialDocumentSchema_PropertiesHaveDescriptions(t *testing.T) {
	schema := GetFinancialDocumentSchema()

	for _, prop := range schema.Properties {
		assert.NotEmpty(t, prop.Description, "property %q needs a description", prop.Name)
	}
}
