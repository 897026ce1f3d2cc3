// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// PageSectionClass is the Weaviate class holding ingested documentation sections.
const PageSectionClass = "PageSection"

// GetPageSectionSchema returns the class definition the ingestion job writes
// into. Vectors are supplied by the ingestion job, so no vectorizer is set.
func GetPageSectionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       PageSectionClass,
		Description: "A heading-delimited section of a documentation page.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The markdown content of the section.",
				Tokenization: "word",
			},
			{
				Name:            "content_length",
				DataType:        []string{"int"},
				Description:     "Length of content in characters, used to skip noise fragments.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "path",
				DataType:        []string{"text"},
				Description:     "Path of the page this section belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "token_count",
				DataType:    []string{"int"},
				Description: "Token count reported by the embedding model at ingest time.",
			},
		},
	}
}

// EnsureWeaviateSchema creates the PageSection class when it does not exist.
//
// # Description
//
// Unlike ingestion, the query path only reads, but an empty class lets the
// server start against a fresh Weaviate instance and answer "no information"
// instead of failing every GraphQL query.
//
// # Outputs
//
//   - error: Non-nil if the class is missing and could not be created.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client) error {
	class := GetPageSectionSchema()
	slog.Info("Checking schema", "class", class.Class)

	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}
