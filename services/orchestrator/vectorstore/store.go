// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorstore looks up documentation sections by embedding similarity.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/AleutianAI/docsgpt/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("docsgpt.orchestrator.vectorstore")

// SectionStore returns the sections nearest to a query vector.
//
// # Outputs
//
//   - []datatypes.ContextSection: Sections with similarity above the
//     threshold, highest similarity first, at most opts.MaxCount.
//   - error: Non-nil if the store could not be queried.
type SectionStore interface {
	NearestSections(ctx context.Context, vector []float32, opts datatypes.MatchOptions) ([]datatypes.ContextSection, error)
}

// WeaviateSectionStore implements SectionStore over the PageSection class.
type WeaviateSectionStore struct {
	client    *weaviate.Client
	className string
}

var _ SectionStore = (*WeaviateSectionStore)(nil)

// NewWeaviateSectionStore wraps an existing Weaviate client.
func NewWeaviateSectionStore(client *weaviate.Client) *WeaviateSectionStore {
	return &WeaviateSectionStore{client: client, className: datatypes.PageSectionClass}
}

// NewWeaviateClient builds a client from a URL such as "http://weaviate:8080".
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	rawURL = strings.Trim(rawURL, "\"' ")
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", rawURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// NearestSections runs a nearVector query against PageSection.
//
// # Description
//
// Similarity is cosine similarity, so the threshold is sent to Weaviate as a
// maximum cosine distance of 1 - threshold. Sections shorter than
// opts.MinContentLength are filtered server-side on content_length.
//
// # Limitations
//
//   - Weaviate must be configured with the cosine distance metric.
func (s *WeaviateSectionStore) NearestSections(ctx context.Context, vector []float32, opts datatypes.MatchOptions) ([]datatypes.ContextSection, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSectionStore.NearestSections")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("match.threshold", opts.SimilarityThreshold),
		attribute.Int("match.count", opts.MaxCount),
	)

	lengthFilter := filters.Where().
		WithPath([]string{"content_length"}).
		WithOperator(filters.GreaterThanEqual).
		WithValueInt(int64(opts.MinContentLength))

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithDistance(float32(1 - opts.SimilarityThreshold))

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "content_length"},
		{Name: "path"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithWhere(lengthFilter).
		WithNearVector(nearVector).
		WithLimit(opts.MaxCount).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("Failed to search page sections", "error", err)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PageSectionQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	sections := parsed.ToContextSections()
	span.SetAttributes(attribute.Int("match.returned", len(sections)))
	slog.Debug("Found page sections", "count", len(sections))
	return sections, nil
}
