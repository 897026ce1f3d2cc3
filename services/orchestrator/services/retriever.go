// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/AleutianAI/docsgpt/services/llm"
	"github.com/AleutianAI/docsgpt/services/orchestrator/datatypes"
	"github.com/AleutianAI/docsgpt/services/orchestrator/vectorstore"
	"go.opentelemetry.io/otel/attribute"
)

// Retriever finds documentation sections relevant to a query.
//
// # Description
//
// Embeds the query with newlines flattened to spaces and asks the section
// store for the nearest sections. The store is trusted for ordering but not
// for filtering: sections below the similarity threshold or shorter than the
// minimum content length are dropped, and the result is capped at MaxCount.
//
// # Thread Safety
//
// Safe for concurrent use.
type Retriever struct {
	embedder llm.Embedder
	store    vectorstore.SectionStore
	opts     datatypes.MatchOptions
}

// NewRetriever creates a Retriever. Zero-valued options fall back to
// datatypes.DefaultMatchOptions.
func NewRetriever(embedder llm.Embedder, store vectorstore.SectionStore, opts datatypes.MatchOptions) *Retriever {
	defaults := datatypes.DefaultMatchOptions()
	if opts.SimilarityThreshold <= 0 || opts.SimilarityThreshold > 1 {
		opts.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if opts.MaxCount <= 0 {
		opts.MaxCount = defaults.MaxCount
	}
	if opts.MinContentLength < 0 {
		opts.MinContentLength = defaults.MinContentLength
	}
	return &Retriever{embedder: embedder, store: store, opts: opts}
}

// Retrieve returns the ranked sections for a sanitized query.
//
// # Outputs
//
//   - []datatypes.ContextSection: Highest similarity first. Empty when nothing
//     clears the threshold.
//   - error: *RetrievalError naming the failed stage.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]datatypes.ContextSection, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()

	vector, err := r.embedder.Embed(ctx, datatypes.EmbeddingInput(query))
	if err != nil {
		span.RecordError(err)
		return nil, &RetrievalError{Stage: StageEmbedding, Err: err}
	}

	found, err := r.store.NearestSections(ctx, vector, r.opts)
	if err != nil {
		span.RecordError(err)
		return nil, &RetrievalError{Stage: StageVectorStore, Err: err}
	}

	sections := make([]datatypes.ContextSection, 0, len(found))
	for _, s := range found {
		if len(sections) == r.opts.MaxCount {
			break
		}
		if s.Similarity <= r.opts.SimilarityThreshold || utf8.RuneCountInString(s.Content) < r.opts.MinContentLength {
			continue
		}
		sections = append(sections, s)
	}

	if dropped := len(found) - len(sections); dropped > 0 {
		slog.Debug("Dropped sections outside match options", "dropped", dropped)
	}
	span.SetAttributes(attribute.Int("retriever.sections", len(sections)))
	return sections, nil
}
