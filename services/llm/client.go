// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides clients for the model collaborators of the query
// pipeline: embeddings, moderation and streaming chat completions.
package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/AleutianAI/docsgpt/services/orchestrator/datatypes"
)

// GenerationParams tunes one completion request. Nil fields use the
// provider's default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ModerationResult is the typed outcome of a moderation call.
type ModerationResult struct {
	Flagged    bool            `json:"flagged"`
	Categories map[string]bool `json:"categories"`
}

// Moderator classifies text against the provider's content policy.
type Moderator interface {
	Moderate(ctx context.Context, text string) (*ModerationResult, error)
}

// CompletionStreamer opens a server-sent-event completion stream.
//
// # Description
//
// OpenStream returns the raw SSE body once the upstream has answered with a
// 2xx status. Framing is left to the caller so parsing state can be owned by
// a single stream. DecodeDelta extracts the text delta from one event's data
// payload.
//
// # Outputs
//
//   - io.ReadCloser: SSE body. Caller must Close it.
//   - error: *APIStatusError for non-2xx responses, transport errors otherwise.
type CompletionStreamer interface {
	OpenStream(ctx context.Context, messages []datatypes.Message, params GenerationParams) (io.ReadCloser, error)
	DecodeDelta(data []byte) (string, error)
}

// APIStatusError reports a non-success HTTP status from a model provider.
type APIStatusError struct {
	StatusCode int
	Body       string
}

func (e *APIStatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}
