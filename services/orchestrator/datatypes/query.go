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
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxQueryRunes bounds the query length, in characters, accepted by the handler.
const MaxQueryRunes = 4 * 1024

var queryValidate = validator.New()

// QueryRequest is the POST body of the query endpoint.
//
// # Description
//
// Only Query is read from the wire. RequestID and ReceivedAt are assigned
// server side by EnsureDefaults for logging and tracing.
//
// # Validation
//
//   - Query: required, at most MaxQueryRunes characters. Whitespace-only input
//     passes the validator but is rejected by the pipeline after Sanitize.
type QueryRequest struct {
	Query      string `json:"query" validate:"required,max=4096"`
	RequestID  string `json:"-"`
	ReceivedAt int64  `json:"-"`
}

// Validate runs the struct validator over the request.
func (r *QueryRequest) Validate() error {
	return queryValidate.Struct(r)
}

// EnsureDefaults assigns a request ID and receive timestamp if missing.
func (r *QueryRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if r.ReceivedAt == 0 {
		r.ReceivedAt = time.Now().UnixMilli()
	}
}

// Sanitize returns the trimmed query text.
func (r *QueryRequest) Sanitize() string {
	return strings.TrimSpace(r.Query)
}

// EmbeddingInput returns the sanitized query with newlines replaced by
// spaces, which is the form the embedding model expects.
func EmbeddingInput(sanitized string) string {
	return strings.ReplaceAll(sanitized, "\n", " ")
}

// ErrorResponse is the JSON body of every non-streaming error response.
type ErrorResponse struct {
	Error string         `json:"error"`
	Data  map[string]any `json:"data,omitempty"`
}
