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
	"errors"
	"fmt"
	"net/http"
)

// Retrieval stages reported by RetrievalError.
const (
	StageEmbedding   = "embedding"
	StageVectorStore = "vector_store"
)

// ErrStreamTruncated is returned by Stream.Next when the upstream body ends
// before the terminal [DONE] event.
var ErrStreamTruncated = errors.New("completion stream ended without terminal event")

// UserError reports a problem with the caller's input. Maps to 400.
type UserError struct {
	Message string
	Data    map[string]any
}

func (e *UserError) Error() string {
	return e.Message
}

// ApplicationError is a failure inside the pipeline.
//
// # Description
//
// Message is safe to show to clients only when the error maps to 400 (flagged
// content). Every other ApplicationError is reported as a generic 500 and the
// Cause is logged.
type ApplicationError struct {
	Message string
	Data    map[string]any
	Cause   error
}

func (e *ApplicationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ApplicationError) Unwrap() error {
	return e.Cause
}

// RetrievalError reports a failed context lookup. Stage is StageEmbedding or
// StageVectorStore. Retrieval is never retried.
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed at %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// UpstreamError reports a non-2xx answer from the completion service.
// Body is kept for logs only.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion service returned status %d", e.StatusCode)
}

// MalformedEventError terminates a stream whose event payload could not be decoded.
type MalformedEventError struct {
	Data string
	Err  error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed stream event: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// IsUserError reports whether err is, or wraps, a *UserError.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// IsFlagged reports whether err is a moderation rejection.
func IsFlagged(err error) bool {
	var ae *ApplicationError
	if !errors.As(err, &ae) {
		return false
	}
	flagged, _ := ae.Data["flagged"].(bool)
	return flagged
}

// StatusCodeFor maps a pipeline error to the HTTP status returned to clients.
//
// # Outputs
//
//   - 400 for *UserError and flagged *ApplicationError.
//   - 500 for everything else.
func StatusCodeFor(err error) int {
	if IsUserError(err) || IsFlagged(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ClientError returns the message and data that may be shown to a client.
// Collaborator payloads never leave the server.
func ClientError(err error) (string, map[string]any) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message, ue.Data
	}
	if IsFlagged(err) {
		var ae *ApplicationError
		errors.As(err, &ae)
		return ae.Message, ae.Data
	}
	return "There was an error processing your request", nil
}
