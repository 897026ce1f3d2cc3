// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/docsgpt/services/orchestrator/datatypes"
	"github.com/AleutianAI/docsgpt/services/orchestrator/middleware"
	"github.com/AleutianAI/docsgpt/services/orchestrator/observability"
	"github.com/AleutianAI/docsgpt/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// StreamStatusTrailer is the HTTP trailer that reports how an answer stream
// ended. The body itself is raw answer text, so clients that need to tell a
// finished answer from a cut-off one read this trailer.
const StreamStatusTrailer = "X-Stream-Status"

// Values of StreamStatusTrailer.
const (
	StreamStatusComplete  = "complete"
	StreamStatusTruncated = "truncated"
)

// =============================================================================
// Interface Definition
// =============================================================================

// QueryOpener starts the answer stream for a query.
//
// *services.QueryService is the production implementation.
type QueryOpener interface {
	Open(ctx context.Context, req *datatypes.QueryRequest) (*services.QueryStream, error)
}

// QueryHandler serves the docs question endpoint.
type QueryHandler interface {
	// HandleQuery answers POST with a streamed answer, OPTIONS with "ok"
	// and anything else with 405.
	HandleQuery(c *gin.Context)
}

type queryHandler struct {
	opener QueryOpener
}

// NewQueryHandler creates a QueryHandler. Panics if opener is nil.
func NewQueryHandler(opener QueryOpener) QueryHandler {
	if opener == nil {
		panic("NewQueryHandler: opener must not be nil")
	}
	return &queryHandler{opener: opener}
}

var handlerTracer = otel.Tracer("docsgpt.orchestrator.handlers")

// HandleQuery runs the query pipeline and streams the answer.
//
// # Description
//
// The status line and headers are committed only after the pipeline has
// reached the streaming state, so every pipeline failure still maps to a
// proper error status:
//
//   - 400 with {"error": "missing query"} for empty input
//   - 400 with {"error": "flagged content", "data": {"flagged": true, "categories": {...}}}
//   - 500 with a generic message for everything else
//
// On success each delta is written and flushed as it arrives. The
// X-Stream-Status trailer is "complete" after the terminal event and
// "truncated" after any other end. If the client disconnects, the request
// context is cancelled and the upstream connection is released.
func (h *queryHandler) HandleQuery(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodOptions:
		c.String(http.StatusOK, "ok")
		return
	case http.MethodPost:
	default:
		c.String(http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	startTime := time.Now()
	endpoint := endpointFor(c.FullPath())
	metrics := observability.DefaultMetrics

	ctx, span := handlerTracer.Start(c.Request.Context(), "HandleQuery")
	defer span.End()

	var req datatypes.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Warn("Failed to parse query request", "error", err)
		if metrics != nil {
			metrics.RecordError(endpoint, observability.ErrorCodeValidation)
			metrics.RecordRequest(endpoint, observability.OutcomeRejected)
		}
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}

	req.RequestID = middleware.GetRequestID(c)

	stream, err := h.opener.Open(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		writeQueryError(c, endpoint, err)
		return
	}
	defer stream.Close()

	span.SetAttributes(attribute.String("request.id", stream.RequestID()))
	if metrics != nil {
		metrics.StreamStarted(endpoint)
		defer metrics.StreamEnded(endpoint)
		metrics.RecordContextTokens(endpoint, stream.ContextTokens())
	}

	c.Header("Trailer", StreamStatusTrailer)
	SetStreamHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	deltas, streamErr := h.copyStream(c, stream, startTime, endpoint)

	status := StreamStatusComplete
	outcome := observability.OutcomeCompleted
	if !errors.Is(streamErr, io.EOF) {
		status = StreamStatusTruncated
		outcome = observability.OutcomeTruncated
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "stream ended abnormally")
		recordStreamError(endpoint, streamErr)
		slog.Warn("Answer stream ended abnormally",
			"requestId", stream.RequestID(), "deltas", deltas, "error", streamErr)
	}
	c.Writer.Header().Set(StreamStatusTrailer, status)

	span.SetAttributes(attribute.Int("stream.deltas", deltas))
	if metrics != nil {
		metrics.RecordDeltas(endpoint, deltas)
		metrics.RecordRequest(endpoint, outcome)
		metrics.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), outcome)
	}
}

// copyStream writes deltas to the client until the stream or the client ends.
func (h *queryHandler) copyStream(c *gin.Context, stream *services.QueryStream, startTime time.Time, endpoint observability.Endpoint) (int, error) {
	deltas := 0
	for {
		delta, err := stream.Next()
		if err != nil {
			return deltas, err
		}
		if _, werr := c.Writer.WriteString(delta); werr != nil {
			return deltas, werr
		}
		c.Writer.Flush()

		deltas++
		if deltas == 1 && observability.DefaultMetrics != nil {
			observability.DefaultMetrics.RecordTimeToFirstDelta(endpoint, time.Since(startTime).Seconds())
		}
	}
}

func writeQueryError(c *gin.Context, endpoint observability.Endpoint, err error) {
	status := services.StatusCodeFor(err)
	message, data := services.ClientError(err)

	outcome := observability.OutcomeFailed
	code := observability.ErrorCodeInternal
	var retrieval *services.RetrievalError
	var upstream *services.UpstreamError
	switch {
	case services.IsUserError(err):
		outcome, code = observability.OutcomeRejected, observability.ErrorCodeValidation
	case services.IsFlagged(err):
		outcome, code = observability.OutcomeRejected, observability.ErrorCodeFlagged
	case errors.As(err, &retrieval):
		code = observability.ErrorCodeRetrieval
	case errors.As(err, &upstream):
		code = observability.ErrorCodeUpstream
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
		m.RecordRequest(endpoint, outcome)
	}

	c.JSON(status, datatypes.ErrorResponse{Error: message, Data: data})
}

func recordStreamError(endpoint observability.Endpoint, err error) {
	m := observability.DefaultMetrics
	if m == nil {
		return
	}
	var malformed *services.MalformedEventError
	switch {
	case errors.Is(err, context.Canceled):
		m.RecordClientDisconnect(endpoint)
		m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
	case errors.As(err, &malformed):
		m.RecordError(endpoint, observability.ErrorCodeMalformedEvent)
	case errors.Is(err, services.ErrStreamTruncated):
		m.RecordError(endpoint, observability.ErrorCodeTruncated)
	default:
		m.RecordError(endpoint, observability.ErrorCodeInternal)
	}
}

func endpointFor(path string) observability.Endpoint {
	if path == LegacyQueryPath {
		return observability.EndpointLegacy
	}
	return observability.EndpointQuery
}

// Route paths served by QueryHandler.
const (
	QueryPath       = "/api/query"
	LegacyQueryPath = "/api/celo-gpt"
)

// SetStreamHeaders sets the headers of a streamed answer.
func SetStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
