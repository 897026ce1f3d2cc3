// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services implements the query pipeline: retrieval, prompt
// assembly and the completion relay, tied together by QueryService.
package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/AleutianAI/docsgpt/services/llm"
	"github.com/AleutianAI/docsgpt/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("docsgpt.orchestrator.services")

// PipelineState is a step of the query pipeline.
type PipelineState string

const (
	StateReceived  PipelineState = "received"
	StateValidated PipelineState = "validated"
	StateModerated PipelineState = "moderated"
	StateRetrieved PipelineState = "retrieved"
	StateAssembled PipelineState = "assembled"
	StateStreaming PipelineState = "streaming"
	StateCompleted PipelineState = "completed"
	StateFailed    PipelineState = "failed"
)

// QueryService runs one query from raw text to an answer stream.
//
// # Description
//
// Open moves a request through received, validated, moderated, retrieved,
// assembled and streaming. Every step is logged with the request id and
// recorded as an event on the request span. A failure at any step ends the
// pipeline in failed and no later collaborator is called.
//
// # Thread Safety
//
// Safe for concurrent use. Each request gets its own QueryStream.
type QueryService struct {
	moderator llm.Moderator
	retriever *Retriever
	assembler *Assembler
	relay     *Relay
}

// NewQueryService wires the pipeline. A nil moderator skips moderation.
func NewQueryService(moderator llm.Moderator, retriever *Retriever, assembler *Assembler, relay *Relay) *QueryService {
	return &QueryService{
		moderator: moderator,
		retriever: retriever,
		assembler: assembler,
		relay:     relay,
	}
}

// Open validates, moderates, retrieves and assembles, then starts the relay.
//
// # Outputs
//
//   - *QueryStream: Answer stream in the streaming state. Caller must Close it.
//   - error: *UserError for bad input, *ApplicationError for everything else.
func (q *QueryService) Open(ctx context.Context, req *datatypes.QueryRequest) (*QueryStream, error) {
	req.EnsureDefaults()
	ctx, span := tracer.Start(ctx, "QueryService.Open",
		trace.WithAttributes(attribute.String("request.id", req.RequestID)))

	p := &pipeline{requestID: req.RequestID, span: span}
	p.transition(StateReceived)

	stream, err := q.run(ctx, p, req)
	if err != nil {
		p.fail(err)
		span.End()
		return nil, err
	}

	p.transition(StateStreaming)
	return &QueryStream{stream: stream, pipeline: p}, nil
}

func (q *QueryService) run(ctx context.Context, p *pipeline, req *datatypes.QueryRequest) (*Stream, error) {
	query := req.Sanitize()
	if query == "" {
		return nil, &UserError{Message: "missing query"}
	}
	if err := req.Validate(); err != nil {
		return nil, &UserError{Message: "query too long", Data: map[string]any{"maxRunes": datatypes.MaxQueryRunes}}
	}
	p.transition(StateValidated)

	if q.moderator != nil {
		result, err := q.moderator.Moderate(ctx, query)
		if err != nil {
			return nil, &ApplicationError{Message: "failed to moderate query", Cause: err}
		}
		if result.Flagged {
			return nil, &ApplicationError{
				Message: "flagged content",
				Data:    map[string]any{"flagged": true, "categories": result.Categories},
			}
		}
	}
	p.transition(StateModerated)

	sections, err := q.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, &ApplicationError{Message: "failed to match page sections", Cause: err}
	}
	p.transition(StateRetrieved, attribute.Int("sections", len(sections)))

	prompt := q.assembler.Assemble(query, sections)
	p.contextTokens = prompt.ContextTokens
	p.transition(StateAssembled,
		attribute.Int("includedSections", prompt.IncludedSections),
		attribute.Int("contextTokens", prompt.ContextTokens))

	stream, err := q.relay.Start(ctx, prompt)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			slog.Error("Completion service rejected request",
				"requestId", p.requestID, "status", upstream.StatusCode, "body", upstream.Body)
		}
		return nil, &ApplicationError{Message: "failed to generate completion", Cause: err}
	}
	return stream, nil
}

// pipeline tracks the state of one request.
type pipeline struct {
	requestID     string
	span          trace.Span
	contextTokens int

	mu    sync.Mutex
	state PipelineState
}

func (p *pipeline) transition(state PipelineState, attrs ...attribute.KeyValue) {
	p.mu.Lock()
	from := p.state
	p.state = state
	p.mu.Unlock()

	args := []any{"requestId", p.requestID, "from", string(from), "state", string(state)}
	for _, a := range attrs {
		args = append(args, string(a.Key), a.Value.Emit())
	}
	slog.Info("Query pipeline transition", args...)
	p.span.AddEvent(string(state), trace.WithAttributes(attrs...))
}

func (p *pipeline) fail(err error) {
	p.transition(StateFailed)
	p.span.RecordError(err)
	p.span.SetStatus(codes.Error, err.Error())
	if IsUserError(err) || IsFlagged(err) {
		slog.Warn("Query rejected", "requestId", p.requestID, "error", err)
		return
	}
	slog.Error("Query failed", "requestId", p.requestID, "error", err)
}

func (p *pipeline) current() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// QueryStream is an answer stream bound to its pipeline.
//
// It moves the pipeline to completed on io.EOF and to failed on any other
// error. Close ends the request span.
type QueryStream struct {
	stream   *Stream
	pipeline *pipeline
	once     sync.Once
}

// RequestID returns the id of the request this stream answers.
func (s *QueryStream) RequestID() string {
	return s.pipeline.requestID
}

// ContextTokens returns the number of context tokens in the prompt.
func (s *QueryStream) ContextTokens() int {
	return s.pipeline.contextTokens
}

// State returns the current pipeline state.
func (s *QueryStream) State() PipelineState {
	return s.pipeline.current()
}

// Next returns the next answer delta. See Stream.Next.
func (s *QueryStream) Next() (string, error) {
	delta, err := s.stream.Next()
	if err == nil {
		return delta, nil
	}
	if s.pipeline.current() == StateStreaming {
		if errors.Is(err, io.EOF) {
			s.pipeline.span.SetAttributes(attribute.Int("deltas", s.stream.Emitted()))
			s.pipeline.transition(StateCompleted)
		} else {
			s.pipeline.fail(err)
		}
	}
	return "", err
}

// Close releases the upstream stream and ends the request span.
func (s *QueryStream) Close() error {
	err := s.stream.Close()
	s.once.Do(func() {
		if s.pipeline.current() == StateStreaming {
			s.pipeline.fail(ErrStreamClosed)
		}
		s.pipeline.span.End()
	})
	return err
}
