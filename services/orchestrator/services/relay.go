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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/docsgpt/services/llm"
	"github.com/AleutianAI/docsgpt/services/orchestrator/datatypes"
)

// doneSentinel is the data payload of the terminal stream event.
const doneSentinel = "[DONE]"

// leadingDeltaWindow is how many counted deltas are subject to newline
// suppression at the start of a stream.
const leadingDeltaWindow = 2

const defaultReadSize = 4096

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("completion stream closed")

// RelayConfig holds generation settings for the completion request.
type RelayConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	// ReadSize is the upstream read buffer size.
	ReadSize int `yaml:"-"`
}

// DefaultRelayConfig returns max_tokens 1024 at temperature 0.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{MaxTokens: 1024, Temperature: 0, ReadSize: defaultReadSize}
}

// Relay opens completion streams for assembled prompts.
type Relay struct {
	streamer llm.CompletionStreamer
	cfg      RelayConfig
}

// NewRelay creates a Relay.
func NewRelay(streamer llm.CompletionStreamer, cfg RelayConfig) *Relay {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultRelayConfig().MaxTokens
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = defaultReadSize
	}
	return &Relay{streamer: streamer, cfg: cfg}
}

// Start issues one streaming completion request for prompt.
//
// # Outputs
//
//   - *Stream: Pull iterator over text deltas. Caller must Close it.
//   - error: *UpstreamError when the service answered non-2xx; no bytes
//     have been produced in that case.
func (r *Relay) Start(ctx context.Context, prompt datatypes.AssembledPrompt) (*Stream, error) {
	temperature := r.cfg.Temperature
	maxTokens := r.cfg.MaxTokens

	body, err := r.streamer.OpenStream(ctx, prompt.Messages, llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		if statusErr, ok := llm.IsAPIStatus(err); ok {
			return nil, &UpstreamError{StatusCode: statusErr.StatusCode, Body: statusErr.Body}
		}
		return nil, fmt.Errorf("open completion stream: %w", err)
	}

	return &Stream{
		ctx:    ctx,
		body:   body,
		decode: r.streamer.DecodeDelta,
		parser: llm.NewEventParser(),
		buf:    make([]byte, r.cfg.ReadSize),
	}, nil
}

// Stream yields the text deltas of one completion.
//
// # Description
//
// Next reads from upstream only when no parsed delta is pending, so a caller
// that stops calling Next stops consuming the upstream body. Deltas are
// returned in the order the events arrived, however the bytes were split
// across reads.
//
// At the start of a stream the completion service tends to emit one or two
// deltas that are nothing but newlines before the answer. While fewer than
// two deltas have been counted, such a delta is dropped and not counted.
// No other content is ever altered.
//
// # Outputs of Next
//
//   - (delta, nil) for each non-empty delta.
//   - ("", io.EOF) once the [DONE] event is seen.
//   - ("", *MalformedEventError) when an event payload cannot be decoded.
//   - ("", ErrStreamTruncated) when the body ends without [DONE].
//   - ("", ctx.Err()) when the request context is cancelled.
//
// Terminal results repeat on later calls.
//
// # Thread Safety
//
// Not safe for concurrent use. Close may be called from any goroutine.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	decode func([]byte) (string, error)
	parser *llm.EventParser
	buf    []byte

	pending []string
	counted int
	emitted int

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// Next returns the next delta.
func (s *Stream) Next() (string, error) {
	for {
		if len(s.pending) > 0 {
			delta := s.pending[0]
			s.pending = s.pending[1:]
			s.emitted++
			return delta, nil
		}
		if err := s.terminal(); err != nil {
			return "", err
		}
		if err := s.ctx.Err(); err != nil {
			s.finish(err)
			continue
		}

		n, readErr := s.body.Read(s.buf)
		if n > 0 {
			for _, ev := range s.parser.Feed(s.buf[:n]) {
				if !s.handle(ev) {
					break
				}
			}
		}
		if readErr != nil && s.terminal() == nil {
			switch {
			case errors.Is(readErr, io.EOF):
				s.finish(ErrStreamTruncated)
			case s.ctx.Err() != nil:
				s.finish(s.ctx.Err())
			default:
				s.finish(fmt.Errorf("read completion stream: %w", readErr))
			}
		}
	}
}

// Emitted returns the number of deltas returned so far.
func (s *Stream) Emitted() int {
	return s.emitted
}

// Close releases the upstream connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.finish(ErrStreamClosed)
	return nil
}

// handle processes one event and reports whether more events may follow.
func (s *Stream) handle(ev llm.Event) bool {
	if ev.Data == doneSentinel {
		s.finish(io.EOF)
		return false
	}

	delta, err := s.decode([]byte(ev.Data))
	if err != nil {
		slog.Warn("Malformed completion event", "error", err)
		s.finish(&MalformedEventError{Data: ev.Data, Err: err})
		return false
	}

	if s.counted < leadingDeltaWindow && isNewlineOnly(delta) {
		return true
	}
	s.counted++
	if delta != "" {
		s.pending = append(s.pending, delta)
	}
	return true
}

func (s *Stream) terminal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// finish records the first terminal error and closes the upstream body.
func (s *Stream) finish(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		if cerr := s.body.Close(); cerr != nil {
			slog.Debug("Closing completion stream body", "error", cerr)
		}
	})
}

func isNewlineOnly(delta string) bool {
	return delta != "" && strings.Trim(delta, "\r\n") == ""
}
