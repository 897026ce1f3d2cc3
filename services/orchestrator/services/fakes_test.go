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
	"strings"
	"sync"

	"github.com/AleutianAI/docsgpt/services/llm"
	"github.com/AleutianAI/docsgpt/services/orchestrator/datatypes"
)

// =============================================================================
// Collaborator fakes
// =============================================================================

type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	inputs []string
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	if f.vector == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return f.vector, nil
}

type fakeStore struct {
	mu       sync.Mutex
	calls    int
	lastOpts datatypes.MatchOptions
	sections []datatypes.ContextSection
	err      error
}

func (f *fakeStore) NearestSections(_ context.Context, _ []float32, opts datatypes.MatchOptions) ([]datatypes.ContextSection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.sections, nil
}

type fakeModerator struct {
	calls  int
	result *llm.ModerationResult
	err    error
}

func (f *fakeModerator) Moderate(_ context.Context, _ string) (*llm.ModerationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &llm.ModerationResult{}, nil
	}
	return f.result, nil
}

// wordCounter counts whitespace separated words.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// chunkedBody returns one chunk per Read, then io.EOF.
type chunkedBody struct {
	mu     sync.Mutex
	chunks [][]byte
	reads  int
	closed bool
}

func newChunkedBody(chunks ...string) *chunkedBody {
	b := &chunkedBody{}
	for _, c := range chunks {
		b.chunks = append(b.chunks, []byte(c))
	}
	return b
}

func splitEvery(s string, size int) []string {
	var out []string
	for i := 0; i < len(s); i += size {
		end := i + size
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[i:end])
	}
	return out
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("read on closed body")
	}
	if len(b.chunks) == 0 {
		return 0, io.EOF
	}
	b.reads++
	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *chunkedBody) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

func (b *chunkedBody) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type fakeStreamer struct {
	mu        sync.Mutex
	calls     int
	messages  []datatypes.Message
	params    llm.GenerationParams
	body      io.ReadCloser
	err       error
	decodeErr bool
}

func (f *fakeStreamer) OpenStream(_ context.Context, messages []datatypes.Message, params llm.GenerationParams) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = messages
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func (f *fakeStreamer) DecodeDelta(data []byte) (string, error) {
	return (&llm.OpenAIClient{}).DecodeDelta(data)
}

func (f *fakeStreamer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// =============================================================================
// SSE helpers
// =============================================================================

func deltaEvent(content string) string {
	return fmt.Sprintf("data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", content)
}

func sseStream(deltas ...string) string {
	var b strings.Builder
	b.WriteString("data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"}}]}\n\n")
	for _, d := range deltas {
		b.WriteString(deltaEvent(d))
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func drain(s interface{ Next() (string, error) }) ([]string, error) {
	var out []string
	for {
		delta, err := s.Next()
		if err != nil {
			return out, err
		}
		out = append(out, delta)
	}
}
