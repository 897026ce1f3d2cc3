// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultThrottle is how often accumulated text is flushed to the buffer.
const DefaultThrottle = 100 * time.Millisecond

// StreamStatusTrailer is the trailer the query endpoint sets after the body.
const StreamStatusTrailer = "X-Stream-Status"

const (
	readChunkSize    = 4096
	maxErrorBodySize = 64 * 1024
)

var (
	// ErrBufferClosed is returned by Start after Close.
	ErrBufferClosed = errors.New("text buffer closed")

	// ErrAlreadyStarted is returned by Start while a generation is running.
	ErrAlreadyStarted = errors.New("text buffer already streaming")
)

// HTTPStatusError is a non-2xx answer from the query endpoint.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// TextBufferConfig describes the request a TextBuffer streams.
type TextBufferConfig struct {
	URL    string
	Method string // defaults to POST
	// Payload is sent as the JSON request body.
	Payload  any
	Throttle time.Duration
}

// TextBuffer consumes one streamed answer into an append-only list of chunks.
//
// # Description
//
// Each Start or Refresh runs one generation: a goroutine that reads the
// response body, accumulates text and appends it to the buffer as a single
// chunk every Throttle interval, and once more at end of stream. Appends
// from a generation that has been cancelled or replaced are discarded, so
// the buffer only ever holds text from the current request.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
//
// # Limitations
//
//   - Chunks never split a UTF-8 sequence; a partial rune waits for the
//     next read.
type TextBuffer struct {
	client *http.Client
	cfg    TextBufferConfig

	// refreshMu serializes Refresh so two calls cannot both start a generation.
	refreshMu sync.Mutex

	mu        sync.Mutex
	chunks    []string
	active    uint64 // id of the generation allowed to write, 0 when none
	nextID    uint64
	cur       *generation
	done      bool
	doneCh    chan struct{}
	err       error
	truncated bool
	closed    bool
	parent    context.Context

	updates chan struct{}
}

type generation struct {
	id      uint64
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewTextBuffer creates an idle TextBuffer. A nil client uses http.DefaultClient.
func NewTextBuffer(client *http.Client, cfg TextBufferConfig) *TextBuffer {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	doneCh := make(chan struct{})
	close(doneCh)
	return &TextBuffer{
		client:  client,
		cfg:     cfg,
		done:    true,
		doneCh:  doneCh,
		updates: make(chan struct{}, 1),
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start issues the request and begins streaming into the buffer.
//
// ctx bounds every generation, including ones started by Refresh.
func (b *TextBuffer) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBufferClosed
	}
	if !b.done {
		return ErrAlreadyStarted
	}
	b.parent = ctx
	b.startLocked()
	return nil
}

func (b *TextBuffer) startLocked() {
	b.nextID++
	ctx, cancel := context.WithCancel(b.parent)
	gen := &generation{id: b.nextID, cancel: cancel, stopped: make(chan struct{})}

	b.cur = gen
	b.active = gen.id
	b.done = false
	b.doneCh = make(chan struct{})
	b.err = nil
	b.truncated = false

	go b.run(ctx, gen)
}

// Cancel stops the current generation. The buffer keeps what was flushed
// before the call and receives nothing afterwards.
func (b *TextBuffer) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur != nil {
		b.cur.cancel()
	}
	b.active = 0
	b.finishLocked(nil, false)
}

// Refresh cancels the current generation, waits for it to exit, clears the
// buffer and streams the same request again.
func (b *TextBuffer) Refresh() error {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBufferClosed
	}
	if b.parent == nil {
		return errors.New("text buffer not started")
	}
	// Start may slip in while the lock is released; stop whatever is current.
	for b.cur != nil {
		old := b.cur
		old.cancel()
		b.active = 0
		b.mu.Unlock()
		<-old.stopped
		b.mu.Lock()
		if b.closed {
			return ErrBufferClosed
		}
		if b.cur == old {
			break
		}
	}
	b.chunks = nil
	b.finishLocked(nil, false)
	b.startLocked()
	b.notify()
	return nil
}

// Close cancels any running generation and waits for it to exit. The buffer
// contents stay readable. Safe to call more than once.
func (b *TextBuffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	cur := b.cur
	if cur != nil {
		cur.cancel()
	}
	b.active = 0
	b.finishLocked(nil, false)
	b.mu.Unlock()

	if cur != nil {
		<-cur.stopped
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Buffer returns a copy of the flushed chunks.
func (b *TextBuffer) Buffer() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Text returns the flushed chunks joined.
func (b *TextBuffer) Text() string {
	return strings.Join(b.Buffer(), "")
}

// Done reports whether the current generation has ended.
func (b *TextBuffer) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Wait returns a channel closed when the current generation ends.
func (b *TextBuffer) Wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doneCh
}

// Err returns the error that ended the current generation, if any.
// Cancellation is not an error.
func (b *TextBuffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Truncated reports whether the stream ended without a "complete" status.
func (b *TextBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Updates signals after every flush and when a generation ends. Signals
// coalesce; readers should re-read the buffer on each receive.
func (b *TextBuffer) Updates() <-chan struct{} {
	return b.updates
}

// =============================================================================
// Generation loop
// =============================================================================

func (b *TextBuffer) run(ctx context.Context, gen *generation) {
	defer close(gen.stopped)
	defer gen.cancel()

	resp, err := b.send(ctx)
	if err != nil {
		b.finish(ctx, gen.id, err, false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b.finish(ctx, gen.id, statusError(resp), false)
		return
	}

	reads := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(reads)
		buf := make([]byte, readChunkSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				piece := make([]byte, n)
				copy(piece, buf[:n])
				select {
				case reads <- piece:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(b.cfg.Throttle)
	defer ticker.Stop()

	var pending []byte
	for {
		select {
		case <-ctx.Done():
			// Close the body so the reader goroutine unblocks.
			resp.Body.Close()
			b.finish(ctx, gen.id, nil, false)
			return

		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			var ready []byte
			ready, pending = completeRunes(pending)
			b.flush(gen.id, ready)

		case piece, ok := <-reads:
			if ok {
				pending = append(pending, piece...)
				continue
			}
			if ctx.Err() != nil {
				// The reader stopped because of cancellation, not end of stream.
				b.finish(ctx, gen.id, nil, false)
				return
			}
			b.flush(gen.id, pending)
			var err error
			select {
			case err = <-readErr:
			default:
			}
			truncated := resp.Trailer.Get(StreamStatusTrailer) != "complete"
			b.finish(ctx, gen.id, err, truncated || err != nil)
			return
		}
	}
}

func (b *TextBuffer) send(ctx context.Context) (*http.Response, error) {
	var body io.Reader
	if b.cfg.Payload != nil {
		data, err := json.Marshal(b.cfg.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, b.cfg.Method, b.cfg.URL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "text/event-stream")
	return b.client.Do(req)
}

// flush appends text as one chunk if gen still owns the buffer.
func (b *TextBuffer) flush(gen uint64, text []byte) {
	if len(text) == 0 {
		return
	}
	b.mu.Lock()
	if b.active != gen {
		b.mu.Unlock()
		return
	}
	b.chunks = append(b.chunks, string(text))
	b.mu.Unlock()
	b.notify()
}

func (b *TextBuffer) finish(ctx context.Context, gen uint64, err error, truncated bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active != gen {
		return
	}
	if ctx.Err() != nil {
		err = nil
	}
	b.active = 0
	b.finishLocked(err, truncated)
}

func (b *TextBuffer) finishLocked(err error, truncated bool) {
	if b.done {
		return
	}
	b.done = true
	b.err = err
	b.truncated = truncated
	close(b.doneCh)
	b.notify()
}

func (b *TextBuffer) notify() {
	select {
	case b.updates <- struct{}{}:
	default:
	}
}

// completeRunes splits p before a trailing incomplete UTF-8 sequence.
func completeRunes(p []byte) (ready, rest []byte) {
	end := len(p)
	for i := 1; i <= utf8.UTFMax && i <= len(p); i++ {
		c := p[len(p)-i]
		if utf8.RuneStart(c) {
			if !utf8.FullRune(p[len(p)-i:]) {
				end = len(p) - i
			}
			break
		}
	}
	ready = p[:end]
	rest = append([]byte(nil), p[end:]...)
	return ready, rest
}

// statusError reads the JSON error body the query endpoint writes.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &HTTPStatusError{StatusCode: resp.StatusCode, Message: msg}
}
