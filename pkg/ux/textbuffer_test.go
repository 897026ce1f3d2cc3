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
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func TestTextBuffer_StreamsCompleteAnswer(t *testing.T) {
	server := &answerServer{pieces: []string{"Celo Gold ", "is the native ", "asset."}, complete: true}
	srv := newAnswerServer(t, server)

	buf := NewTextBuffer(srv.Client(), TextBufferConfig{
		URL:      srv.URL,
		Payload:  map[string]string{"query": "What is Celo Gold?"},
		Throttle: 10 * time.Millisecond,
	})
	defer buf.Close()

	if err := buf.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, buf)

	if got := buf.Text(); got != "Celo Gold is the native asset." {
		t.Errorf("Text() = %q", got)
	}
	if !buf.Done() {
		t.Error("Done() = false after Wait")
	}
	if buf.Err() != nil {
		t.Errorf("Err() = %v", buf.Err())
	}
	if buf.Truncated() {
		t.Error("Truncated() = true for complete stream")
	}
	body, _ := server.lastBody.Load().(map[string]string)
	if body["query"] != "What is Celo Gold?" {
		t.Errorf("payload query = %q", body["query"])
	}
}

func TestTextBuffer_ThrottleCoalescesIntoOneChunk(t *testing.T) {
	srv := newAnswerServer(t, &answerServer{pieces: []string{"a", "b", "c", "d"}, complete: true})

	buf := NewTextBuffer(srv.Client(), TextBufferConfig{URL: srv.URL, Throttle: time.Hour})
	defer buf.Close()

	if err := buf.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, buf)

	chunks := buf.Buffer()
	if len(chunks) != 1 || chunks[0] != "abcd" {
		t.Errorf("Buffer() = %q, want one chunk \"abcd\"", chunks)
	}
}

func TestTextBuffer_MissingTrailerIsTruncated(t *testing.T) {
	srv := newAnswerServer(t, &answerServer{pieces: []string{"partial"}})

	buf := NewTextBuffer(srv.Client(), TextBufferConfig{URL: srv.URL})
	defer buf.Close()

	if err := buf.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, buf)

	if !buf.Truncated() {
		t.Error("Truncated() = false without status trailer")
	}
	if buf.Text() != "partial" {
		t.Errorf("Text() = %q", buf.Text())
	}
}

func TestTextBuffer_HTTPError(t *testing.T) {
	srv := newAnswerServer(t, &answerServer{
		status:  400,
		errBody: `{"error":"missing query","data":{}}`,
	})

	buf := NewTextBuffer(srv.Client(), TextBufferConfig{URL: srv.URL})
	defer buf.Close()

	if err := buf.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, buf)

	var statusErr *HTTPStatusError
	if !errors.As(buf.Err(), &statusErr) {
		t.Fatalf("Err() = %v, want *HTTPStatusError", buf.Err())
	}
	if statusErr.StatusCode != 400 || statusErr.Message != "missing query" {
		t.Errorf("got %d %q", statusErr.StatusCode, statusErr.Message)
	}
	if len(buf.Buffer()) != 0 {
		t.Errorf("Buffer() = %q, want empty", buf.Buffer())
	}
}

func TestTextBuffer_CancelKeepsBuffer(t *testing.T) {
	srv := newAnswerServer(t, &answerServer{pieces: []string{"first part"}, hold: true})

	buf := NewTextBuffer(srv.Client(), TextBufferConfig{URL: srv.URL, Throttle: 5 * time.Millisecond})
	defer buf.Close()

	if err := buf.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return buf.Text() == "first part" })

	buf.Cancel()

	if !buf.Done() {
		t.Error("Done() = false after Cancel")
	}
	if buf.Err() != nil {
		t.Errorf("Err() = %v after Cancel", buf.Err())
	}
	time.Sleep(30 * time.Millisecond)
	if got := buf.Text(); got != "first part" {
		t.Errorf("Text() after Cancel = %q", got)
	}
}

func TestTextBuffer_RefreshReplacesBuffer(t *testing.T) {
	server := &answerServer{pieces: []string{"old answer"}, hold: true}
	srv := newAnswerServer(t, server)

	buf := NewTextBuffer(srv.Client(), TextBufferConfig{URL: srv.URL, Throttle: 5 * time.Millisecond})
	defer buf.Close()

	if err := buf.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return buf.Text() == "old answer" })

	// Second request completes normally.
	server.update(func(s *answerServer) {
		s.pieces = []string{"new ", "answer"}
		s.hold = false
		s.complete = true
	})

	if err := buf.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	waitDone(t, buf)

	if got := buf.Text(); got != "new answer" {
		t.Errorf("Text() after Refresh = %q", got)
	}
	if n := server.requests.Load(); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
}

func TestTextBuffer_ConcurrentRefreshLeavesOneStream(t *testing.T) {
	server := &answerServer{pieces: []string{"x"}, hold: true}
	srv := newAnswerServer(t, server)

	buf := NewTextBuffer(srv.Client(), TextBufferConfig{URL: srv.URL, Throttle: 5 * time.Millisecond})
	if err := buf.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return buf.Text() == "x" })

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := buf.Refresh(); err != nil {
				t.Errorf("Refresh: %v", err)
			}
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return server.requests.Load() == 3 })
	buf.Close()

	// Every request must end once the buffer is closed.
	waitFor(t, func() bool { return server.inFlight.Load() == 0 })
	if !buf.Done() {
		t.Error("Done() = false after Close")
	}
}

func TestTextBuffer_SplitRunesArriveIntact(t *testing.T) {
	answer := "Célo 🌍 ist schön, 世界 € ok"
	raw := []byte(answer)

	// One byte per write splits every multibyte rune across reads.
	pieces := make([]string, len(raw))
	for i := range raw {
		pieces[i] = string(raw[i : i+1])
	}
	srv := newAnswerServer(t, &answerServer{pieces: pieces, complete: true})

	buf := NewTextBuffer(srv.Client(), TextBufferConfig{URL: srv.URL, Throttle: time.Millisecond})
	defer buf.Close()

	if err := buf.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, buf)

	if got := buf.Text(); got != answer {
		t.Errorf("Text() = %q, want %q", got, answer)
	}
	for i, chunk := range buf.Buffer() {
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, chunk)
		}
	}
	if buf.Truncated() {
		t.Error("Truncated() = true for complete stream")
	}
}

func TestTextBuffer_ContextCancelAddsNothing(t *testing.T) {
	server := &answerServer{pieces: []string{"never flushed"}, hold: true}
	srv := newAnswerServer(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	// A long throttle keeps later pieces pending when the context ends.
	buf := NewTextBuffer(srv.Client(), TextBufferConfig{URL: srv.URL, Throttle: time.Hour})
	defer buf.Close()

	if err := buf.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return server.requests.Load() == 1 })
	cancel()
	waitDone(t, buf)

	if got := buf.Buffer(); len(got) != 0 {
		t.Errorf("Buffer() after cancel = %q, want empty", got)
	}
	if buf.Truncated() {
		t.Error("Truncated() = true after cancellation")
	}
	if buf.Err() != nil {
		t.Errorf("Err() = %v", buf.Err())
	}
}

func TestTextBuffer_StartStates(t *testing.T) {
	srv := newAnswerServer(t, &answerServer{pieces: []string{"x"}, hold: true})

	buf := NewTextBuffer(srv.Client(), TextBufferConfig{URL: srv.URL})
	if err := buf.Refresh(); err == nil {
		t.Error("Refresh before Start should fail")
	}
	if err := buf.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := buf.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	buf.Close()
	buf.Close()

	if !buf.Done() {
		t.Error("Done() = false after Close")
	}
	if err := buf.Start(context.Background()); !errors.Is(err, ErrBufferClosed) {
		t.Errorf("Start after Close = %v, want ErrBufferClosed", err)
	}
}

func TestTextBuffer_ContextCancelStopsStream(t *testing.T) {
	srv := newAnswerServer(t, &answerServer{pieces: []string{"x"}, hold: true})

	ctx, cancel := context.WithCancel(context.Background())
	buf := NewTextBuffer(srv.Client(), TextBufferConfig{URL: srv.URL})
	defer buf.Close()

	if err := buf.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitDone(t, buf)

	if buf.Err() != nil {
		t.Errorf("Err() = %v, cancellation is not an error", buf.Err())
	}
}

func TestCompleteRunes(t *testing.T) {
	full := []byte("héllo €")
	euro := strings.Index(string(full), "€")

	tests := []struct {
		name      string
		in        []byte
		wantReady string
		wantRest  int
	}{
		{"ascii", []byte("hello"), "hello", 0},
		{"complete multibyte", full, "héllo €", 0},
		{"split euro after one byte", full[:euro+1], "héllo ", 1},
		{"split euro after two bytes", full[:euro+2], "héllo ", 2},
		{"empty", nil, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready, rest := completeRunes(tt.in)
			if string(ready) != tt.wantReady {
				t.Errorf("ready = %q, want %q", ready, tt.wantReady)
			}
			if len(rest) != tt.wantRest {
				t.Errorf("len(rest) = %d, want %d", len(rest), tt.wantRest)
			}
		})
	}
}

func TestHTTPStatusError_Error(t *testing.T) {
	if got := (&HTTPStatusError{StatusCode: 500}).Error(); got != "server returned 500" {
		t.Errorf("got %q", got)
	}
	if got := (&HTTPStatusError{StatusCode: 400, Message: "flagged content"}).Error(); got != "server returned 400: flagged content" {
		t.Errorf("got %q", got)
	}
}
