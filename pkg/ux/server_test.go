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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// answerServer streams pieces and, when complete is set, the status trailer.
// With hold set it writes the pieces and then blocks until the client goes away.
type answerServer struct {
	pieces   []string
	complete bool
	hold     bool
	status   int
	errBody  string

	mu       sync.Mutex
	requests atomic.Int32
	inFlight atomic.Int32
	lastBody atomic.Value
}

// update changes the behaviour for requests that arrive afterwards.
func (s *answerServer) update(fn func(s *answerServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *answerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.lastBody.Store(body)

	s.mu.Lock()
	pieces, complete, hold := s.pieces, s.complete, s.hold
	status, errBody := s.status, s.errBody
	s.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(errBody))
		return
	}

	w.Header().Set("Trailer", StreamStatusTrailer)
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	for _, p := range pieces {
		_, _ = w.Write([]byte(p))
		flusher.Flush()
	}
	if hold {
		<-r.Context().Done()
		return
	}
	if complete {
		w.Header().Set(StreamStatusTrailer, "complete")
	}
}

func newAnswerServer(t *testing.T, s *answerServer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func waitDone(t *testing.T, buf *TextBuffer) {
	t.Helper()
	select {
	case <-buf.Wait():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream to finish")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
