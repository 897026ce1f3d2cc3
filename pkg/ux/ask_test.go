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
	"errors"
	"testing"
	"time"
)

func TestAsk_WritesAnswer(t *testing.T) {
	srv := newAnswerServer(t, &answerServer{pieces: []string{"Celo ", "Gold"}, complete: true})

	var out bytes.Buffer
	err := Ask(context.Background(), &out, ChatConfig{URL: srv.URL, Client: srv.Client(), Throttle: 5 * time.Millisecond}, "What is Celo Gold?")

	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if out.String() != "Celo Gold\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestAsk_Truncated(t *testing.T) {
	srv := newAnswerServer(t, &answerServer{pieces: []string{"Celo"}})

	var out bytes.Buffer
	err := Ask(context.Background(), &out, ChatConfig{URL: srv.URL, Client: srv.Client()}, "q")

	if !errors.Is(err, ErrAnswerTruncated) {
		t.Errorf("err = %v, want ErrAnswerTruncated", err)
	}
	if out.String() != "Celo\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestAsk_HTTPError(t *testing.T) {
	srv := newAnswerServer(t, &answerServer{status: 500, errBody: `{"error":"There was an error processing your request"}`})

	var out bytes.Buffer
	err := Ask(context.Background(), &out, ChatConfig{URL: srv.URL, Client: srv.Client()}, "q")

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 500 {
		t.Errorf("err = %v, want 500 HTTPStatusError", err)
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want empty", out.String())
	}
}
