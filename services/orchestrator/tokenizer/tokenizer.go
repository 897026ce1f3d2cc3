// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tokenizer counts model sub-word tokens for prompt budgeting.
package tokenizer

import (
	"log/slog"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used by gpt-3.5-turbo and the ada-002
// embedding model.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// Tokenizer counts tokens with a tiktoken encoding.
//
// # Description
//
// tiktoken fetches its BPE ranks on first use and caches them on disk
// (TIKTOKEN_CACHE_DIR). When they cannot be loaded, Tokenizer falls back to
// ApproxCounter so budgeting keeps working offline. The choice is made once
// at construction so every count in a process uses the same tokenizer.
//
// # Thread Safety
//
// Safe for concurrent use.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
	fallback Counter
}

var _ Counter = (*Tokenizer)(nil)

// New loads the named encoding, falling back to ApproxCounter on failure.
func New(encodingName string) *Tokenizer {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, using approximate token counts",
			"encoding", encodingName, "error", err)
		return &Tokenizer{fallback: ApproxCounter{}}
	}
	return &Tokenizer{encoding: enc}
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if t.encoding == nil {
		return t.fallback.Count(text)
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// Exact reports whether counts come from the BPE encoding.
func (t *Tokenizer) Exact() bool {
	return t.encoding != nil
}

// ApproxCounter is a deterministic stand-in for a BPE tokenizer: every run of
// letters or digits counts one token per four bytes (rounded up), and every
// other non-space rune counts one token.
type ApproxCounter struct{}

// Count implements Counter.
func (ApproxCounter) Count(text string) int {
	count := 0
	wordBytes := 0
	flush := func() {
		if wordBytes > 0 {
			count += (wordBytes + 3) / 4
			wordBytes = 0
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			wordBytes += len(string(r))
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			count++
		}
	}
	flush()
	return count
}
