// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the retrieval and prompt types that flow through the
// query pipeline. For the HTTP request body, see query.go.
package datatypes

// =============================================================================
// Message Roles
// =============================================================================

const (
	// RoleSystem tags the persona/instruction message.
	RoleSystem = "system"

	// RoleUser tags context, rule and question messages.
	RoleUser = "user"
)

// Message is a single role-tagged prompt message sent to the language model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// Retrieval Types
// =============================================================================

// ContextSection is one retrieved passage of documentation.
//
// # Description
//
// Sections are produced by the retriever in descending similarity order and
// are treated as immutable afterwards. TokenCount is zero until the assembler
// counts the section; the assembler sets it on its own copy only.
//
// # Fields
//
//   - Content: The raw section text as stored in the vector store.
//   - Similarity: Cosine similarity to the query; higher is more similar.
//   - Path: Source page path, informational only.
//   - TokenCount: Tokens in Content under the assembler's tokenizer.
type ContextSection struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	Path       string  `json:"path,omitempty"`
	TokenCount int     `json:"token_count,omitempty"`
}

// MatchOptions are the nearest-section query parameters.
//
// # Fields
//
//   - SimilarityThreshold: Similarity a section must exceed.
//   - MaxCount: Maximum number of sections returned.
//   - MinContentLength: Sections with fewer characters are treated as noise.
type MatchOptions struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	MaxCount            int     `yaml:"max_count" json:"max_count"`
	MinContentLength    int     `yaml:"min_content_length" json:"min_content_length"`
}

// DefaultMatchOptions returns the retrieval parameters used by the docs bot.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{
		SimilarityThreshold: 0.78,
		MaxCount:            10,
		MinContentLength:    50,
	}
}

// =============================================================================
// Prompt Types
// =============================================================================

// AssembledPrompt is the ordered message list handed to the completion relay.
//
// # Description
//
// Messages are always, in order: system persona, user context block, user
// rules, user question. ContextTokens is the sum of the token counts of the
// included sections and never exceeds the assembler's budget.
type AssembledPrompt struct {
	Messages         []Message `json:"messages"`
	ContextText      string    `json:"context_text"`
	ContextTokens    int       `json:"context_tokens"`
	IncludedSections int       `json:"included_sections"`

	// Sections are copies of the included sections with TokenCount set.
	Sections []ContextSection `json:"sections,omitempty"`
}
