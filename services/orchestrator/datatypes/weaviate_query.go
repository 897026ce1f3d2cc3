// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Weaviate returns map[string]models.JSONObject; this round-trips it through
// JSON into a struct whose tags match the expected shape, so callers never
// handle untyped data.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if resp is nil, carries GraphQL errors, or fails to parse.
//
// # Limitations
//
//   - Type mismatches on individual fields surface as unmarshal errors, but
//     missing fields become zero values.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// PageSectionQueryResponse is the typed shape of a Get{PageSection} query.
type PageSectionQueryResponse struct {
	Get struct {
		PageSection []PageSectionResult `json:"PageSection"`
	} `json:"Get"`
}

// PageSectionResult is a single section returned by a nearVector query.
type PageSectionResult struct {
	Content       string `json:"content"`
	ContentLength int    `json:"content_length"`
	Path          string `json:"path"`
	Additional    struct {
		ID       string   `json:"id"`
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

// ToContextSections converts the parsed response into ranked sections,
// preserving the order Weaviate returned them in. Similarity is cosine
// similarity, recovered from the cosine distance as 1 - distance.
func (r *PageSectionQueryResponse) ToContextSections() []ContextSection {
	sections := make([]ContextSection, 0, len(r.Get.PageSection))
	for _, res := range r.Get.PageSection {
		var score float64
		if res.Additional.Distance != nil {
			score = 1 - *res.Additional.Distance
		}
		sections = append(sections, ContextSection{
			Content:    res.Content,
			Similarity: score,
			Path:       res.Path,
		})
	}
	return sections
}
