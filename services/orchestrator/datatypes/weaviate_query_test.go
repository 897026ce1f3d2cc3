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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestParseGraphQLResponse_PageSections(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"PageSection": []any{
					map[string]any{
						"content":        "Celo Gold is the native asset.",
						"content_length": 30,
						"path":           "/celo-gold",
						"_additional":    map[string]any{"id": "a", "distance": 0.125},
					},
					map[string]any{
						"content":     "No distance.",
						"_additional": map[string]any{"id": "b"},
					},
				},
			},
		},
	}

	parsed, err := ParseGraphQLResponse[PageSectionQueryResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Get.PageSection, 2)

	sections := parsed.ToContextSections()
	require.Len(t, sections, 2)
	assert.Equal(t, "Celo Gold is the native asset.", sections[0].Content)
	assert.Equal(t, "/celo-gold", sections[0].Path)
	assert.InDelta(t, 0.875, sections[0].Similarity, 1e-9)
	assert.Zero(t, sections[1].Similarity)
}

func TestParseGraphQLResponse_Errors(t *testing.T) {
	_, err := ParseGraphQLResponse[PageSectionQueryResponse](nil)
	assert.Error(t, err)

	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "Cannot query field \"PageSection\""}},
	}
	_, err = ParseGraphQLResponse[PageSectionQueryResponse](resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PageSection")
}

func TestToContextSections_Empty(t *testing.T) {
	var resp PageSectionQueryResponse
	sections := resp.ToContextSections()
	assert.NotNil(t, sections)
	assert.Empty(t, sections)
}
