// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/docsgpt/services/orchestrator/datatypes"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("docsgpt.llm.openai")

const (
	defaultChatModel      = openai.GPT3Dot5Turbo
	defaultEmbeddingModel = openai.AdaEmbeddingV2
	maxErrorBodyBytes     = 4096
)

// OpenAIConfig configures OpenAIClient.
//
// BaseURL must include the API version prefix (e.g. "https://api.openai.com/v1").
// Any OpenAI-compatible server works, including Ollama's /v1 endpoint.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	EmbeddingModel  string
	ModerationModel string
	HTTPClient      *http.Client
}

// OpenAIClient implements Embedder, Moderator and CompletionStreamer.
//
// Embeddings and moderation go through go-openai. The chat stream is
// requested over plain HTTP because the relay parses the SSE framing itself
// and needs an explicit temperature of 0 on the wire.
type OpenAIClient struct {
	client     *openai.Client
	httpClient *http.Client
	apiKey     string
	baseURL    string
	chatModel  string
	embedModel openai.EmbeddingModel
	modModel   string
}

var (
	_ Embedder           = (*OpenAIClient)(nil)
	_ Moderator          = (*OpenAIClient)(nil)
	_ CompletionStreamer = (*OpenAIClient)(nil)
)

// NewOpenAIClient builds a client from cfg.
//
// # Outputs
//
//   - *OpenAIClient: Ready client.
//   - error: Non-nil when no API key is configured.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is not configured")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No overall timeout: answers stream for as long as the model writes.
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	clientCfg.HTTPClient = httpClient

	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = defaultChatModel
		slog.Warn("chat model not set, defaulting", "model", chatModel)
	}
	embedModel := openai.EmbeddingModel(cfg.EmbeddingModel)
	if embedModel == "" {
		embedModel = defaultEmbeddingModel
	}

	slog.Info("Initializing OpenAI client", "chatModel", chatModel, "embeddingModel", embedModel, "baseURL", clientCfg.BaseURL)
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientCfg),
		httpClient: httpClient,
		apiKey:     cfg.APIKey,
		baseURL:    clientCfg.BaseURL,
		chatModel:  chatModel,
		embedModel: embedModel,
		modModel:   cfg.ModerationModel,
	}, nil
}

// Embed returns the embedding vector for text.
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Embed")
	defer span.End()

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: o.embedModel,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response contained no vector")
	}

	span.SetAttributes(attribute.Int("embedding.dims", len(resp.Data[0].Embedding)))
	return resp.Data[0].Embedding, nil
}

// Moderate runs the moderation endpoint over text.
func (o *OpenAIClient) Moderate(ctx context.Context, text string) (*ModerationResult, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Moderate")
	defer span.End()

	resp, err := o.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: o.modModel,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("moderation response contained no results")
	}

	result := resp.Results[0]
	categories, err := categoriesToMap(result.Categories)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("moderation.flagged", result.Flagged))
	return &ModerationResult{Flagged: result.Flagged, Categories: categories}, nil
}

// categoriesToMap flattens the typed category struct using its JSON names so
// the breakdown can be returned to clients without exposing the SDK type.
func categoriesToMap(c openai.ResultCategories) (map[string]bool, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode moderation categories: %w", err)
	}
	out := make(map[string]bool)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode moderation categories: %w", err)
	}
	return out, nil
}

// chatStreamRequest mirrors openai.ChatCompletionRequest but keeps
// temperature on the wire when it is zero.
type chatStreamRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	MaxTokens   int                            `json:"max_tokens,omitempty"`
	Temperature float32                        `json:"temperature"`
	Stream      bool                           `json:"stream"`
}

// OpenStream posts a streaming chat completion request.
//
// # Outputs
//
//   - io.ReadCloser: The SSE body of a 2xx response.
//   - error: *APIStatusError when the provider answered with a non-2xx status.
func (o *OpenAIClient) OpenStream(ctx context.Context, messages []datatypes.Message, params GenerationParams) (io.ReadCloser, error) {
	body := chatStreamRequest{
		Model:    o.chatModel,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		body.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		body.MaxTokens = *params.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	slog.Debug("Opening chat completion stream", "model", o.chatModel, "messages", len(messages))
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &APIStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
	}

	return resp.Body, nil
}

// DecodeDelta extracts choices[0].delta.content from one stream event.
//
// A payload without choices (usage-only chunks) yields an empty delta.
func (o *OpenAIClient) DecodeDelta(data []byte) (string, error) {
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", fmt.Errorf("decode stream chunk: %w", err)
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}

// IsAPIStatus reports whether err carries a provider HTTP status.
func IsAPIStatus(err error) (*APIStatusError, bool) {
	var statusErr *APIStatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}
