// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads docsgpt configuration from YAML and the environment.
//
// # Precedence
//
// Built-in defaults, then the YAML file (when given), then environment
// variables. The OpenAI API key may also come from a secret file, which is
// read only when no key is set any other way.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	EnvWeaviateURL   = "WEAVIATE_SERVICE_URL"
	EnvPort          = "DOCSGPT_PORT"
	EnvLogLevel      = "DOCSGPT_LOG_LEVEL"
	EnvOTelEndpoint  = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvServerURL     = "DOCSGPT_SERVER_URL"
)

// DefaultAPIKeyFile is where container deployments mount the OpenAI key.
const DefaultAPIKeyFile = "/run/secrets/openai_api_key"

// Config is the full docsgpt configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Weaviate   WeaviateConfig   `yaml:"weaviate"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Prompt     PromptConfig     `yaml:"prompt"`
	Generation GenerationConfig `yaml:"generation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Client     ClientConfig     `yaml:"client"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	GinMode         string        `yaml:"gin_mode"`
	OTelEndpoint    string        `yaml:"otel_endpoint"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OpenAIConfig configures the model provider.
type OpenAIConfig struct {
	APIKey            string `yaml:"api_key,omitempty"`
	APIKeyFile        string `yaml:"api_key_file"`
	BaseURL           string `yaml:"base_url"`
	ChatModel         string `yaml:"chat_model"`
	EmbeddingModel    string `yaml:"embedding_model"`
	ModerationModel   string `yaml:"moderation_model,omitempty"`
	ModerationEnabled bool   `yaml:"moderation_enabled"`
}

// WeaviateConfig configures the vector store.
type WeaviateConfig struct {
	URL          string `yaml:"url"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

// RetrievalConfig holds nearest-section match parameters.
type RetrievalConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxCount            int     `yaml:"max_count"`
	MinContentLength    int     `yaml:"min_content_length"`
}

// PromptConfig configures prompt assembly.
type PromptConfig struct {
	Budget   int    `yaml:"budget"`
	Persona  string `yaml:"persona"`
	Encoding string `yaml:"encoding"`
}

// GenerationConfig configures the completion request.
type GenerationConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ClientConfig configures the terminal clients.
type ClientConfig struct {
	ServerURL string        `yaml:"server_url"`
	Throttle  time.Duration `yaml:"throttle"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            12210,
			GinMode:         "release",
			MetricsEnabled:  true,
			ShutdownTimeout: 10 * time.Second,
		},
		OpenAI: OpenAIConfig{
			APIKeyFile:        DefaultAPIKeyFile,
			BaseURL:           "https://api.openai.com/v1",
			ChatModel:         "gpt-3.5-turbo",
			EmbeddingModel:    "text-embedding-ada-002",
			ModerationEnabled: true,
		},
		Weaviate: WeaviateConfig{
			URL:          "http://localhost:8080",
			EnsureSchema: true,
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold: 0.78,
			MaxCount:            10,
			MinContentLength:    50,
		},
		Prompt: PromptConfig{
			Budget:   1024,
			Persona:  "Celo",
			Encoding: "cl100k_base",
		},
		Generation: GenerationConfig{
			MaxTokens:   1024,
			Temperature: 0,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:12210/api/query",
			Throttle:  100 * time.Millisecond,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and the process environment.
//
// # Outputs
//
//   - *Config: Merged configuration. Not yet validated.
//   - error: Non-nil if the file cannot be read or parsed, or an
//     environment value is malformed.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.resolveAPIKey()
	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvOpenAIKey); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := getenv(EnvOpenAIBaseURL); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := getenv(EnvWeaviateURL); v != "" {
		c.Weaviate.URL = strings.Trim(v, "\"' ")
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be a number, got %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := getenv(EnvOTelEndpoint); v != "" {
		c.Server.OTelEndpoint = v
	}
	if v := getenv(EnvServerURL); v != "" {
		c.Client.ServerURL = v
	}
	return nil
}

// resolveAPIKey reads the key from APIKeyFile when it is not set directly.
func (c *Config) resolveAPIKey() {
	if c.OpenAI.APIKey != "" || c.OpenAI.APIKeyFile == "" {
		return
	}
	data, err := os.ReadFile(c.OpenAI.APIKeyFile)
	if err != nil {
		return
	}
	c.OpenAI.APIKey = strings.TrimSpace(string(data))
}

// Validate reports every missing or out-of-range value needed to serve.
func (c *Config) Validate() error {
	var errs []error
	if c.OpenAI.APIKey == "" {
		errs = append(errs, fmt.Errorf("OpenAI API key is required: set %s or mount %s", EnvOpenAIKey, c.OpenAI.APIKeyFile))
	}
	if c.Weaviate.URL == "" {
		errs = append(errs, fmt.Errorf("Weaviate URL is required: set %s", EnvWeaviateURL))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d is out of range", c.Server.Port))
	}
	if c.Retrieval.SimilarityThreshold <= 0 || c.Retrieval.SimilarityThreshold >= 1 {
		errs = append(errs, fmt.Errorf("similarity threshold must be in (0,1), got %v", c.Retrieval.SimilarityThreshold))
	}
	if c.Retrieval.MaxCount <= 0 {
		errs = append(errs, fmt.Errorf("max match count must be positive, got %d", c.Retrieval.MaxCount))
	}
	if c.Prompt.Budget <= 0 {
		errs = append(errs, fmt.Errorf("prompt token budget must be positive, got %d", c.Prompt.Budget))
	}
	if c.Generation.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max tokens must be positive, got %d", c.Generation.MaxTokens))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.OpenAI.APIKey != "" {
		c.OpenAI.APIKey = "REDACTED"
	}
	return c
}
