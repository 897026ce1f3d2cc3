// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the docsgpt query service.
//
// It coordinates every component behind the HTTP surface: the OpenAI
// client used for embeddings, moderation and completions, the Weaviate
// section store, the prompt tokenizer, tracing and metrics.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
//
// Tests inject fakes through Dependencies so that no network is used.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/docsgpt/pkg/config"
	"github.com/AleutianAI/docsgpt/services/llm"
	"github.com/AleutianAI/docsgpt/services/orchestrator/datatypes"
	"github.com/AleutianAI/docsgpt/services/orchestrator/handlers"
	"github.com/AleutianAI/docsgpt/services/orchestrator/observability"
	"github.com/AleutianAI/docsgpt/services/orchestrator/routes"
	"github.com/AleutianAI/docsgpt/services/orchestrator/services"
	"github.com/AleutianAI/docsgpt/services/orchestrator/tokenizer"
	"github.com/AleutianAI/docsgpt/services/orchestrator/vectorstore"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName identifies the process in traces and logs.
const ServiceName = "docsgpt-orchestrator"

const schemaTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// # Description
//
// Run serves HTTP until ctx is cancelled, then drains in-flight streams
// for at most Server.ShutdownTimeout. Router exposes the configured engine
// for in-process tests.
//
// # Assumptions
//
//   - Run is called at most once per Service.
type Service interface {
	Run(ctx context.Context) error
	Router() *gin.Engine
}

// Dependencies overrides the components New would otherwise build from
// configuration. Nil fields are built normally.
type Dependencies struct {
	Embedder  llm.Embedder
	Moderator llm.Moderator
	Streamer  llm.CompletionStreamer
	Store     vectorstore.SectionStore
	Counter   tokenizer.Counter

	// Checks replaces the readiness checks.
	Checks map[string]handlers.ReadinessCheck
}

type service struct {
	config        *config.Config
	router        *gin.Engine
	queries       *services.QueryService
	weaviate      *weaviate.Client
	checks        map[string]handlers.ReadinessCheck
	traceShutdown func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New validates cfg and builds every component of the service.
//
// # Inputs
//
//   - cfg: Loaded configuration. Validated here.
//   - deps: Optional component overrides. May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if the configuration is invalid or a client cannot
//     be constructed. An unreachable Weaviate is not an error; /ready
//     reports it instead.
func New(cfg *config.Config, deps *Dependencies) (Service, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator: nil config")
	}
	if deps == nil {
		deps = &Dependencies{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &service{config: cfg, traceShutdown: func(context.Context) {}}

	shutdown, err := initTracer(cfg.Server.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.traceShutdown = shutdown

	if cfg.Server.MetricsEnabled && observability.DefaultMetrics == nil {
		observability.InitMetrics()
	}

	if err := s.initComponents(deps); err != nil {
		s.cleanup()
		return nil, err
	}
	s.initRouter()
	return s, nil
}

func (s *service) initComponents(deps *Dependencies) error {
	cfg := s.config

	embedder, moderator, streamer := deps.Embedder, deps.Moderator, deps.Streamer
	if embedder == nil || streamer == nil || (moderator == nil && cfg.OpenAI.ModerationEnabled) {
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:          cfg.OpenAI.APIKey,
			BaseURL:         cfg.OpenAI.BaseURL,
			ChatModel:       cfg.OpenAI.ChatModel,
			EmbeddingModel:  cfg.OpenAI.EmbeddingModel,
			ModerationModel: cfg.OpenAI.ModerationModel,
		})
		if err != nil {
			return fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		if embedder == nil {
			embedder = client
		}
		if streamer == nil {
			streamer = client
		}
		if moderator == nil && cfg.OpenAI.ModerationEnabled {
			moderator = client
		}
	}
	if !cfg.OpenAI.ModerationEnabled {
		slog.Warn("Moderation disabled, queries go straight to retrieval")
		moderator = nil
	}

	// The schema check and tokenizer rank loading both may hit the network.
	store, counter := deps.Store, deps.Counter
	var g errgroup.Group
	if store == nil {
		g.Go(func() error {
			if err := s.initWeaviate(); err != nil {
				return err
			}
			store = vectorstore.NewWeaviateSectionStore(s.weaviate)
			return nil
		})
	}
	if counter == nil {
		g.Go(func() error {
			tok := tokenizer.New(cfg.Prompt.Encoding)
			if !tok.Exact() {
				slog.Warn("Tokenizer encoding unavailable, using approximate counts",
					"encoding", cfg.Prompt.Encoding)
			}
			counter = tok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	retriever := services.NewRetriever(embedder, store, datatypes.MatchOptions{
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		MaxCount:            cfg.Retrieval.MaxCount,
		MinContentLength:    cfg.Retrieval.MinContentLength,
	})
	assembler := services.NewAssembler(counter, services.AssemblerConfig{
		Budget:  cfg.Prompt.Budget,
		Persona: cfg.Prompt.Persona,
	})
	relay := services.NewRelay(streamer, services.RelayConfig{
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
	})

	s.queries = services.NewQueryService(moderator, retriever, assembler, relay)

	s.checks = deps.Checks
	if s.checks == nil {
		s.checks = map[string]handlers.ReadinessCheck{}
		if s.weaviate != nil {
			s.checks["weaviate"] = weaviateReady(s.weaviate)
		}
	}
	return nil
}

// initWeaviate creates the client and, when configured, the PageSection
// class. A schema failure is logged; the store may come up later.
func (s *service) initWeaviate() error {
	client, err := vectorstore.NewWeaviateClient(s.config.Weaviate.URL)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	s.weaviate = client

	if s.config.Weaviate.EnsureSchema {
		ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
		defer cancel()
		if err := datatypes.EnsureWeaviateSchema(ctx, client); err != nil {
			slog.Warn("Could not ensure Weaviate schema", "url", s.config.Weaviate.URL, "error", err)
		}
	}
	return nil
}

func weaviateReady(client *weaviate.Client) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		ready, err := client.Misc().ReadyChecker().Do(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return errors.New("weaviate not ready")
		}
		return nil
	}
}

func (s *service) initRouter() {
	if s.config.Server.GinMode != "" {
		gin.SetMode(s.config.Server.GinMode)
	}
	router := gin.Default()
	router.Use(otelgin.Middleware(ServiceName))
	routes.SetupRoutes(router, handlers.NewQueryHandler(s.queries), s.checks)
	s.router = router
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run serves until ctx is cancelled.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Orchestrator listening", "port", s.config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down orchestrator", "timeout", s.config.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Router returns the configured engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) cleanup() {
	s.traceShutdown(context.Background())
}

// TracesToStdout as the OTel endpoint writes spans to stderr instead of OTLP.
const TracesToStdout = "stdout"

// initTracer installs the global tracer provider. An empty endpoint keeps
// the no-op provider and only sets the propagator.
func initTracer(endpoint string) (func(context.Context), error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	if endpoint == "" {
		slog.Info("OTel endpoint not configured, tracing disabled")
		return func(context.Context) {}, nil
	}

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var conn *grpc.ClientConn

	if endpoint == TracesToStdout {
		stdout, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = stdout
	} else {
		var err error
		conn, err = grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		otlp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = otlp
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)))
	if err != nil {
		releaseExporter(ctx, exporter, conn)
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
	otel.SetTracerProvider(provider)

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		if conn != nil {
			_ = conn.Close()
		}
	}, nil
}

// releaseExporter shuts down an exporter that never reached a provider.
func releaseExporter(ctx context.Context, exporter sdktrace.SpanExporter, conn *grpc.ClientConn) {
	if err := exporter.Shutdown(ctx); err != nil {
		slog.Warn("failed to shutdown trace exporter", "error", err)
	}
	if conn != nil {
		_ = conn.Close()
	}
}
