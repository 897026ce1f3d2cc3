// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the query endpoint.
//
// # Metrics Exposed
//
//   - docsgpt_query_requests_total{endpoint, outcome}
//   - docsgpt_query_errors_total{endpoint, error_code}
//   - docsgpt_query_time_to_first_delta_seconds{endpoint}
//   - docsgpt_query_stream_duration_seconds{endpoint, outcome}
//   - docsgpt_query_active_streams{endpoint}
//   - docsgpt_query_deltas_total{endpoint}
//   - docsgpt_query_context_tokens{endpoint}
//   - docsgpt_query_client_disconnects_total{endpoint}
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Constants
// =============================================================================

const metricsNamespace = "docsgpt"

const querySubsystem = "query"

// =============================================================================
// QueryMetrics
// =============================================================================

// QueryMetrics holds the collectors for the query endpoint.
//
// # Thread Safety
//
// Prometheus collectors are safe for concurrent use.
type QueryMetrics struct {
	RequestsTotal           *prometheus.CounterVec
	ErrorsTotal             *prometheus.CounterVec
	TimeToFirstDeltaSeconds *prometheus.HistogramVec
	StreamDurationSeconds   *prometheus.HistogramVec
	ActiveStreams           *prometheus.GaugeVec
	DeltasTotal             *prometheus.CounterVec
	ContextTokens           *prometheus.HistogramVec
	ClientDisconnectsTotal  *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instance set by InitMetrics.
// Nil until InitMetrics is called; handlers skip recording when nil.
var DefaultMetrics *QueryMetrics

// InitMetrics registers QueryMetrics with the default Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice in one process (duplicate registration).
func InitMetrics() *QueryMetrics {
	DefaultMetrics = NewQueryMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewQueryMetrics creates and registers the collectors with reg.
func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	factory := promauto.With(reg)
	return &QueryMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "requests_total",
				Help:      "Total number of query requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "errors_total",
				Help:      "Total query errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		TimeToFirstDeltaSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "time_to_first_delta_seconds",
				Help:      "Time from request to first answer delta in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total answer stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "outcome"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "active_streams",
				Help:      "Number of answer streams currently open",
			},
			[]string{"endpoint"},
		),
		DeltasTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "deltas_total",
				Help:      "Total answer deltas written to clients",
			},
			[]string{"endpoint"},
		),
		ContextTokens: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "context_tokens",
				Help:      "Context tokens folded into each prompt",
				Buckets:   []float64{0, 64, 128, 256, 512, 768, 1024},
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Labels
// =============================================================================

// ErrorCode classifies query failures.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeFlagged          ErrorCode = "flagged"
	ErrorCodeRetrieval        ErrorCode = "retrieval"
	ErrorCodeUpstream         ErrorCode = "upstream"
	ErrorCodeMalformedEvent   ErrorCode = "malformed_event"
	ErrorCodeTruncated        ErrorCode = "truncated"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// Endpoint labels the route a request came in on.
type Endpoint string

const (
	EndpointQuery  Endpoint = "query"
	EndpointLegacy Endpoint = "celo_gpt"
)

// Outcome labels how a request ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeTruncated Outcome = "truncated"
)

// =============================================================================
// Recording Methods
// =============================================================================

// RecordRequest counts a finished request.
func (m *QueryMetrics) RecordRequest(endpoint Endpoint, outcome Outcome) {
	m.RequestsTotal.WithLabelValues(string(endpoint), string(outcome)).Inc()
}

// RecordError counts an error by code.
func (m *QueryMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active stream gauge. Pair with StreamEnded.
func (m *QueryMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *QueryMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstDelta observes latency to the first written delta.
func (m *QueryMetrics) RecordTimeToFirstDelta(endpoint Endpoint, seconds float64) {
	m.TimeToFirstDeltaSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration observes total stream time.
func (m *QueryMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, outcome Outcome) {
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), string(outcome)).Observe(seconds)
}

// RecordDeltas adds n written deltas.
func (m *QueryMetrics) RecordDeltas(endpoint Endpoint, n int) {
	m.DeltasTotal.WithLabelValues(string(endpoint)).Add(float64(n))
}

// RecordContextTokens observes the context size of one prompt.
func (m *QueryMetrics) RecordContextTokens(endpoint Endpoint, tokens int) {
	m.ContextTokens.WithLabelValues(string(endpoint)).Observe(float64(tokens))
}

// RecordClientDisconnect counts a client that went away mid-stream.
func (m *QueryMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
