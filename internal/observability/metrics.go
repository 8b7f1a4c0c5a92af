// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the Pactoria client
// core.
//
// # Description
//
// Metrics cover the three client-side engines and the REST transport:
//   - request executors: attempts, retries, and terminal outcomes
//   - the realtime client: connection status, reconnects, inbound messages
//   - optimistic stores: applied, committed, and rolled back mutations
//   - the API client: request latency by route and status
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "pactoria"

const (
	requestSubsystem    = "request"
	realtimeSubsystem   = "realtime"
	optimisticSubsystem = "optimistic"
	apiSubsystem        = "api"
)

// Outcome labels for executor and mutation metrics.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeCancelled  = "cancelled"
	OutcomeApplied    = "applied"
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

// Metrics holds every Prometheus collector used by the client core.
//
// # Description
//
// Create one instance per registry with NewMetrics. Production code uses
// Default, which registers on prometheus.DefaultRegisterer exactly once;
// tests pass a fresh prometheus.NewRegistry() to stay isolated.
type Metrics struct {
	// ExecutorAttempts counts every operation invocation.
	// Labels: executor
	ExecutorAttempts *prometheus.CounterVec

	// ExecutorRetries counts scheduled retries.
	// Labels: executor
	ExecutorRetries *prometheus.CounterVec

	// ExecutorOutcomes counts terminal results of Execute.
	// Labels: executor, outcome (success, failure, cancelled)
	ExecutorOutcomes *prometheus.CounterVec

	// RealtimeConnected is 1 while the realtime client is connected.
	RealtimeConnected prometheus.Gauge

	// RealtimeReconnects counts scheduled reconnect attempts.
	RealtimeReconnects prometheus.Counter

	// RealtimeMessages counts inbound messages.
	// Labels: type
	RealtimeMessages *prometheus.CounterVec

	// OptimisticMutations counts optimistic mutation lifecycle events.
	// Labels: store, outcome (applied, committed, rolled_back)
	OptimisticMutations *prometheus.CounterVec

	// APIRequestDuration measures REST round trips.
	// Labels: method, route, status
	APIRequestDuration *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide Metrics registered on the default
// Prometheus registerer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics creates and registers all collectors on reg.
//
// # Inputs
//
//   - reg: Registerer to register on. Registering twice on the same
//     registerer panics, as with promauto.
//
// # Outputs
//
//   - *Metrics: ready-to-use collectors
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExecutorAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: requestSubsystem,
			Name:      "attempts_total",
			Help:      "Operation invocations by executor",
		}, []string{"executor"}),
		ExecutorRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: requestSubsystem,
			Name:      "retries_total",
			Help:      "Retries scheduled by executor",
		}, []string{"executor"}),
		ExecutorOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: requestSubsystem,
			Name:      "outcomes_total",
			Help:      "Terminal Execute results by executor and outcome",
		}, []string{"executor", "outcome"}),
		RealtimeConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: realtimeSubsystem,
			Name:      "connected",
			Help:      "1 while the realtime connection is open",
		}),
		RealtimeReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: realtimeSubsystem,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after a failure or close",
		}),
		RealtimeMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: realtimeSubsystem,
			Name:      "messages_total",
			Help:      "Inbound realtime messages by type",
		}, []string{"type"}),
		OptimisticMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: optimisticSubsystem,
			Name:      "mutations_total",
			Help:      "Optimistic mutation lifecycle events",
		}, []string{"store", "outcome"}),
		APIRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: apiSubsystem,
			Name:      "request_duration_seconds",
			Help:      "REST request latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),
	}
}

// ObserveAPI records one REST round trip. status 0 means the request never
// produced a response.
func (m *Metrics) ObserveAPI(method, route string, status int, elapsed time.Duration) {
	m.APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
