// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds OpenTelemetry instruments for the HTTP and
// WebSocket surface of a server.
type ServerMetrics struct {
	// HTTPRequestsTotal counts requests by method, route and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records request latency in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks in-flight requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// WSConnections tracks open WebSocket connections.
	WSConnections metric.Int64UpDownCounter

	// WSBroadcasts counts messages fanned out to subscribers, by type.
	WSBroadcasts metric.Int64Counter
}

// NewServerMetrics creates every instrument on meter.
//
// Example:
//
//	m, err := telemetry.NewServerMetrics(otel.Meter("pactoria.mockserver"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewServerMetrics(meter metric.Meter) (*ServerMetrics, error) {
	m := &ServerMetrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration_seconds: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("In-flight HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.WSConnections, err = meter.Int64UpDownCounter(
		"ws_connections",
		metric.WithDescription("Open WebSocket connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ws_connections: %w", err)
	}

	m.WSBroadcasts, err = meter.Int64Counter(
		"ws_broadcasts_total",
		metric.WithDescription("Messages delivered to WebSocket subscribers"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ws_broadcasts_total: %w", err)
	}

	return m, nil
}

// GinMiddleware records request count, latency and concurrency for every
// route. The route label is the matched pattern, not the raw path.
func (m *ServerMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		m.HTTPActiveRequests.Add(ctx, 1)
		defer m.HTTPActiveRequests.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("route", route),
			attribute.String("status", strconv.Itoa(c.Writer.Status())),
		)
		m.HTTPRequestsTotal.Add(ctx, 1, attrs)
		m.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
