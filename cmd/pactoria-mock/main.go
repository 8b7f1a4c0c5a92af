// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pactoria-mock serves an in-memory Pactoria backend.
//
// Usage:
//
//	go run ./cmd/pactoria-mock
//	go run ./cmd/pactoria-mock -port 9000 -debug
//
// Example requests:
//
//	# Log in with the seeded account
//	curl -X POST http://localhost:8000/api/v1/auth/login \
//	  -H "Content-Type: application/json" \
//	  -d '{"email": "demo@pactoria.com", "password": "Demo123!"}'
//
//	# Prometheus metrics
//	curl http://localhost:8000/metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/Pactoria/internal/mockserver"
	"github.com/AleutianAI/Pactoria/internal/telemetry"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

func main() {
	port := flag.Int("port", 8000, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug logging")
	traces := flag.String("traces", telemetry.ExporterNone, "Trace exporter: otlp, stdout, none")
	secret := flag.String("secret", os.Getenv("PACTORIA_MOCK_SECRET"), "Token signing secret (random when empty)")
	flag.Parse()

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level, Service: "pactoria-mock"})
	defer logger.Close()

	if err := run(logger, *port, *traces, []byte(*secret)); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger, port int, traces string, secret []byte) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = "pactoria-mock"
	tcfg.TraceExporter = traces
	tcfg.MetricExporter = telemetry.ExporterPrometheus
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	srv, err := mockserver.New(mockserver.Options{
		Logger:   logger,
		Secret:   secret,
		Gatherer: prometheus.DefaultGatherer,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting mock backend", "address", httpServer.Addr,
			"demo_email", mockserver.DemoEmail)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down mock backend")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Hub().DropAll()
	return httpServer.Shutdown(sctx)
}
