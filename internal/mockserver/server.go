// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mockserver is an in-memory Pactoria backend for development and
// tests.
//
// It serves the REST surface under /api/v1 and the realtime channel at
// /api/v1/ws. Errors use the {"detail": ...} body shape of the real
// backend, including the list form for validation failures.
//
//	Request
//	   │
//	   ▼
//	otelgin ─► metrics ─► faults ─► bearer auth ─► handler
//	                                               │
//	                                  contract changes ─► Hub.Broadcast
package mockserver

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/Pactoria/internal/clock"
	"github.com/AleutianAI/Pactoria/internal/telemetry"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

const (
	serviceName     = "pactoria-mock"
	defaultTokenTTL = time.Hour

	// userKey stores the authenticated email in the gin context.
	userKey = "pactoria_user"
)

// Options configures a Server. All fields are optional.
type Options struct {
	Logger *logging.Logger

	// Secret signs issued tokens. Default: 32 random bytes.
	Secret []byte

	// TokenTTL is the lifetime of issued tokens. Default: 1h.
	TokenTTL time.Duration

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Meter records server metrics. Default: otel.Meter("pactoria.mockserver").
	Meter metric.Meter

	Clock clock.Clock
}

// Server is the mock backend.
type Server struct {
	store    *store
	hub      *Hub
	router   *gin.Engine
	logger   *logging.Logger
	secret   []byte
	tokenTTL time.Duration
	clock    clock.Clock

	faultMu sync.Mutex
	faults  map[string]*fault
}

type fault struct {
	status    int
	remaining int
	detail    string
}

// New builds a Server with seeded data.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("pactoria.mockserver")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if len(opts.Secret) == 0 {
		opts.Secret = make([]byte, 32)
		if _, err := rand.Read(opts.Secret); err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
	}

	metrics, err := telemetry.NewServerMetrics(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("create server metrics: %w", err)
	}

	logger := opts.Logger.With("component", "mockserver")
	s := &Server{
		store:    newStore(opts.Clock.Now()),
		hub:      newHub(logger, metrics),
		logger:   logger,
		secret:   opts.Secret,
		tokenTTL: opts.TokenTTL,
		clock:    opts.Clock,
		faults:   make(map[string]*fault),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(metrics.GinMiddleware())
	router.Use(s.faultMiddleware())
	s.setupRoutes(router, opts.Gatherer)
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the realtime hub.
func (s *Server) Hub() *Hub { return s.hub }

// Close drops realtime connections and waits for them to finish.
func (s *Server) Close() { s.hub.Close() }

// FailNext makes the next times requests matching method and route (the
// gin pattern, e.g. "/api/v1/contracts/:id") fail with status.
func (s *Server) FailNext(method, route string, status, times int) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[method+" "+route] = &fault{status: status, remaining: times, detail: "Injected failure"}
}

func (s *Server) setupRoutes(router *gin.Engine, gatherer prometheus.Gatherer) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/login", s.handleLogin)
		v1.GET("/ws", s.handleWebSocket)

		authed := v1.Group("")
		authed.Use(s.authMiddleware())
		{
			authed.GET("/auth/me", s.handleMe)

			contracts := authed.Group("/contracts")
			{
				contracts.GET("", s.handleListContracts)
				contracts.POST("", s.handleCreateContract)
				contracts.GET("/:id", s.handleGetContract)
				contracts.PUT("/:id", s.handleUpdateContract)
				contracts.DELETE("/:id", s.handleDeleteContract)
			}

			bulk := authed.Group("/bulk/contracts")
			{
				bulk.POST("/status", s.handleBulkStatus)
				bulk.POST("/delete", s.handleBulkDelete)
			}

			authed.GET("/templates", s.handleListTemplates)
			authed.GET("/templates/:id", s.handleGetTemplate)
			authed.GET("/analytics/dashboard", s.handleDashboard)
			authed.GET("/notifications", s.handleListNotifications)
			authed.PUT("/notifications/:id/read", s.handleMarkRead)
			authed.GET("/team/members", s.handleListTeam)
			authed.POST("/team/invite", s.handleInvite)
		}
	}
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) faultMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Request.Method + " " + c.FullPath()

		s.faultMu.Lock()
		f, ok := s.faults[key]
		if ok {
			f.remaining--
			if f.remaining <= 0 {
				delete(s.faults, key)
			}
		}
		s.faultMu.Unlock()

		if ok {
			abortDetail(c, f.status, f.detail)
			return
		}
		c.Next()
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		email, err := s.verifyToken(extractBearerToken(c))
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			abortDetail(c, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		c.Set(userKey, email)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return c.Query("token")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// =============================================================================
// Tokens
// =============================================================================

// IssueToken signs an access token for email.
func (s *Server) IssueToken(email string) (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		Issuer:    serviceName,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (s *Server) verifyToken(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("missing token")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(serviceName),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return "", err
	}
	if _, ok := s.store.user(claims.Subject); !ok {
		return "", errors.New("unknown subject")
	}
	return claims.Subject, nil
}
