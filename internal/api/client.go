// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api is the REST transport for the Pactoria backend.
//
// # Description
//
// Client issues JSON requests under /api/v1, attaches the bearer token from
// a TokenSource, and decodes every non-2xx response into an *Error. Raw
// transport errors never escape without context: callers see either a
// decoded *Error or a wrapped network error.
//
// Identical concurrent GETs are collapsed into one round trip, and all
// requests pass through a client-side rate limiter.
//
// # Thread Safety
//
// Client is safe for concurrent use.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Pactoria/internal/observability"
	"github.com/AleutianAI/Pactoria/internal/telemetry"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

const (
	// APIPrefix is prepended to every resource path.
	APIPrefix = "/api/v1"

	// DefaultTimeout bounds a single round trip.
	DefaultTimeout = 30 * time.Second

	// RequestIDHeader carries the per-request correlation id.
	RequestIDHeader = "X-Request-ID"

	tracerName = "pactoria.api"

	maxErrorBody = 64 << 10
)

// TokenSource supplies the bearer token. An empty token with a nil error
// means "not logged in".
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token() (string, error) { return string(s), nil }

// Config holds transport settings.
type Config struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`

	// RateLimit is the sustained request rate per second. Zero disables
	// throttling.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT" validate:"gte=0"`
	Burst     int     `yaml:"burst" env:"BURST" validate:"gte=0"`
}

// Options configures a Client.
type Options struct {
	Config     Config
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *logging.Logger
	Metrics    *observability.Metrics
}

// Client is a Pactoria REST client.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *logging.Logger
	metrics *observability.Metrics
}

// New creates a Client.
//
// # Inputs
//
//   - opts.Config.BaseURL: backend origin, e.g. "http://localhost:8000".
//     The /api/v1 prefix is added by the client.
//
// # Outputs
//
//   - *Client: ready client.
//   - error: when BaseURL does not parse as an absolute URL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.Config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.Config.BaseURL)
	}

	if opts.HTTPClient == nil {
		timeout := opts.Config.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.Tokens == nil {
		opts.Tokens = StaticToken("")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Default()
	}

	limit := rate.Inf
	if opts.Config.RateLimit > 0 {
		limit = rate.Limit(opts.Config.RateLimit)
	}
	burst := opts.Config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: base,
		http:    opts.HTTPClient,
		tokens:  opts.Tokens,
		limiter: rate.NewLimiter(limit, burst),
		logger:  opts.Logger.With("component", "api"),
		metrics: opts.Metrics,
	}, nil
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// WebSocketURL returns the realtime endpoint derived from the base URL.
func (c *Client) WebSocketURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + APIPrefix + "/ws"
	return u.String()
}

// call describes one request.
type call struct {
	method string
	// route is the path template used for metrics and span names.
	route string
	path  string
	query url.Values
	body  any
	out   any
	// anonymous skips the Authorization header.
	anonymous bool
}

// do executes c and decodes the response into c.out.
func (c *Client) do(ctx context.Context, cl call) error {
	if cl.method == http.MethodGet && cl.body == nil {
		key := cl.path + "?" + cl.query.Encode()
		v, err, _ := c.group.Do(key, func() (any, error) {
			return c.roundTrip(ctx, cl)
		})
		if err != nil {
			return err
		}
		return decodeInto(v.([]byte), cl.out)
	}

	raw, err := c.roundTrip(ctx, cl)
	if err != nil {
		return err
	}
	return decodeInto(raw, cl.out)
}

func (c *Client) roundTrip(ctx context.Context, cl call) (_ []byte, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, cl.method+" "+cl.route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", cl.method),
			attribute.String("http.route", cl.route),
		),
	)
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.SetSpanOK(span)
		}
		span.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := c.newRequest(ctx, cl)
	if err != nil {
		return nil, err
	}
	requestID := req.Header.Get(RequestIDHeader)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveAPI(cl.method, cl.route, 0, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", cl.method, cl.route, ctxErr)
		}
		return nil, fmt.Errorf("%s %s: %w", cl.method, cl.route, err)
	}
	defer resp.Body.Close()

	c.metrics.ObserveAPI(cl.method, cl.route, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := decodeError(resp.StatusCode, body, requestID)
		c.logger.Debug("api error", "method", cl.method, "route", cl.route,
			"status", resp.StatusCode, "request_id", requestID)
		return nil, apiErr
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", cl.method, cl.route, err)
	}
	return raw, nil
}

func (c *Client) newRequest(ctx context.Context, cl call) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + APIPrefix + cl.path
	if len(cl.query) > 0 {
		u.RawQuery = cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		buf, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	telemetry.InjectContext(ctx, req.Header)

	if !cl.anonymous {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("read token: %w", err)
		}
		if token == "" {
			return nil, ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func decodeInto(raw []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsTemporary reports whether err is worth retrying: network failures,
// 429 and 5xx responses. Cancellations and 4xx responses are not.
func IsTemporary(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNoToken) {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
