// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package realtime maintains a persistent WebSocket connection to the
// Pactoria backend and re-establishes it after failures.
//
// # Description
//
// A Client moves through the states
//
//	disconnected ──Connect──► connecting ──dial ok──► connected
//	      ▲                        │                      │
//	      └──── failure/close ─────┴──────────────────────┘
//
// After each failure the attempt counter increments. While the counter is
// below Config.ReconnectAttempts and a token is held, the client redials
// after ReconnectDelay * 2^attempts, saturating at request.MaxDelay; otherwise it stays disconnected and
// reports ErrReconnectExhausted through OnError. A successful connection
// resets the counter, re-sends subscriptions for every remembered topic,
// and invokes OnConnect.
//
// Disconnect is terminal: it clears the token and stops any pending
// reconnect until Connect is called again.
//
// # Thread Safety
//
// Client is safe for concurrent use. Handlers and callbacks run on the
// client's background goroutine, never under its lock.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/Pactoria/internal/clock"
	"github.com/AleutianAI/Pactoria/internal/observability"
	"github.com/AleutianAI/Pactoria/internal/request"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds connection and reconnect settings.
type Config struct {
	URL string `yaml:"url" env:"URL" validate:"omitempty,url"`

	// ReconnectAttempts bounds consecutive failures. Zero means the default
	// of 5. One means never redial: the first failure ends the session.
	ReconnectAttempts int `yaml:"reconnect_attempts" env:"RECONNECT_ATTEMPTS" validate:"gte=0,lte=32"`

	// ReconnectDelay is the backoff base. Default: 1s.
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY" validate:"gte=0"`

	// PongTimeout closes the connection when a ping is not answered in
	// time. Zero disables liveness enforcement.
	PongTimeout time.Duration `yaml:"pong_timeout" env:"PONG_TIMEOUT" validate:"gte=0"`

	// WriteTimeout bounds each frame write. Default: 10s.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gte=0"`
}

// DefaultConfig returns the standard reconnect settings without a URL.
func DefaultConfig() Config {
	return Config{
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = d.ReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// backoff returns the reconnect delay after the given number of failures.
func (c Config) backoff(attempts int) time.Duration {
	d, _ := request.Backoff(c.ReconnectDelay, attempts)
	return d
}

// =============================================================================
// Transport
// =============================================================================

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a connection to url with the given handshake headers.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// WebsocketDialer adapts a gorilla dialer to a DialFunc. A nil dialer uses
// websocket.DefaultDialer.
func WebsocketDialer(d *websocket.Dialer) DialFunc {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		conn, resp, err := d.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return conn, nil
	}
}

// =============================================================================
// Client
// =============================================================================

// Options configures a Client.
type Options struct {
	Config Config
	Dial   DialFunc
	Clock  clock.Clock

	Logger  *logging.Logger
	Metrics *observability.Metrics

	// OnConnect runs after every successful connection, once
	// subscriptions have been re-sent.
	OnConnect func()

	// OnError receives transport failures, ErrPongTimeout and
	// ErrReconnectExhausted.
	OnError func(error)
}

// Client is a reconnecting WebSocket client.
type Client struct {
	cfg       Config
	dial      DialFunc
	clock     clock.Clock
	logger    *logging.Logger
	metrics   *observability.Metrics
	onConnect func()
	onError   func(error)

	mu          sync.Mutex
	gen         uint64
	token       string
	status      Status
	attempts    int
	lastMessage *Message
	conn        Conn
	cancel      context.CancelFunc
	topics      []string
	pongWait    chan struct{}

	handlers  map[string]map[uint64]Handler
	anyHandle map[uint64]Handler
	watchers  map[uint64]func(Status)
	nextID    uint64

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a disconnected Client.
func New(opts Options) *Client {
	if opts.Dial == nil {
		opts.Dial = WebsocketDialer(&websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		})
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Default()
	}
	return &Client{
		cfg:       opts.Config.withDefaults(),
		dial:      opts.Dial,
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "realtime"),
		metrics:   opts.Metrics,
		onConnect: opts.OnConnect,
		onError:   opts.OnError,
		status:    StatusDisconnected,
		handlers:  make(map[string]map[uint64]Handler),
		anyHandle: make(map[uint64]Handler),
		watchers:  make(map[uint64]func(Status)),
	}
}

// Connect stores token and opens the connection in the background. Any
// existing connection is replaced.
//
// # Inputs
//
//   - token: bearer token sent in the Authorization header of every dial.
//
// # Outputs
//
//   - error: ErrNoToken for an empty token. Connection failures are
//     reported through status and OnError, never returned.
func (c *Client) Connect(token string) error {
	if token == "" {
		return ErrNoToken
	}

	c.mu.Lock()
	old := c.teardownLocked()
	c.token = token
	c.attempts = 0
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	gen := c.gen
	c.status = StatusConnecting
	c.wg.Add(1)
	c.mu.Unlock()

	closeConn(old)
	c.notifyStatus(StatusConnecting)
	c.logger.Info("realtime connecting", "url", c.cfg.URL, "token_present", true)

	go c.run(ctx, gen)
	return nil
}

// Disconnect cancels any pending reconnect, clears the token, resets the
// attempt counter and closes the connection. No reconnect happens until
// the next Connect. It does not wait for the background goroutine; use
// Close for that.
func (c *Client) Disconnect() {
	c.mu.Lock()
	old := c.teardownLocked()
	c.token = ""
	c.attempts = 0
	changed := c.status != StatusDisconnected
	c.status = StatusDisconnected
	c.mu.Unlock()

	closeConn(old)
	c.metrics.RealtimeConnected.Set(0)
	if changed {
		c.notifyStatus(StatusDisconnected)
		c.logger.Info("realtime disconnected")
	}
}

// Close disconnects and waits for background work to finish. It must not
// be called from a Handler.
func (c *Client) Close() {
	c.Disconnect()
	c.wg.Wait()
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns the attempt counter, last message and connected flag.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Session{Attempts: c.attempts, Connected: c.status == StatusConnected}
	if c.lastMessage != nil {
		m := *c.lastMessage
		s.LastMessage = &m
	}
	return s
}

// Topics returns the remembered subscriptions.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.topics)
}

// Send writes msg to the open connection.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, msg)
}

// Subscribe remembers topics and, when connected, subscribes immediately.
// Remembered topics are re-sent after every reconnect.
func (c *Client) Subscribe(topics ...string) error {
	c.mu.Lock()
	added := make([]string, 0, len(topics))
	for _, t := range topics {
		if t != "" && !slices.Contains(c.topics, t) {
			c.topics = append(c.topics, t)
			added = append(added, t)
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || len(added) == 0 {
		return nil
	}
	return c.write(conn, Message{Type: TypeSubscribe, Topics: added})
}

// Unsubscribe forgets topics and, when connected, unsubscribes
// immediately.
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	removed := make([]string, 0, len(topics))
	c.topics = slices.DeleteFunc(c.topics, func(t string) bool {
		if slices.Contains(topics, t) {
			removed = append(removed, t)
			return true
		}
		return false
	})
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || len(removed) == 0 {
		return nil
	}
	return c.write(conn, Message{Type: TypeUnsubscribe, Topics: removed})
}

// Ping sends a liveness check. When Config.PongTimeout is set and no pong
// arrives in time, the connection is closed and the reconnect path runs.
func (c *Client) Ping() error {
	c.mu.Lock()
	conn := c.conn
	gen := c.gen
	var wait chan struct{}
	if conn != nil && c.cfg.PongTimeout > 0 && c.pongWait == nil {
		wait = make(chan struct{})
		c.pongWait = wait
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if wait != nil {
		go c.awaitPong(gen, conn, wait)
	}
	return c.write(conn, Message{Type: TypePing, Timestamp: c.clock.Now().UTC()})
}

// On registers h for messages of type typ and returns its cancel func.
func (c *Client) On(typ string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	if c.handlers[typ] == nil {
		c.handlers[typ] = make(map[uint64]Handler)
	}
	c.handlers[typ][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[typ], id)
	}
}

// OnAny registers h for every inbound message.
func (c *Client) OnAny(h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.anyHandle[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.anyHandle, id)
	}
}

// WatchStatus registers fn for status transitions.
func (c *Client) WatchStatus(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

// =============================================================================
// Connection loop
// =============================================================================

// run owns one Connect session: dial, read until failure, back off, and
// redial until the session is cancelled or attempts run out.
func (c *Client) run(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	for {
		conn, err := c.dialOnce(ctx)
		if err == nil {
			if !c.opened(gen, conn) {
				return
			}
			err = c.readLoop(gen, conn)
			closeConn(conn)
		}
		if ctx.Err() != nil {
			return
		}

		delay, retry := c.failed(gen, err)
		if !retry {
			return
		}

		timer := c.clock.NewTimer(delay)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return
		}

		if !c.transition(gen, StatusConnecting) {
			return
		}
	}
}

func (c *Client) dialOnce(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return c.dial(ctx, c.cfg.URL, header)
}

// opened records a successful dial. It reports false when the session was
// replaced while dialing.
func (c *Client) opened(gen uint64, conn Conn) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		closeConn(conn)
		return false
	}
	c.conn = conn
	c.attempts = 0
	c.status = StatusConnected
	topics := slices.Clone(c.topics)
	c.mu.Unlock()

	c.metrics.RealtimeConnected.Set(1)
	c.notifyStatus(StatusConnected)
	c.logger.Info("realtime connected", "url", c.cfg.URL, "topics", len(topics))

	if len(topics) > 0 {
		if err := c.write(conn, Message{Type: TypeSubscribe, Topics: topics}); err != nil {
			c.logger.Warn("resubscribe failed", "error", err)
		}
	}
	if c.onConnect != nil {
		c.onConnect()
	}
	return true
}

func (c *Client) readLoop(gen uint64, conn Conn) error {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				c.logger.Warn("realtime dropped malformed message", "error", err)
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(gen, msg)
	}
}

// isDecodeError reports whether err came from a frame that arrived intact
// but did not decode as a Message.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// failed records a dropped or refused connection and decides whether to
// redial.
func (c *Client) failed(gen uint64, cause error) (time.Duration, bool) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return 0, false
	}
	c.conn = nil
	if c.pongWait != nil {
		close(c.pongWait)
		c.pongWait = nil
	}
	c.attempts++
	attempts := c.attempts
	c.status = StatusDisconnected
	retry := c.token != "" && attempts < c.cfg.ReconnectAttempts
	c.mu.Unlock()

	c.metrics.RealtimeConnected.Set(0)
	c.notifyStatus(StatusError)
	c.notifyStatus(StatusDisconnected)
	c.reportError(cause)

	if !retry {
		c.logger.Warn("realtime giving up", "attempts", attempts, "error", cause)
		c.reportError(ErrReconnectExhausted)
		return 0, false
	}

	delay := c.cfg.backoff(attempts)
	c.metrics.RealtimeReconnects.Inc()
	c.logger.Warn("realtime reconnect scheduled", "attempt", attempts, "delay", delay, "error", cause)
	return delay, true
}

// transition sets status for the current session only.
func (c *Client) transition(gen uint64, s Status) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.status = s
	c.mu.Unlock()
	c.notifyStatus(s)
	return true
}

func (c *Client) dispatch(gen uint64, msg Message) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	m := msg
	c.lastMessage = &m
	if msg.Type == TypePong && c.pongWait != nil {
		close(c.pongWait)
		c.pongWait = nil
	}
	hs := make([]Handler, 0, len(c.handlers[msg.Type])+len(c.anyHandle))
	for _, h := range c.handlers[msg.Type] {
		hs = append(hs, h)
	}
	for _, h := range c.anyHandle {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	c.metrics.RealtimeMessages.WithLabelValues(msg.Type).Inc()
	for _, h := range hs {
		h(msg)
	}
}

// awaitPong closes conn if wait is not closed within PongTimeout.
func (c *Client) awaitPong(gen uint64, conn Conn, wait chan struct{}) {
	defer c.wg.Done()

	timer := c.clock.NewTimer(c.cfg.PongTimeout)
	select {
	case <-wait:
		timer.Stop()
		return
	case <-timer.C():
	}

	c.mu.Lock()
	current := c.gen == gen && c.conn == conn
	if c.pongWait == wait {
		c.pongWait = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}

	c.logger.Warn("realtime pong timeout", "timeout", c.cfg.PongTimeout)
	c.reportError(ErrPongTimeout)
	closeConn(conn)
}

func (c *Client) write(conn Conn, msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(c.clock.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// teardownLocked invalidates the current session and returns the
// connection the caller must close after unlocking.
func (c *Client) teardownLocked() Conn {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.pongWait != nil {
		close(c.pongWait)
		c.pongWait = nil
	}
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *Client) notifyStatus(s Status) {
	c.mu.Lock()
	ws := make([]func(Status), 0, len(c.watchers))
	for _, fn := range c.watchers {
		ws = append(ws, fn)
	}
	c.mu.Unlock()

	for _, fn := range ws {
		fn(s)
	}
}

func (c *Client) reportError(err error) {
	if c.onError != nil && err != nil {
		c.onError(err)
	}
}

func closeConn(conn Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}
