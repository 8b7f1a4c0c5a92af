// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/Pactoria/internal/clock"
	"github.com/AleutianAI/Pactoria/internal/observability"
	"github.com/AleutianAI/Pactoria/internal/request"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

// =============================================================================
// Test server
// =============================================================================

type wsServer struct {
	*httptest.Server
	auth     chan string
	received chan Message
	outbox   chan Message
	raw      chan []byte
	kick     chan struct{}
	pong     atomic.Bool
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		auth:     make(chan string, 16),
		received: make(chan Message, 64),
		outbox:   make(chan Message, 16),
		raw:      make(chan []byte, 4),
		kick:     make(chan struct{}, 1),
	}
	s.pong.Store(true)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.auth <- r.Header.Get("Authorization")

		in := make(chan Message)
		go func() {
			defer close(in)
			for {
				var m Message
				if err := conn.ReadJSON(&m); err != nil {
					return
				}
				in <- m
			}
		}()

		for {
			select {
			case m, ok := <-in:
				if !ok {
					return
				}
				s.received <- m
				if m.Type == TypePing && s.pong.Load() {
					_ = conn.WriteJSON(Message{Type: TypePong})
				}
			case m := <-s.outbox:
				_ = conn.WriteJSON(m)
			case b := <-s.raw:
				_ = conn.WriteMessage(websocket.TextMessage, b)
			case <-s.kick:
				_ = conn.Close()
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) nextReceived(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-s.received:
		return m
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for client message")
		return Message{}
	}
}

func (s *wsServer) nextAuth(t *testing.T) string {
	t.Helper()
	select {
	case a := <-s.auth:
		return a
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for handshake")
		return ""
	}
}

func newTestClient(cfg Config, opts Options) *Client {
	opts.Config = cfg
	if opts.Clock == nil {
		opts.Clock = clock.NewFake(time.Now())
	}
	opts.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	return New(opts)
}

func waitStatus(t *testing.T, c *Client, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want }, waitFor, 5*time.Millisecond,
		"status never became %s", want)
}

// =============================================================================
// Tests
// =============================================================================

func TestConnect_RequiresToken(t *testing.T) {
	c := newTestClient(Config{URL: "ws://unused"}, Options{})
	assert.ErrorIs(t, c.Connect(""), ErrNoToken)
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestSend_NotConnected(t *testing.T) {
	c := newTestClient(Config{URL: "ws://unused"}, Options{})
	assert.ErrorIs(t, c.Send(Message{Type: "x"}), ErrNotConnected)
	assert.ErrorIs(t, c.Ping(), ErrNotConnected)
}

func TestConnect_SendsBearerAndResubscribes(t *testing.T) {
	srv := newWSServer(t)
	var connected atomic.Int32
	c := newTestClient(Config{URL: srv.url()}, Options{OnConnect: func() { connected.Add(1) }})
	defer c.Close()

	require.NoError(t, c.Subscribe("contracts", "notifications"))
	require.NoError(t, c.Connect("token-a"))

	assert.Equal(t, "Bearer token-a", srv.nextAuth(t))
	sub := srv.nextReceived(t)
	assert.Equal(t, TypeSubscribe, sub.Type)
	assert.Equal(t, []string{"contracts", "notifications"}, sub.Topics)

	waitStatus(t, c, StatusConnected)
	assert.Equal(t, int32(1), connected.Load())
	assert.True(t, c.Session().Connected)
}

func TestSubscribe_WhileConnectedSendsOnlyNewTopics(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(Config{URL: srv.url()}, Options{})
	defer c.Close()

	require.NoError(t, c.Connect("tok"))
	srv.nextAuth(t)
	waitStatus(t, c, StatusConnected)

	require.NoError(t, c.Subscribe("contracts"))
	assert.Equal(t, []string{"contracts"}, srv.nextReceived(t).Topics)

	require.NoError(t, c.Subscribe("contracts", "team"))
	assert.Equal(t, []string{"team"}, srv.nextReceived(t).Topics)

	require.NoError(t, c.Unsubscribe("contracts"))
	unsub := srv.nextReceived(t)
	assert.Equal(t, TypeUnsubscribe, unsub.Type)
	assert.Equal(t, []string{"contracts"}, unsub.Topics)
	assert.Equal(t, []string{"team"}, c.Topics())
}

func TestDispatch_ByTypeAndUnknownUpdatesLastMessage(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(Config{URL: srv.url()}, Options{})
	defer c.Close()

	updates := make(chan Message, 4)
	all := make(chan Message, 4)
	c.On(TypeContractUpdated, func(m Message) { updates <- m })
	c.OnAny(func(m Message) { all <- m })

	require.NoError(t, c.Connect("tok"))
	srv.nextAuth(t)
	waitStatus(t, c, StatusConnected)

	msg, err := NewMessage(TypeContractUpdated, "contracts", map[string]string{"id": "c1"})
	require.NoError(t, err)
	srv.outbox <- msg

	select {
	case got := <-updates:
		var body map[string]string
		require.NoError(t, got.Decode(&body))
		assert.Equal(t, "c1", body["id"])
	case <-time.After(waitFor):
		t.Fatal("handler not invoked")
	}
	<-all

	srv.outbox <- Message{Type: "mystery"}
	select {
	case got := <-all:
		assert.Equal(t, "mystery", got.Type)
	case <-time.After(waitFor):
		t.Fatal("unknown message not observed")
	}
	assert.Empty(t, updates)
	require.Eventually(t, func() bool {
		last := c.Session().LastMessage
		return last != nil && last.Type == "mystery"
	}, waitFor, 5*time.Millisecond)
}

func TestReconnect_AfterServerClose(t *testing.T) {
	srv := newWSServer(t)
	fake := clock.NewFake(time.Now())
	var connects atomic.Int32
	c := newTestClient(Config{URL: srv.url(), ReconnectDelay: 100 * time.Millisecond},
		Options{Clock: fake, OnConnect: func() { connects.Add(1) }})
	defer c.Close()

	require.NoError(t, c.Subscribe("contracts"))
	require.NoError(t, c.Connect("tok"))
	srv.nextAuth(t)
	srv.nextReceived(t)
	waitStatus(t, c, StatusConnected)

	srv.kick <- struct{}{}

	assert.Equal(t, "Bearer tok", srv.nextAuth(t))
	resub := srv.nextReceived(t)
	assert.Equal(t, TypeSubscribe, resub.Type)
	assert.Equal(t, []string{"contracts"}, resub.Topics)

	require.Eventually(t, func() bool { return connects.Load() == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, c.Session().Attempts)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, fake.Delays())
}

func TestReconnect_StopsAfterBound(t *testing.T) {
	fake := clock.NewFake(time.Now())
	var dials atomic.Int32
	dial := func(context.Context, string, http.Header) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	exhausted := make(chan struct{})
	var once sync.Once
	var statuses []Status
	var mu sync.Mutex

	c := newTestClient(Config{URL: "ws://backend", ReconnectAttempts: 5, ReconnectDelay: 100 * time.Millisecond},
		Options{Clock: fake, Dial: dial, OnError: func(err error) {
			if errors.Is(err, ErrReconnectExhausted) {
				once.Do(func() { close(exhausted) })
			}
		}})
	c.WatchStatus(func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})
	defer c.Close()

	require.NoError(t, c.Connect("token-a"))

	select {
	case <-exhausted:
	case <-time.After(waitFor):
		t.Fatal("reconnector never gave up")
	}

	assert.Equal(t, int32(5), dials.Load(), "no 6th attempt")
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, 5, c.Session().Attempts)
	assert.Equal(t, []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}, fake.Delays())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StatusConnecting, statuses[0])
	assert.Contains(t, statuses, StatusError)
	assert.Equal(t, StatusDisconnected, statuses[len(statuses)-1])
}

func TestDisconnect_IsTerminal(t *testing.T) {
	manual := clock.NewManual(time.Now())
	var dials atomic.Int32
	dial := func(context.Context, string, http.Header) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("unreachable")
	}
	c := newTestClient(Config{URL: "ws://backend"}, Options{Clock: manual, Dial: dial})
	defer c.Close()

	require.NoError(t, c.Connect("tok"))
	require.Eventually(t, func() bool { return manual.Pending() == 1 }, waitFor, 5*time.Millisecond)

	c.Disconnect()
	waitStatus(t, c, StatusDisconnected)
	manual.Advance(time.Hour)

	c.Close()
	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, 0, c.Session().Attempts)
}

func TestPing_PongTimeoutTriggersReconnect(t *testing.T) {
	srv := newWSServer(t)
	srv.pong.Store(false)
	manual := clock.NewManual(time.Now())
	errs := make(chan error, 8)
	c := newTestClient(Config{URL: srv.url(), PongTimeout: 5 * time.Second},
		Options{Clock: manual, OnError: func(err error) { errs <- err }})
	defer c.Close()

	require.NoError(t, c.Connect("tok"))
	srv.nextAuth(t)
	waitStatus(t, c, StatusConnected)

	require.NoError(t, c.Ping())
	assert.Equal(t, TypePing, srv.nextReceived(t).Type)
	require.Eventually(t, func() bool { return manual.Pending() == 1 }, waitFor, 5*time.Millisecond)

	manual.Advance(5 * time.Second)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrPongTimeout)
	case <-time.After(waitFor):
		t.Fatal("pong timeout not reported")
	}
	require.Eventually(t, func() bool { return c.Session().Attempts == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestPing_PongCancelsTimeout(t *testing.T) {
	srv := newWSServer(t)
	manual := clock.NewManual(time.Now())
	c := newTestClient(Config{URL: srv.url(), PongTimeout: 5 * time.Second}, Options{Clock: manual})
	defer c.Close()

	require.NoError(t, c.Connect("tok"))
	srv.nextAuth(t)
	waitStatus(t, c, StatusConnected)

	require.NoError(t, c.Ping())
	srv.nextReceived(t)
	require.Eventually(t, func() bool {
		last := c.Session().LastMessage
		return last != nil && last.Type == TypePong
	}, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return manual.Pending() == 0 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StatusConnected, c.Status())
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.backoff(1))
	assert.Equal(t, 16*time.Second, cfg.backoff(4))

	assert.Equal(t, time.Second<<33, cfg.backoff(33))
	assert.Equal(t, request.MaxDelay, cfg.backoff(34))
	assert.Equal(t, request.MaxDelay, cfg.backoff(64))
	for n := 1; n < 70; n++ {
		assert.Positive(t, cfg.backoff(n), "backoff after %d failures", n)
		assert.LessOrEqual(t, cfg.backoff(n), cfg.backoff(n+1))
	}
}

func TestConfig_ReconnectAttemptsDefaults(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		want     int
	}{
		{"zero means default", 0, 5},
		{"one is kept", 1, 1},
		{"explicit", 8, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Config{ReconnectAttempts: tt.attempts}.withDefaults().ReconnectAttempts)
		})
	}
}

func TestReconnect_SingleAttemptNeverRedials(t *testing.T) {
	fake := clock.NewFake(time.Now())
	var dials atomic.Int32
	dial := func(context.Context, string, http.Header) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	exhausted := make(chan struct{})
	var once sync.Once
	c := newTestClient(Config{URL: "ws://backend", ReconnectAttempts: 1},
		Options{Clock: fake, Dial: dial, OnError: func(err error) {
			if errors.Is(err, ErrReconnectExhausted) {
				once.Do(func() { close(exhausted) })
			}
		}})
	defer c.Close()

	require.NoError(t, c.Connect("tok"))

	select {
	case <-exhausted:
	case <-time.After(waitFor):
		t.Fatal("reconnector never gave up")
	}
	assert.Equal(t, int32(1), dials.Load())
	assert.Empty(t, fake.Delays())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestReadLoop_SkipsMalformedFrames(t *testing.T) {
	srv := newWSServer(t)
	errs := make(chan error, 8)
	c := newTestClient(Config{URL: srv.url()}, Options{OnError: func(err error) { errs <- err }})
	defer c.Close()

	all := make(chan Message, 4)
	c.OnAny(func(m Message) { all <- m })

	require.NoError(t, c.Connect("tok"))
	srv.nextAuth(t)
	waitStatus(t, c, StatusConnected)

	srv.raw <- []byte("{not json")
	srv.raw <- []byte(`{"type": 5}`)
	srv.outbox <- Message{Type: TypeContractUpdated}

	select {
	case got := <-all:
		assert.Equal(t, TypeContractUpdated, got.Type)
	case <-time.After(waitFor):
		t.Fatal("message after malformed frames not dispatched")
	}
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, 0, c.Session().Attempts)
	assert.Empty(t, errs)
}

func TestReconnect_ClearsPendingPong(t *testing.T) {
	srv := newWSServer(t)
	srv.pong.Store(false)
	manual := clock.NewManual(time.Now())
	errs := make(chan error, 8)
	c := newTestClient(Config{URL: srv.url(), PongTimeout: 5 * time.Second},
		Options{Clock: manual, OnError: func(err error) { errs <- err }})
	defer c.Close()

	require.NoError(t, c.Connect("tok"))
	srv.nextAuth(t)
	waitStatus(t, c, StatusConnected)

	require.NoError(t, c.Ping())
	srv.nextReceived(t)
	require.Eventually(t, func() bool { return manual.Pending() == 1 }, waitFor, 5*time.Millisecond)

	// Dropped before the pong arrived: only the reconnect timer remains.
	srv.kick <- struct{}{}
	require.Eventually(t, func() bool {
		return len(manual.Delays()) == 2 && manual.Pending() == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{5 * time.Second, 2 * time.Second}, manual.Delays())

	manual.Advance(2 * time.Second)
	srv.nextAuth(t)
	waitStatus(t, c, StatusConnected)
	require.Eventually(t, func() bool { return manual.Pending() == 0 }, waitFor, 5*time.Millisecond)

	require.NoError(t, c.Ping())
	assert.Equal(t, TypePing, srv.nextReceived(t).Type)
	require.Eventually(t, func() bool { return manual.Pending() == 1 }, waitFor, 5*time.Millisecond)

	manual.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		for {
			select {
			case err := <-errs:
				if errors.Is(err, ErrPongTimeout) {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, 5*time.Millisecond)
}
