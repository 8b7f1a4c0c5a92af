// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mockserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/Pactoria/internal/realtime"
	"github.com/AleutianAI/Pactoria/internal/telemetry"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

// TopicContracts carries contract_created/updated/deleted events.
const TopicContracts = "contracts"

const sendBuffer = 32

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type wsClient struct {
	conn   *websocket.Conn
	userID string
	topics map[string]bool
	send   chan realtime.Message
}

// Hub tracks WebSocket clients and their topic subscriptions.
//
// # Thread Safety
//
// Hub is safe for concurrent use.
type Hub struct {
	logger  *logging.Logger
	metrics *telemetry.ServerMetrics

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func newHub(logger *logging.Logger, metrics *telemetry.ServerMetrics) *Hub {
	return &Hub{
		logger:  logger.With("component", "hub"),
		metrics: metrics,
		clients: make(map[*wsClient]struct{}),
	}
}

// Broadcast delivers msg to every client subscribed to topic. Slow clients
// whose buffer is full miss the message.
func (h *Hub) Broadcast(topic string, msg realtime.Message) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Topic = topic

	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for c := range h.clients {
		if !c.topics[topic] {
			continue
		}
		select {
		case c.send <- msg:
			delivered++
		default:
			h.logger.Warn("dropping message for slow client", "user", c.userID, "type", msg.Type)
		}
	}
	h.metrics.WSBroadcasts.Add(context.Background(), int64(delivered),
		metric.WithAttributes(attribute.String("type", msg.Type)))
	return delivered
}

// Subscribers returns the number of clients subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if c.topics[topic] {
			n++
		}
	}
	return n
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// DropAll closes every connection, as a server restart would.
func (h *Hub) DropAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// Close drops every connection, refuses new ones, and waits for the
// connection goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.DropAll()
	h.wg.Wait()
}

// serve upgrades the request and runs the connection until it closes.
func (h *Hub) serve(c *gin.Context, userID string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		userID: userID,
		topics: make(map[string]bool),
		send:   make(chan realtime.Message, sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	ctx := context.Background()
	h.metrics.WSConnections.Add(ctx, 1)
	h.logger.Info("websocket client connected", "user", userID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range client.send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
			}
		}
	}()

	h.readLoop(client)

	h.mu.Lock()
	delete(h.clients, client)
	close(client.send)
	h.mu.Unlock()

	<-writerDone
	_ = conn.Close()
	h.metrics.WSConnections.Add(ctx, -1)
	h.logger.Info("websocket client disconnected", "user", userID)
	h.wg.Done()
}

func (h *Hub) readLoop(client *wsClient) {
	for {
		var msg realtime.Message
		if err := client.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case realtime.TypeSubscribe:
			h.mu.Lock()
			for _, t := range msg.Topics {
				client.topics[t] = true
			}
			h.mu.Unlock()

		case realtime.TypeUnsubscribe:
			h.mu.Lock()
			for _, t := range msg.Topics {
				delete(client.topics, t)
			}
			h.mu.Unlock()

		case realtime.TypePing:
			h.mu.Lock()
			select {
			case client.send <- realtime.Message{Type: realtime.TypePong, Timestamp: time.Now().UTC()}:
			default:
			}
			h.mu.Unlock()

		default:
			h.logger.Debug("ignoring client message", "type", msg.Type)
		}
	}
}
