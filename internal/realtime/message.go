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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the connection state of a Client.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Message types exchanged with the backend.
const (
	TypePing        = "ping"
	TypePong        = "pong"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	TypeContractCreated = "contract_created"
	TypeContractUpdated = "contract_updated"
	TypeContractDeleted = "contract_deleted"
	TypeNotification    = "notification"
)

var (
	// ErrNotConnected is returned by Send and Ping while no connection is open.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrReconnectExhausted is passed to OnError when the client stops
	// reconnecting.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")

	// ErrNoToken is returned by Connect when called with an empty token.
	ErrNoToken = errors.New("realtime: token required")

	// ErrPongTimeout is passed to OnError when a ping goes unanswered.
	ErrPongTimeout = errors.New("realtime: pong timeout")
)

// Message is one frame on the duplex channel. Type is the dispatch key.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Topics    []string        `json:"topics,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// NewMessage builds a Message whose Data is the JSON encoding of data.
func NewMessage(typ, topic string, data any) (Message, error) {
	msg := Message{Type: typ, Topic: topic}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		msg.Data = raw
	}
	return msg, nil
}

// Decode unmarshals Data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Session is a point-in-time view of the connection bookkeeping.
type Session struct {
	// Attempts counts consecutive failures since the last successful
	// connection.
	Attempts    int
	LastMessage *Message
	Connected   bool
}

// Handler receives dispatched messages. Handlers run on the client's read
// goroutine and must not block.
type Handler func(Message)
