// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Pactoria/internal/request"
)

func TestDecodeError_Shapes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantDetail  string
		wantMessage string
		wantFields  int
	}{
		{"string detail", 404, `{"detail":"Contract not found"}`, "Contract not found", "", 0},
		{
			"list detail", 422,
			`{"detail":[{"loc":["body","title"],"msg":"field required","type":"value_error.missing"},` +
				`{"loc":["body","currency"],"msg":"bad length","type":"value_error"}]}`,
			"title: field required; currency: bad length", "", 2,
		},
		{
			"list detail with index", 422,
			`{"detail":[{"loc":["body","parties",0,"name"],"msg":"field required","type":"value_error.missing"}]}`,
			"parties.0.name: field required", "", 1,
		},
		{"object detail", 400, `{"detail":{"message":"Bad things"}}`, "Bad things", "", 0},
		{"message only", 500, `{"message":"boom"}`, "", "boom", 0},
		{"error field", 502, `{"error":"upstream down"}`, "", "upstream down", 0},
		{"plain text", 503, `Service Unavailable`, "", "Service Unavailable", 0},
		{"html body", 502, `<html><body>Bad Gateway</body></html>`, "", "", 0},
		{"empty body", 500, ``, "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := decodeError(tt.status, []byte(tt.body), "req-1")
			assert.Equal(t, tt.status, e.StatusCode)
			assert.Equal(t, tt.wantDetail, e.Detail)
			assert.Equal(t, tt.wantMessage, e.Message)
			assert.Len(t, e.Fields, tt.wantFields)
			assert.Equal(t, "req-1", e.RequestID)
		})
	}
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "api: 404 Not Found: Contract not found",
		(&Error{StatusCode: 404, Detail: "Contract not found"}).Error())
	assert.Equal(t, "api: 500 Internal Server Error",
		(&Error{StatusCode: 500}).Error())
}

func TestError_RequestMessagePrefersDetail(t *testing.T) {
	err := fmt.Errorf("load contract: %w", &Error{StatusCode: 422, Detail: "title: field required"})
	assert.Equal(t, "title: field required", request.Message(err))

	err = &Error{StatusCode: 500, Message: "boom"}
	assert.Equal(t, "boom", request.Message(err))
}

func TestError_IsSentinels(t *testing.T) {
	var err error = &Error{StatusCode: http.StatusUnauthorized}
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = fmt.Errorf("wrapped: %w", &Error{StatusCode: http.StatusNotFound})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", fmt.Errorf("get: %w", context.Canceled), false},
		{"no token", ErrNoToken, false},
		{"4xx", &Error{StatusCode: 400}, false},
		{"429", &Error{StatusCode: 429}, true},
		{"5xx", &Error{StatusCode: 503}, true},
		{"network", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTemporary(tt.err))
		})
	}
}

func TestDecodeError_IndexedLoc(t *testing.T) {
	body := `{"detail":[{"loc":["body","parties",1,"email"],"msg":"bad email","type":"value_error"},` +
		`{"loc":["query","page"],"msg":"not an int","type":"type_error"}]}`
	e := decodeError(422, []byte(body), "")

	require.Len(t, e.Fields, 2)
	assert.Equal(t, Loc{"body", "parties", "1", "email"}, e.Fields[0].Loc)
	assert.Equal(t, "parties.1.email", e.Fields[0].Field())
	assert.Equal(t, "page", e.Fields[1].Field())
	assert.Equal(t, "parties.1.email: bad email; page: not an int", e.Detail)
}

func TestLoc_JSON(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Loc
	}{
		{"strings", `["body","title"]`, Loc{"body", "title"}},
		{"index", `["body","items",0,"name"]`, Loc{"body", "items", "0", "name"}},
		{"empty", `[]`, Loc{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Loc
			require.NoError(t, json.Unmarshal([]byte(tt.json), &got))
			assert.Equal(t, tt.want, got)

			out, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(out))
		})
	}

	var bad Loc
	assert.Error(t, json.Unmarshal([]byte(`["body",{"x":1}]`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`"body"`), &bad))
}

func TestFieldError_Field(t *testing.T) {
	assert.Equal(t, "title", FieldError{Loc: []string{"body", "title"}}.Field())
	assert.Equal(t, "items.0.name", FieldError{Loc: []string{"body", "items", "0", "name"}}.Field())
	assert.Equal(t, "body", FieldError{Loc: []string{"body"}}.Field())
}

func TestContractUpdate_Apply(t *testing.T) {
	title := "Renamed"
	status := StatusActive
	base := Contract{ID: "c1", Title: "Old", Status: StatusDraft, ClientName: "Acme"}

	got := ContractUpdate{Title: &title, Status: &status}.Apply(base)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, "Acme", got.ClientName)
	require.Equal(t, "Old", base.Title)
}

func TestWebSocketURL(t *testing.T) {
	c, err := New(Options{Config: Config{BaseURL: "https://api.pactoria.com/"}})
	require.NoError(t, err)
	assert.Equal(t, "wss://api.pactoria.com/api/v1/ws", c.WebSocketURL())

	c, err = New(Options{Config: Config{BaseURL: "http://localhost:8000"}})
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/api/v1/ws", c.WebSocketURL())

	_, err = New(Options{Config: Config{BaseURL: "localhost:8000"}})
	assert.Error(t, err)
}
