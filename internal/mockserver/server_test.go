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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Pactoria/internal/api"
	"github.com/AleutianAI/Pactoria/internal/clock"
	"github.com/AleutianAI/Pactoria/internal/realtime"
)

// =============================================================================
// Test Setup
// =============================================================================

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Options{
		Secret:   []byte("test-secret"),
		Gatherer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(buf)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/auth/login", "",
		api.LoginRequest{Email: DemoEmail, Password: DemoPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tok api.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))
	require.NotEmpty(t, tok.AccessToken)
	return tok.AccessToken
}

func detailOf(t *testing.T, w *httptest.ResponseRecorder) json.RawMessage {
	t.Helper()
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Detail
}

// =============================================================================
// Auth
// =============================================================================

func TestLogin_Success(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/auth/login", "",
		api.LoginRequest{Email: DemoEmail, Password: DemoPassword})

	require.Equal(t, http.StatusOK, w.Code)
	var tok api.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, 3600, tok.ExpiresIn)
	assert.Equal(t, DemoEmail, string(tok.User.Email))
}

func TestLogin_BadPassword(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/auth/login", "",
		api.LoginRequest{Email: DemoEmail, Password: "wrong"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `"Incorrect email or password"`, string(detailOf(t, w)))
}

func TestLogin_ValidationListDetail(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "not-an-email"})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var items []api.FieldError
	require.NoError(t, json.Unmarshal(detailOf(t, w), &items))
	require.Len(t, items, 2)
	assert.Equal(t, api.Loc{"body", "email"}, items[0].Loc)
	assert.Equal(t, "value is not a valid email address", items[0].Msg)
	assert.Equal(t, api.Loc{"body", "password"}, items[1].Loc)
	assert.Equal(t, "field required", items[1].Msg)
}

func TestAuth_RejectsMissingAndForeignTokens(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	other, err := New(Options{Secret: []byte("other"), Gatherer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(other.Close)
	foreign, err := other.IssueToken(DemoEmail)
	require.NoError(t, err)

	w = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/auth/me", foreign, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ExpiredToken(t *testing.T) {
	clk := clock.NewManual(time.Now())
	s, err := New(Options{
		Secret:   []byte("test-secret"),
		TokenTTL: time.Minute,
		Gatherer: prometheus.NewRegistry(),
		Clock:    clk,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	token, err := s.IssueToken(DemoEmail)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doJSON(t, s.Handler(), http.MethodGet, "/api/v1/auth/me", token, nil).Code)

	clk.Advance(2 * time.Minute)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, s.Handler(), http.MethodGet, "/api/v1/auth/me", token, nil).Code)
}

func TestExtractBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer abc", "", "abc"},
		{"case insensitive", "bearer abc", "", "abc"},
		{"basic auth", "Basic abc", "", ""},
		{"query fallback", "", "?token=xyz", "xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// Contracts
// =============================================================================

func TestContracts_CRUD(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/v1/contracts", token,
		api.ContractCreate{Title: "Supply deal", ContractType: "supply"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created api.Contract
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, api.StatusDraft, created.Status)
	assert.Equal(t, "GBP", created.Currency)
	assert.Equal(t, 1, created.Version)

	w = doJSON(t, h, http.MethodGet, "/api/v1/contracts?page=1&size=2", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list api.ContractList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, 2, list.Pages)
	require.Len(t, list.Contracts, 2)
	assert.Equal(t, created.ID, list.Contracts[0].ID, "new contracts are listed first")

	status := api.StatusActive
	w = doJSON(t, h, http.MethodPut, "/api/v1/contracts/"+created.ID, token, api.ContractUpdate{Status: &status})
	require.Equal(t, http.StatusOK, w.Code)
	var updated api.Contract
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, api.StatusActive, updated.Status)
	assert.Equal(t, 2, updated.Version)

	w = doJSON(t, h, http.MethodDelete, "/api/v1/contracts/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/v1/contracts/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `"Contract not found"`, string(detailOf(t, w)))
}

func TestContracts_ListFilters(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	w := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/contracts?status=active", token, nil)
	var list api.ContractList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Contracts, 1)
	assert.Equal(t, "Acme NDA", list.Contracts[0].Title)

	w = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/contracts?search=website", token, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Contracts, 1)
	assert.Equal(t, "Website Build", list.Contracts[0].Title)
}

func TestContracts_CreateValidation(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/contracts", token,
		api.ContractCreate{Title: "ab", ContractType: "nda"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var items []api.FieldError
	require.NoError(t, json.Unmarshal(detailOf(t, w), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "title", items[0].Field())
}

func TestContracts_UpdateRejectsUnknownStatus(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)
	id := s.store.order[0]

	w := doJSON(t, s.Handler(), http.MethodPut, "/api/v1/contracts/"+id, token,
		map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestBulk_PartialFailure(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)
	ids := append([]string{}, s.store.order...)

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/bulk/contracts/status", token,
		api.BulkStatusRequest{ContractIDs: append(ids, "missing"), Status: api.StatusTerminated})
	require.Equal(t, http.StatusOK, w.Code)
	var res api.BulkResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, []string{"missing"}, res.FailedIDs)

	w = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/bulk/contracts/delete", token,
		api.BulkDeleteRequest{ContractIDs: ids})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, res.SuccessCount)
	assert.Zero(t, res.FailedCount)
	assert.Empty(t, s.store.order)
}

func TestBulk_InvalidStatus(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/bulk/contracts/status", token,
		api.BulkStatusRequest{ContractIDs: []string{"x"}, Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Other resources
// =============================================================================

func TestResources(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)
	h := s.Handler()

	w := doJSON(t, h, http.MethodGet, "/api/v1/templates?category=employment", token, nil)
	var templates []api.Template
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &templates))
	require.Len(t, templates, 1)
	assert.Equal(t, "tpl-employment", templates[0].ID)

	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/api/v1/templates/nope", token, nil).Code)

	w = doJSON(t, h, http.MethodGet, "/api/v1/analytics/dashboard", token, nil)
	var dash api.Dashboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dash))
	assert.Equal(t, 2, dash.TotalContracts)
	assert.Equal(t, 1, dash.ActiveContracts)
	assert.Equal(t, 1, dash.DraftContracts)

	w = doJSON(t, h, http.MethodGet, "/api/v1/notifications?unread_only=true", token, nil)
	var notes api.NotificationList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notes))
	require.Len(t, notes.Notifications, 1)
	assert.Equal(t, 1, notes.UnreadCount)

	w = doJSON(t, h, http.MethodPut, "/api/v1/notifications/"+notes.Notifications[0].ID+"/read", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodGet, "/api/v1/notifications", token, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notes))
	assert.Zero(t, notes.UnreadCount)

	invite := api.InviteRequest{Email: "new@pactoria.com", FullName: "New Person", Role: "viewer"}
	assert.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/v1/team/invite", token, invite).Code)
	assert.Equal(t, http.StatusConflict, doJSON(t, h, http.MethodPost, "/api/v1/team/invite", token, invite).Code)

	w = doJSON(t, h, http.MethodGet, "/api/v1/team/members", token, nil)
	var team []api.TeamMember
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &team))
	assert.Len(t, team, 2)
}

// =============================================================================
// Fault injection and metrics
// =============================================================================

func TestFailNext(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)
	s.FailNext(http.MethodGet, "/api/v1/contracts/:id", http.StatusServiceUnavailable, 2)
	path := "/api/v1/contracts/" + s.store.order[0]

	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, s.Handler(), http.MethodGet, path, token, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, s.Handler(), http.MethodGet, path, token, nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, s.Handler(), http.MethodGet, path, token, nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "mock_extra_total", Help: "extra"}))
	s, err := New(Options{Gatherer: reg})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	w := doJSON(t, s.Handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = doJSON(t, s.Handler(), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mock_extra_total")
}

// =============================================================================
// Realtime hub
// =============================================================================

func dialHub(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_PingAndBroadcast(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	token := login(t, s)

	conn := dialHub(t, srv, token)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(realtime.Message{Type: realtime.TypePing}))
	var pong realtime.Message
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, realtime.TypePong, pong.Type)

	require.NoError(t, conn.WriteJSON(realtime.Message{Type: realtime.TypeSubscribe, Topics: []string{TopicContracts}}))
	require.Eventually(t, func() bool { return s.Hub().Subscribers(TopicContracts) == 1 },
		2*time.Second, 10*time.Millisecond)

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/contracts", token,
		api.ContractCreate{Title: "Realtime deal", ContractType: "nda"})
	require.Equal(t, http.StatusCreated, w.Code)

	var event realtime.Message
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, realtime.TypeContractCreated, event.Type)
	assert.Equal(t, TopicContracts, event.Topic)
	var c api.Contract
	require.NoError(t, event.Decode(&c))
	assert.Equal(t, "Realtime deal", c.Title)
}

func TestHub_DropAll(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	conn := dialHub(t, srv, login(t, s))
	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Hub().DropAll()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return s.Hub().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
