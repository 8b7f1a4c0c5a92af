// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Pactoria/internal/api"
	"github.com/AleutianAI/Pactoria/internal/clock"
	"github.com/AleutianAI/Pactoria/internal/mockserver"
	"github.com/AleutianAI/Pactoria/internal/observability"
	"github.com/AleutianAI/Pactoria/internal/realtime"
	"github.com/AleutianAI/Pactoria/internal/request"
	"github.com/AleutianAI/Pactoria/internal/storage"
)

// =============================================================================
// Test Setup
// =============================================================================

type fixture struct {
	server  *mockserver.Server
	url     string
	store   *storage.Store
	clock   clock.Clock
	metrics *observability.Metrics
}

func newFixture(t *testing.T, clk clock.Clock) *fixture {
	t.Helper()
	srv, err := mockserver.New(mockserver.Options{
		Secret:   []byte("session-test"),
		Gatherer: prometheus.NewRegistry(),
		Clock:    clk,
	})
	require.NoError(t, err)
	hs := httptest.NewServer(srv.Handler())

	st, err := storage.Open(storage.InMemoryConfig(), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		srv.Close()
		hs.Close()
		_ = st.Close()
	})
	return &fixture{
		server:  srv,
		url:     hs.URL,
		store:   st,
		clock:   clk,
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) bootstrap(t *testing.T, autoConnect bool) *Session {
	t.Helper()
	s, err := Bootstrap(context.Background(), Deps{
		API:         api.Config{BaseURL: f.url},
		Retry:       request.NoRetry(),
		Storage:     f.store,
		AutoConnect: autoConnect,
		Clock:       f.clock,
		Metrics:     f.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// =============================================================================
// Tests
// =============================================================================

func TestBootstrap_RequiresBaseURL(t *testing.T) {
	_, err := Bootstrap(context.Background(), Deps{})
	assert.Error(t, err)
}

func TestBootstrap_Anonymous(t *testing.T) {
	f := newFixture(t, nil)
	s := f.bootstrap(t, false)

	assert.False(t, s.Authenticated())
	_, ok := s.User()
	assert.False(t, ok)

	_, err := s.Whoami(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, s.Connect(), ErrNotLoggedIn)
}

func TestLogin_PersistsAndRestores(t *testing.T) {
	clk := clock.NewManual(time.Now())
	f := newFixture(t, clk)
	ctx := context.Background()

	s := f.bootstrap(t, false)
	user, err := s.Login(ctx, mockserver.DemoEmail, mockserver.DemoPassword)
	require.NoError(t, err)
	assert.Equal(t, mockserver.DemoEmail, string(user.Email))
	assert.True(t, s.Authenticated())

	st, err := s.Contracts.Load(ctx, api.ListParams{})
	require.NoError(t, err)
	assert.Len(t, st.Contracts, 2)
	s.Close()

	// A second process start picks the login up from storage.
	restored := f.bootstrap(t, false)
	assert.True(t, restored.Authenticated())
	u, ok := restored.User()
	require.True(t, ok)
	assert.Equal(t, user.ID, u.ID)

	me, err := restored.Whoami(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, me.ID)
}

func TestBootstrap_DiscardsExpiredLogin(t *testing.T) {
	clk := clock.NewManual(time.Now())
	f := newFixture(t, clk)
	ctx := context.Background()

	s := f.bootstrap(t, false)
	_, err := s.Login(ctx, mockserver.DemoEmail, mockserver.DemoPassword)
	require.NoError(t, err)
	s.Close()

	clk.Advance(2 * time.Hour)

	restored := f.bootstrap(t, false)
	assert.False(t, restored.Authenticated())

	_, err = f.store.Get(ctx, TokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBootstrap_DiscardsCorruptRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, TokenKey, []byte("{garbage"), 0))

	s := f.bootstrap(t, false)
	assert.False(t, s.Authenticated())

	_, err := f.store.Get(ctx, TokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.bootstrap(t, false)

	_, err := s.Login(ctx, mockserver.DemoEmail, "nope")
	require.ErrorIs(t, err, api.ErrUnauthenticated)
	assert.Equal(t, "Incorrect email or password", request.Message(err))
	assert.False(t, s.Authenticated())

	_, err = f.store.Get(ctx, TokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.bootstrap(t, false)

	_, err := s.Login(ctx, mockserver.DemoEmail, mockserver.DemoPassword)
	require.NoError(t, err)
	_, err = s.Contracts.Load(ctx, api.ListParams{})
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx))
	assert.False(t, s.Authenticated())
	assert.Empty(t, s.Contracts.Get().Contracts)
	assert.Equal(t, realtime.StatusDisconnected, s.Realtime.Status())

	_, err = f.store.Get(ctx, TokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Contracts.Load(ctx, api.ListParams{})
	assert.ErrorIs(t, err, api.ErrNoToken)
}

func TestAutoConnect_FollowsContractEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.bootstrap(t, true)

	_, err := s.Login(ctx, mockserver.DemoEmail, mockserver.DemoPassword)
	require.NoError(t, err)
	_, err = s.Contracts.Load(ctx, api.ListParams{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Realtime.Status() == realtime.StatusConnected &&
			f.server.Hub().Subscribers(mockserver.TopicContracts) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Another client creates a contract; the event lands in our store.
	tok, err := f.server.IssueToken(mockserver.DemoEmail)
	require.NoError(t, err)
	other, err := api.New(api.Options{Config: api.Config{BaseURL: f.url}, Tokens: api.StaticToken(tok), Metrics: f.metrics})
	require.NoError(t, err)
	created, err := other.CreateContract(ctx, api.ContractCreate{Title: "Pushed", ContractType: "nda"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := s.Contracts.Get().Find(created.ID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}
