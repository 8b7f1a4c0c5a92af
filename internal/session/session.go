// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session bootstraps the client once per process.
//
// # Description
//
// Bootstrap restores a persisted login from local storage, discards it when
// the token has expired, and builds the API client, the contract store and
// the realtime client around a single token vault. There is no package
// state: everything hangs off the returned *Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/Pactoria/internal/api"
	"github.com/AleutianAI/Pactoria/internal/auth"
	"github.com/AleutianAI/Pactoria/internal/clock"
	"github.com/AleutianAI/Pactoria/internal/contracts"
	"github.com/AleutianAI/Pactoria/internal/observability"
	"github.com/AleutianAI/Pactoria/internal/realtime"
	"github.com/AleutianAI/Pactoria/internal/request"
	"github.com/AleutianAI/Pactoria/internal/storage"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

// TokenKey is the storage key of the persisted login.
const TokenKey = "auth/token"

// TopicContracts is subscribed on every realtime connection.
const TopicContracts = "contracts"

// ErrNotLoggedIn is returned by operations that need a token.
var ErrNotLoggedIn = errors.New("session: not logged in")

// persisted is the stored form of a login.
type persisted struct {
	Token     string    `json:"token"`
	User      api.User  `json:"user"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Deps are the inputs to Bootstrap.
type Deps struct {
	API       api.Config
	Retry     request.RetryPolicy
	CacheTime time.Duration
	Realtime  realtime.Config

	// Storage persists the login. Nil keeps it in memory only.
	Storage *storage.Store

	// Realtime connects after bootstrap and login when true.
	AutoConnect bool

	HTTPClient *http.Client
	Dial       realtime.DialFunc
	Clock      clock.Clock
	Logger     *logging.Logger
	Metrics    *observability.Metrics
}

// Session owns the clients built by Bootstrap.
type Session struct {
	API       *api.Client
	Contracts *contracts.Store
	Realtime  *realtime.Client

	vault       *auth.Vault
	storage     *storage.Store
	autoConnect bool
	clock       clock.Clock
	logger      *logging.Logger
	unfollow    func()

	mu   sync.RWMutex
	user *api.User
}

// Bootstrap builds a Session.
//
// # Inputs
//
//   - ctx: bounds the storage read.
//   - deps: API.BaseURL is required. An empty Realtime.URL is derived from
//     the API base URL.
//
// # Outputs
//
//   - *Session: ready session, logged in when a valid persisted token was
//     found. Call Close when done.
//   - error: when the API client cannot be built or storage fails for a
//     reason other than a missing key.
func Bootstrap(ctx context.Context, deps Deps) (*Session, error) {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.Default()
	}
	if deps.Retry.BaseDelay <= 0 {
		deps.Retry = request.DefaultRetryPolicy()
	}

	s := &Session{
		vault:       auth.NewVault(deps.Clock),
		storage:     deps.Storage,
		autoConnect: deps.AutoConnect,
		clock:       deps.Clock,
		logger:      deps.Logger.With("component", "session"),
	}

	client, err := api.New(api.Options{
		Config:     deps.API,
		HTTPClient: deps.HTTPClient,
		Tokens:     s.vault,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build api client: %w", err)
	}
	s.API = client

	rtCfg := deps.Realtime
	if rtCfg.URL == "" {
		rtCfg.URL = client.WebSocketURL()
	}
	s.Realtime = realtime.New(realtime.Options{
		Config:  rtCfg,
		Dial:    deps.Dial,
		Clock:   deps.Clock,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
	})
	_ = s.Realtime.Subscribe(TopicContracts)

	s.Contracts = contracts.New(client, contracts.Options{
		Retry:     deps.Retry,
		CacheTime: deps.CacheTime,
		Clock:     deps.Clock,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
	})
	s.unfollow = s.Contracts.Follow(s.Realtime)

	if err := s.restore(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if s.Authenticated() && s.autoConnect {
		s.connect()
	}
	return s, nil
}

// restore loads the persisted login into the vault.
func (s *Session) restore(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}

	var p persisted
	err := s.storage.GetJSON(ctx, TokenKey, &p)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		// A corrupt record is dropped rather than blocking startup.
		s.logger.Warn("discarding unreadable persisted login", "error", err)
		return s.forget(ctx)
	}

	if err := s.vault.Set(p.Token); err != nil {
		s.logger.Info("discarding persisted login", "reason", err.Error())
		return s.forget(ctx)
	}
	user := p.User
	s.setUser(&user)
	s.logger.Debug("restored login", "email", string(p.User.Email), "token_present", true)
	return nil
}

func (s *Session) forget(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	if err := s.storage.Delete(ctx, TokenKey); err != nil {
		return fmt.Errorf("clear persisted login: %w", err)
	}
	return nil
}

// Login exchanges credentials for a token, stores it and, with
// AutoConnect, opens the realtime connection.
func (s *Session) Login(ctx context.Context, email, password string) (api.User, error) {
	resp, err := s.API.Login(ctx, api.LoginRequest{Email: strfmt.Email(email), Password: password})
	if err != nil {
		return api.User{}, err
	}
	if err := s.vault.Set(resp.AccessToken); err != nil {
		return api.User{}, fmt.Errorf("store token: %w", err)
	}
	user := resp.User
	s.setUser(&user)

	if s.storage != nil {
		var ttl time.Duration
		if resp.ExpiresIn > 0 {
			ttl = time.Duration(resp.ExpiresIn) * time.Second
		}
		p := persisted{Token: resp.AccessToken, User: resp.User, ExpiresAt: s.vault.Expiry()}
		if err := s.storage.PutJSON(ctx, TokenKey, p, ttl); err != nil {
			return user, fmt.Errorf("persist login: %w", err)
		}
	}

	s.logger.Info("logged in", "email", email, "token_present", true)
	if s.autoConnect {
		s.connect()
	}
	return user, nil
}

// Logout drops the token locally and in storage, disconnects realtime and
// resets the contract store. It does not call the backend.
func (s *Session) Logout(ctx context.Context) error {
	s.Realtime.Disconnect()
	s.vault.Clear()
	s.setUser(nil)
	s.Contracts.Reset()
	s.logger.Info("logged out")
	return s.forget(ctx)
}

// Authenticated reports whether an unexpired token is held.
func (s *Session) Authenticated() bool {
	return s.vault.Present() && !s.vault.Expired()
}

// User returns the logged-in user, if any.
func (s *Session) User() (api.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return api.User{}, false
	}
	return *s.user, true
}

// Whoami fetches the current user from the backend and caches it.
func (s *Session) Whoami(ctx context.Context) (api.User, error) {
	if !s.Authenticated() {
		return api.User{}, ErrNotLoggedIn
	}
	u, err := s.API.Me(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthenticated) {
			_ = s.Logout(ctx)
		}
		return api.User{}, err
	}
	s.setUser(&u)
	return u, nil
}

// Connect opens the realtime connection with the current token.
func (s *Session) Connect() error {
	tok, err := s.vault.Token()
	if err != nil {
		return err
	}
	if tok == "" {
		return ErrNotLoggedIn
	}
	return s.Realtime.Connect(tok)
}

func (s *Session) connect() {
	if err := s.Connect(); err != nil {
		s.logger.Warn("realtime connect skipped", "error", err)
	}
}

// Close stops realtime and releases the contract store. The storage
// handle belongs to the caller and stays open.
func (s *Session) Close() {
	if s.unfollow != nil {
		s.unfollow()
	}
	s.Contracts.Close()
	s.Realtime.Close()
}

func (s *Session) setUser(u *api.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}
