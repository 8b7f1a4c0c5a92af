// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package optimistic provides a state container with speculative updates
// that can be committed or rolled back.
//
// # Description
//
// Apply snapshots the full state, applies a transform, and returns a Token.
// The caller resolves that token exactly once, with Commit when the request
// behind the change succeeded or Rollback when it failed.
//
// Snapshots are keyed by token, so overlapping mutations do not clobber
// each other. Rolling back a mutation restores its snapshot and replays
// every change recorded after it:
//
//	state0 ──Apply A──► s1 ──Apply B──► s2 ──Rollback A──► B(state0)
//
// Committed mutations and plain Set calls that follow a still-pending
// mutation stay in the log until that mutation resolves, so they survive
// its rollback.
//
// # Thread Safety
//
// Store is safe for concurrent use. Subscribers run outside the lock.
package optimistic

import (
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/Pactoria/internal/observability"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

// Token identifies one speculative mutation.
type Token string

// Options configures a Store.
type Options[S any] struct {
	// Name labels logs and metrics. Default: "store".
	Name string

	// Clone deep-copies a state value. Required when S contains maps,
	// slices, or pointers; the default is a plain value copy.
	Clone func(S) S

	Logger  *logging.Logger
	Metrics *observability.Metrics
}

type entry[S any] struct {
	token     Token
	snapshot  S
	transform func(S) S
	committed bool
}

// Store holds a value of type S and its pending optimistic mutations.
type Store[S any] struct {
	name    string
	clone   func(S) S
	logger  *logging.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	state     S
	log       []*entry[S]
	subs      map[uint64]func(S)
	nextSubID uint64
}

// NewStore creates a Store holding initial.
func NewStore[S any](initial S, opts Options[S]) *Store[S] {
	if opts.Name == "" {
		opts.Name = "store"
	}
	if opts.Clone == nil {
		opts.Clone = func(s S) S { return s }
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Default()
	}
	return &Store[S]{
		name:    opts.Name,
		clone:   opts.Clone,
		logger:  opts.Logger.With("store", opts.Name),
		metrics: opts.Metrics,
		state:   opts.Clone(initial),
		subs:    make(map[uint64]func(S)),
	}
}

// Get returns a copy of the current state.
func (s *Store[S]) Get() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clone(s.state)
}

// Set applies a non-speculative transform. While mutations are pending the
// transform is recorded so that a rollback replays it.
func (s *Store[S]) Set(fn func(S) S) {
	s.mu.Lock()
	before := s.state
	s.state = fn(s.clone(before))
	if len(s.log) > 0 {
		s.log = append(s.log, &entry[S]{snapshot: s.clone(before), transform: fn, committed: true})
	}
	snapshot := s.clone(s.state)
	s.mu.Unlock()

	s.notify(snapshot)
}

// Replace sets the state to v.
func (s *Store[S]) Replace(v S) {
	s.Set(func(S) S { return s.clone(v) })
}

// Apply snapshots the state, applies transform, and returns the token that
// must later be passed to Commit or Rollback.
func (s *Store[S]) Apply(transform func(S) S) Token {
	tok := Token(uuid.NewString())

	s.mu.Lock()
	s.log = append(s.log, &entry[S]{token: tok, snapshot: s.clone(s.state), transform: transform})
	s.state = transform(s.clone(s.state))
	snapshot := s.clone(s.state)
	pending := s.pendingLocked()
	s.mu.Unlock()

	s.metrics.OptimisticMutations.WithLabelValues(s.name, observability.OutcomeApplied).Inc()
	s.logger.Debug("optimistic update applied", "token", string(tok), "pending", pending)
	s.notify(snapshot)
	return tok
}

// Commit discards the snapshot for tok. The state is unchanged. Unknown or
// already resolved tokens are ignored; Commit reports whether tok was
// pending.
func (s *Store[S]) Commit(tok Token) bool {
	s.mu.Lock()
	i := s.indexLocked(tok)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.log[i].committed = true
	s.pruneLocked()
	s.mu.Unlock()

	s.metrics.OptimisticMutations.WithLabelValues(s.name, observability.OutcomeCommitted).Inc()
	return true
}

// Rollback restores the snapshot taken by Apply for tok and replays every
// later change on top of it. Unknown or already resolved tokens are
// ignored; Rollback reports whether tok was pending.
func (s *Store[S]) Rollback(tok Token) bool {
	s.mu.Lock()
	i := s.indexLocked(tok)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	replayed := len(s.log) - i - 1
	base := s.clone(s.log[i].snapshot)
	for _, later := range s.log[i+1:] {
		later.snapshot = s.clone(base)
		base = later.transform(s.clone(base))
	}
	s.state = base
	s.log = append(s.log[:i], s.log[i+1:]...)
	s.pruneLocked()
	snapshot := s.clone(s.state)
	s.mu.Unlock()

	s.metrics.OptimisticMutations.WithLabelValues(s.name, observability.OutcomeRolledBack).Inc()
	s.logger.Debug("optimistic update rolled back", "token", string(tok), "replayed", replayed)
	s.notify(snapshot)
	return true
}

// Pending returns the number of unresolved mutations.
func (s *Store[S]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

// Subscribe registers fn for state changes and returns its cancel func.
func (s *Store[S]) Subscribe(fn func(S)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// indexLocked returns the log index of the pending mutation tok, or -1.
func (s *Store[S]) indexLocked(tok Token) int {
	for i, e := range s.log {
		if e.token == tok && !e.committed {
			return i
		}
	}
	return -1
}

// pruneLocked drops resolved entries that no pending mutation precedes.
func (s *Store[S]) pruneLocked() {
	n := 0
	for n < len(s.log) && s.log[n].committed {
		n++
	}
	if n > 0 {
		s.log = append(s.log[:0], s.log[n:]...)
	}
}

func (s *Store[S]) pendingLocked() int {
	n := 0
	for _, e := range s.log {
		if !e.committed {
			n++
		}
	}
	return n
}

func (s *Store[S]) notify(state S) {
	s.mu.Lock()
	subs := make([]func(S), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}
