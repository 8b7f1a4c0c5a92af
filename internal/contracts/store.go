// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contracts keeps the client-side list of contracts in sync with
// the backend.
//
// # Description
//
// Store composes a request.Executor for the list fetch (retries, staleness,
// supersession) with an optimistic.Store for local edits. Every mutation
// applies its change speculatively, sends the request, and then resolves
// the change exactly once: Commit on success, Rollback on failure.
//
//	Create/Update/Delete ──Apply──► state shows change
//	        │
//	        ▼
//	   backend call ──ok──► Commit (+ reconcile with server record)
//	        └──────err────► Rollback
//
// Server-pushed events (contract_created/updated/deleted) are folded in
// with ApplyEvent, so changes made elsewhere appear without a refetch.
//
// # Thread Safety
//
// Store is safe for concurrent use.
package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Pactoria/internal/api"
	"github.com/AleutianAI/Pactoria/internal/clock"
	"github.com/AleutianAI/Pactoria/internal/observability"
	"github.com/AleutianAI/Pactoria/internal/optimistic"
	"github.com/AleutianAI/Pactoria/internal/realtime"
	"github.com/AleutianAI/Pactoria/internal/request"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

// TempIDPrefix marks contracts that exist only locally while their create
// request is in flight.
const TempIDPrefix = "temp-"

// DefaultBulkConcurrency bounds per-item requests when a bulk endpoint is
// unavailable.
const DefaultBulkConcurrency = 4

// ErrUnknownEvent is returned by ApplyEvent for message types it does not
// handle.
var ErrUnknownEvent = errors.New("contracts: unknown event type")

// Backend is the subset of *api.Client the store calls.
type Backend interface {
	ListContracts(ctx context.Context, p api.ListParams) (api.ContractList, error)
	CreateContract(ctx context.Context, in api.ContractCreate) (api.Contract, error)
	UpdateContract(ctx context.Context, id string, in api.ContractUpdate) (api.Contract, error)
	DeleteContract(ctx context.Context, id string) error
	BulkUpdateStatus(ctx context.Context, ids []string, status api.ContractStatus) (api.BulkResult, error)
	BulkDelete(ctx context.Context, ids []string) (api.BulkResult, error)
}

// State is the observable contract list.
type State struct {
	Contracts []api.Contract
	Total     int
	Page      int
	Size      int
	Pages     int
	Params    api.ListParams
}

// Clone deep-copies s.
func (s State) Clone() State {
	s.Contracts = slices.Clone(s.Contracts)
	return s
}

// Find returns the contract with id.
func (s State) Find(id string) (api.Contract, bool) {
	i := s.index(id)
	if i < 0 {
		return api.Contract{}, false
	}
	return s.Contracts[i], true
}

func (s State) index(id string) int {
	return slices.IndexFunc(s.Contracts, func(c api.Contract) bool { return c.ID == id })
}

// Options configures a Store. All fields are optional.
type Options struct {
	Retry     request.RetryPolicy
	CacheTime time.Duration

	// BulkConcurrency bounds the per-item fallback for bulk operations.
	// Default: DefaultBulkConcurrency.
	BulkConcurrency int

	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// Store is the contract list with optimistic mutations.
type Store struct {
	backend     Backend
	list        *request.Executor[api.ListParams, api.ContractList]
	state       *optimistic.Store[State]
	clock       clock.Clock
	logger      *logging.Logger
	concurrency int

	mu     sync.Mutex
	events []func()
}

// New creates a Store over backend.
func New(backend Backend, opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Default()
	}
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = DefaultBulkConcurrency
	}

	s := &Store{
		backend:     backend,
		clock:       opts.Clock,
		logger:      opts.Logger.With("component", "contracts"),
		concurrency: opts.BulkConcurrency,
	}
	s.state = optimistic.NewStore(State{}, optimistic.Options[State]{
		Name:    "contracts",
		Clone:   State.Clone,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	s.list = request.New(backend.ListContracts, request.Options[api.ContractList]{
		Name:      "contracts.list",
		Retry:     opts.Retry,
		CacheTime: opts.CacheTime,
		Clock:     opts.Clock,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
	return s
}

// =============================================================================
// Reads
// =============================================================================

// Get returns a copy of the current state.
func (s *Store) Get() State { return s.state.Get() }

// Subscribe registers fn for state changes.
func (s *Store) Subscribe(fn func(State)) func() { return s.state.Subscribe(fn) }

// Request returns the list fetch state: loading flag, error message, and
// last fetch time.
func (s *Store) Request() request.State[api.ContractList] { return s.list.State() }

// WatchRequest registers fn for list fetch state changes.
func (s *Store) WatchRequest(fn func(request.State[api.ContractList])) func() {
	return s.list.Subscribe(fn)
}

// IsStale reports whether the list should be refetched.
func (s *Store) IsStale() bool { return s.list.IsStale() }

// Pending returns the number of unresolved optimistic mutations.
func (s *Store) Pending() int { return s.state.Pending() }

// Load fetches one page of contracts and replaces the local list.
func (s *Store) Load(ctx context.Context, p api.ListParams) (State, error) {
	list, err := s.list.Execute(ctx, p)
	if err != nil {
		return s.state.Get(), err
	}
	s.state.Set(func(State) State { return fromList(list, p) })
	return s.state.Get(), nil
}

// LoadIfStale calls Load only when the cached list is stale.
func (s *Store) LoadIfStale(ctx context.Context, p api.ListParams) (State, error) {
	if !s.list.IsStale() {
		return s.state.Get(), nil
	}
	return s.Load(ctx, p)
}

// Refresh reloads the list with the parameters of the last Load.
func (s *Store) Refresh(ctx context.Context) (State, error) {
	list, err := s.list.Refresh(ctx)
	if err != nil {
		return s.state.Get(), err
	}
	s.state.Set(func(cur State) State { return fromList(list, cur.Params) })
	return s.state.Get(), nil
}

// Reset cancels any in-flight fetch and clears the list.
func (s *Store) Reset() {
	s.list.Reset()
	s.state.Replace(State{})
}

// Close resets the store and detaches it from the realtime client.
func (s *Store) Close() {
	s.mu.Lock()
	cancels := s.events
	s.events = nil
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	s.list.Close()
}

func fromList(list api.ContractList, p api.ListParams) State {
	return State{
		Contracts: slices.Clone(list.Contracts),
		Total:     list.Total,
		Page:      list.Page,
		Size:      list.Size,
		Pages:     list.Pages,
		Params:    p,
	}
}

// =============================================================================
// Mutations
// =============================================================================

// Create adds a placeholder contract immediately and replaces it with the
// server record once the request succeeds.
func (s *Store) Create(ctx context.Context, in api.ContractCreate) (api.Contract, error) {
	temp := api.Contract{
		ID:           TempIDPrefix + uuid.NewString(),
		Title:        in.Title,
		ContractType: in.ContractType,
		Status:       api.StatusDraft,
		ClientName:   in.ClientName,
		SupplierName: in.SupplierName,
		Value:        in.Value,
		Currency:     in.Currency,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		TemplateID:   in.TemplateID,
		CreatedAt:    strfmt.DateTime(s.clock.Now().UTC()),
	}
	tok := s.state.Apply(func(st State) State {
		st.Contracts = append([]api.Contract{temp}, st.Contracts...)
		st.Total++
		return st
	})

	created, err := s.backend.CreateContract(ctx, in)
	if err != nil {
		s.state.Rollback(tok)
		return api.Contract{}, fmt.Errorf("create contract: %w", err)
	}
	s.state.Commit(tok)
	s.state.Set(func(st State) State { return settle(st, temp.ID, created) })
	return created, nil
}

// Update applies u locally and then on the server.
func (s *Store) Update(ctx context.Context, id string, u api.ContractUpdate) (api.Contract, error) {
	tok := s.state.Apply(func(st State) State {
		if i := st.index(id); i >= 0 {
			st.Contracts[i] = u.Apply(st.Contracts[i])
		}
		return st
	})

	updated, err := s.backend.UpdateContract(ctx, id, u)
	if err != nil {
		s.state.Rollback(tok)
		return api.Contract{}, fmt.Errorf("update contract %s: %w", id, err)
	}
	s.state.Commit(tok)
	s.state.Set(func(st State) State { return replace(st, id, updated) })
	return updated, nil
}

// Delete removes the contract locally and then on the server.
func (s *Store) Delete(ctx context.Context, id string) error {
	tok := s.state.Apply(func(st State) State { return remove(st, id) })

	if err := s.backend.DeleteContract(ctx, id); err != nil {
		s.state.Rollback(tok)
		return fmt.Errorf("delete contract %s: %w", id, err)
	}
	s.state.Commit(tok)
	return nil
}

// BulkUpdateStatus sets status on every id. Items the server rejects are
// reverted locally and reported in the result.
func (s *Store) BulkUpdateStatus(ctx context.Context, ids []string, status api.ContractStatus) (api.BulkResult, error) {
	setStatus := func(targets []string) func(State) State {
		return func(st State) State {
			for _, id := range targets {
				if i := st.index(id); i >= 0 {
					st.Contracts[i].Status = status
				}
			}
			return st
		}
	}

	tok := s.state.Apply(setStatus(ids))
	res, err := s.backend.BulkUpdateStatus(ctx, ids, status)
	if bulkUnsupported(err) {
		s.logger.Info("bulk status endpoint unavailable, updating individually", "count", len(ids))
		res, err = s.fanOut(ctx, ids, func(ctx context.Context, id string) error {
			_, err := s.backend.UpdateContract(ctx, id, api.ContractUpdate{Status: &status})
			return err
		})
	}
	if err != nil {
		s.state.Rollback(tok)
		return api.BulkResult{}, fmt.Errorf("bulk update status: %w", err)
	}

	s.resolveBulk(tok, ids, res, setStatus)
	return res, nil
}

// BulkDelete deletes every id. Items the server rejects are restored
// locally and reported in the result.
func (s *Store) BulkDelete(ctx context.Context, ids []string) (api.BulkResult, error) {
	removeAll := func(targets []string) func(State) State {
		return func(st State) State {
			for _, id := range targets {
				st = remove(st, id)
			}
			return st
		}
	}

	tok := s.state.Apply(removeAll(ids))
	res, err := s.backend.BulkDelete(ctx, ids)
	if bulkUnsupported(err) {
		s.logger.Info("bulk delete endpoint unavailable, deleting individually", "count", len(ids))
		res, err = s.fanOut(ctx, ids, s.backend.DeleteContract)
	}
	if err != nil {
		s.state.Rollback(tok)
		return api.BulkResult{}, fmt.Errorf("bulk delete: %w", err)
	}

	s.resolveBulk(tok, ids, res, removeAll)
	return res, nil
}

// resolveBulk commits a fully successful bulk change. On partial failure
// the speculative change is rolled back and re-applied to the succeeded
// ids only.
func (s *Store) resolveBulk(tok optimistic.Token, ids []string, res api.BulkResult, change func([]string) func(State) State) {
	if res.FailedCount == 0 && len(res.FailedIDs) == 0 {
		s.state.Commit(tok)
		return
	}
	failed := make(map[string]bool, len(res.FailedIDs))
	for _, id := range res.FailedIDs {
		failed[id] = true
	}
	succeeded := slices.DeleteFunc(slices.Clone(ids), func(id string) bool { return failed[id] })

	s.state.Rollback(tok)
	s.state.Set(change(succeeded))
}

// fanOut runs fn for each id with bounded concurrency and aggregates the
// outcome the way the bulk endpoints report it.
func (s *Store) fanOut(ctx context.Context, ids []string, fn func(context.Context, string) error) (api.BulkResult, error) {
	var (
		mu  sync.Mutex
		res api.BulkResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := fn(gctx, id)
			if err != nil && request.IsCancellation(err) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.FailedCount++
				res.FailedIDs = append(res.FailedIDs, id)
				res.Errors = append(res.Errors, api.BulkError{ID: id, Error: request.Message(err)})
				return nil
			}
			res.SuccessCount++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return api.BulkResult{}, err
	}
	slices.Sort(res.FailedIDs)
	return res, nil
}

// bulkUnsupported reports whether err means the server has no bulk
// endpoint.
func bulkUnsupported(err error) bool {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusMethodNotAllowed
}

func replace(st State, id string, c api.Contract) State {
	if i := st.index(id); i >= 0 {
		st.Contracts[i] = c
	}
	return st
}

// settle swaps the placeholder tempID for c. When a contract_created event
// already listed c, the placeholder is dropped instead.
func settle(st State, tempID string, c api.Contract) State {
	if st.index(c.ID) >= 0 {
		return replace(remove(st, tempID), c.ID, c)
	}
	return replace(st, tempID, c)
}

func remove(st State, id string) State {
	if i := st.index(id); i >= 0 {
		st.Contracts = slices.Delete(st.Contracts, i, i+1)
		st.Total = max(st.Total-1, 0)
	}
	return st
}

// =============================================================================
// Realtime events
// =============================================================================

// deletedPayload is the data of a contract_deleted event.
type deletedPayload struct {
	ID string `json:"id"`
}

// ApplyEvent folds a server-pushed contract event into the list.
//
// contract_created inserts the contract unless it is already listed.
// contract_updated replaces a listed contract unless the local copy has a
// newer version. contract_deleted removes it.
func (s *Store) ApplyEvent(msg realtime.Message) error {
	switch msg.Type {
	case realtime.TypeContractCreated:
		var c api.Contract
		if err := msg.Decode(&c); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		s.state.Set(func(st State) State {
			if st.index(c.ID) >= 0 {
				return st
			}
			st.Contracts = append([]api.Contract{c}, st.Contracts...)
			st.Total++
			return st
		})

	case realtime.TypeContractUpdated:
		var c api.Contract
		if err := msg.Decode(&c); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		s.state.Set(func(st State) State {
			if i := st.index(c.ID); i >= 0 && st.Contracts[i].Version <= c.Version {
				st.Contracts[i] = c
			}
			return st
		})

	case realtime.TypeContractDeleted:
		var p deletedPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		s.state.Set(func(st State) State { return remove(st, p.ID) })

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, msg.Type)
	}
	return nil
}

// Follow registers the store for contract events on rt. The handlers are
// removed by Close or by the returned cancel func.
func (s *Store) Follow(rt *realtime.Client) func() {
	handle := func(msg realtime.Message) {
		if err := s.ApplyEvent(msg); err != nil {
			s.logger.Warn("ignoring contract event", "type", msg.Type, "error", err)
		}
	}
	cancels := []func(){
		rt.On(realtime.TypeContractCreated, handle),
		rt.On(realtime.TypeContractUpdated, handle),
		rt.On(realtime.TypeContractDeleted, handle),
	}
	cancel := func() {
		for _, c := range cancels {
			c()
		}
	}

	s.mu.Lock()
	s.events = append(s.events, cancel)
	s.mu.Unlock()
	return cancel
}
