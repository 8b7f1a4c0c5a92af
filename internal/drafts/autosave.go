// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drafts persists contract wizard drafts with debounced autosave.
//
// # Description
//
// Every Update replaces the pending copy of a draft and restarts a single
// debounce timer. When the timer fires, all pending drafts are validated
// against their current step and written to local storage under "drafts/".
// Invalid drafts are still saved; the validation result goes to OnSave.
// A draft stays pending, and visible to Load, until its write succeeds.
//
// # Thread Safety
//
// Autosaver is safe for concurrent use.
package drafts

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/Pactoria/internal/clock"
	"github.com/AleutianAI/Pactoria/internal/storage"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

// KeyPrefix namespaces drafts in local storage.
const KeyPrefix = "drafts/"

// DefaultDebounce is the quiet period before an autosave.
const DefaultDebounce = time.Second

var (
	// ErrClosed is returned by Update after Close.
	ErrClosed = errors.New("drafts: autosaver closed")

	// ErrNoID is returned by Update for a draft without an ID.
	ErrNoID = errors.New("drafts: draft has no id")

	// ErrNotFound is returned by Load for an unknown draft.
	ErrNotFound = errors.New("drafts: not found")
)

// Config holds autosave settings.
type Config struct {
	Debounce time.Duration `yaml:"debounce" env:"DEBOUNCE" validate:"gte=0"`
}

// Result describes one save.
type Result struct {
	Draft  Draft
	Errors FieldErrors
	Err    error
}

// Options configures an Autosaver.
type Options struct {
	Debounce time.Duration
	Clock    clock.Clock
	Logger   *logging.Logger

	// OnSave runs after each draft is written or fails to write. It is
	// called from the saving goroutine.
	OnSave func(Result)
}

// Autosaver debounces draft writes.
type Autosaver struct {
	store    *storage.Store
	clock    clock.Clock
	debounce time.Duration
	logger   *logging.Logger
	onSave   func(Result)

	mu      sync.Mutex
	pending map[string]queued
	seq     uint64
	wait    *waiter
	closed  bool

	// saveMu orders writes so an older snapshot never lands after a
	// newer one.
	saveMu sync.Mutex
	wg     sync.WaitGroup
}

// queued is a pending draft and the Update that produced it.
type queued struct {
	draft Draft
	seq   uint64
}

type waiter struct {
	timer  clock.Timer
	cancel chan struct{}
}

// NewAutosaver creates an Autosaver writing to store.
func NewAutosaver(store *storage.Store, opts Options) *Autosaver {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Autosaver{
		store:    store,
		clock:    opts.Clock,
		debounce: opts.Debounce,
		logger:   opts.Logger.With("component", "drafts"),
		onSave:   opts.OnSave,
		pending:  make(map[string]queued),
	}
}

// Update queues d for saving and restarts the debounce timer.
func (a *Autosaver) Update(d Draft) error {
	if d.ID == "" {
		return ErrNoID
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.seq++
	a.pending[d.ID] = queued{draft: d, seq: a.seq}
	a.stopWaitLocked()

	w := &waiter{timer: a.clock.NewTimer(a.debounce), cancel: make(chan struct{})}
	a.wait = w
	a.wg.Add(1)
	go a.await(w)
	return nil
}

func (a *Autosaver) await(w *waiter) {
	defer a.wg.Done()
	select {
	case <-w.timer.C():
	case <-w.cancel:
		return
	}

	a.mu.Lock()
	if a.wait == w {
		a.wait = nil
	}
	a.mu.Unlock()

	if err := a.Flush(context.Background()); err != nil {
		a.logger.Warn("autosave failed", "error", err)
	}
}

func (a *Autosaver) stopWaitLocked() {
	if a.wait == nil {
		return
	}
	a.wait.timer.Stop()
	close(a.wait.cancel)
	a.wait = nil
}

// Pending returns the number of drafts waiting to be saved.
func (a *Autosaver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Flush saves every pending draft now and cancels the debounce timer.
// It returns the first write error. Drafts that fail to write stay
// pending for the next Flush.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	a.stopWaitLocked()
	batch := make(map[string]queued, len(a.pending))
	for id, q := range a.pending {
		batch[id] = q
	}
	a.mu.Unlock()

	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var first error
	for _, id := range ids {
		q := batch[id]
		res := a.save(ctx, q.draft)
		if res.Err != nil {
			if first == nil {
				first = res.Err
			}
		} else {
			a.settle(id, q.seq)
		}
		if a.onSave != nil {
			a.onSave(res)
		}
	}
	return first
}

// settle drops a saved draft from pending unless it was updated again
// while the write was in flight.
func (a *Autosaver) settle(id string, seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if q, ok := a.pending[id]; ok && q.seq == seq {
		delete(a.pending, id)
	}
}

func (a *Autosaver) save(ctx context.Context, d Draft) Result {
	d.UpdatedAt = a.clock.Now().UTC()
	res := Result{Draft: d, Errors: Validate(d, d.Step)}
	if err := a.store.PutJSON(ctx, KeyPrefix+d.ID, d, 0); err != nil {
		res.Err = fmt.Errorf("save draft %s: %w", d.ID, err)
		return res
	}
	a.logger.Debug("draft saved", "id", d.ID, "step", d.Step.String(), "invalid_fields", len(res.Errors))
	return res
}

// Close flushes pending drafts and stops the autosaver. Later Updates
// return ErrClosed.
func (a *Autosaver) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.stopWaitLocked()
	a.mu.Unlock()

	a.wg.Wait()
	return a.Flush(context.Background())
}

// Load returns a saved draft. A pending, unsaved copy takes precedence.
func (a *Autosaver) Load(ctx context.Context, id string) (Draft, error) {
	a.mu.Lock()
	q, ok := a.pending[id]
	a.mu.Unlock()
	if ok {
		return q.draft, nil
	}

	var d Draft
	if err := a.store.GetJSON(ctx, KeyPrefix+id, &d); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Draft{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Draft{}, err
	}
	return d, nil
}

// List returns saved drafts, most recently updated first.
func (a *Autosaver) List(ctx context.Context) ([]Draft, error) {
	return List(ctx, a.store)
}

// List returns the drafts saved in store, most recently updated first.
// Unreadable records are skipped.
func List(ctx context.Context, store *storage.Store) ([]Draft, error) {
	entries, err := store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Draft, 0, len(entries))
	for _, e := range entries {
		var d Draft
		if err := json.Unmarshal(e.Value, &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(x, y Draft) int {
		if c := y.UpdatedAt.Compare(x.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out, nil
}

// Discard drops a draft, pending or saved.
func (a *Autosaver) Discard(ctx context.Context, id string) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()

	return a.store.Delete(ctx, KeyPrefix+id)
}
