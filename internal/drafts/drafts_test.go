// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drafts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/Pactoria/internal/clock"
	"github.com/AleutianAI/Pactoria/internal/storage"
)

// =============================================================================
// Test Setup
// =============================================================================

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	store *storage.Store
	clock *clock.Fake
	saver *Autosaver

	mu      sync.Mutex
	results []Result
}

// newHarness opens an in-memory store and an autosaver on a manual clock.
// The returned goleak option ignores the store's own goroutines.
func newHarness(t *testing.T) (*harness, goleak.Option) {
	t.Helper()
	st, err := storage.Open(storage.InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ignore := goleak.IgnoreCurrent()

	h := &harness{store: st, clock: clock.NewManual(epoch)}
	h.saver = NewAutosaver(st, Options{
		Clock: h.clock,
		OnSave: func(r Result) {
			h.mu.Lock()
			h.results = append(h.results, r)
			h.mu.Unlock()
		},
	})
	return h, ignore
}

func (h *harness) saved() []Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Result(nil), h.results...)
}

func (h *harness) stored(t *testing.T, id string) (Draft, bool) {
	t.Helper()
	var d Draft
	err := h.store.GetJSON(context.Background(), KeyPrefix+id, &d)
	if err == storage.ErrNotFound {
		return Draft{}, false
	}
	require.NoError(t, err)
	return d, true
}

func complete() Draft {
	d := New()
	d.Step = StepReview
	d.ContractType = "service_agreement"
	d.Title = "Website Build"
	d.Parties = []Party{
		{Name: "Acme Ltd", Role: "client", Email: "legal@acme.test"},
		{Name: "Globex", Role: "supplier"},
	}
	d.Value = 25000
	d.StartDate = "2025-04-01"
	d.EndDate = "2025-10-01"
	return d
}

// =============================================================================
// Autosave
// =============================================================================

func TestAutosaver_Debounces(t *testing.T) {
	h, ignore := newHarness(t)

	d := New()
	for _, title := range []string{"W", "We", "Web"} {
		d.Title = title
		require.NoError(t, h.saver.Update(d))
	}
	assert.Equal(t, 1, h.saver.Pending())
	assert.Equal(t, 1, h.clock.Pending(), "one debounce timer at a time")

	h.clock.Advance(999 * time.Millisecond)
	_, ok := h.stored(t, d.ID)
	assert.False(t, ok)

	h.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return len(h.saved()) == 1 }, time.Second, 5*time.Millisecond)

	got, ok := h.stored(t, d.ID)
	require.True(t, ok)
	assert.Equal(t, "Web", got.Title)
	assert.True(t, got.UpdatedAt.Equal(epoch.Add(time.Second)))

	require.NoError(t, h.saver.Close())
	goleak.VerifyNone(t, ignore)
}

func TestAutosaver_UpdateRestartsTimer(t *testing.T) {
	h, ignore := newHarness(t)
	d := New()

	require.NoError(t, h.saver.Update(d))
	h.clock.Advance(600 * time.Millisecond)
	require.NoError(t, h.saver.Update(d))
	h.clock.Advance(600 * time.Millisecond)

	assert.Equal(t, 1, h.saver.Pending())
	assert.Empty(t, h.saved())

	h.clock.Advance(400 * time.Millisecond)
	require.Eventually(t, func() bool { return h.saver.Pending() == 0 && len(h.saved()) == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, h.saver.Close())
	goleak.VerifyNone(t, ignore)
}

func TestAutosaver_ReportsValidationForCurrentStep(t *testing.T) {
	h, ignore := newHarness(t)

	d := New()
	d.Step = StepDetails
	d.Title = "ab"
	require.NoError(t, h.saver.Update(d))
	require.NoError(t, h.saver.Flush(context.Background()))

	results := h.saved()
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, FieldErrors{
		{Field: "title", Message: "must be at least 3 characters"},
		{Field: "parties", Message: "needs at least 1"},
	}, results[0].Errors)

	// Invalid drafts are still saved.
	_, ok := h.stored(t, d.ID)
	assert.True(t, ok)

	require.NoError(t, h.saver.Close())
	goleak.VerifyNone(t, ignore)
}

func TestAutosaver_FlushCancelsTimer(t *testing.T) {
	h, ignore := newHarness(t)
	a, b := New(), New()
	require.NoError(t, h.saver.Update(a))
	require.NoError(t, h.saver.Update(b))

	require.NoError(t, h.saver.Flush(context.Background()))
	assert.Equal(t, 0, h.clock.Pending())
	assert.Len(t, h.saved(), 2)

	_, ok := h.stored(t, a.ID)
	assert.True(t, ok)
	_, ok = h.stored(t, b.ID)
	assert.True(t, ok)

	require.NoError(t, h.saver.Close())
	goleak.VerifyNone(t, ignore)
}

func TestAutosaver_CloseFlushes(t *testing.T) {
	h, ignore := newHarness(t)
	d := New()
	require.NoError(t, h.saver.Update(d))

	require.NoError(t, h.saver.Close())
	require.NoError(t, h.saver.Close())

	_, ok := h.stored(t, d.ID)
	assert.True(t, ok)
	assert.ErrorIs(t, h.saver.Update(d), ErrClosed)
	goleak.VerifyNone(t, ignore)
}

func TestAutosaver_RejectsMissingID(t *testing.T) {
	h, _ := newHarness(t)
	defer h.saver.Close()
	assert.ErrorIs(t, h.saver.Update(Draft{}), ErrNoID)
}

func TestAutosaver_LoadListDiscard(t *testing.T) {
	h, _ := newHarness(t)
	defer h.saver.Close()
	ctx := context.Background()

	older, newer := New(), New()
	older.Title = "older"
	newer.Title = "newer"

	require.NoError(t, h.saver.Update(older))
	require.NoError(t, h.saver.Flush(ctx))
	h.clock.Set(epoch.Add(time.Minute))
	require.NoError(t, h.saver.Update(newer))
	require.NoError(t, h.saver.Flush(ctx))

	list, err := h.saver.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].Title)
	assert.Equal(t, "older", list[1].Title)

	// A pending edit wins over the stored copy.
	older.Title = "edited"
	require.NoError(t, h.saver.Update(older))
	got, err := h.saver.Load(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Title)

	require.NoError(t, h.saver.Discard(ctx, older.ID))
	assert.Equal(t, 0, h.saver.Pending())
	_, err = h.saver.Load(ctx, older.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err = List(ctx, h.store)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAutosaver_LoadDuringFlushSeesUnsavedDraft(t *testing.T) {
	st, err := storage.Open(storage.InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	first, second := New(), New()
	first.ID, second.ID = "a", "b"
	second.Title = "second"

	var saver *Autosaver
	var loaded Draft
	var loadErr error
	saver = NewAutosaver(st, Options{
		Clock: clock.NewManual(epoch),
		OnSave: func(r Result) {
			if r.Draft.ID == "a" {
				loaded, loadErr = saver.Load(ctx, "b")
			}
		},
	})
	defer saver.Close()

	require.NoError(t, saver.Update(first))
	require.NoError(t, saver.Update(second))
	require.NoError(t, saver.Flush(ctx))

	require.NoError(t, loadErr)
	assert.Equal(t, "second", loaded.Title)
	assert.Equal(t, 0, saver.Pending())
}

func TestAutosaver_UpdateDuringFlushStaysPending(t *testing.T) {
	st, err := storage.Open(storage.InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	d := New()
	d.Title = "first"
	var saver *Autosaver
	var once sync.Once
	saver = NewAutosaver(st, Options{
		Clock: clock.NewManual(epoch),
		OnSave: func(Result) {
			once.Do(func() {
				edited := d
				edited.Title = "edited"
				assert.NoError(t, saver.Update(edited))
			})
		},
	})
	defer saver.Close()

	require.NoError(t, saver.Update(d))
	require.NoError(t, saver.Flush(ctx))

	assert.Equal(t, 1, saver.Pending())
	got, err := saver.Load(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Title)

	require.NoError(t, saver.Flush(ctx))
	assert.Equal(t, 0, saver.Pending())
	got, err = saver.Load(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Title)
}

func TestAutosaver_FailedWriteStaysPending(t *testing.T) {
	h, _ := newHarness(t)
	defer h.saver.Close()

	d := New()
	require.NoError(t, h.saver.Update(d))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, h.saver.Flush(cancelled))
	assert.Equal(t, 1, h.saver.Pending())

	got, err := h.saver.Load(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	require.NoError(t, h.saver.Flush(context.Background()))
	assert.Equal(t, 0, h.saver.Pending())
	_, ok := h.stored(t, d.ID)
	assert.True(t, ok)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Draft)
		step   Step
		want   FieldErrors
	}{
		{
			name:   "complete draft passes review",
			mutate: func(*Draft) {},
			step:   StepReview,
		},
		{
			name:   "template step needs a contract type",
			mutate: func(d *Draft) { d.ContractType = "" },
			step:   StepTemplate,
			want:   FieldErrors{{Field: "contract_type", Message: "is required"}},
		},
		{
			name:   "template step ignores later fields",
			mutate: func(d *Draft) { d.Title = "" },
			step:   StepTemplate,
		},
		{
			name: "details step checks each party",
			mutate: func(d *Draft) {
				d.Parties[0].Email = "not-an-email"
				d.Parties[1].Role = "witness"
			},
			step: StepDetails,
			want: FieldErrors{
				{Field: "parties[0].email", Message: "is not a valid email address"},
				{Field: "parties[1].role", Message: "must be one of: client supplier other"},
			},
		},
		{
			name:   "terms step checks currency case",
			mutate: func(d *Draft) { d.Currency = "gbp" },
			step:   StepTerms,
			want:   FieldErrors{{Field: "currency", Message: "must be upper case"}},
		},
		{
			name:   "terms step checks date format",
			mutate: func(d *Draft) { d.StartDate = "01/04/2025" },
			step:   StepTerms,
			want:   FieldErrors{{Field: "start_date", Message: "must be a date in YYYY-MM-DD form"}},
		},
		{
			name:   "end date must follow start date",
			mutate: func(d *Draft) { d.EndDate = d.StartDate },
			step:   StepTerms,
			want:   FieldErrors{{Field: "end_date", Message: "must be after the start date"}},
		},
		{
			name:   "review reports nested party errors",
			mutate: func(d *Draft) { d.Parties[1].Name = "" },
			step:   StepReview,
			want:   FieldErrors{{Field: "parties[1].name", Message: "is required"}},
		},
		{
			name:   "unknown step validates nothing",
			mutate: func(d *Draft) { d.Title = "" },
			step:   Step(42),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := complete()
			tt.mutate(&d)
			got := Validate(d, tt.step)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDraft_Contract(t *testing.T) {
	d := complete()
	d.TemplateID = "tpl-service"

	c, err := d.Contract()
	require.NoError(t, err)
	assert.Equal(t, "Website Build", c.Title)
	assert.Equal(t, "Acme Ltd", c.ClientName)
	assert.Equal(t, "Globex", c.SupplierName)
	assert.Equal(t, "GBP", c.Currency)
	require.NotNil(t, c.StartDate)
	assert.Equal(t, "2025-04-01", c.StartDate.String())
	require.NotNil(t, c.EndDate)

	d.Title = ""
	_, err = d.Contract()
	var fe FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "title: is required", fe.Error())
}

func TestStep_String(t *testing.T) {
	assert.Equal(t, "terms", StepTerms.String())
	assert.Equal(t, "step(9)", Step(9).String())
}
