// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package request wraps asynchronous operations with loading/error/data
// state, exponential-backoff retries, supersession, and staleness tracking.
//
// # Description
//
// An Executor owns one State. Every Execute call cancels the call it
// replaces, so the final state always reflects the most recent call no
// matter in which order the underlying operations settle:
//
//	call 1 ──start──────────────────────────settle (discarded)
//	call 2        ──start────settle (stored)
//
// Retries are an explicit loop over a per-call state machine (attempt
// counter, timer handle, cancellation cause) rather than nested callbacks,
// so Reset and supersession can stop a pending retry timer directly.
//
// # Thread Safety
//
// Executor is safe for concurrent use. Subscribers are invoked outside the
// internal lock, in the goroutine that caused the change.
package request

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Pactoria/internal/clock"
	"github.com/AleutianAI/Pactoria/internal/observability"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

var tracer = otel.Tracer("pactoria.request")

// Operation is the wrapped asynchronous work. It must honour ctx.
type Operation[A, T any] func(ctx context.Context, args A) (T, error)

// State is the observable request state.
//
// LastFetched is the zero time until the first success. HasData
// distinguishes a stored zero value from no data at all.
type State[T any] struct {
	Data        T
	HasData     bool
	Loading     bool
	Error       string
	LastFetched time.Time
}

// Options configures an Executor. All fields are optional.
type Options[T any] struct {
	// Name labels logs, spans, and metrics. Default: "request".
	Name string

	// Retry is the backoff policy. Default: NoRetry().
	Retry RetryPolicy

	// CacheTime is the staleness TTL. Default: DefaultCacheTime.
	CacheTime time.Duration

	// OnSuccess is invoked after a successful call is stored.
	OnSuccess func(T)

	// OnError is invoked after retries are exhausted.
	OnError func(error)

	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// Executor runs an Operation and tracks its State.
type Executor[A, T any] struct {
	op     Operation[A, T]
	opts   Options[T]
	logger *logging.Logger

	mu          sync.Mutex
	state       State[T]
	generation  uint64
	current     *call
	lastArgs    A
	hasArgs     bool
	subscribers map[uint64]func(State[T])
	nextSubID   uint64
}

// call is the retry state machine of a single Execute invocation.
type call struct {
	generation uint64
	attempt    int
	ctx        context.Context
	cancel     context.CancelCauseFunc
	timer      clock.Timer
}

// stop cancels the call and any pending retry timer. Caller holds e.mu.
func (c *call) stop(cause error) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cancel(cause)
}

// New creates an Executor around op.
//
// # Inputs
//
//   - op: the operation to run. Must not be nil.
//   - opts: optional configuration; zero fields take defaults.
//
// # Outputs
//
//   - *Executor: idle executor with an empty State.
func New[A, T any](op Operation[A, T], opts Options[T]) *Executor[A, T] {
	if opts.Name == "" {
		opts.Name = "request"
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = time.Second
	}
	if opts.Retry.Attempts < 0 {
		opts.Retry.Attempts = 0
	}
	if opts.CacheTime <= 0 {
		opts.CacheTime = DefaultCacheTime
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Default()
	}
	return &Executor[A, T]{
		op:          op,
		opts:        opts,
		logger:      opts.Logger.With("executor", opts.Name),
		subscribers: make(map[uint64]func(State[T])),
	}
}

// Execute runs the operation with args, retrying failures per the policy.
//
// # Description
//
// Any in-flight call on this executor is cancelled with ErrSuperseded and
// its eventual result is discarded. On success the data is stored, the
// error cleared, LastFetched stamped, and OnSuccess invoked. When retries
// are exhausted the normalized message is stored, OnError invoked, and the
// original error returned.
//
// Cancellation (ctx done, supersession, or Reset) stops the retry loop
// immediately. It is returned to the caller but never stored as Error.
//
// # Inputs
//
//   - ctx: caller context; cancelling it aborts the call.
//   - args: passed to the operation and remembered for Refresh.
//
// # Outputs
//
//   - T: the operation's result on success.
//   - error: the operation's last error, or the cancellation cause.
func (e *Executor[A, T]) Execute(ctx context.Context, args A) (T, error) {
	var zero T

	c := e.begin(ctx, args)
	defer c.cancel(nil)

	sctx, span := tracer.Start(c.ctx, "request.Execute",
		trace.WithAttributes(attribute.String("executor", e.opts.Name)))
	defer span.End()

	for {
		if cause := e.cancelled(c); cause != nil {
			e.finishCancelled(c, cause, span)
			return zero, cause
		}

		c.attempt++
		e.opts.Metrics.ExecutorAttempts.WithLabelValues(e.opts.Name).Inc()

		val, err := e.op(sctx, args)

		if cause := e.cancelled(c); cause != nil {
			e.finishCancelled(c, cause, span)
			return zero, cause
		}
		if err == nil {
			if !e.succeed(c, val) {
				e.finishCancelled(c, ErrSuperseded, span)
				return zero, ErrSuperseded
			}
			span.SetAttributes(attribute.Int("attempts", c.attempt))
			span.SetStatus(codes.Ok, "")
			return val, nil
		}
		if IsCancellation(err) {
			e.finishCancelled(c, err, span)
			return zero, err
		}

		if !e.opts.Retry.ShouldRetry(c.attempt) {
			e.fail(c, err, span)
			return zero, err
		}

		delay := e.opts.Retry.Delay(c.attempt)
		e.opts.Metrics.ExecutorRetries.WithLabelValues(e.opts.Name).Inc()
		e.logger.Warn("request failed, retry scheduled",
			"attempt", c.attempt,
			"max_retries", e.opts.Retry.Attempts,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)
		if cause := e.wait(c, delay); cause != nil {
			e.finishCancelled(c, cause, span)
			return zero, cause
		}
	}
}

// Refresh re-runs Execute with the arguments of the most recent call.
func (e *Executor[A, T]) Refresh(ctx context.Context) (T, error) {
	e.mu.Lock()
	args, ok := e.lastArgs, e.hasArgs
	e.mu.Unlock()
	if !ok {
		var zero T
		return zero, ErrNoPreviousCall
	}
	return e.Execute(ctx, args)
}

// Reset cancels any in-flight call, stops its retry timer, and returns the
// state to its initial empty shape. Calling Reset repeatedly is harmless.
func (e *Executor[A, T]) Reset() {
	e.mu.Lock()
	if e.current != nil {
		e.current.stop(ErrReset)
		e.current = nil
	}
	e.generation++
	e.state = State[T]{}
	snapshot := e.state
	e.mu.Unlock()

	e.notify(snapshot)
}

// Close resets the executor and drops all subscribers. It is the teardown
// for the scope that owns the executor.
func (e *Executor[A, T]) Close() {
	e.Reset()
	e.mu.Lock()
	e.subscribers = make(map[uint64]func(State[T]))
	e.mu.Unlock()
}

// State returns a copy of the current state.
func (e *Executor[A, T]) State() State[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsStale reports whether the stored data is older than CacheTime, or was
// never fetched. It is evaluated against the clock on every call.
func (e *Executor[A, T]) IsStale() bool {
	e.mu.Lock()
	last := e.state.LastFetched
	e.mu.Unlock()
	return Stale(last, e.opts.Clock.Now(), e.opts.CacheTime)
}

// Subscribe registers fn for state changes and returns its cancel func.
func (e *Executor[A, T]) Subscribe(fn func(State[T])) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// =============================================================================
// State Machine Steps
// =============================================================================

// begin supersedes the current call and marks the state loading.
func (e *Executor[A, T]) begin(ctx context.Context, args A) *call {
	e.mu.Lock()
	if e.current != nil {
		e.current.stop(ErrSuperseded)
	}
	e.generation++
	cctx, cancel := context.WithCancelCause(ctx)
	c := &call{generation: e.generation, ctx: cctx, cancel: cancel}
	e.current = c
	e.lastArgs = args
	e.hasArgs = true
	e.state.Loading = true
	e.state.Error = ""
	snapshot := e.state
	e.mu.Unlock()

	e.notify(snapshot)
	return c
}

// cancelled returns the cancellation cause of c, or nil if it is live.
func (e *Executor[A, T]) cancelled(c *call) error {
	if c.ctx.Err() == nil {
		return nil
	}
	return context.Cause(c.ctx)
}

// wait blocks for delay or until c is cancelled.
func (e *Executor[A, T]) wait(c *call, delay time.Duration) error {
	e.mu.Lock()
	if c.generation != e.generation {
		e.mu.Unlock()
		return ErrSuperseded
	}
	timer := e.opts.Clock.NewTimer(delay)
	c.timer = timer
	e.mu.Unlock()

	select {
	case <-c.ctx.Done():
		timer.Stop()
		return context.Cause(c.ctx)
	case <-timer.C():
	}

	e.mu.Lock()
	c.timer = nil
	e.mu.Unlock()
	return nil
}

// succeed stores val if c is still the current call.
func (e *Executor[A, T]) succeed(c *call, val T) bool {
	e.mu.Lock()
	if e.current != c {
		e.mu.Unlock()
		return false
	}
	e.current = nil
	e.state = State[T]{
		Data:        val,
		HasData:     true,
		LastFetched: e.opts.Clock.Now(),
	}
	snapshot := e.state
	e.mu.Unlock()

	e.opts.Metrics.ExecutorOutcomes.WithLabelValues(e.opts.Name, observability.OutcomeSuccess).Inc()
	e.logger.Debug("request succeeded", "attempts", c.attempt)
	e.notify(snapshot)
	if e.opts.OnSuccess != nil {
		e.opts.OnSuccess(val)
	}
	return true
}

// fail stores the normalized error if c is still the current call.
func (e *Executor[A, T]) fail(c *call, err error, span trace.Span) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	e.mu.Lock()
	if e.current != c {
		e.mu.Unlock()
		return
	}
	e.current = nil
	e.state.Loading = false
	e.state.Error = Message(err)
	snapshot := e.state
	e.mu.Unlock()

	e.opts.Metrics.ExecutorOutcomes.WithLabelValues(e.opts.Name, observability.OutcomeFailure).Inc()
	e.logger.Error("request failed", "attempts", c.attempt, "error", snapshot.Error)
	e.notify(snapshot)
	if e.opts.OnError != nil {
		e.opts.OnError(err)
	}
}

// finishCancelled clears Loading when the cancelled call still owns the
// state (caller context cancelled). Superseded and reset calls leave the
// state to their successor.
func (e *Executor[A, T]) finishCancelled(c *call, cause error, span trace.Span) {
	span.SetAttributes(attribute.Bool("cancelled", true))
	e.opts.Metrics.ExecutorOutcomes.WithLabelValues(e.opts.Name, observability.OutcomeCancelled).Inc()

	e.mu.Lock()
	if e.current != c {
		e.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	e.current = nil
	e.state.Loading = false
	snapshot := e.state
	e.mu.Unlock()

	e.logger.Debug("request cancelled", "cause", cause.Error())
	e.notify(snapshot)
}

func (e *Executor[A, T]) notify(s State[T]) {
	e.mu.Lock()
	subs := make([]func(State[T]), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}
