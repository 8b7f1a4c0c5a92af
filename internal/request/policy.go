// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package request

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultCacheTime is how long fetched data counts as fresh.
const DefaultCacheTime = 5 * time.Minute

// ErrInvalidPolicy is returned by RetryPolicy.Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// MaxDelay is the ceiling of every computed backoff.
const MaxDelay = time.Duration(math.MaxInt64)

// RetryPolicy configures exponential backoff between attempts.
//
// Attempts is the number of retries after the first attempt, so an
// operation runs at most Attempts+1 times. The delay before retry n
// (n >= 1) is BaseDelay * 2^(n-1): 100ms, 200ms, 400ms, ... for a
// BaseDelay of 100ms. There is no jitter. Validate rejects policies whose
// last delay would exceed MaxDelay.
type RetryPolicy struct {
	Attempts  int           `yaml:"retry_attempts" json:"retry_attempts"`
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
}

// DefaultRetryPolicy returns three retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Second}
}

// NoRetry runs the operation once.
func NoRetry() RetryPolicy {
	return RetryPolicy{Attempts: 0, BaseDelay: time.Second}
}

// Validate checks the field ranges. The delay before the last retry must
// also fit in a time.Duration.
func (p RetryPolicy) Validate() error {
	if p.Attempts < 0 {
		return fmt.Errorf("%w: attempts must be >= 0, got %d", ErrInvalidPolicy, p.Attempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("%w: base delay must be positive, got %s", ErrInvalidPolicy, p.BaseDelay)
	}
	if p.Attempts > 0 {
		if _, ok := Backoff(p.BaseDelay, p.Attempts-1); !ok {
			return fmt.Errorf("%w: %d attempts from %s overflow the maximum delay", ErrInvalidPolicy, p.Attempts, p.BaseDelay)
		}
	}
	return nil
}

// Delay returns the wait before retry n. n below 1 is treated as 1.
// Delays that would overflow saturate at MaxDelay.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d, _ := Backoff(p.BaseDelay, n-1)
	return d
}

// Backoff returns base * 2^shift. It reports false and returns MaxDelay
// when the result does not fit in a time.Duration.
func Backoff(base time.Duration, shift int) (time.Duration, bool) {
	if base <= 0 || shift < 0 {
		return max(base, 0), true
	}
	if shift >= 63 || base > MaxDelay>>shift {
		return MaxDelay, false
	}
	return base << shift, true
}

// ShouldRetry reports whether a failure of attempt n schedules another.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt <= p.Attempts
}
