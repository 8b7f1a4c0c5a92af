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

import "time"

// Stale reports whether data fetched at lastFetched is stale at now.
//
// A zero lastFetched (never fetched) is always stale. Otherwise data is
// stale once strictly more than ttl has elapsed, so at exactly
// lastFetched+ttl it is still fresh.
//
// Stale is a pure function; callers pass the current time on every read
// so the result always reflects the wall clock.
func Stale(lastFetched, now time.Time, ttl time.Duration) bool {
	if lastFetched.IsZero() {
		return true
	}
	return now.Sub(lastFetched) > ttl
}
