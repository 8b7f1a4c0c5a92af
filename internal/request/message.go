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
	"context"
	"errors"
	"strings"
)

// FallbackMessage is shown when an error carries no usable text.
const FallbackMessage = "An unexpected error occurred"

var (
	// ErrSuperseded is returned by an Execute call that was replaced by a
	// newer call on the same executor.
	ErrSuperseded = errors.New("request superseded by a newer call")

	// ErrReset is returned by an Execute call cancelled through Reset.
	ErrReset = errors.New("request cancelled by reset")

	// ErrNoPreviousCall is returned by Refresh before any Execute.
	ErrNoPreviousCall = errors.New("no previous call to refresh")
)

// Detailer is implemented by transport errors that carry a user-facing
// detail string decoded from the response body.
type Detailer interface {
	ErrorDetail() string
}

// Message normalizes err into a single human-readable string.
//
// The nested detail of the first Detailer in the chain wins, then the
// error's own message, then FallbackMessage.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var d Detailer
	if errors.As(err, &d) {
		if detail := strings.TrimSpace(d.ErrorDetail()); detail != "" {
			return detail
		}
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return FallbackMessage
}

// IsCancellation reports whether err is a cancellation rather than a
// failure. Cancellations are never retried nor surfaced to the user.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrSuperseded) ||
		errors.Is(err, ErrReset)
}
