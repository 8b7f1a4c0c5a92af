// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var (
	// ErrUnauthenticated matches any *Error with status 401.
	ErrUnauthenticated = errors.New("api: unauthenticated")

	// ErrNotFound matches any *Error with status 404.
	ErrNotFound = errors.New("api: not found")

	// ErrNoToken is returned when an authenticated call is made without a
	// token.
	ErrNoToken = errors.New("api: no bearer token")
)

// Loc is the path of a validation item, e.g. ["body", "parties", 0, "name"].
// List indices arrive as JSON numbers and are kept as their decimal text.
type Loc []string

// UnmarshalJSON accepts string and number segments.
func (l *Loc) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode loc: %w", err)
	}
	out := make(Loc, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return fmt.Errorf("decode loc segment %s: %w", item, err)
		}
		out = append(out, n.String())
	}
	*l = out
	return nil
}

// MarshalJSON writes index segments as numbers.
func (l Loc) MarshalJSON() ([]byte, error) {
	items := make([]any, len(l))
	for i, seg := range l {
		if n, err := strconv.Atoi(seg); err == nil && strconv.Itoa(n) == seg {
			items[i] = n
		} else {
			items[i] = seg
		}
	}
	return json.Marshal(items)
}

// FieldError is one validation item from a 422 response.
type FieldError struct {
	Loc  Loc    `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// Field returns the location without the leading "body"/"query" segment.
func (f FieldError) Field() string {
	loc := f.Loc
	if len(loc) > 1 && (loc[0] == "body" || loc[0] == "query" || loc[0] == "path") {
		loc = loc[1:]
	}
	return strings.Join(loc, ".")
}

// Error is a non-2xx response from the backend.
//
// Detail is the user-facing text decoded from the body's "detail" field.
// The backend sends either a string or a list of validation items; the
// list form is flattened into Detail and kept verbatim in Fields.
type Error struct {
	StatusCode int
	Detail     string
	Message    string
	Fields     []FieldError
	RequestID  string
}

func (e *Error) Error() string {
	text := e.Detail
	if text == "" {
		text = e.Message
	}
	if text == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), text)
}

// ErrorDetail returns the nested detail, or the message when the body
// carried no detail.
func (e *Error) ErrorDetail() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Message
}

// Is lets errors.Is match status sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthenticated:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Temporary reports whether retrying the same request may succeed.
func (e *Error) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// errorBody is the loosest shape an error response can take.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// decodeError builds an *Error from a response status and body. It never
// fails: malformed bodies degrade to the status text.
func decodeError(status int, body []byte, requestID string) *Error {
	e := &Error{StatusCode: status, RequestID: requestID}

	var b errorBody
	if err := json.Unmarshal(body, &b); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 && !strings.HasPrefix(text, "<") {
			e.Message = text
		}
		return e
	}

	e.Message = b.Message
	if e.Message == "" {
		e.Message = b.Error
	}
	e.Detail, e.Fields = decodeDetail(b.Detail)
	return e
}

func decodeDetail(raw json.RawMessage) (string, []FieldError) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var items []FieldError
	if err := json.Unmarshal(raw, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if f := it.Field(); f != "" {
				parts = append(parts, f+": "+it.Msg)
			} else {
				parts = append(parts, it.Msg)
			}
		}
		return strings.Join(parts, "; "), items
	}

	var obj struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message, nil
		}
		return obj.Msg, nil
	}
	return "", nil
}
