// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth holds the bearer token in protected memory.
//
// # Description
//
// Vault keeps the token sealed in a memguard Enclave (encrypted at rest in
// RAM, key in locked pages) and only decrypts it for the duration of a
// Token call. The API client reads it through the api.TokenSource
// interface, so the token is never stored in a plain struct field.
//
// # Thread Safety
//
// Vault is safe for concurrent use.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/AleutianAI/Pactoria/internal/clock"
)

var (
	// ErrNoToken is returned by Set for an empty token.
	ErrNoToken = errors.New("auth: empty token")

	// ErrExpired is returned by Set for a token whose exp claim has passed.
	ErrExpired = errors.New("auth: token expired")
)

// Vault is an api.TokenSource backed by a memguard enclave.
type Vault struct {
	clock clock.Clock

	mu      sync.RWMutex
	enclave *memguard.Enclave
	expiry  time.Time
}

// NewVault creates an empty Vault. A nil clk uses the real clock.
func NewVault(clk clock.Clock) *Vault {
	if clk == nil {
		clk = clock.Real()
	}
	return &Vault{clock: clk}
}

// Set seals token into the vault.
//
// # Inputs
//
//   - token: a bearer token. When it is a JWT with an exp claim, the
//     expiry is recorded and an already expired token is rejected.
//     Opaque tokens are accepted without expiry.
//
// # Outputs
//
//   - error: ErrNoToken or ErrExpired.
func (v *Vault) Set(token string) error {
	if token == "" {
		return ErrNoToken
	}
	exp, err := Expiry(token)
	if err == nil && !exp.IsZero() && !v.clock.Now().Before(exp) {
		return ErrExpired
	}

	enclave := memguard.NewEnclave([]byte(token))

	v.mu.Lock()
	v.enclave = enclave
	v.expiry = exp
	v.mu.Unlock()
	return nil
}

// Token returns the token, or "" when the vault is empty or the token has
// expired. It implements api.TokenSource.
func (v *Vault) Token() (string, error) {
	v.mu.RLock()
	enclave, exp := v.enclave, v.expiry
	v.mu.RUnlock()

	if enclave == nil {
		return "", nil
	}
	if !exp.IsZero() && !v.clock.Now().Before(exp) {
		return "", nil
	}

	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open token enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// Present reports whether a token is held, expired or not.
func (v *Vault) Present() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.enclave != nil
}

// Expiry returns the recorded expiry, or the zero time when unknown.
func (v *Vault) Expiry() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.expiry
}

// Expired reports whether a held token has passed its expiry.
func (v *Vault) Expired() bool {
	v.mu.RLock()
	exp, ok := v.expiry, v.enclave != nil
	v.mu.RUnlock()
	return ok && !exp.IsZero() && !v.clock.Now().Before(exp)
}

// Clear drops the token.
func (v *Vault) Clear() {
	v.mu.Lock()
	v.enclave = nil
	v.expiry = time.Time{}
	v.mu.Unlock()
}

// Expiry decodes the exp claim of a JWT without verifying its signature.
// The client cannot verify server tokens; the value only drives local
// decisions such as discarding a stale persisted session.
//
// A token without exp yields the zero time and a nil error. A token that
// is not a JWT yields an error.
func Expiry(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
