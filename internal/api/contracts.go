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
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, call{
		method:    http.MethodPost,
		route:     "/auth/login",
		path:      "/auth/login",
		body:      req,
		out:       &out,
		anonymous: true,
	})
	return out, err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	err := c.do(ctx, call{method: http.MethodGet, route: "/auth/me", path: "/auth/me", out: &out})
	return out, err
}

// ListContracts returns one page of contracts.
func (c *Client) ListContracts(ctx context.Context, p ListParams) (ContractList, error) {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Size > 0 {
		q.Set("size", strconv.Itoa(p.Size))
	}
	if p.Status != "" {
		q.Set("status", string(p.Status))
	}
	if p.ContractType != "" {
		q.Set("contract_type", p.ContractType)
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}

	var out ContractList
	err := c.do(ctx, call{method: http.MethodGet, route: "/contracts", path: "/contracts", query: q, out: &out})
	return out, err
}

// GetContract returns one contract.
func (c *Client) GetContract(ctx context.Context, id string) (Contract, error) {
	var out Contract
	err := c.do(ctx, call{
		method: http.MethodGet,
		route:  "/contracts/{id}",
		path:   "/contracts/" + url.PathEscape(id),
		out:    &out,
	})
	return out, err
}

// CreateContract creates a contract and returns the stored record.
func (c *Client) CreateContract(ctx context.Context, in ContractCreate) (Contract, error) {
	var out Contract
	err := c.do(ctx, call{method: http.MethodPost, route: "/contracts", path: "/contracts", body: in, out: &out})
	return out, err
}

// UpdateContract applies a partial update and returns the stored record.
func (c *Client) UpdateContract(ctx context.Context, id string, in ContractUpdate) (Contract, error) {
	var out Contract
	err := c.do(ctx, call{
		method: http.MethodPut,
		route:  "/contracts/{id}",
		path:   "/contracts/" + url.PathEscape(id),
		body:   in,
		out:    &out,
	})
	return out, err
}

// DeleteContract deletes a contract.
func (c *Client) DeleteContract(ctx context.Context, id string) error {
	return c.do(ctx, call{
		method: http.MethodDelete,
		route:  "/contracts/{id}",
		path:   "/contracts/" + url.PathEscape(id),
	})
}

// BulkUpdateStatus sets the status of many contracts in one request.
func (c *Client) BulkUpdateStatus(ctx context.Context, ids []string, status ContractStatus) (BulkResult, error) {
	var out BulkResult
	err := c.do(ctx, call{
		method: http.MethodPost,
		route:  "/bulk/contracts/status",
		path:   "/bulk/contracts/status",
		body:   BulkStatusRequest{ContractIDs: ids, Status: status},
		out:    &out,
	})
	return out, err
}

// BulkDelete deletes many contracts in one request.
func (c *Client) BulkDelete(ctx context.Context, ids []string) (BulkResult, error) {
	var out BulkResult
	err := c.do(ctx, call{
		method: http.MethodPost,
		route:  "/bulk/contracts/delete",
		path:   "/bulk/contracts/delete",
		body:   BulkDeleteRequest{ContractIDs: ids},
		out:    &out,
	})
	return out, err
}
