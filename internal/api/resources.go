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

// ListTemplates returns the active templates, optionally filtered by
// category.
func (c *Client) ListTemplates(ctx context.Context, category string) ([]Template, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	var out []Template
	err := c.do(ctx, call{method: http.MethodGet, route: "/templates", path: "/templates", query: q, out: &out})
	return out, err
}

// GetTemplate returns one template.
func (c *Client) GetTemplate(ctx context.Context, id string) (Template, error) {
	var out Template
	err := c.do(ctx, call{
		method: http.MethodGet,
		route:  "/templates/{id}",
		path:   "/templates/" + url.PathEscape(id),
		out:    &out,
	})
	return out, err
}

// Dashboard returns the analytics summary.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var out Dashboard
	err := c.do(ctx, call{method: http.MethodGet, route: "/analytics/dashboard", path: "/analytics/dashboard", out: &out})
	return out, err
}

// ListNotifications returns notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context, unreadOnly bool) (NotificationList, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread_only", strconv.FormatBool(true))
	}
	var out NotificationList
	err := c.do(ctx, call{method: http.MethodGet, route: "/notifications", path: "/notifications", query: q, out: &out})
	return out, err
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, call{
		method: http.MethodPut,
		route:  "/notifications/{id}/read",
		path:   "/notifications/" + url.PathEscape(id) + "/read",
	})
}

// ListTeam returns the members of the caller's company.
func (c *Client) ListTeam(ctx context.Context) ([]TeamMember, error) {
	var out []TeamMember
	err := c.do(ctx, call{method: http.MethodGet, route: "/team/members", path: "/team/members", out: &out})
	return out, err
}

// InviteMember invites a new member and returns the pending record.
func (c *Client) InviteMember(ctx context.Context, in InviteRequest) (TeamMember, error) {
	var out TeamMember
	err := c.do(ctx, call{method: http.MethodPost, route: "/team/invite", path: "/team/invite", body: in, out: &out})
	return out, err
}
