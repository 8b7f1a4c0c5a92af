// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Pactoria/internal/api"
)

// --- Templates ---

func (a *app) templatesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "templates", Short: "Browse contract templates"}

	var category string
	list := &cobra.Command{
		Use:   "list",
		Short: "List active templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			tpls, err := a.session.API.ListTemplates(cmd.Context(), category)
			if err != nil {
				return err
			}
			return a.printer.Print(tpls, func() {
				rows := make([][]string, len(tpls))
				for i, t := range tpls {
					rows[i] = []string{t.ID, t.Name, t.Category, t.ContractType, t.Version}
				}
				a.printer.Table([]string{"ID", "NAME", "CATEGORY", "TYPE", "VERSION"}, rows)
			})
		},
	}
	list.Flags().StringVar(&category, "category", "", "filter by category")

	cmd.AddCommand(list)
	return cmd
}

// --- Notifications ---

func (a *app) notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notifications", Aliases: []string{"n"}, Short: "Read notifications"}

	var unread bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			nl, err := a.session.API.ListNotifications(cmd.Context(), unread)
			if err != nil {
				return err
			}
			return a.printer.Print(nl, func() {
				rows := make([][]string, len(nl.Notifications))
				for i, n := range nl.Notifications {
					mark := " "
					if !n.Read {
						mark = "*"
					}
					rows[i] = []string{mark, n.ID, n.Priority, n.Title, n.Message}
				}
				a.printer.Table([]string{"", "ID", "PRIORITY", "TITLE", "MESSAGE"}, rows)
				a.printer.Info(fmt.Sprintf("%d unread of %d", nl.UnreadCount, nl.Total))
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "only unread notifications")

	read := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			if err := a.session.API.MarkNotificationRead(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success("Marked as read")
			return nil
		},
	}

	cmd.AddCommand(list, read)
	return cmd
}

// --- Team ---

func (a *app) teamCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "team", Short: "Manage team members"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List team members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			members, err := a.session.API.ListTeam(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer.Print(members, func() {
				rows := make([][]string, len(members))
				for i, m := range members {
					rows[i] = []string{m.ID, m.FullName, string(m.Email), m.Role, strconv.FormatBool(m.IsActive)}
				}
				a.printer.Table([]string{"ID", "NAME", "EMAIL", "ROLE", "ACTIVE"}, rows)
			})
		},
	}

	var in api.InviteRequest
	var email string
	invite := &cobra.Command{
		Use:   "invite",
		Short: "Invite a new member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			in.Email = strfmt.Email(email)
			m, err := a.session.API.InviteMember(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.printer.Print(m, func() {
				a.printer.Success(fmt.Sprintf("Invited %s as %s", m.Email, m.Role))
			})
		},
	}
	invite.Flags().StringVar(&email, "email", "", "member email")
	invite.Flags().StringVar(&in.FullName, "name", "", "member full name")
	invite.Flags().StringVar(&in.Role, "role", "viewer", "role: admin, manager or viewer")
	_ = invite.MarkFlagRequired("email")
	_ = invite.MarkFlagRequired("name")

	cmd.AddCommand(list, invite)
	return cmd
}

// --- Analytics ---

func (a *app) analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Show the dashboard summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			d, err := a.session.API.Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer.Print(d, func() {
				rows := [][2]string{
					{"total", strconv.Itoa(d.TotalContracts)},
					{"active", strconv.Itoa(d.ActiveContracts)},
					{"draft", strconv.Itoa(d.DraftContracts)},
					{"expired", strconv.Itoa(d.ExpiredContracts)},
					{"high risk", strconv.Itoa(d.HighRiskContracts)},
					{"compliance", strconv.FormatFloat(d.AverageCompliance, 'f', 1, 64)},
				}
				currencies := make([]string, 0, len(d.ValueByCurrency))
				for cur := range d.ValueByCurrency {
					currencies = append(currencies, cur)
				}
				slices.Sort(currencies)
				for _, cur := range currencies {
					rows = append(rows, [2]string{"value " + cur, strconv.FormatFloat(d.ValueByCurrency[cur], 'f', 2, 64)})
				}
				a.printer.Box("Dashboard", rows)
			})
		},
	}
}
