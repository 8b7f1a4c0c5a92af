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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Pactoria/internal/api"
)

func (a *app) contractsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contracts",
		Aliases: []string{"c"},
		Short:   "List and manage contracts",
	}
	cmd.AddCommand(
		a.contractsListCmd(),
		a.contractsGetCmd(),
		a.contractsCreateCmd(),
		a.contractsUpdateCmd(),
		a.contractsDeleteCmd(),
		a.contractsBulkStatusCmd(),
		a.contractsBulkDeleteCmd(),
	)
	return cmd
}

func (a *app) contractsListCmd() *cobra.Command {
	var (
		p      api.ListParams
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			p.Status = api.ContractStatus(status)
			st, err := a.session.Contracts.Load(cmd.Context(), p)
			if err != nil {
				return err
			}
			list := api.ContractList{Contracts: st.Contracts, Total: st.Total, Page: st.Page, Size: st.Size, Pages: st.Pages}
			return a.printer.Print(list, func() {
				rows := make([][]string, len(list.Contracts))
				for i, c := range list.Contracts {
					rows[i] = []string{c.ID, c.Title, c.ContractType, string(c.Status), formatValue(c)}
				}
				a.printer.Table([]string{"ID", "TITLE", "TYPE", "STATUS", "VALUE"}, rows)
				a.printer.Info(fmt.Sprintf("Page %d of %d (%d total)", list.Page, max(list.Pages, 1), list.Total))
			})
		},
	}
	cmd.Flags().IntVar(&p.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&p.Size, "size", 20, "page size")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&p.ContractType, "type", "", "filter by contract type")
	cmd.Flags().StringVar(&p.Search, "search", "", "search titles")
	return cmd
}

func (a *app) contractsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			c, err := a.session.API.GetContract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.Print(c, func() { a.printContract(c) })
		},
	}
}

func (a *app) contractsCreateCmd() *cobra.Command {
	var in api.ContractCreate
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			c, err := a.session.Contracts.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.printer.Print(c, func() {
				a.printer.Success(fmt.Sprintf("Created contract %s", c.ID))
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "contract title")
	cmd.Flags().StringVar(&in.ContractType, "type", "", "contract type, e.g. nda or service_agreement")
	cmd.Flags().StringVar(&in.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&in.SupplierName, "supplier", "", "supplier name")
	cmd.Flags().Float64Var(&in.Value, "value", 0, "contract value")
	cmd.Flags().StringVar(&in.Currency, "currency", "GBP", "ISO currency code")
	cmd.Flags().StringVar(&in.TemplateID, "template", "", "template id")
	cmd.Flags().StringVar(&in.PlainEnglish, "describe", "", "plain English description for generation")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (a *app) contractsUpdateCmd() *cobra.Command {
	var (
		title, status, client, supplier string
		value                           float64
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			var u api.ContractUpdate
			flags := cmd.Flags()
			if flags.Changed("title") {
				u.Title = &title
			}
			if flags.Changed("status") {
				s := api.ContractStatus(status)
				if !s.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				u.Status = &s
			}
			if flags.Changed("client") {
				u.ClientName = &client
			}
			if flags.Changed("supplier") {
				u.SupplierName = &supplier
			}
			if flags.Changed("value") {
				u.Value = &value
			}

			c, err := a.session.Contracts.Update(cmd.Context(), args[0], u)
			if err != nil {
				return err
			}
			return a.printer.Print(c, func() {
				a.printer.Success(fmt.Sprintf("Updated contract %s (version %d)", c.ID, c.Version))
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&client, "client", "", "new client name")
	cmd.Flags().StringVar(&supplier, "supplier", "", "new supplier name")
	cmd.Flags().Float64Var(&value, "value", 0, "new value")
	return cmd
}

func (a *app) contractsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			if err := a.session.Contracts.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success(fmt.Sprintf("Deleted contract %s", args[0]))
			return nil
		},
	}
}

func (a *app) contractsBulkStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "bulk-status <id>...",
		Short: "Set the status of several contracts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			s := api.ContractStatus(status)
			if !s.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			res, err := a.session.Contracts.BulkUpdateStatus(cmd.Context(), args, s)
			if err != nil {
				return err
			}
			return a.printBulk(res, len(args))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func (a *app) contractsBulkDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-delete <id>...",
		Short: "Delete several contracts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			res, err := a.session.Contracts.BulkDelete(cmd.Context(), args)
			if err != nil {
				return err
			}
			return a.printBulk(res, len(args))
		},
	}
}

func (a *app) printBulk(res api.BulkResult, total int) error {
	return a.printer.Print(res, func() {
		for _, e := range res.Errors {
			a.printer.Warning(fmt.Sprintf("%s: %s", e.ID, e.Error))
		}
		a.printer.Summary(res.SuccessCount, res.FailedCount, total)
	})
}

func (a *app) printContract(c api.Contract) {
	rows := [][2]string{
		{"id", c.ID},
		{"type", c.ContractType},
		{"status", string(c.Status)},
		{"value", formatValue(c)},
		{"client", c.ClientName},
		{"supplier", c.SupplierName},
		{"version", strconv.Itoa(c.Version)},
		{"created", c.CreatedAt.String()},
	}
	if c.StartDate != nil {
		rows = append(rows, [2]string{"starts", c.StartDate.String()})
	}
	if c.EndDate != nil {
		rows = append(rows, [2]string{"ends", c.EndDate.String()})
	}
	a.printer.Box(c.Title, rows)
}

func formatValue(c api.Contract) string {
	if c.Value == 0 {
		return "-"
	}
	return strconv.FormatFloat(c.Value, 'f', 2, 64) + " " + c.Currency
}
