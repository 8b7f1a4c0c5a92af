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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Pactoria/internal/drafts"
)

func (a *app) draftsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Keep unfinished contracts locally",
	}
	cmd.AddCommand(
		a.draftsSaveCmd(),
		a.draftsListCmd(),
		a.draftsShowCmd(),
		a.draftsDiscardCmd(),
		a.draftsSubmitCmd(),
	)
	return cmd
}

func (a *app) autosaver(onSave func(drafts.Result)) *drafts.Autosaver {
	return drafts.NewAutosaver(a.store, drafts.Options{
		Debounce: a.cfg.Drafts.Debounce,
		Logger:   a.logger,
		OnSave:   onSave,
	})
}

func (a *app) draftsSaveCmd() *cobra.Command {
	var (
		id, title, ctype, client, supplier, currency, start, end, template, describe string
		step                                                                        int
		value                                                                       float64
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a draft",
		Long: `Create a draft, or update the one named by --id. Only flags that are
given change the draft. The draft is saved even when the current step has
validation errors; those are listed after saving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result drafts.Result
			saver := a.autosaver(func(r drafts.Result) { result = r })

			d := drafts.New()
			if id != "" {
				loaded, err := saver.Load(cmd.Context(), id)
				if err != nil {
					_ = saver.Close()
					return err
				}
				d = loaded
			}

			flags := cmd.Flags()
			if flags.Changed("step") {
				d.Step = drafts.Step(step)
			}
			if flags.Changed("template") {
				d.TemplateID = template
			}
			if flags.Changed("type") {
				d.ContractType = ctype
			}
			if flags.Changed("title") {
				d.Title = title
			}
			if flags.Changed("describe") {
				d.PlainEnglish = describe
			}
			if flags.Changed("client") {
				d.Parties = setParty(d.Parties, "client", client)
			}
			if flags.Changed("supplier") {
				d.Parties = setParty(d.Parties, "supplier", supplier)
			}
			if flags.Changed("value") {
				d.Value = value
			}
			if flags.Changed("currency") {
				d.Currency = currency
			}
			if flags.Changed("start") {
				d.StartDate = start
			}
			if flags.Changed("end") {
				d.EndDate = end
			}

			if err := saver.Update(d); err != nil {
				_ = saver.Close()
				return err
			}
			if err := saver.Close(); err != nil {
				return err
			}
			if result.Err != nil {
				return result.Err
			}

			return a.printer.Print(result.Draft, func() {
				a.printer.Success(fmt.Sprintf("Saved draft %s at step %s", result.Draft.ID, result.Draft.Step))
				for _, fe := range result.Errors {
					a.printer.Warning(fe.Field + ": " + fe.Message)
				}
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "draft to update (default: new draft)")
	f.IntVar(&step, "step", int(drafts.StepTemplate), "wizard step 1-4")
	f.StringVar(&template, "template", "", "template id")
	f.StringVar(&ctype, "type", "", "contract type")
	f.StringVar(&title, "title", "", "contract title")
	f.StringVar(&describe, "describe", "", "plain English description")
	f.StringVar(&client, "client", "", "client party name")
	f.StringVar(&supplier, "supplier", "", "supplier party name")
	f.Float64Var(&value, "value", 0, "contract value")
	f.StringVar(&currency, "currency", "GBP", "ISO currency code")
	f.StringVar(&start, "start", "", "start date, YYYY-MM-DD")
	f.StringVar(&end, "end", "", "end date, YYYY-MM-DD")
	return cmd
}

// setParty replaces the first party with role, or appends one. An empty
// name removes it.
func setParty(parties []drafts.Party, role, name string) []drafts.Party {
	out := make([]drafts.Party, 0, len(parties)+1)
	found := false
	for _, p := range parties {
		if p.Role == role && !found {
			found = true
			if name == "" {
				continue
			}
			p.Name = name
		}
		out = append(out, p)
	}
	if !found && name != "" {
		out = append(out, drafts.Party{Name: name, Role: role})
	}
	return out
}

func (a *app) draftsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved drafts, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := drafts.List(cmd.Context(), a.store)
			if err != nil {
				return err
			}
			return a.printer.Print(list, func() {
				rows := make([][]string, len(list))
				for i, d := range list {
					rows[i] = []string{d.ID, d.Title, d.Step.String(), d.UpdatedAt.Local().Format(time.DateTime)}
				}
				a.printer.Table([]string{"ID", "TITLE", "STEP", "UPDATED"}, rows)
			})
		},
	}
}

func (a *app) draftsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a draft and its validation state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			saver := a.autosaver(nil)
			defer saver.Close()

			d, err := saver.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.Print(d, func() {
				rows := [][2]string{
					{"id", d.ID},
					{"step", d.Step.String()},
					{"type", d.ContractType},
					{"value", strconv.FormatFloat(d.Value, 'f', 2, 64) + " " + d.Currency},
					{"start", d.StartDate},
					{"end", d.EndDate},
				}
				for _, p := range d.Parties {
					rows = append(rows, [2]string{p.Role, p.Name})
				}
				a.printer.Box(d.Title, rows)
				for _, fe := range drafts.Validate(d, d.Step) {
					a.printer.Warning(fe.Field + ": " + fe.Message)
				}
			})
		},
	}
}

func (a *app) draftsDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <id>",
		Short: "Delete a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			saver := a.autosaver(nil)
			defer saver.Close()

			if err := saver.Discard(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success("Discarded draft " + args[0])
			return nil
		},
	}
}

func (a *app) draftsSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id>",
		Short: "Create a contract from a complete draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			saver := a.autosaver(nil)
			defer saver.Close()

			ctx := cmd.Context()
			d, err := saver.Load(ctx, args[0])
			if err != nil {
				return err
			}
			in, err := d.Contract()
			if err != nil {
				var fes drafts.FieldErrors
				if errors.As(err, &fes) {
					for _, fe := range fes {
						a.printer.Warning(fe.Field + ": " + fe.Message)
					}
				}
				return fmt.Errorf("draft %s is incomplete", d.ID)
			}

			c, err := a.session.Contracts.Create(ctx, in)
			if err != nil {
				return err
			}
			if err := saver.Discard(ctx, d.ID); err != nil {
				a.logger.Warn("discarding submitted draft", "draft_id", d.ID, "error", err)
			}
			return a.printer.Print(c, func() {
				a.printer.Success(fmt.Sprintf("Created contract %s from draft %s", c.ID, d.ID))
			})
		},
	}
}
