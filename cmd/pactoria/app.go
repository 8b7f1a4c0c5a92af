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
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Pactoria/internal/config"
	"github.com/AleutianAI/Pactoria/internal/request"
	"github.com/AleutianAI/Pactoria/internal/session"
	"github.com/AleutianAI/Pactoria/internal/storage"
	"github.com/AleutianAI/Pactoria/internal/telemetry"
	"github.com/AleutianAI/Pactoria/pkg/logging"
	"github.com/AleutianAI/Pactoria/pkg/ux"
)

const serviceName = "pactoria"

// app carries state shared by every command of one invocation.
type app struct {
	// Flags
	configPath string
	logLevel   string
	jsonOut    bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg      config.Config
	logger   *logging.Logger
	store    *storage.Store
	session  *session.Session
	printer  *ux.Printer
	shutdown func(context.Context) error
}

// execute runs one CLI invocation and always releases what setup opened,
// even when the command fails.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	a := &app{in: in, out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	a.teardown()
	if err != nil {
		a.reportError(err)
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pactoria",
		Short: "Command-line client for the Pactoria contract platform",
		Long: `pactoria talks to a Pactoria backend: log in, manage contracts,
watch realtime updates and keep wizard drafts locally.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.pactoria/pactoria.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "write JSON to stdout")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.contractsCmd(),
		a.templatesCmd(),
		a.notificationsCmd(),
		a.teamCmd(),
		a.analyticsCmd(),
		a.watchCmd(),
		a.draftsCmd(),
	)
	return root
}

// setup loads config and bootstraps the session before any subcommand.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.printer = ux.NewPrinter(a.out, a.errOut, a.jsonOut)

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	logCfg, err := cfg.Logging.LoggerConfig(serviceName)
	if err != nil {
		return err
	}
	logCfg.Writer = a.errOut
	a.logger = logging.New(logCfg)

	ctx := cmd.Context()
	tcfg := cfg.Telemetry
	if tcfg.ServiceName == "" {
		tcfg.ServiceName = serviceName
	}
	if a.shutdown, err = telemetry.Init(ctx, tcfg); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	if a.store, err = storage.Open(cfg.Storage, a.logger); err != nil {
		return err
	}

	a.session, err = session.Bootstrap(ctx, session.Deps{
		API:       cfg.API,
		Retry:     cfg.Request.Policy(),
		CacheTime: cfg.Request.CacheTime,
		Realtime:  cfg.Realtime,
		Storage:   a.store,
		Logger:    a.logger,
	})
	return err
}

func (a *app) teardown() {
	if a.session != nil {
		a.session.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing storage", "error", err)
		}
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.shutdown(ctx)
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func (a *app) reportError(err error) {
	p := a.printer
	if p == nil {
		p = ux.NewPrinter(a.out, a.errOut, false)
	}
	if errors.Is(err, session.ErrNotLoggedIn) {
		p.Error("Not logged in. Run `pactoria login` first.")
		return
	}
	p.Error(request.Message(err))
}

// requireLogin fails fast for commands that need a token.
func (a *app) requireLogin() error {
	if !a.session.Authenticated() {
		return session.ErrNotLoggedIn
	}
	return nil
}
