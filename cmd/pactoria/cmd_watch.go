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
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Pactoria/internal/realtime"
)

func (a *app) watchCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch [topic]...",
		Short: "Stream realtime events until interrupted",
		Long: `Connect to the realtime channel and print every event. The contracts
topic is always subscribed; extra topics can be given as arguments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			rt := a.session.Realtime
			var mu sync.Mutex
			stopMsgs := rt.OnAny(func(msg realtime.Message) {
				if msg.Type == realtime.TypePong {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if err := a.printer.Print(msg, func() {
					a.printer.Info(fmt.Sprintf("%s %s %s", msg.Type, msg.Topic, string(msg.Data)))
				}); err != nil {
					a.logger.Warn("printing event", "error", err)
				}
			})
			defer stopMsgs()
			stopStatus := rt.WatchStatus(func(s realtime.Status) {
				mu.Lock()
				defer mu.Unlock()
				a.printer.Info("connection " + string(s))
			})
			defer stopStatus()

			if len(args) > 0 {
				if err := rt.Subscribe(args...); err != nil {
					return err
				}
			}
			if err := a.session.Connect(); err != nil {
				return err
			}

			<-ctx.Done()
			rt.Disconnect()
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 waits for interrupt)")
	return cmd
}
