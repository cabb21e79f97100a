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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vizpipe/services/pipeline/journal"
)

func newJournalCmd(g *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal <dir> [session]",
		Short: "List journaled update sessions, or the events of one session",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := journal.DefaultConfig()
			cfg.Path = args[0]
			cfg.GCInterval = 0
			cfg.Logger = g.logger
			j, err := journal.Open(cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			p := g.printer(cmd)
			if len(args) == 2 {
				events, err := j.Session(ctx, args[1])
				if err != nil {
					return err
				}
				p.Title("session " + args[1])
				rows := make([][]string, 0, len(events))
				for _, ev := range events {
					rows = append(rows, []string{
						fmt.Sprint(ev.Sequence), ev.Node, string(ev.Outcome),
						ev.Update.String(), ev.Duration.Round(time.Microsecond).String(), ev.Error,
					})
				}
				p.Table([]string{"SEQ", "NODE", "OUTCOME", "REQUEST", "DURATION", "ERROR"}, rows)
				return nil
			}

			sessions, err := j.Sessions(ctx)
			if err != nil {
				return err
			}
			if limit > 0 && len(sessions) > limit {
				sessions = sessions[:limit]
			}
			p.Title("sessions")
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				status := "ok"
				if s.Failed {
					status = "failed"
				}
				rows = append(rows, []string{
					s.ID, s.Started.Local().Format(time.RFC3339), fmt.Sprint(s.Events),
					fmt.Sprint(s.Outcomes["executed"]), fmt.Sprint(s.Outcomes["skipped"]), status,
				})
			}
			p.Table([]string{"SESSION", "STARTED", "EVENTS", "EXECUTED", "SKIPPED", "STATUS"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most this many sessions (0 for all)")
	return cmd
}
