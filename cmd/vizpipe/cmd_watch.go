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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vizpipe/pkg/ux"
	"github.com/AleutianAI/vizpipe/services/pipeline/watch"
)

type watchOptions struct {
	journal     string
	debounce    time.Duration
	minInterval time.Duration
}

func newWatchCmd(g *globalOptions) *cobra.Command {
	o := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <definition.yaml>",
		Short: "Update the pipeline every time its definition changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, args[0], g.logger, sessionOptions{journalPath: o.journal})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			p := g.printer(cmd)
			result, err := s.built.Update(ctx)
			printResult(p, s.built, result, err)

			var w *watch.Watcher
			w, err = watch.New(args[0], s.built, s.reg, watch.Options{
				Debounce:        o.debounce,
				MinInterval:     o.minInterval,
				Logger:          s.logger,
				PipelineOptions: s.options,
				OnReload: func(r watch.Reload) {
					switch {
					case r.Result != nil:
						printResult(p, w.Current(), r.Result, r.Err)
					case r.Err != nil:
						p.Status(ux.IconWarning, "definition rejected", r.Err.Error())
					}
				},
			})
			if err != nil {
				return err
			}
			p.Status(ux.IconPending, "watching "+args[0], "ctrl-c to stop")
			return w.Run(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.journal, "journal", "", "journal directory (overrides the definition)")
	f.DurationVar(&o.debounce, "debounce", 200*time.Millisecond, "quiet period before reloading")
	f.DurationVar(&o.minInterval, "min-interval", time.Second, "minimum time between reloads")
	return cmd
}
