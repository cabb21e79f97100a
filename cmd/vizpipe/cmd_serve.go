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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/vizpipe/pkg/ux"
	"github.com/AleutianAI/vizpipe/services/pipeline/server"
	"github.com/AleutianAI/vizpipe/services/pipeline/telemetry"
	"github.com/AleutianAI/vizpipe/services/pipeline/watch"
)

type serveOptions struct {
	addr    string
	journal string
	watch   bool
}

func newServeCmd(g *globalOptions) *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve <definition.yaml>",
		Short: "Serve the pipeline over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, args[0], g.logger, sessionOptions{journalPath: o.journal, metrics: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			var src server.Source = server.Static{Built: s.built}
			var w *watch.Watcher
			if o.watch {
				w, err = watch.New(args[0], s.built, s.reg, watch.Options{
					Logger:          s.logger,
					PipelineOptions: s.options,
				})
				if err != nil {
					return err
				}
				src = w
			}

			srv := server.New(src, server.Options{
				Journal:     s.journal,
				Metrics:     telemetry.MetricsHandler(),
				Logger:      s.logger,
				ServiceName: s.built.Definition.Name,
			})
			g.printer(cmd).Status(ux.IconPending, "serving "+s.built.Definition.Name, o.addr)

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error { return srv.Run(ctx, o.addr) })
			if w != nil {
				eg.Go(func() error { return w.Run(ctx) })
			}
			return eg.Wait()
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", ":8080", "listen address")
	f.StringVar(&o.journal, "journal", "", "journal directory (overrides the definition)")
	f.BoolVar(&o.watch, "watch", false, "reload the definition when it changes")
	return cmd
}
