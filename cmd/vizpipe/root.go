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
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vizpipe/pkg/logging"
	"github.com/AleutianAI/vizpipe/pkg/ux"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	logLevel  string
	logFormat string
	logDir    string
	plain     bool

	logger *slog.Logger
	closer *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "vizpipe",
		Short: "Run demand-driven visualization pipelines",
		Long: `vizpipe builds a pipeline of algorithm nodes from a YAML definition
and brings its sinks up to date, re-executing only what changed.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat, opts.logDir)
			if err != nil {
				return err
			}
			opts.closer = logger
			opts.logger = logger.Slog()
			slog.SetDefault(opts.logger)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.closer == nil {
				return nil
			}
			return opts.closer.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "auto", "log format: auto, text, json")
	pf.StringVar(&opts.logDir, "log-dir", "", "also append JSON logs to a daily file in this directory")
	pf.BoolVar(&opts.plain, "plain", false, "disable styled output")

	root.AddCommand(
		newRunCmd(opts),
		newInfoCmd(opts),
		newWatchCmd(opts),
		newServeCmd(opts),
		newJournalCmd(opts),
		newTypesCmd(opts),
		newSnapshotCmd(opts),
	)
	return root
}

func (o *globalOptions) printer(cmd *cobra.Command) *ux.Printer {
	if o.plain {
		return ux.NewPlainPrinter(cmd.OutOrStdout())
	}
	return ux.NewPrinter(cmd.OutOrStdout())
}

// newLogger builds the process logger. "auto" picks text for terminals and
// JSON otherwise. A non-empty dir adds a daily JSON log file.
func newLogger(w io.Writer, level, format, dir string) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Level:   level,
		Format:  format,
		Writer:  w,
		LogDir:  dir,
		Service: "vizpipe",
	})
}
