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
	"log/slog"

	"github.com/AleutianAI/vizpipe/services/pipeline/algorithms"
	"github.com/AleutianAI/vizpipe/services/pipeline/config"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/journal"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
	"github.com/AleutianAI/vizpipe/services/pipeline/telemetry"
)

// sessionOptions tune openSession per command.
type sessionOptions struct {
	// journalPath overrides the definition's journal section.
	journalPath string

	// metrics enables the Prometheus exporter even when the definition
	// names none.
	metrics bool
}

// session is a loaded definition with its pipeline, journal and telemetry.
type session struct {
	path     string
	built    *config.Built
	reg      *registry.Registry
	journal  *journal.Journal
	options  []executive.Option
	shutdown func(context.Context) error
	logger   *slog.Logger
}

func newRegistry() (*registry.Registry, error) {
	reg := registry.New()
	if err := algorithms.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	reg.Freeze()
	return reg, nil
}

// openSession loads path and builds its pipeline.
func openSession(ctx context.Context, path string, logger *slog.Logger, so sessionOptions) (*session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def, err := config.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}

	s := &session{path: path, reg: reg, logger: logger}

	tcfg := telemetry.Config{
		ServiceName:    "vizpipe",
		ServiceVersion: "0.1.0",
		TraceExporter:  telemetry.ExporterNone,
		MetricExporter: telemetry.ExporterNone,
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
	}
	if so.metrics {
		tcfg.MetricExporter = telemetry.ExporterPrometheus
	}
	tcfg = tcfg.Merge(def.Telemetry.ServiceName, def.Telemetry.TraceExporter, def.Telemetry.MetricExporter, def.Telemetry.OTLPEndpoint)
	s.shutdown, err = telemetry.Init(ctx, tcfg)
	if err != nil {
		return nil, err
	}

	jdef := def.Journal
	if so.journalPath != "" {
		jdef = config.JournalDef{Path: so.journalPath}
	}
	if jdef.Enabled() {
		jcfg := journal.DefaultConfig()
		jcfg.Path = jdef.Path
		jcfg.InMemory = jdef.InMemory
		jcfg.Logger = logger
		s.journal, err = journal.Open(jcfg)
		if err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("opening journal: %w", err)
		}
	}

	s.options = []executive.Option{executive.WithLogger(logger)}
	if s.journal != nil {
		s.options = append(s.options, executive.WithRecorder(s.journal))
	}
	s.built, err = config.Build(def, reg, s.options...)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Close releases the journal and flushes telemetry.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if s.shutdown != nil {
		errs = append(errs, s.shutdown(ctx))
	}
	return errors.Join(errs...)
}
