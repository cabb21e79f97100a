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
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vizpipe/pkg/ux"
	"github.com/AleutianAI/vizpipe/services/pipeline/config"
	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
)

type runOptions struct {
	journal  string
	save     string
	saveNode string
	savePort int
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <definition.yaml>",
		Short: "Build the pipeline and update its sinks once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, args[0], g.logger, sessionOptions{journalPath: o.journal})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			p := g.printer(cmd)
			result, err := s.built.Update(ctx)
			printResult(p, s.built, result, err)
			if err != nil {
				return err
			}
			if o.save != "" {
				return saveOutput(p, s.built, o)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.journal, "journal", "", "journal directory (overrides the definition)")
	f.StringVar(&o.save, "save", "", "write a snapshot of a sink output to this file")
	f.StringVar(&o.saveNode, "node", "", "node whose output --save writes (default: first sink)")
	f.IntVar(&o.savePort, "port", 0, "output port for --save")
	return cmd
}

func saveOutput(p *ux.Printer, b *config.Built, o *runOptions) error {
	var n *executive.Node
	if o.saveNode != "" {
		var ok bool
		if n, ok = b.Pipeline.Node(o.saveNode); !ok {
			return fmt.Errorf("%w: %s", executive.ErrNodeNotFound, o.saveNode)
		}
	} else {
		sinks := b.Sinks()
		if len(sinks) == 0 {
			return fmt.Errorf("%w: no sink to save", executive.ErrNoRoots)
		}
		n = sinks[0]
	}
	d := n.Output(o.savePort)
	if c, ok := n.Algorithm().(interface{ Last() *dataobject.DataObject }); ok && n.NumberOfOutputPorts() == 0 {
		d = c.Last()
	}
	if d == nil {
		return fmt.Errorf("%w: %s port %d", executive.ErrInvalidPort, n.Name(), o.savePort)
	}
	if err := dataobject.SaveSnapshot(d, n.Name(), o.save); err != nil {
		return err
	}
	p.Status(ux.IconSuccess, "saved "+n.Name(), o.save)
	return nil
}

// printResult renders one update: a header, then every node's outcome.
func printResult(p *ux.Printer, b *config.Built, result *executive.Result, err error) {
	if result == nil {
		p.Status(ux.IconError, "update rejected", err.Error())
		return
	}
	p.Title(fmt.Sprintf("pipeline %s", b.Definition.Name))
	status := "ok"
	if !result.Success {
		status = "failed"
	}
	p.KeyValues(
		"session", result.SessionID,
		"status", status,
		"duration", result.Duration.Round(time.Microsecond).String(),
		"executed", fmt.Sprint(len(result.Executed)),
		"skipped", fmt.Sprint(len(result.Skipped)),
	)

	rows := make([][]string, 0, len(result.Executed)+len(result.Skipped)+1)
	for _, name := range result.Executed {
		rows = append(rows, []string{name, "executed", result.NodeDurations[name].Round(time.Microsecond).String()})
	}
	skipped := append([]string(nil), result.Skipped...)
	sort.Strings(skipped)
	for _, name := range skipped {
		rows = append(rows, []string{name, "skipped", "-"})
	}
	if result.FailedNode != "" {
		rows = append(rows, []string{result.FailedNode, "failed", "-"})
	}
	p.Table([]string{"NODE", "OUTCOME", "DURATION"}, rows)
	if err != nil {
		p.Box("update failed", err.Error())
	}
}
