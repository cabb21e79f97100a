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

	"github.com/spf13/cobra"
)

func newInfoCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <definition.yaml>",
		Short: "Run the information pass and print what every node advertises",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, args[0], g.logger, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if _, err := s.built.UpdateInformation(ctx); err != nil {
				return err
			}

			p := g.printer(cmd)
			p.Title(fmt.Sprintf("pipeline %s", s.built.Definition.Name))
			var rows [][]string
			for _, n := range s.built.Pipeline.Nodes() {
				for port, op := range n.OutputPorts() {
					in := n.OutputInformation(port)
					if in == nil {
						continue
					}
					exported := in.Export()
					keys := make([]string, 0, len(exported))
					for k := range exported {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						rows = append(rows, []string{n.Name(), fmt.Sprintf("%d:%s", port, op.Name), k, fmt.Sprint(exported[k])})
					}
				}
			}
			p.Table([]string{"NODE", "PORT", "KEY", "VALUE"}, rows)
			return nil
		},
	}
}
