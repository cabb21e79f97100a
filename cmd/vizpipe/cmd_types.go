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
	"github.com/spf13/cobra"
)

func newTypesCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the algorithm types a definition may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := newRegistry()
			if err != nil {
				return err
			}
			types := reg.Types()
			rows := make([][]string, 0, len(types))
			for _, t := range types {
				rows = append(rows, []string{t.Name, t.Description})
			}
			g.printer(cmd).Table([]string{"TYPE", "DESCRIPTION"}, rows)
			return nil
		},
	}
}
