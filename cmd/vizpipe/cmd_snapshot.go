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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
)

func newSnapshotCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <file>",
		Short: "Verify and describe a saved data snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := dataobject.LoadSnapshot(args[0])
			if err != nil {
				return err
			}
			d := snap.Object
			p := g.printer(cmd)
			p.Title("snapshot " + snap.Name)
			pairs := []string{
				"version", snap.Version,
				"written", time.UnixMilli(snap.Timestamp).UTC().Format(time.RFC3339),
				"kind", d.Kind().String(),
				"points", fmt.Sprint(d.NumberOfPoints()),
				"blocks", fmt.Sprint(d.NumberOfBlocks()),
			}
			if d.Kind().ExtentType() == dataobject.Extent3D {
				pairs = append(pairs, "extent", d.Extent().String())
			}
			pairs = append(pairs, "point arrays", strings.Join(d.PointData().Names(), ", "))
			p.KeyValues(pairs...)
			return nil
		},
	}
}
