// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package algorithms

import (
	"context"
	"math"
	"sync"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
)

// PieceStreamerParams configures a PieceStreamer.
type PieceStreamerParams struct {
	Pieces      int    `yaml:"pieces" json:"pieces" validate:"min=1,max=4096"`
	GhostLevels int    `yaml:"ghost_levels" json:"ghost_levels" validate:"min=0,max=16"`
	Array       string `yaml:"array" json:"array"`
}

// DefaultPieceStreamerParams streams four pieces of the first point array.
func DefaultPieceStreamerParams() PieceStreamerParams {
	return PieceStreamerParams{Pieces: 4}
}

// PieceStats is one row of the streamer's output table.
type PieceStats struct {
	Piece  int
	Points int
	Min    float64
	Max    float64
}

// PieceStreamer pulls its input one piece at a time and tabulates
// per-piece statistics. It keeps executing until every piece has passed,
// so upstream memory is bounded by the largest piece.
//
// The output table has the columns piece, points, min and max, one row
// per piece.
type PieceStreamer struct {
	executive.BaseAlgorithm
	params settings[PieceStreamerParams]

	mu   sync.Mutex
	rows []PieceStats
}

// NewPieceStreamer creates a streamer with DefaultPieceStreamerParams.
func NewPieceStreamer() *PieceStreamer {
	f := &PieceStreamer{}
	f.params.v = DefaultPieceStreamerParams()
	return f
}

// Configure implements Configurable.
func (f *PieceStreamer) Configure(d registry.Decoder) (bool, error) {
	return f.params.configure(&f.BaseAlgorithm, DefaultPieceStreamerParams(), d)
}

// Stats returns the rows of the last completed or running stream.
func (f *PieceStreamer) Stats() []PieceStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PieceStats(nil), f.rows...)
}

func (f *PieceStreamer) InputPorts() []executive.InputPort {
	return []executive.InputPort{{Name: "input"}}
}

func (f *PieceStreamer) OutputPorts() []executive.OutputPort {
	return []executive.OutputPort{{Name: "stats", Produces: dataobject.KindTable, SameAsInput: executive.NoSameAsInput}}
}

// RequestUpdateExtent asks for the piece of the current iteration.
func (f *PieceStreamer) RequestUpdateExtent(_ context.Context, req *executive.Request, in []executive.InfoVector, _ executive.InfoVector) error {
	p := f.params.get()
	r, _ := executive.GetRequest(in[0][0])
	up := executive.PieceRequest(req.Iteration%p.Pieces, p.Pieces, p.GhostLevels)
	up.TimeStep, up.HasTimeStep = r.TimeStep, r.HasTimeStep
	executive.SetRequest(in[0][0], up)
	return nil
}

func (f *PieceStreamer) RequestData(_ context.Context, req *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	p := f.params.get()
	src := executive.InputData(in, 0, 0)
	row := pieceStats(src, p.Array)
	row.Piece = src.Meta().Piece

	f.mu.Lock()
	if req.Iteration == 0 {
		f.rows = f.rows[:0]
	}
	f.rows = append(f.rows, row)
	rows := append([]PieceStats(nil), f.rows...)
	f.mu.Unlock()

	dst := executive.OutputData(out, 0)
	cols := map[string]*dataobject.Array{}
	for _, name := range []string{"piece", "points", "min", "max"} {
		cols[name] = dataobject.NewArray(name, 1, len(rows))
		dst.PointData().AddArray(cols[name])
	}
	for i, s := range rows {
		cols["piece"].Values[i] = float64(s.Piece)
		cols["points"].Values[i] = float64(s.Points)
		cols["min"].Values[i] = s.Min
		cols["max"].Values[i] = s.Max
	}

	req.UpdateProgress(float64(req.Iteration+1) / float64(p.Pieces))
	req.ContinueExecuting = req.Iteration+1 < p.Pieces
	return nil
}

// pieceStats summarizes the named point array, or the first one.
func pieceStats(d *dataobject.DataObject, name string) PieceStats {
	s := PieceStats{Points: d.NumberOfPoints(), Min: math.NaN(), Max: math.NaN()}
	var a *dataobject.Array
	if name != "" {
		a, _ = d.PointData().Array(name)
	} else if arrays := d.PointData().Arrays(); len(arrays) > 0 {
		a = arrays[0]
	}
	if a == nil || len(a.Values) == 0 {
		return s
	}
	s.Min, s.Max = a.Values[0], a.Values[0]
	for _, v := range a.Values[1:] {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	return s
}
