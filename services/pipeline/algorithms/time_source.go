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
	"sort"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
)

// TimeSourceParams configures a TimeSource.
type TimeSourceParams struct {
	Steps []float64 `yaml:"steps" json:"steps" validate:"min=1,ascending"`
	Rows  int       `yaml:"rows" json:"rows" validate:"min=1,max=1000000"`
}

// DefaultTimeSourceParams returns three steps of ten rows.
func DefaultTimeSourceParams() TimeSourceParams {
	return TimeSourceParams{Steps: []float64{0, 1, 2}, Rows: 10}
}

// TimeSource produces a table whose values depend on the requested time.
//
// Requests between steps snap to the closest earlier step. The table has a
// "row" and a "value" column, value = time * (row + 1). Piece requests
// split the rows.
type TimeSource struct {
	executive.BaseAlgorithm
	params settings[TimeSourceParams]
}

// NewTimeSource creates a source with DefaultTimeSourceParams.
func NewTimeSource() *TimeSource {
	s := &TimeSource{}
	s.params.v = DefaultTimeSourceParams()
	return s
}

// Params returns the current parameters.
func (s *TimeSource) Params() TimeSourceParams { return s.params.get() }

// SetParams validates and applies p.
func (s *TimeSource) SetParams(p TimeSourceParams) (bool, error) {
	return s.params.update(&s.BaseAlgorithm, p)
}

// Configure implements Configurable.
func (s *TimeSource) Configure(d registry.Decoder) (bool, error) {
	return s.params.configure(&s.BaseAlgorithm, DefaultTimeSourceParams(), d)
}

func (s *TimeSource) InputPorts() []executive.InputPort { return nil }

func (s *TimeSource) OutputPorts() []executive.OutputPort {
	return []executive.OutputPort{{
		Name:        "table",
		Produces:    dataobject.KindTable,
		SameAsInput: executive.NoSameAsInput,
	}}
}

// RequestInformation publishes the time steps and range.
func (s *TimeSource) RequestInformation(_ context.Context, _ *executive.Request, _ []executive.InfoVector, out executive.InfoVector) error {
	p := s.params.get()
	steps := append([]float64(nil), p.Steps...)
	executive.TimeSteps.Set(out[0], steps)
	executive.TimeRange.Set(out[0], []float64{steps[0], steps[len(steps)-1]})
	executive.CanHandlePieceRequest.Set(out[0], true)
	return nil
}

// RequestData builds the rows of the requested piece at the snapped time.
func (s *TimeSource) RequestData(_ context.Context, req *executive.Request, _ []executive.InfoVector, out executive.InfoVector) error {
	p := s.params.get()
	r, _ := executive.GetRequest(out[0])
	t := p.Steps[0]
	if r.HasTimeStep {
		t = snapTime(p.Steps, r.TimeStep)
	}

	lo := r.Piece * p.Rows / r.NumberOfPieces
	hi := (r.Piece + 1) * p.Rows / r.NumberOfPieces
	rows := dataobject.NewArray("row", 1, hi-lo)
	values := dataobject.NewArray("value", 1, hi-lo)
	for n := lo; n < hi; n++ {
		rows.Values[n-lo] = float64(n)
		values.Values[n-lo] = t * float64(n+1)
	}

	d := executive.OutputData(out, 0)
	d.PointData().AddArray(rows)
	d.PointData().AddArray(values)
	meta := d.Meta()
	meta.HasTimeStep, meta.TimeStep = true, t
	d.SetMeta(meta)
	req.UpdateProgress(1)
	return nil
}

// snapTime returns the largest step <= t, or the first step.
func snapTime(steps []float64, t float64) float64 {
	i := sort.SearchFloat64s(steps, t)
	switch {
	case i < len(steps) && steps[i] == t:
		return t
	case i == 0:
		return steps[0]
	default:
		return steps[i-1]
	}
}
