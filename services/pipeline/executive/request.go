// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executive

import (
	"fmt"

	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
	"github.com/AleutianAI/vizpipe/services/pipeline/info"
)

// UpdateRequest describes what a consumer wants from one output.
//
// Structured outputs are addressed by Extent; unstructured outputs by
// Piece/NumberOfPieces. GhostLevels and TimeStep apply to both.
type UpdateRequest struct {
	// Extent is the requested structured extent, meaningful when HasExtent is set.
	Extent    extent.Extent `json:"extent,omitempty"`
	HasExtent bool          `json:"has_extent"`

	// Piece and NumberOfPieces select one fragment of the dataset.
	Piece          int `json:"piece"`
	NumberOfPieces int `json:"number_of_pieces"`

	// GhostLevels is the number of extra boundary layers requested.
	GhostLevels int `json:"ghost_levels"`

	// TimeStep is the requested time value, meaningful when HasTimeStep is set.
	TimeStep    float64 `json:"time_step"`
	HasTimeStep bool    `json:"has_time_step"`

	// Exact asks structured producers to crop to exactly Extent.
	Exact bool `json:"exact"`
}

// WholeRequest asks for everything: piece 0 of 1, no ghost levels.
func WholeRequest() UpdateRequest {
	return UpdateRequest{Piece: 0, NumberOfPieces: 1}
}

// PieceRequest asks for one piece of n with the given ghost levels.
func PieceRequest(piece, n, ghost int) UpdateRequest {
	return UpdateRequest{Piece: piece, NumberOfPieces: n, GhostLevels: ghost}
}

// ExtentRequest asks for a structured extent.
func ExtentRequest(e extent.Extent) UpdateRequest {
	return UpdateRequest{Extent: e, HasExtent: true, Piece: 0, NumberOfPieces: 1}
}

// WithTimeStep returns a copy of r that also requests time t.
func (r UpdateRequest) WithTimeStep(t float64) UpdateRequest {
	r.TimeStep, r.HasTimeStep = t, true
	return r
}

// Validate checks piece and ghost parameters.
func (r UpdateRequest) Validate() error {
	n := r.NumberOfPieces
	if n == 0 {
		n = 1
	}
	if n < 0 || r.Piece < 0 || r.Piece >= n {
		return fmt.Errorf("%w: piece %d of %d", ErrInvalidRequest, r.Piece, r.NumberOfPieces)
	}
	if r.GhostLevels < 0 {
		return fmt.Errorf("%w: ghost levels %d", ErrInvalidRequest, r.GhostLevels)
	}
	return nil
}

func (r UpdateRequest) normalized() UpdateRequest {
	if r.NumberOfPieces <= 0 {
		r.NumberOfPieces = 1
	}
	return r
}

// Union merges two requests for the same output into one that satisfies both.
//
// Description:
//
//	Extents are unioned. Different piece selections collapse to the whole
//	dataset (piece 0 of 1). Ghost levels take the maximum. Exact cropping is
//	kept only if both ask for it. Two different time steps cannot be served
//	by one execution and are reported as ErrRequestConflict.
//
// Outputs:
//
//	UpdateRequest - The merged request.
//	error - ErrRequestConflict on differing time steps.
func (r UpdateRequest) Union(o UpdateRequest) (UpdateRequest, error) {
	r, o = r.normalized(), o.normalized()
	out := r

	switch {
	case r.HasExtent && o.HasExtent:
		out.Extent = r.Extent.Union(o.Extent)
	case o.HasExtent:
		out.Extent, out.HasExtent = o.Extent, true
	}

	if r.Piece != o.Piece || r.NumberOfPieces != o.NumberOfPieces {
		out.Piece, out.NumberOfPieces = 0, 1
	}
	out.GhostLevels = max(r.GhostLevels, o.GhostLevels)

	switch {
	case r.HasTimeStep && o.HasTimeStep:
		if r.TimeStep != o.TimeStep {
			return r, fmt.Errorf("%w: time step %g vs %g", ErrRequestConflict, r.TimeStep, o.TimeStep)
		}
	case o.HasTimeStep:
		out.TimeStep, out.HasTimeStep = o.TimeStep, true
	}

	out.Exact = r.Exact && o.Exact
	return out, nil
}

// Equal compares two requests. Time is compared only when compareTime is set.
func (r UpdateRequest) Equal(o UpdateRequest, compareTime bool) bool {
	r, o = r.normalized(), o.normalized()
	if r.HasExtent != o.HasExtent || (r.HasExtent && r.Extent != o.Extent) {
		return false
	}
	if r.Piece != o.Piece || r.NumberOfPieces != o.NumberOfPieces || r.GhostLevels != o.GhostLevels {
		return false
	}
	if r.Exact != o.Exact {
		return false
	}
	if compareTime {
		if r.HasTimeStep != o.HasTimeStep || (r.HasTimeStep && r.TimeStep != o.TimeStep) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the request selects no structured points.
func (r UpdateRequest) IsEmpty() bool {
	return r.HasExtent && r.Extent.IsEmpty()
}

// String formats the request for logs.
func (r UpdateRequest) String() string {
	r = r.normalized()
	s := fmt.Sprintf("piece %d/%d ghost %d", r.Piece, r.NumberOfPieces, r.GhostLevels)
	if r.HasExtent {
		s = "extent " + r.Extent.String() + " " + s
	}
	if r.HasTimeStep {
		s += fmt.Sprintf(" t=%g", r.TimeStep)
	}
	if r.Exact {
		s += " exact"
	}
	return s
}

// SetRequest writes r into the request keys of in, replacing earlier values.
func SetRequest(in *info.Information, r UpdateRequest) {
	r = r.normalized()
	if r.HasExtent {
		UpdateExtent.Set(in, r.Extent)
	} else {
		UpdateExtent.Remove(in)
	}
	UpdatePieceNumber.Set(in, r.Piece)
	UpdateNumberOfPieces.Set(in, r.NumberOfPieces)
	UpdateNumberOfGhostLevels.Set(in, r.GhostLevels)
	if r.HasTimeStep {
		UpdateTimeStep.Set(in, r.TimeStep)
	} else {
		UpdateTimeStep.Remove(in)
	}
	if r.Exact {
		ExactExtent.Set(in, true)
	} else {
		ExactExtent.Remove(in)
	}
}

// GetRequest reads the request keys of in. The boolean is false when no
// request has been written.
func GetRequest(in *info.Information) (UpdateRequest, bool) {
	if !UpdateNumberOfPieces.Has(in) && !UpdateExtent.Has(in) {
		return WholeRequest(), false
	}
	r := UpdateRequest{
		Piece:          UpdatePieceNumber.Value(in),
		NumberOfPieces: UpdateNumberOfPieces.Value(in),
		GhostLevels:    UpdateNumberOfGhostLevels.Value(in),
		Exact:          ExactExtent.Value(in),
	}
	if e, ok := UpdateExtent.Lookup(in); ok {
		r.Extent, r.HasExtent = e, true
	}
	if t, ok := UpdateTimeStep.Lookup(in); ok {
		r.TimeStep, r.HasTimeStep = t, true
	}
	return r.normalized(), true
}

// SetUpdateExtent rewrites only the extent of the request stored in in.
// Algorithms use it in RequestUpdateExtent to widen or narrow input requests.
func SetUpdateExtent(in *info.Information, e extent.Extent) {
	r, _ := GetRequest(in)
	r.Extent, r.HasExtent = e, true
	SetRequest(in, r)
}
