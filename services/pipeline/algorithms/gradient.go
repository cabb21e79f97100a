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
	"fmt"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
	"github.com/AleutianAI/vizpipe/services/pipeline/smp"
)

// GradientParams configures a Gradient.
type GradientParams struct {
	InputArray  string `yaml:"input_array" json:"input_array" validate:"required"`
	ResultArray string `yaml:"result_array" json:"result_array" validate:"required,nefield=InputArray"`
	Grain       int    `yaml:"grain" json:"grain" validate:"min=0"`
}

// DefaultGradientParams reads "scalars" and writes "gradient".
func DefaultGradientParams() GradientParams {
	return GradientParams{InputArray: "scalars", ResultArray: "gradient"}
}

// Gradient computes the spatial gradient of an image point array.
//
// Interior points use central differences, which need one neighbour on
// each side, so the filter asks its input for one ghost layer beyond the
// requested extent. Points on the boundary of the whole extent fall back
// to one-sided differences.
type Gradient struct {
	executive.BaseAlgorithm
	params settings[GradientParams]
}

// NewGradient creates a filter with DefaultGradientParams.
func NewGradient() *Gradient {
	f := &Gradient{}
	f.params.v = DefaultGradientParams()
	return f
}

// Params returns the current parameters.
func (f *Gradient) Params() GradientParams { return f.params.get() }

// SetParams validates and applies p. Returns true if anything changed.
func (f *Gradient) SetParams(p GradientParams) (bool, error) {
	return f.params.update(&f.BaseAlgorithm, p)
}

// Configure implements Configurable.
func (f *Gradient) Configure(d registry.Decoder) (bool, error) {
	return f.params.configure(&f.BaseAlgorithm, DefaultGradientParams(), d)
}

func (f *Gradient) InputPorts() []executive.InputPort {
	return []executive.InputPort{{Name: "image", Accepts: []dataobject.Kind{dataobject.KindImageData}}}
}

func (f *Gradient) OutputPorts() []executive.OutputPort {
	return []executive.OutputPort{{Name: "gradient", Produces: dataobject.KindImageData, SameAsInput: executive.NoSameAsInput}}
}

// RequestUpdateExtent grows the request by one layer within the whole extent.
func (f *Gradient) RequestUpdateExtent(_ context.Context, _ *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	r, _ := executive.GetRequest(out[0])
	if !r.HasExtent || r.Extent.IsEmpty() {
		return nil
	}
	whole := executive.WholeExtent.Value(in[0][0])
	executive.SetUpdateExtent(in[0][0], r.Extent.Grow(1).Clamp(whole))
	return nil
}

func (f *Gradient) RequestData(ctx context.Context, req *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	p := f.params.get()
	src := executive.InputData(in, 0, 0)
	scalars, ok := src.PointData().Array(p.InputArray)
	if !ok {
		return fmt.Errorf("gradient: input has no point array %q", p.InputArray)
	}

	r, _ := executive.GetRequest(out[0])
	inExt := src.Extent()
	outExt := inExt
	if r.HasExtent {
		outExt = r.Extent.Intersect(inExt)
	}

	dst := executive.OutputData(out, 0)
	dst.SetExtent(outExt)
	dst.SetGeometry(src.Origin(), src.Spacing())
	grad := dataobject.NewArray(p.ResultArray, 3, outExt.NumberOfPoints())
	spacing := src.Spacing()

	err := smp.For(ctx, 0, grad.NumberOfTuples(), p.Grain, func(_ context.Context, lo, hi int) error {
		if req.Aborted() {
			return executive.ErrAborted
		}
		for n := lo; n < hi; n++ {
			idx := [3]int{}
			idx[0], idx[1], idx[2] = pointCoords(outExt, n)
			g := grad.Tuple(n)
			for axis := 0; axis < 3; axis++ {
				g[axis] = derivative(scalars, inExt, idx, axis, spacing[axis])
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	dst.PointData().AddArray(grad)
	req.UpdateProgress(1)
	return nil
}

// derivative differentiates component 0 of a along axis at idx, using the
// neighbours available inside e.
func derivative(a *dataobject.Array, e extent.Extent, idx [3]int, axis int, h float64) float64 {
	lo, hi := idx, idx
	if idx[axis] > e[2*axis] {
		lo[axis]--
	}
	if idx[axis] < e[2*axis+1] {
		hi[axis]++
	}
	steps := hi[axis] - lo[axis]
	if steps == 0 || h == 0 {
		return 0
	}
	fHi := a.Tuple(e.PointIndex(hi[0], hi[1], hi[2]))[0]
	fLo := a.Tuple(e.PointIndex(lo[0], lo[1], lo[2]))[0]
	return (fHi - fLo) / (float64(steps) * h)
}
