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

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
)

// ShrinkParams configures a Shrink.
type ShrinkParams struct {
	Factor int `yaml:"factor" json:"factor" validate:"min=1,max=64"`
}

// DefaultShrinkParams halves the resolution.
func DefaultShrinkParams() ShrinkParams {
	return ShrinkParams{Factor: 2}
}

// Shrink subsamples an image, keeping every Factor-th point on each axis
// that has more than one point. Output point i maps to input point
// i*Factor, so the output whole extent and spacing both change.
type Shrink struct {
	executive.BaseAlgorithm
	params settings[ShrinkParams]
}

// NewShrink creates a filter with DefaultShrinkParams.
func NewShrink() *Shrink {
	f := &Shrink{}
	f.params.v = DefaultShrinkParams()
	return f
}

// Configure implements Configurable.
func (f *Shrink) Configure(d registry.Decoder) (bool, error) {
	return f.params.configure(&f.BaseAlgorithm, DefaultShrinkParams(), d)
}

func (f *Shrink) InputPorts() []executive.InputPort {
	return []executive.InputPort{{Name: "image", Accepts: []dataobject.Kind{dataobject.KindImageData}}}
}

func (f *Shrink) OutputPorts() []executive.OutputPort {
	return []executive.OutputPort{{Name: "image", Produces: dataobject.KindImageData, SameAsInput: executive.NoSameAsInput}}
}

// factors returns the per-axis factor: flat axes are never shrunk.
func (f *Shrink) factors(whole extent.Extent) [3]int {
	factor := f.params.get().Factor
	out := [3]int{1, 1, 1}
	for a := 0; a < 3; a++ {
		if whole[2*a] < whole[2*a+1] {
			out[a] = factor
		}
	}
	return out
}

// RequestInformation shrinks the whole extent and scales the spacing.
func (f *Shrink) RequestInformation(_ context.Context, _ *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	whole, ok := executive.WholeExtent.Lookup(in[0][0])
	if !ok {
		return nil
	}
	fa := f.factors(whole)
	var shrunk extent.Extent
	for a := 0; a < 3; a++ {
		shrunk[2*a] = ceilDiv(whole[2*a], fa[a])
		shrunk[2*a+1] = floorDiv(whole[2*a+1], fa[a])
	}
	executive.WholeExtent.Set(out[0], shrunk)
	if sp, ok := executive.Spacing.Lookup(in[0][0]); ok && len(sp) == 3 {
		executive.Spacing.Set(out[0], []float64{sp[0] * float64(fa[0]), sp[1] * float64(fa[1]), sp[2] * float64(fa[2])})
	}
	return nil
}

// RequestUpdateExtent maps the output request back onto input points.
func (f *Shrink) RequestUpdateExtent(_ context.Context, _ *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	r, _ := executive.GetRequest(out[0])
	if !r.HasExtent || r.Extent.IsEmpty() {
		return nil
	}
	whole := executive.WholeExtent.Value(in[0][0])
	fa := f.factors(whole)
	var up extent.Extent
	for a := 0; a < 3; a++ {
		up[2*a] = r.Extent[2*a] * fa[a]
		up[2*a+1] = r.Extent[2*a+1] * fa[a]
	}
	executive.SetUpdateExtent(in[0][0], up.Clamp(whole))
	return nil
}

func (f *Shrink) RequestData(_ context.Context, req *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	src := executive.InputData(in, 0, 0)
	r, _ := executive.GetRequest(out[0])
	fa := f.factors(executive.WholeExtent.Value(in[0][0]))
	inExt := src.Extent()

	outExt := extent.New(math.MinInt32, math.MaxInt32, math.MinInt32, math.MaxInt32, math.MinInt32, math.MaxInt32)
	if r.HasExtent {
		outExt = r.Extent
	}
	for a := 0; a < 3; a++ {
		outExt[2*a] = max(outExt[2*a], ceilDiv(inExt[2*a], fa[a]))
		outExt[2*a+1] = min(outExt[2*a+1], floorDiv(inExt[2*a+1], fa[a]))
	}

	dst := executive.OutputData(out, 0)
	dst.SetExtent(outExt)
	origin, sp := src.Origin(), src.Spacing()
	dst.SetGeometry(origin, [3]float64{sp[0] * float64(fa[0]), sp[1] * float64(fa[1]), sp[2] * float64(fa[2])})

	total := outExt.NumberOfPoints()
	for _, a := range src.PointData().Arrays() {
		sampled := dataobject.NewArray(a.Name, a.Components, total)
		for n := 0; n < total; n++ {
			i, j, k := pointCoords(outExt, n)
			copy(sampled.Tuple(n), a.Tuple(inExt.PointIndex(i*fa[0], j*fa[1], k*fa[2])))
		}
		dst.PointData().AddArray(sampled)
	}
	req.UpdateProgress(1)
	return nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}
