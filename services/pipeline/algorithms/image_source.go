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
	"github.com/AleutianAI/vizpipe/services/pipeline/smp"
)

// ImageSourceParams configures an ImageSource.
type ImageSourceParams struct {
	WholeExtent []int     `yaml:"whole_extent" json:"whole_extent" validate:"extent"`
	Origin      []float64 `yaml:"origin" json:"origin" validate:"len=3"`
	Spacing     []float64 `yaml:"spacing" json:"spacing" validate:"len=3,dive,gt=0"`

	// Function is one of ramp (x+y+z), constant (Value) or distance
	// (from the world origin).
	Function string  `yaml:"function" json:"function" validate:"oneof=ramp constant distance"`
	Value    float64 `yaml:"value" json:"value"`
	Array    string  `yaml:"array" json:"array" validate:"required"`
}

// DefaultImageSourceParams returns a 10x10 ramp.
func DefaultImageSourceParams() ImageSourceParams {
	return ImageSourceParams{
		WholeExtent: []int{0, 9, 0, 9, 0, 0},
		Origin:      []float64{0, 0, 0},
		Spacing:     []float64{1, 1, 1},
		Function:    "ramp",
		Value:       1,
		Array:       "scalars",
	}
}

// ImageSource generates a scalar field on a structured grid. It can produce
// any sub-extent of its whole extent, so streaming consumers only pay for
// what they request.
type ImageSource struct {
	executive.BaseAlgorithm
	params settings[ImageSourceParams]
}

// NewImageSource creates a source with DefaultImageSourceParams.
func NewImageSource() *ImageSource {
	s := &ImageSource{}
	s.params.v = DefaultImageSourceParams()
	return s
}

// Params returns the current parameters.
func (s *ImageSource) Params() ImageSourceParams { return s.params.get() }

// SetParams validates and applies p.
func (s *ImageSource) SetParams(p ImageSourceParams) (bool, error) {
	return s.params.update(&s.BaseAlgorithm, p)
}

// Configure implements Configurable.
func (s *ImageSource) Configure(d registry.Decoder) (bool, error) {
	return s.params.configure(&s.BaseAlgorithm, DefaultImageSourceParams(), d)
}

func (s *ImageSource) InputPorts() []executive.InputPort { return nil }

func (s *ImageSource) OutputPorts() []executive.OutputPort {
	return []executive.OutputPort{{
		Name:        "image",
		Produces:    dataobject.KindImageData,
		SameAsInput: executive.NoSameAsInput,
	}}
}

// RequestInformation publishes the whole extent and geometry.
func (s *ImageSource) RequestInformation(_ context.Context, _ *executive.Request, _ []executive.InfoVector, out executive.InfoVector) error {
	p := s.params.get()
	executive.WholeExtent.Set(out[0], toExtent(p.WholeExtent))
	executive.Origin.Set(out[0], append([]float64(nil), p.Origin...))
	executive.Spacing.Set(out[0], append([]float64(nil), p.Spacing...))
	executive.CanProduceSubExtent.Set(out[0], true)
	return nil
}

// RequestData fills exactly the requested extent.
func (s *ImageSource) RequestData(ctx context.Context, req *executive.Request, _ []executive.InfoVector, out executive.InfoVector) error {
	p := s.params.get()
	r, _ := executive.GetRequest(out[0])
	whole := toExtent(p.WholeExtent)
	e := whole
	if r.HasExtent {
		e = r.Extent.Intersect(whole)
	}
	origin, spacing := toVec3(p.Origin, 0), toVec3(p.Spacing, 1)

	d := executive.OutputData(out, 0)
	d.SetExtent(e)
	d.SetGeometry(origin, spacing)
	arr := dataobject.NewArray(p.Array, 1, e.NumberOfPoints())

	err := smp.For(ctx, 0, arr.NumberOfTuples(), 0, func(_ context.Context, lo, hi int) error {
		if req.Aborted() {
			return executive.ErrAborted
		}
		for n := lo; n < hi; n++ {
			i, j, k := pointCoords(e, n)
			x := origin[0] + float64(i)*spacing[0]
			y := origin[1] + float64(j)*spacing[1]
			z := origin[2] + float64(k)*spacing[2]
			arr.Values[n] = evaluate(p, x, y, z)
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.PointData().AddArray(arr)
	req.UpdateProgress(1)
	return nil
}

func evaluate(p ImageSourceParams, x, y, z float64) float64 {
	switch p.Function {
	case "constant":
		return p.Value
	case "distance":
		return math.Sqrt(x*x + y*y + z*z)
	default:
		return x + y + z
	}
}

// pointCoords converts a flat index within e into structured indices.
func pointCoords(e extent.Extent, n int) (int, int, int) {
	dims := e.Dimensions()
	return e[0] + n%dims[0], e[2] + (n/dims[0])%dims[1], e[4] + n/(dims[0]*dims[1])
}
