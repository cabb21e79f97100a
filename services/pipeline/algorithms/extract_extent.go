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

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
)

// ExtractExtentParams configures an ExtractExtent.
type ExtractExtentParams struct {
	VOI []int `yaml:"voi" json:"voi" validate:"extent"`
}

// DefaultExtractExtentParams selects the first 5x5 block.
func DefaultExtractExtentParams() ExtractExtentParams {
	return ExtractExtentParams{VOI: []int{0, 4, 0, 4, 0, 0}}
}

// ExtractExtent restricts an image to a volume of interest. Both the
// advertised whole extent and the upstream request are limited to the VOI.
type ExtractExtent struct {
	executive.BaseAlgorithm
	params settings[ExtractExtentParams]
}

// NewExtractExtent creates a filter with DefaultExtractExtentParams.
func NewExtractExtent() *ExtractExtent {
	f := &ExtractExtent{}
	f.params.v = DefaultExtractExtentParams()
	return f
}

// Configure implements Configurable.
func (f *ExtractExtent) Configure(d registry.Decoder) (bool, error) {
	return f.params.configure(&f.BaseAlgorithm, DefaultExtractExtentParams(), d)
}

func (f *ExtractExtent) InputPorts() []executive.InputPort {
	return []executive.InputPort{{Name: "image", Accepts: []dataobject.Kind{dataobject.KindImageData}}}
}

func (f *ExtractExtent) OutputPorts() []executive.OutputPort {
	return []executive.OutputPort{{Name: "image", Produces: dataobject.KindImageData, SameAsInput: executive.NoSameAsInput}}
}

func (f *ExtractExtent) RequestInformation(_ context.Context, _ *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	voi := toExtent(f.params.get().VOI)
	if whole, ok := executive.WholeExtent.Lookup(in[0][0]); ok {
		voi = voi.Intersect(whole)
	}
	executive.WholeExtent.Set(out[0], voi)
	return nil
}

func (f *ExtractExtent) RequestUpdateExtent(_ context.Context, _ *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	voi := toExtent(f.params.get().VOI)
	r, _ := executive.GetRequest(out[0])
	if r.HasExtent {
		voi = voi.Intersect(r.Extent)
	}
	executive.SetUpdateExtent(in[0][0], voi)
	return nil
}

func (f *ExtractExtent) RequestData(_ context.Context, req *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	src, dst := executive.InputData(in, 0, 0), executive.OutputData(out, 0)
	target := toExtent(f.params.get().VOI)
	if r, _ := executive.GetRequest(out[0]); r.HasExtent {
		target = target.Intersect(r.Extent)
	}
	if err := dst.ShallowCopy(src); err != nil {
		return err
	}
	dst.Crop(target)
	req.UpdateProgress(1)
	return nil
}
