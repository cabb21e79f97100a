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

// PassThroughParams configures a PassThrough.
type PassThroughParams struct {
	// Copy selects shallow (shared arrays) or deep copies.
	Copy string `yaml:"copy" json:"copy" validate:"oneof=shallow deep"`
}

// DefaultPassThroughParams returns shallow copying.
func DefaultPassThroughParams() PassThroughParams {
	return PassThroughParams{Copy: "shallow"}
}

// PassThrough forwards its input unchanged. Its output has the kind of
// whatever it is connected to.
type PassThrough struct {
	executive.BaseAlgorithm
	params settings[PassThroughParams]
}

// NewPassThrough creates a shallow-copying identity filter.
func NewPassThrough() *PassThrough {
	f := &PassThrough{}
	f.params.v = DefaultPassThroughParams()
	return f
}

// Configure implements Configurable.
func (f *PassThrough) Configure(d registry.Decoder) (bool, error) {
	return f.params.configure(&f.BaseAlgorithm, DefaultPassThroughParams(), d)
}

func (f *PassThrough) InputPorts() []executive.InputPort {
	return []executive.InputPort{{Name: "input"}}
}

func (f *PassThrough) OutputPorts() []executive.OutputPort {
	return []executive.OutputPort{{Name: "output", Produces: dataobject.KindAny, SameAsInput: 0}}
}

func (f *PassThrough) RequestData(_ context.Context, _ *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	src, dst := executive.InputData(in, 0, 0), executive.OutputData(out, 0)
	if f.params.get().Copy == "deep" {
		return dst.DeepCopy(src)
	}
	return dst.ShallowCopy(src)
}
