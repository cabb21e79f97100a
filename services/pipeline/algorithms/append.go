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
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
)

// AppendParams configures an Append.
type AppendParams struct {
	// Deep copies inputs into the blocks instead of sharing their arrays.
	Deep bool `yaml:"deep" json:"deep"`
}

// Append gathers every connection of its repeatable input into the blocks
// of one composite, in connection order.
type Append struct {
	executive.BaseAlgorithm
	params settings[AppendParams]
}

// NewAppend creates a shallow-copying Append.
func NewAppend() *Append {
	return &Append{}
}

// Configure implements Configurable.
func (f *Append) Configure(d registry.Decoder) (bool, error) {
	return f.params.configure(&f.BaseAlgorithm, AppendParams{}, d)
}

func (f *Append) InputPorts() []executive.InputPort {
	return []executive.InputPort{{Name: "inputs", Repeatable: true}}
}

func (f *Append) OutputPorts() []executive.OutputPort {
	return []executive.OutputPort{{Name: "composite", Produces: dataobject.KindComposite, SameAsInput: executive.NoSameAsInput}}
}

func (f *Append) RequestData(_ context.Context, req *executive.Request, in []executive.InfoVector, out executive.InfoVector) error {
	deep := f.params.get().Deep
	dst := executive.OutputData(out, 0)
	for j := range in[0] {
		src := executive.InputData(in, 0, j)
		if src == nil {
			return fmt.Errorf("append: input %d has no data", j)
		}
		block := src.NewInstance()
		copyFn := block.ShallowCopy
		if deep {
			copyFn = block.DeepCopy
		}
		if err := copyFn(src); err != nil {
			return err
		}
		if err := dst.AppendBlock(block); err != nil {
			return err
		}
		req.UpdateProgress(float64(j+1) / float64(len(in[0])))
	}
	return nil
}
