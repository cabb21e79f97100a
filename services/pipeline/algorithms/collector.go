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
	"log/slog"
	"sync"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
)

// CollectorParams configures a Collector.
type CollectorParams struct {
	// Accepts restricts the input kind; empty accepts any kind.
	Accepts string `yaml:"accepts" json:"accepts" validate:"omitempty,oneof=image_data poly_data unstructured_grid table composite"`
}

// Collector is a sink. It keeps a deep copy of the last input it received,
// so the copy survives upstream release and re-execution.
type Collector struct {
	executive.BaseAlgorithm
	params settings[CollectorParams]

	mu       sync.RWMutex
	last     *dataobject.DataObject
	received int
}

// NewCollector creates a sink accepting any kind.
func NewCollector() *Collector {
	return &Collector{}
}

// Configure implements Configurable.
func (c *Collector) Configure(d registry.Decoder) (bool, error) {
	return c.params.configure(&c.BaseAlgorithm, CollectorParams{}, d)
}

// Last returns the last collected data, or nil.
func (c *Collector) Last() *dataobject.DataObject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Received returns how many times the sink executed.
func (c *Collector) Received() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.received
}

func (c *Collector) InputPorts() []executive.InputPort {
	port := executive.InputPort{Name: "input"}
	if k, err := dataobject.ParseKind(c.params.get().Accepts); err == nil && k.IsConcrete() {
		port.Accepts = []dataobject.Kind{k}
	}
	return []executive.InputPort{port}
}

func (c *Collector) OutputPorts() []executive.OutputPort { return nil }

func (c *Collector) RequestData(_ context.Context, req *executive.Request, in []executive.InfoVector, _ executive.InfoVector) error {
	src := executive.InputData(in, 0, 0)
	cp := src.NewInstance()
	if err := cp.DeepCopy(src); err != nil {
		return err
	}
	c.mu.Lock()
	c.last = cp
	c.received++
	c.mu.Unlock()
	req.Logger().Debug("collected data",
		slog.String("kind", src.Kind().String()),
		slog.Int("points", src.NumberOfPoints()),
	)
	return nil
}
