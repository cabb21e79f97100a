// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/AleutianAI/vizpipe/services/pipeline/config"
	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Result carries the failed update, when there was one.
	Result *executive.Result `json:"result,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Pipeline string `json:"pipeline"`
	Nodes    int    `json:"nodes"`
}

// PortSummary describes one port of a node.
type PortSummary struct {
	Name        string   `json:"name"`
	Kinds       []string `json:"kinds,omitempty"`
	Optional    bool     `json:"optional,omitempty"`
	Repeatable  bool     `json:"repeatable,omitempty"`
	Connections []string `json:"connections"`
}

// NodeSummary describes one node.
type NodeSummary struct {
	Name        string                  `json:"name"`
	Type        string                  `json:"type"`
	State       string                  `json:"state"`
	DataTime    uint64                  `json:"data_time"`
	ReleaseData bool                    `json:"release_data"`
	Progress    float64                 `json:"progress"`
	LastRequest executive.UpdateRequest `json:"last_request"`
	Counts      map[string]int64        `json:"counts"`
	Inputs      []PortSummary           `json:"inputs"`
	Outputs     []PortSummary           `json:"outputs"`
}

// PortInfo is one output port's Information.
type PortInfo struct {
	Port int            `json:"port"`
	Name string         `json:"name"`
	Info map[string]any `json:"info"`
}

// ArraySummary describes one attribute array without its values.
type ArraySummary struct {
	Name       string `json:"name"`
	Components int    `json:"components"`
	Tuples     int    `json:"tuples"`
}

// OutputSummary describes the data object on an output port.
type OutputSummary struct {
	Kind      string          `json:"kind"`
	Empty     bool            `json:"empty"`
	Extent    *extent.Extent  `json:"extent,omitempty"`
	Points    int             `json:"points"`
	Blocks    int             `json:"blocks"`
	Meta      dataobject.Meta `json:"meta"`
	PointData []ArraySummary  `json:"point_data"`
	CellData  []ArraySummary  `json:"cell_data"`
	FieldData []ArraySummary  `json:"field_data"`
}

// UpdateBody is the optional body of POST /update. Omitted, the
// definition's own update section runs.
type UpdateBody struct {
	config.UpdateDef

	// Information runs only the information pass.
	Information bool `json:"information"`
}

var requestTypes = []executive.RequestType{
	executive.RequestDataObject,
	executive.RequestInformation,
	executive.RequestUpdateExtent,
	executive.RequestData,
}

func summarizeNode(b *config.Built, n *executive.Node) NodeSummary {
	s := NodeSummary{
		Name:        n.Name(),
		State:       n.Executive().State().String(),
		DataTime:    n.Executive().DataTime(),
		ReleaseData: n.ReleaseData(),
		Progress:    n.Progress(),
		LastRequest: n.LastRequest(),
		Counts:      make(map[string]int64, len(requestTypes)),
	}
	for _, nd := range b.Definition.Nodes {
		if nd.Name == n.Name() {
			s.Type = nd.Type
			break
		}
	}
	for _, t := range requestTypes {
		s.Counts[t.String()] = n.Count(t)
	}
	for i, p := range n.InputPorts() {
		ps := PortSummary{Name: p.Name, Optional: p.Optional, Repeatable: p.Repeatable, Connections: []string{}}
		for _, k := range p.Accepts {
			ps.Kinds = append(ps.Kinds, k.String())
		}
		for _, c := range n.Inputs(i) {
			ps.Connections = append(ps.Connections, c.String())
		}
		s.Inputs = append(s.Inputs, ps)
	}
	for i, p := range n.OutputPorts() {
		ps := PortSummary{Name: p.Name, Kinds: []string{p.Produces.String()}, Connections: []string{}}
		for _, c := range n.Consumers(i) {
			ps.Connections = append(ps.Connections, c.String())
		}
		s.Outputs = append(s.Outputs, ps)
	}
	return s
}

func summarizeOutput(d *dataobject.DataObject) OutputSummary {
	s := OutputSummary{
		Kind:      d.Kind().String(),
		Empty:     d.IsEmpty(),
		Points:    d.NumberOfPoints(),
		Blocks:    d.NumberOfBlocks(),
		Meta:      d.Meta(),
		PointData: summarizeArrays(d.PointData()),
		CellData:  summarizeArrays(d.CellData()),
		FieldData: summarizeArrays(d.FieldData()),
	}
	if d.Kind().ExtentType() == dataobject.Extent3D {
		e := d.Extent()
		s.Extent = &e
	}
	return s
}

func summarizeArrays(at *dataobject.Attributes) []ArraySummary {
	out := make([]ArraySummary, 0, at.Len())
	for _, a := range at.Arrays() {
		out = append(out, ArraySummary{Name: a.Name, Components: a.Components, Tuples: a.NumberOfTuples()})
	}
	return out
}
