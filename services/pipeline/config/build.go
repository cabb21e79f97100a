// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/AleutianAI/vizpipe/services/pipeline/algorithms"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
)

// Built is a pipeline instantiated from a Definition.
type Built struct {
	Definition *Definition
	Pipeline   *executive.Pipeline
}

// Build instantiates every node through reg and wires the connections.
//
// Inputs:
//
//	def - A validated definition.
//	reg - Registry holding every type the definition uses.
//	opts - Extra executive options, applied after the definition's own.
//
// Outputs:
//
//	*Built - The pipeline and the definition it came from.
//	error - ErrInvalidDefinition wrapping the first node or connection error.
func Build(def *Definition, reg *registry.Registry, opts ...executive.Option) (*Built, error) {
	if def == nil || reg == nil {
		return nil, fmt.Errorf("%w: definition and registry are required", ErrInvalidDefinition)
	}
	p := executive.NewPipeline(append(def.Options(), opts...)...)

	for _, nd := range def.Nodes {
		alg, err := reg.New(nd.Type, paramsOf(nd))
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %w", ErrInvalidDefinition, nd.Name, err)
		}
		n, err := p.AddNode(nd.Name, alg)
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %w", ErrInvalidDefinition, nd.Name, err)
		}
		n.SetReleaseData(nd.ReleaseData)
	}
	for _, cd := range def.Connections {
		from, _ := p.Node(cd.From)
		to, _ := p.Node(cd.To)
		if _, err := p.Connect(from, cd.FromPort, to, cd.ToPort); err != nil {
			return nil, fmt.Errorf("%w: connection %s:%d -> %s:%d: %w",
				ErrInvalidDefinition, cd.From, cd.FromPort, cd.To, cd.ToPort, err)
		}
	}

	p.Logger().Info("pipeline built",
		slog.String("pipeline", def.Name),
		slog.Int("nodes", len(def.Nodes)),
		slog.Int("connections", len(def.Connections)),
	)
	return &Built{Definition: def, Pipeline: p}, nil
}

// paramsOf returns nil when the node declares no parameters.
func paramsOf(nd NodeDef) registry.Decoder {
	if nd.Params.Kind == 0 {
		return nil
	}
	return &nd.Params
}

// Sinks returns the update roots: the declared sinks, or every node whose
// outputs have no consumers.
func (b *Built) Sinks() []*executive.Node {
	out, _ := b.Resolve(b.Definition.Update.Sinks)
	return out
}

// Resolve looks up the named nodes. No names means every node whose outputs
// have no consumers.
func (b *Built) Resolve(names []string) ([]*executive.Node, error) {
	var out []*executive.Node
	if len(names) > 0 {
		for _, name := range names {
			n, ok := b.Pipeline.Node(name)
			if !ok {
				return out, fmt.Errorf("%w: %s", executive.ErrNodeNotFound, name)
			}
			out = append(out, n)
		}
		return out, nil
	}
	for _, n := range b.Pipeline.Nodes() {
		consumed := false
		for port := 0; port < n.NumberOfOutputPorts(); port++ {
			if len(n.Consumers(port)) > 0 {
				consumed = true
				break
			}
		}
		if !consumed {
			out = append(out, n)
		}
	}
	return out, nil
}

// Update runs the definition's update request on its sinks.
func (b *Built) Update(ctx context.Context) (*executive.Result, error) {
	return b.UpdateWith(ctx, b.Definition.Update)
}

// UpdateWith runs an ad hoc update section instead of the declared one.
func (b *Built) UpdateWith(ctx context.Context, u UpdateDef) (*executive.Result, error) {
	r, err := u.Request()
	if err != nil {
		return nil, err
	}
	roots, err := b.Resolve(u.Sinks)
	if err != nil {
		return nil, err
	}
	return b.Pipeline.Update(ctx, roots, r)
}

// UpdateInformation runs the information pass on the sinks.
func (b *Built) UpdateInformation(ctx context.Context) (*executive.Result, error) {
	return b.Pipeline.UpdateInformation(ctx, b.Sinks())
}

// Apply moves b to next without rebuilding when only parameters, release
// flags, the update section or the execution section differ.
//
// Description:
//
//	Node names, types and connections must match exactly; otherwise Apply
//	returns ErrStructureChanged and leaves b untouched. Parameters are
//	pushed through algorithms.Configurable, which marks an algorithm
//	modified only if its parameters really changed, so the next update
//	re-executes just the affected nodes and their consumers.
//
// Outputs:
//
//	[]string - Names of nodes whose parameters changed.
//	error - ErrStructureChanged, or a parameter validation error. On a
//	        validation error nodes configured before the failing one keep
//	        their new parameters.
func (b *Built) Apply(next *Definition) ([]string, error) {
	if next == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if !sameStructure(b.Definition, next) {
		return nil, ErrStructureChanged
	}
	if !reflect.DeepEqual(b.Definition.Execution, next.Execution) {
		return nil, fmt.Errorf("%w: execution settings differ", ErrStructureChanged)
	}

	var changed []string
	for _, nd := range next.Nodes {
		n, _ := b.Pipeline.Node(nd.Name)
		n.SetReleaseData(nd.ReleaseData)
		c, ok := n.Algorithm().(algorithms.Configurable)
		if !ok {
			continue
		}
		var params registry.Decoder = registry.NoParams{}
		if d := paramsOf(nd); d != nil {
			params = d
		}
		did, err := c.Configure(params)
		if err != nil {
			return changed, fmt.Errorf("node %s: %w", nd.Name, err)
		}
		if did {
			changed = append(changed, nd.Name)
		}
	}
	b.Definition = next
	return changed, nil
}

func sameStructure(a, b *Definition) bool {
	if len(a.Nodes) != len(b.Nodes) || !reflect.DeepEqual(a.Connections, b.Connections) {
		return false
	}
	for i := range a.Nodes {
		if a.Nodes[i].Name != b.Nodes[i].Name || a.Nodes[i].Type != b.Nodes[i].Type {
			return false
		}
	}
	return true
}
