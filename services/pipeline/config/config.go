// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads YAML pipeline definitions and turns them into
// executable pipelines.
//
// A definition names the nodes (algorithm type plus parameters), the
// connections between their ports and the default update request. Build
// instantiates it through an algorithm registry; Apply pushes changed
// parameters into an already built pipeline without rebuilding it.
//
// Thread Safety:
//
//	Definitions are plain values. Built pipelines follow the executive's
//	rules: updates and graph edits are serialized.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/vizpipe/pkg/validation"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
)

// MaxDefinitionSize is the largest definition file accepted (1MB).
const MaxDefinitionSize = 1024 * 1024

// Sentinel errors for the config package.
var (
	// ErrFileTooLarge is returned for definitions above MaxDefinitionSize.
	ErrFileTooLarge = errors.New("definition file too large")

	// ErrInvalidDefinition is returned when a definition fails validation.
	ErrInvalidDefinition = errors.New("invalid pipeline definition")

	// ErrStructureChanged is returned by Apply when nodes or connections
	// differ and the pipeline must be rebuilt.
	ErrStructureChanged = errors.New("pipeline structure changed")
)

var tracer = otel.Tracer("vizpipe.config")

var validate = validator.New()

// Definition is the root of a pipeline YAML file.
type Definition struct {
	Name        string          `yaml:"name" json:"name" validate:"required,max=128"`
	Execution   Execution       `yaml:"execution" json:"execution"`
	Nodes       []NodeDef       `yaml:"nodes" json:"nodes" validate:"required,min=1,max=1000,dive"`
	Connections []ConnectionDef `yaml:"connections" json:"connections" validate:"max=10000,dive"`
	Update      UpdateDef       `yaml:"update" json:"update"`
	Journal     JournalDef      `yaml:"journal" json:"journal"`
	Telemetry   TelemetryDef    `yaml:"telemetry" json:"telemetry"`
}

// Execution tunes the executive.
type Execution struct {
	// ExtentPolicy is strict (default) or clamp.
	ExtentPolicy          string `yaml:"extent_policy" json:"extent_policy" validate:"omitempty,oneof=strict clamp"`
	MaxContinueIterations int    `yaml:"max_continue_iterations" json:"max_continue_iterations" validate:"min=0,max=1000000"`
}

// NodeDef declares one algorithm instance.
type NodeDef struct {
	Name        string    `yaml:"name" json:"name" validate:"required,max=64"`
	Type        string    `yaml:"type" json:"type" validate:"required"`
	Params      yaml.Node `yaml:"params" json:"-" validate:"-"`
	ReleaseData bool      `yaml:"release_data" json:"release_data"`
}

// ConnectionDef wires an output port to an input port.
type ConnectionDef struct {
	From     string `yaml:"from" json:"from" validate:"required"`
	FromPort int    `yaml:"from_port" json:"from_port" validate:"min=0"`
	To       string `yaml:"to" json:"to" validate:"required"`
	ToPort   int    `yaml:"to_port" json:"to_port" validate:"min=0"`
}

// UpdateDef is the request issued by Built.Update.
type UpdateDef struct {
	// Sinks are the update roots. Empty means every node without consumers.
	Sinks       []string `yaml:"sinks" json:"sinks" validate:"dive,required"`
	Piece       int      `yaml:"piece" json:"piece" validate:"min=0"`
	Pieces      int      `yaml:"pieces" json:"pieces" validate:"min=0"`
	GhostLevels int      `yaml:"ghost_levels" json:"ghost_levels" validate:"min=0"`
	Extent      []int    `yaml:"extent" json:"extent" validate:"omitempty,len=6"`
	Exact       bool     `yaml:"exact" json:"exact"`
	Time        *float64 `yaml:"time" json:"time,omitempty"`
}

// JournalDef enables the execution journal.
type JournalDef struct {
	Path     string `yaml:"path" json:"path"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

// Enabled reports whether a journal should be opened.
func (j JournalDef) Enabled() bool {
	return j.Path != "" || j.InMemory
}

// TelemetryDef selects exporters.
type TelemetryDef struct {
	ServiceName    string `yaml:"service_name" json:"service_name"`
	TraceExporter  string `yaml:"trace_exporter" json:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" json:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
}

// Load reads and validates a definition file.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	path - Path to a YAML file no larger than MaxDefinitionSize.
//
// Outputs:
//
//	*Definition - The validated definition.
//	error - ErrFileTooLarge, ErrInvalidDefinition, or an I/O error.
func Load(ctx context.Context, path string) (*Definition, error) {
	if ctx == nil {
		return nil, errors.New("config.Load: ctx must not be nil")
	}
	_, span := tracer.Start(ctx, "config.Load", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	f, err := os.Open(absPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("opening definition: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat definition: %w", err)
	}
	if info.Size() > MaxDefinitionSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), MaxDefinitionSize)
	}
	span.SetAttributes(attribute.Int64("file_size", info.Size()))

	data, err := io.ReadAll(io.LimitReader(f, MaxDefinitionSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	if len(data) > MaxDefinitionSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, MaxDefinitionSize)
	}

	def, err := Parse(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("nodes", len(def.Nodes)))
	return def, nil
}

// Parse decodes and validates a definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidDefinition)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks field constraints and cross references: node names are
// well formed and unique, connections and sinks name declared nodes, the requested piece
// is in range.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	names := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if err := validation.ValidateNodeName(n.Name); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		if names[n.Name] {
			return fmt.Errorf("%w: duplicate node %q", ErrInvalidDefinition, n.Name)
		}
		names[n.Name] = true
	}
	for _, c := range d.Connections {
		if !names[c.From] || !names[c.To] {
			return fmt.Errorf("%w: connection %s -> %s references an unknown node", ErrInvalidDefinition, c.From, c.To)
		}
	}
	for _, s := range d.Update.Sinks {
		if !names[s] {
			return fmt.Errorf("%w: unknown sink %q", ErrInvalidDefinition, s)
		}
	}
	if _, err := d.Request(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return nil
}

// Request converts the update section into an executive request.
func (d *Definition) Request() (executive.UpdateRequest, error) {
	return d.Update.Request()
}

// Request converts u into an executive request.
func (u UpdateDef) Request() (executive.UpdateRequest, error) {
	pieces := max(u.Pieces, 1)
	r := executive.PieceRequest(u.Piece, pieces, u.GhostLevels)
	if len(u.Extent) > 0 {
		e, err := extent.FromSlice(u.Extent)
		if err != nil {
			return r, err
		}
		r.Extent, r.HasExtent = e, true
	}
	r.Exact = u.Exact
	if u.Time != nil {
		r = r.WithTimeStep(*u.Time)
	}
	return r, r.Validate()
}

// Options converts the execution section into executive options.
func (d *Definition) Options() []executive.Option {
	var opts []executive.Option
	if d.Execution.ExtentPolicy == "clamp" {
		opts = append(opts, executive.WithExtentPolicy(executive.ExtentPolicyClamp))
	}
	if d.Execution.MaxContinueIterations > 0 {
		opts = append(opts, executive.WithMaxContinueIterations(d.Execution.MaxContinueIterations))
	}
	return opts
}
