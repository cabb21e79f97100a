// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry maps algorithm type names to factories.
//
// A Registry is created explicitly, filled during startup and then frozen.
// The configuration builder and the HTTP server receive it as a parameter;
// there is no process-wide instance.
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
)

// Sentinel errors for the registry package.
var (
	// ErrDuplicateType is returned when a type name is registered twice.
	ErrDuplicateType = errors.New("algorithm type already registered")

	// ErrFrozen is returned when registering after Freeze.
	ErrFrozen = errors.New("registry is frozen")

	// ErrUnknownType is returned when instantiating an unregistered type.
	ErrUnknownType = errors.New("unknown algorithm type")

	// ErrInvalidType is returned for malformed type names or nil factories.
	ErrInvalidType = errors.New("invalid algorithm type registration")
)

var (
	instantiations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vizpipe_registry_instantiations_total",
		Help: "Algorithms instantiated from the registry by type",
	}, []string{"type"})

	instantiationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vizpipe_registry_instantiation_errors_total",
		Help: "Failed algorithm instantiations by type",
	}, []string{"type"})
)

var typeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Decoder decodes algorithm parameters into a typed struct.
// *yaml.Node satisfies it.
type Decoder interface {
	Decode(v any) error
}

// NoParams is a Decoder for algorithms created without parameters.
type NoParams struct{}

// Decode leaves v at its defaults.
func (NoParams) Decode(any) error { return nil }

// Factory builds a new algorithm from its parameters.
type Factory func(params Decoder) (executive.Algorithm, error)

// TypeInfo describes one registered type.
type TypeInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type entry struct {
	factory     Factory
	description string
}

// Registry maps type names to factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	frozen  bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a factory under a type name.
//
// Inputs:
//
//	name - Lower-case type name, e.g. "image_source".
//	description - One line shown by listings.
//	f - The factory. Must not be nil.
//
// Outputs:
//
//	error - ErrInvalidType, ErrDuplicateType or ErrFrozen.
func (r *Registry) Register(name, description string, f Factory) error {
	if f == nil || !typeNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidType, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrFrozen, name)
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	r.entries[name] = entry{factory: f, description: description}
	return nil
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// New instantiates an algorithm of the named type.
//
// Inputs:
//
//	name - A registered type name.
//	params - Parameter decoder. Nil means no parameters.
//
// Outputs:
//
//	executive.Algorithm - The new algorithm.
//	error - ErrUnknownType, or the factory's error.
func (r *Registry) New(name string, params Decoder) (executive.Algorithm, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	if params == nil {
		params = NoParams{}
	}
	alg, err := e.factory(params)
	if err != nil {
		instantiationErrors.WithLabelValues(name).Inc()
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	instantiations.WithLabelValues(name).Inc()
	return alg, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Types lists registered types sorted by name.
func (r *Registry) Types() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeInfo, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, TypeInfo{Name: name, Description: e.description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
