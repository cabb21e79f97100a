// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package algorithms provides the built-in pipeline algorithms: structured
// and time-varying sources, identity and structured filters, composite
// append, piece streaming and a collecting sink.
//
// Every algorithm keeps its parameters in a validated struct. Configure
// replaces the parameters in place and marks the algorithm modified only
// when they actually change, so pipelines re-execute just what is affected.
package algorithms

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
)

// ErrInvalidParams is returned when parameters fail to decode or validate.
var ErrInvalidParams = errors.New("invalid algorithm parameters")

// Configurable algorithms accept new parameters without being recreated.
type Configurable interface {
	executive.Algorithm

	// Configure decodes and validates params, starting from the defaults.
	// It reports whether the parameters changed.
	Configure(params registry.Decoder) (bool, error)
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("extent", validateExtent)
	_ = validate.RegisterValidation("ascending", validateAscending)
}

// validateExtent accepts six ints with min <= max on every axis.
func validateExtent(fl validator.FieldLevel) bool {
	v, ok := fl.Field().Interface().([]int)
	if !ok || len(v) != 6 {
		return false
	}
	return v[0] <= v[1] && v[2] <= v[3] && v[4] <= v[5]
}

func validateAscending(fl validator.FieldLevel) bool {
	v, ok := fl.Field().Interface().([]float64)
	return ok && sort.SliceIsSorted(v, func(i, j int) bool { return v[i] < v[j] }) && distinct(v)
}

func distinct(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if v[i] == v[i-1] {
			return false
		}
	}
	return true
}

// settings holds the parameters of one algorithm.
type settings[T any] struct {
	mu sync.RWMutex
	v  T
}

func (s *settings[T]) get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// update validates v and stores it. b is marked modified only on change.
func (s *settings[T]) update(b *executive.BaseAlgorithm, v T) (bool, error) {
	if err := validate.Struct(v); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(s.v, v) {
		return false, nil
	}
	s.v = v
	b.Modified()
	return true, nil
}

func (s *settings[T]) configure(b *executive.BaseAlgorithm, def T, d registry.Decoder) (bool, error) {
	v := def
	if d != nil {
		if err := d.Decode(&v); err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	return s.update(b, v)
}

func toExtent(v []int) extent.Extent {
	e, err := extent.FromSlice(v)
	if err != nil {
		return extent.Empty
	}
	return e
}

func toVec3(v []float64, def float64) [3]float64 {
	out := [3]float64{def, def, def}
	copy(out[:], v)
	return out
}

// RegisterBuiltins registers every built-in algorithm type.
//
// Inputs:
//
//	reg - The registry. Must not be frozen.
//
// Outputs:
//
//	error - The first registration error.
func RegisterBuiltins(reg *registry.Registry) error {
	builtins := []struct {
		name        string
		description string
		create      func() Configurable
	}{
		{"image_source", "Structured image source producing any requested sub-extent", func() Configurable { return NewImageSource() }},
		{"time_source", "Time-varying table source with discrete time steps", func() Configurable { return NewTimeSource() }},
		{"pass_through", "Identity filter forwarding its input", func() Configurable { return NewPassThrough() }},
		{"gradient", "Central-difference gradient of an image point array", func() Configurable { return NewGradient() }},
		{"shrink", "Subsamples an image by an integer factor", func() Configurable { return NewShrink() }},
		{"extract_extent", "Restricts an image to a volume of interest", func() Configurable { return NewExtractExtent() }},
		{"append", "Collects any number of inputs into a composite", func() Configurable { return NewAppend() }},
		{"piece_streamer", "Streams its input piece by piece and tabulates statistics", func() Configurable { return NewPieceStreamer() }},
		{"collector", "Sink that keeps a copy of the last input it received", func() Configurable { return NewCollector() }},
	}
	for _, b := range builtins {
		create := b.create
		err := reg.Register(b.name, b.description, func(params registry.Decoder) (executive.Algorithm, error) {
			alg := create()
			if _, err := alg.Configure(params); err != nil {
				return nil, err
			}
			return alg, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
