// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataobject

// Array is a named attribute array of fixed-width tuples.
type Array struct {
	Name       string    `json:"name"`
	Components int       `json:"components"`
	Values     []float64 `json:"values"`
}

// NewArray allocates an array of tuples*components zero values.
func NewArray(name string, components, tuples int) *Array {
	if components < 1 {
		components = 1
	}
	return &Array{
		Name:       name,
		Components: components,
		Values:     make([]float64, components*tuples),
	}
}

// NumberOfTuples returns len(Values)/Components.
func (a *Array) NumberOfTuples() int {
	if a.Components < 1 {
		return 0
	}
	return len(a.Values) / a.Components
}

// Tuple returns the i-th tuple, sharing storage with the array.
func (a *Array) Tuple(i int) []float64 {
	return a.Values[i*a.Components : (i+1)*a.Components]
}

// Clone returns a copy that shares no storage with a.
func (a *Array) Clone() *Array {
	values := make([]float64, len(a.Values))
	copy(values, a.Values)
	return &Array{Name: a.Name, Components: a.Components, Values: values}
}

// Attributes is an ordered collection of arrays keyed by name.
type Attributes struct {
	arrays []*Array
	mtime  TimeStamp
}

// NewAttributes returns an empty collection.
func NewAttributes() *Attributes {
	return &Attributes{}
}

// AddArray inserts a, replacing any array with the same name.
func (at *Attributes) AddArray(a *Array) {
	if a == nil {
		return
	}
	for i, existing := range at.arrays {
		if existing.Name == a.Name {
			at.arrays[i] = a
			at.mtime.Modified()
			return
		}
	}
	at.arrays = append(at.arrays, a)
	at.mtime.Modified()
}

// Array returns the array with the given name.
func (at *Attributes) Array(name string) (*Array, bool) {
	for _, a := range at.arrays {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// RemoveArray deletes the named array. Missing names are ignored.
func (at *Attributes) RemoveArray(name string) {
	for i, a := range at.arrays {
		if a.Name == name {
			at.arrays = append(at.arrays[:i], at.arrays[i+1:]...)
			at.mtime.Modified()
			return
		}
	}
}

// Arrays returns the arrays in insertion order. The slice is a copy.
func (at *Attributes) Arrays() []*Array {
	out := make([]*Array, len(at.arrays))
	copy(out, at.arrays)
	return out
}

// Names returns the array names in insertion order.
func (at *Attributes) Names() []string {
	names := make([]string, len(at.arrays))
	for i, a := range at.arrays {
		names[i] = a.Name
	}
	return names
}

// Len returns the number of arrays.
func (at *Attributes) Len() int {
	return len(at.arrays)
}

// MTime returns the last modification time of the collection.
func (at *Attributes) MTime() uint64 {
	return at.mtime.Get()
}

// Initialize removes every array.
func (at *Attributes) Initialize() {
	at.arrays = nil
	at.mtime.Modified()
}

func (at *Attributes) shallowCopy(other *Attributes) {
	at.arrays = other.Arrays()
	at.mtime.Modified()
}

func (at *Attributes) deepCopy(other *Attributes) {
	at.arrays = make([]*Array, len(other.arrays))
	for i, a := range other.arrays {
		at.arrays[i] = a.Clone()
	}
	at.mtime.Modified()
}
