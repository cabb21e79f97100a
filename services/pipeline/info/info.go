// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package info provides the typed key/value maps exchanged between pipeline
// nodes during request passes.
//
// Every key is declared once as a typed Key[T]. Values are read and written
// through the key so callers never type-assert by hand:
//
//	var WholeExtent = info.NewKey[extent.Extent]("WHOLE_EXTENT", info.RoleCapability)
//
//	WholeExtent.Set(out, extent.New(0, 9, 0, 9, 0, 9))
//	whole, err := WholeExtent.Get(out)
package info

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
)

var (
	// ErrNotPresent is returned by Get when a key is unset and has no default.
	ErrNotPresent = errors.New("key not present")

	// ErrTypeMismatch is returned by Get when the stored value has another type.
	ErrTypeMismatch = errors.New("key value type mismatch")
)

// Role says which side of a connection owns a key.
type Role int

const (
	// RoleRequest keys are written by consumers and flow upstream.
	RoleRequest Role = iota

	// RoleCapability keys are written by producers and flow downstream.
	RoleCapability

	// RoleMeta keys are executive bookkeeping.
	RoleMeta
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleRequest:
		return "request"
	case RoleCapability:
		return "capability"
	case RoleMeta:
		return "meta"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// KeyRef is the untyped view of a Key used by copy and remove operations.
type KeyRef interface {
	Name() string
	Role() Role
}

type entry struct {
	value any
	role  Role
}

// Information is a map from key names to typed values.
//
// Thread Safety:
//
//	Safe for concurrent use. The executive writes during request passes;
//	readers such as the HTTP surface may inspect concurrently.
type Information struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New returns an empty Information.
func New() *Information {
	return &Information{entries: make(map[string]entry)}
}

func (in *Information) set(name string, role Role, v any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.entries == nil {
		in.entries = make(map[string]entry)
	}
	in.entries[name] = entry{value: v, role: role}
}

func (in *Information) get(name string) (entry, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	e, ok := in.entries[name]
	return e, ok
}

// Has reports whether a value is stored under key.
func (in *Information) Has(key KeyRef) bool {
	_, ok := in.get(key.Name())
	return ok
}

// Remove deletes key. Missing keys are ignored.
func (in *Information) Remove(key KeyRef) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.entries, key.Name())
}

// RemoveRole deletes every key with the given role.
func (in *Information) RemoveRole(role Role) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for name, e := range in.entries {
		if e.role == role {
			delete(in.entries, name)
		}
	}
}

// Clear deletes every key.
func (in *Information) Clear() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.entries = make(map[string]entry)
}

// Len returns the number of stored keys.
func (in *Information) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.entries)
}

// Keys returns the stored key names in sorted order.
func (in *Information) Keys() []string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	names := slices.Collect(maps.Keys(in.entries))
	sort.Strings(names)
	return names
}

// snapshot returns a copy of the entries, optionally deep-copying values.
func (in *Information) snapshot(deep bool) map[string]entry {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make(map[string]entry, len(in.entries))
	for name, e := range in.entries {
		if deep {
			e.value = deepValue(e.value)
		}
		out[name] = e
	}
	return out
}

// Copy replaces the content of in with the content of other.
//
// Description:
//
//	With deep set, slices and nested Information values are duplicated.
//	Object values such as data objects are always shared.
//
// Inputs:
//
//	other - Source map. A nil source clears in.
//	deep - Whether to duplicate slice and nested map values.
func (in *Information) Copy(other *Information, deep bool) {
	if other == in {
		return
	}
	var src map[string]entry
	if other != nil {
		src = other.snapshot(deep)
	} else {
		src = make(map[string]entry)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.entries = src
}

// Merge copies every entry of other into in, overwriting shared keys.
func (in *Information) Merge(other *Information, deep bool) {
	if other == nil || other == in {
		return
	}
	src := other.snapshot(deep)
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.entries == nil {
		in.entries = make(map[string]entry, len(src))
	}
	maps.Copy(in.entries, src)
}

// CopyEntry copies a single key from other. A key missing in other is
// removed from in.
func (in *Information) CopyEntry(other *Information, key KeyRef, deep bool) {
	if other == nil || other == in {
		return
	}
	e, ok := other.get(key.Name())
	if !ok {
		in.Remove(key)
		return
	}
	if deep {
		e.value = deepValue(e.value)
	}
	in.set(key.Name(), e.role, e.value)
}

// CopyRole copies every entry of other with the given role.
func (in *Information) CopyRole(other *Information, role Role, deep bool) {
	if other == nil || other == in {
		return
	}
	for name, e := range other.snapshot(deep) {
		if e.role == role {
			in.set(name, e.role, e.value)
		}
	}
}

// Clone returns a deep copy of in.
func (in *Information) Clone() *Information {
	out := New()
	out.Copy(in, true)
	return out
}

// Export returns a JSON-friendly view of the content.
//
// Extents become integer slices, nested Information becomes nested maps and
// opaque values are rendered as their type name.
func (in *Information) Export() map[string]any {
	out := make(map[string]any)
	for name, e := range in.snapshot(false) {
		out[name] = exportValue(e.value)
	}
	return out
}

func exportValue(v any) any {
	switch x := v.(type) {
	case int, float64, bool, string, []int, []float64:
		return x
	case extent.Extent:
		return x.Slice()
	case *Information:
		return x.Export()
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

func deepValue(v any) any {
	switch x := v.(type) {
	case []int:
		return slices.Clone(x)
	case []float64:
		return slices.Clone(x)
	case []string:
		return slices.Clone(x)
	case *Information:
		if x == nil {
			return x
		}
		return x.Clone()
	default:
		return v
	}
}
