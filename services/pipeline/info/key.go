// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package info

import "fmt"

// Key is a typed handle for one Information entry.
type Key[T any] struct {
	name       string
	role       Role
	def        T
	hasDefault bool
}

// NewKey declares a key without a default. Get on an unset key returns
// ErrNotPresent.
func NewKey[T any](name string, role Role) *Key[T] {
	return &Key[T]{name: name, role: role}
}

// NewKeyWithDefault declares a key whose Get returns def when unset.
func NewKeyWithDefault[T any](name string, role Role, def T) *Key[T] {
	return &Key[T]{name: name, role: role, def: def, hasDefault: true}
}

// Name returns the key name.
func (k *Key[T]) Name() string { return k.name }

// Role returns the key role.
func (k *Key[T]) Role() Role { return k.role }

// Default returns the declared default and whether one exists.
func (k *Key[T]) Default() (T, bool) { return k.def, k.hasDefault }

// String implements fmt.Stringer.
func (k *Key[T]) String() string { return k.name }

// Set stores v under the key. Setting on a nil Information does nothing.
func (k *Key[T]) Set(in *Information, v T) {
	if in == nil {
		return
	}
	in.set(k.name, k.role, v)
}

// Has reports whether the key holds a stored value.
func (k *Key[T]) Has(in *Information) bool {
	if in == nil {
		return false
	}
	_, ok := in.get(k.name)
	return ok
}

// Get returns the stored value, or the default when unset.
//
// Outputs:
//
//	T - The stored or default value.
//	error - ErrNotPresent if unset without a default; ErrTypeMismatch if
//	        another key stored a value of a different type under this name.
func (k *Key[T]) Get(in *Information) (T, error) {
	var zero T
	if in != nil {
		if e, ok := in.get(k.name); ok {
			v, ok := e.value.(T)
			if !ok {
				return zero, fmt.Errorf("%w: %s holds %T", ErrTypeMismatch, k.name, e.value)
			}
			return v, nil
		}
	}
	if k.hasDefault {
		return k.def, nil
	}
	return zero, fmt.Errorf("%w: %s", ErrNotPresent, k.name)
}

// Lookup returns the stored value only, ignoring the default.
func (k *Key[T]) Lookup(in *Information) (T, bool) {
	var zero T
	if in == nil {
		return zero, false
	}
	e, ok := in.get(k.name)
	if !ok {
		return zero, false
	}
	v, ok := e.value.(T)
	return v, ok
}

// Value returns the stored value, the default, or the zero value.
func (k *Key[T]) Value(in *Information) T {
	v, err := k.Get(in)
	if err != nil {
		var zero T
		return zero
	}
	return v
}

// Remove deletes the key from in.
func (k *Key[T]) Remove(in *Information) {
	if in == nil {
		return
	}
	in.Remove(k)
}
