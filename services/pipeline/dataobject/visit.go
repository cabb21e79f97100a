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

import "fmt"

// Visitor dispatches on the concrete kind of a DataObject.
//
// Unset handlers fall back to Default. If Default is also unset, Visit
// returns ErrUnsupportedKind.
type Visitor struct {
	ImageData        func(*DataObject) error
	PolyData         func(*DataObject) error
	UnstructuredGrid func(*DataObject) error
	Table            func(*DataObject) error
	Composite        func(*DataObject) error
	Default          func(*DataObject) error
}

// Visit calls the handler of v matching d's kind.
func Visit(d *DataObject, v Visitor) error {
	if d == nil {
		return fmt.Errorf("%w: nil data object", ErrInvalidInput)
	}
	var fn func(*DataObject) error
	switch d.kind {
	case KindImageData:
		fn = v.ImageData
	case KindPolyData:
		fn = v.PolyData
	case KindUnstructuredGrid:
		fn = v.UnstructuredGrid
	case KindTable:
		fn = v.Table
	case KindComposite:
		fn = v.Composite
	}
	if fn == nil {
		fn = v.Default
	}
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, d.kind)
	}
	return fn(d)
}

// Walk visits d and, for composites, every descendant block depth-first.
func Walk(d *DataObject, fn func(*DataObject) error) error {
	if d == nil {
		return nil
	}
	if err := fn(d); err != nil {
		return err
	}
	for _, b := range d.blocks {
		if err := Walk(b, fn); err != nil {
			return err
		}
	}
	return nil
}
