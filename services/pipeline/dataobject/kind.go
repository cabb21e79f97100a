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

// Kind tags the concrete variant of a DataObject.
type Kind int

const (
	// KindAny matches every kind. Only valid in port descriptors.
	KindAny Kind = iota

	// KindImageData is a structured grid addressed by a 3D extent.
	KindImageData

	// KindPolyData is a surface mesh.
	KindPolyData

	// KindUnstructuredGrid is a volumetric mesh of arbitrary cells.
	KindUnstructuredGrid

	// KindTable is a column-oriented table.
	KindTable

	// KindComposite holds child data objects as blocks.
	KindComposite
)

var kindNames = map[Kind]string{
	KindAny:              "any",
	KindImageData:        "image_data",
	KindPolyData:         "poly_data",
	KindUnstructuredGrid: "unstructured_grid",
	KindTable:            "table",
	KindComposite:        "composite",
}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a configuration name into a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindAny, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// IsConcrete reports whether objects of this kind can be instantiated.
func (k Kind) IsConcrete() bool {
	return k > KindAny && k <= KindComposite
}

// Accepts reports whether a port declared for k accepts objects of kind other.
func (k Kind) Accepts(other Kind) bool {
	return k == KindAny || other == KindAny || k == other
}

// ExtentType describes how subsets of a kind are addressed.
type ExtentType int

const (
	// ExtentPieces addresses subsets by piece number.
	ExtentPieces ExtentType = iota

	// Extent3D addresses subsets by structured extent.
	Extent3D
)

// ExtentType returns how requests for this kind are expressed.
func (k Kind) ExtentType() ExtentType {
	if k == KindImageData {
		return Extent3D
	}
	return ExtentPieces
}
