// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extent provides structured index ranges and the piece-to-extent
// translator used when a request asks for one piece of a structured dataset.
package extent

import (
	"errors"
	"fmt"
)

// ErrInvalidPiece is returned when a piece request is out of range.
var ErrInvalidPiece = errors.New("invalid piece request")

// Extent is an inclusive structured index range {xmin,xmax,ymin,ymax,zmin,zmax}.
type Extent [6]int

// Empty is the canonical empty extent.
var Empty = Extent{0, -1, 0, -1, 0, -1}

// New builds an extent from its six bounds.
func New(x0, x1, y0, y1, z0, z1 int) Extent {
	return Extent{x0, x1, y0, y1, z0, z1}
}

// FromSlice converts a six element slice to an Extent.
func FromSlice(s []int) (Extent, error) {
	if len(s) != 6 {
		return Empty, fmt.Errorf("extent needs 6 values, got %d", len(s))
	}
	var e Extent
	copy(e[:], s)
	return e, nil
}

// IsEmpty reports whether any axis has min > max.
func (e Extent) IsEmpty() bool {
	return e[0] > e[1] || e[2] > e[3] || e[4] > e[5]
}

// Union returns the smallest extent containing both. Empty operands are ignored.
func (e Extent) Union(o Extent) Extent {
	if o.IsEmpty() {
		return e
	}
	if e.IsEmpty() {
		return o
	}
	var u Extent
	for axis := 0; axis < 3; axis++ {
		u[2*axis] = min(e[2*axis], o[2*axis])
		u[2*axis+1] = max(e[2*axis+1], o[2*axis+1])
	}
	return u
}

// Intersect returns the overlap of both extents, Empty when disjoint.
func (e Extent) Intersect(o Extent) Extent {
	if e.IsEmpty() || o.IsEmpty() {
		return Empty
	}
	var r Extent
	for axis := 0; axis < 3; axis++ {
		r[2*axis] = max(e[2*axis], o[2*axis])
		r[2*axis+1] = min(e[2*axis+1], o[2*axis+1])
	}
	if r.IsEmpty() {
		return Empty
	}
	return r
}

// Contains reports whether o lies inside e. An empty o is always contained.
func (e Extent) Contains(o Extent) bool {
	if o.IsEmpty() {
		return true
	}
	if e.IsEmpty() {
		return false
	}
	for axis := 0; axis < 3; axis++ {
		if o[2*axis] < e[2*axis] || o[2*axis+1] > e[2*axis+1] {
			return false
		}
	}
	return true
}

// Grow widens every non-degenerate axis by n layers on both sides.
// Degenerate axes (min == max) are left alone so 1D and 2D extents stay flat.
func (e Extent) Grow(n int) Extent {
	if e.IsEmpty() || n <= 0 {
		return e
	}
	g := e
	for axis := 0; axis < 3; axis++ {
		if e[2*axis] == e[2*axis+1] {
			continue
		}
		g[2*axis] -= n
		g[2*axis+1] += n
	}
	return g
}

// Clamp restricts e to whole.
func (e Extent) Clamp(whole Extent) Extent {
	return e.Intersect(whole)
}

// Dimensions returns the number of points along each axis.
func (e Extent) Dimensions() [3]int {
	if e.IsEmpty() {
		return [3]int{}
	}
	return [3]int{e[1] - e[0] + 1, e[3] - e[2] + 1, e[5] - e[4] + 1}
}

// NumberOfPoints returns the point count of the extent.
func (e Extent) NumberOfPoints() int {
	d := e.Dimensions()
	return d[0] * d[1] * d[2]
}

// PointIndex returns the flat index of (i,j,k), x varying fastest.
// The caller must ensure the point lies inside e.
func (e Extent) PointIndex(i, j, k int) int {
	d := e.Dimensions()
	return (i - e[0]) + (j-e[2])*d[0] + (k-e[4])*d[0]*d[1]
}

// Slice returns the extent as a fresh slice.
func (e Extent) Slice() []int {
	s := make([]int, 6)
	copy(s, e[:])
	return s
}

// String formats the extent as "[x0,x1,y0,y1,z0,z1]".
func (e Extent) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d,%d,%d]", e[0], e[1], e[2], e[3], e[4], e[5])
}
