// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtent_Empty(t *testing.T) {
	assert.True(t, Empty.IsEmpty())
	assert.False(t, New(0, 0, 0, 0, 0, 0).IsEmpty())
	assert.Equal(t, 0, Empty.NumberOfPoints())
}

func TestExtent_Union(t *testing.T) {
	a := New(0, 10, 0, 0, 0, 0)
	b := New(5, 20, 0, 0, 0, 0)

	assert.Equal(t, New(0, 20, 0, 0, 0, 0), a.Union(b))
	assert.Equal(t, a, a.Union(Empty), "empty operand is ignored")
	assert.Equal(t, b, Empty.Union(b))
}

func TestExtent_Intersect(t *testing.T) {
	a := New(0, 10, 0, 4, 0, 0)
	b := New(5, 20, 2, 8, 0, 0)

	assert.Equal(t, New(5, 10, 2, 4, 0, 0), a.Intersect(b))
	assert.True(t, a.Intersect(New(11, 12, 0, 0, 0, 0)).IsEmpty())
}

func TestExtent_Contains(t *testing.T) {
	whole := New(0, 9, 0, 9, 0, 0)

	assert.True(t, whole.Contains(New(2, 8, 0, 9, 0, 0)))
	assert.False(t, whole.Contains(New(-1, 8, 0, 9, 0, 0)))
	assert.True(t, whole.Contains(Empty), "empty extent is always contained")
	assert.False(t, Empty.Contains(whole))
}

func TestExtent_GrowKeepsFlatAxes(t *testing.T) {
	e := New(2, 8, 0, 0, 0, 0)

	assert.Equal(t, New(1, 9, 0, 0, 0, 0), e.Grow(1))
	assert.Equal(t, New(0, 9, 0, 0, 0, 0), e.Grow(2).Clamp(New(0, 9, 0, 0, 0, 0)))
}

func TestExtent_PointIndex(t *testing.T) {
	e := New(1, 3, 10, 11, 0, 0)

	assert.Equal(t, [3]int{3, 2, 1}, e.Dimensions())
	assert.Equal(t, 0, e.PointIndex(1, 10, 0))
	assert.Equal(t, 5, e.PointIndex(3, 11, 0))
}

func TestFromSlice(t *testing.T) {
	e, err := FromSlice([]int{0, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, New(0, 1, 2, 3, 4, 5), e)

	_, err = FromSlice([]int{0, 1})
	assert.Error(t, err)
}

func TestPieceToExtent_TwoPiecesShareBoundary(t *testing.T) {
	whole := New(0, 9, 0, 0, 0, 0)

	p0, err := PieceToExtent(whole, 0, 2, 0, SplitBlock)
	require.NoError(t, err)
	p1, err := PieceToExtent(whole, 1, 2, 0, SplitBlock)
	require.NoError(t, err)

	assert.Equal(t, New(0, 4, 0, 0, 0, 0), p0)
	assert.Equal(t, New(4, 9, 0, 0, 0, 0), p1)
	assert.Equal(t, whole, p0.Union(p1))
}

func TestPieceToExtent_GhostLevelsClampToWhole(t *testing.T) {
	whole := New(0, 9, 0, 0, 0, 0)

	p0, err := PieceToExtent(whole, 0, 2, 1, SplitBlock)
	require.NoError(t, err)
	assert.Equal(t, New(0, 5, 0, 0, 0, 0), p0)
}

func TestPieceToExtent_CoversWholeInBlockMode(t *testing.T) {
	whole := New(0, 15, 0, 15, 0, 7)

	union := Empty
	for piece := 0; piece < 8; piece++ {
		ext, err := PieceToExtent(whole, piece, 8, 0, SplitBlock)
		require.NoError(t, err)
		require.False(t, ext.IsEmpty(), "piece %d", piece)
		require.True(t, whole.Contains(ext))
		union = union.Union(ext)
	}
	assert.Equal(t, whole, union)
}

func TestPieceToExtent_SlabMode(t *testing.T) {
	whole := New(0, 9, 0, 9, 0, 9)

	ext, err := PieceToExtent(whole, 1, 2, 0, SplitY)
	require.NoError(t, err)
	assert.Equal(t, New(0, 9, 4, 9, 0, 9), ext)
}

func TestPieceToExtent_TooManyPieces(t *testing.T) {
	whole := New(0, 1, 0, 0, 0, 0)

	p0, err := PieceToExtent(whole, 0, 4, 0, SplitBlock)
	require.NoError(t, err)
	assert.Equal(t, whole, p0)

	p3, err := PieceToExtent(whole, 3, 4, 0, SplitBlock)
	require.NoError(t, err)
	assert.True(t, p3.IsEmpty())
}

func TestPieceToExtent_InvalidPiece(t *testing.T) {
	testCases := []struct {
		name      string
		piece     int
		numPieces int
	}{
		{"negative piece", -1, 2},
		{"piece past count", 2, 2},
		{"zero pieces", 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PieceToExtent(New(0, 9, 0, 0, 0, 0), tc.piece, tc.numPieces, 0, SplitBlock)
			assert.True(t, errors.Is(err, ErrInvalidPiece))
		})
	}
}

func TestParseSplitMode(t *testing.T) {
	for _, m := range []SplitMode{SplitBlock, SplitX, SplitY, SplitZ} {
		got, err := ParseSplitMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseSplitMode("diagonal")
	assert.Error(t, err)
}
