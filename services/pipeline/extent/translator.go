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

import "fmt"

// SplitMode selects how PieceToExtent divides an extent.
type SplitMode int

const (
	// SplitBlock recursively bisects the longest remaining axis.
	SplitBlock SplitMode = iota

	// SplitX cuts slabs along x while x can still be split.
	SplitX

	// SplitY cuts slabs along y while y can still be split.
	SplitY

	// SplitZ cuts slabs along z while z can still be split.
	SplitZ
)

// String returns the mode name used in configuration files.
func (m SplitMode) String() string {
	switch m {
	case SplitBlock:
		return "block"
	case SplitX:
		return "x"
	case SplitY:
		return "y"
	case SplitZ:
		return "z"
	default:
		return "unknown"
	}
}

// ParseSplitMode converts a configuration string into a SplitMode.
func ParseSplitMode(s string) (SplitMode, error) {
	switch s {
	case "", "block":
		return SplitBlock, nil
	case "x":
		return SplitX, nil
	case "y":
		return SplitY, nil
	case "z":
		return SplitZ, nil
	default:
		return SplitBlock, fmt.Errorf("unknown split mode %q", s)
	}
}

// PieceToExtent returns the sub-extent of whole covered by piece out of
// numPieces, widened by ghost layers and clamped to whole.
//
// Description:
//
//	Neighbouring pieces share their boundary points. When whole cannot be
//	split numPieces ways, piece 0 receives the remainder and the other
//	pieces are Empty.
//
// Inputs:
//
//	whole - The extent being decomposed.
//	piece - Zero based piece index. Must be < numPieces.
//	numPieces - Total number of pieces. Must be >= 1.
//	ghost - Number of ghost layers to add around the piece.
//	mode - Split strategy.
//
// Outputs:
//
//	Extent - The piece extent, possibly Empty.
//	error - ErrInvalidPiece when piece or numPieces is out of range.
func PieceToExtent(whole Extent, piece, numPieces, ghost int, mode SplitMode) (Extent, error) {
	if numPieces < 1 || piece < 0 || piece >= numPieces {
		return Empty, fmt.Errorf("%w: piece %d of %d", ErrInvalidPiece, piece, numPieces)
	}
	if whole.IsEmpty() {
		return Empty, nil
	}

	ext, ok := splitExtent(whole, piece, numPieces, mode)
	if !ok {
		return Empty, nil
	}
	if ghost > 0 {
		ext = ext.Grow(ghost).Clamp(whole)
	}
	return ext, nil
}

// splitExtent narrows ext until a single piece is left.
func splitExtent(ext Extent, piece, numPieces int, mode SplitMode) (Extent, bool) {
	for numPieces > 1 {
		size := [3]int{ext[1] - ext[0], ext[3] - ext[2], ext[5] - ext[4]}

		var axis int
		if mode != SplitBlock && size[int(mode)-1] > 1 {
			axis = int(mode) - 1
		} else {
			axis = longestSplittableAxis(size)
		}

		if axis < 0 {
			if piece != 0 {
				return Empty, false
			}
			return ext, true
		}

		firstHalf := numPieces / 2
		mid := size[axis]*firstHalf/numPieces + ext[2*axis]
		if piece < firstHalf {
			ext[2*axis+1] = mid
			numPieces = firstHalf
		} else {
			ext[2*axis] = mid
			numPieces -= firstHalf
			piece -= firstHalf
		}
	}
	return ext, true
}

func longestSplittableAxis(size [3]int) int {
	switch {
	case size[2] >= size[1] && size[2] >= size[0] && size[2]/2 >= 1:
		return 2
	case size[1] >= size[0] && size[1]/2 >= 1:
		return 1
	case size[0]/2 >= 1:
		return 0
	default:
		return -1
	}
}
