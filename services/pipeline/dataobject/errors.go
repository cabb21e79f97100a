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

import "errors"

// Sentinel errors for data object operations.
var (
	// ErrTypeMismatch is returned when copying between incompatible kinds.
	ErrTypeMismatch = errors.New("data object type mismatch")

	// ErrNotComposite is returned when block operations target a non-composite object.
	ErrNotComposite = errors.New("data object is not composite")

	// ErrUnsupportedKind is returned when a visitor has no handler for a kind.
	ErrUnsupportedKind = errors.New("unsupported data object kind")

	// ErrUnknownKind is returned when parsing an unrecognized kind name.
	ErrUnknownKind = errors.New("unknown data object kind")

	// ErrInvalidInput is returned for nil or malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSnapshotCorrupt is returned when a snapshot checksum does not match.
	ErrSnapshotCorrupt = errors.New("snapshot checksum mismatch")

	// ErrSnapshotVersion is returned when a snapshot has an incompatible version.
	ErrSnapshotVersion = errors.New("snapshot version incompatible")
)
