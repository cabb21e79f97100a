// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executive

import (
	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
	"github.com/AleutianAI/vizpipe/services/pipeline/info"
)

// Keys written by the executive and by algorithms.
//
// Capability keys are written on output ports during RequestInformation and
// copied to consumers. Request keys are written by consumers during
// RequestUpdateExtent and flow upstream.
var (
	// DataObject holds the data object of a port or connection.
	DataObject = info.NewKey[*dataobject.DataObject]("DATA_OBJECT", info.RoleMeta)

	// WholeExtent is the largest extent a structured producer can supply.
	WholeExtent = info.NewKey[extent.Extent]("WHOLE_EXTENT", info.RoleCapability)

	// TimeSteps lists the discrete time values available.
	TimeSteps = info.NewKey[[]float64]("TIME_STEPS", info.RoleCapability)

	// TimeRange is the [min, max] time interval available.
	TimeRange = info.NewKey[[]float64]("TIME_RANGE", info.RoleCapability)

	// MaximumNumberOfPieces caps how many pieces a producer can split into. -1 means no limit.
	MaximumNumberOfPieces = info.NewKeyWithDefault[int]("MAXIMUM_NUMBER_OF_PIECES", info.RoleCapability, -1)

	// CanHandlePieceRequest marks producers that honour piece requests.
	CanHandlePieceRequest = info.NewKey[bool]("CAN_HANDLE_PIECE_REQUEST", info.RoleCapability)

	// CanProduceSubExtent marks structured producers that can generate any sub-extent.
	CanProduceSubExtent = info.NewKey[bool]("CAN_PRODUCE_SUB_EXTENT", info.RoleCapability)

	// UnrestrictedUpdateExtent allows requests outside the whole extent.
	UnrestrictedUpdateExtent = info.NewKey[bool]("UNRESTRICTED_UPDATE_EXTENT", info.RoleCapability)

	// Origin is the world position of the first point.
	Origin = info.NewKey[[]float64]("ORIGIN", info.RoleCapability)

	// Spacing is the distance between adjacent points per axis.
	Spacing = info.NewKey[[]float64]("SPACING", info.RoleCapability)

	// UpdateExtent is the requested structured extent.
	UpdateExtent = info.NewKey[extent.Extent]("UPDATE_EXTENT", info.RoleRequest)

	// UpdatePieceNumber is the requested piece.
	UpdatePieceNumber = info.NewKey[int]("UPDATE_PIECE_NUMBER", info.RoleRequest)

	// UpdateNumberOfPieces is the piece count of the request.
	UpdateNumberOfPieces = info.NewKey[int]("UPDATE_NUMBER_OF_PIECES", info.RoleRequest)

	// UpdateNumberOfGhostLevels is the ghost layer count requested.
	UpdateNumberOfGhostLevels = info.NewKey[int]("UPDATE_NUMBER_OF_GHOST_LEVELS", info.RoleRequest)

	// UpdateTimeStep is the requested time value.
	UpdateTimeStep = info.NewKey[float64]("UPDATE_TIME_STEP", info.RoleRequest)

	// ExactExtent asks the producer to crop output to exactly the update extent.
	ExactExtent = info.NewKey[bool]("EXACT_EXTENT", info.RoleRequest)
)

// InfoVector holds one Information per port, or per connection of an input port.
type InfoVector []*info.Information

// capabilityDefaults are copied from the first input to every output before
// RequestInformation runs.
var capabilityDefaults = []info.KeyRef{WholeExtent, TimeSteps, TimeRange, Origin, Spacing}

// InputData returns the data object delivered on connection conn of input port.
// It returns nil when the port or connection does not exist.
func InputData(inputs []InfoVector, port, conn int) *dataobject.DataObject {
	if port < 0 || port >= len(inputs) || conn < 0 || conn >= len(inputs[port]) {
		return nil
	}
	d, _ := DataObject.Lookup(inputs[port][conn])
	return d
}

// OutputData returns the data object of an output port, or nil.
func OutputData(outputs InfoVector, port int) *dataobject.DataObject {
	if port < 0 || port >= len(outputs) {
		return nil
	}
	d, _ := DataObject.Lookup(outputs[port])
	return d
}

// HasTime reports whether an Information advertises any time values.
func HasTime(in *info.Information) bool {
	return TimeRange.Has(in) || TimeSteps.Has(in)
}
