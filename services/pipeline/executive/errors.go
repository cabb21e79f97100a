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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the executive package.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilAlgorithm is returned when a node is added without an algorithm.
	ErrNilAlgorithm = errors.New("algorithm must not be nil")

	// ErrDuplicateNode is returned when adding a node with an existing name.
	ErrDuplicateNode = errors.New("node with this name already exists")

	// ErrInvalidName is returned when a node name is empty.
	ErrInvalidName = errors.New("node name must not be empty")

	// ErrNodeNotFound is returned when a referenced node does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidPort is returned when a port index is out of range.
	ErrInvalidPort = errors.New("port index out of range")

	// ErrPortOccupied is returned when connecting to a non-repeatable input that is already connected.
	ErrPortOccupied = errors.New("input port already connected")

	// ErrNotConnected is returned when disconnecting a connection that does not exist.
	ErrNotConnected = errors.New("ports are not connected")

	// ErrIncompatibleType is returned when a producer's data kind is not accepted by a consumer port.
	ErrIncompatibleType = errors.New("incompatible data type")

	// ErrCycle is returned when a connection would create a cycle.
	ErrCycle = errors.New("connection would create a cycle")

	// ErrMissingInput is returned when a required input port has no connection.
	ErrMissingInput = errors.New("required input not connected")

	// ErrInvalidState is returned on an illegal executive state transition.
	ErrInvalidState = errors.New("invalid executive state transition")

	// ErrReentrantUpdate is returned when Update is called while a traversal is in flight.
	ErrReentrantUpdate = errors.New("pipeline update already in progress")

	// ErrExtentOutsideWhole is returned when a requested extent exceeds the advertised whole extent.
	ErrExtentOutsideWhole = errors.New("update extent outside whole extent")

	// ErrRequestConflict is returned when consumers of one output make irreconcilable requests.
	ErrRequestConflict = errors.New("conflicting update requests")

	// ErrInvalidRequest is returned for malformed update requests.
	ErrInvalidRequest = errors.New("invalid update request")

	// ErrAborted is returned when a node stops early on an abort request.
	ErrAborted = errors.New("execution aborted")

	// ErrContinueLimit is returned when a streaming node keeps asking to continue past the iteration limit.
	ErrContinueLimit = errors.New("continue-executing iteration limit reached")

	// ErrNoRoots is returned when Update is called without roots.
	ErrNoRoots = errors.New("no update roots given")
)

// ExecutionError wraps an error with the node and pass that caused it.
type ExecutionError struct {
	NodeName string
	Request  RequestType
	Err      error
}

// Error returns the error message.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %q %s: %v", e.NodeName, e.Request, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates an ExecutionError.
func NewExecutionError(nodeName string, req RequestType, err error) *ExecutionError {
	return &ExecutionError{
		NodeName: nodeName,
		Request:  req,
		Err:      err,
	}
}

// CycleError provides details about a rejected connection.
type CycleError struct {
	Path []string
}

// Error returns the cycle description.
func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycle, strings.Join(e.Path, " -> "))
}

// Unwrap returns ErrCycle.
func (e *CycleError) Unwrap() error {
	return ErrCycle
}
