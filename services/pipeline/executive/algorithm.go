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
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
)

// RequestType identifies one pass of the pipeline protocol.
type RequestType int

const (
	// RequestDataObject creates or retypes output data objects.
	RequestDataObject RequestType = iota

	// RequestInformation publishes capabilities downstream.
	RequestInformation

	// RequestUpdateExtent propagates requests upstream.
	RequestUpdateExtent

	// RequestData produces output data.
	RequestData

	numRequestTypes
)

// String returns the protocol name of the request.
func (t RequestType) String() string {
	switch t {
	case RequestDataObject:
		return "REQUEST_DATA_OBJECT"
	case RequestInformation:
		return "REQUEST_INFORMATION"
	case RequestUpdateExtent:
		return "REQUEST_UPDATE_EXTENT"
	case RequestData:
		return "REQUEST_DATA"
	default:
		return fmt.Sprintf("REQUEST(%d)", int(t))
	}
}

// Request carries per-call context into an algorithm phase.
type Request struct {
	// Type is the pass being executed.
	Type RequestType

	// SessionID identifies the Update traversal.
	SessionID string

	// Iteration counts continue-executing rounds, starting at 0.
	Iteration int

	// ContinueExecuting may be set by RequestData to ask the executive to
	// run another update-extent and data round for this node.
	ContinueExecuting bool

	ctx      context.Context
	node     *Node
	progress ProgressObserver
	logger   *slog.Logger
}

// NodeName returns the name of the node being executed.
func (r *Request) NodeName() string {
	if r.node == nil {
		return ""
	}
	return r.node.name
}

// Logger returns a logger tagged with the node and session.
func (r *Request) Logger() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

// Aborted reports whether execution should stop at the next safe point.
// It is true when the context is done or the algorithm's abort flag is set.
func (r *Request) Aborted() bool {
	if r.ctx != nil && r.ctx.Err() != nil {
		return true
	}
	if r.node != nil {
		if a, ok := r.node.alg.(Aborter); ok && a.AbortExecute() {
			return true
		}
	}
	return false
}

// UpdateProgress reports the fraction of work done, clamped to [0, 1].
func (r *Request) UpdateProgress(f float64) {
	f = min(max(f, 0), 1)
	if r.node != nil {
		r.node.setProgress(f)
	}
	if r.progress != nil {
		r.progress(r.NodeName(), f)
	}
}

// ProgressObserver receives progress reports from executing nodes.
type ProgressObserver func(node string, progress float64)

// InputPort describes one input of an algorithm.
type InputPort struct {
	// Name labels the port in logs and configuration.
	Name string

	// Accepts lists the kinds the port takes. Empty means any kind.
	Accepts []dataobject.Kind

	// Optional ports may stay unconnected.
	Optional bool

	// Repeatable ports take any number of connections.
	Repeatable bool
}

// AcceptsKind reports whether the port takes data of kind k.
func (p InputPort) AcceptsKind(k dataobject.Kind) bool {
	if len(p.Accepts) == 0 || k == dataobject.KindAny {
		return true
	}
	for _, a := range p.Accepts {
		if a.Accepts(k) {
			return true
		}
	}
	return false
}

// OutputPort describes one output of an algorithm.
type OutputPort struct {
	// Name labels the port in logs and configuration.
	Name string

	// Produces is the kind of data written. KindAny defers the choice to
	// SameAsInput or RequestDataObject.
	Produces dataobject.Kind

	// SameAsInput, when >= 0, copies the kind of the first connection on
	// that input port. Use NoSameAsInput otherwise.
	SameAsInput int
}

// NoSameAsInput disables OutputPort.SameAsInput.
const NoSameAsInput = -1

// Algorithm is the contract every pipeline node implements.
//
// Description:
//
//	RequestData is mandatory. Algorithms that need to publish capabilities,
//	transform requests or choose output kinds at run time implement the
//	optional interfaces InformationRequester, UpdateExtentRequester and
//	DataObjectRequester. RequestMerger overrides how concurrent requests
//	for one output are combined.
//
//	inputs[port][conn] is the Information of one input connection: the
//	upstream capabilities, this node's request and the DATA_OBJECT key.
//	outputs[port] is the Information of one output port.
//
// Thread Safety:
//
//	The executive never calls two phases of one algorithm concurrently.
type Algorithm interface {
	InputPorts() []InputPort
	OutputPorts() []OutputPort
	MTime() uint64
	RequestData(ctx context.Context, req *Request, inputs []InfoVector, outputs InfoVector) error
}

// InformationRequester publishes output capabilities.
type InformationRequester interface {
	RequestInformation(ctx context.Context, req *Request, inputs []InfoVector, outputs InfoVector) error
}

// UpdateExtentRequester rewrites the requests sent to inputs.
type UpdateExtentRequester interface {
	RequestUpdateExtent(ctx context.Context, req *Request, inputs []InfoVector, outputs InfoVector) error
}

// DataObjectRequester picks output kinds from the input data.
type DataObjectRequester interface {
	RequestDataObject(ctx context.Context, req *Request, inputs []InfoVector) ([]dataobject.Kind, error)
}

// RequestMerger combines the requests of every consumer of one output.
// The default policy is UpdateRequest.Union.
type RequestMerger interface {
	MergeRequests(port int, requests []UpdateRequest) (UpdateRequest, error)
}

// Aborter exposes a cooperative abort flag.
type Aborter interface {
	AbortExecute() bool
}

// BaseAlgorithm implements modification tracking and the abort flag.
//
// Embed it in concrete algorithms and call Modified whenever a parameter
// changes:
//
//	type Threshold struct {
//	    executive.BaseAlgorithm
//	    lower float64
//	}
//
//	func (t *Threshold) SetLower(v float64) {
//	    if t.lower != v {
//	        t.lower = v
//	        t.Modified()
//	    }
//	}
type BaseAlgorithm struct {
	mtime dataobject.TimeStamp
	abort atomic.Bool
}

// MTime returns the last parameter change.
func (b *BaseAlgorithm) MTime() uint64 {
	return b.mtime.Get()
}

// Modified records a parameter change.
func (b *BaseAlgorithm) Modified() {
	b.mtime.Modified()
}

// SetAbortExecute sets the abort flag. The executive clears it after each run.
func (b *BaseAlgorithm) SetAbortExecute(v bool) {
	b.abort.Store(v)
}

// AbortExecute reports the abort flag.
func (b *BaseAlgorithm) AbortExecute() bool {
	return b.abort.Load()
}

// RequestFunc is the signature shared by the information, update-extent and
// data phases.
type RequestFunc func(ctx context.Context, req *Request, inputs []InfoVector, outputs InfoVector) error

// FuncAlgorithm adapts plain functions to the Algorithm interface.
//
// Nil phase functions are no-ops. Useful for tests and small glue nodes.
type FuncAlgorithm struct {
	BaseAlgorithm
	Inputs        []InputPort
	Outputs       []OutputPort
	Information   RequestFunc
	UpdateExtents RequestFunc
	Data          RequestFunc
}

// InputPorts returns the configured inputs.
func (f *FuncAlgorithm) InputPorts() []InputPort { return f.Inputs }

// OutputPorts returns the configured outputs.
func (f *FuncAlgorithm) OutputPorts() []OutputPort { return f.Outputs }

// RequestInformation calls Information if set.
func (f *FuncAlgorithm) RequestInformation(ctx context.Context, req *Request, inputs []InfoVector, outputs InfoVector) error {
	if f.Information == nil {
		return nil
	}
	return f.Information(ctx, req, inputs, outputs)
}

// RequestUpdateExtent calls UpdateExtents if set.
func (f *FuncAlgorithm) RequestUpdateExtent(ctx context.Context, req *Request, inputs []InfoVector, outputs InfoVector) error {
	if f.UpdateExtents == nil {
		return nil
	}
	return f.UpdateExtents(ctx, req, inputs, outputs)
}

// RequestData calls Data if set.
func (f *FuncAlgorithm) RequestData(ctx context.Context, req *Request, inputs []InfoVector, outputs InfoVector) error {
	if f.Data == nil {
		return nil
	}
	return f.Data(ctx, req, inputs, outputs)
}
