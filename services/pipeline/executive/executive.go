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
	"sync/atomic"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
)

// State is the position of an executive in the request protocol.
type State int32

const (
	StateIdle State = iota
	StateInformationRequested
	StateUpdateExtentRequested
	StateDataRequested
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInformationRequested:
		return "INFORMATION_REQUESTED"
	case StateUpdateExtentRequested:
		return "UPDATE_EXTENT_REQUESTED"
	case StateDataRequested:
		return "DATA_REQUESTED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// transitions lists the legal next states. DATA_REQUESTED may loop back to
// UPDATE_EXTENT_REQUESTED for continue-executing rounds.
var transitions = map[State][]State{
	StateIdle:                  {StateInformationRequested},
	StateInformationRequested:  {StateUpdateExtentRequested, StateIdle},
	StateUpdateExtentRequested: {StateDataRequested, StateIdle},
	StateDataRequested:         {StateIdle, StateUpdateExtentRequested},
}

// requiredState maps each request to the state it runs in.
var requiredState = [numRequestTypes]State{
	RequestDataObject:   StateInformationRequested,
	RequestInformation:  StateInformationRequested,
	RequestUpdateExtent: StateUpdateExtentRequested,
	RequestData:         StateDataRequested,
}

// Executive drives one node through the request protocol.
//
// Description:
//
//	The executive tracks the node's protocol state, when its information
//	was last published and when its data was last produced. The pipeline
//	traversal advances it pass by pass; ProcessRequest dispatches one pass
//	to the algorithm.
//
// Thread Safety:
//
//	State may be read concurrently. Everything else is confined to the
//	goroutine running the traversal.
type Executive struct {
	node  *Node
	state atomic.Int32

	infoStamp dataobject.TimeStamp
	dataTime  uint64
	generated bool

	// upstreamTime is dataMTime as of the last information pass.
	upstreamTime uint64
}

func newExecutive(n *Node) *Executive {
	return &Executive{node: n}
}

// State returns the current protocol state.
func (e *Executive) State() State {
	return State(e.state.Load())
}

// DataTime returns the logical time of the last successful data pass.
func (e *Executive) DataTime() uint64 {
	return e.dataTime
}

// Generated reports whether the outputs hold trusted data.
func (e *Executive) Generated() bool {
	return e.generated
}

// advance moves to state to, failing on illegal transitions.
func (e *Executive) advance(to State) error {
	from := e.State()
	for _, allowed := range transitions[from] {
		if allowed == to {
			e.state.Store(int32(to))
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s on %s", ErrInvalidState, from, to, e.node.name)
}

// reset returns to IDLE unconditionally after a failed traversal.
func (e *Executive) reset() {
	e.state.Store(int32(StateIdle))
}

// invalidate marks the outputs untrusted so the next update re-executes.
func (e *Executive) invalidate() {
	e.generated = false
}

// pipelineMTime is the latest change that affects this node's information.
func (e *Executive) pipelineMTime() uint64 {
	m := max(e.node.alg.MTime(), e.node.mtime.Get())
	for _, conns := range e.node.inputs {
		for _, c := range conns {
			m = max(m, c.From.exec.infoStamp.Get())
		}
	}
	return m
}

// dataMTime is the latest algorithm or connection change at this node or
// anywhere upstream. Producers run their information pass first, so their
// upstreamTime is already fresh.
func (e *Executive) dataMTime() uint64 {
	m := max(e.node.alg.MTime(), e.node.mtime.Get())
	for _, conns := range e.node.inputs {
		for _, c := range conns {
			m = max(m, c.From.exec.upstreamTime)
		}
	}
	return m
}

// informationCurrent reports whether published information is up to date.
func (e *Executive) informationCurrent() bool {
	stamp := e.infoStamp.Get()
	if stamp == 0 {
		return false
	}
	for _, slot := range e.node.outputs {
		if slot.data == nil {
			return false
		}
	}
	return e.pipelineMTime() <= stamp
}

// ProcessRequest dispatches one protocol pass to the algorithm.
//
// Description:
//
//	Verifies that the executive is in the state the request runs in,
//	counts the request and calls the matching algorithm phase. Phases the
//	algorithm does not implement succeed without doing anything.
//	RequestDataObject additionally creates or retypes output data objects.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	req - The request. req.Type selects the phase.
//	inputs - Per-port connection Information.
//	outputs - Per-port output Information.
//
// Outputs:
//
//	error - ErrInvalidState, or the algorithm's error.
func (e *Executive) ProcessRequest(ctx context.Context, req *Request, inputs []InfoVector, outputs InfoVector) error {
	if ctx == nil {
		return ErrNilContext
	}
	if req == nil || req.Type < 0 || req.Type >= numRequestTypes {
		return fmt.Errorf("%w: unknown request", ErrInvalidState)
	}
	if want := requiredState[req.Type]; e.State() != want {
		return fmt.Errorf("%w: %s requires %s, executive %s is %s",
			ErrInvalidState, req.Type, want, e.node.name, e.State())
	}
	req.node = e.node
	e.node.counts[req.Type].Add(1)

	alg := e.node.alg
	switch req.Type {
	case RequestDataObject:
		return e.dataObjects(ctx, req, inputs)
	case RequestInformation:
		if r, ok := alg.(InformationRequester); ok {
			return r.RequestInformation(ctx, req, inputs, outputs)
		}
	case RequestUpdateExtent:
		if r, ok := alg.(UpdateExtentRequester); ok {
			return r.RequestUpdateExtent(ctx, req, inputs, outputs)
		}
	case RequestData:
		return alg.RequestData(ctx, req, inputs, outputs)
	}
	return nil
}

// dataObjects makes sure every output holds a data object of the right kind
// and that every input delivers a kind its port accepts.
func (e *Executive) dataObjects(ctx context.Context, req *Request, inputs []InfoVector) error {
	n := e.node
	kinds := make([]dataobject.Kind, len(n.outPorts))
	for i, op := range n.outPorts {
		kinds[i] = op.Produces
		if kinds[i] == dataobject.KindAny && op.SameAsInput >= 0 {
			if d := InputData(inputs, op.SameAsInput, 0); d != nil {
				kinds[i] = d.Kind()
			}
		}
	}
	if r, ok := n.alg.(DataObjectRequester); ok {
		chosen, err := r.RequestDataObject(ctx, req, inputs)
		if err != nil {
			return err
		}
		for i, k := range chosen {
			if i < len(kinds) && k != dataobject.KindAny {
				kinds[i] = k
			}
		}
	}

	for port, conns := range inputs {
		for j := range conns {
			d := InputData(inputs, port, j)
			if d != nil && !n.inPorts[port].AcceptsKind(d.Kind()) {
				return fmt.Errorf("%w: input %d receives %s, accepts %v",
					ErrIncompatibleType, port, d.Kind(), n.inPorts[port].Accepts)
			}
		}
	}

	for i, slot := range n.outputs {
		k := kinds[i]
		if !k.IsConcrete() {
			return fmt.Errorf("%w: cannot determine kind of output %d", ErrIncompatibleType, i)
		}
		if slot.data != nil && slot.data.Kind() == k {
			continue
		}
		d, err := dataobject.New(k)
		if err != nil {
			return err
		}
		slot.data = d
		slot.hasLast = false
		slot.released = false
		DataObject.Set(slot.info, d)
		e.generated = false
	}
	return nil
}
