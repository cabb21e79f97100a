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
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/info"
)

// Pipeline owns a graph of algorithm nodes and runs update traversals over it.
//
// Description:
//
//	Nodes are added by unique name and wired output-port to input-port with
//	Connect. Type compatibility and cycles are checked when connecting, so a
//	rejected connection leaves the graph unchanged. Update runs the three
//	request passes over the upstream subgraph of one or more roots.
//
// Thread Safety:
//
//	Graph edits and updates are serialized. Only one Update may run at a
//	time; a second concurrent or reentrant call returns ErrReentrantUpdate.
type Pipeline struct {
	mu       sync.RWMutex
	updating atomic.Bool

	nodes  []*Node
	byName map[string]*Node

	logger      *slog.Logger
	policy      ExtentPolicy
	recorder    Recorder
	progress    ProgressObserver
	maxContinue int

	metrics *pipelineMetrics
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		byName:      make(map[string]*Node),
		logger:      slog.Default(),
		maxContinue: DefaultMaxContinueIterations,
		metrics:     &pipelineMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Logger returns the pipeline logger.
func (p *Pipeline) Logger() *slog.Logger {
	return p.logger
}

// ExtentPolicy returns the configured extent policy.
func (p *Pipeline) ExtentPolicy() ExtentPolicy {
	return p.policy
}

// outputSlot is the per-output-port state of a node.
type outputSlot struct {
	info        *info.Information
	data        *dataobject.DataObject
	consumers   []*Connection
	lastRequest UpdateRequest
	hasLast     bool

	// released is set once the data was dropped after its consumers ran.
	// releasedMTime is the data MTime those consumers saw.
	released      bool
	releasedMTime uint64
}

// Node is one algorithm instance in a pipeline.
//
// A Node exclusively owns its Executive, its output Information and its
// output data objects. Connections reference nodes without owning them.
type Node struct {
	name     string
	alg      Algorithm
	pipeline *Pipeline
	exec     *Executive

	inPorts  []InputPort
	outPorts []OutputPort
	inputs   [][]*Connection
	outputs  []*outputSlot

	// mtime advances on connection changes.
	mtime dataobject.TimeStamp

	requestMu   sync.Mutex
	request     UpdateRequest
	releaseData atomic.Bool
	counts      [numRequestTypes]atomic.Int64
	progress    atomic.Uint64
}

// Name returns the node's unique name.
func (n *Node) Name() string { return n.name }

// Algorithm returns the wrapped algorithm.
func (n *Node) Algorithm() Algorithm { return n.alg }

// Executive returns the node's executive.
func (n *Node) Executive() *Executive { return n.exec }

// Pipeline returns the owning pipeline.
func (n *Node) Pipeline() *Pipeline { return n.pipeline }

// NumberOfInputPorts returns the declared input port count.
func (n *Node) NumberOfInputPorts() int { return len(n.inPorts) }

// NumberOfOutputPorts returns the declared output port count.
func (n *Node) NumberOfOutputPorts() int { return len(n.outPorts) }

// InputPorts returns the declared input ports.
func (n *Node) InputPorts() []InputPort { return n.inPorts }

// OutputPorts returns the declared output ports.
func (n *Node) OutputPorts() []OutputPort { return n.outPorts }

// OutputInformation returns the Information of an output port, or nil.
func (n *Node) OutputInformation(port int) *info.Information {
	if port < 0 || port >= len(n.outputs) {
		return nil
	}
	return n.outputs[port].info
}

// Output returns the data object of an output port, or nil before the
// first update. The contents are only valid until the next Update.
func (n *Node) Output(port int) *dataobject.DataObject {
	if port < 0 || port >= len(n.outputs) {
		return nil
	}
	return n.outputs[port].data
}

// Inputs returns the connections of an input port.
func (n *Node) Inputs(port int) []*Connection {
	if port < 0 || port >= len(n.inputs) {
		return nil
	}
	return append([]*Connection(nil), n.inputs[port]...)
}

// Consumers returns the connections fed by an output port.
func (n *Node) Consumers(port int) []*Connection {
	if port < 0 || port >= len(n.outputs) {
		return nil
	}
	return append([]*Connection(nil), n.outputs[port].consumers...)
}

// Count returns how many times the executive processed request t for this node.
func (n *Node) Count(t RequestType) int64 {
	if t < 0 || t >= numRequestTypes {
		return 0
	}
	return n.counts[t].Load()
}

// ResetCounts zeroes the request counters.
func (n *Node) ResetCounts() {
	for i := range n.counts {
		n.counts[i].Store(0)
	}
}

// SetReleaseData makes the node drop its outputs once every consumer in a
// traversal has executed.
func (n *Node) SetReleaseData(v bool) {
	n.releaseData.Store(v)
}

// ReleaseData reports the release-data flag.
func (n *Node) ReleaseData() bool {
	return n.releaseData.Load()
}

// Progress returns the last progress fraction reported by the node.
func (n *Node) Progress() float64 {
	return math.Float64frombits(n.progress.Load())
}

func (n *Node) setProgress(f float64) {
	n.progress.Store(math.Float64bits(f))
}

// LastRequest returns the request the entry points will reuse.
func (n *Node) LastRequest() UpdateRequest {
	n.requestMu.Lock()
	defer n.requestMu.Unlock()
	return n.request
}

// Modified forces the node to re-execute on the next update.
func (n *Node) Modified() {
	n.mtime.Modified()
}

// outputVector returns the output Information of every port.
func (n *Node) outputVector() InfoVector {
	vec := make(InfoVector, len(n.outputs))
	for i, slot := range n.outputs {
		vec[i] = slot.info
	}
	return vec
}

// inputVectors refreshes connection Information from upstream outputs and
// returns it per port.
func (n *Node) inputVectors() []InfoVector {
	vec := make([]InfoVector, len(n.inputs))
	for i, conns := range n.inputs {
		vec[i] = make(InfoVector, len(conns))
		for j, c := range conns {
			up := c.From.outputs[c.FromPort]
			c.info.RemoveRole(info.RoleCapability)
			c.info.CopyRole(up.info, info.RoleCapability, true)
			DataObject.Set(c.info, up.data)
			vec[i][j] = c.info
		}
	}
	return vec
}

// hasInputConnections reports whether any input port is connected.
func (n *Node) hasInputConnections() bool {
	for _, conns := range n.inputs {
		if len(conns) > 0 {
			return true
		}
	}
	return false
}

// Connection links an upstream output port to a downstream input port.
//
// The connection's Information carries the upstream capabilities, the
// downstream request and the DATA_OBJECT key. It also caches what the
// downstream node consumed on its last successful execution.
type Connection struct {
	From     *Node
	FromPort int
	To       *Node
	ToPort   int

	info        *info.Information
	lastRequest UpdateRequest
	usedMTime   uint64
	valid       bool
}

// Info returns the connection Information.
func (c *Connection) Info() *info.Information {
	return c.info
}

// LastRequest returns the request active when the consumer last executed.
func (c *Connection) LastRequest() (UpdateRequest, bool) {
	return c.lastRequest, c.valid
}

// String formats the connection for logs.
func (c *Connection) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", c.From.name, c.FromPort, c.To.name, c.ToPort)
}

// current reports whether the cached consumption is still valid. Released
// data stays valid for consumers that used it before the release; data left
// untrusted by a failed or aborted run does not.
func (c *Connection) current() bool {
	if !c.valid {
		return false
	}
	slot := c.From.outputs[c.FromPort]
	if slot.data == nil {
		return false
	}
	if slot.released {
		return c.usedMTime == slot.releasedMTime
	}
	return c.From.exec.generated && slot.data.MTime() == c.usedMTime
}

// AddNode adds an algorithm under a unique name.
//
// Inputs:
//
//	name - Unique node name. Must not be empty.
//	alg - The algorithm. Must not be nil.
//
// Outputs:
//
//	*Node - The new node.
//	error - ErrDuplicateNode, ErrNilAlgorithm, or ErrReentrantUpdate.
func (p *Pipeline) AddNode(name string, alg Algorithm) (*Node, error) {
	if alg == nil {
		return nil, ErrNilAlgorithm
	}
	if name == "" {
		return nil, ErrInvalidName
	}
	if p.updating.Load() {
		return nil, ErrReentrantUpdate
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byName[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, name)
	}

	n := &Node{
		name:     name,
		alg:      alg,
		pipeline: p,
		inPorts:  alg.InputPorts(),
		outPorts: alg.OutputPorts(),
		request:  WholeRequest(),
	}
	n.exec = newExecutive(n)
	n.inputs = make([][]*Connection, len(n.inPorts))
	n.outputs = make([]*outputSlot, len(n.outPorts))
	for i := range n.outputs {
		n.outputs[i] = &outputSlot{info: info.New()}
	}
	n.mtime.Modified()

	p.nodes = append(p.nodes, n)
	p.byName[name] = n
	return n, nil
}

// Node returns the node with the given name.
func (p *Pipeline) Node(name string) (*Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.byName[name]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (p *Pipeline) Nodes() []*Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Node(nil), p.nodes...)
}

// Connections returns every connection, grouped by consumer in insertion order.
func (p *Pipeline) Connections() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Connection
	for _, n := range p.nodes {
		for _, conns := range n.inputs {
			out = append(out, conns...)
		}
	}
	return out
}

// RemoveNode disconnects and removes a node.
func (p *Pipeline) RemoveNode(name string) error {
	if p.updating.Load() {
		return ErrReentrantUpdate
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	for _, conns := range n.inputs {
		for _, c := range conns {
			p.unlink(c)
		}
	}
	for _, slot := range n.outputs {
		for _, c := range append([]*Connection(nil), slot.consumers...) {
			p.unlink(c)
		}
	}
	delete(p.byName, name)
	for i, m := range p.nodes {
		if m == n {
			p.nodes = append(p.nodes[:i], p.nodes[i+1:]...)
			break
		}
	}
	return nil
}

// Connect wires output port outPort of from to input port inPort of to.
//
// Description:
//
//	Checks port ranges, occupancy of non-repeatable inputs, data kind
//	compatibility where the producer's kind is known statically, and
//	cycles. Any failure leaves the graph unchanged.
//
// Inputs:
//
//	from, outPort - The producing node and its output port.
//	to, inPort - The consuming node and its input port.
//
// Outputs:
//
//	*Connection - The new connection.
//	error - ErrNodeNotFound, ErrInvalidPort, ErrPortOccupied,
//	        ErrIncompatibleType or a *CycleError.
func (p *Pipeline) Connect(from *Node, outPort int, to *Node, inPort int) (*Connection, error) {
	if p.updating.Load() {
		return nil, ErrReentrantUpdate
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMember(from); err != nil {
		return nil, err
	}
	if err := p.checkMember(to); err != nil {
		return nil, err
	}
	if outPort < 0 || outPort >= len(from.outPorts) {
		return nil, fmt.Errorf("%w: %s has %d outputs, got %d", ErrInvalidPort, from.name, len(from.outPorts), outPort)
	}
	if inPort < 0 || inPort >= len(to.inPorts) {
		return nil, fmt.Errorf("%w: %s has %d inputs, got %d", ErrInvalidPort, to.name, len(to.inPorts), inPort)
	}
	port := to.inPorts[inPort]
	if !port.Repeatable && len(to.inputs[inPort]) > 0 {
		return nil, fmt.Errorf("%w: %s input %d", ErrPortOccupied, to.name, inPort)
	}
	if k := staticKind(from, outPort, 0); !port.AcceptsKind(k) {
		return nil, fmt.Errorf("%w: %s output %d produces %s, %s input %d accepts %v",
			ErrIncompatibleType, from.name, outPort, k, to.name, inPort, port.Accepts)
	}
	if path := findPath(to, from); path != nil {
		return nil, &CycleError{Path: append(path, to.name)}
	}

	c := &Connection{From: from, FromPort: outPort, To: to, ToPort: inPort, info: info.New()}
	to.inputs[inPort] = append(to.inputs[inPort], c)
	from.outputs[outPort].consumers = append(from.outputs[outPort].consumers, c)
	to.mtime.Modified()
	return c, nil
}

// Disconnect removes the connection between the given ports.
func (p *Pipeline) Disconnect(from *Node, outPort int, to *Node, inPort int) error {
	if p.updating.Load() {
		return ErrReentrantUpdate
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMember(from); err != nil {
		return err
	}
	if err := p.checkMember(to); err != nil {
		return err
	}
	if inPort < 0 || inPort >= len(to.inputs) {
		return fmt.Errorf("%w: %s input %d", ErrInvalidPort, to.name, inPort)
	}
	for _, c := range to.inputs[inPort] {
		if c.From == from && c.FromPort == outPort {
			p.unlink(c)
			return nil
		}
	}
	return fmt.Errorf("%w: %s:%d -> %s:%d", ErrNotConnected, from.name, outPort, to.name, inPort)
}

func (p *Pipeline) unlink(c *Connection) {
	c.To.inputs[c.ToPort] = removeConn(c.To.inputs[c.ToPort], c)
	slot := c.From.outputs[c.FromPort]
	slot.consumers = removeConn(slot.consumers, c)
	c.To.mtime.Modified()
}

func removeConn(conns []*Connection, c *Connection) []*Connection {
	for i, x := range conns {
		if x == c {
			return append(conns[:i], conns[i+1:]...)
		}
	}
	return conns
}

func (p *Pipeline) checkMember(n *Node) error {
	if n == nil || n.pipeline != p || p.byName[n.name] != n {
		name := "<nil>"
		if n != nil {
			name = n.name
		}
		return fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	return nil
}

// staticKind resolves the kind an output produces without running the
// pipeline. It returns KindAny when the kind depends on run-time data.
func staticKind(n *Node, port, depth int) dataobject.Kind {
	op := n.outPorts[port]
	if op.Produces != dataobject.KindAny || op.SameAsInput < 0 || depth > 64 {
		return op.Produces
	}
	if op.SameAsInput >= len(n.inputs) || len(n.inputs[op.SameAsInput]) == 0 {
		return dataobject.KindAny
	}
	c := n.inputs[op.SameAsInput][0]
	return staticKind(c.From, c.FromPort, depth+1)
}

// findPath returns the node names on a downstream path from start to
// target, or nil if target is not reachable.
func findPath(start, target *Node) []string {
	visited := make(map[*Node]bool)
	var walk func(n *Node) []string
	walk = func(n *Node) []string {
		if n == target {
			return []string{n.name}
		}
		if visited[n] {
			return nil
		}
		visited[n] = true
		for _, slot := range n.outputs {
			for _, c := range slot.consumers {
				if rest := walk(c.To); rest != nil {
					return append([]string{n.name}, rest...)
				}
			}
		}
		return nil
	}
	return walk(start)
}

// upstreamOrder returns every node upstream of roots, roots included, in
// topological order (producers before consumers).
func upstreamOrder(roots []*Node) ([]*Node, map[*Node]bool) {
	in := make(map[*Node]bool)
	var order []*Node
	var visit func(n *Node)
	visit = func(n *Node) {
		if in[n] {
			return
		}
		in[n] = true
		for _, conns := range n.inputs {
			for _, c := range conns {
				visit(c.From)
			}
		}
		order = append(order, n)
	}
	for _, r := range roots {
		visit(r)
	}
	return order, in
}
