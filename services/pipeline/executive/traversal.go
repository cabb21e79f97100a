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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
	"github.com/AleutianAI/vizpipe/services/pipeline/info"
)

// traversal is the state of one Update call.
type traversal struct {
	p       *Pipeline
	ctx     context.Context
	session string
	logger  *slog.Logger
	result  *Result
	seq     *int

	order []*Node
	in    map[*Node]bool

	// seeds are the caller's requests for root outputs.
	seeds map[*Node]UpdateRequest

	// fixed nodes keep their current output requests instead of merging.
	fixed map[*Node]bool

	// roots are never released.
	roots map[*Node]bool

	// pending counts in-traversal consumer connections left to execute.
	pending map[*Node]int

	// executing holds the nodes the update-extent pass decided to run.
	// Only they forward requests upstream.
	executing map[*Node]bool

	iteration int
}

func newTraversal(ctx context.Context, p *Pipeline, session string, targets []Target, result *Result) (*traversal, error) {
	roots := make([]*Node, len(targets))
	t := &traversal{
		p:       p,
		ctx:     ctx,
		session: session,
		logger:  p.logger.With(slog.String("session_id", session)),
		result:  result,
		seq:     new(int),
		seeds:   make(map[*Node]UpdateRequest, len(targets)),
		fixed:   map[*Node]bool{},
		roots:   make(map[*Node]bool, len(targets)),
		pending: make(map[*Node]int),

		executing: make(map[*Node]bool),
	}
	for i, tg := range targets {
		roots[i] = tg.Node
		t.roots[tg.Node] = true
		if prev, ok := t.seeds[tg.Node]; ok {
			u, err := prev.Union(tg.Request)
			if err != nil {
				return nil, NewExecutionError(tg.Node.name, RequestUpdateExtent, err)
			}
			t.seeds[tg.Node] = u
			continue
		}
		t.seeds[tg.Node] = tg.Request
	}
	t.order, t.in = upstreamOrder(roots)
	for _, n := range t.order {
		for _, slot := range n.outputs {
			for _, c := range slot.consumers {
				if t.in[c.To] {
					t.pending[n]++
				}
			}
		}
	}
	return t, nil
}

// child derives the traversal used for one continue-executing round of n.
func (t *traversal) child(n *Node, iteration int) *traversal {
	order, in := upstreamOrder([]*Node{n})
	return &traversal{
		p:         t.p,
		ctx:       t.ctx,
		session:   t.session,
		logger:    t.logger,
		result:    t.result,
		seq:       t.seq,
		order:     order,
		in:        in,
		seeds:     map[*Node]UpdateRequest{},
		fixed:     map[*Node]bool{n: true},
		roots:     map[*Node]bool{n: true},
		pending:   map[*Node]int{},
		executing: map[*Node]bool{},
		iteration: iteration,
	}
}

func (t *traversal) request(n *Node, typ RequestType) *Request {
	return &Request{
		Type:      typ,
		SessionID: t.session,
		Iteration: t.iteration,
		ctx:       t.ctx,
		node:      n,
		progress:  t.p.progress,
		logger:    t.logger.With(slog.String("node", n.name)),
	}
}

// run executes the information pass and, when data is set, the
// update-extent and data passes. Each pass completes over the whole
// subgraph before the next one starts.
func (t *traversal) run(data bool) error {
	if err := t.informationPass(t.order); err != nil {
		return err
	}
	if !data {
		for _, n := range t.order {
			if err := n.exec.advance(StateIdle); err != nil {
				return NewExecutionError(n.name, RequestInformation, err)
			}
		}
		return nil
	}
	if err := t.updateExtentPass(t.order); err != nil {
		return err
	}
	for _, n := range t.order {
		if err := t.visitData(n); err != nil {
			return err
		}
	}
	return nil
}

// fail records a node failure on the span, metrics and log, and wraps err.
func (t *traversal) fail(ctx context.Context, span trace.Span, n *Node, typ RequestType, err error) error {
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		ee = NewExecutionError(n.name, typ, err)
	}
	span.RecordError(ee)
	span.SetStatus(codes.Error, ee.Error())
	if t.p.metrics.failures != nil {
		t.p.metrics.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("node", n.name),
			attribute.String("request", typ.String()),
		))
	}
	t.logger.Error("node failed",
		slog.String("node", n.name),
		slog.String("request", typ.String()),
		slog.String("error", err.Error()),
	)
	return ee
}

func (t *traversal) record(n *Node, typ RequestType, outcome Outcome, r UpdateRequest, d time.Duration, err error) {
	if t.p.recorder == nil {
		return
	}
	*t.seq++
	ev := Event{
		SessionID: t.session,
		Sequence:  *t.seq,
		Node:      n.name,
		Request:   typ.String(),
		Outcome:   outcome,
		Update:    r,
		Duration:  d,
		At:        time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if rerr := t.p.recorder.Record(t.ctx, ev); rerr != nil {
		t.logger.Warn("failed to record execution event",
			slog.String("node", n.name),
			slog.String("error", rerr.Error()),
		)
	}
}

// --- Pass 1: RequestInformation, producers first ---

func (t *traversal) informationPass(nodes []*Node) error {
	for _, n := range nodes {
		if err := t.information(n); err != nil {
			return err
		}
	}
	return nil
}

func (t *traversal) information(n *Node) error {
	e := n.exec
	if err := e.advance(StateInformationRequested); err != nil {
		return NewExecutionError(n.name, RequestInformation, err)
	}
	for i, port := range n.inPorts {
		if !port.Optional && len(n.inputs[i]) == 0 {
			return NewExecutionError(n.name, RequestInformation,
				fmt.Errorf("%w: port %d (%s)", ErrMissingInput, i, port.Name))
		}
	}

	e.upstreamTime = e.dataMTime()

	inputs := n.inputVectors()
	if e.informationCurrent() {
		return nil
	}

	ctx, span := tracer.Start(t.ctx, "executive.RequestInformation",
		trace.WithAttributes(attribute.String("pipeline.node", n.name)),
	)
	defer span.End()

	if err := e.ProcessRequest(ctx, t.request(n, RequestDataObject), inputs, nil); err != nil {
		return t.fail(ctx, span, n, RequestDataObject, err)
	}

	outputs := n.outputVector()
	first := firstInput(inputs)
	for _, out := range outputs {
		out.RemoveRole(info.RoleCapability)
		if first == nil {
			continue
		}
		for _, key := range capabilityDefaults {
			if first.Has(key) {
				out.CopyEntry(first, key, true)
			}
		}
	}

	if err := e.ProcessRequest(ctx, t.request(n, RequestInformation), inputs, outputs); err != nil {
		return t.fail(ctx, span, n, RequestInformation, err)
	}
	e.infoStamp.Modified()
	span.SetStatus(codes.Ok, "")
	return nil
}

func firstInput(inputs []InfoVector) *info.Information {
	for _, vec := range inputs {
		if len(vec) > 0 {
			return vec[0]
		}
	}
	return nil
}

// --- Pass 2: RequestUpdateExtent, consumers first ---
//
// A node takes part only when it is a root or feeds a consumer that will
// execute. It decides whether it executes itself before writing requests
// on its inputs, so a current consumer never pulls its producers.

func (t *traversal) updateExtentPass(nodes []*Node) error {
	for i := len(nodes) - 1; i >= 0; i-- {
		if err := t.updateExtent(nodes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *traversal) updateExtent(n *Node) error {
	e := n.exec
	if err := e.advance(StateUpdateExtentRequested); err != nil {
		return NewExecutionError(n.name, RequestUpdateExtent, err)
	}
	if !t.demanded(n) {
		return nil
	}

	var combined UpdateRequest
	for port, slot := range n.outputs {
		r, err := t.outputRequest(n, port, slot)
		if err != nil {
			return NewExecutionError(n.name, RequestUpdateExtent, err)
		}
		SetRequest(slot.info, r)
		if port == 0 {
			combined = r
			continue
		}
		if combined, err = combined.Union(r); err != nil {
			return NewExecutionError(n.name, RequestUpdateExtent, err)
		}
	}
	if len(n.outputs) == 0 {
		combined = WholeRequest()
		if seed, ok := t.seeds[n]; ok {
			combined = seed
		}
	}
	if !t.fixed[n] && !t.needToExecute(n, outputRequests(n)) {
		return nil
	}
	t.executing[n] = true

	inputs := n.inputVectors()
	for _, conns := range n.inputs {
		for _, c := range conns {
			SetRequest(c.info, inputRequest(c, combined))
		}
	}

	ctx, span := tracer.Start(t.ctx, "executive.RequestUpdateExtent",
		trace.WithAttributes(
			attribute.String("pipeline.node", n.name),
			attribute.String("pipeline.request", combined.String()),
		),
	)
	defer span.End()

	if err := e.ProcessRequest(ctx, t.request(n, RequestUpdateExtent), inputs, n.outputVector()); err != nil {
		return t.fail(ctx, span, n, RequestUpdateExtent, err)
	}
	for _, conns := range n.inputs {
		for _, c := range conns {
			r, _ := GetRequest(c.info)
			if err := r.Validate(); err != nil {
				return t.fail(ctx, span, n, RequestUpdateExtent, fmt.Errorf("request for %s: %w", c, err))
			}
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// demanded reports whether n is a root or feeds an executing consumer.
func (t *traversal) demanded(n *Node) bool {
	if t.roots[n] {
		return true
	}
	for _, slot := range n.outputs {
		for _, c := range slot.consumers {
			if t.in[c.To] && t.executing[c.To] {
				return true
			}
		}
	}
	return false
}

// outputRequest merges the requests of every in-traversal consumer of one
// output, plus the caller's request when n is a root. Consumers that stay
// current contribute the request they last made, so the merged request
// keeps covering the data they hold.
func (t *traversal) outputRequest(n *Node, port int, slot *outputSlot) (UpdateRequest, error) {
	if t.fixed[n] {
		r, _ := GetRequest(slot.info)
		return r, nil
	}

	var reqs []UpdateRequest
	if seed, ok := t.seeds[n]; ok {
		reqs = append(reqs, seed)
	}
	for _, c := range slot.consumers {
		if !t.in[c.To] {
			continue
		}
		if r, ok := GetRequest(c.info); ok {
			reqs = append(reqs, r)
		}
	}
	if len(reqs) == 0 {
		reqs = append(reqs, WholeRequest())
	}
	for i := range reqs {
		r, err := normalize(slot, reqs[i])
		if err != nil {
			return r, err
		}
		reqs[i] = r
	}

	var merged UpdateRequest
	if m, ok := n.alg.(RequestMerger); ok {
		var err error
		if merged, err = m.MergeRequests(port, reqs); err != nil {
			return merged, err
		}
	} else {
		merged = reqs[0]
		for _, r := range reqs[1:] {
			var err error
			if merged, err = merged.Union(r); err != nil {
				return merged, err
			}
		}
	}
	return t.verify(slot, merged)
}

// normalize expresses a request in the addressing scheme of the output:
// structured outputs get an extent, unstructured outputs drop it.
func normalize(slot *outputSlot, r UpdateRequest) (UpdateRequest, error) {
	r = r.normalized()
	if slot.data == nil || slot.data.Kind().ExtentType() != dataobject.Extent3D {
		r.Extent, r.HasExtent, r.Exact = extent.Extent{}, false, false
		return r, nil
	}
	if r.HasExtent {
		return r, nil
	}
	whole, ok := WholeExtent.Lookup(slot.info)
	if !ok {
		return r, nil
	}
	e, err := extent.PieceToExtent(whole, r.Piece, r.NumberOfPieces, r.GhostLevels, extent.SplitBlock)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	r.Extent, r.HasExtent = e, true
	return r, nil
}

// verify applies the extent policy against the advertised whole extent.
func (t *traversal) verify(slot *outputSlot, r UpdateRequest) (UpdateRequest, error) {
	if err := r.Validate(); err != nil {
		return r, err
	}
	if !r.HasExtent || r.Extent.IsEmpty() {
		return r, nil
	}
	whole, ok := WholeExtent.Lookup(slot.info)
	if !ok || UnrestrictedUpdateExtent.Value(slot.info) || whole.Contains(r.Extent) {
		return r, nil
	}
	if t.p.policy == ExtentPolicyClamp {
		r.Extent = r.Extent.Clamp(whole)
		return r, nil
	}
	return r, fmt.Errorf("%w: requested %s, whole %s", ErrExtentOutsideWhole, r.Extent, whole)
}

// inputRequest is the default request sent upstream on c: the node's own
// request, with the extent dropped for unstructured producers.
func inputRequest(c *Connection, combined UpdateRequest) UpdateRequest {
	r := combined
	r.Exact = false
	up := c.From.outputs[c.FromPort].data
	if up == nil || up.Kind().ExtentType() != dataobject.Extent3D {
		r.Extent, r.HasExtent = extent.Extent{}, false
	}
	return r
}

// --- Pass 3: RequestData, producers first ---

func (t *traversal) visitData(n *Node) error {
	e := n.exec
	if err := e.advance(StateDataRequested); err != nil {
		return NewExecutionError(n.name, RequestData, err)
	}
	reqs := outputRequests(n)

	if !t.executing[n] {
		t.result.Skipped = append(t.result.Skipped, n.name)
		if t.p.metrics.skips != nil {
			t.p.metrics.skips.Add(t.ctx, 1, metric.WithAttributes(attribute.String("node", n.name)))
		}
		t.record(n, RequestData, OutcomeSkipped, firstRequest(reqs), 0, nil)
		t.logger.Debug("node up to date", slog.String("node", n.name))
		t.release(n)
		return e.advance(StateIdle)
	}

	req, err := t.execute(n, reqs)
	if err != nil {
		return err
	}
	for iteration := 1; req != nil && req.ContinueExecuting; iteration++ {
		if iteration > t.p.maxContinue {
			e.invalidate()
			return NewExecutionError(n.name, RequestData,
				fmt.Errorf("%w: %d rounds", ErrContinueLimit, t.p.maxContinue))
		}
		sub := t.child(n, iteration)
		upstream := sub.order[:len(sub.order)-1]
		if err := sub.informationPass(upstream); err != nil {
			return err
		}
		if err := sub.updateExtentPass(sub.order); err != nil {
			return err
		}
		for _, m := range upstream {
			if err := sub.visitData(m); err != nil {
				return err
			}
		}
		if err := e.advance(StateDataRequested); err != nil {
			return NewExecutionError(n.name, RequestData, err)
		}
		if req, err = sub.execute(n, outputRequests(n)); err != nil {
			return err
		}
	}

	t.release(n)
	return e.advance(StateIdle)
}

func outputRequests(n *Node) []UpdateRequest {
	reqs := make([]UpdateRequest, len(n.outputs))
	for i, slot := range n.outputs {
		reqs[i], _ = GetRequest(slot.info)
	}
	return reqs
}

func firstRequest(reqs []UpdateRequest) UpdateRequest {
	if len(reqs) == 0 {
		return WholeRequest()
	}
	return reqs[0]
}

// needToExecute reports whether n must run RequestData.
//
// A node is current when its outputs were generated, nothing it or its
// upstream depends on changed since its last data time, every input
// connection still carries the data it consumed, and the requests equal
// the last ones served. Time is compared only for outputs that advertise
// time values.
func (t *traversal) needToExecute(n *Node, reqs []UpdateRequest) bool {
	e := n.exec
	if !e.generated {
		return true
	}
	if e.upstreamTime > e.dataTime {
		return true
	}
	for i, slot := range n.outputs {
		if slot.data == nil || !slot.hasLast {
			return true
		}
		if !reqs[i].Equal(slot.lastRequest, HasTime(slot.info)) {
			return true
		}
	}
	for _, conns := range n.inputs {
		for _, c := range conns {
			if !c.current() {
				return true
			}
		}
	}
	return false
}

// execute runs RequestData once and stamps the outputs.
func (t *traversal) execute(n *Node, reqs []UpdateRequest) (*Request, error) {
	e := n.exec
	first := firstRequest(reqs)

	ctx, span := tracer.Start(t.ctx, "executive.RequestData",
		trace.WithAttributes(
			attribute.String("pipeline.node", n.name),
			attribute.String("pipeline.request", first.String()),
			attribute.Int("pipeline.iteration", t.iteration),
		),
	)
	defer span.End()

	t.logger.Debug("node executing",
		slog.String("node", n.name),
		slog.String("request", first.String()),
		slog.Int("iteration", t.iteration),
	)

	// Outputs are reset before the run. A failed or aborted run leaves them
	// untrusted with the data time of the last complete run.
	inputs := n.inputVectors()
	outputs := n.outputVector()
	for _, slot := range n.outputs {
		slot.data.Initialize()
		slot.released = false
	}

	start := time.Now()
	outcome := OutcomeExecuted
	var req *Request
	if t.producesEmpty(n, reqs) {
		outcome = OutcomeEmpty
	} else {
		req = t.request(n, RequestData)
		err := e.ProcessRequest(ctx, req, inputs, outputs)
		aborted := req.Aborted() || errors.Is(err, ErrAborted)
		if a, ok := n.alg.(interface{ SetAbortExecute(bool) }); ok {
			a.SetAbortExecute(false)
		}
		switch {
		case aborted:
			e.invalidate()
			cause := ErrAborted
			if err != nil && !errors.Is(err, ErrAborted) {
				cause = fmt.Errorf("%w: %v", ErrAborted, err)
			}
			t.record(n, RequestData, OutcomeAborted, first, time.Since(start), cause)
			return nil, t.fail(ctx, span, n, RequestData, cause)
		case err != nil:
			e.invalidate()
			t.record(n, RequestData, OutcomeFailed, first, time.Since(start), err)
			return nil, t.fail(ctx, span, n, RequestData, err)
		}
	}
	duration := time.Since(start)

	t.finishOutputs(n, reqs)
	for _, conns := range n.inputs {
		for _, c := range conns {
			c.lastRequest, _ = GetRequest(c.info)
			c.usedMTime = c.From.outputs[c.FromPort].data.MTime()
			c.valid = true
		}
	}
	e.dataTime = dataobject.Now()
	e.generated = true

	if t.p.metrics.nodeLatency != nil {
		t.p.metrics.nodeLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("node", n.name)))
	}
	if t.p.metrics.executions != nil {
		t.p.metrics.executions.Add(ctx, 1, metric.WithAttributes(attribute.String("node", n.name)))
	}
	t.result.Executed = append(t.result.Executed, n.name)
	t.result.NodeDurations[n.name] += duration
	t.record(n, RequestData, outcome, first, duration, nil)
	span.SetStatus(codes.Ok, "")

	t.logger.Debug("node executed",
		slog.String("node", n.name),
		slog.String("outcome", string(outcome)),
		slog.Duration("duration", duration),
	)
	return req, nil
}

// producesEmpty reports whether every output request selects nothing the
// node can produce, so the algorithm need not run. That is the case for
// empty structured extents and for piece requests beyond what a source
// can split into.
func (t *traversal) producesEmpty(n *Node, reqs []UpdateRequest) bool {
	if len(n.outputs) == 0 {
		return false
	}
	source := !n.hasInputConnections()
	for i, slot := range n.outputs {
		r := reqs[i]
		if r.IsEmpty() {
			continue
		}
		if source && r.Piece > 0 {
			handles := CanHandlePieceRequest.Value(slot.info) || CanProduceSubExtent.Value(slot.info)
			maxPieces := MaximumNumberOfPieces.Value(slot.info)
			if !handles || (maxPieces >= 0 && r.Piece >= maxPieces) {
				continue
			}
		}
		return false
	}
	return true
}

// finishOutputs crops exact requests and stamps piece metadata.
func (t *traversal) finishOutputs(n *Node, reqs []UpdateRequest) {
	for i, slot := range n.outputs {
		d, r := slot.data, reqs[i]
		if d.Kind() == dataobject.KindImageData && r.Exact && r.HasExtent {
			d.Crop(r.Extent)
		}
		meta := d.Meta()
		meta.Piece, meta.NumberOfPieces, meta.GhostLevels = r.Piece, r.NumberOfPieces, r.GhostLevels
		if r.HasTimeStep && !meta.HasTimeStep {
			meta.HasTimeStep, meta.TimeStep = true, r.TimeStep
		}
		d.SetMeta(meta)
		d.Modified()
		DataObject.Set(slot.info, d)
		slot.lastRequest, slot.hasLast = r, true
	}
}

// release drops upstream outputs flagged for release once their last
// in-traversal consumer has run.
func (t *traversal) release(n *Node) {
	for _, conns := range n.inputs {
		for _, c := range conns {
			up := c.From
			left, tracked := t.pending[up]
			if !tracked {
				continue
			}
			left--
			t.pending[up] = left
			if left > 0 || !up.ReleaseData() || t.roots[up] {
				continue
			}
			for _, slot := range up.outputs {
				if slot.data == nil || slot.released {
					continue
				}
				slot.releasedMTime = slot.data.MTime()
				slot.released = true
				slot.data.Initialize()
			}
			up.exec.invalidate()
			t.logger.Debug("released node data", slog.String("node", up.name))
		}
	}
}
