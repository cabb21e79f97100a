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

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
)

// Target pairs an update root with the request for its outputs.
type Target struct {
	Node    *Node
	Request UpdateRequest
}

// Result summarizes one update traversal.
type Result struct {
	// SessionID identifies the traversal in logs, spans and the journal.
	SessionID string `json:"session_id"`

	// Success is false when any node failed or aborted.
	Success bool `json:"success"`

	// Duration is the wall time of the whole traversal.
	Duration time.Duration `json:"duration_ns"`

	// Executed lists nodes whose RequestData ran, in execution order.
	Executed []string `json:"executed"`

	// Skipped lists nodes whose outputs were already current.
	Skipped []string `json:"skipped"`

	// NodeDurations is the time each executed node spent in RequestData.
	NodeDurations map[string]time.Duration `json:"node_durations_ns"`

	// FailedNode names the node that stopped the traversal, if any.
	FailedNode string `json:"failed_node,omitempty"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`
}

type passes int

const (
	passInformation passes = iota
	passAll
)

// Update brings the outputs of roots up to date for request.
//
// Description:
//
//	Runs RequestInformation over the upstream subgraph of roots in
//	topological order, then RequestUpdateExtent in reverse order, merging
//	the requests of all consumers of each output, then RequestData in
//	topological order, skipping nodes whose outputs are current. The
//	first failing node stops the traversal; nothing downstream of it runs.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil. Cancellation aborts
//	      the running node at its next safe point.
//	roots - Nodes whose outputs must be brought up to date.
//	request - The request applied to every output of every root.
//
// Outputs:
//
//	*Result - Execution summary. Non-nil whenever the traversal started.
//	error - ErrReentrantUpdate, ErrNoRoots, or an *ExecutionError naming
//	        the failed node.
//
// Thread Safety:
//
//	Serialized with graph edits. Concurrent or reentrant calls return
//	ErrReentrantUpdate.
func (p *Pipeline) Update(ctx context.Context, roots []*Node, request UpdateRequest) (*Result, error) {
	targets := make([]Target, len(roots))
	for i, n := range roots {
		targets[i] = Target{Node: n, Request: request}
	}
	return p.run(ctx, passAll, staticTargets(targets))
}

// UpdateTargets is Update with a separate request per root. Requests for
// outputs shared between roots are merged with the union policy.
func (p *Pipeline) UpdateTargets(ctx context.Context, targets []Target) (*Result, error) {
	return p.run(ctx, passAll, staticTargets(targets))
}

// UpdateInformation runs only the information pass for roots. Afterwards
// every output Information in the subgraph holds current capabilities.
func (p *Pipeline) UpdateInformation(ctx context.Context, roots []*Node) (*Result, error) {
	targets := make([]Target, len(roots))
	for i, n := range roots {
		targets[i] = Target{Node: n, Request: WholeRequest()}
	}
	return p.run(ctx, passInformation, staticTargets(targets))
}

func staticTargets(targets []Target) func() ([]Target, error) {
	return func() ([]Target, error) { return targets, nil }
}

// run owns the pipeline for one traversal. targetsFn is called only after
// ownership is taken, so it may commit per-node state.
func (p *Pipeline) run(ctx context.Context, which passes, targetsFn func() ([]Target, error)) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if !p.updating.CompareAndSwap(false, true) {
		return nil, ErrReentrantUpdate
	}
	defer p.updating.Store(false)

	p.mu.RLock()
	defer p.mu.RUnlock()

	targets, err := targetsFn()
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrNoRoots
	}
	for _, tg := range targets {
		if err := tg.Request.Validate(); err != nil {
			return nil, err
		}
	}

	rootNames := make([]string, len(targets))
	for i, tg := range targets {
		if err := p.checkMember(tg.Node); err != nil {
			return nil, err
		}
		rootNames[i] = tg.Node.name
	}

	p.metrics.init(p.logger)

	ctx, span := tracer.Start(ctx, "executive.Update",
		trace.WithAttributes(
			attribute.StringSlice("pipeline.roots", rootNames),
			attribute.Bool("pipeline.data", which == passAll),
		),
	)
	defer span.End()

	start := time.Now()
	sessionID := uuid.NewString()[:12]
	result := &Result{
		SessionID:     sessionID,
		NodeDurations: make(map[string]time.Duration),
	}

	t, err := newTraversal(ctx, p, sessionID, targets, result)
	if err == nil {
		p.logger.Info("pipeline update started",
			slog.String("session_id", sessionID),
			slog.Any("roots", rootNames),
			slog.Int("nodes", len(t.order)),
		)
		err = t.run(which == passAll)
		if err != nil {
			for _, n := range t.order {
				n.exec.reset()
			}
		}
	}

	result.Duration = time.Since(start)
	if p.metrics.updateLatency != nil {
		p.metrics.updateLatency.Record(ctx, result.Duration.Seconds(),
			metric.WithAttributes(attribute.Bool("success", err == nil)),
		)
	}

	if err != nil {
		result.Error = err.Error()
		var ee *ExecutionError
		if errors.As(err, &ee) {
			result.FailedNode = ee.NodeName
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("pipeline update failed",
			slog.String("session_id", sessionID),
			slog.String("failed_node", result.FailedNode),
			slog.String("error", err.Error()),
		)
		return result, err
	}

	result.Success = true
	span.SetStatus(codes.Ok, "")
	p.logger.Info("pipeline update completed",
		slog.String("session_id", sessionID),
		slog.Duration("duration", result.Duration),
		slog.Int("executed", len(result.Executed)),
		slog.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// Update brings this node's outputs up to date for its current request.
//
// The current request is the whole dataset until one of UpdatePiece,
// UpdateExtent or UpdateTimeStep replaces it; later calls to Update reuse it.
func (n *Node) Update(ctx context.Context) (*Result, error) {
	return n.updateWith(ctx, func(r UpdateRequest) UpdateRequest { return r })
}

// updateWith derives the next request from the current one and runs the
// update. The request is committed only once this call owns the pipeline,
// so a call rejected with ErrReentrantUpdate leaves it untouched.
func (n *Node) updateWith(ctx context.Context, derive func(UpdateRequest) UpdateRequest) (*Result, error) {
	p := n.pipeline
	return p.run(ctx, passAll, func() ([]Target, error) {
		if err := p.checkMember(n); err != nil {
			return nil, err
		}
		n.requestMu.Lock()
		defer n.requestMu.Unlock()
		r := derive(n.request)
		if err := r.Validate(); err != nil {
			return nil, err
		}
		n.request = r
		return []Target{{Node: n, Request: r}}, nil
	})
}

// UpdateInformation publishes capabilities through this node without
// producing data.
func (n *Node) UpdateInformation(ctx context.Context) (*Result, error) {
	return n.pipeline.UpdateInformation(ctx, []*Node{n})
}

// UpdatePiece requests one piece of numPieces with ghost layers.
func (n *Node) UpdatePiece(ctx context.Context, piece, numPieces, ghostLevels int) (*Result, error) {
	next := PieceRequest(piece, numPieces, ghostLevels)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return n.updateWith(ctx, func(cur UpdateRequest) UpdateRequest {
		return keepTime(next, cur)
	})
}

// UpdateExtent requests a structured sub-extent.
func (n *Node) UpdateExtent(ctx context.Context, e extent.Extent) (*Result, error) {
	next := ExtentRequest(e)
	return n.updateWith(ctx, func(cur UpdateRequest) UpdateRequest {
		return keepTime(next, cur)
	})
}

// UpdateTimeStep requests data for time t, keeping the spatial request.
func (n *Node) UpdateTimeStep(ctx context.Context, t float64) (*Result, error) {
	return n.updateWith(ctx, func(cur UpdateRequest) UpdateRequest {
		return cur.WithTimeStep(t)
	})
}

// UpdateWholeExtent requests the whole dataset, keeping the time request.
func (n *Node) UpdateWholeExtent(ctx context.Context) (*Result, error) {
	return n.updateWith(ctx, func(cur UpdateRequest) UpdateRequest {
		return keepTime(WholeRequest(), cur)
	})
}

// SetRequest replaces the request reused by Update without running it.
func (n *Node) SetRequest(r UpdateRequest) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("node %s: %w", n.name, err)
	}
	n.requestMu.Lock()
	defer n.requestMu.Unlock()
	n.request = r.normalized()
	return nil
}

func keepTime(next, cur UpdateRequest) UpdateRequest {
	next.TimeStep, next.HasTimeStep = cur.TimeStep, cur.HasTimeStep
	return next
}
