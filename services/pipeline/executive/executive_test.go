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
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
)

// =============================================================================
// Test algorithms
// =============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(opts ...Option) *Pipeline {
	return NewPipeline(append([]Option{WithLogger(quietLogger())}, opts...)...)
}

// imageSource publishes whole and produces the requested extent. The last
// request seen by RequestData is stored in *seen when seen is non-nil.
func imageSource(whole extent.Extent, seen *UpdateRequest) *FuncAlgorithm {
	return &FuncAlgorithm{
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindImageData, SameAsInput: NoSameAsInput}},
		Information: func(_ context.Context, _ *Request, _ []InfoVector, out InfoVector) error {
			WholeExtent.Set(out[0], whole)
			CanProduceSubExtent.Set(out[0], true)
			return nil
		},
		Data: func(_ context.Context, _ *Request, _ []InfoVector, out InfoVector) error {
			r, _ := GetRequest(out[0])
			if seen != nil {
				*seen = r
			}
			d := OutputData(out, 0)
			d.SetExtent(r.Extent)
			d.PointData().AddArray(dataobject.NewArray("v", 1, r.Extent.NumberOfPoints()))
			return nil
		},
	}
}

// polySource produces a table-like poly data object with one array.
func polySource(pieces bool) *FuncAlgorithm {
	return &FuncAlgorithm{
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindPolyData, SameAsInput: NoSameAsInput}},
		Information: func(_ context.Context, _ *Request, _ []InfoVector, out InfoVector) error {
			if pieces {
				CanHandlePieceRequest.Set(out[0], true)
			}
			return nil
		},
		Data: func(_ context.Context, _ *Request, _ []InfoVector, out InfoVector) error {
			OutputData(out, 0).PointData().AddArray(dataobject.NewArray("p", 3, 4))
			return nil
		},
	}
}

// passThrough shallow-copies its input.
func passThrough() *FuncAlgorithm {
	return &FuncAlgorithm{
		Inputs:  []InputPort{{Name: "in"}},
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindAny, SameAsInput: 0}},
		Data: func(_ context.Context, _ *Request, in []InfoVector, out InfoVector) error {
			return OutputData(out, 0).ShallowCopy(InputData(in, 0, 0))
		},
	}
}

// ghostFilter asks its input for one extra layer and writes its own request.
func ghostFilter(seenInput *extent.Extent) *FuncAlgorithm {
	return &FuncAlgorithm{
		Inputs:  []InputPort{{Name: "in", Accepts: []dataobject.Kind{dataobject.KindImageData}}},
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindImageData, SameAsInput: NoSameAsInput}},
		UpdateExtents: func(_ context.Context, _ *Request, in []InfoVector, _ InfoVector) error {
			r, _ := GetRequest(in[0][0])
			SetUpdateExtent(in[0][0], r.Extent.Grow(1).Clamp(WholeExtent.Value(in[0][0])))
			return nil
		},
		Data: func(_ context.Context, _ *Request, in []InfoVector, out InfoVector) error {
			if seenInput != nil {
				*seenInput = InputData(in, 0, 0).Extent()
			}
			r, _ := GetRequest(out[0])
			OutputData(out, 0).SetExtent(r.Extent)
			return nil
		},
	}
}

// voi restricts its output to a fixed extent and requests only that.
func voi(e extent.Extent) *FuncAlgorithm {
	return &FuncAlgorithm{
		Inputs:  []InputPort{{Name: "in", Accepts: []dataobject.Kind{dataobject.KindImageData}}},
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindImageData, SameAsInput: NoSameAsInput}},
		Information: func(_ context.Context, _ *Request, in []InfoVector, out InfoVector) error {
			WholeExtent.Set(out[0], e.Intersect(WholeExtent.Value(in[0][0])))
			return nil
		},
		UpdateExtents: func(_ context.Context, _ *Request, in []InfoVector, out InfoVector) error {
			r, _ := GetRequest(out[0])
			SetUpdateExtent(in[0][0], r.Extent)
			return nil
		},
		Data: func(_ context.Context, _ *Request, in []InfoVector, out InfoVector) error {
			d := OutputData(out, 0)
			d.SetExtent(InputData(in, 0, 0).Extent().Intersect(e))
			return nil
		},
	}
}

// sink records the input it received.
type sink struct {
	BaseAlgorithm
	repeatable bool
	extents    []extent.Extent
	metas      []dataobject.Meta
}

func (s *sink) InputPorts() []InputPort {
	return []InputPort{{Name: "in", Repeatable: s.repeatable}}
}

func (s *sink) OutputPorts() []OutputPort { return nil }

func (s *sink) RequestData(_ context.Context, _ *Request, in []InfoVector, _ InfoVector) error {
	s.extents, s.metas = nil, nil
	for j := range in[0] {
		d := InputData(in, 0, j)
		s.extents = append(s.extents, d.Extent())
		s.metas = append(s.metas, d.Meta())
	}
	return nil
}

func mustAdd(t *testing.T, p *Pipeline, name string, alg Algorithm) *Node {
	t.Helper()
	n, err := p.AddNode(name, alg)
	require.NoError(t, err)
	return n
}

func mustConnect(t *testing.T, p *Pipeline, from, to *Node) {
	t.Helper()
	_, err := p.Connect(from, 0, to, 0)
	require.NoError(t, err)
}

func chain(t *testing.T, p *Pipeline, nodes ...*Node) {
	t.Helper()
	for i := 1; i < len(nodes); i++ {
		mustConnect(t, p, nodes[i-1], nodes[i])
	}
}

// =============================================================================
// Scenarios
// =============================================================================

func TestUpdate_SourceFilterSink(t *testing.T) {
	p := newTestPipeline()
	whole := extent.New(0, 9, 0, 0, 0, 0)
	a := mustAdd(t, p, "A", imageSource(whole, nil))
	b := mustAdd(t, p, "B", passThrough())
	s := &sink{}
	c := mustAdd(t, p, "C", s)
	chain(t, p, a, b, c)

	result, err := c.Update(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"A", "B", "C"}, result.Executed)
	assert.Equal(t, int64(1), a.Count(RequestData))
	assert.Equal(t, int64(1), b.Count(RequestData))
	require.Len(t, s.extents, 1)
	assert.Equal(t, whole, s.extents[0])

	result, err = c.Update(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Executed)
	assert.Equal(t, []string{"A", "B", "C"}, result.Skipped)
	assert.Equal(t, int64(1), a.Count(RequestData))
	assert.Equal(t, int64(1), b.Count(RequestData))
	assert.Equal(t, int64(1), c.Count(RequestData))
	assert.Equal(t, int64(1), a.Count(RequestInformation), "information is not republished when nothing changed")
}

func TestUpdate_ModifiedSourceReexecutesDownstream(t *testing.T) {
	p := newTestPipeline()
	src := imageSource(extent.New(0, 4, 0, 4, 0, 0), nil)
	a := mustAdd(t, p, "A", src)
	b := mustAdd(t, p, "B", passThrough())
	c := mustAdd(t, p, "C", &sink{})
	chain(t, p, a, b, c)

	_, err := c.Update(context.Background())
	require.NoError(t, err)

	src.Modified()
	result, err := c.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, result.Executed)
	assert.Equal(t, int64(2), b.Count(RequestData))
}

func TestUpdate_ModifiedFilterLeavesUpstreamAlone(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", imageSource(extent.New(0, 4, 0, 4, 0, 0), nil))
	filter := passThrough()
	b := mustAdd(t, p, "B", filter)
	c := mustAdd(t, p, "C", &sink{})
	chain(t, p, a, b, c)

	_, err := c.Update(context.Background())
	require.NoError(t, err)

	filter.Modified()
	result, err := c.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, result.Executed)
	assert.Equal(t, []string{"A"}, result.Skipped)
}

func TestUpdate_GhostLayerRequest(t *testing.T) {
	p := newTestPipeline()
	var seen UpdateRequest
	var filterInput extent.Extent
	a := mustAdd(t, p, "A", imageSource(extent.New(0, 20, 0, 0, 0, 0), &seen))
	b := mustAdd(t, p, "B", ghostFilter(&filterInput))
	c := mustAdd(t, p, "C", &sink{})
	chain(t, p, a, b, c)

	_, err := c.UpdateExtent(context.Background(), extent.New(2, 8, 0, 0, 0, 0))
	require.NoError(t, err)

	require.True(t, seen.HasExtent)
	assert.True(t, seen.Extent.Contains(extent.New(1, 9, 0, 0, 0, 0)), "got %s", seen.Extent)
	assert.Equal(t, extent.New(1, 9, 0, 0, 0, 0), filterInput)
	assert.Equal(t, extent.New(2, 8, 0, 0, 0, 0), b.Output(0).Extent())
}

func TestUpdate_UnionOfConsumerRequests(t *testing.T) {
	p := newTestPipeline()
	var seen UpdateRequest
	a := mustAdd(t, p, "A", imageSource(extent.New(0, 30, 0, 0, 0, 0), &seen))
	b1 := mustAdd(t, p, "B1", voi(extent.New(0, 10, 0, 0, 0, 0)))
	b2 := mustAdd(t, p, "B2", voi(extent.New(5, 20, 0, 0, 0, 0)))
	s := &sink{repeatable: true}
	d := mustAdd(t, p, "D", s)
	mustConnect(t, p, a, b1)
	mustConnect(t, p, a, b2)
	mustConnect(t, p, b1, d)
	mustConnect(t, p, b2, d)

	_, err := d.Update(context.Background())
	require.NoError(t, err)

	assert.True(t, seen.Extent.Contains(extent.New(0, 20, 0, 0, 0, 0)), "got %s", seen.Extent)
	assert.Equal(t, int64(1), a.Count(RequestData), "shared upstream executes once")
	assert.Equal(t, []extent.Extent{
		extent.New(0, 10, 0, 0, 0, 0),
		extent.New(5, 20, 0, 0, 0, 0),
	}, s.extents)
}

func TestUpdateTargets_UnionAcrossRoots(t *testing.T) {
	p := newTestPipeline()
	var seen UpdateRequest
	a := mustAdd(t, p, "A", imageSource(extent.New(0, 30, 0, 0, 0, 0), &seen))
	b1 := mustAdd(t, p, "B1", passThrough())
	b2 := mustAdd(t, p, "B2", passThrough())
	mustConnect(t, p, a, b1)
	mustConnect(t, p, a, b2)

	_, err := p.UpdateTargets(context.Background(), []Target{
		{Node: b1, Request: ExtentRequest(extent.New(0, 10, 0, 0, 0, 0))},
		{Node: b2, Request: ExtentRequest(extent.New(5, 20, 0, 0, 0, 0))},
	})
	require.NoError(t, err)
	assert.Equal(t, extent.New(0, 20, 0, 0, 0, 0), seen.Extent)
	assert.Equal(t, int64(1), a.Count(RequestData))
}

func TestUpdate_FailureStopsDownstream(t *testing.T) {
	p := newTestPipeline()
	boom := errors.New("boom")
	failing := true
	filter := &FuncAlgorithm{
		Inputs:  []InputPort{{Name: "in"}},
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindAny, SameAsInput: 0}},
		Data: func(_ context.Context, _ *Request, in []InfoVector, out InfoVector) error {
			if failing {
				return boom
			}
			return OutputData(out, 0).ShallowCopy(InputData(in, 0, 0))
		},
	}
	a := mustAdd(t, p, "A", imageSource(extent.New(0, 3, 0, 3, 0, 0), nil))
	b := mustAdd(t, p, "B", filter)
	c := mustAdd(t, p, "C", passThrough())
	d := mustAdd(t, p, "D", &sink{})
	chain(t, p, a, b, c, d)

	result, err := d.Update(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	var ee *ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "B", ee.NodeName)
	assert.Equal(t, RequestData, ee.Request)
	assert.False(t, result.Success)
	assert.Equal(t, "B", result.FailedNode)
	assert.Equal(t, int64(0), c.Count(RequestData))
	assert.Equal(t, int64(0), d.Count(RequestData))
	for _, n := range p.Nodes() {
		assert.Equal(t, StateIdle, n.Executive().State(), n.Name())
	}

	failing = false
	filter.Modified()
	result, err = d.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "D"}, result.Executed)
	assert.Equal(t, int64(1), a.Count(RequestData))
}

func TestUpdateInformation_RoundTripThroughIdentityFilters(t *testing.T) {
	p := newTestPipeline()
	whole := extent.New(0, 99, 0, 99, 0, 0)
	src := mustAdd(t, p, "src", imageSource(whole, nil))
	nodes := []*Node{src}
	for _, name := range []string{"f1", "f2", "f3", "f4", "f5"} {
		nodes = append(nodes, mustAdd(t, p, name, passThrough()))
	}
	last := mustAdd(t, p, "sink", &sink{})
	chain(t, p, append(nodes, last)...)

	_, err := last.UpdateInformation(context.Background())
	require.NoError(t, err)

	got, err := WholeExtent.Get(last.Inputs(0)[0].Info())
	require.NoError(t, err)
	assert.Equal(t, whole, got)
	for _, n := range nodes {
		assert.Equal(t, int64(0), n.Count(RequestData), n.Name())
		assert.Equal(t, whole, WholeExtent.Value(n.OutputInformation(0)), n.Name())
	}
}

func TestUpdate_MetadataStampedOnOutput(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", imageSource(extent.New(0, 9, 0, 9, 0, 0), nil))
	b := mustAdd(t, p, "B", passThrough())
	chain(t, p, a, b)

	_, err := b.UpdatePiece(context.Background(), 1, 2, 0)
	require.NoError(t, err)

	meta := b.Output(0).Meta()
	assert.Equal(t, 1, meta.Piece)
	assert.Equal(t, 2, meta.NumberOfPieces)
	want, err := extent.PieceToExtent(extent.New(0, 9, 0, 9, 0, 0), 1, 2, 0, extent.SplitBlock)
	require.NoError(t, err)
	assert.Equal(t, want, b.Output(0).Extent())
}

// =============================================================================
// Request parameters
// =============================================================================

func TestUpdate_ChangedRequestReexecutes(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", imageSource(extent.New(0, 9, 0, 0, 0, 0), nil))
	b := mustAdd(t, p, "B", passThrough())
	chain(t, p, a, b)

	_, err := b.UpdateExtent(context.Background(), extent.New(0, 4, 0, 0, 0, 0))
	require.NoError(t, err)
	_, err = b.UpdateExtent(context.Background(), extent.New(0, 4, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Count(RequestData))

	_, err = b.UpdateExtent(context.Background(), extent.New(5, 9, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.Count(RequestData))
}

func TestUpdate_TimeComparedOnlyWhenAdvertised(t *testing.T) {
	tests := []struct {
		name      string
		advertise bool
		wantRuns  int64
	}{
		{"time advertised", true, 2},
		{"no time capability", false, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPipeline()
			src := polySource(false)
			info := src.Information
			src.Information = func(ctx context.Context, r *Request, in []InfoVector, out InfoVector) error {
				if tc.advertise {
					TimeSteps.Set(out[0], []float64{0, 1, 2})
					TimeRange.Set(out[0], []float64{0, 2})
				}
				return info(ctx, r, in, out)
			}
			a := mustAdd(t, p, "A", src)

			_, err := a.UpdateTimeStep(context.Background(), 1)
			require.NoError(t, err)
			_, err = a.UpdateTimeStep(context.Background(), 1)
			require.NoError(t, err)
			_, err = a.UpdateTimeStep(context.Background(), 2)
			require.NoError(t, err)

			assert.Equal(t, tc.wantRuns, a.Count(RequestData))
			meta := a.Output(0).Meta()
			assert.True(t, meta.HasTimeStep)
			if tc.advertise {
				assert.Equal(t, 2.0, meta.TimeStep)
			}
		})
	}
}

func TestUpdate_SourcePieceRule(t *testing.T) {
	t.Run("source without piece support", func(t *testing.T) {
		p := newTestPipeline()
		a := mustAdd(t, p, "A", polySource(false))

		_, err := a.UpdatePiece(context.Background(), 1, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), a.Count(RequestData))
		assert.True(t, a.Output(0).IsEmpty())
		assert.Equal(t, 1, a.Output(0).Meta().Piece)

		_, err = a.UpdatePiece(context.Background(), 0, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), a.Count(RequestData))
	})

	t.Run("source with piece support", func(t *testing.T) {
		p := newTestPipeline()
		a := mustAdd(t, p, "A", polySource(true))

		_, err := a.UpdatePiece(context.Background(), 1, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), a.Count(RequestData))
		assert.False(t, a.Output(0).IsEmpty())
	})
}

func TestUpdate_ExactExtentCrops(t *testing.T) {
	p := newTestPipeline()
	whole := extent.New(0, 9, 0, 0, 0, 0)
	src := &FuncAlgorithm{
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindImageData, SameAsInput: NoSameAsInput}},
		Information: func(_ context.Context, _ *Request, _ []InfoVector, out InfoVector) error {
			WholeExtent.Set(out[0], whole)
			return nil
		},
		Data: func(_ context.Context, _ *Request, _ []InfoVector, out InfoVector) error {
			d := OutputData(out, 0)
			d.SetExtent(whole)
			d.PointData().AddArray(dataobject.NewArray("v", 1, whole.NumberOfPoints()))
			return nil
		},
	}
	a := mustAdd(t, p, "A", src)

	r := ExtentRequest(extent.New(2, 5, 0, 0, 0, 0))
	r.Exact = true
	_, err := p.Update(context.Background(), []*Node{a}, r)
	require.NoError(t, err)
	assert.Equal(t, extent.New(2, 5, 0, 0, 0, 0), a.Output(0).Extent())
	arr, ok := a.Output(0).PointData().Array("v")
	require.True(t, ok)
	assert.Equal(t, 4, arr.NumberOfTuples())
}

func TestUpdate_ExtentOutsideWhole(t *testing.T) {
	whole := extent.New(0, 9, 0, 0, 0, 0)
	request := extent.New(0, 50, 0, 0, 0, 0)

	t.Run("strict", func(t *testing.T) {
		p := newTestPipeline()
		a := mustAdd(t, p, "A", imageSource(whole, nil))
		_, err := a.UpdateExtent(context.Background(), request)
		assert.True(t, errors.Is(err, ErrExtentOutsideWhole))
		assert.Equal(t, int64(0), a.Count(RequestData))
	})

	t.Run("clamp", func(t *testing.T) {
		p := newTestPipeline(WithExtentPolicy(ExtentPolicyClamp))
		var seen UpdateRequest
		a := mustAdd(t, p, "A", imageSource(whole, &seen))
		_, err := a.UpdateExtent(context.Background(), request)
		require.NoError(t, err)
		assert.Equal(t, whole, seen.Extent)
	})
}

func TestUpdate_EmptyExtentSkipsAlgorithm(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", imageSource(extent.New(0, 9, 0, 0, 0, 0), nil))
	_, err := a.UpdateExtent(context.Background(), extent.Empty)
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.Count(RequestData))
	assert.True(t, a.Executive().Generated())
}

// =============================================================================
// Cancellation, reentrancy, streaming
// =============================================================================

func TestUpdate_AbortDoesNotAdvanceDataTime(t *testing.T) {
	p := newTestPipeline()
	abortOnce := true
	src := &FuncAlgorithm{
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindTable, SameAsInput: NoSameAsInput}},
	}
	src.Data = func(_ context.Context, req *Request, _ []InfoVector, _ InfoVector) error {
		if abortOnce {
			abortOnce = false
			src.SetAbortExecute(true)
			require.True(t, req.Aborted())
		}
		return nil
	}
	a := mustAdd(t, p, "A", src)

	_, err := a.Update(context.Background())
	require.True(t, errors.Is(err, ErrAborted))
	assert.False(t, a.Executive().Generated())
	assert.Equal(t, uint64(0), a.Executive().DataTime())
	assert.False(t, src.AbortExecute(), "abort flag is cleared after the run")

	_, err = a.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.Count(RequestData))
}

func TestUpdate_AbortedProducerIsRebuiltForItsConsumers(t *testing.T) {
	p := newTestPipeline()
	src := imageSource(extent.New(0, 9, 0, 0, 0, 0), nil)
	produce := src.Data
	abortNext := false
	src.Data = func(ctx context.Context, req *Request, in []InfoVector, out InfoVector) error {
		if abortNext {
			abortNext = false
			src.SetAbortExecute(true)
			return nil
		}
		return produce(ctx, req, in, out)
	}
	a := mustAdd(t, p, "A", src)
	b := mustAdd(t, p, "B", passThrough())
	c := mustAdd(t, p, "C", &sink{})
	chain(t, p, a, b, c)

	_, err := c.Update(context.Background())
	require.NoError(t, err)
	before := a.Executive().DataTime()

	abortNext = true
	_, err = a.UpdateExtent(context.Background(), extent.New(0, 4, 0, 0, 0, 0))
	require.True(t, errors.Is(err, ErrAborted))
	assert.Equal(t, before, a.Executive().DataTime(), "an aborted run does not advance the data time")
	assert.False(t, a.Executive().Generated())

	result, err := c.Update(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Executed, "B still holds data from the last complete run")

	result, err = b.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, result.Executed, "B does not trust the aborted output")
	assert.Greater(t, a.Executive().DataTime(), before)

	result, err = c.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, result.Executed)
}

func TestUpdate_ConcurrentCallLeavesRequestUntouched(t *testing.T) {
	p := newTestPipeline()
	started := make(chan struct{})
	unblock := make(chan struct{})
	src := polySource(true)
	produce := src.Data
	src.Data = func(ctx context.Context, req *Request, in []InfoVector, out InfoVector) error {
		close(started)
		<-unblock
		return produce(ctx, req, in, out)
	}
	a := mustAdd(t, p, "A", src)
	c := mustAdd(t, p, "C", passThrough())
	chain(t, p, a, c)

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := c.UpdatePiece(context.Background(), 0, 2, 0)
		done <- outcome{r, err}
	}()

	<-started
	_, err := c.UpdatePiece(context.Background(), 1, 2, 0)
	assert.True(t, errors.Is(err, ErrReentrantUpdate))
	assert.Equal(t, 0, c.LastRequest().Piece, "a rejected update does not overwrite the standing request")

	close(unblock)
	got := <-done
	require.NoError(t, got.err)
	assert.True(t, got.result.Success)
	assert.Equal(t, 0, c.Output(0).Meta().Piece)
	assert.Equal(t, 0, c.LastRequest().Piece)
}

func TestUpdate_CanceledContextAborts(t *testing.T) {
	p := newTestPipeline()
	ctx, cancel := context.WithCancel(context.Background())
	src := &FuncAlgorithm{
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindTable, SameAsInput: NoSameAsInput}},
		Data: func(_ context.Context, _ *Request, _ []InfoVector, _ InfoVector) error {
			cancel()
			return nil
		},
	}
	a := mustAdd(t, p, "A", src)
	b := mustAdd(t, p, "B", passThrough())
	chain(t, p, a, b)

	_, err := b.Update(ctx)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.Equal(t, int64(0), b.Count(RequestData))
}

func TestUpdate_Reentrant(t *testing.T) {
	p := newTestPipeline()
	var inner error
	var self *Node
	src := &FuncAlgorithm{
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindTable, SameAsInput: NoSameAsInput}},
		Data: func(ctx context.Context, _ *Request, _ []InfoVector, _ InfoVector) error {
			_, inner = self.Update(ctx)
			return nil
		},
	}
	self = mustAdd(t, p, "A", src)

	_, err := self.Update(context.Background())
	require.NoError(t, err)
	assert.True(t, errors.Is(inner, ErrReentrantUpdate))

	_, err = p.AddNode("late", passThrough())
	require.NoError(t, err, "graph edits work again once the update returns")
}

// pieceStreamer pulls numPieces pieces from its input, one per round, and
// appends the piece it received to *seen when seen is non-nil.
func pieceStreamer(numPieces int, seen *[]int) *FuncAlgorithm {
	return &FuncAlgorithm{
		Inputs: []InputPort{{Name: "in"}},
		UpdateExtents: func(_ context.Context, req *Request, in []InfoVector, _ InfoVector) error {
			SetRequest(in[0][0], PieceRequest(req.Iteration, numPieces, 0))
			return nil
		},
		Data: func(_ context.Context, req *Request, in []InfoVector, _ InfoVector) error {
			if seen != nil {
				*seen = append(*seen, InputData(in, 0, 0).Meta().Piece)
			}
			req.ContinueExecuting = req.Iteration < numPieces-1
			return nil
		},
	}
}

func TestUpdate_ContinueExecutingStreamsPieces(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", polySource(true))

	var pieces []int
	s := mustAdd(t, p, "S", pieceStreamer(4, &pieces))
	chain(t, p, a, s)

	_, err := s.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, pieces)
	assert.Equal(t, int64(4), a.Count(RequestData))
	assert.Equal(t, int64(4), s.Count(RequestData))
	assert.Equal(t, StateIdle, s.Executive().State())

	result, err := s.Update(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Executed)
	assert.Equal(t, int64(4), a.Count(RequestData))
	assert.Equal(t, int64(4), s.Count(RequestData))
}

func TestUpdate_ContinueExecutingLimit(t *testing.T) {
	p := newTestPipeline(WithMaxContinueIterations(3))
	forever := &FuncAlgorithm{
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindTable, SameAsInput: NoSameAsInput}},
		Data: func(_ context.Context, req *Request, _ []InfoVector, _ InfoVector) error {
			req.ContinueExecuting = true
			return nil
		},
	}
	a := mustAdd(t, p, "A", forever)
	_, err := a.Update(context.Background())
	assert.True(t, errors.Is(err, ErrContinueLimit))
	assert.Equal(t, int64(4), a.Count(RequestData))
}

func TestUpdate_ReleaseData(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", imageSource(extent.New(0, 3, 0, 3, 0, 0), nil))
	filter := passThrough()
	b := mustAdd(t, p, "B", filter)
	c := mustAdd(t, p, "C", &sink{})
	chain(t, p, a, b, c)
	a.SetReleaseData(true)

	_, err := c.Update(context.Background())
	require.NoError(t, err)
	assert.True(t, a.Output(0).IsEmpty(), "released after its consumer ran")
	assert.False(t, b.Output(0).IsEmpty())

	result, err := c.Update(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Executed, "a current consumer does not pull released data back")
	for _, n := range []*Node{a, b, c} {
		assert.Equal(t, int64(1), n.Count(RequestData), n.Name())
	}

	filter.Modified()
	result, err = c.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, result.Executed, "released data is regenerated on demand")
}

// TestUpdate_UnchangedPipelineSkipsEverything runs each topology twice with
// nothing modified in between and expects the second pass to execute nothing.
func TestUpdate_UnchangedPipelineSkipsEverything(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T, p *Pipeline) []*Node
	}{
		{
			name: "released producer",
			build: func(t *testing.T, p *Pipeline) []*Node {
				a := mustAdd(t, p, "A", imageSource(extent.New(0, 3, 0, 0, 0, 0), nil))
				b := mustAdd(t, p, "B", passThrough())
				c := mustAdd(t, p, "C", &sink{})
				chain(t, p, a, b, c)
				a.SetReleaseData(true)
				b.SetReleaseData(true)
				return []*Node{c}
			},
		},
		{
			name: "streaming consumer",
			build: func(t *testing.T, p *Pipeline) []*Node {
				a := mustAdd(t, p, "A", polySource(true))
				s := mustAdd(t, p, "S", pieceStreamer(4, nil))
				chain(t, p, a, s)
				return []*Node{s}
			},
		},
		{
			name: "fan-out roots",
			build: func(t *testing.T, p *Pipeline) []*Node {
				a := mustAdd(t, p, "A", imageSource(extent.New(0, 9, 0, 0, 0, 0), nil))
				b1 := mustAdd(t, p, "B1", passThrough())
				b2 := mustAdd(t, p, "B2", passThrough())
				mustConnect(t, p, a, b1)
				mustConnect(t, p, a, b2)
				return []*Node{b1, b2}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPipeline()
			roots := tc.build(t, p)

			first, err := p.Update(context.Background(), roots, WholeRequest())
			require.NoError(t, err)
			require.NotEmpty(t, first.Executed)
			counts := map[string]int64{}
			for _, n := range p.Nodes() {
				counts[n.Name()] = n.Count(RequestData)
			}

			second, err := p.Update(context.Background(), roots, WholeRequest())
			require.NoError(t, err)
			assert.Empty(t, second.Executed)
			assert.Len(t, second.Skipped, len(p.Nodes()))
			for _, n := range p.Nodes() {
				assert.Equal(t, counts[n.Name()], n.Count(RequestData), n.Name())
			}
		})
	}
}

func TestUpdate_ModifiedSiblingLeavesSharedProducerAlone(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", imageSource(extent.New(0, 9, 0, 0, 0, 0), nil))
	b1 := mustAdd(t, p, "B1", passThrough())
	f2 := passThrough()
	b2 := mustAdd(t, p, "B2", f2)
	mustConnect(t, p, a, b1)
	mustConnect(t, p, a, b2)
	roots := []*Node{b1, b2}

	_, err := p.Update(context.Background(), roots, WholeRequest())
	require.NoError(t, err)

	f2.Modified()
	result, err := p.Update(context.Background(), roots, WholeRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"B2"}, result.Executed)
	assert.ElementsMatch(t, []string{"A", "B1"}, result.Skipped)
	assert.Equal(t, int64(1), a.Count(RequestData))
	assert.Equal(t, int64(1), b1.Count(RequestData))

	result, err = p.Update(context.Background(), roots, WholeRequest())
	require.NoError(t, err)
	assert.Empty(t, result.Executed)
}

func TestUpdate_ProgressAndRecorder(t *testing.T) {
	var mu sync.Mutex
	progress := map[string]float64{}
	rec := &memRecorder{}
	p := newTestPipeline(
		WithRecorder(rec),
		WithProgressObserver(func(node string, f float64) {
			mu.Lock()
			defer mu.Unlock()
			progress[node] = f
		}),
	)
	src := &FuncAlgorithm{
		Outputs: []OutputPort{{Name: "out", Produces: dataobject.KindTable, SameAsInput: NoSameAsInput}},
		Data: func(_ context.Context, req *Request, _ []InfoVector, _ InfoVector) error {
			req.UpdateProgress(0.5)
			req.UpdateProgress(2)
			return nil
		},
	}
	a := mustAdd(t, p, "A", src)

	r1, err := a.Update(context.Background())
	require.NoError(t, err)
	_, err = a.Update(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, progress["A"])
	assert.Equal(t, 1.0, a.Progress())
	require.Len(t, rec.events, 2)
	assert.Equal(t, OutcomeExecuted, rec.events[0].Outcome)
	assert.Equal(t, r1.SessionID, rec.events[0].SessionID)
	assert.Equal(t, OutcomeSkipped, rec.events[1].Outcome)
}

type memRecorder struct {
	events []Event
}

func (m *memRecorder) Record(_ context.Context, ev Event) error {
	m.events = append(m.events, ev)
	return nil
}

// =============================================================================
// Graph construction
// =============================================================================

func TestConnect_IncompatibleType(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", polySource(false))
	b := mustAdd(t, p, "B", ghostFilter(nil))

	_, err := p.Connect(a, 0, b, 0)
	assert.True(t, errors.Is(err, ErrIncompatibleType))
	assert.Empty(t, b.Inputs(0))
	assert.Empty(t, a.Consumers(0))
}

func TestConnect_SameAsInputResolvesStatically(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", polySource(false))
	b := mustAdd(t, p, "B", passThrough())
	c := mustAdd(t, p, "C", ghostFilter(nil))
	mustConnect(t, p, a, b)

	_, err := p.Connect(b, 0, c, 0)
	assert.True(t, errors.Is(err, ErrIncompatibleType))
}

func TestConnect_Cycle(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", passThrough())
	b := mustAdd(t, p, "B", passThrough())
	mustConnect(t, p, a, b)

	_, err := p.Connect(b, 0, a, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycle))
	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"A", "B", "A"}, ce.Path)

	_, err = p.Connect(a, 0, a, 0)
	assert.True(t, errors.Is(err, ErrCycle))
}

func TestConnect_PortChecks(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", polySource(false))
	a2 := mustAdd(t, p, "A2", polySource(false))
	b := mustAdd(t, p, "B", passThrough())

	_, err := p.Connect(a, 1, b, 0)
	assert.True(t, errors.Is(err, ErrInvalidPort))
	_, err = p.Connect(a, 0, b, 3)
	assert.True(t, errors.Is(err, ErrInvalidPort))

	mustConnect(t, p, a, b)
	_, err = p.Connect(a2, 0, b, 0)
	assert.True(t, errors.Is(err, ErrPortOccupied))

	require.NoError(t, p.Disconnect(a, 0, b, 0))
	assert.True(t, errors.Is(p.Disconnect(a, 0, b, 0), ErrNotConnected))
	mustConnect(t, p, a2, b)

	other := newTestPipeline()
	foreign := mustAdd(t, other, "F", passThrough())
	assert.True(t, errors.Is(p.Disconnect(a2, 0, nil, 0), ErrNodeNotFound))
	assert.True(t, errors.Is(p.Disconnect(nil, 0, b, 0), ErrNodeNotFound))
	assert.True(t, errors.Is(p.Disconnect(a2, 0, foreign, 0), ErrNodeNotFound))
	assert.Len(t, b.Inputs(0), 1, "failed disconnects leave the graph unchanged")
}

func TestPipeline_AddAndRemoveNodes(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", polySource(false))
	b := mustAdd(t, p, "B", passThrough())
	mustConnect(t, p, a, b)

	_, err := p.AddNode("A", passThrough())
	assert.True(t, errors.Is(err, ErrDuplicateNode))
	_, err = p.AddNode("x", nil)
	assert.True(t, errors.Is(err, ErrNilAlgorithm))
	_, err = p.AddNode("", passThrough())
	assert.True(t, errors.Is(err, ErrInvalidName))

	require.NoError(t, p.RemoveNode("A"))
	assert.Empty(t, b.Inputs(0))
	_, ok := p.Node("A")
	assert.False(t, ok)
	assert.True(t, errors.Is(p.RemoveNode("A"), ErrNodeNotFound))
	assert.Len(t, p.Nodes(), 1)
}

func TestUpdate_MissingRequiredInput(t *testing.T) {
	p := newTestPipeline()
	b := mustAdd(t, p, "B", passThrough())
	_, err := b.Update(context.Background())
	assert.True(t, errors.Is(err, ErrMissingInput))
	assert.Equal(t, StateIdle, b.Executive().State())
}

func TestUpdate_ReconnectReexecutes(t *testing.T) {
	p := newTestPipeline()
	a1 := mustAdd(t, p, "A1", imageSource(extent.New(0, 3, 0, 0, 0, 0), nil))
	a2 := mustAdd(t, p, "A2", imageSource(extent.New(0, 5, 0, 0, 0, 0), nil))
	s := &sink{}
	c := mustAdd(t, p, "C", s)
	mustConnect(t, p, a1, c)

	_, err := c.Update(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Disconnect(a1, 0, c, 0))
	mustConnect(t, p, a2, c)

	_, err = c.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, extent.New(0, 5, 0, 0, 0, 0), s.extents[0])
}

// =============================================================================
// Executive and requests
// =============================================================================

func TestExecutive_ProcessRequestRequiresState(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", polySource(false))

	err := a.Executive().ProcessRequest(context.Background(), &Request{Type: RequestData}, nil, a.outputVector())
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, int64(0), a.Count(RequestData))

	assert.True(t, errors.Is(a.Executive().advance(StateDataRequested), ErrInvalidState))
	require.NoError(t, a.Executive().advance(StateInformationRequested))
	require.NoError(t, a.Executive().advance(StateUpdateExtentRequested))
	require.NoError(t, a.Executive().advance(StateDataRequested))
	require.NoError(t, a.Executive().advance(StateIdle))
}

func TestUpdateRequest_Union(t *testing.T) {
	a := ExtentRequest(extent.New(0, 10, 0, 0, 0, 0))
	b := ExtentRequest(extent.New(5, 20, 0, 0, 0, 0))
	u, err := a.Union(b)
	require.NoError(t, err)
	assert.Equal(t, extent.New(0, 20, 0, 0, 0, 0), u.Extent)

	u, err = PieceRequest(0, 4, 1).Union(PieceRequest(1, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, u.Piece)
	assert.Equal(t, 1, u.NumberOfPieces, "different pieces collapse to the whole")
	assert.Equal(t, 2, u.GhostLevels)

	u, err = PieceRequest(2, 4, 0).Union(PieceRequest(2, 4, 0).WithTimeStep(3))
	require.NoError(t, err)
	assert.Equal(t, 2, u.Piece)
	assert.True(t, u.HasTimeStep)

	_, err = WholeRequest().WithTimeStep(1).Union(WholeRequest().WithTimeStep(2))
	assert.True(t, errors.Is(err, ErrRequestConflict))
}

func TestUpdateRequest_ValidateAndEqual(t *testing.T) {
	assert.Error(t, PieceRequest(2, 2, 0).Validate())
	assert.Error(t, PieceRequest(0, 1, -1).Validate())
	assert.NoError(t, UpdateRequest{}.Validate())

	a := WholeRequest().WithTimeStep(1)
	b := WholeRequest().WithTimeStep(2)
	assert.False(t, a.Equal(b, true))
	assert.True(t, a.Equal(b, false))
	assert.True(t, UpdateRequest{}.Equal(WholeRequest(), true))
}

func TestUpdate_RequestMergerOverride(t *testing.T) {
	p := newTestPipeline()
	var seen UpdateRequest
	src := &intersectingSource{FuncAlgorithm: imageSource(extent.New(0, 30, 0, 0, 0, 0), &seen)}
	a := mustAdd(t, p, "A", src)
	b1 := mustAdd(t, p, "B1", passThrough())
	b2 := mustAdd(t, p, "B2", passThrough())
	mustConnect(t, p, a, b1)
	mustConnect(t, p, a, b2)

	_, err := p.UpdateTargets(context.Background(), []Target{
		{Node: b1, Request: ExtentRequest(extent.New(0, 10, 0, 0, 0, 0))},
		{Node: b2, Request: ExtentRequest(extent.New(5, 20, 0, 0, 0, 0))},
	})
	require.NoError(t, err)
	assert.Equal(t, extent.New(5, 10, 0, 0, 0, 0), seen.Extent)
}

// intersectingSource overrides the union policy with an intersection.
type intersectingSource struct {
	*FuncAlgorithm
}

func (s *intersectingSource) MergeRequests(_ int, reqs []UpdateRequest) (UpdateRequest, error) {
	out := reqs[0]
	for _, r := range reqs[1:] {
		out.Extent = out.Extent.Intersect(r.Extent)
	}
	return out, nil
}

func TestUpdate_InvalidArguments(t *testing.T) {
	p := newTestPipeline()
	a := mustAdd(t, p, "A", polySource(false))

	//nolint:staticcheck // nil context on purpose
	_, err := p.Update(nil, []*Node{a}, WholeRequest())
	assert.True(t, errors.Is(err, ErrNilContext))
	_, err = p.Update(context.Background(), nil, WholeRequest())
	assert.True(t, errors.Is(err, ErrNoRoots))
	_, err = a.UpdatePiece(context.Background(), 3, 2, 0)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	other := newTestPipeline()
	_, err = other.Update(context.Background(), []*Node{a}, WholeRequest())
	assert.True(t, errors.Is(err, ErrNodeNotFound))
}
