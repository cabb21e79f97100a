// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package smp provides the data-parallel loop used by algorithms that
// process independent index ranges, such as per-point filters.
package smp

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ErrNilContext is returned when a nil context is passed.
var ErrNilContext = errors.New("context must not be nil")

// DefaultGrain is the chunk size used when the caller passes grain <= 0.
const DefaultGrain = 1024

// For runs fn over [begin, end) in chunks of at most grain indices.
//
// Description:
//
//	Chunks run concurrently on at most GOMAXPROCS goroutines. fn receives
//	a half-open sub-range and must only touch state owned by that range.
//	The first error cancels the context passed to the remaining chunks
//	and is returned once all started chunks finish.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	begin, end - The half-open index range. Empty ranges return nil.
//	grain - Maximum chunk length. Values <= 0 use DefaultGrain.
//	fn - Called once per chunk.
//
// Outputs:
//
//	error - The first error returned by fn, or ctx.Err() if ctx was done
//	        before all chunks were scheduled.
//
// Thread Safety:
//
//	fn is called concurrently from multiple goroutines.
func For(ctx context.Context, begin, end, grain int, fn func(ctx context.Context, lo, hi int) error) error {
	if ctx == nil {
		return ErrNilContext
	}
	if end <= begin {
		return nil
	}
	if grain <= 0 {
		grain = DefaultGrain
	}

	// Single chunk: run inline.
	if end-begin <= grain {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx, begin, end)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := begin; lo < end; lo += grain {
		if gCtx.Err() != nil {
			break
		}
		hi := min(lo+grain, end)
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			return fn(gCtx, lo, hi)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Workers returns the number of goroutines For uses at most.
func Workers() int {
	return runtime.GOMAXPROCS(0)
}
