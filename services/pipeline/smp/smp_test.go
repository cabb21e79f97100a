// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package smp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor_CoversRangeOnce(t *testing.T) {
	tests := []struct {
		name       string
		begin, end int
		grain      int
	}{
		{"single chunk", 0, 10, 100},
		{"exact chunks", 0, 100, 10},
		{"ragged tail", 3, 1000, 7},
		{"default grain", 0, 5000, 0},
		{"empty", 5, 5, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hits := make([]int32, tc.end)
			err := For(context.Background(), tc.begin, tc.end, tc.grain, func(_ context.Context, lo, hi int) error {
				for i := lo; i < hi; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
				return nil
			})
			require.NoError(t, err)
			for i := range hits {
				want := int32(0)
				if i >= tc.begin {
					want = 1
				}
				assert.Equal(t, want, hits[i], "index %d", i)
			}
		})
	}
}

func TestFor_FirstErrorWins(t *testing.T) {
	boom := errors.New("boom")
	err := For(context.Background(), 0, 100, 1, func(_ context.Context, lo, _ int) error {
		if lo == 42 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestFor_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	err := For(ctx, 0, 10, 1, func(context.Context, int, int) error {
		calls.Add(1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

func TestFor_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context on purpose
	err := For(nil, 0, 10, 1, func(context.Context, int, int) error { return nil })
	assert.ErrorIs(t, err, ErrNilContext)
}
