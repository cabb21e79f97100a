// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataobject

import "sync/atomic"

// clock is the process-wide logical clock behind every TimeStamp.
var clock atomic.Uint64

// TimeStamp records the logical time of the last modification.
//
// Every call to Modified takes a fresh tick of the shared clock, so a stamp
// is strictly greater than any stamp taken before it, on any object.
// The zero value means "never modified".
type TimeStamp struct {
	value uint64
}

// Modified advances the stamp to a new tick.
func (ts *TimeStamp) Modified() {
	ts.value = clock.Add(1)
}

// Get returns the stamp value.
func (ts *TimeStamp) Get() uint64 {
	return ts.value
}

// Now returns the latest tick handed out by the clock.
func Now() uint64 {
	return clock.Load()
}
