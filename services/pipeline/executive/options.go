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
	"log/slog"
	"time"
)

// DefaultMaxContinueIterations bounds the continue-executing loop.
const DefaultMaxContinueIterations = 1024

// ExtentPolicy decides what happens to requests outside the whole extent.
type ExtentPolicy int

const (
	// ExtentPolicyStrict fails the traversal with ErrExtentOutsideWhole.
	ExtentPolicyStrict ExtentPolicy = iota

	// ExtentPolicyClamp crops the request to the whole extent.
	ExtentPolicyClamp
)

// String returns the configuration name of the policy.
func (p ExtentPolicy) String() string {
	if p == ExtentPolicyClamp {
		return "clamp"
	}
	return "strict"
}

// Outcome is the result of one node visit in the data pass.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeAborted  Outcome = "aborted"
	OutcomeEmpty    Outcome = "empty"
)

// Event describes one node visit. It is handed to the Recorder.
type Event struct {
	SessionID string        `json:"session_id"`
	Sequence  int           `json:"sequence"`
	Node      string        `json:"node"`
	Request   string        `json:"request"`
	Outcome   Outcome       `json:"outcome"`
	Update    UpdateRequest `json:"update"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

// Recorder persists execution events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithExtentPolicy sets how out-of-range extent requests are handled.
func WithExtentPolicy(policy ExtentPolicy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

// WithRecorder attaches an execution journal.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithProgressObserver receives progress reports from all nodes.
func WithProgressObserver(fn ProgressObserver) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithMaxContinueIterations bounds the continue-executing loop.
func WithMaxContinueIterations(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxContinue = n
		}
	}
}
