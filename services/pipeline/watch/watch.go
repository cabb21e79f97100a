// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch re-runs a pipeline whenever its definition file changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/vizpipe/services/pipeline/config"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
)

var (
	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vizpipe_watch_reloads_total",
		Help: "Definition reloads by result (applied, rebuilt, invalid, failed)",
	}, []string{"result"})

	throttledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vizpipe_watch_throttled_total",
		Help: "Reloads delayed by the rate limiter",
	})
)

// Reload describes one reaction to a definition change.
type Reload struct {
	// Rebuilt is true when the structure changed and a new pipeline was built.
	Rebuilt bool

	// Changed lists nodes reconfigured in place.
	Changed []string

	// Result is the update that followed, if it ran.
	Result *executive.Result

	// Err is the load, build or update error.
	Err error
}

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period after the last event before reloading.
	// Default: 200ms
	Debounce time.Duration

	// MinInterval is the minimum spacing between reloads.
	// Default: 1s
	MinInterval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// PipelineOptions are passed to config.Build when the structure changes.
	PipelineOptions []executive.Option

	// OnReload is called after every reload from the watcher goroutine.
	OnReload func(Reload)
}

// Watcher reloads a definition file into a built pipeline.
//
// # Description
//
// Watches the directory holding the definition so editors that replace the
// file by rename are seen. Events for the file are debounced, the reload
// rate is bounded by a token bucket, and each reload either reconfigures
// the running pipeline in place (config.Built.Apply) or, when nodes or
// connections changed, builds a new one. An update follows every
// successful reload.
//
// # Thread Safety
//
// Run must be called once. Current is safe to call from other goroutines
// but the returned pipeline may be updating concurrently.
type Watcher struct {
	path     string
	reg      *registry.Registry
	fsw      *fsnotify.Watcher
	limiter  *rate.Limiter
	debounce time.Duration
	logger   *slog.Logger
	opts     []executive.Option
	onReload func(Reload)

	mu      sync.RWMutex
	current *config.Built

	closeOnce sync.Once
}

// New starts watching path. built is the pipeline already built from it.
//
// # Inputs
//
//   - path: The definition file.
//   - built: The pipeline currently built from path. Must not be nil.
//   - reg: Registry used when a rebuild is needed.
//   - opts: Watcher options.
//
// # Outputs
//
//   - *Watcher: Ready to Run. Events are captured from the moment New returns.
//   - error: Non-nil if the watch could not be established.
func New(path string, built *config.Built, reg *registry.Registry, opts Options) (*Watcher, error) {
	if built == nil || reg == nil {
		return nil, errors.New("watch: built pipeline and registry are required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		reg:      reg,
		fsw:      fsw,
		limiter:  rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		debounce: opts.Debounce,
		logger:   opts.Logger.With(slog.String("component", "watch"), slog.String("path", abs)),
		opts:     opts.PipelineOptions,
		onReload: opts.OnReload,
		current:  built,
	}, nil
}

// Current returns the pipeline built from the latest valid definition.
func (w *Watcher) Current() *config.Built {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching. Run returns once its context is done or the
// watcher is closed.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fsw.Close() })
	return err
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	w.logger.Info("watching definition")
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timerC:
			timerC = nil
			if !w.limiter.Allow() {
				throttledTotal.Inc()
				if err := w.limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			r := w.Reload(ctx)
			if w.onReload != nil {
				w.onReload(r)
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// Reload loads the definition and updates the pipeline once.
//
// An invalid definition leaves the current pipeline in place.
func (w *Watcher) Reload(ctx context.Context) Reload {
	def, err := config.Load(ctx, w.path)
	if err != nil {
		reloadsTotal.WithLabelValues("invalid").Inc()
		w.logger.Warn("definition rejected", slog.String("error", err.Error()))
		return Reload{Err: err}
	}

	var r Reload
	cur := w.Current()
	changed, err := cur.Apply(def)
	switch {
	case errors.Is(err, config.ErrStructureChanged):
		next, berr := config.Build(def, w.reg, w.opts...)
		if berr != nil {
			reloadsTotal.WithLabelValues("invalid").Inc()
			w.logger.Warn("rebuild failed", slog.String("error", berr.Error()))
			return Reload{Err: berr}
		}
		w.mu.Lock()
		w.current = next
		w.mu.Unlock()
		cur = next
		r.Rebuilt = true
		reloadsTotal.WithLabelValues("rebuilt").Inc()
	case err != nil:
		reloadsTotal.WithLabelValues("invalid").Inc()
		w.logger.Warn("reconfigure failed", slog.String("error", err.Error()))
		return Reload{Changed: changed, Err: err}
	default:
		r.Changed = changed
		reloadsTotal.WithLabelValues("applied").Inc()
	}

	result, err := cur.Update(ctx)
	r.Result = result
	if err != nil {
		reloadsTotal.WithLabelValues("failed").Inc()
		r.Err = err
		w.logger.Warn("update after reload failed", slog.String("error", err.Error()))
		return r
	}
	w.logger.Info("definition reloaded",
		slog.Bool("rebuilt", r.Rebuilt),
		slog.Any("changed", r.Changed),
		slog.Any("executed", result.Executed),
	)
	return r
}
