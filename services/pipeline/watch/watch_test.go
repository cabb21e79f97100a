// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vizpipe/services/pipeline/algorithms"
	"github.com/AleutianAI/vizpipe/services/pipeline/config"
	"github.com/AleutianAI/vizpipe/services/pipeline/registry"
)

const basePipeline = `
name: watched
nodes:
  - name: source
    type: image_source
    params:
      whole_extent: [0, 9, 0, 9, 0, 0]
  - name: sink
    type: collector
connections:
  - {from: source, to: sink}
`

type fixture struct {
	path  string
	reg   *registry.Registry
	built *config.Built
}

func setup(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	require.NoError(t, algorithms.RegisterBuiltins(reg))
	reg.Freeze()

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(basePipeline), 0o600))
	def, err := config.Load(context.Background(), path)
	require.NoError(t, err)
	built, err := config.Build(def, reg)
	require.NoError(t, err)
	_, err = built.Update(context.Background())
	require.NoError(t, err)
	return &fixture{path: path, reg: reg, built: built}
}

func (f *fixture) write(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.path, []byte(content), 0o600))
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNew_RequiresPipeline(t *testing.T) {
	_, err := New("x.yaml", nil, registry.New(), Options{})
	assert.Error(t, err)
}

func TestReload_ParamsAppliedInPlace(t *testing.T) {
	f := setup(t)
	w, err := New(f.path, f.built, f.reg, Options{Logger: quiet()})
	require.NoError(t, err)
	defer w.Close()

	f.write(t, strings.Replace(basePipeline, "whole_extent: [0, 9, 0, 9, 0, 0]", "whole_extent: [0, 4, 0, 4, 0, 0]", 1))
	r := w.Reload(context.Background())
	require.NoError(t, r.Err)
	assert.False(t, r.Rebuilt)
	assert.Equal(t, []string{"source"}, r.Changed)
	assert.Same(t, f.built, w.Current())
	assert.Equal(t, []string{"source", "sink"}, r.Result.Executed)
}

func TestReload_UnchangedSkips(t *testing.T) {
	f := setup(t)
	w, err := New(f.path, f.built, f.reg, Options{Logger: quiet()})
	require.NoError(t, err)
	defer w.Close()

	r := w.Reload(context.Background())
	require.NoError(t, r.Err)
	assert.Empty(t, r.Changed)
	assert.Empty(t, r.Result.Executed)
}

func TestReload_StructureChangeRebuilds(t *testing.T) {
	f := setup(t)
	w, err := New(f.path, f.built, f.reg, Options{Logger: quiet()})
	require.NoError(t, err)
	defer w.Close()

	f.write(t, `
name: watched
nodes:
  - name: source
    type: image_source
  - name: half
    type: shrink
  - name: sink
    type: collector
connections:
  - {from: source, to: half}
  - {from: half, to: sink}
`)
	r := w.Reload(context.Background())
	require.NoError(t, r.Err)
	assert.True(t, r.Rebuilt)
	assert.NotSame(t, f.built, w.Current())
	_, ok := w.Current().Pipeline.Node("half")
	assert.True(t, ok)
	assert.Equal(t, []string{"source", "half", "sink"}, r.Result.Executed)
}

func TestReload_InvalidKeepsCurrent(t *testing.T) {
	f := setup(t)
	w, err := New(f.path, f.built, f.reg, Options{Logger: quiet()})
	require.NoError(t, err)
	defer w.Close()

	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "nodes: ["},
		{"unknown type", strings.Replace(basePipeline, "type: collector", "type: nope", 1)},
		{"bad params", strings.Replace(basePipeline, "[0, 9, 0, 9, 0, 0]", "[9, 0, 0, 9, 0, 0]", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.write(t, tt.content)
			r := w.Reload(context.Background())
			assert.Error(t, r.Err)
			assert.Nil(t, r.Result)
			assert.Same(t, f.built, w.Current())
		})
	}
}

func TestRun_ReloadsOnWrite(t *testing.T) {
	f := setup(t)
	reloads := make(chan Reload, 4)
	w, err := New(f.path, f.built, f.reg, Options{
		Debounce:    20 * time.Millisecond,
		MinInterval: time.Millisecond,
		Logger:      quiet(),
		OnReload:    func(r Reload) { reloads <- r },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	f.write(t, strings.Replace(basePipeline, "whole_extent: [0, 9, 0, 9, 0, 0]", "whole_extent: [0, 2, 0, 2, 0, 0]", 1))

	select {
	case r := <-reloads:
		require.NoError(t, r.Err)
		assert.Equal(t, []string{"source"}, r.Changed)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRelevant_IgnoresOtherFiles(t *testing.T) {
	f := setup(t)
	w, err := New(f.path, f.built, f.reg, Options{Logger: quiet()})
	require.NoError(t, err)
	defer w.Close()

	other := filepath.Join(filepath.Dir(w.path), "other.yaml")
	assert.False(t, w.relevant(fsnotify.Event{Name: other, Op: fsnotify.Write}))
	assert.True(t, w.relevant(fsnotify.Event{Name: w.path, Op: fsnotify.Write}))
	assert.True(t, w.relevant(fsnotify.Event{Name: w.path, Op: fsnotify.Create}))
	assert.False(t, w.relevant(fsnotify.Event{Name: w.path, Op: fsnotify.Chmod}))
}
