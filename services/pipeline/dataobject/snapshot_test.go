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

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
)

func sampleImage() *DataObject {
	d := MustNew(KindImageData)
	d.SetExtent(extent.New(0, 1, 0, 1, 0, 0))
	d.SetGeometry([3]float64{1, 2, 3}, [3]float64{0.5, 0.5, 1})
	d.PointData().AddArray(&Array{Name: "v", Components: 1, Values: []float64{1, 2, 3, 4}})
	d.FieldData().AddArray(&Array{Name: "time", Components: 1, Values: []float64{0.25}})
	d.SetMeta(Meta{Extent: d.Extent(), Piece: 0, NumberOfPieces: 1, HasTimeStep: true, TimeStep: 0.25})
	return d
}

func TestSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	src := sampleImage()

	if err := SaveSnapshot(src, "image-1", path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if snap.Name != "image-1" {
		t.Errorf("name = %q, want image-1", snap.Name)
	}
	got := snap.Object
	if got.Kind() != KindImageData {
		t.Fatalf("kind = %s, want image_data", got.Kind())
	}
	if got.Meta() != src.Meta() {
		t.Errorf("meta = %+v, want %+v", got.Meta(), src.Meta())
	}
	if got.Origin() != src.Origin() || got.Spacing() != src.Spacing() {
		t.Errorf("geometry mismatch")
	}
	v, ok := got.PointData().Array("v")
	if !ok || len(v.Values) != 4 || v.Values[3] != 4 {
		t.Errorf("point array not restored: %+v", v)
	}
	if got.MTime() <= src.MTime() {
		t.Errorf("restored object should carry a fresh stamp")
	}
}

func TestSnapshot_CompositeBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "composite.json")
	c := MustNew(KindComposite)
	if err := c.AppendBlock(sampleImage()); err != nil {
		t.Fatal(err)
	}
	if err := c.AppendBlock(MustNew(KindTable)); err != nil {
		t.Fatal(err)
	}

	if err := SaveSnapshot(c, "composite", path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if n := snap.Object.NumberOfBlocks(); n != 2 {
		t.Fatalf("blocks = %d, want 2", n)
	}
	if snap.Object.Block(1).Kind() != KindTable {
		t.Errorf("block 1 kind = %s", snap.Object.Block(1).Kind())
	}
}

func TestSaveSnapshot_InvalidInput(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		obj  *DataObject
		lbl  string
		path string
	}{
		{"nil object", nil, "ok", filepath.Join(dir, "a.json")},
		{"bad name", sampleImage(), "bad name!", filepath.Join(dir, "b.json")},
		{"empty path", sampleImage(), "ok", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := SaveSnapshot(tc.obj, tc.lbl, tc.path)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestLoadSnapshot_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	if err := SaveSnapshot(sampleImage(), "image", path); err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	raw["name"] = "tampered"
	data, _ = json.Marshal(raw)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadSnapshot(path)
	if !errors.Is(err, ErrSnapshotCorrupt) {
		t.Errorf("expected ErrSnapshotCorrupt, got %v", err)
	}
}

func TestLoadSnapshot_VersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	if err := SaveSnapshot(sampleImage(), "image", path); err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	raw["version"] = "v2.0.0"
	data, _ = json.Marshal(raw)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadSnapshot(path)
	if !errors.Is(err, ErrSnapshotVersion) {
		t.Errorf("expected ErrSnapshotVersion, got %v", err)
	}
}

func TestSaveSnapshot_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	if err := SaveSnapshot(sampleImage(), "image", filepath.Join(dir, "snap.json")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the snapshot file, found %d entries", len(entries))
	}
}
