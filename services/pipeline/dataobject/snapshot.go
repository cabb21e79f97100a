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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/mod/semver"
)

// validSnapshotName restricts snapshot labels to alphanumerics, underscore and hyphen.
var validSnapshotName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// SnapshotVersion is the current snapshot format version (semver).
// Snapshots with the same major version can be loaded.
const SnapshotVersion = "v1.1.0"

// snapshotObject is the JSON form of a DataObject.
type snapshotObject struct {
	Kind      string            `json:"kind"`
	Origin    [3]float64        `json:"origin"`
	Spacing   [3]float64        `json:"spacing"`
	Meta      Meta              `json:"meta"`
	PointData []*Array          `json:"point_data,omitempty"`
	CellData  []*Array          `json:"cell_data,omitempty"`
	FieldData []*Array          `json:"field_data,omitempty"`
	Blocks    []*snapshotObject `json:"blocks,omitempty"`
}

func toSnapshotObject(d *DataObject) *snapshotObject {
	if d == nil {
		return nil
	}
	so := &snapshotObject{
		Kind:      d.kind.String(),
		Origin:    d.origin,
		Spacing:   d.spacing,
		Meta:      d.meta,
		PointData: d.pointData.Arrays(),
		CellData:  d.cellData.Arrays(),
		FieldData: d.fieldData.Arrays(),
	}
	for _, b := range d.blocks {
		so.Blocks = append(so.Blocks, toSnapshotObject(b))
	}
	return so
}

func (so *snapshotObject) toDataObject() (*DataObject, error) {
	if so == nil {
		return nil, nil
	}
	kind, err := ParseKind(so.Kind)
	if err != nil {
		return nil, err
	}
	d, err := New(kind)
	if err != nil {
		return nil, err
	}
	d.origin, d.spacing, d.meta = so.Origin, so.Spacing, so.Meta
	for _, a := range so.PointData {
		d.pointData.AddArray(a)
	}
	for _, a := range so.CellData {
		d.cellData.AddArray(a)
	}
	for _, a := range so.FieldData {
		d.fieldData.AddArray(a)
	}
	for _, b := range so.Blocks {
		child, err := b.toDataObject()
		if err != nil {
			return nil, err
		}
		d.blocks = append(d.blocks, child)
	}
	d.mtime.Modified()
	return d, nil
}

// serializableSnapshot is the on-disk format for snapshots.
type serializableSnapshot struct {
	Object    *snapshotObject `json:"object"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Checksum  string          `json:"checksum"`
	Name      string          `json:"name"`
}

// Snapshot is a loaded, verified snapshot.
type Snapshot struct {
	// Object is the restored data object, freshly stamped.
	Object *DataObject

	// Name is the label the snapshot was saved under.
	Name string

	// Timestamp is when the snapshot was written (Unix milliseconds UTC).
	Timestamp int64

	// Version is the format version the snapshot was written with.
	Version string
}

func computeChecksum(obj *snapshotObject, name, version string, timestamp time.Time) (string, error) {
	data := struct {
		Object    *snapshotObject `json:"object"`
		Timestamp time.Time       `json:"timestamp"`
		Version   string          `json:"version"`
		Name      string          `json:"name"`
	}{obj, timestamp, version, name}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

// SaveSnapshot writes a data object to path.
//
// Description:
//
//	Serializes the object, its arrays and blocks as checksummed JSON.
//	Writes atomically using temp file + rename so a crash never leaves a
//	truncated snapshot behind.
//
// Inputs:
//
//	d - The object to save. Must not be nil.
//	name - Label stored with the snapshot. Must match [a-zA-Z0-9_-]+.
//	path - Destination file. Parent directory must exist.
//
// Outputs:
//
//	error - Non-nil if validation, serialization or the write fails.
func SaveSnapshot(d *DataObject, name, path string) error {
	if d == nil {
		return fmt.Errorf("%w: data object must not be nil", ErrInvalidInput)
	}
	if !validSnapshotName.MatchString(name) {
		return fmt.Errorf("%w: name must match pattern [a-zA-Z0-9_-]+, got %q", ErrInvalidInput, name)
	}
	if path == "" {
		return fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}

	obj := toSnapshotObject(d)
	timestamp := time.Now().UTC()
	checksum, err := computeChecksum(obj, name, SnapshotVersion, timestamp)
	if err != nil {
		return fmt.Errorf("compute checksum: %w", err)
	}

	data, err := json.MarshalIndent(&serializableSnapshot{
		Object:    obj,
		Timestamp: timestamp,
		Version:   SnapshotVersion,
		Checksum:  checksum,
		Name:      name,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	success = true
	return nil
}

// LoadSnapshot reads and verifies a snapshot written by SaveSnapshot.
//
// Description:
//
//	Rejects snapshots whose major version differs from SnapshotVersion
//	and snapshots whose checksum does not match their content.
//
// Inputs:
//
//	path - File to read.
//
// Outputs:
//
//	*Snapshot - The restored snapshot. Never nil on success.
//	error - ErrSnapshotVersion, ErrSnapshotCorrupt, or a read/parse error.
func LoadSnapshot(path string) (*Snapshot, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var ss serializableSnapshot
	if err := json.Unmarshal(data, &ss); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	if !semver.IsValid(ss.Version) || semver.Major(ss.Version) != semver.Major(SnapshotVersion) {
		return nil, fmt.Errorf("%w: got %q, want %s.x", ErrSnapshotVersion, ss.Version, semver.Major(SnapshotVersion))
	}

	expected, err := computeChecksum(ss.Object, ss.Name, ss.Version, ss.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("compute checksum for verification: %w", err)
	}
	if ss.Checksum != expected {
		return nil, ErrSnapshotCorrupt
	}

	obj, err := ss.Object.toDataObject()
	if err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: snapshot has no object", ErrSnapshotCorrupt)
	}

	return &Snapshot{
		Object:    obj,
		Name:      ss.Name,
		Timestamp: ss.Timestamp.UnixMilli(),
		Version:   ss.Version,
	}, nil
}
