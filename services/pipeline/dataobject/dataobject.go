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
	"fmt"

	"github.com/AleutianAI/vizpipe/services/pipeline/extent"
)

// Meta records which part of a dataset an object holds.
//
// The executive stamps it after each successful data pass so later passes
// can compare the request against what was produced.
type Meta struct {
	// Extent is the structured extent of the data (image data only).
	Extent extent.Extent `json:"extent"`

	// Piece is the piece number held by the object.
	Piece int `json:"piece"`

	// NumberOfPieces is the piece count the object was split against.
	NumberOfPieces int `json:"number_of_pieces"`

	// GhostLevels is the number of ghost layers included.
	GhostLevels int `json:"ghost_levels"`

	// HasTimeStep reports whether TimeStep is meaningful.
	HasTimeStep bool `json:"has_time_step"`

	// TimeStep is the time value the data was produced for.
	TimeStep float64 `json:"time_step"`
}

// DefaultMeta is the metadata of a freshly initialized object.
func DefaultMeta() Meta {
	return Meta{Extent: extent.Empty, Piece: -1, NumberOfPieces: 0}
}

// DataObject is a node in the pipeline's data model.
//
// A DataObject carries three attribute collections, optional structured
// geometry (for image data), piece metadata, and for composite objects a list
// of child blocks. Its MTime is the maximum of its own stamp, its attribute
// stamps and, for composites, its blocks' MTimes.
//
// DataObject is not safe for concurrent mutation.
type DataObject struct {
	kind      Kind
	mtime     TimeStamp
	pointData *Attributes
	cellData  *Attributes
	fieldData *Attributes
	origin    [3]float64
	spacing   [3]float64
	meta      Meta
	blocks    []*DataObject
}

// New creates an empty DataObject of the given kind.
//
// Description:
//
//	Allocates empty attribute collections and stamps the object so its
//	MTime is strictly greater than anything created before it.
//
// Inputs:
//
//	kind - A concrete kind. KindAny is rejected.
//
// Outputs:
//
//	*DataObject - The new object.
//	error - ErrInvalidInput if kind is not concrete.
func New(kind Kind) (*DataObject, error) {
	if !kind.IsConcrete() {
		return nil, fmt.Errorf("%w: cannot instantiate %s", ErrInvalidInput, kind)
	}
	d := &DataObject{
		kind:      kind,
		pointData: NewAttributes(),
		cellData:  NewAttributes(),
		fieldData: NewAttributes(),
		spacing:   [3]float64{1, 1, 1},
		meta:      DefaultMeta(),
	}
	d.mtime.Modified()
	return d, nil
}

// MustNew is New for kinds known to be concrete. It panics otherwise.
func MustNew(kind Kind) *DataObject {
	d, err := New(kind)
	if err != nil {
		panic(err)
	}
	return d
}

// Kind returns the concrete variant.
func (d *DataObject) Kind() Kind {
	return d.kind
}

// MTime returns the latest modification time of the object and its parts.
func (d *DataObject) MTime() uint64 {
	m := d.mtime.Get()
	for _, at := range []*Attributes{d.pointData, d.cellData, d.fieldData} {
		if t := at.MTime(); t > m {
			m = t
		}
	}
	for _, b := range d.blocks {
		if b == nil {
			continue
		}
		if t := b.MTime(); t > m {
			m = t
		}
	}
	return m
}

// Modified marks the object as changed.
func (d *DataObject) Modified() {
	d.mtime.Modified()
}

// PointData returns the per-point attributes.
func (d *DataObject) PointData() *Attributes { return d.pointData }

// CellData returns the per-cell attributes.
func (d *DataObject) CellData() *Attributes { return d.cellData }

// FieldData returns the whole-object attributes.
func (d *DataObject) FieldData() *Attributes { return d.fieldData }

// Meta returns the piece metadata.
func (d *DataObject) Meta() Meta {
	return d.meta
}

// SetMeta replaces the piece metadata. It does not change the MTime.
func (d *DataObject) SetMeta(m Meta) {
	d.meta = m
}

// Extent returns the structured extent. Empty for non-image kinds.
func (d *DataObject) Extent() extent.Extent {
	return d.meta.Extent
}

// SetExtent sets the structured extent of image data.
func (d *DataObject) SetExtent(e extent.Extent) {
	if d.meta.Extent == e {
		return
	}
	d.meta.Extent = e
	d.mtime.Modified()
}

// Origin returns the world position of point (0,0,0).
func (d *DataObject) Origin() [3]float64 { return d.origin }

// Spacing returns the distance between adjacent points on each axis.
func (d *DataObject) Spacing() [3]float64 { return d.spacing }

// SetGeometry sets origin and spacing.
func (d *DataObject) SetGeometry(origin, spacing [3]float64) {
	if d.origin == origin && d.spacing == spacing {
		return
	}
	d.origin, d.spacing = origin, spacing
	d.mtime.Modified()
}

// NumberOfPoints returns the point count.
//
// Image data derives it from the extent. Other kinds report the tuple count
// of their first point array.
func (d *DataObject) NumberOfPoints() int {
	if d.kind == KindImageData {
		return d.meta.Extent.NumberOfPoints()
	}
	arrays := d.pointData.Arrays()
	if len(arrays) == 0 {
		return 0
	}
	return arrays[0].NumberOfTuples()
}

// NumberOfBlocks returns the child count of a composite.
func (d *DataObject) NumberOfBlocks() int {
	return len(d.blocks)
}

// Block returns the i-th child, or nil if out of range.
func (d *DataObject) Block(i int) *DataObject {
	if i < 0 || i >= len(d.blocks) {
		return nil
	}
	return d.blocks[i]
}

// SetBlock stores child at index i, growing the block list as needed.
func (d *DataObject) SetBlock(i int, child *DataObject) error {
	if d.kind != KindComposite {
		return fmt.Errorf("%w: %s", ErrNotComposite, d.kind)
	}
	if i < 0 {
		return fmt.Errorf("%w: negative block index %d", ErrInvalidInput, i)
	}
	for len(d.blocks) <= i {
		d.blocks = append(d.blocks, nil)
	}
	d.blocks[i] = child
	d.mtime.Modified()
	return nil
}

// AppendBlock adds child after the last block.
func (d *DataObject) AppendBlock(child *DataObject) error {
	return d.SetBlock(len(d.blocks), child)
}

// Initialize releases all content while keeping the object's identity.
func (d *DataObject) Initialize() {
	d.pointData.Initialize()
	d.cellData.Initialize()
	d.fieldData.Initialize()
	d.blocks = nil
	d.origin = [3]float64{}
	d.spacing = [3]float64{1, 1, 1}
	d.meta = DefaultMeta()
	d.mtime.Modified()
}

// IsEmpty reports whether the object holds no arrays and no blocks.
func (d *DataObject) IsEmpty() bool {
	return d.pointData.Len() == 0 && d.cellData.Len() == 0 &&
		d.fieldData.Len() == 0 && len(d.blocks) == 0
}

// ShallowCopy makes d share other's arrays and blocks.
//
// Description:
//
//	Array storage and child blocks are shared, not duplicated. The target
//	keeps its identity and receives a new modification stamp.
//
// Inputs:
//
//	other - Source object. Must have the same kind as d.
//
// Outputs:
//
//	error - ErrTypeMismatch if the kinds differ. d is left untouched.
func (d *DataObject) ShallowCopy(other *DataObject) error {
	if err := d.checkCopySource(other); err != nil {
		return err
	}
	d.pointData.shallowCopy(other.pointData)
	d.cellData.shallowCopy(other.cellData)
	d.fieldData.shallowCopy(other.fieldData)
	d.origin, d.spacing, d.meta = other.origin, other.spacing, other.meta
	d.blocks = append([]*DataObject(nil), other.blocks...)
	d.mtime.Modified()
	return nil
}

// DeepCopy makes d an independent duplicate of other.
//
// Description:
//
//	Every array and block is cloned so later writes to either object never
//	show through the other.
//
// Inputs:
//
//	other - Source object. Must have the same kind as d.
//
// Outputs:
//
//	error - ErrTypeMismatch if the kinds differ. d is left untouched.
func (d *DataObject) DeepCopy(other *DataObject) error {
	if err := d.checkCopySource(other); err != nil {
		return err
	}
	blocks := make([]*DataObject, len(other.blocks))
	for i, b := range other.blocks {
		if b == nil {
			continue
		}
		clone := b.NewInstance()
		if err := clone.DeepCopy(b); err != nil {
			return err
		}
		blocks[i] = clone
	}
	d.pointData.deepCopy(other.pointData)
	d.cellData.deepCopy(other.cellData)
	d.fieldData.deepCopy(other.fieldData)
	d.origin, d.spacing, d.meta = other.origin, other.spacing, other.meta
	d.blocks = blocks
	d.mtime.Modified()
	return nil
}

// NewInstance returns an empty object of the same kind.
func (d *DataObject) NewInstance() *DataObject {
	return MustNew(d.kind)
}

func (d *DataObject) checkCopySource(other *DataObject) error {
	if other == nil {
		return fmt.Errorf("%w: nil copy source", ErrInvalidInput)
	}
	if other.kind != d.kind {
		return fmt.Errorf("%w: cannot copy %s into %s", ErrTypeMismatch, other.kind, d.kind)
	}
	return nil
}

// Crop trims image data to the intersection of its extent and e.
//
// Description:
//
//	Point arrays are resampled to the cropped extent. Cell arrays are
//	dropped because their layout no longer matches. Non-image kinds are
//	left unchanged.
//
// Inputs:
//
//	e - The requested extent.
//
// Outputs:
//
//	bool - True if the object changed.
func (d *DataObject) Crop(e extent.Extent) bool {
	if d.kind != KindImageData {
		return false
	}
	current := d.meta.Extent
	target := current.Intersect(e)
	if target == current {
		return false
	}

	cropped := NewAttributes()
	for _, a := range d.pointData.Arrays() {
		out := NewArray(a.Name, a.Components, target.NumberOfPoints())
		if !target.IsEmpty() {
			n := 0
			for k := target[4]; k <= target[5]; k++ {
				for j := target[2]; j <= target[3]; j++ {
					for i := target[0]; i <= target[1]; i++ {
						copy(out.Tuple(n), a.Tuple(current.PointIndex(i, j, k)))
						n++
					}
				}
			}
		}
		cropped.AddArray(out)
	}
	d.pointData = cropped
	d.cellData.Initialize()
	d.meta.Extent = target
	d.mtime.Modified()
	return true
}
