// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package variable implements the per-IO variable store: the map from
// a declared name to its element type, shape class, current selection,
// operator chain, and reader-side step visibility.
//
// A [Variable] is a handle shared between the application and the
// engine. The application mutates the selection and operator chain
// between steps; the engine snapshots both when a Put or Get request
// is recorded, so later mutation cannot corrupt an in-flight step.
package variable

import (
	"slices"
	"sync"

	"github.com/stride-data/stride/lib/box"
	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/transform"
)

// ShapeID classifies how a variable's blocks relate across peers.
type ShapeID uint8

const (
	// GlobalArray has global extents; peers own rectangular sub-boxes.
	GlobalArray ShapeID = iota + 1
	// LocalArray has no global extents; each peer contributes
	// independent blocks per step.
	LocalArray
	// GlobalValue is a single scalar every peer must agree on.
	GlobalValue
	// LocalValue is one scalar per peer, assembled into a
	// rank-indexed vector on read.
	LocalValue
)

// String returns the class name used in listings and errors.
func (s ShapeID) String() string {
	switch s {
	case GlobalArray:
		return "global array"
	case LocalArray:
		return "local array"
	case GlobalValue:
		return "global value"
	case LocalValue:
		return "local value"
	default:
		return "unknown"
	}
}

// IsValue reports whether the class carries one scalar per block.
func (s ShapeID) IsValue() bool {
	return s == GlobalValue || s == LocalValue
}

// MemorySpace names where a user buffer lives. It is a property of
// the buffers passed to Put and Get, never of engine staging.
type MemorySpace uint8

const (
	// Host is ordinary addressable memory.
	Host MemorySpace = iota
	// Device marks buffers that must pass through the engine's
	// device copier before staging.
	Device
)

// Variable is a declared variable handle. Safe for concurrent use;
// engines snapshot mutable fields under the lock when recording
// requests.
type Variable struct {
	mu           sync.Mutex
	name         string
	typ          dtype.Code
	shapeID      ShapeID
	shape        []uint64
	sel          box.Box
	constantDims bool
	memSpace     MemorySpace
	ops          []transform.Descriptor

	// Reader-side step addressing for random access: stepsFrom is the
	// first step visible to Get, stepsCount how many (0 = current
	// step only).
	stepsFrom  uint64
	stepsCount uint64

	// blockID selects which block of a LocalArray step a Get reads.
	blockID int
}

// Name returns the declared name.
func (v *Variable) Name() string { return v.name }

// Type returns the declared element type code.
func (v *Variable) Type() dtype.Code { return v.typ }

// ShapeID returns the shape class.
func (v *Variable) ShapeID() ShapeID { return v.shapeID }

// Shape returns a copy of the global shape, or nil for local classes.
func (v *Variable) Shape() []uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.shape)
}

// Selection returns a copy of the current (start, count) selection.
func (v *Variable) Selection() box.Box {
	v.mu.Lock()
	defer v.mu.Unlock()
	return box.New(v.sel.Start, v.sel.Count)
}

// SetSelection replaces the selection. Rejected for value classes,
// for selections that leave the global shape, and for variables
// declared with constant dimensions when the new selection differs.
func (v *Variable) SetSelection(start, count []uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.shapeID.IsValue() {
		return sterr.InvalidArgumentf("variable.SetSelection", "%s is a %s and has no selection", v.name, v.shapeID)
	}
	next := box.New(start, count)
	if v.constantDims && !next.Equal(v.sel) {
		return sterr.InvalidArgumentf("variable.SetSelection",
			"%s was declared with constant dimensions; selection %v cannot replace %v", v.name, next, v.sel)
	}
	if v.shapeID == GlobalArray {
		if err := box.Validate(next, v.shape); err != nil {
			return sterr.Wrap(sterr.KindInvalidArgument, "variable.SetSelection", err)
		}
	} else if len(next.Start) != 0 && len(next.Start) != len(next.Count) {
		return sterr.InvalidArgumentf("variable.SetSelection",
			"%s: start has %d dimensions, count has %d", v.name, len(next.Start), len(next.Count))
	}
	v.sel = next
	return nil
}

// SetShape replaces the global extents of a GlobalArray whose
// dimensions change across steps. Rejected under constant dimensions.
func (v *Variable) SetShape(shape []uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.shapeID != GlobalArray {
		return sterr.InvalidArgumentf("variable.SetShape", "%s is a %s", v.name, v.shapeID)
	}
	if v.constantDims {
		return sterr.InvalidArgumentf("variable.SetShape", "%s was declared with constant dimensions", v.name)
	}
	if err := box.ValidateShape(shape); err != nil {
		return sterr.Wrap(sterr.KindInvalidArgument, "variable.SetShape", err)
	}
	if len(shape) != len(v.shape) {
		return sterr.InvalidArgumentf("variable.SetShape",
			"%s has %d dimensions, new shape %v has %d", v.name, len(v.shape), shape, len(shape))
	}
	v.shape = slices.Clone(shape)
	return nil
}

// ConstantDims reports whether the selection is frozen.
func (v *Variable) ConstantDims() bool { return v.constantDims }

// MemorySpace returns where the user buffers for this variable live.
func (v *Variable) MemorySpace() MemorySpace {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.memSpace
}

// SetMemorySpace declares where subsequent Put/Get buffers live.
func (v *Variable) SetMemorySpace(space MemorySpace) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.memSpace = space
}

// AddOperation appends an operator stage to the variable's chain.
// Stages apply in the order added. Resolution and the lossy/type
// check happen when the first block is staged, so an unknown operator
// surfaces at Put rather than here.
func (v *Variable) AddOperation(name string, params transform.Params) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, transform.Descriptor{Name: name, Params: params})
}

// Operations returns a copy of the operator chain.
func (v *Variable) Operations() []transform.Descriptor {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.ops)
}

// ClearOperations drops the operator chain.
func (v *Variable) ClearOperations() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = nil
}

// SetStepSelection addresses steps [from, from+count) for Get in
// random-access mode. count must be positive.
func (v *Variable) SetStepSelection(from, count uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if count == 0 {
		return sterr.InvalidArgumentf("variable.SetStepSelection", "%s: step count must be positive", v.name)
	}
	v.stepsFrom, v.stepsCount = from, count
	return nil
}

// StepSelection returns the step window, with ok false when the
// variable addresses the engine's current step.
func (v *Variable) StepSelection() (from, count uint64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stepsFrom, v.stepsCount, v.stepsCount > 0
}

// SetBlockSelection picks which block of a LocalArray step Get reads.
func (v *Variable) SetBlockSelection(id int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shapeID != LocalArray {
		return sterr.InvalidArgumentf("variable.SetBlockSelection", "%s is a %s", v.name, v.shapeID)
	}
	if id < 0 {
		return sterr.InvalidArgumentf("variable.SetBlockSelection", "block id %d is negative", id)
	}
	v.blockID = id
	return nil
}

// BlockSelection returns the selected LocalArray block index.
func (v *Variable) BlockSelection() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.blockID
}
