// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package box describes N-dimensional rectangular selections and the
// row-major copy arithmetic between them.
//
// A [Box] is a (start, count) pair in global coordinates. Blocks carry
// their payload row-major within their own box; assembling a read
// selection from stored blocks is the composition of [Intersect] (which
// region of this block does the request need) and [CopyRegion] (move
// that region between two differently-positioned row-major layouts).
// This is the entire data-layout translation between a writer's
// decomposition and a reader's selection.
package box

import (
	"fmt"
	"math"
	"slices"
)

// JoinedDim is the sentinel extent marking a dimension that is
// assembled by concatenating per-peer blocks in rank order. It may
// appear at most once in a global shape. Metadata aggregation resolves
// it to a concrete extent before any reader sees the shape.
const JoinedDim = uint64(math.MaxUint64)

// Box is a rectangular N-dimensional region: Start is the global
// coordinate of the first element, Count the extent per dimension.
// A zero-dimensional Box addresses a single scalar.
type Box struct {
	Start []uint64
	Count []uint64
}

// New copies start and count into a fresh Box.
func New(start, count []uint64) Box {
	return Box{Start: slices.Clone(start), Count: slices.Clone(count)}
}

// Whole returns the box covering an entire shape from the origin.
func Whole(shape []uint64) Box {
	return Box{Start: make([]uint64, len(shape)), Count: slices.Clone(shape)}
}

// Dims returns the dimensionality.
func (b Box) Dims() int { return len(b.Count) }

// Elements returns the number of elements selected. A scalar box
// selects one element.
func (b Box) Elements() uint64 {
	n := uint64(1)
	for _, c := range b.Count {
		n *= c
	}
	return n
}

// Empty reports whether any dimension has zero extent.
func (b Box) Empty() bool {
	for _, c := range b.Count {
		if c == 0 {
			return true
		}
	}
	return false
}

// Equal reports element-wise equality of start and count.
func (b Box) Equal(other Box) bool {
	return slices.Equal(b.Start, other.Start) && slices.Equal(b.Count, other.Count)
}

// String formats the box as "[start]+[count]" for logs and errors.
func (b Box) String() string {
	return fmt.Sprintf("%v+%v", b.Start, b.Count)
}

// JoinedIndex returns the position of the joined dimension in shape,
// or -1 when none is present.
func JoinedIndex(shape []uint64) int {
	return slices.Index(shape, JoinedDim)
}

// ValidateShape checks that a global shape carries at most one joined
// dimension.
func ValidateShape(shape []uint64) error {
	joined := 0
	for _, extent := range shape {
		if extent == JoinedDim {
			joined++
		}
	}
	if joined > 1 {
		return fmt.Errorf("shape %v has %d joined dimensions, at most one is allowed", shape, joined)
	}
	return nil
}

// Validate checks a selection against a global shape: dimensionality
// must match and start+count must stay inside every bounded
// dimension. The joined dimension is exempt from the bound check —
// its extent is unknown until aggregation.
func Validate(sel Box, shape []uint64) error {
	if len(sel.Start) != len(sel.Count) {
		return fmt.Errorf("selection start has %d dimensions, count has %d", len(sel.Start), len(sel.Count))
	}
	if len(sel.Count) != len(shape) {
		return fmt.Errorf("selection has %d dimensions, shape %v has %d", len(sel.Count), shape, len(shape))
	}
	for i, extent := range shape {
		if extent == JoinedDim {
			continue
		}
		end := sel.Start[i] + sel.Count[i]
		if end < sel.Start[i] { // overflow
			return fmt.Errorf("dimension %d: start %d + count %d overflows", i, sel.Start[i], sel.Count[i])
		}
		if end > extent {
			return fmt.Errorf("dimension %d: start %d + count %d exceeds extent %d",
				i, sel.Start[i], sel.Count[i], extent)
		}
	}
	return nil
}

// Intersect returns the overlap of two boxes of equal dimensionality
// and whether it is non-empty.
func Intersect(a, b Box) (Box, bool) {
	if a.Dims() != b.Dims() {
		return Box{}, false
	}
	out := Box{Start: make([]uint64, a.Dims()), Count: make([]uint64, a.Dims())}
	for i := range a.Count {
		lo := max(a.Start[i], b.Start[i])
		hiA := a.Start[i] + a.Count[i]
		hiB := b.Start[i] + b.Count[i]
		hi := min(hiA, hiB)
		if hi <= lo {
			return Box{}, false
		}
		out.Start[i] = lo
		out.Count[i] = hi - lo
	}
	return out, true
}

// Overlaps reports whether two boxes share at least one element.
func Overlaps(a, b Box) bool {
	_, ok := Intersect(a, b)
	return ok
}

// Contains reports whether inner lies entirely within outer.
func Contains(outer, inner Box) bool {
	if outer.Dims() != inner.Dims() {
		return false
	}
	for i := range outer.Count {
		if inner.Start[i] < outer.Start[i] {
			return false
		}
		if inner.Start[i]+inner.Count[i] > outer.Start[i]+outer.Count[i] {
			return false
		}
	}
	return true
}

// strides returns the row-major element strides of a box's layout:
// the last dimension is contiguous.
func strides(count []uint64) []uint64 {
	s := make([]uint64, len(count))
	acc := uint64(1)
	for i := len(count) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= count[i]
	}
	return s
}

// linearOffset returns the element offset of an absolute coordinate
// within a box's row-major payload.
func linearOffset(b Box, coordinate []uint64, stride []uint64) uint64 {
	var off uint64
	for i := range coordinate {
		off += (coordinate[i] - b.Start[i]) * stride[i]
	}
	return off
}

// CopyRegion moves the elements of region (absolute coordinates)
// from src, laid out row-major within srcBox, to dst, laid out
// row-major within dstBox. The region must be contained in both
// boxes; elemSize is the element width in bytes. Rows of the region's
// last dimension are contiguous in both layouts and are copied as
// single runs.
func CopyRegion(dst []byte, dstBox Box, src []byte, srcBox Box, region Box, elemSize int) error {
	if !Contains(srcBox, region) {
		return fmt.Errorf("region %v is not contained in source block %v", region, srcBox)
	}
	if !Contains(dstBox, region) {
		return fmt.Errorf("region %v is not contained in destination selection %v", region, dstBox)
	}
	dims := region.Dims()
	if dims == 0 {
		copy(dst[:elemSize], src[:elemSize])
		return nil
	}
	if region.Empty() {
		return nil
	}

	srcStride := strides(srcBox.Count)
	dstStride := strides(dstBox.Count)
	rowBytes := region.Count[dims-1] * uint64(elemSize)

	// Odometer over every dimension except the contiguous last one.
	coordinate := slices.Clone(region.Start)
	for {
		srcOff := linearOffset(srcBox, coordinate, srcStride) * uint64(elemSize)
		dstOff := linearOffset(dstBox, coordinate, dstStride) * uint64(elemSize)
		copy(dst[dstOff:dstOff+rowBytes], src[srcOff:srcOff+rowBytes])

		carry := dims - 2
		for carry >= 0 {
			coordinate[carry]++
			if coordinate[carry] < region.Start[carry]+region.Count[carry] {
				break
			}
			coordinate[carry] = region.Start[carry]
			carry--
		}
		if carry < 0 {
			return nil
		}
	}
}
