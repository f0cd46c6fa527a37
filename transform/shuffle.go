// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"fmt"
	"strconv"
)

// shuffleOp transposes a payload by byte position within each element:
// all byte-0s first, then all byte-1s, and so on. Fixed-width numeric
// data tends to vary in the low bytes while the high bytes repeat, so
// grouping byte positions makes a following lossless stage far more
// effective. Bijective; the engine injects the element_size parameter
// from the variable's type.
type shuffleOp struct{}

func (shuffleOp) Name() string { return "shuffle" }

func (shuffleOp) ElementAware() {}

func shuffleElementSize(params Params) (int, error) {
	raw, ok := params["element_size"]
	if !ok {
		return 0, fmt.Errorf("shuffle requires the element_size parameter")
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("shuffle element_size %q is not a positive integer", raw)
	}
	return size, nil
}

func (shuffleOp) Apply(src []byte, params Params) ([]byte, error) {
	size, err := shuffleElementSize(params)
	if err != nil {
		return nil, err
	}
	if size == 1 {
		return src, nil
	}
	return transposeBytes(src, size, false), nil
}

func (shuffleOp) Reverse(src []byte, params Params, origSize int) ([]byte, error) {
	if len(src) != origSize {
		return nil, fmt.Errorf("shuffle payload is %d bytes, expected %d", len(src), origSize)
	}
	size, err := shuffleElementSize(params)
	if err != nil {
		return nil, err
	}
	if size == 1 {
		return src, nil
	}
	return transposeBytes(src, size, true), nil
}

// transposeBytes regroups data by byte position within width-byte
// elements (or back, when invert is set). Trailing bytes that do not
// fill a whole element are appended unchanged.
func transposeBytes(data []byte, width int, invert bool) []byte {
	elements := len(data) / width
	output := make([]byte, len(data))

	for i := 0; i < elements; i++ {
		for b := 0; b < width; b++ {
			if invert {
				output[i*width+b] = data[b*elements+i]
			} else {
				output[b*elements+i] = data[i*width+b]
			}
		}
	}

	copy(output[elements*width:], data[elements*width:])
	return output
}
