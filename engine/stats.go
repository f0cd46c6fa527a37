// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/stride-data/stride/lib/dtype"

// minMaxPayload computes a raw block's value characteristics as
// native-order scalars of its type. Complex types have no order and
// yield nothing.
func minMaxPayload(code dtype.Code, raw []byte) (mn, mx []byte) {
	switch code {
	case dtype.Int8:
		return scalarRange[int8](raw)
	case dtype.Int16:
		return scalarRange[int16](raw)
	case dtype.Int32:
		return scalarRange[int32](raw)
	case dtype.Int64:
		return scalarRange[int64](raw)
	case dtype.Uint8, dtype.Char8:
		return scalarRange[uint8](raw)
	case dtype.Uint16:
		return scalarRange[uint16](raw)
	case dtype.Uint32:
		return scalarRange[uint32](raw)
	case dtype.Uint64:
		return scalarRange[uint64](raw)
	case dtype.Float32:
		return scalarRange[float32](raw)
	case dtype.Float64:
		return scalarRange[float64](raw)
	default:
		return nil, nil
	}
}

func scalarRange[T dtype.Real](raw []byte) (mn, mx []byte) {
	view, err := dtype.View[T](raw)
	if err != nil || len(view) == 0 {
		return nil, nil
	}
	lo, hi := dtype.MinMax(view)
	return append([]byte(nil), dtype.Bytes([]T{lo})...),
		append([]byte(nil), dtype.Bytes([]T{hi})...)
}
