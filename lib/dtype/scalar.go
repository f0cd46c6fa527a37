// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package dtype

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Format renders one scalar stored as native-endian bytes, as written
// by [Bytes] over a single-element slice. Listings and pack inspection
// tools use this to display attribute values and block min/max
// characteristics without switching on the type themselves.
func Format(c Code, raw []byte) string {
	if len(raw) != c.Size() {
		return fmt.Sprintf("<%d bytes for %v>", len(raw), c)
	}
	switch c {
	case Int8:
		return strconv.FormatInt(int64(int8(raw[0])), 10)
	case Int16:
		return strconv.FormatInt(int64(int16(binary.NativeEndian.Uint16(raw))), 10)
	case Int32:
		return strconv.FormatInt(int64(int32(binary.NativeEndian.Uint32(raw))), 10)
	case Int64:
		return strconv.FormatInt(int64(binary.NativeEndian.Uint64(raw)), 10)
	case Uint8:
		return strconv.FormatUint(uint64(raw[0]), 10)
	case Uint16:
		return strconv.FormatUint(uint64(binary.NativeEndian.Uint16(raw)), 10)
	case Uint32:
		return strconv.FormatUint(uint64(binary.NativeEndian.Uint32(raw)), 10)
	case Uint64:
		return strconv.FormatUint(binary.NativeEndian.Uint64(raw), 10)
	case Float32:
		return strconv.FormatFloat(float64(math.Float32frombits(binary.NativeEndian.Uint32(raw))), 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(math.Float64frombits(binary.NativeEndian.Uint64(raw)), 'g', -1, 64)
	case Complex64:
		re := math.Float32frombits(binary.NativeEndian.Uint32(raw[0:4]))
		im := math.Float32frombits(binary.NativeEndian.Uint32(raw[4:8]))
		return fmt.Sprintf("%v", complex(re, im))
	case Complex128:
		re := math.Float64frombits(binary.NativeEndian.Uint64(raw[0:8]))
		im := math.Float64frombits(binary.NativeEndian.Uint64(raw[8:16]))
		return fmt.Sprintf("%v", complex(re, im))
	case Char8:
		return strconv.Quote(string(raw))
	default:
		return fmt.Sprintf("<%v>", c)
	}
}
