// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package dtype classifies the element types Stride can carry and
// provides zero-copy views between typed slices and their byte
// representation.
//
// The wire identity of a type is its [Code], a protocol constant
// stored in step indices and pack headers. Codes never change meaning;
// new types append. The generic constraint [Element] limits Put/Get
// payloads to exactly the supported set.
package dtype

import (
	"fmt"
	"unsafe"
)

// Code identifies an element type on the wire. Codes are protocol
// constants — changing them breaks pack compatibility.
type Code uint8

const (
	// Unknown is the zero Code. It is never valid on the wire.
	Unknown Code = 0

	Int8  Code = 1
	Int16 Code = 2
	Int32 Code = 3
	Int64 Code = 4

	Uint8  Code = 5
	Uint16 Code = 6
	Uint32 Code = 7
	Uint64 Code = 8

	Float32 Code = 9
	Float64 Code = 10

	Complex64  Code = 11
	Complex128 Code = 12

	// Char8 is a fixed-width 8-bit character. It shares uint8's
	// representation but is listed separately so text payloads are
	// self-describing.
	Char8 Code = 13
)

// Element is the constraint over Go types Stride can store. The set
// is exact (no derived types): payload slices are reinterpreted as
// raw bytes, so the element representation must be the predeclared
// one. byte and rune are aliases and work unchanged.
type Element interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64 |
		complex64 | complex128
}

// Real is the subset of Element with a total order; min/max
// characteristics are computed only for these.
type Real interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64
}

// Classify returns the wire code of T.
func Classify[T Element]() Code {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float32:
		return Float32
	case float64:
		return Float64
	case complex64:
		return Complex64
	case complex128:
		return Complex128
	}
	return Unknown
}

// Size returns the element width in bytes, or 0 for Unknown.
func (c Code) Size() int {
	switch c {
	case Int8, Uint8, Char8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, Complex64:
		return 8
	case Complex128:
		return 16
	default:
		return 0
	}
}

// String returns the canonical name used in listings and logs.
func (c Code) String() string {
	switch c {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Complex64:
		return "complex64"
	case Complex128:
		return "complex128"
	case Char8:
		return "char8"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Parse maps a canonical name back to its Code.
func Parse(name string) (Code, error) {
	for c := Int8; c <= Char8; c++ {
		if c.String() == name {
			return c, nil
		}
	}
	return Unknown, fmt.Errorf("unknown element type %q", name)
}

// Valid reports whether c names a supported element type.
func (c Code) Valid() bool {
	return c >= Int8 && c <= Char8
}

// IsComplex reports whether c is a complex type (no min/max
// characteristics are recorded for these).
func (c Code) IsComplex() bool {
	return c == Complex64 || c == Complex128
}

// IsFloat reports whether c is an IEEE floating-point type, the only
// types lossy operators accept.
func (c Code) IsFloat() bool {
	return c == Float32 || c == Float64
}

// Matches reports whether a call-site element type is accepted by a
// declaration with code c. Char8 declarations accept uint8 payloads;
// everything else requires an exact match.
func (c Code) Matches(call Code) bool {
	if c == call {
		return true
	}
	return c == Char8 && call == Uint8
}

// Bytes reinterprets a typed slice as its native-endian byte
// representation without copying. The returned slice aliases data;
// the caller must not let it outlive the original.
func Bytes[T Element](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(unsafe.Sizeof(zero)))
}

// View reinterprets raw bytes as a typed slice without copying. The
// byte length must be an exact multiple of the element size and the
// backing array must be aligned for T; staging arenas align
// allocations to max(element size, 8) so views over staged payloads
// are always valid.
func View[T Element](raw []byte) ([]T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("byte length %d is not a multiple of element size %d", len(raw), size)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	pointer := unsafe.Pointer(&raw[0])
	if uintptr(pointer)%unsafe.Alignof(zero) != 0 {
		return nil, fmt.Errorf("buffer is not aligned for %d-byte elements", size)
	}
	return unsafe.Slice((*T)(pointer), len(raw)/size), nil
}

// MinMax computes the per-block characteristics of a real-typed
// payload. Returns the zero values for an empty block.
func MinMax[T Real](data []T) (minimum, maximum T) {
	if len(data) == 0 {
		return
	}
	minimum, maximum = data[0], data[0]
	for _, v := range data[1:] {
		if v < minimum {
			minimum = v
		}
		if v > maximum {
			maximum = v
		}
	}
	return
}
