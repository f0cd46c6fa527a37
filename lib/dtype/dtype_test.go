// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package dtype

import (
	"testing"
)

func TestClassify(t *testing.T) {
	if got := Classify[float64](); got != Float64 {
		t.Errorf("Classify[float64] = %v, want Float64", got)
	}
	if got := Classify[uint8](); got != Uint8 {
		t.Errorf("Classify[uint8] = %v, want Uint8", got)
	}
	if got := Classify[byte](); got != Uint8 {
		t.Errorf("Classify[byte] = %v, want Uint8 (alias)", got)
	}
	if got := Classify[complex128](); got != Complex128 {
		t.Errorf("Classify[complex128] = %v, want Complex128", got)
	}
}

func TestSizeRoundTrip(t *testing.T) {
	wants := map[Code]int{
		Int8: 1, Int16: 2, Int32: 4, Int64: 8,
		Uint8: 1, Uint16: 2, Uint32: 4, Uint64: 8,
		Float32: 4, Float64: 8,
		Complex64: 8, Complex128: 16,
		Char8: 1,
	}
	for code, want := range wants {
		if got := code.Size(); got != want {
			t.Errorf("%v.Size() = %d, want %d", code, got, want)
		}
		parsed, err := Parse(code.String())
		if err != nil {
			t.Errorf("Parse(%q): %v", code.String(), err)
			continue
		}
		if parsed != code {
			t.Errorf("Parse(%q) = %v, want %v", code.String(), parsed, code)
		}
	}
	if _, err := Parse("float128"); err == nil {
		t.Error("Parse(float128) should fail")
	}
}

func TestBytesViewRoundTrip(t *testing.T) {
	values := []float64{0, 1.5, -2.25, 3e100}
	raw := Bytes(values)
	if len(raw) != len(values)*8 {
		t.Fatalf("Bytes length = %d, want %d", len(raw), len(values)*8)
	}

	back, err := View[float64](raw)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	for i, v := range values {
		if back[i] != v {
			t.Errorf("element %d: got %v, want %v", i, back[i], v)
		}
	}

	// The view aliases the original storage.
	back[0] = 42
	if values[0] != 42 {
		t.Error("View did not alias the source slice")
	}
}

func TestViewRejectsPartialElements(t *testing.T) {
	if _, err := View[uint32](make([]byte, 7)); err == nil {
		t.Error("View over 7 bytes as uint32 should fail")
	}
}

func TestMatches(t *testing.T) {
	if !Char8.Matches(Uint8) {
		t.Error("Char8 declaration should accept uint8 payloads")
	}
	if Float64.Matches(Float32) {
		t.Error("Float64 must not accept float32 payloads")
	}
}

func TestMinMax(t *testing.T) {
	minimum, maximum := MinMax([]int32{5, -3, 17, 0})
	if minimum != -3 || maximum != 17 {
		t.Errorf("MinMax = (%d, %d), want (-3, 17)", minimum, maximum)
	}
	zeroMin, zeroMax := MinMax([]float32(nil))
	if zeroMin != 0 || zeroMax != 0 {
		t.Errorf("MinMax(empty) = (%v, %v), want zeros", zeroMin, zeroMax)
	}
}
