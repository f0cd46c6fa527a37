// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"bytes"
	"errors"
	"testing"
)

func TestAllocateAligns(t *testing.T) {
	a, err := New(64, 2.0, 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ref1, buf1, err := a.Allocate(3, 8)
	if err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	if ref1.Offset != 0 || len(buf1) != 3 {
		t.Fatalf("first allocation at %d len %d, want 0 len 3", ref1.Offset, len(buf1))
	}

	ref2, _, err := a.Allocate(8, 8)
	if err != nil {
		t.Fatalf("second Allocate: %v", err)
	}
	if ref2.Offset != 8 {
		t.Fatalf("second allocation at %d, want 8 (aligned past 3)", ref2.Offset)
	}

	ref3, _, err := a.Allocate(16, 16)
	if err != nil {
		t.Fatalf("third Allocate: %v", err)
	}
	if ref3.Offset%16 != 0 {
		t.Fatalf("third allocation at %d, want 16-byte alignment", ref3.Offset)
	}
}

func TestGrowthPreservesStagedData(t *testing.T) {
	a, err := New(16, 2.0, 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ref, buf, err := a.Allocate(10, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(buf, []byte("abcdefghij"))

	// Force growth past the initial 16 bytes.
	if _, _, err := a.Allocate(100, 8); err != nil {
		t.Fatalf("growing Allocate: %v", err)
	}
	if a.Capacity() < 110 {
		t.Fatalf("capacity %d after growth, want >= 110", a.Capacity())
	}

	got, err := a.Bytes(ref)
	if err != nil {
		t.Fatalf("Bytes after growth: %v", err)
	}
	if !bytes.Equal(got, []byte("abcdefghij")) {
		t.Fatalf("staged data corrupted by growth: %q", got)
	}
}

func TestWatermark(t *testing.T) {
	a, err := New(16, 2.0, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, _, err := a.Allocate(48, 8); err != nil {
		t.Fatalf("Allocate within ceiling: %v", err)
	}
	_, _, err = a.Allocate(32, 8)
	if !errors.Is(err, ErrWatermark) {
		t.Fatalf("Allocate past ceiling = %v, want ErrWatermark", err)
	}

	// After a reset the arena accepts allocations again, and the old
	// ref is rejected as stale.
	old, _, err := a.Allocate(8, 8)
	if err != nil {
		t.Fatalf("Allocate before reset: %v", err)
	}
	a.Reset()
	if _, err := a.Bytes(old); err == nil {
		t.Fatal("Bytes accepted a ref from a previous generation")
	}
	if _, _, err := a.Allocate(32, 8); err != nil {
		t.Fatalf("Allocate after reset: %v", err)
	}
}

func TestMarkAndSince(t *testing.T) {
	a, err := New(64, 2.0, 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, header, err := a.Allocate(8, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(header, []byte("prefixed"))

	mark := a.Mark()
	_, body, err := a.Allocate(5, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(body, []byte("hello"))

	step, err := a.Since(mark)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if !bytes.Equal(step, []byte("hello")) {
		t.Fatalf("Since = %q, want step bytes only", step)
	}

	if err := a.ResetTo(mark); err != nil {
		t.Fatalf("ResetTo: %v", err)
	}
	if a.Used() != mark.Offset() {
		t.Fatalf("Used after ResetTo = %d, want %d", a.Used(), mark.Offset())
	}
}

func TestHighWater(t *testing.T) {
	a, err := New(64, 2.0, 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := a.Allocate(100, 8); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Reset()
	if _, _, err := a.Allocate(10, 8); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a.HighWater() != 100 {
		t.Fatalf("HighWater = %d, want 100", a.HighWater())
	}
}

func TestRejectsBadParameters(t *testing.T) {
	if _, err := New(0, 2.0, 64); err == nil {
		t.Error("New accepted zero initial size")
	}
	if _, err := New(64, 0.5, 128); err == nil {
		t.Error("New accepted growth below 1")
	}
	if _, err := New(128, 2.0, 64); err == nil {
		t.Error("New accepted max below initial")
	}

	a, err := New(64, 2.0, 128)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := a.Allocate(8, 3); err == nil {
		t.Error("Allocate accepted non-power-of-two alignment")
	}
}
