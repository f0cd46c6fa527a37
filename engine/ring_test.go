// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"

	"github.com/stride-data/stride/format"
)

func rec(step uint64) *format.Record {
	return &format.Record{Step: step, Index: format.StepIndex{Step: step}}
}

func TestStepRingOrder(t *testing.T) {
	r := newStepRing(4)
	for step := uint64(0); step < 3; step++ {
		if dropped := r.push(rec(step)); dropped != 0 {
			t.Fatalf("push(%d) reported %d dropped, want 0", step, dropped)
		}
	}
	if got := r.len(); got != 3 {
		t.Fatalf("len() = %d, want 3", got)
	}
	for step := uint64(0); step < 3; step++ {
		got := r.next()
		if got == nil || got.Step != step {
			t.Fatalf("next() = %v, want step %d", got, step)
		}
	}
	if got := r.next(); got != nil {
		t.Fatalf("next() on empty ring = %v, want nil", got)
	}
}

func TestStepRingOverwritesOldest(t *testing.T) {
	// A reader lagging behind a capacity-3 ring loses the oldest steps
	// and the drop counter keeps the running total.
	r := newStepRing(3)
	for step := uint64(0); step < 5; step++ {
		r.push(rec(step))
	}
	if dropped := r.push(rec(5)); dropped != 3 {
		t.Fatalf("push reported %d dropped, want 3", dropped)
	}
	for want := uint64(3); want <= 5; want++ {
		got := r.next()
		if got == nil || got.Step != want {
			t.Fatalf("next() = %v, want step %d", got, want)
		}
	}
}

func TestStepRingLatest(t *testing.T) {
	r := newStepRing(8)
	for step := uint64(0); step < 5; step++ {
		r.push(rec(step))
	}
	got, skipped := r.latest()
	if got == nil || got.Step != 4 {
		t.Fatalf("latest() = %v, want step 4", got)
	}
	if skipped != 4 {
		t.Fatalf("latest() skipped %d, want 4", skipped)
	}
	if r.len() != 0 {
		t.Fatalf("ring holds %d records after latest(), want 0", r.len())
	}

	if got, skipped := r.latest(); got != nil || skipped != 0 {
		t.Fatalf("latest() on empty ring = (%v, %d), want (nil, 0)", got, skipped)
	}
}

func TestStepRingLatestAfterWrap(t *testing.T) {
	// Overwrite twice so head has wrapped, then take the newest.
	r := newStepRing(2)
	for step := uint64(0); step < 6; step++ {
		r.push(rec(step))
	}
	got, skipped := r.latest()
	if got == nil || got.Step != 5 {
		t.Fatalf("latest() = %v, want step 5", got)
	}
	if skipped != 1 {
		t.Fatalf("latest() skipped %d, want 1", skipped)
	}
}
