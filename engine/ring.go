// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"

	"github.com/stride-data/stride/format"
)

// stepRing is a fixed-size circular buffer of received step records.
// The stream pump pushes decoded records as frames arrive; BeginStep
// pops them. When the buffer is full the oldest undelivered step is
// overwritten, so a lagging reader loses history instead of stalling
// the stream.
//
// The ring tracks how many steps it has dropped so a reader can see
// how far it fell behind. Safe for concurrent use; the pump and the
// engine goroutine share it.
type stepRing struct {
	mu       sync.Mutex
	recs     []*format.Record
	head     int
	size     int
	dropped  uint64
	received uint64
}

func newStepRing(capacity int) *stepRing {
	return &stepRing{recs: make([]*format.Record, capacity)}
}

// push adds a record, overwriting the oldest when full. Returns the
// total number of steps dropped so far.
func (r *stepRing) push(rec *format.Record) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
	if r.size == len(r.recs) {
		r.head = (r.head + 1) % len(r.recs)
		r.size--
		r.dropped++
	}
	r.recs[(r.head+r.size)%len(r.recs)] = rec
	r.size++
	return r.dropped
}

// next pops the oldest buffered record, or nil when empty.
func (r *stepRing) next() *format.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return nil
	}
	rec := r.recs[r.head]
	r.recs[r.head] = nil
	r.head = (r.head + 1) % len(r.recs)
	r.size--
	return rec
}

// latest pops the newest buffered record, discarding everything older,
// and reports how many records it skipped. Nil when empty.
func (r *stepRing) latest() (*format.Record, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return nil, 0
	}
	skipped := r.size - 1
	rec := r.recs[(r.head+r.size-1)%len(r.recs)]
	for i := 0; i < r.size; i++ {
		r.recs[(r.head+i)%len(r.recs)] = nil
	}
	r.head = (r.head + r.size) % len(r.recs)
	r.size = 0
	return rec, skipped
}

// len returns the number of buffered records.
func (r *stepRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
