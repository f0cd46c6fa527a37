// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package arena implements the staging buffer that holds packed block
// payloads between Put and flush.
//
// An [Arena] owns one contiguous region that grows geometrically from
// a configured initial size up to a hard ceiling. Sub-allocations are
// aligned and addressed by [Ref] — a (generation, offset, length)
// tuple rather than a raw pointer, so references stay valid across
// growth and can be checked for staleness after a spill reset. When an
// allocation would push the region past its ceiling, Allocate returns
// [ErrWatermark] and the engine flushes the partial step before
// resetting the cursor.
package arena

import (
	"errors"
	"fmt"
)

// ErrWatermark reports that an allocation would grow the arena past
// its configured ceiling. The caller flushes staged data and resets
// before retrying.
var ErrWatermark = errors.New("arena watermark reached")

// Ref addresses a staged byte range. The generation detects use of a
// ref that survived a Reset: the bytes it pointed at are gone.
type Ref struct {
	Gen    uint32
	Offset uint64
	Length uint64
}

// Mark is a cursor position used to delimit one step's staged data and
// to rewind an aborted step.
type Mark struct {
	gen    uint32
	offset uint64
}

// Offset returns the byte position of the mark within its generation.
func (m Mark) Offset() uint64 { return m.offset }

// Arena is a growable staging region with an append cursor. Not safe
// for concurrent use; the engine stages from a single goroutine.
type Arena struct {
	buf       []byte
	cursor    uint64
	gen       uint32
	initial   uint64
	growth    float64
	max       uint64
	highWater uint64
}

// New creates an arena that starts at initial bytes, grows by factor
// growth when full, and never exceeds max. growth below 1 and sizes of
// zero are rejected.
func New(initial uint64, growth float64, max uint64) (*Arena, error) {
	if initial == 0 {
		return nil, fmt.Errorf("initial size must be positive")
	}
	if growth < 1 {
		return nil, fmt.Errorf("growth factor %g is below 1", growth)
	}
	if max < initial {
		return nil, fmt.Errorf("maximum size %d is below initial size %d", max, initial)
	}
	return &Arena{
		buf:     make([]byte, initial),
		initial: initial,
		growth:  growth,
		max:     max,
	}, nil
}

// Allocate reserves n bytes aligned to align (a power of two) and
// returns the ref and a writable view of the reservation. The view is
// valid only until the next Allocate — growth may move the region —
// so callers fill it immediately and keep the Ref. Returns
// ErrWatermark when satisfying the request would exceed the ceiling.
func (a *Arena) Allocate(n uint64, align int) (Ref, []byte, error) {
	if align <= 0 || align&(align-1) != 0 {
		return Ref{}, nil, fmt.Errorf("alignment %d is not a power of two", align)
	}
	start := alignUp(a.cursor, uint64(align))
	end := start + n
	if end < start {
		return Ref{}, nil, fmt.Errorf("allocation of %d bytes overflows cursor %d", n, start)
	}
	if end > a.max {
		return Ref{}, nil, fmt.Errorf("%w: need %d bytes, ceiling %d", ErrWatermark, end, a.max)
	}
	if err := a.ensure(end); err != nil {
		return Ref{}, nil, err
	}

	// Zero the alignment gap so packed step data is deterministic.
	for i := a.cursor; i < start; i++ {
		a.buf[i] = 0
	}
	a.cursor = end
	if a.cursor > a.highWater {
		a.highWater = a.cursor
	}
	ref := Ref{Gen: a.gen, Offset: start, Length: n}
	return ref, a.buf[start:end], nil
}

// ensure grows the backing region geometrically until it can hold
// need bytes, clamped to the ceiling.
func (a *Arena) ensure(need uint64) error {
	capacity := uint64(len(a.buf))
	if need <= capacity {
		return nil
	}
	next := capacity
	for next < need {
		grown := uint64(float64(next) * a.growth)
		if grown <= next {
			grown = next * 2
		}
		next = grown
	}
	if next > a.max {
		next = a.max
	}
	if next < need {
		return fmt.Errorf("%w: need %d bytes, ceiling %d", ErrWatermark, need, a.max)
	}
	replacement := make([]byte, next)
	copy(replacement, a.buf[:a.cursor])
	a.buf = replacement
	return nil
}

// Bytes returns the staged bytes a ref addresses. Fails if the ref
// predates the current generation.
func (a *Arena) Bytes(ref Ref) ([]byte, error) {
	if ref.Gen != a.gen {
		return nil, fmt.Errorf("ref from generation %d is stale (arena at %d)", ref.Gen, a.gen)
	}
	if ref.Offset+ref.Length > a.cursor {
		return nil, fmt.Errorf("ref [%d,%d) is beyond cursor %d", ref.Offset, ref.Offset+ref.Length, a.cursor)
	}
	return a.buf[ref.Offset : ref.Offset+ref.Length], nil
}

// Mark captures the current cursor so the caller can later take
// everything staged since (the step's packed data) or rewind.
func (a *Arena) Mark() Mark {
	return Mark{gen: a.gen, offset: a.cursor}
}

// Since returns the contiguous bytes staged between mark and the
// current cursor. Fails if the mark predates the current generation.
func (a *Arena) Since(m Mark) ([]byte, error) {
	if m.gen != a.gen {
		return nil, fmt.Errorf("mark from generation %d is stale (arena at %d)", m.gen, a.gen)
	}
	return a.buf[m.offset:a.cursor], nil
}

// ResetTo rewinds the cursor to the mark, discarding everything staged
// after it. Used when a step is aborted.
func (a *Arena) ResetTo(m Mark) error {
	if m.gen != a.gen {
		return fmt.Errorf("mark from generation %d is stale (arena at %d)", m.gen, a.gen)
	}
	a.cursor = m.offset
	return nil
}

// Reset discards all staged data and advances the generation,
// invalidating every outstanding Ref and Mark. Called after a flush.
func (a *Arena) Reset() {
	a.cursor = 0
	a.gen++
}

// Used returns the current cursor position.
func (a *Arena) Used() uint64 { return a.cursor }

// Capacity returns the current backing region size.
func (a *Arena) Capacity() uint64 { return uint64(len(a.buf)) }

// Ceiling returns the size the arena will never grow beyond.
func (a *Arena) Ceiling() uint64 { return a.max }

// HighWater returns the largest cursor position ever reached.
func (a *Arena) HighWater() uint64 { return a.highWater }

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
