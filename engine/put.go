// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/stride-data/stride/config"
	"github.com/stride-data/stride/lib/arena"
	"github.com/stride-data/stride/lib/box"
	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/transform"
	"github.com/stride-data/stride/variable"
)

// PutToken reports completion of a Put. Once completed the engine
// holds its own copy of the data and the caller may mutate or free
// the buffer. Sync Puts return an already-completed token; deferred
// tokens complete at PerformPuts or EndStep. Tokens are polled from
// the goroutine driving the engine.
type PutToken struct {
	completed bool
}

// Completed reports whether the engine has taken its copy.
func (t *PutToken) Completed() bool { return t != nil && t.completed }

// putRequest is one queued block: the variable snapshot taken at Put
// time plus either a staged arena ref or, while deferred, a view of
// the caller's buffer.
type putRequest struct {
	name  string
	typ   dtype.Code
	class variable.ShapeID
	shape []uint64
	sel   box.Box
	chain []transform.Descriptor
	space variable.MemorySpace

	staged bool
	ref    arena.Ref
	user   []byte

	tok *PutToken
}

// Put submits one block of v for the current step. The selection,
// shape, and operator chain are snapshotted at the call, so mutating
// the variable afterwards affects only later Puts. Sync copies into
// the staging arena before returning; Deferred records the buffer and
// copies at PerformPuts or EndStep. The element type of the call must
// match the declaration; a mismatch changes nothing.
//
// A variable may be Put more than once per step: a global array grows
// one block per call, a local array one indexed block per call.
func Put[T dtype.Element](e *Engine, v *variable.Variable, data []T, launch Launch) (*PutToken, error) {
	const op = "engine.Put"
	if e.state != stateInStep {
		return nil, sterr.InvalidArgumentf(op, "no step is open (engine is %s)", e.state)
	}
	if !e.mode.writes() {
		return nil, sterr.InvalidArgumentf(op, "engine %q is opened for reading", e.name)
	}
	if v == nil {
		return nil, sterr.Wrap(sterr.KindInvalidArgument, op, sterr.ErrUnknownVariable)
	}
	if known, ok := e.store.Inquire(v.Name()); !ok || known != v {
		return nil, sterr.Wrap(sterr.KindInvalidArgument, op,
			fmt.Errorf("%s belongs to a different store: %w", v.Name(), sterr.ErrUnknownVariable))
	}
	call := dtype.Classify[T]()
	if !v.Type().Matches(call) {
		return nil, sterr.Wrap(sterr.KindInvalidArgument, op,
			fmt.Errorf("%s is declared %v, Put called with %v: %w", v.Name(), v.Type(), call, sterr.ErrTypeMismatch))
	}

	req, err := e.newPutRequest(v, dtype.Bytes(data), uint64(len(data)))
	if err != nil {
		return nil, err
	}
	if launch == Sync {
		if err := e.stage(context.Background(), req); err != nil {
			return nil, err
		}
	}
	e.puts = append(e.puts, req)
	e.met.PutRecorded(req.name)
	return req.tok, nil
}

// newPutRequest snapshots the variable and validates the block
// against its class.
func (e *Engine) newPutRequest(v *variable.Variable, raw []byte, elements uint64) (*putRequest, error) {
	const op = "engine.Put"
	req := &putRequest{
		name:  v.Name(),
		typ:   v.Type(),
		class: v.ShapeID(),
		shape: v.Shape(),
		sel:   v.Selection(),
		chain: v.Operations(),
		space: v.MemorySpace(),
		user:  raw,
		tok:   &PutToken{},
	}

	switch req.class {
	case variable.GlobalArray:
		joined := box.JoinedIndex(req.shape)
		if req.sel.Dims() == 0 {
			if joined >= 0 {
				return nil, sterr.InvalidArgumentf(op,
					"%s has a joined dimension; set a selection with the block's extent", req.name)
			}
			req.sel = box.Whole(req.shape)
		}
		if err := box.Validate(req.sel, req.shape); err != nil {
			return nil, sterr.Wrap(sterr.KindInvalidArgument, op, err)
		}
	case variable.LocalArray:
		if req.sel.Dims() == 0 {
			return nil, sterr.InvalidArgumentf(op, "%s needs block extents; set a selection first", req.name)
		}
	case variable.GlobalValue, variable.LocalValue:
		req.sel = box.Box{}
		if elements != 1 {
			return nil, sterr.InvalidArgumentf(op, "%s is a %s; Put exactly one element, got %d",
				req.name, req.class, elements)
		}
	default:
		return nil, sterr.InvalidArgumentf(op, "%s has unknown shape class %d", req.name, req.class)
	}

	if req.class == variable.GlobalArray || req.class == variable.LocalArray {
		if req.sel.Empty() {
			return nil, sterr.InvalidArgumentf(op, "%s: selection %v is empty", req.name, req.sel)
		}
		if want := req.sel.Elements(); elements != want {
			return nil, sterr.InvalidArgumentf(op, "%s: selection %v holds %d elements, Put got %d",
				req.name, req.sel, want, elements)
		}
	}

	// An unknown or misapplied operator surfaces here, at the first
	// block it would touch, not mid-flush.
	if err := e.reg.Validate(req.chain, v.Type().IsFloat()); err != nil {
		return nil, err
	}
	return req, nil
}

// stage copies a request's payload into the staging arena and releases
// the caller's buffer. When the arena ceiling is hit, the overflow
// policy decides: spill flushes everything staged so far as a
// continuation fragment of the current step and retries; fail reports
// the exhaustion to the caller.
func (e *Engine) stage(ctx context.Context, req *putRequest) error {
	const op = "engine.Put"
	if req.tok.completed {
		return nil
	}
	n := uint64(len(req.user))
	align := req.typ.Size()
	if align < 8 {
		align = 8
	}

	ref, view, err := e.staging.Allocate(n, align)
	if errors.Is(err, arena.ErrWatermark) {
		if err := e.spill(ctx, n); err != nil {
			return err
		}
		if req.tok.completed {
			// The spill found this request already queued and flushed it
			// straight from the caller's buffer.
			return nil
		}
		ref, view, err = e.staging.Allocate(n, align)
	}
	if err != nil {
		if errors.Is(err, arena.ErrWatermark) {
			return sterr.IOFailuref(op, "block of %d bytes exceeds the %d-byte staging ceiling", n, e.staging.Ceiling())
		}
		return sterr.Wrap(sterr.KindIOFailure, op, err)
	}

	if req.space == variable.Device {
		if err := e.copier.ToHost(view, req.user); err != nil {
			return sterr.Wrap(sterr.KindIOFailure, op, err)
		}
	} else {
		copy(view, req.user)
	}
	req.ref = ref
	req.staged = true
	req.user = nil
	req.tok.completed = true
	return nil
}

// spill handles a staging watermark mid-step. The staged blocks are
// flushed as a continuation fragment and the arena is reset, making
// room for the block that triggered it.
func (e *Engine) spill(ctx context.Context, need uint64) error {
	const op = "engine.Put"
	if e.set.BufferOverflow == config.OverflowFail {
		return sterr.IOFailuref(op,
			"staging ceiling %d reached and BufferOverflow is %q; raise MaxBufferSize or spill",
			e.staging.Ceiling(), e.set.BufferOverflow)
	}
	if e.multi() {
		// A continuation fragment cannot be assembled mid-step: the
		// other peers are not at a collective. Bound staged steps
		// below the ceiling for coordinated runs.
		return sterr.IOFailuref(op,
			"staging ceiling %d reached mid-step in a %d-peer run; raise MaxBufferSize", e.staging.Ceiling(), e.comm.Size())
	}
	for _, req := range e.puts {
		if box.JoinedIndex(req.shape) >= 0 {
			// Joined extents resolve per record; splitting them across
			// continuation fragments would restart the concatenation.
			return sterr.IOFailuref(op,
				"staging ceiling %d reached with joined-dimension variable %s staged; raise MaxBufferSize",
				e.staging.Ceiling(), req.name)
		}
	}
	if len(e.puts) == 0 {
		return sterr.IOFailuref(op, "block of %d bytes exceeds the %d-byte staging ceiling", need, e.staging.Ceiling())
	}

	e.log.Debug("staging watermark reached, spilling partial step",
		"step", e.curStep, "staged", e.staging.Used(), "need", need)
	if err := e.commitFragment(ctx, true); err != nil {
		return err
	}
	e.staging.Reset()
	e.puts = e.puts[:0]
	return nil
}

// PerformPuts completes every deferred Put: each queued buffer is
// copied into staging (spilling per the overflow policy if needed) and
// its token completed. After PerformPuts returns, the application owns
// all its buffers again.
func (e *Engine) PerformPuts(ctx context.Context) error {
	const op = "engine.PerformPuts"
	if e.state != stateInStep {
		return sterr.InvalidArgumentf(op, "no step is open (engine is %s)", e.state)
	}
	if !e.mode.writes() {
		return sterr.InvalidArgumentf(op, "engine %q is opened for reading", e.name)
	}
	for _, req := range e.puts {
		if err := e.stage(ctx, req); err != nil {
			return err
		}
	}
	return nil
}
