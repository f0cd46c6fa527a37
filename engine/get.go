// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/lib/box"
	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/variable"
)

// GetToken reports completion of a Get: once completed, the
// destination buffer holds the requested data. Tokens are polled from
// the goroutine driving the engine.
type GetToken struct {
	completed bool
}

// Completed reports whether the destination has been filled.
func (t *GetToken) Completed() bool { return t != nil && t.completed }

// getRequest is one queued read: the variable snapshot taken at Get
// time plus the destination it resolves into.
type getRequest struct {
	name    string
	typ     dtype.Code
	class   variable.ShapeID
	sel     box.Box
	blockID int
	space   variable.MemorySpace

	// Step window for random access; windowed is false when the
	// request addresses the engine's current step.
	from     uint64
	count    uint64
	windowed bool

	dst []byte
	tok *GetToken
}

// Get schedules a read of v into dst. Inside a step the request
// addresses the current step; in random-access mode a step selection
// on the variable addresses any committed window, inside a step or
// out. Sync fills dst before returning; Deferred fills it at
// PerformGets or EndStep.
//
// dst must hold exactly the selected elements: for a global array the
// selection's element count per windowed step, for a local array the
// selected block, for a global value one element, for a local value
// one element per contributing rank.
func Get[T dtype.Element](e *Engine, v *variable.Variable, dst []T, launch Launch) (*GetToken, error) {
	const op = "engine.Get"
	if e.state == stateClosed {
		return nil, sterr.InvalidArgumentf(op, "engine is closed")
	}
	if e.mode.writes() {
		return nil, sterr.InvalidArgumentf(op, "engine %q is opened for writing", e.name)
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
			fmt.Errorf("%s is declared %v, Get called with %v: %w", v.Name(), v.Type(), call, sterr.ErrTypeMismatch))
	}

	req := &getRequest{
		name:    v.Name(),
		typ:     v.Type(),
		class:   v.ShapeID(),
		sel:     v.Selection(),
		blockID: v.BlockSelection(),
		space:   v.MemorySpace(),
		dst:     dtype.Bytes(dst),
		tok:     &GetToken{},
	}
	req.from, req.count, req.windowed = v.StepSelection()

	if req.windowed && e.mode != ReadRandomAccess {
		return nil, sterr.InvalidArgumentf(op, "%s has a step selection; those need random access", req.name)
	}
	if e.state != stateInStep && e.mode != ReadRandomAccess {
		return nil, sterr.InvalidArgumentf(op, "no step is open (engine is %s)", e.state)
	}

	e.met.GetRecorded(req.name)
	if launch == Sync {
		if err := e.resolveGet(req); err != nil {
			return nil, err
		}
		return req.tok, nil
	}
	e.gets = append(e.gets, req)
	return req.tok, nil
}

// PerformGets resolves every deferred Get queued so far.
func (e *Engine) PerformGets(ctx context.Context) error {
	const op = "engine.PerformGets"
	if e.state == stateClosed {
		return sterr.InvalidArgumentf(op, "engine is closed")
	}
	if e.mode.writes() {
		return sterr.InvalidArgumentf(op, "engine %q is opened for writing", e.name)
	}
	return e.resolveGets()
}

// resolveGets drains the deferred queue. Every request is attempted,
// so one bad selection does not starve the rest; the first failure is
// reported after the drain.
func (e *Engine) resolveGets() error {
	var first error
	for _, req := range e.gets {
		if err := e.resolveGet(req); err != nil && first == nil {
			first = err
		}
	}
	e.gets = e.gets[:0]
	return first
}

// resolveGet fills one request's destination from the step views it
// addresses.
func (e *Engine) resolveGet(req *getRequest) error {
	const op = "engine.Get"

	host := req.dst
	if req.space == variable.Device {
		host = make([]byte, len(req.dst))
	}

	views, err := e.stepViews(req)
	if err != nil {
		return err
	}
	remaining := host
	for _, view := range views {
		n, err := e.extractInto(view, req, remaining)
		if err != nil {
			return err
		}
		remaining = remaining[n:]
	}
	if len(remaining) != 0 {
		return sterr.InvalidArgumentf(op,
			"%s: destination holds %d bytes, the addressed steps fill %d",
			req.name, len(req.dst), len(req.dst)-len(remaining))
	}

	if req.space == variable.Device {
		if err := e.copier.FromHost(req.dst, host); err != nil {
			return sterr.Wrap(sterr.KindIOFailure, op, err)
		}
	}
	req.tok.completed = true
	return nil
}

// stepViews returns the views a request addresses, in step order. A
// window addresses committed step numbers in the pack; without one the
// request reads the engine's current step, or in random access the
// pack's first step.
func (e *Engine) stepViews(req *getRequest) ([]*format.StepView, error) {
	const op = "engine.Get"

	if !req.windowed {
		if e.current != nil {
			return []*format.StepView{e.current}, nil
		}
		src, ok := e.source.(*packSource)
		if !ok {
			return nil, sterr.InvalidArgumentf(op, "no step is open (engine is %s)", e.state)
		}
		steps := src.r.Steps()
		if len(steps) == 0 {
			return nil, sterr.InvalidArgumentf(op, "pack holds no committed steps")
		}
		view, err := src.view(steps[0])
		if err != nil {
			return nil, err
		}
		return []*format.StepView{view}, nil
	}

	src, ok := e.source.(*packSource)
	if !ok {
		return nil, sterr.InvalidArgumentf(op, "%s has a step selection; those need random access", req.name)
	}
	views := make([]*format.StepView, 0, req.count)
	for step := req.from; step < req.from+req.count; step++ {
		if !src.r.Contains(step) {
			return nil, sterr.InvalidArgumentf(op, "%s: step %d is not in the pack", req.name, step)
		}
		view, err := src.view(step)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// extractInto fills the head of dst with one step's data for the
// request and returns the bytes consumed.
func (e *Engine) extractInto(view *format.StepView, req *getRequest, dst []byte) (int, error) {
	const op = "engine.Get"

	rec := view.Find(req.name)
	if rec == nil {
		return 0, sterr.Wrap(sterr.KindInvalidArgument, op,
			fmt.Errorf("%s is not in step %d: %w", req.name, view.Step, sterr.ErrUnknownVariable))
	}
	if rec.Type != req.typ {
		return 0, sterr.Consistencyf(op, "%s: step %d records type %v, variable is %v",
			req.name, view.Step, rec.Type, req.typ)
	}
	size := req.typ.Size()

	switch req.class {
	case variable.GlobalValue:
		if len(rec.Blocks) == 0 {
			return 0, sterr.Consistencyf(op, "%s: step %d has no value block", req.name, view.Step)
		}
		return e.copyBlock(view, req, &rec.Blocks[0], dst)

	case variable.LocalValue:
		need := len(rec.Blocks) * size
		if len(dst) < need {
			return 0, sterr.InvalidArgumentf(op,
				"%s: step %d carries %d rank values, destination holds %d bytes",
				req.name, view.Step, len(rec.Blocks), len(dst))
		}
		for i := range rec.Blocks {
			if _, err := e.copyBlock(view, req, &rec.Blocks[i], dst[i*size:(i+1)*size]); err != nil {
				return 0, err
			}
		}
		return need, nil

	case variable.LocalArray:
		if req.blockID >= len(rec.Blocks) {
			return 0, sterr.InvalidArgumentf(op,
				"%s: block %d selected, step %d has %d", req.name, req.blockID, view.Step, len(rec.Blocks))
		}
		return e.copyBlock(view, req, &rec.Blocks[req.blockID], dst)

	case variable.GlobalArray:
		return e.assembleGlobal(view, req, rec, dst)
	}
	return 0, sterr.InvalidArgumentf(op, "%s has unknown shape class %d", req.name, req.class)
}

// copyBlock unwinds one block and copies it whole into the head of
// dst.
func (e *Engine) copyBlock(view *format.StepView, req *getRequest, blk *format.BlockRecord, dst []byte) (int, error) {
	const op = "engine.Get"
	raw, err := e.payloadRaw(view, req, blk)
	if err != nil {
		return 0, err
	}
	if len(dst) < len(raw) {
		return 0, sterr.InvalidArgumentf(op,
			"%s: block is %d bytes, destination holds %d", req.name, len(raw), len(dst))
	}
	return copy(dst, raw), nil
}

// assembleGlobal places every intersecting block of a global array
// into the selection's row-major layout. Blocks land in index order,
// so on overlap the later block wins.
func (e *Engine) assembleGlobal(view *format.StepView, req *getRequest, rec *format.VarRecord, dst []byte) (int, error) {
	const op = "engine.Get"
	size := req.typ.Size()

	sel := req.sel
	if sel.Dims() == 0 {
		sel = box.Whole(rec.Shape)
	}
	if err := box.Validate(sel, rec.Shape); err != nil {
		return 0, sterr.Wrap(sterr.KindInvalidArgument, op, err)
	}
	need := sel.Elements() * uint64(size)
	if uint64(len(dst)) < need {
		return 0, sterr.InvalidArgumentf(op,
			"%s: selection %v needs %d bytes, destination holds %d", req.name, sel, need, len(dst))
	}
	window := dst[:need]

	for i := range rec.Blocks {
		blk := &rec.Blocks[i]
		region, ok := box.Intersect(sel, blk.Box())
		if !ok {
			continue
		}
		raw, err := e.payloadRaw(view, req, blk)
		if err != nil {
			return 0, err
		}
		if err := box.CopyRegion(window, sel, raw, blk.Box(), region, size); err != nil {
			return 0, sterr.Wrap(sterr.KindConsistency, op, err)
		}
	}
	return int(need), nil
}

// payloadRaw returns one block's element bytes: checksum verified,
// operator chain unwound, length checked against the recorded raw
// size.
func (e *Engine) payloadRaw(view *format.StepView, req *getRequest, blk *format.BlockRecord) ([]byte, error) {
	const op = "engine.Get"
	payload, err := view.Payload(blk)
	if err != nil {
		return nil, err
	}
	raw, err := e.reg.Reverse(blk.Ops, payload)
	if err != nil {
		return nil, err
	}
	if uint64(len(raw)) != blk.RawSize {
		return nil, sterr.Consistencyf(op, "%s: step %d block unwound to %d bytes, index records %d",
			req.name, view.Step, len(raw), blk.RawSize)
	}
	return raw, nil
}
