// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/lib/codec"
	"github.com/stride-data/stride/sterr"
)

// BeginStep opens the next step. Writers enter the step immediately;
// the assigned number is CurrentStep. Readers block until a step is
// available, polling at the BeginStepPolling cadence: a nil return
// means the step is delivered, sterr.ErrEndOfStream means the writer
// closed and every step has been consumed, sterr.ErrNotReady means
// nothing arrived within timeout. A negative timeout waits without
// deadline; the engine stays between steps on every non-nil return.
//
// In a multi-reader group BeginStep is collective: the root peer
// resolves the outcome and every peer delivers the same step.
func (e *Engine) BeginStep(ctx context.Context, mode StepMode, timeout time.Duration) error {
	const op = "engine.BeginStep"
	switch e.state {
	case stateClosed:
		return sterr.InvalidArgumentf(op, "engine is closed")
	case stateInStep:
		return sterr.InvalidArgumentf(op, "step %d is still open; EndStep first", e.CurrentStep())
	}

	if e.mode.writes() {
		e.state = stateInStep
		return nil
	}

	if e.multi() && !e.root() {
		return e.beginFollow(ctx, timeout)
	}
	err := e.beginLocal(ctx, mode, timeout)
	if e.multi() {
		if berr := e.broadcastBegin(ctx, err); berr != nil {
			return berr
		}
	}
	return err
}

// beginLocal polls this peer's own source until a step is delivered or
// the deadline passes.
func (e *Engine) beginLocal(ctx context.Context, mode StepMode, timeout time.Duration) error {
	var deadline time.Time
	if timeout >= 0 {
		deadline = e.clk.Now().Add(timeout)
	}
	for {
		view, err := e.source.fetch(mode)
		if err != nil {
			return err
		}
		if view != nil {
			e.deliver(view)
			return nil
		}
		if !deadline.IsZero() && !e.clk.Now().Before(deadline) {
			return sterr.ErrNotReady
		}
		if err := e.waitPoll(ctx); err != nil {
			return err
		}
	}
}

// beginFollow delivers the step the root peer committed. The root
// publishes by its own deadline, so waiting on the broadcast needs no
// local one.
func (e *Engine) beginFollow(ctx context.Context, timeout time.Duration) error {
	const op = "engine.BeginStep"
	raw, err := e.comm.Broadcast(ctx, nil)
	if err != nil {
		return err
	}
	var res beginResult
	if err := codec.Unmarshal(raw, &res); err != nil {
		return sterr.Consistencyf(op, "decoding step announcement: %v", err)
	}
	switch res.Status {
	case statusEndOfStream:
		return sterr.ErrEndOfStream
	case statusNotReady:
		return sterr.ErrNotReady
	case statusError:
		return sterr.Wrap(sterr.Kind(res.Kind), op, errors.New(res.Msg))
	}

	// The root saw the step; this peer's source may lag by a poll or
	// two behind the shared pack or stream.
	var deadline time.Time
	if timeout >= 0 {
		deadline = e.clk.Now().Add(timeout)
	}
	for {
		view, err := e.source.find(res.Step)
		if err != nil {
			return err
		}
		if view != nil {
			e.deliver(view)
			return nil
		}
		if !deadline.IsZero() && !e.clk.Now().Before(deadline) {
			return sterr.Timeoutf(op, "committed step %d did not reach this peer in time", res.Step)
		}
		if err := e.waitPoll(ctx); err != nil {
			return err
		}
	}
}

// broadcastBegin announces the root's BeginStep outcome to the group.
func (e *Engine) broadcastBegin(ctx context.Context, result error) error {
	res := beginResult{Status: statusStep, Step: e.curStep}
	switch {
	case result == nil:
	case errors.Is(result, sterr.ErrEndOfStream):
		res = beginResult{Status: statusEndOfStream}
	case errors.Is(result, sterr.ErrNotReady):
		res = beginResult{Status: statusNotReady}
	default:
		res = beginResult{Status: statusError, Kind: uint8(sterr.KindOf(result)), Msg: result.Error()}
	}
	enc, err := codec.Marshal(&res)
	if err != nil {
		return sterr.Consistencyf("engine.BeginStep", "encoding step announcement: %v", err)
	}
	_, err = e.comm.Broadcast(ctx, enc)
	return err
}

// waitPoll sleeps one polling period against the engine clock,
// honoring cancellation.
func (e *Engine) waitPoll(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return sterr.Wrap(sterr.KindTimeout, "engine.BeginStep", ctx.Err())
	case <-e.clk.After(e.set.BeginStepPolling):
		return nil
	}
}

// deliver installs a step view as the current step and folds its
// metadata into the store, so freshly appearing variables and
// attributes are inquirable the moment BeginStep returns.
func (e *Engine) deliver(view *format.StepView) {
	for i := range view.Index.Vars {
		rec := &view.Index.Vars[i]
		if _, err := e.store.Discover(rec.Name, rec.Type, rec.Class, rec.Shape); err != nil {
			e.log.Warn("skipping step variable", "variable", rec.Name, "step", view.Step, "error", err)
		}
	}
	for _, attr := range view.Index.Attrs {
		if _, err := e.store.DefineAttribute(attr); err != nil {
			e.log.Warn("skipping step attribute", "attribute", attr.Name, "step", view.Step, "error", err)
		}
	}
	e.current = view
	e.curStep = view.Step
	e.state = stateInStep
	e.met.BytesRead(len(view.Data))
}

// EndStep closes the current step. A writer completes every deferred
// Put, transforms and packs the staged blocks, assembles the step
// across peers, and commits it to every carrier; the step is visible
// to readers only after every contributing peer succeeded. A reader
// completes every deferred Get and releases the step's staging.
//
// A transport failure leaves the pack recoverable: the step's bytes
// are overwritten by the next append and the footer omits it. The
// error reports which step was lost; the engine stays usable and the
// next BeginStep opens a fresh step. A consistency failure (peers
// disagreeing on a global value) aborts the step on every peer without
// consuming its number, so the application can stage it again.
func (e *Engine) EndStep(ctx context.Context) error {
	const op = "engine.EndStep"
	if e.state != stateInStep {
		return sterr.InvalidArgumentf(op, "no step is open (engine is %s)", e.state)
	}
	if e.mode.writes() {
		return e.endWrite(ctx)
	}
	return e.endRead()
}

// endRead completes deferred Gets against the current step, then
// releases it.
func (e *Engine) endRead() error {
	err := e.resolveGets()
	e.current = nil
	e.gets = e.gets[:0]
	e.state = stateBetween
	e.met.StepCompleted(e.name, e.mode.String())
	return err
}

// endWrite flushes the step. See EndStep for the failure contract.
func (e *Engine) endWrite(ctx context.Context) error {
	const op = "engine.EndStep"

	// An async flush that failed since the last EndStep poisons this
	// one: the staged step is dropped and the error surfaces here.
	if e.flush != nil {
		if err := e.flush.take(); err != nil {
			e.abortStep(true)
			return sterr.Wrap(sterr.KindIOFailure, op,
				errors.Join(err, sterr.ErrStepPartial))
		}
	}

	start := e.clk.Now()
	err := e.commitFragment(ctx, false)
	if err != nil {
		// Consistency aborts keep the step number for a retry;
		// everything else consumes it and leaves the step partial.
		if sterr.KindOf(err) == sterr.KindConsistency {
			e.abortStep(false)
			return err
		}
		e.abortStep(true)
		return sterr.Wrap(sterr.KindOf(err), op,
			errors.Join(err, sterr.ErrStepPartial))
	}

	e.staging.Reset()
	e.puts = e.puts[:0]
	e.state = stateBetween
	e.curStep++
	e.met.StepCompleted(e.name, e.mode.String())
	e.met.FlushObserved(e.clk.Now().Sub(start))
	e.met.ArenaHighWater(e.staging.HighWater())
	return nil
}

// abortStep drops the staged step. Attribute announcements are rewound
// wholesale: the footer and readers deduplicate, so re-sending all of
// them is cheaper than tracking which fragment carried which.
func (e *Engine) abortStep(consumeStep bool) {
	e.staging.Reset()
	e.puts = e.puts[:0]
	e.state = stateBetween
	e.attrsSent = make(map[string]bool)
	if consumeStep {
		e.curStep++
	}
}

// Collective wire messages. beginResult commits a reader group's
// BeginStep outcome; stepCommit closes a writer group's EndStep.
const (
	statusStep uint8 = iota + 1
	statusEndOfStream
	statusNotReady
	statusError
)

type beginResult struct {
	Status uint8  `cbor:"status"`
	Step   uint64 `cbor:"step,omitempty"`
	Kind   uint8  `cbor:"kind,omitempty"`
	Msg    string `cbor:"msg,omitempty"`
}

type stepCommit struct {
	OK   bool   `cbor:"ok"`
	Kind uint8  `cbor:"kind,omitempty"`
	Msg  string `cbor:"msg,omitempty"`
}
