// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the step protocol over a set of carriers:
// Open, BeginStep, Put/Get, PerformPuts/PerformGets, EndStep, Close.
//
// An [Engine] is the composition of a staging arena, the transform
// pipeline, the step index, and one or more transports. Writers stage
// block payloads between BeginStep and EndStep; EndStep transforms and
// packs the staged blocks into one step record, assembles it across
// peers through the coordinator, and commits it to every carrier as an
// atomic unit. Readers deliver committed steps one at a time in
// monotonically increasing step order, from a pack file they poll or a
// stream they subscribe to.
//
// A peer drives its engine from one goroutine; none of the methods are
// safe for concurrent use. The engine's own background work (the
// stream pump, the async flusher) hands data over through channels and
// never touches engine state directly.
package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/stride-data/stride/config"
	"github.com/stride-data/stride/coordinator"
	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/lib/arena"
	"github.com/stride-data/stride/lib/clock"
	"github.com/stride-data/stride/metric"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/transform"
	"github.com/stride-data/stride/transport"
	"github.com/stride-data/stride/variable"
)

// Mode selects an engine's role and step visibility.
type Mode uint8

const (
	// Write starts a fresh stream, discarding any existing pack.
	Write Mode = iota + 1
	// Append resumes an existing pack and continues after its last
	// committed step.
	Append
	// Read follows a live stream: steps become visible as the writer
	// commits them.
	Read
	// ReadRandomAccess opens a finished pack with every committed step
	// visible immediately; variables address steps with
	// SetStepSelection.
	ReadRandomAccess
)

// String returns the mode name used in logs and metric labels.
func (m Mode) String() string {
	switch m {
	case Write:
		return "write"
	case Append:
		return "append"
	case Read:
		return "read"
	case ReadRandomAccess:
		return "random-access"
	default:
		return "unknown"
	}
}

func (m Mode) valid() bool  { return m >= Write && m <= ReadRandomAccess }
func (m Mode) writes() bool { return m == Write || m == Append }

// StepMode selects which pending step a reader's BeginStep delivers.
type StepMode uint8

const (
	// NextAvailable delivers pending steps in order, none skipped.
	NextAvailable StepMode = iota
	// LatestAvailable jumps to the newest pending step, discarding
	// undelivered intermediates. Step numbers stay monotonic.
	LatestAvailable
)

// Launch selects when a Put or Get completes.
type Launch uint8

const (
	// Sync completes before the call returns: Put has copied the data
	// into staging, Get has filled the destination. The caller's
	// buffer is released immediately.
	Sync Launch = iota
	// Deferred queues the request and returns a pending token. The
	// buffer belongs to the engine until PerformPuts, PerformGets, or
	// EndStep completes the token.
	Deferred
)

// state tracks the engine lifecycle. BeginStep moves opened or
// between-steps to in-step; EndStep moves back; Close is terminal.
type state uint8

const (
	stateOpened state = iota + 1
	stateBetween
	stateInStep
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateOpened:
		return "opened"
	case stateBetween:
		return "between steps"
	case stateInStep:
		return "in step"
	case stateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// streamRingSteps is the reader-side buffer of undelivered steps. A
// reader lagging more than this many steps behind a live stream loses
// the oldest buffered ones.
const streamRingSteps = 16

// Options configures Open. Name, Mode, and Store are required; the
// other fields default to a single file carrier, single-peer
// coordination, built-in operators, default settings, the real clock,
// the process-default logger, and disabled metrics.
type Options struct {
	// Name is the stream identity: the pack path for file carriers and
	// the stream ID for stream carriers.
	Name string

	Mode Mode

	// Transports selects the carriers, one parameter set per carrier.
	// Writers fan out to all of them; readers use exactly one. Empty
	// means a single file carrier addressed by Name.
	Transports []transport.Params

	// Files, Senders, and Receiver inject pre-opened carriers in place
	// of Transports. The engine takes ownership and closes them.
	Files    []transport.File
	Senders  []transport.Sender
	Receiver transport.Receiver

	// Store holds the declared variables and attributes. Readers
	// populate it from incoming metadata.
	Store *variable.Store

	// Registry resolves operator chains. Nil means the built-ins.
	Registry *transform.Registry

	// Comm coordinates a multi-peer run. Nil means single-peer. The
	// engine owns the comm and closes it.
	Comm coordinator.Comm

	// Copier moves device-space buffers to host before staging.
	Copier arena.DeviceCopier

	Settings config.Settings
	Metrics  *metric.Metrics
	Log      *slog.Logger
	Clock    clock.Clock
}

// packSink is one file carrier a writer commits records to.
type packSink struct {
	file transport.File
	w    *format.PackWriter
}

// Engine is one open end of a stream. See the package comment for the
// protocol; zero Engines are invalid, use [Open].
type Engine struct {
	name string
	mode Mode
	log  *slog.Logger
	clk  clock.Clock
	set  config.Settings
	met  *metric.Metrics

	store  *variable.Store
	reg    *transform.Registry
	comm   coordinator.Comm
	copier arena.DeviceCopier

	state state

	// Writer side.
	staging     *arena.Arena
	puts        []*putRequest
	sinks       []*packSink
	senders     []transport.Sender
	curStep     uint64
	attrsSent   map[string]bool
	flush       *flusher
	sinceFooter int

	// Reader side.
	source  stepSource
	current *format.StepView
	gets    []*getRequest
}

// Open validates the options, opens the carriers, and returns an
// engine in the opened state. Multi-peer writers open collectively:
// only rank 0 owns carriers, and the starting step number is agreed
// before Open returns. The OpenTimeout setting bounds the whole call.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	const op = "engine.Open"
	if opts.Name == "" {
		return nil, sterr.InvalidArgumentf(op, "engine needs a stream name")
	}
	if !opts.Mode.valid() {
		return nil, sterr.InvalidArgumentf(op, "unknown mode %d", opts.Mode)
	}
	if opts.Store == nil {
		return nil, sterr.InvalidArgumentf(op, "engine needs a variable store")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Settings == (config.Settings{}) {
		opts.Settings = config.DefaultSettings()
	}
	if opts.Registry == nil {
		opts.Registry = transform.NewRegistry()
	}
	if opts.Copier == nil {
		opts.Copier = arena.HostCopier{}
	}
	if opts.Settings.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Settings.OpenTimeout)
		defer cancel()
	}

	e := &Engine{
		name:   opts.Name,
		mode:   opts.Mode,
		log:    opts.Log.With("stream", opts.Name, "mode", opts.Mode.String()),
		clk:    opts.Clock,
		set:    opts.Settings,
		met:    opts.Metrics,
		store:  opts.Store,
		reg:    opts.Registry,
		comm:   opts.Comm,
		copier: opts.Copier,
		state:  stateOpened,
	}

	var err error
	if e.mode.writes() {
		err = e.openWriter(ctx, opts)
	} else {
		err = e.openReader(ctx, opts)
	}
	if err != nil {
		e.releaseCarriers()
		if e.comm != nil {
			e.comm.Close()
		}
		return nil, err
	}
	e.log.Debug("engine opened")
	return e, nil
}

// multi reports whether this engine runs under a multi-peer comm.
func (e *Engine) multi() bool {
	return e.comm != nil && e.comm.Size() > 1
}

// root reports whether this peer owns the carriers. Single-peer
// engines are always root.
func (e *Engine) root() bool {
	return e.comm == nil || e.comm.Rank() == 0
}

// openWriter builds the staging arena and, on the root peer, the
// carriers. Non-root peers contribute fragments through the
// coordinator and own no carriers at all.
func (e *Engine) openWriter(ctx context.Context, opts Options) error {
	const op = "engine.Open"

	ceiling := e.set.MaxBufferSize
	if ceiling == 0 {
		ceiling = math.MaxUint64
	}
	staging, err := arena.New(e.set.InitialBufferSize, e.set.BufferGrowthFactor, ceiling)
	if err != nil {
		return sterr.Wrap(sterr.KindInvalidArgument, op, err)
	}
	e.staging = staging
	e.attrsSent = make(map[string]bool)

	if e.root() {
		if err := e.openSinks(ctx, opts); err != nil {
			return err
		}
	}

	// All peers must assign identical step numbers. Append resumes
	// where the root's pack left off; only the root knows that.
	start := uint64(0)
	if e.mode == Append && len(e.sinks) > 0 {
		start = e.sinks[0].w.NextStep()
	}
	if e.multi() {
		raw, err := e.comm.Broadcast(ctx, encodeStep(start))
		if err != nil {
			return err
		}
		if !e.root() {
			if start, err = decodeStep(raw); err != nil {
				return err
			}
		}
	}
	e.curStep = start

	if e.set.AsyncTasks && e.root() {
		e.flush = newFlusher(func(job flushJob) error {
			return e.writeJob(context.Background(), job)
		})
	}
	return nil
}

// openSinks opens every writer carrier: pack writers over the file
// carriers, stream senders with their handshake already sent.
func (e *Engine) openSinks(ctx context.Context, opts Options) error {
	const op = "engine.Open"

	files := opts.Files
	senders := opts.Senders
	if len(files) == 0 && len(senders) == 0 {
		specs := opts.Transports
		if len(specs) == 0 {
			specs = []transport.Params{{transport.ParamType: "file"}}
		}
		for _, params := range specs {
			if params.String(transport.ParamType, "file") == "file" {
				access := transport.AccessCreate
				if e.mode == Append {
					access = transport.AccessUpdate
				}
				f, err := transport.OpenFile(e.name, access, params, e.log)
				if err != nil {
					return err
				}
				files = append(files, f)
				continue
			}
			s, err := transport.OpenSender(ctx, e.name, params, e.log)
			if err != nil {
				return err
			}
			senders = append(senders, s)
		}
	}

	for _, f := range files {
		var w *format.PackWriter
		var err error
		if e.mode == Append {
			w, err = format.ResumePackWriter(f)
		} else {
			w, err = format.NewPackWriter(f)
		}
		if err != nil {
			f.Close()
			return err
		}
		e.sinks = append(e.sinks, &packSink{file: f, w: w})
	}
	e.senders = senders

	// The handshake opens every stream; carriers replay it to late
	// joiners. A merged multi-peer stream reports one writer.
	if len(e.senders) > 0 {
		hs, err := format.EncodeHandshake(format.NewHandshake(e.name, 1))
		if err != nil {
			return sterr.Wrap(sterr.KindIOFailure, op, err)
		}
		for _, s := range e.senders {
			if err := s.Send(ctx, format.FrameHandshake, hs); err != nil {
				return err
			}
		}
	}
	return nil
}

// openReader builds the step source. A reader uses exactly one
// carrier: a pack file it polls or a stream it subscribes to.
func (e *Engine) openReader(ctx context.Context, opts Options) error {
	const op = "engine.Open"

	switch {
	case opts.Receiver != nil:
		if e.mode == ReadRandomAccess {
			return sterr.InvalidArgumentf(op, "random access needs a pack file, not a stream")
		}
		e.source = newStreamSource(opts.Receiver, streamRingSteps, e.log)
		return nil

	case len(opts.Files) == 1:
		return e.openPackSource(opts.Files[0])

	case len(opts.Files) > 1:
		return sterr.InvalidArgumentf(op, "a reader uses exactly one carrier, got %d files", len(opts.Files))
	}

	specs := opts.Transports
	if len(specs) == 0 {
		specs = []transport.Params{{transport.ParamType: "file"}}
	}
	if len(specs) > 1 {
		return sterr.InvalidArgumentf(op, "a reader uses exactly one carrier, got %d", len(specs))
	}
	params := specs[0]
	if params.String(transport.ParamType, "file") == "file" {
		f, err := transport.OpenFile(e.name, transport.AccessRead, params, e.log)
		if err != nil {
			return err
		}
		return e.openPackSource(f)
	}
	if e.mode == ReadRandomAccess {
		return sterr.InvalidArgumentf(op, "random access needs a pack file, not a stream")
	}
	recv, err := transport.OpenReceiver(ctx, e.name, params, e.log)
	if err != nil {
		return err
	}
	e.source = newStreamSource(recv, streamRingSteps, e.log)
	return nil
}

// openPackSource wraps an open pack file as the step source. Random
// access reads the open-time snapshot and registers every variable the
// footer names; streaming Read re-reads the footer while polling.
func (e *Engine) openPackSource(f transport.File) error {
	src, err := newPackSource(f, e.mode == Read, e.log)
	if err != nil {
		f.Close()
		return err
	}
	e.source = src

	if e.mode == ReadRandomAccess {
		footer := src.r.Footer()
		for i := range footer.Vars {
			sum := &footer.Vars[i]
			if _, err := e.store.Discover(sum.Name, sum.Type, sum.Class, sum.Shape); err != nil {
				e.log.Warn("skipping footer variable", "variable", sum.Name, "error", err)
			}
		}
		for _, attr := range footer.Attrs {
			if _, err := e.store.DefineAttribute(attr); err != nil {
				e.log.Warn("skipping footer attribute", "attribute", attr.Name, "error", err)
			}
		}
	}
	return nil
}

// Name returns the stream identity the engine was opened with.
func (e *Engine) Name() string { return e.name }

// Mode returns the open mode.
func (e *Engine) Mode() Mode { return e.mode }

// CurrentStep returns the step in flight, or for a writer between
// steps the number its next BeginStep will assign.
func (e *Engine) CurrentStep() uint64 {
	if e.current != nil {
		return e.current.Step
	}
	return e.curStep
}

// Steps returns the committed step numbers visible to a pack-backed
// reader, in file order. Nil for writers and stream readers.
func (e *Engine) Steps() []uint64 {
	if src, ok := e.source.(*packSource); ok {
		return src.r.Steps()
	}
	return nil
}

// BetweenSteps reports whether the engine will accept a BeginStep.
func (e *Engine) BetweenSteps() bool {
	return e.state == stateOpened || e.state == stateBetween
}

// Close ends the engine. A writer drains its async flusher, commits
// the final footer, and sends the end-of-stream sentinel; a reader
// stops its pump and releases the carrier. Closing inside a step is a
// programming error and closes nothing; closing twice is a no-op.
func (e *Engine) Close() error {
	const op = "engine.Close"
	switch e.state {
	case stateClosed:
		return nil
	case stateInStep:
		return sterr.InvalidArgumentf(op, "step %d is still open; EndStep first", e.CurrentStep())
	}
	e.state = stateClosed

	var errs []error
	if e.mode.writes() {
		if e.flush != nil {
			if err := e.flush.close(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, sink := range e.sinks {
			if err := sink.w.WriteFooter(true); err != nil {
				errs = append(errs, err)
			}
		}
		eof := format.EOFPayload()
		for _, s := range e.senders {
			if err := s.Send(context.Background(), format.FrameEOF, eof); err != nil {
				errs = append(errs, err)
			}
		}
		if e.staging != nil {
			e.met.ArenaHighWater(e.staging.HighWater())
		}
	}
	e.releaseCarriers()
	if e.comm != nil {
		if err := e.comm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.log.Debug("engine closed")
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(errs...))
}

// releaseCarriers closes every carrier the engine owns.
func (e *Engine) releaseCarriers() {
	for _, sink := range e.sinks {
		sink.file.Close()
	}
	e.sinks = nil
	for _, s := range e.senders {
		s.Close()
	}
	e.senders = nil
	if e.source != nil {
		e.source.close()
		e.source = nil
	}
}

// encodeStep and decodeStep carry a step number through a collective.
func encodeStep(step uint64) []byte {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], step)
	return raw[:]
}

func decodeStep(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, sterr.Consistencyf("engine.Open", "step broadcast is %d bytes, want 8", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}
