// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package stride

import (
	"context"
	"sync"

	"github.com/stride-data/stride/config"
	"github.com/stride-data/stride/coordinator"
	"github.com/stride-data/stride/engine"
	"github.com/stride-data/stride/metric"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/transport"
	"github.com/stride-data/stride/variable"
)

// engineKinds are the accepted SetEngine values. The kind names the
// default carrier an Open uses when no transport was added explicitly;
// "file" is the persistent engine, the rest are streaming.
var engineKinds = map[string]bool{
	"":       true,
	"file":   true,
	"tcp":    true,
	"nats":   true,
	"memory": true,
}

// IO is one named I/O configuration: a variable store plus the engine
// kind, parameters, and transports an Open turns into a running
// engine. One IO can open several engines (a writer and a checkpoint
// reader, say); they share the variable declarations.
type IO struct {
	name string
	ctx  *Context

	mu         sync.Mutex
	engineKind string
	params     transport.Params
	transports []transport.Params
	comm       coordinator.Comm
	store      *variable.Store
}

func newIO(ctx *Context, name string) *IO {
	return &IO{name: name, ctx: ctx, store: variable.NewStore()}
}

// Name returns the DeclareIO name.
func (io *IO) Name() string { return io.name }

// Store returns the IO's variable store.
func (io *IO) Store() *variable.Store { return io.store }

// SetEngine selects the engine kind: "file" for the persistent pack
// engine, "tcp", "nats", or "memory" for a streaming engine over that
// carrier. Unset means "file". An explicitly added transport takes
// precedence over the kind's default carrier.
func (io *IO) SetEngine(kind string) error {
	if !engineKinds[kind] {
		return sterr.NotSupportedf("stride.SetEngine", "unknown engine kind %q", kind)
	}
	io.mu.Lock()
	defer io.mu.Unlock()
	io.engineKind = kind
	return nil
}

// SetParameter sets one engine parameter, overriding the
// configuration file.
func (io *IO) SetParameter(key, value string) {
	io.mu.Lock()
	defer io.mu.Unlock()
	if io.params == nil {
		io.params = transport.Params{}
	}
	io.params[key] = value
}

// SetParameters merges params over the current engine parameters.
func (io *IO) SetParameters(params transport.Params) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.params = io.params.Merge(params)
}

// AddTransport appends a carrier of the given kind. A writer commits
// every step to all of its transports; a reader must end up with
// exactly one.
func (io *IO) AddTransport(kind string, params transport.Params) error {
	if kind == "" {
		return sterr.InvalidArgumentf("stride.AddTransport", "transport kind is empty")
	}
	spec := transport.Params{transport.ParamType: kind}.Merge(params)
	io.mu.Lock()
	defer io.mu.Unlock()
	io.transports = append(io.transports, spec)
	return nil
}

// SetComm attaches the collective communicator of a multi-peer run.
// The next Open hands it to the engine, which takes ownership and
// closes it; SetComm must be called again before another parallel
// Open.
func (io *IO) SetComm(comm coordinator.Comm) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.comm = comm
}

// InquireVariable looks a variable up by name. Readers see variables
// as soon as the step or footer metadata naming them is delivered.
func (io *IO) InquireVariable(name string) (*variable.Variable, bool) {
	return io.store.Inquire(name)
}

// InquireAttribute looks an attribute up by name and owning variable
// ("" for IO scope).
func (io *IO) InquireAttribute(name, of string) (*variable.Attribute, bool) {
	return io.store.InquireAttribute(name, of)
}

// RemoveVariable deletes a declared variable and its attributes.
func (io *IO) RemoveVariable(name string) bool {
	return io.store.Remove(name)
}

// Open builds an engine from the IO's configuration. name is the
// stream identity: the pack path for file engines, the stream ID for
// streaming ones. The engine must be closed explicitly; Close is
// idempotent.
func (io *IO) Open(ctx context.Context, name string, mode engine.Mode) (*engine.Engine, error) {
	io.mu.Lock()
	kind := io.engineKind
	params := io.params.Merge(nil)
	specs := append([]transport.Params(nil), io.transports...)
	comm := io.comm
	io.comm = nil
	io.mu.Unlock()

	log := io.ctx.log.With("io", io.name)
	settings, err := config.ParseSettings(params, log)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 && kind != "" && kind != "file" {
		specs = []transport.Params{{transport.ParamType: kind}}
	}

	return engine.Open(ctx, engine.Options{
		Name:       name,
		Mode:       mode,
		Transports: specs,
		Store:      io.store,
		Registry:   io.ctx.reg,
		Comm:       comm,
		Settings:   settings,
		Metrics:    metric.New(settings.StatsLevel),
		Log:        log,
		Clock:      io.ctx.clk,
	})
}
