// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package stride

import (
	"log/slog"
	"sync"

	"github.com/stride-data/stride/config"
	"github.com/stride-data/stride/lib/clock"
	"github.com/stride-data/stride/transform"
)

// Options configures a Context. The zero value is usable: no
// configuration file, the process-default logger, the real clock.
type Options struct {
	// ConfigFile names a YAML or JSONC run configuration. Loaded at
	// NewContext; a missing or unparsable file is an error.
	ConfigFile string

	// Config supplies a pre-parsed configuration instead of a file.
	// Ignored when ConfigFile is set.
	Config *config.Config

	// Log is the base logger. Engines scope it with stream and mode.
	Log *slog.Logger

	// Clock drives BeginStep polling and open timeouts. Tests inject a
	// fake one.
	Clock clock.Clock
}

// Context is the root object of a Stride application: the named IO
// configurations, the operator registry shared by all of them, and the
// ambient logger and clock. A Context is safe for concurrent use;
// engines opened from it are not.
type Context struct {
	log *slog.Logger
	clk clock.Clock
	cfg *config.Config
	reg *transform.Registry

	mu  sync.Mutex
	ios map[string]*IO
}

// NewContext builds a Context from opts.
func NewContext(opts Options) (*Context, error) {
	cfg := opts.Config
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Context{
		log: log,
		clk: clk,
		cfg: cfg,
		reg: transform.NewRegistry(),
		ios: make(map[string]*IO),
	}, nil
}

// DeclareIO returns the IO named name, creating it on first use. A
// configuration file block of the same name seeds the engine kind,
// parameters, and transports; programmatic setters override it.
// Repeated calls with one name return the same IO.
func (c *Context) DeclareIO(name string) *IO {
	c.mu.Lock()
	defer c.mu.Unlock()
	if io, ok := c.ios[name]; ok {
		return io
	}
	io := newIO(c, name)
	if block, ok := c.cfg.IO(name); ok {
		io.engineKind = block.Engine
		io.params = io.params.Merge(block.Params)
		io.transports = append(io.transports, block.Transports...)
	}
	c.ios[name] = io
	return io
}

// InquireIO returns a previously declared IO.
func (c *Context) InquireIO(name string) (*IO, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	io, ok := c.ios[name]
	return io, ok
}

// DefineOperator names a configuration of a registered operator kind:
// chains referencing name use kind with params as defaults. The alias
// is visible to every IO of the context.
func (c *Context) DefineOperator(name, kind string, params transform.Params) error {
	return c.reg.Alias(name, kind, params)
}

// RegisterOperator adds a custom operator implementation to the
// context's registry.
func (c *Context) RegisterOperator(op transform.Operator) error {
	return c.reg.Register(op)
}

// Operators returns the context's operator registry.
func (c *Context) Operators() *transform.Registry { return c.reg }
