// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package transform implements the operator pipeline applied to block
// payloads: an ordered chain of codecs run forward at Put time and in
// reverse at Get time.
//
// Each [Operator] is either bijective (lossless) or bounded by a
// tolerance contract: with parameter tolerance=τ the reconstructed
// values satisfy |x′−x| ≤ τ·max|x| per block. The [Descriptor] chain
// recorded in the step index preserves the exact operator order and
// parameters so any conforming reader can unwind it. A lossless
// operator may decline incompressible input; the descriptor then
// carries a raw marker and the payload passes through unchanged.
//
// The built-in operators are zstd, lz4, snappy, shuffle (byte
// transposition by element width), quantize (lossy, tolerance-bounded
// uniform quantization), and identity.
package transform

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/sterr"
)

// Params is an operator parameter map. Values are strings on the wire;
// operators parse what they need.
type Params map[string]string

// rawParam marks a descriptor whose operator declined the payload at
// write time. Reverse treats the stage as identity.
const rawParam = "raw"

// ErrDeclined is returned by a lossless operator whose output would
// not be smaller than its input. The pipeline records the raw marker
// and passes the payload through.
var ErrDeclined = errors.New("operator declined payload")

// Operator is one stage of a transform chain.
type Operator interface {
	// Name returns the wire identifier recorded in descriptors.
	Name() string

	// Apply transforms a payload on the write path.
	Apply(src []byte, params Params) ([]byte, error)

	// Reverse undoes Apply on the read path. origSize is the byte
	// length that entered Apply; the result must be exactly that long.
	Reverse(src []byte, params Params, origSize int) ([]byte, error)
}

// Lossy is implemented by operators that do not reconstruct input
// bit-exactly. The engine rejects lossy operators on non-float
// variables.
type Lossy interface {
	Lossy() bool
}

// IsLossy reports whether op declares itself lossy.
func IsLossy(op Operator) bool {
	l, ok := op.(Lossy)
	return ok && l.Lossy()
}

// Descriptor names one stage of a chain as stored in the step index:
// the operator, its parameters, and the byte length that entered the
// stage on write (Reverse needs it to size its output).
type Descriptor struct {
	Name   string `cbor:"name"`
	Params Params `cbor:"params,omitempty"`
	InSize uint64 `cbor:"in_size,omitempty"`
}

// alias is a named operator configuration created by DefineOperator:
// a base operator plus default parameters.
type alias struct {
	kind   string
	params Params
}

// Registry resolves operator names for a context. A fresh registry
// carries the built-in operators; applications register custom ones
// or define parameterized aliases over existing ones.
type Registry struct {
	mu      sync.RWMutex
	ops     map[string]Operator
	aliases map[string]alias
}

// NewRegistry returns a registry with the built-in operators
// registered.
func NewRegistry() *Registry {
	r := &Registry{
		ops:     make(map[string]Operator),
		aliases: make(map[string]alias),
	}
	for _, op := range []Operator{
		identityOp{},
		zstdOp{},
		lz4Op{},
		snappyOp{},
		shuffleOp{},
		quantizeOp{},
	} {
		r.ops[op.Name()] = op
	}
	return r
}

// Register adds a custom operator. Re-registering a name fails.
func (r *Registry) Register(op Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := op.Name()
	if _, exists := r.ops[name]; exists {
		return sterr.InvalidArgumentf("transform.Register", "operator %q is already registered", name)
	}
	if _, exists := r.aliases[name]; exists {
		return sterr.InvalidArgumentf("transform.Register", "operator %q is already defined as an alias", name)
	}
	r.ops[name] = op
	return nil
}

// Alias defines a named configuration of an existing operator: chains
// that reference name use the kind operator with params as defaults.
func (r *Registry) Alias(name, kind string, params Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[name]; exists {
		return sterr.InvalidArgumentf("transform.Alias", "%q names a registered operator", name)
	}
	if _, exists := r.ops[kind]; !exists {
		return sterr.NotSupportedf("transform.Alias", "operator kind %q is not registered", kind)
	}
	r.aliases[name] = alias{kind: kind, params: maps.Clone(params)}
	return nil
}

// Resolve maps a chain name to its operator and base parameters.
// Unknown names are NotSupported: on the reader this surfaces per Get
// without affecting other variables.
func (r *Registry) Resolve(name string) (Operator, Params, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if op, ok := r.ops[name]; ok {
		return op, nil, nil
	}
	if a, ok := r.aliases[name]; ok {
		return r.ops[a.kind], a.params, nil
	}
	return nil, nil, sterr.NotSupportedf("transform.Resolve", "operator %q is not registered", name)
}

// ElementAware marks operators whose required parameters derive from
// the variable's element type rather than the chain declaration:
// shuffle needs element_size, quantize needs element_type. The engine
// injects both through [Registry.ApplyFor]; explicit chain parameters
// win. The injected values are recorded in the descriptors, so
// Reverse needs no re-injection.
type ElementAware interface {
	ElementAware()
}

// ElementParams returns the parameters injected for element-aware
// stages of a variable with the given element type.
func ElementParams(code dtype.Code) Params {
	return Params{
		"element_type": code.String(),
		"element_size": strconv.Itoa(code.Size()),
	}
}

// Apply runs a chain forward over src and returns the final payload
// together with the descriptors to record, one per stage in
// application order. Parameters in the chain override alias defaults.
func (r *Registry) Apply(chain []Descriptor, src []byte) ([]byte, []Descriptor, error) {
	return r.apply(chain, src, nil)
}

// ApplyFor is Apply with the element parameters of code injected into
// element-aware stages that do not set them explicitly.
func (r *Registry) ApplyFor(code dtype.Code, chain []Descriptor, src []byte) ([]byte, []Descriptor, error) {
	return r.apply(chain, src, ElementParams(code))
}

func (r *Registry) apply(chain []Descriptor, src []byte, element Params) ([]byte, []Descriptor, error) {
	out := src
	recorded := make([]Descriptor, 0, len(chain))
	for i, stage := range chain {
		op, base, err := r.Resolve(stage.Name)
		if err != nil {
			return nil, nil, err
		}
		if _, aware := op.(ElementAware); aware && element != nil {
			base = mergeParams(element, base)
		}
		params := mergeParams(base, stage.Params)
		desc := Descriptor{Name: stage.Name, Params: params, InSize: uint64(len(out))}

		result, err := op.Apply(out, params)
		switch {
		case errors.Is(err, ErrDeclined):
			desc.Params = withRawMarker(params)
			result = out
		case err != nil:
			return nil, nil, fmt.Errorf("chain stage %d (%s): %w", i, stage.Name, err)
		}
		recorded = append(recorded, desc)
		out = result
	}
	return out, recorded, nil
}

// Reverse unwinds recorded descriptors over a stored payload, last
// stage first, and returns the original block bytes.
func (r *Registry) Reverse(recorded []Descriptor, payload []byte) ([]byte, error) {
	out := payload
	for i := len(recorded) - 1; i >= 0; i-- {
		desc := recorded[i]
		if desc.Params[rawParam] == "1" {
			continue
		}
		op, _, err := r.Resolve(desc.Name)
		if err != nil {
			return nil, err
		}
		out, err = op.Reverse(out, desc.Params, int(desc.InSize))
		if err != nil {
			return nil, fmt.Errorf("chain stage %d (%s): %w", i, desc.Name, err)
		}
		if uint64(len(out)) != desc.InSize {
			return nil, sterr.Consistencyf("transform.Reverse",
				"stage %d (%s) produced %d bytes, descriptor records %d", i, desc.Name, len(out), desc.InSize)
		}
	}
	return out, nil
}

// Validate resolves every stage of a chain, checking that lossy
// stages are permitted. Used at declaration time so a bad chain fails
// at AddOperation rather than mid-step.
func (r *Registry) Validate(chain []Descriptor, allowLossy bool) error {
	for i, stage := range chain {
		op, _, err := r.Resolve(stage.Name)
		if err != nil {
			return err
		}
		if !allowLossy && IsLossy(op) {
			return sterr.InvalidArgumentf("transform.Validate",
				"stage %d: lossy operator %q requires a floating-point variable", i, stage.Name)
		}
	}
	return nil
}

func mergeParams(base, override Params) Params {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(Params, len(base)+len(override))
	maps.Copy(merged, base)
	maps.Copy(merged, override)
	return merged
}

func withRawMarker(params Params) Params {
	marked := make(Params, len(params)+1)
	maps.Copy(marked, params)
	marked[rawParam] = "1"
	return marked
}

// identityOp passes payloads through unchanged. It exists so chains
// can be configured explicitly as identity and so tests have a
// trivially observable stage.
type identityOp struct{}

func (identityOp) Name() string { return "identity" }

func (identityOp) Apply(src []byte, _ Params) ([]byte, error) { return src, nil }

func (identityOp) Reverse(src []byte, _ Params, origSize int) ([]byte, error) {
	if len(src) != origSize {
		return nil, fmt.Errorf("identity payload is %d bytes, expected %d", len(src), origSize)
	}
	return src, nil
}
