// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package variable

import (
	"bytes"
	"slices"
	"sort"
	"sync"

	"github.com/stride-data/stride/lib/box"
	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/sterr"
)

// Store holds the variables and attributes declared in one IO
// context. Variables are discoverable by name and by element type
// code; attributes by name and owning variable.
type Store struct {
	mu    sync.RWMutex
	vars  map[string]*Variable
	attrs map[string]*Attribute
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		vars:  make(map[string]*Variable),
		attrs: make(map[string]*Attribute),
	}
}

// Declare registers a variable. Redeclaring an existing name with the
// same element type returns the existing handle unchanged; a
// mismatching type is rejected. Shape rules by class:
//
//   - GlobalArray: shape required, at most one joined dimension, and
//     any initial selection must lie inside it.
//   - LocalArray: no shape; the selection count gives the block
//     extents.
//   - GlobalValue, LocalValue: scalar; no shape or selection.
func (s *Store) Declare(name string, typ dtype.Code, shapeID ShapeID, shape []uint64, sel box.Box, constantDims bool) (*Variable, error) {
	if name == "" {
		return nil, sterr.InvalidArgumentf("variable.Declare", "variable name is empty")
	}
	if !typ.Valid() {
		return nil, sterr.InvalidArgumentf("variable.Declare", "%s: element type %v is not supported", name, typ)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.vars[name]; ok {
		if existing.typ != typ {
			return nil, sterr.Wrap(sterr.KindInvalidArgument, "variable.Declare",
				sterr.ErrTypeMismatch)
		}
		return existing, nil
	}

	switch shapeID {
	case GlobalArray:
		if len(shape) == 0 {
			return nil, sterr.InvalidArgumentf("variable.Declare", "%s: a global array needs global extents", name)
		}
		if err := box.ValidateShape(shape); err != nil {
			return nil, sterr.Wrap(sterr.KindInvalidArgument, "variable.Declare", err)
		}
		if sel.Dims() > 0 {
			if err := box.Validate(sel, shape); err != nil {
				return nil, sterr.Wrap(sterr.KindInvalidArgument, "variable.Declare", err)
			}
		}
	case LocalArray:
		if len(shape) != 0 {
			return nil, sterr.InvalidArgumentf("variable.Declare", "%s: a local array has no global extents", name)
		}
		if sel.Dims() == 0 {
			return nil, sterr.InvalidArgumentf("variable.Declare", "%s: a local array needs block extents", name)
		}
		if len(sel.Start) == 0 {
			sel.Start = make([]uint64, sel.Dims())
		}
	case GlobalValue, LocalValue:
		if len(shape) != 0 || sel.Dims() != 0 {
			return nil, sterr.InvalidArgumentf("variable.Declare", "%s: a %s is a scalar", name, shapeID)
		}
	default:
		return nil, sterr.InvalidArgumentf("variable.Declare", "%s: unknown shape class %d", name, shapeID)
	}

	v := &Variable{
		name:         name,
		typ:          typ,
		shapeID:      shapeID,
		shape:        slices.Clone(shape),
		sel:          box.New(sel.Start, sel.Count),
		constantDims: constantDims,
	}
	s.vars[name] = v
	return v, nil
}

// Discover registers a variable learned from incoming step or footer
// metadata. Unlike Declare it skips the writer-side shape rules:
// readers take shapes as the stream reports them, including local
// arrays with no extents on record. Re-discovery refreshes the shape
// (shapes may evolve step to step) and returns the existing handle; a
// type or class change mid-stream is a Consistency error.
func (s *Store) Discover(name string, typ dtype.Code, shapeID ShapeID, shape []uint64) (*Variable, error) {
	const op = "variable.Discover"
	if name == "" {
		return nil, sterr.InvalidArgumentf(op, "variable name is empty")
	}
	if !typ.Valid() {
		return nil, sterr.InvalidArgumentf(op, "%s: element type %v is not supported", name, typ)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.vars[name]; ok {
		if existing.typ != typ {
			return nil, sterr.Consistencyf(op, "%s changed type from %v to %v mid-stream", name, existing.typ, typ)
		}
		if existing.shapeID != shapeID {
			return nil, sterr.Consistencyf(op, "%s changed class from %s to %s mid-stream", name, existing.shapeID, shapeID)
		}
		if len(shape) > 0 {
			existing.mu.Lock()
			existing.shape = slices.Clone(shape)
			existing.mu.Unlock()
		}
		return existing, nil
	}
	v := &Variable{
		name:    name,
		typ:     typ,
		shapeID: shapeID,
		shape:   slices.Clone(shape),
	}
	s.vars[name] = v
	return v, nil
}

// Inquire looks a variable up by name.
func (s *Store) Inquire(name string) (*Variable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// InquireByCode returns every variable of the given element type,
// sorted by name.
func (s *Store) InquireByCode(code dtype.Code) []*Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []*Variable
	for _, v := range s.vars {
		if v.typ == code {
			matches = append(matches, v)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].name < matches[j].name })
	return matches
}

// Remove deletes a variable and its variable-scoped attributes.
// Returns false when the name is not declared.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[name]; !ok {
		return false
	}
	delete(s.vars, name)
	for key, attr := range s.attrs {
		if attr.Of == name {
			delete(s.attrs, key)
		}
	}
	return true
}

// Names returns the declared variable names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every declared variable, sorted by name.
func (s *Store) All() []*Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*Variable, 0, len(s.vars))
	for _, v := range s.vars {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })
	return all
}

// DefineAttribute registers an attribute. Redefining with identical
// content is a no-op; different content is rejected (attributes are
// step-less constants).
func (s *Store) DefineAttribute(a Attribute) (*Attribute, error) {
	if a.Name == "" {
		return nil, sterr.InvalidArgumentf("variable.DefineAttribute", "attribute name is empty")
	}
	if !a.Type.Valid() {
		return nil, sterr.InvalidArgumentf("variable.DefineAttribute",
			"%s: element type %v is not supported", a.Name, a.Type)
	}
	if a.Elements <= 0 || len(a.Data) != a.Elements*a.Type.Size() {
		return nil, sterr.InvalidArgumentf("variable.DefineAttribute",
			"%s: %d bytes of data for %d %v elements", a.Name, len(a.Data), a.Elements, a.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Of != "" {
		if _, ok := s.vars[a.Of]; !ok {
			return nil, sterr.Wrap(sterr.KindInvalidArgument, "variable.DefineAttribute", sterr.ErrUnknownVariable)
		}
	}
	key := a.key()
	if existing, ok := s.attrs[key]; ok {
		if existing.Type != a.Type || !bytes.Equal(existing.Data, a.Data) {
			return nil, sterr.InvalidArgumentf("variable.DefineAttribute",
				"%s is already defined with different content", key)
		}
		return existing, nil
	}
	stored := &Attribute{
		Name:     a.Name,
		Of:       a.Of,
		Type:     a.Type,
		Elements: a.Elements,
		Data:     slices.Clone(a.Data),
		Scalar:   a.Scalar,
	}
	s.attrs[key] = stored
	return stored, nil
}

// InquireAttribute looks up an attribute by name and owning variable
// ("" for IO-scoped).
func (s *Store) InquireAttribute(name, of string) (*Attribute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attrs[Attribute{Name: name, Of: of}.key()]
	return a, ok
}

// Attributes returns every attribute, sorted by owning variable then
// name.
func (s *Store) Attributes() []*Attribute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*Attribute, 0, len(s.attrs))
	for _, a := range s.attrs {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Of != all[j].Of {
			return all[i].Of < all[j].Of
		}
		return all[i].Name < all[j].Name
	})
	return all
}
