// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package variable

import (
	"errors"
	"testing"

	"github.com/stride-data/stride/lib/box"
	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/transform"
)

func TestDeclareAndInquire(t *testing.T) {
	s := NewStore()

	v, err := s.Declare("temperature", dtype.Float64, GlobalArray,
		[]uint64{100, 50}, box.New([]uint64{0, 0}, []uint64{100, 50}), false)
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if v.Name() != "temperature" || v.Type() != dtype.Float64 {
		t.Fatalf("handle = %s %v", v.Name(), v.Type())
	}

	got, ok := s.Inquire("temperature")
	if !ok || got != v {
		t.Fatal("Inquire did not return the declared handle")
	}
	if _, ok := s.Inquire("pressure"); ok {
		t.Fatal("Inquire found an undeclared variable")
	}
}

func TestRedeclareTypeMismatchRejected(t *testing.T) {
	s := NewStore()
	if _, err := s.Declare("x", dtype.Int32, GlobalValue, nil, box.Box{}, false); err != nil {
		t.Fatalf("Declare: %v", err)
	}

	_, err := s.Declare("x", dtype.Float64, GlobalValue, nil, box.Box{}, false)
	if !errors.Is(err, sterr.ErrTypeMismatch) {
		t.Fatalf("redeclare with new type = %v, want ErrTypeMismatch", err)
	}

	// Same type redeclaration returns the existing handle.
	again, err := s.Declare("x", dtype.Int32, GlobalValue, nil, box.Box{}, false)
	if err != nil {
		t.Fatalf("idempotent redeclare: %v", err)
	}
	if first, _ := s.Inquire("x"); first != again {
		t.Fatal("redeclare returned a different handle")
	}
}

func TestInquireByCode(t *testing.T) {
	s := NewStore()
	mustDeclare(t, s, "b", dtype.Float64)
	mustDeclare(t, s, "a", dtype.Float64)
	mustDeclare(t, s, "c", dtype.Int32)

	matches := s.InquireByCode(dtype.Float64)
	if len(matches) != 2 || matches[0].Name() != "a" || matches[1].Name() != "b" {
		t.Fatalf("InquireByCode(Float64) = %v", names(matches))
	}
	if got := s.InquireByCode(dtype.Complex128); len(got) != 0 {
		t.Fatalf("InquireByCode(Complex128) = %v, want none", names(got))
	}
}

func TestConstantDimsFreezeSelection(t *testing.T) {
	s := NewStore()
	v, err := s.Declare("fixed", dtype.Int64, GlobalArray,
		[]uint64{10}, box.New([]uint64{2}, []uint64{4}), true)
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}

	// Identical selection is allowed.
	if err := v.SetSelection([]uint64{2}, []uint64{4}); err != nil {
		t.Fatalf("SetSelection with identical box: %v", err)
	}
	if err := v.SetSelection([]uint64{0}, []uint64{4}); !sterr.Is(err, sterr.KindInvalidArgument) {
		t.Fatalf("SetSelection under constant dims = %v, want InvalidArgument", err)
	}
	if err := v.SetShape([]uint64{20}); !sterr.Is(err, sterr.KindInvalidArgument) {
		t.Fatalf("SetShape under constant dims = %v, want InvalidArgument", err)
	}
}

func TestSelectionValidation(t *testing.T) {
	s := NewStore()
	v, err := s.Declare("grid", dtype.Float32, GlobalArray,
		[]uint64{100, 50}, box.Box{}, false)
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}

	if err := v.SetSelection([]uint64{90, 0}, []uint64{20, 50}); err == nil {
		t.Fatal("SetSelection accepted an out-of-bounds box")
	}
	if err := v.SetSelection([]uint64{90, 0}, []uint64{10, 50}); err != nil {
		t.Fatalf("SetSelection in bounds: %v", err)
	}

	scalar, err := s.Declare("count", dtype.Uint64, GlobalValue, nil, box.Box{}, false)
	if err != nil {
		t.Fatalf("Declare scalar: %v", err)
	}
	if err := scalar.SetSelection([]uint64{0}, []uint64{1}); err == nil {
		t.Fatal("SetSelection accepted on a value class")
	}
}

func TestJoinedDimensionDeclare(t *testing.T) {
	s := NewStore()
	if _, err := s.Declare("rows", dtype.Float64, GlobalArray,
		[]uint64{box.JoinedDim, 8}, box.New(nil, []uint64{3, 8}), false); err != nil {
		t.Fatalf("Declare with one joined dimension: %v", err)
	}
	if _, err := s.Declare("bad", dtype.Float64, GlobalArray,
		[]uint64{box.JoinedDim, box.JoinedDim}, box.Box{}, false); err == nil {
		t.Fatal("Declare accepted two joined dimensions")
	}
}

func TestRemoveDropsVariableAndItsAttributes(t *testing.T) {
	s := NewStore()
	mustDeclare(t, s, "field", dtype.Float64)
	if _, err := s.DefineAttribute(Attribute{
		Name: "units", Of: "field", Type: dtype.Char8, Elements: 1, Data: []byte("K"), Scalar: true,
	}); err != nil {
		t.Fatalf("DefineAttribute: %v", err)
	}
	if _, err := s.DefineAttribute(Attribute{
		Name: "run", Type: dtype.Char8, Elements: 2, Data: []byte("42"),
	}); err != nil {
		t.Fatalf("DefineAttribute: %v", err)
	}

	if !s.Remove("field") {
		t.Fatal("Remove returned false for a declared variable")
	}
	if s.Remove("field") {
		t.Fatal("Remove returned true twice")
	}
	if _, ok := s.InquireAttribute("units", "field"); ok {
		t.Fatal("variable-scoped attribute survived Remove")
	}
	if _, ok := s.InquireAttribute("run", ""); !ok {
		t.Fatal("IO-scoped attribute was dropped by Remove")
	}
}

func TestAttributeRedefinition(t *testing.T) {
	s := NewStore()
	attr := Attribute{Name: "version", Type: dtype.Int32, Elements: 1, Data: []byte{1, 0, 0, 0}, Scalar: true}

	if _, err := s.DefineAttribute(attr); err != nil {
		t.Fatalf("DefineAttribute: %v", err)
	}
	if _, err := s.DefineAttribute(attr); err != nil {
		t.Fatalf("identical redefinition: %v", err)
	}
	changed := attr
	changed.Data = []byte{2, 0, 0, 0}
	if _, err := s.DefineAttribute(changed); err == nil {
		t.Fatal("DefineAttribute accepted changed content")
	}
	orphan := Attribute{Name: "x", Of: "missing", Type: dtype.Int32, Elements: 1, Data: []byte{0, 0, 0, 0}}
	if _, err := s.DefineAttribute(orphan); !errors.Is(err, sterr.ErrUnknownVariable) {
		t.Fatalf("attribute of unknown variable = %v, want ErrUnknownVariable", err)
	}
}

func TestOperationsSnapshot(t *testing.T) {
	s := NewStore()
	v := mustDeclare(t, s, "field", dtype.Float64)

	v.AddOperation("shuffle", nil)
	v.AddOperation("zstd", transform.Params{"level": "fastest"})

	ops := v.Operations()
	if len(ops) != 2 || ops[0].Name != "shuffle" || ops[1].Name != "zstd" {
		t.Fatalf("Operations = %v", ops)
	}

	// The returned slice is a copy.
	ops[0].Name = "mutated"
	if v.Operations()[0].Name != "shuffle" {
		t.Fatal("Operations returned shared backing storage")
	}

	v.ClearOperations()
	if len(v.Operations()) != 0 {
		t.Fatal("ClearOperations left stages behind")
	}
}

func TestDiscoverFromStreamMetadata(t *testing.T) {
	s := NewStore()

	// A local array arrives with no extents; Declare would reject it
	// but readers take it as reported.
	v, err := s.Discover("blocks", dtype.Int32, LocalArray, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if v.ShapeID() != LocalArray {
		t.Fatalf("ShapeID = %v, want LocalArray", v.ShapeID())
	}

	// Re-discovery with an evolved shape refreshes in place and keeps
	// the handle stable.
	g, err := s.Discover("field", dtype.Float64, GlobalArray, []uint64{8, 4})
	if err != nil {
		t.Fatalf("Discover field: %v", err)
	}
	again, err := s.Discover("field", dtype.Float64, GlobalArray, []uint64{16, 4})
	if err != nil {
		t.Fatalf("re-Discover field: %v", err)
	}
	if again != g {
		t.Fatal("re-discovery returned a different handle")
	}
	if shape := g.Shape(); shape[0] != 16 {
		t.Fatalf("Shape after re-discovery = %v, want [16 4]", shape)
	}

	// A type change mid-stream is corruption, not evolution.
	if _, err := s.Discover("field", dtype.Int32, GlobalArray, []uint64{16, 4}); !sterr.Is(err, sterr.KindConsistency) {
		t.Fatalf("type change = %v, want Consistency", err)
	}
	if _, err := s.Discover("field", dtype.Float64, LocalArray, nil); !sterr.Is(err, sterr.KindConsistency) {
		t.Fatalf("class change = %v, want Consistency", err)
	}
}

func mustDeclare(t *testing.T, s *Store, name string, code dtype.Code) *Variable {
	t.Helper()
	v, err := s.Declare(name, code, GlobalArray, []uint64{16}, box.Box{}, false)
	if err != nil {
		t.Fatalf("Declare %s: %v", name, err)
	}
	return v
}

func names(vars []*Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name()
	}
	return out
}
