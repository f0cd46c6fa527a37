// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package stride

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stride-data/stride/engine"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/variable"
)

func newTestContext(t *testing.T, opts Options) *Context {
	t.Helper()
	sctx, err := NewContext(opts)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return sctx
}

func TestDeclareIOReturnsSameHandle(t *testing.T) {
	sctx := newTestContext(t, Options{})
	a := sctx.DeclareIO("sim")
	b := sctx.DeclareIO("sim")
	if a != b {
		t.Fatal("DeclareIO returned a new IO for a declared name")
	}
	if _, ok := sctx.InquireIO("other"); ok {
		t.Fatal("InquireIO found an undeclared IO")
	}
}

func TestDefineVariableClassInference(t *testing.T) {
	sctx := newTestContext(t, Options{})
	io := sctx.DeclareIO("sim")

	global, err := DefineVariable[float64](io, "temperature",
		[]uint64{100, 50}, []uint64{0, 0}, []uint64{100, 50}, false)
	if err != nil {
		t.Fatalf("DefineVariable global: %v", err)
	}
	if got := global.ShapeID(); got != variable.GlobalArray {
		t.Fatalf("shape class = %v, want global array", got)
	}

	local, err := DefineVariable[int32](io, "cells", nil, nil, []uint64{128}, false)
	if err != nil {
		t.Fatalf("DefineVariable local: %v", err)
	}
	if got := local.ShapeID(); got != variable.LocalArray {
		t.Fatalf("shape class = %v, want local array", got)
	}

	value, err := DefineVariable[uint64](io, "step-count", nil, nil, nil, false)
	if err != nil {
		t.Fatalf("DefineVariable value: %v", err)
	}
	if got := value.ShapeID(); got != variable.GlobalValue {
		t.Fatalf("shape class = %v, want global value", got)
	}

	rankVal, err := DefineLocalValue[float32](io, "residual")
	if err != nil {
		t.Fatalf("DefineLocalValue: %v", err)
	}
	if got := rankVal.ShapeID(); got != variable.LocalValue {
		t.Fatalf("shape class = %v, want local value", got)
	}

	if _, err := DefineVariable[int8](io, "bad", nil, []uint64{3}, nil, false); err == nil {
		t.Fatal("start without shape or count was accepted")
	}
}

func TestDefineVariableTypeMismatch(t *testing.T) {
	sctx := newTestContext(t, Options{})
	io := sctx.DeclareIO("sim")

	if _, err := DefineVariable[float64](io, "t", []uint64{4}, nil, nil, false); err != nil {
		t.Fatalf("DefineVariable: %v", err)
	}
	_, err := DefineVariable[int32](io, "t", []uint64{4}, nil, nil, false)
	if !errors.Is(err, sterr.ErrTypeMismatch) {
		t.Fatalf("redeclare with different type: got %v, want ErrTypeMismatch", err)
	}
}

func TestInquireVariablesByType(t *testing.T) {
	sctx := newTestContext(t, Options{})
	io := sctx.DeclareIO("sim")
	for _, name := range []string{"b", "a"} {
		if _, err := DefineVariable[float64](io, name, []uint64{2}, nil, nil, false); err != nil {
			t.Fatalf("DefineVariable %s: %v", name, err)
		}
	}
	if _, err := DefineVariable[int16](io, "c", []uint64{2}, nil, nil, false); err != nil {
		t.Fatalf("DefineVariable c: %v", err)
	}

	doubles := InquireVariables[float64](io)
	if len(doubles) != 2 || doubles[0].Name() != "a" || doubles[1].Name() != "b" {
		t.Fatalf("InquireVariables[float64] = %v, want [a b]", doubles)
	}
	if got := InquireVariables[int64](io); len(got) != 0 {
		t.Fatalf("InquireVariables[int64] found %d variables, want none", len(got))
	}
}

func TestDefineAttribute(t *testing.T) {
	sctx := newTestContext(t, Options{})
	io := sctx.DeclareIO("sim")

	if _, err := DefineAttribute[float64](io, "dt", 0.25); err != nil {
		t.Fatalf("DefineAttribute: %v", err)
	}
	attr, ok := io.InquireAttribute("dt", "")
	if !ok {
		t.Fatal("scalar attribute not inquirable")
	}
	if !attr.Scalar || attr.Elements != 1 {
		t.Fatalf("scalar attribute recorded as %d-element, scalar=%v", attr.Elements, attr.Scalar)
	}

	if _, err := DefineVariable[float64](io, "t", []uint64{4}, nil, nil, false); err != nil {
		t.Fatalf("DefineVariable: %v", err)
	}
	if _, err := DefineAttributeVector[int32](io, "origin", []int32{1, 2, 3}, "t"); err != nil {
		t.Fatalf("DefineAttributeVector: %v", err)
	}
	if _, ok := io.InquireAttribute("origin", "t"); !ok {
		t.Fatal("variable-scoped attribute not inquirable")
	}

	_, err := DefineAttribute[int8](io, "x", 1, "no-such-variable")
	if !errors.Is(err, sterr.ErrUnknownVariable) {
		t.Fatalf("attribute on unknown variable: got %v, want ErrUnknownVariable", err)
	}
}

func TestSetEngineRejectsUnknownKind(t *testing.T) {
	sctx := newTestContext(t, Options{})
	io := sctx.DeclareIO("sim")
	if err := io.SetEngine("rdma"); !sterr.Is(err, sterr.KindNotSupported) {
		t.Fatalf("SetEngine(rdma) = %v, want NotSupported", err)
	}
	if err := io.SetEngine("file"); err != nil {
		t.Fatalf("SetEngine(file): %v", err)
	}
}

func TestConfigFileSeedsIO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	doc := `ios:
  sim:
    engine: file
    parameters:
      StatsLevel: 0
      InitialBufferSize: 1MiB
    transports:
      - type: file
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	sctx := newTestContext(t, Options{ConfigFile: path})
	io := sctx.DeclareIO("sim")
	if io.engineKind != "file" {
		t.Fatalf("engine kind = %q, want file", io.engineKind)
	}
	if got := io.params.String("InitialBufferSize", ""); got != "1MiB" {
		t.Fatalf("InitialBufferSize = %q, want 1MiB", got)
	}
	if len(io.transports) != 1 {
		t.Fatalf("transports = %d, want 1", len(io.transports))
	}
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	sctx := newTestContext(t, Options{})
	pack := filepath.Join(t.TempDir(), "run.sp")

	out := sctx.DeclareIO("out")
	temp, err := DefineVariable[float64](out, "temperature", []uint64{10}, []uint64{0}, []uint64{10}, true)
	if err != nil {
		t.Fatalf("DefineVariable: %v", err)
	}
	data := make([]float64, 10)
	for i := range data {
		data[i] = float64(i) * 1.5
	}

	writer, err := out.Open(context.Background(), pack, engine.Write)
	if err != nil {
		t.Fatalf("Open(write): %v", err)
	}
	if err := writer.BeginStep(context.Background(), engine.NextAvailable, -1); err != nil {
		t.Fatalf("BeginStep: %v", err)
	}
	if _, err := engine.Put(writer, temp, data, engine.Sync); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := writer.EndStep(context.Background()); err != nil {
		t.Fatalf("EndStep: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	in := sctx.DeclareIO("in")
	reader, err := in.Open(context.Background(), pack, engine.ReadRandomAccess)
	if err != nil {
		t.Fatalf("Open(read): %v", err)
	}
	defer reader.Close()

	got, ok := in.InquireVariable("temperature")
	if !ok {
		t.Fatal("temperature not discovered from footer")
	}
	back := make([]float64, 10)
	if _, err := engine.Get(reader, got, back, engine.Sync); err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := range data {
		if back[i] != data[i] {
			t.Fatalf("element %d = %g, want %g", i, back[i], data[i])
		}
	}
}
