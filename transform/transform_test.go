// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/sterr"
)

// smoothFloat64 builds a compressible payload: slowly varying values
// whose high bytes repeat, the case shuffle+zstd is designed for.
func smoothFloat64(n int) []byte {
	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		v := 1000.0 + math.Sin(float64(i)/40.0)
		binary.NativeEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func randomBytes(n int) []byte {
	rng := rand.New(rand.NewSource(7))
	out := make([]byte, n)
	rng.Read(out)
	return out
}

func TestChainRoundTrip(t *testing.T) {
	reg := NewRegistry()
	src := smoothFloat64(512)

	chain := []Descriptor{
		{Name: "shuffle", Params: Params{"element_size": "8"}},
		{Name: "zstd"},
	}
	packed, recorded, err := reg.Apply(chain, src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(recorded) != 2 {
		t.Fatalf("recorded %d descriptors, want 2", len(recorded))
	}
	if recorded[0].InSize != uint64(len(src)) {
		t.Fatalf("stage 0 InSize = %d, want %d", recorded[0].InSize, len(src))
	}
	if len(packed) >= len(src) {
		t.Fatalf("shuffle+zstd did not shrink smooth data: %d >= %d", len(packed), len(src))
	}

	restored, err := reg.Reverse(recorded, packed)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if !bytes.Equal(restored, src) {
		t.Fatal("lossless chain did not restore the payload bit-exactly")
	}
}

func TestApplyForInjectsElementParams(t *testing.T) {
	reg := NewRegistry()
	src := smoothFloat64(256)

	// Bare shuffle and quantize stages: the element parameters come
	// from the variable type, not the chain.
	chain := []Descriptor{
		{Name: "shuffle"},
		{Name: "quantize", Params: Params{"tolerance": "0.001"}},
	}
	packed, recorded, err := reg.ApplyFor(dtype.Float64, chain, src)
	if err != nil {
		t.Fatalf("ApplyFor: %v", err)
	}
	if got := recorded[0].Params["element_size"]; got != "8" {
		t.Fatalf("shuffle element_size = %q, want 8", got)
	}
	if got := recorded[1].Params["element_type"]; got != "float64" {
		t.Fatalf("quantize element_type = %q, want float64", got)
	}

	// The recorded descriptors are self-describing: Reverse needs no
	// re-injection.
	if _, err := reg.Reverse(recorded, packed); err != nil {
		t.Fatalf("Reverse: %v", err)
	}

	// Explicit chain parameters beat the injected ones.
	override := []Descriptor{{Name: "shuffle", Params: Params{"element_size": "4"}}}
	_, recorded, err = reg.ApplyFor(dtype.Float64, override, src)
	if err != nil {
		t.Fatalf("ApplyFor with override: %v", err)
	}
	if got := recorded[0].Params["element_size"]; got != "4" {
		t.Fatalf("explicit element_size = %q, want 4", got)
	}
}

func TestDeclinedStageRecordsRawMarker(t *testing.T) {
	reg := NewRegistry()
	src := randomBytes(4096)

	packed, recorded, err := reg.Apply([]Descriptor{{Name: "zstd"}}, src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(packed, src) {
		t.Fatal("declined payload should pass through unchanged")
	}
	if recorded[0].Params[rawParam] != "1" {
		t.Fatalf("descriptor params = %v, want raw marker", recorded[0].Params)
	}

	restored, err := reg.Reverse(recorded, packed)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if !bytes.Equal(restored, src) {
		t.Fatal("raw-marked stage did not restore the payload")
	}
}

func TestLZ4AndSnappyRoundTrip(t *testing.T) {
	reg := NewRegistry()
	src := smoothFloat64(512)

	for _, name := range []string{"lz4", "snappy"} {
		packed, recorded, err := reg.Apply([]Descriptor{{Name: name}}, src)
		if err != nil {
			t.Fatalf("%s Apply: %v", name, err)
		}
		restored, err := reg.Reverse(recorded, packed)
		if err != nil {
			t.Fatalf("%s Reverse: %v", name, err)
		}
		if !bytes.Equal(restored, src) {
			t.Fatalf("%s did not restore the payload bit-exactly", name)
		}
	}
}

func TestShuffleHandlesRemainder(t *testing.T) {
	reg := NewRegistry()
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11} // 11 bytes, element_size 4

	chain := []Descriptor{{Name: "shuffle", Params: Params{"element_size": "4"}}}
	packed, recorded, err := reg.Apply(chain, src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(packed) != len(src) {
		t.Fatalf("shuffle changed payload size: %d != %d", len(packed), len(src))
	}
	if !bytes.Equal(packed[8:], src[8:]) {
		t.Fatal("shuffle must pass trailing partial element unchanged")
	}

	restored, err := reg.Reverse(recorded, packed)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if !bytes.Equal(restored, src) {
		t.Fatal("shuffle round trip failed")
	}
}

func TestUnknownOperatorIsNotSupported(t *testing.T) {
	reg := NewRegistry()
	_, _, err := reg.Apply([]Descriptor{{Name: "mgard"}}, []byte{1, 2, 3})
	if !sterr.Is(err, sterr.KindNotSupported) {
		t.Fatalf("Apply with unknown operator = %v, want NotSupported", err)
	}
	_, err = reg.Reverse([]Descriptor{{Name: "mgard", InSize: 3}}, []byte{1, 2, 3})
	if !sterr.Is(err, sterr.KindNotSupported) {
		t.Fatalf("Reverse with unknown operator = %v, want NotSupported", err)
	}
}

func TestAliasCarriesDefaults(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Alias("tiny", "quantize", Params{"tolerance": "0.01"}); err != nil {
		t.Fatalf("Alias: %v", err)
	}

	src := smoothFloat64(64)
	chain := []Descriptor{{Name: "tiny", Params: Params{"element_type": "float64"}}}
	_, recorded, err := reg.Apply(chain, src)
	if err != nil {
		t.Fatalf("Apply via alias: %v", err)
	}
	if recorded[0].Params["tolerance"] != "0.01" {
		t.Fatalf("alias defaults not merged: %v", recorded[0].Params)
	}
	if recorded[0].Name != "tiny" {
		t.Fatalf("descriptor name = %q, want alias name", recorded[0].Name)
	}

	if err := reg.Alias("zstd", "zstd", nil); err == nil {
		t.Error("Alias over a registered operator name should fail")
	}
	if err := reg.Alias("x", "missing", nil); !sterr.Is(err, sterr.KindNotSupported) {
		t.Errorf("Alias with unknown kind = %v, want NotSupported", err)
	}
}

func TestValidateRejectsLossyOnNonFloat(t *testing.T) {
	reg := NewRegistry()
	chain := []Descriptor{{Name: "quantize", Params: Params{"tolerance": "0.1"}}}

	if err := reg.Validate(chain, false); !sterr.Is(err, sterr.KindInvalidArgument) {
		t.Fatalf("Validate lossy on non-float = %v, want InvalidArgument", err)
	}
	if err := reg.Validate(chain, true); err != nil {
		t.Fatalf("Validate lossy on float: %v", err)
	}
	if err := reg.Validate([]Descriptor{{Name: "zstd"}}, false); err != nil {
		t.Fatalf("Validate lossless: %v", err)
	}
}

func TestReverseSizeMismatchIsConsistency(t *testing.T) {
	reg := NewRegistry()
	src := smoothFloat64(256)
	packed, recorded, err := reg.Apply([]Descriptor{{Name: "zstd"}}, src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	recorded[0].InSize += 8
	if _, err := reg.Reverse(recorded, packed); err == nil {
		t.Fatal("Reverse accepted a descriptor whose InSize contradicts the payload")
	}

	var declined error = ErrDeclined
	if !errors.Is(declined, ErrDeclined) {
		t.Fatal("ErrDeclined identity")
	}
}
