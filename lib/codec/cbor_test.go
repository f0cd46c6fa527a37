// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

// sampleBlock is a representative index record using cbor struct tags
// (the convention for purely-internal wire types).
type sampleBlock struct {
	Rank   int      `cbor:"rank"`
	Offset uint64   `cbor:"offset"`
	Start  []uint64 `cbor:"start,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleBlock{
		Rank:   3,
		Offset: 8192,
		Start:  []uint64{100, 0},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleBlock
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Rank != original.Rank || decoded.Offset != original.Offset {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

// TestMarshalDeterministic verifies that encoding the same logical
// value twice yields identical bytes; the footer-authority check in
// the format package depends on this.
func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{
		"zeta":  1,
		"alpha": "first",
		"mid":   []int{3, 2, 1},
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("deterministic encoding produced differing bytes")
	}
}

func TestDecodeIntoAny(t *testing.T) {
	data, err := Marshal(map[string]any{"key": "value", "n": 7})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if m["key"] != "value" {
		t.Errorf("m[key] = %v, want value", m["key"])
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer

	encoder := NewEncoder(&buffer)
	for i := 0; i < 3; i++ {
		if err := encoder.Encode(sampleBlock{Rank: i, Offset: uint64(i * 100)}); err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := 0; i < 3; i++ {
		var block sampleBlock
		if err := decoder.Decode(&block); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if block.Rank != i || block.Offset != uint64(i*100) {
			t.Errorf("record %d: got %+v", i, block)
		}
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]int{"steps": 10})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, "steps") {
		t.Errorf("diagnostic %q does not mention the key", diagnostic)
	}
}
