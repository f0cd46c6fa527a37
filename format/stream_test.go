// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"bytes"
	"io"
	"testing"

	"github.com/stride-data/stride/sterr"
)

func TestStreamFrameRoundtrip(t *testing.T) {
	// A full stream: handshake, one record, end-of-stream sentinel,
	// written as byte-stream frames and read back.
	var wire bytes.Buffer

	hsPayload, err := EncodeHandshake(NewHandshake("simulation.out", 4))
	if err != nil {
		t.Fatalf("EncodeHandshake failed: %v", err)
	}
	if err := WriteFrame(&wire, FrameHandshake, hsPayload); err != nil {
		t.Fatalf("WriteFrame(handshake) failed: %v", err)
	}

	data := stepPayload(0, 32)
	recPayload, err := EncodeRecordPayload(oneVarIndex(0, "velocity", data), data)
	if err != nil {
		t.Fatalf("EncodeRecordPayload failed: %v", err)
	}
	if err := WriteFrame(&wire, FrameRecord, recPayload); err != nil {
		t.Fatalf("WriteFrame(record) failed: %v", err)
	}
	if err := WriteFrame(&wire, FrameEOF, EOFPayload()); err != nil {
		t.Fatalf("WriteFrame(eof) failed: %v", err)
	}

	kind, payload, err := ReadFrame(&wire)
	if err != nil || kind != FrameHandshake {
		t.Fatalf("first frame = kind %d, err %v; want a handshake", kind, err)
	}
	hs, err := DecodeHandshake(payload)
	if err != nil {
		t.Fatalf("DecodeHandshake failed: %v", err)
	}
	if hs.StreamID != "simulation.out" || hs.Writers != 4 || hs.Order != HostOrder() {
		t.Errorf("handshake = %+v, want the announced stream", hs)
	}

	kind, payload, err = ReadFrame(&wire)
	if err != nil || kind != FrameRecord {
		t.Fatalf("second frame = kind %d, err %v; want a record", kind, err)
	}
	rec, err := DecodeRecordPayload(payload)
	if err != nil {
		t.Fatalf("DecodeRecordPayload failed: %v", err)
	}
	if rec.Step != 0 || rec.Index.FindVar("velocity") == nil {
		t.Errorf("record = step %d vars %v, want step 0 with velocity", rec.Step, rec.Index.Vars)
	}
	if !bytes.Equal(rec.Data, data) {
		t.Error("record data does not survive the frame roundtrip")
	}

	kind, payload, err = ReadFrame(&wire)
	if err != nil || kind != FrameEOF {
		t.Fatalf("third frame = kind %d, err %v; want the sentinel", kind, err)
	}
	if err := VerifyEOFPayload(payload); err != nil {
		t.Errorf("VerifyEOFPayload failed: %v", err)
	}

	if _, _, err := ReadFrame(&wire); err != io.EOF {
		t.Errorf("ReadFrame past the sentinel = %v, want io.EOF", err)
	}
}

func TestHandshakeValidation(t *testing.T) {
	good, err := EncodeHandshake(NewHandshake("s", 1))
	if err != nil {
		t.Fatalf("EncodeHandshake failed: %v", err)
	}

	t.Run("bad magic", func(t *testing.T) {
		raw := bytes.Clone(good)
		raw[0] = 'X'
		if _, err := DecodeHandshake(raw); !sterr.Is(err, sterr.KindConsistency) {
			t.Errorf("DecodeHandshake = %v, want a consistency error", err)
		}
	})

	t.Run("foreign byte order", func(t *testing.T) {
		hs := NewHandshake("s", 1)
		if hs.Order == OrderLittle {
			hs.Order = OrderBig
		} else {
			hs.Order = OrderLittle
		}
		raw, err := EncodeHandshake(hs)
		if err != nil {
			t.Fatalf("EncodeHandshake failed: %v", err)
		}
		if _, err := DecodeHandshake(raw); !sterr.Is(err, sterr.KindNotSupported) {
			t.Errorf("DecodeHandshake = %v, want a not-supported error", err)
		}
	})

	t.Run("future major version", func(t *testing.T) {
		hs := NewHandshake("s", 1)
		hs.Major = VersionMajor + 1
		raw, err := EncodeHandshake(hs)
		if err != nil {
			t.Fatalf("EncodeHandshake failed: %v", err)
		}
		if _, err := DecodeHandshake(raw); !sterr.Is(err, sterr.KindNotSupported) {
			t.Errorf("DecodeHandshake = %v, want a not-supported error", err)
		}
	})

	t.Run("mangled sentinel", func(t *testing.T) {
		if err := VerifyEOFPayload([]byte("SPAK")); !sterr.Is(err, sterr.KindConsistency) {
			t.Errorf("VerifyEOFPayload = %v, want a consistency error", err)
		}
	})
}
