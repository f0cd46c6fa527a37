// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package transport

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stride-data/stride/format"
)

func TestMappedFileReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapped.sp")
	content := []byte("0123456789abcdef")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, err := OpenMappedFile(path)
	if err != nil {
		t.Fatalf("OpenMappedFile: %v", err)
	}
	defer m.Close()

	if size, _ := m.Size(); size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", size, len(content))
	}
	got := make([]byte, 4)
	if _, err := m.ReadAt(got, 10); err != nil || !bytes.Equal(got, content[10:14]) {
		t.Errorf("ReadAt(10) = %q, %v; want %q", got, err, content[10:14])
	}

	// A read crossing the end returns the available bytes with io.EOF,
	// like os.File.
	long := make([]byte, 8)
	n, err := m.ReadAt(long, 12)
	if n != 4 || !errors.Is(err, io.EOF) {
		t.Errorf("ReadAt past end = %d, %v; want 4 bytes and io.EOF", n, err)
	}
	if _, err := m.ReadAt(got, int64(len(content))); !errors.Is(err, io.EOF) {
		t.Errorf("ReadAt at end = %v, want io.EOF", err)
	}

	if _, err := m.WriteAt([]byte("x"), 0); err == nil {
		t.Error("WriteAt on a mapped carrier succeeded")
	}
	if err := m.Truncate(0); err == nil {
		t.Error("Truncate on a mapped carrier succeeded")
	}
}

func TestMappedFileRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.sp")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := OpenMappedFile(path); err == nil {
		t.Error("OpenMappedFile on an empty file succeeded")
	}
}

func TestPackOverMappedFile(t *testing.T) {
	// Write a pack through the posix carrier, then read it back
	// through the mapping requested with the mmap param.
	path := filepath.Join(t.TempDir(), "mapped-pack.sp")

	f, err := CreatePosixFile(path, 0)
	if err != nil {
		t.Fatalf("CreatePosixFile: %v", err)
	}
	w, err := format.NewPackWriter(f)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	data := bytes.Repeat([]byte{7}, 24)
	idx := &format.StepIndex{
		Step: 0,
		Vars: []format.VarRecord{{
			Name: "field",
			Blocks: []format.BlockRecord{{
				Size:     uint64(len(data)),
				RawSize:  uint64(len(data)),
				Checksum: format.HashPayload(data),
			}},
		}},
	}
	if _, err := w.AppendRecord(idx, data); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if err := w.WriteFooter(true); err != nil {
		t.Fatalf("WriteFooter: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m, err := OpenFile(path, AccessRead, Params{"mmap": "yes"}, nil)
	if err != nil {
		t.Fatalf("OpenFile mmap: %v", err)
	}
	defer m.Close()
	if _, ok := m.(*MappedFile); !ok {
		t.Fatalf("OpenFile mmap returned %T, want *MappedFile", m)
	}
	r, err := format.OpenPack(m)
	if err != nil {
		t.Fatalf("OpenPack: %v", err)
	}
	view, err := r.View(0)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	payload, err := view.Payload(&view.Index.Vars[0].Blocks[0])
	if err != nil || !bytes.Equal(payload, data) {
		t.Errorf("Payload = %v, %v; want the written block", payload, err)
	}
}
