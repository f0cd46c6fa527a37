// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/variable"
)

// Every file carrier must be usable as the pack format's backing
// store on both the write and the read path.
var (
	_ format.WriteFile = (File)(nil)
	_ format.ReadFile  = (File)(nil)
)

func TestPosixFileLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.sp")

	f, err := CreatePosixFile(path, 1<<16)
	if err != nil {
		t.Fatalf("CreatePosixFile: %v", err)
	}
	payload := []byte("positioned write")
	if _, err := f.WriteAt(payload, 32); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := f.Truncate(32 + int64(len(payload))); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	size, err := f.Size()
	if err != nil || size != 32+int64(len(payload)) {
		t.Fatalf("Size = %d, %v; want %d", size, err, 32+len(payload))
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenPosixFile(path, false)
	if err != nil {
		t.Fatalf("OpenPosixFile read-only: %v", err)
	}
	defer r.Close()
	got := make([]byte, len(payload))
	if _, err := r.ReadAt(got, 32); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadAt = %q, want %q", got, payload)
	}
	if _, err := r.WriteAt([]byte("x"), 0); err == nil {
		t.Error("WriteAt on a read-only carrier succeeded")
	}
	if err := r.Truncate(0); err == nil {
		t.Error("Truncate on a read-only carrier succeeded")
	}
	if err := r.Flush(); err != nil {
		t.Errorf("Flush on a read-only carrier: %v", err)
	}
	if r.Name() != path {
		t.Errorf("Name = %q, want %q", r.Name(), path)
	}
}

func TestPosixFileSeesExternalGrowth(t *testing.T) {
	// A reader polling a pack that another handle appends to must see
	// the new length without reopening.
	path := filepath.Join(t.TempDir(), "grow.sp")
	w, err := CreatePosixFile(path, 0)
	if err != nil {
		t.Fatalf("CreatePosixFile: %v", err)
	}
	defer w.Close()
	if _, err := w.WriteAt([]byte("head"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	r, err := OpenPosixFile(path, false)
	if err != nil {
		t.Fatalf("OpenPosixFile: %v", err)
	}
	defer r.Close()
	if size, _ := r.Size(); size != 4 {
		t.Fatalf("initial Size = %d, want 4", size)
	}

	if _, err := w.WriteAt([]byte("tail"), 4); err != nil {
		t.Fatalf("WriteAt append: %v", err)
	}
	if size, _ := r.Size(); size != 8 {
		t.Errorf("Size after external append = %d, want 8", size)
	}
}

func TestOpenFileDispatch(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "run.sp")

	f, err := OpenFile(name, AccessCreate, Params{"preallocate": "4 KiB"}, nil)
	if err != nil {
		t.Fatalf("OpenFile create: %v", err)
	}
	if _, err := f.WriteAt([]byte("abc"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The path param redirects the carrier away from the pack name.
	alias := filepath.Join(dir, "alias.sp")
	if err := os.Rename(name, alias); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	r, err := OpenFile(name, AccessRead, Params{"path": alias}, nil)
	if err != nil {
		t.Fatalf("OpenFile read via path param: %v", err)
	}
	defer r.Close()
	got := make([]byte, 3)
	if _, err := r.ReadAt(got, 0); err != nil || string(got) != "abc" {
		t.Errorf("ReadAt = %q, %v; want abc", got, err)
	}

	if _, err := OpenFile(name, AccessRead, Params{"type": "tcp"}, nil); !sterr.Is(err, sterr.KindNotSupported) {
		t.Errorf("OpenFile with a stream carrier type = %v, want not-supported", err)
	}
}

func TestPackOverPosixFile(t *testing.T) {
	// The full write/finalize/reopen cycle of the pack format running
	// over the posix carrier instead of an in-memory file.
	path := filepath.Join(t.TempDir(), "steps.sp")

	f, err := CreatePosixFile(path, 0)
	if err != nil {
		t.Fatalf("CreatePosixFile: %v", err)
	}
	w, err := format.NewPackWriter(f)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	for step := uint64(0); step < 3; step++ {
		data := make([]byte, 32)
		for i := range data {
			data[i] = byte(step)
		}
		idx := &format.StepIndex{
			Step: step,
			Vars: []format.VarRecord{{
				Name:  "field",
				Type:  dtype.Float64,
				Class: variable.GlobalArray,
				Shape: []uint64{4},
				Blocks: []format.BlockRecord{{
					Count:    []uint64{4},
					Size:     uint64(len(data)),
					RawSize:  uint64(len(data)),
					Checksum: format.HashPayload(data),
				}},
			}},
		}
		if _, err := w.AppendRecord(idx, data); err != nil {
			t.Fatalf("AppendRecord step %d: %v", step, err)
		}
	}
	if err := w.WriteFooter(true); err != nil {
		t.Fatalf("WriteFooter: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rf, err := OpenFile(path, AccessRead, nil, nil)
	if err != nil {
		t.Fatalf("OpenFile read: %v", err)
	}
	defer rf.Close()
	r, err := format.OpenPack(rf)
	if err != nil {
		t.Fatalf("OpenPack: %v", err)
	}
	if !r.Final() || len(r.Steps()) != 3 {
		t.Fatalf("reopened pack: final=%v steps=%v, want final with 3 steps", r.Final(), r.Steps())
	}
	view, err := r.View(2)
	if err != nil {
		t.Fatalf("View(2): %v", err)
	}
	blk := &view.Index.Vars[0].Blocks[0]
	payload, err := view.Payload(blk)
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if len(payload) != 32 || payload[0] != 2 {
		t.Errorf("payload = %d bytes first=%d, want 32 bytes of 2s", len(payload), payload[0])
	}
}
