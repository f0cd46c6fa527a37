// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"os"

	"github.com/stride-data/stride/sterr"
)

// PosixFile is the default file carrier: an os.File with positioned
// I/O and fsync durability. Packs grow by positioned writes past the
// end; Size always reflects the on-disk length, so a reader polling a
// pack that another process appends to sees it grow.
type PosixFile struct {
	f        *os.File
	path     string
	writable bool
}

var _ File = (*PosixFile)(nil)

// CreatePosixFile creates or truncates a pack file for writing.
// A nonzero prealloc reserves space up front so large sequential
// writes do not fragment; reservation failures on filesystems without
// the support are ignored.
func CreatePosixFile(path string, prealloc uint64) (*PosixFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, sterr.IOFailuref("transport.CreatePosixFile", "creating pack file: %v", err)
	}
	if prealloc > 0 {
		preallocate(f, int64(prealloc))
	}
	return &PosixFile{f: f, path: path, writable: true}, nil
}

// OpenPosixFile opens an existing pack file. With writable set the
// file is opened read-write (created if absent) for appending;
// otherwise read-only with a sequential-access hint, since pack scans
// and step reads walk forward.
func OpenPosixFile(path string, writable bool) (*PosixFile, error) {
	const op = "transport.OpenPosixFile"
	if writable {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, sterr.IOFailuref(op, "opening pack file for update: %v", err)
		}
		return &PosixFile{f: f, path: path, writable: true}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, sterr.IOFailuref(op, "opening pack file: %v", err)
	}
	adviseSequential(f)
	return &PosixFile{f: f, path: path}, nil
}

func (p *PosixFile) WriteAt(b []byte, off int64) (int, error) {
	if !p.writable {
		return 0, fmt.Errorf("pack file %s is read-only", p.path)
	}
	return p.f.WriteAt(b, off)
}

func (p *PosixFile) ReadAt(b []byte, off int64) (int, error) {
	return p.f.ReadAt(b, off)
}

func (p *PosixFile) Truncate(size int64) error {
	if !p.writable {
		return fmt.Errorf("pack file %s is read-only", p.path)
	}
	return p.f.Truncate(size)
}

func (p *PosixFile) Size() (int64, error) {
	info, err := p.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Flush fsyncs written data. A no-op on read-only carriers.
func (p *PosixFile) Flush() error {
	if !p.writable {
		return nil
	}
	return p.f.Sync()
}

func (p *PosixFile) Name() string { return p.path }

func (p *PosixFile) Close() error { return p.f.Close() }
