// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package transport

import (
	"fmt"
	"io"
	"runtime/debug"

	"golang.org/x/sys/unix"

	"github.com/stride-data/stride/sterr"
)

// MappedFile is the memory-mapped read carrier for closed packs:
// random-access reads with no per-read syscall, which suits the
// scattered block loads of random-access mode. The mapping is taken
// once at open; a pack that another process is still appending to
// should be read through PosixFile instead, whose Size tracks growth.
type MappedFile struct {
	fd   int
	data []byte
	path string
}

var _ File = (*MappedFile)(nil)

// OpenMappedFile maps an existing pack file read-only.
func OpenMappedFile(path string) (*MappedFile, error) {
	const op = "transport.OpenMappedFile"
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, sterr.IOFailuref(op, "opening pack file: %v", err)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, sterr.IOFailuref(op, "stating pack file: %v", err)
	}
	if stat.Size == 0 {
		unix.Close(fd)
		return nil, sterr.IOFailuref(op, "pack file %s is empty", path)
	}
	data, err := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, sterr.IOFailuref(op, "memory-mapping pack file: %v", err)
	}
	return &MappedFile{fd: fd, data: data, path: path}, nil
}

// ReadAt reads from the mapping. Reads in the page cache cost no
// system call.
func (m *MappedFile) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	// Guard against page faults from I/O errors on the underlying
	// storage. Without this, a SIGBUS would crash the process.
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			err = fmt.Errorf("page fault reading pack at offset %d: %v", off, r)
		}
	}()

	n = copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MappedFile) WriteAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("pack file %s is mapped read-only", m.path)
}

func (m *MappedFile) Truncate(int64) error {
	return fmt.Errorf("pack file %s is mapped read-only", m.path)
}

func (m *MappedFile) Size() (int64, error) { return int64(len(m.data)), nil }

func (m *MappedFile) Flush() error { return nil }

func (m *MappedFile) Name() string { return m.path }

// Close unmaps the file. Outstanding payload slices handed out by the
// format layer are copies, never views of the mapping, so Close does
// not invalidate them.
func (m *MappedFile) Close() error {
	var firstErr error
	if err := unix.Munmap(m.data); err != nil {
		firstErr = fmt.Errorf("unmapping pack file: %w", err)
	}
	if err := unix.Close(m.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing pack file descriptor: %w", err)
	}
	m.data = nil
	m.fd = -1
	return firstErr
}
