// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for the file without changing its
// logical length. Best effort: filesystems without fallocate support
// just take the fragmentation.
func preallocate(f *os.File, size int64) {
	unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
}

// adviseSequential tells the kernel the file will be read front to
// back, doubling its readahead window. Best effort.
func adviseSequential(f *os.File) {
	unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
