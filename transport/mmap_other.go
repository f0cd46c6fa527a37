// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !darwin && !linux

package transport

import "github.com/stride-data/stride/sterr"

// OpenMappedFile is unavailable without mmap; read through PosixFile.
func OpenMappedFile(path string) (File, error) {
	return nil, sterr.NotSupportedf("transport.OpenMappedFile",
		"memory-mapped reads are not supported on this platform")
}
