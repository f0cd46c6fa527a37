// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package arena

// DeviceCopier moves payload bytes between a device memory space and
// host staging. Variables whose buffers live in device memory are
// copied to host staging through a DeviceCopier before transform and
// transport; the staging side is always host memory.
//
// The core ships [HostCopier]. Accelerator-specific copiers are
// external collaborators that wrap their runtime's memcpy.
type DeviceCopier interface {
	// ToHost copies len(dst) bytes from device memory src into host
	// memory dst.
	ToHost(dst, src []byte) error

	// FromHost copies len(src) bytes from host memory src into device
	// memory dst.
	FromHost(dst, src []byte) error
}

// HostCopier is the identity copier for buffers already in host
// memory.
type HostCopier struct{}

// ToHost copies src into dst.
func (HostCopier) ToHost(dst, src []byte) error {
	copy(dst, src)
	return nil
}

// FromHost copies src into dst.
func (HostCopier) FromHost(dst, src []byte) error {
	copy(dst, src)
	return nil
}
