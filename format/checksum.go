// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/stride-data/stride/sterr"
)

// ChecksumSize is the byte length of a block payload checksum.
const ChecksumSize = 32

// payloadDomainKey is the BLAKE3 key for block payload checksums.
// Domain separation keeps a payload hash from colliding with any
// other hash of the same bytes; the key is the ASCII domain name,
// zero-padded, so it stays readable in hex dumps.
var payloadDomainKey = [32]byte{
	's', 't', 'r', 'i', 'd', 'e', '.', 'b', 'l', 'o', 'c', 'k', '.',
	'p', 'a', 'y', 'l', 'o', 'a', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// footerDomainKey is the BLAKE3 key for the footer checksum carried
// in the trailer.
var footerDomainKey = [32]byte{
	's', 't', 'r', 'i', 'd', 'e', '.', 'f', 'o', 'o', 't', 'e', 'r',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashPayload computes the checksum of a stored block payload: the
// keyed BLAKE3 digest of the post-transform bytes as they sit in the
// data block.
func HashPayload(data []byte) []byte {
	hasher, err := blake3.NewKeyed(payloadDomainKey[:])
	if err != nil {
		// NewKeyed fails only on a wrong key length, which the fixed
		// array rules out.
		panic("format: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	return hasher.Sum(nil)
}

// VerifyPayload checks stored payload bytes against a recorded
// checksum. An empty recorded checksum (checksumming disabled at
// write time) passes. A mismatch is a Consistency failure: the stored
// bytes are not what the writer indexed.
func VerifyPayload(data, recorded []byte) error {
	if len(recorded) == 0 {
		return nil
	}
	if actual := HashPayload(data); !bytes.Equal(actual, recorded) {
		return sterr.Consistencyf("format.VerifyPayload",
			"payload checksum mismatch: stored %s, computed %s",
			hex.EncodeToString(recorded), hex.EncodeToString(actual))
	}
	return nil
}

// HashFooter computes the trailer's footer checksum: the leading
// 64 bits of the keyed BLAKE3 digest of the encoded footer. A crashed
// writer can leave the trailer pointing at footer bytes a half-written
// record clobbered; the checksum exposes that, and readers fall back
// to a body scan.
func HashFooter(footer []byte) uint64 {
	hasher, err := blake3.NewKeyed(footerDomainKey[:])
	if err != nil {
		panic("format: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(footer)
	return binary.NativeEndian.Uint64(hasher.Sum(nil)[:8])
}
