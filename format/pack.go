// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/stride-data/stride/sterr"
)

// Pack format constants. Version 1 is the initial format; the triple
// is recorded so readers can reject packs written by an incompatible
// future major version while tolerating minor additions.
const (
	VersionMajor = 1
	VersionMinor = 0
	VersionPatch = 0

	// HeaderSize is the fixed pack header: 4-byte magic, version
	// triple, byte-order tag, writer host order, uint width, and
	// reserved padding.
	HeaderSize = 32

	// TrailerSize is the fixed trailer at end-of-file: footer offset,
	// footer length, footer checksum, trailer magic. Readers seek
	// here first.
	TrailerSize = 32
)

// Byte-order tags recorded in the header and stream handshake.
const (
	OrderLittle byte = 1
	OrderBig    byte = 2
)

// uintWidth is the width of every integer framing field. Recorded in
// the header so the framing is self-describing.
const uintWidth = 8

// packMagic opens every pack file.
var packMagic = [4]byte{'S', 'P', 'A', 'K'}

// trailerMagic closes every pack file. Distinct from the header magic
// so a truncated file is never mistaken for a complete one.
var trailerMagic = [8]byte{'S', 'P', 'A', 'K', 'F', 'O', 'O', 'T'}

// HostOrder returns the byte-order tag of this host. Framing integers
// are written with [binary.NativeEndian]; the tag records what that
// was so a reader on the other byte order can refuse cleanly.
func HostOrder() byte {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return OrderLittle
	}
	return OrderBig
}

// Header is the parsed fixed pack header.
type Header struct {
	Major, Minor, Patch uint8

	// Order is the byte order of the pack's integer framing fields.
	Order byte

	// HostOrder is the byte order of the writing host. Equal to Order
	// in this version; recorded separately so the distinction survives
	// a future coercing writer.
	HostOrder byte

	// UintWidth is the width in bytes of framing integers.
	UintWidth byte
}

// WriteHeader writes the fixed pack header for the current version and
// host byte order.
func WriteHeader(w io.Writer) error {
	var raw [HeaderSize]byte
	copy(raw[0:4], packMagic[:])
	raw[4] = VersionMajor
	raw[5] = VersionMinor
	raw[6] = VersionPatch
	raw[7] = HostOrder()
	raw[8] = HostOrder()
	raw[9] = uintWidth
	if _, err := w.Write(raw[:]); err != nil {
		return fmt.Errorf("writing pack header: %w", err)
	}
	return nil
}

// ParseHeader validates a fixed pack header and returns its fields.
// A byte order different from this host's is NotSupported: Stride
// records byte order but never swaps it.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, fmt.Errorf("pack header is %d bytes, need %d", len(raw), HeaderSize)
	}
	if [4]byte(raw[0:4]) != packMagic {
		return Header{}, fmt.Errorf("not a Stride pack (invalid magic bytes)")
	}
	h := Header{
		Major:     raw[4],
		Minor:     raw[5],
		Patch:     raw[6],
		Order:     raw[7],
		HostOrder: raw[8],
		UintWidth: raw[9],
	}
	if h.Major != VersionMajor {
		return Header{}, fmt.Errorf("pack version %d.%d.%d is not supported (this code reads version %d)",
			h.Major, h.Minor, h.Patch, VersionMajor)
	}
	if h.Order != OrderLittle && h.Order != OrderBig {
		return Header{}, fmt.Errorf("pack has unknown byte-order tag %d", h.Order)
	}
	if h.Order != HostOrder() {
		return Header{}, sterr.NotSupportedf("format.ParseHeader",
			"pack byte order %s does not match host byte order %s; byte order is recorded, not coerced",
			orderName(h.Order), orderName(HostOrder()))
	}
	if h.UintWidth != uintWidth {
		return Header{}, sterr.NotSupportedf("format.ParseHeader",
			"pack uses %d-byte integers, this code reads %d-byte", h.UintWidth, uintWidth)
	}
	return h, nil
}

// OrderName returns the human-readable byte order of the pack's
// framing fields.
func (h Header) OrderName() string { return orderName(h.Order) }

func orderName(tag byte) string {
	switch tag {
	case OrderLittle:
		return "little-endian"
	case OrderBig:
		return "big-endian"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// Trailer locates the consolidated footer from the end of the file.
// The checksum lets a reader distinguish a committed footer from one
// half overwritten by a record a crashed writer never finished.
type Trailer struct {
	FooterOffset uint64
	FooterLength uint64
	FooterSum    uint64
}

// EncodeTrailer renders the fixed-size trailer.
func EncodeTrailer(t Trailer) [TrailerSize]byte {
	var raw [TrailerSize]byte
	binary.NativeEndian.PutUint64(raw[0:8], t.FooterOffset)
	binary.NativeEndian.PutUint64(raw[8:16], t.FooterLength)
	binary.NativeEndian.PutUint64(raw[16:24], t.FooterSum)
	copy(raw[24:32], trailerMagic[:])
	return raw
}

// ParseTrailer validates the trailer bytes read from end-of-file. A
// missing or mangled trailer magic means the pack was never finalized
// or was truncated mid-footer; that is fatal for readers, so the error
// carries the Consistency kind.
func ParseTrailer(raw []byte) (Trailer, error) {
	if len(raw) < TrailerSize {
		return Trailer{}, sterr.Consistencyf("format.ParseTrailer",
			"trailer is %d bytes, need %d", len(raw), TrailerSize)
	}
	if [8]byte(raw[24:32]) != trailerMagic {
		return Trailer{}, sterr.Consistencyf("format.ParseTrailer",
			"footer trailer magic missing; pack was truncated or never finalized")
	}
	return Trailer{
		FooterOffset: binary.NativeEndian.Uint64(raw[0:8]),
		FooterLength: binary.NativeEndian.Uint64(raw[8:16]),
		FooterSum:    binary.NativeEndian.Uint64(raw[16:24]),
	}, nil
}
