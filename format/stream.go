// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/stride-data/stride/lib/codec"
	"github.com/stride-data/stride/sterr"
)

// Frame kinds for the streaming protocol. A stream is one handshake
// frame, any number of record frames, and an end-of-stream sentinel.
// Byte-stream transports frame each payload with a fixed header;
// message transports carry the kind and payload natively.
const (
	// FrameHandshake opens a stream. Payload is the pack magic
	// followed by a CBOR Handshake.
	FrameHandshake byte = 0x01

	// FrameRecord carries one step record in the pack body layout.
	FrameRecord byte = 0x02

	// FrameEOF closes a stream. Payload is the trailer magic, so a
	// truncated stream is never mistaken for a complete one.
	FrameEOF byte = 0x03
)

// frameHeaderLength is the fixed size of a frame header: 1 byte kind
// + 8 bytes payload length.
const frameHeaderLength = 9

// maxFramePayload caps a frame payload. A record frame carries a full
// step, so the cap is sized for bulk array data rather than messages.
const maxFramePayload = 1 << 40

// WriteFrame writes one framed payload to w. The frame header is
// [1 byte kind] [8 bytes payload length, big-endian]; the length
// field is network order regardless of the payload's recorded order.
func WriteFrame(w io.Writer, kind byte, payload []byte) error {
	var header [frameHeaderLength]byte
	header[0] = kind
	binary.BigEndian.PutUint64(header[1:9], uint64(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one framed payload from r. Returns io.EOF unwrapped
// when the stream ends exactly on a frame boundary.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("reading frame header: %w", err)
	}
	kind := header[0]
	length := binary.BigEndian.Uint64(header[1:9])
	if length > maxFramePayload {
		return 0, nil, fmt.Errorf("frame payload length %d exceeds maximum %d", length, maxFramePayload)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("reading frame payload (%d bytes): %w", length, err)
		}
	}
	return kind, payload, nil
}

// Handshake announces a stream: the writer's format version, the
// stream's identity, how many writer peers contribute, and the byte
// order of the record frames that follow.
type Handshake struct {
	Major uint8 `cbor:"major"`
	Minor uint8 `cbor:"minor"`
	Patch uint8 `cbor:"patch"`

	// StreamID is the stream name both sides agreed on at Open.
	StreamID string `cbor:"stream_id"`

	// Writers is the number of writer peers. After coordinator
	// aggregation a single merged stream reports 1.
	Writers int `cbor:"writers"`

	// Order is the byte-order tag of the record frames.
	Order byte `cbor:"order"`
}

// NewHandshake builds a handshake for the current format version and
// host byte order.
func NewHandshake(streamID string, writers int) Handshake {
	return Handshake{
		Major:    VersionMajor,
		Minor:    VersionMinor,
		Patch:    VersionPatch,
		StreamID: streamID,
		Writers:  writers,
		Order:    HostOrder(),
	}
}

// EncodeHandshake renders a handshake frame payload: the pack magic
// followed by the CBOR handshake.
func EncodeHandshake(hs Handshake) ([]byte, error) {
	enc, err := codec.Marshal(&hs)
	if err != nil {
		return nil, fmt.Errorf("encoding handshake: %w", err)
	}
	payload := make([]byte, 0, len(packMagic)+len(enc))
	payload = append(payload, packMagic[:]...)
	payload = append(payload, enc...)
	return payload, nil
}

// DecodeHandshake parses and validates a handshake frame payload. A
// record byte order different from this host's is NotSupported, the
// same policy as for pack files.
func DecodeHandshake(payload []byte) (Handshake, error) {
	const op = "format.DecodeHandshake"
	if len(payload) < len(packMagic) || [4]byte(payload[:4]) != packMagic {
		return Handshake{}, sterr.Consistencyf(op, "not a Stride stream (invalid handshake magic)")
	}
	var hs Handshake
	if err := codec.Unmarshal(payload[4:], &hs); err != nil {
		return Handshake{}, sterr.Consistencyf(op, "decoding handshake: %v", err)
	}
	if hs.Major != VersionMajor {
		return Handshake{}, sterr.NotSupportedf(op,
			"stream version %d.%d.%d is not supported (this code reads version %d)",
			hs.Major, hs.Minor, hs.Patch, VersionMajor)
	}
	if hs.Order != HostOrder() {
		return Handshake{}, sterr.NotSupportedf(op,
			"stream byte order %s does not match host byte order %s; byte order is recorded, not coerced",
			orderName(hs.Order), orderName(HostOrder()))
	}
	return hs, nil
}

// EncodeRecordPayload renders a step record as a record frame payload,
// byte-identical to the record's pack body layout.
func EncodeRecordPayload(idx *StepIndex, data []byte) ([]byte, error) {
	meta, err := EncodeIndex(idx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(int(RecordSize(len(meta), len(data))))
	if _, err := WriteRecord(&buf, idx.Step, meta, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRecordPayload parses a record frame payload.
func DecodeRecordPayload(payload []byte) (*Record, error) {
	rec, err := ReadRecord(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decoding record frame: %w", err)
	}
	return rec, nil
}

// EOFPayload returns the end-of-stream sentinel payload.
func EOFPayload() []byte {
	return trailerMagic[:]
}

// VerifyEOFPayload checks an end-of-stream sentinel.
func VerifyEOFPayload(payload []byte) error {
	if len(payload) != len(trailerMagic) || [8]byte(payload) != trailerMagic {
		return sterr.Consistencyf("format.VerifyEOFPayload",
			"end-of-stream sentinel is mangled; stream was truncated mid-frame")
	}
	return nil
}
