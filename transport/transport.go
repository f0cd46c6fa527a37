// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"

	"github.com/stride-data/stride/sterr"
)

// File is the byte carrier of persistent engines: positioned reads and
// writes, explicit truncation, explicit durability. The pack format
// layers its commit protocol on these primitives and nothing else, so
// any store with positioned I/O can carry a pack.
type File interface {
	io.WriterAt
	io.ReaderAt

	// Truncate sets the file length. The pack writer truncates to the
	// trailer after every footer commit.
	Truncate(size int64) error

	// Size returns the current file length. Readers polling a pack
	// another process appends to see it grow here.
	Size() (int64, error)

	// Flush makes previously written bytes durable.
	Flush() error

	// Name returns the carrier's path or address for logging.
	Name() string

	Close() error
}

// Sender is the writer side of a stream carrier. Frames are the
// format package's handshake/record/sentinel payloads; the carrier
// moves them without interpreting them. Send blocks until the frame
// is handed to the carrier or ctx ends.
type Sender interface {
	Send(ctx context.Context, kind byte, payload []byte) error
	Close() error
}

// Receiver is the reader side of a stream carrier. Recv blocks until
// a frame arrives, the peer closes, or ctx ends; a closed carrier
// returns io.EOF.
type Receiver interface {
	Recv(ctx context.Context) (kind byte, payload []byte, err error)
	Close() error
}

// Access selects how a file carrier is opened.
type Access int

const (
	// AccessCreate creates or truncates the file for writing.
	AccessCreate Access = iota + 1
	// AccessUpdate opens or creates the file preserving content, for
	// resuming an existing pack.
	AccessUpdate
	// AccessRead opens the file read-only.
	AccessRead
)

// Parameter keys shared by the carriers. Each carrier warns about
// keys it does not recognize.
const (
	// ParamType selects the carrier: "file", "tcp", "nats", "memory".
	ParamType = "type"
	// ParamPath overrides the file path (default: the pack name).
	ParamPath = "path"
	// ParamAddress is the TCP listen or dial address.
	ParamAddress = "address"
	// ParamURL is the NATS server URL.
	ParamURL = "url"
	// ParamSubject overrides the NATS subject (default derived from
	// the stream name).
	ParamSubject = "subject"
	// ParamPreallocate reserves file space up front ("256 MB").
	ParamPreallocate = "preallocate"
	// ParamMmap selects the memory-mapped read path for file carriers
	// opened read-only.
	ParamMmap = "mmap"
	// ParamBuffer is the per-subscriber frame buffer of the memory
	// carrier.
	ParamBuffer = "buffer"
)

// OpenFile opens the file carrier for a pack named name. Recognized
// params: path, preallocate (create only), mmap (read only).
func OpenFile(name string, access Access, params Params, log *slog.Logger) (File, error) {
	const op = "transport.OpenFile"
	kind := params.String(ParamType, "file")
	if kind != "file" {
		return nil, sterr.NotSupportedf(op, "carrier %q does not provide file access", kind)
	}
	params.WarnUnknown(log, ParamType, ParamPath, ParamPreallocate, ParamMmap)

	path := params.String(ParamPath, name)
	switch access {
	case AccessCreate:
		prealloc, err := params.Size(ParamPreallocate, 0)
		if err != nil {
			return nil, err
		}
		return CreatePosixFile(path, prealloc)
	case AccessUpdate:
		return OpenPosixFile(path, true)
	case AccessRead:
		useMmap, err := params.Bool(ParamMmap, false)
		if err != nil {
			return nil, err
		}
		if useMmap {
			return OpenMappedFile(path)
		}
		return OpenPosixFile(path, false)
	}
	return nil, sterr.InvalidArgumentf(op, "unknown access mode %d", access)
}

// OpenSender opens the writer side of the stream carrier named by
// params for the stream called name.
func OpenSender(ctx context.Context, name string, params Params, log *slog.Logger) (Sender, error) {
	const op = "transport.OpenSender"
	switch kind := params.String(ParamType, "tcp"); kind {
	case "tcp":
		params.WarnUnknown(log, ParamType, ParamAddress)
		address, err := params.Require(ParamAddress)
		if err != nil {
			return nil, err
		}
		return ListenTCP(address, log)
	case "nats":
		params.WarnUnknown(log, ParamType, ParamURL, ParamSubject)
		url, err := params.Require(ParamURL)
		if err != nil {
			return nil, err
		}
		return DialNATSSender(url, params.String(ParamSubject, natsSubject(name)))
	case "memory":
		params.WarnUnknown(log, ParamType)
		return DefaultHub.Publisher(name)
	default:
		return nil, sterr.NotSupportedf(op, "unknown stream carrier %q", kind)
	}
}

// OpenReceiver opens the reader side of the stream carrier named by
// params for the stream called name.
func OpenReceiver(ctx context.Context, name string, params Params, log *slog.Logger) (Receiver, error) {
	const op = "transport.OpenReceiver"
	switch kind := params.String(ParamType, "tcp"); kind {
	case "tcp":
		params.WarnUnknown(log, ParamType, ParamAddress)
		address, err := params.Require(ParamAddress)
		if err != nil {
			return nil, err
		}
		return DialTCP(ctx, address)
	case "nats":
		params.WarnUnknown(log, ParamType, ParamURL, ParamSubject)
		url, err := params.Require(ParamURL)
		if err != nil {
			return nil, err
		}
		return SubscribeNATS(url, params.String(ParamSubject, natsSubject(name)))
	case "memory":
		params.WarnUnknown(log, ParamType, ParamBuffer)
		buffer, err := params.Int(ParamBuffer, defaultMemoryBuffer)
		if err != nil {
			return nil, err
		}
		return DefaultHub.Subscriber(name, buffer)
	default:
		return nil, sterr.NotSupportedf(op, "unknown stream carrier %q", kind)
	}
}
