// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries pack bytes and stream frames between
// engines and the outside world.
//
// The package defines two carrier interfaces. [File] is positioned
// byte storage for persistent engines: the pack format layers its
// commit protocol on WriteAt/ReadAt/Truncate/Flush and nothing else.
// [Sender] and [Receiver] are the two ends of a stream carrier moving
// opaque frames (the format package's handshake, record, and sentinel
// payloads) from a writer to any number of readers.
//
// Four carriers are built in, selected by the "type" parameter:
//
//   - file: [PosixFile] over os.File, with fallocate preallocation on
//     create and an fadvise sequential hint on read. The "mmap"
//     parameter swaps in [MappedFile], a read-only memory map suited
//     to the scattered loads of random-access reads.
//   - tcp: [TCPPublisher] listens and broadcasts frames to every
//     connected [TCPSubscriber]; late joiners receive the cached
//     handshake first. A reader that stalls or disconnects is
//     dropped without failing the writer.
//   - nats: [NATSSender] and [NATSReceiver] move frames through a
//     broker subject, one message per frame.
//   - memory: [MemoryHub] connects both ends inside one process, for
//     tests and co-located pipelines.
//
// Carrier selection and parameter handling live in [OpenFile],
// [OpenSender], and [OpenReceiver]. Unknown parameters warn and are
// ignored; missing required parameters are NotSupported errors.
package transport
