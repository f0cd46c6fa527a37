// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package format defines Stride's durable pack format and the framing
// shared with live streams.
//
// A pack file is a fixed [Header], a body of step records, and a
// consolidated [Footer] addressed by a fixed-size trailer at the end
// of the file. Each step record carries its own metadata block — a
// CBOR-encoded [StepIndex] — followed by the packed block payloads, so
// the body is readable sequentially without the footer; the footer adds
// O(1) seeking by (step, variable, block) and is authoritative when the
// two disagree.
//
// [PackWriter] appends records and maintains the offsets table,
// rewriting a provisional footer after each flush so a reader always
// finds a consistent prefix of the attempted steps, even after a
// writer crash. [PackReader] opens from the trailer and serves
// metadata and individual block payloads by offset.
//
// Streams use the identical record layout inside framed messages: a
// [Handshake] frame, then record frames, then an end-of-stream
// sentinel. Block payloads are checksummed with domain-separated
// BLAKE3 ([HashPayload]); verification on read is optional.
//
// Integer framing fields are written in the host's byte order and the
// order is recorded in the header and handshake. Readers on a host
// with a different byte order get a NotSupported error: byte order is
// recorded, never coerced.
package format
