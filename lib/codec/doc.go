// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Stride's standard CBOR encoding configuration.
//
// Stride serializes every structured wire artifact as CBOR: step
// indices inside pack records, the consolidated footer, stream
// handshakes, and coordinator collectives. Payload data itself travels
// raw; only metadata goes through this package.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Determinism matters here beyond hygiene: the incremental step index
// written at EndStep and the consolidated footer entry written at Close
// describe the same logical record, and byte-identical encoding is what
// lets a reader detect genuine divergence (a partial step) instead of
// encoder noise.
//
// For buffer-oriented use (index blocks, footers):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented use (handshakes over transports):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types serialized by this package use `cbor` struct tags. Types that
// additionally serve the CLI tools' JSON output use `json` tags only;
// fxamacker/cbor reads them as fallback, so one tag controls both
// formats.
package codec
