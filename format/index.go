// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"github.com/stride-data/stride/lib/box"
	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/transform"
	"github.com/stride-data/stride/variable"
)

// StepIndex is the metadata block of one step record: everything a
// reader needs to locate, unwind, and place the record's payloads.
// Serialized as deterministic CBOR.
//
// Before coordinator aggregation an index is rank-local and Rank names
// the producing peer; after the merge Rank is zero, Ranks counts the
// contributing peers, and block placement is global.
type StepIndex struct {
	// Step is the step number the record belongs to.
	Step uint64 `cbor:"step"`

	// Rank is the producing peer of a pre-merge fragment.
	Rank int `cbor:"rank,omitempty"`

	// Ranks is the number of peers that contributed to a merged index.
	Ranks int `cbor:"ranks,omitempty"`

	// Continued marks a record flushed before the step closed (the
	// staging arena reached its watermark). More records with the same
	// step number follow; the step's block list is the concatenation
	// of its fragments in file order.
	Continued bool `cbor:"continued,omitempty"`

	// Vars are the per-variable records of this fragment.
	Vars []VarRecord `cbor:"vars,omitempty"`

	// Attrs are the attributes defined since the previous step record
	// was written, so streaming readers learn them as they appear.
	Attrs []variable.Attribute `cbor:"attrs,omitempty"`
}

// VarRecord is the per-step metadata of one variable.
type VarRecord struct {
	Name  string           `cbor:"name"`
	Type  dtype.Code       `cbor:"type"`
	Class variable.ShapeID `cbor:"class"`

	// Shape is the global shape for global arrays. A joined dimension
	// is the sentinel in pre-merge fragments and the resolved total
	// extent after aggregation.
	Shape []uint64 `cbor:"shape,omitempty"`

	// Blocks are the payload blocks, in submission order per rank and
	// rank order after the merge.
	Blocks []BlockRecord `cbor:"blocks"`
}

// BlockRecord locates and describes one block payload inside the
// record's data block.
type BlockRecord struct {
	// Rank is the peer that produced the block.
	Rank int `cbor:"rank"`

	// Start and Count are the block's selection in global coordinates.
	// Empty for scalars.
	Start []uint64 `cbor:"start,omitempty"`
	Count []uint64 `cbor:"count,omitempty"`

	// Offset is the byte position of the payload within the record's
	// data block; Size its stored (post-transform) length.
	Offset uint64 `cbor:"offset"`
	Size   uint64 `cbor:"size"`

	// RawSize is the payload length before the operator chain ran.
	RawSize uint64 `cbor:"raw_size"`

	// Min and Max are the block's value characteristics as raw
	// native-order scalars of the variable's type. Empty for complex
	// types.
	Min []byte `cbor:"min,omitempty"`
	Max []byte `cbor:"max,omitempty"`

	// Ops is the operator chain applied to the payload, in application
	// order; readers unwind it back to front.
	Ops []transform.Descriptor `cbor:"ops,omitempty"`

	// Checksum is the BLAKE3 payload checksum over the stored bytes.
	// Empty when checksumming is disabled.
	Checksum []byte `cbor:"checksum,omitempty"`
}

// Box returns the block's selection as a box.
func (b *BlockRecord) Box() box.Box {
	return box.Box{Start: b.Start, Count: b.Count}
}

// FindVar returns the record for the named variable, or nil.
func (s *StepIndex) FindVar(name string) *VarRecord {
	for i := range s.Vars {
		if s.Vars[i].Name == name {
			return &s.Vars[i]
		}
	}
	return nil
}

// Footer is the consolidated index written after the body: the offsets
// table of every completed step, the variable-name index, and the
// attribute table. It is rewritten after each flush and finalized at
// Close; on any disagreement with a step record, the footer wins.
type Footer struct {
	// Steps is the offsets table, in file order. Steps whose flush
	// failed midway are omitted; a later record or the footer itself
	// overwrites their bytes.
	Steps []StepEntry `cbor:"steps"`

	// Vars is the variable-name index across all steps.
	Vars []VarSummary `cbor:"vars,omitempty"`

	// Attrs is the complete attribute table.
	Attrs []variable.Attribute `cbor:"attrs,omitempty"`

	// Final is set by Close. A footer without it belongs to a pack
	// still being written (or abandoned mid-stream): readers in
	// streaming mode treat an exhausted non-final pack as NotReady
	// rather than end-of-stream.
	Final bool `cbor:"final,omitempty"`
}

// StepEntry locates one step record in the pack body.
type StepEntry struct {
	Step uint64 `cbor:"step"`

	// Offset is the file position of the record's step-number field;
	// Size the total record length including the 16-byte prefix.
	Offset uint64 `cbor:"offset"`
	Size   uint64 `cbor:"size"`

	// Continued mirrors StepIndex.Continued: further entries with the
	// same step number follow.
	Continued bool `cbor:"continued,omitempty"`

	// Partial marks a truncated record found at the end of a pack by
	// a recovery scan. Partial entries are diagnostic; footers written
	// by a live writer never include them, and readers refuse to open
	// views on them.
	Partial bool `cbor:"partial,omitempty"`
}

// VarSummary is one entry of the footer's variable-name index.
type VarSummary struct {
	Name  string           `cbor:"name"`
	Type  dtype.Code       `cbor:"type"`
	Class variable.ShapeID `cbor:"class"`

	// Shape is the last written global shape, with any joined
	// dimension resolved.
	Shape []uint64 `cbor:"shape,omitempty"`

	// Steps lists the step numbers in which the variable appears.
	Steps []uint64 `cbor:"steps,omitempty"`
}

// FindVar returns the summary for the named variable, or nil.
func (f *Footer) FindVar(name string) *VarSummary {
	for i := range f.Vars {
		if f.Vars[i].Name == name {
			return &f.Vars[i]
		}
	}
	return nil
}
