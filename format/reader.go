// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/binary"
	"io"

	"github.com/stride-data/stride/lib/codec"
	"github.com/stride-data/stride/sterr"
)

// ReadFile is the byte source a pack reader works against.
// Implementations live in the transport package.
type ReadFile interface {
	io.ReaderAt
	Size() (int64, error)
}

// RecoverFooter locates the authoritative footer of a pack: the
// trailer path when the file ends with a checksummed trailer, a
// sequential body scan otherwise. The scan path handles packs left
// behind by a crashed writer; it returns every record that is fully
// durable and notes a truncated tail as a partial entry. The second
// return is the body end, the offset one past the last complete
// record.
func RecoverFooter(f ReadFile) (Footer, int64, error) {
	const op = "format.RecoverFooter"
	size, err := f.Size()
	if err != nil {
		return Footer{}, 0, sterr.IOFailuref(op, "sizing pack: %v", err)
	}
	if size < HeaderSize {
		return Footer{}, 0, sterr.Consistencyf(op,
			"pack is %d bytes, smaller than its %d-byte header", size, HeaderSize)
	}

	if footer, bodyEnd, ok := footerFromTrailer(f, size); ok {
		return footer, bodyEnd, nil
	}
	return scanBody(f, size)
}

// footerFromTrailer attempts the fast path: parse the trailer at end
// of file, verify the footer checksum, decode. Any disagreement
// reports not-ok and the caller falls back to scanning; a writer that
// crashed after appending records past the footer leaves exactly that
// state behind.
func footerFromTrailer(f ReadFile, size int64) (Footer, int64, bool) {
	if size < HeaderSize+TrailerSize {
		return Footer{}, 0, false
	}
	var raw [TrailerSize]byte
	if _, err := f.ReadAt(raw[:], size-TrailerSize); err != nil {
		return Footer{}, 0, false
	}
	t, err := ParseTrailer(raw[:])
	if err != nil {
		return Footer{}, 0, false
	}
	// The writer truncates the file to the trailer on every footer
	// commit, so a committed footer ends exactly at the trailer.
	if t.FooterOffset < HeaderSize || t.FooterOffset+t.FooterLength != uint64(size)-TrailerSize {
		return Footer{}, 0, false
	}
	enc := make([]byte, t.FooterLength)
	if _, err := f.ReadAt(enc, int64(t.FooterOffset)); err != nil {
		return Footer{}, 0, false
	}
	if HashFooter(enc) != t.FooterSum {
		return Footer{}, 0, false
	}
	var footer Footer
	if err := codec.Unmarshal(enc, &footer); err != nil {
		return Footer{}, 0, false
	}
	return footer, int64(t.FooterOffset), true
}

// scanBody rebuilds a footer by walking records from the header
// forward. The scan stops at the first frame that does not parse as a
// record: past the durable body that is either a truncated record
// (recorded as a partial entry when its prefix is plausible) or the
// remains of an old footer.
func scanBody(f ReadFile, size int64) (Footer, int64, error) {
	const op = "format.RecoverFooter"
	table := newFooterTable()
	var partial *StepEntry
	var lastStep uint64

	off := int64(HeaderSize)
	for off+recordPrefixSize <= size {
		var prefix [recordPrefixSize]byte
		if _, err := f.ReadAt(prefix[:], off); err != nil {
			return Footer{}, 0, sterr.IOFailuref(op, "reading record prefix at %d: %v", off, err)
		}
		step := binary.NativeEndian.Uint64(prefix[0:8])
		recSize := binary.NativeEndian.Uint64(prefix[8:16])

		plausible := len(table.steps) == 0 || step >= lastStep
		if recSize > uint64(size-off-recordPrefixSize) {
			if plausible {
				partial = &StepEntry{
					Step:    step,
					Offset:  uint64(off),
					Size:    uint64(size - off),
					Partial: true,
				}
			}
			break
		}
		body := make([]byte, recSize)
		if _, err := f.ReadAt(body, off+recordPrefixSize); err != nil {
			return Footer{}, 0, sterr.IOFailuref(op, "reading record body at %d: %v", off, err)
		}
		rec, err := decodeRecordBody(step, recSize, body)
		if err != nil || !plausible {
			break
		}
		entry := StepEntry{
			Step:      step,
			Offset:    uint64(off),
			Size:      recordPrefixSize + recSize,
			Continued: rec.Index.Continued,
		}
		table.fold(entry, &rec.Index)
		lastStep = step
		off += int64(entry.Size)
	}

	footer := table.build(false)
	if partial != nil {
		footer.Steps = append(footer.Steps, *partial)
	}
	return footer, off, nil
}

// PackReader reads step records through the consolidated footer. It
// never walks the body on the hot path; on any disagreement between a
// record and the footer, the footer decides what exists.
type PackReader struct {
	f      ReadFile
	header Header

	footer  Footer
	bodyEnd int64
	order   []uint64
	frags   map[uint64][]StepEntry
}

// OpenPack opens a pack for reading and loads its footer.
func OpenPack(f ReadFile) (*PackReader, error) {
	const op = "format.OpenPack"
	var head [HeaderSize]byte
	if _, err := f.ReadAt(head[:], 0); err != nil {
		return nil, sterr.IOFailuref(op, "reading pack header: %v", err)
	}
	h, err := ParseHeader(head[:])
	if err != nil {
		if sterr.KindOf(err) != sterr.KindUnknown {
			return nil, err
		}
		return nil, sterr.Wrap(sterr.KindConsistency, op, err)
	}
	r := &PackReader{f: f, header: h}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh re-reads the footer, picking up steps appended since the
// pack was opened. Streaming readers poll this between steps.
func (r *PackReader) Refresh() error {
	footer, bodyEnd, err := RecoverFooter(r.f)
	if err != nil {
		return err
	}
	r.footer = footer
	r.bodyEnd = bodyEnd
	r.order = r.order[:0]
	r.frags = make(map[uint64][]StepEntry)
	for _, entry := range footer.Steps {
		if entry.Partial {
			continue
		}
		if _, ok := r.frags[entry.Step]; !ok {
			r.order = append(r.order, entry.Step)
		}
		r.frags[entry.Step] = append(r.frags[entry.Step], entry)
	}
	return nil
}

// Header returns the parsed pack header.
func (r *PackReader) Header() Header { return r.header }

// Footer returns the recovered footer.
func (r *PackReader) Footer() *Footer { return &r.footer }

// Final reports whether the writer closed the pack. A reader that has
// consumed every step of a non-final pack waits for more rather than
// reporting end of stream.
func (r *PackReader) Final() bool { return r.footer.Final }

// Steps returns the committed step numbers in file order.
func (r *PackReader) Steps() []uint64 { return r.order }

// Contains reports whether the pack holds the given step.
func (r *PackReader) Contains(step uint64) bool {
	_, ok := r.frags[step]
	return ok
}

// View loads one step: all its record fragments, merged. The returned
// view holds the step's full data block in memory; block payloads are
// sliced from it on demand.
func (r *PackReader) View(step uint64) (*StepView, error) {
	const op = "format.PackReader.View"
	entries, ok := r.frags[step]
	if !ok {
		return nil, sterr.InvalidArgumentf(op, "step %d is not in the pack", step)
	}

	recs := make([]*Record, len(entries))
	for i, entry := range entries {
		rec, err := ReadRecordAt(r.f, int64(entry.Offset), entry.Size)
		if err != nil {
			return nil, sterr.Wrap(sterr.KindIOFailure, op, err)
		}
		recs[i] = rec
	}
	if len(recs) == 1 {
		return &StepView{Step: step, Index: recs[0].Index, Data: recs[0].Data}, nil
	}
	return mergeFragments(step, recs), nil
}

// mergeFragments concatenates the data blocks of a step's records and
// rebases every block offset into the combined block. Fragments come
// from a writer that spilled mid-step; file order is submission order,
// so block lists concatenate in order too.
func mergeFragments(step uint64, recs []*Record) *StepView {
	merged := StepIndex{Step: step}
	byName := make(map[string]int)
	var data []byte

	for _, rec := range recs {
		base := uint64(len(data))
		data = append(data, rec.Data...)
		if rec.Index.Ranks > merged.Ranks {
			merged.Ranks = rec.Index.Ranks
		}
		merged.Attrs = append(merged.Attrs, rec.Index.Attrs...)
		for i := range rec.Index.Vars {
			src := &rec.Index.Vars[i]
			pos, ok := byName[src.Name]
			if !ok {
				pos = len(merged.Vars)
				byName[src.Name] = pos
				merged.Vars = append(merged.Vars, VarRecord{
					Name:  src.Name,
					Type:  src.Type,
					Class: src.Class,
					Shape: src.Shape,
				})
			}
			dst := &merged.Vars[pos]
			if len(src.Shape) > 0 {
				dst.Shape = src.Shape
			}
			for _, blk := range src.Blocks {
				blk.Offset += base
				dst.Blocks = append(dst.Blocks, blk)
			}
		}
	}
	return &StepView{Step: step, Index: merged, Data: data}
}

// StepView is one loaded step: its merged index and data block.
type StepView struct {
	Step  uint64
	Index StepIndex
	Data  []byte
}

// Find returns the step's record for the named variable, or nil.
func (v *StepView) Find(name string) *VarRecord {
	return v.Index.FindVar(name)
}

// Payload returns the stored bytes of one block, checksum verified.
// The bytes are still transformed; unwind the block's operator chain
// to recover element data.
func (v *StepView) Payload(b *BlockRecord) ([]byte, error) {
	end := b.Offset + b.Size
	if end < b.Offset || end > uint64(len(v.Data)) {
		return nil, sterr.Consistencyf("format.StepView.Payload",
			"block payload [%d,%d) exceeds the %d-byte data block", b.Offset, end, len(v.Data))
	}
	payload := v.Data[b.Offset:end]
	if err := VerifyPayload(payload, b.Checksum); err != nil {
		return nil, err
	}
	return payload, nil
}
