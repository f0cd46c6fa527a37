// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"io"

	"github.com/stride-data/stride/lib/codec"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/variable"
)

// WriteFile is the byte store a pack writer works against. All writes
// are positioned; Flush makes previously written bytes durable.
// Implementations live in the transport package.
type WriteFile interface {
	io.WriterAt
	io.ReaderAt
	Truncate(size int64) error
	Size() (int64, error)
	Flush() error
}

// footerTable accumulates the consolidated footer: step entries in
// file order, variable summaries in first-appearance order, and the
// deduplicated attribute table. The pack writer folds committed
// records into one; recovery scans build one from the body.
type footerTable struct {
	steps    []StepEntry
	vars     map[string]*VarSummary
	varOrder []string
	attrs    []variable.Attribute
	attrSeen map[string]bool
}

func newFooterTable() *footerTable {
	return &footerTable{
		vars:     make(map[string]*VarSummary),
		attrSeen: make(map[string]bool),
	}
}

// load seeds the table from a recovered footer, dropping partial
// entries.
func (t *footerTable) load(f *Footer) {
	for _, entry := range f.Steps {
		if entry.Partial {
			continue
		}
		t.steps = append(t.steps, entry)
	}
	for i := range f.Vars {
		sum := f.Vars[i]
		t.vars[sum.Name] = &sum
		t.varOrder = append(t.varOrder, sum.Name)
	}
	for _, attr := range f.Attrs {
		t.attrs = append(t.attrs, attr)
		t.attrSeen[attr.Of+"\x00"+attr.Name] = true
	}
}

// fold merges one committed record into the table.
func (t *footerTable) fold(entry StepEntry, idx *StepIndex) {
	t.steps = append(t.steps, entry)
	for i := range idx.Vars {
		rec := &idx.Vars[i]
		sum, ok := t.vars[rec.Name]
		if !ok {
			sum = &VarSummary{Name: rec.Name, Type: rec.Type, Class: rec.Class}
			t.vars[rec.Name] = sum
			t.varOrder = append(t.varOrder, rec.Name)
		}
		if len(rec.Shape) > 0 {
			sum.Shape = rec.Shape
		}
		if n := len(sum.Steps); n == 0 || sum.Steps[n-1] != idx.Step {
			sum.Steps = append(sum.Steps, idx.Step)
		}
	}
	for _, attr := range idx.Attrs {
		key := attr.Of + "\x00" + attr.Name
		if t.attrSeen[key] {
			continue
		}
		t.attrSeen[key] = true
		t.attrs = append(t.attrs, attr)
	}
}

// build renders the table as a footer.
func (t *footerTable) build(final bool) Footer {
	f := Footer{Steps: t.steps, Attrs: t.attrs, Final: final}
	for _, name := range t.varOrder {
		f.Vars = append(f.Vars, *t.vars[name])
	}
	return f
}

// PackWriter appends step records to a pack and maintains its footer.
//
// The commit protocol keeps the file recoverable at every point: each
// record is written past the last committed byte, and the footer plus
// trailer are rewritten behind it on every flush. A record that fails
// midway leaves the body end untouched, so the next append or footer
// write simply overwrites its bytes. A crash between flushes loses at
// most the records since the last footer; the trailer checksum
// detects a clobbered footer and readers fall back to scanning the
// body.
type PackWriter struct {
	f       WriteFile
	bodyEnd int64

	table     *footerTable
	lastStep  uint64
	finalized bool
}

// NewPackWriter starts a fresh pack on f, discarding any existing
// content.
func NewPackWriter(f WriteFile) (*PackWriter, error) {
	const op = "format.NewPackWriter"
	w := &PackWriter{f: f, bodyEnd: HeaderSize, table: newFooterTable()}
	if err := WriteHeader(&offsetWriter{f: f}); err != nil {
		return nil, sterr.Wrap(sterr.KindIOFailure, op, err)
	}
	if err := f.Truncate(HeaderSize); err != nil {
		return nil, sterr.IOFailuref(op, "truncating pack to header: %v", err)
	}
	return w, nil
}

// ResumePackWriter opens an existing pack for appending. The recovered
// footer decides where the body ends; anything past it (an interrupted
// record, the old footer) is overwritten by subsequent appends. The
// pack's byte order must match this host's, since appended records are
// written in host order.
func ResumePackWriter(f WriteFile) (*PackWriter, error) {
	const op = "format.ResumePackWriter"
	var head [HeaderSize]byte
	if _, err := f.ReadAt(head[:], 0); err != nil {
		return nil, sterr.IOFailuref(op, "reading pack header: %v", err)
	}
	if _, err := ParseHeader(head[:]); err != nil {
		if sterr.KindOf(err) != sterr.KindUnknown {
			return nil, err
		}
		return nil, sterr.Wrap(sterr.KindConsistency, op, err)
	}

	footer, bodyEnd, err := RecoverFooter(f)
	if err != nil {
		return nil, err
	}

	w := &PackWriter{f: f, bodyEnd: bodyEnd, table: newFooterTable()}
	w.table.load(&footer)
	if n := len(w.table.steps); n > 0 {
		w.lastStep = w.table.steps[n-1].Step
	}
	return w, nil
}

// NextStep returns the step number an appending writer should assign
// next: one past the highest committed step, or zero for a fresh pack.
func (w *PackWriter) NextStep() uint64 {
	if len(w.table.steps) == 0 {
		return 0
	}
	return w.lastStep + 1
}

// StepCount returns the number of committed step entries, fragments
// included.
func (w *PackWriter) StepCount() int {
	return len(w.table.steps)
}

// BodyEnd returns the file offset one past the last committed record.
func (w *PackWriter) BodyEnd() int64 {
	return w.bodyEnd
}

// AppendRecord writes one step record and folds its index into the
// footer tables. On failure the pack is unchanged: the entry is not
// recorded and the next append overwrites any bytes that landed.
// The footer is not rewritten here; call WriteFooter to commit.
func (w *PackWriter) AppendRecord(idx *StepIndex, data []byte) (StepEntry, error) {
	const op = "format.PackWriter.AppendRecord"
	if w.finalized {
		return StepEntry{}, sterr.InvalidArgumentf(op, "pack is finalized")
	}
	if len(w.table.steps) > 0 && idx.Step < w.lastStep {
		return StepEntry{}, sterr.InvalidArgumentf(op,
			"step %d is behind the last committed step %d", idx.Step, w.lastStep)
	}

	meta, err := EncodeIndex(idx)
	if err != nil {
		return StepEntry{}, sterr.Wrap(sterr.KindIOFailure, op, err)
	}
	n, err := WriteRecord(&offsetWriter{f: w.f, off: w.bodyEnd}, idx.Step, meta, data)
	if err != nil {
		return StepEntry{}, sterr.Wrap(sterr.KindIOFailure, op, err)
	}

	entry := StepEntry{
		Step:      idx.Step,
		Offset:    uint64(w.bodyEnd),
		Size:      n,
		Continued: idx.Continued,
	}
	w.bodyEnd += int64(n)
	w.lastStep = idx.Step
	w.table.fold(entry, idx)
	return entry, nil
}

// WriteFooter rewrites the footer and trailer at the current body end,
// truncates the file to the trailer, and flushes. With final set the
// footer is marked complete and the writer refuses further appends.
func (w *PackWriter) WriteFooter(final bool) error {
	const op = "format.PackWriter.WriteFooter"
	if w.finalized {
		return sterr.InvalidArgumentf(op, "pack is already finalized")
	}

	footer := w.table.build(final)
	enc, err := codec.Marshal(&footer)
	if err != nil {
		return sterr.IOFailuref(op, "encoding footer: %v", err)
	}

	ow := &offsetWriter{f: w.f, off: w.bodyEnd}
	if _, err := ow.Write(enc); err != nil {
		return sterr.IOFailuref(op, "writing footer: %v", err)
	}
	trailer := EncodeTrailer(Trailer{
		FooterOffset: uint64(w.bodyEnd),
		FooterLength: uint64(len(enc)),
		FooterSum:    HashFooter(enc),
	})
	if _, err := ow.Write(trailer[:]); err != nil {
		return sterr.IOFailuref(op, "writing trailer: %v", err)
	}
	if err := w.f.Truncate(ow.off); err != nil {
		return sterr.IOFailuref(op, "truncating pack after footer: %v", err)
	}
	if err := w.f.Flush(); err != nil {
		return sterr.IOFailuref(op, "flushing pack: %v", err)
	}
	if final {
		w.finalized = true
	}
	return nil
}

// offsetWriter adapts a positioned writer to io.Writer, tracking its
// own cursor.
type offsetWriter struct {
	f   io.WriterAt
	off int64
}

func (w *offsetWriter) Write(p []byte) (int, error) {
	n, err := w.f.WriteAt(p, w.off)
	w.off += int64(n)
	return n, err
}
