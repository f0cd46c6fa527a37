// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/stride-data/stride/lib/codec"
)

// recordPrefixSize is the fixed front of every step record: step
// number and record size.
const recordPrefixSize = 16

// Record is one decoded step record: the step number, its metadata
// index, and the packed data block.
type Record struct {
	Step  uint64
	Index StepIndex
	Data  []byte
}

// EncodeIndex serializes a step index as deterministic CBOR — the
// exact bytes of the record's metadata block.
func EncodeIndex(idx *StepIndex) ([]byte, error) {
	meta, err := codec.Marshal(idx)
	if err != nil {
		return nil, fmt.Errorf("encoding step %d index: %w", idx.Step, err)
	}
	return meta, nil
}

// RecordSize returns the total on-wire size of a record with the
// given metadata and data block lengths, prefix included.
func RecordSize(metaLen, dataLen int) uint64 {
	return recordPrefixSize + 8 + uint64(metaLen) + 8 + uint64(dataLen)
}

// WriteRecord writes one framed step record:
//
//	step          u64
//	size          u64  (bytes that follow this field)
//	meta length   u64
//	meta          CBOR StepIndex
//	data length   u64
//	data          packed payloads
//
// meta must come from [EncodeIndex]. Returns the total bytes written;
// on error the count reflects what reached w, so the caller can track
// how far a partial record extends.
func WriteRecord(w io.Writer, step uint64, meta, data []byte) (uint64, error) {
	var head [recordPrefixSize + 8]byte
	binary.NativeEndian.PutUint64(head[0:8], step)
	binary.NativeEndian.PutUint64(head[8:16], 8+uint64(len(meta))+8+uint64(len(data)))
	binary.NativeEndian.PutUint64(head[16:24], uint64(len(meta)))

	var written uint64
	n, err := w.Write(head[:])
	written += uint64(n)
	if err != nil {
		return written, fmt.Errorf("writing step %d record prefix: %w", step, err)
	}

	n, err = w.Write(meta)
	written += uint64(n)
	if err != nil {
		return written, fmt.Errorf("writing step %d metadata block: %w", step, err)
	}

	var dataLen [8]byte
	binary.NativeEndian.PutUint64(dataLen[:], uint64(len(data)))
	n, err = w.Write(dataLen[:])
	written += uint64(n)
	if err != nil {
		return written, fmt.Errorf("writing step %d data length: %w", step, err)
	}

	if len(data) > 0 {
		n, err = w.Write(data)
		written += uint64(n)
		if err != nil {
			return written, fmt.Errorf("writing step %d data block: %w", step, err)
		}
	}
	return written, nil
}

// ReadRecord reads one framed step record from r. Returns io.EOF
// unwrapped when the reader is exactly at end of input, so sequential
// scans can stop cleanly.
func ReadRecord(r io.Reader) (*Record, error) {
	var prefix [recordPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading record prefix: %w", err)
	}
	step := binary.NativeEndian.Uint64(prefix[0:8])
	size := binary.NativeEndian.Uint64(prefix[8:16])

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading step %d record body (%d bytes): %w", step, size, err)
	}
	return decodeRecordBody(step, size, body)
}

// ReadRecordAt reads the record at off whose total framed size is
// known from a step entry.
func ReadRecordAt(f io.ReaderAt, off int64, size uint64) (*Record, error) {
	return ReadRecord(io.NewSectionReader(f, off, int64(size)))
}

// decodeRecordBody parses the bytes after a record's prefix. The
// internal length fields must account for the declared record size
// exactly; a disagreement means the framing is corrupt.
func decodeRecordBody(step, size uint64, body []byte) (*Record, error) {
	if size < 16 {
		return nil, fmt.Errorf("step %d record size %d is below the framing minimum", step, size)
	}
	metaLen := binary.NativeEndian.Uint64(body[0:8])
	if 8+metaLen+8 > size {
		return nil, fmt.Errorf("step %d metadata length %d exceeds record size %d", step, metaLen, size)
	}
	meta := body[8 : 8+metaLen]
	dataLen := binary.NativeEndian.Uint64(body[8+metaLen : 16+metaLen])
	if 8+metaLen+8+dataLen != size {
		return nil, fmt.Errorf("step %d record size %d does not match framed lengths (meta %d, data %d)",
			step, size, metaLen, dataLen)
	}
	data := body[16+metaLen:]

	rec := &Record{Step: step, Data: data}
	if err := codec.Unmarshal(meta, &rec.Index); err != nil {
		return nil, fmt.Errorf("decoding step %d index: %w", step, err)
	}
	if rec.Index.Step != step {
		return nil, fmt.Errorf("record frame names step %d but its index names step %d", step, rec.Index.Step)
	}
	return rec, nil
}
