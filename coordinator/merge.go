// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"bytes"
	"log/slog"
	"slices"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/lib/box"
	"github.com/stride-data/stride/lib/codec"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/variable"
)

// Fragment is one rank's contribution to a step: its local index and
// the payload bytes the index's block offsets point into.
type Fragment struct {
	Index *format.StepIndex `cbor:"index"`
	Data  []byte            `cbor:"data,omitempty"`
}

// EncodeFragment serializes a fragment for the gather.
func EncodeFragment(f *Fragment) ([]byte, error) {
	raw, err := codec.Marshal(f)
	if err != nil {
		return nil, sterr.IOFailuref("coordinator.EncodeFragment", "encoding fragment: %v", err)
	}
	return raw, nil
}

// DecodeFragment deserializes one gathered contribution.
func DecodeFragment(raw []byte) (*Fragment, error) {
	var f Fragment
	if err := codec.Unmarshal(raw, &f); err != nil {
		return nil, sterr.Consistencyf("coordinator.DecodeFragment", "undecodable fragment: %v", err)
	}
	if f.Index == nil {
		return nil, sterr.Consistencyf("coordinator.DecodeFragment", "fragment carries no index")
	}
	return &f, nil
}

// MergeFragments folds per-rank fragments into one global step record:
// payloads concatenated in rank order with block offsets rebased, a
// joined dimension resolved by prefix sums, global values checked for
// agreement, attributes deduplicated.
//
// Overlapping global-array blocks are legal but suspicious, so they
// warn; on read-back the later block in index order wins.
func MergeFragments(log *slog.Logger, frags []*Fragment) (*format.StepIndex, []byte, error) {
	const op = "coordinator.MergeFragments"
	if len(frags) == 0 {
		return nil, nil, sterr.InvalidArgumentf(op, "no fragments to merge")
	}
	if log == nil {
		log = slog.Default()
	}

	sorted := slices.Clone(frags)
	slices.SortStableFunc(sorted, func(a, b *Fragment) int {
		return a.Index.Rank - b.Index.Rank
	})

	step := sorted[0].Index.Step
	merged := &format.StepIndex{Step: step, Ranks: len(sorted)}
	var data []byte

	varSlot := make(map[string]int)
	joinedTotal := make(map[string]uint64)
	attrSeen := make(map[string]struct{})
	seenRank := make(map[int]struct{})

	for _, frag := range sorted {
		idx := frag.Index
		if idx.Step != step {
			return nil, nil, sterr.Consistencyf(op,
				"rank %d contributed step %d to the merge of step %d", idx.Rank, idx.Step, step)
		}
		if _, dup := seenRank[idx.Rank]; dup {
			return nil, nil, sterr.Consistencyf(op, "rank %d sent two fragments", idx.Rank)
		}
		seenRank[idx.Rank] = struct{}{}

		for vi := range idx.Vars {
			v := &idx.Vars[vi]
			slot, known := varSlot[v.Name]
			if !known {
				slot = len(merged.Vars)
				varSlot[v.Name] = slot
				merged.Vars = append(merged.Vars, format.VarRecord{
					Name:  v.Name,
					Type:  v.Type,
					Class: v.Class,
					Shape: slices.Clone(v.Shape),
				})
			}
			out := &merged.Vars[slot]
			if out.Type != v.Type {
				return nil, nil, sterr.Consistencyf(op,
					"variable %q is %v on rank %d but %v elsewhere", v.Name, v.Type, idx.Rank, out.Type)
			}
			if out.Class != v.Class {
				return nil, nil, sterr.Consistencyf(op,
					"variable %q changes shape class on rank %d", v.Name, idx.Rank)
			}
			if known && !slices.Equal(out.Shape, v.Shape) {
				return nil, nil, sterr.Consistencyf(op,
					"variable %q has shape %v on rank %d but %v elsewhere", v.Name, v.Shape, idx.Rank, out.Shape)
			}

			for bi := range v.Blocks {
				blk := v.Blocks[bi]
				end := blk.Offset + blk.Size
				if end < blk.Offset || end > uint64(len(frag.Data)) {
					return nil, nil, sterr.Consistencyf(op,
						"variable %q block on rank %d spans [%d,%d) of a %d-byte fragment",
						v.Name, idx.Rank, blk.Offset, end, len(frag.Data))
				}
				payload := frag.Data[blk.Offset:end]

				if v.Class == variable.GlobalValue && len(out.Blocks) > 0 {
					kept := out.Blocks[0]
					if !bytes.Equal(payload, data[kept.Offset:kept.Offset+kept.Size]) {
						return nil, nil, sterr.Consistencyf(op,
							"global value %q differs on rank %d", v.Name, idx.Rank)
					}
					// Agreed duplicate; one copy represents all ranks.
					continue
				}

				blk.Rank = idx.Rank
				if j := box.JoinedIndex(out.Shape); j >= 0 && v.Class == variable.GlobalArray {
					if len(blk.Start) != len(out.Shape) || len(blk.Count) != len(out.Shape) {
						return nil, nil, sterr.Consistencyf(op,
							"variable %q block on rank %d has %d dimensions, shape has %d",
							v.Name, idx.Rank, len(blk.Count), len(out.Shape))
					}
					blk.Start = slices.Clone(blk.Start)
					blk.Start[j] = joinedTotal[v.Name]
					joinedTotal[v.Name] += blk.Count[j]
				} else if v.Class == variable.GlobalArray {
					newBox := blk.Box()
					for oi := range out.Blocks {
						if box.Overlaps(out.Blocks[oi].Box(), newBox) {
							log.Warn("overlapping blocks in step",
								"variable", v.Name, "step", step,
								"rank", idx.Rank, "block", newBox.String())
						}
					}
				}

				blk.Offset = uint64(len(data))
				data = append(data, payload...)
				out.Blocks = append(out.Blocks, blk)
			}
		}

		for _, attr := range idx.Attrs {
			key := attr.Of + "\x00" + attr.Name
			if _, dup := attrSeen[key]; dup {
				continue
			}
			attrSeen[key] = struct{}{}
			merged.Attrs = append(merged.Attrs, attr)
		}
	}

	// A joined dimension resolves to the total extent contributed.
	for i := range merged.Vars {
		v := &merged.Vars[i]
		if j := box.JoinedIndex(v.Shape); j >= 0 && v.Class == variable.GlobalArray {
			v.Shape[j] = joinedTotal[v.Name]
		}
	}
	return merged, data, nil
}
