// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator rendezvouses the peers of a parallel run.
//
// Writers use it to assemble one global step record out of per-rank
// fragments: every rank's index and payload gather to rank 0, which
// merges them and broadcasts the commit. Readers use it to agree on
// the next step. The collectives are deliberately few: Gather,
// Broadcast, Barrier, over opaque byte payloads.
//
// Every member of a group must call the same collectives in the same
// order. The package does not detect a rank that calls Gather while
// its peers sit in Barrier; like any message-passing program, that is
// a hang, bounded by the context deadline.
package coordinator

import (
	"context"

	"github.com/stride-data/stride/sterr"
)

// Comm is the collective surface of one group member.
type Comm interface {
	// Rank is this member's position, 0 to Size-1. Rank 0 merges and
	// commits.
	Rank() int

	// Size is the number of members.
	Size() int

	// Gather collects every member's payload at rank 0. The root
	// returns the payloads indexed by rank, its own included;
	// non-root members return nil and do not wait for the root to
	// collect.
	Gather(ctx context.Context, payload []byte) ([][]byte, error)

	// Broadcast distributes rank 0's payload to every member. The
	// root returns its own payload; the argument of non-root members
	// is ignored.
	Broadcast(ctx context.Context, payload []byte) ([]byte, error)

	// Barrier returns once every member has entered it.
	Barrier(ctx context.Context) error

	Close() error
}

// Single is the serial group: one member, every collective trivial.
// Engines opened without a coordinator run on it.
type Single struct{}

var _ Comm = Single{}

func (Single) Rank() int { return 0 }
func (Single) Size() int { return 1 }

func (Single) Gather(ctx context.Context, payload []byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, sterr.Wrap(sterr.KindTimeout, "coordinator.Single.Gather", err)
	}
	return [][]byte{payload}, nil
}

func (Single) Broadcast(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, sterr.Wrap(sterr.KindTimeout, "coordinator.Single.Broadcast", err)
	}
	return payload, nil
}

func (Single) Barrier(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return sterr.Wrap(sterr.KindTimeout, "coordinator.Single.Barrier", err)
	}
	return nil
}

func (Single) Close() error { return nil }
