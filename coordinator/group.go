// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"

	"github.com/stride-data/stride/sterr"
)

// group is the shared state of an in-process communicator. Each rank
// owns a channel in both directions; per-rank ordering makes rounds
// line up without sequence numbers.
type group struct {
	size     int
	toRoot   []chan []byte
	fromRoot []chan []byte
}

// GroupComm is one member of an in-process group, for tests and for
// co-located writers that share a process.
type GroupComm struct {
	g    *group
	rank int
}

var _ Comm = (*GroupComm)(nil)

// NewGroup builds an in-process group of the given size and returns
// one communicator per rank.
func NewGroup(size int) ([]*GroupComm, error) {
	if size < 1 {
		return nil, sterr.InvalidArgumentf("coordinator.NewGroup", "group size %d", size)
	}
	g := &group{
		size:     size,
		toRoot:   make([]chan []byte, size),
		fromRoot: make([]chan []byte, size),
	}
	comms := make([]*GroupComm, size)
	for rank := range comms {
		g.toRoot[rank] = make(chan []byte, 1)
		g.fromRoot[rank] = make(chan []byte, 1)
		comms[rank] = &GroupComm{g: g, rank: rank}
	}
	return comms, nil
}

func (c *GroupComm) Rank() int { return c.rank }
func (c *GroupComm) Size() int { return c.g.size }

// Gather sends this rank's payload to rank 0. The root collects in
// rank order; a non-root member's payload must stay untouched until
// the root's matching Gather returns.
func (c *GroupComm) Gather(ctx context.Context, payload []byte) ([][]byte, error) {
	const op = "coordinator.GroupComm.Gather"
	if c.rank != 0 {
		select {
		case c.g.toRoot[c.rank] <- payload:
			return nil, nil
		case <-ctx.Done():
			return nil, sterr.Wrap(sterr.KindTimeout, op, ctx.Err())
		}
	}
	out := make([][]byte, c.g.size)
	out[0] = payload
	for rank := 1; rank < c.g.size; rank++ {
		select {
		case out[rank] = <-c.g.toRoot[rank]:
		case <-ctx.Done():
			return nil, sterr.Wrap(sterr.KindTimeout, op, ctx.Err())
		}
	}
	return out, nil
}

// Broadcast distributes rank 0's payload.
func (c *GroupComm) Broadcast(ctx context.Context, payload []byte) ([]byte, error) {
	const op = "coordinator.GroupComm.Broadcast"
	if c.rank == 0 {
		for rank := 1; rank < c.g.size; rank++ {
			select {
			case c.g.fromRoot[rank] <- payload:
			case <-ctx.Done():
				return nil, sterr.Wrap(sterr.KindTimeout, op, ctx.Err())
			}
		}
		return payload, nil
	}
	select {
	case payload := <-c.g.fromRoot[c.rank]:
		return payload, nil
	case <-ctx.Done():
		return nil, sterr.Wrap(sterr.KindTimeout, op, ctx.Err())
	}
}

// Barrier is a gather of nothing followed by a broadcast of nothing:
// no member leaves before every member arrived.
func (c *GroupComm) Barrier(ctx context.Context) error {
	if _, err := c.Gather(ctx, nil); err != nil {
		return err
	}
	_, err := c.Broadcast(ctx, nil)
	return err
}

func (c *GroupComm) Close() error { return nil }
