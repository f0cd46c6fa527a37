// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/stride-data/stride/lib/codec"
	"github.com/stride-data/stride/sterr"
)

// NATSComm runs the collectives over a broker, for writer or reader
// groups that share no process or network listener. Rank and size are
// assigned by the launcher, the way a job scheduler assigns them.
//
// Collectives are matched by a per-member sequence number, so a fast
// rank publishing round n+1 cannot corrupt a root still collecting
// round n. Payloads ride single broker messages; a step fragment
// larger than the broker's message limit fails the gather, so bound
// staged steps (MaxBufferSize) below that limit for brokered runs.
type NATSComm struct {
	conn   *nats.Conn
	log    *slog.Logger
	stream string
	rank   int
	size   int

	gatherSub *nats.Subscription
	bcastSub  *nats.Subscription
	gatherCh  chan *nats.Msg
	bcastCh   chan *nats.Msg

	gatherSeq uint64
	bcastSeq  uint64

	// Frames from future rounds, stashed until their round arrives.
	pendingGather map[uint64]map[int][]byte
	pendingBcast  map[uint64][]byte
}

var _ Comm = (*NATSComm)(nil)

// envelope is the broker wire form of one collective contribution.
type envelope struct {
	Seq  uint64 `cbor:"seq"`
	Rank int    `cbor:"rank"`
	Data []byte `cbor:"data,omitempty"`
}

const commBuffer = 256

// DialNATS joins the coordination group of the named stream.
func DialNATS(url, stream string, rank, size int, log *slog.Logger) (*NATSComm, error) {
	const op = "coordinator.DialNATS"
	if size < 1 || rank < 0 || rank >= size {
		return nil, sterr.InvalidArgumentf(op, "rank %d of %d", rank, size)
	}
	if log == nil {
		log = slog.Default()
	}
	conn, err := nats.Connect(url, nats.Name("stride-coordinator"))
	if err != nil {
		return nil, sterr.IOFailuref(op, "connecting to broker: %v", err)
	}
	c := &NATSComm{
		conn:          conn,
		log:           log,
		stream:        stream,
		rank:          rank,
		size:          size,
		pendingGather: make(map[uint64]map[int][]byte),
		pendingBcast:  make(map[uint64][]byte),
	}
	if rank == 0 {
		c.gatherCh = make(chan *nats.Msg, commBuffer)
		c.gatherSub, err = conn.ChanSubscribe(coordSubject(stream, "gather"), c.gatherCh)
	} else {
		c.bcastCh = make(chan *nats.Msg, commBuffer)
		c.bcastSub, err = conn.ChanSubscribe(coordSubject(stream, "bcast"), c.bcastCh)
	}
	if err != nil {
		conn.Close()
		return nil, sterr.IOFailuref(op, "subscribing: %v", err)
	}
	return c, nil
}

// coordSubject derives the broker subject of one collective direction.
func coordSubject(stream, direction string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, stream)
	return "stride.coord." + sanitized + "." + direction
}

func (c *NATSComm) Rank() int { return c.rank }
func (c *NATSComm) Size() int { return c.size }

// Gather collects this round's payloads at rank 0.
func (c *NATSComm) Gather(ctx context.Context, payload []byte) ([][]byte, error) {
	const op = "coordinator.NATSComm.Gather"
	seq := c.gatherSeq
	c.gatherSeq++

	if c.rank != 0 {
		raw, err := codec.Marshal(&envelope{Seq: seq, Rank: c.rank, Data: payload})
		if err != nil {
			return nil, sterr.IOFailuref(op, "encoding contribution: %v", err)
		}
		if err := c.conn.Publish(coordSubject(c.stream, "gather"), raw); err != nil {
			return nil, sterr.IOFailuref(op, "publishing contribution: %v", err)
		}
		if err := c.conn.FlushWithContext(ctx); err != nil {
			return nil, sterr.Wrap(sterr.KindIOFailure, op, err)
		}
		return nil, nil
	}

	out := make([][]byte, c.size)
	out[0] = payload
	remaining := c.size - 1

	// Contributions that raced ahead of this round were stashed by an
	// earlier Gather.
	if stashed := c.pendingGather[seq]; stashed != nil {
		for rank, data := range stashed {
			out[rank] = data
			remaining--
		}
		delete(c.pendingGather, seq)
	}

	for remaining > 0 {
		select {
		case msg := <-c.gatherCh:
			var env envelope
			if err := codec.Unmarshal(msg.Data, &env); err != nil {
				return nil, sterr.Consistencyf(op, "undecodable contribution: %v", err)
			}
			if env.Rank <= 0 || env.Rank >= c.size {
				return nil, sterr.Consistencyf(op, "contribution from rank %d of %d", env.Rank, c.size)
			}
			switch {
			case env.Seq == seq:
				if out[env.Rank] != nil {
					return nil, sterr.Consistencyf(op, "rank %d contributed twice to round %d", env.Rank, seq)
				}
				out[env.Rank] = env.Data
				remaining--
			case env.Seq > seq:
				stash := c.pendingGather[env.Seq]
				if stash == nil {
					stash = make(map[int][]byte)
					c.pendingGather[env.Seq] = stash
				}
				stash[env.Rank] = env.Data
			default:
				c.log.Warn("dropping stale gather contribution",
					"stream", c.stream, "rank", env.Rank, "round", env.Seq, "current", seq)
			}
		case <-ctx.Done():
			return nil, sterr.Wrap(sterr.KindTimeout, op, ctx.Err())
		}
	}
	return out, nil
}

// Broadcast distributes rank 0's payload for this round.
func (c *NATSComm) Broadcast(ctx context.Context, payload []byte) ([]byte, error) {
	const op = "coordinator.NATSComm.Broadcast"
	seq := c.bcastSeq
	c.bcastSeq++

	if c.rank == 0 {
		raw, err := codec.Marshal(&envelope{Seq: seq, Data: payload})
		if err != nil {
			return nil, sterr.IOFailuref(op, "encoding broadcast: %v", err)
		}
		if err := c.conn.Publish(coordSubject(c.stream, "bcast"), raw); err != nil {
			return nil, sterr.IOFailuref(op, "publishing broadcast: %v", err)
		}
		if err := c.conn.FlushWithContext(ctx); err != nil {
			return nil, sterr.Wrap(sterr.KindIOFailure, op, err)
		}
		return payload, nil
	}

	if data, ok := c.pendingBcast[seq]; ok {
		delete(c.pendingBcast, seq)
		return data, nil
	}
	for {
		select {
		case msg := <-c.bcastCh:
			var env envelope
			if err := codec.Unmarshal(msg.Data, &env); err != nil {
				return nil, sterr.Consistencyf(op, "undecodable broadcast: %v", err)
			}
			switch {
			case env.Seq == seq:
				return env.Data, nil
			case env.Seq > seq:
				c.pendingBcast[env.Seq] = env.Data
			default:
				c.log.Warn("dropping stale broadcast",
					"stream", c.stream, "round", env.Seq, "current", seq)
			}
		case <-ctx.Done():
			return nil, sterr.Wrap(sterr.KindTimeout, op, ctx.Err())
		}
	}
}

// Barrier completes once every member has entered it.
func (c *NATSComm) Barrier(ctx context.Context) error {
	if _, err := c.Gather(ctx, nil); err != nil {
		return err
	}
	_, err := c.Broadcast(ctx, nil)
	return err
}

// Close leaves the group.
func (c *NATSComm) Close() error {
	var firstErr error
	if c.gatherSub != nil {
		firstErr = c.gatherSub.Unsubscribe()
	}
	if c.bcastSub != nil {
		if err := c.bcastSub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.conn.Close()
	return firstErr
}
