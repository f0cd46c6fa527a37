// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stride-data/stride/sterr"
)

func TestSingleCollectives(t *testing.T) {
	ctx := context.Background()
	var c Comm = Single{}

	if c.Rank() != 0 || c.Size() != 1 {
		t.Fatalf("Single = rank %d size %d", c.Rank(), c.Size())
	}
	gathered, err := c.Gather(ctx, []byte("mine"))
	if err != nil || len(gathered) != 1 || string(gathered[0]) != "mine" {
		t.Errorf("Gather = %q, %v", gathered, err)
	}
	echoed, err := c.Broadcast(ctx, []byte("commit"))
	if err != nil || string(echoed) != "commit" {
		t.Errorf("Broadcast = %q, %v", echoed, err)
	}
	if err := c.Barrier(ctx); err != nil {
		t.Errorf("Barrier: %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := c.Gather(canceled, nil); !sterr.Is(err, sterr.KindTimeout) {
		t.Errorf("Gather on a dead context = %v, want timeout", err)
	}
}

func TestGroupGatherAndBroadcast(t *testing.T) {
	const size = 3
	ctx := context.Background()
	comms, err := NewGroup(size)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(c *GroupComm) {
			defer wg.Done()

			gathered, err := c.Gather(ctx, []byte(fmt.Sprintf("from %d", c.Rank())))
			if err != nil {
				t.Errorf("rank %d Gather: %v", c.Rank(), err)
				return
			}
			if c.Rank() == 0 {
				if len(gathered) != size {
					t.Errorf("root gathered %d payloads", len(gathered))
					return
				}
				for rank, payload := range gathered {
					if want := fmt.Sprintf("from %d", rank); string(payload) != want {
						t.Errorf("gathered[%d] = %q, want %q", rank, payload, want)
					}
				}
			} else if gathered != nil {
				t.Errorf("rank %d Gather returned payloads", c.Rank())
			}

			committed, err := c.Broadcast(ctx, []byte("commit step 7"))
			if err != nil || string(committed) != "commit step 7" {
				t.Errorf("rank %d Broadcast = %q, %v", c.Rank(), committed, err)
			}
		}(comms[rank])
	}
	wg.Wait()
}

func TestGroupBarrierOrdersAllRanks(t *testing.T) {
	const size = 4
	ctx := context.Background()
	comms, err := NewGroup(size)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	var entered atomic.Int32
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(c *GroupComm) {
			defer wg.Done()
			entered.Add(1)
			if err := c.Barrier(ctx); err != nil {
				t.Errorf("rank %d Barrier: %v", c.Rank(), err)
				return
			}
			// Nobody leaves before everybody arrived.
			if n := entered.Load(); n != size {
				t.Errorf("rank %d left the barrier with %d/%d ranks arrived", c.Rank(), n, size)
			}
		}(comms[rank])
	}
	wg.Wait()
}

func TestGroupGatherHonorsDeadline(t *testing.T) {
	comms, err := NewGroup(2)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	// Rank 1 never contributes; the root's gather must give up at the
	// deadline instead of hanging.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := comms[0].Gather(ctx, nil); !sterr.Is(err, sterr.KindTimeout) {
		t.Errorf("Gather = %v, want timeout", err)
	}
}

func TestGroupRejectsEmpty(t *testing.T) {
	if _, err := NewGroup(0); !sterr.Is(err, sterr.KindInvalidArgument) {
		t.Errorf("NewGroup(0) = %v, want invalid-argument", err)
	}
}
