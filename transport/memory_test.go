// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/sterr"
)

func TestMemoryStreamDelivery(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	pub, err := hub.Publisher("run")
	if err != nil {
		t.Fatalf("Publisher: %v", err)
	}
	sub, err := hub.Subscriber("run", 8)
	if err != nil {
		t.Fatalf("Subscriber: %v", err)
	}

	frames := []struct {
		kind    byte
		payload string
	}{
		{format.FrameHandshake, "hello"},
		{format.FrameRecord, "step 0"},
		{format.FrameRecord, "step 1"},
		{format.FrameEOF, "bye"},
	}
	for _, fr := range frames {
		if err := pub.Send(ctx, fr.kind, []byte(fr.payload)); err != nil {
			t.Fatalf("Send(%d): %v", fr.kind, err)
		}
	}
	for i, want := range frames {
		kind, payload, err := sub.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if kind != want.kind || string(payload) != want.payload {
			t.Errorf("Recv %d = (%d, %q), want (%d, %q)", i, kind, payload, want.kind, want.payload)
		}
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := sub.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Recv after publisher close = %v, want io.EOF", err)
	}
}

func TestMemoryLateJoinReceivesHandshake(t *testing.T) {
	// A subscriber attaching mid-stream must still learn the stream
	// identity: the hub replays the cached handshake, then delivers
	// frames from the join point onward.
	hub := NewMemoryHub()
	ctx := context.Background()

	pub, err := hub.Publisher("run")
	if err != nil {
		t.Fatalf("Publisher: %v", err)
	}
	if err := pub.Send(ctx, format.FrameHandshake, []byte("identity")); err != nil {
		t.Fatalf("Send handshake: %v", err)
	}
	if err := pub.Send(ctx, format.FrameRecord, []byte("missed step")); err != nil {
		t.Fatalf("Send record: %v", err)
	}

	sub, err := hub.Subscriber("run", 8)
	if err != nil {
		t.Fatalf("Subscriber: %v", err)
	}
	if err := pub.Send(ctx, format.FrameRecord, []byte("seen step")); err != nil {
		t.Fatalf("Send record: %v", err)
	}

	kind, payload, err := sub.Recv(ctx)
	if err != nil || kind != format.FrameHandshake || string(payload) != "identity" {
		t.Fatalf("first Recv = (%d, %q, %v), want the replayed handshake", kind, payload, err)
	}
	kind, payload, err = sub.Recv(ctx)
	if err != nil || kind != format.FrameRecord || string(payload) != "seen step" {
		t.Fatalf("second Recv = (%d, %q, %v), want only the post-join record", kind, payload, err)
	}
}

func TestMemorySinglePublisher(t *testing.T) {
	hub := NewMemoryHub()

	pub, err := hub.Publisher("run")
	if err != nil {
		t.Fatalf("Publisher: %v", err)
	}
	if _, err := hub.Publisher("run"); !sterr.Is(err, sterr.KindInvalidArgument) {
		t.Errorf("second Publisher = %v, want invalid-argument", err)
	}

	// Closing releases the name for a fresh run.
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	again, err := hub.Publisher("run")
	if err != nil {
		t.Fatalf("Publisher after close: %v", err)
	}
	again.Close()
}

func TestMemorySlowSubscriberDropsFrames(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	pub, err := hub.Publisher("run")
	if err != nil {
		t.Fatalf("Publisher: %v", err)
	}
	defer pub.Close()
	sub, err := hub.Subscriber("run", 1)
	if err != nil {
		t.Fatalf("Subscriber: %v", err)
	}

	// The buffer holds one frame; the rest are dropped rather than
	// stalling the writer.
	for i := 0; i < 3; i++ {
		if err := pub.Send(ctx, format.FrameRecord, []byte{byte(i)}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	_, payload, err := sub.Recv(ctx)
	if err != nil || payload[0] != 0 {
		t.Fatalf("Recv = (%v, %v), want the first frame", payload, err)
	}

	short, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := sub.Recv(short); !sterr.Is(err, sterr.KindTimeout) {
		t.Errorf("Recv on an empty buffer = %v, want a timeout error", err)
	}
}
