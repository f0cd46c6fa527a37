// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/sterr"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestTCPStreamRoundtrip(t *testing.T) {
	ctx := context.Background()

	pub, err := ListenTCP("127.0.0.1:0", testLog)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer pub.Close()

	// Publish the handshake before the subscriber exists; the
	// publisher replays it to every late joiner, which is also the
	// synchronization point the rest of the test builds on.
	if err := pub.Send(ctx, format.FrameHandshake, []byte("stream identity")); err != nil {
		t.Fatalf("Send handshake: %v", err)
	}

	sub, err := DialTCP(ctx, pub.Address())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer sub.Close()

	kind, payload, err := sub.Recv(ctx)
	if err != nil || kind != format.FrameHandshake || string(payload) != "stream identity" {
		t.Fatalf("Recv = (%d, %q, %v), want the replayed handshake", kind, payload, err)
	}

	for i := 0; i < 3; i++ {
		if err := pub.Send(ctx, format.FrameRecord, []byte{byte(i), byte(i)}); err != nil {
			t.Fatalf("Send record %d: %v", i, err)
		}
	}
	if err := pub.Send(ctx, format.FrameEOF, format.EOFPayload()); err != nil {
		t.Fatalf("Send sentinel: %v", err)
	}

	for i := 0; i < 3; i++ {
		kind, payload, err := sub.Recv(ctx)
		if err != nil || kind != format.FrameRecord {
			t.Fatalf("Recv record %d = (%d, %v)", i, kind, err)
		}
		if len(payload) != 2 || payload[0] != byte(i) {
			t.Errorf("record %d payload = %v", i, payload)
		}
	}
	kind, payload, err = sub.Recv(ctx)
	if err != nil || kind != format.FrameEOF {
		t.Fatalf("Recv sentinel = (%d, %v)", kind, err)
	}
	if err := format.VerifyEOFPayload(payload); err != nil {
		t.Errorf("VerifyEOFPayload: %v", err)
	}
}

func TestTCPRecvDeadline(t *testing.T) {
	pub, err := ListenTCP("127.0.0.1:0", testLog)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer pub.Close()
	sub, err := DialTCP(context.Background(), pub.Address())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := sub.Recv(ctx); !sterr.Is(err, sterr.KindTimeout) {
		t.Errorf("Recv on an idle stream = %v, want a timeout error", err)
	}
}

func TestTCPPublisherCloseEndsSubscriber(t *testing.T) {
	ctx := context.Background()

	pub, err := ListenTCP("127.0.0.1:0", testLog)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	if err := pub.Send(ctx, format.FrameHandshake, []byte("id")); err != nil {
		t.Fatalf("Send handshake: %v", err)
	}
	sub, err := DialTCP(ctx, pub.Address())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer sub.Close()
	if _, _, err := sub.Recv(ctx); err != nil {
		t.Fatalf("Recv handshake: %v", err)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	deadline, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, _, err := sub.Recv(deadline); !errors.Is(err, io.EOF) {
		t.Errorf("Recv after publisher close = %v, want io.EOF", err)
	}
}
