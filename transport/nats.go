// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/sterr"
)

// Compile-time interface checks.
var (
	_ Sender   = (*NATSSender)(nil)
	_ Receiver = (*NATSReceiver)(nil)
)

// natsSubject derives the broker subject for a stream name. Subject
// hierarchy characters in the name are flattened so a pack path like
// "out/fields.sp" cannot escape the stride.stream prefix.
func natsSubject(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
	return "stride.stream." + sanitized
}

// NATSSender publishes stream frames on a broker subject, one message
// per frame with the frame kind as the leading byte. Core NATS
// delivers only to current subscribers, so the handshake is
// republished ahead of each record; receivers treat repeats as
// idempotent.
type NATSSender struct {
	conn    *nats.Conn
	subject string

	mu        sync.Mutex
	handshake []byte
	closed    bool
}

// DialNATSSender connects to a broker and returns a sender for
// subject.
func DialNATSSender(url, subject string) (*NATSSender, error) {
	conn, err := nats.Connect(url, nats.Name("stride-writer"))
	if err != nil {
		return nil, sterr.IOFailuref("transport.DialNATSSender", "connecting to %s: %v", url, err)
	}
	return &NATSSender{conn: conn, subject: subject}, nil
}

// Send publishes one frame.
func (s *NATSSender) Send(ctx context.Context, kind byte, payload []byte) error {
	const op = "transport.NATSSender.Send"
	if err := ctx.Err(); err != nil {
		return sterr.Wrap(sterr.KindTimeout, op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sterr.IOFailuref(op, "sender is closed")
	}

	msg := make([]byte, 1+len(payload))
	msg[0] = kind
	copy(msg[1:], payload)

	if kind == format.FrameHandshake {
		s.handshake = msg
	} else if s.handshake != nil {
		if err := s.conn.Publish(s.subject, s.handshake); err != nil {
			return sterr.IOFailuref(op, "publishing handshake: %v", err)
		}
	}
	if err := s.conn.Publish(s.subject, msg); err != nil {
		return sterr.IOFailuref(op, "publishing frame: %v", err)
	}
	if kind == format.FrameEOF {
		if err := s.conn.FlushWithContext(ctx); err != nil {
			return sterr.IOFailuref(op, "flushing end-of-stream: %v", err)
		}
	}
	return nil
}

// Close flushes pending publishes and drops the connection.
func (s *NATSSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.conn.Flush()
	s.conn.Close()
	return err
}

// natsReceiverBuffer is the delivery channel capacity. The client
// drops messages beyond it rather than stalling the broker, which for
// a stream means a reader too slow for the writer loses steps.
const natsReceiverBuffer = 256

// NATSReceiver consumes stream frames from a broker subject.
type NATSReceiver struct {
	conn *nats.Conn
	sub  *nats.Subscription
	msgs chan *nats.Msg
}

// SubscribeNATS connects to a broker and subscribes to subject.
func SubscribeNATS(url, subject string) (*NATSReceiver, error) {
	const op = "transport.SubscribeNATS"
	msgs := make(chan *nats.Msg, natsReceiverBuffer)
	conn, err := nats.Connect(url, nats.Name("stride-reader"),
		nats.ClosedHandler(func(*nats.Conn) { close(msgs) }))
	if err != nil {
		return nil, sterr.IOFailuref(op, "connecting to %s: %v", url, err)
	}
	sub, err := conn.ChanSubscribe(subject, msgs)
	if err != nil {
		conn.Close()
		return nil, sterr.IOFailuref(op, "subscribing to %s: %v", subject, err)
	}
	return &NATSReceiver{conn: conn, sub: sub, msgs: msgs}, nil
}

// Recv returns the next frame. io.EOF means the connection closed.
func (r *NATSReceiver) Recv(ctx context.Context) (byte, []byte, error) {
	const op = "transport.NATSReceiver.Recv"
	select {
	case msg, ok := <-r.msgs:
		if !ok {
			return 0, nil, io.EOF
		}
		if len(msg.Data) == 0 {
			return 0, nil, sterr.Consistencyf(op, "empty stream message on %s", msg.Subject)
		}
		return msg.Data[0], msg.Data[1:], nil
	case <-ctx.Done():
		return 0, nil, sterr.Wrap(sterr.KindTimeout, op, ctx.Err())
	}
}

// Close unsubscribes and drops the connection; a blocked Recv returns
// io.EOF once the close handler runs.
func (r *NATSReceiver) Close() error {
	err := r.sub.Unsubscribe()
	r.conn.Close()
	return err
}
