// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"sync"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/sterr"
)

// Compile-time interface checks.
var (
	_ Sender   = (*MemoryPublisher)(nil)
	_ Receiver = (*MemorySubscriber)(nil)
)

// defaultMemoryBuffer is the per-subscriber frame buffer of the
// memory carrier.
const defaultMemoryBuffer = 256

// DefaultHub connects memory-carrier senders and receivers within the
// process. Writer and reader sides of a test or co-located pipeline
// meet here by stream name.
var DefaultHub = NewMemoryHub()

// MemoryHub is an in-process stream fabric: one publisher and any
// number of subscribers per stream name, frames delivered through
// buffered channels. It exists for tests and for pipelines whose
// producer and consumer share a process.
type MemoryHub struct {
	mu      sync.Mutex
	streams map[string]*memoryStream
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{streams: make(map[string]*memoryStream)}
}

type memoryStream struct {
	hub  *MemoryHub
	name string

	mu        sync.Mutex
	published bool
	handshake *memoryFrame
	subs      map[*MemorySubscriber]struct{}
}

type memoryFrame struct {
	kind    byte
	payload []byte
}

func (h *MemoryHub) stream(name string) *memoryStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[name]
	if !ok {
		st = &memoryStream{hub: h, name: name, subs: make(map[*MemorySubscriber]struct{})}
		h.streams[name] = st
	}
	return st
}

// Publisher claims the writer side of the named stream. A stream has
// at most one publisher at a time.
func (h *MemoryHub) Publisher(name string) (*MemoryPublisher, error) {
	st := h.stream(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.published {
		return nil, sterr.InvalidArgumentf("transport.MemoryHub.Publisher",
			"stream %q already has a publisher", name)
	}
	st.published = true
	return &MemoryPublisher{stream: st}, nil
}

// Subscriber attaches a reader to the named stream. A subscriber that
// joins after the handshake was published receives it first, then
// frames from its join point onward.
func (h *MemoryHub) Subscriber(name string, buffer int) (*MemorySubscriber, error) {
	if buffer < 1 {
		buffer = 1
	}
	st := h.stream(name)
	sub := &MemorySubscriber{stream: st, frames: make(chan memoryFrame, buffer)}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.handshake != nil {
		sub.frames <- *st.handshake
	}
	st.subs[sub] = struct{}{}
	return sub, nil
}

// MemoryPublisher is the writer side of an in-process stream.
type MemoryPublisher struct {
	stream *memoryStream
	closed bool
}

// Send delivers one frame to every attached subscriber. A subscriber
// whose buffer is full loses the frame, the same slow-consumer policy
// as the broker carrier; size the buffer for the expected step rate.
func (p *MemoryPublisher) Send(ctx context.Context, kind byte, payload []byte) error {
	const op = "transport.MemoryPublisher.Send"
	if err := ctx.Err(); err != nil {
		return sterr.Wrap(sterr.KindTimeout, op, err)
	}
	st := p.stream
	st.mu.Lock()
	defer st.mu.Unlock()
	if p.closed {
		return sterr.IOFailuref(op, "publisher is closed")
	}

	fr := memoryFrame{kind: kind, payload: payload}
	if kind == format.FrameHandshake {
		st.handshake = &fr
	}
	for sub := range st.subs {
		select {
		case sub.frames <- fr:
		default:
		}
	}
	return nil
}

// Close detaches every subscriber (their Recv drains buffered frames,
// then reports io.EOF) and releases the stream name for reuse.
func (p *MemoryPublisher) Close() error {
	st := p.stream
	st.mu.Lock()
	if p.closed {
		st.mu.Unlock()
		return nil
	}
	p.closed = true
	st.published = false
	st.handshake = nil
	for sub := range st.subs {
		sub.closeOnce.Do(func() { close(sub.frames) })
		delete(st.subs, sub)
	}
	st.mu.Unlock()

	st.hub.mu.Lock()
	delete(st.hub.streams, st.name)
	st.hub.mu.Unlock()
	return nil
}

// MemorySubscriber is the reader side of an in-process stream.
type MemorySubscriber struct {
	stream    *memoryStream
	frames    chan memoryFrame
	closeOnce sync.Once
}

// Recv returns the next frame; io.EOF after the publisher closed.
func (s *MemorySubscriber) Recv(ctx context.Context) (byte, []byte, error) {
	select {
	case fr, ok := <-s.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return fr.kind, fr.payload, nil
	case <-ctx.Done():
		return 0, nil, sterr.Wrap(sterr.KindTimeout, "transport.MemorySubscriber.Recv", ctx.Err())
	}
}

// Close detaches from the stream.
func (s *MemorySubscriber) Close() error {
	st := s.stream
	st.mu.Lock()
	if _, attached := st.subs[s]; attached {
		delete(st.subs, s)
		s.closeOnce.Do(func() { close(s.frames) })
	}
	st.mu.Unlock()
	return nil
}
