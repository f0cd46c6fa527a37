// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/sterr"
)

// Compile-time interface checks.
var (
	_ Sender   = (*TCPPublisher)(nil)
	_ Receiver = (*TCPSubscriber)(nil)
)

// writeStallLimit bounds how long one subscriber may stall a frame
// broadcast before it is dropped. A reader that stopped draining its
// socket must not hold up the writer's step loop.
const writeStallLimit = time.Minute

// TCPPublisher is the writer side of the tcp stream carrier: it
// listens on an address and broadcasts every frame to every connected
// subscriber. Subscribers that connect mid-stream receive the cached
// handshake first, then frames from their join point onward; earlier
// steps are gone, which is the streaming contract.
type TCPPublisher struct {
	listener net.Listener
	log      *slog.Logger

	mu        sync.Mutex
	conns     map[net.Conn]struct{}
	handshake []byte
	closed    bool
}

// ListenTCP starts a stream publisher on address. Use ":0" to pick a
// free port and Address to discover it.
func ListenTCP(address string, log *slog.Logger) (*TCPPublisher, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, sterr.IOFailuref("transport.ListenTCP", "listening on %s: %v", address, err)
	}
	if log == nil {
		log = slog.Default()
	}
	p := &TCPPublisher{
		listener: listener,
		log:      log,
		conns:    make(map[net.Conn]struct{}),
	}
	go p.accept()
	return p, nil
}

// Address returns the publisher's listen address in "host:port" form.
func (p *TCPPublisher) Address() string {
	return p.listener.Addr().String()
}

func (p *TCPPublisher) accept() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		if p.handshake != nil {
			conn.SetWriteDeadline(time.Now().Add(writeStallLimit))
			if _, err := conn.Write(p.handshake); err != nil {
				p.mu.Unlock()
				conn.Close()
				continue
			}
		}
		p.conns[conn] = struct{}{}
		subscriberCount := len(p.conns)
		p.mu.Unlock()
		p.log.Debug("stream subscriber connected",
			"remote", conn.RemoteAddr().String(), "subscribers", subscriberCount)
	}
}

// Send broadcasts one frame. A subscriber whose socket fails or stalls
// past the write limit is dropped; losing a reader never fails the
// writer. With no subscribers connected the frame is dropped entirely.
func (p *TCPPublisher) Send(ctx context.Context, kind byte, payload []byte) error {
	const op = "transport.TCPPublisher.Send"
	if err := ctx.Err(); err != nil {
		return sterr.Wrap(sterr.KindTimeout, op, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + 16)
	if err := format.WriteFrame(&buf, kind, payload); err != nil {
		return sterr.IOFailuref(op, "encoding frame: %v", err)
	}
	frame := buf.Bytes()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return sterr.IOFailuref(op, "publisher is closed")
	}
	if kind == format.FrameHandshake {
		p.handshake = frame
	}

	deadline := time.Now().Add(writeStallLimit)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for conn := range p.conns {
		conn.SetWriteDeadline(deadline)
		if _, err := conn.Write(frame); err != nil {
			p.log.Warn("dropping stream subscriber",
				"remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			delete(p.conns, conn)
		}
	}
	return nil
}

// Close stops accepting subscribers and closes every connection. Send
// the end-of-stream sentinel before closing so readers see a clean
// end rather than a truncation.
func (p *TCPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.listener.Close()
	for conn := range p.conns {
		conn.Close()
		delete(p.conns, conn)
	}
	return err
}

// TCPSubscriber is the reader side of the tcp stream carrier. A
// dedicated goroutine owns the socket and delivers whole frames, so a
// Recv abandoned at a deadline never leaves a frame half-read.
type TCPSubscriber struct {
	conn      net.Conn
	frames    chan tcpFrame
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

type tcpFrame struct {
	kind    byte
	payload []byte
}

// DialTCP connects to a stream publisher.
func DialTCP(ctx context.Context, address string) (*TCPSubscriber, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, sterr.IOFailuref("transport.DialTCP", "connecting to %s: %v", address, err)
	}
	s := &TCPSubscriber{
		conn:   conn,
		frames: make(chan tcpFrame, 4),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *TCPSubscriber) readLoop() {
	br := bufio.NewReaderSize(s.conn, 1<<16)
	for {
		kind, payload, err := format.ReadFrame(br)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = io.EOF
			}
			// The assignment happens before the close, so Recv
			// observes it once the channel reports closed.
			s.err = err
			close(s.frames)
			return
		}
		select {
		case s.frames <- tcpFrame{kind: kind, payload: payload}:
		case <-s.done:
			return
		}
	}
}

// Recv returns the next frame. io.EOF means the publisher closed the
// connection; a context deadline surfaces as a Timeout error and the
// frame, when it arrives, is returned by the next call.
func (s *TCPSubscriber) Recv(ctx context.Context) (byte, []byte, error) {
	select {
	case fr, ok := <-s.frames:
		if !ok {
			return 0, nil, s.err
		}
		return fr.kind, fr.payload, nil
	case <-s.done:
		return 0, nil, io.EOF
	case <-ctx.Done():
		return 0, nil, sterr.Wrap(sterr.KindTimeout, "transport.TCPSubscriber.Recv", ctx.Err())
	}
}

// Close tears down the connection; a blocked Recv returns io.EOF.
func (s *TCPSubscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.conn.Close()
}
