// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/transport"
)

// stepSource is where a reader's steps come from. fetch and find never
// block: a (nil, nil) return means nothing is buffered yet and the
// caller should poll again. An exhausted source returns
// sterr.ErrEndOfStream.
type stepSource interface {
	// fetch returns the next undelivered step per mode.
	fetch(mode StepMode) (*format.StepView, error)

	// find returns the given step once it is available. Used when a
	// coordinator committed a step number every reader peer must
	// deliver.
	find(step uint64) (*format.StepView, error)

	close() error
}

// packSource reads steps from a pack file. In live mode the footer is
// re-read on every fetch so steps appended by a running writer become
// visible; in snapshot mode (random access) the open-time footer is
// all there is.
type packSource struct {
	f    transport.File
	r    *format.PackReader
	log  *slog.Logger
	live bool

	served    uint64
	delivered bool
}

func newPackSource(f transport.File, live bool, log *slog.Logger) (*packSource, error) {
	r, err := format.OpenPack(f)
	if err != nil {
		return nil, err
	}
	return &packSource{f: f, r: r, log: log, live: live}, nil
}

func (s *packSource) refresh() bool {
	if !s.live {
		return true
	}
	// A writer committing concurrently can leave a torn trailer for a
	// moment; treat a failed refresh as "nothing new" and retry on the
	// next poll.
	if err := s.r.Refresh(); err != nil {
		s.log.Warn("pack footer refresh failed, retrying", "error", err)
		return false
	}
	return true
}

func (s *packSource) fetch(mode StepMode) (*format.StepView, error) {
	if !s.refresh() {
		return nil, nil
	}
	steps := s.r.Steps()

	pending := steps
	if s.delivered {
		i := 0
		for i < len(steps) && steps[i] <= s.served {
			i++
		}
		pending = steps[i:]
	}
	if len(pending) == 0 {
		if !s.live || s.r.Final() {
			return nil, sterr.ErrEndOfStream
		}
		return nil, nil
	}

	step := pending[0]
	if mode == LatestAvailable {
		step = pending[len(pending)-1]
		if skipped := len(pending) - 1; skipped > 0 {
			s.log.Debug("skipping to latest step", "step", step, "skipped", skipped)
		}
	}
	view, err := s.r.View(step)
	if err != nil {
		return nil, err
	}
	s.served, s.delivered = step, true
	return view, nil
}

func (s *packSource) find(step uint64) (*format.StepView, error) {
	if !s.refresh() {
		return nil, nil
	}
	if !s.r.Contains(step) {
		return nil, nil
	}
	view, err := s.r.View(step)
	if err != nil {
		return nil, err
	}
	if !s.delivered || step > s.served {
		s.served, s.delivered = step, true
	}
	return view, nil
}

// view loads an arbitrary committed step for random-access Gets.
func (s *packSource) view(step uint64) (*format.StepView, error) {
	return s.r.View(step)
}

func (s *packSource) close() error {
	return s.f.Close()
}

// streamSource reads steps from a stream carrier. A pump goroutine
// decodes frames as they arrive and buffers records in a step ring;
// fetch drains the ring. The handshake is validated once and replays
// of it are skipped.
type streamSource struct {
	recv   transport.Receiver
	ring   *stepRing
	log    *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	hs    *format.Handshake
	final bool
	err   error
}

func newStreamSource(recv transport.Receiver, capacity int, log *slog.Logger) *streamSource {
	ctx, cancel := context.WithCancel(context.Background())
	s := &streamSource{
		recv:   recv,
		ring:   newStepRing(capacity),
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.pump(ctx)
	return s
}

// pump moves frames from the carrier into the ring until the stream
// ends or the source is closed. Corrupt record frames are skipped with
// a warning; the writer's next step supersedes them.
func (s *streamSource) pump(ctx context.Context) {
	defer close(s.done)
	var last uint64
	var any bool
	for {
		kind, payload, err := s.recv.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				// Peer gone. Without the sentinel the stream was cut
				// mid-flight, but every buffered step is still whole.
				if !s.isFinal() {
					s.log.Debug("stream closed without end-of-stream sentinel")
				}
				s.setFinal()
				return
			}
			s.setErr(err)
			return
		}

		switch kind {
		case format.FrameHandshake:
			hs, err := format.DecodeHandshake(payload)
			if err != nil {
				s.setErr(err)
				return
			}
			s.mu.Lock()
			seen := s.hs != nil
			if !seen {
				s.hs = &hs
			}
			s.mu.Unlock()
			// Carriers replay the handshake for late joiners; repeats
			// carry nothing new.
			if !seen {
				s.log.Debug("stream handshake", "stream", hs.StreamID, "writers", hs.Writers)
			}

		case format.FrameRecord:
			rec, err := format.DecodeRecordPayload(payload)
			if err != nil {
				s.log.Warn("skipping undecodable step record", "error", err)
				continue
			}
			if any && rec.Step <= last {
				s.log.Warn("skipping out-of-order step record", "step", rec.Step, "last", last)
				continue
			}
			last, any = rec.Step, true
			if dropped := s.ring.push(rec); dropped > 0 && dropped%uint64(len(s.ring.recs)) == 0 {
				s.log.Warn("reader is lagging, oldest buffered steps dropped", "dropped", dropped)
			}

		case format.FrameEOF:
			if err := format.VerifyEOFPayload(payload); err != nil {
				s.log.Warn("mangled end-of-stream sentinel", "error", err)
			}
			s.setFinal()

		default:
			s.log.Warn("skipping unknown frame kind", "kind", kind)
		}
	}
}

func (s *streamSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamSource) setFinal() {
	s.mu.Lock()
	s.final = true
	s.mu.Unlock()
}

func (s *streamSource) isFinal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

func (s *streamSource) takeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *streamSource) fetch(mode StepMode) (*format.StepView, error) {
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	var rec *format.Record
	if mode == LatestAvailable {
		var skipped int
		rec, skipped = s.ring.latest()
		if skipped > 0 {
			s.log.Debug("skipping to latest step", "step", rec.Step, "skipped", skipped)
		}
	} else {
		rec = s.ring.next()
	}
	if rec == nil {
		if s.isFinal() && s.ring.len() == 0 {
			return nil, sterr.ErrEndOfStream
		}
		return nil, nil
	}
	return &format.StepView{Step: rec.Step, Index: rec.Index, Data: rec.Data}, nil
}

func (s *streamSource) find(step uint64) (*format.StepView, error) {
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	for {
		rec := s.ring.next()
		if rec == nil {
			if s.isFinal() {
				return nil, sterr.Consistencyf("engine.BeginStep",
					"committed step %d never arrived before end of stream", step)
			}
			return nil, nil
		}
		switch {
		case rec.Step < step:
			continue
		case rec.Step == step:
			return &format.StepView{Step: rec.Step, Index: rec.Index, Data: rec.Data}, nil
		default:
			return nil, sterr.Consistencyf("engine.BeginStep",
				"committed step %d was dropped from the stream buffer (oldest buffered is %d)", step, rec.Step)
		}
	}
}

func (s *streamSource) close() error {
	s.cancel()
	<-s.done
	return s.recv.Close()
}
