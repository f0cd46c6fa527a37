// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stride-data/stride/coordinator"
	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/lib/codec"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/variable"
)

// commitFragment closes the staged blocks into one step record and
// commits it to every carrier. continued marks a mid-step spill; the
// step's final fragment clears it.
//
// Single-peer fragments go through the coordinator merge too: it
// resolves joined dimensions and rebases block offsets the same way
// for one rank as for many.
func (e *Engine) commitFragment(ctx context.Context, continued bool) error {
	idx, data, packErr := e.packFragment()
	if e.multi() {
		if err := e.commitGroup(ctx, idx, data, packErr); err != nil {
			return err
		}
		e.completePuts()
		return nil
	}

	if packErr != nil {
		return packErr
	}
	merged, body, err := coordinator.MergeFragments(e.log, []*coordinator.Fragment{{Index: idx, Data: data}})
	if err != nil {
		return err
	}
	merged.Continued = continued
	if err := e.writeSinks(ctx, merged, body); err != nil {
		return err
	}
	e.completePuts()
	return nil
}

// packFragment transforms and packs this peer's staged blocks into its
// fragment of the current step. Payloads are copied out of staging
// into the fragment, so the arena can be reset as soon as the commit
// protocol owns the fragment.
func (e *Engine) packFragment() (*format.StepIndex, []byte, error) {
	const op = "engine.EndStep"

	idx := &format.StepIndex{Step: e.curStep}
	if e.multi() {
		idx.Rank = e.comm.Rank()
	}

	var buf bytes.Buffer
	slot := make(map[string]int)
	for _, req := range e.puts {
		raw, err := e.hostBytes(req)
		if err != nil {
			return nil, nil, sterr.Wrap(sterr.KindIOFailure, op, err)
		}
		payload, recorded, err := e.reg.ApplyFor(req.typ, req.chain, raw)
		if err != nil {
			return nil, nil, err
		}

		blk := format.BlockRecord{
			Rank:    idx.Rank,
			Start:   req.sel.Start,
			Count:   req.sel.Count,
			Offset:  uint64(buf.Len()),
			Size:    uint64(len(payload)),
			RawSize: uint64(len(raw)),
			Ops:     recorded,
		}
		if e.set.StatsLevel >= 1 {
			blk.Min, blk.Max = minMaxPayload(req.typ, raw)
			blk.Checksum = format.HashPayload(payload)
		}
		buf.Write(payload)

		si, ok := slot[req.name]
		if !ok {
			si = len(idx.Vars)
			slot[req.name] = si
			idx.Vars = append(idx.Vars, format.VarRecord{
				Name:  req.name,
				Type:  req.typ,
				Class: req.class,
				Shape: req.shape,
			})
		}
		idx.Vars[si].Blocks = append(idx.Vars[si].Blocks, blk)
	}

	// Attributes ride on the next record after their definition, once.
	// A failed step rewinds attrsSent so they ride again.
	for _, attr := range e.store.Attributes() {
		key := attr.Of + "\x00" + attr.Name
		if e.attrsSent[key] {
			continue
		}
		e.attrsSent[key] = true
		idx.Attrs = append(idx.Attrs, *attr)
	}
	return idx, buf.Bytes(), nil
}

// hostBytes returns a request's payload in host memory: staged
// requests from the arena, deferred ones from the caller's buffer,
// with device buffers copied down first.
func (e *Engine) hostBytes(req *putRequest) ([]byte, error) {
	if req.staged {
		return e.staging.Bytes(req.ref)
	}
	if req.space == variable.Device {
		host := make([]byte, len(req.user))
		if err := e.copier.ToHost(host, req.user); err != nil {
			return nil, err
		}
		return host, nil
	}
	return req.user, nil
}

// completePuts resolves every queued token once the step's bytes are
// with the carriers.
func (e *Engine) completePuts() {
	for _, req := range e.puts {
		req.tok.completed = true
		req.user = nil
	}
}

// commitGroup runs the writer collective: fragments gather at the
// root, the root merges and writes, and the outcome broadcasts back so
// every peer reports the same step state. A peer that failed to pack
// still gathers (an empty payload) to keep the collective aligned; its
// local error takes precedence over the broadcast one.
func (e *Engine) commitGroup(ctx context.Context, idx *format.StepIndex, data []byte, packErr error) error {
	const op = "engine.EndStep"

	var payload []byte
	if packErr == nil {
		raw, err := coordinator.EncodeFragment(&coordinator.Fragment{Index: idx, Data: data})
		if err != nil {
			packErr = err
		} else {
			payload = raw
		}
	}
	gathered, err := e.comm.Gather(ctx, payload)
	if err != nil {
		return err
	}

	var commit stepCommit
	if e.root() {
		commit = e.mergeAndWrite(ctx, gathered)
		raw, err := codec.Marshal(&commit)
		if err != nil {
			return sterr.Wrap(sterr.KindIOFailure, op, err)
		}
		if _, err := e.comm.Broadcast(ctx, raw); err != nil {
			return err
		}
	} else {
		raw, err := e.comm.Broadcast(ctx, nil)
		if err != nil {
			return err
		}
		if err := codec.Unmarshal(raw, &commit); err != nil {
			return sterr.Consistencyf(op, "undecodable step commit: %v", err)
		}
	}

	if packErr != nil {
		return packErr
	}
	if !commit.OK {
		return sterr.Wrap(sterr.Kind(commit.Kind), op, errors.New(commit.Msg))
	}
	return nil
}

// mergeAndWrite is the root's side of the commit: decode the gathered
// fragments, merge them into the global record, write it out.
func (e *Engine) mergeAndWrite(ctx context.Context, gathered [][]byte) stepCommit {
	const op = "engine.EndStep"

	frags := make([]*coordinator.Fragment, 0, len(gathered))
	for rank, raw := range gathered {
		if len(raw) == 0 {
			return failCommit(sterr.IOFailuref(op, "rank %d failed to pack its fragment", rank))
		}
		frag, err := coordinator.DecodeFragment(raw)
		if err != nil {
			return failCommit(err)
		}
		frags = append(frags, frag)
	}
	merged, body, err := coordinator.MergeFragments(e.log, frags)
	if err != nil {
		return failCommit(err)
	}
	if err := e.writeSinks(ctx, merged, body); err != nil {
		return failCommit(err)
	}
	return stepCommit{OK: true}
}

// failCommit folds an error into the commit broadcast, keeping its
// classification across the wire.
func failCommit(err error) stepCommit {
	return stepCommit{Kind: uint8(sterr.KindOf(err)), Msg: err.Error()}
}

// writeSinks hands one merged record to the carriers, through the
// async flusher when one runs. Non-root peers own no carriers and
// return immediately.
func (e *Engine) writeSinks(ctx context.Context, idx *format.StepIndex, data []byte) error {
	if len(e.sinks) == 0 && len(e.senders) == 0 {
		return nil
	}
	job := flushJob{idx: idx, data: data}
	if e.flush != nil {
		e.flush.submit(job)
		return nil
	}
	return e.writeJob(ctx, job)
}

// writeJob writes one record to every pack sink and stream sender. The
// footer cadence rides along: after FlushStepsCount records the sinks
// checkpoint a non-final footer so a concurrent reader sees the new
// steps.
//
// Runs on the flusher goroutine when async flushing is on; it touches
// no engine state the step protocol mutates.
func (e *Engine) writeJob(ctx context.Context, job flushJob) error {
	const op = "engine.EndStep"

	var frame []byte
	if len(e.senders) > 0 {
		raw, err := format.EncodeRecordPayload(job.idx, job.data)
		if err != nil {
			return sterr.Wrap(sterr.KindIOFailure, op, err)
		}
		frame = raw
	}

	for _, sink := range e.sinks {
		entry, err := sink.w.AppendRecord(job.idx, job.data)
		if err != nil {
			return err
		}
		e.met.BytesWritten(int(entry.Size))
	}
	for _, s := range e.senders {
		if err := s.Send(ctx, format.FrameRecord, frame); err != nil {
			return err
		}
		e.met.BytesWritten(len(frame))
	}

	e.sinceFooter++
	if e.set.FlushStepsCount > 0 && e.sinceFooter >= e.set.FlushStepsCount {
		for _, sink := range e.sinks {
			if err := sink.w.WriteFooter(false); err != nil {
				return err
			}
		}
		e.sinceFooter = 0
	}
	return nil
}

// flushJob is one committed record bound for the carriers. The data
// slice is owned by the job; nothing else references it.
type flushJob struct {
	idx  *format.StepIndex
	data []byte
}

// flusher runs carrier writes on one background goroutine, overlapping
// the application's next step with the previous step's I/O. The queue
// admits a single job: a writer runs at most one step ahead of its
// carriers. Failures are held until the next EndStep or Close
// retrieves them; the goroutine keeps draining so submit never wedges.
type flusher struct {
	jobs chan flushJob
	g    errgroup.Group

	mu  sync.Mutex
	err error
}

func newFlusher(run func(flushJob) error) *flusher {
	f := &flusher{jobs: make(chan flushJob, 1)}
	f.g.Go(func() error {
		for job := range f.jobs {
			if err := run(job); err != nil {
				f.record(err)
			}
		}
		return nil
	})
	return f
}

// submit queues one job, blocking while the previous one is still
// being written.
func (f *flusher) submit(job flushJob) {
	f.jobs <- job
}

// record keeps the first unretrieved failure. Later failures in the
// same stretch are subsumed; the step protocol aborts on the first.
func (f *flusher) record(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

// take returns and clears the failure recorded since the last take.
func (f *flusher) take() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.err
	f.err = nil
	return err
}

// close drains the queue, stops the goroutine, and reports any
// failure not yet retrieved.
func (f *flusher) close() error {
	close(f.jobs)
	werr := f.g.Wait()
	return errors.Join(werr, f.take())
}
