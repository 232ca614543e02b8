// Package loader implements the multi-process fan-in loader (Multi) that spawns
// reader processes and merges their samples, and the point-to-point
// DistSender/DistLoader pair for producers outside the worker pool.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package loader

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/cmn/mono"
	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/stats"
	"github.com/NVIDIA/wdsloader/transport"
	"github.com/NVIDIA/wdsloader/wire"
)

const diedMidFramePoll = 10 * time.Millisecond

// Iter is a single pass over the dataset. Not safe for concurrent use,
// except that Multi.Kill may be called at any time.
type Iter struct {
	m       *Multi
	ctx     context.Context
	ps      *pass
	err     error // sticky: io.EOF or whatever ended the pass
	nfin    int   // workers that sent end-of-stream
	samples int64
}

// Next returns the next sample from any worker, or io.EOF once every
// worker has sent end-of-stream and exited. Any other error ends the pass
// and terminates the remaining workers. Worker liveness is checked whenever
// nothing arrives within Opts.PollInterval.
func (it *Iter) Next() (wire.Sample, error) {
	if it.err != nil {
		return nil, it.err
	}
	m := it.m
	for it.nfin < len(it.ps.handles) {
		frame, err := it.recv()
		if err != nil {
			return nil, it.fail(err)
		}
		if frame == nil {
			if err := it.checkAlive(); err != nil {
				return nil, it.fail(err)
			}
			continue
		}
		v, err := m.opts.Codec.Decode(frame)
		if err != nil {
			// a sample is lost and cannot be attributed to a worker
			m.stats.Inc(stats.ProtoErrors)
			return nil, it.fail(err)
		}
		switch v := v.(type) {
		case wire.Sample:
			it.samples++
			m.stats.Inc(stats.Samples)
			m.stats.Add(stats.SampleSize, int64(len(frame)))
			return v, nil
		case *wire.Finished:
			if err := it.finished(v); err != nil {
				return nil, it.fail(err)
			}
		}
	}
	return nil, it.complete()
}

// returns nil frame with nil error on poll timeout
func (it *Iter) recv() ([]byte, error) {
	ctx, cancel := context.WithTimeout(it.ctx, it.m.opts.PollInterval)
	frame, err := it.ps.puller.Recv(ctx)
	cancel()
	switch {
	case err == nil:
		return frame, nil
	case it.ctx.Err() != nil:
		return nil, it.ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return nil, nil
	case errors.Is(err, transport.ErrClosed):
		if it.m.isKilled() {
			return nil, ErrKilled
		}
		return nil, ErrClosed
	default:
		it.m.stats.Inc(stats.ProtoErrors)
		if wire.IsErrProtocol(err) {
			if died := it.diedMidFrame(err); died != nil {
				return nil, died
			}
		}
		return nil, err
	}
}

// A worker killed while writing leaves a torn frame on its connection,
// which the puller reports before the process is reaped. Wait up to
// KillGrace for an unfinished worker to exit and blame it instead.
func (it *Iter) diedMidFrame(cause error) error {
	var (
		timer  = time.NewTimer(it.m.opts.KillGrace)
		ticker = time.NewTicker(diedMidFramePoll)
	)
	defer func() {
		timer.Stop()
		ticker.Stop()
	}()
	for {
		for _, h := range it.ps.handles {
			if !h.Finished() && !h.Alive() {
				it.m.stats.Inc(stats.Died)
				return &ErrWorkerDied{Index: h.index, Pid: h.Pid(), ExitCode: h.ExitCode(), Reason: cause.Error()}
			}
		}
		select {
		case <-timer.C:
			return nil
		case <-it.ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (it *Iter) finished(fin *wire.Finished) error {
	m, handles := it.m, it.ps.handles
	if fin.Index < 0 || fin.Index >= len(handles) {
		return &ErrUnknownWorker{Index: fin.Index, Workers: len(handles)}
	}
	h := handles[fin.Index]
	if h.finished.Swap(true) {
		return &ErrDuplicateFinished{Index: fin.Index}
	}
	it.nfin++
	if fin.Aborted() {
		m.stats.Inc(stats.Died)
		return &ErrWorkerDied{Index: h.index, Pid: h.Pid(), ExitCode: -1, Reason: fin.Reason, Aborted: true}
	}
	m.stats.Inc(stats.Finished)
	if m.verbose {
		nlog.Infof("%s: %s finished (%d/%d)", m, h, it.nfin, len(handles))
	}
	return nil
}

// called on receive timeout, when every frame already read off the
// workers' connections has been consumed
func (it *Iter) checkAlive() error {
	for _, h := range it.ps.handles {
		if h.died() {
			it.m.stats.Inc(stats.Died)
			return &ErrWorkerDied{Index: h.index, Pid: h.Pid(), ExitCode: h.ExitCode()}
		}
	}
	return nil
}

// all workers done: wait for them to exit and release the address
func (it *Iter) complete() error {
	m := it.m
	it.err = io.EOF
	m.mu.Lock()
	err := m.endPass(it.ps, false)
	m.mu.Unlock()
	if err != nil {
		nlog.Warningln(m.String(), err)
	}
	m.stats.Inc(stats.Passes)
	if m.verbose {
		elapsed := mono.Since(it.ps.started)
		nlog.Infof("%s: pass done, %d sample%s in %v", m, it.samples, cos.Plural(int(it.samples)), elapsed.Round(time.Millisecond))
	}
	return io.EOF
}

func (it *Iter) fail(err error) error {
	it.err = err
	if it.ctx.Err() != nil {
		it.abandon()
		return err
	}
	m := it.m
	if err != ErrKilled {
		nlog.Errorln(m.String(), err)
	}
	m.mu.Lock()
	e := m.endPass(it.ps, true)
	m.mu.Unlock()
	if e != nil {
		nlog.Warningln(m.String(), e)
	}
	return err
}

// Close ends the iteration. Closing an incomplete pass terminates its
// workers unless NoKill is set, in which case they stay up (and further
// Iter calls fail with ErrBusy) until Kill.
func (it *Iter) Close() error {
	if it.err != nil {
		return nil
	}
	it.err = errIterClosed
	it.abandon()
	return nil
}

func (it *Iter) abandon() {
	m := it.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != it.ps {
		return
	}
	if m.opts.NoKill {
		m.open = false
		if m.verbose {
			nlog.Infof("%s: iteration abandoned, %d worker%s left running", m, len(it.ps.handles), cos.Plural(len(it.ps.handles)))
		}
		return
	}
	if err := m.endPass(it.ps, true); err != nil {
		nlog.Warningln(m.String(), err)
	}
}

func (p *pool) isKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
