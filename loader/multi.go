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
	"fmt"
	"io"
	"iter"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/cmn/debug"
	"github.com/NVIDIA/wdsloader/cmn/mono"
	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/dataset"
	"github.com/NVIDIA/wdsloader/proc"
	"github.com/NVIDIA/wdsloader/stats"
	"github.com/NVIDIA/wdsloader/transport"
	"github.com/NVIDIA/wdsloader/wire"
	"github.com/NVIDIA/wdsloader/worker"

	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
)

type (
	// Multi spawns Opts.Workers reader processes per pass, each streaming its
	// shard of the dataset to a rendezvous address owned by this instance,
	// and yields the merged samples. Order is preserved per worker only.
	Multi struct {
		*pool
		opts    Opts
		params  jsoniter.RawMessage
		cleanup runtime.Cleanup
	}

	// teardown state; must not reference Multi (see runtime.AddCleanup)
	pool struct {
		stats   *stats.Loader
		tracker trackerOrNil
		cur     *pass
		id      string
		addr    string
		rx      transport.Stats // all passes, as of the last completed one
		grace   time.Duration
		mu      sync.Mutex
		open    bool // an Iter is open
		killed  bool
		verbose bool
	}

	// one iteration: a bound puller and the workers streaming to it
	pass struct {
		puller  *transport.Puller
		handles []*Handle
		started int64
	}
)

func NewMulti(opts *Opts) (*Multi, error) {
	m := &Multi{opts: *opts}
	m.opts.setDefaults()
	if m.opts.Dataset == "" {
		return nil, errors.New("loader: missing dataset")
	}
	params, err := marshalParams(m.opts.Params)
	if err != nil {
		return nil, fmt.Errorf("loader: invalid dataset params: %w", err)
	}
	// fail early, in the parent, on unknown dataset or bad params
	if _, err := dataset.New(m.opts.Dataset, params); err != nil {
		return nil, err
	}
	m.params = params

	id := m.opts.Prefix + "-" + cmn.GenUUID()
	sdir := m.opts.SocketDir
	if sdir == "" {
		sdir = os.TempDir()
	}
	addr, err := transport.NewIPCAddr(sdir, m.opts.Prefix)
	if err != nil {
		return nil, err
	}
	st, err := stats.NewLoader(id, m.opts.Stats)
	if err != nil {
		return nil, err
	}
	m.pool = &pool{
		id:      id,
		addr:    addr,
		stats:   st,
		tracker: trackerOrNil{m.opts.Tracker},
		grace:   m.opts.KillGrace,
		verbose: m.opts.Verbose,
	}
	if err := st.AddTransport("rx", &m.pool.rx); err != nil {
		st.Unregister()
		return nil, err
	}
	if !m.opts.NoKill {
		m.cleanup = runtime.AddCleanup(m, cleanupPool, m.pool)
	}
	if m.opts.Verbose {
		nlog.Infof("%s: %s, %d worker%s, %s", m, m.opts.Dataset, m.opts.Workers, cos.Plural(m.opts.Workers), m.opts.Codec)
	}
	return m, nil
}

func cleanupPool(p *pool) {
	if err := p.kill(); err != nil {
		nlog.Warningf("%s: cleanup: %v", p, err)
	}
}

func marshalParams(params any) (jsoniter.RawMessage, error) {
	switch v := params.(type) {
	case nil:
		return nil, nil
	case jsoniter.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	case string:
		return jsoniter.RawMessage(v), nil
	default:
		return cos.JSON.Marshal(v)
	}
}

func (p *pool) String() string { return "multi[" + p.id + "]" }

// ID uniquely identifies this loader (worker logs, pidreg entries, metric labels).
func (p *pool) ID() string { return p.id }

// Addr is the rendezvous address; bound only while a pass is in progress.
func (p *pool) Addr() string { return p.addr }

func (p *pool) Stats() *stats.Loader { return p.stats }

// Handles returns the workers of the current pass (nil if none).
func (p *pool) Handles() []*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil
	}
	handles := make([]*Handle, len(p.cur.handles))
	copy(handles, p.cur.handles)
	return handles
}

// Iter starts a new pass: binds the rendezvous address and spawns the workers.
// A completed pass may be followed by another; the dataset is restartable.
func (m *Multi) Iter(ctx context.Context) (*Iter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.killed:
		return nil, ErrKilled
	case m.open || m.cur != nil:
		return nil, ErrBusy
	}
	ps, err := m.start()
	if err != nil {
		return nil, err
	}
	m.cur, m.open = ps, true
	if ctx == nil {
		ctx = context.Background()
	}
	return &Iter{m: m, ctx: ctx, ps: ps}, nil
}

// All is a range-over-func wrapper around Iter. Breaking out of the loop
// abandons the pass (see Iter.Close).
func (m *Multi) All(ctx context.Context) iter.Seq2[wire.Sample, error] {
	return func(yield func(wire.Sample, error) bool) {
		it, err := m.Iter(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		defer it.Close()
		for {
			sample, err := it.Next()
			if err == io.EOF {
				return
			}
			if !yield(sample, err) || err != nil {
				return
			}
		}
	}
}

// Kill terminates all live workers and releases the rendezvous address.
// Idempotent; safe to call concurrently with an iteration and before any.
func (m *Multi) Kill() error {
	if !m.opts.NoKill {
		m.cleanup.Stop()
	}
	return m.kill()
}

func (p *pool) kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return nil
	}
	p.killed = true
	var err error
	if p.cur != nil {
		err = p.endPass(p.cur, true /*terminate*/)
	}
	p.stats.Unregister()
	if p.verbose {
		nlog.Infoln(p.String(), "killed")
	}
	return err
}

// under lock
func (m *Multi) start() (*pass, error) {
	debug.AssertMutexLocked(&m.mu)
	extra := &transport.Extra{Codec: m.opts.Codec, RecvQueue: m.opts.RecvQueue, Verbose: m.opts.Verbose}
	puller, err := transport.Listen(m.addr, extra)
	if err != nil {
		return nil, err
	}
	ps := &pass{puller: puller, handles: make([]*Handle, 0, m.opts.Workers), started: mono.NanoTime()}
	for i := range m.opts.Workers {
		h, err := m.spawn(i)
		if err != nil {
			m.cur = ps
			if e := m.endPass(ps, true); e != nil {
				nlog.Warningln(m.String(), e)
			}
			return nil, err
		}
		ps.handles = append(ps.handles, h)
	}
	return ps, nil
}

func (m *Multi) spawn(index int) (*Handle, error) {
	args := &worker.Args{
		Loader:       m.id,
		Dataset:      m.opts.Dataset,
		Params:       m.params,
		Addr:         m.addr,
		Compression:  m.opts.Codec.Compression(),
		LogDir:       m.opts.LogDir,
		MaxFrameSize: m.opts.Codec.MaxFrameSize(),
		DialTimeout:  cos.Duration(m.opts.DialTimeout),
		WriteTimeout: cos.Duration(m.opts.WriteTimeout),
		Index:        index,
		Count:        m.opts.Workers,
		Verbose:      m.opts.Verbose,
	}
	env, err := args.Env()
	if err != nil {
		return nil, err
	}
	p, err := m.opts.Spawner.Spawn(&proc.Spec{Name: args.String(), Env: []string{env}})
	if err != nil {
		return nil, err
	}
	h := &Handle{proc: p, index: index, started: time.Now()}
	m.stats.Inc(stats.Spawned)
	m.tracker.register(h.entry(m.id))
	if m.verbose {
		nlog.Infof("%s: spawned %s", m, h)
	}
	return h, nil
}

// endPass releases the address and either terminates the workers or
// (normal completion) waits for them to exit. Under lock; idempotent per pass.
func (p *pool) endPass(ps *pass, terminate bool) error {
	debug.AssertMutexLocked(&p.mu)
	if p.cur != ps {
		return nil
	}
	p.cur, p.open = nil, false

	// closing first fails workers blocked on back-pressure
	errs := &multierror.Error{}
	if err := ps.puller.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	p.rx.Frames.Add(ps.puller.Stats.Frames.Load())
	p.rx.Size.Add(ps.puller.Stats.Size.Load())
	p.rx.Conns.Add(ps.puller.Stats.Conns.Load())
	p.rx.Errs.Add(ps.puller.Stats.Errs.Load())

	var (
		group errgroup.Group
		mu    sync.Mutex
	)
	for _, h := range ps.handles {
		group.Go(func() error {
			err := p.reap(h, terminate)
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	group.Wait()
	return errs.ErrorOrNil()
}

func (p *pool) reap(h *Handle, terminate bool) error {
	defer p.tracker.unregister(p.id, h.index)
	if !terminate {
		if h.proc.Wait(p.grace) {
			if code := h.proc.ExitCode(); code != worker.ExitOK {
				nlog.Warningf("%s: %s exited with code %d after end-of-stream", p, h, code)
			}
			return nil
		}
		nlog.Warningf("%s: %s did not exit after end-of-stream, terminating", p, h)
	}
	if !h.Finished() {
		p.stats.Inc(stats.Killed)
	}
	if err := h.proc.Terminate(p.grace); err != nil {
		return fmt.Errorf("%s: %w", h, err)
	}
	if p.verbose {
		nlog.Infof("%s: terminated %s (exit code %d)", p, h, h.proc.ExitCode())
	}
	return nil
}
