// Package loader implements the multi-process fan-in loader (Multi) that spawns
// reader processes and merges their samples, and the point-to-point
// DistSender/DistLoader pair for producers outside the worker pool.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package loader

import (
	"context"
	"iter"
	"time"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/stats"
	"github.com/NVIDIA/wdsloader/transport"
	"github.com/NVIDIA/wdsloader/wire"

	"github.com/prometheus/client_golang/prometheus"
)

type (
	// optional; nil is equivalent to all defaults
	DistOpts struct {
		Codec        *wire.Codec
		Stats        prometheus.Registerer // DistLoader only
		RecvQueue    int
		WriteTimeout time.Duration
		Verbose      bool
	}

	// DistSender pushes samples to a DistLoader. No end-of-stream is ever
	// sent on the caller's behalf.
	DistSender struct {
		pusher *transport.Pusher
		codec  *wire.Codec
	}

	// DistLoader receives samples from any number of DistSenders. The stream
	// is unbounded: it ends only when the caller cancels or closes it.
	DistLoader struct {
		puller  *transport.Puller
		codec   *wire.Codec
		stats   *stats.Loader
		verbose bool
	}
)

func (opts *DistOpts) codec() *wire.Codec {
	if opts == nil || opts.Codec == nil {
		return wire.NewCodec(nil)
	}
	return opts.Codec
}

func (opts *DistOpts) extra() *transport.Extra {
	if opts == nil {
		return nil
	}
	return &transport.Extra{Codec: opts.Codec, RecvQueue: opts.RecvQueue, WriteTimeout: opts.WriteTimeout, Verbose: opts.Verbose}
}

//
// sender
//

// NewDistSender connects to addr, waiting for the loader to bind
// until ctx is done.
func NewDistSender(ctx context.Context, addr string, opts *DistOpts) (*DistSender, error) {
	pusher, err := transport.Dial(ctx, addr, opts.extra())
	if err != nil {
		return nil, err
	}
	return &DistSender{pusher: pusher, codec: opts.codec()}, nil
}

func (s *DistSender) Addr() string            { return s.pusher.Addr() }
func (s *DistSender) Stats() *transport.Stats { return &s.pusher.Stats }

// Send encodes and transmits one sample, blocking while the
// connection is back-pressured.
func (s *DistSender) Send(sample wire.Sample) error {
	frame, err := s.codec.Encode(sample)
	if err != nil {
		return err
	}
	return s.pusher.Send(frame)
}

func (s *DistSender) Close() error { return s.pusher.Close() }

//
// loader
//

func NewDistLoader(addr string, opts *DistOpts) (*DistLoader, error) {
	puller, err := transport.Listen(addr, opts.extra())
	if err != nil {
		return nil, err
	}
	dl := &DistLoader{puller: puller, codec: opts.codec(), verbose: opts != nil && opts.Verbose}
	if opts != nil && opts.Stats != nil {
		st, err := stats.NewLoader(cmn.DefaultPrefix+"-dist-"+cmn.GenUUID(), opts.Stats)
		if err == nil {
			err = st.AddTransport("rx", &puller.Stats)
		}
		if err != nil {
			puller.Close()
			return nil, err
		}
		dl.stats = st
	}
	return dl, nil
}

// Addr is the bound address (with the port resolved for tcp://host:0).
func (dl *DistLoader) Addr() string            { return dl.puller.Addr() }
func (dl *DistLoader) Stats() *transport.Stats { return &dl.puller.Stats }

// Next blocks until a sample arrives. It returns ctx.Err() when ctx is done,
// ErrClosed once the loader is closed, and a *wire.ErrProtocol for a
// malformed frame (the stream continues: a later Next may succeed).
// End-of-stream frames carry no meaning here and are skipped.
func (dl *DistLoader) Next(ctx context.Context) (wire.Sample, error) {
	for {
		frame, err := dl.puller.Recv(ctx)
		if err != nil {
			if wire.IsErrProtocol(err) {
				dl.inc(stats.ProtoErrors)
			}
			return nil, err
		}
		v, err := dl.codec.Decode(frame)
		if err != nil {
			dl.inc(stats.ProtoErrors)
			return nil, err
		}
		switch v := v.(type) {
		case wire.Sample:
			dl.inc(stats.Samples)
			return v, nil
		case *wire.Finished:
			if dl.verbose {
				nlog.Infof("%s: ignoring %s", dl, v)
			}
		}
	}
}

// All yields samples until ctx is done or the loader is closed; that
// terminal condition is yielded as the last error. Protocol errors are
// yielded and iteration continues.
func (dl *DistLoader) All(ctx context.Context) iter.Seq2[wire.Sample, error] {
	return func(yield func(wire.Sample, error) bool) {
		for {
			sample, err := dl.Next(ctx)
			if !yield(sample, err) {
				return
			}
			if err != nil && !wire.IsErrProtocol(err) {
				return
			}
		}
	}
}

func (dl *DistLoader) String() string { return "dist-" + dl.puller.String() }

// Close releases the address and fails pending and future Next calls with ErrClosed.
func (dl *DistLoader) Close() error {
	if dl.stats != nil {
		dl.stats.Unregister()
	}
	return dl.puller.Close()
}

func (dl *DistLoader) inc(name string) {
	if dl.stats != nil {
		dl.stats.Inc(name)
	}
}
