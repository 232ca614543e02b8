// Package worker implements the reader process: it iterates one shard of a
// dataset and pushes every sample, followed by an end-of-stream sentinel, to the loader.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/cmn/mono"
	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/dataset"
	"github.com/NVIDIA/wdsloader/transport"
	"github.com/NVIDIA/wdsloader/wire"

	"golang.org/x/sys/unix"
)

// ErrAborted: the dataset failed mid-stream and the failure
// was reported to the loader (Finished with FinAborted).
type ErrAborted struct {
	err     error
	samples int64
}

func (e *ErrAborted) Error() string {
	return fmt.Sprintf("aborted after %d sample%s: %v", e.samples, cos.Plural(int(e.samples)), e.err)
}

func (e *ErrAborted) Unwrap() error { return e.err }

func IsErrAborted(err error) bool {
	var e *ErrAborted
	return errors.As(err, &e)
}

// MaybeRun must be called first thing in main (and in TestMain of any test
// binary that spawns workers): when the process was started as a worker,
// it runs the worker and exits; otherwise it returns immediately.
func MaybeRun() {
	v, ok := os.LookupEnv(EnvArgs)
	if !ok {
		return
	}
	os.Exit(run(v))
}

func run(v string) int {
	os.Unsetenv(EnvArgs) // not inherited by anything this process may spawn
	args, err := ParseArgs(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wdsworker:", err)
		return ExitBadArgs
	}
	nlog.SetLogDirRole(args.LogDir, fmt.Sprintf("wdsworker-%d", args.Index))
	defer nlog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGTERM, unix.SIGINT)
	defer stop()

	codec := wire.NewCodec(&wire.Opts{Compression: args.Compression, MaxFrameSize: args.MaxFrameSize})
	err = Run(ctx, args, codec)
	switch {
	case err == nil:
		return ExitOK
	case ctx.Err() != nil:
		if args.Verbose {
			nlog.Infoln(args.String(), "terminated")
		}
		return ExitTerminated
	default:
		nlog.Errorln(args.String(), err)
		return ExitFailed
	}
}

// Run connects to the loader, constructs the dataset, and streams this
// worker's shard. A dataset failure is reported to the loader before
// Run returns *ErrAborted. No sentinel is sent when ctx is canceled or
// the connection fails.
func Run(ctx context.Context, args *Args, codec *wire.Codec) error {
	dialTimeout := args.DialTimeout.D()
	if dialTimeout <= 0 {
		dialTimeout = cmn.DefaultDialTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	pusher, err := transport.Dial(dctx, args.Addr, &transport.Extra{WriteTimeout: args.WriteTimeout.D(), Verbose: args.Verbose})
	cancel()
	if err != nil {
		return err
	}
	defer pusher.Close()

	var (
		started = mono.NanoTime()
		w       = &streamer{args: args, codec: codec, pusher: pusher}
	)
	if args.Verbose {
		nlog.Infof("%s: streaming %s to %s", args, args.Shard(), args.Addr)
	}
	errDs, errTx := w.stream(ctx)
	switch {
	case errTx != nil:
		return errTx
	case ctx.Err() != nil:
		return ctx.Err()
	case errDs != nil:
		fin := &wire.Finished{
			Index:  args.Index,
			Status: wire.FinAborted,
			Reason: errDs.Error(),
			Ext:    map[string]any{"samples": w.samples, "pid": os.Getpid()},
		}
		if err := w.send(fin); err != nil {
			nlog.Errorf("%s: failed to report %v: %v", args, errDs, err)
		}
		return &ErrAborted{err: errDs, samples: w.samples}
	}

	fin := &wire.Finished{Index: args.Index, Ext: map[string]any{"samples": w.samples}}
	if err := w.send(fin); err != nil {
		return err
	}
	if args.Verbose {
		elapsed := mono.Since(started)
		nlog.Infof("%s: done, %d sample%s (%s) in %v", args, w.samples, cos.Plural(int(w.samples)),
			cos.ToSizeIEC(w.size, 1), elapsed.Round(time.Millisecond))
	}
	return nil
}

type streamer struct {
	args    *Args
	codec   *wire.Codec
	pusher  *transport.Pusher
	samples int64
	size    int64
}

// returns dataset (including encoding) and transport errors separately
func (w *streamer) stream(ctx context.Context) (errDs, errTx error) {
	ds, err := dataset.New(w.args.Dataset, w.args.Params)
	if err != nil {
		return err, nil
	}
	it, err := ds.Iter(w.args.Shard())
	if err != nil {
		return err, nil
	}
	defer it.Close()
	for ctx.Err() == nil {
		sample, err := it.Next()
		if err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return err, nil
		}
		frame, err := w.codec.Encode(sample)
		if err != nil {
			return fmt.Errorf("sample %q: %w", sample.Key(), err), nil
		}
		if err := w.pusher.Send(frame); err != nil {
			return nil, err
		}
		w.samples++
		w.size += int64(len(frame))
	}
	return nil, nil
}

func (w *streamer) send(fin *wire.Finished) error {
	frame, err := w.codec.Encode(fin)
	if err != nil {
		return err
	}
	return w.pusher.Send(frame)
}
