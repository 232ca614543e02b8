// Package loader implements the multi-process fan-in loader (Multi) that spawns
// reader processes and merges their samples, and the point-to-point
// DistSender/DistLoader pair for producers outside the worker pool.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package loader

import (
	"time"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/pidreg"
	"github.com/NVIDIA/wdsloader/proc"
	"github.com/NVIDIA/wdsloader/wire"

	"github.com/prometheus/client_golang/prometheus"
)

type Opts struct {
	Params any // dataset parameters, JSON-encoded for the workers (nil: none)

	Spawner proc.Spawner          // nil: re-execute the running binary (proc.Exec)
	Codec   *wire.Codec           // nil: wire defaults
	Stats   prometheus.Registerer // nil: metrics are kept but not registered
	Tracker pidreg.Tracker        // optional; receives every spawned worker

	Dataset   string // registered dataset name (required)
	Prefix    string // socket naming prefix (default cmn.DefaultPrefix)
	SocketDir string // default os.TempDir()
	LogDir    string // workers' log directory; empty: stderr

	Workers      int           // number of reader processes (default cmn.DefaultWorkers)
	RecvQueue    int           // frames buffered on the receive side
	PollInterval time.Duration // receive timeout between liveness checks
	KillGrace    time.Duration // SIGTERM => SIGKILL
	DialTimeout  time.Duration // workers' connect timeout
	WriteTimeout time.Duration // workers' send timeout (zero: none)

	Verbose bool
	NoKill  bool // no teardown when the loader is garbage-collected or an iteration is abandoned
}

// NewOpts fills loader options from configuration; the caller sets
// Dataset, Params, and the optional collaborators.
func NewOpts(config *cmn.Config) *Opts {
	return &Opts{
		Codec: wire.NewCodec(&wire.Opts{
			Compression:  config.Transport.Compression,
			MaxFrameSize: config.Transport.MaxFrameSize,
		}),
		Prefix:       config.Loader.Prefix,
		SocketDir:    config.Loader.SocketDir,
		LogDir:       config.Log.Dir,
		Workers:      config.Loader.Workers,
		RecvQueue:    config.Transport.RecvQueue,
		PollInterval: config.Loader.PollInterval.D(),
		KillGrace:    config.Loader.KillGrace.D(),
		DialTimeout:  config.Transport.DialTimeout.D(),
		WriteTimeout: config.Transport.WriteTimeout.D(),
		Verbose:      config.Loader.Verbose,
		NoKill:       config.Loader.NoKill,
	}
}

func (opts *Opts) setDefaults() {
	if opts.Spawner == nil {
		opts.Spawner = &proc.Exec{}
	}
	if opts.Codec == nil {
		opts.Codec = wire.NewCodec(nil)
	}
	if opts.Prefix == "" {
		opts.Prefix = cmn.DefaultPrefix
	}
	if opts.Workers <= 0 {
		opts.Workers = cmn.DefaultWorkers
	}
	if opts.RecvQueue <= 0 {
		opts.RecvQueue = cmn.DefaultRecvQueue
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = cmn.DefaultPollInterval
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = cmn.DefaultKillGrace
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = cmn.DefaultDialTimeout
	}
}
