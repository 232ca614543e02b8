// Package transport moves wire frames between processes over unix-domain,
// tcp, and websocket connections: many pushers, one puller.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/wire"
)

var (
	// the transport was closed while (or before) receiving
	ErrClosed = errors.New("transport closed")
	// TryRecv: nothing arrived within the timeout
	ErrRecvTimeout = errors.New("receive timeout")
)

const (
	dfltRecvQueue = cmn.DefaultRecvQueue

	dialRetryMin = 10 * time.Millisecond
	dialRetryMax = 500 * time.Millisecond
)

type (
	// optional; nil is equivalent to all defaults
	Extra struct {
		Codec        *wire.Codec   // frame size limit on the receive side; nil: wire defaults
		RecvQueue    int           // frames buffered by Puller (all connections combined)
		WriteTimeout time.Duration // Pusher.Send deadline; zero: block on back-pressure indefinitely
		Verbose      bool
	}

	// transport stats (both sides)
	Stats struct {
		Frames atomic.Int64 // number of frames sent or received
		Size   atomic.Int64 // total size of those frames, in bytes
		Conns  atomic.Int64 // connections accepted or established
		Errs   atomic.Int64 // dropped connections (protocol errors and I/O failures)
	}
)

// NewExtra fills transport options from configuration
func NewExtra(config *cmn.Config) *Extra {
	return &Extra{
		Codec: wire.NewCodec(&wire.Opts{
			Compression:  config.Transport.Compression,
			MaxFrameSize: config.Transport.MaxFrameSize,
		}),
		RecvQueue:    config.Transport.RecvQueue,
		WriteTimeout: config.Transport.WriteTimeout.D(),
		Verbose:      config.Loader.Verbose,
	}
}

func (extra *Extra) codec() *wire.Codec {
	if extra == nil || extra.Codec == nil {
		return wire.NewCodec(nil)
	}
	return extra.Codec
}

func (extra *Extra) recvQueue() int {
	if extra == nil || extra.RecvQueue <= 0 {
		return dfltRecvQueue
	}
	return extra.RecvQueue
}

func (extra *Extra) writeTimeout() time.Duration {
	if extra == nil {
		return 0
	}
	return extra.WriteTimeout
}

func (extra *Extra) verbose() bool { return extra != nil && extra.Verbose }

// add one frame
func (s *Stats) add(size int) {
	s.Frames.Add(1)
	s.Size.Add(int64(size))
}
