// Package transport moves wire frames between processes over unix-domain,
// tcp, and websocket connections: many pushers, one puller.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/wdsloader/cmn/nlog"

	"github.com/gorilla/websocket"
)

type (
	// Pusher is the sending end: one connection to a Puller.
	// Send is safe for concurrent use; frames are never interleaved.
	Pusher struct {
		addr    *Addr
		w       frameWriter
		Stats   Stats
		wto     time.Duration
		mu      sync.Mutex
		closed  atomic.Bool
		verbose bool
	}
	frameWriter interface {
		writeFrame(frame []byte, deadline time.Time) error
		Close() error
	}
	streamWriter struct {
		conn net.Conn
	}
	wsWriter struct {
		conn *websocket.Conn
	}
)

// interface guard
var (
	_ frameWriter = (*streamWriter)(nil)
	_ frameWriter = (*wsWriter)(nil)
)

// Dial connects to a Puller at addr, retrying with backoff until
// ctx is done (the puller may not be bound yet).
func Dial(ctx context.Context, addr string, extra *Extra) (*Pusher, error) {
	a, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	var (
		retry = dialRetryMin
		tries int
	)
	for {
		w, err := dial(ctx, a)
		tries++
		if err == nil {
			p := &Pusher{addr: a, w: w, wto: extra.writeTimeout(), verbose: extra.verbose()}
			p.Stats.Conns.Add(1)
			if p.verbose {
				nlog.Infof("%s connected (tries %d)", p, tries)
			}
			return p, nil
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("failed to connect to %s after %d tries: %w (last error: %v)", addr, tries, ctx.Err(), err)
		case <-timer.C:
		}
		retry = min(2*retry, dialRetryMax)
	}
}

func dial(ctx context.Context, a *Addr) (frameWriter, error) {
	if a.Scheme == SchemeWS {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, a.String(), nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return &wsWriter{conn: conn}, nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, a.network(), a.address())
	if err != nil {
		return nil, err
	}
	return &streamWriter{conn: conn}, nil
}

func (p *Pusher) Addr() string   { return p.addr.String() }
func (p *Pusher) String() string { return "pusher[" + p.addr.String() + "]" }

// Send writes one complete frame, blocking on back-pressure
// (at most Extra.WriteTimeout, if configured).
func (p *Pusher) Send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return ErrClosed
	}
	var deadline time.Time
	if p.wto > 0 {
		deadline = time.Now().Add(p.wto)
	}
	if err := p.w.writeFrame(frame, deadline); err != nil {
		if p.closed.Load() {
			return ErrClosed
		}
		p.Stats.Errs.Add(1)
		return fmt.Errorf("%s: failed to send %d bytes: %w", p, len(frame), err)
	}
	p.Stats.add(len(frame))
	return nil
}

// Close is idempotent and never waits on a back-pressured Send: the
// connection is closed underneath it and the Send fails with ErrClosed.
// Otherwise the puller observes a clean end of stream.
func (p *Pusher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if p.mu.TryLock() {
		defer p.mu.Unlock()
	} else if p.verbose {
		nlog.Infof("%s closing with a send in progress", p)
	}
	if p.verbose {
		nlog.Infof("%s closing: %d frames sent", p, p.Stats.Frames.Load())
	}
	return p.w.Close()
}

//////////////////
// streamWriter //
//////////////////

func (sw *streamWriter) writeFrame(frame []byte, deadline time.Time) error {
	if err := sw.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := sw.conn.Write(frame)
	return err
}

func (sw *streamWriter) Close() error { return sw.conn.Close() }

//////////////
// wsWriter //
//////////////

const wsCloseTimeout = time.Second

func (ww *wsWriter) writeFrame(frame []byte, deadline time.Time) error {
	if err := ww.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return ww.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (ww *wsWriter) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	ww.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseTimeout))
	return ww.conn.Close()
}
