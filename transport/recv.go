// Package transport moves wire frames between processes over unix-domain,
// tcp, and websocket connections: many pushers, one puller.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/wire"

	"github.com/gorilla/websocket"
)

const (
	rbufSize          = 64 * cos.KiB
	readHeaderTimeout = 10 * time.Second
)

type (
	// Puller is the receiving end: binds an address, accepts any number
	// of pushers, and fans their frames into a single bounded queue.
	// Frame order is preserved per connection, not across connections.
	Puller struct {
		addr    *Addr
		ln      net.Listener
		srv     *http.Server // (ws)
		codec   *wire.Codec
		rxCh    chan rxFrame
		conns   map[io.Closer]struct{}
		stopCh  cos.StopCh
		Stats   Stats
		wg      sync.WaitGroup
		mu      sync.Mutex
		verbose bool
		closed  bool
	}
	rxFrame struct {
		err   error
		frame []byte
	}
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  int(rbufSize),
	WriteBufferSize: 4 * cos.KiB,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Listen binds addr (see ParseAddr). For ipc:// and unix:// a stale
// socket file left behind by a previous run is removed first.
func Listen(addr string, extra *Extra) (*Puller, error) {
	a, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	if a.IsLocal() {
		if err := removeStale(a.Path); err != nil {
			return nil, err
		}
	}
	ln, err := net.Listen(a.network(), a.address())
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	if !a.IsLocal() {
		a.Host = ln.Addr().String() // resolve port 0
	}
	p := &Puller{
		addr:    a,
		ln:      ln,
		codec:   extra.codec(),
		rxCh:    make(chan rxFrame, extra.recvQueue()),
		conns:   make(map[io.Closer]struct{}, 8),
		verbose: extra.verbose(),
	}
	p.stopCh.Init()

	p.wg.Add(1)
	if a.Scheme == SchemeWS {
		mux := http.NewServeMux()
		mux.HandleFunc(a.Path, p.upgrade)
		p.srv = &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
		go p.serveHTTP()
	} else {
		go p.accept()
	}
	if p.verbose {
		nlog.Infoln(p.String(), "listening")
	}
	return p, nil
}

func removeStale(path string) error {
	finfo, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if finfo.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("cannot bind %q: file exists and is not a socket", path)
	}
	nlog.Warningln("removing stale socket", path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (p *Puller) Addr() string   { return p.addr.String() }
func (p *Puller) String() string { return "puller[" + p.addr.String() + "]" }

// Recv blocks until a frame arrives, ctx is done, or the puller is closed.
// A non-nil error other than ctx.Err() and ErrClosed is a per-connection
// *wire.ErrProtocol: the offending connection has been dropped, others continue.
func (p *Puller) Recv(ctx context.Context) ([]byte, error) {
	if p.stopCh.Stopped() {
		return nil, ErrClosed
	}
	select {
	case rx := <-p.rxCh:
		return p.rcvd(rx)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopCh.Listen():
		return nil, ErrClosed
	}
}

// TryRecv is Recv with a timeout that yields ErrRecvTimeout.
func (p *Puller) TryRecv(timeout time.Duration) ([]byte, error) {
	if p.stopCh.Stopped() {
		return nil, ErrClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case rx := <-p.rxCh:
		return p.rcvd(rx)
	case <-timer.C:
		return nil, ErrRecvTimeout
	case <-p.stopCh.Listen():
		return nil, ErrClosed
	}
}

func (p *Puller) rcvd(rx rxFrame) ([]byte, error) {
	if rx.err != nil {
		return nil, rx.err
	}
	p.Stats.add(len(rx.frame))
	return rx.frame, nil
}

// Close is idempotent: unblocks receivers, drops all connections,
// releases the address, and waits for the receiving goroutines to exit.
func (p *Puller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stopCh.Close()
	err := p.ln.Close()
	for c := range p.conns {
		c.Close()
	}
	p.mu.Unlock()

	if p.srv != nil {
		p.srv.Close()
	}
	p.wg.Wait()
	if p.addr.IsLocal() {
		// (net.UnixListener normally unlinks on Close)
		if e := os.Remove(p.addr.Path); e != nil && !os.IsNotExist(e) && err == nil {
			err = e
		}
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if p.verbose {
		nlog.Infof("%s closed: %d frames, %s, %d conns, %d errors", p, p.Stats.Frames.Load(),
			cos.ToSizeIEC(p.Stats.Size.Load(), 1), p.Stats.Conns.Load(), p.Stats.Errs.Load())
	}
	return err
}

// register a new connection unless closing; the caller calls wg.Done
func (p *Puller) track(c io.Closer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.conns[c] = struct{}{}
	p.wg.Add(1)
	p.Stats.Conns.Add(1)
	return true
}

func (p *Puller) untrack(c io.Closer) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
	c.Close()
	p.wg.Done()
}

func (p *Puller) deliver(rx rxFrame) bool {
	select {
	case p.rxCh <- rx:
		return true
	case <-p.stopCh.Listen():
		return false
	}
}

// per-connection terminal error
func (p *Puller) connErr(remote string, err error) {
	switch {
	case err == io.EOF:
		if p.verbose {
			nlog.Infoln(p.String(), "end of stream from", remote)
		}
	case p.stopCh.Stopped():
	case wire.IsErrProtocol(err):
		p.Stats.Errs.Add(1)
		nlog.Warningf("%s: dropping connection from %s: %v", p, remote, err)
		p.deliver(rxFrame{err: err})
	default:
		// e.g. connection reset by a killed pusher
		p.Stats.Errs.Add(1)
		nlog.Warningf("%s: connection from %s failed: %v", p, remote, err)
	}
}

//
// stream sockets (ipc, unix, tcp)
//

func (p *Puller) accept() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if !p.stopCh.Stopped() {
				nlog.Errorf("%s: accept failed: %v", p, err)
			}
			return
		}
		if !p.track(conn) {
			conn.Close()
			return
		}
		go p.serve(conn)
	}
}

func (p *Puller) serve(conn net.Conn) {
	defer p.untrack(conn)
	var (
		br     = bufio.NewReaderSize(conn, int(rbufSize))
		remote = remoteName(conn)
	)
	for {
		frame, err := p.codec.ReadFrame(br)
		if err != nil {
			p.connErr(remote, err)
			return
		}
		if !p.deliver(rxFrame{frame: frame}) {
			return
		}
	}
}

func remoteName(conn net.Conn) string {
	if ra := conn.RemoteAddr(); ra != nil && ra.String() != "" {
		return ra.String()
	}
	return "local-peer"
}

//
// websocket
//

func (p *Puller) serveHTTP() {
	defer p.wg.Done()
	if err := p.srv.Serve(p.ln); err != nil && err != http.ErrServerClosed && !p.stopCh.Stopped() {
		nlog.Errorf("%s: serve failed: %v", p, err)
	}
}

func (p *Puller) upgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		nlog.Warningf("%s: failed to upgrade %s: %v", p, r.RemoteAddr, err)
		return
	}
	if !p.track(conn) {
		conn.Close()
		return
	}
	defer p.untrack(conn)

	conn.SetReadLimit(p.codec.MaxFrameSize() + wire.HdrSize)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			p.connErr(r.RemoteAddr, wsErr(err))
			return
		}
		if mt != websocket.BinaryMessage {
			p.connErr(r.RemoteAddr, wire.NewErrProtocol(wire.ProtoDecode, nil, "unexpected websocket message type %d", mt))
			return
		}
		if !p.deliver(rxFrame{frame: msg}) {
			return
		}
	}
}

// normalize websocket read errors
func wsErr(err error) error {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return io.EOF
	case errors.Is(err, websocket.ErrReadLimit):
		return wire.NewErrProtocol(wire.ProtoTooLong, err, "websocket message")
	default:
		return err
	}
}
