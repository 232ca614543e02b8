// Package transport moves wire frames between processes over unix-domain,
// tcp, and websocket connections: many pushers, one puller.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/cmn/cos"

	"github.com/OneOfOne/xxhash"
)

// address schemes
const (
	SchemeIPC  = "ipc"  // unix stream socket (rendezvous file)
	SchemeUnix = "unix" // same as ipc
	SchemeTCP  = "tcp"
	SchemeWS   = "ws" // websocket; one binary message per frame
)

// sun_path is 108 bytes on linux and 104 on darwin
const maxSockPath = 100

type Addr struct {
	Scheme string
	Host   string // host:port (tcp, ws)
	Path   string // socket file (ipc, unix) or URL path (ws)
}

func ParseAddr(s string) (*Addr, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || rest == "" {
		return nil, fmt.Errorf("invalid address %q (expecting scheme://...)", s)
	}
	a := &Addr{Scheme: scheme}
	switch scheme {
	case SchemeIPC, SchemeUnix:
		a.Path = rest
		if len(a.Path) >= maxSockPath {
			return nil, fmt.Errorf("socket path too long (%d): %q", len(a.Path), a.Path)
		}
	case SchemeTCP:
		a.Host = rest
	case SchemeWS:
		a.Host, a.Path = rest, "/"
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			a.Host, a.Path = rest[:i], rest[i:]
		}
	default:
		return nil, fmt.Errorf("unsupported address scheme %q in %q", scheme, s)
	}
	if a.IsLocal() {
		return a, nil
	}
	_, port, err := net.SplitHostPort(a.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return nil, fmt.Errorf("invalid port in %q", s)
	}
	return a, nil
}

func (a *Addr) String() string {
	switch a.Scheme {
	case SchemeIPC, SchemeUnix:
		return a.Scheme + "://" + a.Path
	case SchemeWS:
		return a.Scheme + "://" + a.Host + a.Path
	default:
		return a.Scheme + "://" + a.Host
	}
}

func (a *Addr) IsLocal() bool { return a.Scheme == SchemeIPC || a.Scheme == SchemeUnix }

// net.Listen/Dial network
func (a *Addr) network() string {
	if a.IsLocal() {
		return "unix"
	}
	return "tcp"
}

func (a *Addr) address() string {
	if a.IsLocal() {
		return a.Path
	}
	return a.Host
}

// NewIPCAddr generates a unique ipc:// address under dir.
// Names that would not fit a socket path are shortened to a hash.
func NewIPCAddr(dir, prefix string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("empty socket directory")
	}
	name := prefix + "-" + cmn.GenUUID() + ".sock"
	path := filepath.Join(dir, name)
	if len(path) >= maxSockPath {
		h := xxhash.ChecksumString64S(name, cos.MLCG32)
		path = filepath.Join(dir, strconv.FormatUint(h, 36)+".sock")
	}
	if len(path) >= maxSockPath {
		return "", fmt.Errorf("socket directory %q is too long (max socket path %d)", dir, maxSockPath)
	}
	return SchemeIPC + "://" + path, nil
}
