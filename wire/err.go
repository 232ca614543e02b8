// Package wire serializes samples and end-of-stream sentinels into self-describing,
// checksummed frames for inter-process transport.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"errors"
	"fmt"
	"strings"
)

// ErrProtocol codes
const (
	ProtoShortHdr     = "short_hdr"     // truncated frame header
	ProtoBadVersion   = "bad_version"   // unknown protocol version
	ProtoBadKind      = "bad_kind"      // unrecognized frame kind
	ProtoTooLong      = "too_long"      // payload exceeds max frame size
	ProtoShortPayload = "short_payload" // truncated payload
	ProtoTrailing     = "trailing"      // extra bytes past the declared payload
	ProtoChecksum     = "checksum"      // payload checksum mismatch
	ProtoDecompress   = "decompress"    // lz4 failure
	ProtoDecode       = "decode"        // malformed msgpack
)

// ErrProtocol: a malformed or unrecognized frame. A connection that produced
// one cannot be resynchronized and must be dropped.
type ErrProtocol struct {
	err  error
	code string
	ctx  string
}

func NewErrProtocol(code string, err error, format string, a ...any) *ErrProtocol {
	e := &ErrProtocol{err: err, code: code}
	if format != "" {
		e.ctx = fmt.Sprintf(format, a...)
	}
	return e
}

func (e *ErrProtocol) Error() string {
	var sb strings.Builder
	sb.Grow(128)
	sb.WriteString("wire protocol error ")
	sb.WriteString(e.code)
	sb.WriteString(":[")
	if e.ctx != "" {
		sb.WriteString(e.ctx)
	}
	if e.err != nil {
		if e.ctx != "" {
			sb.WriteByte(' ')
		}
		sb.WriteString("err: ")
		sb.WriteString(e.err.Error())
	}
	sb.WriteByte(']')
	return sb.String()
}

func (e *ErrProtocol) Unwrap() error { return e.err }
func (e *ErrProtocol) Code() string  { return e.code }

func IsErrProtocol(err error) bool {
	var e *ErrProtocol
	return errors.As(err, &e)
}

func AsErrProtocol(err error) *ErrProtocol {
	var e *ErrProtocol
	if errors.As(err, &e) {
		return e
	}
	return nil
}
