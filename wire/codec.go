// Package wire serializes samples and end-of-stream sentinels into self-describing,
// checksummed frames for inter-process transport.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/cmn/debug"

	"github.com/cespare/xxhash/v2"
	"github.com/pierrec/lz4/v4"
	"github.com/tinylib/msgp/msgp"
)

// Frame layout (big-endian):
//
//	[version u8][kind u8][flags u16][payload-len u32][xxhash64(payload) u64][payload]
//
// Payload is msgpack. With flagLZ4 set, payload is [raw-len u32][lz4 block].

const (
	Version = byte(1)
	HdrSize = 16

	DefaultMaxFrameSize = 256 * cos.MiB

	// below this size compression is never attempted
	minCompressSize = 512
)

const (
	flagLZ4 = uint16(1 << iota)
)

type (
	Opts struct {
		Compression  string // one of: cmn.CompressNever (default), cmn.CompressAlways
		MaxFrameSize int64  // max payload size; 0 - DefaultMaxFrameSize
	}
	// Codec is immutable and safe for concurrent use.
	Codec struct {
		maxSize  int64
		compress bool
	}
	hdr struct {
		version byte
		kind    byte
		flags   uint16
		plen    uint32
		cksum   uint64
	}
)

func NewCodec(opts *Opts) *Codec {
	c := &Codec{maxSize: DefaultMaxFrameSize}
	if opts == nil {
		return c
	}
	if opts.MaxFrameSize > 0 {
		c.maxSize = min(opts.MaxFrameSize, int64(^uint32(0)))
	}
	c.compress = opts.Compression == cmn.CompressAlways
	return c
}

func (c *Codec) MaxFrameSize() int64 { return c.maxSize }

// Compression returns the Opts value this codec was created with.
func (c *Codec) Compression() string {
	if c.compress {
		return cmn.CompressAlways
	}
	return cmn.CompressNever
}

func (c *Codec) String() string {
	if c.compress {
		return fmt.Sprintf("codec[v%d, lz4, max=%s]", Version, cos.ToSizeIEC(c.maxSize, 0))
	}
	return fmt.Sprintf("codec[v%d, max=%s]", Version, cos.ToSizeIEC(c.maxSize, 0))
}

//
// encode
//

func (c *Codec) Encode(v Value) ([]byte, error) {
	var (
		b   = make([]byte, HdrSize, HdrSize+256)
		err error
	)
	switch v := v.(type) {
	case Sample:
		if v == nil {
			return nil, errors.New("wire: nil sample")
		}
		b, err = appendMap(b, v, 0)
	case *Finished:
		if v == nil {
			return nil, errors.New("wire: nil end-of-stream")
		}
		b, err = appendFinished(b, v)
	default:
		return nil, fmt.Errorf("wire: cannot encode %T", v)
	}
	if err != nil {
		return nil, fmt.Errorf("wire: failed to encode %s: %w", kindString(v.Kind()), err)
	}

	var (
		payload = b[HdrSize:]
		flags   uint16
	)
	if c.compress && len(payload) >= minCompressSize {
		if z := compress(payload); z != nil {
			b = append(b[:HdrSize], z...)
			payload, flags = b[HdrSize:], flagLZ4
		}
	}
	if int64(len(payload)) > c.maxSize {
		return nil, fmt.Errorf("wire: %s payload size %s exceeds max frame size %s",
			kindString(v.Kind()), cos.ToSizeIEC(int64(len(payload)), 1), cos.ToSizeIEC(c.maxSize, 0))
	}
	h := hdr{version: Version, kind: v.Kind(), flags: flags, plen: uint32(len(payload)), cksum: xxhash.Sum64(payload)}
	h.pack(b[:HdrSize])
	return b, nil
}

// returns nil when compression does not pay off
func compress(payload []byte) []byte {
	z := make([]byte, cos.SizeofI32+lz4.CompressBlockBound(len(payload)))
	n, err := lz4.CompressBlock(payload, z[cos.SizeofI32:], nil)
	if err != nil || n == 0 || n+cos.SizeofI32 >= len(payload) {
		return nil
	}
	pack := cos.NewPacker(z, 0)
	pack.WriteUint32(uint32(len(payload)))
	return z[:cos.SizeofI32+n]
}

func appendFinished(b []byte, fin *Finished) (_ []byte, err error) {
	n := uint32(3)
	if fin.Reason != "" {
		n++
	}
	if len(fin.Ext) > 0 {
		n++
	}
	b = msgp.AppendMapHeader(b, n)
	b = msgp.AppendString(b, "index")
	b = msgp.AppendInt64(b, int64(fin.Index))
	b = msgp.AppendString(b, "status")
	b = msgp.AppendUint64(b, uint64(fin.Status))
	b = msgp.AppendString(b, "version")
	b = msgp.AppendUint64(b, uint64(Version))
	if fin.Reason != "" {
		b = msgp.AppendString(b, "reason")
		b = msgp.AppendString(b, fin.Reason)
	}
	if len(fin.Ext) > 0 {
		b = msgp.AppendString(b, "ext")
		b, err = appendMap(b, fin.Ext, 1)
	}
	return b, err
}

//
// decode
//

// Decode validates and decodes a complete frame as returned by ReadFrame.
// All errors are *ErrProtocol. The returned value does not reference the frame.
func (c *Codec) Decode(frame []byte) (Value, error) {
	h, err := c.unpackHdr(frame)
	if err != nil {
		return nil, err
	}
	payload := frame[HdrSize:]
	switch {
	case len(payload) < int(h.plen):
		return nil, NewErrProtocol(ProtoShortPayload, nil, "%s: have %d, expecting %d", kindString(h.kind), len(payload), h.plen)
	case len(payload) > int(h.plen):
		return nil, NewErrProtocol(ProtoTrailing, nil, "%s: %d bytes past payload", kindString(h.kind), len(payload)-int(h.plen))
	}
	if cksum := xxhash.Sum64(payload); cksum != h.cksum {
		return nil, NewErrProtocol(ProtoChecksum, nil, "%s: %x vs %x", kindString(h.kind), cksum, h.cksum)
	}
	if h.flags&flagLZ4 != 0 {
		if payload, err = c.decompress(payload); err != nil {
			return nil, NewErrProtocol(ProtoDecompress, err, "%s", kindString(h.kind))
		}
	}

	var (
		v    Value
		rest []byte
	)
	switch h.kind {
	case KindSample:
		var m map[string]any
		if msgp.NextType(payload) != msgp.MapType {
			return nil, NewErrProtocol(ProtoDecode, nil, "sample payload is not a map (%s)", msgp.NextType(payload))
		}
		m, rest, err = readMap(payload, 0)
		v = Sample(m)
	case KindFinished:
		v, rest, err = readFinished(payload)
	default:
		debug.Assert(false, h.kind)
	}
	if err != nil {
		return nil, NewErrProtocol(ProtoDecode, err, "%s", kindString(h.kind))
	}
	if len(rest) > 0 {
		return nil, NewErrProtocol(ProtoTrailing, nil, "%s: %d bytes past msgpack value", kindString(h.kind), len(rest))
	}
	return v, nil
}

func (c *Codec) decompress(z []byte) ([]byte, error) {
	unpack := cos.NewUnpacker(z)
	rawLen, err := unpack.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int64(rawLen) > c.maxSize {
		return nil, fmt.Errorf("decompressed size %d exceeds max frame size", rawLen)
	}
	raw := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(unpack.Rest(), raw)
	if err != nil {
		return nil, err
	}
	if n != int(rawLen) {
		return nil, fmt.Errorf("decompressed %d, expecting %d", n, rawLen)
	}
	return raw, nil
}

func readFinished(b []byte) (*Finished, []byte, error) {
	if msgp.NextType(b) != msgp.MapType {
		return nil, b, fmt.Errorf("finished payload is not a map (%s)", msgp.NextType(b))
	}
	sz, o, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, o, err
	}
	var (
		fin       = &Finished{}
		haveIndex bool
	)
	for range sz {
		var k string
		if k, o, err = msgp.ReadStringBytes(o); err != nil {
			return nil, o, err
		}
		switch k {
		case "index":
			var idx int64
			idx, o, err = msgp.ReadInt64Bytes(o)
			fin.Index, haveIndex = int(idx), true
		case "status":
			var st uint8
			st, o, err = msgp.ReadUint8Bytes(o)
			fin.Status = FinStatus(st)
		case "reason":
			fin.Reason, o, err = msgp.ReadStringBytes(o)
		case "ext":
			fin.Ext, o, err = readMap(o, 1)
		default:
			// including "version"; forward-compatible
			o, err = msgp.Skip(o)
		}
		if err != nil {
			return nil, o, fmt.Errorf("%q: %w", k, err)
		}
	}
	if !haveIndex {
		return nil, o, errors.New("missing worker index")
	}
	if fin.Status != FinOK && fin.Status != FinAborted {
		return nil, o, fmt.Errorf("invalid status %d", fin.Status)
	}
	return fin, o, nil
}

//
// read frame
//

// ReadFrame reads exactly one frame from r.
// Returns io.EOF when r ends cleanly at a frame boundary, *ErrProtocol
// on truncation or invalid header, and the underlying error otherwise.
// The payload is validated later, by Decode.
func (c *Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var h [HdrSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, NewErrProtocol(ProtoShortHdr, nil, "stream ended mid-header")
		}
		return nil, err
	}
	hdr, err := c.unpackHdr(h[:])
	if err != nil {
		return nil, err
	}
	frame := make([]byte, HdrSize+int(hdr.plen))
	copy(frame, h[:])
	if _, err := io.ReadFull(r, frame[HdrSize:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, NewErrProtocol(ProtoShortPayload, nil, "%s: stream ended mid-payload (%d)", kindString(hdr.kind), hdr.plen)
		}
		return nil, err
	}
	return frame, nil
}

//
// header
//

func (h *hdr) pack(b []byte) {
	pack := cos.NewPacker(b, 0)
	pack.WriteByte(h.version)
	pack.WriteByte(h.kind)
	pack.WriteUint16(h.flags)
	pack.WriteUint32(h.plen)
	pack.WriteUint64(h.cksum)
}

func (c *Codec) unpackHdr(b []byte) (h hdr, err error) {
	if len(b) < HdrSize {
		return h, NewErrProtocol(ProtoShortHdr, nil, "have %d bytes", len(b))
	}
	unpack := cos.NewUnpacker(b[:HdrSize])
	h.version, _ = unpack.ReadByte()
	h.kind, _ = unpack.ReadByte()
	h.flags, _ = unpack.ReadUint16()
	h.plen, _ = unpack.ReadUint32()
	h.cksum, _ = unpack.ReadUint64()

	if h.version != Version {
		return h, NewErrProtocol(ProtoBadVersion, nil, "v%d (expecting v%d)", h.version, Version)
	}
	if h.kind != KindSample && h.kind != KindFinished {
		return h, NewErrProtocol(ProtoBadKind, nil, "%s", kindString(h.kind))
	}
	if int64(h.plen) > c.maxSize {
		return h, NewErrProtocol(ProtoTooLong, nil, "%s: payload %d exceeds %d", kindString(h.kind), h.plen, c.maxSize)
	}
	return h, nil
}
