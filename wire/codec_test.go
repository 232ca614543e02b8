// Package wire_test contains the wire codec unit tests.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package wire_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"
	"time"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/wire"

	"github.com/cespare/xxhash/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func protoCode(err error) string {
	e := wire.AsErrProtocol(err)
	Expect(e).NotTo(BeNil(), "expecting protocol error, got %v", err)
	return e.Code()
}

var _ = Describe("Codec", func() {
	var codec *wire.Codec

	BeforeEach(func() {
		codec = wire.NewCodec(nil)
	})

	roundTrip := func(c *wire.Codec, v wire.Value) wire.Value {
		frame, err := c.Encode(v)
		Expect(err).NotTo(HaveOccurred())
		out, err := c.Decode(frame)
		Expect(err).NotTo(HaveOccurred())
		return out
	}

	Describe("samples", func() {
		It("should round-trip scalars", func() {
			s := wire.Sample{
				"__key__": "sample-000042",
				"nil":     nil,
				"yes":     true,
				"int":     int64(-7),
				"big":     uint64(math.MaxUint64),
				"f32":     float32(1.5),
				"f64":     math.Pi,
				"str":     "hello",
				"bin":     []byte{0, 1, 2, 0xff},
			}
			out := roundTrip(codec, s)
			Expect(out).To(Equal(s))
			Expect(out.(wire.Sample).Key()).To(Equal("sample-000042"))
		})

		It("should normalize integers and typed sequences", func() {
			s := wire.Sample{
				"i":    42,
				"u8":   uint8(200),
				"ints": []int{1, 2, 3},
				"strs": []string{"a", "b"},
				"f32s": []float32{0.5, 0.25},
			}
			out := roundTrip(codec, s).(wire.Sample)
			Expect(out["i"]).To(Equal(int64(42)))
			Expect(out["u8"]).To(Equal(int64(200)))
			Expect(out["ints"]).To(Equal([]any{int64(1), int64(2), int64(3)}))
			Expect(out["strs"]).To(Equal([]any{"a", "b"}))
			Expect(out["f32s"]).To(Equal([]any{float32(0.5), float32(0.25)}))
		})

		It("should round-trip nested maps and sequences", func() {
			s := wire.Sample{
				"meta": map[string]any{
					"labels": []any{"cat", int64(3), nil},
					"inner":  map[string]any{"depth": int64(2), "ok": false},
				},
				"list": []any{[]any{int64(1)}, map[string]any{}},
			}
			Expect(roundTrip(codec, s)).To(Equal(s))
		})

		It("should round-trip time", func() {
			now := time.Now()
			out := roundTrip(codec, wire.Sample{"t": now}).(wire.Sample)
			Expect(out["t"]).To(BeTemporally("==", now))
		})

		It("should round-trip an empty sample", func() {
			Expect(roundTrip(codec, wire.Sample{})).To(Equal(wire.Sample{}))
		})

		It("should reject unsupported types", func() {
			_, err := codec.Encode(wire.Sample{"ch": make(chan int)})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("chan int"))
			_, err = codec.Encode(wire.Sample(nil))
			Expect(err).To(HaveOccurred())
		})

		It("should not reference the frame after decoding", func() {
			frame, err := codec.Encode(wire.Sample{"bin": []byte("abcdef"), "s": "xyz"})
			Expect(err).NotTo(HaveOccurred())
			out, err := codec.Decode(frame)
			Expect(err).NotTo(HaveOccurred())
			clear(frame)
			Expect(out.(wire.Sample)["bin"]).To(Equal([]byte("abcdef")))
			Expect(out.(wire.Sample)["s"]).To(Equal("xyz"))
		})
	})

	Describe("tensors", func() {
		It("should round-trip float32 tensors with shape and dtype", func() {
			vals := make([]float32, 2*3*4)
			for i := range vals {
				vals[i] = float32(i) / 7
			}
			t, err := wire.FromFloat32s([]int{2, 3, 4}, vals)
			Expect(err).NotTo(HaveOccurred())

			out := roundTrip(codec, wire.Sample{"img": t}).(wire.Sample)
			got, ok := out["img"].(*wire.Tensor)
			Expect(ok).To(BeTrue())
			Expect(got.DType).To(Equal(wire.DTypeFloat32))
			Expect(got.Shape).To(Equal([]int{2, 3, 4}))
			f32s, err := got.Float32s()
			Expect(err).NotTo(HaveOccurred())
			Expect(f32s).To(Equal(vals))

			_, err = got.Int64s()
			Expect(err).To(HaveOccurred())
		})

		It("should round-trip tensors nested in sequences", func() {
			a, _ := wire.FromInt64s([]int{3}, []int64{-1, 0, math.MaxInt64})
			b, _ := wire.FromUint8s([]int{2, 2}, []uint8{1, 2, 3, 4})
			c, _ := wire.FromFloat64s([]int{1}, []float64{math.E})
			d, _ := wire.FromInt32s([]int{2}, []int32{-5, 5})
			s := wire.Sample{"batch": []any{a, b, c, d}}
			Expect(roundTrip(codec, s)).To(Equal(s))
		})

		It("should validate shape against data", func() {
			_, err := wire.NewTensor(wire.DTypeFloat64, []int{2, 2}, make([]byte, 16))
			Expect(err).To(HaveOccurred())
			_, err = wire.NewTensor(wire.DTypeInvalid, []int{1}, make([]byte, 1))
			Expect(err).To(HaveOccurred())
			_, err = wire.NewTensor(wire.DTypeUint8, []int{2, 0}, nil)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("finished", func() {
		It("should round-trip ok and aborted sentinels", func() {
			fin := &wire.Finished{Index: 3}
			Expect(roundTrip(codec, fin)).To(Equal(fin))

			aborted := &wire.Finished{
				Index:  1,
				Status: wire.FinAborted,
				Reason: "open shard-0001.tar: no such file",
				Ext:    map[string]any{"samples": int64(17)},
			}
			out := roundTrip(codec, aborted).(*wire.Finished)
			Expect(out).To(Equal(aborted))
			Expect(out.Aborted()).To(BeTrue())
			Expect(out.Kind()).To(Equal(wire.KindFinished))
		})

		It("should never be confused with a sample", func() {
			// a sample that looks like a sentinel
			s := wire.Sample{"index": int64(0), "status": int64(0)}
			out := roundTrip(codec, s)
			Expect(out.Kind()).To(Equal(wire.KindSample))
		})

		It("should refuse to encode a nil sentinel", func() {
			var fin *wire.Finished
			Expect(func() {
				_, err := codec.Encode(fin)
				Expect(err).To(HaveOccurred())
			}).NotTo(Panic())
		})
	})

	Describe("compression", func() {
		It("should compress large repetitive payloads", func() {
			lz := wire.NewCodec(&wire.Opts{Compression: cmn.CompressAlways})
			s := wire.Sample{"txt": strings.Repeat("all work and no play ", 1000)}
			plain, err := codec.Encode(s)
			Expect(err).NotTo(HaveOccurred())
			compressed, err := lz.Encode(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(len(compressed)).To(BeNumerically("<", len(plain)/4))

			// either codec decodes either frame
			for _, c := range []*wire.Codec{codec, lz} {
				out, err := c.Decode(compressed)
				Expect(err).NotTo(HaveOccurred())
				Expect(out).To(Equal(s))
				out, err = c.Decode(plain)
				Expect(err).NotTo(HaveOccurred())
				Expect(out).To(Equal(s))
			}
		})

		It("should leave small payloads alone", func() {
			lz := wire.NewCodec(&wire.Opts{Compression: cmn.CompressAlways})
			a, _ := lz.Encode(wire.Sample{"k": "v"})
			b, _ := codec.Encode(wire.Sample{"k": "v"})
			Expect(a).To(Equal(b))
		})
	})

	Describe("ReadFrame", func() {
		It("should read back-to-back frames and stop at a clean EOF", func() {
			var (
				buf bytes.Buffer
				n   = 10
			)
			for i := range n {
				frame, err := codec.Encode(wire.Sample{"i": int64(i)})
				Expect(err).NotTo(HaveOccurred())
				buf.Write(frame)
			}
			fin, _ := codec.Encode(&wire.Finished{Index: 0})
			buf.Write(fin)

			for i := range n {
				frame, err := codec.ReadFrame(&buf)
				Expect(err).NotTo(HaveOccurred())
				v, err := codec.Decode(frame)
				Expect(err).NotTo(HaveOccurred())
				Expect(v.(wire.Sample)["i"]).To(Equal(int64(i)))
			}
			frame, err := codec.ReadFrame(&buf)
			Expect(err).NotTo(HaveOccurred())
			v, err := codec.Decode(frame)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Kind()).To(Equal(wire.KindFinished))

			_, err = codec.ReadFrame(&buf)
			Expect(err).To(Equal(io.EOF))
		})

		It("should fail on a stream that ends mid-header", func() {
			frame, _ := codec.Encode(wire.Sample{"a": "b"})
			_, err := codec.ReadFrame(bytes.NewReader(frame[:7]))
			Expect(protoCode(err)).To(Equal(wire.ProtoShortHdr))
		})

		It("should fail on a stream that ends mid-payload", func() {
			frame, _ := codec.Encode(wire.Sample{"a": "b"})
			_, err := codec.ReadFrame(bytes.NewReader(frame[:len(frame)-1]))
			Expect(protoCode(err)).To(Equal(wire.ProtoShortPayload))
		})

		It("should refuse oversized frames before reading the payload", func() {
			small := wire.NewCodec(&wire.Opts{MaxFrameSize: 64})
			frame, err := codec.Encode(wire.Sample{"big": strings.Repeat("x", 100)})
			Expect(err).NotTo(HaveOccurred())
			_, err = small.ReadFrame(bytes.NewReader(frame[:wire.HdrSize]))
			Expect(protoCode(err)).To(Equal(wire.ProtoTooLong))

			_, err = small.Encode(wire.Sample{"big": strings.Repeat("x", 100)})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("malformed frames", func() {
		var frame []byte

		BeforeEach(func() {
			var err error
			frame, err = codec.Encode(wire.Sample{"__key__": "k", "v": int64(1)})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should detect truncation", func() {
			_, err := codec.Decode(frame[:wire.HdrSize-1])
			Expect(protoCode(err)).To(Equal(wire.ProtoShortHdr))
			_, err = codec.Decode(frame[:len(frame)-2])
			Expect(protoCode(err)).To(Equal(wire.ProtoShortPayload))
		})

		It("should detect trailing garbage", func() {
			_, err := codec.Decode(append(frame, 0xc0))
			Expect(protoCode(err)).To(Equal(wire.ProtoTrailing))
		})

		It("should detect payload corruption", func() {
			frame[len(frame)-1] ^= 0x5a
			_, err := codec.Decode(frame)
			Expect(protoCode(err)).To(Equal(wire.ProtoChecksum))
		})

		It("should reject unknown versions and kinds", func() {
			bad := bytes.Clone(frame)
			bad[0] = 99
			_, err := codec.Decode(bad)
			Expect(protoCode(err)).To(Equal(wire.ProtoBadVersion))

			bad = bytes.Clone(frame)
			bad[1] = 7
			_, err = codec.Decode(bad)
			Expect(protoCode(err)).To(Equal(wire.ProtoBadKind))
		})

		It("should reject payloads that are not msgpack maps", func() {
			Expect(wire.IsErrProtocol(decodeRaw(codec, wire.KindSample, []byte{0x93, 1, 2, 3}))).To(BeTrue())
			Expect(protoCode(decodeRaw(codec, wire.KindSample, []byte{0x81, 0xa1}))).To(Equal(wire.ProtoDecode))
			Expect(protoCode(decodeRaw(codec, wire.KindFinished, []byte{0x80}))).To(Equal(wire.ProtoDecode))
			// array header claiming 2^32-1 elements
			Expect(protoCode(decodeRaw(codec, wire.KindSample,
				[]byte{0x81, 0xa1, 'a', 0xdd, 0xff, 0xff, 0xff, 0xff}))).To(Equal(wire.ProtoDecode))
		})

		It("should reject bogus lz4 blocks", func() {
			Expect(protoCode(decodeRawFlags(codec, wire.KindSample, 1, []byte{0, 0, 1, 0, 0xff, 0xff}))).
				To(Equal(wire.ProtoDecompress))
		})
	})
})

func decodeRaw(codec *wire.Codec, kind byte, payload []byte) error {
	return decodeRawFlags(codec, kind, 0, payload)
}

// hand-assemble a frame around an arbitrary payload (with a valid checksum)
func decodeRawFlags(codec *wire.Codec, kind byte, flags uint16, payload []byte) error {
	frame := make([]byte, wire.HdrSize, wire.HdrSize+len(payload))
	frame[0], frame[1] = wire.Version, kind
	binary.BigEndian.PutUint16(frame[2:], flags)
	binary.BigEndian.PutUint32(frame[4:], uint32(len(payload)))
	binary.BigEndian.PutUint64(frame[8:], xxhash.Sum64(payload))
	frame = append(frame, payload...)
	_, err := codec.Decode(frame)
	return err
}
