// Package wire serializes samples and end-of-stream sentinels into self-describing,
// checksummed frames for inter-process transport.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/tinylib/msgp/msgp"
)

// nesting limit when decoding untrusted payloads
const maxDepth = 64

var errTooDeep = errors.New("value nesting too deep")

// AppendValue appends the msgpack encoding of v.
// See Sample for the set of supported types.
func AppendValue(b []byte, v any) ([]byte, error) {
	return appendValue(b, v, 0)
}

func appendValue(b []byte, v any, depth int) (_ []byte, err error) {
	if depth > maxDepth {
		return b, errTooDeep
	}
	switch v := v.(type) {
	case nil:
		return msgp.AppendNil(b), nil
	case bool:
		return msgp.AppendBool(b, v), nil
	case int:
		return msgp.AppendInt64(b, int64(v)), nil
	case int8:
		return msgp.AppendInt64(b, int64(v)), nil
	case int16:
		return msgp.AppendInt64(b, int64(v)), nil
	case int32:
		return msgp.AppendInt64(b, int64(v)), nil
	case int64:
		return msgp.AppendInt64(b, v), nil
	case uint:
		return msgp.AppendUint64(b, uint64(v)), nil
	case uint8:
		return msgp.AppendUint64(b, uint64(v)), nil
	case uint16:
		return msgp.AppendUint64(b, uint64(v)), nil
	case uint32:
		return msgp.AppendUint64(b, uint64(v)), nil
	case uint64:
		return msgp.AppendUint64(b, v), nil
	case float32:
		return msgp.AppendFloat32(b, v), nil
	case float64:
		return msgp.AppendFloat64(b, v), nil
	case string:
		return msgp.AppendString(b, v), nil
	case []byte:
		return msgp.AppendBytes(b, v), nil
	case time.Time:
		return msgp.AppendTime(b, v), nil
	case *Tensor:
		return msgp.AppendExtension(b, v)
	case Tensor:
		return msgp.AppendExtension(b, &v)
	case []any:
		b = msgp.AppendArrayHeader(b, uint32(len(v)))
		for _, e := range v {
			if b, err = appendValue(b, e, depth+1); err != nil {
				return b, err
			}
		}
		return b, nil
	case []string:
		b = msgp.AppendArrayHeader(b, uint32(len(v)))
		for _, e := range v {
			b = msgp.AppendString(b, e)
		}
		return b, nil
	case []int:
		b = msgp.AppendArrayHeader(b, uint32(len(v)))
		for _, e := range v {
			b = msgp.AppendInt64(b, int64(e))
		}
		return b, nil
	case []int64:
		b = msgp.AppendArrayHeader(b, uint32(len(v)))
		for _, e := range v {
			b = msgp.AppendInt64(b, e)
		}
		return b, nil
	case []float32:
		b = msgp.AppendArrayHeader(b, uint32(len(v)))
		for _, e := range v {
			b = msgp.AppendFloat32(b, e)
		}
		return b, nil
	case []float64:
		b = msgp.AppendArrayHeader(b, uint32(len(v)))
		for _, e := range v {
			b = msgp.AppendFloat64(b, e)
		}
		return b, nil
	case Sample:
		return appendMap(b, v, depth)
	case map[string]any:
		return appendMap(b, v, depth)
	case map[string]string:
		b = msgp.AppendMapHeader(b, uint32(len(v)))
		for k, e := range v {
			b = msgp.AppendString(b, k)
			b = msgp.AppendString(b, e)
		}
		return b, nil
	default:
		return b, fmt.Errorf("unsupported value type %T", v)
	}
}

func appendMap(b []byte, m map[string]any, depth int) (_ []byte, err error) {
	b = msgp.AppendMapHeader(b, uint32(len(m)))
	for k, e := range m {
		b = msgp.AppendString(b, k)
		if b, err = appendValue(b, e, depth+1); err != nil {
			return b, fmt.Errorf("%q: %w", k, err)
		}
	}
	return b, nil
}

// ReadValue decodes a single msgpack value and returns the remaining bytes.
// Strings and byte slices are copied out of b.
func ReadValue(b []byte) (v any, o []byte, err error) {
	return readValue(b, 0)
}

func readValue(b []byte, depth int) (v any, o []byte, err error) {
	if depth > maxDepth {
		return nil, b, errTooDeep
	}
	switch t := msgp.NextType(b); t {
	case msgp.NilType:
		o, err = msgp.ReadNilBytes(b)
		return nil, o, err
	case msgp.BoolType:
		return msgp.ReadBoolBytes(b)
	case msgp.IntType:
		return msgp.ReadInt64Bytes(b)
	case msgp.UintType:
		var u uint64
		if u, o, err = msgp.ReadUint64Bytes(b); err != nil {
			return nil, o, err
		}
		if u <= maxInt64 {
			return int64(u), o, nil
		}
		return u, o, nil
	case msgp.Float32Type:
		return msgp.ReadFloat32Bytes(b)
	case msgp.Float64Type:
		return msgp.ReadFloat64Bytes(b)
	case msgp.StrType:
		return msgp.ReadStringBytes(b)
	case msgp.BinType:
		return msgp.ReadBytesBytes(b, nil)
	case msgp.TimeType:
		return msgp.ReadTimeBytes(b)
	case msgp.ExtensionType:
		tensor := &Tensor{}
		if o, err = msgp.ReadExtensionBytes(b, tensor); err != nil {
			return nil, o, err
		}
		return tensor, o, nil
	case msgp.ArrayType:
		var sz uint32
		if sz, o, err = msgp.ReadArrayHeaderBytes(b); err != nil {
			return nil, o, err
		}
		// every element takes at least one byte
		if int(sz) > len(o) {
			return nil, o, msgp.ErrShortBytes
		}
		arr := make([]any, sz)
		for i := range arr {
			if arr[i], o, err = readValue(o, depth+1); err != nil {
				return nil, o, err
			}
		}
		return arr, o, nil
	case msgp.MapType:
		return readMap(b, depth)
	case msgp.InvalidType:
		if len(b) == 0 {
			return nil, b, msgp.ErrShortBytes
		}
		return nil, b, fmt.Errorf("invalid msgpack prefix 0x%x", b[0])
	default:
		return nil, b, fmt.Errorf("unsupported msgpack type %s", t)
	}
}

func readMap(b []byte, depth int) (_ map[string]any, o []byte, err error) {
	var sz uint32
	if sz, o, err = msgp.ReadMapHeaderBytes(b); err != nil {
		return nil, o, err
	}
	if int(sz)*2 > len(o) {
		return nil, o, msgp.ErrShortBytes
	}
	m := make(map[string]any, sz)
	for range sz {
		var k string
		if k, o, err = msgp.ReadStringBytes(o); err != nil {
			return nil, o, err
		}
		if m[k], o, err = readValue(o, depth+1); err != nil {
			return nil, o, fmt.Errorf("%q: %w", k, err)
		}
	}
	return m, o, nil
}

const maxInt64 = 1<<63 - 1
