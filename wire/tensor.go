// Package wire serializes samples and end-of-stream sentinels into self-describing,
// checksummed frames for inter-process transport.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/NVIDIA/wdsloader/cmn/cos"

	"github.com/tinylib/msgp/msgp"
)

// Tensor travels as msgpack extension TensorExtType:
// [dtype u8][ndim u8][dim u32 * ndim][len u32][data]
// Element data is little-endian, row-major.

const TensorExtType = int8(0x57)

const maxTensorDims = 32

type DType uint8

const (
	DTypeInvalid DType = iota
	DTypeUint8
	DTypeInt32
	DTypeInt64
	DTypeFloat32
	DTypeFloat64
)

type Tensor struct {
	Shape []int
	Data  []byte
	DType DType
}

// interface guard
var _ msgp.Extension = (*Tensor)(nil)

func init() {
	msgp.RegisterExtension(TensorExtType, func() msgp.Extension { return new(Tensor) })
}

func (dt DType) Size() int {
	switch dt {
	case DTypeUint8:
		return 1
	case DTypeInt32, DTypeFloat32:
		return 4
	case DTypeInt64, DTypeFloat64:
		return 8
	default:
		return 0
	}
}

func (dt DType) String() string {
	switch dt {
	case DTypeUint8:
		return "uint8"
	case DTypeInt32:
		return "int32"
	case DTypeInt64:
		return "int64"
	case DTypeFloat32:
		return "float32"
	case DTypeFloat64:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(dt))
	}
}

// NewTensor validates that len(data) matches dtype and shape; data is not copied.
func NewTensor(dtype DType, shape []int, data []byte) (*Tensor, error) {
	t := &Tensor{DType: dtype, Shape: shape, Data: data}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func NumElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (t *Tensor) NumElems() int { return NumElems(t.Shape) }

func (t *Tensor) validate() error {
	isz := t.DType.Size()
	if isz == 0 {
		return fmt.Errorf("tensor: invalid %s", t.DType)
	}
	if len(t.Shape) > maxTensorDims {
		return fmt.Errorf("tensor: too many dimensions (%d)", len(t.Shape))
	}
	for _, d := range t.Shape {
		if d < 0 || d > math.MaxUint32 {
			return fmt.Errorf("tensor: invalid shape %v", t.Shape)
		}
	}
	if n := t.NumElems() * isz; n != len(t.Data) {
		return fmt.Errorf("tensor: %s%v requires %d bytes, have %d", t.DType, t.Shape, n, len(t.Data))
	}
	return nil
}

func (t *Tensor) String() string { return fmt.Sprintf("tensor[%s%v]", t.DType, t.Shape) }

//
// msgp.Extension
//

func (*Tensor) ExtensionType() int8 { return TensorExtType }

func (t *Tensor) Len() int {
	return 2 + cos.SizeofI32*len(t.Shape) + cos.SizeofLen + len(t.Data)
}

func (t *Tensor) MarshalBinaryTo(b []byte) error {
	if err := t.validate(); err != nil {
		return err
	}
	pack := cos.NewPacker(b, 0)
	pack.WriteByte(byte(t.DType))
	pack.WriteByte(byte(len(t.Shape)))
	for _, d := range t.Shape {
		pack.WriteUint32(uint32(d))
	}
	pack.WriteBytes(t.Data)
	return nil
}

func (t *Tensor) UnmarshalBinary(b []byte) error {
	unpack := cos.NewUnpacker(b)
	dt, err := unpack.ReadByte()
	if err != nil {
		return err
	}
	ndim, err := unpack.ReadByte()
	if err != nil {
		return err
	}
	if ndim > maxTensorDims {
		return fmt.Errorf("tensor: too many dimensions (%d)", ndim)
	}
	shape := make([]int, ndim)
	for i := range shape {
		d, err := unpack.ReadUint32()
		if err != nil {
			return err
		}
		shape[i] = int(d)
	}
	data, err := unpack.ReadBytes()
	if err != nil {
		return err
	}
	if unpack.Len() != 0 {
		return fmt.Errorf("tensor: %d trailing bytes", unpack.Len())
	}
	t.DType, t.Shape = DType(dt), shape
	t.Data = make([]byte, len(data)) // own it
	copy(t.Data, data)
	return t.validate()
}

//
// typed constructors and accessors
//

func FromUint8s(shape []int, vals []uint8) (*Tensor, error) {
	data := make([]byte, len(vals))
	copy(data, vals)
	return NewTensor(DTypeUint8, shape, data)
}

func FromInt32s(shape []int, vals []int32) (*Tensor, error) {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(v))
	}
	return NewTensor(DTypeInt32, shape, data)
}

func FromInt64s(shape []int, vals []int64) (*Tensor, error) {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[8*i:], uint64(v))
	}
	return NewTensor(DTypeInt64, shape, data)
}

func FromFloat32s(shape []int, vals []float32) (*Tensor, error) {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return NewTensor(DTypeFloat32, shape, data)
}

func FromFloat64s(shape []int, vals []float64) (*Tensor, error) {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return NewTensor(DTypeFloat64, shape, data)
}

func (t *Tensor) Uint8s() ([]uint8, error) {
	if t.DType != DTypeUint8 {
		return nil, t.errDType(DTypeUint8)
	}
	return t.Data, nil
}

func (t *Tensor) Int32s() ([]int32, error) {
	if t.DType != DTypeInt32 {
		return nil, t.errDType(DTypeInt32)
	}
	out := make([]int32, len(t.Data)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(t.Data[4*i:]))
	}
	return out, nil
}

func (t *Tensor) Int64s() ([]int64, error) {
	if t.DType != DTypeInt64 {
		return nil, t.errDType(DTypeInt64)
	}
	out := make([]int64, len(t.Data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(t.Data[8*i:]))
	}
	return out, nil
}

func (t *Tensor) Float32s() ([]float32, error) {
	if t.DType != DTypeFloat32 {
		return nil, t.errDType(DTypeFloat32)
	}
	out := make([]float32, len(t.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[4*i:]))
	}
	return out, nil
}

func (t *Tensor) Float64s() ([]float64, error) {
	if t.DType != DTypeFloat64 {
		return nil, t.errDType(DTypeFloat64)
	}
	out := make([]float64, len(t.Data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(t.Data[8*i:]))
	}
	return out, nil
}

func (t *Tensor) errDType(want DType) error {
	return fmt.Errorf("%s: expecting %s", t, want)
}
