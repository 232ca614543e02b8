// Package wire serializes samples and end-of-stream sentinels into self-describing,
// checksummed frames for inter-process transport.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"fmt"
	"strconv"
)

// frame kinds
const (
	KindSample   = byte(1)
	KindFinished = byte(2)
)

type (
	// Value is either a Sample or a *Finished sentinel
	Value interface {
		Kind() byte
	}

	// Sample is an unordered record: string keys => structured values.
	// Supported values: nil, bool, integers, float32, float64, string, []byte,
	// time.Time, *Tensor, []any, map[string]any, and typed slices
	// []string, []int, []int64, []float32, []float64.
	// On the receiving side integers decode as int64 (uint64 when exceeding
	// math.MaxInt64) and sequences decode as []any.
	Sample map[string]any

	// Finished marks the end of one worker's stream.
	// Ext carries optional diagnostic metadata; unknown fields are ignored on decode.
	Finished struct {
		Ext    map[string]any
		Reason string // (FinAborted only)
		Index  int    // worker index
		Status FinStatus
	}
	FinStatus uint8
)

const (
	FinOK      FinStatus = iota // shard exhausted
	FinAborted                  // dataset failed mid-stream
)

// interface guard
var (
	_ Value = Sample(nil)
	_ Value = (*Finished)(nil)
)

func (Sample) Kind() byte    { return KindSample }
func (*Finished) Kind() byte { return KindFinished }

// Key returns the sample's "__key__" (WebDataset convention), if present
func (s Sample) Key() string {
	if k, ok := s["__key__"].(string); ok {
		return k
	}
	return ""
}

func (fin *Finished) Aborted() bool { return fin.Status == FinAborted }

func (fin *Finished) String() string {
	if fin.Status == FinAborted {
		return "finished[" + strconv.Itoa(fin.Index) + ", aborted: " + fin.Reason + "]"
	}
	return "finished[" + strconv.Itoa(fin.Index) + "]"
}

func (st FinStatus) String() string {
	switch st {
	case FinOK:
		return "ok"
	case FinAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", uint8(st))
	}
}

func kindString(kind byte) string {
	switch kind {
	case KindSample:
		return "sample"
	case KindFinished:
		return "finished"
	default:
		return "kind(" + strconv.Itoa(int(kind)) + ")"
	}
}
