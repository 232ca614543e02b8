// Package dataset provides sharded, restartable sample sources for reader processes.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package dataset

import (
	"errors"
	"fmt"
	"io"

	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/wire"
)

const RangeName = "range"

type (
	// RangeParams: either Size (split round-robin across workers)
	// or ShardSizes (explicit number of samples per worker).
	RangeParams struct {
		ShardSizes  []int `json:"shard_sizes,omitempty"`
		Size        int   `json:"size,omitempty"`
		PayloadSize int   `json:"payload_size,omitempty"` // optional "data" field of that many bytes
	}
	Range struct {
		params RangeParams
	}
	rangeIter struct {
		ds    *Range
		shard Shard
		next  int // next global index
		end   int // (shard sizes mode)
	}
)

// interface guard
var (
	_ Dataset  = (*Range)(nil)
	_ Iterator = (*rangeIter)(nil)
)

func newRange(params []byte) (Dataset, error) {
	var p RangeParams
	if len(params) > 0 {
		if err := cos.JSON.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid range params: %w", err)
		}
	}
	return NewRange(&p)
}

func NewRange(p *RangeParams) (*Range, error) {
	if p.Size < 0 || p.PayloadSize < 0 {
		return nil, errors.New("negative size")
	}
	if p.Size > 0 && len(p.ShardSizes) > 0 {
		return nil, errors.New("size and shard_sizes are mutually exclusive")
	}
	for _, n := range p.ShardSizes {
		if n < 0 {
			return nil, fmt.Errorf("negative shard size in %v", p.ShardSizes)
		}
	}
	return &Range{params: *p}, nil
}

// Len returns the total number of samples across all shards.
func (r *Range) Len() int {
	if len(r.params.ShardSizes) == 0 {
		return r.params.Size
	}
	var n int
	for _, sz := range r.params.ShardSizes {
		n += sz
	}
	return n
}

func (r *Range) Iter(shard Shard) (Iterator, error) {
	if err := shard.Validate(); err != nil {
		return nil, err
	}
	it := &rangeIter{ds: r, shard: shard}
	if sizes := r.params.ShardSizes; len(sizes) > 0 {
		if len(sizes) != shard.Count {
			return nil, fmt.Errorf("range: %d shard sizes for %d workers", len(sizes), shard.Count)
		}
		for _, n := range sizes[:shard.Index] {
			it.next += n
		}
		it.end = it.next + sizes[shard.Index]
	} else {
		it.next = shard.Index
	}
	return it, nil
}

func (it *rangeIter) Next() (wire.Sample, error) {
	var idx int
	if len(it.ds.params.ShardSizes) > 0 {
		if it.next >= it.end {
			return nil, io.EOF
		}
		idx = it.next
		it.next++
	} else {
		if it.next >= it.ds.params.Size {
			return nil, io.EOF
		}
		idx = it.next
		it.next += it.shard.Count
	}
	s := wire.Sample{
		"__key__": fmt.Sprintf("%06d", idx),
		"index":   idx,
		"shard":   it.shard.Index,
	}
	if n := it.ds.params.PayloadSize; n > 0 {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(idx + i)
		}
		s["data"] = data
	}
	return s, nil
}

func (*rangeIter) Close() error { return nil }
