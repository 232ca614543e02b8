// Package dataset provides sharded, restartable sample sources for reader processes.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package dataset

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/NVIDIA/wdsloader/wire"
)

type (
	// Shard selects the subset read by one worker.
	Shard struct {
		Index int // worker index, in [0, Count)
		Count int // total number of workers
	}

	// Dataset is restartable: every Iter starts from the beginning of the shard.
	Dataset interface {
		Iter(shard Shard) (Iterator, error)
	}

	Iterator interface {
		// Next returns io.EOF when the shard is exhausted.
		Next() (wire.Sample, error)
		Close() error
	}

	// Factory builds a dataset from its (JSON) parameters.
	// Datasets are constructed by name inside each reader process.
	Factory func(params []byte) (Dataset, error)
)

var (
	registry = make(map[string]Factory, 4)
	mu       sync.RWMutex
)

func init() {
	Register(RangeName, newRange)
	Register(TarName, newTar)
}

// Register makes a dataset available by name; re-registering replaces.
func Register(name string, factory Factory) {
	mu.Lock()
	registry[name] = factory
	mu.Unlock()
}

func New(name string, params []byte) (Dataset, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q (registered: %v)", name, Names())
	}
	ds, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", name, err)
	}
	return ds, nil
}

func Names() []string {
	mu.RLock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	mu.RUnlock()
	sort.Strings(names)
	return names
}

func (s Shard) Validate() error {
	if s.Count < 1 || s.Index < 0 || s.Index >= s.Count {
		return fmt.Errorf("invalid shard %d/%d", s.Index, s.Count)
	}
	return nil
}

func (s Shard) String() string { return fmt.Sprintf("shard[%d/%d]", s.Index, s.Count) }

// Collect drains the iterator (for tests and small datasets).
func Collect(it Iterator) ([]wire.Sample, error) {
	var samples []wire.Sample
	for {
		s, err := it.Next()
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			return samples, err
		}
		samples = append(samples, s)
	}
}
