// Package dataset_test contains dataset unit tests.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package dataset_test

import (
	"io"

	"github.com/NVIDIA/wdsloader/dataset"
	"github.com/NVIDIA/wdsloader/wire"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func collect(ds dataset.Dataset, shard dataset.Shard) []wire.Sample {
	it, err := ds.Iter(shard)
	Expect(err).NotTo(HaveOccurred())
	defer it.Close()
	samples, err := dataset.Collect(it)
	Expect(err).NotTo(HaveOccurred())
	return samples
}

func indices(samples []wire.Sample) (out []int) {
	for _, s := range samples {
		out = append(out, s["index"].(int))
	}
	return out
}

var _ = Describe("Range", func() {
	It("should split round-robin and cover every index exactly once", func() {
		ds, err := dataset.NewRange(&dataset.RangeParams{Size: 10})
		Expect(err).NotTo(HaveOccurred())
		Expect(ds.Len()).To(Equal(10))

		Expect(indices(collect(ds, dataset.Shard{Index: 0, Count: 3}))).To(Equal([]int{0, 3, 6, 9}))
		Expect(indices(collect(ds, dataset.Shard{Index: 1, Count: 3}))).To(Equal([]int{1, 4, 7}))
		Expect(indices(collect(ds, dataset.Shard{Index: 2, Count: 3}))).To(Equal([]int{2, 5, 8}))
	})

	It("should honor explicit shard sizes, including empty shards", func() {
		ds, err := dataset.NewRange(&dataset.RangeParams{ShardSizes: []int{2, 0, 5}})
		Expect(err).NotTo(HaveOccurred())
		Expect(ds.Len()).To(Equal(7))

		Expect(indices(collect(ds, dataset.Shard{Index: 0, Count: 3}))).To(Equal([]int{0, 1}))
		Expect(collect(ds, dataset.Shard{Index: 1, Count: 3})).To(BeEmpty())
		Expect(indices(collect(ds, dataset.Shard{Index: 2, Count: 3}))).To(Equal([]int{2, 3, 4, 5, 6}))

		_, err = ds.Iter(dataset.Shard{Index: 0, Count: 2})
		Expect(err).To(HaveOccurred())
	})

	It("should be restartable", func() {
		ds, _ := dataset.NewRange(&dataset.RangeParams{Size: 5})
		first := collect(ds, dataset.Shard{Index: 0, Count: 1})
		Expect(collect(ds, dataset.Shard{Index: 0, Count: 1})).To(Equal(first))
	})

	It("should keep returning EOF once exhausted", func() {
		ds, _ := dataset.NewRange(&dataset.RangeParams{Size: 1})
		it, err := ds.Iter(dataset.Shard{Index: 0, Count: 1})
		Expect(err).NotTo(HaveOccurred())
		s, err := it.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Key()).To(Equal("000000"))
		Expect(s["shard"]).To(Equal(0))
		for range 3 {
			_, err = it.Next()
			Expect(err).To(Equal(io.EOF))
		}
	})

	It("should attach payloads", func() {
		ds, _ := dataset.NewRange(&dataset.RangeParams{Size: 2, PayloadSize: 16})
		for _, s := range collect(ds, dataset.Shard{Index: 0, Count: 1}) {
			Expect(s["data"]).To(HaveLen(16))
		}
	})

	It("should reject invalid params and shards", func() {
		_, err := dataset.NewRange(&dataset.RangeParams{Size: 3, ShardSizes: []int{1}})
		Expect(err).To(HaveOccurred())
		_, err = dataset.NewRange(&dataset.RangeParams{ShardSizes: []int{1, -1}})
		Expect(err).To(HaveOccurred())

		ds, _ := dataset.NewRange(&dataset.RangeParams{Size: 3})
		_, err = ds.Iter(dataset.Shard{Index: 3, Count: 3})
		Expect(err).To(HaveOccurred())
		_, err = ds.Iter(dataset.Shard{Index: 0, Count: 0})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Registry", func() {
	It("should construct registered datasets from JSON params", func() {
		Expect(dataset.Names()).To(ContainElements(dataset.RangeName, dataset.TarName))

		ds, err := dataset.New(dataset.RangeName, []byte(`{"shard_sizes": [1, 2]}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(collect(ds, dataset.Shard{Index: 1, Count: 2})).To(HaveLen(2))

		_, err = dataset.New(dataset.RangeName, []byte(`{"size": "ten"}`))
		Expect(err).To(HaveOccurred())
		_, err = dataset.New("nonexistent", nil)
		Expect(err).To(MatchError(ContainSubstring("unknown dataset")))
	})

	It("should register custom datasets", func() {
		dataset.Register("test-empty", func([]byte) (dataset.Dataset, error) {
			return dataset.NewRange(&dataset.RangeParams{})
		})
		ds, err := dataset.New("test-empty", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(collect(ds, dataset.Shard{Index: 0, Count: 4})).To(BeEmpty())
	})
})
