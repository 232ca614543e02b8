// Package loader_test contains multi-process loader tests.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package loader_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/dataset"
	"github.com/NVIDIA/wdsloader/loader"
	"github.com/NVIDIA/wdsloader/pidreg"
	"github.com/NVIDIA/wdsloader/stats"
	"github.com/NVIDIA/wdsloader/transport"
	"github.com/NVIDIA/wdsloader/wire"
	"github.com/NVIDIA/wdsloader/worker"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func rangeOpts(workers int, params *dataset.RangeParams) *loader.Opts {
	return &loader.Opts{Dataset: dataset.RangeName, Params: params, Workers: workers}
}

func indices(samples []wire.Sample) map[int64]int {
	seen := make(map[int64]int, len(samples))
	for _, s := range samples {
		seen[s["index"].(int64)]++
	}
	return seen
}

var _ = Describe("Multi", func() {
	DescribeTable("should yield every sample exactly once",
		func(workers, size int, compression string) {
			codec := wire.NewCodec(&wire.Opts{Compression: compression})
			opts := rangeOpts(workers, &dataset.RangeParams{Size: size, PayloadSize: 1024})
			opts.Codec = codec
			m := newMulti(opts)

			it, err := m.Iter(context.Background())
			Expect(err).NotTo(HaveOccurred())
			samples, err := drain(it)
			Expect(err).NotTo(HaveOccurred())

			Expect(samples).To(HaveLen(size))
			seen := indices(samples)
			Expect(seen).To(HaveLen(size))
			for idx, cnt := range seen {
				Expect(cnt).To(Equal(1), "index %d", idx)
				Expect(idx).To(BeNumerically("<", size))
			}

			st := m.Stats()
			Expect(st.Get(stats.Samples)).To(BeEquivalentTo(size))
			Expect(st.Get(stats.Spawned)).To(BeEquivalentTo(workers))
			Expect(st.Get(stats.Finished)).To(BeEquivalentTo(workers))
			Expect(st.Get(stats.Died)).To(BeZero())
			Expect(st.Get(stats.Passes)).To(BeEquivalentTo(1))
			Expect(m.Handles()).To(BeNil())
		},
		Entry("1 worker", 1, 13, cmn.CompressNever),
		Entry("2 workers", 2, 13, cmn.CompressNever),
		Entry("3 workers", 3, 13, cmn.CompressAlways),
		Entry("4 workers", 4, 13, cmn.CompressNever),
		Entry("more workers than samples", 4, 3, cmn.CompressNever),
		Entry("empty dataset", 2, 0, cmn.CompressNever),
	)

	It("should terminate cleanly with an empty shard", func() {
		m := newMulti(rangeOpts(3, &dataset.RangeParams{ShardSizes: []int{2, 0, 5}}))
		it, err := m.Iter(context.Background())
		Expect(err).NotTo(HaveOccurred())
		handles := m.Handles()
		Expect(handles).To(HaveLen(3))

		samples, err := drain(it)
		Expect(err).NotTo(HaveOccurred())
		Expect(samples).To(HaveLen(7))
		Expect(indices(samples)).To(HaveLen(7))
		for _, h := range handles {
			Expect(h.Finished()).To(BeTrue())
			Expect(h.ExitCode()).To(Equal(worker.ExitOK))
		}
		expectDead(handles)
	})

	It("should support repeated passes", func() {
		m := newMulti(rangeOpts(2, &dataset.RangeParams{Size: 5}))
		for range 3 {
			samples, err := drain(must(m.Iter(context.Background())))
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(HaveLen(5))
		}
		Expect(m.Stats().Get(stats.Passes)).To(BeEquivalentTo(3))
		Expect(m.Stats().Get(stats.Spawned)).To(BeEquivalentTo(6))
	})

	It("should range over all samples", func() {
		m := newMulti(rangeOpts(2, &dataset.RangeParams{Size: 9}))
		var n int
		for sample, err := range m.All(context.Background()) {
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.Key()).NotTo(BeEmpty())
			n++
		}
		Expect(n).To(Equal(9))
	})

	It("should fail early on unknown dataset or bad params", func() {
		_, err := loader.NewMulti(&loader.Opts{Dataset: "no-such-dataset"})
		Expect(err).To(HaveOccurred())
		_, err = loader.NewMulti(&loader.Opts{Dataset: dataset.RangeName, Params: `{"size": "x"}`})
		Expect(err).To(HaveOccurred())
		_, err = loader.NewMulti(&loader.Opts{})
		Expect(err).To(HaveOccurred())
	})

	Describe("worker failures", func() {
		It("should surface a dataset failure reported by the worker", func() {
			m := newMulti(&loader.Opts{Dataset: dsAbort, Params: &testParams{After: 1}, Workers: 2})
			it, err := m.Iter(context.Background())
			Expect(err).NotTo(HaveOccurred())
			handles := m.Handles()

			samples, err := drain(it)
			Expect(len(samples)).To(BeNumerically("<=", 2))
			Expect(loader.IsErrWorkerDied(err)).To(BeTrue(), "%v", err)
			var died *loader.ErrWorkerDied
			Expect(err).To(BeAssignableToTypeOf(died))
			died = err.(*loader.ErrWorkerDied)
			Expect(died.Aborted).To(BeTrue())
			Expect(died.Reason).To(ContainSubstring(errShardCorrupted.Error()))

			// sticky
			_, err2 := it.Next()
			Expect(err2).To(Equal(err))

			Expect(m.Stats().Get(stats.Died)).To(BeEquivalentTo(1))
			Expect(m.Handles()).To(BeNil())
			expectDead(handles)
		})

		It("should detect a worker that exits without end-of-stream", func() {
			m := newMulti(&loader.Opts{Dataset: dsExit, Params: &testParams{After: 1}, Workers: 1})
			it, err := m.Iter(context.Background())
			Expect(err).NotTo(HaveOccurred())

			done := make(chan error, 1)
			go func() {
				_, err := drain(it)
				done <- err
			}()
			var err2 error
			Eventually(done, 20*time.Second).Should(Receive(&err2))
			Expect(loader.IsErrWorkerDied(err2)).To(BeTrue(), "%v", err2)
			died := err2.(*loader.ErrWorkerDied)
			Expect(died.Aborted).To(BeFalse())
			Expect(died.ExitCode).To(Equal(exitCode))
		})

		It("should blame a worker that dies in the middle of a frame", func() {
			m := newMulti(&loader.Opts{Dataset: dsTorn, Params: &testParams{After: 2}, Workers: 1, Spawner: &tornSpawner{}})
			it, err := m.Iter(context.Background())
			Expect(err).NotTo(HaveOccurred())
			handles := m.Handles()

			samples, err := drain(it)
			Expect(samples).To(HaveLen(2))
			Expect(loader.IsErrWorkerDied(err)).To(BeTrue(), "%v", err)
			died := err.(*loader.ErrWorkerDied)
			Expect(died.Aborted).To(BeFalse())
			Expect(died.ExitCode).To(Equal(exitCode))
			Expect(died.Reason).NotTo(BeEmpty())

			Expect(m.Stats().Get(stats.ProtoErrors)).To(BeEquivalentTo(1))
			Expect(m.Stats().Get(stats.Died)).To(BeEquivalentTo(1))
			expectDead(handles)
		})

		DescribeTable("should end the pass on a bogus end-of-stream",
			func(indices []int, check func(error)) {
				m := newMulti(&loader.Opts{Dataset: dsEndless, Workers: 2})
				it, err := m.Iter(context.Background())
				Expect(err).NotTo(HaveOccurred())
				handles := m.Handles()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				pusher, err := transport.Dial(ctx, m.Addr(), nil)
				Expect(err).NotTo(HaveOccurred())
				defer pusher.Close()
				codec := wire.NewCodec(nil)
				for _, index := range indices {
					frame, err := codec.Encode(&wire.Finished{Index: index})
					Expect(err).NotTo(HaveOccurred())
					Expect(pusher.Send(frame)).To(Succeed())
				}

				done := make(chan error, 1)
				go func() {
					_, err := drain(it)
					done <- err
				}()
				var err2 error
				Eventually(done, 20*time.Second).Should(Receive(&err2))
				check(err2)

				// sticky
				_, err3 := it.Next()
				Expect(err3).To(Equal(err2))

				Expect(m.Handles()).To(BeNil())
				expectDead(handles)
			},
			Entry("duplicate", []int{0, 0}, func(err error) {
				var dup *loader.ErrDuplicateFinished
				Expect(errors.As(err, &dup)).To(BeTrue(), "%v", err)
				Expect(dup.Index).To(Equal(0))
			}),
			Entry("unknown worker", []int{99}, func(err error) {
				var unknown *loader.ErrUnknownWorker
				Expect(errors.As(err, &unknown)).To(BeTrue(), "%v", err)
				Expect(unknown.Index).To(Equal(99))
				Expect(unknown.Workers).To(Equal(2))
			}),
		)
	})

	Describe("teardown", func() {
		It("should kill idempotently, including before the first pass", func() {
			m := newMulti(rangeOpts(2, &dataset.RangeParams{Size: 4}))
			Expect(m.Kill()).To(Succeed())
			Expect(m.Kill()).To(Succeed())
			_, err := m.Iter(context.Background())
			Expect(err).To(MatchError(loader.ErrKilled))
		})

		It("should leave no live workers after breaking out early", func() {
			m := newMulti(&loader.Opts{Dataset: dsEndless, Workers: 3})
			var (
				handles []*loader.Handle
				n       int
			)
			for _, err := range m.All(context.Background()) {
				Expect(err).NotTo(HaveOccurred())
				if n == 0 {
					handles = m.Handles()
				}
				if n++; n == 10 {
					break
				}
			}
			Expect(handles).To(HaveLen(3))
			expectDead(handles)
			Expect(m.Stats().Get(stats.Killed)).To(BeEquivalentTo(3))

			// the loader remains usable
			it, err := m.Iter(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(it.Close()).To(Succeed())
		})

		It("should kill while another goroutine is iterating", func() {
			m := newMulti(&loader.Opts{Dataset: dsEndless, Workers: 2})
			it, err := m.Iter(context.Background())
			Expect(err).NotTo(HaveOccurred())
			_, err = it.Next()
			Expect(err).NotTo(HaveOccurred())
			handles := m.Handles()

			done := make(chan error, 1)
			go func() {
				_, err := drain(it)
				done <- err
			}()
			var wg sync.WaitGroup
			for range 3 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					Expect(m.Kill()).To(Succeed())
				}()
			}
			wg.Wait()
			Eventually(done, 10*time.Second).Should(Receive(MatchError(loader.ErrKilled)))
			expectDead(handles)
		})

		It("should abandon the pass when the context is canceled", func() {
			m := newMulti(&loader.Opts{Dataset: dsEndless, Workers: 2})
			ctx, cancel := context.WithCancel(context.Background())
			it, err := m.Iter(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = it.Next()
			Expect(err).NotTo(HaveOccurred())
			handles := m.Handles()

			cancel()
			_, err = drain(it)
			Expect(err).To(MatchError(context.Canceled))
			expectDead(handles)
		})

		It("should kill workers of a discarded loader", func() {
			opts := &loader.Opts{Dataset: dsEndless, Workers: 2, SocketDir: GinkgoT().TempDir(), Prefix: "gc"}
			handles := startAndDiscard(opts)
			Expect(handles).To(HaveLen(2))
			Eventually(func() bool {
				runtime.GC()
				for _, h := range handles {
					if h.Alive() {
						return false
					}
				}
				return true
			}, 20*time.Second, 100*time.Millisecond).Should(BeTrue())
		})
	})

	Describe("re-entrancy", func() {
		It("should reject a second iteration while the first is open", func() {
			m := newMulti(rangeOpts(2, &dataset.RangeParams{Size: 50}))
			it, err := m.Iter(context.Background())
			Expect(err).NotTo(HaveOccurred())
			_, err = m.Iter(context.Background())
			Expect(err).To(MatchError(loader.ErrBusy))

			Expect(it.Close()).To(Succeed())
			Expect(it.Close()).To(Succeed())
			samples, err := drain(must(m.Iter(context.Background())))
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(HaveLen(50))
		})

		It("should keep workers of an abandoned pass when told not to kill", func() {
			m := newMulti(&loader.Opts{Dataset: dsEndless, Workers: 2, NoKill: true})
			it, err := m.Iter(context.Background())
			Expect(err).NotTo(HaveOccurred())
			_, err = it.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(it.Close()).To(Succeed())

			handles := m.Handles()
			Expect(handles).To(HaveLen(2))
			for _, h := range handles {
				Expect(h.Alive()).To(BeTrue())
			}
			_, err = m.Iter(context.Background())
			Expect(err).To(MatchError(loader.ErrBusy))

			Expect(m.Kill()).To(Succeed())
			expectDead(handles)
		})
	})

	Describe("collaborators", func() {
		It("should register and unregister workers with the tracker", func() {
			reg, err := pidreg.Open("")
			Expect(err).NotTo(HaveOccurred())
			defer reg.Close()

			opts := rangeOpts(3, &dataset.RangeParams{Size: 6})
			opts.Tracker = reg
			m := newMulti(opts)
			it, err := m.Iter(context.Background())
			Expect(err).NotTo(HaveOccurred())

			entries, err := reg.List(m.ID())
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(3))
			for i, e := range entries {
				Expect(e.Index).To(Equal(i))
				Expect(e.Pid).To(Equal(m.Handles()[i].Pid()))
				Expect(e.Loader).To(Equal(m.ID()))
			}

			_, err = drain(it)
			Expect(err).NotTo(HaveOccurred())
			entries, err = reg.List(m.ID())
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})

		It("should export metrics", func() {
			promReg := prometheus.NewRegistry()
			opts := rangeOpts(2, &dataset.RangeParams{Size: 8})
			opts.Stats = promReg
			m := newMulti(opts)
			_, err := drain(must(m.Iter(context.Background())))
			Expect(err).NotTo(HaveOccurred())

			Expect(testutil.ToFloat64(m.Stats().Collector(stats.Samples))).To(BeEquivalentTo(8))
			n, err := testutil.GatherAndCount(promReg, "wds_rx_frames_total")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			// 8 samples + 2 end-of-stream frames
			metrics, err := promReg.Gather()
			Expect(err).NotTo(HaveOccurred())
			for _, mf := range metrics {
				if mf.GetName() == "wds_rx_frames_total" {
					Expect(mf.GetMetric()[0].GetCounter().GetValue()).To(BeEquivalentTo(10))
				}
			}

			Expect(m.Kill()).To(Succeed())
			n, err = testutil.GatherAndCount(promReg)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})
})

func must(it *loader.Iter, err error) *loader.Iter {
	Expect(err).NotTo(HaveOccurred())
	return it
}

// start a pass, read one sample, and drop all references to the loader
//
//go:noinline
func startAndDiscard(opts *loader.Opts) []*loader.Handle {
	m, err := loader.NewMulti(opts)
	Expect(err).NotTo(HaveOccurred())
	it, err := m.Iter(context.Background())
	Expect(err).NotTo(HaveOccurred())
	_, err = it.Next()
	Expect(err).NotTo(HaveOccurred())
	return m.Handles()
}
