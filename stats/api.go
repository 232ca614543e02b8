// Package stats tracks loader and transport metrics and exports them to Prometheus.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"sort"
	"strings"
	ratomic "sync/atomic"

	"github.com/NVIDIA/wdsloader/cmn/debug"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wds"

// loader metrics
const (
	Samples     = "samples.n"         // samples delivered to the consumer
	SampleSize  = "samples.size"      // total frame bytes of those samples
	Passes      = "passes.n"          // completed iteration passes
	Spawned     = "workers.spawned.n" // reader processes started
	Finished    = "workers.finished.n"
	Died        = "workers.died.n"   // aborted or exited without end-of-stream
	Killed      = "workers.killed.n" // terminated by teardown
	ProtoErrors = "proto.err.n"      // malformed frames and protocol violations
)

var loaderMetrics = []string{Samples, SampleSize, Passes, Spawned, Finished, Died, Killed, ProtoErrors}

type (
	// Loader: per-instance counters, each backed by a local atomic value
	// (for logs and tests) and a Prometheus counter labeled with the loader ID.
	Loader struct {
		reg     prometheus.Registerer
		tracker map[string]*statsValue // read-only after construction
		extra   []prometheus.Collector // transport stats
		id      string
	}
	statsValue struct {
		prom  prometheus.Counter
		Value int64
	}
)

// NewLoader registers with reg unless nil.
func NewLoader(id string, reg prometheus.Registerer) (*Loader, error) {
	l := &Loader{id: id, reg: reg, tracker: make(map[string]*statsValue, len(loaderMetrics))}
	for _, name := range loaderMetrics {
		v := &statsValue{}
		v.prom = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        promName(name),
			Help:        promHelp(name),
			ConstLabels: prometheus.Labels{"loader": id},
		})
		l.tracker[name] = v
	}
	if reg == nil {
		return l, nil
	}
	for _, name := range loaderMetrics {
		if err := reg.Register(l.tracker[name].prom); err != nil {
			l.Unregister()
			return nil, err
		}
	}
	return l, nil
}

// "workers.spawned.n" => "workers_spawned_total", "samples.size" => "samples_size_bytes"
func promName(name string) string {
	label := strings.ReplaceAll(name, ".", "_")
	switch {
	case strings.HasSuffix(label, "_n"):
		label = strings.TrimSuffix(label, "_n") + "_total"
	case strings.HasSuffix(label, "_size"):
		label += "_bytes"
	}
	return label
}

func promHelp(name string) string {
	switch {
	case strings.HasSuffix(name, ".n"):
		return "total number of " + strings.TrimSuffix(name, ".n")
	case strings.HasSuffix(name, ".size"):
		return "total size (bytes)"
	default:
		return name
	}
}

func (l *Loader) ID() string { return l.id }

func (l *Loader) Inc(name string) { l.Add(name, 1) }

func (l *Loader) Add(name string, val int64) {
	v, ok := l.tracker[name]
	debug.Assert(ok, name)
	ratomic.AddInt64(&v.Value, val)
	v.prom.Add(float64(val))
}

func (l *Loader) Get(name string) int64 {
	v, ok := l.tracker[name]
	debug.Assert(ok, name)
	return ratomic.LoadInt64(&v.Value)
}

// Collector returns the Prometheus counter of a given metric.
func (l *Loader) Collector(name string) prometheus.Collector { return l.tracker[name].prom }

// Snapshot returns current values, sorted by name when listed via Names.
func (l *Loader) Snapshot() map[string]int64 {
	snap := make(map[string]int64, len(l.tracker))
	for name, v := range l.tracker {
		snap[name] = ratomic.LoadInt64(&v.Value)
	}
	return snap
}

func Names() []string {
	names := make([]string, len(loaderMetrics))
	copy(names, loaderMetrics)
	sort.Strings(names)
	return names
}

// Unregister removes all of this loader's collectors (no-op when not registered).
func (l *Loader) Unregister() {
	if l.reg == nil {
		return
	}
	for _, v := range l.tracker {
		l.reg.Unregister(v.prom)
	}
	for _, c := range l.extra {
		l.reg.Unregister(c)
	}
	l.extra = nil
}
