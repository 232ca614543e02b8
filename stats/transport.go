// Package stats tracks loader and transport metrics and exports them to Prometheus.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"github.com/NVIDIA/wdsloader/transport"

	"github.com/prometheus/client_golang/prometheus"
)

// AddTransport exports transport stats (frames, bytes, connections, errors)
// as Prometheus counters prefixed with dir, e.g. "rx" or "tx".
// Values are read from the transport at scrape time.
func (l *Loader) AddTransport(dir string, ts *transport.Stats) error {
	if l.reg == nil {
		return nil
	}
	metrics := []struct {
		name string
		help string
		get  func() int64
	}{
		{"frames_total", "total number of transport frames", ts.Frames.Load},
		{"size_bytes", "total size of transport frames (bytes)", ts.Size.Load},
		{"conns_total", "total number of transport connections", ts.Conns.Load},
		{"errors_total", "total number of dropped transport connections", ts.Errs.Load},
	}
	for _, m := range metrics {
		get := m.get
		c := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   dir,
			Name:        m.name,
			Help:        m.help,
			ConstLabels: prometheus.Labels{"loader": l.id},
		}, func() float64 { return float64(get()) })
		if err := l.reg.Register(c); err != nil {
			return err
		}
		l.extra = append(l.extra, c)
	}
	return nil
}
