// Package main is the wdsloader command-line tool: it counts samples of a
// dataset through the multi-process loader, bridges samples between processes,
// and inspects worker registries.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"io"
	"time"

	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/cmn/mono"
	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/loader"
	"github.com/NVIDIA/wdsloader/pidreg"
	"github.com/NVIDIA/wdsloader/stats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
)

func countHandler(c *cli.Context) error {
	name, params, err := datasetParams(c)
	if err != nil {
		return err
	}
	opts := loader.NewOpts(config)
	opts.Dataset, opts.Params = name, params
	if n := c.Int(cleanFlag(workersFlag)); n > 0 {
		opts.Workers = n
	}
	if c.Bool(cleanFlag(noKillFlag)) {
		opts.NoKill = true
	}

	metricsAddr := c.String(cleanFlag(metricsFlag))
	if metricsAddr == "" {
		metricsAddr = config.Stats.MetricsAddr
	}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		stop, err := serveMetrics(metricsAddr, reg)
		if err != nil {
			return err
		}
		defer stop()
		opts.Stats = reg
	}

	regPath := c.String(cleanFlag(pidregFlag))
	if regPath == "" {
		regPath = config.Loader.Registry
	}
	if regPath != "" {
		reg, err := pidreg.Open(regPath)
		if err != nil {
			return err
		}
		defer reg.Close()
		opts.Tracker = reg
	}

	m, err := loader.NewMulti(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Kill(); err != nil {
			nlog.Errorln(m.String(), err)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	passes := max(c.Int(cleanFlag(passesFlag)), 1)
	for pass := 1; pass <= passes; pass++ {
		it, err := m.Iter(ctx)
		if err != nil {
			return err
		}
		var (
			started = mono.NanoTime()
			n       int64
		)
		for {
			_, err = it.Next()
			if err != nil {
				break
			}
			n++
		}
		it.Close()
		elapsed := mono.Since(started)
		if err != io.EOF {
			return fmt.Errorf("pass %d: %w (after %d sample%s)", pass, err, n, cos.Plural(int(n)))
		}
		fmt.Fprintf(c.App.Writer, "pass %d: %d sample%s in %v (%.1f samples/s)\n",
			pass, n, cos.Plural(int(n)), elapsed.Round(time.Millisecond), float64(n)/max(elapsed.Seconds(), 1e-9))
	}
	if config.Loader.Verbose {
		snap := m.Stats().Snapshot()
		for _, name := range stats.Names() {
			fmt.Fprintf(c.App.Writer, "  %-20s %d\n", name, snap[name])
		}
	}
	return nil
}
