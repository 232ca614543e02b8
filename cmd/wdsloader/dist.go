// Package main is the wdsloader command-line tool: it counts samples of a
// dataset through the multi-process loader, bridges samples between processes,
// and inspects worker registries.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/dataset"
	"github.com/NVIDIA/wdsloader/loader"
	"github.com/NVIDIA/wdsloader/wire"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
)

func distOpts() *loader.DistOpts {
	return &loader.DistOpts{
		Codec: wire.NewCodec(&wire.Opts{
			Compression:  config.Transport.Compression,
			MaxFrameSize: config.Transport.MaxFrameSize,
		}),
		RecvQueue:    config.Transport.RecvQueue,
		WriteTimeout: config.Transport.WriteTimeout.D(),
		Verbose:      config.Loader.Verbose,
	}
}

func recvHandler(c *cli.Context) error {
	addr, err := requiredFlag(c, addrFlag)
	if err != nil {
		return err
	}
	opts := distOpts()
	if metricsAddr := c.String(cleanFlag(metricsFlag)); metricsAddr != "" {
		reg := prometheus.NewRegistry()
		stop, err := serveMetrics(metricsAddr, reg)
		if err != nil {
			return err
		}
		defer stop()
		opts.Stats = reg
	}
	dl, err := loader.NewDistLoader(addr, opts)
	if err != nil {
		return err
	}
	defer dl.Close()
	fmt.Fprintln(c.App.Writer, "receiving at", dl.Addr())

	ctx, cancel := signalContext()
	defer cancel()
	if timeout := c.Duration(cleanFlag(timeoutFlag)); timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var (
		limit  = c.Int(cleanFlag(limitFlag))
		asJSON = c.Bool(cleanFlag(jsonFlag))
		n      int
	)
	for sample, err := range dl.All(ctx) {
		if err != nil {
			if wire.IsErrProtocol(err) {
				nlog.Warningln(dl.String(), err)
				continue
			}
			if ctx.Err() == nil {
				return err
			}
			break
		}
		n++
		if err := printSample(c.App.Writer, sample, asJSON); err != nil {
			return err
		}
		if limit > 0 && n >= limit {
			break
		}
	}
	fmt.Fprintf(c.App.Writer, "received %d sample%s\n", n, cos.Plural(n))
	return nil
}

func sendHandler(c *cli.Context) error {
	addr, err := requiredFlag(c, addrFlag)
	if err != nil {
		return err
	}
	name, params, err := datasetParams(c)
	if err != nil {
		return err
	}
	ds, err := dataset.New(name, params)
	if err != nil {
		return err
	}
	it, err := ds.Iter(dataset.Shard{Index: 0, Count: 1})
	if err != nil {
		return err
	}
	defer it.Close()

	ctx, cancel := signalContext()
	defer cancel()
	dctx, dcancel := context.WithTimeout(ctx, config.Transport.DialTimeout.D())
	sender, err := loader.NewDistSender(dctx, addr, distOpts())
	dcancel()
	if err != nil {
		return err
	}
	defer sender.Close()

	limit := c.Int(cleanFlag(limitFlag))
	var n int
	for ctx.Err() == nil && (limit == 0 || n < limit) {
		sample, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := sender.Send(sample); err != nil {
			return err
		}
		n++
	}
	st := sender.Stats()
	fmt.Fprintf(c.App.Writer, "sent %d sample%s (%s)\n", n, cos.Plural(n), cos.ToSizeIEC(st.Size.Load(), 1))
	return nil
}

func printSample(w io.Writer, sample wire.Sample, asJSON bool) error {
	if asJSON {
		b, err := cos.JSON.Marshal(summarize(sample))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	fields := make([]string, 0, len(sample))
	for k := range sample {
		if !strings.HasPrefix(k, "__") {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	_, err := fmt.Fprintf(w, "%s\t%s\n", sample.Key(), strings.Join(fields, ","))
	return err
}

// binary fields and tensors are shown by size and shape
func summarize(sample wire.Sample) map[string]any {
	out := make(map[string]any, len(sample))
	for k, v := range sample {
		switch v := v.(type) {
		case []byte:
			out[k] = fmt.Sprintf("<%s>", cos.ToSizeIEC(int64(len(v)), 0))
		case *wire.Tensor:
			out[k] = v.String()
		default:
			out[k] = v
		}
	}
	return out
}
