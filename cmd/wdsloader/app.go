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
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/dataset"

	"github.com/urfave/cli"
	"golang.org/x/sys/unix"
)

const appName = "wdsloader"

// loaded by app.Before
var config *cmn.Config

var (
	// global
	configFlag  = cli.StringFlag{Name: "config,c", Usage: "configuration file (.json, .yaml, or .yml)"}
	verboseFlag = cli.BoolFlag{Name: "verbose,v", Usage: "verbose logging", EnvVar: cmn.EnvVerbose}
	logDirFlag  = cli.StringFlag{Name: "logdir", Usage: "log directory (default: log to stderr)"}

	// dataset
	datasetFlag    = cli.StringFlag{Name: "dataset,d", Usage: "dataset: 'range' or 'tar'", Value: dataset.RangeName}
	sizeFlag       = cli.IntFlag{Name: "size", Usage: "(range) total number of samples"}
	shardSizesFlag = cli.StringFlag{Name: "shard-sizes", Usage: "(range) comma-separated per-worker sizes, e.g. '2,0,5'"}
	payloadFlag    = cli.IntFlag{Name: "payload", Usage: "(range) size of each sample's data field, in bytes"}
	dirFlag        = cli.StringFlag{Name: "dir", Usage: "(tar) directory to discover shards in"}
	patternFlag    = cli.StringFlag{Name: "pattern", Usage: "(tar) shard basename glob, e.g. 'train-*.tar'"}
	urlsFlag       = cli.StringSliceFlag{Name: "url", Usage: "(tar) shard path or file:// URL (repeatable)"}
	decodeFlag     = cli.BoolFlag{Name: "decode", Usage: "(tar) decode fields by extension"}

	// loader
	workersFlag = cli.IntFlag{Name: "workers,w", Usage: "number of reader processes (default: from config)"}
	passesFlag  = cli.IntFlag{Name: "passes", Usage: "number of passes over the dataset", Value: 1}
	metricsFlag = cli.StringFlag{Name: "metrics", Usage: "serve Prometheus metrics at this address, e.g. ':9100'"}
	pidregFlag  = cli.StringFlag{Name: "pidreg", Usage: "worker registry database file"}
	noKillFlag  = cli.BoolFlag{Name: "nokill", Usage: "leave workers of an interrupted pass running"}

	// dist
	addrFlag    = cli.StringFlag{Name: "addr,a", Usage: "socket address: ipc://path, unix://path, tcp://host:port, or ws://host:port/path"}
	timeoutFlag = cli.DurationFlag{Name: "timeout", Usage: "stop receiving after this long (default: until interrupted)"}
	limitFlag   = cli.IntFlag{Name: "limit", Usage: "stop after this many samples (0: no limit)"}
	jsonFlag    = cli.BoolFlag{Name: "json,j", Usage: "print samples as JSON (binary fields show sizes)"}

	// pids
	pruneFlag  = cli.BoolFlag{Name: "prune", Usage: "remove entries of processes that are no longer alive"}
	loaderFlag = cli.StringFlag{Name: "loader", Usage: "only show workers of this loader ID"}

	datasetFlags = []cli.Flag{datasetFlag, sizeFlag, shardSizesFlag, payloadFlag, dirFlag, patternFlag, urlsFlag, decodeFlag}
)

func newApp(build, version string) *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = "multi-process WebDataset sample loader"
	app.Version = fmt.Sprintf("%s (build %s)", version, build)
	app.Flags = []cli.Flag{configFlag, verboseFlag, logDirFlag}
	app.Before = initConfig
	app.Commands = []cli.Command{
		{
			Name:   "count",
			Usage:  "iterate a dataset with reader processes and report the number of samples and rate",
			Flags:  append([]cli.Flag{workersFlag, passesFlag, metricsFlag, pidregFlag, noKillFlag}, datasetFlags...),
			Action: countHandler,
		},
		{
			Name:   "recv",
			Usage:  "bind an address and print samples pushed by 'send' or any other sender",
			Flags:  []cli.Flag{addrFlag, timeoutFlag, limitFlag, jsonFlag, metricsFlag},
			Action: recvHandler,
		},
		{
			Name:   "send",
			Usage:  "read a dataset in this process and push its samples to a receiver",
			Flags:  append([]cli.Flag{addrFlag, limitFlag}, datasetFlags...),
			Action: sendHandler,
		},
		{
			Name:      "pids",
			Usage:     "list worker processes recorded in a registry",
			ArgsUsage: "[REGISTRY_FILE]",
			Flags:     []cli.Flag{loaderFlag, pruneFlag, jsonFlag},
			Action:    pidsHandler,
		},
	}
	return app
}

func initConfig(c *cli.Context) (err error) {
	if config, err = cmn.LoadConfig(c.String(cleanFlag(configFlag))); err != nil {
		return err
	}
	if c.Bool(cleanFlag(verboseFlag)) {
		config.Loader.Verbose = true
	}
	if dir := c.String(cleanFlag(logDirFlag)); dir != "" {
		config.Log.Dir = dir
	}
	nlog.SetLogDirRole(config.Log.Dir, appName)
	nlog.SetToStderr(config.Log.ToStderr)
	return nil
}

// "verbose,v" => "verbose"
func cleanFlag(flag cli.Flag) string { return strings.Split(flag.GetName(), ",")[0] }

// interrupt or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
}

func datasetParams(c *cli.Context) (name string, params []byte, err error) {
	switch name = c.String(cleanFlag(datasetFlag)); name {
	case dataset.RangeName:
		p := &dataset.RangeParams{Size: c.Int(cleanFlag(sizeFlag)), PayloadSize: c.Int(cleanFlag(payloadFlag))}
		if s := c.String(cleanFlag(shardSizesFlag)); s != "" {
			if p.ShardSizes, err = parseInts(s); err != nil {
				return "", nil, fmt.Errorf("invalid --%s: %v", cleanFlag(shardSizesFlag), err)
			}
		}
		params, err = cos.JSON.Marshal(p)
	case dataset.TarName:
		p := &dataset.TarParams{
			Dir:     c.String(cleanFlag(dirFlag)),
			Pattern: c.String(cleanFlag(patternFlag)),
			URLs:    c.StringSlice(cleanFlag(urlsFlag)),
			Decode:  c.Bool(cleanFlag(decodeFlag)),
		}
		if p.Dir == "" && len(p.URLs) == 0 {
			return "", nil, errors.New("tar dataset requires --dir or --url")
		}
		params, err = cos.JSON.Marshal(p)
	default:
		return "", nil, fmt.Errorf("unknown dataset %q (expecting %q or %q)", name, dataset.RangeName, dataset.TarName)
	}
	return name, params, err
}

func parseInts(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func requiredFlag(c *cli.Context, flag cli.Flag) (string, error) {
	v := c.String(cleanFlag(flag))
	if v == "" {
		return "", fmt.Errorf("missing required flag --%s", cleanFlag(flag))
	}
	return v, nil
}
