// Package main is the wdsloader command-line tool: it counts samples of a
// dataset through the multi-process loader, bridges samples between processes,
// and inspects worker registries.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"

	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/worker"
)

var (
	build   string
	version string
)

func main() {
	// re-executed as a reader process?
	worker.MaybeRun()

	app := newApp(build, version)
	err := app.Run(os.Args)
	nlog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
