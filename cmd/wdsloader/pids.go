// Package main is the wdsloader command-line tool: it counts samples of a
// dataset through the multi-process loader, bridges samples between processes,
// and inspects worker registries.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/pidreg"

	"github.com/urfave/cli"
)

func pidsHandler(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = config.Loader.Registry
	}
	if path == "" {
		return errors.New("missing registry file (argument or loader.registry in config)")
	}
	reg, err := pidreg.Open(path)
	if err != nil {
		return err
	}
	defer reg.Close()

	if c.Bool(cleanFlag(pruneFlag)) {
		pruned, err := reg.Prune()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "pruned %d stale entr%s\n", len(pruned), pluralY(len(pruned)))
	}

	var entries []*pidreg.Entry
	if id := c.String(cleanFlag(loaderFlag)); id != "" {
		entries, err = reg.List(id)
	} else {
		entries, err = reg.All()
	}
	if err != nil {
		return err
	}
	if c.Bool(cleanFlag(jsonFlag)) {
		b, err := cos.JSON.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(b))
		return nil
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "LOADER\tINDEX\tPID\tSTATE\tSTARTED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", e.Loader, e.Index, e.Pid, e.State, e.Started.Format(time.DateTime))
	}
	return tw.Flush()
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
