// Package loader implements the multi-process fan-in loader (Multi) that spawns
// reader processes and merges their samples, and the point-to-point
// DistSender/DistLoader pair for producers outside the worker pool.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package loader

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/wdsloader/pidreg"
	"github.com/NVIDIA/wdsloader/proc"
)

// Handle is the parent's record of one spawned worker.
type Handle struct {
	proc     *proc.Proc
	started  time.Time
	index    int
	finished atomic.Bool // end-of-stream received
	suspect  bool        // seen exited without end-of-stream (iterating goroutine only)
}

func (h *Handle) Index() int     { return h.index }
func (h *Handle) Pid() int       { return h.proc.Pid() }
func (h *Handle) Finished() bool { return h.finished.Load() }
func (h *Handle) Alive() bool    { return !h.proc.Exited() }
func (h *Handle) ExitCode() int  { return h.proc.ExitCode() }

func (h *Handle) String() string {
	return fmt.Sprintf("worker[%d, pid %d]", h.index, h.proc.Pid())
}

func (h *Handle) state() string {
	switch {
	case !h.proc.Exited():
		return pidreg.StateRunning
	case h.proc.Killed():
		return pidreg.StateKilled
	default:
		return pidreg.StateExited
	}
}

func (h *Handle) entry(loader string) *pidreg.Entry {
	return &pidreg.Entry{Loader: loader, Index: h.index, Pid: h.proc.Pid(), State: h.state(), Started: h.started}
}

// exited without end-of-stream: suspected on the first check and
// confirmed on the next, giving its last frames time to drain
func (h *Handle) died() bool {
	if h.Finished() || !h.proc.Exited() {
		return false
	}
	if !h.suspect {
		h.suspect = true
		return false
	}
	return true
}
