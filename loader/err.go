// Package loader implements the multi-process fan-in loader (Multi) that spawns
// reader processes and merges their samples, and the point-to-point
// DistSender/DistLoader pair for producers outside the worker pool.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package loader

import (
	"errors"
	"fmt"

	"github.com/NVIDIA/wdsloader/transport"
)

var (
	// Iter after Kill
	ErrKilled = errors.New("loader killed")
	// Iter while a previous pass is still open or has live workers (NoKill)
	ErrBusy = errors.New("loader busy: previous iteration has not completed")
	// the transport was torn down under a receiving iterator
	ErrClosed = transport.ErrClosed

	errIterClosed = errors.New("iterator closed")
)

type (
	// ErrWorkerDied: a worker reported failure (Finished with FinAborted)
	// or exited without sending Finished. Fatal to the entire pass.
	ErrWorkerDied struct {
		Reason   string // as reported by the worker
		Index    int
		Pid      int
		ExitCode int // -1 when unknown (aborted worker may still be running)
		Aborted  bool
	}
	// ErrDuplicateFinished: second end-of-stream from the same worker.
	ErrDuplicateFinished struct {
		Index int
	}
	// ErrUnknownWorker: end-of-stream with an out-of-range worker index.
	ErrUnknownWorker struct {
		Index   int
		Workers int
	}
)

func (e *ErrWorkerDied) Error() string {
	if e.Aborted {
		return fmt.Sprintf("worker %d (pid %d) aborted: %s", e.Index, e.Pid, e.Reason)
	}
	return fmt.Sprintf("worker %d (pid %d) exited with code %d without end-of-stream", e.Index, e.Pid, e.ExitCode)
}

func IsErrWorkerDied(err error) bool {
	var e *ErrWorkerDied
	return errors.As(err, &e)
}

func (e *ErrDuplicateFinished) Error() string {
	return fmt.Sprintf("duplicate end-of-stream from worker %d", e.Index)
}

func (e *ErrUnknownWorker) Error() string {
	return fmt.Sprintf("end-of-stream from unknown worker %d (have %d)", e.Index, e.Workers)
}
