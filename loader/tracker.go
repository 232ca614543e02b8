// Package loader implements the multi-process fan-in loader (Multi) that spawns
// reader processes and merges their samples, and the point-to-point
// DistSender/DistLoader pair for producers outside the worker pool.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package loader

import (
	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/pidreg"
)

// optional pidreg.Tracker; registry failures are logged, never fatal to the pass
type trackerOrNil struct {
	t pidreg.Tracker
}

func (tr trackerOrNil) register(e *pidreg.Entry) {
	if tr.t == nil {
		return
	}
	if err := tr.t.Register(e); err != nil {
		nlog.Warningf("failed to register %s: %v", e, err)
	}
}

func (tr trackerOrNil) unregister(loader string, index int) {
	if tr.t == nil {
		return
	}
	if err := tr.t.Unregister(loader, index); err != nil && !pidreg.IsErrNotFound(err) {
		nlog.Warningf("failed to unregister %s[%d]: %v", loader, index, err)
	}
}
