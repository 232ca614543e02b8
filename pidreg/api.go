// Package pidreg keeps an explicit, queryable record of spawned reader processes.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pidreg

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Keys are "<collection>##<loader-id>:<worker-index>"; the collection is a
// pure key prefix (buntdb has no tables). Values are JSON-encoded Entry.

const (
	collection     = "pids"
	collectionSepa = "##"
	indexWidth     = 6 // zero-padded, for ordered iteration
)

// worker states
const (
	StateRunning = "running"
	StateExited  = "exited"
	StateKilled  = "killed"
)

type (
	Entry struct {
		Started time.Time `json:"started"`
		Loader  string    `json:"loader"` // loader instance ID
		State   string    `json:"state"`
		Index   int       `json:"index"`
		Pid     int       `json:"pid"`
	}

	// Tracker is an optional MultiLoader collaborator: every spawned worker
	// is registered and, once reaped, unregistered.
	Tracker interface {
		Register(e *Entry) error
		Unregister(loader string, index int) error
	}

	ErrNotFound struct {
		loader string
		index  int
	}
)

func (e *Entry) String() string {
	return fmt.Sprintf("%s[%d]: pid %d, %s (since %s)", e.Loader, e.Index, e.Pid, e.State, e.Started.Format(time.TimeOnly))
}

func makeKey(loader string, index int) string {
	idx := strconv.Itoa(index)
	if pad := indexWidth - len(idx); pad > 0 {
		idx = strings.Repeat("0", pad) + idx
	}
	return collection + collectionSepa + loader + ":" + idx
}

func makePattern(loader string) string {
	if loader == "" {
		return collection + collectionSepa + "*"
	}
	return collection + collectionSepa + loader + ":*"
}

func NewErrNotFound(loader string, index int) *ErrNotFound {
	return &ErrNotFound{loader: loader, index: index}
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("worker %s[%d] not found", e.loader, e.index)
}

func IsErrNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
