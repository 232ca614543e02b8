// Package pidreg keeps an explicit, queryable record of spawned reader processes.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pidreg

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/NVIDIA/wdsloader/cmn/cos"

	"github.com/tidwall/buntdb"
	"golang.org/x/sys/unix"
)

const InMemory = ":memory:"

// Registry is a Tracker on top of buntdb: in-memory or file-backed
// (the latter can be inspected by other processes, e.g. `wdsloader pids`).
type Registry struct {
	db   *buntdb.DB
	path string
}

// interface guard
var _ Tracker = (*Registry)(nil)

// Open opens (or creates) the registry at path; InMemory for a private one.
func Open(path string) (*Registry, error) {
	if path == "" {
		path = InMemory
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open worker registry %q: %w", path, err)
	}
	return &Registry{db: db, path: path}, nil
}

func (r *Registry) String() string { return "pidreg[" + r.path + "]" }

func (r *Registry) Close() error { return r.db.Close() }

// Register inserts or updates the entry.
func (r *Registry) Register(e *Entry) error {
	if e.Loader == "" || strings.ContainsAny(e.Loader, ":*?") {
		return fmt.Errorf("%s: invalid loader ID %q", r, e.Loader)
	}
	b, err := cos.JSON.Marshal(e)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(makeKey(e.Loader, e.Index), string(b), nil)
		return err
	})
}

func (r *Registry) Unregister(loader string, index int) error {
	return r.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(makeKey(loader, index))
		if errors.Is(err, buntdb.ErrNotFound) {
			return NewErrNotFound(loader, index)
		}
		return err
	})
}

func (r *Registry) Get(loader string, index int) (*Entry, error) {
	var e *Entry
	err := r.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(makeKey(loader, index))
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return NewErrNotFound(loader, index)
			}
			return err
		}
		e = &Entry{}
		return cos.JSON.UnmarshalFromString(val, e)
	})
	return e, err
}

// List returns the entries of a given loader, ordered by worker index.
func (r *Registry) List(loader string) ([]*Entry, error) {
	if loader == "" {
		return nil, errors.New("empty loader ID")
	}
	return r.list(makePattern(loader))
}

// All returns all entries ordered by (loader, index).
func (r *Registry) All() ([]*Entry, error) { return r.list(makePattern("")) }

func (r *Registry) list(pattern string) (entries []*Entry, err error) {
	err = r.db.View(func(tx *buntdb.Tx) error {
		var errIter error
		tx.AscendKeys(pattern, func(key, val string) bool {
			e := &Entry{}
			if errIter = cos.JSON.UnmarshalFromString(val, e); errIter != nil {
				errIter = fmt.Errorf("%s: invalid entry %q: %w", r, key, errIter)
				return false
			}
			entries = append(entries, e)
			return true
		})
		return errIter
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(entries, func(a, b *Entry) int {
		if c := strings.Compare(a.Loader, b.Loader); c != 0 {
			return c
		}
		return a.Index - b.Index
	})
	return entries, nil
}

// Prune removes entries whose processes no longer exist (e.g., left behind
// by a loader that was SIGKILL-ed) and returns them.
func (r *Registry) Prune() ([]*Entry, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	var gone []*Entry
	for _, e := range all {
		if alive(e.Pid) {
			continue
		}
		if err := r.Unregister(e.Loader, e.Index); err != nil && !IsErrNotFound(err) {
			return gone, err
		}
		gone = append(gone, e)
	}
	return gone, nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
