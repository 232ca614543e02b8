// Package dataset provides sharded, restartable sample sources for reader processes.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/cmn/nlog"
	"github.com/NVIDIA/wdsloader/wire"

	"github.com/karrick/godirwalk"
	pkgerrors "github.com/pkg/errors"
)

// WebDataset shards: each archive holds samples as consecutive files sharing
// a key, e.g. "000017.jpg", "000017.cls", "000017.json" => one sample with
// fields "jpg", "cls", "json", plus "__key__" and "__url__".

const TarName = "tar"

const fileScheme = "file://"

type (
	TarParams struct {
		Dir     string   `json:"dir,omitempty"`     // discover shards under dir (recursively)
		Pattern string   `json:"pattern,omitempty"` // basename glob; default: any supported shard extension
		URLs    []string `json:"urls,omitempty"`    // explicit shard list (paths or file:// URLs)
		Decode  bool     `json:"decode,omitempty"`  // decode fields by extension (see decodeField)
	}
	Tar struct {
		params TarParams
		shards []string
	}
	tarIter struct {
		ds      *Tar
		ar      archReader
		fh      *os.File
		pending *entry // first entry of the next sample
		url     string
		urls    []string
		pos     int
	}
	entry struct {
		key  string
		ext  string
		data []byte
	}
)

// interface guard
var (
	_ Dataset  = (*Tar)(nil)
	_ Iterator = (*tarIter)(nil)
)

func newTar(params []byte) (Dataset, error) {
	var p TarParams
	if err := cos.JSON.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid tar params: %w", err)
	}
	return NewTar(&p)
}

func NewTar(p *TarParams) (*Tar, error) {
	var (
		shards []string
		err    error
	)
	switch {
	case len(p.URLs) > 0 && p.Dir != "":
		return nil, errors.New("urls and dir are mutually exclusive")
	case len(p.URLs) > 0:
		shards = make([]string, len(p.URLs))
		for i, u := range p.URLs {
			shards[i] = strings.TrimPrefix(u, fileScheme)
		}
	case p.Dir != "":
		if shards, err = discover(p.Dir, p.Pattern); err != nil {
			return nil, err
		}
		if len(shards) == 0 {
			return nil, fmt.Errorf("no shards found in %q (pattern %q)", p.Dir, p.Pattern)
		}
	default:
		return nil, errors.New("missing shard list (urls) or directory (dir)")
	}
	if p.Pattern != "" {
		if _, err := filepath.Match(p.Pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p.Pattern, err)
		}
	}
	return &Tar{params: *p, shards: shards}, nil
}

func discover(dir, pattern string) (shards []string, err error) {
	opts := &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			base := filepath.Base(path)
			if pattern != "" {
				if ok, _ := filepath.Match(pattern, base); !ok {
					return nil
				}
			} else if !IsShard(base) {
				return nil
			}
			shards = append(shards, path)
			return nil
		},
		FollowSymbolicLinks: true,
	}
	if err = godirwalk.Walk(dir, opts); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to walk %q", dir)
	}
	sort.Strings(shards)
	return shards, nil
}

func (t *Tar) Shards() []string { return t.shards }

// Iter assigns shard files round-robin: file i goes to worker i mod Count.
func (t *Tar) Iter(shard Shard) (Iterator, error) {
	if err := shard.Validate(); err != nil {
		return nil, err
	}
	it := &tarIter{ds: t}
	for i := shard.Index; i < len(t.shards); i += shard.Count {
		it.urls = append(it.urls, t.shards[i])
	}
	return it, nil
}

func (it *tarIter) Next() (wire.Sample, error) {
	for {
		if it.ar == nil {
			if it.pos >= len(it.urls) {
				return nil, io.EOF
			}
			if err := it.open(it.urls[it.pos]); err != nil {
				return nil, err
			}
			it.pos++
		}
		s, err := it.group()
		if err == io.EOF {
			it.closeShard()
			if s != nil {
				return s, nil
			}
			continue
		}
		return s, err
	}
}

func (it *tarIter) open(url string) error {
	fh, err := os.Open(url)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to open shard")
	}
	finfo, err := fh.Stat()
	if err != nil {
		fh.Close()
		return pkgerrors.Wrapf(err, "failed to stat shard %q", url)
	}
	ar, err := newArchReader(fh, finfo.Size())
	if err != nil {
		fh.Close()
		return pkgerrors.Wrapf(err, "failed to read shard %q", url)
	}
	it.fh, it.ar, it.url = fh, ar, url
	return nil
}

// group consecutive entries that share a key; io.EOF (with or without
// the last sample) when the current shard is done
func (it *tarIter) group() (wire.Sample, error) {
	var s wire.Sample
	for {
		e := it.pending
		it.pending = nil
		if e == nil {
			var err error
			if e, err = it.nextEntry(); err != nil {
				return s, err
			}
		}
		if s != nil && e.key != s.Key() {
			it.pending = e
			return s, nil
		}
		if s == nil {
			s = wire.Sample{"__key__": e.key, "__url__": it.url}
		}
		if _, dup := s[e.ext]; dup {
			return nil, fmt.Errorf("%s: duplicate field %q in sample %q", it.url, e.ext, e.key)
		}
		if !it.ds.params.Decode {
			s[e.ext] = e.data
			continue
		}
		v, err := decodeField(e.ext, e.data)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "%s: failed to decode %s.%s", it.url, e.key, e.ext)
		}
		s[e.ext] = v
	}
}

func (it *tarIter) nextEntry() (*entry, error) {
	for {
		name, body, err := it.ar.next()
		if err != nil {
			if err != io.EOF {
				err = pkgerrors.Wrapf(err, "%s: failed to read next entry", it.url)
			}
			return nil, err
		}
		key, ext := cos.WdsSplit(name)
		if ext == "" || key == "" || strings.HasPrefix(filepath.Base(name), "__") {
			nlog.Warningf("%s: skipping %q (not a sample file)", it.url, name)
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "%s: failed to read %q", it.url, name)
		}
		return &entry{key: key, ext: ext, data: data}, nil
	}
}

func (it *tarIter) closeShard() {
	if it.ar != nil {
		it.ar.Close()
		it.ar = nil
	}
	if it.fh != nil {
		it.fh.Close()
		it.fh = nil
	}
	it.pending = nil
}

func (it *tarIter) Close() error {
	it.closeShard()
	it.pos = len(it.urls)
	return nil
}
