// Package dataset provides sharded, restartable sample sources for reader processes.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package dataset

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/wire"
)

// Default field decoding by the last extension:
//   - txt, text:  string
//   - cls, cls2:  int64
//   - json:       any (objects => map[string]any, numbers => float64)
//   - mp, msgpack: any (see wire.ReadValue)
//   - anything else stays []byte
//
// A trailing ".gz" is decompressed first, e.g. "txt.gz" => string.

func decodeField(ext string, data []byte) (any, error) {
	last := cos.LastExt(ext)
	if last == "gz" {
		raw, err := gunzip(data)
		if err != nil {
			return nil, err
		}
		data = raw
		if ext == "gz" {
			return data, nil
		}
		ext = strings.TrimSuffix(ext, ".gz")
		last = cos.LastExt(ext)
	}
	switch last {
	case "txt", "text":
		return string(data), nil
	case "cls", "cls2":
		return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	case "json":
		var v any
		if err := cos.JSON.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "mp", "msgpack":
		v, rest, err := wire.ReadValue(data)
		if err != nil {
			return nil, err
		}
		if len(rest) > 0 {
			return nil, fmt.Errorf("%d trailing bytes after msgpack value", len(rest))
		}
		return v, nil
	default:
		return data, nil
	}
}

func gunzip(data []byte) ([]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(gzr)
	if erc := gzr.Close(); err == nil {
		err = erc
	}
	return raw, err
}
