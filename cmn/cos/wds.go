// Package cos provides common low-level types and utilities for all wdsloader packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "strings"

// WebDataset naming: a sample key is the archived pathname up to the first dot
// of its basename; everything after that dot is the extension, e.g.:
// "a/b/00042.seg.png" => ("a/b/00042", "seg.png")
// (https://github.com/webdataset/webdataset#the-webdataset-format)

// ext is empty when the basename has no dot
func WdsSplit(name string) (key, ext string) {
	base := 0
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		base = i + 1
	}
	i := strings.IndexByte(name[base:], '.')
	if i < 0 {
		return name, ""
	}
	return name[:base+i], name[base+i+1:]
}

// last component of the extension, e.g. "seg.png" => "png"
func LastExt(ext string) string {
	if i := strings.LastIndexByte(ext, '.'); i >= 0 {
		return ext[i+1:]
	}
	return ext
}
