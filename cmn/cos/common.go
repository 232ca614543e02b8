// Package cos provides common low-level types and utilities for all wdsloader packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"unsafe"

	jsoniter "github.com/json-iterator/go"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB

	SizeofI64 = int(unsafe.Sizeof(uint64(0)))
	SizeofI32 = int(unsafe.Sizeof(uint32(0)))
	SizeofI16 = int(unsafe.Sizeof(uint16(0)))

	MLCG32 = 1103515245 // xxhash seed
)

// JSON is used to marshal/unmarshal configuration, worker arguments, and dataset params
var JSON = jsoniter.Config{
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
	SortMapKeys:            true,
	UseNumber:              false,
}.Froze()

func Plural(num int) (s string) {
	if num != 1 {
		s = "s"
	}
	return
}
