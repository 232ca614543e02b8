// Package cmn provides common low-level types and utilities for all wdsloader packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/NVIDIA/wdsloader/cmn/mono"

	"github.com/teris-io/shortid"
)

// NOTE: BEWARE: `shortid` uses hardcoded 01/2016 as a starting timestamp

const (
	// Alphabet for generating UUIDs similar to the shortid.DEFAULT_ABC
	uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"
)

var (
	sids     [4]*shortid.Shortid
	sidsOnce sync.Once
)

func initShortid() {
	seed := uint64(mono.NanoTime()) ^ rand.Uint64()
	for i := range sids {
		sids[i] = shortid.MustNew(uint8(i+1) /*worker*/, uuidABC, seed)
	}
}

// GenUUID generates unique and user-friendly IDs: loader IDs, socket names
func GenUUID() (uuid string) {
	sidsOnce.Do(initShortid)
	var err error
	for _, sid := range sids {
		uuid, err = sid.Generate()
		if err == nil && isAlnum(uuid[0]) && isAlnum(uuid[len(uuid)-1]) {
			return
		}
	}
	return strconv.FormatUint(rand.Uint64(), 36)
}

func isAlnum(c byte) bool { return c != '-' && c != '_' }
