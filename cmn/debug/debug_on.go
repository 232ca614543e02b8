//go:build debug

// Package debug provides debug utilities
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

func _panic(a ...any) {
	msg := "DEBUG PANIC: "
	if len(a) > 0 {
		msg += fmt.Sprint(a...) + ": "
	}
	var (
		sb  strings.Builder
		pcs [16]uintptr
		n   = runtime.Callers(3, pcs[:])
	)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "[%s:%d]", frame.File, frame.Line)
		if !more {
			break
		}
	}
	panic(msg + sb.String())
}

func Assert(cond bool, a ...any) {
	if !cond {
		_panic(a...)
	}
}

func Assertf(cond bool, f string, a ...any) {
	if !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}

func AssertMutexLocked(m *sync.Mutex) {
	if m.TryLock() {
		m.Unlock()
		_panic("mutex not locked")
	}
}
