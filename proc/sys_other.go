//go:build !linux

// Package proc spawns and terminates reader processes.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package proc

import "syscall"

// no parent-death signal outside linux: orphans are reaped by Kill or by the cleanup hook
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
