// Package proc spawns and terminates reader processes.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package proc

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// own process group (terminal signals are not forwarded) + parent-death signal
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: unix.SIGKILL}
}
