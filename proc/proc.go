// Package proc spawns and terminates reader processes.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/NVIDIA/wdsloader/cmn/nlog"

	"golang.org/x/sys/unix"
)

// after SIGKILL
const killWait = 5 * time.Second

type (
	Spec struct {
		Stdout io.Writer // nil: os.Stderr (stdout is reserved for the parent's output)
		Stderr io.Writer // nil: os.Stderr
		Path   string    // executable; empty: re-execute the running binary
		Name   string    // (logging)
		Args   []string
		Env    []string // in addition to os.Environ()
	}

	Spawner interface {
		Spawn(spec *Spec) (*Proc, error)
	}

	// Exec starts a child process in its own process group. On linux the
	// child is also SIGKILL-ed by the kernel when the parent dies.
	Exec struct{}

	Proc struct {
		cmd      *exec.Cmd
		done     chan struct{}
		err      error // wait error other than non-zero exit
		name     string
		pid      int
		exitCode int         // valid once done
		killed   atomic.Bool // Terminate called
		signaled bool
	}
)

// interface guard
var _ Spawner = (*Exec)(nil)

func (*Exec) Spawn(spec *Spec) (*Proc, error) {
	path := spec.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve own executable: %w", err)
		}
		path = exe
	}
	cmd := exec.Command(path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout, cmd.Stderr = spec.Stdout, spec.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.SysProcAttr = sysProcAttr()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s (%s): %w", spec.Name, path, err)
	}
	p := &Proc{cmd: cmd, name: spec.Name, pid: cmd.Process.Pid, exitCode: -1, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

func (p *Proc) wait() {
	err := p.cmd.Wait()
	if state := p.cmd.ProcessState; state != nil {
		p.exitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok {
			p.signaled = ws.Signaled()
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.err = err
	}
	close(p.done)
}

func (p *Proc) Pid() int              { return p.pid }
func (p *Proc) Done() <-chan struct{} { return p.done }
func (p *Proc) String() string        { return p.name + "[pid " + strconv.Itoa(p.pid) + "]" }

func (p *Proc) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns -1 while running and when terminated by a signal.
func (p *Proc) ExitCode() int {
	if !p.Exited() {
		return -1
	}
	return p.exitCode
}

// Signaled: exited because of a signal (valid once exited)
func (p *Proc) Signaled() bool { return p.Exited() && p.signaled }

// Err: reaping failure (I/O copying and such), if any
func (p *Proc) Err() error {
	if !p.Exited() {
		return nil
	}
	return p.err
}

// Wait returns true if the process exited within the timeout.
func (p *Proc) Wait(timeout time.Duration) bool {
	if p.Exited() {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// Terminate sends SIGTERM, waits up to grace, then sends SIGKILL.
// Not an error if the process is already gone.
// Must not be called concurrently for the same process.
func (p *Proc) Terminate(grace time.Duration) error {
	if p.Exited() {
		return nil
	}
	p.killed.Store(true)
	if grace > 0 {
		if err := p.signal(unix.SIGTERM); err != nil {
			return err
		}
		if p.Wait(grace) {
			return nil
		}
		nlog.Warningf("%s did not exit within %v, sending SIGKILL", p, grace)
	}
	if err := p.signal(unix.SIGKILL); err != nil {
		return err
	}
	if !p.Wait(killWait) {
		return fmt.Errorf("%s: still running %v after SIGKILL", p, killWait)
	}
	return nil
}

// Killed: Terminate was called while the process was running
func (p *Proc) Killed() bool { return p.killed.Load() }

func (p *Proc) signal(sig unix.Signal) error {
	err := p.cmd.Process.Signal(sig)
	if err == nil || errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("failed to send %s to %s: %w", unix.SignalName(sig), p, err)
}
