// Package nlog - wdsloader logger, provides buffering, timestamping, and flushing
/*
 * Copyright (c) 2023-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/wdsloader/cmn/mono"
)

const (
	nlogBufSize   = 64 * 1024
	nlogLineSize  = 4 * 1024
	flushInterval = 10 * time.Second
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	mu       sync.Mutex // protects everything below
	file     *os.File
	bw       *bufio.Writer
	logDir   string
	logRole  string
	lastSync int64

	toStderr atomic.Bool

	pid  = os.Getpid()
	pool = sync.Pool{
		New: func() any { return &fixed{buf: make([]byte, nlogLineSize)} },
	}
)

func log(sev severity, depth int, format string, args ...any) {
	fb := pool.Get().(*fixed)
	fb.reset()
	sprintf(sev, depth, format, fb, args...)
	line := fb.buf[:fb.woff]

	mu.Lock()
	if logDir == "" {
		os.Stderr.Write(line)
	} else {
		if err := openFile(); err != nil {
			os.Stderr.WriteString("Error: [nlog] " + err.Error() + "\n")
			os.Stderr.Write(line)
		} else {
			bw.Write(line)
			if sev >= sevWarn || bw.Buffered() > nlogBufSize/2 || mono.Since(lastSync) > flushInterval {
				flush()
			}
		}
		if toStderr.Load() || sev >= sevErr {
			os.Stderr.Write(line)
		}
	}
	mu.Unlock()
	pool.Put(fb)
}

// under mu
func openFile() (err error) {
	if file != nil {
		return nil
	}
	if err = os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	role := logRole
	if role == "" {
		role = filepath.Base(os.Args[0])
	}
	fname := filepath.Join(logDir, role+"."+strconv.Itoa(pid)+".log")
	if file, err = os.OpenFile(fname, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
		return err
	}
	bw = bufio.NewWriterSize(file, nlogBufSize)
	s := fmt.Sprintf("Started up at %s, %s for %s/%s\n",
		time.Now().Format("2006/01/02 15:04:05"), runtime.Version(), runtime.GOOS, runtime.GOARCH)
	_, err = bw.WriteString(s)
	return err
}

// under mu
func flush() {
	if bw == nil {
		return
	}
	if err := bw.Flush(); err != nil {
		os.Stderr.WriteString("Error: [nlog] " + err.Error() + "\n")
	}
	lastSync = mono.NanoTime()
}

// under mu
func closeFile() {
	if file == nil {
		return
	}
	flush()
	file.Close()
	file, bw = nil, nil
}

func formatHdr(s severity, depth int, fb *fixed) {
	const char = "IWE"
	fb.writeByte(char[s])
	fb.writeByte(' ')
	fb.writeStamp(time.Now())
	fb.writeByte(' ')

	_, fn, ln, ok := runtime.Caller(3 + depth)
	if !ok {
		return
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx > 0 {
		fn = fn[idx+1:]
	}
	fn = strings.TrimSuffix(fn, ".go")
	fb.writeString(fn)
	fb.writeByte(':')
	fb.writeString(strconv.Itoa(ln))
	fb.writeByte(' ')
}

func sprintf(sev severity, depth int, format string, fb *fixed, args ...any) {
	formatHdr(sev, depth+1, fb)
	if format == "" {
		fmt.Fprint(fb, args...)
	} else {
		fmt.Fprintf(fb, format, args...)
	}
	fb.eol()
}
