// Package nlog - wdsloader logger, provides buffering, timestamping, and flushing
/*
 * Copyright (c) 2023-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

// SetLogDirRole directs subsequent logging into <dir>/<role>.<pid>.log;
// an empty dir means stderr only
func SetLogDirRole(dir, role string) {
	mu.Lock()
	logDir, logRole = dir, role
	closeFile()
	mu.Unlock()
}

// SetToStderr forces logging to stderr (in addition to the log file, if any)
func SetToStderr(v bool) { toStderr.Store(v) }

func LogName() string {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return ""
	}
	return file.Name()
}

func Flush() {
	mu.Lock()
	flush()
	mu.Unlock()
}
