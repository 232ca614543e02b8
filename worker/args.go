// Package worker implements the reader process: it iterates one shard of a
// dataset and pushes every sample, followed by an end-of-stream sentinel, to the loader.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package worker

import (
	"errors"
	"fmt"

	"github.com/NVIDIA/wdsloader/cmn"
	"github.com/NVIDIA/wdsloader/cmn/cos"
	"github.com/NVIDIA/wdsloader/dataset"
	"github.com/NVIDIA/wdsloader/transport"

	jsoniter "github.com/json-iterator/go"
)

// EnvArgs carries JSON-encoded Args from the loader to the re-executed binary.
const EnvArgs = "WDS_WORKER_ARGS"

// exit codes
const (
	ExitOK         = 0
	ExitFailed     = 1   // dataset or transport failure
	ExitBadArgs    = 2   // invalid or missing arguments
	ExitTerminated = 143 // SIGTERM (128 + 15)
)

type Args struct {
	Loader       string              `json:"loader"`  // loader instance ID (logging and registry)
	Dataset      string              `json:"dataset"` // registered dataset name
	Params       jsoniter.RawMessage `json:"params,omitempty"`
	Addr         string              `json:"addr"` // loader's rendezvous address
	Compression  string              `json:"compression,omitempty"`
	LogDir       string              `json:"log_dir,omitempty"`
	MaxFrameSize int64               `json:"max_frame_size,omitempty"`
	DialTimeout  cos.Duration        `json:"dial_timeout,omitempty"`
	WriteTimeout cos.Duration        `json:"write_timeout,omitempty"`
	Index        int                 `json:"index"`
	Count        int                 `json:"count"`
	Verbose      bool                `json:"verbose,omitempty"`
}

func (a *Args) Validate() error {
	if a.Dataset == "" {
		return errors.New("missing dataset name")
	}
	if _, err := transport.ParseAddr(a.Addr); err != nil {
		return err
	}
	if err := (dataset.Shard{Index: a.Index, Count: a.Count}).Validate(); err != nil {
		return err
	}
	switch a.Compression {
	case "", cmn.CompressNever, cmn.CompressAlways:
	default:
		return fmt.Errorf("invalid compression %q", a.Compression)
	}
	return nil
}

func (a *Args) Shard() dataset.Shard { return dataset.Shard{Index: a.Index, Count: a.Count} }

func (a *Args) String() string {
	return fmt.Sprintf("wdsworker[%s:%d/%d]", a.Loader, a.Index, a.Count)
}

// Env returns the NAME=VALUE environment entry for the child process.
func (a *Args) Env() (string, error) {
	s, err := cos.JSON.MarshalToString(a)
	if err != nil {
		return "", err
	}
	return EnvArgs + "=" + s, nil
}

func ParseArgs(s string) (*Args, error) {
	a := &Args{}
	if err := cos.JSON.UnmarshalFromString(s, a); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvArgs, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvArgs, err)
	}
	return a, nil
}
