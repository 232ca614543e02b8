// Package cmn provides common low-level types and utilities for all wdsloader packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/NVIDIA/wdsloader/cmn/cos"

	"gopkg.in/yaml.v3"
)

// compression enum (transport.Extra.Compression, wire.Opts.Compression)
const (
	CompressNever  = "never"
	CompressAlways = "always"
)

// environment overrides
const (
	EnvWorkers      = "WDS_WORKERS"
	EnvSocketDir    = "WDS_SOCKET_DIR"
	EnvVerbose      = "WDS_VERBOSE"
	EnvCompression  = "WDS_COMPRESSION"
	EnvPollInterval = "WDS_POLL_INTERVAL"
)

type (
	Config struct {
		Loader    LoaderConf    `json:"loader" yaml:"loader"`
		Transport TransportConf `json:"transport" yaml:"transport"`
		Log       LogConf       `json:"log" yaml:"log"`
		Stats     StatsConf     `json:"stats" yaml:"stats"`
	}
	LoaderConf struct {
		Prefix       string       `json:"prefix" yaml:"prefix"`               // socket naming prefix
		SocketDir    string       `json:"socket_dir" yaml:"socket_dir"`       // where to create ipc:// rendezvous sockets
		Registry     string       `json:"registry" yaml:"registry"`           // pidreg database (empty: no registry)
		Workers      int          `json:"workers" yaml:"workers"`             // number of reader processes
		PollInterval cos.Duration `json:"poll_interval" yaml:"poll_interval"` // receive timeout between worker liveness checks
		KillGrace    cos.Duration `json:"kill_grace" yaml:"kill_grace"`       // SIGTERM => SIGKILL escalation
		NoKill       bool         `json:"nokill" yaml:"nokill"`               // no automatic teardown when discarded
		Verbose      bool         `json:"verbose" yaml:"verbose"`
	}
	TransportConf struct {
		Compression  string       `json:"compression" yaml:"compression"` // enum { CompressNever, CompressAlways }
		MaxFrameSize int64        `json:"max_frame_size" yaml:"max_frame_size"`
		RecvQueue    int          `json:"recv_queue" yaml:"recv_queue"` // frames buffered on the receive side
		DialTimeout  cos.Duration `json:"dial_timeout" yaml:"dial_timeout"`
		WriteTimeout cos.Duration `json:"write_timeout" yaml:"write_timeout"` // zero: block indefinitely
	}
	LogConf struct {
		Dir      string `json:"dir" yaml:"dir"` // empty: stderr
		ToStderr bool   `json:"to_stderr" yaml:"to_stderr"`
	}
	StatsConf struct {
		MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"` // e.g. ":9100"; empty: disabled
	}
)

const (
	DefaultWorkers      = 4
	DefaultPollInterval = 200 * time.Millisecond
	DefaultKillGrace    = 2 * time.Second
	DefaultRecvQueue    = 64
	DefaultMaxFrameSize = 256 * cos.MiB
	DefaultDialTimeout  = 10 * time.Second
	DefaultPrefix       = "wds"
)

func DefaultConfig() *Config {
	return &Config{
		Loader: LoaderConf{
			Prefix:       DefaultPrefix,
			SocketDir:    os.TempDir(),
			Workers:      DefaultWorkers,
			PollInterval: cos.Duration(DefaultPollInterval),
			KillGrace:    cos.Duration(DefaultKillGrace),
		},
		Transport: TransportConf{
			Compression:  CompressNever,
			MaxFrameSize: DefaultMaxFrameSize,
			RecvQueue:    DefaultRecvQueue,
			DialTimeout:  cos.Duration(DefaultDialTimeout),
		},
	}
}

// LoadConfig loads (json | yaml) configuration on top of the defaults,
// applies environment overrides, and validates the result.
// Empty path: defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".json":
			err = cos.JSON.Unmarshal(b, config)
		case ".yaml", ".yml":
			err = yaml.Unmarshal(b, config)
		default:
			err = fmt.Errorf("unsupported config format %q (expecting .json, .yaml, or .yml)", ext)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load config %q: %w", path, err)
		}
	}
	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %v", EnvWorkers, v, err)
		}
		c.Loader.Workers = n
	}
	if v := os.Getenv(EnvSocketDir); v != "" {
		c.Loader.SocketDir = v
	}
	if v := os.Getenv(EnvVerbose); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %v", EnvVerbose, v, err)
		}
		c.Loader.Verbose = b
	}
	if v := os.Getenv(EnvCompression); v != "" {
		c.Transport.Compression = v
	}
	if v := os.Getenv(EnvPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %v", EnvPollInterval, v, err)
		}
		c.Loader.PollInterval = cos.Duration(d)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Loader.Validate(); err != nil {
		return err
	}
	return c.Transport.Validate()
}

func (c *LoaderConf) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("invalid loader.workers %d (expecting >= 1)", c.Workers)
	}
	if c.PollInterval.D() <= 0 {
		return fmt.Errorf("invalid loader.poll_interval %v (expecting positive)", c.PollInterval)
	}
	if c.KillGrace.D() < 0 {
		return fmt.Errorf("invalid loader.kill_grace %v", c.KillGrace)
	}
	if strings.ContainsAny(c.Prefix, "/\\") {
		return fmt.Errorf("invalid loader.prefix %q (must not contain path separators)", c.Prefix)
	}
	return nil
}

func (c *TransportConf) Validate() error {
	switch c.Compression {
	case "", CompressNever, CompressAlways:
	default:
		return fmt.Errorf("invalid transport.compression %q (expecting %q or %q)", c.Compression, CompressNever, CompressAlways)
	}
	if c.MaxFrameSize < 0 || c.MaxFrameSize > 2*cos.GiB {
		return fmt.Errorf("invalid transport.max_frame_size %d", c.MaxFrameSize)
	}
	if c.RecvQueue < 0 {
		return fmt.Errorf("invalid transport.recv_queue %d", c.RecvQueue)
	}
	return nil
}
