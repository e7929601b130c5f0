/*
 * Copyright 2025 the IPCow Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config holds the validated configuration record consumed by the
// engine. Raw user input (flags, JSON file) is gathered and validated here
// before any scheduling begins.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Bit-Loop/IPcow/pkg/logger"
)

var (
	ErrNoAddresses       = errors.New("no listen addresses configured")
	ErrNoPorts           = errors.New("no listen ports configured")
	ErrBadMultiplier     = errors.New("thread multiplier must be >= 1")
	ErrBadRetryLimit     = errors.New("retry limit must be >= 0")
	ErrBadConnCap        = errors.New("connection cap override must be >= 0")
	ErrBadGracePeriod    = errors.New("grace period must be >= 0")
	errLoadConfigFailed  = errors.New("failed to load configuration")
	errParseConfigFailed = errors.New("failed to parse configuration")
)

const (
	defaultTerminationSeq = "EXIT"
	defaultGracePeriod    = 5 * time.Second
	defaultProbeTimeout   = 3 * time.Second
)

// Config is the validated configuration record for a run.
type Config struct {
	// Addresses and Ports are raw specifications; sockparse expands them.
	Addresses []string `json:"addresses"`
	Ports     []string `json:"ports"`

	// Multiplier scales the host's logical core count into the worker
	// thread count.
	Multiplier int `json:"multiplier"`

	// RetryLimit bounds Error -> Ready re-queues per chunk. 0 means no
	// retry.
	RetryLimit int `json:"retry_limit"`

	// MaxConnsPerWorker overrides the planner-derived per-worker
	// connection cap when > 0.
	MaxConnsPerWorker int `json:"max_conns_per_worker"`

	// TerminationSeq closes a connection when observed in its byte
	// stream.
	TerminationSeq string `json:"termination_seq"`

	// GracePeriod bounds how long in-flight connections may drain after
	// shutdown is triggered.
	GracePeriod time.Duration `json:"-"`

	// ProbeTimeout is the per-target timeout for probe mode.
	ProbeTimeout time.Duration `json:"-"`

	// StatusAddr enables the read-only status endpoint when non-empty.
	StatusAddr string `json:"status_addr"`

	Logging *logger.Config `json:"logging"`
}

type durationWrapper time.Duration

func (d *durationWrapper) UnmarshalJSON(b []byte) error {
	var s string

	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	if s == "" {
		*d = durationWrapper(0)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = durationWrapper(dur)

	return nil
}

// unmarshalConfig is a temporary struct for unmarshaling JSON with duration
// strings.
type unmarshalConfig struct {
	Addresses         []string        `json:"addresses"`
	Ports             []string        `json:"ports"`
	Multiplier        int             `json:"multiplier"`
	RetryLimit        int             `json:"retry_limit"`
	MaxConnsPerWorker int             `json:"max_conns_per_worker"`
	TerminationSeq    string          `json:"termination_seq"`
	GracePeriod       durationWrapper `json:"grace_period"`
	ProbeTimeout      durationWrapper `json:"probe_timeout"`
	StatusAddr        string          `json:"status_addr"`
	Logging           *logger.Config  `json:"logging"`
}

// Default returns a config with every optional knob at its documented
// default.
func Default() *Config {
	return &Config{
		Multiplier:     1,
		RetryLimit:     0,
		TerminationSeq: defaultTerminationSeq,
		GracePeriod:    defaultGracePeriod,
		ProbeTimeout:   defaultProbeTimeout,
	}
}

// Load reads a JSON config file and overlays it onto the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errLoadConfigFailed, err)
	}

	var raw unmarshalConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", errParseConfigFailed, err)
	}

	cfg := Default()

	cfg.Addresses = raw.Addresses
	cfg.Ports = raw.Ports
	cfg.StatusAddr = raw.StatusAddr
	cfg.Logging = raw.Logging

	if raw.Multiplier != 0 {
		cfg.Multiplier = raw.Multiplier
	}

	if raw.RetryLimit != 0 {
		cfg.RetryLimit = raw.RetryLimit
	}

	if raw.MaxConnsPerWorker != 0 {
		cfg.MaxConnsPerWorker = raw.MaxConnsPerWorker
	}

	if raw.TerminationSeq != "" {
		cfg.TerminationSeq = raw.TerminationSeq
	}

	if raw.GracePeriod != 0 {
		cfg.GracePeriod = time.Duration(raw.GracePeriod)
	}

	if raw.ProbeTimeout != 0 {
		cfg.ProbeTimeout = time.Duration(raw.ProbeTimeout)
	}

	return cfg, nil
}

// Validate rejects a config the engine must never see. Called before any
// worker is spawned.
func (c *Config) Validate() error {
	if len(c.Addresses) == 0 {
		return ErrNoAddresses
	}

	if len(c.Ports) == 0 {
		return ErrNoPorts
	}

	if c.Multiplier < 1 {
		return ErrBadMultiplier
	}

	if c.RetryLimit < 0 {
		return ErrBadRetryLimit
	}

	if c.MaxConnsPerWorker < 0 {
		return ErrBadConnCap
	}

	if c.GracePeriod < 0 {
		return ErrBadGracePeriod
	}

	return nil
}
