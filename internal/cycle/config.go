// Package cycle drives timed suspend/resume iterations and turns the evidence captured around
// each one into a CycleRecord.
package cycle

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"time"

	"github.com/pkg/errors"
)

// ErrConfigurationInvalid is returned before any cycle runs when the requested count,
// duration or wait is out of bounds.
var ErrConfigurationInvalid = errors.New("configuration invalid")

// ErrNoPendingCycle is returned by FinalizeCycle when no pre-suspend hook recorded a cycle start.
var ErrNoPendingCycle = errors.New("no pending cycle")

// bounds on the run configuration
const (
	MinCount    = 1
	MaxCount    = 1000
	MinDuration = 4 * time.Second
	MaxDuration = 24 * time.Hour
	MaxWait     = time.Hour
	minWait     = time.Second
)

// defaults
const (
	DefaultCount          = 1
	DefaultDuration       = 10 * time.Second
	DefaultWait           = 4 * time.Second
	DefaultWakeTolerance  = 0.9
	DefaultSuspendTimeout = 30 * time.Second
)

// Config is the run configuration of the orchestrator.
type Config struct {
	Count    int
	Duration time.Duration
	Wait     time.Duration
	// Random picks each cycle's duration from [MinDuration, Duration] and wait from [1s, Wait].
	Random bool
	// WakeTolerance is the fraction of the requested duration a cycle must last to not be
	// treated as a premature wake.
	WakeTolerance float64
	// SuspendTimeout bounds the wait for a suspend request to take effect. Zero disables it.
	SuspendTimeout time.Duration
	Logind         bool
	DebugCapture   bool
}

// DefaultConfig returns the configuration used when no flags or run file override it.
func DefaultConfig() Config {
	return Config{
		Count:          DefaultCount,
		Duration:       DefaultDuration,
		Wait:           DefaultWait,
		WakeTolerance:  DefaultWakeTolerance,
		SuspendTimeout: DefaultSuspendTimeout,
	}
}

// Validate returns an error wrapping ErrConfigurationInvalid when a value is out of bounds.
func (c Config) Validate() error {
	if c.Count < MinCount || c.Count > MaxCount {
		return errors.Wrapf(ErrConfigurationInvalid, "count %d must be between %d and %d", c.Count, MinCount, MaxCount)
	}
	if c.Duration < MinDuration || c.Duration > MaxDuration {
		return errors.Wrapf(ErrConfigurationInvalid, "duration %s must be between %s and %s", c.Duration, MinDuration, MaxDuration)
	}
	if c.Wait < 0 || c.Wait > MaxWait {
		return errors.Wrapf(ErrConfigurationInvalid, "wait %s must be between 0s and %s", c.Wait, MaxWait)
	}
	if c.WakeTolerance <= 0 || c.WakeTolerance > 1 {
		return errors.Wrapf(ErrConfigurationInvalid, "wake tolerance %.2f must be in (0, 1]", c.WakeTolerance)
	}
	if c.SuspendTimeout < 0 {
		return errors.Wrapf(ErrConfigurationInvalid, "suspend timeout %s must not be negative", c.SuspendTimeout)
	}
	return nil
}
