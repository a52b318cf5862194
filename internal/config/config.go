// Package config loads the optional YAML run file. Values in the file replace the built-in
// defaults; command line flags replace values from the file.
package config

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"slices"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"s2idle/internal/aggregate"
	"s2idle/internal/cycle"
	"s2idle/internal/report"
)

// Report holds the report output settings.
type Report struct {
	Format      string `yaml:"format"`
	File        string `yaml:"file"`
	Debug       bool   `yaml:"debug"`
	MetricsFile string `yaml:"metrics_file"`
}

// Run is the content of a run file.
type Run struct {
	Count          int                  `yaml:"count"`
	Duration       time.Duration        `yaml:"duration"`
	Wait           time.Duration        `yaml:"wait"`
	Random         bool                 `yaml:"random"`
	WakeTolerance  float64              `yaml:"wake_tolerance"`
	SuspendTimeout time.Duration        `yaml:"suspend_timeout"`
	Logind         bool                 `yaml:"logind"`
	Database       string               `yaml:"database"`
	Thresholds     aggregate.Thresholds `yaml:"thresholds"`
	Report         Report               `yaml:"report"`
}

// Default returns the run configuration used without a run file.
func Default() Run {
	c := cycle.DefaultConfig()
	return Run{
		Count:          c.Count,
		Duration:       c.Duration,
		Wait:           c.Wait,
		WakeTolerance:  c.WakeTolerance,
		SuspendTimeout: c.SuspendTimeout,
		Thresholds:     aggregate.DefaultThresholds(),
		Report:         Report{Format: report.FormatHtml},
	}
}

// Load reads the run file at path over the defaults. An empty path returns the defaults.
func Load(path string) (Run, error) {
	run := Default()
	if path == "" {
		return run, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return run, errors.Wrap(err, "failed to read run file")
	}
	if err := Parse(b, &run); err != nil {
		return run, errors.Wrapf(err, "failed to parse run file %s", path)
	}
	return run, nil
}

// Parse decodes YAML into run. Keys absent from the document keep their current value.
func Parse(b []byte, run *Run) error {
	if err := yaml.UnmarshalStrict(b, run); err != nil {
		return err
	}
	return run.Validate()
}

// Validate checks the run file values that aren't covered by the cycle configuration.
func (r Run) Validate() error {
	if !slices.Contains(report.FormatOptions, r.Report.Format) {
		return errors.Wrapf(cycle.ErrConfigurationInvalid, "report format %q must be one of %v", r.Report.Format, report.FormatOptions)
	}
	if r.Thresholds.DegradedResidency < 0 || r.Thresholds.DegradedResidency > 100 {
		return errors.Wrapf(cycle.ErrConfigurationInvalid, "degraded residency %.2f must be a percentage", r.Thresholds.DegradedResidency)
	}
	if r.Thresholds.LowResidencyFailure < 0 || r.Thresholds.LowResidencyFailure > 100 {
		return errors.Wrapf(cycle.ErrConfigurationInvalid, "low residency failure %.2f must be a percentage", r.Thresholds.LowResidencyFailure)
	}
	return nil
}

// Cycle returns the orchestrator configuration.
func (r Run) Cycle() cycle.Config {
	return cycle.Config{
		Count:          r.Count,
		Duration:       r.Duration,
		Wait:           r.Wait,
		Random:         r.Random,
		WakeTolerance:  r.WakeTolerance,
		SuspendTimeout: r.SuspendTimeout,
		Logind:         r.Logind,
		DebugCapture:   r.Report.Debug,
	}
}
