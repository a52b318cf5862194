// Package model defines the records that flow between the prerequisite catalog,
// the cycle orchestrator, the classifier, the aggregator and the report builder.
package model

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"time"
)

// Verdict is the outcome of a single prerequisite rule.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictFail
	VerdictWarn
	VerdictInfo
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictFail:
		return "fail"
	case VerdictWarn:
		return "warn"
	case VerdictInfo:
		return "info"
	}
	return "unknown"
}

// Severity is the classification of a kernel log message.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// SeverityFromPriority maps a syslog priority (0-7) to a Severity.
func SeverityFromPriority(priority int) Severity {
	switch {
	case priority < 0:
		return SeverityInfo
	case priority <= 3:
		return SeverityCritical
	case priority == 4:
		return SeverityWarning
	case priority == 7:
		return SeverityDebug
	}
	return SeverityInfo
}

// Priority maps a Severity back to the syslog priority stored alongside debug messages.
func (s Severity) Priority() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 4
	case SeverityDebug:
		return 7
	}
	return 6
}

// CheckResult is the verdict of one prerequisite rule for one evaluation pass.
type CheckResult struct {
	Name    string
	Verdict Verdict
	Text    string
	Debug   string // optional raw payload, shown only in debug reports
}

// ClassifiedMessage is a kernel log line tagged with a severity.
type ClassifiedMessage struct {
	Text     string
	Severity Severity
	CycleNum int
}

// FailureRecord is a known failure condition detected in a cycle.
type FailureRecord struct {
	CycleNum int
	Problem  string
	Data     string
}

// BatterySample is the energy reading of one battery at the start and end of a cycle.
type BatterySample struct {
	Name   string
	Unit   string
	Start  int64
	End    int64
	Full   int64
	Exists bool
}

// CycleRecord holds the evidence captured for one suspend/resume iteration.
type CycleRecord struct {
	CycleNum          int
	Start             time.Time
	End               time.Time
	RequestedDuration time.Duration
	HardwareSleep     time.Duration
	KernelSleep       time.Duration
	RawLines          []string
	Messages          []ClassifiedMessage
	Failures          []FailureRecord
	WakeIRQs          []int
	ActiveGPIOs       []int
	Battery           BatterySample
	Incomplete        bool
	AbortReason       string
	PrematureWake     bool
	Notes             []CycleNote
}

// CycleNote is a short, user facing observation about a cycle, e.g., "Hardware sleep cycle count: 2".
type CycleNote struct {
	Text    string
	Verdict Verdict
}

// Duration is the userspace-observed length of the cycle.
func (c CycleRecord) Duration() time.Duration {
	if c.End.Before(c.Start) {
		return 0
	}
	return c.End.Sub(c.Start)
}

// Residency is the percentage of the cycle spent in the deepest hardware sleep state, clamped to [0,100].
func (c CycleRecord) Residency() float64 {
	d := c.Duration()
	if d <= 0 {
		return 0
	}
	pct := float64(c.HardwareSleep) / float64(d) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// DurationStats describes the distribution of complete cycle durations.
type DurationStats struct {
	Samples int
	Min     time.Duration
	Median  time.Duration
	Max     time.Duration
}

// ResidencyPoint is the hardware sleep residency of one cycle.
type ResidencyPoint struct {
	CycleNum int
	Percent  float64
	Degraded bool
}

// RunSummary is the root of the report model; read-only once the run completes.
type RunSummary struct {
	TotalCycles    int
	Requested      int
	Durations      DurationStats
	ResidencyTrend []ResidencyPoint
	Prerequisites  []CheckResult
	Failures       []FailureRecord
	Cycles         []CycleRecord
	Verdict        Verdict
	Aborted        bool
	PrereqTime     time.Time
	PrereqDebug    []string
}

// FailuresForCycle returns the failures that reference the given cycle.
func (s RunSummary) FailuresForCycle(cycleNum int) []FailureRecord {
	var out []FailureRecord
	for _, f := range s.Failures {
		if f.CycleNum == cycleNum {
			out = append(out, f)
		}
	}
	return out
}
