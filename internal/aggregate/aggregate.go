// Package aggregate folds prerequisite results and cycle records into a run summary.
package aggregate

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"slices"
	"time"

	"s2idle/internal/model"
)

// failure labels added by the aggregator
const (
	ProblemIncomplete   = "Suspend cycle incomplete"
	ProblemLowResidency = "Low hardware sleep residency"
)

// Thresholds are the tunable limits applied to cycle residency.
type Thresholds struct {
	// DegradedResidency flags cycles below this percentage for highlighting. It never
	// changes the verdict.
	DegradedResidency float64 `yaml:"degraded_residency"`
	// LowResidencyFailure records a failure for cycles of at least LowResidencyMinDuration
	// below this percentage. Zero disables it.
	LowResidencyFailure     float64       `yaml:"low_residency_failure"`
	LowResidencyMinDuration time.Duration `yaml:"low_residency_min_duration"`
}

// DefaultThresholds returns the thresholds used when the run file doesn't set them.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedResidency:       85,
		LowResidencyMinDuration: time.Minute,
	}
}

// Aggregate computes the run summary. Duration statistics only use complete cycles; an
// incomplete cycle instead contributes a failure. The verdict is fail when any
// prerequisite failed, any failure was recorded or any cycle is incomplete.
func Aggregate(prereqs []model.CheckResult, cycles []model.CycleRecord, th Thresholds) model.RunSummary {
	summary := model.RunSummary{
		TotalCycles:   len(cycles),
		Requested:     len(cycles),
		Prerequisites: prereqs,
		Cycles:        cycles,
		Verdict:       model.VerdictPass,
	}
	var durations []time.Duration
	incomplete := false
	for _, c := range cycles {
		summary.Failures = append(summary.Failures, c.Failures...)
		if c.Incomplete {
			incomplete = true
			summary.Failures = append(summary.Failures, model.FailureRecord{CycleNum: c.CycleNum, Problem: ProblemIncomplete, Data: c.AbortReason})
			continue
		}
		durations = append(durations, c.Duration())
		pct := c.Residency()
		summary.ResidencyTrend = append(summary.ResidencyTrend, model.ResidencyPoint{
			CycleNum: c.CycleNum,
			Percent:  pct,
			Degraded: pct < th.DegradedResidency,
		})
		if th.LowResidencyFailure > 0 && c.Duration() >= th.LowResidencyMinDuration && pct < th.LowResidencyFailure {
			summary.Failures = append(summary.Failures, model.FailureRecord{
				CycleNum: c.CycleNum,
				Problem:  ProblemLowResidency,
				Data:     fmt.Sprintf("Spent %.2f%% of %s in the deepest hardware sleep state", pct, c.Duration().Round(time.Second)),
			})
		}
	}
	summary.Durations = durationStats(durations)

	if incomplete || len(summary.Failures) > 0 {
		summary.Verdict = model.VerdictFail
	}
	for _, p := range prereqs {
		if p.Verdict == model.VerdictFail {
			summary.Verdict = model.VerdictFail
		}
	}
	return summary
}

func durationStats(durations []time.Duration) model.DurationStats {
	if len(durations) == 0 {
		return model.DurationStats{}
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return model.DurationStats{Samples: n, Min: sorted[0], Median: median, Max: sorted[n-1]}
}
