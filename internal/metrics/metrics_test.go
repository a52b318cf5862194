package metrics

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2idle/internal/model"
)

func testSummary() model.RunSummary {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return model.RunSummary{
		TotalCycles: 2,
		Verdict:     model.VerdictFail,
		Durations:   model.DurationStats{Samples: 1, Min: 10 * time.Second, Median: 10 * time.Second, Max: 10 * time.Second},
		Prerequisites: []model.CheckResult{
			{Name: "aspm", Verdict: model.VerdictPass},
		},
		Cycles: []model.CycleRecord{
			{
				CycleNum: 0, Start: t0, End: t0.Add(10 * time.Second), HardwareSleep: 9 * time.Second,
				Battery: model.BatterySample{Name: "BAT0", Start: 100, End: 90, Exists: true},
			},
			{CycleNum: 1, Start: t0, End: t0, Incomplete: true},
		},
		Failures: []model.FailureRecord{{CycleNum: 1, Problem: "Suspend cycle incomplete"}},
	}
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s2idle.prom")
	require.NoError(t, WriteTextfile(path, testSummary()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	for _, want := range []string{
		`s2idle_cycle_duration_seconds{cycle="0"} 10`,
		`s2idle_cycle_hardware_sleep_seconds{cycle="0"} 9`,
		`s2idle_cycle_residency_percent{cycle="0"} 90`,
		`s2idle_cycle_battery_delta{cycle="0"} -10`,
		`s2idle_cycle_failures{cycle="1"} 1`,
		`s2idle_prerequisite_status{name="aspm",verdict="pass"} 1`,
		"s2idle_cycles_total 2",
		"s2idle_cycles_incomplete 1",
		"s2idle_run_pass 0",
		"s2idle_cycle_duration_median_seconds 10",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, `s2idle_cycle_duration_seconds{cycle="1"}`)
}

func TestWriteTextfileBadPath(t *testing.T) {
	err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "s2idle.prom"), testSummary())
	assert.Error(t, err)
}
