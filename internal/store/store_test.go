package store

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2idle/internal/model"
	"s2idle/internal/prereq"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(hour, minute, second int) time.Time {
	return time.Date(2024, 5, 1, hour, minute, second, 0, time.Local)
}

func TestTimestamp(t *testing.T) {
	ts := at(13, 4, 5)
	assert.Equal(t, int64(20240501130405), Timestamp(ts))
	parsed, err := ParseTimestamp(20240501130405)
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
}

func TestSchemaVersion(t *testing.T) {
	s := openTemp(t)
	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestMigrateFromFirstRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE prereq_data (t0 INTEGER, id INTEGER, message TEXT, symbol TEXT, PRIMARY KEY(t0, id))`,
		`CREATE TABLE debug (t0 INTEGER, id INTEGER, message TEXT, PRIMARY KEY(t0, id))`,
		`CREATE TABLE cycle (t0 INTEGER PRIMARY KEY, t1 INTEGER, requested INTEGER, gpio TEXT, wake_irq TEXT, kernel REAL, hw REAL)`,
		`INSERT INTO cycle (t0, t1, requested, gpio, wake_irq, kernel, hw) VALUES (20240501120000, 20240501120010, 10, '', '9', 9.9, 9.5)`,
		`INSERT INTO debug (t0, id, message) VALUES (20240501120000, 0, 'PM: suspend entry (s2idle)')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, col := range []struct{ table, column string }{{"debug", "priority"}, {"cycle", "incomplete"}, {"prereq_data", "detail"}} {
		exists, err := s.columnExists(t.Context(), col.table, col.column)
		require.NoError(t, err)
		assert.True(t, exists, "%s.%s", col.table, col.column)
	}
	cycles, err := s.Cycles(at(0, 0, 0), at(23, 59, 59))
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, []int{9}, cycles[0].WakeIRQs)
	assert.Equal(t, 10*time.Second, cycles[0].Duration())
	require.Len(t, cycles[0].Messages, 1)
	assert.Equal(t, model.SeverityDebug, cycles[0].Messages[0].Severity)
}

func TestPrerequisites(t *testing.T) {
	s := openTemp(t)
	res := prereq.Result{
		Time: at(12, 0, 0),
		Checks: []model.CheckResult{
			{Name: "aspm", Verdict: model.VerdictFail, Text: "ASPM policy set to powersave"},
			{Name: "kernel", Verdict: model.VerdictInfo, Text: "Kernel 6.10.0", Debug: "raw"},
		},
		Debug: []string{"/proc/cmdline: amd_iommu=off"},
	}
	require.NoError(t, s.RecordPrerequisites(res))

	has, err := s.HasPrerequisites(at(11, 0, 0))
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.HasPrerequisites(at(12, 0, 1))
	require.NoError(t, err)
	assert.False(t, has)

	run, ok, err := s.LatestPrerequisites(at(0, 0, 0), at(23, 0, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, run.Time.Equal(res.Time))
	assert.Equal(t, res.Checks, run.Checks)
	assert.Equal(t, res.Debug, run.Debug)

	_, ok, err = s.LatestPrerequisites(at(13, 0, 0), at(23, 0, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCycleRoundTrip(t *testing.T) {
	s := openTemp(t)
	battery := model.BatterySample{Name: "BAT0", Unit: "µWh", Start: 40000000, Full: 50000000, Exists: true}
	require.NoError(t, s.BeginCycle(at(12, 0, 0), battery))

	start, gotBattery, ok, err := s.PendingCycle()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, start.Equal(at(12, 0, 0)))
	assert.Equal(t, battery, gotBattery)

	n, err := s.CycleCount(at(0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	battery.End = 39900000
	rec := model.CycleRecord{
		CycleNum:          4,
		Start:             start,
		End:               at(12, 1, 0),
		RequestedDuration: time.Minute,
		HardwareSleep:     54 * time.Second,
		KernelSleep:       59500 * time.Millisecond,
		WakeIRQs:          []int{9, 7},
		ActiveGPIOs:       []int{0},
		Battery:           battery,
		Messages: []model.ClassifiedMessage{
			{Text: "PM: suspend entry (s2idle)", Severity: model.SeverityInfo, CycleNum: 4},
			{Text: "ACPI BIOS Error (bug): Could not resolve symbol", Severity: model.SeverityCritical, CycleNum: 4},
			{Text: "PM: resume devices took 2.100 seconds", Severity: model.SeverityWarning, CycleNum: 4},
			{Text: "unmatched", Severity: model.SeverityDebug, CycleNum: 4},
		},
		Failures: []model.FailureRecord{{CycleNum: 4, Problem: "ACPI BIOS Errors detected", Data: "ACPI BIOS Error (bug): Could not resolve symbol"}},
		Notes:    []model.CycleNote{{Text: "Hardware sleep cycle count: 1", Verdict: model.VerdictInfo}, {Text: "ACPI BIOS errors found", Verdict: model.VerdictFail}},
	}
	require.NoError(t, s.RecordCycle(rec))

	_, _, ok, err = s.PendingCycle()
	require.NoError(t, err)
	assert.False(t, ok)

	n, err = s.CycleCount(at(0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cycles, err := s.Cycles(at(0, 0, 0), at(23, 0, 0))
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	got := cycles[0]
	assert.Equal(t, 0, got.CycleNum)
	assert.True(t, got.Start.Equal(rec.Start))
	assert.True(t, got.End.Equal(rec.End))
	assert.Equal(t, rec.RequestedDuration, got.RequestedDuration)
	assert.Equal(t, rec.HardwareSleep, got.HardwareSleep)
	assert.Equal(t, rec.KernelSleep, got.KernelSleep)
	assert.Equal(t, rec.WakeIRQs, got.WakeIRQs)
	assert.Equal(t, rec.ActiveGPIOs, got.ActiveGPIOs)
	assert.Equal(t, battery, got.Battery)
	assert.Equal(t, rec.Notes, got.Notes)
	require.Len(t, got.Messages, 4)
	for i, m := range got.Messages {
		assert.Equal(t, rec.Messages[i].Text, m.Text)
		assert.Equal(t, rec.Messages[i].Severity, m.Severity)
		assert.Equal(t, 0, m.CycleNum)
	}
	assert.Equal(t, []model.FailureRecord{{CycleNum: 0, Problem: "ACPI BIOS Errors detected", Data: "ACPI BIOS Error (bug): Could not resolve symbol"}}, got.Failures)
}

func TestCyclesWindowAndNumbering(t *testing.T) {
	s := openTemp(t)
	for i, hour := range []int{9, 10, 11, 12} {
		rec := model.CycleRecord{CycleNum: i, Start: at(hour, 0, 0), End: at(hour, 0, 10), RequestedDuration: 10 * time.Second}
		if hour == 11 {
			rec.Incomplete = true
			rec.AbortReason = "Suspend failed: timed out"
		}
		require.NoError(t, s.RecordCycle(rec))
	}
	require.NoError(t, s.BeginCycle(at(13, 0, 0), model.BatterySample{}))

	cycles, err := s.Cycles(at(10, 0, 0), at(12, 0, 0))
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	for i, c := range cycles {
		assert.Equal(t, i, c.CycleNum)
	}
	assert.True(t, cycles[0].Start.Equal(at(10, 0, 0)))
	assert.True(t, cycles[1].Incomplete)
	assert.Equal(t, "Suspend failed: timed out", cycles[1].AbortReason)
	assert.False(t, cycles[2].Battery.Exists)

	all, err := s.Cycles(at(0, 0, 0), at(23, 59, 59))
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestRecordCycleSameSecond(t *testing.T) {
	s := openTemp(t)
	first := model.CycleRecord{Start: at(12, 0, 0).Add(100 * time.Millisecond), Incomplete: true, AbortReason: "Suspend failed: timed out",
		Failures: []model.FailureRecord{{Problem: "first"}}}
	first.End = first.Start
	second := model.CycleRecord{Start: at(12, 0, 0).Add(300 * time.Millisecond), Incomplete: true, AbortReason: "Did not suspend",
		Failures: []model.FailureRecord{{Problem: "second"}}}
	second.End = second.Start
	require.NoError(t, s.RecordCycle(first))
	require.NoError(t, s.RecordCycle(second))

	cycles, err := s.Cycles(at(0, 0, 0), at(23, 0, 0))
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "Suspend failed: timed out", cycles[0].AbortReason)
	assert.Equal(t, "first", cycles[0].Failures[0].Problem)
	assert.Equal(t, "Did not suspend", cycles[1].AbortReason)
	assert.Equal(t, "second", cycles[1].Failures[0].Problem)
	assert.True(t, cycles[1].Start.Equal(at(12, 0, 1)))
	assert.False(t, cycles[1].End.Before(cycles[1].Start))
}
