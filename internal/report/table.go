package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// table.go projects the report model into named tables for the tabular renderers.

import (
	"strconv"
)

// table names
const (
	OverviewTableName    = "Overview"
	PrereqTableName      = "Prerequisites"
	SummaryTableName     = "Summary"
	CycleDataTableName   = "Cycle Data"
	FailuresTableName    = "Failures"
	PrereqDebugTableName = "Prerequisite Debug Data"
	DebugTableName       = "Debug Data"
)

const noDataFound = "No data found."

// Table is a named grid of values. A table without HasRows is a list of field/value pairs
// held in the first two columns.
type Table struct {
	Name        string
	Columns     []string
	Rows        [][]string
	HasRows     bool
	NoDataFound string
}

// Tables returns the tables of the model in report order. The debug tables are only included
// when the model carries debug data.
func Tables(m Model) []Table {
	tables := []Table{overviewTable(m), prereqTable(m), summaryTable(m), cycleDataTable(m), failuresTable(m)}
	if len(m.PrereqDebugData) > 0 {
		t := Table{Name: PrereqDebugTableName, Columns: []string{"Data"}, HasRows: true}
		for _, d := range m.PrereqDebugData {
			t.Rows = append(t.Rows, []string{d.Data})
		}
		tables = append(tables, t)
	}
	if hasDebugMessages(m) {
		t := Table{Name: DebugTableName, Columns: []string{"Cycle", "Priority", "Message"}, HasRows: true}
		for _, d := range m.DebugData {
			for i, msg := range d.Messages {
				t.Rows = append(t.Rows, []string{strconv.Itoa(d.CycleNum), d.Priorities[i], msg})
			}
		}
		tables = append(tables, t)
	}
	return tables
}

func hasDebugMessages(m Model) bool {
	for _, d := range m.DebugData {
		if len(d.Messages) > 0 {
			return true
		}
	}
	return false
}

func overviewTable(m Model) Table {
	o := m.Overview
	t := Table{Name: OverviewTableName, Columns: []string{"Field", "Value"}}
	t.Rows = [][]string{
		{"Result", o.Symbol + " " + o.Verdict},
		{"Cycles", strconv.Itoa(o.Cycles)},
		{"Requested", strconv.Itoa(o.Requested)},
		{"Complete Cycles", strconv.Itoa(o.Samples)},
		{"Minimum Duration", o.DurationMin},
		{"Median Duration", o.DurationMedian},
		{"Maximum Duration", o.DurationMax},
	}
	if o.Aborted {
		t.Rows = append(t.Rows, []string{"Aborted", "yes"})
	}
	if m.PrereqDate != "" {
		t.Rows = append(t.Rows, []string{"Prerequisites Checked", m.PrereqDate})
	}
	return t
}

func prereqTable(m Model) Table {
	t := Table{Name: PrereqTableName, Columns: []string{"", "Check", "Result"}, HasRows: true, NoDataFound: "No prerequisite data found."}
	for _, p := range m.Prereq {
		t.Rows = append(t.Rows, []string{p.Symbol, p.Name, p.Text})
	}
	return t
}

// DegradedMarker follows the hardware sleep cell of cycles with low residency in plain text tables.
const DegradedMarker = "(degraded)"

// SummaryColumns returns the column names of the summary table.
func SummaryColumns(hasBattery bool) []string {
	cols := []string{"Cycle", "Start Time", "Duration", "Hardware Sleep"}
	if hasBattery {
		cols = append(cols, "Battery Start", "Battery Delta", "Battery Ave Rate")
	}
	return append(cols, "Wake Pin", "Wake Interrupt")
}

// Values returns the cells of the row in SummaryColumns order.
func (r SummaryRow) Values(hasBattery bool) []string {
	vals := []string{strconv.Itoa(r.CycleNum), r.StartTime, r.Duration, r.HardwareSleep}
	if r.Incomplete {
		vals[3] = "incomplete"
	}
	if hasBattery {
		vals = append(vals, r.BatteryStart, r.BatteryDelta, r.BatteryAveRate)
	}
	return append(vals, r.WakePin, r.WakeInterrupt)
}

func summaryTable(m Model) Table {
	t := Table{Name: SummaryTableName, Columns: SummaryColumns(m.HasBattery), HasRows: true, NoDataFound: "No sleep cycles found in the database."}
	for _, r := range m.Summary {
		vals := r.Values(m.HasBattery)
		if r.Degraded && !r.Incomplete {
			vals[3] += " " + DegradedMarker
		}
		t.Rows = append(t.Rows, vals)
	}
	return t
}

func cycleDataTable(m Model) Table {
	t := Table{Name: CycleDataTableName, Columns: []string{"Cycle", "Data"}, HasRows: true}
	for _, c := range m.CycleData {
		if c.Data == "" {
			continue
		}
		t.Rows = append(t.Rows, []string{strconv.Itoa(c.CycleNum), c.Data})
	}
	return t
}

func failuresTable(m Model) Table {
	t := Table{Name: FailuresTableName, Columns: []string{"Cycle", "Problem", "Explanation"}, HasRows: true, NoDataFound: "No failures found."}
	for _, f := range m.Failures {
		t.Rows = append(t.Rows, []string{strconv.Itoa(f.CycleNum), f.Problem, f.Data})
	}
	return t
}
