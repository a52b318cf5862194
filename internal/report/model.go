package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"s2idle/internal/model"
)

// display glyphs
const (
	SymbolPass  = "✅"
	SymbolFail  = "❌"
	SymbolWarn  = "🚦"
	SymbolInfo  = "○"
	SymbolDebug = "🦟"
)

const timeLayout = "2006-01-02 15:04:05"

// Symbol maps a verdict to its display glyph.
func Symbol(v model.Verdict) string {
	switch v {
	case model.VerdictPass:
		return SymbolPass
	case model.VerdictFail:
		return SymbolFail
	case model.VerdictWarn:
		return SymbolWarn
	}
	return SymbolInfo
}

// PrioritySymbol maps a message severity to the glyph used in the debug sections.
func PrioritySymbol(s model.Severity) string {
	switch s {
	case model.SeverityDebug:
		return SymbolDebug
	case model.SeverityWarning:
		return SymbolWarn
	case model.SeverityCritical:
		return SymbolFail
	}
	return SymbolInfo
}

// Prereq is one prerequisite line.
type Prereq struct {
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	Text    string `json:"text"`
	Verdict string `json:"verdict"`
}

// DebugText is one entry of the prerequisite debug data.
type DebugText struct {
	Data string `json:"data"`
}

// Line is a glyph and text pair.
type Line struct {
	Symbol string `json:"symbol"`
	Text   string `json:"text"`
}

// CycleData holds the observations of one cycle. Data is the lines joined by newlines.
type CycleData struct {
	CycleNum int    `json:"cycle_num"`
	Data     string `json:"data"`
	Lines    []Line `json:"-"`
}

// Debug holds the kernel messages of one cycle with the glyph of each message's priority.
type Debug struct {
	CycleNum   int      `json:"cycle_num"`
	Messages   []string `json:"messages"`
	Priorities []string `json:"priorities"`
}

// Failure is a failure attributed to a cycle.
type Failure struct {
	CycleNum int    `json:"cycle_num"`
	Problem  string `json:"problem"`
	Data     string `json:"data"`
}

// SummaryRow is one line of the cycle summary table.
type SummaryRow struct {
	CycleNum       int    `json:"cycle_num"`
	StartTime      string `json:"start_time"`
	Duration       string `json:"duration"`
	HardwareSleep  string `json:"hardware_sleep"`
	BatteryStart   string `json:"battery_start,omitempty"`
	BatteryDelta   string `json:"battery_delta,omitempty"`
	BatteryAveRate string `json:"battery_ave_rate,omitempty"`
	WakePin        string `json:"wake_pin"`
	WakeInterrupt  string `json:"wake_interrupt"`
	Degraded       bool   `json:"degraded"`
	Incomplete     bool   `json:"incomplete"`
}

// Overview is the run level part of the summary.
type Overview struct {
	Cycles         int    `json:"cycles"`
	Requested      int    `json:"requested"`
	Samples        int    `json:"samples"`
	DurationMin    string `json:"duration_min"`
	DurationMedian string `json:"duration_median"`
	DurationMax    string `json:"duration_max"`
	Verdict        string `json:"verdict"`
	Symbol         string `json:"symbol"`
	Aborted        bool   `json:"aborted"`
}

// Model is the format neutral report consumed by the renderers.
type Model struct {
	Prereq          []Prereq     `json:"prereq"`
	PrereqDate      string       `json:"prereq_date,omitempty"`
	PrereqDebugData []DebugText  `json:"prereq_debug_data"`
	CycleData       []CycleData  `json:"cycle_data"`
	DebugData       []Debug      `json:"debug_data"`
	Failures        []Failure    `json:"failures"`
	Summary         []SummaryRow `json:"summary"`
	Overview        Overview     `json:"overview"`
	HasBattery      bool         `json:"-"`
}

// Build shapes a run summary into the report model.
func Build(s model.RunSummary) Model {
	m := Model{
		Prereq:          []Prereq{},
		PrereqDebugData: []DebugText{},
		CycleData:       []CycleData{},
		DebugData:       []Debug{},
		Failures:        []Failure{},
		Summary:         []SummaryRow{},
		Overview: Overview{
			Cycles:         s.TotalCycles,
			Requested:      s.Requested,
			Samples:        s.Durations.Samples,
			DurationMin:    FormatDuration(s.Durations.Min),
			DurationMedian: FormatDuration(s.Durations.Median),
			DurationMax:    FormatDuration(s.Durations.Max),
			Verdict:        s.Verdict.String(),
			Symbol:         Symbol(s.Verdict),
			Aborted:        s.Aborted,
		},
	}
	for _, c := range s.Prerequisites {
		m.Prereq = append(m.Prereq, Prereq{Name: c.Name, Symbol: Symbol(c.Verdict), Text: c.Text, Verdict: c.Verdict.String()})
	}
	if !s.PrereqTime.IsZero() {
		m.PrereqDate = s.PrereqTime.Format(timeLayout)
	}
	for _, d := range s.PrereqDebug {
		m.PrereqDebugData = append(m.PrereqDebugData, DebugText{Data: strings.TrimSpace(d)})
	}
	for _, c := range s.Prerequisites {
		if c.Debug != "" {
			m.PrereqDebugData = append(m.PrereqDebugData, DebugText{Data: strings.TrimSpace(c.Debug)})
		}
	}
	degraded := make(map[int]bool)
	for _, p := range s.ResidencyTrend {
		degraded[p.CycleNum] = p.Degraded
	}
	for _, c := range s.Cycles {
		if c.Battery.Exists && c.Battery.Full > 0 {
			m.HasBattery = true
		}
	}
	for _, c := range s.Cycles {
		m.Summary = append(m.Summary, summaryRow(c, degraded[c.CycleNum]))
		m.CycleData = append(m.CycleData, cycleData(c))
		dbg := Debug{CycleNum: c.CycleNum, Messages: []string{}, Priorities: []string{}}
		for _, msg := range c.Messages {
			dbg.Messages = append(dbg.Messages, msg.Text)
			dbg.Priorities = append(dbg.Priorities, PrioritySymbol(msg.Severity))
		}
		m.DebugData = append(m.DebugData, dbg)
	}
	for _, f := range s.Failures {
		m.Failures = append(m.Failures, Failure{CycleNum: f.CycleNum, Problem: f.Problem, Data: f.Data})
	}
	return m
}

// WithoutDebug returns a copy of the model with the debug sections emptied.
func (m Model) WithoutDebug() Model {
	m.PrereqDebugData = []DebugText{}
	m.DebugData = []Debug{}
	return m
}

func summaryRow(c model.CycleRecord, degraded bool) SummaryRow {
	row := SummaryRow{
		CycleNum:      c.CycleNum,
		StartTime:     c.Start.Format(timeLayout),
		Duration:      FormatDuration(c.Duration()),
		HardwareSleep: FormatPercent(c.Residency()),
		WakePin:       joinInts(c.ActiveGPIOs),
		WakeInterrupt: joinInts(c.WakeIRQs),
		Degraded:      degraded,
		Incomplete:    c.Incomplete,
	}
	if c.Incomplete {
		row.HardwareSleep = ""
	}
	b := c.Battery
	if b.Exists && b.Full > 0 {
		p := message.NewPrinter(language.English)
		delta := b.End - b.Start
		row.BatteryStart = FormatPercent(float64(b.Start) / float64(b.Full) * 100)
		row.BatteryDelta = p.Sprintf("%.2f%% (%d %s)", float64(delta)/float64(b.Full)*100, delta, b.Unit)
		if secs := c.Duration().Seconds(); secs > 0 && !c.Incomplete {
			row.BatteryAveRate = formatRate(float64(delta), secs, b.Unit)
		}
	}
	return row
}

// formatRate converts an energy or charge delta over seconds to watts or amps.
func formatRate(delta, secs float64, unit string) string {
	// sysfs reports µWh or µAh; per hour to per second is 3600, micro is 1e6
	rate := delta * 3600 / 1e6 / secs
	if strings.HasSuffix(unit, "Ah") {
		return fmt.Sprintf("%.02fA", rate)
	}
	return fmt.Sprintf("%.02fW", rate)
}

func cycleData(c model.CycleRecord) CycleData {
	cd := CycleData{CycleNum: c.CycleNum}
	if c.Incomplete && c.AbortReason != "" {
		cd.Lines = append(cd.Lines, Line{Symbol: SymbolFail, Text: c.AbortReason})
	}
	for _, n := range c.Notes {
		cd.Lines = append(cd.Lines, Line{Symbol: Symbol(n.Verdict), Text: n.Text})
	}
	var data []string
	for _, l := range cd.Lines {
		data = append(data, l.Symbol+" "+l.Text)
	}
	cd.Data = strings.Join(data, "\n")
	return cd
}

// FormatDuration renders d as H:MM:SS, truncated to whole seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// FormatPercent renders a percentage with two decimals.
func FormatPercent(v float64) string {
	return fmt.Sprintf("%.02f%%", v)
}

// joinInts renders the unique values of vals in order of first appearance.
func joinInts(vals []int) string {
	seen := make(map[int]bool)
	var out []string
	for _, v := range vals {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, strconv.Itoa(v))
	}
	return strings.Join(out, ", ")
}
