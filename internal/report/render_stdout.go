package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
	passColor = color.New(color.FgGreen)
	infoColor = color.New(color.FgHiBlack)
)

// symbolColor returns the console color used for lines carrying the glyph.
func symbolColor(symbol string) *color.Color {
	switch symbol {
	case SymbolFail:
		return failColor
	case SymbolWarn:
		return warnColor
	case SymbolPass:
		return passColor
	}
	return infoColor
}

// PrintLine writes a glyph and text line colored by the glyph.
func PrintLine(w io.Writer, symbol, text string) {
	_, _ = symbolColor(symbol).Fprintf(w, "%s %s\n", symbol, text)
}

// createStdoutReport renders only the most recent cycle.
func createStdoutReport(m Model) (out []byte, err error) {
	var buf bytes.Buffer
	if len(m.Summary) == 0 {
		buf.WriteString(summaryTable(m).NoDataFound + "\n")
		return buf.Bytes(), nil
	}
	last := m.Summary[len(m.Summary)-1]
	t := Table{Name: SummaryTableName, Columns: SummaryColumns(m.HasBattery), Rows: [][]string{last.Values(m.HasBattery)}, HasRows: true}
	if err = writeTable(&buf, t); err != nil {
		return
	}
	for _, c := range m.CycleData {
		if c.CycleNum != last.CycleNum {
			continue
		}
		for _, l := range c.Lines {
			PrintLine(&buf, l.Symbol, l.Text)
		}
	}
	for _, f := range m.Failures {
		if f.CycleNum != last.CycleNum {
			continue
		}
		_, _ = failColor.Fprintf(&buf, "%s %s\n", SymbolFail, f.Problem)
		if f.Data != "" {
			buf.WriteString(indent(f.Data) + "\n")
		}
	}
	if last.Degraded {
		PrintLine(&buf, SymbolWarn, fmt.Sprintf("Hardware sleep residency %s is low", last.HardwareSleep))
	}
	PrintLine(&buf, m.Overview.Symbol, fmt.Sprintf("Result: %s", m.Overview.Verdict))
	return buf.Bytes(), nil
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "\t" + l
	}
	return strings.Join(lines, "\n")
}
