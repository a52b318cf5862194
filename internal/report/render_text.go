package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

func createTextReport(m Model, opts Options) (out []byte, err error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("amd-s2idle %s report generated %s\n\n", opts.Version, opts.Date.Format(timeLayout)))
	for _, t := range Tables(m) {
		sb.WriteString(fmt.Sprintf("%s\n", t.Name))
		for range len(t.Name) {
			sb.WriteString("=")
		}
		sb.WriteString("\n")
		if len(t.Rows) == 0 {
			sb.WriteString(tableNoData(t) + "\n\n")
			continue
		}
		table := tablewriter.NewWriter(&sb)
		if err = renderTable(table, t); err != nil {
			return
		}
		sb.WriteString("\n")
	}
	out = []byte(sb.String())
	return
}

func createMarkdownReport(m Model, opts Options) (out []byte, err error) {
	var sb strings.Builder
	sb.WriteString("# s2idle report\n\n")
	sb.WriteString(fmt.Sprintf("Generated by amd-s2idle %s on %s.\n\n", opts.Version, opts.Date.Format(timeLayout)))
	for _, t := range Tables(m) {
		sb.WriteString(fmt.Sprintf("## %s\n\n", t.Name))
		if len(t.Rows) == 0 {
			sb.WriteString(tableNoData(t) + "\n\n")
			continue
		}
		table := tablewriter.NewTable(&sb, tablewriter.WithRenderer(renderer.NewMarkdown()))
		if err = renderTable(table, markdownEscape(t)); err != nil {
			return
		}
		sb.WriteString("\n")
	}
	out = []byte(sb.String())
	return
}

func renderTable(table *tablewriter.Table, t Table) error {
	table.Header(t.Columns)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
		cfg.Row.Formatting.AutoWrap = tw.WrapNone
	})
	if err := table.Bulk(t.Rows); err != nil {
		return fmt.Errorf("failed to add rows to %s table: %w", t.Name, err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render %s table: %w", t.Name, err)
	}
	return nil
}

// markdownEscape keeps multi-line cells and pipes from breaking a pipe table.
func markdownEscape(t Table) Table {
	out := t
	out.Rows = make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = make([]string, len(row))
		for j, cell := range row {
			cell = strings.ReplaceAll(cell, "|", `\|`)
			out.Rows[i][j] = strings.ReplaceAll(cell, "\n", "<br>")
		}
	}
	return out
}

func tableNoData(t Table) string {
	if t.NoDataFound != "" {
		return t.NoDataFound
	}
	return noDataFound
}

// writeTable renders t to w with the default tablewriter style.
func writeTable(w io.Writer, t Table) error {
	return renderTable(tablewriter.NewWriter(w), t)
}
