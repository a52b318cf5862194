package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const (
	XlsxPrimarySheetName = "Report"
	XlsxBriefSheetName   = "Brief"
	XlsxDebugSheetName   = "Debug"
)

func cellName(col int, row int) (name string) {
	columnName, err := excelize.ColumnNumberToName(col)
	if err != nil {
		return
	}
	name, err = excelize.JoinCellName(columnName, row)
	if err != nil {
		return
	}
	return
}

type xlsxStyles struct {
	bold      int
	alignLeft int
	degraded  int
	wrap      int
}

func newXlsxStyles(f *excelize.File) xlsxStyles {
	var s xlsxStyles
	s.bold, _ = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
	})
	s.alignLeft, _ = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "left",
		},
	})
	s.degraded, _ = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "left",
		},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8D7DA"}, Pattern: 1},
	})
	s.wrap, _ = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "left",
			Vertical:   "top",
			WrapText:   true,
		},
	})
	return s
}

// renderXlsxTable writes the table starting at row and advances row past it. highlight reports
// rows that get the degraded fill.
func renderXlsxTable(t Table, f *excelize.File, styles xlsxStyles, sheetName string, row *int, highlight func(int) bool) {
	col := 1
	_ = f.SetCellValue(sheetName, cellName(col, *row), t.Name)
	_ = f.SetCellStyle(sheetName, cellName(col, *row), cellName(col, *row), styles.bold)
	*row++
	if len(t.Rows) == 0 {
		_ = f.SetCellValue(sheetName, cellName(col, *row), tableNoData(t))
		*row += 2
		return
	}
	if !t.HasRows {
		// field name followed by its value
		for _, r := range t.Rows {
			_ = f.SetCellValue(sheetName, cellName(1, *row), r[0])
			_ = f.SetCellValue(sheetName, cellName(2, *row), getValueForCell(r[1]))
			_ = f.SetCellStyle(sheetName, cellName(2, *row), cellName(2, *row), styles.alignLeft)
			*row++
		}
		*row++
		return
	}
	col = 2
	for _, name := range t.Columns {
		_ = f.SetCellValue(sheetName, cellName(col, *row), name)
		_ = f.SetCellStyle(sheetName, cellName(col, *row), cellName(col, *row), styles.bold)
		col++
	}
	*row++
	for i, r := range t.Rows {
		style := styles.wrap
		if highlight != nil && highlight(i) {
			style = styles.degraded
		}
		col = 2
		for _, value := range r {
			_ = f.SetCellValue(sheetName, cellName(col, *row), getValueForCell(value))
			_ = f.SetCellStyle(sheetName, cellName(col, *row), cellName(col, *row), style)
			col++
		}
		*row++
	}
	*row++
}

func createXlsxReport(m Model, opts Options) (out []byte, err error) {
	f := excelize.NewFile()
	styles := newXlsxStyles(f)
	sheetName := XlsxPrimarySheetName
	_ = f.SetSheetName("Sheet1", sheetName)
	_ = f.SetColWidth(sheetName, "A", "A", 25)
	_ = f.SetColWidth(sheetName, "B", "L", 25)
	row := 1
	_ = f.SetCellValue(sheetName, cellName(1, row), fmt.Sprintf("amd-s2idle %s report generated %s", opts.Version, opts.Date.Format(timeLayout)))
	row += 2
	for _, t := range Tables(m) {
		switch t.Name {
		case OverviewTableName:
			row := 1
			sheetName := XlsxBriefSheetName
			_, _ = f.NewSheet(sheetName)
			_ = f.SetColWidth(sheetName, "A", "L", 25)
			renderXlsxTable(t, f, styles, sheetName, &row, nil)
		case PrereqDebugTableName, DebugTableName:
			sheetName := XlsxDebugSheetName
			debugRow := 1
			if idx, _ := f.GetSheetIndex(sheetName); idx == -1 {
				_, _ = f.NewSheet(sheetName)
				_ = f.SetColWidth(sheetName, "A", "C", 15)
				_ = f.SetColWidth(sheetName, "D", "D", 120)
			} else {
				rows, _ := f.GetRows(sheetName)
				debugRow = len(rows) + 2
			}
			renderXlsxTable(t, f, styles, sheetName, &debugRow, nil)
		case SummaryTableName:
			renderXlsxTable(t, f, styles, sheetName, &row, func(i int) bool { return m.Summary[i].Degraded })
		default:
			renderXlsxTable(t, f, styles, sheetName, &row, nil)
		}
	}
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	_, err = f.WriteTo(w)
	if err != nil {
		err = fmt.Errorf("failed to write xlsx report to buffer: %v", err)
		return
	}
	if err = w.Flush(); err != nil {
		err = fmt.Errorf("failed to flush xlsx report: %v", err)
		return
	}
	out = buf.Bytes()
	return
}

func getValueForCell(value string) (val any) {
	intValue, err := strconv.Atoi(value)
	if err == nil {
		val = intValue
		return
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err == nil {
		val = floatValue
		return
	}
	val = value
	return
}
