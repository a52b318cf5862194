// Package report shapes a run summary into a format neutral model and renders it as
// md, html, txt, json, xlsx or a short colored console summary.
package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strings"
	"time"
)

const (
	FormatMarkdown = "md"
	FormatHtml     = "html"
	FormatTxt      = "txt"
	FormatJson     = "json"
	FormatXlsx     = "xlsx"
	FormatStdout   = "stdout"
)

var FormatOptions = []string{FormatMarkdown, FormatHtml, FormatTxt, FormatJson, FormatXlsx, FormatStdout}

// Options control a rendering.
type Options struct {
	Format string
	// Debug keeps the prerequisite and kernel message debug sections.
	Debug   bool
	Version string
	Date    time.Time
}

// Create renders the model in the requested format.
//
// Parameters:
// - m: the report model, see Build.
// - opts: the format and the report metadata.
//
// Returns:
// - out: the rendered report.
// - err: an error, if any occurred during rendering.
func Create(m Model, opts Options) (out []byte, err error) {
	if !opts.Debug {
		m = m.WithoutDebug()
	}
	if opts.Date.IsZero() {
		opts.Date = time.Now()
	}
	switch opts.Format {
	case FormatTxt:
		return createTextReport(m, opts)
	case FormatMarkdown:
		return createMarkdownReport(m, opts)
	case FormatJson:
		return createJsonReport(m)
	case FormatHtml:
		return createHtmlReport(m, opts)
	case FormatXlsx:
		return createXlsxReport(m, opts)
	case FormatStdout:
		return createStdoutReport(m)
	}
	return nil, fmt.Errorf("expected one of %s, got %s", strings.Join(FormatOptions, ", "), opts.Format)
}

// DefaultFileName returns the name of a report file for the format, e.g., amd-s2idle-report-2024-05-01.html.
func DefaultFileName(format string, date time.Time) string {
	return fmt.Sprintf("amd-s2idle-report-%s.%s", date.Format("2006-01-02"), format)
}
