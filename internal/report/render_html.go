package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
)

const htmlReportTemplate = `<!--
 * Copyright (C) 2024 Intel Corporation
 * SPDX-License-Identifier: MIT
-->
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>s2idle report</title>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <link rel="stylesheet" href="https://unpkg.com/normalize.css@8.0.1/normalize.css" integrity="sha384-M86HUGbBFILBBZ9ykMAbT3nVb0+2C7yZlF8X2CiKNpDOQjKroMJqIeGZ/Le8N2Qp" crossorigin="anonymous" referrerpolicy="no-referrer" />
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/purecss@3.0.0/build/pure-min.css" integrity="sha384-X38yfunGUhNzHpBaEBsWLO+A0HDYOQi8ufWDkZ0k9e0eXz/tH3II7uKZ9msv++Ls" crossorigin="anonymous" referrerpolicy="no-referrer" />
    <style>
        .content {
            padding: 0 2em;
            line-height: 1.6em;
        }
        .content h2 {
            font-weight: 300;
            color: #888;
        }
        .row-low td {
            background-color: #f8d7da;
        }
        .row-selected td {
            outline: 1px solid #1f8dd6;
        }
        .hidden {
            display: none;
        }
        #summary tbody tr {
            cursor: pointer;
        }
    </style>
</head>
<body>
<div class="content">
    <h1>s2idle report</h1>
    <p>Generated by amd-s2idle {{.Version}} on {{.Date}}.</p>
    <p id="verdict">{{.Model.Overview.Symbol}} Result: {{.Model.Overview.Verdict}}</p>

    <h2>Overview</h2>
    <table class="pure-table pure-table-bordered">
        <tbody>
        {{- range .Overview.Rows}}
            <tr><td>{{index . 0}}</td><td>{{index . 1}}</td></tr>
        {{- end}}
        </tbody>
    </table>

    <h2>Prerequisites</h2>
    {{- if .Model.Prereq}}
    {{- if .Model.PrereqDate}}
    <p>Checked {{.Model.PrereqDate}}</p>
    {{- end}}
    {{- range .Model.Prereq}}
    <p title="{{.Name}}">{{.Symbol}} {{.Text}}</p>
    {{- end}}
    {{- else}}
    <p>No prerequisite data found.</p>
    {{- end}}
    {{- if .Model.PrereqDebugData}}
    <details>
        <summary>Prerequisite debug data</summary>
        {{- range .Model.PrereqDebugData}}
        <pre>{{.Data}}</pre>
        {{- end}}
    </details>
    {{- end}}

    <h2>Summary</h2>
    {{- if .Model.Summary}}
    <table id="summary" class="pure-table pure-table-bordered">
        <thead>
            <tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr>
        </thead>
        <tbody>
        {{- range $i, $row := .Rows}}
            <tr class="{{if $row.Degraded}}row-low{{end}}" data-cycle="{{$row.CycleNum}}" onclick="pick_summary_cycle({{$i}})">
                {{- range $row.Cells}}<td>{{.}}</td>{{end}}
            </tr>
        {{- end}}
        </tbody>
    </table>
    {{- else}}
    <p>No sleep cycles found in the database.</p>
    {{- end}}

    {{- if .Model.Failures}}
    <h2>Failures</h2>
    <table id="failures" class="pure-table pure-table-bordered">
        <thead>
            <tr><th>Cycle</th><th>Problem</th><th>Explanation</th></tr>
        </thead>
        <tbody>
        {{- range .Model.Failures}}
            <tr data-cycle="{{.CycleNum}}"><td>{{.CycleNum}}</td><td>{{.Problem}}</td><td><pre>{{.Data}}</pre></td></tr>
        {{- end}}
        </tbody>
    </table>
    {{- end}}

    {{- range .Model.CycleData}}
    <div class="cycle-data hidden" data-cycle="{{.CycleNum}}">
        <h2>Cycle {{.CycleNum}}</h2>
        {{- range .Lines}}
        <p>{{.Symbol}} {{.Text}}</p>
        {{- end}}
    </div>
    {{- end}}

    {{- if .Model.DebugData}}
    <div id="debug-filter">
        <h2>Debug data</h2>
        {{- range .Priorities}}
        <label><input type="checkbox" checked value="{{.}}" onchange="filter_debug()"> {{.}}</label>
        {{- end}}
    </div>
    {{- range .Model.DebugData}}
    {{- $d := .}}
    <div class="debug-data hidden" data-cycle="{{.CycleNum}}">
        {{- range $i, $msg := .Messages}}
        <pre class="debug-line" data-priority="{{index $d.Priorities $i}}">{{$msg}}</pre>
        {{- end}}
    </div>
    {{- end}}
    {{- end}}
</div>
<script>
    function pick_summary_cycle(row) {
        const rows = document.querySelectorAll("#summary tbody tr");
        rows.forEach((r, i) => r.classList.toggle("row-selected", i === row));
        const cycle = rows[row].dataset.cycle;
        document.querySelectorAll(".cycle-data, .debug-data").forEach(d => d.classList.toggle("hidden", d.dataset.cycle !== cycle));
        document.querySelectorAll("#failures tbody tr").forEach(r => r.classList.toggle("hidden", r.dataset.cycle !== cycle));
    }
    function filter_debug() {
        const shown = Array.from(document.querySelectorAll("#debug-filter input:checked")).map(i => i.value);
        document.querySelectorAll(".debug-line").forEach(l => l.classList.toggle("hidden", !shown.includes(l.dataset.priority)));
    }
    if (document.querySelectorAll("#summary tbody tr").length > 0) {
        pick_summary_cycle(document.querySelectorAll("#summary tbody tr").length - 1);
    }
</script>
</body>
</html>
`

type htmlSummaryRow struct {
	CycleNum int
	Degraded bool
	Cells    []string
}

var htmlTemplate = htmltemplate.Must(htmltemplate.New("report").Parse(htmlReportTemplate))

type htmlReport struct {
	Model      Model
	Version    string
	Date       string
	Overview   Table
	Columns    []string
	Rows       []htmlSummaryRow
	Priorities []string
}

func createHtmlReport(m Model, opts Options) (out []byte, err error) {
	data := htmlReport{
		Model:    m,
		Version:  opts.Version,
		Date:     opts.Date.Format(timeLayout),
		Overview: overviewTable(m),
		Columns:  SummaryColumns(m.HasBattery),
	}
	for _, r := range m.Summary {
		data.Rows = append(data.Rows, htmlSummaryRow{CycleNum: r.CycleNum, Degraded: r.Degraded, Cells: r.Values(m.HasBattery)})
	}
	seen := make(map[string]bool)
	for _, d := range m.DebugData {
		for _, p := range d.Priorities {
			if !seen[p] {
				seen[p] = true
				data.Priorities = append(data.Priorities, p)
			}
		}
	}
	var buf bytes.Buffer
	if err = htmlTemplate.Execute(&buf, data); err != nil {
		err = fmt.Errorf("failed to render html report: %w", err)
		return
	}
	out = buf.Bytes()
	return
}
