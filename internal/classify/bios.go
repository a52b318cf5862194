package classify

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	traceFormatRe    = regexp.MustCompile(`^"(.*?)"(,.*)`)
	traceSpecifierRe = regexp.MustCompile(`%([xXdD])`)
	traceAnySpecRe   = regexp.MustCompile(`%[^xXdD%]`)
)

// RenderBIOSTrace rewrites ACPI interpreter trace lines. ex_trace_args lines are rendered
// through their printf format, notify dispatch lines lose their node address and
// ex_trace_point lines are dropped. handled is false for any other line; drop is true when
// the line carries nothing worth keeping.
func RenderBIOSTrace(line string) (rendered string, handled bool, drop bool) {
	switch {
	case strings.Contains(line, "ex_trace_point"):
		return "", true, true
	case strings.Contains(line, "ex_trace_args"):
		_, rest, found := strings.Cut(line, ": ")
		if !found {
			return line, false, false
		}
		m := traceFormatRe.FindStringSubmatch(strings.TrimSpace(rest))
		if m == nil {
			return "", true, true
		}
		format := strings.TrimSpace(strings.ReplaceAll(m[1], `\n`, ""))
		if traceAnySpecRe.MatchString(format) {
			return line, false, false
		}
		var args []string
		for a := range strings.SplitSeq(strings.Trim(m[2], ", "), ",") {
			args = append(args, strings.TrimSpace(a))
		}
		specifiers := traceSpecifierRe.FindAllStringSubmatch(format, -1)
		if len(specifiers) > len(args) {
			return line, false, false
		}
		values := make([]any, 0, len(specifiers))
		for i, spec := range specifiers {
			if args[i] == "Unknown" {
				values = append(values, -1)
				continue
			}
			v, err := parseTraceArg(args[i], spec[1] == "d" || spec[1] == "D")
			if err != nil {
				return line, false, false
			}
			values = append(values, v)
		}
		format = strings.ReplaceAll(format, "%D", "%d")
		return fmt.Sprintf(format, values...), true, false
	case strings.Contains(line, "ev_queue_notify_reques"):
		_, rest, found := strings.Cut(line, ": ")
		if !found {
			return line, false, false
		}
		before, _, _ := strings.Cut(rest, "Node")
		return strings.TrimSpace(before), true, false
	}
	return line, false, false
}

// arguments are printed without a radix prefix; decimal conversions take decimal digits
// when they parse as such
func parseTraceArg(arg string, decimal bool) (int64, error) {
	if decimal {
		if v, err := strconv.ParseInt(arg, 10, 64); err == nil {
			return v, nil
		}
	}
	return strconv.ParseInt(strings.TrimPrefix(strings.TrimPrefix(arg, "0x"), "0X"), 16, 64)
}
