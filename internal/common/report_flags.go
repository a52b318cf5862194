package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"s2idle/internal/config"
	"s2idle/internal/report"
	"s2idle/internal/store"
	"s2idle/internal/util"
)

// report flags
var (
	flagFormat      string
	flagReportFile  string
	flagReportDebug bool
	flagMetricsFile string
	flagRunFile     string
	flagDatabase    string
)

// report flag names
const (
	FlagFormatName      = "format"
	FlagReportFileName  = "report-file"
	FlagReportDebugName = "report-debug"
	FlagMetricsFileName = "metrics-file"
	FlagRunFileName     = "config"
	FlagDatabaseName    = "db"
)

var reportFlags = []Flag{
	{Name: FlagFormatName, Help: fmt.Sprintf("choose report format from: %s", strings.Join(report.FormatOptions, ", "))},
	{Name: FlagReportFileName, Help: "report file path, defaults to a dated file in the output directory"},
	{Name: FlagReportDebugName, Help: "include prerequisite and kernel message debug data in the report"},
	{Name: FlagMetricsFileName, Help: "also write the run summary as Prometheus metrics to this file"},
}

var runFlags = []Flag{
	{Name: FlagRunFileName, Help: "YAML run file with cycle, threshold and report settings"},
	{Name: FlagDatabaseName, Help: "path of the cycle database"},
}

// AddReportFlags adds the report output flags to cmd.
func AddReportFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagFormat, FlagFormatName, report.FormatHtml, reportFlags[0].Help)
	cmd.Flags().StringVar(&flagReportFile, FlagReportFileName, "", reportFlags[1].Help)
	cmd.Flags().BoolVar(&flagReportDebug, FlagReportDebugName, false, reportFlags[2].Help)
	cmd.Flags().StringVar(&flagMetricsFile, FlagMetricsFileName, "", reportFlags[3].Help)
}

// AddRunFlags adds the run file and database flags to cmd.
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagRunFile, FlagRunFileName, "", runFlags[0].Help)
	cmd.Flags().StringVar(&flagDatabase, FlagDatabaseName, "", runFlags[1].Help)
}

func GetReportFlagGroup() FlagGroup {
	return FlagGroup{
		GroupName: "Report Options",
		Flags:     reportFlags,
	}
}

func GetRunFlagGroup() FlagGroup {
	return FlagGroup{
		GroupName: "Advanced Options",
		Flags:     runFlags,
	}
}

// ValidateReportFlags checks the report and run flags that are present on cmd.
func ValidateReportFlags(cmd *cobra.Command) error {
	if cmd.Flags().Lookup(FlagFormatName) != nil && !slices.Contains(report.FormatOptions, flagFormat) {
		return fmt.Errorf("format options are: %s", strings.Join(report.FormatOptions, ", "))
	}
	if flagReportFile != "" {
		dir := filepath.Dir(flagReportFile)
		exists, err := util.DirectoryExists(dir)
		if err != nil || !exists {
			return fmt.Errorf("report file directory %s does not exist", dir)
		}
	}
	if flagRunFile != "" {
		if exists, err := util.FileExists(flagRunFile); err != nil || !exists {
			return fmt.Errorf("run file %s does not exist", flagRunFile)
		}
	}
	return nil
}

// LoadRun reads the run file named by --config and applies the report and database flags the
// user set on top of it.
func LoadRun(cmd *cobra.Command) (config.Run, error) {
	run, err := config.Load(flagRunFile)
	if err != nil {
		return run, err
	}
	flags := cmd.Flags()
	if flags.Changed(FlagFormatName) || run.Report.Format == "" {
		run.Report.Format = flagFormat
	}
	if flags.Changed(FlagReportFileName) {
		run.Report.File = flagReportFile
	}
	if flags.Changed(FlagReportDebugName) {
		run.Report.Debug = flagReportDebug
	}
	if flags.Changed(FlagMetricsFileName) {
		run.Report.MetricsFile = flagMetricsFile
	}
	if flags.Changed(FlagDatabaseName) {
		run.Database = flagDatabase
	}
	if run.Database == "" {
		run.Database = store.DefaultPath()
	}
	return run, run.Validate()
}
