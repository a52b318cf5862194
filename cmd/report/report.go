// Package report is a subcommand of the root command. It regenerates a report from the cycles
// stored in the database.
package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"s2idle/internal/aggregate"
	"s2idle/internal/common"
	"s2idle/internal/store"
)

const cmdName = "report"

var examples = []string{
	fmt.Sprintf("  Report the cycles of the last week:        $ %s %s", common.AppName, cmdName),
	fmt.Sprintf("  Report a time window as markdown:          $ %s %s --since 2024-05-01 --until \"2024-05-02 18:00\" --format md", common.AppName, cmdName),
	fmt.Sprintf("  Report from a copied database:             $ %s %s --db ./data.db --format xlsx", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Generate a report from the stored suspend cycles",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

// flag vars
var (
	flagSince string
	flagUntil string
)

// flag names
const (
	flagSinceName = "since"
	flagUntilName = "until"
)

// defaultWindow is how far back the report looks when --since isn't given
const defaultWindow = 6 * 24 * time.Hour

// accepted --since and --until layouts
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func init() {
	Cmd.Flags().StringVar(&flagSince, flagSinceName, "", "")
	Cmd.Flags().StringVar(&flagUntil, flagUntilName, "", "")
	common.AddReportFlags(Cmd)
	common.AddRunFlags(Cmd)

	Cmd.SetUsageFunc(common.UsageFunc(getFlagGroups))
}

func getFlagGroups() []common.FlagGroup {
	var groups []common.FlagGroup
	flags := []common.Flag{
		{
			Name: flagSinceName,
			Help: "report cycles that started at or after this time, defaults to 6 days ago",
		},
		{
			Name: flagUntilName,
			Help: "report cycles that started at or before this time, defaults to now",
		},
	}
	groups = append(groups, common.FlagGroup{
		GroupName: "Time Window",
		Flags:     flags,
	})
	groups = append(groups, common.GetReportFlagGroup())
	groups = append(groups, common.GetRunFlagGroup())
	return groups
}

// parseTime parses a --since or --until value in the local time zone
func parseTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, use YYYY-MM-DD or \"YYYY-MM-DD HH:MM:SS\"", value)
}

// window returns the report's time window from the flags
func window(now time.Time) (since, until time.Time, err error) {
	since = now.Add(-defaultWindow)
	until = now
	if flagSince != "" {
		if since, err = parseTime(flagSince); err != nil {
			return
		}
	}
	if flagUntil != "" {
		if until, err = parseTime(flagUntil); err != nil {
			return
		}
	}
	if until.Before(since) {
		err = fmt.Errorf("--%s must not be before --%s", flagUntilName, flagSinceName)
	}
	return
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if _, _, err := window(time.Now()); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	if err := common.ValidateReportFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	run, err := common.LoadRun(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	since, until, _ := window(time.Now())
	st, err := store.Open(run.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	defer st.Close()
	prereqs, found, err := st.LatestPrerequisites(since, until)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	if !found {
		slog.Info("no prerequisites in window", slog.Time("since", since), slog.Time("until", until))
	}
	cycles, err := st.Cycles(since, until)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	slog.Info("generating report", slog.String("db", run.Database), slog.Int("cycles", len(cycles)),
		slog.Time("since", since), slog.Time("until", until), slog.String("format", run.Report.Format))
	summary := aggregate.Aggregate(prereqs.Checks, cycles, run.Thresholds)
	summary.PrereqTime = prereqs.Time
	summary.PrereqDebug = prereqs.Debug
	reportingCommand := common.ReportingCommand{Cmd: cmd, Run: run}
	if err := reportingCommand.Report(summary); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	return nil
}
