// Package test is a subcommand of the root command. It checks the s2idle prerequisites, runs
// suspend/resume cycles and reports what happened in each one.
package test

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"s2idle/internal/aggregate"
	"s2idle/internal/app"
	"s2idle/internal/common"
	"s2idle/internal/config"
	"s2idle/internal/cycle"
	"s2idle/internal/model"
	"s2idle/internal/prereq"
	"s2idle/internal/progress"
	"s2idle/internal/report"
	"s2idle/internal/store"
)

const cmdName = "test"

var examples = []string{
	fmt.Sprintf("  Run one 10 second cycle:                        $ sudo %s %s", common.AppName, cmdName),
	fmt.Sprintf("  Run 20 cycles of random length up to a minute:  $ sudo %s %s --count 20 --duration 1m --random", common.AppName, cmdName),
	fmt.Sprintf("  Suspend through systemd-logind:                 $ sudo %s %s --logind", common.AppName, cmdName),
	fmt.Sprintf("  Use settings from a run file:                   $ sudo %s %s --config run.yaml", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Check prerequisites and run suspend/resume cycles",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

// ErrPrerequisitesFailed is returned when a prerequisite failed and --force was not given.
var ErrPrerequisitesFailed = errors.New("system does not meet the s2idle prerequisites")

// flag vars
var (
	flagCount    int
	flagDuration time.Duration
	flagWait     time.Duration
	flagRandom   bool
	flagForce    bool
	flagLogind   bool
)

// flag names
const (
	flagCountName    = "count"
	flagDurationName = "duration"
	flagWaitName     = "wait"
	flagRandomName   = "random"
	flagForceName    = "force"
	flagLogindName   = "logind"
)

func init() {
	Cmd.Flags().IntVar(&flagCount, flagCountName, cycle.DefaultCount, "")
	Cmd.Flags().DurationVar(&flagDuration, flagDurationName, cycle.DefaultDuration, "")
	Cmd.Flags().DurationVar(&flagWait, flagWaitName, cycle.DefaultWait, "")
	Cmd.Flags().BoolVar(&flagRandom, flagRandomName, false, "")
	Cmd.Flags().BoolVar(&flagForce, flagForceName, false, "")
	Cmd.Flags().BoolVar(&flagLogind, flagLogindName, false, "")
	common.AddReportFlags(Cmd)
	common.AddRunFlags(Cmd)

	Cmd.SetUsageFunc(common.UsageFunc(getFlagGroups))
}

func getFlagGroups() []common.FlagGroup {
	var groups []common.FlagGroup
	flags := []common.Flag{
		{
			Name: flagCountName,
			Help: fmt.Sprintf("number of suspend/resume cycles to run (%d-%d)", cycle.MinCount, cycle.MaxCount),
		},
		{
			Name: flagDurationName,
			Help: fmt.Sprintf("time to stay suspended in each cycle (%s-%s)", cycle.MinDuration, cycle.MaxDuration),
		},
		{
			Name: flagWaitName,
			Help: fmt.Sprintf("time between cycles, at most %s", cycle.MaxWait),
		},
		{
			Name: flagRandomName,
			Help: fmt.Sprintf("pick each cycle's duration and wait at random, up to --%s and --%s", flagDurationName, flagWaitName),
		},
	}
	groups = append(groups, common.FlagGroup{
		GroupName: "Cycle Options",
		Flags:     flags,
	})
	flags = []common.Flag{
		{
			Name: flagForceName,
			Help: "run cycles even when prerequisites fail",
		},
		{
			Name: flagLogindName,
			Help: "suspend through systemd-logind instead of /sys/power/state",
		},
	}
	groups = append(groups, common.FlagGroup{
		GroupName: "Other Options",
		Flags:     flags,
	})
	groups = append(groups, common.GetReportFlagGroup())
	groups = append(groups, common.GetRunFlagGroup())
	return groups
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if flagCount < cycle.MinCount || flagCount > cycle.MaxCount {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s must be between %d and %d", flagCountName, cycle.MinCount, cycle.MaxCount))
	}
	if flagDuration < cycle.MinDuration || flagDuration > cycle.MaxDuration {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s must be between %s and %s", flagDurationName, cycle.MinDuration, cycle.MaxDuration))
	}
	if flagWait < 0 || flagWait > cycle.MaxWait {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s must be between 0s and %s", flagWaitName, cycle.MaxWait))
	}
	if err := common.ValidateReportFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

// applyCycleFlags overrides the run file's cycle settings with the flags the user set
func applyCycleFlags(cmd *cobra.Command, run *config.Run) {
	flags := cmd.Flags()
	if flags.Changed(flagCountName) {
		run.Count = flagCount
	}
	if flags.Changed(flagDurationName) {
		run.Duration = flagDuration
	}
	if flags.Changed(flagWaitName) {
		run.Wait = flagWait
	}
	if flags.Changed(flagRandomName) {
		run.Random = flagRandom
	}
	if flags.Changed(flagLogindName) {
		run.Logind = flagLogind
	}
}

func runCmd(cmd *cobra.Command, args []string) error {
	run, err := common.LoadRun(cmd)
	if err == nil {
		applyCycleFlags(cmd, &run)
		err = run.Cycle().Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	ctx, stop := common.SignalContext(context.Background())
	defer stop()
	if err := testSystem(ctx, cmd, run); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	return nil
}

func testSystem(ctx context.Context, cmd *cobra.Command, run config.Run) error {
	session, err := app.NewSession(ctx, "/", "")
	if err != nil {
		return err
	}
	st, err := store.Open(run.Database)
	if err != nil {
		// reports still work without the database, only regeneration doesn't
		slog.Warn("unable to open database", slog.String("path", run.Database), slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "Warning: cycles will not be stored: %v\n", err)
		st = nil
	} else {
		defer st.Close()
	}

	fmt.Println("Checking prerequisites")
	prereqs := session.Prerequisites(ctx)
	printPrerequisites(prereqs)
	if st != nil {
		if err := st.RecordPrerequisites(prereqs); err != nil {
			slog.Warn("unable to record prerequisites", slog.String("error", err.Error()))
		}
	}
	reportingCommand := common.ReportingCommand{Cmd: cmd, Run: run}
	if prereqs.Failed() && !flagForce {
		summary := summarize(prereqs, cycle.Result{}, run)
		if err := reportingCommand.Report(summary); err != nil {
			return err
		}
		return fmt.Errorf("%w, use --%s to run cycles anyway", ErrPrerequisitesFailed, flagForceName)
	}

	clearMarker, err := app.MarkTestRunning()
	if err != nil {
		slog.Warn("unable to create test marker", slog.String("path", app.TestMarker), slog.String("error", err.Error()))
	}
	defer clearMarker()

	wake := session.Wake(run.Logind)
	progressBar := progress.NewCycleProgress()
	opts := []cycle.Option{cycle.WithCountdown(progressBar), cycle.WithReporter(progressBar)}
	if st != nil {
		opts = append(opts, cycle.WithRecorder(st))
	}
	orchestrator := cycle.NewOrchestrator(run.Cycle(), wake, session.Collector(), opts...)
	progressBar.Start()
	res, err := orchestrator.Run(ctx)
	progressBar.Finish()
	if err != nil {
		return err
	}
	if err := wake.UnlockSessions(context.Background()); err != nil {
		slog.Warn("unable to unlock sessions", slog.String("error", err.Error()))
	}
	if res.Aborted {
		fmt.Fprintf(os.Stderr, "Run stopped after %d of %d cycles: %s\n", len(res.Cycles), run.Count, res.AbortReason)
	}
	return reportingCommand.Report(summarize(prereqs, res, run))
}

// summarize aggregates a run into the summary the report is built from
func summarize(prereqs prereq.Result, res cycle.Result, run config.Run) model.RunSummary {
	summary := aggregate.Aggregate(prereqs.Checks, res.Cycles, run.Thresholds)
	summary.Requested = run.Count
	summary.Aborted = res.Aborted
	summary.PrereqTime = prereqs.Time
	summary.PrereqDebug = prereqs.Debug
	return summary
}

func printPrerequisites(res prereq.Result) {
	for _, c := range res.Checks {
		report.PrintLine(os.Stdout, report.Symbol(c.Verdict), c.Text)
	}
}
