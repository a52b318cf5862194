// Package hook is a hidden subcommand of the root command. The systemd-sleep script written by
// 'install' calls it before every suspend and after every resume.
package hook

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"s2idle/internal/aggregate"
	"s2idle/internal/app"
	"s2idle/internal/common"
	"s2idle/internal/config"
	"s2idle/internal/cycle"
	"s2idle/internal/metrics"
	"s2idle/internal/store"
)

const cmdName = "hook"

var Cmd = &cobra.Command{
	Use:    cmdName,
	Short:  "Record a suspend cycle from a systemd-sleep hook",
	Hidden: true,
}

var preCmd = &cobra.Command{
	Use:           "pre",
	Short:         "Check prerequisites once per boot and record the start of a cycle",
	RunE:          runPre,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var postCmd = &cobra.Command{
	Use:           "post",
	Short:         "Record the cycle that just resumed",
	RunE:          runPost,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

func init() {
	for _, c := range []*cobra.Command{preCmd, postCmd} {
		common.AddRunFlags(c)
		c.SetUsageFunc(common.UsageFunc(func() []common.FlagGroup {
			return []common.FlagGroup{common.GetRunFlagGroup()}
		}))
		Cmd.AddCommand(c)
	}
}

// system the hooks inspect, and the kernel log file read instead of the live log when set
var (
	systemRoot    = "/"
	kernelLogFile = ""
)

// hookEnv is what both hooks open before touching the database
type hookEnv struct {
	run       config.Run
	st        *store.Store
	boot      time.Time
	session   *app.Session
	collector *cycle.Collector
}

func openHookEnv(ctx context.Context, cmd *cobra.Command) (*hookEnv, error) {
	run, err := common.LoadRun(cmd)
	if err != nil {
		return nil, err
	}
	session, err := app.NewSession(ctx, systemRoot, kernelLogFile)
	if err != nil {
		return nil, err
	}
	boot, err := session.Sys.BootTime()
	if err != nil {
		return nil, fmt.Errorf("failed to read boot time: %w", err)
	}
	st, err := store.Open(run.Database)
	if err != nil {
		return nil, err
	}
	collector := session.Collector()
	collector.WakeTolerance = run.WakeTolerance
	collector.DebugCapture = run.Report.Debug
	return &hookEnv{run: run, st: st, boot: boot, session: session, collector: collector}, nil
}

// hookError reports err the way the other commands do
func hookError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	slog.Error(err.Error())
	cmd.SilenceUsage = true
	return err
}

func runPre(cmd *cobra.Command, args []string) error {
	if app.TestRunning() {
		slog.Info("test command is running, skipping pre-suspend hook")
		return nil
	}
	ctx := context.Background()
	env, err := openHookEnv(ctx, cmd)
	if err != nil {
		return hookError(cmd, err)
	}
	defer env.st.Close()
	res, evaluated, err := cycle.RunPrerequisitesOnce(ctx, env.st, env.boot, env.session.Prerequisites, env.collector)
	if err != nil {
		return hookError(cmd, err)
	}
	if evaluated && res.Failed() {
		slog.Warn("prerequisites failed", slog.Int("checks", len(res.Checks)))
	}
	return nil
}

func runPost(cmd *cobra.Command, args []string) error {
	if app.TestRunning() {
		slog.Info("test command is running, skipping post-resume hook")
		return nil
	}
	ctx := context.Background()
	env, err := openHookEnv(ctx, cmd)
	if err != nil {
		return hookError(cmd, err)
	}
	defer env.st.Close()
	rec, err := cycle.FinalizeCycle(ctx, env.st, env.boot, env.collector)
	if errors.Is(err, cycle.ErrNoPendingCycle) {
		slog.Warn("resume without a recorded suspend, skipping")
		return nil
	}
	if err != nil {
		return hookError(cmd, err)
	}
	slog.Info("recorded cycle", slog.Int("cycle", rec.CycleNum), slog.Float64("hardware sleep", rec.Residency()),
		slog.Bool("incomplete", rec.Incomplete), slog.Int("failures", len(rec.Failures)))
	if env.run.Report.MetricsFile != "" {
		if err := writeBootMetrics(env); err != nil {
			return hookError(cmd, err)
		}
	}
	return nil
}

// writeBootMetrics refreshes the metrics file with every cycle recorded since boot
func writeBootMetrics(env *hookEnv) error {
	now := time.Now()
	prereqs, _, err := env.st.LatestPrerequisites(env.boot, now)
	if err != nil {
		return err
	}
	cycles, err := env.st.Cycles(env.boot, now)
	if err != nil {
		return err
	}
	summary := aggregate.Aggregate(prereqs.Checks, cycles, env.run.Thresholds)
	return metrics.WriteTextfile(env.run.Report.MetricsFile, summary)
}
