// Package app ties the live system to the cycle engine for the commands that touch
// hardware, i.e., test and the suspend hooks.
package app

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"s2idle/internal/classify"
	"s2idle/internal/cycle"
	"s2idle/internal/evidence"
	"s2idle/internal/prereq"
	"s2idle/internal/util"
)

// Flag names for flags defined in the root command, but sometimes used in other commands.
const (
	FlagDebugName     = "tool-debug"
	FlagSyslogName    = "syslog"
	FlagLogStdOutName = "log-stdout"
	FlagOutputDirName = "output"
)

// commandTimeout bounds each external tool invocation, e.g., journalctl or busctl
const commandTimeout = 30 * time.Second

// TestMarker exists while the test command runs cycles. The suspend hooks skip cycles
// the test command records itself.
var TestMarker = "/run/amd-s2idle.test"

// MarkTestRunning creates TestMarker and returns a function that removes it.
func MarkTestRunning() (func(), error) {
	if err := os.WriteFile(TestMarker, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil { // #nosec G306
		return func() {}, err
	}
	return func() {
		if err := os.Remove(TestMarker); err != nil {
			slog.Warn("unable to remove test marker", slog.String("path", TestMarker), slog.String("error", err.Error()))
		}
	}, nil
}

// TestRunning reports whether the test command is running cycles.
func TestRunning() bool {
	return util.FileOrDirectoryExists(TestMarker)
}

// Session holds the evidence sources of the running system.
type Session struct {
	Sys      *evidence.System
	Runner   evidence.Runner
	Log      evidence.KernelLog
	Platform prereq.Platform
}

// NewSession opens the kernel log of the system rooted at root. A non-empty logFile is read
// instead of the live kernel log.
func NewSession(ctx context.Context, root string, logFile string) (*Session, error) {
	sys := evidence.NewSystem(root)
	runner := evidence.LocalRunner{Timeout: commandTimeout}
	log, err := evidence.OpenKernelLog(ctx, runner, sys, logFile)
	if err != nil {
		return nil, err
	}
	s := &Session{
		Sys:      sys,
		Runner:   runner,
		Log:      log,
		Platform: prereq.Probe(sys),
	}
	slog.Info("session opened", slog.String("root", root), slog.String("kernel log", log.Name()),
		slog.String("cpu", s.Platform.CPU.ModelName), slog.String("kernel", s.Platform.Release))
	return s, nil
}

// Prerequisites evaluates the prerequisite rules against the system.
func (s *Session) Prerequisites(ctx context.Context) prereq.Result {
	return prereq.Evaluate(ctx, s.Sys, s.Log)
}

// Collector returns a cycle collector for the system.
func (s *Session) Collector() *cycle.Collector {
	return &cycle.Collector{
		Log:      s.Log,
		Counters: s.Sys,
		Platform: classify.Context{
			CPUFamily:  s.Platform.CPU.Family,
			CPUModel:   s.Platform.CPU.Model,
			SMUVersion: s.Platform.SMUVersion,
		},
		WakeTolerance: cycle.DefaultWakeTolerance,
	}
}

// Wake returns the wake control for the system. logind selects systemd-logind as the
// suspend path.
func (s *Session) Wake(logind bool) *evidence.SysfsWake {
	return evidence.NewSysfsWake(s.Sys, s.Runner, logind)
}
