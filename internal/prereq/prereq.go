// Package prereq checks that the platform is configured for s2idle before any cycle runs.
package prereq

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"s2idle/internal/evidence"
	"s2idle/internal/model"
)

// Platform holds the facts about the system that rules and the classifier share.
type Platform struct {
	CPU        evidence.CPU
	SMUVersion string
	SMUProgram string
	Release    string
	CmdLine    string
}

// IsAMD reports whether the CPU vendor is AMD.
func (p Platform) IsAMD() bool {
	return p.CPU.Vendor == "AuthenticAMD"
}

func (p Platform) vendor() string {
	if p.CPU.Vendor == "" {
		return "unknown CPU vendor"
	}
	return p.CPU.Vendor
}

// Env is what rules read from.
type Env struct {
	Sys      *evidence.System
	Log      evidence.KernelLog
	Platform Platform

	ctx     context.Context
	bootLog []evidence.LogLine
	logErr  error
	logRead bool
}

// BootLog returns the kernel log since boot, read once and cached.
func (e *Env) BootLog() ([]evidence.LogLine, error) {
	if e.logRead {
		return e.bootLog, e.logErr
	}
	e.logRead = true
	if e.Log == nil {
		e.logErr = fmt.Errorf("no kernel log provider")
		return nil, e.logErr
	}
	e.bootLog, e.logErr = e.Log.Read(e.ctx, time.Time{}, time.Time{})
	return e.bootLog, e.logErr
}

// Rule is one prerequisite. Check returns exactly one result.
type Rule struct {
	Name    string
	AMDOnly bool
	Check   func(env *Env) model.CheckResult
}

// Result is the outcome of one evaluation pass.
type Result struct {
	Time     time.Time
	Checks   []model.CheckResult
	Platform Platform
	Debug    []string
}

// Failed reports whether any rule failed.
func (r Result) Failed() bool {
	for _, c := range r.Checks {
		if c.Verdict == model.VerdictFail {
			return true
		}
	}
	return false
}

// Probe gathers the platform facts the rules depend on.
func Probe(sys *evidence.System) Platform {
	var p Platform
	var err error
	if p.CPU, err = sys.CPUInfo(); err != nil {
		slog.Warn("unable to read cpuinfo", slog.String("error", err.Error()))
	}
	p.Release, _ = sys.KernelRelease()
	p.CmdLine, _ = sys.CommandLine()
	for _, dev := range sys.PlatformDevices("amd_pmc") {
		rel, err := filepath.Rel(sys.Root, dev)
		if err != nil {
			continue
		}
		p.SMUVersion, _ = sys.ReadString(rel, "smu_fw_version")
		p.SMUProgram, _ = sys.ReadString(rel, "smu_program")
		break
	}
	return p
}

// Evaluate runs the rules in registration order and returns one check per rule. AMD
// specific rules are reported as skipped on other vendors. Unreadable state yields a warning, never an error.
func Evaluate(ctx context.Context, sys *evidence.System, log evidence.KernelLog) Result {
	return evaluateRules(ctx, sys, log, Rules())
}

func evaluateRules(ctx context.Context, sys *evidence.System, log evidence.KernelLog, rules []Rule) Result {
	env := &Env{Sys: sys, Log: log, Platform: Probe(sys), ctx: ctx}
	res := Result{Time: evidence.WallNow(), Platform: env.Platform}
	for _, rule := range rules {
		var check model.CheckResult
		if rule.AMDOnly && !env.Platform.IsAMD() {
			slog.Debug("skipping AMD rule", slog.String("rule", rule.Name))
			check = info("Skipped on %s", env.Platform.vendor())
		} else {
			check = rule.Check(env)
		}
		check.Name = rule.Name
		slog.Debug("prerequisite", slog.String("rule", rule.Name), slog.String("verdict", check.Verdict.String()), slog.String("text", check.Text))
		res.Checks = append(res.Checks, check)
	}
	res.Debug = debugData(env)
	return res
}

func pass(format string, args ...any) model.CheckResult {
	return model.CheckResult{Verdict: model.VerdictPass, Text: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) model.CheckResult {
	return model.CheckResult{Verdict: model.VerdictFail, Text: fmt.Sprintf(format, args...)}
}

func warn(format string, args ...any) model.CheckResult {
	return model.CheckResult{Verdict: model.VerdictWarn, Text: fmt.Sprintf(format, args...)}
}

func info(format string, args ...any) model.CheckResult {
	return model.CheckResult{Verdict: model.VerdictInfo, Text: fmt.Sprintf(format, args...)}
}

func unreadable(what string, err error) model.CheckResult {
	r := warn("Unable to check %s", what)
	if err != nil {
		r.Debug = err.Error()
	}
	return r
}

// filtered from the command line shown in reports
var cmdlineFilter = []string{
	"apparmor", "audit", "auto", "boot", "BOOT_IMAGE", "console", "crashkernel", "cryptdevice",
	"cryptkey", "dm", "earlycon", "earlyprintk", "init", "initrd", "ip", "LANG", "loglevel",
	"luks.", "mitigations", "mount.usr", "netroot", "nfsroot", "noplymouth", "nowatchdog",
	"ostree", "preempt", "quiet", "rd.", "resume", "rhgb", "ro", "root", "rw", "security",
	"selinux", "splash", "swap", "systemd.", "udev.log_priority", "verbose", "vt.handoff", "zfs",
	"zswap.enabled",
}

// FilterCommandLine drops boot plumbing and identifying parameters from a kernel command line.
func FilterCommandLine(cmdline string) string {
	var kept []string
	for _, arg := range strings.Fields(cmdline) {
		drop := false
		for _, prefix := range cmdlineFilter {
			if strings.HasPrefix(arg, prefix) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, arg)
		}
	}
	return strings.Join(kept, " ")
}

func debugData(env *Env) []string {
	sys := env.Sys
	debug := []string{fmt.Sprintf("/proc/cmdline: %s", FilterCommandLine(env.Platform.CmdLine))}
	if v, err := sys.ReadString("sys", "devices", "system", "cpu", "smt", "control"); err == nil {
		debug = append(debug, "SMT control: "+v)
	}
	for _, lid := range sys.LidStates() {
		debug = append(debug, "ACPI Lid "+lid)
	}
	for _, param := range []string{"ignore_wake", "ignore_interrupt"} {
		v, err := sys.ReadString("sys", "module", "gpiolib_acpi", "parameters", param)
		if err == nil && v != "(null)" {
			debug = append(debug, fmt.Sprintf("gpiolib_acpi %s is configured to %s", param, v))
		}
	}
	if sys.Lockdown() {
		debug = append(debug, "Kernel lockdown is engaged")
	}
	return debug
}
