// Package install provides the install and uninstall subcommands of the root command. They
// manage the systemd-sleep script that records every suspend the system makes.
package install

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"s2idle/internal/app"
	"s2idle/internal/common"
	"s2idle/internal/util"
)

const cmdName = "install"

var examples = []string{
	fmt.Sprintf("  Record every suspend:                   $ sudo %s %s", common.AppName, cmdName),
	fmt.Sprintf("  Record into a specific database:        $ sudo %s %s --db /var/lib/s2idle/laptop.db", common.AppName, cmdName),
	fmt.Sprintf("  Stop recording:                         $ sudo %s uninstall", common.AppName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Install a systemd-sleep hook that records every suspend cycle",
	Example:       strings.Join(examples, "\n"),
	RunE:          runInstall,
	PreRunE:       validateFlags,
	GroupID:       "other",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var UninstallCmd = &cobra.Command{
	Use:           "uninstall",
	Short:         "Remove the systemd-sleep hook",
	RunE:          runUninstall,
	GroupID:       "other",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

// systemd-sleep directories, in order of preference
var hookDirs = []string{
	"/usr/lib/systemd/system-sleep",
	"/lib/systemd/system-sleep",
}

// hookName is the file name of the script in the systemd-sleep directory
const hookName = "amd-s2idle"

var hookTemplate = template.Must(template.New("hook").Parse(`#!/bin/sh
# Installed by {{.App}}. Remove with '{{.App}} uninstall'.
[ "$2" = "suspend" ] || exit 0
case "$1" in
pre|post)
	exec {{.Exe}} --{{.SyslogFlag}} hook "$1"{{range .Args}} {{.}}{{end}}
	;;
esac
`))

func init() {
	common.AddRunFlags(Cmd)
	Cmd.SetUsageFunc(common.UsageFunc(func() []common.FlagGroup {
		return []common.FlagGroup{common.GetRunFlagGroup()}
	}))
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if err := common.ValidateReportFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

// hookScript renders the script that runs exe's hook subcommand with args
func hookScript(exe string, args []string) ([]byte, error) {
	var quoted []string
	for _, arg := range args {
		quoted = append(quoted, "'"+strings.ReplaceAll(arg, "'", `'\''`)+"'")
	}
	var buf bytes.Buffer
	err := hookTemplate.Execute(&buf, struct {
		App        string
		Exe        string
		SyslogFlag string
		Args       []string
	}{common.AppName, exe, app.FlagSyslogName, quoted})
	return buf.Bytes(), err
}

// findHookDir returns the first systemd-sleep directory that exists
func findHookDir() (string, error) {
	for _, dir := range hookDirs {
		if exists, err := util.DirectoryExists(dir); err == nil && exists {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no systemd-sleep directory found, tried %s", strings.Join(hookDirs, ", "))
}

// hookArgs returns the flags passed through to the hook, as absolute paths
func hookArgs(cmd *cobra.Command) ([]string, error) {
	var args []string
	for _, name := range []string{common.FlagDatabaseName, common.FlagRunFileName} {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		path, err := util.AbsPath(flag.Value.String())
		if err != nil {
			return nil, err
		}
		args = append(args, "--"+name, path)
	}
	return args, nil
}

func requireRoot() error {
	if unix.Geteuid() != 0 {
		return fmt.Errorf("%s must be run as root", common.AppName)
	}
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	err := installHook(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
	}
	return err
}

func installHook(cmd *cobra.Command) error {
	if err := requireRoot(); err != nil {
		return err
	}
	dir, err := findHookDir()
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate %s: %w", common.AppName, err)
	}
	if exe, err = filepath.EvalSymlinks(exe); err != nil {
		return fmt.Errorf("failed to resolve %s: %w", common.AppName, err)
	}
	passThrough, err := hookArgs(cmd)
	if err != nil {
		return err
	}
	script, err := hookScript(exe, passThrough)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, hookName)
	if err := os.WriteFile(path, script, 0755); err != nil { // #nosec G306
		return fmt.Errorf("failed to write hook: %w", err)
	}
	slog.Info("installed hook", slog.String("path", path), slog.String("exe", exe))
	fmt.Printf("Installed %s\n", path)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	err := uninstallHook()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
	}
	return err
}

func uninstallHook() error {
	if err := requireRoot(); err != nil {
		return err
	}
	removed := false
	for _, dir := range hookDirs {
		path := filepath.Join(dir, hookName)
		if !util.FileOrDirectoryExists(path) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove hook: %w", err)
		}
		slog.Info("removed hook", slog.String("path", path))
		fmt.Printf("Removed %s\n", path)
		removed = true
	}
	if !removed {
		fmt.Println("No hook installed")
	}
	return nil
}
