// Package common defines data structures and functions that are used by multiple
// application commands, e.g., test, report, hook.
package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"s2idle/internal/config"
	"s2idle/internal/metrics"
	"s2idle/internal/model"
	"s2idle/internal/report"
)

var AppName = filepath.Base(os.Args[0])

// AppContext represents the application context that can be accessed from all commands.
type AppContext struct {
	Timestamp   string // Timestamp is the application start time.
	OutputDir   string // OutputDir is the directory where the application writes reports.
	LogFilePath string // LogFilePath is the path to the log file, empty when logging elsewhere.
	Version     string // Version is the version of the application.
	Debug       bool   // Debug is set when the application runs with --tool-debug.
}

type Flag struct {
	Name string
	Help string
}
type FlagGroup struct {
	GroupName string
	Flags     []Flag
}

// GetAppContext returns the application context stored on the root command.
func GetAppContext(cmd *cobra.Command) AppContext {
	ctx := cmd.Root().Context()
	if ctx == nil {
		return AppContext{}
	}
	if appContext, ok := ctx.Value(AppContext{}).(AppContext); ok {
		return appContext
	}
	return AppContext{}
}

// UsageFunc returns a cobra usage function that prints the command's flags in groups.
func UsageFunc(getFlagGroups func() []FlagGroup) func(cmd *cobra.Command) error {
	return func(cmd *cobra.Command) error {
		cmd.Printf("Usage: %s [flags]\n\n", cmd.CommandPath())
		if cmd.Example != "" {
			cmd.Printf("Examples:\n%s\n\n", cmd.Example)
		}
		cmd.Println("Flags:")
		for _, group := range getFlagGroups() {
			cmd.Printf("  %s:\n", group.GroupName)
			for _, flag := range group.Flags {
				flagDefault := ""
				if f := cmd.Flags().Lookup(flag.Name); f != nil && f.DefValue != "" && f.DefValue != "false" {
					flagDefault = fmt.Sprintf(" (default: %s)", f.DefValue)
				}
				cmd.Printf("    --%-20s %s%s\n", flag.Name, flag.Help, flagDefault)
			}
		}
		cmd.Println("\nGlobal Flags:")
		cmd.Root().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
			flagDefault := ""
			if pf.DefValue != "" && pf.DefValue != "false" {
				flagDefault = fmt.Sprintf(" (default: %s)", pf.DefValue)
			}
			cmd.Printf("  --%-20s %s%s\n", pf.Name, pf.Usage, flagDefault)
		})
		return nil
	}
}

// SignalContext returns a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChannel:
			slog.Info("received signal", slog.String("signal", sig.String()))
			fmt.Fprintln(os.Stderr, "\nStopping after the current cycle")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChannel)
		cancel()
	}
}

// ReportingCommand is the common flow for commands that end in a report, i.e., 'test' and 'report'.
type ReportingCommand struct {
	Cmd *cobra.Command
	Run config.Run
}

// Report renders the summary in the configured format, writes it and the optional metrics
// file, and prints where they went. The stdout format is printed instead of written.
func (rc *ReportingCommand) Report(summary model.RunSummary) error {
	appContext := GetAppContext(rc.Cmd)
	settings := rc.Run.Report
	reportBytes, err := report.Create(report.Build(summary), report.Options{
		Format:  settings.Format,
		Debug:   settings.Debug,
		Version: appContext.Version,
		Date:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if settings.Format == report.FormatStdout {
		fmt.Print(string(reportBytes))
	} else {
		reportPath := settings.File
		if reportPath == "" {
			if err := CreateOutputDir(appContext.OutputDir); err != nil {
				return err
			}
			reportPath = filepath.Join(appContext.OutputDir, report.DefaultFileName(settings.Format, time.Now()))
		}
		if err := writeReport(reportBytes, reportPath); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report written to %s\n", reportPath)
	}
	if settings.MetricsFile != "" {
		if err := metrics.WriteTextfile(settings.MetricsFile, summary); err != nil {
			return err
		}
		fmt.Printf("Metrics written to %s\n", settings.MetricsFile)
	}
	return nil
}

// CreateOutputDir creates the output directory if it does not exist
func CreateOutputDir(outputDir string) error {
	if outputDir == "" {
		return nil
	}
	err := os.MkdirAll(outputDir, 0755) // #nosec G301
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// FlagValidationError is used to report an error with a flag
func FlagValidationError(cmd *cobra.Command, msg string) error {
	err := errors.New(msg)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	fmt.Fprintf(os.Stderr, "See '%s --help' for usage details.\n", cmd.CommandPath())
	cmd.SilenceUsage = true
	return err
}

// writeReport writes the report bytes to the specified path. When run through sudo the file
// is handed to the invoking user.
func writeReport(reportBytes []byte, reportPath string) error {
	err := os.WriteFile(reportPath, reportBytes, 0644) // #nosec G306
	if err != nil {
		err = fmt.Errorf("failed to write report file: %v", err)
		fmt.Fprintln(os.Stderr, err)
		slog.Error(err.Error())
		return err
	}
	uid, uidErr := strconv.Atoi(os.Getenv("SUDO_UID"))
	gid, gidErr := strconv.Atoi(os.Getenv("SUDO_GID"))
	if uidErr == nil && gidErr == nil {
		if err := os.Chown(reportPath, uid, gid); err != nil {
			slog.Warn("failed to change report owner", slog.String("path", reportPath), slog.String("error", err.Error()))
		}
	}
	slog.Info("wrote report", slog.String("path", reportPath))
	return nil
}
