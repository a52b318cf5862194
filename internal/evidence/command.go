package evidence

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner executes external tools, e.g., journalctl, dmesg, systemctl and busctl.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout string, stderr string, exitCode int, err error)
}

// LocalRunner runs commands on the local system. A zero Timeout applies no timeout.
type LocalRunner struct {
	Timeout time.Duration
}

// Run executes a local command and captures its standard output, standard error and exit code.
func (r LocalRunner) Run(ctx context.Context, name string, args ...string) (stdout string, stderr string, exitCode int, err error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
	slog.Debug("running local command", slog.String("cmd", cmd.String()), slog.Duration("timeout", r.Timeout))
	var outbuf, errbuf strings.Builder
	cmd.Stdout = &outbuf
	cmd.Stderr = &errbuf
	err = cmd.Run()
	stdout = outbuf.String()
	stderr = errbuf.String()
	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		}
	}
	return
}

// LookPath reports whether the named tool is on the PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
