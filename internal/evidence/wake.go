package evidence

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrSuspendTimeout is returned when the suspend request didn't take effect in time. It
// satisfies errors.Is(err, ErrSuspendFailed).
var ErrSuspendTimeout = errors.New("suspend did not take effect")

// WakeControl programs the wake alarm and performs the blocking suspend call.
type WakeControl interface {
	ArmWakeAlarm(d time.Duration) error
	// Suspend blocks until the system resumes and returns the wall-clock time spent in the
	// call. timeout bounds the wait for the suspend to take effect; zero disables it.
	Suspend(ctx context.Context, timeout time.Duration) (time.Duration, error)
}

// WallNow returns the current time without a monotonic clock reading. The monotonic clock
// stops while the system is suspended, so durations that span a suspend must be measured
// on the wall clock.
func WallNow() time.Time {
	return time.Now().Round(0)
}

// SysfsWake suspends through /sys/power/state, or through systemd-logind when Logind is set,
// and wakes the system with the RTC alarm.
type SysfsWake struct {
	sys          *System
	runner       Runner
	Logind       bool
	PollInterval time.Duration
	// pending holds the result of a write to /sys/power/state that outlived its timeout
	pending chan error
}

// NewSysfsWake returns a wake control for sys. logind selects systemd-logind as the suspend path.
func NewSysfsWake(sys *System, runner Runner, logind bool) *SysfsWake {
	return &SysfsWake{sys: sys, runner: runner, Logind: logind, PollInterval: time.Second}
}

// ArmWakeAlarm clears and then programs the first RTC wake alarm to fire after d.
func (w *SysfsWake) ArmWakeAlarm(d time.Duration) error {
	alarms := w.sys.Glob("sys", "class", "rtc", "*", "wakealarm")
	if len(alarms) == 0 {
		return unavailable("RTC wakealarm", os.ErrNotExist)
	}
	rel := strings.TrimPrefix(alarms[0], w.sys.Root)
	if err := w.sys.WriteString("0", rel); err != nil {
		return err
	}
	seconds := int64(math.Ceil(d.Seconds()))
	if err := w.sys.WriteString(fmt.Sprintf("+%d\n", seconds), rel); err != nil {
		return err
	}
	slog.Debug("programmed wake alarm", slog.String("path", alarms[0]), slog.Int64("seconds", seconds))
	return nil
}

// TogglePMDebug enables or disables pm_debug_messages so the kernel logs suspend internals.
func (w *SysfsWake) TogglePMDebug(enable bool) error {
	value := "0"
	if enable {
		value = "1"
	}
	return w.sys.WriteString(value, "sys", "power", "pm_debug_messages")
}

func (w *SysfsWake) Suspend(ctx context.Context, timeout time.Duration) (time.Duration, error) {
	if err := w.TogglePMDebug(true); err != nil {
		slog.Warn("unable to enable pm_debug_messages", slog.String("error", err.Error()))
	}
	defer func() {
		if err := w.TogglePMDebug(false); err != nil {
			slog.Debug("unable to disable pm_debug_messages", slog.String("error", err.Error()))
		}
	}()
	if w.Logind {
		return w.suspendLogind(ctx, timeout)
	}
	return w.suspendSysfs(timeout)
}

func (w *SysfsWake) toggleNvidia(value string) error {
	if !w.sys.Exists("proc", "driver", "nvidia", "suspend") {
		return nil
	}
	if err := w.sys.WriteString(value, "proc", "driver", "nvidia", "suspend"); err != nil {
		return suspendFailed(err, "failed to set %s in NVIDIA driver", value)
	}
	slog.Debug("wrote to NVIDIA driver", slog.String("value", value))
	return nil
}

// pendingWrite reports whether the state write of an earlier timed out suspend is still blocked.
func (w *SysfsWake) pendingWrite() bool {
	if w.pending == nil {
		return false
	}
	select {
	case err := <-w.pending:
		slog.Debug("earlier suspend request finished", slog.Any("error", err))
		w.pending = nil
		return false
	default:
		return true
	}
}

func (w *SysfsWake) suspendSysfs(timeout time.Duration) (elapsed time.Duration, err error) {
	if w.pendingWrite() {
		return 0, suspendFailed(ErrSuspendTimeout, "an earlier suspend request is still pending")
	}
	if err = w.toggleNvidia("suspend"); err != nil {
		return 0, err
	}
	defer func() {
		if resumeErr := w.toggleNvidia("resume"); resumeErr != nil && err == nil {
			err = resumeErr
		}
	}()
	before := w.sys.WakeupCount()
	if w.sys.Live() {
		unix.Sync()
	}
	start := WallNow()
	done := make(chan error, 1)
	go func() {
		done <- w.sys.WriteString("mem", "sys", "power", "state")
	}()
	var expired <-chan time.Time
	if timeout > 0 {
		// runtime timers run on the monotonic clock, which doesn't advance while suspended
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case err = <-done:
		elapsed = WallNow().Sub(start)
		if err != nil {
			return elapsed, suspendFailed(err, "failed to set suspend state (wakeup count %d -> %d)", before, w.sys.WakeupCount())
		}
	case <-expired:
		w.pending = done
		return WallNow().Sub(start), suspendFailed(ErrSuspendTimeout, "no resume within %s", timeout)
	}
	return elapsed, nil
}

func (w *SysfsWake) busctl(ctx context.Context, verb, member string) (string, error) {
	args := []string{"--system", verb, "org.freedesktop.login1", "/org/freedesktop/login1", "org.freedesktop.login1.Manager", member}
	stdout, stderr, _, err := w.runner.Run(ctx, "busctl", args...)
	if err != nil {
		return "", errors.Wrapf(err, "busctl %s %s: %s", verb, member, strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}

// CanSuspend asks logind whether the system may be suspended.
func (w *SysfsWake) CanSuspend(ctx context.Context) (bool, error) {
	out, err := w.busctl(ctx, "call", "CanSuspend")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, `"yes"`), nil
}

func (w *SysfsWake) preparingForSleep(ctx context.Context) (bool, error) {
	out, err := w.busctl(ctx, "get-property", "PreparingForSleep")
	if err != nil {
		return false, err
	}
	return strings.HasSuffix(out, "true"), nil
}

func (w *SysfsWake) suspendLogind(ctx context.Context, timeout time.Duration) (time.Duration, error) {
	ok, err := w.CanSuspend(ctx)
	if err != nil {
		return 0, suspendFailed(err, "unable to communicate with logind")
	}
	if !ok {
		return 0, suspendFailed(nil, "logind refused to suspend")
	}
	before, _ := w.sys.SuspendCount()
	start := WallNow()
	if _, stderr, _, err := w.runner.Run(ctx, "systemctl", "suspend"); err != nil {
		return 0, suspendFailed(err, "systemctl suspend: %s", strings.TrimSpace(stderr))
	}
	deadline := time.Now().Add(timeout)
	entered := false
	for {
		preparing, err := w.preparingForSleep(ctx)
		if err != nil {
			return WallNow().Sub(start), suspendFailed(err, "unable to communicate with logind")
		}
		if preparing {
			entered = true
		} else if entered {
			break
		} else if after, err := w.sys.SuspendCount(); err == nil && after != before {
			break
		}
		if !entered && timeout > 0 && time.Now().After(deadline) {
			return WallNow().Sub(start), suspendFailed(ErrSuspendTimeout, "logind did not start suspend within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return WallNow().Sub(start), ctx.Err()
		case <-time.After(w.PollInterval):
		}
	}
	return WallNow().Sub(start), nil
}

// UnlockSessions unlocks the sessions logind locked when it suspended the system.
func (w *SysfsWake) UnlockSessions(ctx context.Context) error {
	if !w.Logind {
		return nil
	}
	if _, stderr, _, err := w.runner.Run(ctx, "loginctl", "unlock-sessions"); err != nil {
		return errors.Wrapf(err, "loginctl unlock-sessions: %s", strings.TrimSpace(stderr))
	}
	return nil
}
