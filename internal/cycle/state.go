package cycle

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
)

// State is a step of one suspend/resume iteration.
type State int

const (
	StateIdle State = iota
	StateArming
	StateSuspending
	StateSuspended
	StateResuming
	StateCapturing
	StateComplete
	StateAborted
)

var stateNames = []string{"idle", "arming", "suspending", "suspended", "resuming", "capturing", "complete", "aborted"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves the state.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateAborted
}

// CanTransition reports whether the machine may move from s to next. Aborted is reachable
// from every non-terminal state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateAborted {
		return true
	}
	return next == s+1
}

// Reporter receives the state of the running cycle, e.g., to drive a progress display.
type Reporter interface {
	CycleState(cycleNum, count int, state State)
}

type machine struct {
	cycleNum int
	count    int
	state    State
	reporter Reporter
}

func (m *machine) to(next State) {
	if !m.state.CanTransition(next) {
		slog.Error("invalid cycle transition", slog.Int("cycle", m.cycleNum), slog.String("from", m.state.String()), slog.String("to", next.String()))
		return
	}
	slog.Debug("cycle transition", slog.Int("cycle", m.cycleNum), slog.String("from", m.state.String()), slog.String("to", next.String()))
	m.state = next
	if m.reporter != nil {
		m.reporter.CycleState(m.cycleNum, m.count, next)
	}
}
