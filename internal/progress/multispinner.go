// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package progress shows the state of the running cycles on the terminal.
*/
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"s2idle/internal/cycle"
)

var spinChars []string = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

const tickInterval = 250 * time.Millisecond

type spinnerState struct {
	label       string
	status      string
	statusIsNew bool
	spinIndex   int
}

type multiSpinner struct {
	mu       sync.Mutex
	out      io.Writer
	terminal bool
	spinners []spinnerState
	ticker   *time.Ticker
	done     chan bool
	spinning bool
}

// NewMultiSpinner creates a new MultiSpinner drawing to stderr
func NewMultiSpinner() *multiSpinner {
	return newMultiSpinner(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

func newMultiSpinner(out io.Writer, terminal bool) *multiSpinner {
	ms := multiSpinner{out: out, terminal: terminal}
	ms.done = make(chan bool)
	return &ms
}

// AddSpinner adds a spinner to the MultiSpinner
func (ms *multiSpinner) AddSpinner(label string) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	// make sure label is unique
	for _, spinner := range ms.spinners {
		if spinner.label == label {
			err = fmt.Errorf("spinner with label %s already exists", label)
			return
		}
	}
	ms.spinners = append(ms.spinners, spinnerState{label, "?", false, 0})
	return
}

// Start starts the spinner
func (ms *multiSpinner) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.spinning {
		return
	}
	ms.draw(true)
	ms.ticker = time.NewTicker(tickInterval)
	ms.spinning = true
	go ms.onTick()
}

// Finish stops the spinner
func (ms *multiSpinner) Finish() {
	ms.mu.Lock()
	spinning := ms.spinning
	ms.mu.Unlock()
	if spinning {
		ms.ticker.Stop()
		ms.done <- true
		ms.mu.Lock()
		ms.draw(false)
		ms.spinning = false
		ms.mu.Unlock()
	}
}

// Status updates the status of a spinner
func (ms *multiSpinner) Status(label string, status string) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for spinnerIdx, spinner := range ms.spinners {
		if spinner.label == label {
			if status != spinner.status {
				ms.spinners[spinnerIdx].status = status
				ms.spinners[spinnerIdx].statusIsNew = true
			}
			return
		}
	}
	err = fmt.Errorf("did not find spinner with label %s", label)
	return
}

func (ms *multiSpinner) onTick() {
	for {
		select {
		case <-ms.done:
			return
		case <-ms.ticker.C:
			ms.mu.Lock()
			ms.draw(true)
			ms.mu.Unlock()
		}
	}
}

// draw must be called with ms.mu held
func (ms *multiSpinner) draw(goUp bool) {
	for i, spinner := range ms.spinners {
		if !ms.terminal && !spinner.statusIsNew {
			continue
		}
		fmt.Fprintf(ms.out, "%-20s  %s  %-40s\n", spinner.label, spinChars[spinner.spinIndex], spinner.status)
		ms.spinners[i].statusIsNew = false
		ms.spinners[i].spinIndex += 1
		if ms.spinners[i].spinIndex >= len(spinChars) {
			ms.spinners[i].spinIndex = 0
		}
	}
	if goUp && ms.terminal {
		for range ms.spinners {
			fmt.Fprintf(ms.out, "\x1b[1A")
		}
	}
}

// spinner labels used by CycleProgress
const (
	cycleLabel = "Cycle"
	waitLabel  = "Next"
)

// CycleProgress shows the state of the current cycle and the countdown to the next step. It
// implements cycle.Reporter and cycle.Countdown.
type CycleProgress struct {
	ms  *multiSpinner
	now func() time.Time
}

// NewCycleProgress creates a CycleProgress drawing to stderr.
func NewCycleProgress() *CycleProgress {
	return newCycleProgress(NewMultiSpinner())
}

func newCycleProgress(ms *multiSpinner) *CycleProgress {
	_ = ms.AddSpinner(cycleLabel)
	_ = ms.AddSpinner(waitLabel)
	return &CycleProgress{ms: ms, now: time.Now}
}

// Start begins drawing.
func (p *CycleProgress) Start() {
	p.ms.Start()
}

// Finish stops drawing and leaves the last state on the terminal.
func (p *CycleProgress) Finish() {
	p.ms.Finish()
}

// CycleState shows the state of cycle cycleNum (0-based) out of count.
func (p *CycleProgress) CycleState(cycleNum, count int, state cycle.State) {
	_ = p.ms.Status(cycleLabel, fmt.Sprintf("%d of %d: %s", cycleNum+1, count, state))
}

// Countdown waits for d, showing message and the time left.
func (p *CycleProgress) Countdown(ctx context.Context, d time.Duration, message string) error {
	deadline := p.now().Add(d)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		left := deadline.Sub(p.now())
		if left <= 0 {
			_ = p.ms.Status(waitLabel, message)
			return ctx.Err()
		}
		_ = p.ms.Status(waitLabel, fmt.Sprintf("%s in %s", message, left.Round(time.Second)))
		select {
		case <-ctx.Done():
			_ = p.ms.Status(waitLabel, "cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
