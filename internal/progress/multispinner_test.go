package progress

// Copyright (C) 2021-2024 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2idle/internal/cycle"
)

// syncBuffer guards a buffer written by the ticker goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewMultiSpinner(t *testing.T) {
	spinner := NewMultiSpinner()
	if spinner == nil {
		t.Fatal("failed to create a spinner")
	}
}

func TestMultiSpinner(t *testing.T) {
	spinner := newMultiSpinner(&syncBuffer{}, false)
	if spinner.AddSpinner("A") != nil {
		t.Fatal("failed to add spinner")
	}
	if spinner.AddSpinner("B") != nil {
		t.Fatal("failed to add spinner")
	}
	if spinner.AddSpinner("A") == nil {
		t.Fatal("added spinner with same label")
	}
	spinner.Start()

	if spinner.Status("A", "FOO") != nil {
		t.Fatal("failed to update spinner status")
	}
	if spinner.Status("B", "BAR") != nil {
		t.Fatal("failed to update spinner status")
	}
	if spinner.Status("C", "WOOPS") == nil {
		t.Fatal("updated status of non-existent spinner")
	}
	spinner.Finish()
}

func TestMultiSpinnerNotTerminal(t *testing.T) {
	out := &syncBuffer{}
	spinner := newMultiSpinner(out, false)
	require.NoError(t, spinner.AddSpinner("A"))
	require.NoError(t, spinner.Status("A", "FOO"))
	spinner.Start()
	spinner.Finish()

	// without a terminal only new statuses are printed, once, with no cursor movement
	assert.Equal(t, 1, strings.Count(out.String(), "FOO"))
	assert.NotContains(t, out.String(), "\x1b[1A")
}

func TestCycleProgressState(t *testing.T) {
	out := &syncBuffer{}
	p := newCycleProgress(newMultiSpinner(out, false))
	p.Start()
	p.CycleState(1, 3, cycle.StateSuspending)
	p.Finish()
	assert.Contains(t, out.String(), "2 of 3: suspending")
}

func TestCycleProgressCountdown(t *testing.T) {
	out := &syncBuffer{}
	p := newCycleProgress(newMultiSpinner(out, false))

	start := time.Now()
	require.NoError(t, p.Countdown(context.Background(), 300*time.Millisecond, "Suspending for 10s"))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Countdown(ctx, time.Hour, "Collecting data")
	assert.ErrorIs(t, err, context.Canceled)

	p.Start()
	p.Finish()
	assert.Contains(t, out.String(), "cancelled")
}
