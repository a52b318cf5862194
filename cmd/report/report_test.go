package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
	}{
		{"2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)},
		{"2024-05-01 18:30", time.Date(2024, 5, 1, 18, 30, 0, 0, time.Local)},
		{"2024-05-01 18:30:15", time.Date(2024, 5, 1, 18, 30, 15, 0, time.Local)},
		{"2024-05-01T18:30:15", time.Date(2024, 5, 1, 18, 30, 15, 0, time.Local)},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseTime(tt.value)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
	_, err := parseTime("yesterday")
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local)
	defer func() { flagSince, flagUntil = "", "" }()

	flagSince, flagUntil = "", ""
	since, until, err := window(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-defaultWindow), since)
	assert.Equal(t, now, until)

	flagSince, flagUntil = "2024-05-02", "2024-05-01"
	_, _, err = window(now)
	assert.Error(t, err)

	flagSince, flagUntil = "2024-05-01", "2024-05-02"
	since, until, err = window(now)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, until.Sub(since))
}
