package util

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1       string
		v2       string
		expected int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.0.1", "1.0.0", 1},
		{"1.0.0-alpha.1", "1.0.0-beta.1", -1},
		{"1.0.0-rc.1", "1.0.0", -1},
		{"64.66.0", "64.66.0", 0},
		{"64.65.1", "64.66.0", -1},
		{"76.18.0", "76.60.0", -1},
		{"6.8.0-45-generic", "6.5.0", 1},
	}

	for _, test := range tests {
		result, err := CompareVersions(test.v1, test.v2)
		if err != nil {
			t.Fatalf("failed to compare versions: %v", err)
		}
		if result != test.expected {
			t.Errorf("expected %d, got %d for versions %s and %s", test.expected, result, test.v1, test.v2)
		}
	}
}

func TestCompareVersionsInvalid(t *testing.T) {
	_, err := CompareVersions("6.8", "6.8.0")
	assert.Error(t, err)
}

func TestIsValidHex(t *testing.T) {
	tests := []struct {
		hexStr   string
		expected bool
	}{
		{"0x1a2b3c", true},
		{"0X1A2B3C", true},
		{"1a2b3c", true},
		{"0x", false},
		{"", false},
		{"0xGHIJKL", false},
		{" 12345 ", false},
	}

	for _, test := range tests {
		result := IsValidHex(test.hexStr)
		if result != test.expected {
			t.Errorf("expected %v, got %v for hex string %s", test.expected, result, test.hexStr)
		}
	}
}

func TestParseHex(t *testing.T) {
	v, err := ParseHex("0x3ffff")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3ffff), v)
	_, err = ParseHex("zz")
	assert.Error(t, err)
}

func TestIntSliceToStringSlice(t *testing.T) {
	assert.Equal(t, []string{"1", "9", "24"}, IntSliceToStringSlice([]int{1, 9, 24}))
	assert.Empty(t, IntSliceToStringSlice(nil))
}

func TestUniqueAppend(t *testing.T) {
	s := UniqueAppend([]int{1, 2}, 2)
	assert.Equal(t, []int{1, 2}, s)
	s = UniqueAppend(s, 3)
	assert.Equal(t, []int{1, 2, 3}, s)
}

func TestFileAndDirectoryExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "state")
	require.NoError(t, os.WriteFile(file, []byte("freeze mem\n"), 0644))

	exists, err := FileExists(file)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = FileExists(dir)
	assert.Error(t, err)

	exists, err = DirectoryExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = DirectoryExists(file)
	assert.Error(t, err)
}

func TestCreateDirectoryIfNotExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateDirectoryIfNotExists(dir, 0755))
	assert.True(t, FileOrDirectoryExists(dir))
	require.NoError(t, CreateDirectoryIfNotExists(dir, 0755))
}

func TestReadLines(t *testing.T) {
	file := filepath.Join(t.TempDir(), "log")
	require.NoError(t, os.WriteFile(file, []byte("one  \r\ntwo\n\nthree"), 0644))
	lines, err := ReadLines(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "", "three"}, lines)
}
