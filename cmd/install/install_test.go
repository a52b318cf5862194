package install

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2idle/internal/common"
)

func TestHookScript(t *testing.T) {
	script, err := hookScript("/usr/local/bin/amd-s2idle", []string{"--db", "/var/lib/it's.db"})
	require.NoError(t, err)
	text := string(script)
	assert.Contains(t, text, "#!/bin/sh\n")
	assert.Contains(t, text, `[ "$2" = "suspend" ] || exit 0`)
	assert.Contains(t, text, `exec /usr/local/bin/amd-s2idle --syslog hook "$1" '--db' '/var/lib/it'\''s.db'`)
}

func TestFindHookDir(t *testing.T) {
	saved := hookDirs
	defer func() { hookDirs = saved }()

	tmp := t.TempDir()
	present := filepath.Join(tmp, "lib", "systemd", "system-sleep")
	require.NoError(t, os.MkdirAll(present, 0755))

	hookDirs = []string{filepath.Join(tmp, "usr", "lib", "systemd", "system-sleep"), present}
	dir, err := findHookDir()
	require.NoError(t, err)
	assert.Equal(t, present, dir)

	hookDirs = hookDirs[:1]
	_, err = findHookDir()
	assert.Error(t, err)
}

func TestHookArgs(t *testing.T) {
	cmd := &cobra.Command{Use: cmdName}
	common.AddRunFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--db", "/tmp/data.db"}))

	args, err := hookArgs(cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"--" + common.FlagDatabaseName, "/tmp/data.db"}, args)
}
