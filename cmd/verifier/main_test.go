package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"init-db"},
		{"retrain"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
		{"user", "add"},
		{"user", "list"},
		{"user", "delete"},
		{"user", "set-access"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestUserDeviceFlagDefault(t *testing.T) {
	f := userCmd.PersistentFlags().Lookup("device")
	require.NotNil(t, f)
	assert.Equal(t, "rpi_device_01", f.DefValue)
}

func TestMigrateStatusAndUserList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append(args, "--db", path))
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}

	assert.Contains(t, run("migrate", "status"), "schema version 0")
	up := run("migrate", "up")
	assert.True(t, strings.Contains(up, "(clean)"), up)
	assert.Contains(t, run("user", "list"), "No users found")
}
