package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServeConfigFlagsOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
		"listen_addr": "0.0.0.0:9000",
		"database_path": "/var/lib/scee/chat.db",
		"log_level": "debug"
	}`), 0644))

	t.Setenv("SCEE_ADMIN_ADDR", "127.0.0.1:9100")

	flags, err := parseServeArgs([]string{"-config", configPath, "-listen", "127.0.0.1:7000", "-no-sandbox"})
	require.NoError(t, err)

	cfg, err := loadServeConfig(flags)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/scee/chat.db", cfg.DatabasePath)
	assert.Equal(t, "127.0.0.1:9100", cfg.AdminAddr)
	assert.False(t, cfg.Auth.Sandbox)

	assert.Equal(t, []string{
		"auth-worker", "-db", "/var/lib/scee/chat.db", "-log-level", "debug", "-no-sandbox",
	}, workerArgs(cfg))
}

func TestLoadServeConfigMissingFileUsesDefaults(t *testing.T) {
	flags, err := parseServeArgs([]string{"-config", filepath.Join(t.TempDir(), "absent.json")})
	require.NoError(t, err)

	cfg, err := loadServeConfig(flags)
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Sandbox)
	assert.NotContains(t, workerArgs(cfg), "-no-sandbox")
}

func TestLoadServeConfigRejectsInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"history_limit": -1}`), 0644))

	flags, err := parseServeArgs([]string{"-config", configPath})
	require.NoError(t, err)
	_, err = loadServeConfig(flags)
	assert.ErrorContains(t, err, "history_limit")
}

func TestParseServeArgsRejectsExtraArgs(t *testing.T) {
	_, err := parseServeArgs([]string{"extra"})
	assert.Error(t, err)
}

func TestRunUnknownCommand(t *testing.T) {
	assert.Error(t, run([]string{"dance"}))
	assert.Error(t, run(nil))
	assert.NoError(t, run([]string{"help"}))
}

func TestRunAuthWorkerRequiresDB(t *testing.T) {
	err := runAuthWorker([]string{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, flag.ErrHelp))
}
