package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(30_000), cfg.PollTimeoutMs)
	assert.Equal(t, int64(10_000), cfg.BTCallTimeoutMs)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.MetricsEnabled)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, Default().Save(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Default()
	cfg.LogLevel = "debug"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.LogLevel)
}

func TestValidateRejectsBadPollTimeout(t *testing.T) {
	cfg := Default()
	cfg.PollTimeoutMs = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMetricsEnabledWithoutAddr(t *testing.T) {
	cfg := Default()
	cfg.MetricsEnabled = true
	cfg.MetricsAddr = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	cfg.PollTimeoutMs = 1500
	cfg.BTCallTimeoutMs = 2500
	assert.Equal(t, 1500*time.Millisecond, cfg.PollTimeout())
	assert.Equal(t, 2500*time.Millisecond, cfg.BTCallTimeout())
}
