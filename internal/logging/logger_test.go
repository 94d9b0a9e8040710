package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "busd.log")

	logger, err := New(logPath)
	require.NoError(t, err)
	defer logger.Close()

	assert.Equal(t, logPath, logger.FilePath())
	_, statErr := os.Stat(logPath)
	assert.NoError(t, statErr)
}

func TestWritesJSONLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "busd.log")
	logger, err := New(logPath)
	require.NoError(t, err)

	logger.Info("worker registered", "worker", "w1")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "worker registered", entry["msg"])
	assert.Equal(t, "w1", entry["worker"])
}

func TestSetLevelFiltersDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "busd.log")
	logger, err := New(logPath)
	require.NoError(t, err)
	defer logger.Close()

	logger.Debug("should be filtered")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(data)))

	logger.SetLevel("debug")
	logger.Debug("should appear")
	data, err = os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "should appear")
}

func TestNewDiscardNeverPanics(t *testing.T) {
	logger := NewDiscard()
	logger.Info("noop")
	assert.Empty(t, logger.FilePath())
}
