package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerSplitsByLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger, err := newLogger("info", true, &stdout, &stderr)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("progress")
	logger.Error("broken")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "progress")
	assert.NotContains(t, stdout.String(), "broken")
	assert.Contains(t, stderr.String(), "broken")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stdout.String())), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "caller")
	ts, _ := entry["ts"].(string)
	assert.Contains(t, ts, "T")
}

func TestLoggerConsoleAndLevels(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger, err := newLogger("warn", false, &stdout, &stderr)
	require.NoError(t, err)
	logger.Info("skipped")
	logger.Warn("careful")
	require.NoError(t, logger.Sync())
	assert.NotContains(t, stdout.String(), "skipped")
	assert.Contains(t, stdout.String(), "WARN")

	_, err = newLogger("loud", true, &stdout, &stderr)
	assert.Error(t, err)
}
