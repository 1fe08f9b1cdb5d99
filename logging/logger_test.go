package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/bookbot/logging"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Output: &buf})
	require.NoError(t, err)

	logging.Component(logger, "generator").Debug("module done", slog.Int("index", 3))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "debug", rec["level"])
	assert.Equal(t, "module done", rec["msg"])
	assert.Equal(t, "generator", rec["component"])
	assert.EqualValues(t, 3, rec["index"])
	assert.Contains(t, rec, "ts")
}

func TestConsoleLoggerWritesFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "bookbot.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "warn", File: path, Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("store degraded")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "store degraded")
	assert.NotContains(t, string(content), "hidden")
	assert.False(t, strings.Contains(buf.String(), "\x1b["), "no color codes off a terminal")
}

func TestUnknownFormat(t *testing.T) {
	_, err := logging.New(logging.Options{Format: "xml"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel(" WARNING "))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("verbose"))
	logging.NewNop().Error("dropped")
}
