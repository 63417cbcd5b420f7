// ABOUTME: Tests for logger setup and the console handler
// ABOUTME: Checks level filtering, formats, attr grouping and the file sink

package logging

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

	"github.com/2389/mcp-runtime/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "component", "engine")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "engine", rec["component"])
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, slog.LevelDebug, false)).With("component", "session")

	logger.WithGroup("conn").Error("closed", "id", "c1", slog.Group("stats", "reqs", 3))
	out := buf.String()

	assert.Contains(t, out, "ERR closed")
	assert.Contains(t, out, " component=session")
	assert.Contains(t, out, " conn.id=c1")
	assert.Contains(t, out, " conn.stats.reqs=3")
	assert.NotContains(t, out, "\x1b[", "no escape codes without colorize")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestConsoleHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, slog.LevelInfo, false))
	logger.Debug("quiet")
	logger.Info("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "INF loud")
}

func TestOpenSink(t *testing.T) {
	var fallback bytes.Buffer
	sink := OpenSink(config.LoggingConfig{}, &fallback)
	_, err := sink.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	assert.Equal(t, "x", fallback.String())

	path := filepath.Join(t.TempDir(), "runtime.log")
	sink = OpenSink(config.LoggingConfig{File: path, MaxSizeMB: 1, MaxFiles: 2}, &fallback)
	logger := Setup(config.LoggingConfig{Level: "info", Format: "text"}, sink)
	logger.Info("to file")
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=\"to file\"")
}

func TestOpenSinkRelativeToLogDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MCP_RUNTIME_LOG_DIR", dir)
	sink := OpenSink(config.LoggingConfig{File: "rel.log"}, nil)
	_, err := sink.Write([]byte("line\n"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	_, err = os.Stat(filepath.Join(dir, "rel.log"))
	assert.NoError(t, err)
}
