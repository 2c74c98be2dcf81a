package logger

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
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		checkFunc func(t *testing.T, logger *Logger, output *bytes.Buffer)
	}{
		{
			name:   "json format with debug level",
			config: Config{Level: "debug", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Debug("Worker status changed", slog.String("worker", "mail-1"))

				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				assert.Equal(t, "DEBUG", entries[0]["level"])
				assert.Equal(t, "Worker status changed", entries[0]["msg"])
				assert.Equal(t, "mail-1", entries[0]["worker"])
			},
		},
		{
			name:   "warn level filters info",
			config: Config{Level: "warn", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("dropped")
				logger.Warn("Deferred content overflowed", slog.Int("limit", 4))

				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				assert.Equal(t, "WARN", entries[0]["level"])
				assert.Equal(t, float64(4), entries[0]["limit"])
			},
		},
		{
			name:   "console format",
			config: Config{Level: "info", Format: "console", NoColor: true},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("console test")

				assert.Contains(t, output.String(), "INF")
				assert.Contains(t, output.String(), "console test")
			},
		},
		{
			name:   "source location",
			config: Config{Format: "json", EnableSource: true},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("message with source")

				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				source, ok := entries[0]["source"].(map[string]any)
				require.True(t, ok)
				assert.Contains(t, source, "file")
				assert.Contains(t, source, "line")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			cfg := tt.config
			cfg.writer = output

			logger, err := New(&cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)
			tt.checkFunc(t, logger, output)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")

	logger, err := New(&Config{Format: "json", Output: path})
	require.NoError(t, err)
	logger.Info("to file")
	require.NoError(t, logger.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"to file"`)
}

func TestNew_BadFile(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{level: "debug", expected: slog.LevelDebug},
		{level: "DEBUG", expected: slog.LevelDebug},
		{level: "info", expected: slog.LevelInfo},
		{level: "warning", expected: slog.LevelWarn},
		{level: "error", expected: slog.LevelError},
		{level: "invalid", expected: slog.LevelInfo},
		{level: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.level))
		})
	}
}

func TestLogger_ComponentAndGroup(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", writer: output})
	require.NoError(t, err)

	logger.Component("job").Info("Job started")
	logger.WithGroup("worker").Info("Worker started", slog.String("name", "w1"))

	entries := decodeLines(t, output)
	require.Len(t, entries, 2)
	assert.Equal(t, "job", entries[0]["component"])

	group, ok := entries[1]["worker"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "w1", group["name"])
}
