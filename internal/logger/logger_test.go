package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/insight/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("should write json to the console output", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "info", Console: true, Output: &buf})
		require.NoError(t, err)
		defer l.Close()

		agentLog := l.Component("agent")
		agentLog.Info().Str("run_id", "r1").Msg("run started")

		assert.Contains(t, buf.String(), `"component":"agent"`)
		assert.Contains(t, buf.String(), `"run_id":"r1"`)
	})

	t.Run("should respect the level", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "warn", Console: true, Output: &buf})
		require.NoError(t, err)

		z := l.Zerolog()
		z.Info().Msg("hidden")
		z.Warn().Msg("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("should create the log file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "insight.log")

		l, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)
		z := l.Zerolog()
		z.Debug().Msg("file message")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "file message")
	})

	t.Run("should redact keys when enabled", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "info", Console: true, Redaction: true, Output: &buf})
		require.NoError(t, err)

		z := l.Zerolog()
		z.Info().Str("key", "sk-proj-abcdefghijklmnopqrstuvwxyz0123").Msg("provider configured")

		assert.NotContains(t, buf.String(), "abcdefghijklmnopqrstuvwxyz")
		assert.Contains(t, buf.String(), redactedMarker)
	})
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.LoggingConfig{Level: "debug", File: "/tmp/x.log", Redaction: true})

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "/tmp/x.log", cfg.File)
	assert.True(t, cfg.Redaction)
	assert.Nil(t, cfg.Output)
}
