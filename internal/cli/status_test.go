package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("should report stopped without a PID file", func(t *testing.T) {
		out, err := runCommand(t, "status", "--config", writeTestConfig(t))
		require.NoError(t, err)
		assert.Equal(t, "Status: stopped\n", out)
	})

	t.Run("should report a live process", func(t *testing.T) {
		path := writeTestConfig(t)
		pidFile := filepath.Join(filepath.Dir(path), "insight.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644))

		out, err := runCommand(t, "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, "PID: "+strconv.Itoa(os.Getpid()))
		assert.Contains(t, out, "Uptime: ")
	})
}

func TestStopCommand(t *testing.T) {
	t.Run("should fail when nothing is serving", func(t *testing.T) {
		_, err := runCommand(t, "stop", "--config", writeTestConfig(t))
		assert.ErrorContains(t, err, "not serving")
	})

	t.Run("should expose a timeout flag", func(t *testing.T) {
		flag := stopCmd.Flags().Lookup("timeout")
		require.NotNil(t, flag)
		assert.Equal(t, "30", flag.DefValue)
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
