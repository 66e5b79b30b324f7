//go:build unit

package logging_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amine-kherroubi/vcl/internal/util/logging"
)

func TestSetup_WritesToOutput(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := logging.Setup(logging.Options{
		Level:  slog.LevelInfo,
		Output: &buf,
	})

	slog.Info("from slog", "vmName", "vm1")
	logger.Info("from logr", "vmName", "vm2")
	logger.V(1).Info("debug from logr")

	out := buf.String()
	assert.Contains(t, out, "from slog")
	assert.Contains(t, out, "from logr")
	assert.Contains(t, out, "vm2")
	assert.NotContains(t, out, "debug from logr")
}

func TestSetup_DebugLevel(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := logging.Setup(logging.Options{
		Development: true,
		Level:       slog.LevelDebug,
		Output:      &buf,
	})

	slog.Debug("slog debug")
	logger.V(1).Info("logr debug")

	assert.Contains(t, buf.String(), "slog debug")
	assert.Contains(t, buf.String(), "logr debug")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in          string
		expected    slog.Level
		expectedErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			level, err := logging.ParseLevel(tt.in)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vcl.log")

	f, err := logging.OpenFile(path)
	require.NoError(t, err)
	_, err = f.WriteString("first\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = logging.OpenFile(path)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(content))
}
