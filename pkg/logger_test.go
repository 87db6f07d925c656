package pkg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name string
		cfg  *LogConfig
	}{
		{
			name: "nil config uses defaults",
			cfg:  nil,
		},
		{
			name: "json to stdout",
			cfg: &LogConfig{
				Level:   "debug",
				Format:  "json",
				Console: ConsoleConfig{Enable: true, Output: "stdout"},
			},
		},
		{
			name: "console format to stderr",
			cfg: &LogConfig{
				Level:   "info",
				Format:  "console",
				Console: ConsoleConfig{Enable: true, Output: "stderr", NoColor: true},
			},
		},
		{
			name: "no outputs at all",
			cfg:  &LogConfig{Level: "info"},
		},
		{
			// Unknown levels fall back to info instead of failing startup.
			name: "unknown level",
			cfg:  &LogConfig{Level: "loud"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)

			assert.NotPanics(t, func() {
				logger.Debug().Str("k", "v").Msg("debug message")
				logger.Info().Int("count", 42).Msg("info message")
				logger.Error().Msg("error message")
			})
		})
	}
}

func TestLoggerWithFields(t *testing.T) {
	logger, err := NewLogger(&LogConfig{Level: "disabled"})
	require.NoError(t, err)

	child := logger.WithFields(Fields{"component": "test", "id": 7})
	require.NotNil(t, child)
	assert.NotSame(t, logger.Logger, child.Logger)

	assert.NotPanics(t, func() {
		child.Info().Msg("child logger message")
	})
}

func TestLoggerUpdateLevel(t *testing.T) {
	logger, err := NewLogger(&LogConfig{Level: "info"})
	require.NoError(t, err)

	require.NoError(t, logger.UpdateLevel("debug"))
	assert.Error(t, logger.UpdateLevel("loud"))
}

func TestLoggerFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "test.log")

	logger, err := NewLogger(&LogConfig{
		Level: "info",
		File: FileConfig{
			Enable:     true,
			Path:       logFile,
			MaxSize:    1,
			MaxAge:     7,
			MaxBackups: 3,
		},
	})
	require.NoError(t, err)

	logger.Info().Str("sink", "file").Msg("file output test")

	_, err = os.Stat(logFile)
	assert.NoError(t, err, "log file should exist")
}

func TestGlobalLogger(t *testing.T) {
	logger, err := NewLogger(&LogConfig{Level: "disabled"})
	require.NoError(t, err)

	SetGlobal(logger)
	assert.Same(t, logger, Get())
}

func TestLoggerConcurrent(t *testing.T) {
	logger, err := NewLogger(&LogConfig{Level: "disabled"})
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			logger.Info().Int("goroutine", id).Msg("concurrent log")
		}(i)
	}

	for i := 0; i < 100; i++ {
		<-done
	}
}
