package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		format      string
		expectError bool
		enabled     zapcore.Level
	}{
		{name: "json info", level: "info", format: "json", enabled: zapcore.InfoLevel},
		{name: "console debug", level: "DEBUG", format: "console", enabled: zapcore.DebugLevel},
		{name: "empty format defaults to json", level: "warn", format: "", enabled: zapcore.WarnLevel},
		{name: "unknown level", level: "loud", format: "json", expectError: true},
		{name: "unknown format", level: "info", format: "xml", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.level, tt.format)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tt.enabled))
			assert.False(t, log.Core().Enabled(tt.enabled-1))
		})
	}
}

func TestBootstrap(t *testing.T) {
	// the untouched global logger drops everything, fatal included
	assert.False(t, zap.L().Core().Enabled(zapcore.FatalLevel))

	log := Bootstrap()
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.FatalLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}
