package logging

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scrypster/membank/internal/config"
)

func TestNewTo_Levels(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		l, err := NewTo(config.LoggingConfig{Level: "warn", Format: format}, io.Discard)
		require.NoError(t, err)
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))
	}
}

func TestNewTo_WritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewTo(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("rotated notes", zap.String("agent", "planner"))
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"rotated notes"`)
	assert.Contains(t, out, `"agent":"planner"`)
	assert.Contains(t, out, `"timestamp"`)
}

func TestNewTo_BadLevel(t *testing.T) {
	_, err := NewTo(config.LoggingConfig{Level: "chatty", Format: "console"}, io.Discard)
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
