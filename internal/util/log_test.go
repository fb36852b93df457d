package util

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(true, "info", zapcore.AddSync(&buf))
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("compiled", zap.Int("stages", 3))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "compiled", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 3, entry["stages"])
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(false, "debug", zapcore.AddSync(&buf))
	require.NoError(t, err)

	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "DEBUG")
}

func TestNewLoggerBadLevel(t *testing.T) {
	_, err := NewLogger(false, "loud", zapcore.AddSync(&bytes.Buffer{}))
	assert.Error(t, err)
}
