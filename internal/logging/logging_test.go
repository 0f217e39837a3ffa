package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishguard/phishguard/internal/config"
)

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	log.Info().Msg("dropped")
	log.Warn().Str("component", "scanner").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "scanner", entry["component"])
	assert.Equal(t, "kept", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, config.LogConfig{})
	require.NoError(t, err)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestNewWriterErrors(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, config.LogConfig{Level: "loud"})
	assert.ErrorContains(t, err, "invalid log level")

	_, err = NewWriter(&bytes.Buffer{}, config.LogConfig{Format: "xml"})
	assert.ErrorContains(t, err, "invalid log format")
}
