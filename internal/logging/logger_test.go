package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/l0p7/planetcast/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error", "INFO"} {
		logger, err := New(config.LoggingConfig{Level: level, Format: "json"})
		require.NoError(t, err, level)
		require.NotNil(t, logger)
	}
	logger, err := New(config.LoggingConfig{Format: "text"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "verbose"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Format: "binary"})
	require.Error(t, err)
}

func TestNewWithWriterTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "planetId", "7")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	require.Equal(t, "planetcast", record["component"])
	require.Equal(t, "kept", record["msg"])
	require.Equal(t, "7", record["planetId"])
}
