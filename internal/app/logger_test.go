package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})

	logger.Info("dropped")
	logger.Warn("kept", slog.String("account", "1200000001"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "kept", entry["msg"])
	require.Equal(t, "1200000001", entry["account"])
}

func TestNewLoggerPrettyAndText(t *testing.T) {
	var pretty bytes.Buffer
	newLogger(&pretty, &Config{LogFormat: "pretty", LogLevel: "info"}).Info("opened account")
	require.Contains(t, pretty.String(), "opened account")

	var text bytes.Buffer
	newLogger(&text, nil).Info("opened account")
	require.Contains(t, text.String(), "msg=\"opened account\"")
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("debug"))
	require.Equal(t, slog.LevelError, parseLevel(" ERROR "))
	require.Equal(t, slog.LevelInfo, parseLevel("loud"))
}
