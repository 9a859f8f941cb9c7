package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, parseLogLevel(tc.in), "in=%q", tc.in)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "info", "json", false)
	log.Debug("hidden")
	log.Info("session.subscribe", "topic", "predictions")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "session.subscribe", rec["msg"])
	assert.Equal(t, "predictions", rec["topic"])
}

func TestNewLogger_Pretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "debug", "pretty", false)
	log.Debug("hub.topic.create", "topic", "echo", "topics", 2)

	out := buf.String()
	assert.Contains(t, out, "lvl=[DEBUG]")
	assert.Contains(t, out, "msg=hub.topic.create")
	assert.Contains(t, out, "topic=echo")
	assert.Contains(t, out, "topics=2")
}
