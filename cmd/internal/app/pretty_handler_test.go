package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	assert.Equal(t, "INFO plain ERR", stripANSI(in))
}

func TestPrettyHandler_RequestLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, true))
	log.Warn("http.request",
		"method", "post",
		"path", "/topics/orders",
		"status", 429,
		"status_class", "4xx",
		"duration_ms", int64(3),
		"result", "client_error",
	)

	out := stripANSI(buf.String())
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Contains(t, out, "lvl=[WARN]")
	assert.Contains(t, out, "method=POST")
	assert.Contains(t, out, "path=/topics/orders")
	assert.Contains(t, out, "status=429")
	assert.Contains(t, out, "class=4xx")
	assert.Contains(t, out, "duration=3ms")
	assert.Contains(t, out, "result=client_error")
	assert.NotEqual(t, out, buf.String(), "color output should carry escape codes")
}

func TestPrettyHandler_GroupsAndQuoting(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).WithGroup("ws").With("session_id", "01J")
	log.Info("ws.session.close", "reason", "peer closed", slog.Group("hub", "topics", 3))

	out := buf.String()
	assert.Contains(t, out, "ws.session_id=01J")
	assert.Contains(t, out, `ws.reason="peer closed"`)
	assert.Contains(t, out, "ws.hub.topics=3")
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("dropped")
	assert.Empty(t, buf.String())
}

func TestPrettyHandler_SessionCloseColors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Info("ws.session.close", "session_id", "01J", "reason", "write failed", "topic", "orders")
	log.Info("ws.session.close", "session_id", "01K", "reason", "peer closed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], ansiRed+`"write failed"`+ansiReset)
	assert.Contains(t, lines[0], ansiCyan+"orders"+ansiReset)
	assert.Contains(t, lines[0], ansiDim+"01J"+ansiReset)
	assert.Contains(t, lines[1], ansiGreen+`"peer closed"`+ansiReset)
}

func TestLevelTag(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[DEBUG]", levelTag(slog.LevelDebug, false))
	assert.Equal(t, "[INFO]", levelTag(slog.LevelInfo, false))
	assert.Equal(t, "[WARN]", levelTag(slog.LevelWarn, false))
	assert.Equal(t, "[ERROR]", levelTag(slog.LevelError+4, false))
	assert.Equal(t, ansiBlue+"[INFO]"+ansiReset, levelTag(slog.LevelInfo, true))
}
