package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	require.Equal(t, "INFO plain ERR", stripANSI(in))
}

func TestPrettyHandler_KeyValueLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.WithGroup("session").Info("messaging.session.ready",
		"state", "READY", "path", "/status", "status", 200, "note", "two words")

	line := buf.String()
	require.True(t, strings.HasSuffix(line, "\n"))
	require.Contains(t, line, "lvl=[INFO]")
	require.Contains(t, line, "msg=messaging.session.ready")
	require.Contains(t, line, "session.state=READY")
	require.Contains(t, line, `session.note="two words"`)
	require.NotContains(t, line, "\x1b[")
}

func TestPrettyHandler_LevelFilterAndColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))
	log.Info("dropped")
	require.Empty(t, buf.String())

	log.Error("notify.email.fail", "status", 502)
	require.Contains(t, buf.String(), ansiRed+"[ERROR]"+ansiReset)
	require.Contains(t, stripANSI(buf.String()), "status=502")
}
