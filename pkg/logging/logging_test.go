package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("dev"))
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("prod"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Info("Room created", "room", "r1")
	assert.Contains(t, buf.String(), `"room":"r1"`)

	buf.Reset()
	logger := New(&buf, "warn", "")
	logger.Info("hidden")
	logger.Warn("Dropped answer", "client", "v1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "client=v1")
}
