package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level slog.Level) (*SlogLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})

	return NewSlog(slog.New(handler)), buf
}

func TestNewSlog(t *testing.T) {
	logger, _ := newBufferLogger(slog.LevelDebug)
	require.NotNil(t, logger)
	require.NotNil(t, logger.logger)
}

func TestNewSlogDefault(t *testing.T) {
	logger := NewSlogDefault()
	require.NotNil(t, logger)
	require.NotNil(t, logger.logger)
}

func TestSlogLogger_Levels(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelDebug)

	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "date", "2026-09-01")
	logger.Warn("warn message")
	logger.Error("error message", "err", "boom")

	output := buf.String()
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "key=value")
	assert.Contains(t, output, "level=DEBUG")
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "date=2026-09-01")
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "err=boom")
}

func TestNopLogger_Discards(t *testing.T) {
	logger := NewNop()

	// All calls must be safe no-ops, including Fatal.
	logger.Debug("a")
	logger.Info("b", "k", "v")
	logger.Warn("c")
	logger.Error("d")
	logger.Fatal("e")
}
