package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBotLogHandler_ComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewBotLogHandler(NewStripANSIWriter(&buf), &BotLogHandlerOptions{Level: slog.LevelInfo}))

	logger.Info("poll opened", slog.String("component", "poll"))
	logger.Warn("slow scrape", slog.String("component", "forum"))
	logger.Error("plain failure")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], " [POLL] poll opened"), lines[0])
	assert.Contains(t, lines[1], "[WARN] [FORUM] slow scrape")
	assert.True(t, strings.HasSuffix(lines[2], " [ERROR] plain failure"), lines[2])
}

func TestBotLogHandler_LevelsAndSilence(t *testing.T) {
	var buf bytes.Buffer
	h := NewBotLogHandler(&buf, &BotLogHandlerOptions{Level: slog.LevelWarn})
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))

	silent := NewBotLogHandler(&buf, &BotLogHandlerOptions{Silent: true, Level: slog.LevelDebug})
	assert.False(t, silent.Enabled(context.Background(), slog.LevelError))
	require.NoError(t, silent.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "hidden", 0)))
	assert.Empty(t, buf.String())
}

func TestStripANSIWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewStripANSIWriter(&buf)
	in := []byte("\x1b[31mred\x1b[0m plain")
	n, err := w.Write(in)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)
	assert.Equal(t, "red plain", buf.String())
}

func TestLogFatal_Panics(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	slog.SetDefault(slog.New(NewBotLogHandler(&bytes.Buffer{}, nil)))

	assert.PanicsWithValue(t, "database gone: boom", func() {
		LogFatal("database gone: %s", "boom")
	})
}
