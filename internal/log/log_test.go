package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", time.UTC)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "k=v")
	assert.Regexp(t, `^time="\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}"`, out)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	n, err := b.Write([]byte("nobody listens\n"))
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	ch := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	src := []byte("line\n")
	_, _ = b.Write(src)
	src[0] = 'X'
	assert.Equal(t, "line\n", string(<-ch))

	for i := 0; i < subscriberBuffer+3; i++ {
		_, _ = b.Write([]byte("x"))
	}
	assert.Equal(t, uint64(3), b.Dropped())

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	assert.Zero(t, b.Subscribers())
	for range ch {
	}
}

func TestLogDir(t *testing.T) {
	dir := GetLogDir()
	require.NotEmpty(t, dir)
	assert.True(t, writable(dir))
	assert.True(t, strings.HasPrefix(GetLogFilePath(), dir))
	assert.Equal(t, GetLogDir(), dir)
	assert.True(t, strings.HasSuffix(GetStatsFilePath("resolves"), "resolves"))
}

func TestGetOSInfo(t *testing.T) {
	attrs := GetOSInfo()
	require.GreaterOrEqual(t, len(attrs), 6)
	assert.Equal(t, 0, len(attrs)%2)
	assert.Equal(t, "goos", attrs[0])
}
