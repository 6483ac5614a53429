package relay

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// memoryHook keeps every entry message so a page can print its own trace.
type memoryHook struct {
	mu      sync.Mutex
	entries []string
}

func (h *memoryHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *memoryHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	h.entries = append(h.entries, entry.Message)
	h.mu.Unlock()
	return nil
}

func (h *memoryHook) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// eventLog is the per-Client trace. Output goes nowhere unless debug is on.
type eventLog struct {
	logger *logrus.Logger
	hook   *memoryHook
}

func newEventLog() *eventLog {
	hook := &memoryHook{}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.AddHook(hook)
	return &eventLog{logger: logger, hook: hook}
}

func (l *eventLog) setDebug(debug bool) {
	if debug {
		l.logger.SetOutput(os.Stderr)
		return
	}
	l.logger.SetOutput(io.Discard)
}

func (l *eventLog) setOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

func (l *eventLog) Info(msg string) {
	l.logger.Info(msg)
}

func (l *eventLog) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *eventLog) Infof(format string, args ...any) {
	l.logger.Infof(format, args...)
}

func (l *eventLog) Warnf(format string, args ...any) {
	l.logger.Warnf(format, args...)
}

func (l *eventLog) entries() []string {
	return l.hook.snapshot()
}

func (l *eventLog) join(sep string) string {
	return strings.Join(l.entries(), sep)
}
