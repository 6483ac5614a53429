package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sunbk201/clickrelay/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "2006-01-02 15:04:05"

// SetLogConf installs the process logger: stdout, the rotated log file and any
// extra writers such as the live log Broadcaster.
func SetLogConf(level string, extra ...io.Writer) {
	writers := []io.Writer{
		os.Stdout,
		&lumberjack.Logger{
			Filename:   GetLogFilePath(),
			MaxSize:    5, // megabytes
			MaxBackups: 5,
			MaxAge:     7, // days
			LocalTime:  true,
			Compress:   true,
		},
	}
	writers = append(writers, extra...)
	slog.SetDefault(NewLogger(io.MultiWriter(writers...), level, LoadLocalLocation()))
}

// NewLogger builds the text logger used across the process.
func NewLogger(w io.Writer, level string, loc *time.Location) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().In(loc).Format(timeFormat))
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func LogHeader(version string, cfg *config.Config) {
	slog.Info("clickrelay started", "version", version, "", cfg)
	slog.Info("host", GetOSInfo()...)
}

// LoadLocalLocation tries to detect and load the system local timezone from
// `/etc/localtime` or `/etc/TZ`. Compatible with OpenWrt and normal Linux.
func LoadLocalLocation() *time.Location {
	if _, err := os.Stat("/etc/localtime"); err == nil {
		if loc, _ := time.LoadLocation("Local"); loc != nil {
			return loc
		}
	}
	if data, err := os.ReadFile("/etc/TZ"); err == nil {
		tz := strings.TrimSpace(string(data))
		switch {
		case strings.HasPrefix(tz, "CST-8"):
			return time.FixedZone("CST", 8*3600)
		case strings.HasPrefix(tz, "UTC"):
			return time.UTC
		}
	}
	return time.UTC
}
