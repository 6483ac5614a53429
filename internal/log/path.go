package log

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	appName     = "clickrelay"
	logFileName = "clickrelay.log"
)

var (
	logDir     string
	logDirOnce sync.Once
)

// GetLogDir returns the directory for logs and stats dumps, created on first
// use: /var/log/clickrelay on Linux when writable, then ~/.clickrelay, then a
// temp directory.
func GetLogDir() string {
	logDirOnce.Do(func() {
		logDir = determineLogDir()
		if err := os.MkdirAll(logDir, 0755); err != nil {
			logDir = filepath.Join(os.TempDir(), appName)
			_ = os.MkdirAll(logDir, 0755)
		}
	})
	return logDir
}

func determineLogDir() string {
	if runtime.GOOS == "linux" {
		dir := filepath.Join("/var/log", appName)
		if writable(dir) {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, "."+appName)
		if writable(dir) {
			return dir
		}
	}
	return filepath.Join(os.TempDir(), appName)
}

// writable creates dir if needed and probes it with a throwaway file.
func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// GetLogFilePath returns the full path to the main log file.
func GetLogFilePath() string {
	return filepath.Join(GetLogDir(), logFileName)
}

// GetStatsFilePath returns the full path to a stats file.
func GetStatsFilePath(name string) string {
	return filepath.Join(GetLogDir(), name)
}
