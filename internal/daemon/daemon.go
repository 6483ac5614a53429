package daemon

import (
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"strings"
)

// oomScoreAdj keeps the relay alive when a small router runs out of memory.
const oomScoreAdj = -900

// Setup prepares the process for serving landing traffic. Failures are
// logged and never fatal.
func Setup() {
	if IsOpenWrt() {
		if err := setOOMScoreAdj(oomScoreAdj); err != nil {
			slog.Warn("setOOMScoreAdj", slog.Any("error", err))
		}
	}
	limit, err := raiseFileLimit()
	if err != nil {
		slog.Warn("raiseFileLimit", slog.Any("error", err))
		return
	}
	if limit > 0 {
		slog.Debug("open file limit", slog.Uint64("nofile", limit))
	}
}

func IsOpenWrt() bool {
	if _, err := os.Stat("/etc/openwrt_release"); err == nil {
		return true
	}

	data, err := os.ReadFile("/etc/os-release")
	if err == nil && strings.Contains(string(data), "OpenWrt") {
		return true
	}

	if _, err := user.Lookup("uci"); err == nil {
		return true
	}

	if _, err := exec.LookPath("opkg"); err == nil {
		return true
	}

	return false
}
