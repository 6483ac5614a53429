package log

import (
	"os"
	"runtime"
)

func baseOSInfo() []any {
	attrs := []any{
		"goos", runtime.GOOS,
		"goarch", runtime.GOARCH,
		"go", runtime.Version(),
		"pid", os.Getpid(),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, "hostname", hostname)
	}
	return attrs
}
