//go:build !unix

package log

import "os"

func GetOSInfo() []any {
	attrs := baseOSInfo()
	if v, ok := os.LookupEnv("OS"); ok {
		attrs = append(attrs, "os_version", v)
	}
	return attrs
}
