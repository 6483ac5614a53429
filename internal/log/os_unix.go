//go:build unix

package log

import (
	"golang.org/x/sys/unix"
)

func GetOSInfo() []any {
	attrs := baseOSInfo()
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return append(attrs, "uname", err.Error())
	}
	return append(attrs,
		"sysname", unix.ByteSliceToString(uts.Sysname[:]),
		"release", unix.ByteSliceToString(uts.Release[:]),
		"machine", unix.ByteSliceToString(uts.Machine[:]),
	)
}
