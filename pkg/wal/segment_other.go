//go:build !(linux || darwin || freebsd || netbsd || openbsd || solaris || dragonfly)

package wal

import "os"

// fdatasync falls back to a full fsync on platforms without a distinct
// fdatasync(2) syscall (e.g. Windows).
func fdatasync(fd uintptr) error {
	return os.NewFile(fd, "").Sync()
}
