//go:build unix

package envmanager

import "golang.org/x/sys/unix"

// IsWritable reports whether the current user may create files in dir. It
// only asks the kernel and never touches dir.
func IsWritable(dir string) bool {
	return unix.Access(dir, unix.W_OK) == nil
}
