//go:build !unix

package envmanager

import "os"

// IsWritable reports whether dir is a directory without the read-only bit.
func IsWritable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o200 != 0
}
