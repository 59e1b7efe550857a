//go:build !windows

package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

// LongPathname is a no-op on non-Windows platforms.
func LongPathname(path string) string {
	return path
}

// DefaultTracePath returns the per-process trace file location used
// when no path is configured. Incorporating the pid keeps concurrent
// instrumented processes from clobbering each other's traces.
func DefaultTracePath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("callflight-%d.trace", os.Getpid()))
}
