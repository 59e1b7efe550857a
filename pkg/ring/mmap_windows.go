//go:build windows

package ring

import (
	"errors"
	"os"
)

// ErrUnsupported is returned on platforms without a shared-mapping
// implementation. The probe layer degrades to disabled recording.
var ErrUnsupported = errors.New("memory-mapped trace stores require a unix platform")

func mapShared(_ *os.File, _ int) ([]byte, error) {
	return nil, ErrUnsupported
}

func flushMap(_ []byte) error { return nil }

func unmap(_ []byte) error { return nil }
