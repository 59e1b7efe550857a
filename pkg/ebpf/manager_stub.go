//go:build !linux

package ebpf

import (
	"github.com/saworbit/callflight/pkg/config"
)

// NewManager reports unsupported platforms when Linux eBPF is unavailable.
func NewManager(_ *config.EBPFConfig) (Manager, error) {
	return nil, ErrUnsupported
}
