// Package ebpf optionally attaches a kernel-side syscall counter while
// `callflight record` runs a child process, giving the trace a coarse
// picture of kernel activity alongside the userspace call events.
package ebpf

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned when the current platform cannot host eBPF
// programs. Callers treat it as "feature absent", not as a failure.
var ErrUnsupported = errors.New("syscall accounting requires a Linux kernel with ring buffer support")

// Event is one syscall observed for a traced process.
type Event struct {
	PID       uint32
	Syscall   uint32
	Timestamp time.Time
}

// Manager exposes kernel-level syscall accounting regardless of
// platform.
type Manager interface {
	Start(ctx context.Context) error
	Close() error
	Events() <-chan Event
}
