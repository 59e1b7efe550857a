//go:build linux

package ebpf

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"

	"github.com/saworbit/callflight/pkg/config"
)

var _ Manager = (*kernelManager)(nil)

// On-wire record layout emitted by the syscall counter program:
// pid u32 | syscall nr u32 | ktime ns u64.
const rawEventSize = 16

type kernelManager struct {
	cfg    *config.EBPFConfig
	coll   *ebpf.Collection
	tp     link.Link
	reader *ringbuf.Reader

	events chan Event

	closeOnce sync.Once
	closeErr  error
}

// NewManager loads the configured compiled eBPF object and attaches its
// sys_enter counter to the raw_syscalls tracepoint. The object must
// expose a program named "count_sys_enter" and a ring buffer map named
// "events".
func NewManager(cfg *config.EBPFConfig) (Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ebpf configuration is required")
	}
	if cfg.ProgramPath == "" {
		return nil, fmt.Errorf("ebpf program path is not configured")
	}

	spec, err := ebpf.LoadCollectionSpec(cfg.ProgramPath)
	if err != nil {
		return nil, fmt.Errorf("load ebpf object %s: %w", cfg.ProgramPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("instantiate ebpf collection: %w", err)
	}

	m := &kernelManager{
		cfg:    cfg,
		coll:   coll,
		events: make(chan Event, max(cfg.EventBufferSize, 1024)),
	}

	if err := m.attach(); err != nil {
		_ = m.Close()
		return nil, err
	}

	return m, nil
}

func (m *kernelManager) attach() error {
	prog, ok := m.coll.Programs["count_sys_enter"]
	if !ok {
		return fmt.Errorf("ebpf object is missing program count_sys_enter")
	}

	tp, err := link.Tracepoint("raw_syscalls", "sys_enter", prog, nil)
	if err != nil {
		return fmt.Errorf("attach sys_enter tracepoint: %w", err)
	}
	m.tp = tp

	events, ok := m.coll.Maps["events"]
	if !ok {
		return fmt.Errorf("ebpf object is missing map events")
	}

	reader, err := ringbuf.NewReader(events)
	if err != nil {
		return fmt.Errorf("open ring buffer reader: %w", err)
	}
	m.reader = reader

	return nil
}

// Start consumes ring buffer records until ctx is cancelled or the
// reader is closed. Events are dropped, not queued unbounded, when the
// consumer falls behind.
func (m *kernelManager) Start(ctx context.Context) error {
	defer close(m.events)

	go func() {
		<-ctx.Done()
		_ = m.reader.Close()
	}()

	for {
		rec, err := m.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("read syscall event: %w", err)
		}

		if len(rec.RawSample) < rawEventSize {
			continue
		}

		evt := Event{
			PID:       binary.LittleEndian.Uint32(rec.RawSample[0:4]),
			Syscall:   binary.LittleEndian.Uint32(rec.RawSample[4:8]),
			Timestamp: time.Now(),
		}

		select {
		case m.events <- evt:
		default:
		}
	}
}

func (m *kernelManager) Events() <-chan Event {
	return m.events
}

func (m *kernelManager) Close() error {
	m.closeOnce.Do(func() {
		if m.reader != nil {
			m.closeErr = m.reader.Close()
		}
		if m.tp != nil {
			if err := m.tp.Close(); err != nil && m.closeErr == nil {
				m.closeErr = err
			}
		}
		if m.coll != nil {
			m.coll.Close()
		}
	})
	return m.closeErr
}
