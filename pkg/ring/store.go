package ring

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"
)

// Store owns the writable mapping of a trace file. It is created once
// per process, shared by every goroutine, and closed once at shutdown.
//
// Append is lock-free and safe for unbounded concurrent callers. Close
// must only run after all appenders have quiesced; the probe layer
// enforces that by unpublishing the store before closing it.
type Store struct {
	f        *os.File
	data     []byte
	capacity uint32
	start    time.Time

	// cursor points at the write cursor field inside the mapping.
	// HeaderSize and the cursor offset keep it 8-byte aligned, which
	// 64-bit atomics require.
	cursor *uint64

	closed atomic.Bool
}

// Create builds a trace store at path with the given slot capacity.
// The backing file is created or truncated, sized to hold the header
// plus capacity entry slots, and mapped shared read/write. The header
// is written exactly once here; only the cursor mutates afterwards.
//
// A non-positive capacity falls back to DefaultCapacity.
func Create(path string, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	size := int64(HeaderSize) + int64(capacity)*EntrySize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}

	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("size trace file: %w", err)
	}

	data, err := mapShared(f, int(size))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map trace file: %w", err)
	}

	s := &Store{
		f:        f,
		data:     data,
		capacity: uint32(capacity),
		start:    time.Now(),
	}

	binary.LittleEndian.PutUint32(data[offMagic:], Magic)
	binary.LittleEndian.PutUint32(data[offVersion:], Version)
	binary.LittleEndian.PutUint32(data[offCapacity:], s.capacity)
	s.cursor = (*uint64)(unsafe.Pointer(&data[offCursor]))
	atomic.StoreUint64(s.cursor, 0)
	// start_ns is wall-clock so offline readers can anchor the run in
	// real time; entry deltas come from s.start's monotonic reading.
	binary.LittleEndian.PutUint64(data[offStartNS:], uint64(s.start.UnixNano()))

	return s, nil
}

// Append assigns the next sequence number and writes one entry into the
// slot it selects. The fetch-add on the shared cursor is the only
// synchronization across writers; the slot write itself is unguarded,
// so a wrapped slot may be observed torn by a concurrent reader.
// Returns the pre-increment cursor value as the entry's sequence number.
func (s *Store) Append(fn, callSite uint64, writer uint32, kind Kind, depth uint8) uint64 {
	seq := atomic.AddUint64(s.cursor, 1) - 1
	idx := seq % uint64(s.capacity)

	slot := s.data[HeaderSize+idx*EntrySize : HeaderSize+(idx+1)*EntrySize]
	encodeEntry(slot, Entry{
		TSDelta:  uint64(time.Since(s.start)),
		Func:     fn,
		CallSite: callSite,
		Writer:   writer,
		Kind:     kind,
		Depth:    depth,
	})

	return seq
}

// Cursor returns the number of entries ever appended.
func (s *Store) Cursor() uint64 {
	return atomic.LoadUint64(s.cursor)
}

// Capacity returns the fixed slot count.
func (s *Store) Capacity() uint32 {
	return s.capacity
}

// Size returns the total byte size of the backing file.
func (s *Store) Size() int64 {
	return int64(len(s.data))
}

// Path returns the location of the backing file.
func (s *Store) Path() string {
	return s.f.Name()
}

// Flush forces dirty pages of the mapping back to the backing file so
// that entries written so far survive an abnormal exit.
func (s *Store) Flush() error {
	if s.closed.Load() {
		return nil
	}
	return flushMap(s.data)
}

// Close flushes the mapping, unmaps it, and releases the file
// descriptor. It is idempotent; only the first call does any work.
// No entry may be appended once Close has started.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var firstErr error
	if err := flushMap(s.data); err != nil {
		firstErr = fmt.Errorf("flush trace mapping: %w", err)
	}
	if err := unmap(s.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("unmap trace file: %w", err)
	}
	s.data = nil
	s.cursor = nil
	if err := s.f.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close trace file: %w", err)
	}

	return firstErr
}
