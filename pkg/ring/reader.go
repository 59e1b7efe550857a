package ring

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Reader decodes a trace file produced by a Store. It works on a plain
// read of the file, so it can run in a different process, after the
// writer exited, or concurrently with a live writer. In the concurrent
// case the oldest slots may be mid-overwrite; Reader surfaces whatever
// bytes were visible and leaves torn-slot detection to the caller.
type Reader struct {
	// Capacity is the fixed slot count of the ring.
	Capacity uint32
	// Cursor is the number of entries ever written, not bounded by
	// Capacity.
	Cursor uint64
	// StartNS is the wall-clock time of store creation in Unix
	// nanoseconds. The header deliberately stores wall-clock rather
	// than a raw monotonic reading: a monotonic value is meaningless
	// once the writing process exits, while wall-clock anchors the run
	// for offline readers. Entry timestamps are monotonic deltas from
	// this instant, measured against the store's monotonic clock, so
	// ordering within a run never depends on the wall clock.
	StartNS uint64

	data []byte
}

// Event is a decoded entry paired with its assigned sequence number.
type Event struct {
	Seq uint64
	Entry
}

// OpenReader reads and validates the trace file at path. Unknown magic
// or version values mean the file is not a trace this reader can
// interpret; they are errors, not recoverable conditions.
func OpenReader(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace file: %w", err)
	}

	if len(data) < HeaderSize {
		return nil, fmt.Errorf("trace file %s: %d bytes is smaller than the %d byte header", path, len(data), HeaderSize)
	}

	if magic := binary.LittleEndian.Uint32(data[offMagic:]); magic != Magic {
		return nil, fmt.Errorf("trace file %s: bad magic %#08x", path, magic)
	}
	if version := binary.LittleEndian.Uint32(data[offVersion:]); version != Version {
		return nil, fmt.Errorf("trace file %s: unsupported format version %d", path, version)
	}

	capacity := binary.LittleEndian.Uint32(data[offCapacity:])
	if capacity == 0 {
		return nil, fmt.Errorf("trace file %s: zero capacity", path)
	}

	want := int64(HeaderSize) + int64(capacity)*EntrySize
	if int64(len(data)) != want {
		return nil, fmt.Errorf("trace file %s: size %d does not match capacity %d (want %d)", path, len(data), capacity, want)
	}

	return &Reader{
		Capacity: capacity,
		Cursor:   binary.LittleEndian.Uint64(data[offCursor:]),
		StartNS:  binary.LittleEndian.Uint64(data[offStartNS:]),
		data:     data,
	}, nil
}

// Peek reads only the header of the trace file at path, returning its
// capacity and write cursor. Cheap enough to poll while a writer is
// live.
func Peek(path string) (capacity uint32, cursor uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return 0, 0, fmt.Errorf("read trace header: %w", err)
	}

	if magic := binary.LittleEndian.Uint32(hdr[offMagic:]); magic != Magic {
		return 0, 0, fmt.Errorf("trace file %s: bad magic %#08x", path, magic)
	}
	if version := binary.LittleEndian.Uint32(hdr[offVersion:]); version != Version {
		return 0, 0, fmt.Errorf("trace file %s: unsupported format version %d", path, version)
	}

	return binary.LittleEndian.Uint32(hdr[offCapacity:]), binary.LittleEndian.Uint64(hdr[offCursor:]), nil
}

// Valid returns how many entries are still live in the ring: the last
// min(Cursor, Capacity) sequence numbers.
func (r *Reader) Valid() uint64 {
	if r.Cursor < uint64(r.Capacity) {
		return r.Cursor
	}
	return uint64(r.Capacity)
}

// Dropped returns how many entries were overwritten by ring wraparound.
func (r *Reader) Dropped() uint64 {
	return r.Cursor - r.Valid()
}

// Events decodes the live entries in sequence order. Slot position does
// not reflect temporal order once the ring has wrapped; callers that
// need temporal order must sort on TSDelta.
func (r *Reader) Events() []Event {
	first := r.Cursor - r.Valid()

	events := make([]Event, 0, r.Valid())
	for seq := first; seq < r.Cursor; seq++ {
		idx := seq % uint64(r.Capacity)
		off := uint64(HeaderSize) + idx*EntrySize
		events = append(events, Event{
			Seq:   seq,
			Entry: decodeEntry(r.data[off : off+EntrySize]),
		})
	}
	return events
}

// At decodes the entry holding sequence number seq. It returns false
// when seq has been overwritten or not yet written.
func (r *Reader) At(seq uint64) (Event, bool) {
	if seq >= r.Cursor || r.Cursor-seq > uint64(r.Capacity) {
		return Event{}, false
	}
	idx := seq % uint64(r.Capacity)
	off := uint64(HeaderSize) + idx*EntrySize
	return Event{Seq: seq, Entry: decodeEntry(r.data[off : off+EntrySize])}, true
}
