// Package ring implements the memory-mapped ring buffer that backs a
// callflight trace file.
//
// A trace file is a fixed-size header followed by a fixed number of
// 32-byte entry slots. All threads of the instrumented process share one
// mapping; the only cross-thread coordination is an atomic fetch-add on
// the header's write cursor. Once the cursor passes the slot capacity,
// new entries overwrite the oldest ones.
package ring

import "encoding/binary"

const (
	// Magic identifies a callflight trace file ("CFLT").
	Magic = 0x43464C54

	// Version is the current trace file format version. Readers must
	// reject files carrying any other value.
	Version = 1

	// HeaderSize is the size of the file header in bytes.
	HeaderSize = 64

	// EntrySize is the size of one entry slot in bytes.
	EntrySize = 32

	// DefaultCapacity is the slot count used when no capacity is
	// configured.
	DefaultCapacity = 1 << 16

	// MaxDepth is the largest nesting depth an entry can carry. Deeper
	// call stacks saturate at this value.
	MaxDepth = 255
)

// Header field offsets within the mapped region.
const (
	offMagic    = 0
	offVersion  = 4
	offCapacity = 8
	offCursor   = 16
	offStartNS  = 24
)

// Kind distinguishes function-entry events from function-exit events.
type Kind uint8

const (
	KindEnter Kind = 0
	KindExit  Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindEnter:
		return "enter"
	case KindExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Entry is one recorded function boundary event. Function and call-site
// addresses are opaque to the recorder; an offline reader resolves them.
type Entry struct {
	// TSDelta is nanoseconds since the store's start time.
	TSDelta uint64
	// Func identifies the function that was entered or exited.
	Func uint64
	// CallSite identifies the call site that invoked the function.
	CallSite uint64
	// Writer identifies the goroutine that wrote the entry.
	Writer uint32
	// Kind is KindEnter or KindExit.
	Kind Kind
	// Depth is the writer's nesting depth at the time of the event.
	Depth uint8
}

// Entry slot layout: ts u64 | func u64 | call_site u64 | writer u32 |
// kind u8 | depth u8 | 2 pad bytes. Little-endian throughout.
const (
	entryOffTS       = 0
	entryOffFunc     = 8
	entryOffCallSite = 16
	entryOffWriter   = 24
	entryOffKind     = 28
	entryOffDepth    = 29
)

func encodeEntry(dst []byte, e Entry) {
	binary.LittleEndian.PutUint64(dst[entryOffTS:], e.TSDelta)
	binary.LittleEndian.PutUint64(dst[entryOffFunc:], e.Func)
	binary.LittleEndian.PutUint64(dst[entryOffCallSite:], e.CallSite)
	binary.LittleEndian.PutUint32(dst[entryOffWriter:], e.Writer)
	dst[entryOffKind] = byte(e.Kind)
	dst[entryOffDepth] = e.Depth
	dst[entryOffDepth+1] = 0
	dst[entryOffDepth+2] = 0
}

func decodeEntry(src []byte) Entry {
	return Entry{
		TSDelta:  binary.LittleEndian.Uint64(src[entryOffTS:]),
		Func:     binary.LittleEndian.Uint64(src[entryOffFunc:]),
		CallSite: binary.LittleEndian.Uint64(src[entryOffCallSite:]),
		Writer:   binary.LittleEndian.Uint32(src[entryOffWriter:]),
		Kind:     Kind(src[entryOffKind]),
		Depth:    src[entryOffDepth],
	}
}
