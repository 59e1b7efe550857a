// Package trace decodes recorded trace files into an analyzable event
// model: temporal ordering, enter/exit pairing into calls, per-function
// summaries, and run-to-run comparison.
package trace

import (
	"fmt"
	"sort"

	"github.com/saworbit/callflight/pkg/ring"
)

// Event kinds as serialized in the JSON model.
const (
	KindEnter = "enter"
	KindExit  = "exit"
)

// Event is one decoded function boundary event. The symbolic fields
// stay empty unless a symbols table annotated the event.
type Event struct {
	Seq      uint64 `json:"seq"`
	TS       uint64 `json:"ts_ns"`
	Func     uint64 `json:"func_addr"`
	CallSite uint64 `json:"call_site"`
	Writer   uint32 `json:"writer_id"`
	Kind     string `json:"kind"`
	Depth    uint8  `json:"depth"`

	FuncName string `json:"func_name,omitempty"`
	CallLoc  string `json:"call_loc,omitempty"`
}

// Run is the decoded content of one trace file. Events are ordered by
// timestamp: slot position stops reflecting temporal order once the
// ring wraps, and cursor-adjacent sequence numbers may land far apart
// across writers, so the timestamp delta is the only usable ordering.
type Run struct {
	Path     string  `json:"path"`
	Capacity uint32  `json:"capacity"`
	Written  uint64  `json:"events_written"`
	Dropped  uint64  `json:"events_dropped"`
	StartNS  uint64  `json:"start_unix_ns"`
	Events   []Event `json:"events"`
}

// Load reads and decodes the trace file at path. The returned events
// are the last min(cursor, capacity) sequence numbers, sorted by
// timestamp.
func Load(path string) (*Run, error) {
	r, err := ring.OpenReader(path)
	if err != nil {
		return nil, err
	}

	raw := r.Events()
	events := make([]Event, len(raw))
	for i, e := range raw {
		events[i] = Event{
			Seq:      e.Seq,
			TS:       e.TSDelta,
			Func:     e.Func,
			CallSite: e.CallSite,
			Writer:   e.Writer,
			Kind:     e.Kind.String(),
			Depth:    e.Depth,
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TS < events[j].TS
	})

	return &Run{
		Path:     path,
		Capacity: r.Capacity,
		Written:  r.Cursor,
		Dropped:  r.Dropped(),
		StartNS:  r.StartNS,
		Events:   events,
	}, nil
}

// Call is one paired enter/exit spanning a function's execution on a
// single writer.
type Call struct {
	Func     uint64 `json:"func_addr"`
	CallSite uint64 `json:"call_site"`
	Writer   uint32 `json:"writer_id"`
	StartNS  uint64 `json:"start_ns"`
	Duration uint64 `json:"duration_ns"`
	Depth    uint8  `json:"depth"`
}

// PairCalls matches enter events with their exits, per writer, using a
// nesting stack. Ring overwrite and in-flight functions leave orphaned
// enters and exits; those are counted as unmatched rather than forced
// into bogus pairs.
func PairCalls(events []Event) (calls []Call, unmatched int) {
	type open struct {
		ev Event
	}
	stacks := make(map[uint32][]open)

	for _, e := range events {
		switch e.Kind {
		case KindEnter:
			stacks[e.Writer] = append(stacks[e.Writer], open{ev: e})
		case KindExit:
			stack := stacks[e.Writer]
			if len(stack) == 0 {
				unmatched++
				continue
			}
			top := stack[len(stack)-1]
			stacks[e.Writer] = stack[:len(stack)-1]
			if top.ev.Func != e.Func {
				unmatched++
				continue
			}
			calls = append(calls, Call{
				Func:     e.Func,
				CallSite: top.ev.CallSite,
				Writer:   e.Writer,
				StartNS:  top.ev.TS,
				Duration: e.TS - top.ev.TS,
				Depth:    top.ev.Depth,
			})
		}
	}

	for _, stack := range stacks {
		unmatched += len(stack)
	}

	return calls, unmatched
}

// FormatAddr renders a function or call-site address the way the rest
// of the tooling prints them.
func FormatAddr(addr uint64) string {
	return fmt.Sprintf("0x%x", addr)
}
