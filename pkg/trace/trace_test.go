package trace

import (
	"path/filepath"
	"testing"

	"github.com/saworbit/callflight/pkg/ring"
)

func TestLoadSortsByTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.trace")

	st, err := ring.Create(path, 8)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	st.Append(0xf1, 0xc1, 1, ring.KindEnter, 0)
	st.Append(0xf1, 0xc1, 1, ring.KindExit, 0)
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	run, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if run.Capacity != 8 {
		t.Errorf("Capacity = %d, want 8", run.Capacity)
	}
	if run.Written != 2 {
		t.Errorf("Written = %d, want 2", run.Written)
	}
	if run.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", run.Dropped)
	}
	if len(run.Events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(run.Events))
	}

	var lastTS uint64
	for i, e := range run.Events {
		if e.TS < lastTS {
			t.Errorf("Event %d out of temporal order", i)
		}
		lastTS = e.TS
	}
	if run.Events[0].Kind != KindEnter || run.Events[1].Kind != KindExit {
		t.Errorf("Kinds = %s,%s, want enter,exit", run.Events[0].Kind, run.Events[1].Kind)
	}
}

func evt(seq, ts, fn uint64, writer uint32, kind string, depth uint8) Event {
	return Event{Seq: seq, TS: ts, Func: fn, CallSite: fn + 0x100, Writer: writer, Kind: kind, Depth: depth}
}

func TestPairCallsBalanced(t *testing.T) {
	events := []Event{
		evt(0, 10, 0xf1, 1, KindEnter, 0),
		evt(1, 20, 0xf2, 1, KindEnter, 1),
		evt(2, 30, 0xf2, 1, KindExit, 1),
		evt(3, 40, 0xf1, 1, KindExit, 0),
	}

	calls, unmatched := PairCalls(events)
	if unmatched != 0 {
		t.Errorf("Unmatched = %d, want 0", unmatched)
	}
	if len(calls) != 2 {
		t.Fatalf("Expected 2 calls, got %d", len(calls))
	}

	// Inner call completes first.
	if calls[0].Func != 0xf2 || calls[0].Duration != 10 || calls[0].Depth != 1 {
		t.Errorf("Inner call = %+v", calls[0])
	}
	if calls[1].Func != 0xf1 || calls[1].Duration != 30 || calls[1].Depth != 0 {
		t.Errorf("Outer call = %+v", calls[1])
	}
}

func TestPairCallsUnmatched(t *testing.T) {
	events := []Event{
		// Exit with no matching enter (its enter was overwritten).
		evt(0, 5, 0xf0, 1, KindExit, 0),
		// Enter that never exits (still in flight).
		evt(1, 10, 0xf1, 1, KindEnter, 0),
		// Mismatched pair on another writer.
		evt(2, 15, 0xf2, 2, KindEnter, 0),
		evt(3, 25, 0xf3, 2, KindExit, 0),
	}

	calls, unmatched := PairCalls(events)
	if len(calls) != 0 {
		t.Errorf("Expected no calls, got %d", len(calls))
	}
	if unmatched != 3 {
		t.Errorf("Unmatched = %d, want 3", unmatched)
	}
}

func TestSummarize(t *testing.T) {
	events := []Event{
		evt(0, 10, 0xf1, 1, KindEnter, 0),
		evt(1, 40, 0xf1, 1, KindExit, 0),
		evt(2, 50, 0xf1, 2, KindEnter, 0),
		evt(3, 60, 0xf1, 2, KindExit, 0),
		evt(4, 70, 0xf2, 2, KindEnter, 0),
	}

	run := &Run{Path: "test.trace", Capacity: 8, Written: 5, Events: events}
	s := Summarize(run)

	if s.Calls != 2 {
		t.Errorf("Calls = %d, want 2", s.Calls)
	}
	if s.Unmatched != 1 {
		t.Errorf("Unmatched = %d, want 1", s.Unmatched)
	}
	if s.Writers != 2 {
		t.Errorf("Writers = %d, want 2", s.Writers)
	}
	if s.SpanNS != 70 {
		t.Errorf("SpanNS = %d, want 70", s.SpanNS)
	}
	if len(s.Functions) != 1 {
		t.Fatalf("Expected stats for 1 function, got %d", len(s.Functions))
	}

	fn := s.Functions[0]
	if fn.Func != 0xf1 {
		t.Errorf("Func = %#x, want 0xf1", fn.Func)
	}
	if fn.Calls != 2 {
		t.Errorf("Calls = %d, want 2", fn.Calls)
	}
	if fn.TotalNS != 40 {
		t.Errorf("TotalNS = %d, want 40", fn.TotalNS)
	}
	if fn.MaxNS != 30 {
		t.Errorf("MaxNS = %d, want 30", fn.MaxNS)
	}
}

func TestDiff(t *testing.T) {
	a := &Summary{
		Written: 4,
		Functions: []FuncStats{
			{Func: 0xf1, Calls: 2, TotalNS: 40},
			{Func: 0xf2, Calls: 1, TotalNS: 10},
		},
	}
	b := &Summary{
		Written: 6,
		Functions: []FuncStats{
			{Func: 0xf1, Calls: 3, TotalNS: 90},
			{Func: 0xf3, Calls: 1, TotalNS: 5},
		},
	}

	rep := Diff(a, b)

	if len(rep.OnlyInA) != 1 || rep.OnlyInA[0] != 0xf2 {
		t.Errorf("OnlyInA = %v, want [0xf2]", rep.OnlyInA)
	}
	if len(rep.OnlyInB) != 1 || rep.OnlyInB[0] != 0xf3 {
		t.Errorf("OnlyInB = %v, want [0xf3]", rep.OnlyInB)
	}
	if len(rep.Changed) != 1 {
		t.Fatalf("Changed = %v, want one delta", rep.Changed)
	}
	d := rep.Changed[0]
	if d.Func != 0xf1 || d.CallsA != 2 || d.CallsB != 3 {
		t.Errorf("Delta = %+v", d)
	}
}
