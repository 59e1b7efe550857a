package trace

import "sort"

// FuncDelta compares one function's aggregates across two runs.
type FuncDelta struct {
	Func     uint64 `json:"func_addr"`
	Name     string `json:"func_name,omitempty"`
	CallsA   uint64 `json:"calls_a"`
	CallsB   uint64 `json:"calls_b"`
	TotalNSA uint64 `json:"total_ns_a"`
	TotalNSB uint64 `json:"total_ns_b"`
}

// DiffReport is a structural comparison of two run summaries.
type DiffReport struct {
	EventsA uint64      `json:"events_a"`
	EventsB uint64      `json:"events_b"`
	OnlyInA []uint64    `json:"only_in_a"`
	OnlyInB []uint64    `json:"only_in_b"`
	Changed []FuncDelta `json:"changed"`
}

// Diff compares two summaries function by function. Functions present
// in both runs appear in Changed only when call count or cumulative
// duration differs.
func Diff(a, b *Summary) *DiffReport {
	inA := make(map[uint64]FuncStats, len(a.Functions))
	for _, st := range a.Functions {
		inA[st.Func] = st
	}
	inB := make(map[uint64]FuncStats, len(b.Functions))
	for _, st := range b.Functions {
		inB[st.Func] = st
	}

	rep := &DiffReport{EventsA: a.Written, EventsB: b.Written}

	for fn, sa := range inA {
		sb, ok := inB[fn]
		if !ok {
			rep.OnlyInA = append(rep.OnlyInA, fn)
			continue
		}
		if sa.Calls != sb.Calls || sa.TotalNS != sb.TotalNS {
			name := sa.Name
			if name == "" {
				name = sb.Name
			}
			rep.Changed = append(rep.Changed, FuncDelta{
				Func:     fn,
				Name:     name,
				CallsA:   sa.Calls,
				CallsB:   sb.Calls,
				TotalNSA: sa.TotalNS,
				TotalNSB: sb.TotalNS,
			})
		}
	}
	for fn := range inB {
		if _, ok := inA[fn]; !ok {
			rep.OnlyInB = append(rep.OnlyInB, fn)
		}
	}

	sort.Slice(rep.OnlyInA, func(i, j int) bool { return rep.OnlyInA[i] < rep.OnlyInA[j] })
	sort.Slice(rep.OnlyInB, func(i, j int) bool { return rep.OnlyInB[i] < rep.OnlyInB[j] })
	sort.Slice(rep.Changed, func(i, j int) bool { return rep.Changed[i].Func < rep.Changed[j].Func })

	return rep
}
