package trace

import "sort"

// FuncStats aggregates the paired calls of one function.
type FuncStats struct {
	Func     uint64 `json:"func_addr"`
	Name     string `json:"func_name,omitempty"`
	Calls    uint64 `json:"calls"`
	TotalNS  uint64 `json:"total_ns"`
	MaxNS    uint64 `json:"max_ns"`
	MaxDepth uint8  `json:"max_depth"`
}

// Summary describes one run at the granularity the CLI reports.
type Summary struct {
	Path      string      `json:"path"`
	Written   uint64      `json:"events_written"`
	Retained  uint64      `json:"events_retained"`
	Dropped   uint64      `json:"events_dropped"`
	Calls     uint64      `json:"calls"`
	Unmatched int         `json:"unmatched_events"`
	Writers   int         `json:"writers"`
	SpanNS    uint64      `json:"span_ns"`
	Functions []FuncStats `json:"functions"`
}

// Summarize pairs the run's events into calls and aggregates them per
// function, ordered by cumulative duration.
func Summarize(run *Run) *Summary {
	calls, unmatched := PairCalls(run.Events)

	byFunc := make(map[uint64]*FuncStats)
	for _, c := range calls {
		st := byFunc[c.Func]
		if st == nil {
			st = &FuncStats{Func: c.Func}
			byFunc[c.Func] = st
		}
		st.Calls++
		st.TotalNS += c.Duration
		if c.Duration > st.MaxNS {
			st.MaxNS = c.Duration
		}
		if c.Depth > st.MaxDepth {
			st.MaxDepth = c.Depth
		}
	}

	writers := make(map[uint32]struct{})
	var span uint64
	for _, e := range run.Events {
		writers[e.Writer] = struct{}{}
		if e.TS > span {
			span = e.TS
		}
	}

	functions := make([]FuncStats, 0, len(byFunc))
	for _, st := range byFunc {
		functions = append(functions, *st)
	}
	sort.Slice(functions, func(i, j int) bool {
		if functions[i].TotalNS != functions[j].TotalNS {
			return functions[i].TotalNS > functions[j].TotalNS
		}
		return functions[i].Func < functions[j].Func
	})

	return &Summary{
		Path:      run.Path,
		Written:   run.Written,
		Retained:  uint64(len(run.Events)),
		Dropped:   run.Dropped,
		Calls:     uint64(len(calls)),
		Unmatched: unmatched,
		Writers:   len(writers),
		SpanNS:    span,
		Functions: functions,
	}
}
