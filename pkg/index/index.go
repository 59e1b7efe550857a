// Package index persists decoded trace runs into a Pebble store so
// repeated queries do not re-decode the raw ring file. Keys are
// prefix-partitioned and time-ordered, mirroring how events are asked
// for: by run, then by timestamp window.
package index

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/saworbit/callflight/internal/metrics"
	"github.com/saworbit/callflight/pkg/trace"
)

// Key prefixes. Event keys embed the timestamp zero-padded so Pebble's
// lexicographic order is temporal order.
const (
	PrefixRun   = "run:"
	PrefixEvent = "evt:"
	PrefixFunc  = "fn:"
)

// RunRecord is the per-run metadata row.
type RunRecord struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	StartNS    uint64 `json:"start_unix_ns"`
	Capacity   uint32 `json:"capacity"`
	Written    uint64 `json:"events_written"`
	Retained   int    `json:"events_retained"`
	IngestedAt int64  `json:"ingested_at"`
}

// Ingest writes a decoded run under the given id: one metadata row, one
// row per event in timestamp order, and one aggregate row per function.
func Ingest(db *pebble.DB, id string, run *trace.Run) error {
	if db == nil {
		return fmt.Errorf("pebble database is not initialized")
	}
	if id == "" {
		return fmt.Errorf("run id must not be empty")
	}

	batch := db.NewBatch()
	defer batch.Close()

	rec := RunRecord{
		ID:         id,
		Path:       run.Path,
		StartNS:    run.StartNS,
		Capacity:   run.Capacity,
		Written:    run.Written,
		Retained:   len(run.Events),
		IngestedAt: time.Now().UnixNano(),
	}
	recBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	if err := batch.Set([]byte(PrefixRun+id), recBytes, pebble.NoSync); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}

	for _, e := range run.Events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		key := eventKey(id, e.TS, e.Seq)
		if err := batch.Set(key, payload, pebble.NoSync); err != nil {
			return fmt.Errorf("write event %d: %w", e.Seq, err)
		}
	}

	summary := trace.Summarize(run)
	for _, st := range summary.Functions {
		payload, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal function stats: %w", err)
		}
		key := []byte(fmt.Sprintf("%s%s:%016x", PrefixFunc, id, st.Func))
		if err := batch.Set(key, payload, pebble.NoSync); err != nil {
			return fmt.Errorf("write function stats: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit run %s: %w", id, err)
	}

	metrics.IndexedEventsTotal.Add(float64(len(run.Events)))

	return nil
}

// Runs lists every ingested run.
func Runs(db *pebble.DB) ([]RunRecord, error) {
	iter, err := newPrefixIter(db, PrefixRun)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var runs []RunRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec RunRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		runs = append(runs, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Events returns the run's events with from <= ts < to, in timestamp
// order. A zero `to` means no upper bound.
func Events(db *pebble.DB, id string, from, to uint64) ([]trace.Event, error) {
	lower := eventKey(id, from, 0)
	var upper []byte
	if to > 0 {
		upper = eventKey(id, to, 0)
	} else {
		upper = append([]byte(PrefixEvent+id+":"), 0xff)
	}

	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var events []trace.Event
	for iter.First(); iter.Valid(); iter.Next() {
		var e trace.Event
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return events, nil
}

// Functions returns the run's per-function aggregates.
func Functions(db *pebble.DB, id string) ([]trace.FuncStats, error) {
	iter, err := newPrefixIter(db, PrefixFunc+id+":")
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var stats []trace.FuncStats
	for iter.First(); iter.Valid(); iter.Next() {
		var st trace.FuncStats
		if err := json.Unmarshal(iter.Value(), &st); err != nil {
			continue
		}
		stats = append(stats, st)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return stats, nil
}

func eventKey(id string, ts, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%012d", PrefixEvent, id, ts, seq))
}

func newPrefixIter(db *pebble.DB, prefix string) (*pebble.Iterator, error) {
	upper := append([]byte(prefix), 0xff)
	return db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
}
