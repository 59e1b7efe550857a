// Package probe implements the event recording path invoked on every
// instrumented function boundary.
//
// Enter and Exit are designed to be called from any goroutine at any
// call depth, including before any explicit setup: the first call lazily
// initializes the shared trace store from the environment. Every failure
// mode degrades to a silent no-op. The instrumented program's behavior
// takes absolute precedence over completeness of the trace; losing
// events is acceptable, perturbing the host process is not.
package probe

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/saworbit/callflight/internal/metrics"
	"github.com/saworbit/callflight/pkg/config"
	"github.com/saworbit/callflight/pkg/ring"
)

var (
	bootstrap sync.Once
	store     atomic.Pointer[ring.Store]

	// states maps goroutine id to that goroutine's recording state.
	// Each goroutine only ever touches its own entry, so sync.Map's
	// lock-free read path serves every call after the first.
	states sync.Map // int64 -> *gState
)

// gState is the recording state owned exclusively by one goroutine.
// It needs no teardown; an abandoned entry is inert.
type gState struct {
	id     uint32
	depth  uint8
	inHook bool
}

func state() *gState {
	gid := goroutineID()
	if v, ok := states.Load(gid); ok {
		return v.(*gState)
	}
	v, _ := states.LoadOrStore(gid, &gState{id: uint32(gid)})
	return v.(*gState)
}

// Enter records a function-entry event. fn identifies the function
// being entered and callSite the instruction that invoked it; both are
// opaque to the recorder. The event carries the depth before entering
// the callee, then the goroutine's depth advances, saturating at
// ring.MaxDepth.
func Enter(fn, callSite uintptr) {
	s := state()
	record(s, fn, callSite, ring.KindEnter)
	if s.depth < ring.MaxDepth {
		s.depth++
	}
}

// Exit records a function-exit event. The goroutine's depth retreats
// first (never below zero), so the event carries the depth after
// returning to the caller's frame, symmetric with Enter.
func Exit(fn, callSite uintptr) {
	s := state()
	if s.depth > 0 {
		s.depth--
	}
	record(s, fn, callSite, ring.KindExit)
}

// Trace is a convenience wrapper for manual instrumentation. It records
// an Enter for the calling function and returns the matching Exit:
//
//	func handler() {
//		defer probe.Trace()()
//		...
//	}
//
// It resolves the caller's pc on each call, which costs more than the
// raw Enter/Exit pair; generated instrumentation should pass addresses
// directly.
func Trace() func() {
	var pcs [2]uintptr
	runtime.Callers(2, pcs[:])
	fn, site := pcs[0], pcs[1]
	Enter(fn, site)
	return func() { Exit(fn, site) }
}

func record(s *gState, fn, callSite uintptr, kind ring.Kind) {
	bootstrap.Do(initStore)

	st := store.Load()
	if st == nil {
		metrics.SkipDisabled()
		return
	}

	if s.inHook {
		metrics.SkipReentrant()
		return
	}
	s.inHook = true

	st.Append(uint64(fn), uint64(callSite), s.id, kind, s.depth)
	if kind == ring.KindEnter {
		metrics.RecordEnter()
	} else {
		metrics.RecordExit()
	}

	s.inHook = false
}

// initStore performs the one-time store construction. On failure the
// store pointer stays nil and recording is disabled for the remainder
// of the process; there is deliberately no retry or in-memory fallback.
func initStore() {
	cfg := config.LoadFromEnv()

	st, err := ring.Create(cfg.TracePath, cfg.Capacity)
	if err != nil {
		metrics.ObserveInit("error")
		return
	}

	metrics.ObserveInit("ok")
	metrics.TraceFileBytes.Set(float64(st.Size()))
	store.Store(st)
}

// Init eagerly initializes the recorder instead of waiting for the
// first Enter/Exit. Safe to call multiple times; the first of Init or a
// recording call wins.
func Init() {
	bootstrap.Do(initStore)
}

// Enabled reports whether events are currently being recorded.
func Enabled() bool {
	return store.Load() != nil
}

// Cursor returns the number of events written so far, or zero when the
// recorder is disabled.
func Cursor() uint64 {
	if st := store.Load(); st != nil {
		return st.Cursor()
	}
	return 0
}

// Flush forces buffered trace data to the backing file without closing
// the store. A no-op when the recorder is disabled.
func Flush() error {
	if st := store.Load(); st != nil {
		return st.Flush()
	}
	return nil
}

// Fini finalizes the recorder at process shutdown: the store is
// unpublished, flushed, unmapped, and its descriptor released. Calls to
// Enter/Exit issued after Fini become no-ops. Idempotent.
//
// The caller must quiesce recording goroutines first: unpublishing
// stops new recordings from starting, but a goroutine already past the
// store load can still be mid-append when the mapping goes away, and
// touching an unmapped page faults the process. Deferring Fini from
// main, after all instrumented goroutines have been joined, satisfies
// this.
//
// Go has no destructor hook, so instrumented programs defer this from
// main the same way instrumentation runtimes register their fini call.
func Fini() {
	if st := store.Swap(nil); st != nil {
		_ = st.Close()
	}
}
