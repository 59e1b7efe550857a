// Package symbols resolves recorded function and call-site addresses
// against the instrumented binary, turning the opaque values in a trace
// into function names and source locations.
//
// Resolution reads the binary's pcln table, so it covers every function
// a Go binary carries without DWARF. Recorded addresses must match the
// link-time layout: a position-independent binary recorded under ASLR
// needs its load bias subtracted before lookup.
package symbols

import (
	"debug/elf"
	"debug/gosym"
	"fmt"
	"sync"

	"github.com/saworbit/callflight/pkg/trace"
)

// Symbol is one resolved code address.
type Symbol struct {
	Name string
	File string
	Line int
}

// Table resolves addresses for one binary. Lookups are cached; a Table
// is safe for concurrent use.
type Table struct {
	tab *gosym.Table

	mu    sync.Mutex
	cache map[uint64]Symbol
	known map[uint64]bool
}

// Open loads the symbol table of the Go ELF binary at path.
func Open(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open binary %s: %w", path, err)
	}
	defer f.Close()

	pclntab := f.Section(".gopclntab")
	if pclntab == nil {
		return nil, fmt.Errorf("binary %s: no Go pcln table (stripped or not a Go binary)", path)
	}
	data, err := pclntab.Data()
	if err != nil {
		return nil, fmt.Errorf("binary %s: read pcln table: %w", path, err)
	}

	text := f.Section(".text")
	if text == nil {
		return nil, fmt.Errorf("binary %s: no text section", path)
	}

	tab, err := gosym.NewTable(nil, gosym.NewLineTable(data, text.Addr))
	if err != nil {
		return nil, fmt.Errorf("binary %s: parse symbol table: %w", path, err)
	}

	return &Table{
		tab:   tab,
		cache: make(map[uint64]Symbol),
		known: make(map[uint64]bool),
	}, nil
}

// Resolve maps a code address to the function containing it. The second
// return is false when the address falls outside every known function.
func (t *Table) Resolve(addr uint64) (Symbol, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ok, seen := t.known[addr]; seen {
		return t.cache[addr], ok
	}

	file, line, fn := t.tab.PCToLine(addr)
	if fn == nil {
		t.known[addr] = false
		return Symbol{}, false
	}

	sym := Symbol{Name: fn.Name, File: file, Line: line}
	t.cache[addr] = sym
	t.known[addr] = true
	return sym, true
}

// Lookup returns the entry address of the named function.
func (t *Table) Lookup(name string) (uint64, bool) {
	fn := t.tab.LookupFunc(name)
	if fn == nil {
		return 0, false
	}
	return fn.Entry, true
}

// FuncName returns the name of the function containing addr, or the
// empty string when unresolvable.
func (t *Table) FuncName(addr uint64) string {
	sym, ok := t.Resolve(addr)
	if !ok {
		return ""
	}
	return sym.Name
}

// Location renders addr's source position as "file:line", or the empty
// string when unresolvable.
func (t *Table) Location(addr uint64) string {
	sym, ok := t.Resolve(addr)
	if !ok || sym.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", sym.File, sym.Line)
}

// AnnotateEvents fills in the symbolic fields of each event in place.
// Unresolvable addresses leave the fields empty, so raw hex output
// still carries the information.
func (t *Table) AnnotateEvents(events []trace.Event) {
	for i := range events {
		events[i].FuncName = t.FuncName(events[i].Func)
		events[i].CallLoc = t.Location(events[i].CallSite)
	}
}

// AnnotateSummary fills in the function names of a run summary.
func (t *Table) AnnotateSummary(s *trace.Summary) {
	for i := range s.Functions {
		s.Functions[i].Name = t.FuncName(s.Functions[i].Func)
	}
}

// AnnotateDiff fills in the function names of a diff report.
func (t *Table) AnnotateDiff(rep *trace.DiffReport) {
	for i := range rep.Changed {
		rep.Changed[i].Name = t.FuncName(rep.Changed[i].Func)
	}
}
