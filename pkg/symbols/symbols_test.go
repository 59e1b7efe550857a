package symbols

import (
	"os"
	"strings"
	"testing"

	"github.com/saworbit/callflight/pkg/trace"
)

const testFuncName = "github.com/saworbit/callflight/pkg/symbols.TestResolveKnownFunction"

// openSelf resolves against the running test binary, which carries a
// full pcln table for every function in this package.
func openSelf(t *testing.T) *Table {
	t.Helper()

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("Executable failed: %v", err)
	}
	tab, err := Open(exe)
	if err != nil {
		t.Skipf("test binary has no readable symbol table: %v", err)
	}
	return tab
}

func TestResolveKnownFunction(t *testing.T) {
	tab := openSelf(t)

	entry, ok := tab.Lookup(testFuncName)
	if !ok {
		t.Fatalf("Lookup(%s) found nothing", testFuncName)
	}

	sym, ok := tab.Resolve(entry)
	if !ok {
		t.Fatalf("Resolve(%#x) found nothing", entry)
	}
	if sym.Name != testFuncName {
		t.Errorf("Name = %s, want %s", sym.Name, testFuncName)
	}
	if !strings.HasSuffix(sym.File, "symbols_test.go") {
		t.Errorf("File = %s, want a symbols_test.go path", sym.File)
	}
	if sym.Line <= 0 {
		t.Errorf("Line = %d, want > 0", sym.Line)
	}

	if loc := tab.Location(entry); !strings.Contains(loc, "symbols_test.go:") {
		t.Errorf("Location = %s, want file:line form", loc)
	}

	// Cached second lookup must agree.
	again, ok := tab.Resolve(entry)
	if !ok || again != sym {
		t.Errorf("Cached Resolve = %+v, want %+v", again, sym)
	}
}

func TestResolveUnknownAddress(t *testing.T) {
	tab := openSelf(t)

	if _, ok := tab.Resolve(1); ok {
		t.Error("Expected address 1 to be unresolvable")
	}
	if name := tab.FuncName(1); name != "" {
		t.Errorf("FuncName(1) = %s, want empty", name)
	}
	if loc := tab.Location(1); loc != "" {
		t.Errorf("Location(1) = %s, want empty", loc)
	}
	if _, ok := tab.Lookup("no.such/package.Function"); ok {
		t.Error("Expected lookup of a fabricated name to fail")
	}
}

func TestAnnotate(t *testing.T) {
	tab := openSelf(t)

	entry, ok := tab.Lookup(testFuncName)
	if !ok {
		t.Fatalf("Lookup(%s) found nothing", testFuncName)
	}

	events := []trace.Event{
		{Func: entry, CallSite: entry, Kind: trace.KindEnter},
		{Func: 1, CallSite: 1, Kind: trace.KindExit},
	}
	tab.AnnotateEvents(events)
	if events[0].FuncName != testFuncName {
		t.Errorf("FuncName = %s, want %s", events[0].FuncName, testFuncName)
	}
	if !strings.Contains(events[0].CallLoc, "symbols_test.go:") {
		t.Errorf("CallLoc = %s, want file:line form", events[0].CallLoc)
	}
	if events[1].FuncName != "" || events[1].CallLoc != "" {
		t.Errorf("Unresolvable event annotated: %+v", events[1])
	}

	s := &trace.Summary{Functions: []trace.FuncStats{{Func: entry}, {Func: 1}}}
	tab.AnnotateSummary(s)
	if s.Functions[0].Name != testFuncName {
		t.Errorf("Summary name = %s, want %s", s.Functions[0].Name, testFuncName)
	}
	if s.Functions[1].Name != "" {
		t.Errorf("Unresolvable summary row annotated: %+v", s.Functions[1])
	}

	rep := &trace.DiffReport{Changed: []trace.FuncDelta{{Func: entry}}}
	tab.AnnotateDiff(rep)
	if rep.Changed[0].Name != testFuncName {
		t.Errorf("Diff name = %s, want %s", rep.Changed[0].Name, testFuncName)
	}
}

func TestOpenRejectsNonBinary(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-elf")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	if _, err := f.WriteString("just some text"); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	f.Close()

	if _, err := Open(f.Name()); err == nil {
		t.Error("Expected error opening a non-ELF file")
	}
}
