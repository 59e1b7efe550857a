package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/saworbit/callflight/pkg/trace"
)

func TestFormatNS(t *testing.T) {
	cases := map[uint64]string{
		0:          "0s",
		1500:       "1.5µs",
		2000000000: "2s",
	}
	for ns, want := range cases {
		if got := formatNS(ns); got != want {
			t.Errorf("formatNS(%d) = %s, want %s", ns, got, want)
		}
	}
}

func TestDeriveRunID(t *testing.T) {
	run := &trace.Run{
		Path:    "/tmp/callflight-4242.trace",
		StartNS: 1700000000000000000,
	}
	got := deriveRunID(run)
	want := "callflight-4242-1700000000000000000"
	if got != want {
		t.Errorf("deriveRunID = %s, want %s", got, want)
	}
}

func TestPrintSummary(t *testing.T) {
	s := &trace.Summary{
		Path:      "demo.trace",
		Written:   12,
		Retained:  12,
		Calls:     5,
		Unmatched: 2,
		Writers:   3,
		SpanNS:    1500,
		Functions: []trace.FuncStats{
			{Func: 0xf1, Name: "main.work", Calls: 3, TotalNS: 900, MaxNS: 400, MaxDepth: 2},
			{Func: 0xf2, Calls: 2, TotalNS: 600, MaxNS: 350, MaxDepth: 1},
		},
	}

	var buf bytes.Buffer
	printSummary(&buf, s)
	out := buf.String()

	for _, want := range []string{
		"trace demo.trace",
		"12 written, 12 retained, 0 overwritten",
		"5 paired, 2 unmatched, 3 writers",
		"FUNCTION",
		"main.work",
		"0xf2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary output missing %q:\n%s", want, out)
		}
	}

	// A resolved function shows its name, not its address.
	if strings.Contains(out, "0xf1") {
		t.Errorf("Resolved function printed as raw address:\n%s", out)
	}
}

func TestPrintSummaryNoFunctions(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &trace.Summary{Path: "empty.trace"})
	if strings.Contains(buf.String(), "FUNCTION") {
		t.Error("Expected no function table for an empty summary")
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"record", "read", "summary", "diff", "export", "verify", "index", "query"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("Subcommand %q not registered", name)
		}
	}
}
