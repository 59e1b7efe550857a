package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/spf13/cobra"

	"github.com/saworbit/callflight/internal/platform"
	"github.com/saworbit/callflight/pkg/index"
	"github.com/saworbit/callflight/pkg/trace"
)

func newIndexCmd() *cobra.Command {
	var file string
	var stateDir string
	var runID string

	cmd := &cobra.Command{
		Use:   "index --file <trace> --state-dir <dir>",
		Short: "Ingest a trace file into the Pebble-backed trace index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" || stateDir == "" {
				return fmt.Errorf("both --file and --state-dir are required")
			}
			return runIndex(file, stateDir, runID)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Trace file to ingest")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: derived from the trace file)")
	return cmd
}

func runIndex(file, stateDir, runID string) error {
	run, err := trace.Load(platform.LongPathname(file))
	if err != nil {
		return err
	}

	if runID == "" {
		runID = deriveRunID(run)
	}

	db, err := pebble.Open(stateDir, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	defer db.Close()

	if err := index.Ingest(db, runID, run); err != nil {
		return err
	}

	log.Printf("[index] ingested run %s: %d events", runID, len(run.Events))
	return nil
}

func newQueryCmd() *cobra.Command {
	var stateDir string
	var runID string
	var from uint64
	var to uint64
	var functions bool
	var listRuns bool
	var binary string

	cmd := &cobra.Command{
		Use:   "query --state-dir <dir> --run-id <id>",
		Short: "Query the trace index by time window or function",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			if !listRuns && runID == "" {
				return fmt.Errorf("run-id is required unless --runs is set")
			}
			return runQuery(stateDir, runID, from, to, functions, listRuns, binary)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier")
	cmd.Flags().Uint64Var(&from, "from", 0, "Lower timestamp bound in nanoseconds since run start")
	cmd.Flags().Uint64Var(&to, "to", 0, "Upper timestamp bound in nanoseconds since run start (0 = unbounded)")
	cmd.Flags().BoolVar(&functions, "functions", false, "Return per-function aggregates instead of events")
	cmd.Flags().BoolVar(&listRuns, "runs", false, "List ingested runs")
	cmd.Flags().StringVar(&binary, "binary", "", "Instrumented binary to resolve addresses against")
	return cmd
}

func runQuery(stateDir, runID string, from, to uint64, functions, listRuns bool, binary string) error {
	db, err := pebble.Open(stateDir, &pebble.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	defer db.Close()

	tab, err := loadSymbols(binary)
	if err != nil {
		return err
	}

	var result any
	switch {
	case listRuns:
		result, err = index.Runs(db)
	case functions:
		stats, ferr := index.Functions(db, runID)
		if ferr == nil && tab != nil {
			for i := range stats {
				stats[i].Name = tab.FuncName(stats[i].Func)
			}
		}
		result, err = stats, ferr
	default:
		events, eerr := index.Events(db, runID, from, to)
		if eerr == nil && tab != nil {
			tab.AnnotateEvents(events)
		}
		result, err = events, eerr
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

// deriveRunID builds a stable default identifier from the trace file
// name and the run's start time.
func deriveRunID(run *trace.Run) string {
	base := filepath.Base(run.Path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s-%d", base, run.StartNS)
}
