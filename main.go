package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/saworbit/callflight/internal/metrics"
	"github.com/saworbit/callflight/internal/platform"
	"github.com/saworbit/callflight/internal/version"
	"github.com/saworbit/callflight/pkg/config"
	"github.com/saworbit/callflight/pkg/ebpf"
	"github.com/saworbit/callflight/pkg/symbols"
	"github.com/saworbit/callflight/pkg/trace"
)

// loadSymbols opens the symbol table for --binary flags. An empty path
// means no symbolization was requested.
func loadSymbols(binary string) (*symbols.Table, error) {
	if binary == "" {
		return nil, nil
	}
	return symbols.Open(binary)
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "callflight",
		Short:   "Callflight - in-process function call flight recorder",
		Version: version.Version,
	}

	root.AddCommand(
		newRecordCmd(),
		newReadCmd(),
		newSummaryCmd(),
		newDiffCmd(),
		newExportCmd(),
		newVerifyCmd(),
		newIndexCmd(),
		newQueryCmd(),
	)
	return root
}

func newRecordCmd() *cobra.Command {
	var tracePath string
	var capacity int
	var follow bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "record -- <command>",
		Short: "Run an instrumented command and summarize the trace it produces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(tracePath, capacity, follow, metricsAddr, args)
		},
	}

	cmd.Flags().StringVar(&tracePath, "trace", "", "Trace file location (default: pid-derived temp path)")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "Ring capacity in entry slots (default: 65536)")
	cmd.Flags().BoolVar(&follow, "follow", false, "Log event throughput while the command runs")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address (disabled when empty)")
	return cmd
}

func runRecord(tracePath string, capacity int, follow bool, metricsAddr string, args []string) error {
	cfg := config.LoadFromEnv()

	// Flag overrides are pushed back into the environment so the child
	// process resolves the same trace file and capacity.
	if tracePath != "" {
		cfg.TracePath = tracePath
		os.Setenv(config.EnvTracePath, tracePath)
	}
	if capacity > 0 {
		cfg.Capacity = capacity
		os.Setenv(config.EnvCapacity, strconv.Itoa(capacity))
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, log.Default()); err != nil {
				log.Printf("[metrics] server stopped: %v", err)
			}
		}()
	}

	if cfg.EBPF.Enable {
		mgr, err := ebpf.NewManager(&cfg.EBPF)
		if err != nil && !errors.Is(err, ebpf.ErrUnsupported) {
			log.Printf("[record] syscall accounting unavailable: %v", err)
		}
		if mgr != nil {
			go func() {
				if err := mgr.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("[ebpf] manager stopped: %v", err)
				}
			}()
			go drainSyscallEvents(mgr.Events())
			defer mgr.Close()
		}
	}

	if follow {
		if err := startFollower(ctx, cfg.TracePath); err != nil {
			log.Printf("[follow] disabled: %v", err)
		}
	}

	child := exec.CommandContext(ctx, args[0], args[1:]...)
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Stdin = os.Stdin
	child.Env = os.Environ()

	runErr := child.Run()

	run, err := trace.Load(platform.LongPathname(cfg.TracePath))
	if err != nil {
		log.Printf("[record] no usable trace at %s: %v", cfg.TracePath, err)
		return runErr
	}

	s := trace.Summarize(run)

	// The recorded binary is right there, so resolve addresses against
	// it. A stripped or non-Go child just leaves the hex columns.
	if bin, err := exec.LookPath(args[0]); err == nil {
		if tab, err := symbols.Open(bin); err == nil {
			tab.AnnotateSummary(s)
		}
	}

	printSummary(os.Stdout, s)
	return runErr
}

func drainSyscallEvents(events <-chan ebpf.Event) {
	for range events {
		metrics.SyscallEventsTotal.Inc()
	}
}

func newReadCmd() *cobra.Command {
	var file string
	var binary string

	cmd := &cobra.Command{
		Use:   "read --file <trace>",
		Short: "Dump the live events of a trace file as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("file is required")
			}
			return runRead(file, binary)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Trace file to read")
	cmd.Flags().StringVar(&binary, "binary", "", "Instrumented binary to resolve addresses against")
	return cmd
}

func runRead(file, binary string) error {
	run, err := trace.Load(platform.LongPathname(file))
	if err != nil {
		return err
	}

	tab, err := loadSymbols(binary)
	if err != nil {
		return err
	}
	if tab != nil {
		tab.AnnotateEvents(run.Events)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, e := range run.Events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func newSummaryCmd() *cobra.Command {
	var file string
	var binary string

	cmd := &cobra.Command{
		Use:   "summary --file <trace>",
		Short: "Print per-function statistics for a trace file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("file is required")
			}
			return runSummary(file, binary)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Trace file to summarize")
	cmd.Flags().StringVar(&binary, "binary", "", "Instrumented binary to resolve addresses against")
	return cmd
}

func runSummary(file, binary string) error {
	run, err := trace.Load(platform.LongPathname(file))
	if err != nil {
		return err
	}

	s := trace.Summarize(run)

	tab, err := loadSymbols(binary)
	if err != nil {
		return err
	}
	if tab != nil {
		tab.AnnotateSummary(s)
	}

	printSummary(os.Stdout, s)
	return nil
}

func newDiffCmd() *cobra.Command {
	var fileA string
	var fileB string
	var binary string

	cmd := &cobra.Command{
		Use:   "diff --a <trace> --b <trace>",
		Short: "Compare the function profiles of two trace files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fileA == "" || fileB == "" {
				return fmt.Errorf("both --a and --b are required")
			}
			return runDiff(fileA, fileB, binary)
		},
	}

	cmd.Flags().StringVar(&fileA, "a", "", "Baseline trace file")
	cmd.Flags().StringVar(&fileB, "b", "", "Comparison trace file")
	cmd.Flags().StringVar(&binary, "binary", "", "Instrumented binary to resolve addresses against")
	return cmd
}

func runDiff(fileA, fileB, binary string) error {
	runA, err := trace.Load(platform.LongPathname(fileA))
	if err != nil {
		return err
	}
	runB, err := trace.Load(platform.LongPathname(fileB))
	if err != nil {
		return err
	}

	sumA, sumB := trace.Summarize(runA), trace.Summarize(runB)

	tab, err := loadSymbols(binary)
	if err != nil {
		return err
	}
	if tab != nil {
		tab.AnnotateSummary(sumA)
		tab.AnnotateSummary(sumB)
	}

	rep := trace.Diff(sumA, sumB)

	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printSummary(w io.Writer, s *trace.Summary) {
	fmt.Fprintf(w, "trace %s\n", s.Path)
	fmt.Fprintf(w, "  events: %d written, %d retained, %d overwritten\n", s.Written, s.Retained, s.Dropped)
	fmt.Fprintf(w, "  calls:  %d paired, %d unmatched, %d writers, span %s\n",
		s.Calls, s.Unmatched, s.Writers, formatNS(s.SpanNS))

	if len(s.Functions) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  FUNCTION\tCALLS\tTOTAL\tMAX\tDEPTH")
	for _, fn := range s.Functions {
		name := fn.Name
		if name == "" {
			name = trace.FormatAddr(fn.Func)
		}
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\t%d\n",
			name, fn.Calls, formatNS(fn.TotalNS), formatNS(fn.MaxNS), fn.MaxDepth)
	}
	tw.Flush()
}

func formatNS(ns uint64) string {
	return time.Duration(ns).String()
}
