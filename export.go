package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/saworbit/callflight/internal/metrics"
	"github.com/saworbit/callflight/internal/platform"
	"github.com/saworbit/callflight/pkg/config"
	"github.com/saworbit/callflight/pkg/pack"
	"github.com/saworbit/callflight/pkg/trace"
)

func newExportCmd() *cobra.Command {
	var file string
	var out string
	var compress string

	cmd := &cobra.Command{
		Use:   "export --file <trace> --out <pack>",
		Short: "Export a trace file as a compressed, integrity-checked pack",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" || out == "" {
				return fmt.Errorf("both --file and --out are required")
			}
			return runExport(file, out, compress)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Trace file to export")
	cmd.Flags().StringVar(&out, "out", "", "Destination pack file")
	cmd.Flags().StringVar(&compress, "compress", "", "Compression codec: zstd or xz (default: zstd)")
	return cmd
}

func runExport(file, out, compress string) error {
	cfg := config.LoadFromEnv()
	if compress == "" {
		compress = cfg.Compression
	}

	run, err := trace.Load(platform.LongPathname(file))
	if err != nil {
		return err
	}

	manifest, err := pack.Write(out, run, pack.Options{Compression: compress})
	metrics.ObservePack("write", err)
	if err != nil {
		return err
	}

	log.Printf("[export] wrote %s: %d events in %d chunks, merkle root %s",
		out, len(run.Events), len(manifest.Chunks), manifest.Root)
	return nil
}

func newVerifyCmd() *cobra.Command {
	var packPath string

	cmd := &cobra.Command{
		Use:   "verify --pack <pack>",
		Short: "Check a pack's chunk digests and merkle root",
		RunE: func(cmd *cobra.Command, args []string) error {
			if packPath == "" {
				return fmt.Errorf("pack is required")
			}
			return runVerify(packPath)
		},
	}

	cmd.Flags().StringVar(&packPath, "pack", "", "Pack file to verify")
	return cmd
}

func runVerify(packPath string) error {
	rep, err := pack.Verify(packPath)
	metrics.ObservePack("verify", err)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))

	if !rep.OK {
		return fmt.Errorf("pack %s failed verification", packPath)
	}
	return nil
}
