package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/saworbit/callflight/internal/platform"
	"github.com/saworbit/callflight/pkg/ring"
)

// Environment variables read by the recorder runtime and the CLI. The
// runtime side is intentionally tiny: an instrumented process only ever
// looks at the trace path and the capacity.
const (
	EnvTracePath   = "CALLFLIGHT_TRACE_PATH"
	EnvCapacity    = "CALLFLIGHT_CAPACITY"
	EnvMetricsAddr = "CALLFLIGHT_METRICS_ADDR"
	EnvCompression = "CALLFLIGHT_COMPRESSION"

	EnvEBPFEnable  = "CALLFLIGHT_EBPF_ENABLE"
	EnvEBPFProgram = "CALLFLIGHT_EBPF_PROGRAM"
	EnvEBPFBuffer  = "CALLFLIGHT_EBPF_BUFFER"
)

// Config holds settings for the recorder runtime and the CLI tooling.
type Config struct {
	// TracePath is the backing file for the event ring.
	TracePath string

	// Capacity is the number of entry slots in the ring.
	Capacity int

	// MetricsAddr, when non-empty, is the listen address for the
	// Prometheus endpoint during `callflight record`.
	MetricsAddr string

	// Compression selects the pack codec ("zstd" or "xz").
	Compression string

	// EBPF configures the optional kernel-side syscall counter.
	EBPF EBPFConfig
}

// EBPFConfig captures settings for the optional syscall accounting
// probe attached while recording a child process.
type EBPFConfig struct {
	Enable          bool
	ProgramPath     string
	EventBufferSize int
}

// DefaultConfig returns the compiled-in defaults.
func DefaultConfig() *Config {
	return &Config{
		TracePath:   "",
		Capacity:    ring.DefaultCapacity,
		Compression: "zstd",
		EBPF: EBPFConfig{
			Enable:          false,
			EventBufferSize: 4096,
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
//
// When no trace path is set, a pid-derived default is chosen and
// published back into the environment, so later lookups and child
// processes resolve the same file. A non-positive or unparseable
// capacity silently falls back to the default; a broken override must
// never disable the instrumented program.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if path := os.Getenv(EnvTracePath); path != "" {
		cfg.TracePath = path
	} else {
		cfg.TracePath = platform.DefaultTracePath()
		os.Setenv(EnvTracePath, cfg.TracePath)
	}

	if raw := os.Getenv(EnvCapacity); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.Capacity = v
		}
	}

	if addr := os.Getenv(EnvMetricsAddr); addr != "" {
		cfg.MetricsAddr = addr
	}

	if codec := os.Getenv(EnvCompression); codec != "" {
		cfg.Compression = codec
	}

	cfg.EBPF = loadEBPFConfigFromEnv(cfg.EBPF)

	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.TracePath == "" {
		return fmt.Errorf("trace path must not be empty")
	}

	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got: %d", c.Capacity)
	}

	if c.Compression != "zstd" && c.Compression != "xz" {
		return fmt.Errorf("invalid compression: %s (must be 'zstd' or 'xz')", c.Compression)
	}

	if err := c.EBPF.Validate(); err != nil {
		return fmt.Errorf("ebpf config invalid: %w", err)
	}

	return nil
}

func loadEBPFConfigFromEnv(cfg EBPFConfig) EBPFConfig {
	if v := os.Getenv(EnvEBPFEnable); v != "" {
		cfg.Enable = v == "1" || v == "true" || v == "TRUE"
	}
	if v := os.Getenv(EnvEBPFProgram); v != "" {
		cfg.ProgramPath = v
	}
	if v := os.Getenv(EnvEBPFBuffer); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size > 0 {
			cfg.EventBufferSize = size
		}
	}
	return cfg
}

// Validate ensures eBPF configuration values make sense.
func (c EBPFConfig) Validate() error {
	if !c.Enable {
		return nil
	}
	if c.ProgramPath == "" {
		return fmt.Errorf("ebpf program path is required when syscall accounting is enabled")
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive")
	}
	return nil
}
