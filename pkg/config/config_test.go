package config

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/saworbit/callflight/pkg/ring"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvTracePath, EnvCapacity, EnvMetricsAddr, EnvCompression,
		EnvEBPFEnable, EnvEBPFProgram, EnvEBPFBuffer,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != ring.DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", cfg.Capacity, ring.DefaultCapacity)
	}
	if cfg.Compression != "zstd" {
		t.Errorf("Compression = %s, want zstd", cfg.Compression)
	}
	if cfg.EBPF.Enable {
		t.Error("Expected eBPF disabled by default")
	}
	if cfg.EBPF.EventBufferSize != 4096 {
		t.Errorf("EventBufferSize = %d, want 4096", cfg.EBPF.EventBufferSize)
	}
}

func TestLoadFromEnvDefaultsPublishPath(t *testing.T) {
	clearEnv(t)

	cfg := LoadFromEnv()

	if cfg.TracePath == "" {
		t.Fatal("Expected a derived trace path")
	}
	want := fmt.Sprintf("callflight-%d.trace", os.Getpid())
	if !strings.HasSuffix(cfg.TracePath, want) {
		t.Errorf("TracePath = %s, want suffix %s", cfg.TracePath, want)
	}

	// The derived path must be visible to child processes.
	if got := os.Getenv(EnvTracePath); got != cfg.TracePath {
		t.Errorf("Published path = %s, want %s", got, cfg.TracePath)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvTracePath, "/tmp/custom.trace")
	t.Setenv(EnvCapacity, "1024")
	t.Setenv(EnvMetricsAddr, "127.0.0.1:9191")
	t.Setenv(EnvCompression, "xz")
	t.Setenv(EnvEBPFEnable, "true")
	t.Setenv(EnvEBPFProgram, "/opt/probes/syscalls.o")
	t.Setenv(EnvEBPFBuffer, "8192")

	cfg := LoadFromEnv()

	if cfg.TracePath != "/tmp/custom.trace" {
		t.Errorf("TracePath = %s, want /tmp/custom.trace", cfg.TracePath)
	}
	if cfg.Capacity != 1024 {
		t.Errorf("Capacity = %d, want 1024", cfg.Capacity)
	}
	if cfg.MetricsAddr != "127.0.0.1:9191" {
		t.Errorf("MetricsAddr = %s, want 127.0.0.1:9191", cfg.MetricsAddr)
	}
	if cfg.Compression != "xz" {
		t.Errorf("Compression = %s, want xz", cfg.Compression)
	}
	if !cfg.EBPF.Enable {
		t.Error("Expected eBPF enabled")
	}
	if cfg.EBPF.ProgramPath != "/opt/probes/syscalls.o" {
		t.Errorf("ProgramPath = %s", cfg.EBPF.ProgramPath)
	}
	if cfg.EBPF.EventBufferSize != 8192 {
		t.Errorf("EventBufferSize = %d, want 8192", cfg.EBPF.EventBufferSize)
	}
}

func TestLoadFromEnvBadCapacityFallsBack(t *testing.T) {
	for _, raw := range []string{"not-a-number", "0", "-64", "1.5"} {
		t.Run(raw, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(EnvCapacity, raw)

			cfg := LoadFromEnv()
			if cfg.Capacity != ring.DefaultCapacity {
				t.Errorf("Capacity = %d, want default %d", cfg.Capacity, ring.DefaultCapacity)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with path", func(c *Config) { c.TracePath = "/tmp/x.trace" }, false},
		{"empty path", func(c *Config) {}, true},
		{"zero capacity", func(c *Config) { c.TracePath = "/tmp/x.trace"; c.Capacity = 0 }, true},
		{"bad compression", func(c *Config) { c.TracePath = "/tmp/x.trace"; c.Compression = "lz4" }, true},
		{"ebpf without program", func(c *Config) { c.TracePath = "/tmp/x.trace"; c.EBPF.Enable = true }, true},
		{"ebpf complete", func(c *Config) {
			c.TracePath = "/tmp/x.trace"
			c.EBPF.Enable = true
			c.EBPF.ProgramPath = "/opt/probes/syscalls.o"
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestEBPFEnableParsing(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "TRUE": true,
		"0": false, "false": false, "yes": false,
	}
	for raw, want := range cases {
		clearEnv(t)
		t.Setenv(EnvEBPFEnable, raw)
		cfg := LoadFromEnv()
		if cfg.EBPF.Enable != want {
			t.Errorf("%s=%q: Enable = %v, want %v", EnvEBPFEnable, raw, cfg.EBPF.Enable, want)
		}
	}
}
