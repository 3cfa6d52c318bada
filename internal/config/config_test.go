package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"emberdb/internal/logger"
	"emberdb/internal/rdb"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoadRequiresAddr(t *testing.T) {
	_, err := Load(envMap(map[string]string{}))
	if err == nil {
		t.Fatal("expected an error when ADDR is unset")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{"ADDR": ":6380"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":6380" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.FlushEvery != defaultFlushEvery {
		t.Errorf("FlushEvery = %v, want %v", cfg.FlushEvery, defaultFlushEvery)
	}
	if cfg.RDBPath != "" {
		t.Errorf("RDBPath = %q, want empty", cfg.RDBPath)
	}
	if cfg.Compression != rdb.CodecNone {
		t.Errorf("Compression = %v, want none", cfg.Compression)
	}
}

func TestLoadFlushEveryIsClamped(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{"ADDR": ":6380", "FLUSH_EVERY": "0"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FlushEvery != minFlushEvery {
		t.Errorf("FlushEvery = %v, want clamped to %v", cfg.FlushEvery, minFlushEvery)
	}

	cfg, err = Load(envMap(map[string]string{"ADDR": ":6380", "FLUSH_EVERY": "172800"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FlushEvery != maxFlushEvery {
		t.Errorf("FlushEvery = %v, want clamped to %v", cfg.FlushEvery, maxFlushEvery)
	}
}

func TestLoadFlushEverySeconds(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{"ADDR": ":6380", "FLUSH_EVERY": "90"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FlushEvery != 90*time.Second {
		t.Errorf("FlushEvery = %v, want 90s", cfg.FlushEvery)
	}
}

func TestLoadBadFlushEveryDefaultsWithWarning(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{"ADDR": ":6380", "FLUSH_EVERY": "not-a-duration"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FlushEvery != defaultFlushEvery {
		t.Errorf("FlushEvery = %v, want default %v on unparsable input", cfg.FlushEvery, defaultFlushEvery)
	}
	if len(cfg.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one warning", cfg.Warnings)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emberdb.yaml")
	content := "logDir: /var/log/from-file\nlogLevel: warn\ncompression: zstd\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(envMap(map[string]string{
		"ADDR":        ":6380",
		"CONFIG_FILE": path,
		"LOG_LEVEL":   "error",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogDir != "/var/log/from-file" {
		t.Errorf("LogDir = %q, want file override to apply", cfg.LogDir)
	}
	if cfg.LogLevel != logger.ERROR {
		t.Errorf("LogLevel = %v, want env override (error) to win over file (warn)", cfg.LogLevel)
	}
	if cfg.Compression != rdb.CodecZstd {
		t.Errorf("Compression = %v, want zstd from file", cfg.Compression)
	}
}

func TestLoadConnLimiterKnobs(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"ADDR":         ":6380",
		"CONN_PER_SEC": "100",
		"CONN_BURST":   "50",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConnPerSec != 100 {
		t.Errorf("ConnPerSec = %v, want 100", cfg.ConnPerSec)
	}
	if cfg.ConnBurst != 50 {
		t.Errorf("ConnBurst = %v, want 50", cfg.ConnBurst)
	}
}

func TestSummaryIncludesAddr(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{"ADDR": ":6380"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Summary(); got == "" {
		t.Fatal("Summary returned empty string")
	}
}

func TestClampDoesNotMutateWithinBounds(t *testing.T) {
	cfg := &Config{FlushEvery: 30 * time.Second}
	cfg.clamp()
	if cfg.FlushEvery != 30*time.Second {
		t.Errorf("clamp altered an in-bounds value: %v", cfg.FlushEvery)
	}
}
