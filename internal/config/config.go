// Package config loads emberdb's runtime configuration: a required
// listen address, optional snapshot settings, and ambient knobs for
// logging and value compression, from environment variables with an
// optional YAML file overlay for the logging and compression knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"emberdb/internal/logger"
	"emberdb/internal/rdb"
)

const (
	defaultFlushEvery = 60 * time.Second
	minFlushEvery     = time.Second
	maxFlushEvery     = time.Hour

	defaultLogDir = "logs"
)

// FileOverrides is the optional YAML document pointed to by CONFIG_FILE. It
// carries the logging and compression knobs, which LOG_DIR, LOG_LEVEL and
// COMPRESSION can also set: env vars always win when both are set.
type FileOverrides struct {
	LogDir      string `yaml:"logDir"`
	LogLevel    string `yaml:"logLevel"`
	Compression string `yaml:"compression"`
}

// Config is emberdb's fully resolved runtime configuration.
type Config struct {
	Addr        string
	RDBPath     string
	FlushEvery  time.Duration
	LogDir      string
	LogLevel    logger.Level
	Compression rdb.Codec

	// ConnPerSec and ConnBurst bound the acceptor's connection-admission
	// rate; ConnPerSec <= 0 disables the limiter.
	ConnPerSec float64
	ConnBurst  int

	// Warnings collects non-fatal load-time issues (e.g. an unparsable
	// FLUSH_EVERY falling back to its default) for the caller to log once
	// the logger is available; Load itself never writes to a logger.
	Warnings []string
}

// Load reads Config from the process environment, optionally overlaying a
// YAML file named by CONFIG_FILE. ADDR is the only required variable.
// FLUSH_EVERY is a plain count of seconds; an unset value takes
// defaultFlushEvery, and an unparsable one falls back to it rather than
// aborting startup, recorded in Config.Warnings for the caller to log.
func Load(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := &Config{}
	cfg.ApplyDefaults()

	if path := getenv("CONFIG_FILE"); path != "" {
		overrides, err := loadFileOverrides(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.applyFileOverrides(overrides)
	}

	cfg.Addr = getenv("ADDR")
	if v := getenv("RDB_URL"); v != "" {
		cfg.RDBPath = v
	}
	if v := getenv("FLUSH_EVERY"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.FlushEvery = time.Duration(secs) * time.Second
		} else {
			cfg.Warnings = append(cfg.Warnings,
				fmt.Sprintf("FLUSH_EVERY %q is not a whole number of seconds, defaulting to %s", v, defaultFlushEvery))
			cfg.FlushEvery = defaultFlushEvery
		}
	}
	if v := getenv("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		lvl, err := logger.ParseLevel(v)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.LogLevel = lvl
	}
	if v := getenv("COMPRESSION"); v != "" {
		cfg.Compression = rdb.ParseCodec(v)
	}
	if v := getenv("CONN_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: CONN_PER_SEC %q: %w", v, err)
		}
		cfg.ConnPerSec = f
	}
	if v := getenv("CONN_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: CONN_BURST %q: %w", v, err)
		}
		cfg.ConnBurst = n
	}

	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults populates every field with its zero-config value.
func (c *Config) ApplyDefaults() {
	c.FlushEvery = defaultFlushEvery
	c.LogDir = defaultLogDir
	c.LogLevel = logger.INFO
	c.Compression = rdb.CodecNone
	c.ConnPerSec = 0
	c.ConnBurst = 0
}

func (c *Config) clamp() {
	if c.FlushEvery < minFlushEvery {
		c.FlushEvery = minFlushEvery
	}
	if c.FlushEvery > maxFlushEvery {
		c.FlushEvery = maxFlushEvery
	}
}

func (c *Config) applyFileOverrides(o *FileOverrides) {
	if o == nil {
		return
	}
	if o.LogDir != "" {
		c.LogDir = o.LogDir
	}
	if o.LogLevel != "" {
		if lvl, err := logger.ParseLevel(o.LogLevel); err == nil {
			c.LogLevel = lvl
		} else {
			c.Warnings = append(c.Warnings,
				fmt.Sprintf("config file logLevel %q is not a recognized level, keeping %s", o.LogLevel, c.LogLevel))
		}
	}
	if o.Compression != "" {
		c.Compression = rdb.ParseCodec(o.Compression)
	}
}

func loadFileOverrides(path string) (*FileOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var o FileOverrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &o, nil
}

// Validate ensures Config is usable. The caller is expected to exit
// non-zero on a validation error, before binding any listener.
func (c *Config) Validate() error {
	var errs []string
	if c.Addr == "" {
		errs = append(errs, "ADDR is required")
	}
	if c.FlushEvery <= 0 {
		errs = append(errs, "FLUSH_EVERY must be positive")
	}
	if c.ConnPerSec < 0 {
		errs = append(errs, "CONN_PER_SEC must be >= 0")
	}
	if c.ConnBurst < 0 {
		errs = append(errs, "CONN_BURST must be >= 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Summary returns a one-line, log-friendly rendering of the resolved
// configuration.
func (c *Config) Summary() string {
	rdbPath := c.RDBPath
	if rdbPath == "" {
		rdbPath = "(disabled)"
	}
	return fmt.Sprintf("addr=%s rdb=%s flushEvery=%s logDir=%s logLevel=%s compression=%s connPerSec=%g connBurst=%d",
		c.Addr, rdbPath, c.FlushEvery, c.LogDir, c.LogLevel, c.Compression, c.ConnPerSec, c.ConnBurst)
}
