package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variable names.
const (
	envPrefix     = "LOANLABEL_"
	envConfigPath = "LOANLABEL_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if LOANLABEL_CONFIG is set
//  3. env (prefix LOANLABEL_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envConfigPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// LOANLABEL_RAW_DIR -> raw_dir (flat keys matching the koanf tags).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	cfg := *base
	// Slices decode element-wise over existing values, so a shorter list
	// from the file would keep trailing defaults. Start empty instead.
	cfg.SnapshotColumns = nil
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if len(cfg.SnapshotColumns) == 0 {
		cfg.SnapshotColumns = base.SnapshotColumns
	}

	cfg.ResolveOutPath()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var metricNamespace = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.RawDir == "":
		return fmt.Errorf("%w: raw_dir must not be empty", ErrInvalidConfig)
	case c.GlossaryPath == "":
		return fmt.Errorf("%w: glossary_path must not be empty", ErrInvalidConfig)
	case c.OutPath == "":
		return fmt.Errorf("%w: out_path (or processed_dir) must not be empty", ErrInvalidConfig)
	case c.PartitionCount <= 0:
		return fmt.Errorf("%w: partition_count must be positive", ErrInvalidConfig)
	case utf8.RuneCountInString(c.Delimiter) != 1:
		return fmt.Errorf("%w: delimiter must be a single character, got %q", ErrInvalidConfig, c.Delimiter)
	case c.LoanIDColumn == "" || c.PeriodColumn == "" || c.LoanAgeColumn == "" || c.DelinquencyColumn == "":
		return fmt.Errorf("%w: key column names must not be empty", ErrInvalidConfig)
	case !metricNamespace.MatchString(c.MetricsNamespace):
		return fmt.Errorf("%w: metrics_namespace %q is not a valid metric name prefix", ErrInvalidConfig, c.MetricsNamespace)
	}
	for i := 1; i < len(c.MetricsLatencyBuckets); i++ {
		if c.MetricsLatencyBuckets[i] <= c.MetricsLatencyBuckets[i-1] {
			return fmt.Errorf("%w: metrics_latency_buckets must be strictly increasing", ErrInvalidConfig)
		}
	}
	return nil
}
