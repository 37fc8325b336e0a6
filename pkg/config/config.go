// Package config loads engine configuration: a user-level TOML file with
// engine tuning, optionally overlaid by a per-project YAML file carrying
// project identity and sync tags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the user-level configuration (~/.strata/config.toml).
type Config struct {
	DBPath   string      `toml:"db_path"`
	LogLevel string      `toml:"log_level"`
	Trace    TraceConfig `toml:"trace"`
	Sync     SyncConfig  `toml:"sync"`
	Cache    CacheConfig `toml:"cache"`
}

// TraceConfig tunes the trace detector.
type TraceConfig struct {
	GapThresholdSeconds int  `toml:"gap_threshold_seconds"`
	MaxTraceSize        int  `toml:"max_trace_size"`
	DirectoryBoundaries bool `toml:"directory_boundaries"`
	CausalChains        bool `toml:"causal_chains"`
}

// SyncConfig tunes the bridge.
type SyncConfig struct {
	IntervalSeconds int     `toml:"interval_seconds"`
	MinScore        float64 `toml:"min_score"`
}

// CacheConfig tunes the shared context cache.
type CacheConfig struct {
	TTLSeconds int `toml:"ttl_seconds"`
	MaxEntries int `toml:"max_entries"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Trace: TraceConfig{
			GapThresholdSeconds: 30,
			MaxTraceSize:        50,
			CausalChains:        true,
		},
		Sync: SyncConfig{
			IntervalSeconds: 60,
			MinScore:        0.5,
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
			MaxEntries: 16,
		},
	}
}

// Load reads the TOML config at path. A missing file yields the defaults;
// a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// GapThreshold returns the trace gap threshold as a duration.
func (c TraceConfig) GapThreshold() time.Duration {
	return time.Duration(c.GapThresholdSeconds) * time.Second
}

// Interval returns the sync interval as a duration.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ProjectConfig is the per-project overlay (.strata/config.yaml in the
// project root).
type ProjectConfig struct {
	ProjectID string   `yaml:"project_id"`
	Branch    string   `yaml:"branch"`
	Tags      []string `yaml:"tags"`
	MinScore  float64  `yaml:"min_score"`
}

// LoadProject reads the project overlay from projectRoot. A missing file
// yields a zero config.
func LoadProject(projectRoot string) (ProjectConfig, error) {
	var pc ProjectConfig
	path := filepath.Join(projectRoot, ".strata", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pc, nil
		}
		return pc, fmt.Errorf("read project config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &pc); err != nil {
		return pc, fmt.Errorf("parse project config %s: %w", path, err)
	}
	return pc, nil
}
