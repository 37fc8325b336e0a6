package main

import (
	"fmt"
	"os"
	"path/filepath"

	"strata/pkg/protocol"
)

// Paths holds all resolved strata state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	StrataHome string // ~/.strata or STRATA_HOME
	DBPath     string // engine.db or STRATA_DB_PATH
	SharedDir  string // shared-context/ or STRATA_SHARED_DIR
	ConfigPath string // config.toml or STRATA_CONFIG
}

// ResolvePaths returns all strata paths, respecting env var overrides.
// Environment variables:
//   - STRATA_HOME: base directory for all strata state (default: ~/.strata)
//   - STRATA_DB_PATH: engine database (default: $STRATA_HOME/engine.db)
//   - STRATA_SHARED_DIR: shared context root (default: $STRATA_HOME/shared-context)
//   - STRATA_CONFIG: config file (default: $STRATA_HOME/config.toml)
func ResolvePaths() (*Paths, error) {
	home, err := resolveStrataHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		StrataHome: home,
		DBPath:     resolvePathWithEnv("STRATA_DB_PATH", home, "engine.db"),
		SharedDir:  resolvePathWithEnv("STRATA_SHARED_DIR", home, "shared-context"),
		ConfigPath: resolvePathWithEnv("STRATA_CONFIG", home, "config.toml"),
	}, nil
}

// resolveStrataHome returns the strata home directory from STRATA_HOME or
// ~/.strata.
func resolveStrataHome() (string, error) {
	if v := os.Getenv("STRATA_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.StrataDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins
// base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
