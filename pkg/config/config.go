// Package config provides configuration management for the coverage
// instrumentation engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// SourceMapFormat controls how source maps are persisted
type SourceMapFormat string

const (
	// FormatSeparate writes source maps to <instrumented>.map files
	FormatSeparate SourceMapFormat = "separate"

	// FormatNone skips persisting source maps; the in-memory map is
	// still built and returned
	FormatNone SourceMapFormat = "none"
)

// Config is the complete engine configuration
type Config struct {
	Runtime   RuntimeConfig   `toml:"runtime"`
	Files     FileConfig      `toml:"files"`
	SourceMap SourceMapConfig `toml:"sourcemaps"`
}

// RuntimeConfig holds options passed through to the coverage runtime;
// the engine itself never reads the stats file.
type RuntimeConfig struct {
	// StatsFile is where the runtime persists hit counters
	StatsFile string `toml:"statsfile"`

	// SaveStepSize is the runtime's counter flush interval
	SaveStepSize int `toml:"savestepsize"`
}

// FileConfig selects which files the driver instruments
type FileConfig struct {
	// Include patterns; when non-empty, a file must match one
	Include []string `toml:"include"`

	// Exclude patterns; a matching file is skipped even when included
	Exclude []string `toml:"exclude"`
}

// SourceMapConfig controls source map persistence
type SourceMapConfig struct {
	Enabled bool            `toml:"enabled"`
	Format  SourceMapFormat `toml:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			StatsFile:    "luacov.stats.out",
			SaveStepSize: 100,
		},
		SourceMap: SourceMapConfig{
			Enabled: true,
			Format:  FormatSeparate,
		},
	}
}

// Load loads configuration with precedence:
// 1. CLI flags (highest priority) - passed as overrides
// 2. Project luacov.toml (current directory)
// 3. User config (~/.luacov/config.toml)
// 4. Built-in defaults (lowest priority)
func Load(overrides *Config) (*Config, error) {
	cfg := DefaultConfig()

	userConfigPath := filepath.Join(os.Getenv("HOME"), ".luacov", "config.toml")
	if err := loadConfigFile(userConfigPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}

	if err := loadConfigFile("luacov.toml", cfg); err != nil {
		return nil, fmt.Errorf("failed to load project config: %w", err)
	}

	if overrides != nil {
		if overrides.Runtime.StatsFile != "" {
			cfg.Runtime.StatsFile = overrides.Runtime.StatsFile
		}
		if overrides.Runtime.SaveStepSize != 0 {
			cfg.Runtime.SaveStepSize = overrides.Runtime.SaveStepSize
		}
		if len(overrides.Files.Include) > 0 {
			cfg.Files.Include = overrides.Files.Include
		}
		if len(overrides.Files.Exclude) > 0 {
			cfg.Files.Exclude = overrides.Files.Exclude
		}
		if overrides.SourceMap.Format != "" {
			cfg.SourceMap.Format = overrides.SourceMap.Format
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadConfigFile loads a TOML file into cfg; a missing file is not an error
func loadConfigFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Runtime.SaveStepSize < 0 {
		return fmt.Errorf("invalid savestepsize: %d (must be non-negative)", c.Runtime.SaveStepSize)
	}

	for _, pat := range append(append([]string{}, c.Files.Include...), c.Files.Exclude...) {
		if _, err := regexp.Compile(pat); err != nil {
			return fmt.Errorf("invalid file pattern %q: %w", pat, err)
		}
	}

	switch c.SourceMap.Format {
	case FormatSeparate, FormatNone, "":
	default:
		return fmt.Errorf("invalid sourcemap format: %q (must be 'separate' or 'none')", c.SourceMap.Format)
	}
	return nil
}

// Selects reports whether path passes the include/exclude filters.
// Patterns are regular expressions matched against the slash-separated
// path.
func (c *Config) Selects(path string) (bool, error) {
	path = filepath.ToSlash(path)

	for _, pat := range c.Files.Exclude {
		re, err := regexp.Compile(pat)
		if err != nil {
			return false, fmt.Errorf("invalid exclude pattern %q: %w", pat, err)
		}
		if re.MatchString(path) {
			return false, nil
		}
	}
	if len(c.Files.Include) == 0 {
		return true, nil
	}
	for _, pat := range c.Files.Include {
		re, err := regexp.Compile(pat)
		if err != nil {
			return false, fmt.Errorf("invalid include pattern %q: %w", pat, err)
		}
		if re.MatchString(path) {
			return true, nil
		}
	}
	return false, nil
}
