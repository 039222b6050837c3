// Package cliconfig loads internal/config.Config from an optional YAML
// file, keeping the core config.Config struct free of any YAML/CLI import
// (spec.md §6 "a frozen struct read at initialization"; SPEC_FULL.md §6
// "the core package internal/config itself has zero CLI/YAML imports").
//
// Grounded on viant-linager and shivasurya-code-pathfinder's transitive use
// of gopkg.in/yaml.v3 for config/fixture loading.
package cliconfig

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nshkrdotcom/cpgengine/internal/config"
)

// file is the on-disk YAML shape; durations are parsed from strings
// ("30s", "2m") the way time.ParseDuration expects.
type file struct {
	MaxMemoryBytes      int64    `yaml:"max_memory_bytes"`
	WorkerCount         int      `yaml:"worker_count"`
	IncludeGlobs        []string `yaml:"include_globs"`
	IgnoreGlobs         []string `yaml:"ignore_globs"`
	IDStrategy          string   `yaml:"id_strategy"`
	AnalysisTimeout     string   `yaml:"analysis_timeout"`
	PerFileMemoryBudget int64    `yaml:"per_file_memory_budget"`
}

// Load reads a YAML config file at path and overlays it onto
// config.Default(). A missing path returns the default config unchanged.
func Load(path string) (config.Config, error) {
	cfg := config.Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return cfg, err
	}

	if f.MaxMemoryBytes != 0 {
		cfg.MaxMemoryBytes = f.MaxMemoryBytes
	}
	if f.WorkerCount != 0 {
		cfg.WorkerCount = f.WorkerCount
	}
	if len(f.IncludeGlobs) > 0 {
		cfg.IncludeGlobs = f.IncludeGlobs
	}
	if len(f.IgnoreGlobs) > 0 {
		cfg.IgnoreGlobs = f.IgnoreGlobs
	}
	if f.IDStrategy != "" {
		cfg.IDStrategy = config.IDStrategy(f.IDStrategy)
	}
	if f.AnalysisTimeout != "" {
		d, err := time.ParseDuration(f.AnalysisTimeout)
		if err != nil {
			return cfg, err
		}
		cfg.AnalysisTimeout = d
	}
	if f.PerFileMemoryBudget != 0 {
		cfg.PerFileMemoryBudget = f.PerFileMemoryBudget
	}
	return cfg, nil
}
