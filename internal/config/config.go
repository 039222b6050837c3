// Package config defines the frozen configuration struct read once at
// initialization (spec.md §6 Ingress: "Configuration. A frozen struct read
// at initialization"). This package has no YAML/flag/env dependency of its
// own — loading from those sources is an exposition-surface concern, done
// by cmd/cpgctl, keeping the core decoupled from how configuration arrives.
package config

import "time"

// IDStrategy selects the Node Identifier strategy of spec.md §4.1.
type IDStrategy string

const (
	IDStrategyPath         IDStrategy = "path"
	IDStrategyPathHashLine IDStrategy = "path_hash_line"
	IDStrategyContentHash  IDStrategy = "content_hash"
)

// Config is the frozen struct read at initialization. NewRepository takes
// it whole; cmd/cpgctl copies its discovery, worker, timeout and ID-strategy
// fields into populator.Options. Nothing in internal/* mutates a Config
// after it is handed over.
type Config struct {
	// MaxMemoryBytes bounds cached-graph memory (spec.md §4.6, §5); zero
	// means unbounded.
	MaxMemoryBytes int64

	// WorkerCount bounds Populator parallelism; zero means host
	// parallelism (runtime.GOMAXPROCS(0)).
	WorkerCount int

	// IncludeGlobs/IgnoreGlobs drive file discovery (spec.md §4.7 step 1).
	IncludeGlobs []string
	IgnoreGlobs  []string

	IDStrategy IDStrategy

	// AnalysisTimeout bounds a single file's processing (spec.md §4.7
	// step 3); zero means no timeout.
	AnalysisTimeout time.Duration

	// PerFileMemoryBudget is carried in the struct but not enforced: no
	// Populator code reads it, and a single file's allocation is not
	// bounded.
	PerFileMemoryBudget int64
}

// Default returns a Config with the defaults spec.md implies when a field
// is left zero (host parallelism, unbounded memory, no timeout).
func Default() Config {
	return Config{
		IncludeGlobs: []string{"**/*.ex", "**/*.exs"},
		IDStrategy:   IDStrategyPath,
	}
}
