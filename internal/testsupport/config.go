// Package testsupport provides shared helpers for package tests: temp-dir
// configs and pre-opened stores.
package testsupport

import (
	"path/filepath"
	"testing"

	"stacks/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ReviewDir = filepath.Join(base, "review")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxRetries overrides the download retry budget on the test config.
func WithMaxRetries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Download.MaxRetries = n
	}
}

// WithBudget overrides the budget section on the test config.
func WithBudget(budget config.Budget) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Budget = budget
	}
}
