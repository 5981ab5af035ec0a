// Package config provides command-line configuration for pewpew: the
// handful of process-level knobs around the test plan itself, as
// distinct from internal/plan, which owns the parsed YAML test plan.
package config

import "time"

// Config holds every command-line option pewpew's CLI accepts.
type Config struct {
	// ConfigPath is the single positional argument: path to the YAML
	// test plan.
	ConfigPath string `json:"config_path"`

	// LogFormat selects the slog handler: "json" or "text".
	LogFormat string `json:"log_format"`
	// Verbose enables slog.LevelDebug.
	Verbose bool `json:"verbose"`

	// MetricsAddr is the listen address for the Prometheus /metrics and
	// /healthz endpoints.
	MetricsAddr string `json:"metrics_addr"`

	// TargetExporterURL, when set, is a node_exporter-style /metrics URL
	// on the system under test; pewpew scrapes it during the run and
	// republishes coarse CPU/memory health alongside its own metrics.
	TargetExporterURL string `json:"target_exporter_url"`

	// DryRun parses and validates the plan, prints the resolved
	// endpoint graph, and exits without issuing requests.
	DryRun bool `json:"dry_run"`

	// ShutdownTimeout bounds how long in-flight requests are awaited
	// during graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// Seed is the run-wide seed for reproducible collect() draws
	// (internal/executor.NewSeedSource). 0 means "derive from time".
	Seed int64 `json:"seed"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogFormat:       "json",
		MetricsAddr:     ":9090",
		ShutdownTimeout: 30 * time.Second,
	}
}
