package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// ParseFlags parses command-line flags and returns a Config. The single
// positional argument is the path to the YAML test plan.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `pewpew - HTTP load generation engine

Usage:
  pewpew [flags] <config.yaml>

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  pewpew plan.yaml
  pewpew -dry-run plan.yaml
  pewpew -log-format text -metrics-addr :9100 plan.yaml
`)
	}

	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable debug logging")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus /metrics and /healthz listen address")
	flag.StringVar(&cfg.TargetExporterURL, "target-exporter", cfg.TargetExporterURL, "Optional node_exporter /metrics URL on the system under test to scrape during the run")
	flag.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Validate the plan and print its resolved endpoint graph, then exit")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Max time to await in-flight requests during shutdown")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Run-wide seed for reproducible collect() draws (0 = derive from time)")

	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		return nil, fmt.Errorf("missing required argument: path to a YAML test plan")
	}
	if len(args) > 1 {
		return nil, fmt.Errorf("expected exactly one positional argument, got %d", len(args))
	}
	cfg.ConfigPath = args[0]

	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return cfg, nil
}
