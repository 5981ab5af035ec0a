// Package main provides the pewpew CLI entry point.
//
// pewpew is an HTTP load-generation engine driven by a declarative
// YAML test plan: it issues requests at operator-specified rates that
// scale over time, threads data between endpoints via named
// providers, and emits per-endpoint latency statistics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pewpew/pewpew/internal/config"
	"github.com/pewpew/pewpew/internal/logging"
	"github.com/pewpew/pewpew/internal/orchestrator"
	"github.com/pewpew/pewpew/internal/plan"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/pewpew
var version = "dev"

func main() {
	os.Exit(run())
}

// Exit codes: 0 success, 1 config parse error,
// 2 runtime error, 3 at least one endpoint failed hard.
const (
	exitOK = iota
	exitConfigError
	exitRuntimeError
	exitHardFailure
)

func run() int {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "-version", "--version", "version":
			fmt.Printf("pewpew %s\n", version)
			return exitOK
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return exitConfigError
	}

	logger := logging.New(logging.Options{Format: cfg.LogFormat, Verbose: cfg.Verbose})
	slog.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitConfigError
	}

	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading test plan %q: %v\n", cfg.ConfigPath, err)
		return exitConfigError
	}

	testPlan, err := plan.Load(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing test plan: %v\n", err)
		return exitConfigError
	}
	if err := plan.Validate(testPlan); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid test plan: %v\n", err)
		return exitConfigError
	}

	if cfg.DryRun {
		printDryRun(testPlan)
		return exitOK
	}

	logger.Info("starting",
		"version", version,
		"config_path", cfg.ConfigPath,
		"endpoints", len(testPlan.Endpoints),
		"providers", len(testPlan.Providers),
		"metrics_addr", cfg.MetricsAddr,
	)

	orch, err := orchestrator.New(orchestrator.Config{
		Plan:              testPlan,
		Logger:            logger,
		MetricsAddr:       cfg.MetricsAddr,
		Version:           version,
		ConfigPath:        cfg.ConfigPath,
		Seed:              cfg.Seed,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		TargetExporterURL: cfg.TargetExporterURL,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error constructing test run: %v\n", err)
		return exitConfigError
	}

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("run_failed", "error", err)
		return exitRuntimeError
	}

	if failed := orch.HardFailures(); len(failed) > 0 {
		logger.Error("endpoints_failed_hard", "endpoints", failed)
		return exitHardFailure
	}

	return exitOK
}

// printDryRun resolves and prints the endpoint graph a test plan would
// produce, without issuing any requests ("-dry-run").
func printDryRun(cfg *plan.Config) {
	fmt.Println("pewpew dry run: resolved endpoint graph")
	fmt.Println()
	fmt.Printf("Providers (%d):\n", len(cfg.Providers))
	for _, pc := range cfg.Providers {
		fmt.Printf("  %-20s kind=%-12s buffer=%s auto_return=%d\n", pc.Name, pc.Kind, bufferLabel(pc), pc.AutoReturn)
	}
	fmt.Println()
	fmt.Printf("Loggers (%d):\n", len(cfg.Loggers))
	for _, ld := range cfg.Loggers {
		fmt.Printf("  %-20s to=%-20s global=%v limit=%d\n", ld.Name, ld.To, ld.IsGlobal(), ld.Limit)
	}
	fmt.Println()
	fmt.Printf("Endpoints (%d):\n", len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		lp := cfg.EffectiveLoadPattern(ep)
		peak := cfg.EffectivePeakLoad(ep)
		segs := 0
		if lp != nil {
			segs = len(lp.Segments)
		}
		peakStr := "none"
		if peak != nil {
			peakStr = fmt.Sprintf("%.2f hps", peak.Rate.PerSecond())
		}
		fmt.Printf("  %-6s %-40s segments=%d peak=%s provides=%d logs=%d\n",
			ep.Method, ep.URL, segs, peakStr, len(ep.Provides), len(ep.Logs))
	}
}

func bufferLabel(pc plan.ProviderConfig) string {
	if pc.Buffer.Auto {
		return "auto"
	}
	return fmt.Sprintf("%d", pc.Buffer.Fixed)
}
