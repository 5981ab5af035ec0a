// Package orchestrator implements component H: it wires parsed plan
// providers, endpoints, and loggers into running goroutines, owns the
// process's signal handling and graceful shutdown, and prints the exit
// summary.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pewpew/pewpew/internal/executor"
	"github.com/pewpew/pewpew/internal/logsink"
	"github.com/pewpew/pewpew/internal/metrics"
	"github.com/pewpew/pewpew/internal/plan"
	"github.com/pewpew/pewpew/internal/preflight"
	"github.com/pewpew/pewpew/internal/provider"
	"github.com/pewpew/pewpew/internal/statsfeed"
)

// Config bundles an Orchestrator's construction-time parameters.
type Config struct {
	Plan            *plan.Config
	Logger          *slog.Logger
	MetricsAddr     string
	Version         string
	ConfigPath      string
	Seed            int64
	ShutdownTimeout time.Duration
	SkipPreflight   bool
	RequestTimeout  time.Duration

	// TargetExporterURL, when nonempty, is scraped during the run so the
	// run's metrics include the system under test's CPU/memory health.
	TargetExporterURL string
}

// Orchestrator coordinates every component for one test-plan run.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	providers  map[string]*provider.Provider
	loggers    *logsink.Registry
	stats      *statsfeed.Feeder
	collector  *metrics.Collector
	metricsSrv *metrics.Server
	transport  executor.Transport

	executors []*executor.Executor
	endpoints []plan.Endpoint

	wg        sync.WaitGroup
	startTime time.Time
}

// New validates the plan (including cyclic provider-graph detection)
// and wires every collaborator, but starts no goroutines yet — that
// happens in Run, keeping construction and execution separate so a
// failed validation never leaves a goroutine running.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	if err := plan.Validate(cfg.Plan); err != nil {
		return nil, err
	}
	if err := checkCycles(cfg.Plan); err != nil {
		return nil, err
	}

	otel.SetTracerProvider(sdktrace.NewTracerProvider())

	o := &Orchestrator{
		cfg:       cfg,
		logger:    cfg.Logger,
		providers: map[string]*provider.Provider{},
		endpoints: cfg.Plan.Endpoints,
	}

	for _, pc := range cfg.Plan.Providers {
		o.providers[pc.Name] = provider.New(provider.Config{
			Name:        pc.Name,
			Kind:        pc.Kind,
			Buffer:      pc.Buffer,
			StaticValue: firstJSONValue(pc),
			StaticList:  jsonValueList(pc),
		})
	}

	loggers, err := logsink.NewRegistry(cfg.Plan.Loggers, logsink.DefaultOpenWriter)
	if err != nil {
		return nil, err
	}
	o.loggers = loggers

	// Each run gets its own Prometheus registry so repeated runs in one
	// process (tests, library embedding) never collide on metric names.
	registry := prometheus.NewRegistry()
	o.collector = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:    cfg.Version,
		ConfigPath: cfg.ConfigPath,
	}, registry)
	o.metricsSrv = metrics.NewServer(cfg.MetricsAddr, registry, cfg.Logger)

	o.stats = statsfeed.NewFeeder(o.collector)

	base := newHTTPTransport(cfg.RequestTimeout)
	rateLimited := newRateLimitedTransport(base, aggregatePeakHPS(cfg.Plan), 16)
	o.transport = newTracingTransport(rateLimited)

	seedSource := executor.NewSeedSource(cfg.Seed)

	for _, ep := range o.endpoints {
		lookup := func(name string) (*provider.Provider, bool) {
			p, ok := o.providers[name]
			return p, ok
		}
		ce, err := executor.Compile(ep, lookup, loggers)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", ep.Name, err)
		}
		lp := cfg.Plan.EffectiveLoadPattern(ep)
		peak := cfg.Plan.EffectivePeakLoad(ep)
		peakHPS := 0.0
		if peak != nil {
			peakHPS = peak.Rate.PerSecond()
		}
		pattern := compilePattern(lp, peak)

		ex := executor.New(executor.Config{
			Endpoint:      ep,
			Compiled:      ce,
			Pattern:       pattern,
			Transport:     o.transport,
			Stats:         o.stats,
			GlobalLoggers: loggers.GlobalEntries(),
			AutoReturn:    autoReturnMap(cfg.Plan),
			PeakHPS:       peakHPS,
			SeedSource:    seedSource,
			Logger:        cfg.Logger,
		})
		o.executors = append(o.executors, ex)
	}

	return o, nil
}

// Run starts every provider reader and endpoint executor, installs
// SIGINT/SIGTERM handling, and blocks until shutdown. It always
// returns nil once shutdown has completed cleanly; preflight or
// metrics-server startup failures are returned immediately instead.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	if !o.cfg.SkipPreflight {
		result := preflight.RunAll(o.cfg.Plan, func(to string) error {
			w, err := logsink.DefaultOpenWriter(to)
			if err != nil {
				return err
			}
			return w.Close()
		})
		preflight.PrintResults(result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed")
		}
	}

	if err := o.metricsSrv.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	o.collector.SetEndpointsActive(len(o.executors))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	for _, pc := range o.cfg.Plan.Providers {
		if pc.Kind != plan.KindFile {
			continue
		}
		p := o.providers[pc.Name]
		o.wg.Add(1)
		go func(p *provider.Provider, cfg plan.ProviderConfig) {
			defer o.wg.Done()
			runFileReader(ctx, p, cfg, o.logger)
		}(p, pc)
	}

	closeDrained := o.drainedProviderCloser()
	closeDrained("") // response providers nothing ever feeds close up front

	// Executors get their own WaitGroup in addition to o.wg: the run is
	// over when every load curve is exhausted and every in-flight
	// request has resolved, even if no signal ever arrives.
	var execWg sync.WaitGroup
	for _, ex := range o.executors {
		o.wg.Add(1)
		execWg.Add(1)
		go func(ex *executor.Executor) {
			defer o.wg.Done()
			defer execWg.Done()
			ex.Run(ctx)
			// Closing providers whose producers have all finished lets
			// downstream endpoints starve and terminate instead of
			// waiting on values that can never arrive — the upstream-to-
			// downstream close order the shutdown sequence needs.
			closeDrained(ex.Name())
		}(ex)
	}
	execDone := make(chan struct{})
	go func() {
		execWg.Wait()
		close(execDone)
	}()

	var scraper *metrics.TargetScraper
	if o.cfg.TargetExporterURL != "" {
		scraper = metrics.NewTargetScraper(o.cfg.TargetExporterURL, 2*time.Second, o.logger)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			scraper.Run(ctx)
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runWatchdog(ctx, scraper)
	}()

	o.logger.Info("pewpew_started", "endpoints", len(o.executors), "providers", len(o.providers))

	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	case <-execDone:
		o.logger.Info("load_curves_exhausted")
	}

	cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(o.cfg.ShutdownTimeout):
		o.logger.Warn("shutdown_timeout_exceeded", "timeout", o.cfg.ShutdownTimeout)
	}

	// Providers close only after in-flight iterations have routed their
	// provides, or once the grace period has run out; a put still blocked
	// at that point fails with ProviderOverflow.
	for _, p := range o.providers {
		p.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := o.metricsSrv.Shutdown(shutdownCtx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}

	o.loggers.CloseAll()
	o.collector.SetEndpointsActive(0)
	o.collector.SetElapsed(time.Since(o.startTime))
	o.printExitSummary()

	return nil
}

// HardFailures reports every StatsID that issued at least one request
// but never got a single non-error outcome — the CLI's signal for
// exit code 3, "at least one endpoint failed hard".
func (o *Orchestrator) HardFailures() []string {
	var out []string
	for _, snap := range o.stats.Snapshots() {
		if snap.Count > 0 && snap.Errors == snap.Count {
			out = append(out, snap.StatsID)
		}
	}
	sort.Strings(out)
	return out
}

// drainedProviderCloser returns a function that records one endpoint's
// completion and closes every response-fed provider whose producing
// endpoints have all finished. Closing propagates termination downstream:
// consumers drain the remaining queue, then starve and finish, which in
// turn closes the providers they feed.
func (o *Orchestrator) drainedProviderCloser() func(finishedEndpoint string) {
	producers := map[string]map[string]bool{}
	for _, ep := range o.endpoints {
		for _, pc := range ep.Provides {
			if producers[pc.Target] == nil {
				producers[pc.Target] = map[string]bool{}
			}
			producers[pc.Target][ep.Name] = true
		}
	}

	var mu sync.Mutex
	finished := map[string]bool{}
	return func(finishedEndpoint string) {
		mu.Lock()
		defer mu.Unlock()
		if finishedEndpoint != "" {
			finished[finishedEndpoint] = true
		}
		for _, pc := range o.cfg.Plan.Providers {
			if pc.Kind != plan.KindResponse && pc.Kind != plan.KindEndpoint {
				continue
			}
			allDone := true
			for epName := range producers[pc.Name] {
				if !finished[epName] {
					allDone = false
					break
				}
			}
			if allDone {
				o.providers[pc.Name].Close()
			}
		}
	}
}

// runWatchdog periodically checks whether every endpoint has made
// progress since the last check; if none has, it logs a single warning
// naming the plan as wholly suspended, per the "all tasks blocked"
// diagnostic.
func (o *Orchestrator) runWatchdog(ctx context.Context, scraper *metrics.TargetScraper) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastMissed []int64
	lastDropped := map[string]int64{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			missed := make([]int64, len(o.executors))
			progressed := lastMissed == nil
			for i, ex := range o.executors {
				missed[i] = ex.Missed()
				if lastMissed != nil && missed[i] != lastMissed[i] {
					progressed = true
					o.collector.RecordMissedTicks(ex.Name(), missed[i]-lastMissed[i])
				}
				o.collector.SetInFlight(ex.Name(), ex.InFlight())
			}
			for name, p := range o.providers {
				stats := p.Stats()
				if stats.Len != stats.Limit {
					progressed = true
				}
				o.collector.SetProviderQueue(name, stats.Len, stats.Limit)
				o.collector.RecordProviderDropped(name, stats.Missed-lastDropped[name])
				lastDropped[name] = stats.Missed
			}
			if scraper != nil {
				o.collector.SetTarget(scraper.Metrics())
			}
			if !progressed && len(o.executors) > 0 {
				o.logger.Warn("all_tasks_suspended", "endpoints", len(o.executors))
			}
			lastMissed = missed
		}
	}
}

// printExitSummary prints a human-readable, box-drawn run summary.
func (o *Orchestrator) printExitSummary() {
	elapsed := time.Since(o.startTime)

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Println("                          pewpew Exit Summary")
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Printf("Run Duration:           %s\n", formatDuration(elapsed))
	fmt.Printf("Endpoints:              %d\n", len(o.executors))
	fmt.Println()

	snaps := o.stats.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].StatsID < snaps[j].StatsID })

	if len(snaps) > 0 {
		fmt.Println("Endpoint latency (p50 / p95 / p99):")
		for _, snap := range snaps {
			fmt.Printf("  %-30s %8s / %8s / %8s  (n=%d, errors=%d)\n",
				snap.StatsID,
				snap.RTTp50.Round(time.Millisecond),
				snap.RTTp95.Round(time.Millisecond),
				snap.RTTp99.Round(time.Millisecond),
				snap.Count, snap.Errors)
		}
		fmt.Println()
	}

	var totalMissed int64
	for _, ex := range o.executors {
		totalMissed += ex.Missed()
	}
	if totalMissed > 0 {
		fmt.Printf("Ticks coalesced under backpressure: %d\n", totalMissed)
	}

	if o.cfg.MetricsAddr != "" {
		fmt.Printf("Metrics endpoint was: http://%s/metrics\n", o.cfg.MetricsAddr)
	}
	fmt.Println("═══════════════════════════════════════════════════════════════════")
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func aggregatePeakHPS(cfg *plan.Config) float64 {
	var total float64
	for _, ep := range cfg.Endpoints {
		if peak := cfg.EffectivePeakLoad(ep); peak != nil {
			total += peak.Rate.PerSecond()
		}
	}
	if total <= 0 {
		total = 1
	}
	return total
}

func autoReturnMap(cfg *plan.Config) map[string]plan.AutoReturn {
	m := make(map[string]plan.AutoReturn, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		m[pc.Name] = pc.AutoReturn
	}
	return m
}
