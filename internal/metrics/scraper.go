package metrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// TargetMetrics is one scrape of the system under test's exporter:
// whether it answered, and the coarse host health numbers a load-test
// operator watches while the run drives traffic into it.
type TargetMetrics struct {
	CPUPercent float64 // busy share since the previous scrape
	MemPercent float64 // (1 - MemAvailable/MemTotal) × 100

	LastUpdate time.Time
	Healthy    bool
	Error      string
}

// TargetScraper polls a node_exporter-style /metrics endpoint on the
// system under test, so the run's own telemetry can show whether the
// target was resource-bound while pewpew was loading it. Reads are
// lock-free via atomic.Value; only the scrape loop writes.
type TargetScraper struct {
	url      string
	interval time.Duration
	logger   *slog.Logger
	client   *http.Client

	metrics atomic.Value // *TargetMetrics

	// CPU busy-share needs a delta between scrapes.
	lastIdle  float64
	lastTotal float64
	haveLast  bool
}

// NewTargetScraper builds a scraper for the given exporter URL. A 2s
// interval tracks the watchdog cadence.
func NewTargetScraper(url string, interval time.Duration, logger *slog.Logger) *TargetScraper {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	s := &TargetScraper{
		url:      url,
		interval: interval,
		logger:   logger,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	s.metrics.Store(&TargetMetrics{})
	return s
}

// Metrics returns the most recent scrape result.
func (s *TargetScraper) Metrics() *TargetMetrics {
	return s.metrics.Load().(*TargetMetrics)
}

// Run scrapes until ctx is cancelled. Intended for its own goroutine.
func (s *TargetScraper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scrapeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scrapeOnce(ctx)
		}
	}
}

func (s *TargetScraper) scrapeOnce(ctx context.Context) {
	m, err := s.scrape(ctx)
	if err != nil {
		s.logger.Debug("target_scrape_failed", "url", s.url, "error", err)
		s.metrics.Store(&TargetMetrics{LastUpdate: time.Now(), Error: err.Error()})
		return
	}
	s.metrics.Store(m)
}

func (s *TargetScraper) scrape(ctx context.Context) (*TargetMetrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("exporter returned %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse exposition: %w", err)
	}

	m := &TargetMetrics{LastUpdate: time.Now(), Healthy: true}

	if cpu, ok := families["node_cpu_seconds_total"]; ok {
		var idle, total float64
		for _, metric := range cpu.GetMetric() {
			v := metric.GetCounter().GetValue()
			total += v
			for _, label := range metric.GetLabel() {
				if label.GetName() == "mode" && label.GetValue() == "idle" {
					idle += v
				}
			}
		}
		if s.haveLast && total > s.lastTotal {
			dIdle := idle - s.lastIdle
			dTotal := total - s.lastTotal
			m.CPUPercent = (1 - dIdle/dTotal) * 100
		}
		s.lastIdle, s.lastTotal, s.haveLast = idle, total, true
	}

	avail := gaugeValue(families, "node_memory_MemAvailable_bytes")
	memTotal := gaugeValue(families, "node_memory_MemTotal_bytes")
	if memTotal > 0 {
		m.MemPercent = (1 - avail/memTotal) * 100
	}

	return m, nil
}

func gaugeValue(families map[string]*dto.MetricFamily, name string) float64 {
	f, ok := families[name]
	if !ok || len(f.GetMetric()) == 0 {
		return 0
	}
	return f.GetMetric()[0].GetGauge().GetValue()
}
