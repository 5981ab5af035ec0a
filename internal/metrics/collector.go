// Package metrics provides Prometheus metrics for pewpew load test runs.
//
// Metrics are organized by panel, mirroring the dashboard layout they
// back: test overview, request rates/latency, tick scheduling, provider
// health, and the system under test.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pewpew/pewpew/internal/statsfeed"
)

// CollectorConfig configures a Collector's identifying labels.
type CollectorConfig struct {
	Version    string
	ConfigPath string
}

// Collector wraps every registered metric behind typed Record* methods.
// Each Collector owns its own metric instances, so independent runs (and
// tests) never share counter state through a package-level registry.
type Collector struct {
	// Panel 1: Test overview
	info            *prometheus.GaugeVec
	elapsedSeconds  prometheus.Gauge
	endpointsActive prometheus.Gauge

	// Panel 2: Request rates & latency
	requestsTotal      *prometheus.CounterVec
	requestErrorsTotal *prometheus.CounterVec
	requestRTTSeconds  *prometheus.HistogramVec
	inFlightRequests   *prometheus.GaugeVec

	// Panel 3: Tick scheduling
	ticksMissedTotal *prometheus.CounterVec

	// Panel 4: Provider health
	providerQueueDepth   *prometheus.GaugeVec
	providerQueueLimit   *prometheus.GaugeVec
	providerDroppedTotal *prometheus.CounterVec

	// Panel 5: System under test (fed by TargetScraper, when configured)
	targetUp         prometheus.Gauge
	targetCPUPercent prometheus.Gauge
	targetMemPercent prometheus.Gauge
}

// NewCollector builds a Collector registered against the default
// Prometheus registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry allows tests to inject an isolated registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pewpew_info",
				Help: "Information about the running test plan (value always 1)",
			},
			[]string{"version", "config_path"},
		),
		elapsedSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pewpew_test_elapsed_seconds",
				Help: "Seconds since the test started",
			},
		),
		endpointsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pewpew_endpoints_active",
				Help: "Endpoints whose load curve has not yet exhausted",
			},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pewpew_requests_total",
				Help: "Total requests dispatched, by endpoint and HTTP status",
			},
			[]string{"endpoint", "method", "status"},
		),
		requestErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pewpew_request_errors_total",
				Help: "Total requests that failed at the transport layer, by error kind",
			},
			[]string{"endpoint", "kind"},
		),
		requestRTTSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pewpew_request_rtt_seconds",
				Help:    "Request round-trip time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		inFlightRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pewpew_in_flight_requests",
				Help: "Requests currently dispatched but not yet resolved",
			},
			[]string{"endpoint"},
		),
		ticksMissedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pewpew_ticks_missed_total",
				Help: "Mod-interval ticks coalesced away under consumer backpressure",
			},
			[]string{"endpoint"},
		),
		providerQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pewpew_provider_queue_depth",
				Help: "Current queued value count for a provider",
			},
			[]string{"provider"},
		),
		providerQueueLimit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pewpew_provider_queue_limit",
				Help: "Current soft limit for a provider (grows under autosize)",
			},
			[]string{"provider"},
		),
		providerDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pewpew_provider_dropped_total",
				Help: "Values dropped by if_not_full puts, or overflowed at shutdown",
			},
			[]string{"provider"},
		),
		targetUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pewpew_target_up",
				Help: "Whether the system under test's exporter answered the last scrape",
			},
		),
		targetCPUPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pewpew_target_cpu_percent",
				Help: "CPU busy share of the system under test between scrapes",
			},
		),
		targetMemPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pewpew_target_memory_percent",
				Help: "Memory utilization of the system under test",
			},
		),
	}

	registry.MustRegister(
		c.info,
		c.elapsedSeconds,
		c.endpointsActive,
		c.requestsTotal,
		c.requestErrorsTotal,
		c.requestRTTSeconds,
		c.inFlightRequests,
		c.ticksMissedTotal,
		c.providerQueueDepth,
		c.providerQueueLimit,
		c.providerDroppedTotal,
		c.targetUp,
		c.targetCPUPercent,
		c.targetMemPercent,
	)
	c.info.WithLabelValues(cfg.Version, cfg.ConfigPath).Set(1)
	return c
}

// RecordRequest accounts for one completed dispatch.
func (c *Collector) RecordRequest(endpoint, method string, status int, rtt time.Duration) {
	c.requestsTotal.WithLabelValues(endpoint, method, statusLabel(status)).Inc()
	c.requestRTTSeconds.WithLabelValues(endpoint).Observe(rtt.Seconds())
}

// RecordTransportError accounts for a dispatch that never produced an
// HTTP response.
func (c *Collector) RecordTransportError(endpoint, kind string) {
	c.requestErrorsTotal.WithLabelValues(endpoint, kind).Inc()
}

// Feed implements statsfeed.Sink, letting a Collector be wired directly
// as the Feeder's external aggregator so every completed request updates
// Prometheus without a second bookkeeping pass.
func (c *Collector) Feed(r statsfeed.Record) {
	if r.Outcome.IsError() {
		c.RecordTransportError(r.StatsID, r.Outcome.ErrKind)
		return
	}
	c.RecordRequest(r.StatsID, r.Method, r.Outcome.HTTPStatus, r.RTT)
}

// SetInFlight reports the current in-flight iteration count for an endpoint.
func (c *Collector) SetInFlight(endpoint string, n int) {
	c.inFlightRequests.WithLabelValues(endpoint).Set(float64(n))
}

// RecordMissedTicks adds to an endpoint's coalesced-tick counter.
func (c *Collector) RecordMissedTicks(endpoint string, n int64) {
	if n <= 0 {
		return
	}
	c.ticksMissedTotal.WithLabelValues(endpoint).Add(float64(n))
}

// SetProviderQueue reports a provider's current depth and limit.
func (c *Collector) SetProviderQueue(name string, depth, limit int) {
	c.providerQueueDepth.WithLabelValues(name).Set(float64(depth))
	c.providerQueueLimit.WithLabelValues(name).Set(float64(limit))
}

// RecordProviderDropped adds to a provider's dropped-value counter.
func (c *Collector) RecordProviderDropped(name string, n int64) {
	if n <= 0 {
		return
	}
	c.providerDroppedTotal.WithLabelValues(name).Add(float64(n))
}

// SetTarget reports the system under test's last scraped health.
func (c *Collector) SetTarget(m *TargetMetrics) {
	up := 0.0
	if m.Healthy {
		up = 1
	}
	c.targetUp.Set(up)
	c.targetCPUPercent.Set(m.CPUPercent)
	c.targetMemPercent.Set(m.MemPercent)
}

// SetElapsed reports seconds since the test started.
func (c *Collector) SetElapsed(d time.Duration) {
	c.elapsedSeconds.Set(d.Seconds())
}

// SetEndpointsActive reports how many endpoints have not yet exhausted
// their load curve.
func (c *Collector) SetEndpointsActive(n int) {
	c.endpointsActive.Set(float64(n))
}

func statusLabel(status int) string {
	if status == 0 {
		return "none"
	}
	return strconv.Itoa(status)
}
