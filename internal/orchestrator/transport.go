package orchestrator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/pewpew/pewpew/internal/executor"
)

// httpTransport is the concrete, production Transport: one shared
// http.Client per process, reused across every dispatch rather than
// constructed per call so connection pooling actually helps.
type httpTransport struct {
	client *http.Client
}

func newHTTPTransport(timeout time.Duration) *httpTransport {
	return &httpTransport{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        512,
				MaxIdleConnsPerHost: 128,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (t *httpTransport) Do(ctx context.Context, req executor.Request) (executor.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return executor.Response{}, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return executor.Response{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return executor.Response{}, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return executor.Response{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    respBody,
	}, nil
}

// rateLimitedTransport wraps a Transport with a token-bucket limiter
// whose rate is 1.5× the run's aggregate peak load, a second,
// independent safety valve alongside the mod-interval ticker: the ticker
// governs *when* each endpoint wants to fire, this bounds how fast
// dispatches start across every endpoint. It does not limit how many
// requests are in flight; the executor's semaphore does that.
type rateLimitedTransport struct {
	inner   executor.Transport
	limiter *rate.Limiter
}

func newRateLimitedTransport(inner executor.Transport, aggregatePeakHPS float64, burst int) *rateLimitedTransport {
	limit := rate.Limit(aggregatePeakHPS * 1.5)
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedTransport{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (t *rateLimitedTransport) Do(ctx context.Context, req executor.Request) (executor.Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return executor.Response{}, err
	}
	return t.inner.Do(ctx, req)
}

// tracingTransport wraps a Transport with an OpenTelemetry span per
// dispatched request, giving each iteration an externally-correlatable
// trace without requiring any exporter configuration — the orchestrator
// installs an SDK TracerProvider with no exporter (see internal/metrics for the
// Prometheus side of observability).
type tracingTransport struct {
	inner  executor.Transport
	tracer trace.Tracer
}

func newTracingTransport(inner executor.Transport) *tracingTransport {
	return &tracingTransport{inner: inner, tracer: otel.Tracer("pewpew")}
}

func (t *tracingTransport) Do(ctx context.Context, req executor.Request) (executor.Response, error) {
	ctx, span := t.tracer.Start(ctx, "pewpew.request", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL),
	))
	defer span.End()

	resp, err := t.inner.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	if resp.Status >= 500 {
		span.SetStatus(codes.Error, "server error")
	}
	return resp, nil
}
