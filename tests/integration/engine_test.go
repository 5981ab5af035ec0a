// Package integration exercises the full engine — plan loading,
// orchestration, providers, executors, loggers — against a live local
// HTTP server, end to end.
package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pewpew/pewpew/internal/logging"
	"github.com/pewpew/pewpew/internal/orchestrator"
	"github.com/pewpew/pewpew/internal/plan"
)

func runPlan(t *testing.T, yaml string, timeout time.Duration) *orchestrator.Orchestrator {
	t.Helper()
	cfg, err := plan.Load([]byte(yaml))
	if err != nil {
		t.Fatalf("plan.Load: %v", err)
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Plan:            cfg,
		Logger:          logging.New(logging.Options{Format: "text", Level: "error", Writer: io.Discard}),
		MetricsAddr:     "", // disabled for tests
		Seed:            1,
		ShutdownTimeout: 10 * time.Second,
		SkipPreflight:   true,
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("orchestrator.Run: %v", err)
		}
	case <-time.After(timeout + 5*time.Second):
		t.Fatal("run did not finish within its deadline")
	}
	return orch
}

// TestTriangleRampIssuesIntegralOfCurve drives a single endpoint with a
// 0→100% ramp over 1s at 10hps. The integral of that triangle is 5, so
// about five requests should arrive.
func TestTriangleRampIssuesIntegralOfCurve(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	yaml := fmt.Sprintf(`
load_pattern:
  - linear: {to: 100%%, over: 1s}
peak_load: 10hps
endpoints:
  - method: GET
    url: "%s/a"
`, srv.URL)

	runPlan(t, yaml, 10*time.Second)

	got := hits.Load()
	if got < 3 || got > 7 {
		t.Errorf("issued %d requests over a triangle ramp, want ~5 (integral of the curve)", got)
	}
}

// TestFileProviderDrainTerminatesEndpoint feeds three values through a
// file provider with repeat off; the endpoint must issue exactly those
// three requests in order and then stop, long before its 10s curve ends.
func TestFileProviderDrainTerminatesEndpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "u.csv")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var params []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		params = append(params, r.URL.Query().Get("u"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	yaml := fmt.Sprintf(`
load_pattern:
  - linear: {to: 100%%, over: 10s}
peak_load: 10hps
providers:
  u:
    file:
      path: %s
      repeat: false
endpoints:
  - method: GET
    url: "%s/items?u={{u}}"
`, path, srv.URL)

	start := time.Now()
	runPlan(t, yaml, 30*time.Second)
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Errorf("run took %v; draining the file should have ended it early", elapsed)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c"}
	if len(params) != len(want) {
		t.Fatalf("got %d requests %v, want %v", len(params), params, want)
	}
	for i, w := range want {
		if params[i] != w {
			t.Errorf("request %d param = %q, want %q", i, params[i], w)
		}
	}
}

// TestResponseProviderChainsEndpoints has endpoint A extract a token
// from each response into a provider that endpoint B consumes: B's
// requests must carry tokens A produced, and B can never run ahead of A.
func TestResponseProviderChainsEndpoints(t *testing.T) {
	var loginCount atomic.Int64
	var mu sync.Mutex
	var usedTokens []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/login"):
			n := loginCount.Add(1)
			fmt.Fprintf(w, `{"token":"t%d"}`, n)
		case strings.HasPrefix(r.URL.Path, "/use/"):
			mu.Lock()
			usedTokens = append(usedTokens, strings.TrimPrefix(r.URL.Path, "/use/"))
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	yaml := fmt.Sprintf(`
load_pattern:
  - linear: {from: 100%%, to: 100%%, over: 1s}
peak_load: 10hps
providers:
  tok:
    response: {}
endpoints:
  - method: POST
    url: "%s/login"
    provides:
      - target: tok
        send: block
        select: "{{response.body|json|field(token)}}"
  - method: GET
    url: "%s/use/{{tok}}"
`, srv.URL, srv.URL)

	runPlan(t, yaml, 30*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(usedTokens) == 0 {
		t.Fatal("expected endpoint B to consume at least one token")
	}
	if int64(len(usedTokens)) > loginCount.Load() {
		t.Errorf("B issued %d requests but A only completed %d", len(usedTokens), loginCount.Load())
	}
	for _, tok := range usedTokens {
		if !strings.HasPrefix(tok, "t") {
			t.Errorf("request used malformed token %q", tok)
		}
	}
}

// TestGlobalLoggerWhereAndLimit alternates 200/500 responses; a global
// logger filtered to status >= 400 with limit 3 must emit exactly three
// records, every one of them a 500.
func TestGlobalLoggerWhereAndLimit(t *testing.T) {
	var n atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1)%2 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "errors.log")

	yaml := fmt.Sprintf(`
load_pattern:
  - linear: {from: 100%%, to: 100%%, over: 2s}
peak_load: 10hps
loggers:
  errors:
    to: %s
    select: "{{response.status}}"
    where: "response.status >= 400"
    limit: 3
endpoints:
  - method: GET
    url: "%s/flaky"
`, logPath, srv.URL)

	runPlan(t, yaml, 30*time.Second)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Fields(strings.TrimSpace(string(data)))
	if len(lines) != 3 {
		t.Fatalf("logger emitted %d records %v, want exactly 3", len(lines), lines)
	}
	for i, line := range lines {
		if line != "500" {
			t.Errorf("record %d = %q, want 500", i, line)
		}
	}
}

// TestStaticProviderBodyIsByteStable renders a static object into the
// request body and checks the exact bytes arrive unchanged on every
// iteration.
func TestStaticProviderBodyIsByteStable(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	yaml := fmt.Sprintf(`
load_pattern:
  - linear: {from: 100%%, to: 100%%, over: 1s}
peak_load: 5hps
providers:
  foo:
    static: {a: 1, b: 2}
endpoints:
  - method: POST
    url: "%s/v"
    body: '{"v":{{foo}}}'
`, srv.URL)

	runPlan(t, yaml, 30*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) == 0 {
		t.Fatal("expected at least one request body")
	}
	want := `{"v":{"a":1,"b":2}}`
	for i, b := range bodies {
		if b != want {
			t.Errorf("body %d = %q, want %q", i, b, want)
		}
	}
}
