package executor

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pewpew/pewpew/internal/jsonvalue"
	"github.com/pewpew/pewpew/internal/loadpattern"
	"github.com/pewpew/pewpew/internal/logsink"
	"github.com/pewpew/pewpew/internal/plan"
	"github.com/pewpew/pewpew/internal/provider"
	"github.com/pewpew/pewpew/internal/statsfeed"
)

type memWriter struct{ buf bytes.Buffer }

func (m *memWriter) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m *memWriter) Close() error                { return nil }

func newTestFeeder() *statsfeed.Feeder { return statsfeed.NewFeeder(nil) }

type fakeTransport struct {
	calls atomic.Int64
	fn    func(ctx context.Context, req Request) (Response, error)
}

func (f *fakeTransport) Do(ctx context.Context, req Request) (Response, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return Response{Status: 200, Body: []byte(`{"ok":true}`)}, nil
}

func providerLookup(m map[string]*provider.Provider) ProviderLookup {
	return func(name string) (*provider.Provider, bool) {
		p, ok := m[name]
		return p, ok
	}
}

func straightLinePattern(rate float64, dur time.Duration) *loadpattern.Pattern {
	lp := &plan.LoadPattern{Segments: []plan.LoadSegment{
		{From: 1.0, To: 1.0, Over: plan.Duration(dur)},
	}}
	return loadpattern.Compile(lp, plan.Rate(rate))
}

func TestCompileAndRunBareReferenceShared(t *testing.T) {
	u := provider.New(provider.Config{Name: "u", Kind: plan.KindStaticList, StaticList: []jsonvalue.Value{
		jsonvalue.NewString("a"), jsonvalue.NewString("b"), jsonvalue.NewString("c"),
	}})
	providers := map[string]*provider.Provider{"u": u}

	ep := plan.Endpoint{
		Name:   "e1",
		Method: "GET",
		URL:    "/items/{{u}}?dup={{u}}",
	}
	ce, err := Compile(ep, providerLookup(providers), nil)
	if err != nil {
		t.Fatal(err)
	}

	var gotURLs []string
	var mu sync.Mutex
	transport := &fakeTransport{fn: func(ctx context.Context, req Request) (Response, error) {
		mu.Lock()
		gotURLs = append(gotURLs, req.URL)
		mu.Unlock()
		return Response{Status: 200}, nil
	}}

	ex := New(Config{
		Endpoint:   ep,
		Compiled:   ce,
		Pattern:    straightLinePattern(10, 300*time.Millisecond),
		Transport:  transport,
		Stats:      newTestFeeder(),
		AutoReturn: map[string]plan.AutoReturn{"u": plan.AutoReturnNone},
		PeakHPS:    10,
		SeedSource: NewSeedSource(1),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ex.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(gotURLs) == 0 {
		t.Fatal("expected at least one request")
	}
	for _, got := range gotURLs {
		// Both holes must resolve to the same single take per iteration.
		if got != "/items/a?dup=a" && got != "/items/b?dup=b" && got != "/items/c?dup=c" {
			t.Errorf("unexpected url with mismatched shared reference: %q", got)
		}
	}
}

func TestDeclareCollectFixedCount(t *testing.T) {
	list := provider.New(provider.Config{Name: "shipId", Kind: plan.KindStaticList, StaticList: []jsonvalue.Value{
		jsonvalue.NewInt(1), jsonvalue.NewInt(2), jsonvalue.NewInt(3), jsonvalue.NewInt(4), jsonvalue.NewInt(5),
	}})
	providers := map[string]*provider.Provider{"shipId": list}

	ep := plan.Endpoint{
		Name:    "e2",
		Method:  "POST",
		URL:     "/ships",
		Body:    "{{s}}",
		Declare: map[string]string{"s": "collect(3,3,shipId)"},
	}
	ce, err := Compile(ep, providerLookup(providers), nil)
	if err != nil {
		t.Fatal(err)
	}

	var bodies []string
	var mu sync.Mutex
	transport := &fakeTransport{fn: func(ctx context.Context, req Request) (Response, error) {
		mu.Lock()
		bodies = append(bodies, string(req.Body))
		mu.Unlock()
		return Response{Status: 200}, nil
	}}

	ex := New(Config{
		Endpoint:   ep,
		Compiled:   ce,
		Pattern:    straightLinePattern(3, 1*time.Second),
		Transport:  transport,
		Stats:      newTestFeeder(),
		AutoReturn: map[string]plan.AutoReturn{"shipId": plan.AutoReturnNone},
		PeakHPS:    3,
		SeedSource: NewSeedSource(1),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ex.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) < 3 {
		t.Fatalf("expected at least 3 iterations, got %d", len(bodies))
	}
	if bodies[0] != "[1,2,3]" {
		t.Errorf("iteration 1 body = %q, want [1,2,3]", bodies[0])
	}
	if bodies[1] != "[4,5,1]" {
		t.Errorf("iteration 2 body = %q, want [4,5,1]", bodies[1])
	}
}

func TestProvidesRoutesResponseIntoDownstreamProvider(t *testing.T) {
	tokens := provider.New(provider.Config{Name: "tok", Kind: plan.KindResponse, Buffer: plan.BufferLimit{Fixed: 10}})
	providers := map[string]*provider.Provider{"tok": tokens}

	ep := plan.Endpoint{
		Name:   "login",
		Method: "POST",
		URL:    "/login",
		Provides: []plan.ProvidesClause{
			{Target: "tok", Send: plan.SendBlock, Select: "{{response.body|json|field(token)}}"},
		},
	}
	ce, err := Compile(ep, providerLookup(providers), nil)
	if err != nil {
		t.Fatal(err)
	}

	transport := &fakeTransport{fn: func(ctx context.Context, req Request) (Response, error) {
		return Response{Status: 200, Body: []byte(`{"token":"abc"}`)}, nil
	}}

	ex := New(Config{
		Endpoint:   ep,
		Compiled:   ce,
		Pattern:    straightLinePattern(5, 500*time.Millisecond),
		Transport:  transport,
		Stats:      newTestFeeder(),
		AutoReturn: map[string]plan.AutoReturn{},
		PeakHPS:    5,
		SeedSource: NewSeedSource(1),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ex.Run(ctx)

	takeCtx, cancelTake := context.WithTimeout(context.Background(), time.Second)
	defer cancelTake()
	v, err := tokens.Take(takeCtx)
	if err != nil {
		t.Fatalf("expected a token routed into the provider: %v", err)
	}
	s, _ := v.String()
	if s != "abc" {
		t.Errorf("got %q, want abc", s)
	}
}

func TestAutoReturnBlockReinsertsValue(t *testing.T) {
	seed := provider.New(provider.Config{Name: "seed", Kind: plan.KindResponse, Buffer: plan.BufferLimit{Fixed: 10}})
	ctx0 := context.Background()
	seed.Put(ctx0, jsonvalue.NewInt(1), plan.SendBlock)
	providers := map[string]*provider.Provider{"seed": seed}

	ep := plan.Endpoint{Name: "e3", Method: "GET", URL: "/x/{{seed}}"}
	ce, err := Compile(ep, providerLookup(providers), nil)
	if err != nil {
		t.Fatal(err)
	}

	transport := &fakeTransport{}
	ex := New(Config{
		Endpoint:   ep,
		Compiled:   ce,
		Pattern:    straightLinePattern(5, 600*time.Millisecond),
		Transport:  transport,
		Stats:      newTestFeeder(),
		AutoReturn: map[string]plan.AutoReturn{"seed": plan.AutoReturnBlock},
		PeakHPS:    5,
		SeedSource: NewSeedSource(1),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ex.Run(ctx)

	if transport.calls.Load() == 0 {
		t.Fatal("expected at least one dispatched request")
	}
	stats := seed.Stats()
	if stats.Len != 1 {
		t.Errorf("provider Len after run = %d, want 1 (value should cycle via auto_return:block)", stats.Len)
	}
}

func TestRunTerminatesWhenProviderCloses(t *testing.T) {
	u := provider.New(provider.Config{Name: "u", Kind: plan.KindFile, Buffer: plan.BufferLimit{Fixed: 10}})
	ctx0 := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		if _, err := u.Put(ctx0, jsonvalue.NewString(s), plan.SendBlock); err != nil {
			t.Fatal(err)
		}
	}
	u.Close()
	providers := map[string]*provider.Provider{"u": u}

	ep := plan.Endpoint{Name: "e5", Method: "GET", URL: "/items/{{u}}"}
	ce, err := Compile(ep, providerLookup(providers), nil)
	if err != nil {
		t.Fatal(err)
	}

	var gotURLs []string
	var mu sync.Mutex
	transport := &fakeTransport{fn: func(ctx context.Context, req Request) (Response, error) {
		mu.Lock()
		gotURLs = append(gotURLs, req.URL)
		mu.Unlock()
		return Response{Status: 200}, nil
	}}

	ex := New(Config{
		Endpoint:   ep,
		Compiled:   ce,
		Pattern:    straightLinePattern(10, 10*time.Second),
		Transport:  transport,
		Stats:      newTestFeeder(),
		AutoReturn: map[string]plan.AutoReturn{"u": plan.AutoReturnNone},
		PeakHPS:    10,
		SeedSource: NewSeedSource(1),
	})

	start := time.Now()
	ex.Run(context.Background())
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v; a drained provider should terminate the endpoint well before the curve ends", elapsed)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/items/a", "/items/b", "/items/c"}
	if len(gotURLs) != len(want) {
		t.Fatalf("issued %d requests %v, want %v", len(gotURLs), gotURLs, want)
	}
	for i, w := range want {
		if gotURLs[i] != w {
			t.Errorf("request %d = %q, want %q", i, gotURLs[i], w)
		}
	}
}

func TestGlobalLoggerReceivesEveryEvent(t *testing.T) {
	mem := &memWriter{}
	reg, err := logsink.NewRegistry([]plan.LoggerDef{
		{Name: "all", Select: "{{response.status}}"},
	}, func(to string) (io.WriteCloser, error) { return mem, nil })
	if err != nil {
		t.Fatal(err)
	}

	ep := plan.Endpoint{Name: "e4", Method: "GET", URL: "/ping"}
	ce, err := Compile(ep, providerLookup(map[string]*provider.Provider{}), reg)
	if err != nil {
		t.Fatal(err)
	}

	transport := &fakeTransport{}
	ex := New(Config{
		Endpoint:      ep,
		Compiled:      ce,
		Pattern:       straightLinePattern(5, 400*time.Millisecond),
		Transport:     transport,
		Stats:         newTestFeeder(),
		GlobalLoggers: reg.GlobalEntries(),
		AutoReturn:    map[string]plan.AutoReturn{},
		PeakHPS:       5,
		SeedSource:    NewSeedSource(1),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ex.Run(ctx)

	if mem.buf.Len() == 0 {
		t.Error("expected global logger to receive events")
	}
	if lines := strings.Count(mem.buf.String(), "\n"); int64(lines) != transport.calls.Load() {
		t.Errorf("global logger got %d records for %d requests, want one per request", lines, transport.calls.Load())
	}
}
