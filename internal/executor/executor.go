// Package executor implements per-endpoint iteration loops that join
// tick instants with provider takes, dispatch HTTP requests, and route
// results into providers, loggers, and the stats feeder.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/pewpew/pewpew/internal/jsonvalue"
	"github.com/pewpew/pewpew/internal/loadpattern"
	"github.com/pewpew/pewpew/internal/logging"
	"github.com/pewpew/pewpew/internal/logsink"
	"github.com/pewpew/pewpew/internal/plan"
	"github.com/pewpew/pewpew/internal/provider"
	"github.com/pewpew/pewpew/internal/statsfeed"
	"github.com/pewpew/pewpew/internal/template"
)

const minInFlightCap = 8

// Executor drives one endpoint's iterations: one goroutine consumes
// the mod-interval ticker, spawning a bounded number of concurrent
// in-flight iterations.
type Executor struct {
	ce        *CompiledEndpoint
	ticker    *loadpattern.Ticker
	transport Transport
	stats     *statsfeed.Feeder
	globals   []*logsink.Entry
	autoRet   map[string]plan.AutoReturn // provider name -> auto_return mode

	rngMu sync.Mutex
	rng   *rand.Rand

	sem        chan struct{}
	wg         sync.WaitGroup
	starveOnce sync.Once

	log *slog.Logger
}

// Config bundles an Executor's runtime collaborators.
type Config struct {
	Endpoint      plan.Endpoint
	Compiled      *CompiledEndpoint
	Pattern       *loadpattern.Pattern
	Transport     Transport
	Stats         *statsfeed.Feeder
	GlobalLoggers []*logsink.Entry
	AutoReturn    map[string]plan.AutoReturn
	PeakHPS       float64
	SeedSource    *seedSourceHandle
	Logger        *slog.Logger
}

// seedSourceHandle lets the orchestrator share one run-wide seed
// across every endpoint's Executor without exporting seedSource.
type seedSourceHandle = seedSource

// NewSeedSource creates the run-wide seed handed to every endpoint's
// Executor, so collect() draws are reproducible given the same seed.
func NewSeedSource(runSeed int64) *seedSourceHandle { return newSeedSource(runSeed) }

// New builds an Executor ready to Run.
func New(cfg Config) *Executor {
	inFlightCap := int(cfg.PeakHPS * 2)
	if inFlightCap < minInFlightCap {
		inFlightCap = minInFlightCap
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		ce:        cfg.Compiled,
		ticker:    loadpattern.NewTicker(cfg.Pattern),
		transport: cfg.Transport,
		stats:     cfg.Stats,
		globals:   cfg.GlobalLoggers,
		autoRet:   cfg.AutoReturn,
		rng:       cfg.SeedSource.forEndpoint(cfg.Endpoint.Name),
		sem:       make(chan struct{}, inFlightCap),
		log:       logging.ForEndpoint(log, cfg.Endpoint.Name),
	}
}

// Missed returns the number of ticks coalesced under backpressure.
func (ex *Executor) Missed() int64 { return ex.ticker.Missed() }

// Name returns the endpoint name this Executor drives, for labeling
// metrics and logs.
func (ex *Executor) Name() string { return ex.ce.Name }

// InFlight returns the number of iterations currently dispatched but
// not yet resolved.
func (ex *Executor) InFlight() int { return len(ex.sem) }

// Run drives iterations until the load curve is exhausted, a required
// provider closes (the endpoint is starved and terminates cleanly), or
// ctx is cancelled, then waits for every in-flight iteration to finish.
//
// Two cancellation scopes are at work: takeCtx covers tick consumption
// and provider takes — new work, cancelled as soon as the curve ends or
// shutdown begins, so a blocked take can't strand the run. Requests
// already dispatched keep running on an uncancelled context (bounded by
// the transport's own timeout), since an in-flight request must resolve
// and route its results.
func (ex *Executor) Run(ctx context.Context) {
	takeCtx, cancelTakes := context.WithCancel(ctx)
	defer cancelTakes()

	ex.log.Info("endpoint_started")
	defer func() { ex.log.Info("endpoint_stopped", "ticks_coalesced", ex.Missed()) }()

	tickerDone := make(chan struct{})
	go func() {
		ex.ticker.Run(takeCtx)
		close(tickerDone)
	}()

loop:
	for {
		select {
		case _, ok := <-ex.ticker.C():
			if !ok {
				ex.log.Info("endpoint_exhausted")
				break loop
			}
			select {
			case ex.sem <- struct{}{}:
				ex.wg.Add(1)
				go func() {
					defer ex.wg.Done()
					defer func() { <-ex.sem }()
					if err := ex.runIteration(takeCtx); errors.Is(err, provider.ErrClosed) {
						ex.starveOnce.Do(func() {
							ex.log.Info("endpoint_starved", "reason", plan.ErrProviderStarved.Error())
							cancelTakes()
						})
					}
				}()
			case <-takeCtx.Done():
				break loop
			}
		case <-takeCtx.Done():
			break loop
		}
	}
	cancelTakes()
	<-tickerDone
	ex.wg.Wait()
}

type consumedValue struct {
	p    *provider.Provider
	auto plan.AutoReturn
	v    jsonvalue.Value
}

// runIteration executes one full cycle: acquire provider values, render
// and dispatch the request, then route results and auto-return.
// Awaiting the triggering tick has already happened by the time this is
// called. ctx governs the take phase only; once every value is acquired
// the iteration runs to completion regardless of cancellation. The
// returned error is nil except when the iteration could not acquire its
// provider values; provider.ErrClosed signals starvation to Run's loop.
func (ex *Executor) runIteration(ctx context.Context) error {
	env := template.NewEnv()
	var consumed []consumedValue

	abort := func() {
		for _, c := range consumed {
			ex.autoReturn(context.Background(), c)
		}
	}

	for _, spec := range ex.ce.declares {
		p := ex.ce.providers[spec.Alias]
		auto := ex.autoRet[spec.Provider]
		switch spec.Kind {
		case template.DeclareSingle:
			v, err := p.Take(ctx)
			if err != nil {
				abort()
				return err
			}
			consumed = append(consumed, consumedValue{p, auto, v})
			env.Bind(spec.Alias, v)
		case template.DeclareCollect:
			n := ex.collectCount(spec.Min, spec.Max)
			items := make([]jsonvalue.Value, 0, n)
			for i := 0; i < n; i++ {
				v, err := p.Take(ctx)
				if err != nil {
					abort()
					return err
				}
				consumed = append(consumed, consumedValue{p, auto, v})
				items = append(items, v)
			}
			env.Bind(spec.Alias, jsonvalue.NewArray(items))
		}
	}

	for _, name := range ex.ce.bareRefs {
		p := ex.ce.providers[name]
		auto := ex.autoRet[name]
		v, err := p.Take(ctx)
		if err != nil {
			abort()
			return err
		}
		consumed = append(consumed, consumedValue{p, auto, v})
		env.Bind(name, v)
	}

	url, err := ex.ce.urlTpl.Eval(env, ex.ce.helpers)
	if err != nil {
		ex.log.Warn("endpoint_iteration_error", "stage", "render_url", "error", err)
		abort()
		return nil
	}
	headers := make(map[string]string, len(ex.ce.hdrTpls))
	for k, t := range ex.ce.hdrTpls {
		hv, err := t.Eval(env, ex.ce.helpers)
		if err != nil {
			ex.log.Warn("endpoint_iteration_error", "stage", "render_header", "header", k, "error", err)
			abort()
			return nil
		}
		headers[k] = hv
	}
	var body []byte
	if ex.ce.bodyTpl != nil {
		b, err := ex.ce.bodyTpl.Eval(env, ex.ce.helpers)
		if err != nil {
			ex.log.Warn("endpoint_iteration_error", "stage", "render_body", "error", err)
			abort()
			return nil
		}
		body = []byte(b)
	}

	// The takes succeeded, so this iteration commits: the dispatch is
	// shielded from take-phase cancellation and bounded by the
	// transport's own request timeout instead.
	dispatchCtx := context.WithoutCancel(ctx)

	start := time.Now()
	resp, dispatchErr := ex.transport.Do(dispatchCtx, Request{Method: ex.ce.Method, URL: url, Headers: headers, Body: body})
	rtt := time.Since(start)

	outcome := statsfeed.Outcome{}
	var bytesIn int64
	if dispatchErr != nil {
		outcome.ErrKind = classifyError(dispatchErr)
	} else {
		outcome.HTTPStatus = resp.Status
		bytesIn = int64(len(resp.Body))
	}
	ex.stats.Feed(statsfeed.Record{
		StatsID:   ex.ce.StatsID(),
		Method:    ex.ce.Method,
		Timestamp: start,
		RTT:       rtt,
		Outcome:   outcome,
		BytesIn:   bytesIn,
		BytesOut:  int64(len(body)),
	})

	reqVal := jsonvalue.NewObject(map[string]jsonvalue.Value{
		"method":  jsonvalue.NewString(ex.ce.Method),
		"url":     jsonvalue.NewString(url),
		"headers": headersToValue(headers),
		"body":    jsonvalue.NewString(string(body)),
	})
	env.Bind("request", reqVal)

	// Provides routing and auto-return run on a detached context: a
	// response that completed before shutdown must still reach its
	// downstream providers so they close with consistent state. A put
	// blocked past the shutdown grace period fails with overflow once
	// the target provider closes, which is logged below.
	routeCtx := context.Background()

	if dispatchErr == nil {
		env.Bind("response", jsonvalue.NewObject(map[string]jsonvalue.Value{
			"status":  jsonvalue.NewInt(int64(resp.Status)),
			"headers": headersToValue(resp.Headers),
			"body":    jsonvalue.NewString(string(resp.Body)),
		}))

		for _, cp := range ex.ce.provides {
			vals, err := cp.clause.Eval(env, ex.ce.helpers)
			if err != nil {
				ex.log.Warn("endpoint_iteration_error", "stage", "provides", "error", err)
				continue
			}
			for _, v := range vals {
				if _, err := cp.target.Put(routeCtx, v, cp.send); err != nil {
					ex.log.Warn("provides_put_failed", "target", cp.target.Name, "error", err)
				}
			}
		}
	}

	for _, lr := range ex.ce.logs {
		vals, err := lr.clause.Eval(env, ex.ce.helpers)
		if err != nil {
			ex.log.Warn("endpoint_iteration_error", "stage", "logs", "error", err)
			continue
		}
		for _, v := range vals {
			lr.sink.Emit(v)
		}
	}
	for _, ge := range ex.globals {
		vals, err := ge.Clause.Eval(env, ex.ce.helpers)
		if err != nil {
			continue
		}
		for _, v := range vals {
			ge.Sink.Emit(v)
		}
	}

	for _, c := range consumed {
		ex.autoReturn(routeCtx, c)
	}
	return nil
}

// autoReturn re-inserts a consumed value per its provider's auto_return
// mode.
func (ex *Executor) autoReturn(ctx context.Context, c consumedValue) {
	var mode plan.SendMode
	switch c.auto {
	case plan.AutoReturnNone:
		return
	case plan.AutoReturnBlock:
		mode = plan.SendBlock
	case plan.AutoReturnForce:
		mode = plan.SendForce
	case plan.AutoReturnIfNotFull:
		mode = plan.SendIfNotFull
	}
	if _, err := c.p.Put(ctx, c.v, mode); err != nil {
		ex.log.Warn("auto_return_failed", "provider", c.p.Name, "error", err)
	}
}

func (ex *Executor) collectCount(min, max int) int {
	ex.rngMu.Lock()
	defer ex.rngMu.Unlock()
	return template.CollectCount(min, max, ex.rng)
}

func headersToValue(h map[string]string) jsonvalue.Value {
	fields := make(map[string]jsonvalue.Value, len(h))
	for k, v := range h {
		fields[k] = jsonvalue.NewString(v)
	}
	return jsonvalue.NewObject(fields)
}

// classifyError maps a transport failure to a coarse error kind string
// fed to the stats record's outcome field (an HTTP status or error kind).
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return fmt.Sprintf("transport: %v", err)
	}
}
