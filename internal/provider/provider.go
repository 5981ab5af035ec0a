// Package provider implements the bounded FIFO value queue (component D)
// that buffers, multiplexes, and back-pressures values between a file
// reader, HTTP responses, and endpoint request templates.
//
// Each Provider is a single-owner actor: one goroutine owns the queue
// and all mutation happens by exchanging request/response structs over
// a channel. Provider's invariants (FIFO order, autosize, blocking
// take/put) are easier to get right as sequential code in one goroutine
// than behind an ambient mutex.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/pewpew/pewpew/internal/jsonvalue"
	"github.com/pewpew/pewpew/internal/plan"
)

const (
	autosizeInitial = 5
	autosizeStep    = 5
	autosizeCap     = 5000
)

// ErrClosed is returned by Take on a closed, drained provider.
var ErrClosed = errors.New("provider: closed and empty")

// Ack reports the outcome of a Put.
type Ack struct {
	Dropped bool // true if send:if_not_full dropped the value
}

// Stats is a snapshot of a provider's queue state.
type Stats struct {
	Len    int
	Limit  int
	Open   bool
	Kind   plan.ProviderKind
	Missed int64 // puts dropped under if_not_full, or overflow under block-at-shutdown
}

type takeReq struct {
	ctx  context.Context
	resp chan takeResp
}

type takeResp struct {
	v   jsonvalue.Value
	err error
}

type putReq struct {
	ctx  context.Context
	v    jsonvalue.Value
	mode plan.SendMode
	resp chan putResp
}

type putResp struct {
	ack Ack
	err error
}

type statsReq struct {
	resp chan Stats
}

// Provider is a named, bounded FIFO of JSON-like values.
type Provider struct {
	Name string
	Kind plan.ProviderKind

	takeCh  chan takeReq
	putCh   chan putReq
	closeCh chan struct{}
	statsCh chan statsReq

	// done closes when the actor goroutine exits (closed and drained,
	// nobody waiting). finalStats is written by the actor before that
	// close, so readers that observe done closed see it safely.
	done       chan struct{}
	finalStats Stats
}

// Config bundles construction-time parameters for New.
type Config struct {
	Name        string
	Kind        plan.ProviderKind
	Buffer      plan.BufferLimit
	StaticValue jsonvalue.Value   // for KindStatic
	StaticList  []jsonvalue.Value // for KindStaticList
}

// New creates and starts a Provider's actor goroutine.
func New(cfg Config) *Provider {
	p := &Provider{
		Name:    cfg.Name,
		Kind:    cfg.Kind,
		takeCh:  make(chan takeReq),
		putCh:   make(chan putReq),
		closeCh: make(chan struct{}),
		statsCh: make(chan statsReq),
		done:    make(chan struct{}),
	}

	limit := autosizeInitial
	auto := true
	if !cfg.Buffer.Auto {
		limit = cfg.Buffer.Fixed
		auto = false
	}

	go p.run(limit, auto, cfg.StaticValue, cfg.StaticList)
	return p
}

// run is the actor loop. It owns every mutable field; nothing outside
// this goroutine touches queue, limit, waiters, or open.
func (p *Provider) run(limit int, auto bool, staticValue jsonvalue.Value, staticList []jsonvalue.Value) {
	defer close(p.done)

	var queue []jsonvalue.Value
	open := true
	listIdx := 0
	var missed int64

	var waitingTakers []takeReq
	var waitingPutters []putReq

	// tryWakeTakers hands queued values to parked takers in arrival order.
	tryWakeTakers := func() {
		for len(waitingTakers) > 0 && len(queue) > 0 {
			tr := waitingTakers[0]
			waitingTakers = waitingTakers[1:]
			if tr.ctx.Err() != nil {
				continue
			}
			v := queue[0]
			queue = queue[1:]
			tr.resp <- takeResp{v: v}
		}
		if open {
			return
		}
		// Closed and drained: fail every remaining parked taker fast.
		for len(waitingTakers) > 0 && len(queue) == 0 {
			tr := waitingTakers[0]
			waitingTakers = waitingTakers[1:]
			if tr.ctx.Err() != nil {
				continue
			}
			tr.resp <- takeResp{err: ErrClosed}
		}
	}

	// tryWakePutters admits parked block-mode putters once space frees.
	tryWakePutters := func() {
		for len(waitingPutters) > 0 && (len(queue) < limit || !open) {
			pr := waitingPutters[0]
			waitingPutters = waitingPutters[1:]
			if pr.ctx.Err() != nil {
				continue
			}
			if !open {
				missed++
				pr.resp <- putResp{err: fmt.Errorf("%w: provider %q closed while put was blocked", plan.ErrProviderOverflow, p.Name)}
				continue
			}
			queue = append(queue, pr.v)
			pr.resp <- putResp{ack: Ack{}}
		}
	}

	takeStatic := func() jsonvalue.Value {
		switch p.Kind {
		case plan.KindStaticList:
			if len(staticList) == 0 {
				return jsonvalue.NewNull()
			}
			v := staticList[listIdx]
			listIdx = (listIdx + 1) % len(staticList)
			return v
		default:
			return staticValue
		}
	}

	for {
		select {
		case tr := <-p.takeCh:
			if p.Kind == plan.KindStatic || p.Kind == plan.KindStaticList {
				tr.resp <- takeResp{v: takeStatic()}
				continue
			}
			if len(queue) > 0 {
				v := queue[0]
				queue = queue[1:]
				tr.resp <- takeResp{v: v}
				continue
			}
			if !open {
				tr.resp <- takeResp{err: ErrClosed}
				continue
			}
			if auto && limit < autosizeCap {
				limit += autosizeStep
				if limit > autosizeCap {
					limit = autosizeCap
				}
			}
			waitingTakers = append(waitingTakers, tr)

		case pr := <-p.putCh:
			if p.Kind == plan.KindStatic || p.Kind == plan.KindStaticList {
				// Static content is copied on read, so a value coming
				// back (auto_return) has nothing to rejoin: the queue is
				// never read for these kinds, and a block-mode put parked
				// on it would never wake. Ack and discard.
				pr.resp <- putResp{ack: Ack{}}
				continue
			}
			if !open {
				missed++
				pr.resp <- putResp{err: fmt.Errorf("%w: provider %q is closed", plan.ErrProviderOverflow, p.Name)}
				continue
			}
			switch pr.mode {
			case plan.SendForce:
				queue = append(queue, pr.v)
				pr.resp <- putResp{ack: Ack{}}
				tryWakeTakers()
			case plan.SendIfNotFull:
				if len(queue) >= limit {
					missed++
					pr.resp <- putResp{ack: Ack{Dropped: true}}
					continue
				}
				queue = append(queue, pr.v)
				pr.resp <- putResp{ack: Ack{}}
				tryWakeTakers()
			default: // SendBlock
				if len(queue) < limit {
					queue = append(queue, pr.v)
					pr.resp <- putResp{ack: Ack{}}
					tryWakeTakers()
					continue
				}
				waitingPutters = append(waitingPutters, pr)
			}

		case <-p.closeCh:
			if !open {
				continue
			}
			open = false
			tryWakeTakers()
			tryWakePutters()

		case sr := <-p.statsCh:
			sr.resp <- Stats{Len: len(queue), Limit: limit, Open: open, Kind: p.Kind, Missed: missed}
		}

		// Re-run wake passes: a take or put above may have changed the
		// conditions for the other side (e.g. a take freed space for a
		// parked block-putter).
		tryWakePutters()
		tryWakeTakers()

		// Closed, drained, and nobody parked: the actor's work is done.
		// Callers that arrive later observe the closed done channel and
		// fail fast without a round trip.
		if !open && len(queue) == 0 && len(waitingTakers) == 0 && len(waitingPutters) == 0 {
			p.finalStats = Stats{Limit: limit, Open: false, Kind: p.Kind, Missed: missed}
			return
		}
	}
}

// Take removes and returns the head value. It suspends while the
// provider is empty and open, and fails fast once closed-and-drained.
func (p *Provider) Take(ctx context.Context) (jsonvalue.Value, error) {
	resp := make(chan takeResp, 1)
	select {
	case p.takeCh <- takeReq{ctx: ctx, resp: resp}:
	case <-ctx.Done():
		return jsonvalue.Value{}, ctx.Err()
	case <-p.done:
		return jsonvalue.Value{}, ErrClosed
	}
	select {
	case r := <-resp:
		return r.v, r.err
	case <-ctx.Done():
		return jsonvalue.Value{}, ctx.Err()
	}
}

// Put appends v, honoring the send mode's discipline.
func (p *Provider) Put(ctx context.Context, v jsonvalue.Value, mode plan.SendMode) (Ack, error) {
	resp := make(chan putResp, 1)
	select {
	case p.putCh <- putReq{ctx: ctx, v: v, mode: mode, resp: resp}:
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	case <-p.done:
		return Ack{}, ErrClosed
	}
	select {
	case r := <-resp:
		return r.ack, r.err
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// Close marks the provider closed: no more puts are accepted, and
// takers drain the remaining queue before failing.
func (p *Provider) Close() {
	select {
	case p.closeCh <- struct{}{}:
	case <-p.done:
	}
}

// Stats returns a point-in-time snapshot of the provider's queue state.
func (p *Provider) Stats() Stats {
	resp := make(chan Stats, 1)
	select {
	case p.statsCh <- statsReq{resp: resp}:
	case <-p.done:
		return p.finalStats
	}
	return <-resp
}
