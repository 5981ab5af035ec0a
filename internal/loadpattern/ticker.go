package loadpattern

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Ticker emits a strictly increasing sequence of instants whose count
// over [0, T] tracks the integral of the pattern's rate curve. If the
// consumer can't keep up, ticks that have fallen more than one mean
// interval behind schedule are coalesced (dropped, not burst-emitted)
// and counted as missed.
type Ticker struct {
	pattern   *Pattern
	clock     Clock
	startTime time.Time
	bufSize   int

	ch     chan time.Time
	missed atomic.Int64
	done   chan struct{}
}

// NewTicker creates a Ticker with the default coalescing bound of 1.
func NewTicker(pattern *Pattern) *Ticker {
	return NewTickerWithClock(pattern, realClock{}, 1)
}

// NewTickerWithClock allows tests to inject a deterministic clock and a
// custom tick-buffer bound.
func NewTickerWithClock(pattern *Pattern, clock Clock, bufSize int) *Ticker {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Ticker{
		pattern: pattern,
		clock:   clock,
		bufSize: bufSize,
		ch:      make(chan time.Time, bufSize),
		done:    make(chan struct{}),
	}
}

// C returns the channel ticks are delivered on. It is closed when the
// curve is exhausted or Run's context is cancelled.
func (t *Ticker) C() <-chan time.Time { return t.ch }

// Missed returns the number of ticks coalesced away because the consumer
// fell more than one mean interval behind schedule.
func (t *Ticker) Missed() int64 { return t.missed.Load() }

// Run drives the schedule until the pattern is exhausted or ctx is
// cancelled. Intended to run in its own goroutine, one per endpoint.
func (t *Ticker) Run(ctx context.Context) {
	defer close(t.ch)
	t.startTime = t.clock.Now()

	var pos time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tickPos, ok := t.pattern.NextTick(pos, 1.0)
		if !ok {
			return
		}

		target := t.startTime.Add(tickPos)
		if wait := target.Sub(t.clock.Now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}

		pos = tickPos
		now := t.clock.Now()

		if lag := now.Sub(target); lag > t.meanInterval(tickPos) {
			t.missed.Add(1)
			continue
		}

		select {
		case t.ch <- now:
		case <-ctx.Done():
			return
		}
	}
}

// meanInterval estimates the mean inter-tick spacing at the given
// pattern position, used as the coalescing threshold.
func (t *Ticker) meanInterval(pos time.Duration) time.Duration {
	r := t.pattern.RateAt(pos)
	if r <= 0 {
		return time.Hour // effectively never coalesce while rate is ~0
	}
	return time.Duration(float64(time.Second) / r)
}
