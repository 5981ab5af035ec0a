// Package loadpattern implements the percent-of-peak load curve and the
// mod-interval tick scheduler that turns it into a stream of request
// trigger instants.
package loadpattern

import (
	"math"
	"sort"
	"time"

	"github.com/pewpew/pewpew/internal/plan"
)

// segment is a compiled leg of the curve: absolute start/end offsets from
// test start, and the requests/sec rate at each end.
type segment struct {
	start, end  time.Duration
	rateAtStart float64
	rateAtEnd   float64
}

// Pattern is the compiled, queryable form of a plan.LoadPattern: a
// piecewise-linear function of elapsed time to requests/sec.
type Pattern struct {
	segments []segment
	starts   []time.Duration // segments[i].start, parallel slice for sort.Search
	total    time.Duration
}

// Compile converts a parsed LoadPattern plus its resolved peak rate into
// a queryable Pattern. The LoadPattern must already be Normalize()d.
func Compile(lp *plan.LoadPattern, peak plan.Rate) *Pattern {
	p := &Pattern{}
	if lp == nil {
		return p
	}
	var t time.Duration
	for _, s := range lp.Segments {
		dur := s.Over.Duration()
		seg := segment{
			start:       t,
			end:         t + dur,
			rateAtStart: s.From.Float() * peak.PerSecond(),
			rateAtEnd:   s.To.Float() * peak.PerSecond(),
		}
		p.segments = append(p.segments, seg)
		p.starts = append(p.starts, seg.start)
		t += dur
	}
	p.total = t
	return p
}

// Total returns the sum of every segment's duration.
func (p *Pattern) Total() time.Duration { return p.total }

// RateAt returns R(t): 0 outside [0, total), else the linear
// interpolation within the containing segment. O(log k) over k segments.
func (p *Pattern) RateAt(t time.Duration) float64 {
	if t < 0 || t >= p.total || len(p.segments) == 0 {
		return 0
	}
	idx := sort.Search(len(p.starts), func(i int) bool { return p.starts[i] > t }) - 1
	if idx < 0 || idx >= len(p.segments) {
		return 0
	}
	seg := p.segments[idx]
	if seg.end == seg.start {
		return seg.rateAtEnd
	}
	frac := float64(t-seg.start) / float64(seg.end-seg.start)
	return seg.rateAtStart + frac*(seg.rateAtEnd-seg.rateAtStart)
}

// segmentAt returns the index of the last segment starting at or before
// t, clamped to 0 for t before the curve; past the curve it returns the
// last segment's index.
func (p *Pattern) segmentAt(t time.Duration) int {
	idx := sort.Search(len(p.starts), func(i int) bool { return p.starts[i] > t }) - 1
	if idx < 0 {
		idx = 0
	}
	return idx
}

// integral returns the exact area under R between [a, b], where a and b
// both fall within segment seg (caller's responsibility). R is linear
// within a segment, so the trapezoid rule is exact.
func (seg segment) integral(a, b time.Duration) float64 {
	ra := seg.rateAt(a)
	rb := seg.rateAt(b)
	dt := (b - a).Seconds()
	return (ra + rb) / 2 * dt
}

func (seg segment) rateAt(t time.Duration) float64 {
	if seg.end == seg.start {
		return seg.rateAtEnd
	}
	frac := float64(t-seg.start) / float64(seg.end-seg.start)
	return seg.rateAtStart + frac*(seg.rateAtEnd-seg.rateAtStart)
}

// solveWithin finds x in [a, seg.end] such that integral(a, x) == needed,
// given that integral(a, seg.end) >= needed. R is linear in this segment,
// so this is a quadratic (or linear, if rateAtStart==rateAtEnd) solve.
func (seg segment) solveWithin(a time.Duration, needed float64) time.Duration {
	ra := seg.rateAt(a)
	if seg.end == seg.start || seg.rateAtStart == seg.rateAtEnd {
		if ra <= 0 {
			return seg.end
		}
		return a + time.Duration(needed/ra*float64(time.Second))
	}
	// r(a+dt) = ra + m*dt, where m is the rate's slope per second within
	// this segment. integral(a,a+dt) = ra*dt + m/2*dt^2 = needed.
	segDur := (seg.end - seg.start).Seconds()
	m := (seg.rateAtEnd - seg.rateAtStart) / segDur // rate change per second

	// Solve m/2*dt^2 + ra*dt - needed = 0 for the positive root.
	var dt float64
	if m == 0 {
		dt = needed / ra
	} else {
		disc := ra*ra + 2*m*needed
		if disc < 0 {
			disc = 0
		}
		dt = (-ra + math.Sqrt(disc)) / m
		if dt < 0 {
			dt = (-ra - math.Sqrt(disc)) / m
		}
	}
	if dt < 0 {
		dt = 0
	}
	x := a + time.Duration(dt*float64(time.Second))
	if x > seg.end {
		x = seg.end
	}
	return x
}

// NextTick finds the smallest t2 > t1 such that the integral of R over
// [t1, t2] equals `needed` (the remaining credit deficit). Returns
// ok=false if the curve is exhausted before enough area accumulates.
func (p *Pattern) NextTick(t1 time.Duration, needed float64) (t2 time.Duration, ok bool) {
	if len(p.segments) == 0 || needed <= 0 {
		return t1, needed <= 0
	}
	idx := p.segmentAt(t1)
	cur := t1
	if cur < p.segments[0].start {
		cur = p.segments[0].start
	}
	for idx < len(p.segments) {
		seg := p.segments[idx]
		from := cur
		if from < seg.start {
			from = seg.start
		}
		area := seg.integral(from, seg.end)
		if area >= needed {
			return seg.solveWithin(from, needed), true
		}
		needed -= area
		cur = seg.end
		idx++
	}
	return p.total, false
}
