// Package statsfeed implements per-endpoint RTT/status/error bucketing,
// fed by the executor and consumed by an external statistics
// aggregator. Percentile estimation runs on a streaming t-digest so
// memory stays bounded regardless of request volume.
package statsfeed

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// Outcome is either an HTTP status code or a transport error kind.
type Outcome struct {
	HTTPStatus int    // 0 if ErrKind is set
	ErrKind    string // "" if HTTPStatus is set
}

func (o Outcome) IsError() bool { return o.ErrKind != "" }

// Record is one completed request's observation, matching the wire
// shape handed to the external aggregator.
type Record struct {
	StatsID   string // (method, immutable path tokens, sorted stats_id labels)
	Method    string
	Timestamp time.Time
	RTT       time.Duration
	Outcome   Outcome
	BytesIn   int64
	BytesOut  int64
}

// shard holds one StatsID's running aggregates. Sharding by StatsID
// (rather than one global mutex) keeps the executor's hot feed path
// lock-contention-free across unrelated endpoints.
type shard struct {
	mu sync.Mutex

	count      int64
	errors     int64
	bytesIn    int64
	bytesOut   int64
	statuses   map[int]int64
	errorKinds map[string]int64
	rttDigest  *tdigest.TDigest

	lastRecord time.Time
}

func newShard() *shard {
	return &shard{
		statuses:   map[int]int64{},
		errorKinds: map[string]int64{},
		rttDigest:  tdigest.NewWithCompression(100),
	}
}

func (s *shard) feed(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	s.bytesIn += r.BytesIn
	s.bytesOut += r.BytesOut
	s.lastRecord = r.Timestamp
	s.rttDigest.Add(float64(r.RTT.Nanoseconds()), 1)
	if r.Outcome.IsError() {
		s.errors++
		s.errorKinds[r.Outcome.ErrKind]++
		return
	}
	s.statuses[r.Outcome.HTTPStatus]++
}

// Snapshot is a point-in-time bucketed view of one StatsID's traffic.
type Snapshot struct {
	StatsID    string
	Count      int64
	Errors     int64
	BytesIn    int64
	BytesOut   int64
	Statuses   map[int]int64
	ErrorKinds map[string]int64
	RTTp50     time.Duration
	RTTp95     time.Duration
	RTTp99     time.Duration
}

func (s *shard) snapshot(statsID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make(map[int]int64, len(s.statuses))
	for k, v := range s.statuses {
		statuses[k] = v
	}
	errKinds := make(map[string]int64, len(s.errorKinds))
	for k, v := range s.errorKinds {
		errKinds[k] = v
	}
	return Snapshot{
		StatsID:    statsID,
		Count:      s.count,
		Errors:     s.errors,
		BytesIn:    s.bytesIn,
		BytesOut:   s.bytesOut,
		Statuses:   statuses,
		ErrorKinds: errKinds,
		RTTp50:     time.Duration(s.rttDigest.Quantile(0.50)),
		RTTp95:     time.Duration(s.rttDigest.Quantile(0.95)),
		RTTp99:     time.Duration(s.rttDigest.Quantile(0.99)),
	}
}

// Sink is the external aggregator boundary: whatever the core feeds it.
// The core only needs to call Feed; wiring a concrete sink (file,
// network, metrics) is the orchestrator's job.
type Sink interface {
	Feed(Record)
}

// Feeder buckets per-StatsID RTT/status/error counts and forwards every
// raw Record to an external Sink unchanged.
type Feeder struct {
	mu     sync.RWMutex
	shards map[string]*shard
	sink   Sink
}

// NewFeeder creates a Feeder. sink may be nil if no external aggregator
// is wired (bucketed snapshots remain available via Snapshot/Snapshots).
func NewFeeder(sink Sink) *Feeder {
	return &Feeder{shards: map[string]*shard{}, sink: sink}
}

// Feed records one completed request, bucketing it by StatsID and
// forwarding the raw record to the external sink, if any.
func (f *Feeder) Feed(r Record) {
	f.mu.RLock()
	sh, ok := f.shards[r.StatsID]
	f.mu.RUnlock()
	if !ok {
		f.mu.Lock()
		sh, ok = f.shards[r.StatsID]
		if !ok {
			sh = newShard()
			f.shards[r.StatsID] = sh
		}
		f.mu.Unlock()
	}
	sh.feed(r)
	if f.sink != nil {
		f.sink.Feed(r)
	}
}

// Snapshot returns the current bucketed view for one StatsID, or
// ok=false if nothing has been fed for it yet.
func (f *Feeder) Snapshot(statsID string) (Snapshot, bool) {
	f.mu.RLock()
	sh, ok := f.shards[statsID]
	f.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return sh.snapshot(statsID), true
}

// Snapshots returns every StatsID's current bucketed view, for
// periodic reporting.
func (f *Feeder) Snapshots() []Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Snapshot, 0, len(f.shards))
	for id, sh := range f.shards {
		out = append(out, sh.snapshot(id))
	}
	return out
}
