package statsfeed

import (
	"testing"
	"time"
)

type fakeSink struct{ records []Record }

func (f *fakeSink) Feed(r Record) { f.records = append(f.records, r) }

func TestFeedBucketsByStatsID(t *testing.T) {
	sink := &fakeSink{}
	f := NewFeeder(sink)

	f.Feed(Record{StatsID: "GET /users", Outcome: Outcome{HTTPStatus: 200}, RTT: 10 * time.Millisecond, BytesIn: 100})
	f.Feed(Record{StatsID: "GET /users", Outcome: Outcome{HTTPStatus: 200}, RTT: 20 * time.Millisecond, BytesIn: 200})
	f.Feed(Record{StatsID: "GET /users", Outcome: Outcome{ErrKind: "timeout"}, RTT: 30 * time.Second})
	f.Feed(Record{StatsID: "POST /orders", Outcome: Outcome{HTTPStatus: 201}})

	snap, ok := f.Snapshot("GET /users")
	if !ok {
		t.Fatal("expected snapshot for GET /users")
	}
	if snap.Count != 3 {
		t.Errorf("Count = %d, want 3", snap.Count)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}
	if snap.Statuses[200] != 2 {
		t.Errorf("Statuses[200] = %d, want 2", snap.Statuses[200])
	}
	if snap.ErrorKinds["timeout"] != 1 {
		t.Errorf("ErrorKinds[timeout] = %d, want 1", snap.ErrorKinds["timeout"])
	}
	if snap.BytesIn != 300 {
		t.Errorf("BytesIn = %d, want 300", snap.BytesIn)
	}

	if len(sink.records) != 4 {
		t.Errorf("sink received %d records, want 4", len(sink.records))
	}
}

func TestSnapshotUnknownStatsID(t *testing.T) {
	f := NewFeeder(nil)
	if _, ok := f.Snapshot("nope"); ok {
		t.Error("expected ok=false for unseen StatsID")
	}
}

func TestSnapshotsListsAllShards(t *testing.T) {
	f := NewFeeder(nil)
	f.Feed(Record{StatsID: "a", Outcome: Outcome{HTTPStatus: 200}})
	f.Feed(Record{StatsID: "b", Outcome: Outcome{HTTPStatus: 200}})
	snaps := f.Snapshots()
	if len(snaps) != 2 {
		t.Errorf("Snapshots() len = %d, want 2", len(snaps))
	}
}

func TestRTTPercentilesMonotonic(t *testing.T) {
	f := NewFeeder(nil)
	for i := 1; i <= 100; i++ {
		f.Feed(Record{StatsID: "x", Outcome: Outcome{HTTPStatus: 200}, RTT: time.Duration(i) * time.Millisecond})
	}
	snap, _ := f.Snapshot("x")
	if snap.RTTp50 > snap.RTTp95 || snap.RTTp95 > snap.RTTp99 {
		t.Errorf("percentiles not monotonic: p50=%v p95=%v p99=%v", snap.RTTp50, snap.RTTp95, snap.RTTp99)
	}
}
