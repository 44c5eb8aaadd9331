package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	if tracker.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count())
	}

	p95 := tracker.Percentile(95)
	if p95 < 40*time.Millisecond {
		t.Fatalf("expected percentile >= 40ms, got %v", p95)
	}
	if got := tracker.Percentile(0); got != 10*time.Millisecond {
		t.Fatalf("expected min 10ms, got %v", got)
	}
}

func TestLatencyTrackerBoundedSize(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	// Only 7, 8 and 9 remain.
	if got := tracker.Percentile(0); got != 7*time.Millisecond {
		t.Fatalf("expected oldest retained sample 7ms, got %v", got)
	}
}

func TestLatencySnapshot(t *testing.T) {
	tracker := NewLatencyTracker(100)
	if snap := tracker.Snapshot(); snap.Count != 0 || snap.P95 != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	for i := 1; i <= 100; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	snap := tracker.Snapshot()
	if snap.Count != 100 || snap.Max != 100*time.Millisecond {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.P50 > snap.P95 || snap.P95 > snap.P99 || snap.P99 > snap.Max {
		t.Fatalf("percentiles out of order: %+v", snap)
	}
}
