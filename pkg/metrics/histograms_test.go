package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestHistogram_Observe(t *testing.T) {
	h := NewHistogram("judge_decision")
	h.Observe(10 * time.Millisecond)
	h.Observe(50 * time.Millisecond)
	h.Observe(200 * time.Millisecond)
	h.Observe(3 * time.Second)
	h.Observe(-time.Second)

	snap := h.Snapshot()
	if snap.Count != 5 {
		t.Errorf("count = %d, want 5", snap.Count)
	}
	if snap.Name != "judge_decision" {
		t.Errorf("name = %q", snap.Name)
	}
	if snap.Sum < 3.25 || snap.Sum > 3.27 {
		t.Errorf("sum = %v, want about 3.26", snap.Sum)
	}
	// buckets are cumulative
	for i := 1; i < len(snap.Buckets); i++ {
		if snap.Buckets[i].Count < snap.Buckets[i-1].Count {
			t.Fatalf("bucket %d not cumulative: %+v", i, snap.Buckets)
		}
	}
	if first := snap.Buckets[0]; first.Le != 0.005 || first.Count != 1 {
		t.Errorf("negative durations count as zero, got %+v", first)
	}
}

func TestHistogram_Percentiles(t *testing.T) {
	h := NewHistogram("p_test")
	for i := 0; i < 95; i++ {
		h.Observe(8 * time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		h.Observe(4 * time.Second)
	}
	snap := h.Snapshot()
	if snap.P50 != 0.01 {
		t.Errorf("p50 = %v, want 0.01", snap.P50)
	}
	if snap.P95 != 0.01 {
		t.Errorf("p95 = %v, want 0.01", snap.P95)
	}
	if snap.P99 != 5 {
		t.Errorf("p99 = %v, want 5", snap.P99)
	}
}

func TestHistogram_EmptyAndOverflow(t *testing.T) {
	if snap := NewHistogram("empty").Snapshot(); snap.P50 != 0 || snap.Count != 0 {
		t.Fatalf("empty histogram should report zeros, got %+v", snap)
	}
	h := NewHistogram("slow")
	h.Observe(time.Minute)
	if snap := h.Snapshot(); snap.P50 != 30 {
		t.Fatalf("overflow should report the last bound, got %v", snap.P50)
	}
}

func TestHistogramRegistry(t *testing.T) {
	r := NewHistogramRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ObserveDuration("b", time.Millisecond)
			r.ObserveDuration("a", time.Millisecond)
		}()
	}
	wg.Wait()
	if r.Get("a") != r.Get("a") {
		t.Fatal("Get must return the same histogram for a name")
	}
	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "a" || snaps[1].Name != "b" {
		t.Fatalf("expected sorted a,b got %+v", snaps)
	}
	if snaps[0].Count != 20 {
		t.Fatalf("expected 20 observations got %d", snaps[0].Count)
	}
}
