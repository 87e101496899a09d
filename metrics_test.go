package authgate

import (
	"sync"
	"testing"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Inc(MetricTokenIssued)
	m.Inc(MetricTokenIssued)
	m.Inc(MetricRateLimitDenied)

	if got := m.Get(MetricTokenIssued); got != 2 {
		t.Fatalf("MetricTokenIssued = %d, want 2", got)
	}
	if got := m.Get(MetricRateLimitDenied); got != 1 {
		t.Fatalf("MetricRateLimitDenied = %d, want 1", got)
	}

	snap := m.Snapshot()
	if len(snap.Counters) != len(MetricIDs()) {
		t.Fatalf("snapshot has %d counters, want %d", len(snap.Counters), len(MetricIDs()))
	}
	if snap.Counters[MetricTokenIssued] != 2 {
		t.Fatalf("snapshot MetricTokenIssued = %d, want 2", snap.Counters[MetricTokenIssued])
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricTokenIssued)
	if got := m.Get(MetricTokenIssued); got != 0 {
		t.Fatalf("nil Get = %d, want 0", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("nil snapshot has %d counters, want 0", len(snap.Counters))
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics()

	const goroutines = 8
	const perGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				m.Inc(MetricTokenRotated)
			}
		}()
	}
	wg.Wait()

	if got := m.Get(MetricTokenRotated); got != goroutines*perGoroutine {
		t.Fatalf("MetricTokenRotated = %d, want %d", got, goroutines*perGoroutine)
	}
}

func TestMetricNames(t *testing.T) {
	seen := make(map[string]struct{})
	for _, id := range MetricIDs() {
		name := id.Name()
		if name == "" || name == "authgate_unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if _, dup := seen[name]; dup {
			t.Fatalf("duplicate metric name %s", name)
		}
		seen[name] = struct{}{}
	}
}
