package authcore

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsNilReceiverSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricAuthenticateLatency, time.Millisecond)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if m.Enabled() || m.LatencyEnabled() {
		t.Fatal("nil metrics must report disabled")
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		500 * time.Microsecond, // bucket 0
		time.Millisecond,       // bucket 0
		2 * time.Millisecond,   // bucket 1
		4 * time.Millisecond,   // bucket 2
		9 * time.Millisecond,   // bucket 3
		20 * time.Millisecond,  // bucket 4
		40 * time.Millisecond,  // bucket 5
		99 * time.Millisecond,  // bucket 6
		time.Second,            // bucket 7
	}
	for _, d := range observations {
		m.Observe(MetricAuthenticateLatency, d)
	}

	buckets := m.Snapshot().Histograms[MetricAuthenticateLatency]
	want := []uint64{2, 1, 1, 1, 1, 1, 1, 1}
	if len(buckets) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(buckets))
	}
	for i := range want {
		if buckets[i] != want[i] {
			t.Fatalf("bucket %d: expected %d, got %d (%v)", i, want[i], buckets[i], buckets)
		}
	}
}

func TestMetricsHistogramDisabledByDefault(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricAuthenticateLatency, time.Millisecond)

	if h := m.Snapshot().Histograms[MetricAuthenticateLatency]; h != nil {
		t.Fatalf("expected no histogram, got %v", h)
	}
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLogout)

	snap := m.Snapshot()
	m.Inc(MetricLogout)

	if snap.Counters[MetricLogout] != 1 {
		t.Fatalf("snapshot mutated after the fact: %d", snap.Counters[MetricLogout])
	}
	if m.Value(MetricLogout) != 2 {
		t.Fatalf("expected live value 2, got %d", m.Value(MetricLogout))
	}
}

func TestMetricsOutOfRangeID(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricID(10_000))

	if got := m.Value(MetricID(10_000)); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
