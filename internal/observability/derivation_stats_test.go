package observability

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecordDerivationConcurrent tests concurrent RecordDerivation calls for race conditions.
func TestRecordDerivationConcurrent(t *testing.T) {
	ds := NewDerivationStats(1 * time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				ds.RecordDerivation("events", []string{"date"}, false)
				ds.RecordDerivation("clicks", nil, j%2 == 0)
			}
		}()
	}
	wg.Wait()

	top := ds.Top(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(top))
	}

	expectedFreq := int64(numGoroutines * recordsPerGoroutine)
	for _, stat := range top {
		if stat.Frequency != expectedFreq {
			t.Errorf("expected frequency %d for %s, got %d", expectedFreq, stat.Table, stat.Frequency)
		}
	}
	if top[0].Table != "clicks" || top[0].Failures != expectedFreq/2 {
		t.Errorf("unexpected clicks stats: %+v", top[0])
	}
	if top[1].Partitions["date"] != int(expectedFreq) {
		t.Errorf("expected date partition count %d, got %d", expectedFreq, top[1].Partitions["date"])
	}
}

// TestTopOrdering tests that Top returns results sorted by frequency.
func TestTopOrdering(t *testing.T) {
	ds := NewDerivationStats(1 * time.Hour)
	for i := 0; i < 3; i++ {
		ds.RecordDerivation("a", nil, false)
	}
	ds.RecordDerivation("b", nil, false)
	for i := 0; i < 2; i++ {
		ds.RecordDerivation("c", nil, false)
	}
	ds.RecordDerivation("", nil, false)

	top := ds.Top(2)
	if len(top) != 2 || top[0].Table != "a" || top[1].Table != "c" {
		t.Errorf("unexpected order: %+v", top)
	}
	if got := ds.Top(0); len(got) != 0 {
		t.Errorf("Top(0) should be empty, got %d", len(got))
	}
}

func TestTopReturnsCopies(t *testing.T) {
	ds := NewDerivationStats(1 * time.Hour)
	ds.RecordDerivation("events", []string{"date"}, false)

	top := ds.Top(1)
	top[0].Partitions["date"] = 99

	if again := ds.Top(1); again[0].Partitions["date"] != 1 {
		t.Error("Top should return copies of the partition map")
	}
}

func TestPrune(t *testing.T) {
	ds := NewDerivationStats(time.Minute)
	start := time.Unix(1700000000, 0)
	ds.now = func() time.Time { return start }
	ds.RecordDerivation("old", nil, false)

	ds.now = func() time.Time { return start.Add(2 * time.Minute) }
	ds.RecordDerivation("new", nil, false)
	ds.Prune()

	top := ds.Top(10)
	if len(top) != 1 || top[0].Table != "new" {
		t.Errorf("expected only new to survive, got %+v", top)
	}
}

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Derivations.WithLabelValues("schema", "ok").Inc()
	m.HTTPRequests.WithLabelValues("/healthz", "200").Add(2)

	if got := testutil.ToFloat64(m.Derivations.WithLabelValues("schema", "ok")); got != 1 {
		t.Errorf("derivations = %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/healthz", "200")); got != 2 {
		t.Errorf("http requests = %v", got)
	}

	// Unregistered metrics must not panic.
	NewMetrics(nil).EnvelopeColumns.Observe(10)
}
