package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"symcache/internal/cache"
)

func TestPrometheusRecorder_RefreshSetsGaugesPerSymbol(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.Refresh([]cache.SnapshotRecord{
		{Name: "alpha", Hits: 5, Misses: 1, Frequency: 2.5},
	})

	if got := testutil.ToFloat64(rec.hits.WithLabelValues("alpha")); got != 5 {
		t.Fatalf("expected symbol_hits_total{alpha}=5, got %v", got)
	}
	if got := testutil.ToFloat64(rec.misses.WithLabelValues("alpha")); got != 1 {
		t.Fatalf("expected symbol_misses_total{alpha}=1, got %v", got)
	}
	if got := testutil.ToFloat64(rec.frequency.WithLabelValues("alpha")); got != 2.5 {
		t.Fatalf("expected symbol_frequency{alpha}=2.5, got %v", got)
	}
	if got := testutil.ToFloat64(rec.refreshes); got != 1 {
		t.Fatalf("expected order_recomputations_total=1, got %v", got)
	}

	rec.Refresh([]cache.SnapshotRecord{{Name: "alpha", Hits: 9}})
	if got := testutil.ToFloat64(rec.refreshes); got != 2 {
		t.Fatalf("expected order_recomputations_total=2 after a second refresh, got %v", got)
	}
}
