package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"symcache/internal/cache"
)

// PrometheusRecorder exposes a GaugeVec per counter, one series per symbol
// name, registered against a caller-supplied Registerer so the host controls
// the /metrics endpoint (spec §4.10).
type PrometheusRecorder struct {
	hits      *prometheus.GaugeVec
	misses    *prometheus.GaugeVec
	frequency *prometheus.GaugeVec
	refreshes prometheus.Counter
}

// NewPrometheusRecorder constructs and registers the recorder's metrics
// against reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		hits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "symcache",
			Name:      "symbol_hits_total",
			Help:      "Hit count per symbol, as of the last snapshot tick.",
		}, []string{"symbol"}),
		misses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "symcache",
			Name:      "symbol_misses_total",
			Help:      "Miss count per symbol, as of the last snapshot tick.",
		}, []string{"symbol"}),
		frequency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "symcache",
			Name:      "symbol_frequency",
			Help:      "Smoothed per-second frequency per symbol.",
		}, []string{"symbol"}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symcache",
			Name:      "order_recomputations_total",
			Help:      "Count of metrics refreshes driven by the periodic tick.",
		}),
	}
	reg.MustRegister(r.hits, r.misses, r.frequency, r.refreshes)
	return r
}

// Refresh sets every gauge series from records and increments the refresh
// counter once per call; Periodic calls it every MetricsEveryN ticks.
func (r *PrometheusRecorder) Refresh(records []cache.SnapshotRecord) {
	for _, rec := range records {
		r.hits.WithLabelValues(rec.Name).Set(float64(rec.Hits))
		r.misses.WithLabelValues(rec.Name).Set(float64(rec.Misses))
		r.frequency.WithLabelValues(rec.Name).Set(rec.Frequency)
	}
	r.refreshes.Inc()
}
