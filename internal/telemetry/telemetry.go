// Package telemetry mirrors the host project's dual-recorder pattern
// (ExpvarMetricsRecorder in the teacher) with two MetricsRecorder
// implementations driven exclusively from Stats' atomic snapshot reads
// (spec §4.10). Neither recorder mutates scheduling state.
package telemetry

import (
	"encoding/json"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"symcache/internal/cache"
)

// MetricsRecorder is the shape Periodic's MetricsSink expects; both
// recorders below satisfy it structurally.
type MetricsRecorder interface {
	Refresh(records []cache.SnapshotRecord)
}

var expvarSeq uint64

// ExpvarRecorder publishes a JSON snapshot of every symbol's counters via
// expvar — process-local, dependency-free, used in tests and single-binary
// deployments that don't want a scrape endpoint.
type ExpvarRecorder struct {
	name string
	mu   sync.Mutex
	last []cache.SnapshotRecord
}

// ExpvarSnapshot is the JSON shape published under the recorder's name.
type ExpvarSnapshot struct {
	Records    []cache.SnapshotRecord `json:"records"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// NewExpvarRecorder constructs an expvar-backed recorder published under
// name. When name is empty, a unique identifier is generated.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("symcache_stats_%d", id)
	}
	rec := &ExpvarRecorder{name: name}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarRecorder) Name() string { return r.name }

// Snapshot returns an immutable copy of the last-refreshed records.
func (r *ExpvarRecorder) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]cache.SnapshotRecord, len(r.last))
	copy(out, r.last)
	return ExpvarSnapshot{Records: out, RecordedAt: time.Now().UTC()}
}

// Refresh replaces the published snapshot with records.
func (r *ExpvarRecorder) Refresh(records []cache.SnapshotRecord) {
	r.mu.Lock()
	r.last = append(r.last[:0], records...)
	r.mu.Unlock()
}

// MarshalJSON lets expvar.Func's return value serialize directly.
func (s ExpvarSnapshot) MarshalJSON() ([]byte, error) {
	type alias ExpvarSnapshot
	return json.Marshal(alias(s))
}
