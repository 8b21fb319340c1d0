package cache

import (
	"context"
	"sync/atomic"
	"time"

	"symcache/internal/logging"
	"symcache/pkg/symcache"
)

// SnapshotRecord is one symbol's persisted counters, the shape Periodic hands
// to a snapshot sink and a metrics sink on every tick (spec §6 "Persisted
// state"). It is defined here, not in internal/snapshot, so that
// internal/cache never has to import internal/snapshot to describe what it
// produces — the architecture guard (§8 property 9) forbids that import
// running the other way.
type SnapshotRecord struct {
	Name        string
	Hits        int64
	Misses      int64
	TotalTimeNs int64
	Frequency   float64
}

// SnapshotSink is the periodic-facing shape of a snapshot backend. Concrete
// stores in internal/snapshot satisfy this structurally; nothing in this
// package names that package.
type SnapshotSink interface {
	Save(ctx context.Context, records []SnapshotRecord) error
}

// MetricsSink is the periodic-facing shape of a metrics recorder. Concrete
// recorders in internal/telemetry satisfy this structurally.
type MetricsSink interface {
	Refresh(records []SnapshotRecord)
}

// PeriodicConfig bundles Periodic's tuning knobs, sourced from
// internal/config.Config at construction time by the caller.
type PeriodicConfig struct {
	TickInterval    time.Duration
	PeakThreshold   float64
	LastResort      time.Duration
	MetricsEveryN   int // refresh MetricsSink every N ticks; 0 disables
	Snapshot        SnapshotSink
	Metrics         MetricsSink
}

// Periodic drives the background tick described in spec §4.6: fold each
// item's raw count into its smoothed frequency, re-run the Resolver when a
// peak is observed, persist the counter snapshot, and periodically refresh
// exported metrics. It owns no scheduling state and never blocks a Run.
type Periodic struct {
	registry *Registry
	plan     *atomic.Pointer[Plan]
	log      logging.Logger
	cfg      PeriodicConfig

	registeredAt map[int32]time.Time
	tickCount    int

	stop chan struct{}
	done chan struct{}
}

// NewPeriodic constructs a Periodic bound to registry and the shared plan
// pointer that Schedule reads from. cfg.Snapshot and cfg.Metrics may be nil
// to disable those side effects.
func NewPeriodic(registry *Registry, plan *atomic.Pointer[Plan], log logging.Logger, cfg PeriodicConfig) *Periodic {
	if log == nil {
		log = logging.NopLogger{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.PeakThreshold <= 0 {
		cfg.PeakThreshold = 3.0
	}
	p := &Periodic{
		registry:     registry,
		plan:         plan,
		log:          log,
		cfg:          cfg,
		registeredAt: make(map[int32]time.Time),
	}
	now := time.Now()
	for _, it := range registry.Items() {
		p.registeredAt[it.ID()] = now
	}
	return p
}

// Run starts the background tick loop and blocks until ctx is cancelled or
// Stop is called. Intended to be run in its own goroutine.
func (p *Periodic) Run(ctx context.Context) {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last).Seconds()
			last = now
			p.tick(ctx, elapsed)
		}
	}
}

// Stop halts a running Run and waits for it to return.
func (p *Periodic) Stop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
}

// tick performs one cycle: frequency smoothing, conditional resolve,
// snapshot persistence, and periodic metrics refresh.
func (p *Periodic) tick(ctx context.Context, elapsedSeconds float64) {
	items := p.registry.Items()
	records := make([]SnapshotRecord, 0, len(items))
	peaked := false
	now := time.Now()

	for _, it := range items {
		suppressPeak := p.withinLastResort(it, now)
		if symcache.UpdateFrequency(it.Stats(), elapsedSeconds, p.cfg.PeakThreshold, suppressPeak) {
			peaked = true
			p.log.Debugf("symcache: peak detected on %q", it.Name())
		}
		snap := it.Stats().Snapshot()
		records = append(records, SnapshotRecord{
			Name:        it.Name(),
			Hits:        snap.Hits,
			Misses:      snap.Misses,
			TotalTimeNs: snap.TotalTimeNs,
			Frequency:   snap.Frequency,
		})
	}

	if peaked {
		plan, diag := p.registry.Resolve(p.log)
		if !diag.OK() {
			p.log.Warnf("symcache: re-resolve after peak produced diagnostics: %+v", diag)
		}
		p.plan.Store(plan)
	}

	if p.cfg.Snapshot != nil {
		if err := p.cfg.Snapshot.Save(ctx, records); err != nil {
			p.log.Warnf("symcache: snapshot save failed: %v", err)
		}
	}

	p.tickCount++
	if p.cfg.Metrics != nil && p.cfg.MetricsEveryN > 0 && p.tickCount%p.cfg.MetricsEveryN == 0 {
		p.cfg.Metrics.Refresh(records)
	}
}

// withinLastResort reports whether less than cfg.LastResort has passed since
// this Periodic was constructed, for an item that was already registered at
// that time; peak detection on such an item is suppressed (spec §9 Open
// Question (c)). Items registered after NewPeriodic are never suppressed.
func (p *Periodic) withinLastResort(it *symcache.Item, now time.Time) bool {
	if p.cfg.LastResort <= 0 {
		return false
	}
	since, ok := p.registeredAt[it.ID()]
	if !ok {
		return false
	}
	return now.Sub(since) < p.cfg.LastResort
}

// Prune disables every item whose stats show no activity at all since
// registration, freeing the resolver from ordering symbols that have never
// fired. It does not remove them from the registry — ids stay stable per
// spec §9 Open Question (a) — it only clears Enabled.
func (p *Periodic) Prune(minAge time.Duration) []string {
	now := time.Now()
	var pruned []string
	for _, it := range p.registry.Items() {
		since, ok := p.registeredAt[it.ID()]
		if !ok || now.Sub(since) < minAge {
			continue
		}
		snap := it.Stats().Snapshot()
		if snap.Hits == 0 && snap.Misses == 0 && snap.Skips == 0 {
			it.SetEnabled(false)
			pruned = append(pruned, it.Name())
		}
	}
	return pruned
}
