// Package cache is the symbol cache engine: Registry, Resolver, Scheduler
// and Periodic (spec §2); the Stats counters live in pkg/symcache. It depends
// only on pkg/symcontract for the external collaborator shapes, pkg/symcache
// for the data model and internal/logging for the Logger seam — never on a
// concrete scripting bridge, snapshot backend, or metrics exporter.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"symcache/internal/logging"
	"symcache/pkg/symcache"
	"symcache/pkg/symcontract"
)

// Cache is the top-level facade spec §6 describes: a registration API that
// is only valid before Finalize, and an execution API that is only valid
// after. The plan is published via atomic pointer swap and snapshotted once
// per Schedule call, so a concurrent Finalize (from Periodic, on a peak) never
// tears a Run's view of the graph (spec §5).
type Cache struct {
	registry  *Registry
	scheduler *Scheduler
	plan      atomic.Pointer[Plan]
	log       logging.Logger
	periodic  *Periodic
}

// New constructs an empty Cache. log may be nil for the no-op default.
func New(log logging.Logger) *Cache {
	if log == nil {
		log = logging.NopLogger{}
	}
	registry := NewRegistry()
	return &Cache{
		registry:  registry,
		scheduler: NewScheduler(registry, log),
		log:       log,
	}
}

// RegisterCallback registers a Callback item. Valid only before Finalize.
func (c *Cache) RegisterCallback(name string, priority int, kind symcache.Kind, flags symcache.Flags, fn symcontract.CallbackFunc, userData any) (*symcache.Item, error) {
	return c.registry.RegisterCallback(name, priority, kind, flags, fn, userData)
}

// RegisterVirtual registers a Virtual alias. Valid only before Finalize.
func (c *Cache) RegisterVirtual(name, parentName string, kind symcache.Kind, flags symcache.Flags) (*symcache.Item, error) {
	return c.registry.RegisterVirtual(name, parentName, kind, flags)
}

// AddDependency records a textual dependency edge, resolved at Finalize.
func (c *Cache) AddDependency(fromName, toName string) error {
	return c.registry.AddDependency(fromName, toName)
}

// SetCondition appends a predicate to name's callback, evaluated before its
// callback runs (spec §4.2). It reports false for an unknown name or a
// Virtual item, which has no callback to gate.
func (c *Cache) SetCondition(name, conditionName string, fn symcontract.ConditionFunc) bool {
	it, ok := c.registry.ByName(name)
	if !ok {
		return false
	}
	return it.AddCondition(conditionName, fn)
}

// SetAllowedIDs, SetForbiddenIDs and SetExecOnlyIDs configure name's
// per-setting admission lists (spec §4.1). Each reports false for an unknown
// name.
func (c *Cache) SetAllowedIDs(name string, ids []int32) bool {
	it, ok := c.registry.ByName(name)
	if !ok {
		return false
	}
	it.SetAllowedIDs(ids)
	return true
}

func (c *Cache) SetForbiddenIDs(name string, ids []int32) bool {
	it, ok := c.registry.ByName(name)
	if !ok {
		return false
	}
	it.SetForbiddenIDs(ids)
	return true
}

func (c *Cache) SetExecOnlyIDs(name string, ids []int32) bool {
	it, ok := c.registry.ByName(name)
	if !ok {
		return false
	}
	it.SetExecOnlyIDs(ids)
	return true
}

// Finalize resolves the dependency graph into an executable plan and
// publishes it. It may be called again later to re-order the same registry
// in place; Periodic runs the same resolve and publish on a measured
// frequency peak.
func (c *Cache) Finalize() FinalizeDiagnostics {
	plan, diag := c.registry.Resolve(c.log)
	c.plan.Store(plan)
	return diag
}

// Schedule snapshots the current plan and starts a new message run against
// it (spec §5, §6). Finalize must have been called at least once.
func (c *Cache) Schedule(ctx context.Context, message any, settingsID int32, hasSettings bool, deadline time.Time, hasDeadline bool) *Run {
	plan := c.plan.Load()
	return c.scheduler.Schedule(ctx, plan, message, settingsID, hasSettings, deadline, hasDeadline)
}

// StartPeriodic constructs and runs a Periodic against this cache's registry
// and plan pointer, returning it so the caller can Stop it and read its
// diagnostics. The caller owns the goroutine lifetime via ctx.
func (c *Cache) StartPeriodic(ctx context.Context, cfg PeriodicConfig) *Periodic {
	c.periodic = NewPeriodic(c.registry, &c.plan, c.log, cfg)
	go c.periodic.Run(ctx)
	return c.periodic
}

// Registry exposes the underlying registry for read-only inspection.
func (c *Cache) Registry() *Registry { return c.registry }
