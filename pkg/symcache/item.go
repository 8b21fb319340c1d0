package symcache

import (
	"context"
	"errors"
	"sync/atomic"

	"symcache/pkg/symcontract"
)

// ErrNotCallback is returned by RunCallback against a Virtual item, which
// has no callback of its own to invoke.
var ErrNotCallback = errors.New("symcache: item has no callback")

// Kind identifies what an item is and, for non-virtual items, which coarse
// stage it executes in.
type Kind int

const (
	ConnFilter Kind = iota
	PreFilter
	Filter
	PostFilter
	Idempotent
	Classifier
	Composite
	Virtual
)

func (k Kind) String() string {
	switch k {
	case ConnFilter:
		return "connfilter"
	case PreFilter:
		return "prefilter"
	case Filter:
		return "filter"
	case PostFilter:
		return "postfilter"
	case Idempotent:
		return "idempotent"
	case Classifier:
		return "classifier"
	case Composite:
		return "composite"
	case Virtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// Stage is the coarse execution partition used for dependency validation and
// scheduling order (spec §3 invariant 5, §4.5).
type Stage int

const (
	StageConn Stage = iota
	StagePre
	StageFilter // Filter, Virtual and Composite all share this stage
	StagePost
	StageIdempotent
	StageClassifier
)

func (s Stage) String() string {
	switch s {
	case StageConn:
		return "conn"
	case StagePre:
		return "pre"
	case StageFilter:
		return "filter"
	case StagePost:
		return "post"
	case StageIdempotent:
		return "idempotent"
	case StageClassifier:
		return "classifier"
	default:
		return "unknown"
	}
}

// stageOf maps a Kind to its coarse stage. Virtual and Composite items
// nominally live in the Filter stage; a Virtual item's effective stage for
// scheduling is actually inherited from its resolved parent (spec §3
// invariant 3), which the Resolver fixes up once the parent is known.
func stageOf(k Kind) Stage {
	switch k {
	case ConnFilter:
		return StageConn
	case PreFilter:
		return StagePre
	case Filter, Virtual, Composite:
		return StageFilter
	case PostFilter:
		return StagePost
	case Idempotent:
		return StageIdempotent
	case Classifier:
		return StageClassifier
	default:
		return StageFilter
	}
}

// Flags is a bitset of opaque item flags, including the well-known Ghost bit.
type Flags uint32

const (
	// FlagGhost suppresses a symbol from results while still allowing its
	// side effects (and stats) to run.
	FlagGhost Flags = 1 << iota
	// FlagFineGrained marks an item whose conditions should be re-evaluated
	// even when a cheaper coarse gate already passed; carried opaquely by
	// the core, interpreted only by the host.
	FlagFineGrained
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Condition pairs a predicate with a diagnostic name.
type Condition struct {
	Name string
	Fn   symcontract.ConditionFunc
}

// callbackSpecific holds the data unique to a Callback item.
type callbackSpecific struct {
	fn         symcontract.CallbackFunc
	userData   any
	conditions []Condition
}

// virtualSpecific holds the data unique to a Virtual item.
type virtualSpecific struct {
	parentName string
	parentID   int32
	parent     *Item // resolved once the graph is frozen
}

// Edge is one dependency edge, stored on both the dependant's Deps and the
// dependency's RDeps.
type Edge struct {
	TargetID      int32
	TargetName    string
	Target        *Item // resolved by the Resolver
	FromID        int32
	FromVirtualID int32 // 0 (invalid) unless the edge was declared on a virtual alias
}

// HasVirtualSource reports whether this edge was declared against a virtual
// alias rather than directly against its resolved target.
func (e Edge) HasVirtualSource() bool { return e.FromVirtualID != 0 }

// ItemStats holds the shared atomic counters for one item. Reads are
// unsynchronized snapshots; the Resolver and Periodic tolerate staleness
// (spec §4.6, §5).
type ItemStats struct {
	hits        atomic.Int64
	misses      atomic.Int64
	skips       atomic.Int64
	totalTimeNs atomic.Int64
	frequency   atomic.Int64 // fixed-point, see stats.go
	peaks       atomic.Int64
	lastCount   atomic.Int64
}

// Snapshot returns a point-in-time, unsynchronized read of the counters.
func (s *ItemStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Skips:       s.skips.Load(),
		TotalTimeNs: s.totalTimeNs.Load(),
		Frequency:   float64(s.frequency.Load()) / frequencyFixedPointScale,
		Peaks:       s.peaks.Load(),
	}
}

// StatsSnapshot is an immutable, unsynchronized read of ItemStats.
type StatsSnapshot struct {
	Hits        int64
	Misses      int64
	Skips       int64
	TotalTimeNs int64
	Frequency   float64
	Peaks       int64
}

// Item is one cache entry: identity, kind, flags, callback or virtual
// parent, conditions, dependency vectors, live stats (spec §3).
type Item struct {
	id       int32
	name     string
	kind     Kind
	stage    Stage
	flags    Flags
	priority int
	order    uint32
	enabled  bool

	callback *callbackSpecific // non-nil iff this is not a Virtual item
	virtual  *virtualSpecific  // non-nil iff this is a Virtual item

	allowedIDs   IdList
	execOnlyIDs  IdList
	forbiddenIDs IdList

	deps  []Edge
	rdeps []Edge

	stats ItemStats
}

// NewCallbackItem constructs a Callback item. Callers (the registry) own id
// assignment.
func NewCallbackItem(id int32, name string, priority int, kind Kind, flags Flags, fn symcontract.CallbackFunc, userData any) *Item {
	return &Item{
		id:       id,
		name:     name,
		kind:     kind,
		stage:    stageOf(kind),
		flags:    flags,
		priority: priority,
		enabled:  true,
		callback: &callbackSpecific{fn: fn, userData: userData},
	}
}

// NewVirtualItem constructs a Virtual item naming its (not yet resolved)
// parent. kind fixes the item's provisional stage until ResolveParent
// overrides it with the parent's actual stage.
func NewVirtualItem(id int32, name, parentName string, kind Kind, flags Flags) *Item {
	return &Item{
		id:      id,
		name:    name,
		kind:    Virtual,
		stage:   stageOf(kind),
		flags:   flags,
		enabled: true,
		virtual: &virtualSpecific{parentName: parentName},
	}
}

// UpgradeVirtualToCallback turns an unbound virtual placeholder (one
// declared with no parent name) into a full Callback item in place,
// preserving its id and any dependency edges already recorded against it.
// It reports false if it is not an unbound virtual.
func (it *Item) UpgradeVirtualToCallback(kind Kind, flags Flags, fn symcontract.CallbackFunc, userData any) bool {
	if it.virtual == nil || it.virtual.parentName != "" {
		return false
	}
	it.kind = kind
	it.stage = stageOf(kind)
	it.flags = flags
	it.virtual = nil
	it.callback = &callbackSpecific{fn: fn, userData: userData}
	it.enabled = true
	return true
}

// ParentName returns the textual parent name a Virtual item was declared
// with, or "" for any non-virtual item or an unbound placeholder.
func (it *Item) ParentName() string {
	if it.virtual == nil {
		return ""
	}
	return it.virtual.parentName
}

// ResolveParent binds a Virtual item to its concrete parent, adopting the
// parent's stage per spec §3 invariant 3. It reports false for a non-virtual
// item.
func (it *Item) ResolveParent(parent *Item) bool {
	if it.virtual == nil {
		return false
	}
	it.virtual.parentID = parent.id
	it.virtual.parent = parent
	it.stage = parent.stage
	return true
}

// SetEnabled flips whether the item participates in scheduling. Used by the
// resolver to disable items caught in a cycle or referencing a missing
// parent.
func (it *Item) SetEnabled(enabled bool) { it.enabled = enabled }

// SetDeps replaces the item's forward dependency edges, used by the
// resolver after dropping cross-stage edges.
func (it *Item) SetDeps(deps []Edge) { it.deps = deps }

// AddDep appends one forward dependency edge.
func (it *Item) AddDep(e Edge) { it.deps = append(it.deps, e) }

// AddRDep appends one reverse dependency edge (an incoming dependant).
func (it *Item) AddRDep(e Edge) { it.rdeps = append(it.rdeps, e) }

// SetOrder records the dense topological rank assigned by the resolver.
func (it *Item) SetOrder(order uint32) { it.order = order }

// Admits applies the item's allowed/forbidden/exec-only lists to a
// message's settings id (spec §4.1).
func (it *Item) Admits(settingsID int32, hasSettings bool) (admitted bool, execOnly bool) {
	return it.admits(settingsID, hasSettings)
}

// FrequencyRaw returns the fixed-point smoothed-frequency counter directly,
// avoiding a float conversion on the resolver's ordering hot path.
func (s *ItemStats) FrequencyRaw() int64 { return s.frequency.Load() }

// ID returns the item's stable, densely assigned integer id.
func (it *Item) ID() int32 { return it.id }

// Name returns the item's unique, case-sensitive name.
func (it *Item) Name() string { return it.name }

// Kind returns the effective kind for scheduling purposes: a Virtual item
// reports its resolved parent's kind once the graph is frozen (spec §3
// invariant 3), and its own Virtual kind beforehand.
func (it *Item) Kind() Kind {
	if it.virtual != nil && it.virtual.parent != nil {
		return it.virtual.parent.kind
	}
	return it.kind
}

// Stage returns the coarse execution stage the item was assigned to, fixed
// up to the parent's stage for a resolved Virtual item.
func (it *Item) Stage() Stage {
	if it.virtual != nil && it.virtual.parent != nil {
		return it.virtual.parent.stage
	}
	return it.stage
}

// Flags returns the item's own flags (never inherited from a parent).
func (it *Item) Flags() Flags { return it.flags }

// Priority returns the signed scheduling priority; higher runs first.
func (it *Item) Priority() int { return it.priority }

// Order returns the topological rank assigned by the most recent resolve.
func (it *Item) Order() uint32 { return it.order }

// Enabled reports whether the item currently participates in scheduling.
func (it *Item) Enabled() bool { return it.enabled }

// IsVirtual reports whether this item is an alias with no callback of its own.
func (it *Item) IsVirtual() bool { return it.virtual != nil }

// IsFilter reports whether this is a non-virtual Filter-kind item.
func (it *Item) IsFilter() bool { return it.callback != nil && it.kind == Filter }

// IsScoreable reports whether a symbol of this item should carry a score.
func (it *Item) IsScoreable() bool {
	return it.kind == Filter || it.IsVirtual() || it.kind == Composite || it.kind == Classifier
}

// IsGhost reports whether the Ghost flag suppresses this item from results.
func (it *Item) IsGhost() bool { return it.flags.Has(FlagGhost) }

// GetParent returns the resolved parent of a Virtual item, or nil if this
// item is not virtual or the parent has not been resolved yet.
func (it *Item) GetParent() *Item {
	if it.virtual == nil {
		return nil
	}
	return it.virtual.parent
}

// Deps returns the item's forward dependency edges.
func (it *Item) Deps() []Edge { return it.deps }

// RDeps returns the item's reverse dependency edges (who depends on it).
func (it *Item) RDeps() []Edge { return it.rdeps }

// Stats returns the item's live, shared statistics.
func (it *Item) Stats() *ItemStats { return &it.stats }

// AddCondition appends a predicate to evaluate, in registration order,
// before the callback. Conditions are evaluated left to right; the first
// one returning Skip records the item as skipped rather than missed (spec
// §4.2). Rejected on a Virtual item, which has no callback to gate.
func (it *Item) AddCondition(name string, fn symcontract.ConditionFunc) bool {
	if it.callback == nil {
		return false
	}
	it.callback.conditions = append(it.callback.conditions, Condition{Name: name, Fn: fn})
	return true
}

// Conditions exposes the ordered predicate list to the scheduler.
func (it *Item) Conditions() []Condition {
	if it.callback == nil {
		return nil
	}
	return it.callback.conditions
}

// RunCallback invokes the item's callback, or ErrNotCallback for a Virtual
// item. The scheduler is the only intended caller.
func (it *Item) RunCallback(ctx context.Context, message any, handle symcontract.AsyncHandle) (symcontract.CallbackResult, error) {
	if it.callback == nil {
		return symcontract.CallbackResult{}, ErrNotCallback
	}
	return it.callback.fn(ctx, message, it.id, it.callback.userData, handle)
}

// IncFrequency records one raw hit for frequency smoothing purposes,
// independent of the hit/miss outcome counters (spec §4.2 inc_frequency).
func (it *Item) IncFrequency() {
	it.stats.lastCount.Add(1)
}

// SetAllowedIDs replaces the allow-list controlling per-setting admission.
func (it *Item) SetAllowedIDs(ids []int32) {
	it.allowedIDs.Reset()
	for _, id := range ids {
		it.allowedIDs.Insert(id)
	}
}

// SetForbiddenIDs replaces the deny-list controlling per-setting admission.
func (it *Item) SetForbiddenIDs(ids []int32) {
	it.forbiddenIDs.Reset()
	for _, id := range ids {
		it.forbiddenIDs.Insert(id)
	}
}

// SetExecOnlyIDs replaces the exec-only list: the callback still runs for
// side effects, but the produced symbol is suppressed from results.
func (it *Item) SetExecOnlyIDs(ids []int32) {
	it.execOnlyIDs.Reset()
	for _, id := range ids {
		it.execOnlyIDs.Insert(id)
	}
}

// admits applies the allowed/forbidden/exec-only semantics from spec §4.1:
// forbidden beats exec-only beats allowed. execOnly reports whether, given
// settingsID is admitted, the produced symbol must still be suppressed.
func (it *Item) admits(settingsID int32, hasSettings bool) (admitted bool, execOnly bool) {
	if !hasSettings {
		return true, false
	}
	if !it.forbiddenIDs.Empty() && it.forbiddenIDs.Contains(settingsID) {
		return false, false
	}
	if !it.allowedIDs.Empty() && !it.allowedIDs.Contains(settingsID) {
		return false, false
	}
	execOnly = !it.execOnlyIDs.Empty() && it.execOnlyIDs.Contains(settingsID)
	return true, execOnly
}
