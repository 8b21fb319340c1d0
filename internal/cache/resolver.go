package cache

import (
	"container/heap"
	"sort"

	"symcache/internal/logging"
	"symcache/pkg/symcache"
)

// executionOrder is the fixed sequence stages run in for a message (spec
// §4.5). It is distinct from the coarse partition set used for cross-stage
// edge validation: Classifier runs before PostFilter/Idempotent here even
// though it sorts last in the partition table.
var executionOrder = []symcache.Stage{
	symcache.StageConn,
	symcache.StagePre,
	symcache.StageFilter,
	symcache.StageClassifier,
	symcache.StagePost,
	symcache.StageIdempotent,
}

// allStages lists every partition, used where iteration order does not
// matter (cycle breaking, per-stage indexing).
var allStages = []symcache.Stage{
	symcache.StageConn,
	symcache.StagePre,
	symcache.StageFilter,
	symcache.StagePost,
	symcache.StageIdempotent,
	symcache.StageClassifier,
}

// Plan is the Resolver's immutable output: a per-stage ordered id list plus,
// for each item, the ids of items that depend on it (a copy of RDeps),
// published via an atomic pointer swap and snapshotted once per message
// (spec §4.4 step 6, §5).
type Plan struct {
	stageOrder map[symcache.Stage][]int32
	awaitedBy  map[int32][]int32
}

// StageOrder returns the ordered item ids scheduled to run in stage s.
func (p *Plan) StageOrder(s symcache.Stage) []int32 { return p.stageOrder[s] }

// AwaitedBy returns the ids of items whose Waiting→Ready transition depends
// on id having reached a terminal state.
func (p *Plan) AwaitedBy(id int32) []int32 { return p.awaitedBy[id] }

// Resolve runs the single-phase algorithm from spec §4.4: bind virtuals,
// resolve textual dependencies (rewriting virtual targets to their parent),
// reject cross-stage edges, break cycles, and compute a dense per-stage
// topological order. It is pure with respect to per-message state and safe
// to call again after registration (e.g. on a frequency-peak trigger).
func (r *Registry) Resolve(log logging.Logger) (*Plan, FinalizeDiagnostics) {
	if log == nil {
		log = logging.NopLogger{}
	}
	var diag FinalizeDiagnostics

	r.bindVirtuals(&diag, log)
	r.resolveTextualDeps(&diag, log)
	r.checkStages(&diag, log)
	r.breakCycles(&diag, log)

	plan := &Plan{
		stageOrder: make(map[symcache.Stage][]int32),
		awaitedBy:  make(map[int32][]int32),
	}
	for _, it := range r.byID {
		plan.awaitedBy[it.ID()] = rdepIDs(it)
	}
	for _, stage := range executionOrder {
		plan.stageOrder[stage] = r.topoSortStage(stage)
	}
	return plan, diag
}

func rdepIDs(it *symcache.Item) []int32 {
	ids := make([]int32, 0, len(it.RDeps()))
	for _, e := range it.RDeps() {
		ids = append(ids, e.TargetID)
	}
	return ids
}

// bindVirtuals resolves each Virtual item's parent reference and adopts the
// parent's stage. A Virtual whose parent is missing is disabled and
// diagnosed but does not abort resolution (spec §4.4 step 1).
func (r *Registry) bindVirtuals(diag *FinalizeDiagnostics, log logging.Logger) {
	for _, it := range r.byID {
		if !it.IsVirtual() || it.ParentName() == "" {
			continue
		}
		parent, ok := r.byName[it.ParentName()]
		if !ok || parent.IsVirtual() {
			it.SetEnabled(false)
			diag.UnknownParents = append(diag.UnknownParents, ErrUnknownParent{Name: it.Name(), Parent: it.ParentName()})
			log.Warnf("symcache: virtual %q parent %q missing or not a callback, disabling", it.Name(), it.ParentName())
			continue
		}
		it.ResolveParent(parent)
	}
}

// resolveTextualDeps turns the registry's pending name-based edges into
// concrete Edge structs on both sides of the relationship, rewriting a
// virtual target to its parent while preserving the original virtual id so
// the scheduler can still gate on the specific alias (spec §4.4 step 2).
func (r *Registry) resolveTextualDeps(diag *FinalizeDiagnostics, log logging.Logger) {
	for _, pe := range r.pending {
		from, ok := r.ByID(pe.fromID)
		if !ok {
			continue
		}
		target, ok := r.byName[pe.toName]
		if !ok {
			diag.UnknownDependencies = append(diag.UnknownDependencies, ErrUnknownDependency{From: from.Name(), To: pe.toName})
			log.Warnf("symcache: %q depends on unknown symbol %q", from.Name(), pe.toName)
			continue
		}

		var fromVirtualID int32
		realTarget := target
		if target.IsVirtual() {
			fromVirtualID = target.ID()
			parent := target.GetParent()
			if parent == nil {
				// Parent never resolved (already diagnosed by bindVirtuals);
				// skip wiring this edge.
				continue
			}
			realTarget = parent
		}

		fwd := symcache.Edge{TargetID: realTarget.ID(), TargetName: realTarget.Name(), Target: realTarget, FromID: from.ID(), FromVirtualID: fromVirtualID}
		from.AddDep(fwd)

		rev := symcache.Edge{TargetID: from.ID(), TargetName: from.Name(), Target: from, FromID: realTarget.ID(), FromVirtualID: fromVirtualID}
		realTarget.AddRDep(rev)
	}
}

// checkStages rejects any edge crossing the coarse stage partition,
// disabling the offending dependant (spec §3 invariant 5, §4.4 step 3).
func (r *Registry) checkStages(diag *FinalizeDiagnostics, log logging.Logger) {
	for _, it := range r.byID {
		if !it.Enabled() {
			continue
		}
		var kept []symcache.Edge
		for _, e := range it.Deps() {
			if it.Stage() != e.Target.Stage() {
				diag.CrossStageEdges = append(diag.CrossStageEdges, ErrCrossStageEdge{
					From: it.Name(), To: e.TargetName, FromStage: it.Stage(), ToStage: e.Target.Stage(),
				})
				log.Warnf("symcache: cross-stage edge %q(%s) -> %q(%s), dropping", it.Name(), it.Stage(), e.TargetName, e.Target.Stage())
				it.SetEnabled(false)
				continue
			}
			kept = append(kept, e)
		}
		it.SetDeps(kept)
	}
}

// breakCycles performs a per-stage DFS looking for back-edges among enabled
// items; each time one is found it disables the lowest-priority member of
// the discovered cycle (ties broken by highest id) and restarts the scan for
// that stage, per spec §4.4 step 4. Iteration is bounded by item count so a
// pathological graph cannot loop forever.
func (r *Registry) breakCycles(diag *FinalizeDiagnostics, log logging.Logger) {
	for _, stage := range allStages {
		for pass := 0; pass < len(r.byID)+1; pass++ {
			cycle := findCycle(r.itemsInStage(stage))
			if cycle == nil {
				break
			}
			victim := lowestPriorityHighestID(cycle)
			victim.SetEnabled(false)
			names := make([]string, 0, len(cycle))
			for _, it := range cycle {
				names = append(names, it.Name())
			}
			diag.Cycles = append(diag.Cycles, ErrCycle{Disabled: []string{victim.Name()}})
			log.Warnf("symcache: cycle detected among %v in stage %s, disabling %q", names, stage, victim.Name())
		}
	}
}

func (r *Registry) itemsInStage(stage symcache.Stage) []*symcache.Item {
	out := make([]*symcache.Item, 0)
	for _, it := range r.byID {
		if it.Enabled() && it.Stage() == stage {
			out = append(out, it)
		}
	}
	return out
}

// findCycle runs a colored DFS over the given items (restricted to edges
// pointing within the same set) and returns the members of the first cycle
// found, or nil if the subgraph is acyclic.
func findCycle(items []*symcache.Item) []*symcache.Item {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	inSet := make(map[int32]*symcache.Item, len(items))
	for _, it := range items {
		inSet[it.ID()] = it
	}
	color := make(map[int32]int, len(items))
	stack := make([]*symcache.Item, 0, len(items))

	var visit func(it *symcache.Item) []*symcache.Item
	visit = func(it *symcache.Item) []*symcache.Item {
		color[it.ID()] = gray
		stack = append(stack, it)
		for _, e := range it.Deps() {
			dep, ok := inSet[e.TargetID]
			if !ok {
				continue
			}
			switch color[dep.ID()] {
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			case gray:
				// Found a back-edge to dep; the cycle is the suffix of
				// stack starting at dep.
				for i, s := range stack {
					if s.ID() == dep.ID() {
						cyc := make([]*symcache.Item, len(stack)-i)
						copy(cyc, stack[i:])
						return cyc
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[it.ID()] = black
		return nil
	}

	for _, it := range items {
		if color[it.ID()] == white {
			if cyc := visit(it); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

func lowestPriorityHighestID(items []*symcache.Item) *symcache.Item {
	victim := items[0]
	for _, it := range items[1:] {
		if it.Priority() < victim.Priority() || (it.Priority() == victim.Priority() && it.ID() > victim.ID()) {
			victim = it
		}
	}
	return victim
}

// orderQueueEntry is one candidate in the Kahn's-algorithm ready set.
type orderQueueEntry struct {
	item      *symcache.Item
	frequency int64
}

// orderQueue is a priority queue keyed by (-priority, -frequency, id) so
// that higher priority and hotter symbols emerge first among items
// currently free of unsatisfied dependencies (spec §4.4 step 5).
type orderQueue []orderQueueEntry

func (q orderQueue) Len() int { return len(q) }
func (q orderQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.item.Priority() != b.item.Priority() {
		return a.item.Priority() > b.item.Priority()
	}
	if a.frequency != b.frequency {
		return a.frequency > b.frequency
	}
	return a.item.ID() < b.item.ID()
}
func (q orderQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *orderQueue) Push(x any)   { *q = append(*q, x.(orderQueueEntry)) }
func (q *orderQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// topoSortStage runs Kahn's algorithm over the enabled items of one stage
// and assigns each item's dense Order within that stage.
func (r *Registry) topoSortStage(stage symcache.Stage) []int32 {
	items := r.itemsInStage(stage)
	if len(items) == 0 {
		return nil
	}
	inSet := make(map[int32]*symcache.Item, len(items))
	indegree := make(map[int32]int, len(items))
	for _, it := range items {
		inSet[it.ID()] = it
		indegree[it.ID()] = 0
	}
	for _, it := range items {
		for _, e := range it.Deps() {
			if _, ok := inSet[e.TargetID]; ok {
				indegree[it.ID()]++
			}
		}
	}

	pq := make(orderQueue, 0, len(items))
	for _, it := range items {
		if indegree[it.ID()] == 0 {
			pq = append(pq, orderQueueEntry{item: it, frequency: it.Stats().FrequencyRaw()})
		}
	}
	heap.Init(&pq)

	order := make([]int32, 0, len(items))
	var rank uint32
	for pq.Len() > 0 {
		entry := heap.Pop(&pq).(orderQueueEntry)
		it := entry.item
		it.SetOrder(rank)
		rank++
		order = append(order, it.ID())
		for _, e := range it.RDeps() {
			dependant, ok := inSet[e.TargetID]
			if !ok {
				continue
			}
			indegree[dependant.ID()]--
			if indegree[dependant.ID()] == 0 {
				heap.Push(&pq, orderQueueEntry{item: dependant, frequency: dependant.Stats().FrequencyRaw()})
			}
		}
	}

	// Items left with nonzero indegree indicate a residual cycle that
	// breakCycles failed to fully sever (e.g. reintroduced by a concurrent
	// registration); append them in id order rather than dropping them
	// silently so they still get scheduled, just without ordering
	// guarantees against their remaining unresolved dependency.
	if len(order) < len(items) {
		var leftover []*symcache.Item
		for _, it := range items {
			if indegree[it.ID()] > 0 {
				leftover = append(leftover, it)
			}
		}
		sort.Slice(leftover, func(i, j int) bool { return leftover[i].ID() < leftover[j].ID() })
		for _, it := range leftover {
			it.SetOrder(rank)
			rank++
			order = append(order, it.ID())
		}
	}
	return order
}
