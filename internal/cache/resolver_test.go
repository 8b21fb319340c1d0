package cache

import (
	"testing"

	"symcache/internal/logging"
	"symcache/pkg/symcache"
)

// TestResolve_PriorityOrdersWithinStage is spec §8 scenario 1: A(Filter,
// prio 10), B(Filter, prio 0), edge B->A. Expect order(A)=0, order(B)=1,
// dispatch order A, B.
func TestResolve_PriorityOrdersWithinStage(t *testing.T) {
	r := NewRegistry()
	a, _ := r.RegisterCallback("A", 10, symcache.Filter, 0, noopCallback, nil)
	b, _ := r.RegisterCallback("B", 0, symcache.Filter, 0, noopCallback, nil)
	if err := r.AddDependency("B", "A"); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	plan, diag := r.Resolve(logging.NopLogger{})
	if !diag.OK() {
		t.Fatalf("expected no diagnostics, got %+v", diag)
	}

	order := plan.StageOrder(symcache.StageFilter)
	if len(order) != 2 || order[0] != a.ID() || order[1] != b.ID() {
		t.Fatalf("expected dispatch order [A,B], got %v", order)
	}
	if a.Order() != 0 || b.Order() != 1 {
		t.Fatalf("expected order(A)=0, order(B)=1, got %d,%d", a.Order(), b.Order())
	}
}

// TestResolve_CrossStageEdgeRejected is spec §8 scenario 2: A(PreFilter),
// B(Filter), edge A->B. Finalize fails with CrossStageEdge(A,B); the edge is
// dropped rather than aborting the whole resolve (spec §7 policy).
func TestResolve_CrossStageEdgeRejected(t *testing.T) {
	r := NewRegistry()
	a, _ := r.RegisterCallback("A", 0, symcache.PreFilter, 0, noopCallback, nil)
	r.RegisterCallback("B", 0, symcache.Filter, 0, noopCallback, nil)
	if err := r.AddDependency("A", "B"); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	_, diag := r.Resolve(logging.NopLogger{})
	if len(diag.CrossStageEdges) != 1 {
		t.Fatalf("expected 1 cross-stage diagnostic, got %d", len(diag.CrossStageEdges))
	}
	if got := diag.CrossStageEdges[0]; got.From != "A" || got.To != "B" {
		t.Fatalf("expected CrossStageEdge(A,B), got %+v", got)
	}
	if len(a.Deps()) != 0 {
		t.Fatalf("expected the cross-stage edge to be dropped, got %v", a.Deps())
	}
}

// TestResolve_CycleDisablesLowestPriorityHighestID is spec §8 scenario 3:
// A, B, C all Filter with edges A->B->C->A, all at the same priority.
// Finalize disables the highest-id tied member (C) and succeeds; order is
// defined on {A,B}.
func TestResolve_CycleDisablesLowestPriorityHighestID(t *testing.T) {
	r := NewRegistry()
	a, _ := r.RegisterCallback("A", 0, symcache.Filter, 0, noopCallback, nil)
	b, _ := r.RegisterCallback("B", 0, symcache.Filter, 0, noopCallback, nil)
	c, _ := r.RegisterCallback("C", 0, symcache.Filter, 0, noopCallback, nil)
	if err := r.AddDependency("A", "B"); err != nil {
		t.Fatalf("A->B: %v", err)
	}
	if err := r.AddDependency("B", "C"); err != nil {
		t.Fatalf("B->C: %v", err)
	}
	if err := r.AddDependency("C", "A"); err != nil {
		t.Fatalf("C->A: %v", err)
	}

	plan, diag := r.Resolve(logging.NopLogger{})
	if len(diag.Cycles) == 0 {
		t.Fatal("expected a cycle diagnostic")
	}
	if c.Enabled() {
		t.Fatal("expected C (highest id among equal-priority cycle members) to be disabled")
	}
	if !a.Enabled() || !b.Enabled() {
		t.Fatal("expected A and B to remain enabled")
	}

	order := plan.StageOrder(symcache.StageFilter)
	if len(order) != 2 {
		t.Fatalf("expected order defined on {A,B} only, got %v", order)
	}
}

// TestResolve_VirtualBoundToParentStage verifies spec §3 invariant 3: a
// Virtual item adopts its resolved parent's stage, and a dependency on the
// virtual is rewritten to target the parent while preserving the virtual's
// id for alias-specific satisfaction.
func TestResolve_VirtualBoundToParentStage(t *testing.T) {
	r := NewRegistry()
	p, _ := r.RegisterCallback("P", 0, symcache.Filter, 0, noopCallback, nil)
	v, _ := r.RegisterVirtual("V", "P", symcache.Filter, 0)
	d, _ := r.RegisterCallback("D", 0, symcache.Filter, 0, noopCallback, nil)
	if err := r.AddDependency("D", "V"); err != nil {
		t.Fatalf("D->V: %v", err)
	}

	_, diag := r.Resolve(logging.NopLogger{})
	if !diag.OK() {
		t.Fatalf("expected no diagnostics, got %+v", diag)
	}

	if v.Stage() != p.Stage() {
		t.Fatalf("expected virtual to adopt parent stage")
	}
	deps := d.Deps()
	if len(deps) != 1 {
		t.Fatalf("expected 1 dependency on D, got %d", len(deps))
	}
	if deps[0].TargetID != p.ID() {
		t.Fatalf("expected the edge to be rewritten to the parent, got target %d want %d", deps[0].TargetID, p.ID())
	}
	if deps[0].FromVirtualID != v.ID() {
		t.Fatalf("expected FromVirtualID to preserve the virtual's id, got %d want %d", deps[0].FromVirtualID, v.ID())
	}
}

func TestResolve_UnknownParentDisablesVirtual(t *testing.T) {
	r := NewRegistry()
	v, _ := r.RegisterVirtual("orphan", "nobody", symcache.Filter, 0)

	_, diag := r.Resolve(logging.NopLogger{})
	if len(diag.UnknownParents) != 1 {
		t.Fatalf("expected 1 unknown-parent diagnostic, got %d", len(diag.UnknownParents))
	}
	if v.Enabled() {
		t.Fatal("expected orphaned virtual to be disabled")
	}
}
