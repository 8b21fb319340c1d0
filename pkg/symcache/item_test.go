package symcache

import (
	"context"
	"testing"

	"symcache/pkg/symcontract"
)

func stubCallback(matched bool) symcontract.CallbackFunc {
	return func(_ context.Context, _ any, _ int32, _ any, _ symcontract.AsyncHandle) (symcontract.CallbackResult, error) {
		return symcontract.CallbackResult{Matched: matched}, nil
	}
}

func TestItem_RunCallback(t *testing.T) {
	it := NewCallbackItem(1, "alpha", 10, Filter, 0, stubCallback(true), nil)
	res, err := it.RunCallback(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Matched {
		t.Fatal("expected matched result")
	}
}

func TestItem_RunCallbackOnVirtualFails(t *testing.T) {
	it := NewVirtualItem(1, "v", "parent", Filter, 0)
	if _, err := it.RunCallback(context.Background(), nil, nil); err != ErrNotCallback {
		t.Fatalf("expected ErrNotCallback, got %v", err)
	}
}

func TestItem_UpgradeVirtualToCallback(t *testing.T) {
	it := NewVirtualItem(1, "pending", "", Filter, 0)
	if !it.IsVirtual() {
		t.Fatal("expected freshly constructed virtual to report IsVirtual")
	}
	ok := it.UpgradeVirtualToCallback(Filter, 0, stubCallback(true), nil)
	if !ok {
		t.Fatal("expected upgrade of unbound virtual to succeed")
	}
	if it.IsVirtual() {
		t.Fatal("expected item to no longer be virtual after upgrade")
	}
	if it.ID() != 1 {
		t.Fatalf("expected id to be preserved, got %d", it.ID())
	}
}

func TestItem_UpgradeVirtualWithParentFails(t *testing.T) {
	it := NewVirtualItem(1, "v", "parent", Filter, 0)
	if it.UpgradeVirtualToCallback(Filter, 0, stubCallback(true), nil) {
		t.Fatal("expected upgrade of a bound virtual alias to fail")
	}
}

func TestItem_AddConditionRejectedOnVirtual(t *testing.T) {
	it := NewVirtualItem(1, "v", "parent", Filter, 0)
	if it.AddCondition("always-pass", func(context.Context, any, int32) symcontract.Verdict {
		return symcontract.Pass
	}) {
		t.Fatal("expected AddCondition to fail on a virtual item")
	}
}

func TestItem_Admits(t *testing.T) {
	it := NewCallbackItem(1, "x", 0, Filter, 0, stubCallback(true), nil)
	it.SetAllowedIDs([]int32{7})
	it.SetForbiddenIDs([]int32{9})
	it.SetExecOnlyIDs([]int32{7})

	cases := []struct {
		settingsID   int32
		hasSettings  bool
		wantAdmit    bool
		wantExecOnly bool
	}{
		{settingsID: 5, hasSettings: true, wantAdmit: false},
		{settingsID: 7, hasSettings: true, wantAdmit: true, wantExecOnly: true},
		{settingsID: 9, hasSettings: true, wantAdmit: false},
		{settingsID: 123, hasSettings: false, wantAdmit: true},
	}
	for _, c := range cases {
		admitted, execOnly := it.Admits(c.settingsID, c.hasSettings)
		if admitted != c.wantAdmit || execOnly != c.wantExecOnly {
			t.Errorf("Admits(%d, %v) = (%v, %v), want (%v, %v)",
				c.settingsID, c.hasSettings, admitted, execOnly, c.wantAdmit, c.wantExecOnly)
		}
	}
}

func TestItem_ResolveParentAdoptsStage(t *testing.T) {
	parent := NewCallbackItem(1, "p", 0, PreFilter, 0, stubCallback(true), nil)
	child := NewVirtualItem(2, "v", "p", Filter, 0)
	if child.Stage() == parent.Stage() {
		t.Fatal("expected virtual to start in its own provisional stage")
	}
	if !child.ResolveParent(parent) {
		t.Fatal("expected ResolveParent to succeed")
	}
	if child.Stage() != parent.Stage() {
		t.Fatalf("expected child to adopt parent's stage, got %v want %v", child.Stage(), parent.Stage())
	}
	if child.GetParent() != parent {
		t.Fatal("expected GetParent to return the resolved parent")
	}
}

func TestItemStats_RecordAndSnapshot(t *testing.T) {
	it := NewCallbackItem(1, "x", 0, Filter, 0, stubCallback(true), nil)
	RecordHit(it, 100)
	RecordHit(it, 200)
	RecordMiss(it, 50)
	RecordSkip(it)

	snap := it.Stats().Snapshot()
	if snap.Hits != 2 {
		t.Errorf("expected 2 hits, got %d", snap.Hits)
	}
	if snap.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", snap.Misses)
	}
	if snap.Skips != 1 {
		t.Errorf("expected 1 skip, got %d", snap.Skips)
	}
	if snap.TotalTimeNs != 350 {
		t.Errorf("expected total time 350ns, got %d", snap.TotalTimeNs)
	}
	total := snap.Hits + snap.Misses + snap.Skips
	if total != 4 {
		t.Errorf("expected hits+misses+skips == evaluations (4), got %d", total)
	}
}
