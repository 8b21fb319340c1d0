package symcache

import "testing"

func TestIdList_EmptyByDefault(t *testing.T) {
	var l IdList
	if !l.Empty() {
		t.Fatal("expected fresh IdList to be empty")
	}
	if l.Contains(1) {
		t.Fatal("expected fresh IdList to contain nothing")
	}
}

func TestIdList_InlineAndOverflow(t *testing.T) {
	var l IdList
	ids := []int32{5, 1, 9, 3, 7, 2, 8}
	for _, id := range ids {
		l.Insert(id)
	}
	if l.Empty() {
		t.Fatal("expected non-empty IdList")
	}
	if l.Len() != len(ids) {
		t.Fatalf("expected %d ids, got %d", len(ids), l.Len())
	}
	for _, id := range ids {
		if !l.Contains(id) {
			t.Errorf("expected IdList to contain %d", id)
		}
	}
	if l.Contains(100) {
		t.Error("expected IdList not to contain 100")
	}
}

func TestIdList_InsertIsIdempotent(t *testing.T) {
	var l IdList
	l.Insert(4)
	l.Insert(4)
	l.Insert(4)
	if l.Len() != 1 {
		t.Fatalf("expected 1 id after duplicate inserts, got %d", l.Len())
	}
}

func TestIdList_Reset(t *testing.T) {
	var l IdList
	l.Insert(1)
	l.Insert(2)
	l.Reset()
	if !l.Empty() {
		t.Fatal("expected IdList to be empty after Reset")
	}
	if l.Contains(1) {
		t.Fatal("expected Reset to clear membership")
	}
}
