package cache

import (
	"context"
	"testing"

	"symcache/pkg/symcache"
	"symcache/pkg/symcontract"
)

func noopCallback(_ context.Context, _ any, _ int32, _ any, _ symcontract.AsyncHandle) (symcontract.CallbackResult, error) {
	return symcontract.CallbackResult{}, nil
}

func TestRegistry_RegisterCallbackAssignsDenseIDs(t *testing.T) {
	r := NewRegistry()
	a, err := r.RegisterCallback("a", 0, symcache.Filter, 0, noopCallback, nil)
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	b, err := r.RegisterCallback("b", 0, symcache.Filter, 0, noopCallback, nil)
	if err != nil {
		t.Fatalf("register b: %v", err)
	}
	if a.ID() != 0 || b.ID() != 1 {
		t.Fatalf("expected dense ids 0,1, got %d,%d", a.ID(), b.ID())
	}
	if got, ok := r.ByName("a"); !ok || got != a {
		t.Fatal("expected ByName to find a")
	}
	if got, ok := r.ByID(1); !ok || got != b {
		t.Fatal("expected ByID to find b")
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	if _, err := r.RegisterCallback("a", 0, symcache.Filter, 0, noopCallback, nil); err != nil {
		t.Fatalf("register a: %v", err)
	}
	_, err := r.RegisterCallback("a", 0, symcache.Filter, 0, noopCallback, nil)
	if _, ok := err.(ErrDuplicateName); !ok {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestRegistry_VirtualUpgradeToCallback(t *testing.T) {
	r := NewRegistry()
	v, err := r.RegisterVirtual("deferred", "", symcache.Filter, 0)
	if err != nil {
		t.Fatalf("register virtual: %v", err)
	}
	upgraded, err := r.RegisterCallback("deferred", 5, symcache.Filter, 0, noopCallback, nil)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if upgraded != v {
		t.Fatal("expected the same item to be upgraded in place")
	}
	if upgraded.IsVirtual() {
		t.Fatal("expected item to no longer be virtual after upgrade")
	}
	if upgraded.Priority() != 5 {
		t.Fatalf("expected priority 5 after upgrade, got %d", upgraded.Priority())
	}
}

func TestRegistry_VirtualReDeclarationIsIdempotent(t *testing.T) {
	r := NewRegistry()
	if _, err := r.RegisterCallback("parent", 0, symcache.Filter, 0, noopCallback, nil); err != nil {
		t.Fatalf("register parent: %v", err)
	}
	v1, err := r.RegisterVirtual("alias", "parent", symcache.Filter, 0)
	if err != nil {
		t.Fatalf("register alias: %v", err)
	}
	v2, err := r.RegisterVirtual("alias", "parent", symcache.Filter, 0)
	if err != nil {
		t.Fatalf("re-register alias: %v", err)
	}
	if v1 != v2 {
		t.Fatal("expected idempotent re-declaration to return the same item")
	}
}

func TestRegistry_AddDependencyUnknownFromNameFails(t *testing.T) {
	r := NewRegistry()
	if err := r.AddDependency("ghost", "also-ghost"); err == nil {
		t.Fatal("expected error for unknown from-name")
	}
}
