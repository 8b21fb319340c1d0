package cache

import (
	"context"
	"testing"
	"time"

	"symcache/pkg/symcache"
)

// TestCache_EndToEnd exercises the facade's full lifecycle: register,
// Finalize, Schedule, Poll, mirroring how a real host would drive it.
func TestCache_EndToEnd(t *testing.T) {
	c := New(nil)
	if _, err := c.RegisterCallback("parse", 10, symcache.Filter, 0, matchingCallback(""), nil); err != nil {
		t.Fatalf("register parse: %v", err)
	}
	if _, err := c.RegisterCallback("score", 0, symcache.Filter, 0, matchingCallback(""), nil); err != nil {
		t.Fatalf("register score: %v", err)
	}
	if err := c.AddDependency("score", "parse"); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	if !c.SetAllowedIDs("score", []int32{1, 2, 3}) {
		t.Fatal("expected SetAllowedIDs on a known name to succeed")
	}
	if c.SetAllowedIDs("ghost", []int32{1}) {
		t.Fatal("expected SetAllowedIDs on an unknown name to fail")
	}

	diag := c.Finalize()
	if !diag.OK() {
		t.Fatalf("unexpected diagnostics: %+v", diag)
	}

	run := c.Schedule(context.Background(), nil, 2, true, time.Time{}, false)
	status, results := run.Poll()
	if status != StatusDone {
		t.Fatalf("expected run to complete synchronously, got %v", status)
	}
	names := map[string]bool{}
	for _, res := range results {
		names[res.Name] = true
	}
	if !names["parse"] || !names["score"] {
		t.Fatalf("expected both parse and score in results, got %v", results)
	}
}

// TestCache_ScheduleUsesPlanSnapshotAtEntry covers spec §5's requirement
// that a Run's plan is fixed at Schedule time, even if Finalize republishes
// a different plan afterward.
func TestCache_ScheduleUsesPlanSnapshotAtEntry(t *testing.T) {
	c := New(nil)
	if _, err := c.RegisterCallback("x", 0, symcache.Filter, 0, matchingCallback(""), nil); err != nil {
		t.Fatalf("register x: %v", err)
	}
	if diag := c.Finalize(); !diag.OK() {
		t.Fatalf("unexpected diagnostics: %+v", diag)
	}

	run := c.Schedule(context.Background(), nil, 0, false, time.Time{}, false)

	if _, err := c.RegisterCallback("y", 0, symcache.Filter, 0, matchingCallback(""), nil); err != nil {
		t.Fatalf("register y: %v", err)
	}
	if diag := c.Finalize(); !diag.OK() {
		t.Fatalf("unexpected diagnostics: %+v", diag)
	}

	status, results := run.Poll()
	if status != StatusDone {
		t.Fatalf("expected run to complete, got %v", status)
	}
	for _, res := range results {
		if res.Name == "y" {
			t.Fatal("expected the in-flight run's plan snapshot to predate y's registration")
		}
	}
}
