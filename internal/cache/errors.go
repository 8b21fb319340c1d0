package cache

import (
	"fmt"
	"strings"

	"symcache/pkg/symcache"
)

// ErrDuplicateName is returned when a name collides with an existing,
// incompatible registration.
type ErrDuplicateName struct {
	Name string
}

func (e ErrDuplicateName) Error() string {
	return fmt.Sprintf("symcache: duplicate symbol name %q", e.Name)
}

// ErrUnknownParent is returned when a virtual item names a parent that was
// never registered.
type ErrUnknownParent struct {
	Name   string
	Parent string
}

func (e ErrUnknownParent) Error() string {
	return fmt.Sprintf("symcache: %q references unknown parent %q", e.Name, e.Parent)
}

// ErrUnknownDependency is returned when a textual dependency cannot be
// resolved to a registered item.
type ErrUnknownDependency struct {
	From string
	To   string
}

func (e ErrUnknownDependency) Error() string {
	return fmt.Sprintf("symcache: %q depends on unknown symbol %q", e.From, e.To)
}

// ErrCrossStageEdge is returned when a dependency edge spans two different
// coarse stages.
type ErrCrossStageEdge struct {
	From      string
	To        string
	FromStage symcache.Stage
	ToStage   symcache.Stage
}

func (e ErrCrossStageEdge) Error() string {
	return fmt.Sprintf("symcache: cross-stage dependency %q (%s) -> %q (%s)", e.From, e.FromStage, e.To, e.ToStage)
}

// ErrCycle reports a dependency cycle found during finalize. The resolver
// breaks each cycle on its own by disabling one member; Disabled names the
// member it disabled. This type is used only to report what happened.
type ErrCycle struct {
	Disabled []string
}

func (e ErrCycle) Error() string {
	return fmt.Sprintf("symcache: dependency cycle detected, disabled %v", e.Disabled)
}

// FinalizeDiagnostics accumulates non-fatal diagnostics recorded during
// Finalize. Configuration errors are fatal to Finalize only when they leave
// the graph unusable (currently: none do — the resolver always degrades by
// disabling offending items rather than aborting), so Finalize returns this
// report rather than a single error, matching §7's "configuration errors
// are fatal to finalize but not to the process" policy: the host decides
// whether to run with the degraded cache described here.
type FinalizeDiagnostics struct {
	DuplicateNames       []ErrDuplicateName
	UnknownParents       []ErrUnknownParent
	UnknownDependencies  []ErrUnknownDependency
	CrossStageEdges      []ErrCrossStageEdge
	Cycles               []ErrCycle
}

// OK reports whether finalize produced no diagnostics at all.
func (d FinalizeDiagnostics) OK() bool {
	return len(d.DuplicateNames) == 0 &&
		len(d.UnknownParents) == 0 &&
		len(d.UnknownDependencies) == 0 &&
		len(d.CrossStageEdges) == 0 &&
		len(d.Cycles) == 0
}

// String renders every diagnostic, one per line, for CLI reporting.
func (d FinalizeDiagnostics) String() string {
	var b strings.Builder
	for _, e := range d.DuplicateNames {
		fmt.Fprintf(&b, "%v\n", e)
	}
	for _, e := range d.UnknownParents {
		fmt.Fprintf(&b, "%v\n", e)
	}
	for _, e := range d.UnknownDependencies {
		fmt.Fprintf(&b, "%v\n", e)
	}
	for _, e := range d.CrossStageEdges {
		fmt.Fprintf(&b, "%v\n", e)
	}
	for _, e := range d.Cycles {
		fmt.Fprintf(&b, "%v\n", e)
	}
	return strings.TrimRight(b.String(), "\n")
}
