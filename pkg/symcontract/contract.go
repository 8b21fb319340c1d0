// Package symcontract defines the boundary between the symbol cache core
// and whatever host-side runtime supplies callbacks and conditions — an
// embedded scripting bridge, a native plugin, or a test double. The core
// depends only on these interfaces and never on a concrete implementation.
package symcontract

import "context"

// Verdict is the result of evaluating a condition predicate.
type Verdict int

const (
	// Pass allows the item to proceed to its callback.
	Pass Verdict = iota
	// Deny suppresses the item's result but still counts it as evaluated.
	Deny
	// Skip short-circuits evaluation; the item is recorded as skipped, not missed.
	Skip
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Deny:
		return "deny"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// ConditionFunc is called with the message reference and the item id before
// the item's callback runs. It must be pure with respect to cache state —
// it may read message state but must not mutate scheduling.
type ConditionFunc func(ctx context.Context, message any, itemID int32) Verdict

// AsyncHandle is offered to a callback that cannot produce a result
// synchronously. An implementation may back it with threads, a reactor, or
// cooperative tasks; the core makes no assumption about the event loop.
type AsyncHandle interface {
	// RegisterEvent files a pending asynchronous completion. finalizer is
	// invoked exactly once when the event completes, with opaque passed
	// back unchanged.
	RegisterEvent(finalizer func(opaque any, result CallbackResult), opaque any)
	// RemoveEvent cancels a previously registered event before it fires.
	// It is a no-op if the event already completed.
	RemoveEvent(opaque any)
	// Complete reports that the work registered under opaque has finished,
	// invoking its finalizer and unblocking the item's dependents. This is
	// the trigger the spec's register/remove pair left implicit: whatever
	// goroutine or callback finishes the async op calls Complete to hand
	// the result back.
	Complete(opaque any, result CallbackResult)
}

// CallbackResult is what a callback (synchronously) or an async finalizer
// (eventually) reports back to the scheduler.
type CallbackResult struct {
	// Matched is true if the symbol fired — i.e. produced a hit.
	Matched bool
	// Alias, when non-empty, names the specific virtual alias the parent
	// produced, for virtual-edge satisfaction (spec §4.5).
	Alias string
	// ScoreAttachment carries whatever opaque payload the host associates
	// with a hit (e.g. a score weight or explanation string).
	ScoreAttachment any
}

// CallbackFunc is the Callback contract from spec §6: it must either record
// a result synchronously and return, or register one or more async events
// against handle and return. The scheduler treats the item as Running while
// any event registered through handle is outstanding.
type CallbackFunc func(ctx context.Context, message any, itemID int32, userData any, handle AsyncHandle) (CallbackResult, error)
