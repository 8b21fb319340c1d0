package cache

import (
	"context"
	"sync"
	"time"

	"symcache/internal/logging"
	"symcache/pkg/symcache"
	"symcache/pkg/symcontract"
)

// outcome is the terminal classification of one item's evaluation within a
// run, independent of why it stopped short (see skipReason for that).
type outcome int

const (
	outcomeNone outcome = iota
	outcomeHit
	outcomeMiss
	outcomeSkip
)

// runState is an item's position in the per-message state machine (spec
// §4.5): Waiting → Ready → Running → Done.
type runState int

const (
	stateWaiting runState = iota
	stateReady
	stateRunning
	stateDone
)

// skipReason records why an item resolved to Done(skip, ...) or Done(miss,
// panic) for diagnostics; it never affects control flow itself.
type skipReason string

const (
	reasonNone       skipReason = ""
	reasonDisabled   skipReason = "disabled"
	reasonSetting    skipReason = "setting"
	reasonCondition  skipReason = "condition"
	reasonDependency skipReason = "dependency"
	reasonTimeout    skipReason = "timeout"
	reasonCancelled  skipReason = "cancelled"
	reasonVirtual    skipReason = "virtual"
	reasonPanic      skipReason = "panic"
)

// itemRun is the per-item, per-message record the scheduler mutates as it
// drives an item through its states.
type itemRun struct {
	state    runState
	outcome  outcome
	reason   skipReason
	execOnly bool
	result   symcontract.CallbackResult
}

func (ir *itemRun) terminal() bool { return ir.state == stateDone }

// markSkip settles ir as Done(skip, reason) and records the skip in it's
// shared stats, keeping "hits + misses + skips == evaluations" (spec §8
// property 5) true at every skip call site, not just the callback path.
func markSkip(it *symcache.Item, ir *itemRun, reason skipReason) {
	ir.state = stateDone
	ir.outcome = outcomeSkip
	ir.reason = reason
	symcache.RecordSkip(it)
}

// Result is one entry of a run's visible output: a matched, non-ghost,
// non-exec-only symbol name and whatever score attachment its callback
// produced (spec §6, "ordered set of (symbol_name, score_attachment)").
type Result struct {
	Name            string
	ScoreAttachment any
}

// Status is a RunHandle's coarse progress state.
type Status int

const (
	StatusRunning Status = iota
	StatusDone
)

// Scheduler drives per-message Runs against a Registry and a Plan snapshot.
// It holds no per-message state itself; all mutable state lives on the Run
// it returns (spec §5: single-threaded cooperative per message, independent
// worker threads own independent per-message state).
type Scheduler struct {
	registry *Registry
	log      logging.Logger
}

// NewScheduler constructs a Scheduler bound to registry. log may be nil.
func NewScheduler(registry *Registry, log logging.Logger) *Scheduler {
	if log == nil {
		log = logging.NopLogger{}
	}
	return &Scheduler{registry: registry, log: log}
}

// Schedule starts a new message run against the given plan snapshot and
// drives it as far as it can go synchronously, returning control to the
// caller once every item is terminal or at least one is Running on async
// work (spec §6 Schedule/RunHandle).
func (s *Scheduler) Schedule(ctx context.Context, plan *Plan, message any, settingsID int32, hasSettings bool, deadline time.Time, hasDeadline bool) *Run {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &Run{
		scheduler:   s,
		plan:        plan,
		ctx:         ctx,
		message:     message,
		settingsID:  settingsID,
		hasSettings: hasSettings,
		deadline:    deadline,
		hasDeadline: hasDeadline,
		states:      make(map[int32]*itemRun),
	}
	r.pump()
	return r
}

// Run is one message's cooperative pass through the plan; it is the
// RunHandle named in spec §6.
type Run struct {
	mu        sync.Mutex
	scheduler *Scheduler
	plan      *Plan

	ctx         context.Context
	message     any
	settingsID  int32
	hasSettings bool
	deadline    time.Time
	hasDeadline bool

	cancelled    bool
	done         bool
	stageIdx     int
	pendingAsync int

	states  map[int32]*itemRun
	results []Result
}

// Poll reports the run's current status, attempting to make further
// progress first (e.g. a deadline may have elapsed since the last call).
func (r *Run) Poll() (Status, []Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pumpLocked()
	if r.done {
		return StatusDone, r.results
	}
	return StatusRunning, nil
}

// Cancel flips every non-terminal item to Done(skip, cancelled) and closes
// the run. Any async completion that arrives afterward is a tolerated no-op
// (spec §5).
func (r *Run) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.cancelled = true
	for _, stage := range executionOrder {
		for _, id := range r.plan.StageOrder(stage) {
			ir := r.stateFor(id)
			if ir.terminal() {
				continue
			}
			it, ok := r.scheduler.registry.ByID(id)
			if !ok {
				continue
			}
			markSkip(it, ir, reasonCancelled)
		}
	}
	r.finishLocked()
}

func (r *Run) stateFor(id int32) *itemRun {
	ir, ok := r.states[id]
	if !ok {
		ir = &itemRun{state: stateWaiting}
		r.states[id] = ir
	}
	return ir
}

// pump acquires the run's lock and advances it as far as possible.
func (r *Run) pump() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pumpLocked()
}

// pumpLocked is pump's body; callers must already hold r.mu.
func (r *Run) pumpLocked() {
	if r.done || r.cancelled {
		return
	}
	for {
		if r.stageIdx >= len(executionOrder) {
			r.finishLocked()
			return
		}
		stage := executionOrder[r.stageIdx]
		r.expireDeadlineLocked(stage)
		r.processStageLocked(stage)
		if r.pendingAsync > 0 {
			return // block until an async completion re-enters pump
		}
		if !r.stageCompleteLocked(stage) {
			return // shouldn't happen absent async work, but be defensive
		}
		r.stageIdx++
	}
}

// expireDeadlineLocked fast-forwards every non-terminal item in stage to
// Done(skip, timeout) once the deadline has passed, except in the
// Idempotent stage, which always runs (spec §4.5).
func (r *Run) expireDeadlineLocked(stage symcache.Stage) {
	if !r.hasDeadline || stage == symcache.StageIdempotent {
		return
	}
	if time.Now().Before(r.deadline) {
		return
	}
	for _, id := range r.plan.StageOrder(stage) {
		ir := r.stateFor(id)
		if !ir.terminal() {
			it, ok := r.scheduler.registry.ByID(id)
			if !ok {
				continue
			}
			markSkip(it, ir, reasonTimeout)
		}
	}
}

// processStageLocked makes one top-to-bottom pass over stage's plan order,
// resolving Waiting items and dispatching any that become Ready. Because
// the order already respects the dependency topology, a single pass
// resolves every item whose dependencies complete synchronously; anything
// left Running blocks the stage until its async completion re-enters pump.
func (r *Run) processStageLocked(stage symcache.Stage) {
	for _, id := range r.plan.StageOrder(stage) {
		ir := r.stateFor(id)
		if ir.terminal() || ir.state == stateRunning {
			continue
		}
		it, ok := r.scheduler.registry.ByID(id)
		if !ok {
			continue
		}
		if ir.state == stateWaiting {
			r.resolveWaiting(it, ir)
			if ir.terminal() {
				continue
			}
		}
		if ir.state == stateReady {
			r.dispatch(it, ir)
		}
	}
}

// resolveWaiting transitions a Waiting item to Ready once every dependency
// is terminal, or to Done(skip, dependency) if a dependency panicked or was
// itself skipped for a dependency, or if a virtual-sourced edge's specific
// alias never fired (spec §4.5, §7).
func (r *Run) resolveWaiting(it *symcache.Item, ir *itemRun) {
	for _, e := range it.Deps() {
		dep := r.stateFor(e.TargetID)
		if !dep.terminal() {
			return // still Waiting
		}
	}
	for _, e := range it.Deps() {
		dep := r.stateFor(e.TargetID)
		if dep.reason == reasonPanic || dep.reason == reasonDependency {
			markSkip(it, ir, reasonDependency)
			return
		}
		if !e.HasVirtualSource() {
			continue
		}
		virtual, ok := r.scheduler.registry.ByID(e.FromVirtualID)
		if !ok {
			continue
		}
		if !(dep.outcome == outcomeHit && dep.result.Matched && dep.result.Alias == virtual.Name()) {
			markSkip(it, ir, reasonDependency)
			return
		}
	}
	ir.state = stateReady
}

// dispatch applies setting-id and enablement gates, evaluates conditions in
// order, and invokes the callback (or, for a Virtual item, resolves it
// trivially since it has none of its own).
func (r *Run) dispatch(it *symcache.Item, ir *itemRun) {
	if !it.Enabled() {
		markSkip(it, ir, reasonDisabled)
		return
	}
	admitted, execOnly := it.Admits(r.settingsID, r.hasSettings)
	if !admitted {
		markSkip(it, ir, reasonSetting)
		return
	}
	ir.execOnly = execOnly

	if it.IsVirtual() {
		markSkip(it, ir, reasonVirtual)
		return
	}

	denied := false
	for _, cond := range it.Conditions() {
		switch cond.Fn(r.ctx, r.message, it.ID()) {
		case symcontract.Skip:
			markSkip(it, ir, reasonCondition)
			return
		case symcontract.Deny:
			denied = true
		}
	}

	ir.state = stateRunning
	r.runCallback(it, ir, denied)
}

// runCallback invokes the item's callback with panic recovery, records
// stats, and settles the item's outcome unless the callback went async.
func (r *Run) runCallback(it *symcache.Item, ir *itemRun, denied bool) {
	handle := &asyncHandle{run: r, item: it}
	start := time.Now()

	res, err := r.invokeRecovered(it, handle)
	if handle.pending() {
		// RegisterEvent runs while this pump holds r.mu, so the events the
		// callback filed are counted here rather than by RegisterEvent.
		handle.mu.Lock()
		r.pendingAsync += len(handle.finalizers)
		handle.mu.Unlock()
		return // callback went async; Complete will settle this item
	}

	elapsed := time.Since(start).Nanoseconds()
	r.settle(it, ir, res, err, denied, elapsed)
}

// invokeRecovered calls the item's callback, converting a panic into a
// (zero-value, error) result rather than propagating it, matching §7's
// CallbackPanic policy.
func (r *Run) invokeRecovered(it *symcache.Item, handle symcontract.AsyncHandle) (result symcontract.CallbackResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = itemPanicError{value: p}
		}
	}()
	return it.RunCallback(r.ctx, r.message, handle)
}

// itemPanicError wraps a recovered callback panic.
type itemPanicError struct{ value any }

func (e itemPanicError) Error() string { return "symcache: callback panic" }

// settle records the outcome of a completed (non-async) callback invocation.
func (r *Run) settle(it *symcache.Item, ir *itemRun, res symcontract.CallbackResult, err error, denied bool, elapsedNs int64) {
	ir.state = stateDone
	if _, isPanic := err.(itemPanicError); isPanic {
		recordMiss(it, elapsedNs)
		ir.outcome, ir.reason = outcomeMiss, reasonPanic
		return
	}
	if denied {
		res.Matched = false
	}
	if err != nil || !res.Matched {
		recordMiss(it, elapsedNs)
		ir.outcome = outcomeMiss
		return
	}
	recordHit(it, elapsedNs)
	ir.outcome = outcomeHit
	ir.result = res
	r.recordResult(it, ir, res)
}

func (r *Run) recordResult(it *symcache.Item, ir *itemRun, res symcontract.CallbackResult) {
	if ir.execOnly || it.IsGhost() || !it.IsScoreable() {
		return
	}
	name := res.Alias
	if name == "" {
		name = it.Name()
	}
	r.results = append(r.results, Result{Name: name, ScoreAttachment: res.ScoreAttachment})
}

// stageCompleteLocked reports whether every item scheduled for stage has
// reached a terminal state.
func (r *Run) stageCompleteLocked(stage symcache.Stage) bool {
	for _, id := range r.plan.StageOrder(stage) {
		if !r.stateFor(id).terminal() {
			return false
		}
	}
	return true
}

// finishLocked assembles the run's final result set and marks it done.
func (r *Run) finishLocked() {
	r.done = true
}

// asyncHandle is the symcontract.AsyncHandle a callback receives; Complete
// is the extra verb (beyond the spec's register/remove pair) that lets a
// callback's own async continuation re-enter the run.
type asyncHandle struct {
	run  *Run
	item *symcache.Item

	mu         sync.Mutex
	finalizers map[any]func(opaque any, result symcontract.CallbackResult)
	registered bool
}

func (h *asyncHandle) pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registered
}

// RegisterEvent records a finalizer for cleanup bookkeeping and marks the
// item Running until a matching Complete or RemoveEvent call arrives. It is
// called from inside the callback; runCallback adds the registered events to
// the run's pending count once the callback returns.
func (h *asyncHandle) RegisterEvent(finalizer func(opaque any, result symcontract.CallbackResult), opaque any) {
	h.mu.Lock()
	if h.finalizers == nil {
		h.finalizers = make(map[any]func(any, symcontract.CallbackResult))
	}
	h.finalizers[opaque] = finalizer
	h.registered = true
	h.mu.Unlock()
}

// RemoveEvent cancels a previously registered event without recording a
// result, e.g. because the item's run was abandoned by the callback itself.
// It is a no-op for an event that already completed or was never registered.
func (h *asyncHandle) RemoveEvent(opaque any) {
	h.mu.Lock()
	_, ok := h.finalizers[opaque]
	delete(h.finalizers, opaque)
	h.mu.Unlock()
	if !ok {
		return
	}

	h.run.mu.Lock()
	if h.run.pendingAsync > 0 {
		h.run.pendingAsync--
	}
	h.run.mu.Unlock()
}

// Complete reports that the async work registered under opaque has
// finished, invokes its finalizer for cleanup, and resumes scheduling.
// Safe to call from any goroutine; a completion racing a Cancel is a no-op.
func (h *asyncHandle) Complete(opaque any, result symcontract.CallbackResult) {
	h.mu.Lock()
	finalizer, ok := h.finalizers[opaque]
	if ok {
		delete(h.finalizers, opaque)
	}
	h.mu.Unlock()
	if ok && finalizer != nil {
		finalizer(opaque, result)
	}

	run := h.run
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.done || run.cancelled {
		return
	}
	if run.pendingAsync > 0 {
		run.pendingAsync--
	}
	ir := run.stateFor(h.item.ID())
	if ir.terminal() {
		return
	}
	ir.state = stateDone
	if result.Matched {
		recordHit(h.item, 0)
		ir.outcome = outcomeHit
		ir.result = result
		run.recordResult(h.item, ir, result)
	} else {
		recordMiss(h.item, 0)
		ir.outcome = outcomeMiss
	}
	run.pumpLocked()
}

func recordHit(it *symcache.Item, elapsedNs int64)  { symcache.RecordHit(it, elapsedNs) }
func recordMiss(it *symcache.Item, elapsedNs int64) { symcache.RecordMiss(it, elapsedNs) }
