package cache

import (
	"symcache/pkg/symcache"
	"symcache/pkg/symcontract"
)

// pendingEdge is a textual dependency recorded during registration, resolved
// to a concrete Edge by the Resolver once all items are known (spec §4.3
// step 3, §4.4 step 2).
type pendingEdge struct {
	fromID int32
	toName string
}

// Registry owns the name→item map and the id→item vector. Its mutable phase
// (registration) runs strictly before any message is scheduled; after
// Resolve it is read-only except for stats and the plan's atomic pointer
// (spec §5).
type Registry struct {
	byName  map[string]*symcache.Item
	byID    []*symcache.Item // dense, index == id
	pending []pendingEdge
	nextID  int32
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*symcache.Item)}
}

// ByName looks up an item by its unique name.
func (r *Registry) ByName(name string) (*symcache.Item, bool) {
	it, ok := r.byName[name]
	return it, ok
}

// ByID looks up an item by its dense integer id.
func (r *Registry) ByID(id int32) (*symcache.Item, bool) {
	if id < 0 || int(id) >= len(r.byID) {
		return nil, false
	}
	return r.byID[id], true
}

// Items returns all registered items in id order. The returned slice is
// owned by the registry; callers must not mutate it.
func (r *Registry) Items() []*symcache.Item { return r.byID }

// RegisterCallback creates and indexes a Callback item. It is the sole
// constructor for real symbols; kind must not be Virtual (use
// RegisterVirtual for that).
func (r *Registry) RegisterCallback(name string, priority int, kind symcache.Kind, flags symcache.Flags, fn symcontract.CallbackFunc, userData any) (*symcache.Item, error) {
	if existing, ok := r.byName[name]; ok {
		if existing.UpgradeVirtualToCallback(kind, flags, fn, userData) {
			// Deferred-binding upgrade: a prior RegisterVirtual call
			// reserved this name as an unbound placeholder (its own
			// parent was never fixed), and this call supplies the real
			// definition. The id and any dependents recorded against it
			// carry over unchanged.
			return existing, nil
		}
		return nil, ErrDuplicateName{Name: name}
	}
	it := symcache.NewCallbackItem(r.nextID, name, priority, kind, flags, fn, userData)
	r.insert(it)
	return it, nil
}

// RegisterVirtual creates a name-only alias that routes dependencies to a
// parent item, resolved later by the Resolver. kind determines the alias's
// provisional stage; once the Resolver binds the parent, the alias adopts
// the parent's stage instead (spec §3 invariant 3).
func (r *Registry) RegisterVirtual(name string, parentName string, kind symcache.Kind, flags symcache.Flags) (*symcache.Item, error) {
	if existing, ok := r.byName[name]; ok {
		if existing.IsVirtual() && existing.ParentName() == parentName {
			return existing, nil // idempotent re-declaration
		}
		return nil, ErrDuplicateName{Name: name}
	}
	it := symcache.NewVirtualItem(r.nextID, name, parentName, kind, flags)
	r.insert(it)
	return it, nil
}

func (r *Registry) insert(it *symcache.Item) {
	r.byName[it.Name()] = it
	r.byID = append(r.byID, it)
	r.nextID++
}

// AddDependency records a textual dependency edge to be resolved by the
// Resolver. fromName must already be registered; toName is resolved lazily
// so forward references within the same configuration pass are permitted.
func (r *Registry) AddDependency(fromName, toName string) error {
	from, ok := r.byName[fromName]
	if !ok {
		return ErrUnknownDependency{From: fromName, To: toName}
	}
	r.pending = append(r.pending, pendingEdge{fromID: from.ID(), toName: toName})
	return nil
}
