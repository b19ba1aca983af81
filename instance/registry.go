// Package instance keeps the side-table state of live instances of
// redefined classes.
//
// Only tracked classes get views. A view holds one slot per added instance
// field, allocated on first touch at the field's declared default. Slots
// are keyed by member ID, and a field that survives a redefinition keeps
// its ID, so its values survive too. The registry never keeps an instance
// alive: views are keyed by weak pointers and dropped by a cleanup once
// the instance is collected.
package instance

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/tliron/commonlog"

	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/sidetable"
)

var log = commonlog.GetLogger("hotswap.instance")

var (
	// ErrNotTracked indicates Migrate on an instance of an untracked class.
	ErrNotTracked = errors.New("instance: class is not tracked")

	// ErrUnknownMember indicates a member ID no side table knows.
	ErrUnknownMember = errors.New("instance: unknown member")

	// ErrRetired indicates access to a member removed by a later
	// redefinition.
	ErrRetired = errors.New("instance: member retired")

	// ErrKindMismatch indicates an instance access to a static slot or the
	// reverse.
	ErrKindMismatch = errors.New("instance: member kind mismatch")
)

// Entries resolves member IDs. *sidetable.Arena implements it.
type Entries interface {
	Lookup(id sidetable.MemberID) (*sidetable.Entry, *sidetable.Table, bool)
}

// Registry maps live instances of type T to their views.
type Registry[T any] struct {
	entries Entries

	mu      sync.RWMutex
	tracked map[string]bool
	live    map[host.ClassID]map[weak.Pointer[T]]struct{}

	views   sync.Map // weak.Pointer[T] -> *View
	statics sync.Map // sidetable.MemberID -> *Slot
	count   atomic.Int64
}

// NewRegistry creates a registry resolving members through entries.
func NewRegistry[T any](entries Entries) *Registry[T] {
	return &Registry[T]{
		entries: entries,
		tracked: make(map[string]bool),
		live:    make(map[host.ClassID]map[weak.Pointer[T]]struct{}),
	}
}

// Track marks a class name for instance tracking in every loader.
func (r *Registry[T]) Track(class string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.tracked[class] {
		log.Infof("tracking instances of %s", class)
	}
	r.tracked[class] = true
}

// Tracked reports whether instances of the class are tracked.
func (r *Registry[T]) Tracked(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tracked[class]
}

// Migrate returns the view of obj, an instance of class, creating it on
// first call. Racing callers observe the same view.
func (r *Registry[T]) Migrate(obj *T, class host.ClassID) (*View, error) {
	if obj == nil {
		return nil, fmt.Errorf("instance: nil %s instance", class)
	}
	if !r.Tracked(class.Name) {
		return nil, fmt.Errorf("%w: %s", ErrNotTracked, class)
	}
	key := weak.Make(obj)
	if v, ok := r.views.Load(key); ok {
		return v.(*View), nil
	}
	v, loaded := r.views.LoadOrStore(key, &View{class: class, entries: r.entries})
	if loaded {
		return v.(*View), nil
	}

	r.mu.Lock()
	set := r.live[class]
	if set == nil {
		set = make(map[weak.Pointer[T]]struct{})
		r.live[class] = set
	}
	set[key] = struct{}{}
	r.mu.Unlock()
	r.count.Add(1)

	runtime.AddCleanup(obj, r.forget, key)
	return v.(*View), nil
}

func (r *Registry[T]) forget(key weak.Pointer[T]) {
	v, ok := r.views.LoadAndDelete(key)
	if !ok {
		return
	}
	r.mu.Lock()
	class := v.(*View).class
	delete(r.live[class], key)
	if len(r.live[class]) == 0 {
		delete(r.live, class)
	}
	r.mu.Unlock()
	r.count.Add(-1)
}

// Instances returns the live migrated instances of a class.
func (r *Registry[T]) Instances(class host.ClassID) []*T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*T, 0, len(r.live[class]))
	for key := range r.live[class] {
		if obj := key.Value(); obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

// Len returns the number of live views.
func (r *Registry[T]) Len() int {
	return int(r.count.Load())
}

// Static returns the slot of a static member, allocating it at the
// declared default on first touch.
func (r *Registry[T]) Static(id sidetable.MemberID) (*Slot, error) {
	if s, ok := r.statics.Load(id); ok {
		return s.(*Slot), nil
	}
	e, err := resolve(r.entries, id, sidetable.StaticSlot)
	if err != nil {
		return nil, err
	}
	s, _ := r.statics.LoadOrStore(id, newSlot(e.Default))
	return s.(*Slot), nil
}

// Retire drops the slots of the retired entries of a delta from every
// live view of its class and from the statics.
func (r *Registry[T]) Retire(d *sidetable.Delta) int {
	if d == nil || len(d.Retired) == 0 {
		return 0
	}
	var ids []sidetable.MemberID
	for _, e := range d.Retired {
		switch e.Kind {
		case sidetable.StaticSlot:
			r.statics.Delete(e.ID)
		case sidetable.InstanceSlot:
			ids = append(ids, e.ID)
		}
	}
	n := 0
	for _, obj := range r.Instances(d.Class) {
		if v, ok := r.views.Load(weak.Make(obj)); ok {
			n += v.(*View).drop(ids)
		}
	}
	if n > 0 {
		log.Debugf("%s: dropped %d retired slots", d.Class, n)
	}
	return n
}

func resolve(entries Entries, id sidetable.MemberID, kind sidetable.Kind) (*sidetable.Entry, error) {
	e, _, ok := entries.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMember, id)
	}
	if e.Kind != kind {
		return nil, fmt.Errorf("%w: %s is %s", ErrKindMismatch, e, e.Kind)
	}
	if !e.Active() {
		return nil, fmt.Errorf("%w: %s", ErrRetired, e)
	}
	return e, nil
}

// View is the side-table state of one instance.
type View struct {
	class   host.ClassID
	entries Entries
	slots   sync.Map // sidetable.MemberID -> *Slot
}

// Class returns the class the instance was migrated as.
func (v *View) Class() host.ClassID { return v.class }

// Slot returns the slot of an instance member, allocating it at the
// declared default on first touch. Only one allocation wins a race.
func (v *View) Slot(id sidetable.MemberID) (*Slot, error) {
	if s, ok := v.slots.Load(id); ok {
		return s.(*Slot), nil
	}
	e, err := resolve(v.entries, id, sidetable.InstanceSlot)
	if err != nil {
		return nil, err
	}
	s, _ := v.slots.LoadOrStore(id, newSlot(e.Default))
	return s.(*Slot), nil
}

// Members returns the IDs of the allocated slots in ascending order.
func (v *View) Members() []sidetable.MemberID {
	var out []sidetable.MemberID
	v.slots.Range(func(k, _ any) bool {
		out = append(out, k.(sidetable.MemberID))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (v *View) drop(ids []sidetable.MemberID) int {
	n := 0
	for _, id := range ids {
		if _, ok := v.slots.LoadAndDelete(id); ok {
			n++
		}
	}
	return n
}

// Slot holds one member value: int32 for int-like types, int64, float32,
// float64, or a host reference.
type Slot struct {
	v atomic.Pointer[any]
}

func newSlot(def any) *Slot {
	s := &Slot{}
	s.v.Store(&def)
	return s
}

// Load returns the current value.
func (s *Slot) Load() any { return *s.v.Load() }

// Store replaces the value.
func (s *Slot) Store(v any) { s.v.Store(&v) }

// CompareAndSwap replaces old with new when the slot still holds old.
// Values that cannot be compared, such as slices, never match.
func (s *Slot) CompareAndSwap(old, new any) bool {
	cur := s.v.Load()
	if !matchable(old) || !matchable(*cur) || *cur != old {
		return false
	}
	return s.v.CompareAndSwap(cur, &new)
}

func matchable(v any) bool {
	return v == nil || reflect.ValueOf(v).Comparable()
}
