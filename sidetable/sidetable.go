// Package sidetable records the members a class gained after it was first
// loaded. The host cannot add fields or methods to a loaded class, so each
// added member lives in a side table entry keyed by a MemberID: instance
// fields become per-object slots, static fields become per-class slots and
// methods move into generated companion classes.
//
// Tables are changed through a Txn. A committed transaction can be undone,
// which the engine does when the host rejects the batch.
package sidetable

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/host"
)

var log = commonlog.GetLogger("hotswap.sidetable")

// MemberID identifies a side table entry across the whole arena. IDs are
// assigned once and never reused.
type MemberID uint32

// Kind is the shape of a side table entry.
type Kind uint8

const (
	InstanceSlot Kind = iota + 1
	StaticSlot
	Method
)

func (k Kind) String() string {
	switch k {
	case InstanceSlot:
		return "instance-slot"
	case StaticSlot:
		return "static-slot"
	case Method:
		return "method"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsField reports whether the kind is a slot.
func (k Kind) IsField() bool { return k == InstanceSlot || k == StaticSlot }

// Entry is one added member.
type Entry struct {
	ID      MemberID
	Kind    Kind
	Sig     classfile.Sig
	Access  uint16
	Default any // declared default of a slot, nil for methods and references

	// Introduced is the generation that added the entry; Retired the one
	// that removed it, or 0 while the entry is active.
	Introduced int
	Retired    int
}

// Active reports whether the entry belongs to the current class shape.
func (e *Entry) Active() bool { return e.Retired == 0 }

// IsVirtual reports whether the entry is a method taking part in dispatch.
func (e *Entry) IsVirtual() bool {
	return e.Kind == Method && e.Access&(classfile.AccPrivate|classfile.AccStatic) == 0 &&
		e.Sig.Name != "<init>"
}

func (e *Entry) String() string {
	return fmt.Sprintf("#%d %s %s", e.ID, e.Kind, e.Sig)
}

// Decl describes a member that should be present in the side table.
type Decl struct {
	Kind    Kind
	Sig     classfile.Sig
	Access  uint16
	Default any
}

type key struct {
	field bool
	sig   classfile.Sig
}

func keyOf(k Kind, sig classfile.Sig) key { return key{field: k.IsField(), sig: sig} }

// Table is the side table of one class.
type Table struct {
	class      host.ClassID
	generation int
	entries    []*Entry
	active     map[key]*Entry
}

func newTable(class host.ClassID) *Table {
	return &Table{class: class, active: make(map[key]*Entry)}
}

// Class returns the owning class.
func (t *Table) Class() host.ClassID { return t.class }

// Generation returns the number of redefinitions applied to the class.
// Generation 0 is the class as first loaded.
func (t *Table) Generation() int { return t.generation }

// Entries returns every entry ever added, retired ones included, in ID
// order.
func (t *Table) Entries() []*Entry { return t.entries }

// Active returns the entries of the current class shape in ID order.
func (t *Table) Active() []*Entry {
	var out []*Entry
	for _, e := range t.entries {
		if e.Active() {
			out = append(out, e)
		}
	}
	return out
}

// Field returns the active slot entry for sig.
func (t *Table) Field(sig classfile.Sig) (*Entry, bool) {
	e, ok := t.active[key{field: true, sig: sig}]
	return e, ok
}

// Method returns the active method entry for sig.
func (t *Table) Method(sig classfile.Sig) (*Entry, bool) {
	e, ok := t.active[key{sig: sig}]
	return e, ok
}

// Entry returns the entry with the given ID.
func (t *Table) Entry(id MemberID) (*Entry, bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].ID >= id })
	if i < len(t.entries) && t.entries[i].ID == id {
		return t.entries[i], true
	}
	return nil, false
}

// Companion returns the companion class holding e, for method entries.
func (t *Table) Companion(e *Entry) string {
	return CompanionName(t.class.Name, e.Introduced)
}

// Generations returns the generations that introduced at least one method
// entry, ascending.
func (t *Table) Generations() []int {
	var out []int
	for _, e := range t.entries {
		if e.Kind == Method && (len(out) == 0 || out[len(out)-1] != e.Introduced) {
			out = append(out, e.Introduced)
		}
	}
	return out
}

func (t *Table) clone() *Table {
	n := &Table{
		class:      t.class,
		generation: t.generation,
		entries:    make([]*Entry, len(t.entries)),
		active:     make(map[key]*Entry, len(t.active)),
	}
	for i, e := range t.entries {
		c := *e
		n.entries[i] = &c
		if c.Active() {
			n.active[keyOf(c.Kind, c.Sig)] = &c
		}
	}
	return n
}

// Delta lists what one transaction changed in a table.
type Delta struct {
	Class      host.ClassID
	Generation int
	Added      []*Entry
	Retired    []*Entry
	Kept       []*Entry
}

// Empty reports whether the delta changes nothing.
func (d *Delta) Empty() bool { return len(d.Added) == 0 && len(d.Retired) == 0 }

// Arena owns the side tables of every class of the engine and hands out
// member IDs.
type Arena struct {
	mu     sync.RWMutex
	tables map[host.ClassID]*Table
	byID   map[MemberID]*Table
	nextID atomic.Uint32
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		tables: make(map[host.ClassID]*Table),
		byID:   make(map[MemberID]*Table),
	}
}

// Table returns the committed table of a class, or nil when the class was
// never redefined.
func (a *Arena) Table(class host.ClassID) *Table {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tables[class]
}

// Lookup finds an entry by ID among the committed tables.
func (a *Arena) Lookup(id MemberID) (*Entry, *Table, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t := a.byID[id]
	if t == nil {
		return nil, nil, false
	}
	e, ok := t.Entry(id)
	return e, t, ok
}

// Begin starts a transaction.
func (a *Arena) Begin() *Txn {
	return &Txn{arena: a, staged: make(map[host.ClassID]*Table)}
}

// Txn stages table changes. It is not safe for concurrent use.
type Txn struct {
	arena  *Arena
	staged map[host.ClassID]*Table
	done   bool
}

// Table returns the staged table of a class: a copy of the committed one
// advanced to the next generation. Repeated calls return the same table.
func (tx *Txn) Table(class host.ClassID) *Table {
	if t, ok := tx.staged[class]; ok {
		return t
	}
	var t *Table
	if committed := tx.arena.Table(class); committed != nil {
		t = committed.clone()
	} else {
		t = newTable(class)
	}
	t.generation++
	tx.staged[class] = t
	return t
}

// Current returns the staged table of a class when the transaction has
// touched it, the committed one otherwise.
func (tx *Txn) Current(class host.ClassID) *Table {
	if t, ok := tx.staged[class]; ok {
		return t
	}
	return tx.arena.Table(class)
}

// Staged returns the tables staged so far.
func (tx *Txn) Staged() []*Table {
	out := make([]*Table, 0, len(tx.staged))
	for _, t := range tx.staged {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].class.String() < out[j].class.String() })
	return out
}

// Reconcile makes the active entries of the class's staged table match
// want. A wanted member already active with the same kind keeps its entry
// and ID; everything else active is retired and every new member gets a
// fresh ID.
func (tx *Txn) Reconcile(class host.ClassID, want []Decl) *Delta {
	t := tx.Table(class)
	d := &Delta{Class: class, Generation: t.generation}

	wanted := make(map[key]Decl, len(want))
	for _, w := range want {
		wanted[keyOf(w.Kind, w.Sig)] = w
	}
	for _, e := range t.Active() {
		k := keyOf(e.Kind, e.Sig)
		if w, ok := wanted[k]; ok && w.Kind == e.Kind {
			e.Access = w.Access
			d.Kept = append(d.Kept, e)
			continue
		}
		e.Retired = t.generation
		delete(t.active, k)
		d.Retired = append(d.Retired, e)
	}
	for _, w := range want {
		k := keyOf(w.Kind, w.Sig)
		if _, ok := t.active[k]; ok {
			continue
		}
		e := &Entry{
			ID:         MemberID(tx.arena.nextID.Add(1)),
			Kind:       w.Kind,
			Sig:        w.Sig,
			Access:     w.Access,
			Default:    w.Default,
			Introduced: t.generation,
		}
		t.entries = append(t.entries, e)
		t.active[k] = e
		d.Added = append(d.Added, e)
	}
	log.Debugf("%s generation %d: %d added, %d retired, %d kept",
		class, t.generation, len(d.Added), len(d.Retired), len(d.Kept))
	return d
}

// Commit installs the staged tables. The returned function restores the
// previous tables; IDs handed out by the transaction stay consumed.
func (tx *Txn) Commit() (undo func()) {
	a := tx.arena
	a.mu.Lock()
	defer a.mu.Unlock()

	if tx.done {
		return func() {}
	}
	tx.done = true

	prev := make(map[host.ClassID]*Table, len(tx.staged))
	for class, t := range tx.staged {
		prev[class] = a.tables[class]
		a.tables[class] = t
		for _, e := range t.entries {
			a.byID[e.ID] = t
		}
	}
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for class, t := range prev {
			staged := tx.staged[class]
			for _, e := range staged.entries {
				delete(a.byID, e.ID)
			}
			if t == nil {
				delete(a.tables, class)
				continue
			}
			a.tables[class] = t
			for _, e := range t.entries {
				a.byID[e.ID] = t
			}
		}
		log.Infof("rolled back %d side tables", len(prev))
	}
}

// CompanionName names the class holding the method entries a class gained
// in one generation.
func CompanionName(class string, generation int) string {
	return fmt.Sprintf("%s$$Hotswap$%d", class, generation)
}

// IndirectionName names the class holding the dispatch entry points of the
// virtual methods a class gained in one generation.
func IndirectionName(class string, generation int) string {
	return fmt.Sprintf("%s$$Indirect$%d", class, generation)
}

// IsGenerated reports whether a class name belongs to a companion or
// indirection class.
func IsGenerated(name string) bool {
	return strings.Contains(name, "$$Hotswap$") || strings.Contains(name, "$$Indirect$")
}
