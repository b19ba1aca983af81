package rewrite

import (
	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/hierarchy"
	"github.com/skdltmxn/hotswap-go/sidetable"
)

// World answers member resolution questions for a batch. Physical holds
// the shapes the host has loaded; Logical the shapes programs were compiled
// against (the batch's new definitions and every earlier redefinition).
// Tables returns the side table a class uses during the batch: the staged
// one for batch classes, the committed one otherwise, nil for classes never
// redefined.
type World struct {
	Physical *hierarchy.Snapshot
	Logical  *hierarchy.Snapshot
	Tables   func(class string) *sidetable.Table
}

// TargetKind says how a member access is carried out.
type TargetKind uint8

const (
	// Direct leaves the instruction alone: the member physically exists or
	// is unknown to the world.
	Direct TargetKind = iota
	// Slot routes a field access through the runtime slot helpers.
	Slot
	// Companion calls the generated companion method directly.
	Companion
	// Indirect calls the generated dispatch entry point.
	Indirect
)

// Target is a resolved member access.
type Target struct {
	Kind     TargetKind
	Declarer string
	Entry    *sidetable.Entry
	Table    *sidetable.Table
}

// Field resolves a field access through owner.
func (w *World) Field(owner string, sig classfile.Sig, static bool) Target {
	return w.resolve(owner, sig, true, static)
}

// Method resolves a method reference through owner.
func (w *World) Method(owner string, sig classfile.Sig, static bool) Target {
	return w.resolve(owner, sig, false, static)
}

// resolve walks owner's superclasses (then superinterfaces) and lets the
// first logical declarer decide.
func (w *World) resolve(owner string, sig classfile.Sig, field, static bool) Target {
	if w == nil || w.Logical == nil {
		return Target{}
	}
	chain := append([]string{owner}, w.Logical.Superclasses(owner)...)
	for _, s := range w.Logical.Supertypes(owner) {
		if c := w.Logical.Class(s); c != nil && c.IsInterface() {
			chain = append(chain, s)
		}
	}
	for _, name := range chain {
		logical := w.Logical.Class(name)
		if logical == nil {
			continue
		}
		var m hierarchy.Member
		var ok bool
		if field {
			m, ok = logical.Field(sig)
		} else {
			m, ok = logical.Method(sig)
		}
		if !ok {
			continue
		}
		if w.physicallyDeclares(name, sig, field, m.IsStatic()) {
			return Target{Kind: Direct, Declarer: name}
		}
		t := w.table(name)
		if t == nil {
			return Target{Kind: Direct, Declarer: name}
		}
		var e *sidetable.Entry
		if field {
			e, ok = t.Field(sig)
		} else {
			e, ok = t.Method(sig)
		}
		if !ok || (e.Access&classfile.AccStatic != 0) != static {
			return Target{Kind: Direct, Declarer: name}
		}
		target := Target{Kind: Companion, Declarer: name, Entry: e, Table: t}
		switch {
		case field:
			target.Kind = Slot
		case e.IsVirtual():
			target.Kind = Indirect
		}
		return target
	}
	return Target{}
}

func (w *World) physicallyDeclares(name string, sig classfile.Sig, field, static bool) bool {
	if w.Physical == nil {
		return false
	}
	c := w.Physical.Class(name)
	if c == nil {
		return false
	}
	var m hierarchy.Member
	var ok bool
	if field {
		m, ok = c.Field(sig)
	} else {
		m, ok = c.Method(sig)
	}
	return ok && m.IsStatic() == static
}

func (w *World) table(name string) *sidetable.Table {
	if w.Tables == nil {
		return nil
	}
	return w.Tables(name)
}
