package hierarchy

import (
	"github.com/skdltmxn/hotswap-go/classfile"
)

// Impl is the method a receiver class ends up executing.
type Impl struct {
	Class  string
	Method Member
}

// VTable holds the virtual methods a class declares, chained to its
// superclass table. Private, static and initializer methods are left out:
// they take no part in dispatch.
type VTable struct {
	class   *ClassInfo
	parent  *VTable
	methods map[classfile.Sig]Member
}

// VTable builds the dispatch table chain of the named class. It returns nil
// for classes unknown to the snapshot.
func (s *Snapshot) VTable(name string) *VTable {
	return s.vtable(name, make(map[string]bool))
}

func (s *Snapshot) vtable(name string, seen map[string]bool) *VTable {
	c := s.classes[name]
	if c == nil || seen[name] {
		return nil
	}
	seen[name] = true
	vt := &VTable{class: c, methods: make(map[classfile.Sig]Member)}
	if c.Super != "" {
		vt.parent = s.vtable(c.Super, seen)
	}
	for _, m := range c.Methods {
		if m.IsStatic() || m.IsPrivate() || m.Sig.Name == "<init>" || m.Sig.Name == "<clinit>" {
			continue
		}
		vt.methods[m.Sig] = m
	}
	return vt
}

// Class returns the class this table belongs to.
func (vt *VTable) Class() *ClassInfo { return vt.class }

// Parent returns the superclass table, or nil.
func (vt *VTable) Parent() *VTable { return vt.parent }

// LookupLocal finds a virtual method declared by this class only.
func (vt *VTable) LookupLocal(sig classfile.Sig) (Member, bool) {
	m, ok := vt.methods[sig]
	return m, ok
}

// Lookup finds the nearest virtual declaration of sig, walking the
// superclass chain. It does not apply package access rules; use Select
// for that.
func (vt *VTable) Lookup(sig classfile.Sig) (Impl, bool) {
	for v := vt; v != nil; v = v.parent {
		if m, ok := v.methods[sig]; ok {
			return Impl{Class: v.class.Name(), Method: m}, true
		}
	}
	return Impl{}, false
}

// Overrides reports whether method sig declared by sub overrides the one
// declared by sup. Private and static methods never override. A
// package-private method is overridden only from its own runtime package,
// or transitively through an intermediate class that overrides it.
func (s *Snapshot) Overrides(sub, sup string, sig classfile.Sig) bool {
	if sub == sup {
		return false
	}
	sc, pc := s.classes[sub], s.classes[sup]
	if sc == nil || pc == nil {
		return false
	}
	mc, ok := sc.Method(sig)
	if !ok || mc.IsStatic() || mc.IsPrivate() || !s.IsSubtype(sub, sup) {
		return false
	}
	ma, ok := pc.Method(sig)
	if !ok || ma.IsStatic() || ma.IsPrivate() {
		return false
	}
	if ma.Access&(classfile.AccPublic|classfile.AccProtected) != 0 || pc.IsInterface() {
		return true
	}
	if sc.Package() == pc.Package() {
		return true
	}
	for _, mid := range s.Superclasses(sub) {
		if mid == sup {
			break
		}
		if s.Overrides(sub, mid, sig) && s.Overrides(mid, sup, sig) {
			return true
		}
	}
	return false
}

// Select returns the implementation a receiver of class receiver runs for
// a call resolved to decl.sig. The superclass chain is searched first;
// when decl is an interface and no class provides the method, the most
// specific default method wins. The result may be abstract.
func (s *Snapshot) Select(receiver, decl string, sig classfile.Sig) (Impl, bool) {
	d := s.classes[decl]
	if d == nil {
		return Impl{}, false
	}
	dm, declared := d.Method(sig)
	if !s.IsSubtype(receiver, decl) {
		return Impl{}, false
	}
	for v := s.VTable(receiver); v != nil; v = v.parent {
		name := v.class.Name()
		if name == decl {
			if declared {
				return Impl{Class: decl, Method: dm}, true
			}
			break
		}
		if _, ok := v.methods[sig]; ok && s.Overrides(name, decl, sig) {
			m, _ := v.class.Method(sig)
			return Impl{Class: name, Method: m}, true
		}
	}
	if !d.IsInterface() {
		return Impl{}, false
	}

	// maximally specific default method among the receiver's interfaces
	var best *Impl
	for _, sup := range s.Supertypes(receiver) {
		c := s.classes[sup]
		if c == nil || !c.IsInterface() || !s.IsSubtype(sup, decl) {
			continue
		}
		m, ok := c.Method(sig)
		if !ok || m.IsStatic() || m.IsPrivate() {
			continue
		}
		if best == nil || s.IsSubtype(sup, best.Class) {
			best = &Impl{Class: sup, Method: m}
		}
	}
	if best == nil && declared {
		best = &Impl{Class: decl, Method: dm}
	}
	if best == nil {
		return Impl{}, false
	}
	return *best, true
}
