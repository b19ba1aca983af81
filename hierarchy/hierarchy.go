// Package hierarchy holds an explicit snapshot of the loaded class
// hierarchy. Diff and fixup are computed against a snapshot instead of
// querying the host, which keeps them pure functions of their inputs.
package hierarchy

import (
	"slices"
	"sort"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/host"
)

// Member is a field or method as seen by the hierarchy.
type Member struct {
	Sig    classfile.Sig
	Access uint16
}

// IsStatic reports whether ACC_STATIC is set.
func (m Member) IsStatic() bool { return m.Access&classfile.AccStatic != 0 }

// IsPrivate reports whether ACC_PRIVATE is set.
func (m Member) IsPrivate() bool { return m.Access&classfile.AccPrivate != 0 }

// IsAbstract reports whether ACC_ABSTRACT is set.
func (m Member) IsAbstract() bool { return m.Access&classfile.AccAbstract != 0 }

// Ref is a member reference found in a class's constant pool.
type Ref struct {
	Owner string
	Sig   classfile.Sig
}

// ClassInfo summarizes one class.
type ClassInfo struct {
	ID         host.ClassID
	Access     uint16
	Super      string
	Interfaces []string
	Fields     []Member
	Methods    []Member

	// Refs lists the members the class's code refers to.
	Refs map[Ref]bool
}

// Describe summarizes a parsed class defined by loader.
func Describe(cf *classfile.ClassFile, loader string) *ClassInfo {
	info := &ClassInfo{
		ID:         host.ClassID{Name: cf.Name(), Loader: loader},
		Access:     cf.AccessFlags,
		Super:      cf.SuperName(),
		Interfaces: cf.InterfaceNames(),
		Refs:       make(map[Ref]bool),
	}
	for _, f := range cf.Fields {
		info.Fields = append(info.Fields, Member{Sig: f.Sig(), Access: f.AccessFlags})
	}
	for _, m := range cf.Methods {
		info.Methods = append(info.Methods, Member{Sig: m.Sig(), Access: m.AccessFlags})
	}
	for i := 1; i < cf.Pool.Count(); i++ {
		ref, err := cf.Pool.MemberRef(uint16(i))
		if err != nil {
			continue
		}
		info.Refs[Ref{Owner: ref.Owner, Sig: ref.Sig}] = true
	}
	return info
}

// Name returns the internal class name.
func (c *ClassInfo) Name() string { return c.ID.Name }

// IsInterface reports whether the class is an interface.
func (c *ClassInfo) IsInterface() bool { return c.Access&classfile.AccInterface != 0 }

// Package returns the runtime package: package name and defining loader.
func (c *ClassInfo) Package() host.ClassID {
	return host.ClassID{Name: classfile.PackageOf(c.ID.Name), Loader: c.ID.Loader}
}

// Method returns the declared method with the given signature.
func (c *ClassInfo) Method(sig classfile.Sig) (Member, bool) {
	return find(c.Methods, sig)
}

// Field returns the declared field with the given signature.
func (c *ClassInfo) Field(sig classfile.Sig) (Member, bool) {
	return find(c.Fields, sig)
}

func find(members []Member, sig classfile.Sig) (Member, bool) {
	for _, m := range members {
		if m.Sig == sig {
			return m, true
		}
	}
	return Member{}, false
}

// Snapshot is an immutable-by-convention view of the classes known to the
// engine. With returns a modified copy.
type Snapshot struct {
	classes  map[string]*ClassInfo
	subtypes map[string][]string
}

// NewSnapshot creates a snapshot of the given classes.
func NewSnapshot(infos ...*ClassInfo) *Snapshot {
	s := &Snapshot{classes: make(map[string]*ClassInfo, len(infos))}
	for _, info := range infos {
		s.classes[info.Name()] = info
	}
	s.index()
	return s
}

func (s *Snapshot) index() {
	s.subtypes = make(map[string][]string)
	for name, info := range s.classes {
		if info.Super != "" {
			s.subtypes[info.Super] = append(s.subtypes[info.Super], name)
		}
		for _, i := range info.Interfaces {
			s.subtypes[i] = append(s.subtypes[i], name)
		}
	}
	for k := range s.subtypes {
		sort.Strings(s.subtypes[k])
	}
}

// With returns a copy of s in which the given classes replace or extend
// the known set.
func (s *Snapshot) With(infos ...*ClassInfo) *Snapshot {
	n := &Snapshot{classes: make(map[string]*ClassInfo, len(s.classes)+len(infos))}
	for k, v := range s.classes {
		n.classes[k] = v
	}
	for _, info := range infos {
		n.classes[info.Name()] = info
	}
	n.index()
	return n
}

// Class returns the named class, or nil.
func (s *Snapshot) Class(name string) *ClassInfo {
	return s.classes[name]
}

// Classes returns every class ordered by name.
func (s *Snapshot) Classes() []*ClassInfo {
	out := make([]*ClassInfo, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Subtypes returns the direct subclasses, implementors and subinterfaces.
func (s *Snapshot) Subtypes(name string) []string {
	return s.subtypes[name]
}

// Descendants returns every transitive subtype of name in breadth-first
// order, name excluded.
func (s *Snapshot) Descendants(name string) []string {
	seen := map[string]bool{name: true}
	var out []string
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, sub := range s.subtypes[cur] {
			if seen[sub] {
				continue
			}
			seen[sub] = true
			out = append(out, sub)
			queue = append(queue, sub)
		}
	}
	return out
}

// Superclasses returns the superclass chain of name, nearest first, as far
// as the snapshot knows it.
func (s *Snapshot) Superclasses(name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	for c := s.classes[name]; c != nil && c.Super != "" && !seen[c.Super]; c = s.classes[c.Super] {
		seen[c.Super] = true
		out = append(out, c.Super)
	}
	return out
}

// Supertypes returns every transitive supertype of name (superclasses and
// superinterfaces) in breadth-first order.
func (s *Snapshot) Supertypes(name string) []string {
	seen := map[string]bool{name: true}
	var out []string
	queue := []string{name}
	for len(queue) > 0 {
		c := s.classes[queue[0]]
		queue = queue[1:]
		if c == nil {
			continue
		}
		next := append([]string(nil), c.Interfaces...)
		if c.Super != "" {
			next = append([]string{c.Super}, next...)
		}
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
				queue = append(queue, n)
			}
		}
	}
	return out
}

// IsSubtype reports whether sub is sup or one of its transitive subtypes.
func (s *Snapshot) IsSubtype(sub, sup string) bool {
	return sub == sup || slices.Contains(s.Supertypes(sub), sup)
}

// Depth returns the length of the known superclass chain; interfaces count
// their longest superinterface path.
func (s *Snapshot) Depth(name string) int {
	c := s.classes[name]
	if c == nil {
		return 0
	}
	if !c.IsInterface() {
		return len(s.Superclasses(name))
	}
	depth := 0
	for _, i := range c.Interfaces {
		if d := s.Depth(i) + 1; d > depth {
			depth = d
		}
	}
	return depth
}

// InstanceLayout returns the instance fields of name and its superclasses,
// topmost class first. Two classes with equal layouts give inherited
// fields identical slots.
func (s *Snapshot) InstanceLayout(name string) []Member {
	chain := append([]string{name}, s.Superclasses(name)...)
	var out []Member
	for i := len(chain) - 1; i >= 0; i-- {
		c := s.classes[chain[i]]
		if c == nil {
			continue
		}
		for _, f := range c.Fields {
			if !f.IsStatic() {
				out = append(out, f)
			}
		}
	}
	return out
}

// ReferencedBy returns the classes, other than owner itself, whose code
// refers to sig through owner or one of its subtypes.
func (s *Snapshot) ReferencedBy(owner string, sig classfile.Sig) []string {
	var out []string
	for _, c := range s.Classes() {
		if c.Name() == owner {
			continue
		}
		for ref := range c.Refs {
			if ref.Sig == sig && s.IsSubtype(ref.Owner, owner) {
				out = append(out, c.Name())
				break
			}
		}
	}
	return out
}
