// Package diff computes the structural difference between two definitions
// of the same class.
package diff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/hierarchy"
)

var log = commonlog.GetLogger("hotswap.diff")

// Removal is a member of the old definition missing from the new one.
type Removal struct {
	Member *classfile.Member

	// Referenced lists the classes known to the snapshot whose code still
	// refers to the member.
	Referenced []string
}

// ModifierChange is a member present in both definitions with different
// access flags (other than ACC_STATIC, whose change is a removal plus an
// addition).
type ModifierChange struct {
	Sig      classfile.Sig
	Field    bool
	Old, New uint16
}

// ChangeSet is the result of Diff. Added members point into the new class
// file, removed members into the old one.
type ChangeSet struct {
	Class string

	FieldsAdded    []*classfile.Member
	FieldsRemoved  []Removal
	MethodsAdded   []*classfile.Member
	MethodsRemoved []Removal
	BodiesChanged  []classfile.Sig
	Modifiers      []ModifierChange

	// OldSuper and NewSuper differ when the superclass changed.
	OldSuper, NewSuper string
	InterfacesAdded    []string
	InterfacesRemoved  []string
}

// SuperChanged reports whether the superclass changed.
func (c *ChangeSet) SuperChanged() bool { return c.OldSuper != c.NewSuper }

// HierarchyChanged reports whether the superclass or interfaces changed.
func (c *ChangeSet) HierarchyChanged() bool {
	return c.SuperChanged() || len(c.InterfacesAdded) > 0 || len(c.InterfacesRemoved) > 0
}

// Structural reports whether the change needs more than a body swap.
func (c *ChangeSet) Structural() bool {
	return len(c.FieldsAdded) > 0 || len(c.FieldsRemoved) > 0 ||
		len(c.MethodsAdded) > 0 || len(c.MethodsRemoved) > 0 ||
		len(c.Modifiers) > 0 || c.HierarchyChanged()
}

// Empty reports whether the definitions are equivalent.
func (c *ChangeSet) Empty() bool {
	return !c.Structural() && len(c.BodiesChanged) == 0
}

func (c *ChangeSet) String() string {
	return fmt.Sprintf("%s: +%d/-%d fields, +%d/-%d methods, %d bodies, %d modifiers",
		c.Class, len(c.FieldsAdded), len(c.FieldsRemoved),
		len(c.MethodsAdded), len(c.MethodsRemoved), len(c.BodiesChanged), len(c.Modifiers))
}

// Diff compares the old and new definitions of a class. Members are matched
// by name and descriptor. snap supplies the loaded subclasses and the
// classes referring to removed members.
func Diff(old, new *classfile.ClassFile, snap *hierarchy.Snapshot) (*ChangeSet, error) {
	name := old.Name()
	if new.Name() != name {
		return nil, fmt.Errorf("diff: comparing %s with %s", name, new.Name())
	}
	if old.IsInterface() != new.IsInterface() {
		return nil, &UnsupportedHierarchyChangeError{
			Class:   name,
			Kind:    KindClassKind,
			Message: "class and interface cannot be swapped",
		}
	}

	cs := &ChangeSet{Class: name, OldSuper: old.SuperName(), NewSuper: new.SuperName()}
	if cs.SuperChanged() {
		if err := checkSuper(cs, snap); err != nil {
			return nil, err
		}
	}
	oldIfaces, newIfaces := old.InterfaceNames(), new.InterfaceNames()
	for _, i := range newIfaces {
		if !slices.Contains(oldIfaces, i) {
			cs.InterfacesAdded = append(cs.InterfacesAdded, i)
		}
	}
	for _, i := range oldIfaces {
		if !slices.Contains(newIfaces, i) {
			cs.InterfacesRemoved = append(cs.InterfacesRemoved, i)
		}
	}

	for _, f := range new.Fields {
		of := old.Field(f.Sig())
		switch {
		case of == nil || of.IsStatic() != f.IsStatic():
			cs.FieldsAdded = append(cs.FieldsAdded, f)
		case of.AccessFlags != f.AccessFlags:
			cs.Modifiers = append(cs.Modifiers, ModifierChange{Sig: f.Sig(), Field: true, Old: of.AccessFlags, New: f.AccessFlags})
		}
	}
	for _, f := range old.Fields {
		if nf := new.Field(f.Sig()); nf == nil || nf.IsStatic() != f.IsStatic() {
			cs.FieldsRemoved = append(cs.FieldsRemoved, removal(snap, name, f))
		}
	}

	for _, m := range new.Methods {
		om := old.Method(m.Sig())
		switch {
		case om == nil || om.IsStatic() != m.IsStatic():
			if m.Name == "<init>" {
				return nil, &UnsupportedHierarchyChangeError{
					Class:   name,
					Kind:    KindConstructorAdded,
					Member:  m.Sig().String(),
					Message: "constructors have no native slot to dispatch through",
				}
			}
			cs.MethodsAdded = append(cs.MethodsAdded, m)
			continue
		case om.AccessFlags != m.AccessFlags:
			cs.Modifiers = append(cs.Modifiers, ModifierChange{Sig: m.Sig(), Old: om.AccessFlags, New: m.AccessFlags})
		}
		same, err := sameBody(old, om, new, m)
		if err != nil {
			return nil, err
		}
		if !same {
			cs.BodiesChanged = append(cs.BodiesChanged, m.Sig())
		}
	}
	for _, m := range old.Methods {
		if nm := new.Method(m.Sig()); nm == nil || nm.IsStatic() != m.IsStatic() {
			cs.MethodsRemoved = append(cs.MethodsRemoved, removal(snap, name, m))
		}
	}

	log.Debugf("%s", cs)
	return cs, nil
}

func removal(snap *hierarchy.Snapshot, class string, m *classfile.Member) Removal {
	r := Removal{Member: m}
	if snap != nil {
		r.Referenced = snap.ReferencedBy(class, m.Sig())
	}
	if len(r.Referenced) > 0 {
		log.Warningf("%s.%s removed but still referenced by %s", class, m.Sig(), strings.Join(r.Referenced, ", "))
	}
	return r
}

func checkSuper(cs *ChangeSet, snap *hierarchy.Snapshot) error {
	if snap == nil {
		return nil
	}
	subs := snap.Descendants(cs.Class)
	if len(subs) == 0 {
		return nil
	}
	oldLayout, newLayout := snap.InstanceLayout(cs.OldSuper), snap.InstanceLayout(cs.NewSuper)
	if slices.EqualFunc(oldLayout, newLayout, func(a, b hierarchy.Member) bool { return a.Sig == b.Sig }) {
		return nil
	}
	return &UnsupportedHierarchyChangeError{
		Class: cs.Class,
		Kind:  KindSuperclassLayout,
		Message: fmt.Sprintf("superclass %s -> %s changes the inherited fields of %d loaded subclasses",
			cs.OldSuper, cs.NewSuper, len(subs)),
	}
}

// sameBody compares two method bodies with constant pool references
// resolved, so that pool renumbering alone is not a change.
func sameBody(oc *classfile.ClassFile, om *classfile.Member, nc *classfile.ClassFile, nm *classfile.Member) (bool, error) {
	if om.Attribute(classfile.AttrCode) == nil || nm.Attribute(classfile.AttrCode) == nil {
		return classfile.SameCode(om, nm), nil
	}
	a, err := fingerprint(oc, om)
	if err != nil {
		return false, err
	}
	b, err := fingerprint(nc, nm)
	if err != nil {
		return false, err
	}
	return a == b, nil
}
