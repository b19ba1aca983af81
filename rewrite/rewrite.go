// Package rewrite turns the new definition of a loaded class into one the
// host can install in place of the old: the same fields, the same method
// set, new bodies. Added members move out of the class: fields into side
// table slots, methods into generated companion classes. Every call site
// that reaches an added member is replaced by a trampoline.
package rewrite

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/diff"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/sidetable"
)

var log = commonlog.GetLogger("hotswap.rewrite")

// Runtime support classes installed in the host by the agent.
const (
	SlotsClass    = "hotswap/runtime/Slots"
	DispatchClass = "hotswap/runtime/Dispatch"
)

// Body is a method whose code is pending assembly. Code uses File's pool.
type Body struct {
	File   *classfile.ClassFile
	Member *classfile.Member
	Code   *classfile.Code
}

func (b *Body) String() string {
	return fmt.Sprintf("%s.%s", b.File.Name(), b.Member.Sig())
}

// Relocation records a replaced instruction sequence. Labels bound to
// Old[0] move to Anchor: New[0] for trampolines, Old[0] itself when code
// was inserted in front of an instruction.
type Relocation struct {
	Body   *Body
	Old    []*classfile.Instruction
	New    []*classfile.Instruction
	Anchor *classfile.Instruction
}

// Generated is a class produced by the engine.
type Generated struct {
	Name   string
	Owner  host.ClassID // class it serves; its loader defines the generated class
	File   *classfile.ClassFile
	Bodies []*Body

	// Existing marks classes defined by an earlier batch; they are
	// redefined instead of defined.
	Existing bool
}

// Patch is the outcome of rewriting one class.
type Patch struct {
	Class       host.ClassID
	File        *classfile.ClassFile
	Bodies      []*Body
	Generated   []*Generated
	Relocations []Relocation
	Delta       *sidetable.Delta
	Warnings    []string
}

func (p *Patch) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("%s: %s", p.Class, msg)
	p.Warnings = append(p.Warnings, msg)
}

// AllBodies returns the bodies of the class and of its generated classes.
func (p *Patch) AllBodies() []*Body {
	out := append([]*Body(nil), p.Bodies...)
	for _, g := range p.Generated {
		out = append(out, g.Bodies...)
	}
	return out
}

// Unit is one class of a batch.
type Unit struct {
	ID       host.ClassID
	Physical *classfile.ClassFile // shape installed in the host
	Logical  *classfile.ClassFile // new definition
	Changes  *diff.ChangeSet

	// Set by Prepare.
	Table *sidetable.Table
	Delta *sidetable.Delta
}

// Prepare stages the side table of every unit: each logical member the
// physical class lacks (or declares with the other static flag) gets an
// entry, and entries for members gone from the logical class retire.
// Static initializers cannot be added and are skipped.
func Prepare(tx *sidetable.Txn, units []*Unit) {
	for _, u := range units {
		var want []sidetable.Decl
		for _, f := range u.Logical.Fields {
			if pf := u.Physical.Field(f.Sig()); pf != nil && pf.IsStatic() == f.IsStatic() {
				continue
			}
			d := sidetable.Decl{Kind: sidetable.InstanceSlot, Sig: f.Sig(), Access: f.AccessFlags}
			if f.IsStatic() {
				d.Kind = sidetable.StaticSlot
				d.Default = constantValue(u.Logical, f)
			}
			if d.Default == nil {
				d.Default = classfile.ZeroValue(f.Descriptor)
			}
			want = append(want, d)
		}
		for _, m := range u.Logical.Methods {
			if pm := u.Physical.Method(m.Sig()); pm != nil && pm.IsStatic() == m.IsStatic() {
				continue
			}
			if m.Name == "<clinit>" {
				log.Infof("%s: static initializer added; it will not run", u.ID)
				continue
			}
			want = append(want, sidetable.Decl{Kind: sidetable.Method, Sig: m.Sig(), Access: m.AccessFlags})
		}
		u.Delta = tx.Reconcile(u.ID, want)
		u.Table = tx.Table(u.ID)
	}
}

// constantValue returns the ConstantValue of a static field, or nil.
func constantValue(cf *classfile.ClassFile, f *classfile.Member) any {
	a := f.Attribute(classfile.AttrConstantValue)
	if a == nil || len(a.Info) != 2 {
		return nil
	}
	c, err := cf.Pool.Get(uint16(a.Info[0])<<8 | uint16(a.Info[1]))
	if err != nil {
		return nil
	}
	switch c.Tag {
	case classfile.TagInteger:
		return int32(uint32(c.Value))
	case classfile.TagLong:
		return int64(c.Value)
	case classfile.TagString:
		s, err := cf.Pool.Utf8(c.Ref1)
		if err != nil {
			return nil
		}
		return s
	}
	return nil
}

// Input is everything Apply needs for one class.
type Input struct {
	Unit  *Unit
	World *World

	// HierarchyChanges lets the emitted class take the new superclass and
	// interfaces. Without it the physical hierarchy is kept.
	HierarchyChanges bool
}

// Apply rewrites one prepared unit.
func Apply(in Input) (*Patch, error) {
	u := in.Unit
	if u.Table == nil {
		return nil, fmt.Errorf("rewrite: %s: unit not prepared", u.ID)
	}
	out := u.Physical.Clone()
	p := &Patch{Class: u.ID, File: out, Delta: u.Delta}

	rm, err := classfile.NewRemapper(u.Logical, out)
	if err != nil {
		return nil, fmt.Errorf("rewrite: %s: %w", u.ID, err)
	}
	for _, pm := range out.Methods {
		if err := replaceMethod(p, rm, u, pm); err != nil {
			return nil, fmt.Errorf("rewrite: %s.%s: %w", u.ID, pm.Sig(), err)
		}
	}
	if err := rm.Finish(); err != nil {
		return nil, fmt.Errorf("rewrite: %s: %w", u.ID, err)
	}
	if err := supertypes(p, u, in.HierarchyChanges); err != nil {
		return nil, err
	}

	for _, g := range u.Table.Generations() {
		gen, err := companion(p, u, g)
		if err != nil {
			return nil, fmt.Errorf("rewrite: %s companion %d: %w", u.ID, g, err)
		}
		p.Generated = append(p.Generated, gen)
	}

	for _, b := range p.AllBodies() {
		if err := trampolines(p, b, in.World); err != nil {
			return nil, fmt.Errorf("rewrite: %s: %w", b, err)
		}
	}
	log.Debugf("%s: %d bodies, %d generated classes, %d relocations",
		u.ID, len(p.Bodies), len(p.Generated), len(p.Relocations))
	return p, nil
}

// Link rewrites a class defined after earlier batches. Its own members
// are all physical; accesses to members added to other classes are
// replaced by trampolines. cf is left untouched.
func Link(id host.ClassID, cf *classfile.ClassFile, w *World) (*Patch, error) {
	out := cf.Clone()
	p := &Patch{Class: id, File: out}
	for _, m := range out.Methods {
		if m.Attribute(classfile.AttrCode) == nil {
			continue
		}
		code, err := out.Code(m)
		if err != nil {
			return nil, fmt.Errorf("rewrite: %s.%s: %w", id, m.Sig(), err)
		}
		b := &Body{File: out, Member: m, Code: code}
		if err := trampolines(p, b, w); err != nil {
			return nil, fmt.Errorf("rewrite: %s: %w", b, err)
		}
		p.Bodies = append(p.Bodies, b)
	}
	return p, nil
}

// replaceMethod gives a physical method the body of its logical
// counterpart. Flags, name and descriptor stay those of the physical
// method.
func replaceMethod(p *Patch, rm *classfile.Remapper, u *Unit, pm *classfile.Member) error {
	if pm.Attribute(classfile.AttrCode) == nil {
		return nil
	}
	lm := u.Logical.Method(pm.Sig())
	if lm == nil || lm.IsStatic() != pm.IsStatic() {
		code, err := Throwing(p.File.Pool, pm, NoSuchMethodError, fmt.Sprintf("%s.%s", u.ID.Name, pm.Sig()))
		if err != nil {
			return err
		}
		p.Bodies = append(p.Bodies, &Body{File: p.File, Member: pm, Code: code})
		return nil
	}
	if lm.Attribute(classfile.AttrCode) == nil {
		if lm.Is(classfile.AccNative) {
			p.warnf("%s became native; keeping the previous body", pm.Sig())
			return nil
		}
		code, err := Throwing(p.File.Pool, pm, AbstractMethodError, fmt.Sprintf("%s.%s", u.ID.Name, pm.Sig()))
		if err != nil {
			return err
		}
		p.Bodies = append(p.Bodies, &Body{File: p.File, Member: pm, Code: code})
		return nil
	}

	var attrs []*classfile.Attribute
	for _, a := range lm.Attributes {
		if a.Name == classfile.AttrCode {
			continue
		}
		out, ok, err := rm.Attribute(a)
		if err != nil {
			return err
		}
		if ok {
			attrs = append(attrs, out)
		}
	}
	code, err := u.Logical.Code(lm)
	if err != nil {
		return err
	}
	if err := rm.Code(code); err != nil {
		return err
	}
	// keep the old Code attribute in place until the body is assembled
	old := pm.Attribute(classfile.AttrCode)
	pm.Attributes = append([]*classfile.Attribute{old}, attrs...)
	p.Bodies = append(p.Bodies, &Body{File: p.File, Member: pm, Code: code})
	return nil
}

func supertypes(p *Patch, u *Unit, allowed bool) error {
	cs := u.Changes
	if cs == nil || !cs.HierarchyChanged() {
		return nil
	}
	if !allowed {
		p.warnf("hierarchy change ignored: host cannot redefine supertypes")
		return nil
	}
	super, err := p.File.Pool.AddClass(cs.NewSuper)
	if err != nil {
		return err
	}
	p.File.SuperClass = super
	p.File.Interfaces = nil
	for _, name := range u.Logical.InterfaceNames() {
		i, err := p.File.Pool.AddClass(name)
		if err != nil {
			return err
		}
		p.File.Interfaces = append(p.File.Interfaces, i)
	}
	return nil
}
