// Package fixup reconciles virtual dispatch and code tables after a batch
// has been rewritten, then assembles the classes handed to the host.
//
// An added virtual method has no vtable slot in the host, so calls to it
// go through a generated indirection class whose dispatch method tests the
// receiver against every overriding class, most derived first. When an
// added method overrides a method the host still dispatches natively, the
// overridden method gets a prologue that forwards matching receivers to
// the added implementation.
package fixup

import (
	"fmt"
	"slices"
	"sort"

	"github.com/tliron/commonlog"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/internal/opcode"
	"github.com/skdltmxn/hotswap-go/rewrite"
	"github.com/skdltmxn/hotswap-go/sidetable"
)

var log = commonlog.GetLogger("hotswap.fixup")

// MethodKey names a physical method.
type MethodKey struct {
	Class string
	Sig   classfile.Sig
}

// DispatchResult is the outcome of Dispatch.
type DispatchResult struct {
	// Indirections are the regenerated indirection classes.
	Indirections []*rewrite.Generated

	// Prologued lists the physical methods that carry a dispatch prologue
	// once the batch is installed. Pass it to the next Dispatch call.
	Prologued map[MethodKey]bool
}

// Roots returns the classes outside the batch whose physical methods need
// their dispatch prologue regenerated because a batch class added or
// retired an overriding method. Call it after rewrite.Prepare.
func Roots(w *rewrite.World, units []*rewrite.Unit) []string {
	inBatch := make(map[string]bool, len(units))
	for _, u := range units {
		inBatch[u.ID.Name] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, u := range units {
		if u.Delta == nil {
			continue
		}
		changed := append(append([]*sidetable.Entry(nil), u.Delta.Added...), u.Delta.Retired...)
		for _, e := range changed {
			if !e.IsVirtual() {
				continue
			}
			p, ok := nearestPhysical(w, u.ID.Name, e.Sig)
			if !ok || inBatch[p] || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// nearestPhysical finds the closest superclass of class that physically
// declares a concrete virtual method sig.
func nearestPhysical(w *rewrite.World, class string, sig classfile.Sig) (string, bool) {
	for _, s := range w.Physical.Superclasses(class) {
		c := w.Physical.Class(s)
		if c == nil {
			return "", false
		}
		m, ok := c.Method(sig)
		if !ok || m.IsStatic() || m.IsPrivate() {
			continue
		}
		if m.IsAbstract() || m.Access&classfile.AccNative != 0 {
			return "", false
		}
		return s, true
	}
	return "", false
}

// Dispatch injects dispatch prologues into the batch's physical methods,
// marks super calls that reach a prologued method and builds the
// indirection classes of every declaring class the batch touches.
// prologued is the set returned by the previous batch; a prologue once
// injected stays, possibly with no receivers to test.
func Dispatch(w *rewrite.World, patches []*rewrite.Patch, prologued map[MethodKey]bool) (*DispatchResult, error) {
	res := &DispatchResult{Prologued: make(map[MethodKey]bool)}
	inBatch := make(map[string]bool, len(patches))
	for _, p := range patches {
		inBatch[p.Class.Name] = true
	}
	for k := range prologued {
		if !inBatch[k.Class] {
			res.Prologued[k] = true
		}
	}

	for _, p := range patches {
		for _, b := range p.Bodies {
			m := b.Member
			if m.IsStatic() || m.IsPrivate() || m.Name == "<init>" || m.Name == "<clinit>" {
				continue
			}
			key := MethodKey{Class: p.Class.Name, Sig: m.Sig()}
			over := overriders(w, p.Class.Name, m.Sig())
			if len(over) == 0 && !prologued[key] {
				continue
			}
			if err := inject(p, b, over); err != nil {
				return nil, &DispatchFixupError{Class: p.Class.Name, Member: m.Sig().String(), Kind: KindDispatch, Err: err}
			}
			res.Prologued[key] = true
			log.Debugf("%s.%s: prologue with %d receivers", p.Class.Name, m.Sig(), len(over))
		}
	}

	for _, p := range patches {
		for _, b := range p.AllBodies() {
			if err := superCalls(p, b, w, res.Prologued); err != nil {
				return nil, &DispatchFixupError{Class: p.Class.Name, Member: b.Member.Sig().String(), Kind: KindDispatch, Err: err}
			}
		}
	}

	declarers := make(map[string]bool)
	for _, p := range patches {
		declarers[p.Class.Name] = true
		for _, s := range w.Logical.Supertypes(p.Class.Name) {
			declarers[s] = true
		}
	}
	names := make([]string, 0, len(declarers))
	for d := range declarers {
		names = append(names, d)
	}
	sort.Strings(names)
	gens, err := indirections(w, names, inBatch)
	if err != nil {
		return nil, err
	}
	res.Indirections = gens
	return res, nil
}

// indirections builds every indirection class of the named declarers.
// Those of classes outside inBatch, and older generations of those in it,
// already exist in the host.
func indirections(w *rewrite.World, names []string, inBatch map[string]bool) ([]*rewrite.Generated, error) {
	var out []*rewrite.Generated
	for _, d := range names {
		t := w.Tables(d)
		if t == nil {
			continue
		}
		for _, g := range virtualGenerations(t) {
			gen, err := indirection(w, d, t, g, !inBatch[d] || g < t.Generation())
			if err != nil {
				return nil, &DispatchFixupError{Class: d, Kind: KindDispatch, Message: fmt.Sprintf("indirection %d", g), Err: err}
			}
			out = append(out, gen)
		}
	}
	return out, nil
}

func virtualGenerations(t *sidetable.Table) []int {
	var out []int
	for _, e := range t.Entries() {
		if e.IsVirtual() && (len(out) == 0 || out[len(out)-1] != e.Introduced) {
			out = append(out, e.Introduced)
		}
	}
	return out
}

// override is an added method overriding a physical one.
type override struct {
	class string
	entry *sidetable.Entry
	table *sidetable.Table
}

// overriders returns the classes below p whose added method sig overrides
// p's physical method with nothing physical in between, deepest first.
func overriders(w *rewrite.World, p string, sig classfile.Sig) []override {
	var out []override
	for _, c := range w.Logical.Descendants(p) {
		info := w.Logical.Class(c)
		if info == nil || info.IsInterface() {
			continue
		}
		t := w.Tables(c)
		if t == nil {
			continue
		}
		e, ok := t.Method(sig)
		if !ok || !e.IsVirtual() {
			continue
		}
		if decl, ok := nearestPhysical(w, c, sig); !ok || decl != p {
			continue
		}
		if !w.Logical.Overrides(c, p, sig) {
			continue
		}
		out = append(out, override{class: c, entry: e, table: t})
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := w.Logical.Depth(out[i].class), w.Logical.Depth(out[j].class)
		if di != dj {
			return di > dj
		}
		return out[i].class < out[j].class
	})
	return out
}

// loadArgs pushes the parameters of mt starting at slot.
func loadArgs(mt classfile.MethodType, slot int) []*classfile.Instruction {
	var out []*classfile.Instruction
	for _, p := range mt.Params {
		out = append(out, classfile.LocalInsn(classfile.LoadOp(p), uint16(slot)))
		slot += classfile.Slots(p)
	}
	return out
}

// verificationType returns the stack map type of a parameter.
func verificationType(pool *classfile.ConstantPool, desc string) (classfile.VerificationType, error) {
	switch desc {
	case "Z", "B", "C", "S", "I":
		return classfile.VerificationType{Tag: classfile.VerifyInteger}, nil
	case "J":
		return classfile.VerificationType{Tag: classfile.VerifyLong}, nil
	case "F":
		return classfile.VerificationType{Tag: classfile.VerifyFloat}, nil
	case "D":
		return classfile.VerificationType{Tag: classfile.VerifyDouble}, nil
	}
	i, err := pool.AddClass(classfile.ClassOf(desc))
	if err != nil {
		return classfile.VerificationType{}, err
	}
	return classfile.VerificationType{Tag: classfile.VerifyObject, Index: i}, nil
}

// inject prepends the dispatch prologue to b:
//
//	invokestatic Dispatch.consumeSuper()Z; ifne body
//	aload_0; instanceof C; ifeq next; aload_0; checkcast C; <args>
//	invokestatic C$$Hotswap$g.m(LC;...); return
//	next: ...
//	body: <original code>
//
// Labels of the original first instruction stay on it, so branches and
// exception ranges never cover the prologue.
func inject(p *rewrite.Patch, b *rewrite.Body, over []override) error {
	code := b.Code
	if len(code.Insns) == 0 {
		return fmt.Errorf("empty body")
	}
	pool := b.File.Pool
	first := code.Insns[0]
	mt, err := classfile.ParseMethodDescriptor(b.Member.Descriptor)
	if err != nil {
		return err
	}
	consume, err := pool.AddMethodref(rewrite.DispatchClass, classfile.Sig{Name: "consumeSuper", Descriptor: "()Z"})
	if err != nil {
		return err
	}
	body := code.LabelOf(first)
	seq := []*classfile.Instruction{
		classfile.ConstInsn(opcode.INVOKESTATIC, consume),
		classfile.BranchInsn(opcode.IFNE, body),
	}

	var nexts []*classfile.Label
	var starts []*classfile.Instruction
	for _, o := range over {
		cls, err := pool.AddClass(o.class)
		if err != nil {
			return err
		}
		target, err := pool.AddMethodref(o.table.Companion(o.entry),
			classfile.Sig{Name: o.entry.Sig.Name, Descriptor: mt.WithReceiver(o.class).String()})
		if err != nil {
			return err
		}
		next := code.NewLabel()
		start := classfile.LocalInsn(opcode.ALOAD, 0)
		seq = append(seq,
			start,
			classfile.ConstInsn(opcode.INSTANCEOF, cls),
			classfile.BranchInsn(opcode.IFEQ, next),
			classfile.LocalInsn(opcode.ALOAD, 0),
			classfile.ConstInsn(opcode.CHECKCAST, cls),
		)
		seq = append(seq, loadArgs(mt, 1)...)
		seq = append(seq, classfile.ConstInsn(opcode.INVOKESTATIC, target), classfile.Insn(classfile.ReturnOp(mt.Return)))
		nexts = append(nexts, next)
		starts = append(starts, start)
	}
	for i, next := range nexts {
		if i+1 < len(starts) {
			next.Insn = starts[i+1]
		} else {
			next.Insn = first
		}
	}

	if b.File.MajorVersion >= classfile.MajorJava6 {
		if err := prologueFrames(p, b, mt, starts, first); err != nil {
			return err
		}
	}
	if need := uint16(1 + mt.ArgSlots()); code.MaxStack < need {
		code.MaxStack = need
	}
	if code.MaxStack < 2 {
		code.MaxStack = 2
	}

	code.Insns = slices.Concat(seq, code.Insns)
	p.Relocations = append(p.Relocations, rewrite.Relocation{
		Body:   b,
		Old:    []*classfile.Instruction{first},
		New:    slices.Concat(seq, []*classfile.Instruction{first}),
		Anchor: first,
	})
	return nil
}

// prologueFrames adds full frames at every branch target of the prologue.
// The frames equal the implicit initial frame, so the relative frames of
// the original code keep their meaning.
func prologueFrames(p *rewrite.Patch, b *rewrite.Body, mt classfile.MethodType, starts []*classfile.Instruction, first *classfile.Instruction) error {
	code := b.Code
	pool := b.File.Pool
	this, err := pool.AddClass(p.Class.Name)
	if err != nil {
		return err
	}
	locals := []classfile.VerificationType{{Tag: classfile.VerifyObject, Index: this}}
	for _, param := range mt.Params {
		vt, err := verificationType(pool, param)
		if err != nil {
			return err
		}
		locals = append(locals, vt)
	}

	var frames []classfile.Frame
	if len(starts) > 1 {
		for _, s := range starts[1:] {
			frames = append(frames, classfile.FullFrame(code.LabelOf(s), locals, nil))
		}
	}
	hasFrame := false
	for _, f := range code.Frames {
		if f.At != nil && f.At.Insn == first {
			hasFrame = true
			break
		}
	}
	if !hasFrame {
		frames = append(frames, classfile.FullFrame(code.LabelOf(first), locals, nil))
	}
	code.Frames = append(frames, code.Frames...)
	return nil
}

// superCalls handles invokespecial in batch code. A super call reaching a
// prologued method announces itself with Dispatch.enterSuper so the
// prologue steps aside. Added methods live outside the class hierarchy and
// cannot make non-virtual calls; theirs become virtual calls, which reach
// the same physical method because the receiver's class does not
// physically override it.
func superCalls(p *rewrite.Patch, b *rewrite.Body, w *rewrite.World, prologued map[MethodKey]bool) error {
	pool := b.File.Pool
	companion := b.File != p.File
	for _, in := range slices.Clone(b.Code.Insns) {
		if in.Op != opcode.INVOKESPECIAL {
			continue
		}
		ref, err := pool.MemberRef(in.Index)
		if err != nil {
			return err
		}
		if ref.Sig.Name == "<init>" {
			continue
		}
		if !companion && ref.Owner == p.Class.Name {
			// private call within the class
			continue
		}

		var seq []*classfile.Instruction
		decl := physicalDeclarer(w, ref.Owner, ref.Sig)
		if prologued[MethodKey{Class: decl, Sig: ref.Sig}] {
			enter, err := pool.AddMethodref(rewrite.DispatchClass, classfile.Sig{Name: "enterSuper", Descriptor: "()V"})
			if err != nil {
				return err
			}
			seq = append(seq, classfile.ConstInsn(opcode.INVOKESTATIC, enter))
		}
		call := in
		if companion {
			call = &classfile.Instruction{Op: opcode.INVOKEVIRTUAL, Index: in.Index, Offset: -1}
			if ref.Tag == classfile.TagInterfaceMethodref {
				mt, err := classfile.ParseMethodDescriptor(ref.Sig.Descriptor)
				if err != nil {
					return err
				}
				call = classfile.InvokeInterfaceInsn(in.Index, mt.ArgSlots()+1)
			}
		}
		if len(seq) == 0 && call == in {
			continue
		}
		seq = append(seq, call)
		if err := b.Code.Replace(in, seq...); err != nil {
			return err
		}
		p.Relocations = append(p.Relocations, rewrite.Relocation{
			Body:   b,
			Old:    []*classfile.Instruction{in},
			New:    seq,
			Anchor: seq[0],
		})
	}
	return nil
}

// physicalDeclarer returns the class whose physical method a reference
// through owner resolves to.
func physicalDeclarer(w *rewrite.World, owner string, sig classfile.Sig) string {
	for _, c := range append([]string{owner}, w.Physical.Superclasses(owner)...) {
		info := w.Physical.Class(c)
		if info == nil {
			break
		}
		if m, ok := info.Method(sig); ok && !m.IsStatic() {
			return c
		}
	}
	return owner
}
