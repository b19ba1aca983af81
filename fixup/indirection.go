package fixup

import (
	"fmt"
	"sort"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/hierarchy"
	"github.com/skdltmxn/hotswap-go/internal/opcode"
	"github.com/skdltmxn/hotswap-go/rewrite"
	"github.com/skdltmxn/hotswap-go/sidetable"
)

// link is one receiver test of a dispatch method.
type link struct {
	receiver string
	impl     string // class providing the implementation
	depth    int
}

// indirection builds the class holding the dispatch methods of every
// virtual entry d introduced in generation g. The class is verified
// without stack map frames, so its dispatch chains need none.
func indirection(w *rewrite.World, d string, t *sidetable.Table, g int, existing bool) (*rewrite.Generated, error) {
	name := sidetable.IndirectionName(d, g)
	cf, err := classfile.NewBuilder(classfile.MajorJava5,
		classfile.AccPublic|classfile.AccSuper|classfile.AccFinal|classfile.AccSynthetic,
		name, "java/lang/Object").Build()
	if err != nil {
		return nil, err
	}
	gen := &rewrite.Generated{Name: name, Owner: t.Class(), File: cf, Existing: existing}

	for _, e := range t.Entries() {
		if !e.IsVirtual() || e.Introduced != g {
			continue
		}
		mt, err := classfile.ParseMethodDescriptor(e.Sig.Descriptor)
		if err != nil {
			return nil, err
		}
		m, err := classfile.NewMember(cf.Pool, classfile.AccPublic|classfile.AccStatic|classfile.AccSynthetic,
			classfile.Sig{Name: e.Sig.Name, Descriptor: mt.WithReceiver(d).String()})
		if err != nil {
			return nil, err
		}
		var code *classfile.Code
		if e.Active() {
			code, err = dispatchBody(w, cf.Pool, d, t, e, mt)
		} else {
			code, err = rewrite.Throwing(cf.Pool, m, rewrite.NoSuchMethodError, fmt.Sprintf("%s.%s", d, e.Sig))
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Sig, err)
		}
		cf.Methods = append(cf.Methods, m)
		gen.Bodies = append(gen.Bodies, &rewrite.Body{File: cf, Member: m, Code: code})
	}
	return gen, nil
}

// links lists the receivers that select an implementation other than d's
// own. A receiver inheriting the implementation its superclass already
// tests for is left to that test.
func links(w *rewrite.World, d string, sig classfile.Sig) []link {
	var out []link
	for _, r := range w.Logical.Descendants(d) {
		info := w.Logical.Class(r)
		if info == nil || info.IsInterface() {
			continue
		}
		impl, ok := w.Logical.Select(r, d, sig)
		if !ok || impl.Class == d || impl.Method.IsAbstract() {
			continue
		}
		if s := info.Super; s != "" && s != d && w.Logical.IsSubtype(s, d) {
			if inherited, ok := w.Logical.Select(s, d, sig); ok && inherited.Class == impl.Class {
				continue
			}
		}
		out = append(out, link{receiver: r, impl: impl.Class, depth: w.Logical.Depth(r)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].depth != out[j].depth {
			return out[i].depth > out[j].depth
		}
		return out[i].receiver < out[j].receiver
	})
	return out
}

// dispatchBody tests the receiver against every overriding class, most
// derived first, and falls back to d's own implementation:
//
//	aload_0; instanceof R; ifeq next; aload_0; checkcast C; <args>; invoke C.m; return
//	next: ...
//	aload_0; <args>; invokestatic D$$Hotswap$g.m; return
func dispatchBody(w *rewrite.World, pool *classfile.ConstantPool, d string, t *sidetable.Table, e *sidetable.Entry, mt classfile.MethodType) (*classfile.Code, error) {
	slots := mt.ArgSlots() + 1
	code := classfile.NewCode(uint16(max(slots, 3)), uint16(slots))
	ret := classfile.Insn(classfile.ReturnOp(mt.Return))

	for _, l := range links(w, d, e.Sig) {
		call, err := implCall(w, pool, l.impl, e.Sig, mt)
		if err != nil {
			return nil, err
		}
		if call == nil {
			log.Warningf("%s.%s: no implementation found in %s", d, e.Sig, l.impl)
			continue
		}
		recv, err := pool.AddClass(l.receiver)
		if err != nil {
			return nil, err
		}
		cast, err := pool.AddClass(l.impl)
		if err != nil {
			return nil, err
		}
		next := code.NewLabel()
		code.Append(
			classfile.LocalInsn(opcode.ALOAD, 0),
			classfile.ConstInsn(opcode.INSTANCEOF, recv),
			classfile.BranchInsn(opcode.IFEQ, next),
			classfile.LocalInsn(opcode.ALOAD, 0),
			classfile.ConstInsn(opcode.CHECKCAST, cast),
		)
		code.Append(loadArgs(mt, 1)...)
		code.Append(call, classfile.Insn(ret.Op))
		code.Mark(next)
	}

	var lm hierarchy.Member
	ok := false
	if info := w.Logical.Class(d); info != nil {
		lm, ok = info.Method(e.Sig)
	}
	if !ok || lm.IsAbstract() {
		seq, err := rewrite.ThrowSequence(pool, rewrite.AbstractMethodError, fmt.Sprintf("%s.%s", d, e.Sig))
		if err != nil {
			return nil, err
		}
		code.Append(seq...)
		return code, nil
	}
	target, err := pool.AddMethodref(t.Companion(e), classfile.Sig{Name: e.Sig.Name, Descriptor: mt.WithReceiver(d).String()})
	if err != nil {
		return nil, err
	}
	code.Append(classfile.LocalInsn(opcode.ALOAD, 0))
	code.Append(loadArgs(mt, 1)...)
	code.Append(classfile.ConstInsn(opcode.INVOKESTATIC, target), ret)
	return code, nil
}

// implCall returns the call that runs impl's method with a receiver of
// type impl on the stack: a virtual call for a physical method, a
// companion call for an added one. It returns nil when impl provides
// neither.
func implCall(w *rewrite.World, pool *classfile.ConstantPool, impl string, sig classfile.Sig, mt classfile.MethodType) (*classfile.Instruction, error) {
	if info := w.Physical.Class(impl); info != nil {
		if m, ok := info.Method(sig); ok && !m.IsStatic() {
			if info.IsInterface() {
				idx, err := pool.AddInterfaceMethodref(impl, sig)
				if err != nil {
					return nil, err
				}
				return classfile.InvokeInterfaceInsn(idx, mt.ArgSlots()+1), nil
			}
			idx, err := pool.AddMethodref(impl, sig)
			if err != nil {
				return nil, err
			}
			return classfile.ConstInsn(opcode.INVOKEVIRTUAL, idx), nil
		}
	}
	t := w.Tables(impl)
	if t == nil {
		return nil, nil
	}
	e, ok := t.Method(sig)
	if !ok || !e.IsVirtual() {
		return nil, nil
	}
	idx, err := pool.AddMethodref(t.Companion(e), classfile.Sig{Name: sig.Name, Descriptor: mt.WithReceiver(impl).String()})
	if err != nil {
		return nil, err
	}
	return classfile.ConstInsn(opcode.INVOKESTATIC, idx), nil
}
