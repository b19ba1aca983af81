package rewrite

import (
	"fmt"
	"slices"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/internal/opcode"
	"github.com/skdltmxn/hotswap-go/sidetable"
)

// trampolines replaces every access to an added member in b.
func trampolines(p *Patch, b *Body, w *World) error {
	added := false
	for _, in := range slices.Clone(b.Code.Insns) {
		var seq []*classfile.Instruction
		var err error
		switch {
		case in.Op.IsFieldAccess():
			seq, err = fieldAccess(p, b, w, in)
			if seq != nil {
				added = true
			}
		case in.Op.IsInvoke() && in.Op != opcode.INVOKEDYNAMIC:
			seq, err = invoke(p, b, w, in)
		}
		if err != nil {
			return fmt.Errorf("%s at %d: %w", in.Op, in.Offset, err)
		}
		if seq == nil {
			continue
		}
		if err := b.Code.Replace(in, seq...); err != nil {
			return err
		}
		p.Relocations = append(p.Relocations, Relocation{
			Body:   b,
			Old:    []*classfile.Instruction{in},
			New:    seq,
			Anchor: seq[0],
		})
	}
	if added {
		// the member id pushed by every slot trampoline
		b.Code.MaxStack++
	}
	return nil
}

// slotType maps a field descriptor to the slot helper suffix and the type
// the helper traffics in.
func slotType(desc string) (suffix, typ string) {
	switch desc[0] {
	case 'J':
		return "Long", "J"
	case 'F':
		return "Float", "F"
	case 'D':
		return "Double", "D"
	case 'L', '[':
		return "Object", "Ljava/lang/Object;"
	}
	return "Int", "I"
}

func fieldAccess(p *Patch, b *Body, w *World, in *classfile.Instruction) ([]*classfile.Instruction, error) {
	pool := b.File.Pool
	ref, err := pool.MemberRef(in.Index)
	if err != nil {
		return nil, err
	}
	static := in.Op == opcode.GETSTATIC || in.Op == opcode.PUTSTATIC
	t := w.Field(ref.Owner, ref.Sig, static)
	if t.Kind != Slot {
		if b.File != p.File && t.Declarer == p.Class.Name {
			if f := p.File.Field(ref.Sig); f != nil && f.IsPrivate() {
				p.warnf("added method %s reads private field %s", b.Member.Name, ref.Sig)
			}
		}
		return nil, nil
	}
	if (t.Entry.Kind == sidetable.StaticSlot) != static {
		return nil, nil
	}

	suffix, typ := slotType(ref.Sig.Descriptor)
	var sig classfile.Sig
	switch in.Op {
	case opcode.GETFIELD:
		sig = classfile.Sig{Name: "get" + suffix, Descriptor: "(Ljava/lang/Object;I)" + typ}
	case opcode.PUTFIELD:
		sig = classfile.Sig{Name: "put" + suffix, Descriptor: "(Ljava/lang/Object;" + typ + "I)V"}
	case opcode.GETSTATIC:
		sig = classfile.Sig{Name: "getStatic" + suffix, Descriptor: "(I)" + typ}
	case opcode.PUTSTATIC:
		sig = classfile.Sig{Name: "putStatic" + suffix, Descriptor: "(" + typ + "I)V"}
	}
	push, err := classfile.PushInt(pool, int32(t.Entry.ID))
	if err != nil {
		return nil, err
	}
	helper, err := pool.AddMethodref(SlotsClass, sig)
	if err != nil {
		return nil, err
	}
	seq := []*classfile.Instruction{push, classfile.ConstInsn(opcode.INVOKESTATIC, helper)}

	read := in.Op == opcode.GETFIELD || in.Op == opcode.GETSTATIC
	if read && suffix == "Object" && ref.Sig.Descriptor != "Ljava/lang/Object;" {
		cls, err := pool.AddClass(classfile.ClassOf(ref.Sig.Descriptor))
		if err != nil {
			return nil, err
		}
		seq = append(seq, classfile.ConstInsn(opcode.CHECKCAST, cls))
	}
	return seq, nil
}

func invoke(p *Patch, b *Body, w *World, in *classfile.Instruction) ([]*classfile.Instruction, error) {
	pool := b.File.Pool
	ref, err := pool.MemberRef(in.Index)
	if err != nil {
		return nil, err
	}
	if ref.Sig.Name == "<init>" || ref.Sig.Name == "<clinit>" {
		return nil, nil
	}
	t := w.Method(ref.Owner, ref.Sig, in.Op == opcode.INVOKESTATIC)
	if t.Kind == Direct {
		if b.File == p.File {
			return nil, nil
		}
		if m := p.File.Method(ref.Sig); ref.Owner == p.Class.Name && m != nil && m.IsPrivate() {
			p.warnf("added method %s calls private method %s", b.Member.Name, ref.Sig)
		} else if in.Op == opcode.INVOKESPECIAL {
			p.warnf("added method %s makes a non-virtual call to %s.%s", b.Member.Name, ref.Owner, ref.Sig)
		}
		return nil, nil
	}

	e := t.Entry
	owner := t.Table.Companion(e)
	desc := ref.Sig.Descriptor
	if e.Access&classfile.AccStatic == 0 {
		mt, err := classfile.ParseMethodDescriptor(desc)
		if err != nil {
			return nil, err
		}
		desc = mt.WithReceiver(t.Declarer).String()
		if t.Kind == Indirect && (in.Op == opcode.INVOKEVIRTUAL || in.Op == opcode.INVOKEINTERFACE) {
			owner = sidetable.IndirectionName(t.Declarer, e.Introduced)
		}
	}
	idx, err := pool.AddMethodref(owner, classfile.Sig{Name: ref.Sig.Name, Descriptor: desc})
	if err != nil {
		return nil, err
	}
	return []*classfile.Instruction{classfile.ConstInsn(opcode.INVOKESTATIC, idx)}, nil
}
