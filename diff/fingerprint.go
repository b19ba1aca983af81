package diff

import (
	"fmt"
	"strings"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/internal/opcode"
)

// fingerprint renders a method body with every constant pool index replaced
// by the constant it denotes and every label by an instruction index.
func fingerprint(cf *classfile.ClassFile, m *classfile.Member) (string, error) {
	code, err := cf.Code(m)
	if err != nil {
		return "", err
	}
	pos := make(map[*classfile.Instruction]int, len(code.Insns))
	for i, in := range code.Insns {
		pos[in] = i
	}
	label := func(l *classfile.Label) string {
		if l == nil || l.Insn == nil {
			return "end"
		}
		return fmt.Sprint(pos[l.Insn])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "stack=%d locals=%d\n", code.MaxStack, code.MaxLocals)
	for _, in := range code.Insns {
		b.WriteString(in.Op.String())
		switch in.Op.Kind() {
		case opcode.KindConst8, opcode.KindConst16, opcode.KindInvokeInterface,
			opcode.KindInvokeDynamic, opcode.KindMultiANewArray:
			fmt.Fprintf(&b, " %s %d", constant(cf.Pool, in.Index), in.Value)
		case opcode.KindLocal, opcode.KindIinc:
			fmt.Fprintf(&b, " %d %d", in.Index, in.Value)
		case opcode.KindByte, opcode.KindShort, opcode.KindNewArray:
			fmt.Fprintf(&b, " %d", in.Value)
		case opcode.KindBranch, opcode.KindBranchWide:
			fmt.Fprintf(&b, " ->%s", label(in.Target))
		case opcode.KindTableSwitch, opcode.KindLookupSwitch:
			fmt.Fprintf(&b, " low=%d keys=%v default=%s", in.Low, in.Keys, label(in.Default))
			for _, t := range in.Targets {
				b.WriteString(" " + label(t))
			}
		}
		b.WriteByte('\n')
	}
	for _, h := range code.Handlers {
		catch := "any"
		if h.CatchType != 0 {
			catch = constant(cf.Pool, h.CatchType)
		}
		fmt.Fprintf(&b, "try %s-%s -> %s %s\n", label(h.Start), label(h.End), label(h.Handler), catch)
	}
	return b.String(), nil
}

func constant(pool *classfile.ConstantPool, i uint16) string {
	c, err := pool.Get(i)
	if err != nil {
		return fmt.Sprintf("#%d?", i)
	}
	utf := func(j uint16) string {
		s, _ := pool.Utf8(j)
		return s
	}
	switch c.Tag {
	case classfile.TagUtf8:
		return string(c.Bytes)
	case classfile.TagClass, classfile.TagString, classfile.TagMethodType,
		classfile.TagModule, classfile.TagPackage:
		return fmt.Sprintf("%s:%s", c.Tag, utf(c.Ref1))
	case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
		ref, err := pool.MemberRef(i)
		if err != nil {
			return fmt.Sprintf("#%d?", i)
		}
		return fmt.Sprintf("%s:%s.%s", c.Tag, ref.Owner, ref.Sig)
	case classfile.TagNameAndType:
		return utf(c.Ref1) + ":" + utf(c.Ref2)
	case classfile.TagMethodHandle:
		return fmt.Sprintf("%s:%d:%s", c.Tag, c.Kind, constant(pool, c.Ref2))
	case classfile.TagDynamic, classfile.TagInvokeDynamic:
		return fmt.Sprintf("%s:%d:%s", c.Tag, c.Ref1, constant(pool, c.Ref2))
	}
	return fmt.Sprintf("%s:%x", c.Tag, c.Value)
}
