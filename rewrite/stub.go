package rewrite

import (
	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/internal/opcode"
)

// Errors thrown by generated stubs.
const (
	NoSuchMethodError   = "java/lang/NoSuchMethodError"
	AbstractMethodError = "java/lang/AbstractMethodError"
)

// Throwing builds a body for m that throws exc with the given message:
//
//	new exc; dup; ldc msg; invokespecial exc.<init>(String); athrow
func Throwing(pool *classfile.ConstantPool, m *classfile.Member, exc, msg string) (*classfile.Code, error) {
	mt, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	locals := mt.ArgSlots()
	if !m.IsStatic() {
		locals++
	}
	seq, err := ThrowSequence(pool, exc, msg)
	if err != nil {
		return nil, err
	}

	code := classfile.NewCode(3, uint16(locals))
	code.Append(seq...)
	return code, nil
}

// ThrowSequence returns the instructions of Throwing for use inside a
// larger body. It needs three stack slots.
func ThrowSequence(pool *classfile.ConstantPool, exc, msg string) ([]*classfile.Instruction, error) {
	class, err := pool.AddClass(exc)
	if err != nil {
		return nil, err
	}
	str, err := pool.AddString(msg)
	if err != nil {
		return nil, err
	}
	ctor, err := pool.AddMethodref(exc, classfile.Sig{Name: "<init>", Descriptor: "(Ljava/lang/String;)V"})
	if err != nil {
		return nil, err
	}
	return []*classfile.Instruction{
		classfile.ConstInsn(opcode.NEW, class),
		classfile.Insn(opcode.DUP),
		classfile.ConstInsn(opcode.LDC, str),
		classfile.ConstInsn(opcode.INVOKESPECIAL, ctor),
		classfile.Insn(opcode.ATHROW),
	}, nil
}
