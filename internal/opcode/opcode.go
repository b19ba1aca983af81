// Package opcode describes the JVM instruction set: opcode values, mnemonics
// and the shape of each instruction's operands.
package opcode

import "fmt"

// Op is a single JVM opcode.
type Op uint8

// Kind classifies the operand layout that follows an opcode.
type Kind uint8

const (
	KindInvalid         Kind = iota
	KindNone                 // no operands
	KindLocal                // u1 local index (u2 under wide)
	KindByte                 // s1 immediate
	KindShort                // s2 immediate
	KindConst8               // u1 constant pool index
	KindConst16              // u2 constant pool index
	KindInvokeInterface      // u2 index, u1 count, u1 zero
	KindInvokeDynamic        // u2 index, u2 zero
	KindMultiANewArray       // u2 index, u1 dimensions
	KindNewArray             // u1 array type
	KindIinc                 // u1 local, s1 delta (u2, s2 under wide)
	KindBranch               // s2 branch offset
	KindBranchWide           // s4 branch offset
	KindTableSwitch          // padded default, low, high, offsets
	KindLookupSwitch         // padded default, npairs, pairs
	KindWide                 // prefix modifying the next instruction
)

type info struct {
	name string
	kind Kind
}

// Valid reports whether op is a defined opcode.
func (op Op) Valid() bool {
	return table[op].kind != KindInvalid
}

// Kind returns the operand layout of op.
func (op Op) Kind() Kind {
	return table[op].kind
}

func (op Op) String() string {
	if !op.Valid() {
		return fmt.Sprintf("opcode(0x%02x)", uint8(op))
	}
	return table[op].name
}

// FixedSize returns the encoded length of an instruction of this kind,
// including the opcode byte. Switches and wide have variable length and
// report 0.
func (k Kind) FixedSize() int {
	switch k {
	case KindNone:
		return 1
	case KindLocal, KindByte, KindConst8, KindNewArray:
		return 2
	case KindShort, KindConst16, KindBranch, KindIinc:
		return 3
	case KindMultiANewArray:
		return 4
	case KindInvokeInterface, KindInvokeDynamic, KindBranchWide:
		return 5
	default:
		return 0
	}
}

// IsBranch reports whether op transfers control to a single encoded offset.
func (op Op) IsBranch() bool {
	k := op.Kind()
	return k == KindBranch || k == KindBranchWide
}

// IsConditional reports whether op is a two-way conditional branch.
func (op Op) IsConditional() bool {
	return (op >= IFEQ && op <= IF_ACMPNE) || op == IFNULL || op == IFNONNULL
}

// EndsBlock reports whether control never falls through op.
func (op Op) EndsBlock() bool {
	switch op {
	case GOTO, GOTO_W, ATHROW, RET, TABLESWITCH, LOOKUPSWITCH,
		IRETURN, LRETURN, FRETURN, DRETURN, ARETURN, RETURN:
		return true
	}
	return false
}

// IsInvoke reports whether op invokes a method.
func (op Op) IsInvoke() bool {
	return op >= INVOKEVIRTUAL && op <= INVOKEDYNAMIC
}

// IsFieldAccess reports whether op reads or writes a field.
func (op Op) IsFieldAccess() bool {
	return op >= GETSTATIC && op <= PUTFIELD
}

// Negate returns the conditional branch with the opposite condition.
// The second result is false for opcodes that are not conditional branches.
func (op Op) Negate() (Op, bool) {
	switch {
	case op >= IFEQ && op <= IF_ACMPNE:
		// Conditions come in adjacent pairs starting at an even offset from IFEQ.
		if (op-IFEQ)%2 == 0 {
			return op + 1, true
		}
		return op - 1, true
	case op == IFNULL:
		return IFNONNULL, true
	case op == IFNONNULL:
		return IFNULL, true
	}
	return op, false
}

// Wide returns the 32-bit offset form of an unconditional branch.
func (op Op) Wide() (Op, bool) {
	switch op {
	case GOTO:
		return GOTO_W, true
	case JSR:
		return JSR_W, true
	}
	return op, false
}
