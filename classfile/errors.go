// Package classfile parses, edits and serializes JVM class files.
//
// Parsing keeps every attribute as raw bytes until a caller asks for a
// decoded view, so a class that is parsed and serialized without edits is
// reproduced byte-for-byte. Method code is decoded into instructions whose
// offsets are expressed as labels; tables that point into code (exception
// handlers, line numbers, local variables, stack map frames) hold labels too,
// which lets later stages insert or replace instructions without renumbering
// anything by hand.
package classfile

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrMalformedClass matches every *MalformedClassError.
	ErrMalformedClass = errors.New("classfile: malformed class file")

	// ErrBadMagic indicates the data does not start with 0xCAFEBABE.
	ErrBadMagic = errors.New("classfile: bad magic number")

	// ErrBadConstantIndex indicates a reference to a missing or mistyped constant.
	ErrBadConstantIndex = errors.New("classfile: invalid constant pool index")

	// ErrUnsupportedConstant indicates an unknown constant pool tag.
	ErrUnsupportedConstant = errors.New("classfile: unsupported constant pool tag")

	// ErrPoolOverflow indicates the constant pool would exceed 65535 slots.
	ErrPoolOverflow = errors.New("classfile: constant pool overflow")

	// ErrBadInstruction indicates undecodable bytecode.
	ErrBadInstruction = errors.New("classfile: invalid instruction")

	// ErrBadOffset indicates a code offset that is not an instruction boundary.
	ErrBadOffset = errors.New("classfile: offset is not an instruction boundary")

	// ErrUnboundLabel indicates a label whose instruction is not part of the code.
	ErrUnboundLabel = errors.New("classfile: label not bound to an instruction")

	// ErrNoSuchInstruction indicates an instruction that is not part of the code.
	ErrNoSuchInstruction = errors.New("classfile: instruction not in code")

	// ErrBranchOutOfRange indicates a conditional branch that cannot reach its target.
	ErrBranchOutOfRange = errors.New("classfile: branch offset out of range")

	// ErrCodeTooLarge indicates a method body above the 64KiB limit.
	ErrCodeTooLarge = errors.New("classfile: code too large")

	// ErrBadDescriptor indicates an unparsable field or method descriptor.
	ErrBadDescriptor = errors.New("classfile: invalid descriptor")
)

// MalformedClassError provides detailed information about parsing failures.
type MalformedClassError struct {
	Class   string // Class name, if known at the point of failure
	Section string // Structure being parsed ("constant pool", "method foo", ...)
	Offset  int    // Byte offset within the class file or attribute
	Message string // Description of the error
	Err     error  // Underlying error, if any
}

func (e *MalformedClassError) Error() string {
	name := e.Class
	if name == "" {
		name = "<unknown>"
	}
	if e.Err != nil {
		return fmt.Sprintf("classfile: malformed class %s: %s at offset 0x%x: %s: %v",
			name, e.Section, e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("classfile: malformed class %s: %s at offset 0x%x: %s",
		name, e.Section, e.Offset, e.Message)
}

func (e *MalformedClassError) Unwrap() error { return e.Err }

// Is reports whether target is ErrMalformedClass.
func (e *MalformedClassError) Is(target error) bool { return target == ErrMalformedClass }
