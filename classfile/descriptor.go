package classfile

import (
	"fmt"
	"strings"

	"github.com/skdltmxn/hotswap-go/internal/opcode"
)

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []string // field descriptors of the parameters
	Return string   // field descriptor of the return type, "V" for void
}

// ParseMethodDescriptor splits a method descriptor such as (ILjava/lang/String;)V.
func ParseMethodDescriptor(desc string) (MethodType, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return MethodType{}, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	var mt MethodType
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldTypeLen(desc[i:])
		if err != nil {
			return MethodType{}, fmt.Errorf("%w: %q", err, desc)
		}
		mt.Params = append(mt.Params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return MethodType{}, fmt.Errorf("%w: unterminated %q", ErrBadDescriptor, desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		n, err := fieldTypeLen(ret)
		if err != nil || n != len(ret) {
			return MethodType{}, fmt.Errorf("%w: bad return type in %q", ErrBadDescriptor, desc)
		}
	}
	mt.Return = ret
	return mt, nil
}

// String reassembles the descriptor.
func (mt MethodType) String() string {
	return "(" + strings.Join(mt.Params, "") + ")" + mt.Return
}

// ArgSlots returns the number of local variable slots taken by the
// parameters, not counting the receiver.
func (mt MethodType) ArgSlots() int {
	n := 0
	for _, p := range mt.Params {
		n += Slots(p)
	}
	return n
}

// WithReceiver returns the descriptor with owner prepended as the first
// parameter.
func (mt MethodType) WithReceiver(owner string) MethodType {
	params := make([]string, 0, len(mt.Params)+1)
	params = append(params, "L"+owner+";")
	params = append(params, mt.Params...)
	return MethodType{Params: params, Return: mt.Return}
}

func fieldTypeLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i > 255 {
		return 0, ErrBadDescriptor
	}
	if i >= len(s) {
		return 0, ErrBadDescriptor
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return 0, ErrBadDescriptor
		}
		return i + end + 1, nil
	}
	return 0, ErrBadDescriptor
}

// ValidFieldDescriptor reports whether desc is a single field type.
func ValidFieldDescriptor(desc string) bool {
	n, err := fieldTypeLen(desc)
	return err == nil && n == len(desc)
}

// Slots returns the number of local or stack slots taken by a value of the
// given field type.
func Slots(desc string) int {
	switch desc {
	case "J", "D":
		return 2
	case "V":
		return 0
	}
	return 1
}

// IsReference reports whether desc is an object or array type.
func IsReference(desc string) bool {
	return desc != "" && (desc[0] == 'L' || desc[0] == '[')
}

// ClassOf returns the class constant name for a reference type:
// the internal name for objects and the descriptor itself for arrays.
func ClassOf(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// ZeroValue returns the JVM default for a field type: int32 for int-like
// types, int64, float32, float64, or nil for references.
func ZeroValue(desc string) any {
	switch desc {
	case "Z", "B", "C", "S", "I":
		return int32(0)
	case "J":
		return int64(0)
	case "F":
		return float32(0)
	case "D":
		return float64(0)
	}
	return nil
}

// LoadOp returns the load instruction for a value of the given type.
func LoadOp(desc string) opcode.Op {
	switch desc {
	case "Z", "B", "C", "S", "I":
		return opcode.ILOAD
	case "J":
		return opcode.LLOAD
	case "F":
		return opcode.FLOAD
	case "D":
		return opcode.DLOAD
	}
	return opcode.ALOAD
}

// ReturnOp returns the return instruction for a method returning desc.
func ReturnOp(desc string) opcode.Op {
	switch desc {
	case "V":
		return opcode.RETURN
	case "Z", "B", "C", "S", "I":
		return opcode.IRETURN
	case "J":
		return opcode.LRETURN
	case "F":
		return opcode.FRETURN
	case "D":
		return opcode.DRETURN
	}
	return opcode.ARETURN
}
