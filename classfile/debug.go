package classfile

import (
	"fmt"

	"github.com/skdltmxn/hotswap-go/internal/stream"
)

// LineNumber is a LineNumberTable entry.
type LineNumber struct {
	Start *Label
	Line  uint16
}

// LocalVariable is a LocalVariableTable or LocalVariableTypeTable entry.
// For the type table DescriptorIndex refers to a generic signature.
type LocalVariable struct {
	Start           *Label
	End             *Label
	NameIndex       uint16
	DescriptorIndex uint16
	Slot            uint16
}

func (d *decoder) lineNumbers(info []byte) ([]LineNumber, error) {
	r := stream.NewReader(info)
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	lines := make([]LineNumber, 0, count)
	for i := 0; i < int(count); i++ {
		pc, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		line, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		l, err := d.label(int(pc))
		if err != nil {
			return nil, err
		}
		if l.Insn == nil {
			return nil, fmt.Errorf("%w: line %d starts at end of code", ErrBadOffset, line)
		}
		lines = append(lines, LineNumber{Start: l, Line: line})
	}
	return lines, nil
}

func (d *decoder) localVariables(info []byte) ([]LocalVariable, error) {
	r := stream.NewReader(info)
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	vars := make([]LocalVariable, 0, count)
	for i := 0; i < int(count); i++ {
		var raw [5]uint16
		for j := range raw {
			if raw[j], err = r.ReadU16(); err != nil {
				return nil, err
			}
		}
		v := LocalVariable{NameIndex: raw[2], DescriptorIndex: raw[3], Slot: raw[4]}
		if v.Start, err = d.label(int(raw[0])); err != nil {
			return nil, err
		}
		if v.End, err = d.label(int(raw[0]) + int(raw[1])); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, nil
}

func (e *encoder) lineNumbers() ([]byte, error) {
	lines := e.code.Lines
	w := stream.NewWriter(2 + 4*len(lines))
	if err := w.WriteLen16(len(lines)); err != nil {
		return nil, err
	}
	for _, ln := range lines {
		pc, err := e.offset(ln.Start)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ln.Line, err)
		}
		if pc == e.length {
			return nil, fmt.Errorf("%w: line %d starts at end of code", ErrBadOffset, ln.Line)
		}
		w.WriteU16(uint16(pc))
		w.WriteU16(ln.Line)
	}
	return w.Bytes(), nil
}

func (e *encoder) localVariables(vars []LocalVariable) ([]byte, error) {
	w := stream.NewWriter(2 + 10*len(vars))
	if err := w.WriteLen16(len(vars)); err != nil {
		return nil, err
	}
	for _, v := range vars {
		start, err := e.offset(v.Start)
		if err != nil {
			return nil, fmt.Errorf("local %d: %w", v.Slot, err)
		}
		end, err := e.offset(v.End)
		if err != nil {
			return nil, fmt.Errorf("local %d: %w", v.Slot, err)
		}
		if end < start {
			return nil, fmt.Errorf("%w: local %d range %d..%d", ErrBadOffset, v.Slot, start, end)
		}
		w.WriteU16(uint16(start))
		w.WriteU16(uint16(end - start))
		w.WriteU16(v.NameIndex)
		w.WriteU16(v.DescriptorIndex)
		w.WriteU16(v.Slot)
	}
	return w.Bytes(), nil
}
