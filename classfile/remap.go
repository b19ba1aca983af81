package classfile

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/skdltmxn/hotswap-go/internal/opcode"
	"github.com/skdltmxn/hotswap-go/internal/stream"
)

var log = commonlog.GetLogger("hotswap.classfile")

// BootstrapMethod is a BootstrapMethods attribute entry.
type BootstrapMethod struct {
	MethodRef uint16
	Args      []uint16
}

// BootstrapMethods decodes the class's BootstrapMethods attribute. A class
// without one has no entries.
func (cf *ClassFile) BootstrapMethods() ([]BootstrapMethod, error) {
	a := cf.Attribute(AttrBootstrapMethods)
	if a == nil {
		return nil, nil
	}
	r := stream.NewReader(a.Info)
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	bms := make([]BootstrapMethod, count)
	for i := range bms {
		if bms[i].MethodRef, err = r.ReadU16(); err != nil {
			return nil, err
		}
		n, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		bms[i].Args = make([]uint16, n)
		for j := range bms[i].Args {
			if bms[i].Args[j], err = r.ReadU16(); err != nil {
				return nil, err
			}
		}
	}
	return bms, nil
}

// SetBootstrapMethods replaces the BootstrapMethods attribute.
func (cf *ClassFile) SetBootstrapMethods(bms []BootstrapMethod) error {
	w := stream.NewWriter(2 + 6*len(bms))
	if err := w.WriteLen16(len(bms)); err != nil {
		return err
	}
	for _, bm := range bms {
		w.WriteU16(bm.MethodRef)
		if err := w.WriteLen16(len(bm.Args)); err != nil {
			return err
		}
		for _, arg := range bm.Args {
			w.WriteU16(arg)
		}
	}
	a, err := cf.NewAttribute(AttrBootstrapMethods, w.Bytes())
	if err != nil {
		return err
	}
	cf.SetAttribute(a)
	return nil
}

// Remapper copies constants, members and attributes from one class file
// into another's constant pool. Bootstrap methods referenced by dynamic
// constants are appended to the target's BootstrapMethods on Finish.
type Remapper struct {
	from, to *ClassFile

	consts     map[uint16]uint16
	inProgress map[uint16]bool

	fromBootstrap []BootstrapMethod
	toBootstrap   []BootstrapMethod
	bootstrap     map[uint16]uint16
	dirty         bool
}

// NewRemapper prepares a copy from one class into another.
func NewRemapper(from, to *ClassFile) (*Remapper, error) {
	fb, err := from.BootstrapMethods()
	if err != nil {
		return nil, fmt.Errorf("classfile: reading bootstrap methods of %s: %w", from.Name(), err)
	}
	tb, err := to.BootstrapMethods()
	if err != nil {
		return nil, fmt.Errorf("classfile: reading bootstrap methods of %s: %w", to.Name(), err)
	}
	return &Remapper{
		from:          from,
		to:            to,
		consts:        map[uint16]uint16{0: 0},
		inProgress:    map[uint16]bool{},
		fromBootstrap: fb,
		toBootstrap:   tb,
		bootstrap:     map[uint16]uint16{},
	}, nil
}

// Constant copies the source constant at i into the target pool. Index 0
// maps to 0.
func (m *Remapper) Constant(i uint16) (uint16, error) {
	if j, ok := m.consts[i]; ok {
		return j, nil
	}
	if m.inProgress[i] {
		return 0, fmt.Errorf("%w: constant %d refers to itself", ErrBadConstantIndex, i)
	}
	m.inProgress[i] = true
	defer delete(m.inProgress, i)

	c, err := m.from.Pool.Get(i)
	if err != nil {
		return 0, err
	}
	out := *c
	switch c.Tag {
	case TagUtf8, TagInteger, TagFloat, TagLong, TagDouble:
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		if out.Ref1, err = m.Constant(c.Ref1); err != nil {
			return 0, err
		}
	case TagMethodHandle:
		if out.Ref2, err = m.Constant(c.Ref2); err != nil {
			return 0, err
		}
	case TagDynamic, TagInvokeDynamic:
		if out.Ref1, err = m.bootstrapMethod(c.Ref1); err != nil {
			return 0, err
		}
		if out.Ref2, err = m.Constant(c.Ref2); err != nil {
			return 0, err
		}
	default:
		if out.Ref1, err = m.Constant(c.Ref1); err != nil {
			return 0, err
		}
		if out.Ref2, err = m.Constant(c.Ref2); err != nil {
			return 0, err
		}
	}
	j, err := m.to.Pool.Add(&out)
	if err != nil {
		return 0, err
	}
	m.consts[i] = j
	return j, nil
}

func (m *Remapper) bootstrapMethod(i uint16) (uint16, error) {
	if j, ok := m.bootstrap[i]; ok {
		return j, nil
	}
	if int(i) >= len(m.fromBootstrap) {
		return 0, fmt.Errorf("%w: bootstrap method %d", ErrBadConstantIndex, i)
	}
	src := m.fromBootstrap[i]
	bm := BootstrapMethod{Args: make([]uint16, len(src.Args))}
	var err error
	if bm.MethodRef, err = m.Constant(src.MethodRef); err != nil {
		return 0, err
	}
	for k, arg := range src.Args {
		if bm.Args[k], err = m.Constant(arg); err != nil {
			return 0, err
		}
	}
	j := uint16(len(m.toBootstrap))
	m.toBootstrap = append(m.toBootstrap, bm)
	m.bootstrap[i] = j
	m.dirty = true
	return j, nil
}

// Finish writes merged bootstrap methods into the target class.
func (m *Remapper) Finish() error {
	if !m.dirty {
		return nil
	}
	m.dirty = false
	return m.to.SetBootstrapMethods(m.toBootstrap)
}

// Member copies a field or method, including its known attributes.
func (m *Remapper) Member(src *Member) (*Member, error) {
	dst, err := NewMember(m.to.Pool, src.AccessFlags, src.Sig())
	if err != nil {
		return nil, err
	}
	for _, a := range src.Attributes {
		if a.Name == AttrCode {
			code, err := DecodeCode(a.Info, m.from.Pool)
			if err != nil {
				return nil, fmt.Errorf("decoding %s: %w", src.Sig(), err)
			}
			if err := m.Code(code); err != nil {
				return nil, fmt.Errorf("remapping %s: %w", src.Sig(), err)
			}
			if err := m.to.SetCode(dst, code); err != nil {
				return nil, err
			}
			continue
		}
		out, ok, err := m.Attribute(a)
		if err != nil {
			return nil, fmt.Errorf("remapping %s of %s: %w", a.Name, src.Sig(), err)
		}
		if ok {
			dst.Attributes = append(dst.Attributes, out)
		}
	}
	return dst, nil
}

// Code rewrites every constant reference in code to the target pool. Raw
// nested attributes are dropped: their offsets or indexes cannot be
// trusted after the copy.
func (m *Remapper) Code(code *Code) error {
	var err error
	for _, in := range code.Insns {
		switch in.Op.Kind() {
		case opcode.KindConst8, opcode.KindConst16, opcode.KindInvokeInterface,
			opcode.KindInvokeDynamic, opcode.KindMultiANewArray:
			if in.Index, err = m.Constant(in.Index); err != nil {
				return fmt.Errorf("%s at %d: %w", in.Op, in.Offset, err)
			}
		}
	}
	for _, h := range code.Handlers {
		if h.CatchType, err = m.Constant(h.CatchType); err != nil {
			return err
		}
	}
	for _, vars := range [][]LocalVariable{code.Locals, code.LocalTypes} {
		for i := range vars {
			if vars[i].NameIndex, err = m.Constant(vars[i].NameIndex); err != nil {
				return err
			}
			if vars[i].DescriptorIndex, err = m.Constant(vars[i].DescriptorIndex); err != nil {
				return err
			}
		}
	}
	for i := range code.Frames {
		f := &code.Frames[i]
		for _, list := range [][]VerificationType{f.Locals, f.Stack} {
			for k := range list {
				if list[k].Tag == VerifyObject {
					if list[k].Index, err = m.Constant(list[k].Index); err != nil {
						return err
					}
				}
			}
		}
	}
	for _, a := range code.Attributes {
		log.Debugf("dropping %s from code copied out of %s", a.Name, m.from.Name())
	}
	code.Attributes = nil
	code.names = map[string]uint16{}
	return nil
}

// Attribute copies a known attribute other than Code. The second result is
// false for attributes that are dropped.
func (m *Remapper) Attribute(a *Attribute) (*Attribute, bool, error) {
	r := stream.NewReader(a.Info)
	w := stream.NewWriter(len(a.Info))
	var err error
	switch a.Name {
	case AttrConstantValue, AttrSignature, AttrSourceFile:
		err = m.copyU2(r, w, 1)
	case AttrExceptions:
		err = m.copyCounted(r, w, func() error { return m.copyU2(r, w, 1) })
	case AttrEnclosingMethod:
		err = m.copyU2(r, w, 2)
	case AttrInnerClasses:
		err = m.copyCounted(r, w, func() error {
			if err := m.copyU2(r, w, 3); err != nil {
				return err
			}
			return copyRaw(r, w, 2)
		})
	case AttrMethodParameters:
		var n uint8
		if n, err = r.ReadU8(); err == nil {
			w.WriteU8(n)
			for i := 0; i < int(n) && err == nil; i++ {
				if err = m.copyU2(r, w, 1); err == nil {
					err = copyRaw(r, w, 2)
				}
			}
		}
	case AttrRuntimeVisibleAnnotations, AttrRuntimeInvisibleAnnotations:
		err = m.copyCounted(r, w, func() error { return m.annotation(r, w) })
	case AttrRuntimeVisibleParameterAnnotations, AttrRuntimeInvisibleParameterAnnotations:
		var n uint8
		if n, err = r.ReadU8(); err == nil {
			w.WriteU8(n)
			for i := 0; i < int(n) && err == nil; i++ {
				err = m.copyCounted(r, w, func() error { return m.annotation(r, w) })
			}
		}
	case AttrAnnotationDefault:
		err = m.elementValue(r, w)
	case AttrDeprecated, AttrSynthetic:
	default:
		log.Debugf("dropping attribute %s copied out of %s", a.Name, m.from.Name())
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if r.Remaining() != 0 {
		return nil, false, fmt.Errorf("%d trailing bytes", r.Remaining())
	}
	out, err := m.to.NewAttribute(a.Name, w.Bytes())
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (m *Remapper) copyU2(r *stream.Reader, w *stream.Writer, n int) error {
	for i := 0; i < n; i++ {
		v, err := r.ReadU16()
		if err != nil {
			return err
		}
		if v, err = m.Constant(v); err != nil {
			return err
		}
		w.WriteU16(v)
	}
	return nil
}

func (m *Remapper) copyCounted(r *stream.Reader, w *stream.Writer, each func() error) error {
	n, err := r.ReadU16()
	if err != nil {
		return err
	}
	w.WriteU16(n)
	for i := 0; i < int(n); i++ {
		if err := each(); err != nil {
			return err
		}
	}
	return nil
}

func copyRaw(r *stream.Reader, w *stream.Writer, n int) error {
	b, err := r.ReadBytesRef(n)
	if err != nil {
		return err
	}
	w.WriteBytes(b)
	return nil
}

func (m *Remapper) annotation(r *stream.Reader, w *stream.Writer) error {
	if err := m.copyU2(r, w, 1); err != nil {
		return err
	}
	return m.copyCounted(r, w, func() error {
		if err := m.copyU2(r, w, 1); err != nil {
			return err
		}
		return m.elementValue(r, w)
	})
}

func (m *Remapper) elementValue(r *stream.Reader, w *stream.Writer) error {
	tag, err := r.ReadU8()
	if err != nil {
		return err
	}
	w.WriteU8(tag)
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		return m.copyU2(r, w, 1)
	case 'e':
		return m.copyU2(r, w, 2)
	case '@':
		return m.annotation(r, w)
	case '[':
		return m.copyCounted(r, w, func() error { return m.elementValue(r, w) })
	}
	return fmt.Errorf("unknown element_value tag %q", tag)
}
