package classfile

import "github.com/skdltmxn/hotswap-go/internal/stream"

// Access flags for classes, fields and methods.
const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSuper        uint16 = 0x0020 // classes
	AccSynchronized uint16 = 0x0020 // methods
	AccVolatile     uint16 = 0x0040 // fields
	AccBridge       uint16 = 0x0040 // methods
	AccTransient    uint16 = 0x0080 // fields
	AccVarargs      uint16 = 0x0080 // methods
	AccNative       uint16 = 0x0100
	AccInterface    uint16 = 0x0200
	AccAbstract     uint16 = 0x0400
	AccStrict       uint16 = 0x0800
	AccSynthetic    uint16 = 0x1000
	AccAnnotation   uint16 = 0x2000
	AccEnum         uint16 = 0x4000
	AccModule       uint16 = 0x8000
)

// Well-known attribute names.
const (
	AttrCode                   = "Code"
	AttrConstantValue          = "ConstantValue"
	AttrExceptions             = "Exceptions"
	AttrSignature              = "Signature"
	AttrSourceFile             = "SourceFile"
	AttrInnerClasses           = "InnerClasses"
	AttrEnclosingMethod        = "EnclosingMethod"
	AttrBootstrapMethods       = "BootstrapMethods"
	AttrLineNumberTable        = "LineNumberTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
	AttrStackMapTable          = "StackMapTable"
	AttrMethodParameters       = "MethodParameters"
	AttrAnnotationDefault      = "AnnotationDefault"
	AttrDeprecated             = "Deprecated"
	AttrSynthetic              = "Synthetic"

	AttrRuntimeVisibleAnnotations            = "RuntimeVisibleAnnotations"
	AttrRuntimeInvisibleAnnotations          = "RuntimeInvisibleAnnotations"
	AttrRuntimeVisibleParameterAnnotations   = "RuntimeVisibleParameterAnnotations"
	AttrRuntimeInvisibleParameterAnnotations = "RuntimeInvisibleParameterAnnotations"
)

// Sig identifies a field or method within its class.
type Sig struct {
	Name       string
	Descriptor string
}

func (s Sig) String() string {
	return s.Name + s.Descriptor
}

// Attribute is an attribute kept as its raw payload.
type Attribute struct {
	Name      string // resolved from NameIndex
	NameIndex uint16
	Info      []byte
}

func (a *Attribute) clone() *Attribute {
	info := make([]byte, len(a.Info))
	copy(info, a.Info)
	return &Attribute{Name: a.Name, NameIndex: a.NameIndex, Info: info}
}

// Member is a field_info or method_info structure.
type Member struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []*Attribute

	// Name and Descriptor are resolved from the constant pool and must be
	// kept consistent with the indexes by whoever edits them.
	Name       string
	Descriptor string
}

// Sig returns the member's (name, descriptor) pair.
func (m *Member) Sig() Sig {
	return Sig{Name: m.Name, Descriptor: m.Descriptor}
}

// Is reports whether all of flags are set.
func (m *Member) Is(flags uint16) bool {
	return m.AccessFlags&flags == flags
}

// IsStatic reports whether ACC_STATIC is set.
func (m *Member) IsStatic() bool { return m.Is(AccStatic) }

// IsPrivate reports whether ACC_PRIVATE is set.
func (m *Member) IsPrivate() bool { return m.Is(AccPrivate) }

// Attribute returns the first attribute with the given name, or nil.
func (m *Member) Attribute(name string) *Attribute {
	return findAttribute(m.Attributes, name)
}

// SetAttribute replaces the first attribute with the same name or appends a.
func (m *Member) SetAttribute(a *Attribute) {
	m.Attributes = setAttribute(m.Attributes, a)
}

// RemoveAttribute removes every attribute with the given name.
func (m *Member) RemoveAttribute(name string) {
	m.Attributes = removeAttribute(m.Attributes, name)
}

// Clone returns a deep copy of m.
func (m *Member) Clone() *Member {
	c := *m
	c.Attributes = cloneAttributes(m.Attributes)
	return &c
}

func findAttribute(attrs []*Attribute, name string) *Attribute {
	for _, a := range attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func setAttribute(attrs []*Attribute, a *Attribute) []*Attribute {
	for i, old := range attrs {
		if old.Name == a.Name {
			attrs[i] = a
			return attrs
		}
	}
	return append(attrs, a)
}

func removeAttribute(attrs []*Attribute, name string) []*Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if a.Name != name {
			out = append(out, a)
		}
	}
	return out
}

func cloneAttributes(attrs []*Attribute) []*Attribute {
	if attrs == nil {
		return nil
	}
	out := make([]*Attribute, len(attrs))
	for i, a := range attrs {
		out[i] = a.clone()
	}
	return out
}

func readAttributes(r *stream.Reader, pool *ConstantPool) ([]*Attribute, error) {
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	attrs := make([]*Attribute, 0, count)
	for i := 0; i < int(count); i++ {
		nameIndex, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		name, err := pool.Utf8(nameIndex)
		if err != nil {
			return nil, err
		}
		length, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if int64(length) > int64(r.Remaining()) {
			return nil, stream.ErrUnexpectedEOF
		}
		info, err := r.ReadBytes(int(length))
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, &Attribute{Name: name, NameIndex: nameIndex, Info: info})
	}
	return attrs, nil
}

func writeAttributes(w *stream.Writer, attrs []*Attribute) error {
	if err := w.WriteLen16(len(attrs)); err != nil {
		return err
	}
	for _, a := range attrs {
		w.WriteU16(a.NameIndex)
		w.WriteU32(uint32(len(a.Info)))
		w.WriteBytes(a.Info)
	}
	return nil
}

func readMember(r *stream.Reader, pool *ConstantPool) (*Member, error) {
	m := &Member{}
	var err error
	if m.AccessFlags, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if m.NameIndex, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if m.DescriptorIndex, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if m.Name, err = pool.Utf8(m.NameIndex); err != nil {
		return nil, err
	}
	if m.Descriptor, err = pool.Utf8(m.DescriptorIndex); err != nil {
		return nil, err
	}
	if m.Attributes, err = readAttributes(r, pool); err != nil {
		return nil, err
	}
	return m, nil
}

func writeMembers(w *stream.Writer, members []*Member) error {
	if err := w.WriteLen16(len(members)); err != nil {
		return err
	}
	for _, m := range members {
		w.WriteU16(m.AccessFlags)
		w.WriteU16(m.NameIndex)
		w.WriteU16(m.DescriptorIndex)
		if err := writeAttributes(w, m.Attributes); err != nil {
			return err
		}
	}
	return nil
}
