package classfile

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/skdltmxn/hotswap-go/internal/stream"
)

const magic = 0xCAFEBABE

// Class file major versions referenced by the engine.
const (
	// MajorJava5 is the last version verified without StackMapTable frames.
	MajorJava5 uint16 = 49
	MajorJava6 uint16 = 50
	MajorJava7 uint16 = 51
	MajorJava8 uint16 = 52
)

// ClassFile is an editable class file. Members and attributes keep their
// raw payloads, so an unmodified ClassFile serializes to its input bytes.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         *ConstantPool
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16 // 0 for java/lang/Object
	Interfaces   []uint16
	Fields       []*Member
	Methods      []*Member
	Attributes   []*Attribute
}

// Parse decodes a class file. Failures are reported as *MalformedClassError.
func Parse(data []byte) (*ClassFile, error) {
	p := &parser{r: stream.NewReader(data)}
	cf, err := p.parse()
	if err != nil {
		return nil, err
	}
	return cf, nil
}

type parser struct {
	r       *stream.Reader
	cf      *ClassFile
	name    string
	section string
}

func (p *parser) fail(err error, format string, args ...any) error {
	return &MalformedClassError{
		Class:   p.name,
		Section: p.section,
		Offset:  p.r.Offset(),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (p *parser) parse() (*ClassFile, error) {
	r := p.r
	p.section = "header"
	m, err := r.ReadU32()
	if err != nil {
		return nil, p.fail(err, "reading magic")
	}
	if m != magic {
		return nil, p.fail(ErrBadMagic, "got 0x%08x", m)
	}

	cf := &ClassFile{}
	p.cf = cf
	if cf.MinorVersion, err = r.ReadU16(); err != nil {
		return nil, p.fail(err, "reading minor version")
	}
	if cf.MajorVersion, err = r.ReadU16(); err != nil {
		return nil, p.fail(err, "reading major version")
	}

	p.section = "constant pool"
	if cf.Pool, err = readConstantPool(r); err != nil {
		return nil, p.fail(err, "reading entries")
	}
	if err := cf.Pool.validate(); err != nil {
		return nil, p.fail(err, "dangling reference")
	}

	p.section = "class header"
	if cf.AccessFlags, err = r.ReadU16(); err != nil {
		return nil, p.fail(err, "reading access flags")
	}
	if cf.ThisClass, err = r.ReadU16(); err != nil {
		return nil, p.fail(err, "reading this_class")
	}
	if p.name, err = cf.Pool.ClassName(cf.ThisClass); err != nil {
		return nil, p.fail(err, "resolving this_class")
	}
	if cf.SuperClass, err = r.ReadU16(); err != nil {
		return nil, p.fail(err, "reading super_class")
	}
	if cf.SuperClass != 0 {
		if _, err := cf.Pool.ClassName(cf.SuperClass); err != nil {
			return nil, p.fail(err, "resolving super_class")
		}
	}

	p.section = "interfaces"
	count, err := r.ReadU16()
	if err != nil {
		return nil, p.fail(err, "reading count")
	}
	cf.Interfaces = make([]uint16, count)
	for i := range cf.Interfaces {
		if cf.Interfaces[i], err = r.ReadU16(); err != nil {
			return nil, p.fail(err, "reading interface %d", i)
		}
		if _, err := cf.Pool.ClassName(cf.Interfaces[i]); err != nil {
			return nil, p.fail(err, "resolving interface %d", i)
		}
	}

	if cf.Fields, err = p.members("fields"); err != nil {
		return nil, err
	}
	if cf.Methods, err = p.members("methods"); err != nil {
		return nil, err
	}

	p.section = "class attributes"
	if cf.Attributes, err = readAttributes(r, cf.Pool); err != nil {
		return nil, p.fail(err, "reading attributes")
	}
	if r.Remaining() != 0 {
		return nil, p.fail(nil, "%d trailing bytes", r.Remaining())
	}
	return cf, nil
}

func (p *parser) members(section string) ([]*Member, error) {
	p.section = section
	count, err := p.r.ReadU16()
	if err != nil {
		return nil, p.fail(err, "reading count")
	}
	members := make([]*Member, 0, count)
	for i := 0; i < int(count); i++ {
		m, err := readMember(p.r, p.cf.Pool)
		if err != nil {
			return nil, p.fail(err, "reading entry %d", i)
		}
		members = append(members, m)
	}
	return members, nil
}

// Bytes serializes the class file.
func (cf *ClassFile) Bytes() ([]byte, error) {
	w := stream.NewWriter(4096)
	w.WriteU32(magic)
	w.WriteU16(cf.MinorVersion)
	w.WriteU16(cf.MajorVersion)
	if err := cf.Pool.writeTo(w); err != nil {
		return nil, fmt.Errorf("classfile: writing %s: %w", cf.Name(), err)
	}
	w.WriteU16(cf.AccessFlags)
	w.WriteU16(cf.ThisClass)
	w.WriteU16(cf.SuperClass)
	if err := w.WriteLen16(len(cf.Interfaces)); err != nil {
		return nil, fmt.Errorf("classfile: writing %s interfaces: %w", cf.Name(), err)
	}
	for _, i := range cf.Interfaces {
		w.WriteU16(i)
	}
	if err := writeMembers(w, cf.Fields); err != nil {
		return nil, fmt.Errorf("classfile: writing %s fields: %w", cf.Name(), err)
	}
	if err := writeMembers(w, cf.Methods); err != nil {
		return nil, fmt.Errorf("classfile: writing %s methods: %w", cf.Name(), err)
	}
	if err := writeAttributes(w, cf.Attributes); err != nil {
		return nil, fmt.Errorf("classfile: writing %s attributes: %w", cf.Name(), err)
	}
	return w.Bytes(), nil
}

// EncodeFields serializes the field table (fields_count and every
// field_info) exactly as it appears in the class file.
func (cf *ClassFile) EncodeFields() []byte {
	w := stream.NewWriter(256)
	if err := writeMembers(w, cf.Fields); err != nil {
		return nil
	}
	return w.Bytes()
}

// Clone returns a deep copy. The clone's pool can grow without affecting cf.
func (cf *ClassFile) Clone() *ClassFile {
	c := *cf
	c.Pool = cf.Pool.Clone()
	c.Interfaces = append([]uint16(nil), cf.Interfaces...)
	c.Fields = cloneMembers(cf.Fields)
	c.Methods = cloneMembers(cf.Methods)
	c.Attributes = cloneAttributes(cf.Attributes)
	return &c
}

func cloneMembers(members []*Member) []*Member {
	out := make([]*Member, len(members))
	for i, m := range members {
		out[i] = m.Clone()
	}
	return out
}

// Name returns the internal name of the class.
func (cf *ClassFile) Name() string {
	name, _ := cf.Pool.ClassName(cf.ThisClass)
	return name
}

// SuperName returns the internal name of the superclass, or "" for
// java/lang/Object and module-info.
func (cf *ClassFile) SuperName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	name, _ := cf.Pool.ClassName(cf.SuperClass)
	return name
}

// InterfaceNames returns the internal names of the direct superinterfaces.
func (cf *ClassFile) InterfaceNames() []string {
	names := make([]string, 0, len(cf.Interfaces))
	for _, i := range cf.Interfaces {
		if name, err := cf.Pool.ClassName(i); err == nil {
			names = append(names, name)
		}
	}
	return names
}

// IsInterface reports whether ACC_INTERFACE is set.
func (cf *ClassFile) IsInterface() bool {
	return cf.AccessFlags&AccInterface != 0
}

// Field returns the field with the given signature, or nil.
func (cf *ClassFile) Field(sig Sig) *Member {
	return findMember(cf.Fields, sig)
}

// Method returns the method with the given signature, or nil.
func (cf *ClassFile) Method(sig Sig) *Member {
	return findMember(cf.Methods, sig)
}

func findMember(members []*Member, sig Sig) *Member {
	for _, m := range members {
		if m.Name == sig.Name && m.Descriptor == sig.Descriptor {
			return m
		}
	}
	return nil
}

// Attribute returns the first class attribute with the given name, or nil.
func (cf *ClassFile) Attribute(name string) *Attribute {
	return findAttribute(cf.Attributes, name)
}

// SetAttribute replaces or appends a class attribute.
func (cf *ClassFile) SetAttribute(a *Attribute) {
	cf.Attributes = setAttribute(cf.Attributes, a)
}

// NewAttribute creates an attribute whose name is interned in cf's pool.
func (cf *ClassFile) NewAttribute(name string, info []byte) (*Attribute, error) {
	idx, err := cf.Pool.AddUtf8(name)
	if err != nil {
		return nil, err
	}
	return &Attribute{Name: name, NameIndex: idx, Info: info}, nil
}

// ErrNoCode is returned by Code for abstract and native methods.
var ErrNoCode = errors.New("classfile: method has no Code attribute")

// Code decodes the Code attribute of method m.
func (cf *ClassFile) Code(m *Member) (*Code, error) {
	a := m.Attribute(AttrCode)
	if a == nil {
		return nil, ErrNoCode
	}
	code, err := DecodeCode(a.Info, cf.Pool)
	if err != nil {
		return nil, &MalformedClassError{
			Class:   cf.Name(),
			Section: "method " + m.Sig().String(),
			Message: "decoding Code attribute",
			Err:     err,
		}
	}
	return code, nil
}

// SetCode assembles code into m's Code attribute using cf's pool.
func (cf *ClassFile) SetCode(m *Member, code *Code) error {
	info, err := code.Encode(cf.Pool)
	if err != nil {
		return fmt.Errorf("classfile: assembling %s.%s: %w", cf.Name(), m.Sig(), err)
	}
	a, err := cf.NewAttribute(AttrCode, info)
	if err != nil {
		return err
	}
	m.SetAttribute(a)
	return nil
}

// SameCode reports whether two methods carry byte-identical Code attributes.
// Constant pool indexes are compared as-is, so callers comparing methods of
// different class files should resolve them first.
func SameCode(a, b *Member) bool {
	ca, cb := a.Attribute(AttrCode), b.Attribute(AttrCode)
	if ca == nil || cb == nil {
		return ca == cb
	}
	return bytes.Equal(ca.Info, cb.Info)
}

// NewMember creates a member whose name and descriptor are interned in pool.
func NewMember(pool *ConstantPool, access uint16, sig Sig) (*Member, error) {
	n, err := pool.AddUtf8(sig.Name)
	if err != nil {
		return nil, err
	}
	d, err := pool.AddUtf8(sig.Descriptor)
	if err != nil {
		return nil, err
	}
	return &Member{
		AccessFlags:     access,
		NameIndex:       n,
		DescriptorIndex: d,
		Name:            sig.Name,
		Descriptor:      sig.Descriptor,
	}, nil
}

// PackageOf returns the package part of an internal class name.
func PackageOf(internalName string) string {
	if i := strings.LastIndexByte(internalName, '/'); i >= 0 {
		return internalName[:i]
	}
	return ""
}

// InternalName converts a binary name (java.lang.String) to internal form.
func InternalName(javaName string) string {
	return strings.ReplaceAll(javaName, ".", "/")
}

// JavaName converts an internal name (java/lang/String) to binary form.
func JavaName(internalName string) string {
	return strings.ReplaceAll(internalName, "/", ".")
}
