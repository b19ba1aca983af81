package classfile

// Builder assembles a class file from scratch. The first error is sticky
// and reported by Build, so call sites can chain additions freely.
type Builder struct {
	cf  *ClassFile
	err error
}

// NewBuilder starts a class. super may be empty only for java/lang/Object.
func NewBuilder(major, access uint16, name, super string, interfaces ...string) *Builder {
	b := &Builder{cf: &ClassFile{
		MajorVersion: major,
		Pool:         NewConstantPool(),
		AccessFlags:  access,
	}}
	b.cf.ThisClass = b.Class(name)
	if super != "" {
		b.cf.SuperClass = b.Class(super)
	}
	for _, i := range interfaces {
		b.cf.Interfaces = append(b.cf.Interfaces, b.Class(i))
	}
	return b
}

// Pool returns the class's constant pool.
func (b *Builder) Pool() *ConstantPool {
	return b.cf.Pool
}

func (b *Builder) check(i uint16, err error) uint16 {
	if err != nil && b.err == nil {
		b.err = err
	}
	return i
}

// Class interns a Class constant.
func (b *Builder) Class(name string) uint16 {
	return b.check(b.cf.Pool.AddClass(name))
}

// String interns a String constant.
func (b *Builder) String(s string) uint16 {
	return b.check(b.cf.Pool.AddString(s))
}

// Fieldref interns a Fieldref constant.
func (b *Builder) Fieldref(owner, name, desc string) uint16 {
	return b.check(b.cf.Pool.AddFieldref(owner, Sig{Name: name, Descriptor: desc}))
}

// Methodref interns a Methodref constant.
func (b *Builder) Methodref(owner, name, desc string) uint16 {
	return b.check(b.cf.Pool.AddMethodref(owner, Sig{Name: name, Descriptor: desc}))
}

// InterfaceMethodref interns an InterfaceMethodref constant.
func (b *Builder) InterfaceMethodref(owner, name, desc string) uint16 {
	return b.check(b.cf.Pool.AddInterfaceMethodref(owner, Sig{Name: name, Descriptor: desc}))
}

// Field adds a field.
func (b *Builder) Field(access uint16, name, desc string) *Member {
	m, err := NewMember(b.cf.Pool, access, Sig{Name: name, Descriptor: desc})
	if err != nil {
		b.check(0, err)
		return nil
	}
	b.cf.Fields = append(b.cf.Fields, m)
	return m
}

// Method adds a method. code is nil for abstract and native methods.
func (b *Builder) Method(access uint16, name, desc string, code *Code) *Member {
	m, err := NewMember(b.cf.Pool, access, Sig{Name: name, Descriptor: desc})
	if err != nil {
		b.check(0, err)
		return nil
	}
	if code != nil {
		b.check(0, b.cf.SetCode(m, code))
	}
	b.cf.Methods = append(b.cf.Methods, m)
	return m
}

// Attribute adds a class attribute with a raw payload.
func (b *Builder) Attribute(name string, info []byte) {
	a, err := b.cf.NewAttribute(name, info)
	if err != nil {
		b.check(0, err)
		return
	}
	b.cf.Attributes = append(b.cf.Attributes, a)
}

// Build returns the finished class.
func (b *Builder) Build() (*ClassFile, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.cf, nil
}

// Bytes builds and serializes the class.
func (b *Builder) Bytes() ([]byte, error) {
	cf, err := b.Build()
	if err != nil {
		return nil, err
	}
	return cf.Bytes()
}
