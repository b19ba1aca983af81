package classfile

import (
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/skdltmxn/hotswap-go/internal/stream"
)

// Tag identifies the kind of a constant pool entry.
type Tag uint8

// Constant pool tags (CONSTANT_*)
const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

func (t Tag) String() string {
	switch t {
	case TagUtf8:
		return "Utf8"
	case TagInteger:
		return "Integer"
	case TagFloat:
		return "Float"
	case TagLong:
		return "Long"
	case TagDouble:
		return "Double"
	case TagClass:
		return "Class"
	case TagString:
		return "String"
	case TagFieldref:
		return "Fieldref"
	case TagMethodref:
		return "Methodref"
	case TagInterfaceMethodref:
		return "InterfaceMethodref"
	case TagNameAndType:
		return "NameAndType"
	case TagMethodHandle:
		return "MethodHandle"
	case TagMethodType:
		return "MethodType"
	case TagDynamic:
		return "Dynamic"
	case TagInvokeDynamic:
		return "InvokeDynamic"
	case TagModule:
		return "Module"
	case TagPackage:
		return "Package"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Wide reports whether the constant occupies two pool slots.
func (t Tag) Wide() bool {
	return t == TagLong || t == TagDouble
}

// Constant is a single constant pool entry. Which fields are meaningful
// depends on Tag:
//
//	Utf8                      Bytes (modified UTF-8, kept verbatim)
//	Integer, Float            Value (low 32 bits)
//	Long, Double              Value
//	Class, String, MethodType Ref1
//	Module, Package           Ref1
//	*ref, NameAndType         Ref1, Ref2
//	MethodHandle              Kind, Ref2
//	Dynamic, InvokeDynamic    Ref1 (bootstrap method index), Ref2
type Constant struct {
	Tag   Tag
	Bytes []byte
	Value uint64
	Ref1  uint16
	Ref2  uint16
	Kind  uint8
}

type constKey struct {
	tag   Tag
	str   string
	value uint64
	ref1  uint16
	ref2  uint16
	kind  uint8
}

func (c *Constant) key() constKey {
	return constKey{tag: c.Tag, str: string(c.Bytes), value: c.Value, ref1: c.Ref1, ref2: c.Ref2, kind: c.Kind}
}

// ConstantPool is an indexed constant pool. Slot 0 and the slot following a
// Long or Double are unusable and hold nil.
type ConstantPool struct {
	entries []*Constant

	// index deduplicates entries added through the Add* helpers.
	// Built lazily on first add.
	index map[constKey]uint16
}

// NewConstantPool creates an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{entries: []*Constant{nil}}
}

// Count returns the constant_pool_count value (number of slots plus one).
func (p *ConstantPool) Count() int {
	return len(p.entries)
}

// Get returns the entry at index i.
func (p *ConstantPool) Get(i uint16) (*Constant, error) {
	if int(i) >= len(p.entries) || p.entries[i] == nil {
		return nil, fmt.Errorf("%w: %d", ErrBadConstantIndex, i)
	}
	return p.entries[i], nil
}

func (p *ConstantPool) expect(i uint16, tags ...Tag) (*Constant, error) {
	c, err := p.Get(i)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if c.Tag == t {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %d is %s, want %v", ErrBadConstantIndex, i, c.Tag, tags)
}

// Utf8 returns the decoded string at index i.
func (p *ConstantPool) Utf8(i uint16) (string, error) {
	c, err := p.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return decodeModifiedUTF8(c.Bytes)
}

// ClassName returns the internal name referenced by the Class constant at i.
func (p *ConstantPool) ClassName(i uint16) (string, error) {
	c, err := p.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.Ref1)
}

// NameAndType returns the name and descriptor of the NameAndType constant at i.
func (p *ConstantPool) NameAndType(i uint16) (name, desc string, err error) {
	c, err := p.expect(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.Ref1); err != nil {
		return "", "", err
	}
	if desc, err = p.Utf8(c.Ref2); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef describes a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Tag   Tag
	Owner string
	Sig   Sig
}

// MemberRef resolves the member reference constant at i.
func (p *ConstantPool) MemberRef(i uint16) (MemberRef, error) {
	c, err := p.expect(i, TagFieldref, TagMethodref, TagInterfaceMethodref)
	if err != nil {
		return MemberRef{}, err
	}
	owner, err := p.ClassName(c.Ref1)
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := p.NameAndType(c.Ref2)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{Tag: c.Tag, Owner: owner, Sig: Sig{Name: name, Descriptor: desc}}, nil
}

// Clone returns a copy of the pool that can grow independently. Entries are
// shared; they are never mutated in place.
func (p *ConstantPool) Clone() *ConstantPool {
	entries := make([]*Constant, len(p.entries))
	copy(entries, p.entries)
	return &ConstantPool{entries: entries}
}

func (p *ConstantPool) buildIndex() {
	p.index = make(map[constKey]uint16, len(p.entries))
	for i, c := range p.entries {
		if c == nil {
			continue
		}
		k := c.key()
		if _, dup := p.index[k]; !dup {
			p.index[k] = uint16(i)
		}
	}
}

// Add appends c unless an identical entry exists, returning its index.
func (p *ConstantPool) Add(c *Constant) (uint16, error) {
	if p.index == nil {
		p.buildIndex()
	}
	k := c.key()
	if i, ok := p.index[k]; ok {
		return i, nil
	}
	slots := 1
	if c.Tag.Wide() {
		slots = 2
	}
	if len(p.entries)+slots > math.MaxUint16 {
		return 0, ErrPoolOverflow
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if slots == 2 {
		p.entries = append(p.entries, nil)
	}
	p.index[k] = i
	return i, nil
}

// AddUtf8 adds a Utf8 constant.
func (p *ConstantPool) AddUtf8(s string) (uint16, error) {
	return p.Add(&Constant{Tag: TagUtf8, Bytes: encodeModifiedUTF8(s)})
}

// AddClass adds a Class constant for an internal name.
func (p *ConstantPool) AddClass(name string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	return p.Add(&Constant{Tag: TagClass, Ref1: n})
}

// AddString adds a String constant.
func (p *ConstantPool) AddString(s string) (uint16, error) {
	n, err := p.AddUtf8(s)
	if err != nil {
		return 0, err
	}
	return p.Add(&Constant{Tag: TagString, Ref1: n})
}

// AddInteger adds an Integer constant.
func (p *ConstantPool) AddInteger(v int32) (uint16, error) {
	return p.Add(&Constant{Tag: TagInteger, Value: uint64(uint32(v))})
}

// AddNameAndType adds a NameAndType constant.
func (p *ConstantPool) AddNameAndType(name, desc string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUtf8(desc)
	if err != nil {
		return 0, err
	}
	return p.Add(&Constant{Tag: TagNameAndType, Ref1: n, Ref2: d})
}

// AddMemberRef adds a Fieldref, Methodref or InterfaceMethodref constant.
func (p *ConstantPool) AddMemberRef(tag Tag, owner string, sig Sig) (uint16, error) {
	cls, err := p.AddClass(owner)
	if err != nil {
		return 0, err
	}
	nat, err := p.AddNameAndType(sig.Name, sig.Descriptor)
	if err != nil {
		return 0, err
	}
	return p.Add(&Constant{Tag: tag, Ref1: cls, Ref2: nat})
}

// AddLong adds a Long constant.
func (p *ConstantPool) AddLong(v int64) (uint16, error) {
	return p.Add(&Constant{Tag: TagLong, Value: uint64(v)})
}

// AddFloat adds a Float constant.
func (p *ConstantPool) AddFloat(v float32) (uint16, error) {
	return p.Add(&Constant{Tag: TagFloat, Value: uint64(math.Float32bits(v))})
}

// AddDouble adds a Double constant.
func (p *ConstantPool) AddDouble(v float64) (uint16, error) {
	return p.Add(&Constant{Tag: TagDouble, Value: math.Float64bits(v)})
}

// AddFieldref adds a Fieldref constant.
func (p *ConstantPool) AddFieldref(owner string, sig Sig) (uint16, error) {
	return p.AddMemberRef(TagFieldref, owner, sig)
}

// AddMethodref adds a Methodref constant.
func (p *ConstantPool) AddMethodref(owner string, sig Sig) (uint16, error) {
	return p.AddMemberRef(TagMethodref, owner, sig)
}

// AddInterfaceMethodref adds an InterfaceMethodref constant.
func (p *ConstantPool) AddInterfaceMethodref(owner string, sig Sig) (uint16, error) {
	return p.AddMemberRef(TagInterfaceMethodref, owner, sig)
}

func readConstantPool(r *stream.Reader) (*ConstantPool, error) {
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: zero constant_pool_count", ErrBadConstantIndex)
	}

	p := &ConstantPool{entries: make([]*Constant, 1, count)}
	for len(p.entries) < int(count) {
		tag, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		c := &Constant{Tag: Tag(tag)}
		switch c.Tag {
		case TagUtf8:
			n, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			if c.Bytes, err = r.ReadBytes(int(n)); err != nil {
				return nil, err
			}
		case TagInteger, TagFloat:
			v, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			c.Value = uint64(v)
		case TagLong, TagDouble:
			if c.Value, err = r.ReadU64(); err != nil {
				return nil, err
			}
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			if c.Ref1, err = r.ReadU16(); err != nil {
				return nil, err
			}
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
			TagDynamic, TagInvokeDynamic:
			if c.Ref1, err = r.ReadU16(); err != nil {
				return nil, err
			}
			if c.Ref2, err = r.ReadU16(); err != nil {
				return nil, err
			}
		case TagMethodHandle:
			if c.Kind, err = r.ReadU8(); err != nil {
				return nil, err
			}
			if c.Ref2, err = r.ReadU16(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %d at slot %d", ErrUnsupportedConstant, tag, len(p.entries))
		}
		p.entries = append(p.entries, c)
		if c.Tag.Wide() {
			// Long and Double take two slots; the second is unusable.
			p.entries = append(p.entries, nil)
		}
	}
	if len(p.entries) != int(count) {
		return nil, fmt.Errorf("%w: wide constant overruns pool", ErrBadConstantIndex)
	}
	return p, nil
}

func (p *ConstantPool) writeTo(w *stream.Writer) error {
	if err := w.WriteLen16(len(p.entries)); err != nil {
		return ErrPoolOverflow
	}
	for _, c := range p.entries {
		if c == nil {
			continue
		}
		w.WriteU8(uint8(c.Tag))
		switch c.Tag {
		case TagUtf8:
			if err := w.WriteLen16(len(c.Bytes)); err != nil {
				return fmt.Errorf("classfile: Utf8 constant too long: %w", err)
			}
			w.WriteBytes(c.Bytes)
		case TagInteger, TagFloat:
			w.WriteU32(uint32(c.Value))
		case TagLong, TagDouble:
			w.WriteU64(c.Value)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.WriteU16(c.Ref1)
		case TagMethodHandle:
			w.WriteU8(c.Kind)
			w.WriteU16(c.Ref2)
		default:
			w.WriteU16(c.Ref1)
			w.WriteU16(c.Ref2)
		}
	}
	return nil
}

// validate checks that every reference inside the pool points at an entry of
// the right kind.
func (p *ConstantPool) validate() error {
	for i, c := range p.entries {
		if c == nil {
			continue
		}
		var err error
		switch c.Tag {
		case TagUtf8:
			_, err = decodeModifiedUTF8(c.Bytes)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			_, err = p.expect(c.Ref1, TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if _, err = p.expect(c.Ref1, TagClass); err == nil {
				_, err = p.expect(c.Ref2, TagNameAndType)
			}
		case TagNameAndType:
			if _, err = p.expect(c.Ref1, TagUtf8); err == nil {
				_, err = p.expect(c.Ref2, TagUtf8)
			}
		case TagMethodHandle:
			_, err = p.expect(c.Ref2, TagFieldref, TagMethodref, TagInterfaceMethodref)
		case TagDynamic, TagInvokeDynamic:
			_, err = p.expect(c.Ref2, TagNameAndType)
		}
		if err != nil {
			return fmt.Errorf("slot %d (%s): %w", i, c.Tag, err)
		}
	}
	return nil
}

// decodeModifiedUTF8 decodes the JVM's modified UTF-8: NUL is encoded in two
// bytes and supplementary characters as surrogate pairs of 3-byte sequences.
func decodeModifiedUTF8(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0:
			return "", fmt.Errorf("classfile: NUL byte in modified UTF-8")
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("classfile: truncated modified UTF-8 at %d", i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("classfile: truncated modified UTF-8 at %d", i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("classfile: invalid modified UTF-8 byte 0x%02x at %d", c, i)
		}
	}
	return string(utf16.Decode(units)), nil
}

func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, 0xC0|byte(u>>6), 0x80|byte(u&0x3F))
		default:
			out = append(out, 0xE0|byte(u>>12), 0x80|byte((u>>6)&0x3F), 0x80|byte(u&0x3F))
		}
	}
	return out
}
