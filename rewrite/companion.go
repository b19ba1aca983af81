package rewrite

import (
	"fmt"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/sidetable"
)

// companion builds the class holding every method entry introduced in
// generation g. Retired entries keep their place as throwing stubs, so a
// companion defined once can always be redefined with the same shape.
func companion(p *Patch, u *Unit, g int) (*Generated, error) {
	name := sidetable.CompanionName(u.ID.Name, g)
	cf, err := classfile.NewBuilder(u.Physical.MajorVersion,
		classfile.AccPublic|classfile.AccSuper|classfile.AccFinal|classfile.AccSynthetic,
		name, "java/lang/Object").Build()
	if err != nil {
		return nil, err
	}
	rm, err := classfile.NewRemapper(u.Logical, cf)
	if err != nil {
		return nil, err
	}
	gen := &Generated{Name: name, Owner: u.ID, File: cf, Existing: g < u.Table.Generation()}

	for _, e := range u.Table.Entries() {
		if e.Kind != sidetable.Method || e.Introduced != g {
			continue
		}
		desc, err := companionDescriptor(u.ID.Name, e)
		if err != nil {
			return nil, err
		}
		m, err := classfile.NewMember(cf.Pool, classfile.AccPublic|classfile.AccStatic|classfile.AccSynthetic,
			classfile.Sig{Name: e.Sig.Name, Descriptor: desc})
		if err != nil {
			return nil, err
		}
		body, err := companionBody(p, rm, cf.Pool, u, e, m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Sig, err)
		}
		cf.Methods = append(cf.Methods, m)
		gen.Bodies = append(gen.Bodies, &Body{File: cf, Member: m, Code: body})
	}
	if err := rm.Finish(); err != nil {
		return nil, err
	}
	return gen, nil
}

// companionDescriptor prepends the receiver for instance methods, which
// keeps the local slot layout of the body unchanged.
func companionDescriptor(owner string, e *sidetable.Entry) (string, error) {
	mt, err := classfile.ParseMethodDescriptor(e.Sig.Descriptor)
	if err != nil {
		return "", err
	}
	if e.Access&classfile.AccStatic == 0 {
		mt = mt.WithReceiver(owner)
	}
	return mt.String(), nil
}

func companionBody(p *Patch, rm *classfile.Remapper, pool *classfile.ConstantPool, u *Unit, e *sidetable.Entry, m *classfile.Member) (*classfile.Code, error) {
	msg := fmt.Sprintf("%s.%s", u.ID.Name, e.Sig)
	lm := u.Logical.Method(e.Sig)
	if !e.Active() || lm == nil {
		return Throwing(pool, m, NoSuchMethodError, msg)
	}
	if lm.Attribute(classfile.AttrCode) == nil {
		if lm.Is(classfile.AccNative) {
			p.warnf("added native method %s cannot be bound", e.Sig)
		}
		return Throwing(pool, m, AbstractMethodError, msg)
	}

	code, err := u.Logical.Code(lm)
	if err != nil {
		return nil, err
	}
	if err := rm.Code(code); err != nil {
		return nil, err
	}
	if a := lm.Attribute(classfile.AttrExceptions); a != nil {
		out, ok, err := rm.Attribute(a)
		if err != nil {
			return nil, err
		}
		if ok {
			m.Attributes = append(m.Attributes, out)
		}
	}
	return code, nil
}
