package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/hierarchy"
	"github.com/skdltmxn/hotswap-go/internal/opcode"
)

// returnConst builds `return <v>` as an int method body.
func returnConst(v int32) *classfile.Code {
	code := classfile.NewCode(1, 1)
	code.Append(classfile.IntInsn(opcode.BIPUSH, v), classfile.Insn(opcode.IRETURN))
	return code
}

type fooShape struct {
	super   string
	padding bool // intern an unrelated constant first to shift pool indexes
	fields  [][3]any
	methods [][3]any
}

func build(t *testing.T, s fooShape) *classfile.ClassFile {
	t.Helper()
	if s.super == "" {
		s.super = "java/lang/Object"
	}
	b := classfile.NewBuilder(classfile.MajorJava8, classfile.AccPublic|classfile.AccSuper, "a/Foo", s.super)
	if s.padding {
		b.String("padding")
	}
	for _, f := range s.fields {
		b.Field(f[0].(uint16), f[1].(string), f[2].(string))
	}
	for _, m := range s.methods {
		sig := m[1].(string)
		b.Method(m[0].(uint16), sig, "()I", m[2].(*classfile.Code))
	}
	cf, err := b.Build()
	require.NoError(t, err)
	return cf
}

func TestBodyOnlyChange(t *testing.T) {
	old := build(t, fooShape{
		fields:  [][3]any{{classfile.AccPrivate, "x", "I"}},
		methods: [][3]any{{classfile.AccPublic, "get", returnConst(1)}},
	})
	new := build(t, fooShape{
		padding: true,
		fields:  [][3]any{{classfile.AccPrivate, "x", "I"}},
		methods: [][3]any{{classfile.AccPublic, "get", returnConst(2)}},
	})

	cs, err := Diff(old, new, nil)
	require.NoError(t, err)
	assert.False(t, cs.Structural())
	assert.Equal(t, []classfile.Sig{{Name: "get", Descriptor: "()I"}}, cs.BodiesChanged)
}

func TestPoolRenumberingIsNotAChange(t *testing.T) {
	ldc := func() *classfile.Code {
		return classfile.NewCode(1, 1)
	}
	old := build(t, fooShape{methods: [][3]any{{classfile.AccPublic, "get", returnConst(7)}}})
	new := build(t, fooShape{padding: true, methods: [][3]any{{classfile.AccPublic, "get", returnConst(7)}}})

	// same string constant at different indexes
	for _, cf := range []*classfile.ClassFile{old, new} {
		idx, err := cf.Pool.AddString("hello")
		require.NoError(t, err)
		code := ldc()
		code.Append(classfile.ConstInsn(opcode.LDC, idx), classfile.Insn(opcode.ARETURN))
		m, err := classfile.NewMember(cf.Pool, classfile.AccPublic, classfile.Sig{Name: "hello", Descriptor: "()Ljava/lang/String;"})
		require.NoError(t, err)
		require.NoError(t, cf.SetCode(m, code))
		cf.Methods = append(cf.Methods, m)
	}

	cs, err := Diff(old, new, nil)
	require.NoError(t, err)
	assert.True(t, cs.Empty(), cs.String())
}

func TestMembersAddedAndRemoved(t *testing.T) {
	old := build(t, fooShape{
		fields: [][3]any{{classfile.AccPrivate, "x", "I"}, {classfile.AccPublic, "n", "I"}},
		methods: [][3]any{
			{classfile.AccPublic, "get", returnConst(1)},
			{classfile.AccPublic, "gone", returnConst(2)},
			{classfile.AccPublic, "flip", returnConst(3)},
		},
	})
	new := build(t, fooShape{
		fields: [][3]any{{classfile.AccPrivate, "x", "I"}, {classfile.AccPublic | classfile.AccStatic, "n", "I"}, {classfile.AccPrivate, "y", "I"}},
		methods: [][3]any{
			{classfile.AccPublic, "get", returnConst(1)},
			{classfile.AccPublic | classfile.AccStatic, "flip", returnConst(3)},
			{classfile.AccProtected, "added", returnConst(4)},
		},
	})

	gone := classfile.Sig{Name: "gone", Descriptor: "()I"}
	user := &hierarchy.ClassInfo{Super: "java/lang/Object", Refs: map[hierarchy.Ref]bool{{Owner: "a/Foo", Sig: gone}: true}}
	user.ID.Name = "a/User"
	snap := hierarchy.NewSnapshot(hierarchy.Describe(old, "app"), user)

	cs, err := Diff(old, new, snap)
	require.NoError(t, err)
	require.Len(t, cs.FieldsAdded, 2)
	assert.Equal(t, "n", cs.FieldsAdded[0].Name)
	assert.Equal(t, "y", cs.FieldsAdded[1].Name)
	require.Len(t, cs.FieldsRemoved, 1)
	assert.Equal(t, "n", cs.FieldsRemoved[0].Member.Name)

	var added, removed []string
	for _, m := range cs.MethodsAdded {
		added = append(added, m.Name)
	}
	for _, r := range cs.MethodsRemoved {
		removed = append(removed, r.Member.Name)
		if r.Member.Name == "gone" {
			assert.Equal(t, []string{"a/User"}, r.Referenced)
		}
	}
	assert.ElementsMatch(t, []string{"flip", "added"}, added)
	assert.ElementsMatch(t, []string{"gone", "flip"}, removed)
	assert.Empty(t, cs.BodiesChanged)
}

func TestAddedConstructorRejected(t *testing.T) {
	ctor := func() *classfile.Code {
		code := classfile.NewCode(1, 2)
		code.Append(classfile.Insn(opcode.RETURN))
		return code
	}
	old := build(t, fooShape{})
	new := build(t, fooShape{})
	m := new.Methods
	b, err := classfile.NewMember(new.Pool, classfile.AccPublic, classfile.Sig{Name: "<init>", Descriptor: "(I)V"})
	require.NoError(t, err)
	require.NoError(t, new.SetCode(b, ctor()))
	new.Methods = append(m, b)

	_, err = Diff(old, new, nil)
	require.ErrorIs(t, err, ErrUnsupportedHierarchyChange)
	var uhc *UnsupportedHierarchyChangeError
	require.ErrorAs(t, err, &uhc)
	assert.Equal(t, KindConstructorAdded, uhc.Kind)
	assert.Equal(t, "<init>(I)V", uhc.Member)
}

func TestSuperclassChange(t *testing.T) {
	old := build(t, fooShape{super: "a/Plain"})
	new := build(t, fooShape{super: "a/Wide"})

	plain := &hierarchy.ClassInfo{Super: "java/lang/Object"}
	plain.ID.Name = "a/Plain"
	wide := &hierarchy.ClassInfo{Super: "java/lang/Object", Fields: []hierarchy.Member{{Sig: classfile.Sig{Name: "w", Descriptor: "J"}}}}
	wide.ID.Name = "a/Wide"
	sub := &hierarchy.ClassInfo{Super: "a/Foo"}
	sub.ID.Name = "a/Sub"

	snap := hierarchy.NewSnapshot(plain, wide, hierarchy.Describe(old, "app"))
	cs, err := Diff(old, new, snap)
	require.NoError(t, err, "no loaded subclasses")
	assert.True(t, cs.SuperChanged())

	_, err = Diff(old, new, snap.With(sub))
	var uhc *UnsupportedHierarchyChangeError
	require.ErrorAs(t, err, &uhc)
	assert.Equal(t, KindSuperclassLayout, uhc.Kind)

	// same layout is fine even with subclasses
	narrow := &hierarchy.ClassInfo{Super: "java/lang/Object"}
	narrow.ID.Name = "a/Wide"
	_, err = Diff(old, new, snap.With(sub, narrow))
	assert.NoError(t, err)
}
