package classfile

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/hotswap-go/internal/opcode"
)

const refInvokeStatic = 6

func TestRemapperCopiesMethod(t *testing.T) {
	src, err := NewBuilder(MajorJava8, AccPublic, "a/Src", "java/lang/Object").Build()
	require.NoError(t, err)
	pool := src.Pool

	hello, err := pool.AddString("hello")
	require.NoError(t, err)
	bsm, err := pool.AddMethodref("a/Boot", Sig{"bsm", "()Ljava/lang/invoke/CallSite;"})
	require.NoError(t, err)
	mh, err := pool.Add(&Constant{Tag: TagMethodHandle, Kind: refInvokeStatic, Ref2: bsm})
	require.NoError(t, err)
	nat, err := pool.AddNameAndType("run", "()Ljava/lang/Runnable;")
	require.NoError(t, err)
	indy, err := pool.Add(&Constant{Tag: TagInvokeDynamic, Ref1: 0, Ref2: nat})
	require.NoError(t, err)
	ioe, err := pool.AddClass("java/io/IOException")
	require.NoError(t, err)
	require.NoError(t, src.SetBootstrapMethods([]BootstrapMethod{{MethodRef: mh, Args: []uint16{hello}}}))

	m, err := NewMember(pool, AccPublic|AccStatic, Sig{"make", "()Ljava/lang/Runnable;"})
	require.NoError(t, err)
	code := NewCode(1, 0)
	code.Append(
		ConstInsn(opcode.LDC, hello),
		Insn(opcode.POP),
		ConstInsn(opcode.INVOKEDYNAMIC, indy),
		Insn(opcode.ARETURN),
	)
	require.NoError(t, src.SetCode(m, code))
	exc, err := src.NewAttribute(AttrExceptions, binary.BigEndian.AppendUint16([]byte{0, 1}, ioe))
	require.NoError(t, err)
	vendor, err := src.NewAttribute("org.vendor.Extra", []byte{9})
	require.NoError(t, err)
	m.Attributes = append(m.Attributes, exc, vendor)

	db := NewBuilder(MajorJava8, AccPublic, "a/Dst", "java/lang/Object")
	db.String("shifts every index")
	existing := db.Methodref("a/Other", "bsm", "()V")
	dst, err := db.Build()
	require.NoError(t, err)
	otherMH, err := dst.Pool.Add(&Constant{Tag: TagMethodHandle, Kind: refInvokeStatic, Ref2: existing})
	require.NoError(t, err)
	require.NoError(t, dst.SetBootstrapMethods([]BootstrapMethod{{MethodRef: otherMH}}))

	rm, err := NewRemapper(src, dst)
	require.NoError(t, err)
	copied, err := rm.Member(m)
	require.NoError(t, err)
	require.NoError(t, rm.Finish())
	dst.Methods = append(dst.Methods, copied)

	data, err := dst.Bytes()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)

	pm := parsed.Method(Sig{"make", "()Ljava/lang/Runnable;"})
	require.NotNil(t, pm)
	assert.Nil(t, pm.Attribute("org.vendor.Extra"))
	excAttr := pm.Attribute(AttrExceptions)
	require.NotNil(t, excAttr)
	name, err := parsed.Pool.ClassName(binary.BigEndian.Uint16(excAttr.Info[2:]))
	require.NoError(t, err)
	assert.Equal(t, "java/io/IOException", name)

	pc, err := parsed.Code(pm)
	require.NoError(t, err)
	str, err := parsed.Pool.Get(pc.Insns[0].Index)
	require.NoError(t, err)
	require.Equal(t, TagString, str.Tag)
	s, err := parsed.Pool.Utf8(str.Ref1)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	dyn, err := parsed.Pool.Get(pc.Insns[2].Index)
	require.NoError(t, err)
	require.Equal(t, TagInvokeDynamic, dyn.Tag)
	assert.Equal(t, uint16(1), dyn.Ref1, "bootstrap entry appended after the existing one")

	bms, err := parsed.BootstrapMethods()
	require.NoError(t, err)
	require.Len(t, bms, 2)
	handle, err := parsed.Pool.Get(bms[1].MethodRef)
	require.NoError(t, err)
	ref, err := parsed.Pool.MemberRef(handle.Ref2)
	require.NoError(t, err)
	assert.Equal(t, "a/Boot", ref.Owner)
	require.Len(t, bms[1].Args, 1)
	assert.Equal(t, pc.Insns[0].Index, bms[1].Args[0])
}

func TestRemapperAnnotations(t *testing.T) {
	b := NewBuilder(MajorJava8, AccPublic, "a/Ann", "java/lang/Object")
	typ, _ := b.Pool().AddUtf8("La/Marker;")
	key, _ := b.Pool().AddUtf8("value")
	val, _ := b.Pool().AddInteger(42)
	src, err := b.Build()
	require.NoError(t, err)

	// one annotation, one pair: value = 42
	info := []byte{0, 1}
	info = binary.BigEndian.AppendUint16(info, typ)
	info = append(info, 0, 1)
	info = binary.BigEndian.AppendUint16(info, key)
	info = append(info, 'I')
	info = binary.BigEndian.AppendUint16(info, val)
	ann, err := src.NewAttribute(AttrRuntimeVisibleAnnotations, info)
	require.NoError(t, err)

	dst, err := NewBuilder(MajorJava8, AccPublic, "a/Other", "java/lang/Object").Build()
	require.NoError(t, err)
	rm, err := NewRemapper(src, dst)
	require.NoError(t, err)
	out, ok, err := rm.Attribute(ann)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, out.Info, len(info))

	typName, err := dst.Pool.Utf8(binary.BigEndian.Uint16(out.Info[2:]))
	require.NoError(t, err)
	assert.Equal(t, "La/Marker;", typName)
	c, err := dst.Pool.Get(binary.BigEndian.Uint16(out.Info[9:]))
	require.NoError(t, err)
	assert.Equal(t, TagInteger, c.Tag)
	assert.Equal(t, uint64(42), c.Value)

	_, ok, err = rm.Attribute(&Attribute{Name: "RuntimeVisibleTypeAnnotations", Info: []byte{0, 0}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDescriptors(t *testing.T) {
	mt, err := ParseMethodDescriptor("(IJ[Ljava/lang/String;D)Ljava/lang/Object;")
	require.NoError(t, err)
	assert.Equal(t, []string{"I", "J", "[Ljava/lang/String;", "D"}, mt.Params)
	assert.Equal(t, "Ljava/lang/Object;", mt.Return)
	assert.Equal(t, 6, mt.ArgSlots())
	assert.Equal(t, "(La/B;IJ[Ljava/lang/String;D)Ljava/lang/Object;", mt.WithReceiver("a/B").String())

	for _, bad := range []string{"", "()", "(I", "(Q)V", "(L;)V", "()II"} {
		_, err := ParseMethodDescriptor(bad)
		assert.ErrorIs(t, err, ErrBadDescriptor, bad)
	}

	assert.Equal(t, int32(0), ZeroValue("Z"))
	assert.Equal(t, int64(0), ZeroValue("J"))
	assert.Nil(t, ZeroValue("[I"))
	assert.Equal(t, opcode.DLOAD, LoadOp("D"))
	assert.Equal(t, opcode.ARETURN, ReturnOp("[I"))
	assert.Equal(t, "java/lang/String", ClassOf("Ljava/lang/String;"))
	assert.Equal(t, "[I", ClassOf("[I"))
	assert.True(t, ValidFieldDescriptor("[[J"))
	assert.False(t, ValidFieldDescriptor("V"))
}
