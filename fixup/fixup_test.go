package fixup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/hierarchy"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/internal/opcode"
	"github.com/skdltmxn/hotswap-go/rewrite"
	"github.com/skdltmxn/hotswap-go/sidetable"
)

var (
	doStuff = classfile.Sig{Name: "doStuff", Descriptor: "(II)I"}
	nameSig = classfile.Sig{Name: "name", Descriptor: "()Ljava/lang/String;"}
)

func object(t *testing.T) *classfile.ClassFile {
	t.Helper()
	cf, err := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic, "java/lang/Object", "").Build()
	require.NoError(t, err)
	return cf
}

// batch prepares and rewrites the classes of logical over physical.
type batch struct {
	world   *rewrite.World
	units   []*rewrite.Unit
	patches []*rewrite.Patch
}

func newBatch(t *testing.T, physical, logical []*classfile.ClassFile) *batch {
	t.Helper()
	var pinfos, linfos []*hierarchy.ClassInfo
	for _, cf := range physical {
		pinfos = append(pinfos, hierarchy.Describe(cf, "app"))
	}
	byName := make(map[string]*classfile.ClassFile)
	for _, cf := range physical {
		byName[cf.Name()] = cf
	}
	for _, cf := range logical {
		linfos = append(linfos, hierarchy.Describe(cf, "app"))
	}
	phys := hierarchy.NewSnapshot(pinfos...)

	tx := sidetable.NewArena().Begin()
	b := &batch{world: &rewrite.World{
		Physical: phys,
		Logical:  phys.With(linfos...),
		Tables: func(class string) *sidetable.Table {
			return tx.Current(host.ClassID{Name: class, Loader: "app"})
		},
	}}
	for _, cf := range logical {
		b.units = append(b.units, &rewrite.Unit{
			ID:       host.ClassID{Name: cf.Name(), Loader: "app"},
			Physical: byName[cf.Name()],
			Logical:  cf,
		})
	}
	rewrite.Prepare(tx, b.units)
	for _, u := range b.units {
		p, err := rewrite.Apply(rewrite.Input{Unit: u, World: b.world})
		require.NoError(t, err)
		b.patches = append(b.patches, p)
	}
	return b
}

// listing renders a method's code with resolved operands.
func listing(t *testing.T, data []byte, sig classfile.Sig) []string {
	t.Helper()
	cf, err := classfile.Parse(data)
	require.NoError(t, err)
	m := cf.Method(sig)
	require.NotNil(t, m, "method %s", sig)
	code, err := cf.Code(m)
	require.NoError(t, err)

	var out []string
	for _, in := range code.Insns {
		s := in.Op.String()
		switch in.Op {
		case opcode.INSTANCEOF, opcode.CHECKCAST, opcode.NEW:
			name, err := cf.Pool.ClassName(in.Index)
			require.NoError(t, err)
			s += " " + name
		default:
			if in.Op.IsInvoke() || in.Op.IsFieldAccess() {
				ref, err := cf.Pool.MemberRef(in.Index)
				require.NoError(t, err)
				s += fmt.Sprintf(" %s.%s", ref.Owner, ref.Sig)
			}
		}
		out = append(out, s)
	}
	return out
}

func find(t *testing.T, classes []Class, name string) Class {
	t.Helper()
	for _, c := range classes {
		if c.Name == name {
			return c
		}
	}
	require.FailNow(t, "missing generated class", name)
	return Class{}
}

func sumBody() *classfile.Code {
	code := classfile.NewCode(2, 3)
	code.Append(
		classfile.LocalInsn(opcode.ILOAD, 1),
		classfile.LocalInsn(opcode.ILOAD, 2),
		classfile.Insn(opcode.IADD),
		classfile.Insn(opcode.IRETURN),
	)
	return code
}

// baseClasses builds a/Base with run()I. The logical Base adds doStuff
// and calls it from run.
func baseClasses(t *testing.T) (physical, logical *classfile.ClassFile) {
	t.Helper()
	physical, err := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Base", "java/lang/Object").Build()
	require.NoError(t, err)
	ret := classfile.NewCode(1, 1)
	ret.Append(classfile.Insn(opcode.ICONST_0), classfile.Insn(opcode.IRETURN))
	m, err := classfile.NewMember(physical.Pool, classfile.AccPublic, classfile.Sig{Name: "run", Descriptor: "()I"})
	require.NoError(t, err)
	require.NoError(t, physical.SetCode(m, ret))
	physical.Methods = append(physical.Methods, m)

	lb := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Base", "java/lang/Object")
	call := lb.Methodref("a/Base", doStuff.Name, doStuff.Descriptor)
	run := classfile.NewCode(3, 1)
	run.Append(
		classfile.LocalInsn(opcode.ALOAD, 0),
		classfile.Insn(opcode.ICONST_1),
		classfile.Insn(opcode.ICONST_2),
		classfile.ConstInsn(opcode.INVOKEVIRTUAL, call),
		classfile.Insn(opcode.IRETURN),
	)
	lb.Method(classfile.AccPublic, "run", "()I", run)
	lb.Method(classfile.AccPublic, doStuff.Name, doStuff.Descriptor, sumBody())
	logical, err = lb.Build()
	require.NoError(t, err)
	return physical, logical
}

// subClass builds a/Sub extending a/Base, declaring doStuff with the
// given access if any.
func subClass(t *testing.T, access ...uint16) *classfile.ClassFile {
	t.Helper()
	b := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Sub", "a/Base")
	for _, a := range access {
		b.Method(a, doStuff.Name, doStuff.Descriptor, sumBody())
	}
	cf, err := b.Build()
	require.NoError(t, err)
	return cf
}

// baseAndSub redefines a/Base and an empty a/Sub. The logical Sub adds
// doStuff with the given access.
func baseAndSub(t *testing.T, subAccess uint16) *batch {
	t.Helper()
	physBase, logBase := baseClasses(t)
	return newBatch(t,
		[]*classfile.ClassFile{object(t), physBase, subClass(t)},
		[]*classfile.ClassFile{logBase, subClass(t, subAccess)})
}

func TestPrivateMethodIsNotDispatched(t *testing.T) {
	b := baseAndSub(t, classfile.AccPrivate)

	res, err := Dispatch(b.world, b.patches, nil)
	require.NoError(t, err)
	require.Len(t, res.Indirections, 1)
	assert.Empty(t, res.Prologued)

	ind, err := FinalizeGenerated(res.Indirections[0])
	require.NoError(t, err)
	assert.Equal(t, "a/Base$$Indirect$1", ind.Name)
	assert.False(t, ind.Existing)
	assert.Equal(t, []string{
		"aload_0",
		"iload_1",
		"iload_2",
		"invokestatic a/Base$$Hotswap$1.doStuff(La/Base;II)I",
		"ireturn",
	}, listing(t, ind.Bytes, classfile.Sig{Name: "doStuff", Descriptor: "(La/Base;II)I"}))

	out, err := Finalize(b.patches[0])
	require.NoError(t, err)
	assert.Equal(t, []string{
		"aload_0",
		"iconst_1",
		"iconst_2",
		"invokestatic a/Base$$Indirect$1.doStuff(La/Base;II)I",
		"ireturn",
	}, listing(t, out.Bytes, classfile.Sig{Name: "run", Descriptor: "()I"}))
}

func TestOverridingMethodIsDispatched(t *testing.T) {
	b := baseAndSub(t, classfile.AccPublic)

	res, err := Dispatch(b.world, b.patches, nil)
	require.NoError(t, err)
	require.Len(t, res.Indirections, 2)

	var classes []Class
	for _, g := range res.Indirections {
		c, err := FinalizeGenerated(g)
		require.NoError(t, err)
		classes = append(classes, c)
	}
	ind := find(t, classes, "a/Base$$Indirect$1")
	assert.Equal(t, []string{
		"aload_0",
		"instanceof a/Sub",
		"ifeq",
		"aload_0",
		"checkcast a/Sub",
		"iload_1",
		"iload_2",
		"invokestatic a/Sub$$Hotswap$1.doStuff(La/Sub;II)I",
		"ireturn",
		"aload_0",
		"iload_1",
		"iload_2",
		"invokestatic a/Base$$Hotswap$1.doStuff(La/Base;II)I",
		"ireturn",
	}, listing(t, ind.Bytes, classfile.Sig{Name: "doStuff", Descriptor: "(La/Base;II)I"}))

	// Sub's own added method gets an indirection of its own
	sub := find(t, classes, "a/Sub$$Indirect$1")
	assert.False(t, sub.Existing)
	assert.Equal(t, []string{
		"aload_0",
		"iload_1",
		"iload_2",
		"invokestatic a/Sub$$Hotswap$1.doStuff(La/Sub;II)I",
		"ireturn",
	}, listing(t, sub.Bytes, classfile.Sig{Name: "doStuff", Descriptor: "(La/Sub;II)I"}))
}

func TestPhysicalPrivateMethodIsNotDispatched(t *testing.T) {
	physBase, logBase := baseClasses(t)
	// only Base is redefined; Sub keeps its private doStuff untouched
	b := newBatch(t,
		[]*classfile.ClassFile{object(t), physBase, subClass(t, classfile.AccPrivate)},
		[]*classfile.ClassFile{logBase})

	res, err := Dispatch(b.world, b.patches, nil)
	require.NoError(t, err)
	require.Len(t, res.Indirections, 1)
	assert.Empty(t, res.Prologued)

	ind, err := FinalizeGenerated(res.Indirections[0])
	require.NoError(t, err)
	assert.Equal(t, "a/Base$$Indirect$1", ind.Name)
	body := listing(t, ind.Bytes, classfile.Sig{Name: "doStuff", Descriptor: "(La/Base;II)I"})
	assert.NotContains(t, body, "instanceof a/Sub")
	assert.Equal(t, []string{
		"aload_0",
		"iload_1",
		"iload_2",
		"invokestatic a/Base$$Hotswap$1.doStuff(La/Base;II)I",
		"ireturn",
	}, body)

	out, err := Finalize(b.patches[0])
	require.NoError(t, err)
	assert.Contains(t, listing(t, out.Bytes, classfile.Sig{Name: "run", Descriptor: "()I"}),
		"invokestatic a/Base$$Indirect$1.doStuff(La/Base;II)I")
}

func TestRootsFindPhysicalOverridden(t *testing.T) {
	b := prologueBatch(t)
	assert.Equal(t, []string{"a/Base"}, Roots(b.world, b.units[:1]))
}

// prologueBatch redefines a/Sub to override a/Base.name, which a/Base
// declares physically. Base joins the batch unchanged.
func prologueBatch(t *testing.T) *batch {
	t.Helper()
	pb := classfile.NewBuilder(classfile.MajorJava8, classfile.AccPublic|classfile.AccSuper, "a/Base", "java/lang/Object")
	str := pb.String("base")
	body := classfile.NewCode(1, 2)
	body.Append(classfile.ConstInsn(opcode.LDC, str), classfile.Insn(opcode.ARETURN))
	pb.Method(classfile.AccPublic, nameSig.Name, nameSig.Descriptor, body)
	physBase, err := pb.Build()
	require.NoError(t, err)

	physSub, err := classfile.NewBuilder(classfile.MajorJava8, classfile.AccPublic|classfile.AccSuper, "a/Sub", "a/Base").Build()
	require.NoError(t, err)

	ls := classfile.NewBuilder(classfile.MajorJava8, classfile.AccPublic|classfile.AccSuper, "a/Sub", "a/Base")
	super := ls.Methodref("a/Base", nameSig.Name, nameSig.Descriptor)
	sub := classfile.NewCode(1, 1)
	sub.Append(
		classfile.LocalInsn(opcode.ALOAD, 0),
		classfile.ConstInsn(opcode.INVOKESPECIAL, super),
		classfile.Insn(opcode.ARETURN),
	)
	ls.Method(classfile.AccPublic, nameSig.Name, nameSig.Descriptor, sub)
	logSub, err := ls.Build()
	require.NoError(t, err)

	return newBatch(t,
		[]*classfile.ClassFile{object(t), physBase, physSub},
		[]*classfile.ClassFile{logSub, physBase.Clone()})
}

func TestPrologueForwardsToAddedOverride(t *testing.T) {
	b := prologueBatch(t)

	res, err := Dispatch(b.world, b.patches, nil)
	require.NoError(t, err)
	assert.True(t, res.Prologued[MethodKey{Class: "a/Base", Sig: nameSig}])

	base, err := Finalize(b.patches[1])
	require.NoError(t, err)
	assert.Equal(t, []string{
		"invokestatic hotswap/runtime/Dispatch.consumeSuper()Z",
		"ifne",
		"aload_0",
		"instanceof a/Sub",
		"ifeq",
		"aload_0",
		"checkcast a/Sub",
		"invokestatic a/Sub$$Hotswap$1.name(La/Sub;)Ljava/lang/String;",
		"areturn",
		"ldc",
		"areturn",
	}, listing(t, base.Bytes, nameSig))

	cf, err := classfile.Parse(base.Bytes)
	require.NoError(t, err)
	code, err := cf.Code(cf.Method(nameSig))
	require.NoError(t, err)
	require.Len(t, code.Frames, 1)
	assert.Equal(t, code.Insns[9], code.Frames[0].At.Insn)

	sub, err := Finalize(b.patches[0])
	require.NoError(t, err)
	require.Len(t, sub.Generated, 1)
	assert.Equal(t, []string{
		"aload_0",
		"invokestatic hotswap/runtime/Dispatch.enterSuper()V",
		"invokevirtual a/Base.name()Ljava/lang/String;",
		"areturn",
	}, listing(t, sub.Generated[0].Bytes, classfile.Sig{Name: "name", Descriptor: "(La/Sub;)Ljava/lang/String;"}))
}

func TestProloguePersists(t *testing.T) {
	b := prologueBatch(t)
	prev := map[MethodKey]bool{
		{Class: "a/Base", Sig: nameSig}:  true,
		{Class: "z/Other", Sig: nameSig}: true,
	}
	res, err := Dispatch(b.world, b.patches[1:], prev)
	require.NoError(t, err)
	assert.True(t, res.Prologued[MethodKey{Class: "z/Other", Sig: nameSig}])
	assert.True(t, res.Prologued[MethodKey{Class: "a/Base", Sig: nameSig}])
}
