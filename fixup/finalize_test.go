package fixup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/internal/opcode"
	"github.com/skdltmxn/hotswap-go/rewrite"
)

func trivial() *classfile.Code {
	code := classfile.NewCode(1, 1)
	code.Append(classfile.Insn(opcode.ICONST_0), classfile.Insn(opcode.IRETURN))
	return code
}

// guardedFoo builds a/Foo whose doStuff1 and doStuff2 protect, with an
// exception handler, exactly the instruction that reaches an added member.
func guardedFoo(t *testing.T) *batch {
	t.Helper()
	pb := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Foo", "java/lang/Object")
	pb.Method(classfile.AccPublic, "doStuff1", "()I", trivial())
	pb.Method(classfile.AccPublic, "doStuff2", "()I", trivial())
	physical, err := pb.Build()
	require.NoError(t, err)

	lb := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Foo", "java/lang/Object")
	lb.Field(classfile.AccPrivate, "y", "I")
	helper := lb.Methodref("a/Foo", "helper", "(II)I")
	y := lb.Fieldref("a/Foo", "y", "I")
	rte := lb.Class("java/lang/RuntimeException")

	one := classfile.NewCode(3, 2)
	call := classfile.ConstInsn(opcode.INVOKEVIRTUAL, helper)
	ret := classfile.Insn(opcode.IRETURN)
	catch := classfile.LocalInsn(opcode.ASTORE, 1)
	one.Append(
		classfile.LocalInsn(opcode.ALOAD, 0),
		classfile.Insn(opcode.ICONST_1),
		classfile.Insn(opcode.ICONST_2),
		call,
		ret,
		catch,
		classfile.Insn(opcode.ICONST_M1),
		classfile.Insn(opcode.IRETURN),
	)
	one.AddHandler(one.LabelOf(call), one.LabelOf(ret), one.LabelOf(catch), rte)
	lb.Method(classfile.AccPublic, "doStuff1", "()I", one)

	two := classfile.NewCode(1, 1)
	get := classfile.ConstInsn(opcode.GETFIELD, y)
	ret = classfile.Insn(opcode.IRETURN)
	catch = classfile.Insn(opcode.POP)
	two.Append(
		classfile.LocalInsn(opcode.ALOAD, 0),
		get,
		ret,
		catch,
		classfile.Insn(opcode.ICONST_0),
		classfile.Insn(opcode.IRETURN),
	)
	two.AddHandler(two.LabelOf(get), two.LabelOf(ret), two.LabelOf(catch), 0)
	lb.Method(classfile.AccPublic, "doStuff2", "()I", two)
	lb.Method(classfile.AccPublic, "helper", "(II)I", sumBody())
	logical, err := lb.Build()
	require.NoError(t, err)

	return newBatch(t, []*classfile.ClassFile{object(t), physical}, []*classfile.ClassFile{logical})
}

// handlerRange returns the instruction indexes of a handler's start, end
// and target.
func handlerRange(t *testing.T, data []byte, name string, i int) (start, end, target int, catch string) {
	t.Helper()
	cf, err := classfile.Parse(data)
	require.NoError(t, err)
	code, err := cf.Code(cf.Method(classfile.Sig{Name: name, Descriptor: "()I"}))
	require.NoError(t, err)
	require.Greater(t, len(code.Handlers), i)
	h := code.Handlers[i]
	catch = "any"
	if h.CatchType != 0 {
		catch, err = cf.Pool.ClassName(h.CatchType)
		require.NoError(t, err)
	}
	return code.IndexOf(h.Start.Insn), code.IndexOf(h.End.Insn), code.IndexOf(h.Handler.Insn), catch
}

func TestExceptionRangesFollowRewrittenCalls(t *testing.T) {
	b := guardedFoo(t)
	_, err := Dispatch(b.world, b.patches, nil)
	require.NoError(t, err)
	out, err := Finalize(b.patches[0])
	require.NoError(t, err)

	assert.Equal(t, []string{
		"aload_0",
		"iconst_1",
		"iconst_2",
		"invokestatic a/Foo$$Indirect$1.helper(La/Foo;II)I",
		"ireturn",
		"astore_1",
		"iconst_m1",
		"ireturn",
	}, listing(t, out.Bytes, classfile.Sig{Name: "doStuff1", Descriptor: "()I"}))
	start, end, target, catch := handlerRange(t, out.Bytes, "doStuff1", 0)
	assert.Equal(t, [3]int{3, 4, 5}, [3]int{start, end, target})
	assert.Equal(t, "java/lang/RuntimeException", catch)

	assert.Equal(t, []string{
		"aload_0",
		"iconst_1",
		"invokestatic hotswap/runtime/Slots.getInt(Ljava/lang/Object;I)I",
		"ireturn",
		"pop",
		"iconst_0",
		"ireturn",
	}, listing(t, out.Bytes, classfile.Sig{Name: "doStuff2", Descriptor: "()I"}))
	start, end, target, catch = handlerRange(t, out.Bytes, "doStuff2", 0)
	assert.Equal(t, [3]int{1, 3, 4}, [3]int{start, end, target})
	assert.Equal(t, "any", catch)
}

func TestRelocateRejectsLostHandlerStart(t *testing.T) {
	b := guardedFoo(t)
	p := b.patches[0]
	var body *rewrite.Body
	for _, x := range p.Bodies {
		if x.Member.Name == "doStuff1" {
			body = x
		}
	}
	require.NotNil(t, body)

	// drop the relocation that keeps the handler on the trampoline
	var rels []rewrite.Relocation
	for _, r := range p.Relocations {
		if r.Body != body {
			rels = append(rels, r)
		}
	}
	err := Relocate(body, rels)
	require.ErrorIs(t, err, ErrDispatchFixup)
	var fe *DispatchFixupError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindExceptionTable, fe.Kind)
}

func TestRelocateDropsDanglingLines(t *testing.T) {
	b := guardedFoo(t)
	p := b.patches[0]
	body := p.Bodies[0]
	stale := classfile.Insn(opcode.NOP)
	body.Code.Lines = []classfile.LineNumber{{Start: body.Code.LabelOf(stale), Line: 7}}

	var rels []rewrite.Relocation
	for _, r := range p.Relocations {
		if r.Body == body {
			rels = append(rels, r)
		}
	}
	require.NoError(t, Relocate(body, rels))
	assert.Nil(t, body.Code.Lines)
}
