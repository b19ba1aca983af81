package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/diff"
	"github.com/skdltmxn/hotswap-go/environment"
	"github.com/skdltmxn/hotswap-go/extension"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/instance"
	"github.com/skdltmxn/hotswap-go/internal/opcode"
	"github.com/skdltmxn/hotswap-go/sidetable"
	"github.com/skdltmxn/hotswap-go/transform"
)

const app = "deployment.app.war"

var (
	fooID = host.ClassID{Name: "a/Foo", Loader: app}
	getY  = classfile.Sig{Name: "get", Descriptor: "()I"}
	ySig  = classfile.Sig{Name: "y", Descriptor: "I"}
)

type foo struct{ x int32 }

func newRuntime() *host.Memory {
	return host.NewMemory(host.Capabilities{}, &host.Loader{ID: app, Replaceable: true})
}

func fooBuilder() *classfile.Builder {
	b := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Foo", "java/lang/Object")
	b.Field(classfile.AccPrivate, "x", "I")
	return b
}

// readField builds get()I returning the named int field.
func readField(t *testing.T, b *classfile.Builder, field string) {
	t.Helper()
	code := classfile.NewCode(1, 1)
	code.Append(
		classfile.Insn(opcode.ALOAD_0),
		classfile.ConstInsn(opcode.GETFIELD, b.Fieldref("a/Foo", field, "I")),
		classfile.Insn(opcode.IRETURN),
	)
	b.Method(classfile.AccPublic, "get", "()I", code)
}

func build(t *testing.T, b *classfile.Builder) []byte {
	t.Helper()
	data, err := b.Bytes()
	require.NoError(t, err)
	return data
}

// physicalFoo defines a/Foo with field x and get() returning x.
func physicalFoo(t *testing.T, e *Engine) *host.Class {
	t.Helper()
	b := fooBuilder()
	readField(t, b, "x")
	c, err := e.Define(app, "a/Foo", build(t, b))
	require.NoError(t, err)
	return c
}

func ops(t *testing.T, data []byte, sig classfile.Sig) []opcode.Op {
	t.Helper()
	cf, err := classfile.Parse(data)
	require.NoError(t, err)
	m := cf.Method(sig)
	require.NotNil(t, m)
	code, err := cf.Code(m)
	require.NoError(t, err)
	var out []opcode.Op
	for _, in := range code.Insns {
		out = append(out, in.Op)
	}
	return out
}

func TestAddedFieldReadsDefaultOnLiveInstance(t *testing.T) {
	rt := newRuntime()
	arena := sidetable.NewArena()
	registry := instance.NewRegistry[foo](arena)
	registry.Track("a/Foo")
	e := New(rt, Options{Arena: arena, Instances: registry})
	c := physicalFoo(t, e)
	before, err := classfile.Parse(c.Bytes)
	require.NoError(t, err)

	live := &foo{x: 7}

	b := fooBuilder()
	b.Field(classfile.AccPrivate, "y", "I")
	readField(t, b, "y")
	e.Queue(fooID, build(t, b))
	assert.Equal(t, []host.ClassID{fooID}, e.Pending())

	report, err := e.Redefine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []host.ClassID{fooID}, report.Redefined)
	assert.Empty(t, report.Failures)
	assert.Empty(t, e.Pending())
	assert.Equal(t, 1, rt.Redefinitions)

	after, err := classfile.Parse(c.Bytes)
	require.NoError(t, err)
	assert.Equal(t, before.EncodeFields(), after.EncodeFields())
	assert.Equal(t, []opcode.Op{opcode.ALOAD_0, opcode.ICONST_1, opcode.INVOKESTATIC, opcode.IRETURN},
		ops(t, c.Bytes, getY))

	entry, ok := arena.Table(fooID).Field(ySig)
	require.True(t, ok)
	view, err := registry.Migrate(live, fooID)
	require.NoError(t, err)
	slot, err := view.Slot(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), slot.Load())
	assert.Equal(t, int32(7), live.x)
}

func TestRemovedFieldRetiresSlots(t *testing.T) {
	rt := newRuntime()
	arena := sidetable.NewArena()
	registry := instance.NewRegistry[foo](arena)
	registry.Track("a/Foo")
	e := New(rt, Options{Arena: arena, Instances: registry})
	physicalFoo(t, e)

	b := fooBuilder()
	b.Field(classfile.AccPrivate, "y", "I")
	readField(t, b, "y")
	e.Queue(fooID, build(t, b))
	_, err := e.Redefine(context.Background())
	require.NoError(t, err)

	entry, _ := arena.Table(fooID).Field(ySig)
	live := &foo{}
	view, err := registry.Migrate(live, fooID)
	require.NoError(t, err)
	_, err = view.Slot(entry.ID)
	require.NoError(t, err)

	b = fooBuilder()
	readField(t, b, "x")
	e.Queue(fooID, build(t, b))
	_, err = e.Redefine(context.Background())
	require.NoError(t, err)

	assert.Empty(t, view.Members())
	_, err = view.Slot(entry.ID)
	assert.ErrorIs(t, err, instance.ErrRetired)
	runtime.KeepAlive(live)
}

// twiceFoo is a/Foo whose get() calls an added method twice().
func twiceFoo(t *testing.T) []byte {
	t.Helper()
	b := fooBuilder()
	get := classfile.NewCode(1, 1)
	get.Append(
		classfile.Insn(opcode.ALOAD_0),
		classfile.ConstInsn(opcode.INVOKEVIRTUAL, b.Methodref("a/Foo", "twice", "()I")),
		classfile.Insn(opcode.IRETURN),
	)
	b.Method(classfile.AccPublic, "get", "()I", get)
	twice := classfile.NewCode(1, 1)
	twice.Append(classfile.Insn(opcode.ICONST_2), classfile.Insn(opcode.IRETURN))
	b.Method(classfile.AccPublic, "twice", "()I", twice)
	return build(t, b)
}

func TestHostRefusalRollsBack(t *testing.T) {
	rt := newRuntime()
	e := New(rt, Options{})
	c := physicalFoo(t, e)
	original := c.Bytes

	rt.FailNext = errors.New("redefinition refused")
	e.Queue(fooID, twiceFoo(t))
	report, err := e.Redefine(context.Background())
	require.ErrorIs(t, err, ErrBatchFailed)
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindHost, be.Kind)
	assert.Equal(t, report.ID, be.Batch)
	assert.Nil(t, e.Arena().Table(fooID))
	assert.Equal(t, original, c.Bytes)
	assert.Equal(t, 0, rt.Redefinitions)
	assert.ElementsMatch(t, []host.ClassID{
		{Name: "a/Foo$$Hotswap$1", Loader: app},
		{Name: "a/Foo$$Indirect$1", Loader: app},
	}, report.Defined)

	// the retry redefines the classes the refused attempt defined
	e.Queue(fooID, twiceFoo(t))
	report, err = e.Redefine(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Defined)
	assert.Equal(t, 1, rt.Redefinitions)
	assert.Equal(t, 1, e.Arena().Table(fooID).Generation())

	companion, err := rt.LoadClass(app, "a/Foo$$Hotswap$1")
	require.NoError(t, err)
	assert.Equal(t, []opcode.Op{opcode.ICONST_2, opcode.IRETURN},
		ops(t, companion.Bytes, classfile.Sig{Name: "twice", Descriptor: "(La/Foo;)I"}))
	assert.Contains(t, ops(t, c.Bytes, getY), opcode.INVOKESTATIC)
	assert.Len(t, rt.Classes(), 3)
}

func TestMalformedClassAbortsBatch(t *testing.T) {
	rt := newRuntime()
	e := New(rt, Options{})
	physicalFoo(t, e)
	bb := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Bar", "java/lang/Object")
	bar, err := e.Define(app, "a/Bar", build(t, bb))
	require.NoError(t, err)

	e.Queue(fooID, twiceFoo(t))
	e.Queue(bar.ID, []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00})
	report, err := e.Redefine(context.Background())
	require.ErrorIs(t, err, ErrBatchFailed)
	assert.ErrorIs(t, err, classfile.ErrMalformedClass)
	assert.Equal(t, 0, rt.Redefinitions)

	// everything but the malformed class is queued again
	assert.Equal(t, []host.ClassID{fooID}, report.Requeued)
	assert.Equal(t, []host.ClassID{fooID}, e.Pending())
	report, err = e.Redefine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []host.ClassID{fooID}, report.Redefined)
	assert.Equal(t, 1, rt.Redefinitions)
}

func TestFailuresDropOnlyTheirClass(t *testing.T) {
	rt := newRuntime()
	pipeline := &transform.Pipeline{}
	require.NoError(t, pipeline.Register(transform.Registration{
		Name: "reject-bar",
		Transformer: transform.Func(func(class host.ClassID, cf *classfile.ClassFile) (*classfile.ClassFile, error) {
			if class.Name == "a/Bar" {
				return nil, errors.New("unsupported")
			}
			return nil, nil
		}),
	}))
	e := New(rt, Options{Pipeline: pipeline})
	physicalFoo(t, e)
	bar := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Bar", "java/lang/Object")
	barBytes := build(t, bar)
	_, err := rt.Define(app, "a/Bar", barBytes)
	require.NoError(t, err)
	barClass, err := rt.LoadClass(app, "a/Bar")
	require.NoError(t, err)
	require.NoError(t, e.Load(barClass))

	baz := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Baz", "a/Base")

	b := fooBuilder()
	b.Field(classfile.AccPrivate, "y", "I")
	readField(t, b, "y")
	e.Queue(fooID, build(t, b))
	e.Queue(barClass.ID, barBytes)
	e.Queue(host.ClassID{Name: "a/Baz", Loader: app}, build(t, baz))

	report, err := e.Redefine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []host.ClassID{fooID}, report.Redefined)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, KindTransformer, report.Failures[0].Kind)
	assert.ErrorIs(t, report.Failures[0], transform.ErrTransformer)
	assert.Equal(t, KindUnknownClass, report.Failures[1].Kind)
	assert.ErrorIs(t, report.Failures[1], ErrUnknownClass)
}

func TestHierarchyChangeNeedsCapability(t *testing.T) {
	rt := newRuntime()
	e := New(rt, Options{})
	physicalFoo(t, e)

	b := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Foo", "a/Base")
	b.Field(classfile.AccPrivate, "x", "I")
	readField(t, b, "x")
	e.Queue(fooID, build(t, b))

	report, err := e.Redefine(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Redefined)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, diff.KindHierarchyForbidden, report.Failures[0].Kind)
	assert.ErrorIs(t, report.Failures[0], diff.ErrUnsupportedHierarchyChange)
}

func TestNotReplaceableLoader(t *testing.T) {
	rt := host.NewMemory(host.Capabilities{}, &host.Loader{ID: "system"})
	e := New(rt, Options{})
	b := fooBuilder()
	readField(t, b, "x")
	_, err := e.Define("system", "a/Foo", build(t, b))
	require.NoError(t, err)

	e.Queue(host.ClassID{Name: "a/Foo", Loader: "system"}, build(t, b))
	report, err := e.Redefine(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, KindNotReplaceable, report.Failures[0].Kind)
}

type recorder struct {
	changed []transform.Change
	added   []host.ClassID
}

func (r *recorder) AfterChange(changed []transform.Change, added []host.ClassID) error {
	r.changed, r.added = changed, added
	return nil
}

func TestNotifyAfterBatch(t *testing.T) {
	rt := newRuntime()
	aware := &recorder{}
	pipeline := &transform.Pipeline{}
	require.NoError(t, pipeline.Register(transform.Registration{Name: "aware", Aware: aware}))
	e := New(rt, Options{Pipeline: pipeline})
	physicalFoo(t, e)

	e.Queue(fooID, twiceFoo(t))
	_, err := e.Redefine(context.Background())
	require.NoError(t, err)
	require.Len(t, aware.changed, 1)
	assert.Equal(t, fooID, aware.changed[0].Class)
	require.Len(t, aware.changed[0].Changes.MethodsAdded, 1)
	assert.Equal(t, "twice", aware.changed[0].Changes.MethodsAdded[0].Name)
	assert.Len(t, aware.added, 2)
}

func TestTriggerClassActivatesExtension(t *testing.T) {
	rt := newRuntime()
	exts := extension.NewRegistry(rt, nil, nil)
	d, err := extension.ParseDescriptor([]byte("name: foo\nclass_change_aware: a.FooAware\ntriggers: [a.Foo]\n"))
	require.NoError(t, err)
	require.NoError(t, exts.Register(d.Bind(rt)))
	e := New(rt, Options{Extensions: exts})

	physicalFoo(t, e)
	assert.Equal(t, []string{"a/FooAware"}, rt.Installed(app))
	assert.Equal(t, []string{"foo"}, exts.Active(app))
}

func TestQueueUpdatedFromDeployment(t *testing.T) {
	rt := newRuntime()
	root := t.TempDir()
	path := filepath.Join(root, "a", "Foo.class")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte{0xCA, 0xFE}, 0o644))
	stamp := time.UnixMilli(900)
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	env := environment.NewDeployment(rt, environment.Unit{Name: "app.war", Root: root, Loader: app})
	e := New(rt, Options{Environment: env})
	physicalFoo(t, e)

	b := fooBuilder()
	b.Field(classfile.AccPrivate, "y", "I")
	readField(t, b, "y")
	fresh := build(t, b)
	source := func(class string) ([]byte, error) {
		require.Equal(t, "a.Foo", class)
		return fresh, nil
	}
	n := e.QueueUpdated("app.war", map[string]int64{"a.Foo": 1000, "a.Gone": 1000}, source)
	assert.Equal(t, 1, n)
	assert.Equal(t, []host.ClassID{fooID}, e.Pending())

	report, err := e.Redefine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []host.ClassID{fooID}, report.Redefined)

	// the replacement was recorded, so the same change is not queued twice
	assert.Zero(t, e.QueueUpdated("app.war", map[string]int64{"a.Foo": 1000}, source))
}

// calls lists the target of every invoke in a method.
func calls(t *testing.T, data []byte, sig classfile.Sig) []string {
	t.Helper()
	cf, err := classfile.Parse(data)
	require.NoError(t, err)
	m := cf.Method(sig)
	require.NotNil(t, m)
	code, err := cf.Code(m)
	require.NoError(t, err)
	var out []string
	for _, in := range code.Insns {
		if !in.Op.IsInvoke() {
			continue
		}
		ref, err := cf.Pool.MemberRef(in.Index)
		require.NoError(t, err)
		out = append(out, ref.Owner+"."+ref.Sig.String())
	}
	return out
}

// redefinedTwice installs a/Foo and redefines it to add twice().
func redefinedTwice(t *testing.T) (*host.Memory, *Engine) {
	t.Helper()
	rt := newRuntime()
	e := New(rt, Options{})
	physicalFoo(t, e)
	e.Queue(fooID, twiceFoo(t))
	_, err := e.Redefine(context.Background())
	require.NoError(t, err)
	return rt, e
}

func TestDefineLinksAddedMembers(t *testing.T) {
	_, e := redefinedTwice(t)

	b := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/Caller", "java/lang/Object")
	code := classfile.NewCode(1, 1)
	code.Append(
		classfile.Insn(opcode.ALOAD_0),
		classfile.ConstInsn(opcode.INVOKEVIRTUAL, b.Methodref("a/Foo", "twice", "()I")),
		classfile.Insn(opcode.IRETURN),
	)
	b.Method(classfile.AccPublic|classfile.AccStatic, "call", "(La/Foo;)I", code)
	c, err := e.Define(app, "a/Caller", build(t, b))
	require.NoError(t, err)

	call := classfile.Sig{Name: "call", Descriptor: "(La/Foo;)I"}
	assert.Equal(t, []opcode.Op{opcode.ALOAD_0, opcode.INVOKESTATIC, opcode.IRETURN}, ops(t, c.Bytes, call))
	assert.Equal(t, []string{"a/Foo$$Indirect$1.twice(La/Foo;)I"}, calls(t, c.Bytes, call))
}

func TestDefinedSubclassJoinsDispatch(t *testing.T) {
	rt, e := redefinedTwice(t)
	assert.Equal(t, 1, rt.Redefinitions)

	b := classfile.NewBuilder(classfile.MajorJava5, classfile.AccPublic|classfile.AccSuper, "a/SubFoo", "a/Foo")
	code := classfile.NewCode(1, 1)
	code.Append(classfile.Insn(opcode.ICONST_3), classfile.Insn(opcode.IRETURN))
	b.Method(classfile.AccPublic, "twice", "()I", code)
	_, err := e.Define(app, "a/SubFoo", build(t, b))
	require.NoError(t, err)
	assert.Equal(t, 2, rt.Redefinitions)

	ind, err := rt.LoadClass(app, "a/Foo$$Indirect$1")
	require.NoError(t, err)
	twice := classfile.Sig{Name: "twice", Descriptor: "(La/Foo;)I"}
	assert.Contains(t, ops(t, ind.Bytes, twice), opcode.INSTANCEOF)
	assert.Equal(t, []string{
		"a/SubFoo.twice()I",
		"a/Foo$$Hotswap$1.twice(La/Foo;)I",
	}, calls(t, ind.Bytes, twice))
}
