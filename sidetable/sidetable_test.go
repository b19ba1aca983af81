package sidetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/host"
)

var foo = host.ClassID{Name: "a/Foo", Loader: "app"}

func field(name, desc string) Decl {
	return Decl{Kind: InstanceSlot, Sig: classfile.Sig{Name: name, Descriptor: desc}, Default: classfile.ZeroValue(desc)}
}

func TestReconcileKeepsSurvivingIDs(t *testing.T) {
	a := NewArena()

	tx := a.Begin()
	d := tx.Reconcile(foo, []Decl{field("y", "I"), field("z", "J")})
	require.Len(t, d.Added, 2)
	assert.Equal(t, 1, d.Generation)
	y := d.Added[0].ID
	tx.Commit()

	tx = a.Begin()
	d = tx.Reconcile(foo, []Decl{field("y", "I"), {Kind: StaticSlot, Sig: classfile.Sig{Name: "z", Descriptor: "J"}}})
	tx.Commit()
	assert.Equal(t, 2, d.Generation)
	require.Len(t, d.Kept, 1)
	assert.Equal(t, y, d.Kept[0].ID, "surviving field keeps its id")
	require.Len(t, d.Retired, 1)
	assert.Equal(t, "z", d.Retired[0].Sig.Name)
	require.Len(t, d.Added, 1)
	assert.Equal(t, StaticSlot, d.Added[0].Kind)
	assert.Greater(t, d.Added[0].ID, d.Retired[0].ID)

	table := a.Table(foo)
	assert.Len(t, table.Entries(), 3)
	assert.Len(t, table.Active(), 2)
	e, ok := table.Field(classfile.Sig{Name: "z", Descriptor: "J"})
	require.True(t, ok)
	assert.Equal(t, StaticSlot, e.Kind)
}

func TestReaddedMemberGetsFreshID(t *testing.T) {
	a := NewArena()
	tx := a.Begin()
	first := tx.Reconcile(foo, []Decl{field("y", "I")}).Added[0].ID
	tx.Commit()

	tx = a.Begin()
	tx.Reconcile(foo, nil)
	tx.Commit()

	tx = a.Begin()
	again := tx.Reconcile(foo, []Decl{field("y", "I")}).Added[0].ID
	tx.Commit()
	assert.NotEqual(t, first, again)
}

func TestUndoRestoresTables(t *testing.T) {
	a := NewArena()
	tx := a.Begin()
	tx.Reconcile(foo, []Decl{field("y", "I")})
	tx.Commit()
	before := a.Table(foo)

	tx = a.Begin()
	d := tx.Reconcile(foo, []Decl{{Kind: Method, Sig: classfile.Sig{Name: "run", Descriptor: "()V"}, Access: classfile.AccPublic}})
	staged := tx.Table(foo)
	assert.Same(t, staged, tx.Table(foo))
	undo := tx.Commit()
	added := d.Added[0].ID
	_, _, ok := a.Lookup(added)
	require.True(t, ok)
	assert.Equal(t, "a/Foo$$Hotswap$2", a.Table(foo).Companion(d.Added[0]))
	assert.True(t, d.Added[0].IsVirtual())

	undo()
	assert.Same(t, before, a.Table(foo))
	assert.Equal(t, 1, a.Table(foo).Generation())
	_, _, ok = a.Lookup(added)
	assert.False(t, ok)
	_, ok = a.Table(foo).Field(classfile.Sig{Name: "y", Descriptor: "I"})
	assert.True(t, ok, "retirement staged in the undone transaction is gone")

	tx = a.Begin()
	next := tx.Reconcile(foo, []Decl{field("w", "I")}).Added[0].ID
	assert.Greater(t, next, added, "ids are never handed out twice")
}

func TestGenerations(t *testing.T) {
	a := NewArena()
	run := Decl{Kind: Method, Sig: classfile.Sig{Name: "run", Descriptor: "()V"}}
	stop := Decl{Kind: Method, Sig: classfile.Sig{Name: "stop", Descriptor: "()V"}}

	tx := a.Begin()
	tx.Reconcile(foo, []Decl{run})
	tx.Commit()
	tx = a.Begin()
	tx.Reconcile(foo, []Decl{field("y", "I")})
	tx.Commit()
	tx = a.Begin()
	tx.Reconcile(foo, []Decl{stop})
	tx.Commit()

	assert.Equal(t, []int{1, 3}, a.Table(foo).Generations())
	assert.Equal(t, "a/Foo$$Indirect$3", IndirectionName("a/Foo", 3))
}
