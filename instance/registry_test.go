package instance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/sidetable"
)

type object struct{ x int }

var foo = host.ClassID{Name: "a/Foo", Loader: "app"}

func slotDecl(name string) sidetable.Decl {
	return sidetable.Decl{Kind: sidetable.InstanceSlot, Sig: classfile.Sig{Name: name, Descriptor: "I"}, Default: int32(0)}
}

// redefine commits a generation of a/Foo whose added fields are want.
func redefine(arena *sidetable.Arena, want ...sidetable.Decl) *sidetable.Delta {
	tx := arena.Begin()
	d := tx.Reconcile(foo, want)
	tx.Commit()
	return d
}

func TestMigrateIsIdempotent(t *testing.T) {
	r := NewRegistry[object](sidetable.NewArena())
	obj := &object{}

	_, err := r.Migrate(obj, foo)
	require.ErrorIs(t, err, ErrNotTracked)

	r.Track("a/Foo")
	first, err := r.Migrate(obj, foo)
	require.NoError(t, err)
	second, err := r.Migrate(obj, foo)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []*object{obj}, r.Instances(foo))
}

func TestSlotStartsAtDefaultAndSurvives(t *testing.T) {
	arena := sidetable.NewArena()
	r := NewRegistry[object](arena)
	r.Track("a/Foo")

	d := redefine(arena, slotDecl("y"))
	y := d.Added[0].ID
	obj := &object{x: 1}
	v, err := r.Migrate(obj, foo)
	require.NoError(t, err)

	s, err := v.Slot(y)
	require.NoError(t, err)
	assert.Equal(t, int32(0), s.Load())
	s.Store(int32(5))

	// y survives, z is new
	d = redefine(arena, slotDecl("y"), slotDecl("z"))
	require.Len(t, d.Kept, 1)
	assert.Equal(t, y, d.Kept[0].ID)
	s, err = v.Slot(y)
	require.NoError(t, err)
	assert.Equal(t, int32(5), s.Load())

	// y goes away
	d = redefine(arena, slotDecl("z"))
	assert.Equal(t, 1, r.Retire(d))
	_, err = v.Slot(y)
	require.ErrorIs(t, err, ErrRetired)
	assert.Empty(t, v.Members())
}

func TestConcurrentFirstTouch(t *testing.T) {
	arena := sidetable.NewArena()
	r := NewRegistry[object](arena)
	r.Track("a/Foo")
	y := redefine(arena, slotDecl("y")).Added[0].ID
	obj := &object{}

	const n = 16
	slots := make([]*Slot, n)
	views := make([]*View, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.Migrate(obj, foo)
			if err != nil {
				return
			}
			views[i] = v
			slots[i], _ = v.Slot(y)
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		assert.Same(t, views[0], views[i])
		assert.Same(t, slots[0], slots[i])
	}
}

func TestStaticSlots(t *testing.T) {
	arena := sidetable.NewArena()
	r := NewRegistry[object](arena)
	d := redefine(arena, sidetable.Decl{Kind: sidetable.StaticSlot, Sig: classfile.Sig{Name: "count", Descriptor: "J"}, Default: int64(7)})
	id := d.Added[0].ID

	s, err := r.Static(id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.Load())
	assert.True(t, s.CompareAndSwap(int64(7), int64(8)))
	assert.False(t, s.CompareAndSwap(int64(7), int64(9)))
	assert.Equal(t, int64(8), s.Load())

	// slices never compare equal, and comparing them must not panic
	ref := []string{"a"}
	s.Store(ref)
	assert.NotPanics(t, func() {
		assert.False(t, s.CompareAndSwap(ref, int64(1)))
		assert.False(t, s.CompareAndSwap(int64(8), int64(1)))
	})
	assert.Equal(t, ref, s.Load())

	r.Track("a/Foo")
	v, err := r.Migrate(&object{}, foo)
	require.NoError(t, err)
	_, err = v.Slot(id)
	require.ErrorIs(t, err, ErrKindMismatch)
	_, err = v.Slot(999)
	require.ErrorIs(t, err, ErrUnknownMember)
}
