package transform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/host"
)

func fooClass(t *testing.T) *classfile.ClassFile {
	t.Helper()
	cf, err := classfile.NewBuilder(classfile.MajorJava8, classfile.AccPublic|classfile.AccSuper, "a/Foo", "java/lang/Object").Build()
	require.NoError(t, err)
	return cf
}

// addField returns a transformer adding an int field.
func addField(name string) Transformer {
	return Func(func(_ host.ClassID, cf *classfile.ClassFile) (*classfile.ClassFile, error) {
		m, err := classfile.NewMember(cf.Pool, classfile.AccPrivate, classfile.Sig{Name: name, Descriptor: "I"})
		if err != nil {
			return nil, err
		}
		cf.Fields = append(cf.Fields, m)
		return cf, nil
	})
}

type recorder struct {
	changed []Change
	err     error
}

func (r *recorder) AfterChange(changed []Change, _ []host.ClassID) error {
	r.changed = append(r.changed, changed...)
	return r.err
}

func TestRunInRegistrationOrder(t *testing.T) {
	var p Pipeline
	require.NoError(t, p.Register(Registration{Name: "first", Transformer: addField("a")}))
	require.NoError(t, p.Register(Registration{Name: "second", Transformer: addField("b")}))
	require.ErrorIs(t, p.Register(Registration{Name: "first"}), ErrDuplicateName)

	in := fooClass(t)
	out, err := p.Run(host.ClassID{Name: "a/Foo"}, in)
	require.NoError(t, err)
	require.Len(t, out.Fields, 2)
	assert.Equal(t, "a", out.Fields[0].Name)
	assert.Equal(t, "b", out.Fields[1].Name)
	assert.Empty(t, in.Fields)
}

func TestFailureIsolatedToClass(t *testing.T) {
	var p Pipeline
	boom := errors.New("boom")
	require.NoError(t, p.Register(Registration{Name: "picky", Transformer: Func(
		func(class host.ClassID, cf *classfile.ClassFile) (*classfile.ClassFile, error) {
			if class.Name == "a/Bad" {
				return nil, boom
			}
			return nil, nil
		})}))

	_, err := p.Run(host.ClassID{Name: "a/Bad"}, fooClass(t))
	require.ErrorIs(t, err, ErrTransformer)
	require.ErrorIs(t, err, boom)
	var te *TransformerError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "picky", te.Transformer)

	in := fooClass(t)
	out, err := p.Run(host.ClassID{Name: "a/Foo"}, in)
	require.NoError(t, err)
	assert.Same(t, in, out)
}

func TestGeneratedClassesSkipped(t *testing.T) {
	var p Pipeline
	require.NoError(t, p.Register(Registration{Name: "fail", Transformer: Func(
		func(host.ClassID, *classfile.ClassFile) (*classfile.ClassFile, error) {
			return nil, errors.New("must not run")
		})}))
	_, err := p.Run(host.ClassID{Name: "a/Foo$$Hotswap$1"}, fooClass(t))
	assert.NoError(t, err)
}

func TestNotifyContinuesPastFailure(t *testing.T) {
	var p Pipeline
	bad := &recorder{err: errors.New("nope")}
	good := &recorder{}
	require.NoError(t, p.Register(Registration{Name: "bad", Aware: bad}))
	require.NoError(t, p.Register(Registration{Name: "good", Aware: good}))

	p.Notify([]Change{{Class: host.ClassID{Name: "a/Foo"}}}, nil)
	assert.Len(t, bad.changed, 1)
	assert.Len(t, good.changed, 1)
}
