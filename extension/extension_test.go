package extension

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/hotswap-go/environment"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/transform"
)

const faces = `
name: faces
class_change_aware: org.example.faces.ChangeAware
triggers: [javax.faces.webapp.FacesServlet]
tracked_instances: [org.example.faces.Bean]
environment: deployment
units:
  - name: shop.ear/web.war
    root: /srv/shop/web.war
    loader: deployment.shop.ear.web.war
`

type tracker []string

func (n *tracker) Track(class string) { *n = append(*n, class) }

func runtime() *host.Memory {
	return host.NewMemory(host.Capabilities{}, &host.Loader{ID: "web"}, &host.Loader{ID: "admin"})
}

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(faces))
	require.NoError(t, err)
	assert.Equal(t, "faces", d.Name)
	assert.Equal(t, []string{"javax.faces.webapp.FacesServlet"}, d.Triggers)
	require.Len(t, d.Units, 1)
	assert.Equal(t, "deployment.shop.ear.web.war", d.Units[0].Loader)

	_, err = ParseDescriptor([]byte("name: x\nbogus: 1\n"))
	assert.Error(t, err)
	_, err = ParseDescriptor([]byte("name: x\nenvironment: cloud\n"))
	assert.Error(t, err)
	_, err = ParseDescriptor([]byte("triggers: []\n"))
	assert.Error(t, err)
}

func TestLoadDescriptors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("name: b\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(faces), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	ds, err := LoadDescriptors(dir)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "faces", ds[0].Name)
	assert.Equal(t, "b", ds[1].Name)

	ds, err = LoadDescriptors(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestSingleEnvironmentOwner(t *testing.T) {
	rt := runtime()
	r := NewRegistry(rt, nil, nil)
	d, err := ParseDescriptor([]byte(faces))
	require.NoError(t, err)
	require.NoError(t, r.Register(d.Bind(rt)))

	other, err := ParseDescriptor([]byte("name: other\nenvironment: default\n"))
	require.NoError(t, err)
	require.ErrorIs(t, r.Register(other.Bind(rt)), ErrEnvironmentConflict)

	plain, err := ParseDescriptor([]byte("name: plain\n"))
	require.NoError(t, err)
	require.NoError(t, r.Register(plain.Bind(rt)))
	require.ErrorIs(t, r.Register(plain.Bind(rt)), ErrDuplicateExtension)

	_, ok := r.Environment(nil).(*environment.Deployment)
	assert.True(t, ok)
	assert.Len(t, r.Extensions(), 2)
}

func TestTriggerActivatesOncePerLoader(t *testing.T) {
	rt := runtime()
	var tracked tracker
	r := NewRegistry(rt, &transform.Pipeline{}, &tracked)
	d, err := ParseDescriptor([]byte(faces))
	require.NoError(t, err)
	require.NoError(t, r.Register(d.Bind(rt)))
	assert.Equal(t, tracker{"org/example/faces/Bean"}, tracked)

	trigger := host.ClassID{Name: "javax/faces/webapp/FacesServlet", Loader: "web"}
	got, err := r.OnClassLoad(trigger)
	require.NoError(t, err)
	assert.Equal(t, []string{"faces"}, got)
	got, err = r.OnClassLoad(trigger)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, []string{"org/example/faces/ChangeAware"}, rt.Installed("web"))
	assert.Equal(t, []string{"faces"}, r.Active("web"))
	assert.Empty(t, r.Active("admin"))

	got, err = r.OnClassLoad(host.ClassID{Name: "a/Unrelated", Loader: "admin"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

type stub struct {
	name     string
	env      environment.Environment
	triggers []string
	regs     []transform.Registration
}

func (s *stub) Name() string { return s.name }
func (s *stub) Transformers() []transform.Registration { return s.regs }
func (s *stub) ClassChangeAwareName() string { return "" }
func (s *stub) IntegrationTriggerClassNames() []string { return s.triggers }
func (s *stub) Environment() environment.Environment { return s.env }
func (s *stub) TrackedInstanceClassNames() []string { return nil }

func TestRejectedExtensionLeavesNoTrace(t *testing.T) {
	rt := runtime()
	pipeline := &transform.Pipeline{}
	require.NoError(t, pipeline.Register(transform.Registration{Name: "shared"}))
	r := NewRegistry(rt, pipeline, nil)
	env := &environment.Default{Runtime: rt}

	err := r.Register(&stub{
		name:     "bad",
		env:      env,
		triggers: []string{"a.Trigger"},
		regs:     []transform.Registration{{Name: "bad-first"}, {Name: "shared"}},
	})
	require.ErrorIs(t, err, transform.ErrDuplicateName)
	assert.Empty(t, r.Extensions())
	assert.Len(t, pipeline.Registrations(), 1)
	assert.Nil(t, r.Environment(nil))
	got, err := r.OnClassLoad(host.ClassID{Name: "a/Trigger", Loader: "web"})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, r.Register(&stub{name: "good", env: env, regs: []transform.Registration{{Name: "good-first"}}}))
	assert.Same(t, env, r.Environment(nil))
	assert.Len(t, pipeline.Registrations(), 2)
}
