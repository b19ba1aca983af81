package extension

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/skdltmxn/hotswap-go/environment"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/transform"
)

// Environment kinds a descriptor may select.
const (
	EnvironmentDefault    = "default"
	EnvironmentDeployment = "deployment"
)

// Descriptor declares an extension in a YAML file:
//
//	name: faces
//	class_change_aware: org.example.faces.ChangeAware
//	triggers: [javax.faces.webapp.FacesServlet]
//	tracked_instances: [org.example.faces.Bean]
//	environment: deployment
//	units:
//	  - name: shop.ear/web.war
//	    root: /srv/shop/web.war
//	    loader: deployment.shop.ear.web.war
type Descriptor struct {
	Name             string   `yaml:"name"`
	ClassChangeAware string   `yaml:"class_change_aware"`
	Triggers         []string `yaml:"triggers"`
	TrackedInstances []string `yaml:"tracked_instances"`
	Environment      string   `yaml:"environment"`
	Units            []struct {
		Name   string `yaml:"name"`
		Root   string `yaml:"root"`
		Loader string `yaml:"loader"`
	} `yaml:"units"`
}

// ParseDescriptor decodes one descriptor. Unknown keys are errors.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("extension: parsing descriptor: %w", err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("extension: descriptor without a name")
	}
	switch d.Environment {
	case "", EnvironmentDefault, EnvironmentDeployment:
	default:
		return nil, fmt.Errorf("extension: %s: unknown environment %q", d.Name, d.Environment)
	}
	return &d, nil
}

// LoadDescriptors reads every .yaml and .yml file of dir in name order.
// A missing directory holds no descriptors.
func LoadDescriptors(dir string) ([]*Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("extension: %w", err)
	}
	var names []string
	for _, e := range entries {
		if ext := filepath.Ext(e.Name()); !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*Descriptor
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("extension: %w", err)
		}
		d, err := ParseDescriptor(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Bind turns a descriptor into an extension. Descriptors carry no
// transformers.
func (d *Descriptor) Bind(rt host.Runtime) Extension {
	b := &bound{d: d}
	switch d.Environment {
	case EnvironmentDefault:
		b.env = &environment.Default{Runtime: rt}
	case EnvironmentDeployment:
		units := make([]environment.Unit, 0, len(d.Units))
		for _, u := range d.Units {
			units = append(units, environment.Unit{Name: u.Name, Root: u.Root, Loader: u.Loader})
		}
		b.env = environment.NewDeployment(rt, units...)
	}
	return b
}

type bound struct {
	d   *Descriptor
	env environment.Environment
}

func (b *bound) Name() string { return b.d.Name }
func (b *bound) Transformers() []transform.Registration { return nil }
func (b *bound) ClassChangeAwareName() string { return b.d.ClassChangeAware }
func (b *bound) IntegrationTriggerClassNames() []string { return b.d.Triggers }
func (b *bound) Environment() environment.Environment { return b.env }
func (b *bound) TrackedInstanceClassNames() []string { return b.d.TrackedInstances }
