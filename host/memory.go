package host

import (
	"fmt"
	"sync"
)

// Memory is an in-process Runtime that keeps class bytes in maps. It backs
// dry runs and tests; Redefine applies a batch only when every class of it
// is loaded.
type Memory struct {
	mu      sync.Mutex
	caps    Capabilities
	loaders map[string]*Loader
	classes map[ClassID]*Class
	aware   map[string][]string

	// Redefinitions counts successful Redefine calls.
	Redefinitions int

	// FailNext makes the next Redefine fail with this error.
	FailNext error
}

// NewMemory creates a runtime with the given loaders.
func NewMemory(caps Capabilities, loaders ...*Loader) *Memory {
	m := &Memory{
		caps:    caps,
		loaders: make(map[string]*Loader),
		classes: make(map[ClassID]*Class),
		aware:   make(map[string][]string),
	}
	for _, l := range loaders {
		m.loaders[l.ID] = l
	}
	return m
}

// Capabilities implements Runtime.
func (m *Memory) Capabilities() Capabilities {
	return m.caps
}

// Redefine implements Runtime.
func (m *Memory) Redefine(defs []Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return err
	}
	for _, d := range defs {
		if d.Class == nil || m.classes[d.Class.ID] != d.Class {
			return fmt.Errorf("%w: redefining %v", ErrClassNotFound, d.Class)
		}
	}
	for _, d := range defs {
		d.Class.Bytes = d.Bytes
	}
	m.Redefinitions++
	return nil
}

// Define implements Runtime.
func (m *Memory) Define(loader, name string, data []byte) (*Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loaders[loader]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrLoaderNotFound, loader)
	}
	id := ClassID{Name: name, Loader: loader}
	if _, ok := m.classes[id]; ok {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateClass, id)
	}
	c := &Class{ID: id, Bytes: data}
	m.classes[id] = c
	return c, nil
}

// LoadClass implements Runtime. Lookups delegate to parent loaders first.
func (m *Memory) LoadClass(loader, name string) (*Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var chain []string
	for id := loader; id != ""; {
		l, ok := m.loaders[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrLoaderNotFound, id)
		}
		chain = append([]string{id}, chain...)
		id = l.Parent
	}
	for _, id := range chain {
		if c, ok := m.classes[ClassID{Name: name, Loader: id}]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrClassNotFound, name, loader)
}

// Loader implements Runtime.
func (m *Memory) Loader(id string) (*Loader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loaders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLoaderNotFound, id)
	}
	return l, nil
}

// InstallClassChangeAware implements Runtime.
func (m *Memory) InstallClassChangeAware(loader, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loaders[loader]; !ok {
		return fmt.Errorf("%w: %s", ErrLoaderNotFound, loader)
	}
	m.aware[loader] = append(m.aware[loader], name)
	return nil
}

// Installed returns the class-change-aware class names installed in loader.
func (m *Memory) Installed(loader string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.aware[loader]...)
}

// Classes returns every loaded class.
func (m *Memory) Classes() []*Class {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Class, 0, len(m.classes))
	for _, c := range m.classes {
		out = append(out, c)
	}
	return out
}
