// Package extension holds the integrations that plug into the engine:
// their transformers, the class-change-aware objects they install into
// loaders, the trigger classes that activate them, the tracked classes
// they declare and at most one environment override.
package extension

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/environment"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/transform"
)

var log = commonlog.GetLogger("hotswap.extension")

var (
	// ErrEnvironmentConflict indicates a second extension overriding the
	// environment.
	ErrEnvironmentConflict = errors.New("extension: environment already overridden")

	// ErrDuplicateExtension indicates a second extension with a taken name.
	ErrDuplicateExtension = errors.New("extension: duplicate extension")
)

// Extension is an integration. Class names use the Java form.
type Extension interface {
	Name() string

	// Transformers run on every class before any rewriting, in order.
	Transformers() []transform.Registration

	// ClassChangeAwareName names the class instantiated in each activated
	// loader to receive change notifications, or "".
	ClassChangeAwareName() string

	// IntegrationTriggerClassNames activate the extension for the loader
	// that loads one of them.
	IntegrationTriggerClassNames() []string

	// Environment overrides the environment, or returns nil.
	Environment() environment.Environment

	// TrackedInstanceClassNames are the classes whose instances are
	// tracked for migration.
	TrackedInstanceClassNames() []string
}

// Tracker receives tracked class names in internal form.
type Tracker interface {
	Track(class string)
}

// Registry holds the registered extensions and their activations.
type Registry struct {
	runtime  host.Runtime
	pipeline *transform.Pipeline
	tracker  Tracker

	mu       sync.Mutex
	exts     []Extension
	envOwner Extension
	triggers map[string][]Extension // internal class name -> extensions
	active   map[string]map[string]bool
}

// NewRegistry creates a registry. Transformers go to pipeline and tracked
// class names to tracker; either may be nil.
func NewRegistry(rt host.Runtime, pipeline *transform.Pipeline, tracker Tracker) *Registry {
	return &Registry{
		runtime:  rt,
		pipeline: pipeline,
		tracker:  tracker,
		triggers: make(map[string][]Extension),
		active:   make(map[string]map[string]bool),
	}
}

// Register adds an extension. Registering a second environment override
// is a configuration error. A rejected extension leaves the registry and
// the pipeline as they were.
func (r *Registry) Register(ext Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, x := range r.exts {
		if x.Name() == ext.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateExtension, ext.Name())
		}
	}
	env := ext.Environment()
	if env != nil && r.envOwner != nil {
		return fmt.Errorf("%w: %s and %s", ErrEnvironmentConflict, r.envOwner.Name(), ext.Name())
	}
	if r.pipeline != nil {
		if err := r.pipeline.RegisterAll(ext.Transformers()...); err != nil {
			return fmt.Errorf("extension: %s: %w", ext.Name(), err)
		}
	}

	if env != nil {
		r.envOwner = ext
	}
	if r.tracker != nil {
		for _, name := range ext.TrackedInstanceClassNames() {
			r.tracker.Track(classfile.InternalName(name))
		}
	}
	for _, name := range ext.IntegrationTriggerClassNames() {
		internal := classfile.InternalName(name)
		r.triggers[internal] = append(r.triggers[internal], ext)
	}
	r.exts = append(r.exts, ext)
	log.Infof("registered extension %s", ext.Name())
	return nil
}

// Extensions returns the registered extensions in order.
func (r *Registry) Extensions() []Extension {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.exts)
}

// Environment returns the overriding environment, or fallback.
func (r *Registry) Environment(fallback environment.Environment) environment.Environment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.envOwner != nil {
		return r.envOwner.Environment()
	}
	return fallback
}

// OnClassLoad activates every extension triggered by class for its
// loader, installing the extension's class-change-aware object there. It
// returns the names of the newly activated extensions.
func (r *Registry) OnClassLoad(class host.ClassID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, ext := range r.triggers[class.Name] {
		loaded := r.active[class.Loader]
		if loaded[ext.Name()] {
			continue
		}
		if name := ext.ClassChangeAwareName(); name != "" {
			if err := r.runtime.InstallClassChangeAware(class.Loader, classfile.InternalName(name)); err != nil {
				return out, fmt.Errorf("extension: activating %s in %s: %w", ext.Name(), class.Loader, err)
			}
		}
		if loaded == nil {
			loaded = make(map[string]bool)
			r.active[class.Loader] = loaded
		}
		loaded[ext.Name()] = true
		out = append(out, ext.Name())
		log.Infof("%s activated in %s by %s", ext.Name(), class.Loader, class.Name)
	}
	return out, nil
}

// Active returns the names of the extensions active in a loader.
func (r *Registry) Active(loader string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name := range r.active[loader] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
