package environment

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"weak"

	"golang.org/x/sync/errgroup"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/host"
)

// DeploymentLoaderPrefix marks the loaders of deployment units.
const DeploymentLoaderPrefix = "deployment."

// statLimit bounds concurrent file system lookups.
const statLimit = 8

// Unit is a deployment unit backed by a directory.
type Unit struct {
	// Name is the unit name; sub-deployments use parent/child names such
	// as app.ear/web.war.
	Name   string `toml:"name"`
	Root   string `toml:"root"`
	Loader string `toml:"loader"`
}

// Deployment is an environment for containers that deploy units from
// directories. It compares stored file times with the timestamps it is
// given and remembers the timestamp of every class it hands out for
// replacement, so a replaced class is not replaced again for the same
// change.
type Deployment struct {
	runtime  host.Runtime
	fallback *Default
	units    map[string]Unit

	mu       sync.Mutex
	replaced map[weak.Pointer[host.Class]]int64
}

// NewDeployment creates a deployment environment over the given units.
func NewDeployment(rt host.Runtime, units ...Unit) *Deployment {
	d := &Deployment{
		runtime:  rt,
		fallback: &Default{Runtime: rt},
		units:    make(map[string]Unit, len(units)),
		replaced: make(map[weak.Pointer[host.Class]]int64),
	}
	for _, u := range units {
		d.units[u.Name] = u
	}
	return d
}

// IsClassReplaceable implements Environment. Classes of deployment
// loaders are always replaceable.
func (d *Deployment) IsClassReplaceable(class, loader string) bool {
	if strings.HasPrefix(loader, DeploymentLoaderPrefix) {
		return true
	}
	return d.fallback.IsClassReplaceable(class, loader)
}

// unit finds a unit by name, then as a sub-deployment by its last name
// segment.
func (d *Deployment) unit(name string) (Unit, bool) {
	if u, ok := d.units[name]; ok {
		return u, true
	}
	names := make([]string, 0, len(d.units))
	for n := range d.units {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if strings.HasSuffix(n, "/"+name) {
			return d.units[n], true
		}
	}
	return Unit{}, false
}

// modTimes stats the given unit-relative paths concurrently. Missing
// files are absent from the result; other failures are logged and
// skipped.
func modTimes(root string, paths []string) map[string]int64 {
	times := make([]int64, len(paths))
	found := make([]bool, len(paths))
	var g errgroup.Group
	g.SetLimit(statLimit)
	for i, p := range paths {
		g.Go(func() error {
			info, err := os.Stat(filepath.Join(root, filepath.FromSlash(p)))
			switch {
			case errors.Is(err, fs.ErrNotExist):
			case err != nil:
				log.Errorf("could not stat %s: %v", p, err)
			default:
				times[i] = info.ModTime().UnixMilli()
				found[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]int64, len(paths))
	for i, p := range paths {
		if found[i] {
			out[p] = times[i]
		}
	}
	return out
}

// UpdatedClasses implements Environment. A class without a stored file
// is new. A class whose stored file, or recorded replacement, is older
// than the given timestamp is replaced and the timestamp recorded.
func (d *Deployment) UpdatedClasses(unit string, known map[string]int64) Changed {
	log.Infof("finding classes for %s", unit)
	u, ok := d.unit(unit)
	if !ok {
		log.Errorf("could not find deployment %s", unit)
		return Changed{}
	}

	names := make([]string, 0, len(known))
	for n := range known {
		names = append(names, n)
	}
	sort.Strings(names)
	resources := make([]string, len(names))
	for i, n := range names {
		resources[i] = classfile.InternalName(n) + ".class"
	}
	times := modTimes(u.Root, resources)

	out := Changed{Loader: u.Loader}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, name := range names {
		ts, ok := times[resources[i]]
		if !ok {
			log.Debugf("%s: not found in %s, adding as new class", name, unit)
			out.New = append(out.New, name)
			continue
		}
		cls, err := d.runtime.LoadClass(u.Loader, classfile.InternalName(name))
		if err != nil {
			log.Debugf("could not load %s: %v", name, err)
			continue
		}
		key := weak.Make(cls)
		if replaced, ok := d.replaced[key]; ok {
			ts = replaced
		}
		if ts >= known[name] {
			log.Debugf("%s: %d not older than %d, not replacing", name, ts, known[name])
			continue
		}
		log.Debugf("%s: %d older than %d, replacing", name, ts, known[name])
		out.Replace = append(out.Replace, cls)
		if _, ok := d.replaced[key]; !ok {
			runtime.AddCleanup(cls, d.forget, key)
		}
		d.replaced[key] = known[name]
	}
	return out
}

func (d *Deployment) forget(key weak.Pointer[host.Class]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.replaced, key)
}

// UpdatedResources implements Environment. Only resources that exist in
// the unit are considered.
func (d *Deployment) UpdatedResources(unit string, known map[string]int64) []string {
	u, ok := d.unit(unit)
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(known))
	for p := range known {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	times := modTimes(u.Root, paths)

	var out []string
	for _, p := range paths {
		if ts, ok := times[p]; ok && known[p] > ts {
			out = append(out, p)
		}
	}
	return out
}

// UpdateResource implements Environment. Failed writes are logged and
// skipped.
func (d *Deployment) UpdateResource(unit string, resources map[string][]byte) {
	u, ok := d.unit(unit)
	if !ok {
		log.Errorf("could not find deployment %s", unit)
		return
	}
	for name, data := range resources {
		path := filepath.Join(u.Root, filepath.FromSlash(name))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Errorf("could not update %s: %v", path, err)
		}
	}
}
