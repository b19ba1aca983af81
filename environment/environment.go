// Package environment decides which classes the engine may replace and
// which classes and resources of a deployment changed since they were
// last seen.
package environment

import (
	"github.com/tliron/commonlog"

	"github.com/skdltmxn/hotswap-go/host"
)

var log = commonlog.GetLogger("hotswap.environment")

// Changed is the answer to UpdatedClasses.
type Changed struct {
	// Replace lists loaded classes whose definition is newer than the
	// loaded one.
	Replace []*host.Class
	// New lists Java class names that are not loaded yet.
	New []string
	// Loader is the loader of the unit, "" when the unit is unknown.
	Loader string
}

// Empty reports whether nothing changed.
func (c Changed) Empty() bool { return len(c.Replace) == 0 && len(c.New) == 0 }

// Environment is the policy the engine consults about the hosting
// container. Timestamps are Unix milliseconds; class names use the Java
// form (com.example.A).
type Environment interface {
	// IsClassReplaceable reports whether a class of the given loader may
	// be redefined.
	IsClassReplaceable(class, loader string) bool

	// UpdatedClasses compares the given class timestamps against what the
	// unit has loaded.
	UpdatedClasses(unit string, known map[string]int64) Changed

	// UpdatedResources returns the resources of the unit whose given
	// timestamp is newer than the stored resource.
	UpdatedResources(unit string, known map[string]int64) []string

	// UpdateResource writes resource bytes back to the unit's storage.
	UpdateResource(unit string, resources map[string][]byte)
}

// Default answers structurally: a class is replaceable when its loader is
// marked replaceable. It knows no units.
type Default struct {
	Runtime host.Runtime
}

// IsClassReplaceable implements Environment.
func (d *Default) IsClassReplaceable(class, loader string) bool {
	l, err := d.Runtime.Loader(loader)
	if err != nil {
		log.Debugf("%s: %v", class, err)
		return false
	}
	return l.Replaceable
}

// UpdatedClasses implements Environment.
func (d *Default) UpdatedClasses(unit string, _ map[string]int64) Changed {
	log.Debugf("%s: no deployment information", unit)
	return Changed{}
}

// UpdatedResources implements Environment.
func (d *Default) UpdatedResources(string, map[string]int64) []string { return nil }

// UpdateResource implements Environment.
func (d *Default) UpdateResource(unit string, resources map[string][]byte) {
	if len(resources) > 0 {
		log.Warningf("%s: cannot store %d resources", unit, len(resources))
	}
}
