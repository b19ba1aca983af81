// Package host describes the managed process the engine patches: class
// identities, loaders and the redefinition primitive.
package host

import (
	"errors"
	"fmt"
)

var (
	// ErrClassNotFound indicates a class unknown to the loader.
	ErrClassNotFound = errors.New("host: class not found")

	// ErrLoaderNotFound indicates an unknown loader id.
	ErrLoaderNotFound = errors.New("host: loader not found")

	// ErrDuplicateClass indicates Define of a name the loader already holds.
	ErrDuplicateClass = errors.New("host: class already defined")
)

// ClassID identifies a loaded class: its internal name and the id of its
// defining loader.
type ClassID struct {
	Name   string
	Loader string
}

func (id ClassID) String() string {
	if id.Loader == "" {
		return id.Name
	}
	return fmt.Sprintf("%s@%s", id.Name, id.Loader)
}

// Loader is a class loader of the host process.
type Loader struct {
	ID     string
	Parent string // parent loader id, "" for the bootstrap loader

	// Replaceable marks loaders whose classes may be redefined.
	Replaceable bool
}

// Class is a loaded class. Bytes holds the definition currently installed
// in the host.
type Class struct {
	ID    ClassID
	Bytes []byte
}

// Definition pairs a loaded class with the bytes that replace it.
type Definition struct {
	Class *Class
	Bytes []byte
}

// Capabilities describes what the host's redefinition primitive accepts
// beyond method body changes.
type Capabilities struct {
	// HierarchyChanges allows superclass and interface changes.
	HierarchyChanges bool
}

// Runtime is the host process as seen by the engine.
type Runtime interface {
	// Capabilities reports what Redefine accepts.
	Capabilities() Capabilities

	// Redefine replaces every class of the batch atomically. Either all
	// definitions are installed or none are.
	Redefine(defs []Definition) error

	// Define loads a new class (companion and indirection classes) into
	// the given loader.
	Define(loader, name string, data []byte) (*Class, error)

	// LoadClass returns the loaded class with the given internal name.
	LoadClass(loader, name string) (*Class, error)

	// Loader returns the loader with the given id.
	Loader(id string) (*Loader, error)

	// InstallClassChangeAware instantiates the named class in the loader
	// and registers it for post-redefinition notifications.
	InstallClassChangeAware(loader, name string) error
}
