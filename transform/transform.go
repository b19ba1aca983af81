// Package transform runs the registered class transformers over incoming
// class definitions and notifies class-change-aware objects after a batch
// is installed.
package transform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/diff"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/sidetable"
)

var log = commonlog.GetLogger("hotswap.transform")

var (
	// ErrTransformer matches every *TransformerError.
	ErrTransformer = errors.New("transform: transformer failed")

	// ErrDuplicateName indicates a second registration under a taken name.
	ErrDuplicateName = errors.New("transform: duplicate registration name")
)

// Transformer rewrites a class definition before it is loaded or
// redefined. It receives a private copy of the parsed class and returns
// the definition to use, or nil to keep its input.
type Transformer interface {
	Transform(class host.ClassID, cf *classfile.ClassFile) (*classfile.ClassFile, error)
}

// Func adapts a function to Transformer.
type Func func(class host.ClassID, cf *classfile.ClassFile) (*classfile.ClassFile, error)

// Transform calls f.
func (f Func) Transform(class host.ClassID, cf *classfile.ClassFile) (*classfile.ClassFile, error) {
	return f(class, cf)
}

// Change describes one redefined class.
type Change struct {
	Class   host.ClassID
	Changes *diff.ChangeSet // nil for newly defined classes
}

// ClassChangeAware receives notifications after every installed batch.
type ClassChangeAware interface {
	AfterChange(changed []Change, added []host.ClassID) error
}

// Registration is one named transformer and its optional notification
// target.
type Registration struct {
	Name        string
	Transformer Transformer
	Aware       ClassChangeAware
}

// TransformerError reports a transformer failure. Only the class being
// transformed is affected.
type TransformerError struct {
	Class       host.ClassID
	Transformer string
	Err         error
}

func (e *TransformerError) Error() string {
	return fmt.Sprintf("transform: %s: transformer %s: %v", e.Class, e.Transformer, e.Err)
}

func (e *TransformerError) Unwrap() error { return e.Err }

// Is matches ErrTransformer.
func (e *TransformerError) Is(target error) bool { return target == ErrTransformer }

// Pipeline holds registrations in order. Registrations are never removed.
type Pipeline struct {
	mu   sync.RWMutex
	regs []Registration
}

// Register appends a registration.
func (p *Pipeline) Register(r Registration) error {
	return p.RegisterAll(r)
}

// RegisterAll adds regs in order, or none of them when one is unnamed or
// its name is taken.
func (p *Pipeline) RegisterAll(regs ...Registration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	taken := make(map[string]bool, len(p.regs)+len(regs))
	for _, x := range p.regs {
		taken[x.Name] = true
	}
	for _, r := range regs {
		if r.Name == "" {
			return fmt.Errorf("transform: registration without a name")
		}
		if taken[r.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateName, r.Name)
		}
		taken[r.Name] = true
	}
	p.regs = append(p.regs, regs...)
	for _, r := range regs {
		log.Debugf("registered %s", r.Name)
	}
	return nil
}

// Registrations returns the registrations in order.
func (p *Pipeline) Registrations() []Registration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Registration(nil), p.regs...)
}

// Run passes cf through every transformer in registration order and
// returns the final definition. cf itself is never modified. Classes the
// engine generates are returned unchanged.
func (p *Pipeline) Run(class host.ClassID, cf *classfile.ClassFile) (*classfile.ClassFile, error) {
	if sidetable.IsGenerated(class.Name) {
		return cf, nil
	}
	cur := cf
	for _, r := range p.Registrations() {
		if r.Transformer == nil {
			continue
		}
		out, err := r.Transformer.Transform(class, cur.Clone())
		if err != nil {
			return nil, &TransformerError{Class: class, Transformer: r.Name, Err: err}
		}
		if out != nil {
			cur = out
		}
	}
	return cur, nil
}

// Notify delivers a batch's changes to every class-change-aware target.
// A failing target is logged and does not stop the others.
func (p *Pipeline) Notify(changed []Change, added []host.ClassID) {
	for _, r := range p.Registrations() {
		if r.Aware == nil {
			continue
		}
		if err := r.Aware.AfterChange(changed, added); err != nil {
			log.Warningf("%s: change notification failed: %v", r.Name, err)
		}
	}
}
