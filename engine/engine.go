// Package engine drives structural redefinition. Classes are queued with
// their new bytes; Redefine parses, transforms, diffs, rewrites and fixes
// up the whole batch before handing it to the host in one call, then
// commits the side tables and retires the slots of removed fields.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/diff"
	"github.com/skdltmxn/hotswap-go/environment"
	"github.com/skdltmxn/hotswap-go/extension"
	"github.com/skdltmxn/hotswap-go/fixup"
	"github.com/skdltmxn/hotswap-go/hierarchy"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/rewrite"
	"github.com/skdltmxn/hotswap-go/sidetable"
	"github.com/skdltmxn/hotswap-go/transform"
)

var log = commonlog.GetLogger("hotswap.engine")

const tracerName = "github.com/skdltmxn/hotswap-go/engine"

// Retirer drops the slots of retired side-table entries.
// *instance.Registry implements it.
type Retirer interface {
	Retire(d *sidetable.Delta) int
}

// Options wires the engine's collaborators. Every field is optional.
type Options struct {
	Arena       *sidetable.Arena
	Pipeline    *transform.Pipeline
	Extensions  *extension.Registry
	Environment environment.Environment
	Instances   Retirer
	Tracer      trace.Tracer
}

// Report describes a finished batch.
type Report struct {
	ID        uuid.UUID
	Redefined []host.ClassID
	Defined   []host.ClassID // generated classes defined by the batch
	Failures  []*ClassFailure
	Warnings  []string

	// Requeued lists the classes put back in the queue after a
	// batch-fatal error.
	Requeued []host.ClassID
}

func (r *Report) fail(f *ClassFailure) {
	log.Warningf("%v", f)
	r.Failures = append(r.Failures, f)
}

// Engine holds the state of every class it has seen loaded. It is safe
// for concurrent use; batches run one at a time.
type Engine struct {
	rt     host.Runtime
	arena  *sidetable.Arena
	opts   Options
	tracer trace.Tracer

	mu        sync.Mutex
	classes   map[host.ClassID]*loaded
	generated map[host.ClassID]*host.Class
	prologued map[fixup.MethodKey]bool
	queue     []pending
}

// loaded is a class known to the engine. physical is the shape the host
// holds; logical is the definition programs were compiled against.
type loaded struct {
	class    *host.Class
	physical *classfile.ClassFile
	logical  *classfile.ClassFile
}

type pending struct {
	id   host.ClassID
	data []byte
}

// New creates an engine over rt.
func New(rt host.Runtime, opts Options) *Engine {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	arena := opts.Arena
	if arena == nil {
		arena = sidetable.NewArena()
	}
	return &Engine{
		rt:        rt,
		arena:     arena,
		opts:      opts,
		tracer:    tracer,
		classes:   make(map[host.ClassID]*loaded),
		generated: make(map[host.ClassID]*host.Class),
		prologued: make(map[fixup.MethodKey]bool),
	}
}

// Arena returns the side tables. Instance registries resolve members
// through it.
func (e *Engine) Arena() *sidetable.Arena { return e.arena }

// Load registers a class the host has loaded and activates the
// extensions it triggers.
func (e *Engine) Load(c *host.Class) error {
	cf, err := classfile.Parse(c.Bytes)
	if err != nil {
		return fmt.Errorf("engine: loading %s: %w", c.ID, err)
	}
	e.mu.Lock()
	e.classes[c.ID] = &loaded{class: c, physical: cf, logical: cf}
	e.mu.Unlock()
	return e.activate(c.ID)
}

func (e *Engine) activate(id host.ClassID) error {
	if e.opts.Extensions != nil {
		if _, err := e.opts.Extensions.OnClassLoad(id); err != nil {
			return err
		}
	}
	return nil
}

// Define passes a class through the transformer pipeline, links its
// accesses to members added by earlier batches, defines it in the host and
// registers it. When the class overrides an added method, the indirection
// classes dispatching that method are rebuilt to test for it.
func (e *Engine) Define(loader, name string, data []byte) (*host.Class, error) {
	id := host.ClassID{Name: name, Loader: loader}
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("engine: defining %s: %w", id, err)
	}
	if e.opts.Pipeline != nil {
		out, err := e.opts.Pipeline.Run(id, cf)
		if err != nil {
			return nil, err
		}
		if out != cf {
			if data, err = out.Bytes(); err != nil {
				return nil, fmt.Errorf("engine: defining %s: %w", id, err)
			}
			cf = out
		}
	}

	e.mu.Lock()
	c, err := e.link(id, cf, data)
	e.mu.Unlock()
	if err != nil {
		return c, err
	}
	return c, e.activate(id)
}

// link defines cf with its trampolines in place. The caller holds e.mu.
func (e *Engine) link(id host.ClassID, cf *classfile.ClassFile, data []byte) (*host.Class, error) {
	w := e.world(&rewrite.Unit{ID: id, Physical: cf, Logical: cf})
	p, err := rewrite.Link(id, cf, w)
	if err != nil {
		return nil, fmt.Errorf("engine: defining %s: %w", id, err)
	}
	out, err := fixup.Link(w, p, e.prologued)
	if err != nil {
		return nil, fmt.Errorf("engine: defining %s: %w", id, err)
	}
	physical := cf
	if len(p.Relocations) > 0 {
		log.Debugf("%s: %d accesses to added members linked", id, len(p.Relocations))
		data, physical = out.Bytes, p.File
	}

	c, err := e.rt.Define(id.Loader, id.Name, data)
	if err != nil {
		return nil, err
	}
	e.classes[id] = &loaded{class: c, physical: physical, logical: cf}
	if err := e.relink(w, id); err != nil {
		return c, fmt.Errorf("engine: defining %s: %w", id, err)
	}
	return c, nil
}

// relink redefines the indirection classes that have to test for
// receivers of the newly defined class.
func (e *Engine) relink(w *rewrite.World, id host.ClassID) error {
	declarers := fixup.Overridden(w, id.Name)
	if len(declarers) == 0 {
		return nil
	}
	gens, err := fixup.Indirections(w, declarers)
	if err != nil {
		return err
	}
	var defs []host.Definition
	for _, g := range gens {
		out, err := fixup.FinalizeGenerated(g)
		if err != nil {
			return err
		}
		c, ok := e.generated[host.ClassID{Name: out.Name, Loader: out.Owner.Loader}]
		if !ok {
			continue
		}
		defs = append(defs, host.Definition{Class: c, Bytes: out.Bytes})
	}
	if len(defs) == 0 {
		return nil
	}
	log.Infof("%s overrides added methods of %v; %d indirection classes redefined", id, declarers, len(defs))
	return e.rt.Redefine(defs)
}

// world resolves members against the installed classes and the committed
// side tables, with u known on both sides.
func (e *Engine) world(u *rewrite.Unit) *rewrite.World {
	ids := e.names()
	units := []*rewrite.Unit{u}
	return &rewrite.World{
		Physical: e.snapshot(units, func(l *loaded) *classfile.ClassFile { return l.physical }),
		Logical:  e.snapshot(units, func(l *loaded) *classfile.ClassFile { return l.logical }),
		Tables: func(class string) *sidetable.Table {
			id, ok := ids[class]
			if !ok {
				return nil
			}
			return e.arena.Table(id)
		},
	}
}

// names maps the name of every known class to its id.
func (e *Engine) names() map[string]host.ClassID {
	ids := make(map[string]host.ClassID, len(e.classes))
	for id := range e.classes {
		ids[id.Name] = id
	}
	return ids
}

// Queue adds a class and its new bytes to the next batch. Queuing a class
// again replaces the earlier bytes.
func (e *Engine) Queue(id host.ClassID, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.queue {
		if e.queue[i].id == id {
			e.queue[i].data = data
			return
		}
	}
	e.queue = append(e.queue, pending{id: id, data: data})
}

// Pending returns the queued classes in queue order.
func (e *Engine) Pending() []host.ClassID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]host.ClassID, len(e.queue))
	for i, p := range e.queue {
		out[i] = p.id
	}
	return out
}

// Environment returns the environment in effect: the one an extension
// overrides, else the configured one, else the default.
func (e *Engine) Environment() environment.Environment {
	env := e.opts.Environment
	if env == nil {
		env = &environment.Default{Runtime: e.rt}
	}
	if e.opts.Extensions != nil {
		env = e.opts.Extensions.Environment(env)
	}
	return env
}

// QueueUpdated asks the environment which classes of a unit are stale
// against the known timestamps and queues each with the bytes source
// returns for its Java name. Classes source cannot supply are logged and
// skipped. It returns the number of classes queued.
func (e *Engine) QueueUpdated(unit string, known map[string]int64, source func(class string) ([]byte, error)) int {
	changed := e.Environment().UpdatedClasses(unit, known)
	for _, name := range changed.New {
		log.Debugf("%s: %s is new, it loads normally", unit, name)
	}
	n := 0
	for _, c := range changed.Replace {
		data, err := source(classfile.JavaName(c.ID.Name))
		if err != nil {
			log.Errorf("%s: no bytes for %s: %v", unit, c.ID, err)
			continue
		}
		e.Queue(c.ID, data)
		n++
	}
	return n
}

// Redefine runs the queued batch. Classes that cannot be redefined are
// dropped and listed in the report. A batch-fatal problem returns a
// *BatchError and installs nothing; the queued classes go back in the
// queue, except the one the error names.
func (e *Engine) Redefine(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	queue := e.queue
	e.queue = nil
	b := &batch{Engine: e, report: &Report{ID: uuid.New()}}

	ctx, span := e.tracer.Start(ctx, "hotswap.redefine", trace.WithAttributes(
		attribute.String("batch.id", b.report.ID.String()),
		attribute.Int("batch.queued", len(queue)),
	))
	defer span.End()

	err := b.run(ctx, queue)
	span.SetAttributes(
		attribute.Int("batch.redefined", len(b.report.Redefined)),
		attribute.Int("batch.defined", len(b.report.Defined)),
		attribute.Int("batch.failures", len(b.report.Failures)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		log.Errorf("%v", err)
		var be *BatchError
		if errors.As(err, &be) {
			b.requeue(queue, be.Class)
		}
		return b.report, err
	}
	log.Infof("batch %s: %d redefined, %d defined, %d dropped",
		b.report.ID, len(b.report.Redefined), len(b.report.Defined), len(b.report.Failures))
	return b.report, nil
}

// batch is the state of one Redefine call.
type batch struct {
	*Engine
	report *Report

	units   []*rewrite.Unit
	ids     map[string]host.ClassID
	tx      *sidetable.Txn
	world   *rewrite.World
	patches []*rewrite.Patch
	result  *fixup.DispatchResult
	outputs []*fixup.Output
	extra   []fixup.Class
}

func (b *batch) fatal(kind, class string, err error) error {
	return &BatchError{Batch: b.report.ID, Kind: kind, Class: class, Err: err}
}

func (b *batch) stage(ctx context.Context, name string, f func() error) error {
	_, span := b.tracer.Start(ctx, "hotswap."+name)
	defer span.End()
	if err := f(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		return err
	}
	return nil
}

func (b *batch) run(ctx context.Context, queue []pending) error {
	if err := b.stage(ctx, "collect", func() error { return b.collect(queue) }); err != nil {
		return err
	}
	if len(b.units) == 0 {
		return nil
	}
	stages := []struct {
		name string
		f    func() error
	}{
		{"prepare", b.prepare},
		{"rewrite", b.rewriteUnits},
		{"fixup", b.fixDispatch},
		{"install", b.install},
	}
	for _, s := range stages {
		if err := b.stage(ctx, s.name, s.f); err != nil {
			return err
		}
	}
	b.finish()
	return nil
}

// requeue puts back the classes of a failed batch that neither caused
// the failure nor were dropped by it.
func (b *batch) requeue(queue []pending, failed string) {
	dropped := make(map[host.ClassID]bool, len(b.report.Failures))
	for _, f := range b.report.Failures {
		dropped[f.Class] = true
	}
	for _, p := range queue {
		if p.id.String() == failed || dropped[p.id] {
			log.Infof("%s dropped from the queue", p.id)
			continue
		}
		b.queue = append(b.queue, p)
		b.report.Requeued = append(b.report.Requeued, p.id)
	}
}

// collect parses, transforms and diffs every queued class.
func (b *batch) collect(queue []pending) error {
	env := b.Environment()
	caps := b.rt.Capabilities()
	before := b.snapshot(nil, func(l *loaded) *classfile.ClassFile { return l.logical })

	for _, p := range queue {
		l := b.classes[p.id]
		if l == nil {
			b.report.fail(&ClassFailure{Class: p.id, Kind: KindUnknownClass, Err: ErrUnknownClass})
			continue
		}
		if !env.IsClassReplaceable(classfile.JavaName(p.id.Name), p.id.Loader) {
			b.report.fail(&ClassFailure{Class: p.id, Kind: KindNotReplaceable, Err: ErrNotReplaceable})
			continue
		}
		cf, err := classfile.Parse(p.data)
		if err != nil {
			return b.fatal(KindMalformed, p.id.String(), err)
		}
		if cf.Name() != p.id.Name {
			return b.fatal(KindMalformed, p.id.String(), fmt.Errorf("new bytes define %s", cf.Name()))
		}
		if b.opts.Pipeline != nil {
			if cf, err = b.opts.Pipeline.Run(p.id, cf); err != nil {
				b.report.fail(&ClassFailure{Class: p.id, Kind: KindTransformer, Err: err})
				continue
			}
		}

		cs, err := diff.Diff(l.logical, cf, before)
		var herr *diff.UnsupportedHierarchyChangeError
		switch {
		case errors.As(err, &herr):
			b.report.fail(&ClassFailure{Class: p.id, Kind: herr.Kind, Member: herr.Member, Err: err})
			continue
		case err != nil:
			return b.fatal(KindMalformed, p.id.String(), err)
		}
		if cs.HierarchyChanged() && !caps.HierarchyChanges {
			b.report.fail(&ClassFailure{Class: p.id, Kind: diff.KindHierarchyForbidden, Err: &diff.UnsupportedHierarchyChangeError{
				Class:   p.id.Name,
				Kind:    diff.KindHierarchyForbidden,
				Message: "host cannot redefine supertypes",
			}})
			continue
		}
		b.units = append(b.units, &rewrite.Unit{ID: p.id, Physical: l.physical, Logical: cf, Changes: cs})
	}
	return nil
}

// snapshot describes every known class through pick, with the batch's
// new definitions taking precedence.
func (e *Engine) snapshot(units []*rewrite.Unit, pick func(*loaded) *classfile.ClassFile) *hierarchy.Snapshot {
	ids := make([]host.ClassID, 0, len(e.classes))
	for id := range e.classes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	infos := make([]*hierarchy.ClassInfo, 0, len(ids)+len(units))
	for _, id := range ids {
		infos = append(infos, hierarchy.Describe(pick(e.classes[id]), id.Loader))
	}
	for _, u := range units {
		infos = append(infos, hierarchy.Describe(u.Logical, u.ID.Loader))
	}
	return hierarchy.NewSnapshot(infos...)
}

// prepare stages the side tables and pulls in the classes outside the
// batch whose dispatch prologues have to change.
func (b *batch) prepare() error {
	b.ids = b.names()
	b.tx = b.arena.Begin()
	b.world = &rewrite.World{
		Physical: b.snapshot(nil, func(l *loaded) *classfile.ClassFile { return l.physical }),
		Logical:  b.snapshot(b.units, func(l *loaded) *classfile.ClassFile { return l.logical }),
		Tables: func(class string) *sidetable.Table {
			id, ok := b.ids[class]
			if !ok {
				return nil
			}
			return b.tx.Current(id)
		},
	}

	rewrite.Prepare(b.tx, b.units)
	for {
		var extra []*rewrite.Unit
		for _, name := range fixup.Roots(b.world, b.units) {
			id, ok := b.ids[name]
			if !ok {
				continue
			}
			l := b.classes[id]
			log.Debugf("%s joins the batch for its dispatch prologue", id)
			extra = append(extra, &rewrite.Unit{ID: id, Physical: l.physical, Logical: l.logical})
		}
		if len(extra) == 0 {
			return nil
		}
		rewrite.Prepare(b.tx, extra)
		b.units = append(b.units, extra...)
	}
}

func (b *batch) rewriteUnits() error {
	hc := b.rt.Capabilities().HierarchyChanges
	for _, u := range b.units {
		p, err := rewrite.Apply(rewrite.Input{Unit: u, World: b.world, HierarchyChanges: hc})
		if err != nil {
			return b.fatal(KindRewrite, u.ID.String(), err)
		}
		for _, w := range p.Warnings {
			b.report.Warnings = append(b.report.Warnings, fmt.Sprintf("%s: %s", u.ID, w))
		}
		b.patches = append(b.patches, p)
	}
	return nil
}

func (b *batch) fixDispatch() error {
	res, err := fixup.Dispatch(b.world, b.patches, b.prologued)
	if err != nil {
		return b.fatal(KindFixup, "", err)
	}
	b.result = res
	for _, p := range b.patches {
		out, err := fixup.Finalize(p)
		if err != nil {
			return b.fatal(KindFixup, p.Class.String(), err)
		}
		b.outputs = append(b.outputs, out)
	}
	for _, g := range res.Indirections {
		c, err := fixup.FinalizeGenerated(g)
		if err != nil {
			return b.fatal(KindFixup, g.Name, err)
		}
		b.extra = append(b.extra, c)
	}
	return nil
}

// install commits the side tables, defines the generated classes the host
// lacks and redefines everything else in one call. The side tables are
// rolled back when the host refuses. Generated classes defined before the
// refusal stay defined and are redefined by the next attempt.
func (b *batch) install() error {
	var defs []host.Definition
	var fresh []fixup.Class
	for _, out := range b.outputs {
		defs = append(defs, host.Definition{Class: b.classes[out.Class].class, Bytes: out.Bytes})
		defs, fresh = b.split(out.Generated, defs, fresh)
	}
	defs, fresh = b.split(b.extra, defs, fresh)

	undo := b.tx.Commit()
	for _, g := range fresh {
		c, err := b.rt.Define(g.Owner.Loader, g.Name, g.Bytes)
		if err != nil {
			undo()
			return b.fatal(KindHost, g.Name, err)
		}
		b.generated[c.ID] = c
		b.report.Defined = append(b.report.Defined, c.ID)
	}
	if err := b.rt.Redefine(defs); err != nil {
		undo()
		return b.fatal(KindHost, "", err)
	}
	return nil
}

// split appends the generated classes the host already holds to defs and
// the others to fresh.
func (b *batch) split(gens []fixup.Class, defs []host.Definition, fresh []fixup.Class) ([]host.Definition, []fixup.Class) {
	for _, g := range gens {
		id := host.ClassID{Name: g.Name, Loader: g.Owner.Loader}
		if c, ok := b.generated[id]; ok {
			defs = append(defs, host.Definition{Class: c, Bytes: g.Bytes})
			continue
		}
		if g.Existing {
			log.Warningf("%s should exist but was never defined; defining it", id)
		}
		fresh = append(fresh, g)
	}
	return defs, fresh
}

// finish records the installed shapes and migrates the instances.
func (b *batch) finish() {
	b.Engine.prologued = b.result.Prologued
	var changed []transform.Change
	for i, u := range b.units {
		l := b.classes[u.ID]
		l.physical = b.patches[i].File
		l.logical = u.Logical
		b.report.Redefined = append(b.report.Redefined, u.ID)
		if u.Changes != nil {
			changed = append(changed, transform.Change{Class: u.ID, Changes: u.Changes})
		}
		if b.opts.Instances != nil && u.Delta != nil {
			b.opts.Instances.Retire(u.Delta)
		}
	}
	if b.opts.Pipeline != nil {
		b.opts.Pipeline.Notify(changed, b.report.Defined)
	}
}
