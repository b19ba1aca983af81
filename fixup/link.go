package fixup

import (
	"sort"

	"github.com/skdltmxn/hotswap-go/rewrite"
)

// Link finishes a class rewritten by rewrite.Link: super calls reaching a
// prologued method are marked, then the class is assembled.
func Link(w *rewrite.World, p *rewrite.Patch, prologued map[MethodKey]bool) (*Output, error) {
	for _, b := range p.Bodies {
		if err := superCalls(p, b, w, prologued); err != nil {
			return nil, &DispatchFixupError{Class: p.Class.Name, Member: b.Member.Sig().String(), Kind: KindDispatch, Err: err}
		}
	}
	return Finalize(p)
}

// Overridden returns the supertypes of class holding an active added
// virtual method that class overrides. Their indirection classes lack a
// receiver test for class until rebuilt.
func Overridden(w *rewrite.World, class string) []string {
	var out []string
	for _, s := range w.Logical.Supertypes(class) {
		t := w.Tables(s)
		if t == nil {
			continue
		}
		for _, e := range t.Entries() {
			if e.IsVirtual() && e.Active() && w.Logical.Overrides(class, s, e.Sig) {
				out = append(out, s)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Indirections rebuilds the indirection classes of declarers outside any
// batch. Every class returned already exists in the host.
func Indirections(w *rewrite.World, declarers []string) ([]*rewrite.Generated, error) {
	return indirections(w, declarers, nil)
}
