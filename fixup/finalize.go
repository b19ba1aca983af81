package fixup

import (
	"errors"
	"fmt"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/internal/opcode"
	"github.com/skdltmxn/hotswap-go/rewrite"
)

// Class is an assembled class.
type Class struct {
	Name     string
	Owner    host.ClassID
	Bytes    []byte
	Existing bool
}

// Output is an assembled patch: the redefined class and the generated
// classes serving it.
type Output struct {
	Class     host.ClassID
	Bytes     []byte
	Generated []Class
}

// Relocate moves the labels of every replaced instruction of b onto its
// anchor, then checks that the exception table, debug tables and stack
// map of b only reference instructions still in the code. Debug tables
// with dangling entries are dropped.
func Relocate(b *rewrite.Body, rels []rewrite.Relocation) error {
	code := b.Code
	for _, r := range rels {
		for _, old := range r.Old {
			if old != r.Anchor {
				code.Retarget(old, r.Anchor)
			}
		}
	}

	fail := func(kind, format string, args ...any) error {
		return &DispatchFixupError{Class: b.File.Name(), Member: b.Member.Sig().String(), Kind: kind, Message: fmt.Sprintf(format, args...)}
	}
	for i, h := range code.Handlers {
		if !code.Contains(h.Start) || !code.Contains(h.End) || !code.Contains(h.Handler) {
			return fail(KindExceptionTable, "handler %d references a removed instruction", i)
		}
		if h.Start.Insn == nil || h.Handler.Insn == nil {
			return fail(KindExceptionTable, "handler %d starts at the end of the code", i)
		}
		if h.End.Insn != nil && code.IndexOf(h.Start.Insn) >= code.IndexOf(h.End.Insn) {
			return fail(KindExceptionTable, "handler %d has an empty range", i)
		}
	}

	if code.Lines != nil {
		for _, l := range code.Lines {
			if !code.Contains(l.Start) {
				log.Debugf("%s: dropping line numbers", b)
				code.Lines = nil
				break
			}
		}
	}
	code.Locals = checkLocals(b, code, code.Locals)
	code.LocalTypes = checkLocals(b, code, code.LocalTypes)

	for i, f := range code.Frames {
		if f.At == nil || f.At.Insn == nil || !code.Contains(f.At) {
			return fail(KindStackMap, "frame %d references a removed instruction", i)
		}
		for _, list := range [][]classfile.VerificationType{f.Locals, f.Stack} {
			for _, v := range list {
				if v.Tag != classfile.VerifyUninitialized {
					continue
				}
				if v.New == nil || v.New.Insn == nil || !code.Contains(v.New) || v.New.Insn.Op != opcode.NEW {
					return fail(KindStackMap, "frame %d: uninitialized type lost its new instruction", i)
				}
			}
		}
	}
	return nil
}

func checkLocals(b *rewrite.Body, code *classfile.Code, vars []classfile.LocalVariable) []classfile.LocalVariable {
	for _, v := range vars {
		if !code.Contains(v.Start) || !code.Contains(v.End) {
			log.Debugf("%s: dropping local variable table", b)
			return nil
		}
	}
	return vars
}

// Finalize relocates and assembles every body of p, verifies the
// exception tables survived assembly and serializes the class and its
// companions.
func Finalize(p *rewrite.Patch) (*Output, error) {
	rels := make(map[*rewrite.Body][]rewrite.Relocation)
	for _, r := range p.Relocations {
		rels[r.Body] = append(rels[r.Body], r)
	}
	for _, b := range p.AllBodies() {
		if err := assemble(b, rels[b]); err != nil {
			return nil, err
		}
	}

	data, err := p.File.Bytes()
	if err != nil {
		return nil, &DispatchFixupError{Class: p.Class.Name, Kind: KindAssemble, Err: err}
	}
	out := &Output{Class: p.Class, Bytes: data}
	for _, g := range p.Generated {
		data, err := g.File.Bytes()
		if err != nil {
			return nil, &DispatchFixupError{Class: g.Name, Kind: KindAssemble, Err: err}
		}
		out.Generated = append(out.Generated, Class{Name: g.Name, Owner: g.Owner, Bytes: data, Existing: g.Existing})
	}
	return out, nil
}

// FinalizeGenerated assembles a class generated outside any patch, such
// as an indirection class.
func FinalizeGenerated(g *rewrite.Generated) (Class, error) {
	for _, b := range g.Bodies {
		if err := assemble(b, nil); err != nil {
			return Class{}, err
		}
	}
	data, err := g.File.Bytes()
	if err != nil {
		return Class{}, &DispatchFixupError{Class: g.Name, Kind: KindAssemble, Err: err}
	}
	return Class{Name: g.Name, Owner: g.Owner, Bytes: data, Existing: g.Existing}, nil
}

func assemble(b *rewrite.Body, rels []rewrite.Relocation) error {
	if err := Relocate(b, rels); err != nil {
		return err
	}
	catches, err := catchNames(b.File.Pool, b.Code)
	if err != nil {
		return &DispatchFixupError{Class: b.File.Name(), Member: b.Member.Sig().String(), Kind: KindExceptionTable, Err: err}
	}

	if err := b.File.SetCode(b.Member, b.Code); err != nil {
		kind := KindAssemble
		if errors.Is(err, classfile.ErrBadOffset) && len(b.Code.Frames) > 0 {
			kind = KindStackMap
		}
		return &DispatchFixupError{Class: b.File.Name(), Member: b.Member.Sig().String(), Kind: kind, Err: err}
	}

	// the assembled table must still hold the same handlers over
	// non-empty ranges of real instruction boundaries
	check, err := b.File.Code(b.Member)
	if err != nil {
		return &DispatchFixupError{Class: b.File.Name(), Member: b.Member.Sig().String(), Kind: KindExceptionTable,
			Message: "assembled code does not decode", Err: err}
	}
	after, err := catchNames(b.File.Pool, check)
	if err != nil {
		return &DispatchFixupError{Class: b.File.Name(), Member: b.Member.Sig().String(), Kind: KindExceptionTable, Err: err}
	}
	if len(after) != len(catches) {
		return &DispatchFixupError{Class: b.File.Name(), Member: b.Member.Sig().String(), Kind: KindExceptionTable,
			Message: fmt.Sprintf("%d handlers assembled, %d expected", len(after), len(catches))}
	}
	for i, h := range check.Handlers {
		if h.Start.Insn == nil || (h.End.Insn != nil && check.IndexOf(h.Start.Insn) >= check.IndexOf(h.End.Insn)) {
			return &DispatchFixupError{Class: b.File.Name(), Member: b.Member.Sig().String(), Kind: KindExceptionTable,
				Message: fmt.Sprintf("handler %d covers no code", i)}
		}
		if after[i] != catches[i] {
			return &DispatchFixupError{Class: b.File.Name(), Member: b.Member.Sig().String(), Kind: KindExceptionTable,
				Message: fmt.Sprintf("handler %d catches %s, expected %s", i, after[i], catches[i])}
		}
	}
	return nil
}

func catchNames(pool *classfile.ConstantPool, code *classfile.Code) ([]string, error) {
	out := make([]string, len(code.Handlers))
	for i, h := range code.Handlers {
		if h.CatchType == 0 {
			out[i] = "any"
			continue
		}
		name, err := pool.ClassName(h.CatchType)
		if err != nil {
			return nil, err
		}
		out[i] = name
	}
	return out, nil
}
