package classfile

import (
	"fmt"
	"math"

	"github.com/skdltmxn/hotswap-go/internal/opcode"
	"github.com/skdltmxn/hotswap-go/internal/stream"
)

// Label is a position in a method's code. A label precedes Insn; a nil Insn
// marks the end of the code array (or a label not yet bound by Mark).
type Label struct {
	Insn *Instruction
}

// Instruction is one decoded instruction. Operand fields are used according
// to the opcode's kind.
type Instruction struct {
	Op   opcode.Op
	Wide bool // local index and iinc delta use the wide encoding

	// Index is the local variable slot (loads, stores, iinc, ret) or the
	// constant pool index (ldc, field and method refs, new, checkcast...).
	Index uint16

	// Value is the immediate operand: bipush/sipush value, iinc delta,
	// newarray type, invokeinterface count, multianewarray dimensions.
	Value int32

	Target *Label // branch target

	Default *Label   // switch default
	Low     int32    // tableswitch low bound
	Keys    []int32  // lookupswitch match values, sorted
	Targets []*Label // switch targets, parallel to Keys for lookupswitch

	// Offset is the instruction's position as of the last decode or
	// encode; inserted instructions have -1 until encoded.
	Offset int
}

// Handler is an exception_table entry. The protected range is [Start, End).
type Handler struct {
	Start     *Label
	End       *Label
	Handler   *Label
	CatchType uint16 // Class constant, 0 for any
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack  uint16
	MaxLocals uint16
	Insns     []*Instruction
	Handlers  []*Handler

	// Decoded nested attributes. A nil table is absent and is not written.
	Lines      []LineNumber
	Locals     []LocalVariable
	LocalTypes []LocalVariable
	Frames     []Frame

	// Attributes holds the remaining nested attributes as raw bytes.
	Attributes []*Attribute

	layout  []string
	names   map[string]uint16
	labels  []*Label
	pending []*Label
	end     *Label
}

// NewCode creates an empty method body.
func NewCode(maxStack, maxLocals uint16) *Code {
	return &Code{MaxStack: maxStack, MaxLocals: maxLocals, names: map[string]uint16{}}
}

// NewLabel creates an unbound label; bind it with Mark.
func (c *Code) NewLabel() *Label {
	l := &Label{}
	c.labels = append(c.labels, l)
	return l
}

// Mark binds l to the next appended instruction. Labels still pending at
// encode time mark the end of the code.
func (c *Code) Mark(l *Label) {
	c.pending = append(c.pending, l)
}

// LabelOf returns a new label bound to in.
func (c *Code) LabelOf(in *Instruction) *Label {
	l := &Label{Insn: in}
	c.labels = append(c.labels, l)
	return l
}

// EndLabel returns the label marking the end of the code array.
func (c *Code) EndLabel() *Label {
	if c.end == nil {
		c.end = &Label{}
		c.labels = append(c.labels, c.end)
	}
	return c.end
}

// Labels returns every label created for this code.
func (c *Code) Labels() []*Label {
	return c.labels
}

// Append adds instructions at the end, binding pending labels to the first.
func (c *Code) Append(insns ...*Instruction) {
	if len(insns) == 0 {
		return
	}
	for _, l := range c.pending {
		l.Insn = insns[0]
	}
	c.pending = c.pending[:0]
	c.Insns = append(c.Insns, insns...)
}

// AddHandler appends an exception table entry.
func (c *Code) AddHandler(start, end, handler *Label, catchType uint16) *Handler {
	h := &Handler{Start: start, End: end, Handler: handler, CatchType: catchType}
	c.Handlers = append(c.Handlers, h)
	return h
}

// IndexOf returns the position of in within Insns, or -1.
func (c *Code) IndexOf(in *Instruction) int {
	for i, x := range c.Insns {
		if x == in {
			return i
		}
	}
	return -1
}

// Contains reports whether l is bound to an instruction of this code or to
// its end.
func (c *Code) Contains(l *Label) bool {
	if l == nil {
		return false
	}
	return l.Insn == nil || c.IndexOf(l.Insn) >= 0
}

// Replace splices with in place of old. Labels bound to old are left alone;
// callers retarget them with Retarget.
func (c *Code) Replace(old *Instruction, with ...*Instruction) error {
	i := c.IndexOf(old)
	if i < 0 {
		return ErrNoSuchInstruction
	}
	insns := make([]*Instruction, 0, len(c.Insns)+len(with)-1)
	insns = append(insns, c.Insns[:i]...)
	insns = append(insns, with...)
	insns = append(insns, c.Insns[i+1:]...)
	c.Insns = insns
	return nil
}

// Retarget moves every label bound to from onto to and returns how many
// labels moved.
func (c *Code) Retarget(from, to *Instruction) int {
	n := 0
	for _, l := range c.labels {
		if l.Insn == from {
			l.Insn = to
			n++
		}
	}
	return n
}

// Insn creates an instruction without operands.
func Insn(op opcode.Op) *Instruction {
	return &Instruction{Op: op, Offset: -1}
}

// LocalInsn creates a load, store or ret on a local slot. Loads and stores
// of slots 0 to 3 use the one-byte forms.
func LocalInsn(op opcode.Op, slot uint16) *Instruction {
	if slot <= 3 {
		switch {
		case op >= opcode.ILOAD && op <= opcode.ALOAD:
			return Insn(opcode.ILOAD_0 + (op-opcode.ILOAD)*4 + opcode.Op(slot))
		case op >= opcode.ISTORE && op <= opcode.ASTORE:
			return Insn(opcode.ISTORE_0 + (op-opcode.ISTORE)*4 + opcode.Op(slot))
		}
	}
	return &Instruction{Op: op, Index: slot, Offset: -1}
}

// ConstInsn creates an instruction referencing a constant pool entry.
func ConstInsn(op opcode.Op, index uint16) *Instruction {
	return &Instruction{Op: op, Index: index, Offset: -1}
}

// IntInsn creates bipush, sipush or newarray.
func IntInsn(op opcode.Op, v int32) *Instruction {
	return &Instruction{Op: op, Value: v, Offset: -1}
}

// IincInsn creates iinc.
func IincInsn(slot uint16, delta int32) *Instruction {
	return &Instruction{Op: opcode.IINC, Index: slot, Value: delta, Offset: -1}
}

// BranchInsn creates a branch to target.
func BranchInsn(op opcode.Op, target *Label) *Instruction {
	return &Instruction{Op: op, Target: target, Offset: -1}
}

// InvokeInterfaceInsn creates invokeinterface with its argument slot count
// (receiver included).
func InvokeInterfaceInsn(index uint16, count int) *Instruction {
	return &Instruction{Op: opcode.INVOKEINTERFACE, Index: index, Value: int32(count), Offset: -1}
}

// TableSwitchInsn creates a tableswitch covering low..low+len(targets)-1.
func TableSwitchInsn(low int32, def *Label, targets ...*Label) *Instruction {
	return &Instruction{Op: opcode.TABLESWITCH, Low: low, Default: def, Targets: targets, Offset: -1}
}

// LookupSwitchInsn creates a lookupswitch; keys must be sorted.
func LookupSwitchInsn(def *Label, keys []int32, targets []*Label) *Instruction {
	return &Instruction{Op: opcode.LOOKUPSWITCH, Default: def, Keys: keys, Targets: targets, Offset: -1}
}

// PushInt returns the shortest instruction that pushes v, adding an Integer
// constant to pool when v does not fit in a short.
func PushInt(pool *ConstantPool, v int32) (*Instruction, error) {
	switch {
	case v >= -1 && v <= 5:
		return Insn(opcode.Op(int32(opcode.ICONST_0) + v)), nil
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return IntInsn(opcode.BIPUSH, v), nil
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return IntInsn(opcode.SIPUSH, v), nil
	}
	idx, err := pool.AddInteger(v)
	if err != nil {
		return nil, err
	}
	return ConstInsn(opcode.LDC, idx), nil
}

func (in *Instruction) String() string {
	switch in.Op.Kind() {
	case opcode.KindLocal, opcode.KindConst8, opcode.KindConst16,
		opcode.KindInvokeDynamic, opcode.KindInvokeInterface, opcode.KindMultiANewArray:
		return fmt.Sprintf("%s #%d", in.Op, in.Index)
	case opcode.KindIinc:
		return fmt.Sprintf("%s %d %d", in.Op, in.Index, in.Value)
	case opcode.KindByte, opcode.KindShort, opcode.KindNewArray:
		return fmt.Sprintf("%s %d", in.Op, in.Value)
	}
	return in.Op.String()
}

// DecodeCode decodes the payload of a Code attribute.
func DecodeCode(info []byte, pool *ConstantPool) (*Code, error) {
	r := stream.NewReader(info)
	c := &Code{names: map[string]uint16{}}
	var err error
	if c.MaxStack, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = r.ReadU16(); err != nil {
		return nil, err
	}
	length, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if length == 0 || length > math.MaxUint16 {
		return nil, fmt.Errorf("%w: code length %d", ErrCodeTooLarge, length)
	}
	code, err := r.ReadBytesRef(int(length))
	if err != nil {
		return nil, err
	}

	d := &decoder{code: c, length: int(length), at: map[int]*Instruction{}, labels: map[int]*Label{}}
	if err := d.instructions(code); err != nil {
		return nil, err
	}

	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		var raw [4]uint16
		for j := range raw {
			if raw[j], err = r.ReadU16(); err != nil {
				return nil, err
			}
		}
		h := &Handler{CatchType: raw[3]}
		if h.Start, err = d.label(int(raw[0])); err != nil {
			return nil, fmt.Errorf("exception handler %d start: %w", i, err)
		}
		if h.End, err = d.label(int(raw[1])); err != nil {
			return nil, fmt.Errorf("exception handler %d end: %w", i, err)
		}
		if h.Handler, err = d.label(int(raw[2])); err != nil {
			return nil, fmt.Errorf("exception handler %d target: %w", i, err)
		}
		c.Handlers = append(c.Handlers, h)
	}

	attrs, err := readAttributes(r, pool)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if err := d.attribute(a); err != nil {
			return nil, err
		}
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("classfile: %d trailing bytes in Code attribute", r.Remaining())
	}
	return c, nil
}

type decoder struct {
	code   *Code
	length int
	at     map[int]*Instruction
	labels map[int]*Label
	fixups []func() error
}

// label returns the shared label for a code offset.
func (d *decoder) label(offset int) (*Label, error) {
	if l, ok := d.labels[offset]; ok {
		return l, nil
	}
	var l *Label
	switch {
	case offset == d.length:
		l = d.code.EndLabel()
	case d.at[offset] != nil:
		l = d.code.LabelOf(d.at[offset])
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadOffset, offset)
	}
	d.labels[offset] = l
	return l, nil
}

func (d *decoder) branch(dst **Label, offset int) {
	d.fixups = append(d.fixups, func() error {
		l, err := d.label(offset)
		if err != nil {
			return err
		}
		*dst = l
		return nil
	})
}

func (d *decoder) instructions(code []byte) error {
	r := stream.NewReader(code)
	for r.Remaining() > 0 {
		pos := r.Offset()
		b, _ := r.ReadU8()
		in := &Instruction{Op: opcode.Op(b), Offset: pos}
		if err := d.operands(r, in); err != nil {
			return fmt.Errorf("%w: %s at %d: %v", ErrBadInstruction, in.Op, pos, err)
		}
		d.at[pos] = in
		d.code.Insns = append(d.code.Insns, in)
	}
	for _, fix := range d.fixups {
		if err := fix(); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) operands(r *stream.Reader, in *Instruction) error {
	var err error
	switch in.Op.Kind() {
	case opcode.KindNone:
	case opcode.KindLocal, opcode.KindConst8:
		var v uint8
		v, err = r.ReadU8()
		in.Index = uint16(v)
	case opcode.KindByte:
		var v int8
		v, err = r.ReadI8()
		in.Value = int32(v)
	case opcode.KindNewArray:
		var v uint8
		v, err = r.ReadU8()
		in.Value = int32(v)
	case opcode.KindShort:
		var v int16
		v, err = r.ReadI16()
		in.Value = int32(v)
	case opcode.KindConst16:
		in.Index, err = r.ReadU16()
	case opcode.KindInvokeInterface:
		if in.Index, err = r.ReadU16(); err != nil {
			return err
		}
		var n uint8
		if n, err = r.ReadU8(); err != nil {
			return err
		}
		in.Value = int32(n)
		err = r.Skip(1)
	case opcode.KindInvokeDynamic:
		if in.Index, err = r.ReadU16(); err != nil {
			return err
		}
		err = r.Skip(2)
	case opcode.KindMultiANewArray:
		if in.Index, err = r.ReadU16(); err != nil {
			return err
		}
		var n uint8
		n, err = r.ReadU8()
		in.Value = int32(n)
	case opcode.KindIinc:
		var slot uint8
		var delta int8
		if slot, err = r.ReadU8(); err != nil {
			return err
		}
		delta, err = r.ReadI8()
		in.Index, in.Value = uint16(slot), int32(delta)
	case opcode.KindBranch:
		var v int16
		v, err = r.ReadI16()
		d.branch(&in.Target, in.Offset+int(v))
	case opcode.KindBranchWide:
		var v int32
		v, err = r.ReadI32()
		d.branch(&in.Target, in.Offset+int(v))
	case opcode.KindTableSwitch:
		return d.tableSwitch(r, in)
	case opcode.KindLookupSwitch:
		return d.lookupSwitch(r, in)
	case opcode.KindWide:
		return d.wide(r, in)
	default:
		return fmt.Errorf("undefined opcode 0x%02x", uint8(in.Op))
	}
	return err
}

func (d *decoder) wide(r *stream.Reader, in *Instruction) error {
	b, err := r.ReadU8()
	if err != nil {
		return err
	}
	in.Op, in.Wide = opcode.Op(b), true
	switch in.Op.Kind() {
	case opcode.KindLocal:
		in.Index, err = r.ReadU16()
		return err
	case opcode.KindIinc:
		if in.Index, err = r.ReadU16(); err != nil {
			return err
		}
		v, err := r.ReadI16()
		in.Value = int32(v)
		return err
	}
	return fmt.Errorf("wide cannot modify %s", in.Op)
}

func (d *decoder) tableSwitch(r *stream.Reader, in *Instruction) error {
	if err := r.Align(0, 4); err != nil {
		return err
	}
	var def, low, high int32
	for _, p := range []*int32{&def, &low, &high} {
		v, err := r.ReadI32()
		if err != nil {
			return err
		}
		*p = v
	}
	if high < low || int64(high)-int64(low)+1 > int64(r.Remaining()/4) {
		return fmt.Errorf("bad tableswitch bounds %d..%d", low, high)
	}
	in.Low = low
	d.branch(&in.Default, in.Offset+int(def))
	in.Targets = make([]*Label, int(high-low)+1)
	for i := range in.Targets {
		v, err := r.ReadI32()
		if err != nil {
			return err
		}
		d.branch(&in.Targets[i], in.Offset+int(v))
	}
	return nil
}

func (d *decoder) lookupSwitch(r *stream.Reader, in *Instruction) error {
	if err := r.Align(0, 4); err != nil {
		return err
	}
	def, err := r.ReadI32()
	if err != nil {
		return err
	}
	n, err := r.ReadI32()
	if err != nil {
		return err
	}
	if n < 0 || int(n) > r.Remaining()/8 {
		return fmt.Errorf("bad lookupswitch pair count %d", n)
	}
	d.branch(&in.Default, in.Offset+int(def))
	in.Keys = make([]int32, n)
	in.Targets = make([]*Label, n)
	for i := range in.Keys {
		if in.Keys[i], err = r.ReadI32(); err != nil {
			return err
		}
		v, err := r.ReadI32()
		if err != nil {
			return err
		}
		d.branch(&in.Targets[i], in.Offset+int(v))
	}
	return nil
}

func (d *decoder) attribute(a *Attribute) error {
	c := d.code
	var err error
	switch a.Name {
	case AttrLineNumberTable:
		var lines []LineNumber
		if lines, err = d.lineNumbers(a.Info); err == nil {
			c.Lines = append(nonNil(c.Lines), lines...)
		}
	case AttrLocalVariableTable:
		var vars []LocalVariable
		if vars, err = d.localVariables(a.Info); err == nil {
			c.Locals = append(nonNil(c.Locals), vars...)
		}
	case AttrLocalVariableTypeTable:
		var vars []LocalVariable
		if vars, err = d.localVariables(a.Info); err == nil {
			c.LocalTypes = append(nonNil(c.LocalTypes), vars...)
		}
	case AttrStackMapTable:
		if c.Frames, err = d.stackMap(a.Info); err != nil {
			return fmt.Errorf("StackMapTable: %w", err)
		}
	default:
		c.Attributes = append(c.Attributes, a)
	}
	if err != nil {
		// Debug tables are advisory; a table pointing between
		// instructions is discarded rather than failing the method.
		log.Debugf("dropping %s: %v", a.Name, err)
		return nil
	}
	if _, seen := c.names[a.Name]; !seen {
		c.layout = append(c.layout, a.Name)
	}
	c.names[a.Name] = a.NameIndex
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Encode assembles the code into a Code attribute payload. Branches that
// no longer fit are widened (goto and jsr only), ldc is widened for pool
// indexes above 255, and switch padding is recomputed. Instruction offsets
// are updated in place.
func (c *Code) Encode(pool *ConstantPool) ([]byte, error) {
	for _, l := range c.pending {
		l.Insn = nil
	}
	c.pending = c.pending[:0]

	members := make(map[*Instruction]bool, len(c.Insns))
	for _, in := range c.Insns {
		if members[in] {
			return nil, fmt.Errorf("%w: %s appears twice", ErrBadInstruction, in.Op)
		}
		members[in] = true
		in.normalize()
	}

	e := &encoder{code: c, members: members}
	if err := e.layout(); err != nil {
		return nil, err
	}
	body, err := e.emit()
	if err != nil {
		return nil, err
	}

	w := stream.NewWriter(len(body) + 64)
	w.WriteU16(c.MaxStack)
	w.WriteU16(c.MaxLocals)
	w.WriteU32(uint32(len(body)))
	w.WriteBytes(body)

	if err := w.WriteLen16(len(c.Handlers)); err != nil {
		return nil, err
	}
	for i, h := range c.Handlers {
		var offs [3]int
		for j, l := range []*Label{h.Start, h.End, h.Handler} {
			if offs[j], err = e.offset(l); err != nil {
				return nil, fmt.Errorf("exception handler %d: %w", i, err)
			}
		}
		w.WriteU16(uint16(offs[0]))
		w.WriteU16(uint16(offs[1]))
		w.WriteU16(uint16(offs[2]))
		w.WriteU16(h.CatchType)
	}

	attrs, err := e.attributes(pool)
	if err != nil {
		return nil, err
	}
	if err := writeAttributes(w, attrs); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (in *Instruction) normalize() {
	switch in.Op.Kind() {
	case opcode.KindLocal:
		if in.Index > math.MaxUint8 {
			in.Wide = true
		}
	case opcode.KindIinc:
		if in.Index > math.MaxUint8 || in.Value < math.MinInt8 || in.Value > math.MaxInt8 {
			in.Wide = true
		}
	case opcode.KindConst8:
		if in.Op == opcode.LDC && in.Index > math.MaxUint8 {
			in.Op = opcode.LDC_W
		}
	}
}

func switchPad(offset int) int {
	return (4 - (offset+1)%4) % 4
}

func (in *Instruction) size(offset int) int {
	switch k := in.Op.Kind(); k {
	case opcode.KindTableSwitch:
		return 1 + switchPad(offset) + 12 + 4*len(in.Targets)
	case opcode.KindLookupSwitch:
		return 1 + switchPad(offset) + 8 + 8*len(in.Targets)
	case opcode.KindLocal:
		if in.Wide {
			return 4
		}
		return 2
	case opcode.KindIinc:
		if in.Wide {
			return 6
		}
		return 3
	default:
		return k.FixedSize()
	}
}

type encoder struct {
	code    *Code
	members map[*Instruction]bool
	length  int
}

func (e *encoder) offset(l *Label) (int, error) {
	if l == nil {
		return 0, ErrUnboundLabel
	}
	if l.Insn == nil {
		return e.length, nil
	}
	if !e.members[l.Insn] {
		return 0, fmt.Errorf("%w: %s", ErrUnboundLabel, l.Insn.Op)
	}
	return l.Insn.Offset, nil
}

func (e *encoder) layout() error {
	for {
		off := 0
		for _, in := range e.code.Insns {
			if in.Op.Kind() == opcode.KindInvalid || in.Op == opcode.WIDE {
				return fmt.Errorf("%w: cannot encode %s", ErrBadInstruction, in.Op)
			}
			in.Offset = off
			off += in.size(off)
		}
		e.length = off
		if off > math.MaxUint16 {
			return fmt.Errorf("%w: %d bytes", ErrCodeTooLarge, off)
		}

		widened := false
		for _, in := range e.code.Insns {
			if in.Op.Kind() != opcode.KindBranch {
				continue
			}
			t, err := e.offset(in.Target)
			if err != nil {
				return fmt.Errorf("%s at %d: %w", in.Op, in.Offset, err)
			}
			if delta := t - in.Offset; delta < math.MinInt16 || delta > math.MaxInt16 {
				w, ok := in.Op.Wide()
				if !ok {
					return fmt.Errorf("%w: %s at %d jumps %d", ErrBranchOutOfRange, in.Op, in.Offset, delta)
				}
				in.Op = w
				widened = true
			}
		}
		if !widened {
			return nil
		}
	}
}

func (e *encoder) emit() ([]byte, error) {
	w := stream.NewWriter(e.length)
	for _, in := range e.code.Insns {
		rel := func(l *Label) (int32, error) {
			t, err := e.offset(l)
			if err != nil {
				return 0, fmt.Errorf("%s at %d: %w", in.Op, in.Offset, err)
			}
			return int32(t - in.Offset), nil
		}

		if in.Wide {
			w.WriteU8(uint8(opcode.WIDE))
		}
		w.WriteU8(uint8(in.Op))
		switch in.Op.Kind() {
		case opcode.KindLocal:
			if in.Wide {
				w.WriteU16(in.Index)
			} else {
				w.WriteU8(uint8(in.Index))
			}
		case opcode.KindConst8:
			w.WriteU8(uint8(in.Index))
		case opcode.KindByte, opcode.KindNewArray:
			w.WriteU8(uint8(in.Value))
		case opcode.KindShort:
			w.WriteI16(int16(in.Value))
		case opcode.KindConst16:
			w.WriteU16(in.Index)
		case opcode.KindInvokeInterface:
			w.WriteU16(in.Index)
			w.WriteU8(uint8(in.Value))
			w.WriteU8(0)
		case opcode.KindInvokeDynamic:
			w.WriteU16(in.Index)
			w.WriteU16(0)
		case opcode.KindMultiANewArray:
			w.WriteU16(in.Index)
			w.WriteU8(uint8(in.Value))
		case opcode.KindIinc:
			if in.Wide {
				w.WriteU16(in.Index)
				w.WriteI16(int16(in.Value))
			} else {
				w.WriteU8(uint8(in.Index))
				w.WriteU8(uint8(int8(in.Value)))
			}
		case opcode.KindBranch:
			d, err := rel(in.Target)
			if err != nil {
				return nil, err
			}
			w.WriteI16(int16(d))
		case opcode.KindBranchWide:
			d, err := rel(in.Target)
			if err != nil {
				return nil, err
			}
			w.WriteI32(d)
		case opcode.KindTableSwitch, opcode.KindLookupSwitch:
			w.Pad(0, 4)
			d, err := rel(in.Default)
			if err != nil {
				return nil, err
			}
			w.WriteI32(d)
			if in.Op == opcode.TABLESWITCH {
				w.WriteI32(in.Low)
				w.WriteI32(in.Low + int32(len(in.Targets)) - 1)
			} else {
				if len(in.Keys) != len(in.Targets) {
					return nil, fmt.Errorf("%w: lookupswitch has %d keys and %d targets",
						ErrBadInstruction, len(in.Keys), len(in.Targets))
				}
				w.WriteI32(int32(len(in.Keys)))
			}
			for i, t := range in.Targets {
				if in.Op == opcode.LOOKUPSWITCH {
					w.WriteI32(in.Keys[i])
				}
				d, err := rel(t)
				if err != nil {
					return nil, err
				}
				w.WriteI32(d)
			}
		}
	}
	return w.Bytes(), nil
}

// attributes rebuilds the nested attribute list in its decoded order,
// re-encoding the label-based tables against the current layout.
func (e *encoder) attributes(pool *ConstantPool) ([]*Attribute, error) {
	c := e.code
	var out []*Attribute
	done := map[string]bool{}
	emitted := map[*Attribute]bool{}

	table := func(name string) error {
		if done[name] {
			return nil
		}
		done[name] = true
		var info []byte
		var err error
		switch name {
		case AttrLineNumberTable:
			if c.Lines == nil {
				return nil
			}
			info, err = e.lineNumbers()
		case AttrLocalVariableTable:
			if c.Locals == nil {
				return nil
			}
			info, err = e.localVariables(c.Locals)
		case AttrLocalVariableTypeTable:
			if c.LocalTypes == nil {
				return nil
			}
			info, err = e.localVariables(c.LocalTypes)
		case AttrStackMapTable:
			if c.Frames == nil {
				return nil
			}
			info, err = e.stackMap()
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		idx, ok := c.names[name]
		if !ok {
			if idx, err = pool.AddUtf8(name); err != nil {
				return err
			}
		}
		out = append(out, &Attribute{Name: name, NameIndex: idx, Info: info})
		return nil
	}

	decoded := []string{AttrLineNumberTable, AttrLocalVariableTable, AttrLocalVariableTypeTable, AttrStackMapTable}
	isDecoded := func(name string) bool {
		for _, n := range decoded {
			if n == name {
				return true
			}
		}
		return false
	}

	for _, name := range c.layout {
		if isDecoded(name) {
			if err := table(name); err != nil {
				return nil, err
			}
			continue
		}
		for _, a := range c.Attributes {
			if a.Name == name && !emitted[a] {
				out = append(out, a)
				emitted[a] = true
				break
			}
		}
	}
	for _, name := range decoded {
		if err := table(name); err != nil {
			return nil, err
		}
	}
	for _, a := range c.Attributes {
		if !emitted[a] {
			out = append(out, a)
		}
	}
	return out, nil
}
