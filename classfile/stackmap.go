package classfile

import (
	"fmt"

	"github.com/skdltmxn/hotswap-go/internal/stream"
)

// Verification type tags (verification_type_info).
const (
	VerifyTop               uint8 = 0
	VerifyInteger           uint8 = 1
	VerifyFloat             uint8 = 2
	VerifyDouble            uint8 = 3
	VerifyLong              uint8 = 4
	VerifyNull              uint8 = 5
	VerifyUninitializedThis uint8 = 6
	VerifyObject            uint8 = 7
	VerifyUninitialized     uint8 = 8
)

// VerificationType is one verification_type_info entry.
type VerificationType struct {
	Tag   uint8
	Index uint16 // Class constant for VerifyObject
	New   *Label // the new instruction for VerifyUninitialized
}

// Frame categories by frame_type.
const (
	frameSameMax        = 63
	frameSameLocals1Max = 127
	frameSameLocals1Ext = 247
	frameChopMin        = 248
	frameSameExt        = 251
	frameAppendMax      = 254
	frameFull           = 255
)

// Frame is a StackMapTable entry. Type keeps the frame_type as decoded;
// the encoder only changes it when the offset delta no longer fits.
//
// Locals and Stack are interpreted by category: an append frame lists the
// added locals, a same_locals_1_stack_item frame has exactly one Stack
// entry, a full frame lists both completely. Chop is the number of locals
// removed by a chop frame.
type Frame struct {
	Type   uint8
	At     *Label
	Locals []VerificationType
	Stack  []VerificationType
	Chop   int
}

// FullFrame creates a full_frame at the given label.
func FullFrame(at *Label, locals, stack []VerificationType) Frame {
	return Frame{Type: frameFull, At: at, Locals: locals, Stack: stack}
}

func (d *decoder) stackMap(info []byte) ([]Frame, error) {
	r := stream.NewReader(info)
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, count)
	offset := -1
	for i := 0; i < int(count); i++ {
		t, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		f := Frame{Type: t}
		var delta int
		switch {
		case t <= frameSameMax:
			delta = int(t)
		case t <= frameSameLocals1Max:
			delta = int(t) - 64
			v, err := d.verificationType(r)
			if err != nil {
				return nil, err
			}
			f.Stack = []VerificationType{v}
		case t < frameSameLocals1Ext:
			return nil, fmt.Errorf("reserved frame type %d", t)
		default:
			u, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			delta = int(u)
			if err := d.frameBody(r, &f); err != nil {
				return nil, err
			}
		}
		offset += delta + 1
		if f.At, err = d.label(offset); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (d *decoder) frameBody(r *stream.Reader, f *Frame) error {
	switch t := f.Type; {
	case t == frameSameLocals1Ext:
		v, err := d.verificationType(r)
		if err != nil {
			return err
		}
		f.Stack = []VerificationType{v}
	case t >= frameChopMin && t < frameSameExt:
		f.Chop = frameSameExt - int(t)
	case t == frameSameExt:
	case t <= frameAppendMax:
		locals, err := d.verificationTypes(r, int(t)-frameSameExt)
		if err != nil {
			return err
		}
		f.Locals = locals
	default:
		n, err := r.ReadU16()
		if err != nil {
			return err
		}
		if f.Locals, err = d.verificationTypes(r, int(n)); err != nil {
			return err
		}
		if n, err = r.ReadU16(); err != nil {
			return err
		}
		if f.Stack, err = d.verificationTypes(r, int(n)); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) verificationTypes(r *stream.Reader, n int) ([]VerificationType, error) {
	out := make([]VerificationType, n)
	for i := range out {
		v, err := d.verificationType(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *decoder) verificationType(r *stream.Reader) (VerificationType, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return VerificationType{}, err
	}
	v := VerificationType{Tag: tag}
	switch tag {
	case VerifyObject:
		v.Index, err = r.ReadU16()
	case VerifyUninitialized:
		var pc uint16
		if pc, err = r.ReadU16(); err == nil {
			v.New, err = d.label(int(pc))
		}
	default:
		if tag > VerifyUninitialized {
			err = fmt.Errorf("unknown verification type %d", tag)
		}
	}
	return v, err
}

func (e *encoder) stackMap() ([]byte, error) {
	w := stream.NewWriter(64)
	if err := w.WriteLen16(len(e.code.Frames)); err != nil {
		return nil, err
	}
	prev := -1
	for i, f := range e.code.Frames {
		at, err := e.offset(f.At)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		delta := at - prev - 1
		if delta < 0 || delta > 0xFFFF {
			return nil, fmt.Errorf("%w: frame %d at %d follows %d", ErrBadOffset, i, at, prev)
		}
		prev = at

		t := f.Type
		switch {
		case t <= frameSameMax || t == frameSameExt:
			if t != frameSameExt && delta <= frameSameMax {
				w.WriteU8(uint8(delta))
			} else {
				w.WriteU8(frameSameExt)
				w.WriteU16(uint16(delta))
			}
		case t <= frameSameLocals1Max || t == frameSameLocals1Ext:
			if len(f.Stack) != 1 {
				return nil, fmt.Errorf("frame %d: same_locals_1_stack_item with %d stack entries", i, len(f.Stack))
			}
			if t != frameSameLocals1Ext && delta <= frameSameMax {
				w.WriteU8(uint8(64 + delta))
			} else {
				w.WriteU8(frameSameLocals1Ext)
				w.WriteU16(uint16(delta))
			}
			if err := e.verificationType(w, f.Stack[0]); err != nil {
				return nil, err
			}
		case t < frameSameExt:
			w.WriteU8(uint8(frameSameExt - f.Chop))
			w.WriteU16(uint16(delta))
		case t <= frameAppendMax:
			if len(f.Locals) < 1 || len(f.Locals) > 3 {
				return nil, fmt.Errorf("frame %d: append of %d locals", i, len(f.Locals))
			}
			w.WriteU8(uint8(frameSameExt + len(f.Locals)))
			w.WriteU16(uint16(delta))
			for _, v := range f.Locals {
				if err := e.verificationType(w, v); err != nil {
					return nil, err
				}
			}
		default:
			w.WriteU8(frameFull)
			w.WriteU16(uint16(delta))
			for _, list := range [][]VerificationType{f.Locals, f.Stack} {
				if err := w.WriteLen16(len(list)); err != nil {
					return nil, err
				}
				for _, v := range list {
					if err := e.verificationType(w, v); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return w.Bytes(), nil
}

func (e *encoder) verificationType(w *stream.Writer, v VerificationType) error {
	w.WriteU8(v.Tag)
	switch v.Tag {
	case VerifyObject:
		w.WriteU16(v.Index)
	case VerifyUninitialized:
		pc, err := e.offset(v.New)
		if err != nil {
			return fmt.Errorf("uninitialized entry: %w", err)
		}
		w.WriteU16(uint16(pc))
	}
	return nil
}
