package stream

import (
	"encoding/binary"
	"math"
)

// Writer accumulates big-endian binary data.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written data. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// WriteU8 appends an unsigned 8-bit integer.
func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteU16 appends an unsigned 16-bit integer.
func (w *Writer) WriteU16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

// WriteU32 appends an unsigned 32-bit integer.
func (w *Writer) WriteU32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteU64 appends an unsigned 64-bit integer.
func (w *Writer) WriteU64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// WriteI16 appends a signed 16-bit integer.
func (w *Writer) WriteI16(v int16) {
	w.WriteU16(uint16(v))
}

// WriteI32 appends a signed 32-bit integer.
func (w *Writer) WriteI32(v int32) {
	w.WriteU32(uint32(v))
}

// WriteFloat32 appends a 32-bit float.
func (w *Writer) WriteFloat32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

// WriteFloat64 appends a 64-bit float.
func (w *Writer) WriteFloat64(v float64) {
	w.WriteU64(math.Float64bits(v))
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// WriteLen16 appends n as a u2 length prefix, failing when n does not fit.
func (w *Writer) WriteLen16(n int) error {
	if n < 0 || n > math.MaxUint16 {
		return ErrOverflow
	}
	w.WriteU16(uint16(n))
	return nil
}

// Reserve32 appends a zero u4 and returns its position for a later Patch32.
func (w *Writer) Reserve32() int {
	pos := len(w.buf)
	w.WriteU32(0)
	return pos
}

// Patch32 overwrites the u4 at pos.
func (w *Writer) Patch32(pos int, v uint32) {
	binary.BigEndian.PutUint32(w.buf[pos:], v)
}

// Pad appends zero bytes until the length, measured from base, is a multiple
// of alignment.
func (w *Writer) Pad(base, alignment int) {
	for (len(w.buf)-base)%alignment != 0 {
		w.buf = append(w.buf, 0)
	}
}
