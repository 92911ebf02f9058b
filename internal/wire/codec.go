// Package wire implements the big-endian, fixed-length codec used by every
// control-channel message: the REQUEST, the RDMA connection context, and the
// statistics block (see spec.md Sections 3, 4.1 and 6).
//
// There is no framing. Every message has a fixed wire length known to both
// peers ahead of time, so the codec is a push-style encoder/decoder over a
// preallocated buffer rather than a length-prefixed stream codec.
package wire

import "fmt"

// maxIntWidth is the widest integer width the codec supports (uint64).
const maxIntWidth = 8

// Encoder writes big-endian scalars and fixed-length strings into buf,
// advancing an internal cursor. It never grows buf; writing past its end
// panics with an out-of-range index, the same fail-fast behavior a raw
// slice index would give the caller.
type Encoder struct {
	buf []byte
	pos int
}

// NewEncoder returns an Encoder that writes into buf starting at offset 0.
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf}
}

// Pos reports the number of bytes written so far.
func (e *Encoder) Pos() int { return e.pos }

// PutUint stores the low n bytes of v MSB-first (n in {1,2,4,8}).
func (e *Encoder) PutUint(v uint64, n int) {
	if n <= 0 || n > maxIntWidth {
		panic(fmt.Sprintf("wire: invalid int width %d", n))
	}
	for i := range n {
		shift := uint((n - 1 - i) * 8)
		e.buf[e.pos+i] = byte(v >> shift)
	}
	e.pos += n
}

// PutString writes s into a null-padded fixed-length field of width n,
// truncating s if it does not fit (leaving room for the trailing null).
func (e *Encoder) PutString(s string, n int) {
	field := e.buf[e.pos : e.pos+n]
	for i := range field {
		field[i] = 0
	}
	copy(field, truncateForField(s, n))
	e.pos += n
}

// truncateForField clips s so it plus a trailing null fits in n bytes.
func truncateForField(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) > n-1 {
		return s[:n-1]
	}
	return s
}

// Decoder reads big-endian scalars and fixed-length strings out of buf,
// the mirror image of Encoder.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder returns a Decoder that reads from buf starting at offset 0.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Pos reports the number of bytes consumed so far.
func (d *Decoder) Pos() int { return d.pos }

// Uint reads n bytes MSB-first and zero-extends them into a uint64.
func (d *Decoder) Uint(n int) uint64 {
	if n <= 0 || n > maxIntWidth {
		panic(fmt.Sprintf("wire: invalid int width %d", n))
	}
	var v uint64
	for i := range n {
		v = v<<8 | uint64(d.buf[d.pos+i])
	}
	d.pos += n
	return v
}

// String reads a null-padded fixed-length field of width n and returns the
// bytes up to (but not including) the first null.
func (d *Decoder) String(n int) string {
	field := d.buf[d.pos : d.pos+n]
	d.pos += n
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}

// Remaining returns the number of unread bytes. Receivers use this to
// tolerate minor-version drift: trailing bytes beyond the fields a given
// minor version knows about are simply never consumed.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}
