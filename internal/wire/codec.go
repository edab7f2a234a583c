package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/maxiokv/dkvd/internal/apperrors"
)

// encoder builds a canonical tag-free, length-prefixed field encoding: every
// variable-length field (string/bytes) is written as a u32 length followed
// by its bytes, every fixed field with its native width. This mirrors the
// explicit fixed-layout encoding the teacher's metadata package uses for its
// on-disk records, adapted here for wire frames instead of disk rows.
type encoder struct {
	buf []byte
}

func newEncoder() *encoder { return &encoder{buf: make([]byte, 0, 64)} }

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) putUint8(v uint8) { e.buf = append(e.buf, v) }

func (e *encoder) putUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) putUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) putBytes(v []byte) {
	e.putUint32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

func (e *encoder) putString(v string) { e.putBytes([]byte(v)) }

func (e *encoder) putBool(v bool) {
	if v {
		e.putUint8(1)
	} else {
		e.putUint8(0)
	}
}

// decoder is the reader side of encoder, validating bounds on every read so
// a truncated or hostile frame surfaces as apperrors.CodeProtocolError
// instead of a panic.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) need(n int) error {
	if d.remaining() < n {
		return apperrors.New(apperrors.CodeProtocolError, fmt.Sprintf("truncated frame: need %d bytes, have %d", n, d.remaining()))
	}
	return nil
}

func (d *decoder) getUint8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) getUint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoder) getUint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, nil
}

func (d *decoder) getBytes() ([]byte, error) {
	n, err := d.getUint32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	v := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return v, nil
}

func (d *decoder) getString() (string, error) {
	b, err := d.getBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) getBool() (bool, error) {
	v, err := d.getUint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (d *decoder) done() error {
	if d.remaining() != 0 {
		return apperrors.New(apperrors.CodeProtocolError, fmt.Sprintf("trailing %d bytes in frame", d.remaining()))
	}
	return nil
}
