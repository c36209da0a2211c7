package otadump

import (
	"encoding/binary"
	"fmt"
)

// The manifest is encoded in protobuf wire format, but only four wire
// types ever occur in it, so a full protobuf runtime is not needed to read
// it. fieldReader walks a buffer one tag/value entry at a time and leaves
// all semantic interpretation to the caller, which picks the field numbers
// it knows and skips the rest.

type wireType int

const (
	wireVarint  wireType = 0
	wireFixed64 wireType = 1
	wireBytes   wireType = 2
	wireFixed32 wireType = 5
)

// wireField is one decoded entry. Uint holds varint and fixed-width
// values; Bytes aliases the input buffer for length-delimited values.
type wireField struct {
	Num   uint64
	Type  wireType
	Uint  uint64
	Bytes []byte
}

// fieldReader iterates wire entries in the style of bufio.Scanner: call
// next until it returns false, then check err. A fresh reader over the
// same buffer restarts the sequence.
type fieldReader struct {
	buf []byte
	pos int
	err error
}

func newFieldReader(buf []byte) *fieldReader {
	return &fieldReader{buf: buf}
}

func (r *fieldReader) next() (wireField, bool) {
	if r.err != nil || r.pos >= len(r.buf) {
		return wireField{}, false
	}
	tag, ok := r.varint()
	if !ok {
		return wireField{}, false
	}
	f := wireField{Num: tag >> 3, Type: wireType(tag & 7)}
	switch f.Type {
	case wireVarint:
		f.Uint, ok = r.varint()
	case wireFixed64:
		f.Uint, ok = r.fixed(8)
	case wireBytes:
		var n uint64
		if n, ok = r.varint(); !ok {
			break
		}
		if n > uint64(len(r.buf)-r.pos) {
			r.err = fmt.Errorf("%w: %d byte field %d at offset %d",
				ErrTruncatedInput, n, f.Num, r.pos)
			ok = false
			break
		}
		f.Bytes = r.buf[r.pos : r.pos+int(n)]
		r.pos += int(n)
	case wireFixed32:
		f.Uint, ok = r.fixed(4)
	default:
		r.err = fmt.Errorf("%w: wire type %d in field %d",
			ErrMalformedField, int(f.Type), f.Num)
		ok = false
	}
	if !ok {
		return wireField{}, false
	}
	return f, true
}

// varint decodes 7 bits per byte, low group first, high bit as
// continuation. Anything past 10 bytes cannot fit in a uint64.
func (r *fieldReader) varint() (uint64, bool) {
	var v uint64
	var shift uint
	for {
		if r.pos >= len(r.buf) {
			r.err = fmt.Errorf("%w: varint at offset %d", ErrTruncatedInput, r.pos)
			return 0, false
		}
		if shift > 63 {
			r.err = fmt.Errorf("%w: varint overflows 64 bits at offset %d",
				ErrMalformedField, r.pos)
			return 0, false
		}
		b := r.buf[r.pos]
		r.pos++
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, true
		}
		shift += 7
	}
}

func (r *fieldReader) fixed(n int) (uint64, bool) {
	if n > len(r.buf)-r.pos {
		r.err = fmt.Errorf("%w: %d byte value at offset %d", ErrTruncatedInput, n, r.pos)
		return 0, false
	}
	var v uint64
	if n == 8 {
		v = binary.LittleEndian.Uint64(r.buf[r.pos:])
	} else {
		v = uint64(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	}
	r.pos += n
	return v, true
}
