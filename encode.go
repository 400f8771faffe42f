package dbus

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// encoder marshals values to the D-Bus wire format. It always emits
// big-endian (see spec Non-goals: little-endian emission is not
// required). offset counts bytes written so far *relative to the start
// of the message* — the discipline every alignment decision depends on —
// so a header encoder and a body encoder can each start fresh at offset
// 0 and still produce byte-identical output to a single encoder spanning
// both, as long as the header ends on an 8-byte boundary (it always
// does; see message.go).
type encoder struct {
	buf    []byte
	offset int
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) align(n int) {
	_, padding := nextOffset(e.offset, n)
	for i := 0; i < padding; i++ {
		e.buf = append(e.buf, 0)
	}
	e.offset += padding
}

func (e *encoder) writeByte(b byte) {
	e.buf = append(e.buf, b)
	e.offset++
}

func (e *encoder) writeRaw(b []byte) {
	e.buf = append(e.buf, b...)
	e.offset += len(b)
}

func (e *encoder) writeUint16(v uint16) {
	e.align(2)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.writeRaw(b[:])
}

func (e *encoder) writeUint32(v uint32) {
	e.align(4)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.writeRaw(b[:])
}

func (e *encoder) writeUint64(v uint64) {
	e.align(8)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.writeRaw(b[:])
}

// uint32At patches the 4 bytes at byte offset pos with v. pos is an
// absolute index into e.buf, not a message offset.
func (e *encoder) uint32At(pos int, v uint32) {
	binary.BigEndian.PutUint32(e.buf[pos:pos+4], v)
}

func (e *encoder) writeString(s string) error {
	if !utf8.ValidString(s) {
		return &CodecError{Reason: "string is not valid UTF-8"}
	}
	if len(s) > math.MaxUint32 {
		return &CodecError{Reason: "string length overflows uint32"}
	}
	e.writeUint32(uint32(len(s)))
	e.writeRaw([]byte(s))
	e.writeByte(0)
	return nil
}

func (e *encoder) writeSignatureText(text string) error {
	if len(text) > maxSignatureLength {
		return &CodecError{Reason: "signature length overflows a byte"}
	}
	e.writeByte(byte(len(text)))
	e.writeRaw([]byte(text))
	e.writeByte(0)
	return nil
}

// encodeValue marshals v, dispatching on its reported Kind. This is the
// one codec that pattern-matches on the variant tag (see spec §9): every
// type's alignment and padding flows through the shared offset counter
// above instead of being recomputed per type.
func (e *encoder) encodeValue(v Value) error {
	switch x := v.(type) {
	case Byte:
		e.writeByte(byte(x))
	case Boolean:
		if x {
			e.writeUint32(1)
		} else {
			e.writeUint32(0)
		}
	case Int16:
		e.writeUint16(uint16(x))
	case Uint16:
		e.writeUint16(uint16(x))
	case Int32:
		e.writeUint32(uint32(x))
	case Uint32:
		e.writeUint32(uint32(x))
	case Int64:
		e.writeUint64(uint64(x))
	case Uint64:
		e.writeUint64(uint64(x))
	case Double:
		e.writeUint64(math.Float64bits(float64(x)))
	case String:
		return e.writeString(string(x))
	case ObjectPath:
		return e.writeString(string(x))
	case SignatureValue:
		return e.writeSignatureText(Render([]Signature(x)))
	case UnixFD:
		e.writeUint32(uint32(x))
	case Array:
		return e.encodeArray(x)
	case Struct:
		return e.encodeStruct(x)
	case Variant:
		return e.encodeVariant(x)
	case DictEntry:
		return e.encodeDictEntry(x)
	default:
		return &CodecError{Reason: "unsupported value type"}
	}
	return nil
}

func (e *encoder) encodeArray(a Array) error {
	e.align(4)
	lenPos := len(e.buf)
	e.writeUint32(0) // placeholder, patched below

	e.align(a.Elem.Alignment())
	firstElem := e.offset
	for _, v := range a.Values {
		if !v.Signature().Equal(a.Elem) {
			return &InvariantError{Reason: "array element signature does not match declared element signature"}
		}
		if err := e.encodeValue(v); err != nil {
			return err
		}
	}
	arrayLen := e.offset - firstElem
	if arrayLen > math.MaxUint32 {
		return &CodecError{Reason: "array length overflows uint32"}
	}
	e.uint32At(lenPos, uint32(arrayLen))
	return nil
}

func (e *encoder) encodeStruct(s Struct) error {
	e.align(8)
	for _, v := range s.Values {
		if err := e.encodeValue(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) encodeVariant(v Variant) error {
	if err := e.writeSignatureText(v.Inner.String()); err != nil {
		return err
	}
	return e.encodeValue(v.Value)
}

func (e *encoder) encodeDictEntry(d DictEntry) error {
	e.align(8)
	if err := e.encodeValue(d.Key); err != nil {
		return err
	}
	return e.encodeValue(d.Val)
}

// Marshal encodes a single value at message offset 0 and returns the
// resulting bytes, always big-endian.
func Marshal(v Value) ([]byte, error) {
	e := newEncoder()
	if err := e.encodeValue(v); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}
