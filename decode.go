package dbus

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// decoder unmarshals values from the D-Bus wire format. Unlike the
// encoder it must accept either byte order: the endianness byte at the
// front of a message selects order for everything that follows (see
// header.go). offset tracks bytes consumed relative to the start of the
// message, mirroring the encoder's discipline.
type decoder struct {
	buf    []byte
	pos    int
	offset int
	order  binary.ByteOrder
}

func newDecoder(buf []byte, order binary.ByteOrder) *decoder {
	return &decoder{buf: buf, order: order}
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) align(n int) error {
	_, padding := nextOffset(d.offset, n)
	if padding > d.remaining() {
		return &CodecError{Reason: "truncated message: alignment padding overruns buffer"}
	}
	d.pos += padding
	d.offset += padding
	return nil
}

func (d *decoder) readRaw(n int) ([]byte, error) {
	if n > d.remaining() {
		return nil, &CodecError{Reason: "truncated message: not enough bytes"}
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	d.offset += n
	return b, nil
}

func (d *decoder) readByte() (byte, error) {
	b, err := d.readRaw(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) readUint16() (uint16, error) {
	if err := d.align(2); err != nil {
		return 0, err
	}
	b, err := d.readRaw(2)
	if err != nil {
		return 0, err
	}
	return d.order.Uint16(b), nil
}

func (d *decoder) readUint32() (uint32, error) {
	if err := d.align(4); err != nil {
		return 0, err
	}
	b, err := d.readRaw(4)
	if err != nil {
		return 0, err
	}
	return d.order.Uint32(b), nil
}

func (d *decoder) readUint64() (uint64, error) {
	if err := d.align(8); err != nil {
		return 0, err
	}
	b, err := d.readRaw(8)
	if err != nil {
		return 0, err
	}
	return d.order.Uint64(b), nil
}

func (d *decoder) readString() (string, error) {
	n, err := d.readUint32()
	if err != nil {
		return "", err
	}
	b, err := d.readRaw(int(n) + 1)
	if err != nil {
		return "", err
	}
	if b[len(b)-1] != 0 {
		return "", &CodecError{Reason: "string missing trailing NUL"}
	}
	s := b[:len(b)-1]
	if !utf8.Valid(s) {
		return "", &CodecError{Reason: "string is not valid UTF-8"}
	}
	return string(s), nil
}

func (d *decoder) readSignatureText() (string, error) {
	n, err := d.readByte()
	if err != nil {
		return "", err
	}
	b, err := d.readRaw(int(n) + 1)
	if err != nil {
		return "", err
	}
	if b[len(b)-1] != 0 {
		return "", &CodecError{Reason: "signature missing trailing NUL"}
	}
	return string(b[:len(b)-1]), nil
}

// decodeValue unmarshals one value of the given signature, dispatching
// on its Kind the same way encodeValue does.
func (d *decoder) decodeValue(sig Signature) (Value, error) {
	switch sig.Kind() {
	case KindByte:
		b, err := d.readByte()
		return Byte(b), err
	case KindBoolean:
		u, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		switch u {
		case 0:
			return Boolean(false), nil
		case 1:
			return Boolean(true), nil
		default:
			return nil, &CodecError{Reason: "invalid boolean value on wire"}
		}
	case KindInt16:
		u, err := d.readUint16()
		return Int16(int16(u)), err
	case KindUint16:
		u, err := d.readUint16()
		return Uint16(u), err
	case KindInt32:
		u, err := d.readUint32()
		return Int32(int32(u)), err
	case KindUint32:
		u, err := d.readUint32()
		return Uint32(u), err
	case KindInt64:
		u, err := d.readUint64()
		return Int64(int64(u)), err
	case KindUint64:
		u, err := d.readUint64()
		return Uint64(u), err
	case KindDouble:
		u, err := d.readUint64()
		return Double(math.Float64frombits(u)), err
	case KindString:
		s, err := d.readString()
		return String(s), err
	case KindObjectPath:
		s, err := d.readString()
		return ObjectPath(s), err
	case KindSignature:
		text, err := d.readSignatureText()
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(text)
		if err != nil {
			return nil, err
		}
		return SignatureValue(parsed), nil
	case KindUnixFD:
		u, err := d.readUint32()
		return UnixFD(u), err
	case KindArray:
		return d.decodeArray(sig)
	case KindStruct:
		return d.decodeStruct(sig)
	case KindVariant:
		return d.decodeVariant()
	case KindDictEntry:
		return d.decodeDictEntry(sig)
	default:
		return nil, &CodecError{Reason: "unsupported signature kind"}
	}
}

func (d *decoder) decodeArray(sig Signature) (Value, error) {
	length, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	elem := sig.Elem()
	if err := d.align(elem.Alignment()); err != nil {
		return nil, err
	}

	start := d.offset
	end := start + int(length)
	if end > start+d.remaining() {
		return nil, &CodecError{Reason: "array length overruns buffer"}
	}

	values := []Value{}
	for d.offset < end {
		v, err := d.decodeValue(elem)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if d.offset != end {
		return nil, &CodecError{Reason: "array length not fully consumed"}
	}
	return Array{Elem: elem, Values: values}, nil
}

func (d *decoder) decodeStruct(sig Signature) (Value, error) {
	if err := d.align(8); err != nil {
		return nil, err
	}
	fields := sig.Fields()
	values := make([]Value, len(fields))
	for i, f := range fields {
		v, err := d.decodeValue(f)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return Struct{Values: values}, nil
}

func (d *decoder) decodeVariant() (Value, error) {
	text, err := d.readSignatureText()
	if err != nil {
		return nil, err
	}
	types, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if len(types) != 1 {
		return nil, &SignatureError{Signature: text, Reason: "variant signature must be a single complete type"}
	}
	inner, err := d.decodeValue(types[0])
	if err != nil {
		return nil, err
	}
	return Variant{Inner: types[0], Value: inner}, nil
}

func (d *decoder) decodeDictEntry(sig Signature) (Value, error) {
	if err := d.align(8); err != nil {
		return nil, err
	}
	keySig := Basic(sig.KeyKind())
	key, err := d.decodeValue(keySig)
	if err != nil {
		return nil, err
	}
	val, err := d.decodeValue(sig.Elem())
	if err != nil {
		return nil, err
	}
	return DictEntry{Key: key, Val: val}, nil
}

// Unmarshal decodes a single value of the given signature from data,
// starting at message offset 0. order selects how multi-byte integers
// are interpreted; a decoded message uses the endianness byte of its
// header (see message.go).
func Unmarshal(data []byte, sig Signature, order binary.ByteOrder) (Value, error) {
	d := newDecoder(data, order)
	return d.decodeValue(sig)
}
