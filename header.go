package dbus

import (
	"encoding/binary"
	"fmt"
)

// MessageType identifies the kind of a Message.
type MessageType byte

// The four D-Bus message types.
const (
	TypeMethodCall   MessageType = 1
	TypeMethodReturn MessageType = 2
	TypeError        MessageType = 3
	TypeSignal       MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case TypeMethodCall:
		return "MethodCall"
	case TypeMethodReturn:
		return "MethodReturn"
	case TypeError:
		return "Error"
	case TypeSignal:
		return "Signal"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(t))
	}
}

// Flags is a bitwise-OR of message flags.
type Flags byte

// The three defined message flags.
const (
	FlagNoReplyExpected               Flags = 1 << 0
	FlagNoAutoStart                   Flags = 1 << 1
	FlagAllowInteractiveAuthorization Flags = 1 << 2
)

const (
	byteOrderBig    = 'B'
	byteOrderLittle = 'l'
	protoVersion    = 1

	// fixedHeaderSize is the length of the always-present, fixed part of
	// the header: endianness, type, flags, version, body length, serial.
	fixedHeaderSize = 12

	// maxMessageSize is the D-Bus specification's 128 MiB message limit.
	// Only the body length is checked against it; header bytes are not
	// counted.
	maxMessageSize = 134217728
)

// Header field codes from the D-Bus specification.
const (
	fieldCodePath        byte = 1
	fieldCodeInterface   byte = 2
	fieldCodeMember      byte = 3
	fieldCodeErrorName   byte = 4
	fieldCodeReplySerial byte = 5
	fieldCodeDestination byte = 6
	fieldCodeSender      byte = 7
	fieldCodeSignature   byte = 8
	fieldCodeUnixFDs     byte = 9
)

// headerFieldStructSig is the signature of one element of the header
// field array: a STRUCT of (BYTE, VARIANT), i.e. "(yv)".
var headerFieldStructSig = StructOf(Basic(KindByte), VariantSig())

// headerFieldsArraySig is the signature of the header field array
// itself: "a(yv)".
var headerFieldsArraySig = ArrayOf(headerFieldStructSig)

// RawHeaderField is an opaque (code, value) pair for a header field code
// this library does not recognize. Per the D-Bus specification,
// unrecognized codes must be tolerated and skipped, not rejected.
type RawHeaderField struct {
	Code  byte
	Value Variant
}

// HeaderFields is the typed, API-level view of a message's header field
// array. Recognized codes are exposed as named, optional fields (a Has*
// bool reports presence); anything else survives in Unknown.
type HeaderFields struct {
	Path           ObjectPath
	HasPath        bool
	Interface      string
	HasInterface   bool
	Member         string
	HasMember      bool
	ErrorName      string
	HasErrorName   bool
	ReplySerial    uint32
	HasReplySerial bool
	Destination    string
	HasDestination bool
	Sender         string
	HasSender      bool
	Signature      []Signature
	HasSignature   bool
	UnixFds        uint32
	HasUnixFds     bool

	Unknown []RawHeaderField
}

// toValue builds the generic a(yv) Array value from hf, in a fixed
// canonical order. Wire order of header fields carries no meaning; a
// fixed order just keeps encoding deterministic.
func (hf HeaderFields) toValue() (Value, error) {
	var structs []Value

	add := func(code byte, v Value) error {
		s, err := NewStruct(Byte(code), Value(NewVariant(v)))
		if err != nil {
			return err
		}
		structs = append(structs, s)
		return nil
	}

	if hf.HasPath {
		if err := add(fieldCodePath, hf.Path); err != nil {
			return nil, err
		}
	}
	if hf.HasInterface {
		if err := add(fieldCodeInterface, String(hf.Interface)); err != nil {
			return nil, err
		}
	}
	if hf.HasMember {
		if err := add(fieldCodeMember, String(hf.Member)); err != nil {
			return nil, err
		}
	}
	if hf.HasErrorName {
		if err := add(fieldCodeErrorName, String(hf.ErrorName)); err != nil {
			return nil, err
		}
	}
	if hf.HasReplySerial {
		if err := add(fieldCodeReplySerial, Uint32(hf.ReplySerial)); err != nil {
			return nil, err
		}
	}
	if hf.HasDestination {
		if err := add(fieldCodeDestination, String(hf.Destination)); err != nil {
			return nil, err
		}
	}
	if hf.HasSender {
		if err := add(fieldCodeSender, String(hf.Sender)); err != nil {
			return nil, err
		}
	}
	if hf.HasSignature {
		if err := add(fieldCodeSignature, SignatureValue(hf.Signature)); err != nil {
			return nil, err
		}
	}
	if hf.HasUnixFds {
		if err := add(fieldCodeUnixFDs, Uint32(hf.UnixFds)); err != nil {
			return nil, err
		}
	}
	for _, r := range hf.Unknown {
		if err := add(r.Code, r.Value.Value); err != nil {
			return nil, err
		}
	}

	return NewArray(headerFieldStructSig, structs...)
}

// headerFieldsFromValue converts the decoded a(yv) Array back into a
// HeaderFields, routing known codes to their typed field and collecting
// everything else into Unknown.
func headerFieldsFromValue(v Value) (HeaderFields, error) {
	arr, ok := v.(Array)
	if !ok {
		return HeaderFields{}, &ProtocolError{Reason: "header field array has the wrong shape"}
	}

	var hf HeaderFields
	for _, elemVal := range arr.Values {
		st, ok := elemVal.(Struct)
		if !ok || len(st.Values) != 2 {
			return HeaderFields{}, &ProtocolError{Reason: "header field entry has the wrong shape"}
		}
		code, ok := st.Values[0].(Byte)
		if !ok {
			return HeaderFields{}, &ProtocolError{Reason: "header field code is not a byte"}
		}
		variant, ok := st.Values[1].(Variant)
		if !ok {
			return HeaderFields{}, &ProtocolError{Reason: "header field value is not a variant"}
		}

		switch byte(code) {
		case fieldCodePath:
			p, ok := variant.Value.(ObjectPath)
			if !ok {
				return HeaderFields{}, &ProtocolError{Reason: "PATH header field is not an object path"}
			}
			hf.Path, hf.HasPath = p, true
		case fieldCodeInterface:
			s, ok := variant.Value.(String)
			if !ok {
				return HeaderFields{}, &ProtocolError{Reason: "INTERFACE header field is not a string"}
			}
			hf.Interface, hf.HasInterface = string(s), true
		case fieldCodeMember:
			s, ok := variant.Value.(String)
			if !ok {
				return HeaderFields{}, &ProtocolError{Reason: "MEMBER header field is not a string"}
			}
			hf.Member, hf.HasMember = string(s), true
		case fieldCodeErrorName:
			s, ok := variant.Value.(String)
			if !ok {
				return HeaderFields{}, &ProtocolError{Reason: "ERROR_NAME header field is not a string"}
			}
			hf.ErrorName, hf.HasErrorName = string(s), true
		case fieldCodeReplySerial:
			u, ok := variant.Value.(Uint32)
			if !ok {
				return HeaderFields{}, &ProtocolError{Reason: "REPLY_SERIAL header field is not a uint32"}
			}
			if u == 0 {
				return HeaderFields{}, &ProtocolError{Reason: "REPLY_SERIAL header field must not be zero"}
			}
			hf.ReplySerial, hf.HasReplySerial = uint32(u), true
		case fieldCodeDestination:
			s, ok := variant.Value.(String)
			if !ok {
				return HeaderFields{}, &ProtocolError{Reason: "DESTINATION header field is not a string"}
			}
			hf.Destination, hf.HasDestination = string(s), true
		case fieldCodeSender:
			s, ok := variant.Value.(String)
			if !ok {
				return HeaderFields{}, &ProtocolError{Reason: "SENDER header field is not a string"}
			}
			hf.Sender, hf.HasSender = string(s), true
		case fieldCodeSignature:
			sv, ok := variant.Value.(SignatureValue)
			if !ok {
				return HeaderFields{}, &ProtocolError{Reason: "SIGNATURE header field is not a signature"}
			}
			hf.Signature, hf.HasSignature = []Signature(sv), true
		case fieldCodeUnixFDs:
			u, ok := variant.Value.(Uint32)
			if !ok {
				return HeaderFields{}, &ProtocolError{Reason: "UNIX_FDS header field is not a uint32"}
			}
			hf.UnixFds, hf.HasUnixFds = uint32(u), true
		default:
			hf.Unknown = append(hf.Unknown, RawHeaderField{Code: byte(code), Value: variant})
		}
	}

	return hf, nil
}

// orderByte reports the endianness byte for order.
func orderByte(order binary.ByteOrder) byte {
	if order == binary.LittleEndian {
		return byteOrderLittle
	}
	return byteOrderBig
}

// byteOrderFor maps a header endianness byte to a binary.ByteOrder.
func byteOrderFor(b byte) (binary.ByteOrder, error) {
	switch b {
	case byteOrderBig:
		return binary.BigEndian, nil
	case byteOrderLittle:
		return binary.LittleEndian, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown byte order %q", b)}
	}
}

// fixedHeader is the always-present 12-byte prefix of a message.
type fixedHeader struct {
	Order   binary.ByteOrder
	Type    MessageType
	Flags   Flags
	BodyLen uint32
	Serial  uint32
}

// encodeFixedHeader writes the 12-byte fixed header to e, which must be
// at offset 0.
func encodeFixedHeader(e *encoder, h fixedHeader) {
	e.writeByte(orderByte(h.Order))
	e.writeByte(byte(h.Type))
	e.writeByte(byte(h.Flags))
	e.writeByte(protoVersion)
	e.writeUint32(h.BodyLen)
	e.writeUint32(h.Serial)
}

// peekByteOrder reads the endianness byte from the front of a message
// without otherwise consuming it. Callers need this before they know
// which binary.ByteOrder to hand the decoder.
func peekByteOrder(b []byte) (binary.ByteOrder, error) {
	if len(b) < 1 {
		return nil, &CodecError{Reason: "truncated message: missing byte order"}
	}
	return byteOrderFor(b[0])
}

// decodeFixedHeader reads the 12-byte fixed header from d, which must be
// at offset 0 and already constructed with the correct byte order.
func decodeFixedHeader(d *decoder) (fixedHeader, error) {
	orderB, err := d.readByte()
	if err != nil {
		return fixedHeader{}, err
	}
	order, err := byteOrderFor(orderB)
	if err != nil {
		return fixedHeader{}, err
	}

	typeB, err := d.readByte()
	if err != nil {
		return fixedHeader{}, err
	}
	flagsB, err := d.readByte()
	if err != nil {
		return fixedHeader{}, err
	}
	versionB, err := d.readByte()
	if err != nil {
		return fixedHeader{}, err
	}
	if versionB != protoVersion {
		return fixedHeader{}, &ProtocolError{Reason: fmt.Sprintf("unsupported major protocol version: %d", versionB)}
	}
	bodyLen, err := d.readUint32()
	if err != nil {
		return fixedHeader{}, err
	}
	if bodyLen > maxMessageSize {
		return fixedHeader{}, &ProtocolError{Reason: fmt.Sprintf("message body exceeds the maximum length: %d/%d bytes", bodyLen, maxMessageSize)}
	}
	serial, err := d.readUint32()
	if err != nil {
		return fixedHeader{}, err
	}

	return fixedHeader{
		Order:   order,
		Type:    MessageType(typeB),
		Flags:   Flags(flagsB),
		BodyLen: bodyLen,
		Serial:  serial,
	}, nil
}
