package dbus

import (
	"encoding/binary"
	"fmt"
)

// Message is one complete D-Bus message: a typed header plus an ordered
// body of values. Order is the endianness a decoded message arrived in;
// a Message built with NewMethodCall/NewMethodReturn/NewError/NewSignal
// always emits big-endian (see encode.go).
type Message struct {
	Order  binary.ByteOrder
	Type   MessageType
	Flags  Flags
	Serial uint32
	Fields HeaderFields
	Body   []Value
}

// newMessage fills in the Signature header field from body when body is
// nonempty, per the rule that it is optional on an empty body and
// required otherwise.
func newMessage(t MessageType, flags Flags, hf HeaderFields, body []Value) *Message {
	if len(body) > 0 {
		sigs := make([]Signature, len(body))
		for i, v := range body {
			sigs[i] = v.Signature()
		}
		hf.Signature = sigs
		hf.HasSignature = true
	}
	return &Message{
		Order:  binary.BigEndian,
		Type:   t,
		Flags:  flags,
		Fields: hf,
		Body:   body,
	}
}

// NewMethodCall builds a MethodCall message. destination and iface may be
// empty to omit those optional header fields; path and member are
// required.
func NewMethodCall(destination string, path ObjectPath, iface, member string, body ...Value) (*Message, error) {
	if path == "" || member == "" {
		return nil, &InvariantError{Reason: "MethodCall requires Path and Member"}
	}
	hf := HeaderFields{Path: path, HasPath: true, Member: member, HasMember: true}
	if iface != "" {
		hf.Interface, hf.HasInterface = iface, true
	}
	if destination != "" {
		hf.Destination, hf.HasDestination = destination, true
	}
	return newMessage(TypeMethodCall, 0, hf, body), nil
}

// NewMethodReturn builds a MethodReturn message replying to replySerial.
func NewMethodReturn(replySerial uint32, body ...Value) (*Message, error) {
	if replySerial == 0 {
		return nil, &InvariantError{Reason: "MethodReturn requires a nonzero ReplySerial"}
	}
	hf := HeaderFields{ReplySerial: replySerial, HasReplySerial: true}
	return newMessage(TypeMethodReturn, 0, hf, body), nil
}

// NewError builds an Error message replying to replySerial with the
// given error name.
func NewError(replySerial uint32, errorName string, body ...Value) (*Message, error) {
	if replySerial == 0 || errorName == "" {
		return nil, &InvariantError{Reason: "Error requires ErrorName and a nonzero ReplySerial"}
	}
	hf := HeaderFields{
		ReplySerial: replySerial, HasReplySerial: true,
		ErrorName: errorName, HasErrorName: true,
	}
	return newMessage(TypeError, 0, hf, body), nil
}

// NewSignal builds a Signal message.
func NewSignal(path ObjectPath, iface, member string, body ...Value) (*Message, error) {
	if path == "" || iface == "" || member == "" {
		return nil, &InvariantError{Reason: "Signal requires Path, Interface, and Member"}
	}
	hf := HeaderFields{
		Path: path, HasPath: true,
		Interface: iface, HasInterface: true,
		Member: member, HasMember: true,
	}
	return newMessage(TypeSignal, 0, hf, body), nil
}

// SetFlags overwrites m's flag set; it returns m for chaining.
func (m *Message) SetFlags(f Flags) *Message {
	m.Flags = f
	return m
}

// Validate checks the per-type header field invariants from the data
// model: a message missing a type-required field, or carrying an unknown
// type code, fails here before it is ever put on the wire.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeMethodCall:
		if !m.Fields.HasPath || !m.Fields.HasMember {
			return &InvariantError{Reason: "MethodCall requires Path and Member"}
		}
	case TypeMethodReturn:
		if !m.Fields.HasReplySerial {
			return &InvariantError{Reason: "MethodReturn requires ReplySerial"}
		}
	case TypeError:
		if !m.Fields.HasErrorName || !m.Fields.HasReplySerial {
			return &InvariantError{Reason: "Error requires ErrorName and ReplySerial"}
		}
	case TypeSignal:
		if !m.Fields.HasPath || !m.Fields.HasInterface || !m.Fields.HasMember {
			return &InvariantError{Reason: "Signal requires Path, Interface, and Member"}
		}
	default:
		return &ProtocolError{Reason: fmt.Sprintf("unknown message type %d", m.Type)}
	}
	return nil
}

// EncodeMessage marshals m to its wire representation: the 12-byte fixed
// header, the header field array, padding to an 8-byte boundary, then the
// body. Emission is always big-endian regardless of m.Order, matching the
// decoder's obligation to accept either endianness on the way in.
func EncodeMessage(m *Message) ([]byte, error) {
	if m.Serial == 0 {
		return nil, &InvariantError{Reason: "message serial must not be zero"}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	be := newEncoder()
	for _, v := range m.Body {
		if err := be.encodeValue(v); err != nil {
			return nil, err
		}
	}
	body := be.bytes()
	if len(body) > maxMessageSize {
		return nil, &CodecError{Reason: fmt.Sprintf("message body exceeds the maximum length: %d/%d bytes", len(body), maxMessageSize)}
	}

	he := newEncoder()
	encodeFixedHeader(he, fixedHeader{
		Order:   binary.BigEndian,
		Type:    m.Type,
		Flags:   m.Flags,
		BodyLen: uint32(len(body)),
		Serial:  m.Serial,
	})
	fieldsVal, err := m.Fields.toValue()
	if err != nil {
		return nil, err
	}
	if err := he.encodeValue(fieldsVal); err != nil {
		return nil, err
	}
	he.align(8)

	return append(he.bytes(), body...), nil
}

// DecodeMessage decodes one complete message from the front of data. It
// returns the message and the number of bytes consumed, so a caller
// streaming from a connection can tell where the next message starts.
//
// Header and body are decoded under a single decoder instance so that
// alignment offsets stay continuous across the header/body boundary, per
// the message framing design.
func DecodeMessage(data []byte) (*Message, int, error) {
	order, err := peekByteOrder(data)
	if err != nil {
		return nil, 0, err
	}
	d := newDecoder(data, order)

	fh, err := decodeFixedHeader(d)
	if err != nil {
		return nil, 0, err
	}
	if fh.Type < TypeMethodCall || fh.Type > TypeSignal {
		return nil, 0, &ProtocolError{Reason: fmt.Sprintf("unknown message type code %d", fh.Type)}
	}

	fieldsVal, err := d.decodeValue(headerFieldsArraySig)
	if err != nil {
		return nil, 0, err
	}
	hf, err := headerFieldsFromValue(fieldsVal)
	if err != nil {
		return nil, 0, err
	}
	if err := d.align(8); err != nil {
		return nil, 0, err
	}

	bodyStart := d.offset
	var body []Value
	if hf.HasSignature {
		body = make([]Value, len(hf.Signature))
		for i, sig := range hf.Signature {
			v, err := d.decodeValue(sig)
			if err != nil {
				return nil, 0, err
			}
			body[i] = v
		}
	}
	if uint32(d.offset-bodyStart) != fh.BodyLen {
		return nil, 0, &ProtocolError{Reason: fmt.Sprintf("body length mismatch: header says %d, decoded %d", fh.BodyLen, d.offset-bodyStart)}
	}

	msg := &Message{
		Order:  order,
		Type:   fh.Type,
		Flags:  fh.Flags,
		Serial: fh.Serial,
		Fields: hf,
		Body:   body,
	}
	return msg, d.offset, nil
}
