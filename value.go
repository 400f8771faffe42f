package dbus

import "fmt"

// Value is a concrete D-Bus value: an instance of one of the basic or
// container variants described by a Signature. The concrete types below
// (Byte, Boolean, ... Array, Struct, Variant, DictEntry) are the only
// implementations; isValue is unexported to keep the set closed.
type Value interface {
	// Signature reports the static shape of this value.
	Signature() Signature
	isValue()
}

// Byte is the D-Bus BYTE type.
type Byte byte

func (Byte) Signature() Signature { return Basic(KindByte) }
func (Byte) isValue()             {}

// Boolean is the D-Bus BOOLEAN type.
type Boolean bool

func (Boolean) Signature() Signature { return Basic(KindBoolean) }
func (Boolean) isValue()             {}

// Int16 is the D-Bus INT16 type.
type Int16 int16

func (Int16) Signature() Signature { return Basic(KindInt16) }
func (Int16) isValue()             {}

// Uint16 is the D-Bus UINT16 type.
type Uint16 uint16

func (Uint16) Signature() Signature { return Basic(KindUint16) }
func (Uint16) isValue()             {}

// Int32 is the D-Bus INT32 type.
type Int32 int32

func (Int32) Signature() Signature { return Basic(KindInt32) }
func (Int32) isValue()             {}

// Uint32 is the D-Bus UINT32 type.
type Uint32 uint32

func (Uint32) Signature() Signature { return Basic(KindUint32) }
func (Uint32) isValue()             {}

// Int64 is the D-Bus INT64 type.
type Int64 int64

func (Int64) Signature() Signature { return Basic(KindInt64) }
func (Int64) isValue()             {}

// Uint64 is the D-Bus UINT64 type.
type Uint64 uint64

func (Uint64) Signature() Signature { return Basic(KindUint64) }
func (Uint64) isValue()             {}

// Double is the D-Bus DOUBLE type, IEEE-754 64-bit.
type Double float64

func (Double) Signature() Signature { return Basic(KindDouble) }
func (Double) isValue()             {}

// String is the D-Bus STRING type. Must be valid UTF-8 when marshalled.
type String string

func (String) Signature() Signature { return Basic(KindString) }
func (String) isValue()             {}

// ObjectPath is the D-Bus OBJECT_PATH type.
type ObjectPath string

func (ObjectPath) Signature() Signature { return Basic(KindObjectPath) }
func (ObjectPath) isValue()             {}

// SignatureValue is the D-Bus SIGNATURE type: a value that is itself a
// type signature. Distinct from the Signature struct, which describes the
// shape of a value rather than being one.
type SignatureValue []Signature

func (SignatureValue) Signature() Signature { return Basic(KindSignature) }
func (SignatureValue) isValue()             {}

// UnixFD is the D-Bus UNIX_FD type: an index into the out-of-band file
// descriptor array carried alongside a message. Passing the descriptors
// themselves is out of scope (see spec Non-goals); this only reserves the
// signature code and wire representation.
type UnixFD uint32

func (UnixFD) Signature() Signature { return Basic(KindUnixFD) }
func (UnixFD) isValue()             {}

// Array is the D-Bus ARRAY type: an element signature plus an ordered
// sequence of values, all of which must report that element signature.
// The element signature is carried explicitly so an empty array still
// knows its type.
type Array struct {
	Elem   Signature
	Values []Value
}

// NewArray builds an Array, validating that every value reports the
// declared element signature.
func NewArray(elem Signature, values ...Value) (Array, error) {
	for i, v := range values {
		if !v.Signature().Equal(elem) {
			return Array{}, &InvariantError{Reason: fmt.Sprintf("array element %d has signature %q, want %q", i, v.Signature(), elem)}
		}
	}
	cp := make([]Value, len(values))
	copy(cp, values)
	return Array{Elem: elem, Values: cp}, nil
}

func (a Array) Signature() Signature { return ArrayOf(a.Elem) }
func (Array) isValue()               {}

// Struct is the D-Bus STRUCT type: an ordered, non-empty sequence of
// values of potentially heterogeneous signatures.
type Struct struct {
	Values []Value
}

// NewStruct builds a Struct. It returns an InvariantError if values is
// empty.
func NewStruct(values ...Value) (Struct, error) {
	if len(values) == 0 {
		return Struct{}, &InvariantError{Reason: "struct must have at least one field"}
	}
	cp := make([]Value, len(values))
	copy(cp, values)
	return Struct{Values: cp}, nil
}

func (s Struct) Signature() Signature {
	fields := make([]Signature, len(s.Values))
	for i, v := range s.Values {
		fields[i] = v.Signature()
	}
	return StructOf(fields...)
}
func (Struct) isValue() {}

// Variant is the D-Bus VARIANT type: a self-describing package carrying
// both the runtime signature of its inner value and the value itself.
type Variant struct {
	Inner Signature
	Value Value
}

// NewVariant wraps v, deriving its signature automatically.
func NewVariant(v Value) Variant {
	return Variant{Inner: v.Signature(), Value: v}
}

func (Variant) Signature() Signature { return VariantSig() }
func (Variant) isValue()             {}

// DictEntry is the D-Bus DICT_ENTRY type: a basic-typed key plus an
// arbitrary value. It is only valid as the immediate element of an Array
// (i.e. as a{KT VT}).
type DictEntry struct {
	Key   Value
	Val   Value
}

// NewDictEntry builds a DictEntry, validating that key is a basic value.
func NewDictEntry(key, val Value) (DictEntry, error) {
	if key.Signature().Kind() >= KindArray {
		return DictEntry{}, &InvariantError{Reason: "dict-entry key must be a basic value"}
	}
	return DictEntry{Key: key, Val: val}, nil
}

func (e DictEntry) Signature() Signature {
	return DictEntryOf(e.Key.Signature().Kind(), e.Val.Signature())
}
func (DictEntry) isValue() {}
