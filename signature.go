package dbus

import "strings"

// Kind identifies one variant of the D-Bus type grammar.
type Kind byte

// The D-Bus basic and container kinds, one per row of the type table in
// the D-Bus specification.
const (
	KindByte Kind = iota
	KindBoolean
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindDouble
	KindString
	KindObjectPath
	KindSignature
	KindUnixFD
	KindArray
	KindStruct
	KindVariant
	KindDictEntry
)

// maxSignatureDepth bounds container nesting (array-of-array-of-... or
// struct-of-struct-of-...). maxSignatureLength bounds the text of a whole
// signature, which may hold several complete types. Both are from the
// D-Bus specification.
const (
	maxSignatureDepth  = 32
	maxSignatureLength = 255
)

var kindCodes = [...]byte{
	KindByte: 'y', KindBoolean: 'b',
	KindInt16: 'n', KindUint16: 'q',
	KindInt32: 'i', KindUint32: 'u',
	KindInt64: 'x', KindUint64: 't',
	KindDouble: 'd', KindString: 's',
	KindObjectPath: 'o', KindSignature: 'g',
	KindUnixFD: 'h', KindArray: 'a',
	KindStruct: '(', KindVariant: 'v', KindDictEntry: '{',
}

var codeToBasicKind = map[byte]Kind{
	'y': KindByte, 'b': KindBoolean,
	'n': KindInt16, 'q': KindUint16,
	'i': KindInt32, 'u': KindUint32,
	'x': KindInt64, 't': KindUint64,
	'd': KindDouble, 's': KindString,
	'o': KindObjectPath, 'g': KindSignature,
	'h': KindUnixFD, 'v': KindVariant,
}

// Signature is a single complete type: a recursive description of a
// value's static shape. The zero Signature is not valid; construct one
// with Parse or one of the Basic/Array/Struct/Dict helpers.
type Signature struct {
	kind   Kind
	elem   *Signature   // Array: element type. DictEntry: value type.
	key    *Kind        // DictEntry: key kind (always basic).
	fields []Signature  // Struct: field types, in order.
}

// Basic returns the Signature for one of the non-container kinds.
func Basic(k Kind) Signature {
	if k >= KindArray {
		panic("dbus: Basic called with a container kind")
	}
	return Signature{kind: k}
}

// ArrayOf returns the Array signature with the given element type.
func ArrayOf(elem Signature) Signature {
	e := elem
	return Signature{kind: KindArray, elem: &e}
}

// StructOf returns the Struct signature with the given field types. It
// panics if fields is empty, matching the grammar's ≥1 requirement.
func StructOf(fields ...Signature) Signature {
	if len(fields) == 0 {
		panic("dbus: StructOf requires at least one field")
	}
	cp := make([]Signature, len(fields))
	copy(cp, fields)
	return Signature{kind: KindStruct, fields: cp}
}

// DictEntryOf returns the DictEntry signature for the given basic key kind
// and value type. It panics if key is not a basic kind.
func DictEntryOf(key Kind, value Signature) Signature {
	if key >= KindArray {
		panic("dbus: dict-entry key must be a basic type")
	}
	v := value
	k := key
	return Signature{kind: KindDictEntry, elem: &v, key: &k}
}

// VariantSig is the Signature for the self-describing variant container.
func VariantSig() Signature { return Signature{kind: KindVariant} }

// Kind reports the top-level variant of s.
func (s Signature) Kind() Kind { return s.kind }

// Elem returns the element type of an Array, or the value type of a
// DictEntry. It panics for any other kind.
func (s Signature) Elem() Signature {
	if s.elem == nil {
		panic("dbus: Elem called on a signature with no element")
	}
	return *s.elem
}

// KeyKind returns the basic key kind of a DictEntry. It panics for any
// other kind.
func (s Signature) KeyKind() Kind {
	if s.key == nil {
		panic("dbus: KeyKind called on a non-dict-entry signature")
	}
	return *s.key
}

// Fields returns the field types of a Struct. It panics for any other
// kind.
func (s Signature) Fields() []Signature {
	if s.kind != KindStruct {
		panic("dbus: Fields called on a non-struct signature")
	}
	return s.fields
}

// Alignment returns the marshalling boundary for s: 1, 2, 4, or 8.
func (s Signature) Alignment() int {
	switch s.kind {
	case KindByte, KindSignature, KindVariant:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindBoolean, KindInt32, KindUint32, KindString, KindObjectPath, KindUnixFD, KindArray:
		return 4
	case KindInt64, KindUint64, KindDouble, KindStruct, KindDictEntry:
		return 8
	default:
		return 1
	}
}

// Equal reports whether s and o describe the same type, structurally.
func (s Signature) Equal(o Signature) bool {
	if s.kind != o.kind {
		return false
	}
	switch s.kind {
	case KindArray:
		return s.elem.Equal(*o.elem)
	case KindDictEntry:
		return *s.key == *o.key && s.elem.Equal(*o.elem)
	case KindStruct:
		if len(s.fields) != len(o.fields) {
			return false
		}
		for i := range s.fields {
			if !s.fields[i].Equal(o.fields[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders s back to its textual form. Render is the named inverse
// used when emitting a sequence of types (e.g. a body signature); String
// is this per-value convenience.
func (s Signature) String() string {
	var b strings.Builder
	s.render(&b)
	return b.String()
}

func (s Signature) render(b *strings.Builder) {
	switch s.kind {
	case KindArray:
		b.WriteByte('a')
		s.elem.render(b)
	case KindStruct:
		b.WriteByte('(')
		for _, f := range s.fields {
			f.render(b)
		}
		b.WriteByte(')')
	case KindDictEntry:
		b.WriteByte('{')
		b.WriteByte(kindCodes[*s.key])
		s.elem.render(b)
		b.WriteByte('}')
	default:
		b.WriteByte(kindCodes[s.kind])
	}
}

// Render concatenates the textual form of a sequence of complete types,
// e.g. a message body signature. It is the inverse of Parse.
func Render(types []Signature) string {
	var b strings.Builder
	for _, t := range types {
		t.render(&b)
	}
	return b.String()
}

// Parse reads a signature string and returns the sequence of single
// complete types it describes. It validates: unknown codes, unmatched
// brackets, dict-entries outside an array, non-basic dict-entry keys,
// nesting depth, and overall length.
func Parse(text string) ([]Signature, error) {
	if len(text) > maxSignatureLength {
		return nil, &SignatureError{Signature: text, Reason: "signature exceeds 255 bytes"}
	}
	var out []Signature
	rest := text
	for rest != "" {
		t, tail, err := parseOne(text, rest, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		rest = tail
	}
	return out, nil
}

// parseOne parses exactly one single complete type from the front of
// rest. full is the original text, kept around for error messages.
func parseOne(full, rest string, depth int) (Signature, string, error) {
	if depth > maxSignatureDepth {
		return Signature{}, "", &SignatureError{Signature: full, Reason: "nesting depth exceeds 32"}
	}
	if rest == "" {
		return Signature{}, "", &SignatureError{Signature: full, Reason: "unexpected end of signature"}
	}

	c := rest[0]
	switch c {
	case 'a':
		if len(rest) < 2 {
			return Signature{}, "", &SignatureError{Signature: full, Reason: "array code not followed by element type"}
		}
		if rest[1] == '{' {
			entry, tail, err := parseDictEntryBody(full, rest[2:], depth+1)
			if err != nil {
				return Signature{}, "", err
			}
			return ArrayOf(entry), tail, nil
		}
		elem, tail, err := parseOne(full, rest[1:], depth+1)
		if err != nil {
			return Signature{}, "", err
		}
		return ArrayOf(elem), tail, nil

	case '(':
		var fields []Signature
		tail := rest[1:]
		for {
			if tail == "" {
				return Signature{}, "", &SignatureError{Signature: full, Reason: "unterminated struct"}
			}
			if tail[0] == ')' {
				tail = tail[1:]
				break
			}
			var (
				f   Signature
				err error
			)
			f, tail, err = parseOne(full, tail, depth+1)
			if err != nil {
				return Signature{}, "", err
			}
			fields = append(fields, f)
		}
		if len(fields) == 0 {
			return Signature{}, "", &SignatureError{Signature: full, Reason: "struct must have at least one field"}
		}
		return Signature{kind: KindStruct, fields: fields}, tail, nil

	case ')':
		return Signature{}, "", &SignatureError{Signature: full, Reason: "unmatched )"}

	case '{':
		return Signature{}, "", &SignatureError{Signature: full, Reason: "dict-entry not nested in an array"}

	case '}':
		return Signature{}, "", &SignatureError{Signature: full, Reason: "unmatched }"}

	default:
		k, ok := codeToBasicKind[c]
		if !ok {
			return Signature{}, "", &SignatureError{Signature: full, Reason: "unknown type code " + string(c)}
		}
		return Signature{kind: k}, rest[1:], nil
	}
}

// parseDictEntryBody parses the "K V" part of "a{KV}" once the caller has
// already consumed "a{". K must be a basic kind.
func parseDictEntryBody(full, rest string, depth int) (Signature, string, error) {
	if rest == "" {
		return Signature{}, "", &SignatureError{Signature: full, Reason: "unterminated dict-entry"}
	}
	keyCode := rest[0]
	k, ok := codeToBasicKind[keyCode]
	if !ok || k >= KindArray {
		return Signature{}, "", &SignatureError{Signature: full, Reason: "dict-entry key must be a basic type"}
	}
	rest = rest[1:]
	value, tail, err := parseOne(full, rest, depth+1)
	if err != nil {
		return Signature{}, "", err
	}
	if tail == "" || tail[0] != '}' {
		return Signature{}, "", &SignatureError{Signature: full, Reason: "unterminated dict-entry"}
	}
	return DictEntryOf(k, value), tail[1:], nil
}
