package dbus

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kr/pretty"
)

func equateValue(t *testing.T, want, got Value) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(Signature{})); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s\nwant: %# v\ngot:  %# v", diff, pretty.Formatter(want), pretty.Formatter(got))
	}
}

// roundTrip checks property 1 from the testable-properties list: decoding
// what was just encoded reproduces the original value and its signature.
func roundTrip(t *testing.T, v Value) {
	t.Helper()
	data, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data, v.Signature(), binary.BigEndian)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	equateValue(t, v, got)
	if !got.Signature().Equal(v.Signature()) {
		t.Errorf("signature_of(decoded) = %s, want %s", got.Signature(), v.Signature())
	}
}

func TestRoundTripBasics(t *testing.T) {
	roundTrip(t, Byte(0x7F))
	roundTrip(t, Boolean(true))
	roundTrip(t, Boolean(false))
	roundTrip(t, Int16(-1234))
	roundTrip(t, Uint16(65535))
	roundTrip(t, Int32(-1))
	roundTrip(t, Uint32(4294967295))
	roundTrip(t, Int64(-9223372036854775808))
	roundTrip(t, Uint64(18446744073709551615))
	roundTrip(t, Double(3.14159))
	roundTrip(t, String("hello"))
	roundTrip(t, ObjectPath("/org/freedesktop/DBus"))
	roundTrip(t, UnixFD(3))

	sigs, err := Parse("siv")
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, SignatureValue(sigs))
}

func TestRoundTripArrayOfBytes(t *testing.T) {
	a, err := NewArray(Basic(KindByte), Byte(0x0F), Byte(0x10), Byte(0x11))
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, a)
}

func TestRoundTripEmptyArrayEachAlignmentClass(t *testing.T) {
	tt := []Signature{
		Basic(KindByte),
		Basic(KindInt16),
		Basic(KindInt32),
		StructOf(Basic(KindInt32), Basic(KindInt32)), // a(ii): element alignment 8
	}
	for _, elem := range tt {
		a, err := NewArray(elem)
		if err != nil {
			t.Fatal(err)
		}
		roundTrip(t, a)
	}
}

// TestEmptyArrayOfStructPadding checks the boundary case explicitly called
// out in the testable properties: a(ii) with zero elements still pays 4
// bytes of padding after the length word, to reach the struct's 8-byte
// element alignment, even though no element follows.
func TestEmptyArrayOfStructPadding(t *testing.T) {
	a, err := NewArray(StructOf(Basic(KindInt32), Basic(KindInt32)))
	if err != nil {
		t.Fatal(err)
	}
	data, err := Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 0, 0, 0, 0, 0} // u32 length=0, then 4 padding bytes
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("encoding mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripNestedVariant(t *testing.T) {
	inner, err := NewArray(Basic(KindInt32), Int32(1), Int32(2), Int32(3))
	if err != nil {
		t.Fatal(err)
	}
	v := NewVariant(NewVariant(inner))
	roundTrip(t, v)
}

func TestRoundTripStructMixedAlignment(t *testing.T) {
	s, err := NewStruct(Byte(1), Int64(-7))
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, s)
}

func TestRoundTripDictEntryArray(t *testing.T) {
	entrySig := DictEntryOf(KindString, VariantSig())
	e1, err := NewDictEntry(String("k1"), NewVariant(Int32(1)))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := NewDictEntry(String("k2"), NewVariant(String("v2")))
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewArray(entrySig, e1, e2)
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, a)
}

func TestCrossEndianDecode(t *testing.T) {
	v := Int32(-42)
	big, err := Marshal(v)
	if err != nil {
		t.Fatal(err)
	}

	little := make([]byte, len(big))
	binary.LittleEndian.PutUint32(little, uint32(int32(v)))

	got, err := Unmarshal(little, v.Signature(), binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	equateValue(t, v, got)
}

// The literal-byte scenarios from the testable properties (S2–S5).
func TestLiteralEncodingScenarios(t *testing.T) {
	tt := []struct {
		name string
		v    Value
		want []byte
	}{
		{
			name: "S2 string",
			v:    String("hello"),
			want: []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o', 0},
		},
		{
			name: "S3 signature",
			v:    SignatureValue(mustParse(t, "si")),
			want: []byte{2, 's', 'i', 0},
		},
		{
			name: "S4 boolean true",
			v:    Boolean(true),
			want: []byte{0, 0, 0, 1},
		},
		{
			name: "S4 boolean false",
			v:    Boolean(false),
			want: []byte{0, 0, 0, 0},
		},
	}

	for _, tc := range tt {
		got, err := Marshal(tc.v)
		if err != nil {
			t.Fatalf("%s: Marshal: %v", tc.name, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("%s: encoding mismatch (-want +got):\n%s", tc.name, diff)
		}
	}

	arr, err := NewArray(Basic(KindByte), Byte(0x0F), Byte(0x10), Byte(0x11))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Marshal(arr)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 3, 0x0F, 0x10, 0x11}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("S5 array of bytes: encoding mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeInvalidBoolean(t *testing.T) {
	data := []byte{0, 0, 0, 2}
	if _, err := Unmarshal(data, Basic(KindBoolean), binary.BigEndian); err == nil {
		t.Fatal("expected an error for an invalid boolean value")
	}
}

func TestDecodeTruncated(t *testing.T) {
	data := []byte{0, 0, 0}
	if _, err := Unmarshal(data, Basic(KindUint32), binary.BigEndian); err == nil {
		t.Fatal("expected an error for a truncated buffer")
	}
}

func TestDecodeStringMissingNUL(t *testing.T) {
	data := []byte{0, 0, 0, 1, 'x', 'y'} // no trailing NUL after the declared length
	if _, err := Unmarshal(data, Basic(KindString), binary.BigEndian); err == nil {
		t.Fatal("expected an error for a missing trailing NUL")
	}
}

func TestDecodeStringInvalidUTF8(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0xFF, 0}
	if _, err := Unmarshal(data, Basic(KindString), binary.BigEndian); err == nil {
		t.Fatal("expected an error for invalid UTF-8")
	}
}

func mustParse(t *testing.T, text string) []Signature {
	t.Helper()
	sigs, err := Parse(text)
	if err != nil {
		t.Fatal(err)
	}
	return sigs
}
