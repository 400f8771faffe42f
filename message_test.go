package dbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// S1 — fixed header sanity.
func TestFixedHeaderBytes(t *testing.T) {
	m, err := NewMethodCall("", "/x", "", "m")
	if err != nil {
		t.Fatal(err)
	}
	m.Flags = FlagNoReplyExpected | FlagNoAutoStart | FlagAllowInteractiveAuthorization
	m.Serial = 1

	data, err := EncodeMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{'B', 0x01, 0x07, 0x01, 0, 0, 0, 0}
	if diff := cmp.Diff(want, data[:8]); diff != "" {
		t.Errorf("fixed header mismatch (-want +got):\n%s", diff)
	}
}

// S6 — Hello round-trip.
func TestHelloRoundTrip(t *testing.T) {
	m, err := NewMethodCall("org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus", "Hello")
	if err != nil {
		t.Fatal(err)
	}
	m.Serial = 1

	data, err := EncodeMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	got, consumed, err := DecodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(data) {
		t.Errorf("consumed %d bytes, want %d", consumed, len(data))
	}

	if got.Type != TypeMethodCall {
		t.Errorf("Type = %v, want MethodCall", got.Type)
	}
	if got.Serial != 1 {
		t.Errorf("Serial = %d, want 1", got.Serial)
	}
	if got.Flags != 0 {
		t.Errorf("Flags = %v, want 0", got.Flags)
	}
	if len(got.Body) != 0 {
		t.Errorf("Body = %v, want empty", got.Body)
	}
	if got.Fields.HasSignature {
		t.Error("empty body must not carry a Signature header field")
	}

	want := HeaderFields{
		Path: "/org/freedesktop/DBus", HasPath: true,
		Interface: "org.freedesktop.DBus", HasInterface: true,
		Member: "Hello", HasMember: true,
		Destination: "org.freedesktop.DBus", HasDestination: true,
	}
	if diff := cmp.Diff(want, got.Fields, cmp.AllowUnexported(Signature{})); diff != "" {
		t.Errorf("header fields mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageRoundTripWithBody(t *testing.T) {
	m, err := NewMethodReturn(7, String("reply body"), Int32(99))
	if err != nil {
		t.Fatal(err)
	}
	m.Serial = 2

	data, err := EncodeMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := DecodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(m.Body, got.Body, cmp.AllowUnexported(Signature{})); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if !got.Fields.HasSignature {
		t.Error("nonempty body must carry a Signature header field")
	}
	if got := Render(got.Fields.Signature); got != "si" {
		t.Errorf("Signature header field = %q, want %q", got, "si")
	}
}

func TestMessageConstructorsValidate(t *testing.T) {
	if _, err := NewMethodCall("", "", "", "m"); err == nil {
		t.Error("MethodCall with no Path should fail")
	}
	if _, err := NewMethodReturn(0); err == nil {
		t.Error("MethodReturn with zero ReplySerial should fail")
	}
	if _, err := NewError(0, "com.example.Error"); err == nil {
		t.Error("Error with zero ReplySerial should fail")
	}
	if _, err := NewError(1, ""); err == nil {
		t.Error("Error with no ErrorName should fail")
	}
	if _, err := NewSignal("", "com.example", "Changed"); err == nil {
		t.Error("Signal with no Path should fail")
	}
}

func TestEncodeMessageRejectsZeroSerial(t *testing.T) {
	m, err := NewSignal("/x", "com.example", "Changed")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := EncodeMessage(m); err == nil {
		t.Fatal("expected an error encoding a message with a zero serial")
	}
}

func TestDecodeMessageRejectsUnknownType(t *testing.T) {
	m, err := NewSignal("/x", "com.example", "Changed")
	if err != nil {
		t.Fatal(err)
	}
	m.Serial = 1
	data, err := EncodeMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	data[1] = 0 // corrupt the type byte to an unknown code

	if _, _, err := DecodeMessage(data); err == nil {
		t.Fatal("expected an error decoding an unknown message type")
	}
}

func TestDecodeMessageRejectsWrongProtocolVersion(t *testing.T) {
	m, err := NewSignal("/x", "com.example", "Changed")
	if err != nil {
		t.Fatal(err)
	}
	m.Serial = 1
	data, err := EncodeMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	data[3] = 2 // corrupt the major protocol version byte

	if _, _, err := DecodeMessage(data); err == nil {
		t.Fatal("expected an error decoding a message with an unsupported major protocol version")
	}
}
