package dbus

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"
)

// fakeBus accepts exactly one connection, completes the EXTERNAL
// handshake, answers the Hello call with a unique name, and then invokes
// handle for anything it reads afterward. It serves that one connection
// until a read from it fails, as it does once the client closes it.
func fakeBus(t *testing.T, handle func(conn net.Conn, m *Message)) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bus.sock")

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		preamble := make([]byte, 1)
		if _, err := conn.Read(preamble); err != nil {
			return
		}

		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if err != nil || !bytesHasPrefix(buf[:n], "AUTH EXTERNAL") {
			return
		}
		if _, err := conn.Write([]byte("OK 0\r\n")); err != nil {
			return
		}
		if _, err := conn.Read(buf); err != nil { // BEGIN
			return
		}

		for {
			msg, _, err := readOneMessage(conn)
			if err != nil {
				return
			}
			if msg.Type == TypeMethodCall && msg.Fields.Member == "Hello" {
				reply, _ := NewMethodReturn(msg.Serial, String(":1.42"))
				reply.Serial = 1
				data, _ := EncodeMessage(reply)
				if _, err := conn.Write(data); err != nil {
					return
				}
				continue
			}
			handle(conn, msg)
		}
	}()

	return "unix:path=" + path
}

func bytesHasPrefix(b []byte, prefix string) bool {
	if len(b) < len(prefix) {
		return false
	}
	return string(b[:len(prefix)]) == prefix
}

// readOneMessage mirrors Conn.readMessage's progressive read, for the
// fake server side which has no Conn of its own to decode with.
func readOneMessage(conn net.Conn) (*Message, int, error) {
	const prologueSize = fixedHeaderSize + 4
	prologue := make([]byte, prologueSize)
	if _, err := readFull(conn, prologue); err != nil {
		return nil, 0, err
	}
	order, err := peekByteOrder(prologue)
	if err != nil {
		return nil, 0, err
	}
	bodyLen := order.Uint32(prologue[4:8])
	fieldsLen := order.Uint32(prologue[12:16])

	fields := make([]byte, fieldsLen)
	if _, err := readFull(conn, fields); err != nil {
		return nil, 0, err
	}
	_, padding := nextOffset(prologueSize+int(fieldsLen), 8)
	pad := make([]byte, padding)
	if padding > 0 {
		if _, err := readFull(conn, pad); err != nil {
			return nil, 0, err
		}
	}
	body := make([]byte, bodyLen)
	if _, err := readFull(conn, body); err != nil {
		return nil, 0, err
	}

	full := append(append(append(prologue, fields...), pad...), body...)
	return DecodeMessage(full)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func TestConnectHandshake(t *testing.T) {
	addr := fakeBus(t, func(conn net.Conn, m *Message) {})

	conn, err := Connect(WithAddress(addr), WithDialTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if conn.UniqueName() != ":1.42" {
		t.Errorf("UniqueName() = %q, want %q", conn.UniqueName(), ":1.42")
	}
}

func TestCallMethodReply(t *testing.T) {
	addr := fakeBus(t, func(conn net.Conn, m *Message) {
		reply, _ := NewMethodReturn(m.Serial, Int32(7))
		data, _ := EncodeMessage(withSerial(reply, 99))
		conn.Write(data)
	})

	conn, err := Connect(WithAddress(addr), WithDialTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	call, err := NewMethodCall("com.example", "/x", "com.example", "Get")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := conn.CallMethod(ctx, call)
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Body) != 1 || reply.Body[0] != Int32(7) {
		t.Errorf("reply body = %v, want [7]", reply.Body)
	}
}

func withSerial(m *Message, serial uint32) *Message {
	m.Serial = serial
	return m
}

func TestCallMethodCancel(t *testing.T) {
	addr := fakeBus(t, func(conn net.Conn, m *Message) {
		// never reply: exercise ctx cancellation
	})

	conn, err := Connect(WithAddress(addr), WithDialTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	call, err := NewMethodCall("com.example", "/x", "com.example", "Get")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := conn.CallMethod(ctx, call); err == nil {
		t.Fatal("expected a context deadline error")
	}
}

func TestReplyTrackingDisabledStillCompletesHello(t *testing.T) {
	addr := fakeBus(t, func(conn net.Conn, m *Message) {})

	conn, err := Connect(WithAddress(addr), WithDialTimeout(2*time.Second), WithReplyTracking(false))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if conn.UniqueName() != ":1.42" {
		t.Errorf("UniqueName() = %q, want %q", conn.UniqueName(), ":1.42")
	}

	call, err := NewMethodCall("com.example", "/x", "com.example", "Get")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.CallMethod(context.Background(), call); err == nil {
		t.Fatal("expected CallMethod to fail when reply tracking is disabled")
	}
}

func TestSerialOverflowFails(t *testing.T) {
	c := &Conn{}
	c.serial = ^uint32(0)
	if _, err := c.nextSerial(); err == nil {
		t.Fatal("expected an InvariantError on serial overflow")
	}
}
