// Package dbus implements the client side of the D-Bus wire protocol:
// the type system (Signature, Value), the alignment-sensitive codec that
// marshals values to and from that wire format, message framing on top
// of the codec, and a Conn façade that authenticates, sends, and
// receives framed messages over a Unix domain socket transport.
//
// Connect opens a connection to the system bus (or an address given via
// WithAddress), authenticates with SASL EXTERNAL, and performs the bus
// Hello handshake:
//
//	conn, err := dbus.Connect()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer conn.Close()
//
//	call, err := dbus.NewMethodCall("org.freedesktop.DBus", "/org/freedesktop/DBus",
//		"org.freedesktop.DBus", "ListNames")
//	if err != nil {
//		log.Fatal(err)
//	}
//	reply, err := conn.CallMethod(context.Background(), call)
//
// Little-endian emission is not supported (servers accept big-endian
// messages); decoding accepts either. Unix file descriptor passing is
// out of scope beyond reserving the UNIX_FD signature code.
package dbus
