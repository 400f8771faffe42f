package dbus

import (
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// defaultSystemBusAddress is the well-known system bus socket on POSIX,
// used when DBUS_SYSTEM_BUS_ADDRESS is unset.
const defaultSystemBusAddress = "unix:path=/var/run/dbus/system_bus_socket"

// SystemBusAddress returns the configured system bus address, honoring
// DBUS_SYSTEM_BUS_ADDRESS and falling back to the well-known socket path.
func SystemBusAddress() string {
	if addr := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS"); addr != "" {
		return addr
	}
	return defaultSystemBusAddress
}

// SessionBusAddress returns the configured session bus address from
// DBUS_SESSION_BUS_ADDRESS. It returns an error if the variable is unset,
// since there is no well-known fallback path for the session bus.
func SessionBusAddress() (string, error) {
	addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if addr == "" {
		return "", &TransportError{Op: "resolve session bus address", Err: fmt.Errorf("DBUS_SESSION_BUS_ADDRESS is not set")}
	}
	return addr, nil
}

// dialUnix connects to busAddr, a D-Bus address string of the form
// "unix:path=/some/socket" (the only transport kind this library speaks;
// TCP and abstract-socket addresses are a collaborator's concern per the
// external interfaces).
func dialUnix(busAddr string) (*net.UnixConn, error) {
	const prefix = "unix:path="
	if !strings.HasPrefix(busAddr, prefix) {
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("unsupported bus address %q", busAddr)}
	}
	path := busAddr[len(prefix):]

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	if err := enableCredentialPassing(conn); err != nil {
		conn.Close()
		return nil, &TransportError{Op: "enable SO_PASSCRED", Err: err}
	}

	return conn, nil
}

// enableCredentialPassing turns on SO_PASSCRED on the underlying socket so
// the kernel attaches sender credentials (uid/gid/pid) to ancillary data on
// reads. EXTERNAL authentication asserts a uid as hex text; corroborating
// it against SO_PASSCRED data is a belt-and-suspenders check some bus
// implementations rely on, rather than trusting the text alone.
func enableCredentialPassing(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// writePreamble writes the single null byte the protocol requires before
// the authentication exchange begins.
func writePreamble(w net.Conn) error {
	if _, err := w.Write([]byte{0}); err != nil {
		return &TransportError{Op: "write preamble", Err: err}
	}
	return nil
}
